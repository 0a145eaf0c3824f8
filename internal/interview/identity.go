package interview

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// CandidateIdentity is captured once by the identity step and never changes.
type CandidateIdentity struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// mailboxPattern accepts exactly one @ and a domain containing a dot.
var mailboxPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type identityForm struct {
	FullName string `json:"fullName" label:"Full name" validate:"required"`
	Email    string `json:"email" label:"Email" validate:"required,mailbox"`
}

type identityValidator struct {
	v      *validator.Validate
	trans  ut.Translator
	labels map[string]string
}

var (
	idOnce sync.Once
	idSvc  *identityValidator
)

func identityRules() *identityValidator {
	idOnce.Do(func() {
		enLoc := en.New()
		trans, _ := ut.New(enLoc, enLoc).GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(wireName)
		labels := map[string]string{}
		ft := reflect.TypeOf(identityForm{})
		for i := 0; i < ft.NumField(); i++ {
			if label := ft.Field(i).Tag.Get("label"); label != "" {
				labels[wireName(ft.Field(i))] = label
			}
		}
		_ = v.RegisterValidation("mailbox", func(fl validator.FieldLevel) bool {
			return mailboxPattern.MatchString(fl.Field().String())
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		svc := &identityValidator{v: v, trans: trans, labels: labels}
		_ = v.RegisterTranslation("required", trans,
			func(ut ut.Translator) error {
				return ut.Add("required", "{0} is required", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("required", svc.label(fe.Field()))
				return msg
			},
		)
		_ = v.RegisterTranslation("mailbox", trans,
			func(ut ut.Translator) error {
				return ut.Add("mailbox", "Please enter a valid email address", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("mailbox")
				return msg
			},
		)
		idSvc = svc
	})
	return idSvc
}

func wireName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

func (s *identityValidator) label(field string) string {
	if l, ok := s.labels[field]; ok {
		return l
	}
	return field
}

// ValidateIdentity trims the inputs and checks them. A failure is a
// *ValidationError with one translated message per field.
func ValidateIdentity(fullName, email string) (CandidateIdentity, error) {
	form := identityForm{
		FullName: strings.TrimSpace(fullName),
		Email:    strings.TrimSpace(email),
	}
	svc := identityRules()
	err := svc.v.Struct(form)
	if err == nil {
		return CandidateIdentity{FullName: form.FullName, Email: form.Email}, nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return CandidateIdentity{}, err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, seen := fields[fe.Field()]; seen {
			continue
		}
		fields[fe.Field()] = fe.Translate(svc.trans)
	}
	return CandidateIdentity{}, &ValidationError{Fields: fields}
}
