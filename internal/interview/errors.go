package interview

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnexpectedEvent is returned when an event arrives outside its source step.
	ErrUnexpectedEvent = errors.New("unexpected event for current step")
	// ErrNoPrompts is returned when leaving the intro without any question.
	ErrNoPrompts = errors.New("interview has no questions")
	// ErrContinueLocked is returned when continue is pressed before the clip ended.
	ErrContinueLocked = errors.New("continue is locked until playback ends")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("identity validation failed")
)

// UnexpectedEventError describes an event rejected by the current step.
type UnexpectedEventError struct {
	Event string
	Step  Step
}

func (e *UnexpectedEventError) Error() string {
	return fmt.Sprintf("%s not accepted in step %s", e.Event, e.Step)
}

func (e *UnexpectedEventError) Unwrap() error { return ErrUnexpectedEvent }

// ValidationError carries one message per offending form field, keyed by
// the field's wire name (fullName, email).
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
