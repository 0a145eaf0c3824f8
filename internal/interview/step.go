package interview

import "fmt"

// StepKind names the variant of a Step.
type StepKind string

const (
	KindIdentity         StepKind = "identity"
	KindIntroPlayback    StepKind = "intro_playback"
	KindQuestionPlayback StepKind = "question_playback"
	KindQuestionCapture  StepKind = "question_capture"
	KindComplete         StepKind = "complete"
)

// Step is the position of an interview. Only the types in this file
// implement it; question steps carry the 0-based prompt index.
type Step interface {
	Kind() StepKind
	String() string
	step()
}

// Identity collects the candidate's name and email.
type Identity struct{}

// IntroPlayback shows the introduction clip.
type IntroPlayback struct{}

// QuestionPlayback shows the prompt clip of question Index.
type QuestionPlayback struct{ Index int }

// QuestionCapture records the answer to question Index.
type QuestionCapture struct{ Index int }

// Complete is terminal.
type Complete struct{}

func (Identity) Kind() StepKind         { return KindIdentity }
func (IntroPlayback) Kind() StepKind    { return KindIntroPlayback }
func (QuestionPlayback) Kind() StepKind { return KindQuestionPlayback }
func (QuestionCapture) Kind() StepKind  { return KindQuestionCapture }
func (Complete) Kind() StepKind         { return KindComplete }

func (Identity) String() string           { return string(KindIdentity) }
func (IntroPlayback) String() string      { return string(KindIntroPlayback) }
func (s QuestionPlayback) String() string { return fmt.Sprintf("%s(%d)", KindQuestionPlayback, s.Index) }
func (s QuestionCapture) String() string  { return fmt.Sprintf("%s(%d)", KindQuestionCapture, s.Index) }
func (Complete) String() string           { return string(KindComplete) }

func (Identity) step()         {}
func (IntroPlayback) step()    {}
func (QuestionPlayback) step() {}
func (QuestionCapture) step()  {}
func (Complete) step()         {}

// IndexOf returns the question index carried by s, if any.
func IndexOf(s Step) (int, bool) {
	switch v := s.(type) {
	case QuestionPlayback:
		return v.Index, true
	case QuestionCapture:
		return v.Index, true
	default:
		return 0, false
	}
}

// IsPlayback reports whether s plays a clip (intro or question prompt).
func IsPlayback(s Step) bool {
	switch s.(type) {
	case IntroPlayback, QuestionPlayback:
		return true
	default:
		return false
	}
}
