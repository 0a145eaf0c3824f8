// Package interview holds the interview step machine: identity form, intro
// clip, then a playback/capture pair per question, then completion.
package interview

import (
	"fmt"
	"sync"

	"videointerview/internal/logger"
)

// QuestionPrompt is one question of the interview, in presentation order.
type QuestionPrompt struct {
	Index    int    `json:"index"`
	VideoRef string `json:"videoRef"`
	Text     string `json:"text"`
}

// Options tune the orchestrator.
type Options struct {
	// RequirePlaybackEnd keeps continue disabled on playback steps until
	// PlaybackEnded has been reported for the current clip.
	RequirePlaybackEnd bool
	Logger             *logger.Logger
}

// Position is the display view of where the interview stands.
type Position struct {
	Number          int      `json:"number"`
	Total           int      `json:"total"`
	Label           string   `json:"label"`
	Labels          []string `json:"labels"`
	ContinueEnabled bool     `json:"continueEnabled"`
	Done            bool     `json:"done"`
}

// Orchestrator is the sole authority over the current step. It is safe for
// concurrent readers; transitions are serialized.
type Orchestrator struct {
	mu       sync.RWMutex
	prompts  []QuestionPrompt
	step     Step
	identity *CandidateIdentity
	accepted int
	ended    bool
	opts     Options
	log      *logger.Logger
}

// New starts an interview at the identity step. Prompts are re-indexed by
// their position.
func New(prompts []QuestionPrompt, opts Options) *Orchestrator {
	cp := make([]QuestionPrompt, len(prompts))
	for i, p := range prompts {
		p.Index = i
		cp[i] = p
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("interview")
	}
	return &Orchestrator{
		prompts: cp,
		step:    Identity{},
		opts:    opts,
		log:     log,
	}
}

// Current returns the current step.
func (o *Orchestrator) Current() Step {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.step
}

// Identity returns the accepted candidate identity.
func (o *Orchestrator) Identity() (CandidateIdentity, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.identity == nil {
		return CandidateIdentity{}, false
	}
	return *o.identity, true
}

// Progress is the number of accepted captures.
func (o *Orchestrator) Progress() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.accepted
}

// Prompts returns a copy of the question list.
func (o *Orchestrator) Prompts() []QuestionPrompt {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]QuestionPrompt(nil), o.prompts...)
}

// Prompt returns question i.
func (o *Orchestrator) Prompt(i int) (QuestionPrompt, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if i < 0 || i >= len(o.prompts) {
		return QuestionPrompt{}, false
	}
	return o.prompts[i], true
}

// Dispatch applies ev to the current step.
func (o *Orchestrator) Dispatch(ev Event) (Step, error) {
	switch e := ev.(type) {
	case IdentitySubmitted:
		return o.SubmitIdentity(e.FullName, e.Email)
	case PlaybackEnded:
		return o.Current(), o.PlaybackEnded()
	case ContinueConfirmed:
		return o.Continue()
	case CaptureAccepted:
		return o.AcceptCapture(e.Index)
	default:
		return o.Current(), fmt.Errorf("unknown event %T", ev)
	}
}

// SubmitIdentity validates the form and moves to the intro on success.
// On failure the step stays at Identity.
func (o *Orchestrator) SubmitIdentity(fullName, email string) (Step, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.step.(Identity); !ok {
		return o.step, o.unexpected(IdentitySubmitted{}.Name())
	}
	id, err := ValidateIdentity(fullName, email)
	if err != nil {
		return o.step, err
	}
	o.identity = &id
	o.moveTo(IntroPlayback{})
	return o.step, nil
}

// PlaybackEnded records that the clip of the current playback step reached
// its end. The step does not change.
func (o *Orchestrator) PlaybackEnded() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !IsPlayback(o.step) {
		return o.unexpected(PlaybackEnded{}.Name())
	}
	o.ended = true
	return nil
}

// Continue leaves a playback step: the intro leads to the first question,
// a question clip leads to its capture.
func (o *Orchestrator) Continue() (Step, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !IsPlayback(o.step) {
		return o.step, o.unexpected(ContinueConfirmed{}.Name())
	}
	if o.opts.RequirePlaybackEnd && !o.ended {
		return o.step, ErrContinueLocked
	}
	switch s := o.step.(type) {
	case IntroPlayback:
		if len(o.prompts) == 0 {
			return o.step, ErrNoPrompts
		}
		o.moveTo(QuestionPlayback{Index: 0})
	case QuestionPlayback:
		o.moveTo(QuestionCapture{Index: s.Index})
	}
	return o.step, nil
}

// AcceptCapture completes the capture of question index, which must be the
// current one.
func (o *Orchestrator) AcceptCapture(index int) (Step, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.step.(QuestionCapture)
	if !ok || cur.Index != index {
		return o.step, o.unexpected(fmt.Sprintf("%s(%d)", CaptureAccepted{}.Name(), index))
	}
	o.accepted++
	next := cur.Index + 1
	if next < len(o.prompts) {
		o.moveTo(QuestionPlayback{Index: next})
	} else {
		o.moveTo(Complete{})
	}
	return o.step, nil
}

// Position computes step number, total and labels for progress displays.
func (o *Orchestrator) Position() Position {
	o.mu.RLock()
	defer o.mu.RUnlock()
	labels := make([]string, 0, len(o.prompts)+2)
	labels = append(labels, "Your Info", "Welcome")
	for i := range o.prompts {
		labels = append(labels, fmt.Sprintf("Question %d", i+1))
	}
	p := Position{Total: len(labels), Labels: labels}
	switch s := o.step.(type) {
	case Identity:
		p.Number = 1
	case IntroPlayback:
		p.Number = 2
	case QuestionPlayback:
		p.Number = 3 + s.Index
	case QuestionCapture:
		p.Number = 3 + s.Index
	case Complete:
		p.Number = p.Total
		p.Done = true
	}
	if p.Done {
		p.Label = "Complete"
	} else {
		p.Label = labels[p.Number-1]
	}
	p.ContinueEnabled = IsPlayback(o.step) && (!o.opts.RequirePlaybackEnd || o.ended)
	return p
}

func (o *Orchestrator) moveTo(next Step) {
	o.log.Debug().Str("from", o.step.String()).Str("to", next.String()).Msg("step transition")
	o.step = next
	o.ended = false
}

func (o *Orchestrator) unexpected(event string) error {
	err := &UnexpectedEventError{Event: event, Step: o.step}
	o.log.Warn().Err(err).Msg("ignored event")
	return err
}
