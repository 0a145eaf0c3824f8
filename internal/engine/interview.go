package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"videointerview/internal/capture"
	"videointerview/internal/domain"
	"videointerview/internal/events"
	"videointerview/internal/interview"
	"videointerview/internal/logger"
	"videointerview/internal/repo"
)

// Interview drives one candidate through the step machine and owns the
// capture session of the current question.
type Interview struct {
	ID string

	eng  *Engine
	orch *interview.Orchestrator
	dev  capture.Device
	sink capture.Sink
	feed *Feed
	log  *logger.Logger

	mu        sync.Mutex
	session   *capture.Session
	answers   []capture.Receipt
	closed    bool
	abandoned bool

	// completedAt is the engine time of completion in unix nanos, zero while
	// the interview runs. Read without mu by the engine sweep.
	completedAt atomic.Int64
}

// Summary is shown once every question has been answered.
type Summary struct {
	CandidateName string `json:"candidateName"`
	Answered      int    `json:"answered"`
	Total         int    `json:"total"`
}

// View is everything a front-end needs to render the interview.
type View struct {
	ID        string                       `json:"id"`
	Title     string                       `json:"title,omitempty"`
	Step      string                       `json:"step"`
	Position  interview.Position           `json:"position"`
	Identity  *interview.CandidateIdentity `json:"identity,omitempty"`
	VideoRef  string                       `json:"videoRef,omitempty"`
	Question  *interview.QuestionPrompt    `json:"question,omitempty"`
	Capture   *capture.Status              `json:"capture,omitempty"`
	Answers   []capture.Receipt            `json:"answers"`
	Summary   *Summary                     `json:"summary,omitempty"`
	Abandoned bool                         `json:"abandoned,omitempty"`
}

// Device returns the camera the interview acquires.
func (iv *Interview) Device() capture.Device { return iv.dev }

// Feed returns the display event feed.
func (iv *Interview) Feed() *Feed { return iv.feed }

// View returns the current display snapshot.
func (iv *Interview) View() View {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.viewLocked()
}

// SubmitIdentity validates the form; on success the intro clip is next.
func (iv *Interview) SubmitIdentity(ctx context.Context, fullName, email string) (View, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if err := iv.alive(); err != nil {
		return iv.viewLocked(), err
	}
	step, err := iv.orch.SubmitIdentity(fullName, email)
	if err != nil {
		return iv.viewLocked(), err
	}
	id, _ := iv.orch.Identity()
	now := iv.eng.stamp()
	if err := iv.eng.Repo.UpdateInterview(ctx, iv.ID, repo.InterviewUpdate{
		CandidateName:  &id.FullName,
		CandidateEmail: &id.Email,
		UpdatedAt:      now,
	}); err != nil {
		iv.log.Error().Err(err).Msg("persist identity failed")
	}
	iv.record(ctx, events.IdentityAccepted, events.EventPayload{"full_name": id.FullName, "email": id.Email})
	iv.stepChanged(ctx, step)
	return iv.viewLocked(), nil
}

// PlaybackEnded reports the end of the clip on screen.
func (iv *Interview) PlaybackEnded(ctx context.Context) (View, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if err := iv.alive(); err != nil {
		return iv.viewLocked(), err
	}
	err := iv.orch.PlaybackEnded()
	return iv.viewLocked(), err
}

// Continue leaves a playback step. Entering a question's capture step opens
// its session and requests the device; a denial leaves the capture blocked
// rather than failing the call.
func (iv *Interview) Continue(ctx context.Context) (View, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if err := iv.alive(); err != nil {
		return iv.viewLocked(), err
	}
	step, err := iv.orch.Continue()
	if err != nil {
		return iv.viewLocked(), err
	}
	iv.stepChanged(ctx, step)
	if c, ok := step.(interview.QuestionCapture); ok {
		iv.openSession(c.Index)
		if err := iv.session.Acquire(ctx); err != nil && !errors.Is(err, capture.ErrDeviceAccess) {
			return iv.viewLocked(), err
		}
	}
	return iv.viewLocked(), nil
}

// AcquireDevice asks for the camera again after a denial or a lost stream.
func (iv *Interview) AcquireDevice(ctx context.Context) (View, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	s, err := iv.current()
	if err != nil {
		return iv.viewLocked(), err
	}
	err = s.Acquire(ctx)
	return iv.viewLocked(), err
}

// StartRecording begins a take.
func (iv *Interview) StartRecording(ctx context.Context) (View, error) {
	return iv.control(func(s *capture.Session) error { return s.Start() })
}

// StopRecording ends the take and moves to review.
func (iv *Interview) StopRecording(ctx context.Context) (View, error) {
	return iv.control(func(s *capture.Session) error { return s.Stop() })
}

// Retry discards the reviewed take. When the device was lost meanwhile it
// is requested again.
func (iv *Interview) Retry(ctx context.Context) (View, error) {
	return iv.control(func(s *capture.Session) error {
		if err := s.Retry(); err != nil {
			return err
		}
		if s.State() == capture.StateAcquiring {
			if err := s.Acquire(ctx); err != nil && !errors.Is(err, capture.ErrDeviceAccess) {
				return err
			}
		}
		return nil
	})
}

// Accept submits the reviewed take and advances to the next question or to
// completion.
func (iv *Interview) Accept(ctx context.Context) (capture.Receipt, View, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	s, err := iv.current()
	if err != nil {
		return capture.Receipt{}, iv.viewLocked(), err
	}
	rec, err := s.Accept(ctx)
	if err != nil {
		return rec, iv.viewLocked(), err
	}
	s.Close()
	iv.session = nil
	iv.answers = append(iv.answers, rec)

	step, err := iv.orch.Dispatch(interview.CaptureAccepted{Index: rec.QuestionIndex, Artifact: rec.Name})
	if err != nil {
		return rec, iv.viewLocked(), err
	}
	answered := iv.orch.Progress()
	if err := iv.eng.Repo.UpdateInterview(ctx, iv.ID, repo.InterviewUpdate{Answered: &answered, UpdatedAt: iv.eng.stamp()}); err != nil {
		iv.log.Error().Err(err).Msg("persist progress failed")
	}
	iv.stepChanged(ctx, step)
	if _, done := step.(interview.Complete); done {
		iv.complete(ctx)
	}
	return rec, iv.viewLocked(), nil
}

func (iv *Interview) control(fn func(*capture.Session) error) (View, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	s, err := iv.current()
	if err != nil {
		return iv.viewLocked(), err
	}
	err = fn(s)
	return iv.viewLocked(), err
}

func (iv *Interview) current() (*capture.Session, error) {
	if err := iv.alive(); err != nil {
		return nil, err
	}
	if iv.session == nil {
		return nil, ErrNoCapture
	}
	return iv.session, nil
}

func (iv *Interview) alive() error {
	if iv.closed {
		return ErrNotFound
	}
	return nil
}

func (iv *Interview) openSession(index int) {
	if iv.session != nil {
		iv.session.Close()
	}
	id, _ := iv.orch.Identity()
	cfg := iv.eng.Config
	iv.session = capture.NewSession(iv.dev, iv.sink, capture.SessionOptions{
		QuestionIndex: index,
		CandidateName: id.FullName,
		MaxDuration:   cfg.Capture.MaxDuration.Std(),
		MinDuration:   cfg.Capture.MinDuration.Std(),
		Constraints:   capture.DefaultConstraints,
		Clock:         iv.eng.Clock,
		Observer:      iv.observe,
		Logger:        iv.log,
	})
}

// observe runs under the session's locks and must not call back into it.
func (iv *Interview) observe(ev capture.Event) {
	ctx := context.Background()
	fe := FeedEvent{
		InterviewID: iv.ID,
		Question:    ev.QuestionIndex + 1,
		State:       string(ev.State),
		Elapsed:     ev.Elapsed,
	}
	if ev.Err != nil {
		fe.Message = ev.Err.Error()
	}
	switch ev.Type {
	case capture.EventState:
		fe.Type = events.CaptureState
		iv.record(ctx, events.CaptureState, events.EventPayload{"question": fe.Question, "state": fe.State})
	case capture.EventTick:
		fe.Type = "capture.tick"
		fe.ElapsedText = capture.FormatElapsed(ev.Elapsed)
	case capture.EventDeviceError:
		fe.Type = events.CaptureDeviceError
		iv.record(ctx, events.CaptureDeviceError, events.EventPayload{"question": fe.Question, "error": fe.Message})
	case capture.EventInvariant:
		fe.Type = "capture.invalid_call"
	case capture.EventSubmitted:
		fe.Type = events.ArtifactAccepted
		fe.Artifact, fe.Bytes = ev.Name, ev.Bytes
		iv.record(ctx, events.ArtifactAccepted, events.EventPayload{"question": fe.Question, "name": ev.Name, "size_bytes": ev.Bytes})
	case capture.EventSinkError:
		fe.Type = events.ArtifactSinkFailed
		fe.Artifact, fe.Bytes = ev.Name, ev.Bytes
		iv.record(ctx, events.ArtifactSinkFailed, events.EventPayload{"question": fe.Question, "name": ev.Name, "error": fe.Message})
	default:
		return
	}
	iv.feed.Publish(fe)
}

func (iv *Interview) stepChanged(ctx context.Context, step interview.Step) {
	kind := string(step.Kind())
	if err := iv.eng.Repo.UpdateInterview(ctx, iv.ID, repo.InterviewUpdate{Step: &kind, UpdatedAt: iv.eng.stamp()}); err != nil {
		iv.log.Error().Err(err).Msg("persist step failed")
	}
	payload := events.EventPayload{"step": kind}
	fe := FeedEvent{InterviewID: iv.ID, Type: events.StepChanged, Step: kind}
	if i, ok := interview.IndexOf(step); ok {
		payload["question"] = i + 1
		fe.Question = i + 1
	}
	iv.record(ctx, events.StepChanged, payload)
	iv.feed.Publish(fe)
}

func (iv *Interview) complete(ctx context.Context) {
	at := iv.eng.now()
	iv.completedAt.Store(at.UnixNano())
	now := at.UTC().Format(time.RFC3339Nano)
	status := domain.StatusCompleted
	if err := iv.eng.Repo.UpdateInterview(ctx, iv.ID, repo.InterviewUpdate{Status: &status, CompletedAt: &now, UpdatedAt: now}); err != nil {
		iv.log.Error().Err(err).Msg("persist completion failed")
	}
	id, _ := iv.orch.Identity()
	iv.record(ctx, events.InterviewCompleted, events.EventPayload{"candidate": id.FullName, "answered": len(iv.answers)})
	iv.feed.Publish(FeedEvent{InterviewID: iv.ID, Type: events.InterviewCompleted, Step: string(interview.KindComplete)})
	iv.log.Info().Int("answered", len(iv.answers)).Msg("interview completed")
}

func (iv *Interview) abandon(ctx context.Context) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.closed {
		return
	}
	if iv.session != nil {
		iv.session.Close()
		iv.session = nil
	}
	iv.closed = true
	if _, done := iv.orch.Current().(interview.Complete); done {
		return
	}
	iv.abandoned = true
	status := domain.StatusAbandoned
	if err := iv.eng.Repo.UpdateInterview(ctx, iv.ID, repo.InterviewUpdate{Status: &status, UpdatedAt: iv.eng.stamp()}); err != nil {
		iv.log.Error().Err(err).Msg("persist abandon failed")
	}
	iv.record(ctx, events.InterviewAbandoned, events.EventPayload{"step": string(iv.orch.Current().Kind())})
	iv.feed.Publish(FeedEvent{InterviewID: iv.ID, Type: events.InterviewAbandoned})
	iv.log.Info().Msg("interview abandoned")
}

func (iv *Interview) record(ctx context.Context, evtType string, payload events.EventPayload) {
	if _, err := iv.eng.Events.Append(ctx, nil, evtType, iv.ID, payload); err != nil {
		iv.log.Error().Err(err).Str("event", evtType).Msg("append event failed")
	}
}

func (iv *Interview) viewLocked() View {
	step := iv.orch.Current()
	v := View{
		ID:        iv.ID,
		Step:      string(step.Kind()),
		Position:  iv.orch.Position(),
		Answers:   append([]capture.Receipt{}, iv.answers...),
		Abandoned: iv.abandoned,
	}
	if cfg := iv.eng.Config; cfg != nil {
		v.Title = cfg.Interview.Title
	}
	if id, ok := iv.orch.Identity(); ok {
		v.Identity = &id
	}
	switch s := step.(type) {
	case interview.IntroPlayback:
		if cfg := iv.eng.Config; cfg != nil {
			v.VideoRef = cfg.Interview.IntroVideo
		}
	case interview.QuestionPlayback:
		if p, ok := iv.orch.Prompt(s.Index); ok {
			v.VideoRef = p.VideoRef
			v.Question = &p
		}
	case interview.QuestionCapture:
		if p, ok := iv.orch.Prompt(s.Index); ok {
			v.Question = &p
		}
		if iv.session != nil {
			st := iv.session.Snapshot()
			v.Capture = &st
		}
	case interview.Complete:
		v.Summary = &Summary{
			CandidateName: v.Identity.FullName,
			Answered:      iv.orch.Progress(),
			Total:         len(iv.orch.Prompts()),
		}
	}
	return v
}
