// Package capture records the answer to one interview question: it acquires
// the camera and microphone, runs one recording at a time with a review and
// retry loop, and hands the accepted take to a sink.
package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"videointerview/internal/logger"
)

// State is the sub-state of a capture session.
type State string

const (
	StateAcquiring State = "acquiring"
	StateBlocked   State = "blocked"
	StateReady     State = "ready"
	StateRecording State = "recording"
	StateReviewing State = "reviewing"
	StateAccepted  State = "accepted"
	StateClosed    State = "closed"
)

// Preview is what the video surface renders.
type Preview string

const (
	PreviewNone     Preview = "none"
	PreviewLive     Preview = "live"
	PreviewPlayback Preview = "playback"
)

// Artifact is an accepted recording. It is immutable once built.
type Artifact struct {
	Payload       []byte
	SuggestedName string
	SizeBytes     int64
	QuestionIndex int
	CreatedAt     time.Time
}

// Receipt describes an artifact after it left the session.
type Receipt struct {
	Name          string    `json:"name"`
	SizeBytes     int64     `json:"sizeBytes"`
	QuestionIndex int       `json:"questionIndex"`
	CreatedAt     time.Time `json:"createdAt"`
	SinkError     string    `json:"sinkError,omitempty"`
}

// EventType classifies session notifications.
type EventType string

const (
	EventState       EventType = "state"
	EventTick        EventType = "tick"
	EventDeviceError EventType = "device_error"
	EventInvariant   EventType = "invariant"
	EventSubmitted   EventType = "submitted"
	EventSinkError   EventType = "sink_error"
)

// Event is one session notification.
type Event struct {
	Type          EventType
	State         State
	QuestionIndex int
	Elapsed       int
	Bytes         int64
	Name          string
	Err           error
}

// SessionOptions configure one capture session.
type SessionOptions struct {
	QuestionIndex int
	CandidateName string
	// MaxDuration stops the recording on its own once reached; 0 is unlimited.
	MaxDuration time.Duration
	// MinDuration makes Accept refuse shorter takes; 0 disables the check.
	MinDuration time.Duration
	Constraints Constraints
	Clock       Clock
	// Observer receives events in order. It must not call back into the session.
	Observer func(Event)
	Logger   *logger.Logger
}

// Status is the display view of a session.
type Status struct {
	State         State   `json:"state"`
	QuestionIndex int     `json:"questionIndex"`
	Elapsed       int     `json:"elapsed"`
	ElapsedText   string  `json:"elapsedText"`
	Preview       Preview `json:"preview"`
	Muted         bool    `json:"muted"`
	CanRecord     bool    `json:"canRecord"`
	CanStop       bool    `json:"canStop"`
	CanReview     bool    `json:"canReview"`
	ReviewBytes   int64   `json:"reviewBytes"`
	DeviceError   string  `json:"deviceError,omitempty"`
}

// Session owns one device handle and one recording attempt at a time.
type Session struct {
	mu     sync.Mutex
	emitMu sync.Mutex

	dev  Device
	sink Sink
	opts SessionOptions
	log  *logger.Logger

	state       State
	handle      Handle
	handleValid bool
	acquiring   bool
	stopping    bool

	chunks  [][]byte
	payload []byte
	elapsed int
	devErr  error

	tickStop chan struct{}
	tickDone chan struct{}
}

// NewSession returns a session waiting for Acquire.
func NewSession(dev Device, sink Sink, opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Constraints == (Constraints{}) {
		opts.Constraints = DefaultConstraints
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("capture")
	}
	l := log.With().Int("question", opts.QuestionIndex+1).Logger()
	return &Session{
		dev:   dev,
		sink:  sink,
		opts:  opts,
		log:   &l,
		state: StateAcquiring,
	}
}

// State returns the current sub-state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns the seconds counted for the current or last take.
func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Acquire requests the camera and microphone. On denial the session stays
// Blocked and Acquire can be called again.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateAcquiring && s.state != StateBlocked {
		err := s.invariant("acquire")
		s.mu.Unlock()
		return err
	}
	if s.acquiring {
		err := s.invariant("acquire")
		s.mu.Unlock()
		return err
	}
	s.acquiring = true
	s.mu.Unlock()

	h, err := s.dev.Acquire(ctx, s.opts.Constraints)

	s.mu.Lock()
	s.acquiring = false
	if s.state == StateClosed {
		s.mu.Unlock()
		if err == nil {
			s.dev.Release(h)
		}
		return ErrClosed
	}
	if err != nil {
		var dae *DeviceAccessError
		if !errors.As(err, &dae) {
			dae = &DeviceAccessError{Reason: "device unavailable", Err: err}
		}
		s.devErr = dae
		s.setState(StateBlocked)
		s.emit(Event{Type: EventDeviceError, Err: dae})
		s.log.Warn().Err(dae).Msg("device access denied")
		s.mu.Unlock()
		return dae
	}
	s.handle = h
	s.handleValid = true
	s.devErr = nil
	s.dev.OnChunk(h, func(b []byte) { s.onChunk(h, b) })
	if n, ok := s.dev.(EndNotifier); ok {
		n.OnEnded(h, func(cause error) { s.onEnded(h, cause) })
	}
	if s.payload != nil {
		// a take interrupted by a lost device is kept for review
		s.setState(StateReviewing)
	} else {
		s.elapsed = 0
		s.setState(StateReady)
	}
	s.log.Debug().Str("handle", h.ID()).Msg("device acquired")
	s.mu.Unlock()
	return nil
}

// Start begins a recording.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady || s.stopping {
		return s.invariant("start")
	}
	s.chunks = nil
	s.elapsed = 0
	if err := s.dev.StartRecording(s.handle); err != nil {
		s.log.Error().Err(err).Msg("start recording failed")
		return err
	}
	s.setState(StateRecording)
	s.startTicker()
	return nil
}

// Stop finalizes the take into a single payload. Stopping early is always
// allowed.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRecording || s.stopping {
		err := s.invariant("stop")
		s.mu.Unlock()
		return err
	}
	s.stopping = true
	done := s.haltTicker()
	h := s.handle
	s.mu.Unlock()
	waitDone(done)

	tail, err := s.dev.Stop(h)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = false
	if s.state != StateRecording {
		// closed or device lost while the recorder was flushing
		return ErrClosed
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("recorder stop reported an error, keeping received chunks")
	}
	if len(tail) > 0 {
		s.chunks = append(s.chunks, tail)
	}
	s.finalize()
	s.setState(StateReviewing)
	return nil
}

// Retry discards the reviewed take. The device is not requested again when
// the handle is still live.
func (s *Session) Retry() error {
	s.mu.Lock()
	if s.state != StateReviewing {
		err := s.invariant("retry")
		s.mu.Unlock()
		return err
	}
	s.payload = nil
	s.chunks = nil
	if s.handleValid {
		s.elapsed = 0
		s.setState(StateReady)
		s.mu.Unlock()
		return nil
	}
	h := s.takeHandle()
	s.setState(StateAcquiring)
	s.mu.Unlock()
	s.release(h)
	return nil
}

// Accept names the reviewed take, releases the device and submits the
// artifact to the sink. A sink failure is reported in the receipt; the take
// is accepted either way.
func (s *Session) Accept(ctx context.Context) (Receipt, error) {
	s.mu.Lock()
	if s.state != StateReviewing {
		err := s.invariant("accept")
		s.mu.Unlock()
		return Receipt{}, err
	}
	if min := s.opts.MinDuration; min > 0 && time.Duration(s.elapsed)*time.Second < min {
		s.mu.Unlock()
		return Receipt{}, ErrTooShort
	}
	now := s.opts.Clock.Now()
	art := Artifact{
		Payload:       s.payload,
		SuggestedName: SuggestName(s.opts.CandidateName, s.opts.QuestionIndex+1, now),
		SizeBytes:     int64(len(s.payload)),
		QuestionIndex: s.opts.QuestionIndex,
		CreatedAt:     now,
	}
	s.payload = nil
	h := s.takeHandle()
	s.setState(StateAccepted)
	s.mu.Unlock()
	s.release(h)

	rec := Receipt{
		Name:          art.SuggestedName,
		SizeBytes:     art.SizeBytes,
		QuestionIndex: art.QuestionIndex,
		CreatedAt:     art.CreatedAt,
	}
	if err := s.sink.Submit(ctx, art); err != nil {
		rec.SinkError = err.Error()
		s.log.Error().Err(err).Str("artifact", rec.Name).Msg("sink rejected artifact")
		s.emit(Event{Type: EventSinkError, State: StateAccepted, Name: rec.Name, Bytes: rec.SizeBytes, Err: err})
		return rec, nil
	}
	s.log.Info().Str("artifact", rec.Name).Int64("bytes", rec.SizeBytes).Msg("artifact submitted")
	s.emit(Event{Type: EventSubmitted, State: StateAccepted, Name: rec.Name, Bytes: rec.SizeBytes})
	return rec, nil
}

// Close tears the session down from any state and releases the device if
// it is still held. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasRecording := s.state == StateRecording && !s.stopping
	done := s.haltTicker()
	h := s.takeHandle()
	s.chunks = nil
	s.payload = nil
	s.setState(StateClosed)
	s.mu.Unlock()

	waitDone(done)
	if h != nil && wasRecording {
		_, _ = s.dev.Stop(h)
	}
	s.release(h)
}

// Snapshot returns the display view.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:         s.state,
		QuestionIndex: s.opts.QuestionIndex,
		Elapsed:       s.elapsed,
		ElapsedText:   FormatElapsed(s.elapsed),
		Preview:       PreviewNone,
		Muted:         true,
		ReviewBytes:   int64(len(s.payload)),
	}
	switch s.state {
	case StateReady, StateRecording:
		st.Preview = PreviewLive
	case StateReviewing:
		st.Preview = PreviewPlayback
		st.Muted = false
		st.CanReview = true
	}
	st.CanRecord = s.state == StateReady
	st.CanStop = s.state == StateRecording && !s.stopping
	if s.devErr != nil {
		st.DeviceError = s.devErr.Error()
	}
	return st
}

func (s *Session) onChunk(h Handle, b []byte) {
	if len(b) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h != s.handle || s.state != StateRecording {
		return
	}
	s.chunks = append(s.chunks, append([]byte(nil), b...))
}

func (s *Session) onEnded(h Handle, cause error) {
	s.mu.Lock()
	if h != s.handle || !s.handleValid {
		s.mu.Unlock()
		return
	}
	s.handleValid = false
	dae := &DeviceAccessError{Reason: "device stream ended", Err: cause}
	s.log.Warn().Err(dae).Str("state", string(s.state)).Msg("device lost")
	var done chan struct{}
	switch {
	case s.stopping, s.state == StateReviewing:
		// Stop finishes the take, Retry or Accept release the handle
		s.devErr = dae
		s.emit(Event{Type: EventDeviceError, Err: dae})
		s.mu.Unlock()
		return
	case s.state == StateRecording:
		done = s.haltTicker()
		s.finalize()
	}
	s.handle = nil
	s.devErr = dae
	s.setState(StateBlocked)
	s.emit(Event{Type: EventDeviceError, Err: dae})
	s.mu.Unlock()
	waitDone(done)
	s.release(h)
}

func (s *Session) finalize() {
	s.payload = bytes.Join(s.chunks, nil)
	if s.payload == nil {
		s.payload = []byte{}
	}
	s.chunks = nil
}

// takeHandle detaches the handle so exactly one caller releases it.
func (s *Session) takeHandle() Handle {
	h := s.handle
	s.handle = nil
	s.handleValid = false
	return h
}

func (s *Session) release(h Handle) {
	if h == nil {
		return
	}
	s.dev.Release(h)
	s.log.Debug().Str("handle", h.ID()).Msg("device released")
}

func (s *Session) startTicker() {
	t := s.opts.Clock.NewTicker(time.Second)
	stop := make(chan struct{})
	done := make(chan struct{})
	s.tickStop, s.tickDone = stop, done
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C():
				s.tick(stop)
			}
		}
	}()
}

// haltTicker stops the ticker goroutine and returns a channel closed once it
// exited. Callers wait on it after releasing the lock.
func (s *Session) haltTicker() chan struct{} {
	if s.tickStop == nil {
		return nil
	}
	close(s.tickStop)
	done := s.tickDone
	s.tickStop, s.tickDone = nil, nil
	return done
}

func (s *Session) tick(gen chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickStop != gen || s.state != StateRecording || s.stopping {
		return
	}
	s.elapsed++
	s.emit(Event{Type: EventTick, State: s.state, Elapsed: s.elapsed})
	if max := s.opts.MaxDuration; max > 0 && time.Duration(s.elapsed)*time.Second >= max {
		s.log.Info().Int("elapsed", s.elapsed).Msg("maximum duration reached")
		s.stopping = true
		s.haltTicker()
		go s.finishAutoStop()
	}
}

// finishAutoStop completes a stop triggered by the duration limit outside
// the ticker goroutine and outside the lock.
func (s *Session) finishAutoStop() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return
	}
	tail, err := s.dev.Stop(h)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = false
	if s.state != StateRecording {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("recorder stop reported an error, keeping received chunks")
	}
	if len(tail) > 0 {
		s.chunks = append(s.chunks, tail)
	}
	s.finalize()
	s.setState(StateReviewing)
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.state = next
	s.emit(Event{Type: EventState, State: next, Elapsed: s.elapsed})
}

func (s *Session) invariant(op string) error {
	err := &InvariantError{Op: op, State: s.state}
	s.log.Warn().Err(err).Msg("ignored capture control")
	s.emit(Event{Type: EventInvariant, State: s.state, Err: err})
	return err
}

func (s *Session) emit(ev Event) {
	if s.opts.Observer == nil {
		return
	}
	ev.QuestionIndex = s.opts.QuestionIndex
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.opts.Observer(ev)
}

func waitDone(done chan struct{}) {
	if done != nil {
		<-done
	}
}
