package interview

// Event is a user confirmation consumed by Orchestrator.Dispatch.
type Event interface {
	Name() string
	event()
}

// IdentitySubmitted carries the raw form values.
type IdentitySubmitted struct {
	FullName string
	Email    string
}

// PlaybackEnded reports the end of the current clip.
type PlaybackEnded struct{}

// ContinueConfirmed is the continue button of a playback step.
type ContinueConfirmed struct{}

// CaptureAccepted is emitted once the capture of question Index has been
// handed to the sink. Artifact is the suggested name of the accepted take.
type CaptureAccepted struct {
	Index    int
	Artifact string
}

func (IdentitySubmitted) Name() string { return "identity_submitted" }
func (PlaybackEnded) Name() string     { return "playback_ended" }
func (ContinueConfirmed) Name() string { return "continue_confirmed" }
func (CaptureAccepted) Name() string   { return "capture_accepted" }

func (IdentitySubmitted) event() {}
func (PlaybackEnded) event()     {}
func (ContinueConfirmed) event() {}
func (CaptureAccepted) event()   {}
