package capture

import (
	"context"
	"time"
)

// Handle is an acquired camera+microphone stream. Only the session that
// acquired it may start, stop or release it.
type Handle interface {
	ID() string
}

// Constraints describe the stream a session asks for.
type Constraints struct {
	Width  int  `json:"width"`
	Height int  `json:"height"`
	Audio  bool `json:"audio"`
}

// DefaultConstraints asks for 720p video with audio.
var DefaultConstraints = Constraints{Width: 1280, Height: 720, Audio: true}

// Device is the media capability behind a capture session.
//
// Acquire may block (permission prompt) and returns a *DeviceAccessError on
// denial or when no device is present. Chunks registered with OnChunk are
// delivered in production order and must not be delivered after Stop
// returns; Stop hands back any data not yet delivered. Release stops every
// track of the handle. Implementations must not wait on a chunk callback
// from inside StartRecording.
type Device interface {
	Acquire(ctx context.Context, c Constraints) (Handle, error)
	StartRecording(h Handle) error
	OnChunk(h Handle, fn func([]byte))
	Stop(h Handle) ([]byte, error)
	Release(h Handle)
}

// EndNotifier is implemented by devices that can report a stream ending on
// its own, for example when permission is revoked.
type EndNotifier interface {
	OnEnded(h Handle, fn func(error))
}

// Sink receives accepted artifacts. The session calls Submit exactly once
// per accepted capture and keeps no reference to the artifact afterwards.
type Sink interface {
	Submit(ctx context.Context, a Artifact) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, a Artifact) error

func (f SinkFunc) Submit(ctx context.Context, a Artifact) error { return f(ctx, a) }

// Clock is the time source of a session.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker the session uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock uses package time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }
