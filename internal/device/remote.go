// Package device holds the capture.Device implementations: Remote, fed by a
// browser through the HTTP API, and File, which replays a media file for
// the terminal runner.
package device

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"videointerview/internal/capture"
)

// ErrNotRecording is returned by Push when no recording is running.
var ErrNotRecording = errors.New("no recording in progress")

type permission int

const (
	permPending permission = iota
	permGranted
	permDenied
)

type remoteHandle struct {
	id        string
	recording bool
	onChunk   func([]byte)
	onEnded   func(error)
}

func (h *remoteHandle) ID() string { return h.id }

// Remote is a device whose permission prompt and recorder run in the
// candidate's browser. The browser reports the permission outcome with
// Grant or Deny and uploads recorder chunks with Push.
type Remote struct {
	mu       sync.Mutex
	perm     permission
	reason   string
	cur      *remoteHandle
	acquired int
	released int
}

// NewRemote returns a device waiting for the browser's permission answer.
func NewRemote() *Remote { return &Remote{} }

// Grant records that the candidate allowed camera and microphone.
func (r *Remote) Grant() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perm = permGranted
	r.reason = ""
}

// Deny records a refused or failed permission prompt.
func (r *Remote) Deny(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perm = permDenied
	r.reason = reason
}

// Revoke withdraws a granted permission. A live handle is ended.
func (r *Remote) Revoke(reason string) {
	r.mu.Lock()
	r.perm = permDenied
	r.reason = reason
	h := r.cur
	var fn func(error)
	if h != nil {
		h.recording = false
		fn = h.onEnded
	}
	r.mu.Unlock()
	if fn != nil {
		fn(errors.New(reason))
	}
}

func (r *Remote) Acquire(ctx context.Context, c capture.Constraints) (capture.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &capture.DeviceAccessError{Reason: "request cancelled", Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.perm {
	case permPending:
		return nil, &capture.DeviceAccessError{Reason: "waiting for camera permission"}
	case permDenied:
		reason := r.reason
		if reason == "" {
			reason = "permission denied"
		}
		return nil, &capture.DeviceAccessError{Reason: reason}
	}
	if r.cur != nil {
		return nil, &capture.DeviceAccessError{Reason: "device already in use"}
	}
	r.cur = &remoteHandle{id: uuid.NewString()}
	r.acquired++
	return r.cur, nil
}

func (r *Remote) StartRecording(h capture.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rh, err := r.live(h)
	if err != nil {
		return err
	}
	rh.recording = true
	return nil
}

func (r *Remote) OnChunk(h capture.Handle, fn func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rh, err := r.live(h); err == nil {
		rh.onChunk = fn
	}
}

func (r *Remote) OnEnded(h capture.Handle, fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rh, err := r.live(h); err == nil {
		rh.onEnded = fn
	}
}

// Push delivers one recorder chunk uploaded by the browser.
func (r *Remote) Push(data []byte) error {
	r.mu.Lock()
	h := r.cur
	if h == nil || !h.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	fn := h.onChunk
	r.mu.Unlock()
	if fn != nil {
		fn(data)
	}
	return nil
}

// Stop ends the recorder. Chunks arrive through Push, so nothing is held back.
func (r *Remote) Stop(h capture.Handle) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rh, err := r.live(h)
	if err != nil {
		return nil, err
	}
	rh.recording = false
	return nil, nil
}

func (r *Remote) Release(h capture.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil || r.cur != h {
		return
	}
	r.cur = nil
	r.released++
}

// Active reports whether a handle is currently held.
func (r *Remote) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Counts returns how many handles were acquired and released.
func (r *Remote) Counts() (acquired, released int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquired, r.released
}

func (r *Remote) live(h capture.Handle) (*remoteHandle, error) {
	rh, ok := h.(*remoteHandle)
	if !ok || rh != r.cur {
		return nil, errors.New("stale device handle")
	}
	return rh, nil
}
