package device

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"videointerview/internal/capture"
)

// File replays a media file as recorder output: while recording it emits
// ChunkSize bytes every Interval, starting over at end of file.
type File struct {
	Path      string
	ChunkSize int
	Interval  time.Duration

	mu  sync.Mutex
	cur *fileHandle
}

type fileHandle struct {
	id      string
	onChunk func([]byte)
	stop    chan struct{}
	done    chan struct{}
}

func (h *fileHandle) ID() string { return h.id }

// NewFile returns a file device with 64 KiB chunks every 250ms.
func NewFile(path string) *File {
	return &File{Path: path, ChunkSize: 64 << 10, Interval: 250 * time.Millisecond}
}

func (f *File) Acquire(ctx context.Context, c capture.Constraints) (capture.Handle, error) {
	st, err := os.Stat(f.Path)
	if err != nil {
		return nil, &capture.DeviceAccessError{Reason: "media source unavailable", Err: err}
	}
	if st.IsDir() || st.Size() == 0 {
		return nil, &capture.DeviceAccessError{Reason: "media source is empty"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur != nil {
		return nil, &capture.DeviceAccessError{Reason: "device already in use"}
	}
	f.cur = &fileHandle{id: uuid.NewString()}
	return f.cur, nil
}

func (f *File) OnChunk(h capture.Handle, fn func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fh, ok := h.(*fileHandle); ok && fh == f.cur {
		fh.onChunk = fn
	}
}

func (f *File) StartRecording(h capture.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, ok := h.(*fileHandle)
	if !ok || fh != f.cur {
		return errors.New("stale device handle")
	}
	if fh.stop != nil {
		return errors.New("already recording")
	}
	src, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	fh.stop = make(chan struct{})
	fh.done = make(chan struct{})
	go f.pump(src, fh.onChunk, fh.stop, fh.done)
	return nil
}

func (f *File) pump(src *os.File, emit func([]byte), stop, done chan struct{}) {
	defer close(done)
	defer src.Close()
	size := f.ChunkSize
	if size <= 0 {
		size = 64 << 10
	}
	interval := f.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	buf := make([]byte, size)
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		n, err := src.Read(buf)
		if errors.Is(err, io.EOF) || n == 0 {
			if _, err := src.Seek(0, io.SeekStart); err != nil {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		if emit != nil {
			emit(append([]byte(nil), buf[:n]...))
		}
	}
}

// Stop halts the pump and waits for it, so no chunk follows it.
func (f *File) Stop(h capture.Handle) ([]byte, error) {
	f.mu.Lock()
	fh, ok := h.(*fileHandle)
	if !ok || fh != f.cur || fh.stop == nil {
		f.mu.Unlock()
		return nil, errors.New("not recording")
	}
	stop, done := fh.stop, fh.done
	fh.stop, fh.done = nil, nil
	f.mu.Unlock()
	close(stop)
	<-done
	return nil, nil
}

func (f *File) Release(h capture.Handle) {
	f.mu.Lock()
	fh, ok := h.(*fileHandle)
	if !ok || fh != f.cur {
		f.mu.Unlock()
		return
	}
	f.cur = nil
	stop, done := fh.stop, fh.done
	fh.stop, fh.done = nil, nil
	f.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}
