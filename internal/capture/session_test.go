package capture_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"videointerview/internal/capture"
	"videointerview/internal/logger"
)

type fakeHandle struct{ id string }

func (h *fakeHandle) ID() string { return h.id }

type fakeDevice struct {
	mu       sync.Mutex
	deny     error
	acquired int
	released int
	started  int
	tail     []byte
	onChunk  func([]byte)
	onEnded  func(error)
	live     map[*fakeHandle]bool
}

func newFakeDevice() *fakeDevice { return &fakeDevice{live: map[*fakeHandle]bool{}} }

func (d *fakeDevice) Acquire(ctx context.Context, c capture.Constraints) (capture.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deny != nil {
		return nil, d.deny
	}
	d.acquired++
	h := &fakeHandle{id: fmt.Sprintf("h%d", d.acquired)}
	d.live[h] = true
	return h, nil
}

func (d *fakeDevice) StartRecording(h capture.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started++
	return nil
}

func (d *fakeDevice) OnChunk(h capture.Handle, fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChunk = fn
}

func (d *fakeDevice) OnEnded(h capture.Handle, fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onEnded = fn
}

func (d *fakeDevice) Stop(h capture.Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tail
	d.tail = nil
	return t, nil
}

func (d *fakeDevice) Release(h capture.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fh := h.(*fakeHandle)
	if !d.live[fh] {
		panic("release of unknown or released handle " + fh.id)
	}
	delete(d.live, fh)
	d.released++
}

func (d *fakeDevice) push(b string) {
	d.mu.Lock()
	fn := d.onChunk
	d.mu.Unlock()
	fn([]byte(b))
}

func (d *fakeDevice) end() {
	d.mu.Lock()
	fn := d.onEnded
	d.mu.Unlock()
	fn(errors.New("track ended"))
}

func (d *fakeDevice) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired, d.released
}

type fakeTicker struct {
	c    chan time.Time
	once sync.Once
	done chan struct{}
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.once.Do(func() { close(t.done) }) }

type fakeClock struct {
	now     time.Time
	tickers chan *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1700000000000), tickers: make(chan *fakeTicker, 8)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) NewTicker(d time.Duration) capture.Ticker {
	t := &fakeTicker{c: make(chan time.Time), done: make(chan struct{})}
	c.tickers <- t
	return t
}

func (c *fakeClock) ticker(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case tk := <-c.tickers:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker started")
		return nil
	}
}

type recordingSink struct {
	mu   sync.Mutex
	got  []capture.Artifact
	fail error
}

func (s *recordingSink) Submit(ctx context.Context, a capture.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return s.fail
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type harness struct {
	dev    *fakeDevice
	clock  *fakeClock
	sink   *recordingSink
	events chan capture.Event
	s      *capture.Session
}

func newHarness(t *testing.T, mut func(*capture.SessionOptions)) *harness {
	t.Helper()
	h := &harness{
		dev:    newFakeDevice(),
		clock:  newFakeClock(),
		sink:   &recordingSink{},
		events: make(chan capture.Event, 256),
	}
	opts := capture.SessionOptions{
		QuestionIndex: 0,
		CandidateName: "Ann Lee",
		Clock:         h.clock,
		Observer:      func(ev capture.Event) { h.events <- ev },
		Logger:        logger.Nop(),
	}
	if mut != nil {
		mut(&opts)
	}
	h.s = capture.NewSession(h.dev, h.sink, opts)
	t.Cleanup(h.s.Close)
	return h
}

// tick fires one ticker period and waits for the session to count it.
func (h *harness) tick(t *testing.T, tk *fakeTicker) int {
	t.Helper()
	select {
	case tk.c <- h.clock.now:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker not consumed")
	}
	return h.waitTick(t)
}

func (h *harness) waitTick(t *testing.T) int {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Type == capture.EventTick {
				return ev.Elapsed
			}
		case <-timeout:
			t.Fatal("no tick event")
			return 0
		}
	}
}

func (h *harness) waitState(t *testing.T, want capture.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state %s, want %s", h.s.State(), want)
}

func TestRecordThreeSecondsThenAccept(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.s.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if st := h.s.Snapshot(); st.State != capture.StateReady || !st.CanRecord || st.Preview != capture.PreviewLive || !st.Muted {
		t.Fatalf("ready snapshot %+v", st)
	}
	if err := h.s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	tk := h.clock.ticker(t)
	h.dev.push("aa")
	for want := 1; want <= 3; want++ {
		if got := h.tick(t, tk); got != want {
			t.Fatalf("elapsed %d want %d", got, want)
		}
	}
	h.dev.push("bb")
	h.dev.tail = []byte("cc")
	if err := h.s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st := h.s.Snapshot()
	if st.State != capture.StateReviewing || st.Elapsed != 3 || st.ElapsedText != "0:03" || st.Muted || st.Preview != capture.PreviewPlayback || st.ReviewBytes != 6 {
		t.Fatalf("review snapshot %+v", st)
	}
	rec, err := h.s.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if rec.Name != "Ann_Lee_Question_1_1700000000000.webm" || rec.SizeBytes != 6 {
		t.Fatalf("receipt %+v", rec)
	}
	if h.sink.count() != 1 || !bytes.Equal(h.sink.got[0].Payload, []byte("aabbcc")) {
		t.Fatalf("sink got %+v", h.sink.got)
	}
	if acq, rel := h.dev.counts(); acq != 1 || rel != 1 {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
	if h.s.State() != capture.StateAccepted {
		t.Fatalf("state %s", h.s.State())
	}
}

func TestInvalidControlsLeaveStateUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.s.Stop(); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("stop before acquire: %v", err)
	}
	if err := h.s.Start(); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("start before acquire: %v", err)
	}
	_ = h.s.Acquire(ctx)
	if err := h.s.Stop(); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("stop while ready: %v", err)
	}
	if err := h.s.Retry(); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("retry while ready: %v", err)
	}
	if _, err := h.s.Accept(ctx); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("accept while ready: %v", err)
	}
	var ie *capture.InvariantError
	if err := h.s.Acquire(ctx); !errors.As(err, &ie) || ie.State != capture.StateReady {
		t.Fatalf("acquire while ready: %v", err)
	}
	_ = h.s.Start()
	if err := h.s.Start(); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("second start: %v", err)
	}
	if h.s.State() != capture.StateRecording {
		t.Fatalf("state %s", h.s.State())
	}
	if h.sink.count() != 0 {
		t.Fatalf("sink called")
	}
}

func TestDeniedAccessBlocksAndRecovers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.dev.deny = &capture.DeviceAccessError{Reason: "permission denied"}
	err := h.s.Acquire(ctx)
	if !errors.Is(err, capture.ErrDeviceAccess) {
		t.Fatalf("expected device access error, got %v", err)
	}
	st := h.s.Snapshot()
	if st.State != capture.StateBlocked || st.CanRecord || !strings.Contains(st.DeviceError, "permission denied") {
		t.Fatalf("blocked snapshot %+v", st)
	}
	if err := h.s.Start(); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("start while blocked: %v", err)
	}
	h.dev.deny = nil
	if err := h.s.Acquire(ctx); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if st := h.s.Snapshot(); st.State != capture.StateReady || st.DeviceError != "" {
		t.Fatalf("ready snapshot %+v", st)
	}
}

func TestPlainAcquireErrorIsWrapped(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.deny = errors.New("no camera")
	err := h.s.Acquire(context.Background())
	var dae *capture.DeviceAccessError
	if !errors.As(err, &dae) || !strings.Contains(err.Error(), "no camera") {
		t.Fatalf("expected wrapped device error, got %v", err)
	}
}

func TestRetryKeepsDeviceAndSkipsSink(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_ = h.s.Acquire(ctx)
	for i := 0; i < 3; i++ {
		if err := h.s.Start(); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		tk := h.clock.ticker(t)
		h.dev.push(fmt.Sprintf("take%d", i))
		h.tick(t, tk)
		if err := h.s.Stop(); err != nil {
			t.Fatal(err)
		}
		if err := h.s.Retry(); err != nil {
			t.Fatal(err)
		}
		if st := h.s.Snapshot(); st.State != capture.StateReady || st.Elapsed != 0 || st.ReviewBytes != 0 {
			t.Fatalf("after retry %+v", st)
		}
	}
	if h.sink.count() != 0 {
		t.Fatalf("sink called on retry")
	}
	if acq, rel := h.dev.counts(); acq != 1 || rel != 0 {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
	_ = h.s.Start()
	tk := h.clock.ticker(t)
	h.dev.push("final")
	h.tick(t, tk)
	_ = h.s.Stop()
	if _, err := h.s.Accept(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.sink.got[0].Payload; string(got) != "final" {
		t.Fatalf("payload %q", got)
	}
}

func TestCloseReleasesOnce(t *testing.T) {
	cases := map[string]func(h *harness){
		"ready": func(h *harness) {},
		"recording": func(h *harness) {
			_ = h.s.Start()
		},
		"reviewing": func(h *harness) {
			_ = h.s.Start()
			_ = h.s.Stop()
		},
	}
	for name, prep := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			_ = h.s.Acquire(context.Background())
			prep(h)
			h.s.Close()
			h.s.Close()
			if acq, rel := h.dev.counts(); acq != 1 || rel != 1 {
				t.Fatalf("acquired %d released %d", acq, rel)
			}
			if h.s.State() != capture.StateClosed {
				t.Fatalf("state %s", h.s.State())
			}
		})
	}
}

func TestCloseWithoutDeviceIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Close()
	if acq, rel := h.dev.counts(); acq != 0 || rel != 0 {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
	if err := h.s.Acquire(context.Background()); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("acquire after close: %v", err)
	}
}

func TestChunksAreJoinedInOrder(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.s.Acquire(context.Background())
	h.dev.push("ignored-before-start")
	_ = h.s.Start()
	h.clock.ticker(t)
	for _, c := range []string{"1", "2", "", "3"} {
		h.dev.push(c)
	}
	_ = h.s.Stop()
	h.dev.push("ignored-after-stop")
	if _, err := h.s.Accept(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := string(h.sink.got[0].Payload); got != "123" {
		t.Fatalf("payload %q", got)
	}
}

func TestEmptyTakeStillReviewable(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.s.Acquire(context.Background())
	_ = h.s.Start()
	h.clock.ticker(t)
	if err := h.s.Stop(); err != nil {
		t.Fatal(err)
	}
	rec, err := h.s.Accept(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.SizeBytes != 0 {
		t.Fatalf("size %d", rec.SizeBytes)
	}
}

func TestMaxDurationStopsRecording(t *testing.T) {
	h := newHarness(t, func(o *capture.SessionOptions) { o.MaxDuration = 2 * time.Second })
	_ = h.s.Acquire(context.Background())
	_ = h.s.Start()
	tk := h.clock.ticker(t)
	h.dev.push("x")
	h.tick(t, tk)
	h.tick(t, tk)
	h.waitState(t, capture.StateReviewing)
	if st := h.s.Snapshot(); st.Elapsed != 2 || st.ReviewBytes != 1 {
		t.Fatalf("snapshot %+v", st)
	}
}

func TestMinDurationRejectsShortTake(t *testing.T) {
	h := newHarness(t, func(o *capture.SessionOptions) { o.MinDuration = 2 * time.Second })
	ctx := context.Background()
	_ = h.s.Acquire(ctx)
	_ = h.s.Start()
	tk := h.clock.ticker(t)
	h.tick(t, tk)
	_ = h.s.Stop()
	if _, err := h.s.Accept(ctx); !errors.Is(err, capture.ErrTooShort) {
		t.Fatalf("expected too short, got %v", err)
	}
	if h.s.State() != capture.StateReviewing || h.sink.count() != 0 {
		t.Fatalf("state %s sink %d", h.s.State(), h.sink.count())
	}
}

func TestRevokedWhileRecordingKeepsPartialTake(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_ = h.s.Acquire(ctx)
	_ = h.s.Start()
	tk := h.clock.ticker(t)
	h.dev.push("partial")
	h.tick(t, tk)
	h.dev.end()
	st := h.s.Snapshot()
	if st.State != capture.StateBlocked || st.DeviceError == "" {
		t.Fatalf("after revoke %+v", st)
	}
	if acq, rel := h.dev.counts(); acq != 1 || rel != 1 {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
	if err := h.s.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if st := h.s.Snapshot(); st.State != capture.StateReviewing || st.ReviewBytes != int64(len("partial")) || st.Elapsed != 1 {
		t.Fatalf("after reacquire %+v", st)
	}
	if _, err := h.s.Accept(ctx); err != nil {
		t.Fatal(err)
	}
	if acq, rel := h.dev.counts(); acq != 2 || rel != 2 {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
}

func TestRevokedWhileReviewingRequestsAgainOnRetry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_ = h.s.Acquire(ctx)
	_ = h.s.Start()
	h.clock.ticker(t)
	_ = h.s.Stop()
	h.dev.end()
	if h.s.State() != capture.StateReviewing {
		t.Fatalf("state %s", h.s.State())
	}
	if err := h.s.Retry(); err != nil {
		t.Fatal(err)
	}
	if h.s.State() != capture.StateAcquiring {
		t.Fatalf("state %s", h.s.State())
	}
	if acq, rel := h.dev.counts(); acq != 1 || rel != 1 {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
	if err := h.s.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if h.s.State() != capture.StateReady {
		t.Fatalf("state %s", h.s.State())
	}
}

func TestSinkErrorDoesNotBlockAccept(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.fail = errors.New("disk full")
	ctx := context.Background()
	_ = h.s.Acquire(ctx)
	_ = h.s.Start()
	h.clock.ticker(t)
	_ = h.s.Stop()
	rec, err := h.s.Accept(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.SinkError != "disk full" || h.s.State() != capture.StateAccepted {
		t.Fatalf("receipt %+v state %s", rec, h.s.State())
	}
}

func TestNameSuggestion(t *testing.T) {
	at := time.UnixMilli(42)
	cases := map[string]string{
		"Ann Lee":         "Ann_Lee_Question_2_42.webm",
		"  Jane   Doe ":   "Jane_Doe_Question_2_42.webm",
		"a/b\\c":          "abc_Question_2_42.webm",
		"":                "candidate_Question_2_42.webm",
		"Zoë O'Brien-Lee": "Zoë_OBrien-Lee_Question_2_42.webm",
	}
	for in, want := range cases {
		if got := capture.SuggestName(in, 2, at); got != want {
			t.Errorf("SuggestName(%q) = %q want %q", in, got, want)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	cases := map[int]string{0: "0:00", 3: "0:03", 59: "0:59", 60: "1:00", 125: "2:05", -4: "0:00"}
	for in, want := range cases {
		if got := capture.FormatElapsed(in); got != want {
			t.Errorf("FormatElapsed(%d) = %q want %q", in, got, want)
		}
	}
}
