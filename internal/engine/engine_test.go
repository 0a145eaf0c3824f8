package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"videointerview/internal/capture"
	"videointerview/internal/config"
	"videointerview/internal/db"
	"videointerview/internal/device"
	"videointerview/internal/domain"
	"videointerview/internal/engine"
	"videointerview/internal/events"
	"videointerview/internal/interview"
	"videointerview/internal/logger"
	"videointerview/internal/migrate"
)

type idleTicker struct{ c chan time.Time }

func (t idleTicker) C() <-chan time.Time { return t.c }
func (t idleTicker) Stop()               {}

// steppingClock advances one millisecond per Now call and never ticks.
type steppingClock struct{ ms int64 }

func (c *steppingClock) Now() time.Time {
	c.ms++
	return time.UnixMilli(1700000000000 + c.ms)
}

func (c *steppingClock) NewTicker(time.Duration) capture.Ticker {
	return idleTicker{c: make(chan time.Time)}
}

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	Dir    string
}

func newTestEnv(t *testing.T, questions int) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Questions = cfg.Questions[:questions]
	eng := engine.New(conn, cfg, filepath.Join(dir, "artifacts"))
	eng.Clock = &steppingClock{}
	eng.Log = logger.Nop()
	ctx := context.Background()
	t.Cleanup(func() { eng.Shutdown(ctx) })
	return testEnv{Engine: eng, Ctx: ctx, Dir: dir}
}

// mustView fails the test when a view-returning call errs:
// mustView(t)(iv.Continue(ctx)).
func mustView(t *testing.T) func(engine.View, error) engine.View {
	t.Helper()
	return func(v engine.View, err error) engine.View {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return v
	}
}

// answer records one take with the given chunks and stops it.
func answer(t *testing.T, env testEnv, iv *engine.Interview, rd *device.Remote, chunks ...string) {
	t.Helper()
	mustView(t)(iv.StartRecording(env.Ctx))
	for _, c := range chunks {
		if err := rd.Push([]byte(c)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	v := mustView(t)(iv.StopRecording(env.Ctx))
	if v.Capture == nil || v.Capture.State != capture.StateReviewing {
		t.Fatalf("expected reviewing, got %+v", v.Capture)
	}
}

func TestTwoQuestionInterview(t *testing.T) {
	env := newTestEnv(t, 2)
	rd := device.NewRemote()
	rd.Grant()
	iv, err := env.Engine.Begin(env.Ctx, rd)
	if err != nil {
		t.Fatal(err)
	}
	v := mustView(t)(iv.SubmitIdentity(env.Ctx, "Ann Lee", "ann@x.io"))
	if v.Step != string(interview.KindIntroPlayback) || v.VideoRef == "" {
		t.Fatalf("after identity %+v", v)
	}
	mustView(t)(iv.Continue(env.Ctx))
	for q := 0; q < 2; q++ {
		v = mustView(t)(iv.Continue(env.Ctx))
		if v.Step != string(interview.KindQuestionCapture) || v.Question == nil || v.Question.Index != q {
			t.Fatalf("question %d view %+v", q, v)
		}
		if v.Capture == nil || v.Capture.State != capture.StateReady {
			t.Fatalf("capture not ready: %+v", v.Capture)
		}
		answer(t, env, iv, rd, "chunk-a", "chunk-b")
		rec, v2, err := iv.Accept(env.Ctx)
		if err != nil {
			t.Fatal(err)
		}
		if rec.SinkError != "" || rec.QuestionIndex != q {
			t.Fatalf("receipt %+v", rec)
		}
		if v2.Capture != nil {
			t.Fatalf("capture still open after accept")
		}
	}
	v = iv.View()
	if v.Step != string(interview.KindComplete) || v.Summary == nil || v.Summary.Answered != 2 || v.Summary.CandidateName != "Ann Lee" {
		t.Fatalf("complete view %+v", v)
	}
	arts, err := env.Engine.Repo.ListArtifacts(env.Ctx, iv.ID)
	if err != nil || len(arts) != 2 {
		t.Fatalf("artifacts %v err %v", arts, err)
	}
	for i, a := range arts {
		prefix := "Ann_Lee_Question_" + string(rune('1'+i)) + "_"
		if len(a.Name) <= len(prefix) || a.Name[:len(prefix)] != prefix || filepath.Ext(a.Name) != ".webm" {
			t.Fatalf("artifact name %q", a.Name)
		}
		data, err := os.ReadFile(a.Path)
		if err != nil || string(data) != "chunk-achunk-b" {
			t.Fatalf("artifact payload %q err %v", data, err)
		}
	}
	if acq, rel := rd.Counts(); acq != 2 || rel != 2 || rd.Active() {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
	row, err := env.Engine.Repo.GetInterview(env.Ctx, iv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != domain.StatusCompleted || row.Answered != 2 || row.CompletedAt == nil || row.CandidateEmail != "ann@x.io" {
		t.Fatalf("interview row %+v", row)
	}
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, iv.ID, "")
	if err != nil || len(evs) != 1 || evs[0].Type != events.InterviewCompleted {
		t.Fatalf("last event %v err %v", evs, err)
	}
}

func TestRetriesDoNotReachSink(t *testing.T) {
	env := newTestEnv(t, 1)
	rd := device.NewRemote()
	rd.Grant()
	iv, _ := env.Engine.Begin(env.Ctx, rd)
	mustView(t)(iv.SubmitIdentity(env.Ctx, "Jane Doe", "jane@co.com"))
	mustView(t)(iv.Continue(env.Ctx))
	mustView(t)(iv.Continue(env.Ctx))
	for i := 0; i < 2; i++ {
		answer(t, env, iv, rd, "discarded")
		v := mustView(t)(iv.Retry(env.Ctx))
		if v.Capture.State != capture.StateReady {
			t.Fatalf("after retry %+v", v.Capture)
		}
		if arts, _ := env.Engine.Repo.ListArtifacts(env.Ctx, iv.ID); len(arts) != 0 {
			t.Fatalf("retry reached sink")
		}
	}
	answer(t, env, iv, rd, "kept")
	if _, _, err := iv.Accept(env.Ctx); err != nil {
		t.Fatal(err)
	}
	arts, _ := env.Engine.Repo.ListArtifacts(env.Ctx, iv.ID)
	if len(arts) != 1 || arts[0].SizeBytes != 4 {
		t.Fatalf("artifacts %+v", arts)
	}
	if acq, rel := rd.Counts(); acq != 1 || rel != 1 {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
}

func TestAbandonReleasesDevice(t *testing.T) {
	env := newTestEnv(t, 2)
	rd := device.NewRemote()
	rd.Grant()
	iv, _ := env.Engine.Begin(env.Ctx, rd)
	mustView(t)(iv.SubmitIdentity(env.Ctx, "Jane Doe", "jane@co.com"))
	mustView(t)(iv.Continue(env.Ctx))
	mustView(t)(iv.Continue(env.Ctx))
	mustView(t)(iv.StartRecording(env.Ctx))
	if err := env.Engine.Abandon(env.Ctx, iv.ID); err != nil {
		t.Fatal(err)
	}
	if acq, rel := rd.Counts(); acq != 1 || rel != 1 || rd.Active() {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
	if _, err := env.Engine.Get(iv.ID); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := iv.StopRecording(env.Ctx); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("controls after abandon: %v", err)
	}
	row, _ := env.Engine.Repo.GetInterview(env.Ctx, iv.ID)
	if row.Status != domain.StatusAbandoned {
		t.Fatalf("status %s", row.Status)
	}
	if arts, _ := env.Engine.Repo.ListArtifacts(env.Ctx, iv.ID); len(arts) != 0 {
		t.Fatalf("abandon produced artifacts")
	}
}

func TestCompletedInterviewEvictedAfterRetention(t *testing.T) {
	env := newTestEnv(t, 1)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return now }
	env.Engine.Retention = time.Minute
	rd := device.NewRemote()
	rd.Grant()
	iv, _ := env.Engine.Begin(env.Ctx, rd)
	mustView(t)(iv.SubmitIdentity(env.Ctx, "Jane Doe", "jane@co.com"))
	mustView(t)(iv.Continue(env.Ctx))
	mustView(t)(iv.Continue(env.Ctx))
	answer(t, env, iv, rd, "final")
	if _, v, err := iv.Accept(env.Ctx); err != nil || v.Step != string(interview.KindComplete) {
		t.Fatalf("accept: %+v %v", v, err)
	}

	now = now.Add(30 * time.Second)
	if _, err := env.Engine.Get(iv.ID); err != nil {
		t.Fatalf("completed interview gone before retention: %v", err)
	}
	other, _ := env.Engine.Begin(env.Ctx, device.NewRemote())

	now = now.Add(time.Minute)
	if _, err := env.Engine.Get(iv.ID); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected eviction, got %v", err)
	}
	if live := env.Engine.Live(); len(live) != 1 || live[0] != other.ID {
		t.Fatalf("running interview evicted: %v", live)
	}
	row, _ := env.Engine.Repo.GetInterview(env.Ctx, iv.ID)
	if row.Status != domain.StatusCompleted {
		t.Fatalf("status %s", row.Status)
	}
}

func TestDeniedDeviceBlocksUntilGranted(t *testing.T) {
	env := newTestEnv(t, 1)
	rd := device.NewRemote()
	rd.Deny("NotAllowedError")
	iv, _ := env.Engine.Begin(env.Ctx, rd)
	mustView(t)(iv.SubmitIdentity(env.Ctx, "Jane Doe", "jane@co.com"))
	mustView(t)(iv.Continue(env.Ctx))
	v := mustView(t)(iv.Continue(env.Ctx))
	if v.Capture.State != capture.StateBlocked || v.Capture.DeviceError == "" {
		t.Fatalf("expected blocked, got %+v", v.Capture)
	}
	if _, err := iv.StartRecording(env.Ctx); !errors.Is(err, capture.ErrInvalidCall) {
		t.Fatalf("start while blocked: %v", err)
	}
	if _, err := iv.AcquireDevice(env.Ctx); !errors.Is(err, capture.ErrDeviceAccess) {
		t.Fatalf("acquire while denied: %v", err)
	}
	rd.Grant()
	v = mustView(t)(iv.AcquireDevice(env.Ctx))
	if v.Capture.State != capture.StateReady {
		t.Fatalf("after grant %+v", v.Capture)
	}
}

func TestControlsOutsideCapture(t *testing.T) {
	env := newTestEnv(t, 1)
	rd := device.NewRemote()
	iv, _ := env.Engine.Begin(env.Ctx, rd)
	if _, err := iv.StartRecording(env.Ctx); !errors.Is(err, engine.ErrNoCapture) {
		t.Fatalf("start in identity: %v", err)
	}
	if _, err := iv.Continue(env.Ctx); !errors.Is(err, interview.ErrUnexpectedEvent) {
		t.Fatalf("continue in identity: %v", err)
	}
	v, err := iv.SubmitIdentity(env.Ctx, "", "bad")
	if !errors.Is(err, interview.ErrValidation) || v.Step != string(interview.KindIdentity) {
		t.Fatalf("invalid identity: %v %+v", err, v)
	}
	if acq, _ := rd.Counts(); acq != 0 {
		t.Fatalf("device acquired outside capture")
	}
}

func TestRevokedDuringRecordingKeepsTake(t *testing.T) {
	env := newTestEnv(t, 1)
	rd := device.NewRemote()
	rd.Grant()
	iv, _ := env.Engine.Begin(env.Ctx, rd)
	mustView(t)(iv.SubmitIdentity(env.Ctx, "Jane Doe", "jane@co.com"))
	mustView(t)(iv.Continue(env.Ctx))
	mustView(t)(iv.Continue(env.Ctx))
	mustView(t)(iv.StartRecording(env.Ctx))
	_ = rd.Push([]byte("half"))
	rd.Revoke("track ended")
	v := iv.View()
	if v.Capture.State != capture.StateBlocked {
		t.Fatalf("after revoke %+v", v.Capture)
	}
	rd.Grant()
	v = mustView(t)(iv.AcquireDevice(env.Ctx))
	if v.Capture.State != capture.StateReviewing || v.Capture.ReviewBytes != 4 {
		t.Fatalf("after reacquire %+v", v.Capture)
	}
	if _, _, err := iv.Accept(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if acq, rel := rd.Counts(); acq != 2 || rel != 2 {
		t.Fatalf("acquired %d released %d", acq, rel)
	}
	seen := map[string]bool{}
	for _, ev := range iv.Feed().Since(0) {
		seen[ev.Type] = true
	}
	for _, want := range []string{events.StepChanged, events.CaptureState, events.CaptureDeviceError, events.ArtifactAccepted, events.InterviewCompleted} {
		if !seen[want] {
			t.Fatalf("feed missing %s: %v", want, seen)
		}
	}
}
