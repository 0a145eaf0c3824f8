package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"videointerview/internal/capture"
	"videointerview/internal/config"
	"videointerview/internal/domain"
	"videointerview/internal/events"
	"videointerview/internal/interview"
	"videointerview/internal/logger"
	"videointerview/internal/repo"
	"videointerview/internal/sink"
)

var (
	// ErrNotFound is returned for unknown or finished interview ids.
	ErrNotFound = errors.New("interview not found")
	// ErrNoCapture is returned by capture controls outside a capture step.
	ErrNoCapture = errors.New("no capture in progress")
)

// DefaultRetention is how long a completed interview stays viewable.
const DefaultRetention = 15 * time.Minute

// Engine owns the live interviews and the stores behind them. Completed
// interviews are evicted Retention after completion; zero keeps them until
// Abandon.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Store  sink.Store
	Clock  capture.Clock
	Now    func() time.Time
	Log    *logger.Logger

	Retention time.Duration

	mu   sync.Mutex
	live map[string]*Interview
}

// New wires an engine over a migrated database. Artifacts are written to
// artifactsDir.
func New(db *sql.DB, cfg *config.Config, artifactsDir string) *Engine {
	r := repo.Repo{DB: db}
	return &Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Config: cfg,
		Store:  sink.Store{Dir: artifactsDir, Repo: r},
		Clock:  capture.SystemClock{},
		Now:    time.Now,
		Log:    logger.Named("engine"),

		Retention: DefaultRetention,
		live:      make(map[string]*Interview),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) stamp() string { return e.now().UTC().Format(time.RFC3339Nano) }

// Begin starts a new interview at the identity step. dev is the camera the
// interview's capture steps acquire.
func (e *Engine) Begin(ctx context.Context, dev capture.Device) (*Interview, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	if dev == nil {
		return nil, errors.New("capture device is required")
	}
	id := uuid.NewString()
	log := e.Log.With().Str("interview_id", id).Logger()
	prompts := e.Config.Prompts()
	iv := &Interview{
		ID:  id,
		eng: e,
		orch: interview.New(prompts, interview.Options{
			RequirePlaybackEnd: e.Config.Capture.RequirePlaybackEnd,
			Logger:             &log,
		}),
		dev:  dev,
		sink: e.Store.For(id),
		feed: NewFeed(0),
		log:  &log,
	}
	now := e.stamp()
	row := domain.Interview{
		ID:        id,
		Status:    domain.StatusInProgress,
		Step:      string(interview.KindIdentity),
		Questions: len(prompts),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertInterview(ctx, row); err != nil {
		return nil, fmt.Errorf("insert interview: %w", err)
	}
	iv.record(ctx, events.InterviewStarted, events.EventPayload{"questions": len(prompts)})
	iv.feed.Publish(FeedEvent{InterviewID: id, Type: events.InterviewStarted, Step: row.Step})

	e.mu.Lock()
	e.sweepLocked()
	e.live[id] = iv
	e.mu.Unlock()
	log.Info().Int("questions", len(prompts)).Msg("interview started")
	return iv, nil
}

// Get returns a live interview.
func (e *Engine) Get(id string) (*Interview, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked()
	iv, ok := e.live[id]
	if !ok {
		return nil, ErrNotFound
	}
	return iv, nil
}

// Live lists the ids of interviews held in memory.
func (e *Engine) Live() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked()
	ids := make([]string, 0, len(e.live))
	for id := range e.live {
		ids = append(ids, id)
	}
	return ids
}

// Abandon tears down a live interview and releases its device.
func (e *Engine) Abandon(ctx context.Context, id string) error {
	iv, err := e.Get(id)
	if err != nil {
		return err
	}
	iv.abandon(ctx)
	e.forget(id)
	return nil
}

// Shutdown abandons every live interview.
func (e *Engine) Shutdown(ctx context.Context) {
	for _, id := range e.Live() {
		_ = e.Abandon(ctx, id)
	}
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.live, id)
	e.mu.Unlock()
}

// sweepLocked drops interviews completed more than Retention ago. Their rows
// stay in the database. e.mu must be held.
func (e *Engine) sweepLocked() {
	if e.Retention <= 0 {
		return
	}
	cutoff := e.now().Add(-e.Retention).UnixNano()
	for id, iv := range e.live {
		if at := iv.completedAt.Load(); at != 0 && at <= cutoff {
			delete(e.live, id)
			e.Log.Debug().Str("interview_id", id).Msg("completed interview evicted")
		}
	}
}
