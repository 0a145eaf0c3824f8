// Package logger wraps zerolog with the defaults used across the interview
// services and a context-scoped child logger.
package logger

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger is the project-wide logging type.
type Logger = zerolog.Logger

// Options configures the logger.
type Options struct {
	Level      string
	Format     string
	Service    string
	Writer     io.Writer
	WithCaller bool
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_SERVICE and LOG_CALLER.
// It does not go through the config package so config can log.
func FromEnv() Options {
	caller, _ := strconv.ParseBool(os.Getenv("LOG_CALLER"))
	return Options{
		Level:      strings.ToLower(envOr("LOG_LEVEL", "info")),
		Format:     strings.ToLower(envOr("LOG_FORMAT", "console")),
		Service:    os.Getenv("LOG_SERVICE"),
		WithCaller: caller,
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

var (
	once   sync.Once
	root   atomic.Pointer[zerolog.Logger]
	inited atomic.Bool
)

// New builds a standalone logger from opt without touching the root logger.
func New(opt Options) Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if opt.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp()
	if opt.Service != "" {
		ctx = ctx.Str("service", opt.Service)
	}
	log := ctx.Logger()
	if opt.WithCaller {
		log = log.With().Caller().Logger()
	}
	return log
}

// Init configures the root logger, only the first call has an effect.
func Init(opt Options) {
	once.Do(func() {
		log := New(opt)
		root.Store(&log)
		inited.Store(true)
	})
}

// Get returns the process-wide root logger.
func Get() *Logger {
	if !inited.Load() {
		Init(FromEnv())
	}
	return root.Load()
}

// Named returns a child of the root logger with a component field.
func Named(component string) *Logger {
	if component == "" {
		return Get()
	}
	ll := Get().With().Str("component", component).Logger()
	return &ll
}

// Nop returns a disabled logger, handy in tests.
func Nop() *Logger {
	l := zerolog.Nop()
	return &l
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

type ctxKey struct{}

// WithInterview annotates ctx with the interview id used by With.
func WithInterview(ctx context.Context, interviewID string) context.Context {
	if interviewID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, interviewID)
}

// With returns a child of base enriched from ctx. A nil base uses the root logger.
func With(ctx context.Context, base *Logger) *Logger {
	if base == nil {
		base = Get()
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	if id == "" {
		return base
	}
	ll := base.With().Str("interview_id", id).Logger()
	return &ll
}
