package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the log.
const (
	InterviewStarted   = "interview.started"
	IdentityAccepted   = "interview.identity_accepted"
	StepChanged        = "interview.step_changed"
	InterviewCompleted = "interview.completed"
	InterviewAbandoned = "interview.abandoned"
	CaptureState       = "capture.state"
	CaptureDeviceError = "capture.device_error"
	ArtifactAccepted   = "artifact.accepted"
	ArtifactSinkFailed = "artifact.sink_failed"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event through ex, or through the writer's DB when ex is nil.
func (w Writer) Append(ctx context.Context, ex Execer, evtType, interviewID string, payload EventPayload) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if ex == nil {
		ex = w.DB
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := ex.ExecContext(ctx, `INSERT INTO events(ts,type,interview_id,payload_json) VALUES (?,?,?,?)`,
		ts, evtType, nullable(interviewID), string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
