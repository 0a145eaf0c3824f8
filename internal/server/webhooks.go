package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"videointerview/internal/config"
	"videointerview/internal/domain"
	"videointerview/internal/engine"
	"videointerview/internal/logger"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   *engine.Engine
	webhooks []config.Webhook
	client   *http.Client
	interval time.Duration
	log      *logger.Logger
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhooks delivers logged events to the configured webhooks until ctx
// is done. Delivery starts from the newest event at startup.
func StartWebhooks(ctx context.Context, e *engine.Engine) {
	d := newWebhookDispatcher(e)
	if d == nil {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(e *engine.Engine) *webhookDispatcher {
	if e == nil || e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	return &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		interval: defaultWebhookInterval,
		log:      logger.Named("webhooks"),
		cursors:  make(map[int]int64),
	}
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if !hook.Active() {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.Webhook) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, "")
	if err != nil {
		d.log.Error().Err(err).Msg("fetch events failed")
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.log.Warn().Err(err).Str("url", hook.URL).Int64("event_id", evt.ID).Msg("webhook delivery failed")
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("init cursor failed")
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	InterviewID string          `json:"interview_id,omitempty"`
	TS          string          `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
	PayloadRaw  string          `json:"payload_raw,omitempty"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	body := webhookEvent{
		ID:          evt.ID,
		Type:        evt.Type,
		InterviewID: evt.InterviewID,
		TS:          evt.TS,
		Payload:     payload,
		PayloadRaw:  raw,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Interview-Event", evt.Type)
	req.Header.Set("X-Interview-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.InterviewID != "" {
		req.Header.Set("X-Interview-Id", evt.InterviewID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Interview-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// eventFilter matches exact event types and "prefix.*" patterns.
type eventFilter struct {
	all      bool
	set      map[string]struct{}
	prefixes []string
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	var prefixes []string
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		if key == "*" {
			return eventFilter{all: true}
		}
		if strings.HasSuffix(key, ".*") {
			prefixes = append(prefixes, strings.TrimSuffix(key, "*"))
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 && len(prefixes) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set, prefixes: prefixes}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(evt, p) {
			return true
		}
	}
	return false
}
