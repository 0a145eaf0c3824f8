package engine

import (
	"sync"
	"time"
)

// FeedEvent is a sequenced display notification for one interview.
type FeedEvent struct {
	Seq         int64     `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	InterviewID string    `json:"interviewId"`
	Type        string    `json:"type"`
	Step        string    `json:"step,omitempty"`
	State       string    `json:"state,omitempty"`
	Question    int       `json:"question,omitempty"`
	Elapsed     int       `json:"elapsed,omitempty"`
	ElapsedText string    `json:"elapsedText,omitempty"`
	Artifact    string    `json:"artifact,omitempty"`
	Bytes       int64     `json:"bytes,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Feed stores recent events and provides incremental reads.
type Feed struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []FeedEvent
	notify    chan struct{}
}

// NewFeed creates a bounded in-memory event buffer.
func NewFeed(maxEvents int) *Feed {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Feed{
		maxEvents: maxEvents,
		events:    make([]FeedEvent, 0, maxEvents),
		notify:    make(chan struct{}),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (f *Feed) Publish(ev FeedEvent) FeedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextSeq++
	ev.Seq = f.nextSeq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	f.events = append(f.events, ev)
	if len(f.events) > f.maxEvents {
		trim := len(f.events) - f.maxEvents
		f.events = append([]FeedEvent(nil), f.events[trim:]...)
	}
	close(f.notify)
	f.notify = make(chan struct{})
	return ev
}

// Since returns events with sequence strictly greater than seq.
func (f *Feed) Since(seq int64) []FeedEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]FeedEvent, 0, len(f.events))
	for _, ev := range f.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Changed returns a channel closed on the next Publish.
func (f *Feed) Changed() <-chan struct{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.notify
}
