package server

import (
	"encoding/json"

	"videointerview/internal/capture"
	"videointerview/internal/domain"
	"videointerview/internal/engine"
)

// Request payloads

type IdentityRequest struct {
	FullName string `json:"fullName" doc:"Candidate full name"`
	Email    string `json:"email" doc:"Candidate email"`
}

type DevicePermissionRequest struct {
	Granted bool   `json:"granted" doc:"Outcome of the browser permission prompt"`
	Reason  string `json:"reason,omitempty" doc:"Error name reported by the browser on refusal" example:"NotAllowedError"`
}

type DeviceEndedRequest struct {
	Reason string `json:"reason,omitempty" example:"track ended"`
}

// Response payloads

type AcceptResponse struct {
	Receipt   capture.Receipt `json:"receipt"`
	Interview engine.View     `json:"interview"`
}

type ChunkResponse struct {
	Bytes int `json:"bytes"`
}

type InterviewResponse struct {
	ID             string  `json:"id"`
	CandidateName  string  `json:"candidate_name,omitempty"`
	CandidateEmail string  `json:"candidate_email,omitempty"`
	Status         string  `json:"status" enum:"in_progress,completed,abandoned"`
	Step           string  `json:"step"`
	Questions      int     `json:"questions"`
	Answered       int     `json:"answered"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
	Live           bool    `json:"live"`
}

type ArtifactResponse struct {
	ID            string `json:"id"`
	InterviewID   string `json:"interview_id"`
	QuestionIndex int    `json:"question_index"`
	Name          string `json:"name"`
	SizeBytes     int64  `json:"size_bytes"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID          int64           `json:"id"`
	TS          string          `json:"ts" format:"date-time"`
	Type        string          `json:"type"`
	InterviewID string          `json:"interview_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type FeedResponse struct {
	Items []engine.FeedEvent `json:"items"`
	Last  int64              `json:"last"`
}

func interviewResponse(iv domain.Interview, live bool) InterviewResponse {
	return InterviewResponse{
		ID:             iv.ID,
		CandidateName:  iv.CandidateName,
		CandidateEmail: iv.CandidateEmail,
		Status:         iv.Status,
		Step:           iv.Step,
		Questions:      iv.Questions,
		Answered:       iv.Answered,
		CreatedAt:      iv.CreatedAt,
		UpdatedAt:      iv.UpdatedAt,
		CompletedAt:    iv.CompletedAt,
		Live:           live,
	}
}

func artifactResponse(a domain.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ID:            a.ID,
		InterviewID:   a.InterviewID,
		QuestionIndex: a.QuestionIndex,
		Name:          a.Name,
		SizeBytes:     a.SizeBytes,
		CreatedAt:     a.CreatedAt,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:          evt.ID,
		TS:          evt.TS,
		Type:        evt.Type,
		InterviewID: evt.InterviewID,
		Payload:     payload,
	}
}
