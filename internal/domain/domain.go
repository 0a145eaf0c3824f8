package domain

// Interview statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusAbandoned  = "abandoned"
)

type Interview struct {
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
}

type Artifact struct {
	ID            string `json:"id"`
	InterviewID   string `json:"interview_id"`
	QuestionIndex int    `json:"question_index"`
	Name          string `json:"name"`
	SizeBytes     int64  `json:"size_bytes"`
	Path          string `json:"path"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	InterviewID string `json:"interview_id,omitempty"`
	Payload     string `json:"payload_json"`
}
