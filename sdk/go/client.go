package interviewsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal video interview HTTP API client. It drives one
// interview the way the browser front-end does.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Capture is the capture panel of an interview view (partial).
type Capture struct {
	State         string `json:"state"`
	QuestionIndex int    `json:"questionIndex"`
	Elapsed       int    `json:"elapsed"`
	ElapsedText   string `json:"elapsedText"`
	CanRecord     bool   `json:"canRecord"`
	CanStop       bool   `json:"canStop"`
	CanReview     bool   `json:"canReview"`
	ReviewBytes   int64  `json:"reviewBytes"`
	DeviceError   string `json:"deviceError,omitempty"`
}

// Receipt describes an accepted answer.
type Receipt struct {
	Name          string `json:"name"`
	SizeBytes     int64  `json:"sizeBytes"`
	QuestionIndex int    `json:"questionIndex"`
	CreatedAt     string `json:"createdAt"`
	SinkError     string `json:"sinkError,omitempty"`
}

// Summary is set once the interview is complete.
type Summary struct {
	CandidateName string `json:"candidateName"`
	Answered      int    `json:"answered"`
	Total         int    `json:"total"`
}

// Interview is the API interview view (partial).
type Interview struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Step     string `json:"step"`
	VideoRef string `json:"videoRef"`
	Question *struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	} `json:"question,omitempty"`
	Capture *Capture  `json:"capture,omitempty"`
	Answers []Receipt `json:"answers"`
	Summary *Summary  `json:"summary,omitempty"`
}

// Artifact is an accepted recording indexed by the server.
type Artifact struct {
	ID            string `json:"id"`
	InterviewID   string `json:"interview_id"`
	QuestionIndex int    `json:"question_index"`
	Name          string `json:"name"`
	SizeBytes     int64  `json:"size_bytes"`
	CreatedAt     string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	InterviewID string         `json:"interview_id"`
	Payload     map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Start creates an interview.
func (c *Client) Start(ctx context.Context) (Interview, error) {
	var resp Interview
	err := c.do(ctx, http.MethodPost, "v0/interviews", nil, &resp)
	return resp, err
}

// Get returns the current view of an interview.
func (c *Client) Get(ctx context.Context, id string) (Interview, error) {
	var resp Interview
	err := c.do(ctx, http.MethodGet, c.interviewPath(id, ""), nil, &resp)
	return resp, err
}

// Abandon releases the interview's device and drops it from the server.
func (c *Client) Abandon(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.interviewPath(id, ""), nil, nil)
}

// SubmitIdentity posts the identity form.
func (c *Client) SubmitIdentity(ctx context.Context, id, fullName, email string) (Interview, error) {
	body := map[string]any{
		"fullName": fullName,
		"email":    email,
	}
	var resp Interview
	err := c.do(ctx, http.MethodPost, c.interviewPath(id, "identity"), body, &resp)
	return resp, err
}

// PlaybackEnded reports that the clip on screen finished.
func (c *Client) PlaybackEnded(ctx context.Context, id string) (Interview, error) {
	return c.post(ctx, id, "playback/ended", nil)
}

// Continue leaves the current playback step.
func (c *Client) Continue(ctx context.Context, id string) (Interview, error) {
	return c.post(ctx, id, "continue", nil)
}

// ReportPermission forwards the browser's camera prompt outcome.
func (c *Client) ReportPermission(ctx context.Context, id string, granted bool, reason string) (Interview, error) {
	return c.post(ctx, id, "capture/device", map[string]any{"granted": granted, "reason": reason})
}

// ReportDeviceEnded tells the server the camera stream is gone.
func (c *Client) ReportDeviceEnded(ctx context.Context, id, reason string) (Interview, error) {
	return c.post(ctx, id, "capture/device/ended", map[string]any{"reason": reason})
}

// UploadChunk sends one recorder chunk.
func (c *Client) UploadChunk(ctx context.Context, id string, chunk []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/"+c.interviewPath(id, "capture/chunks"), bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.send(req, nil)
}

// StartRecording begins a take.
func (c *Client) StartRecording(ctx context.Context, id string) (Interview, error) {
	return c.post(ctx, id, "capture/start", nil)
}

// StopRecording ends the take.
func (c *Client) StopRecording(ctx context.Context, id string) (Interview, error) {
	return c.post(ctx, id, "capture/stop", nil)
}

// Retry discards the reviewed take.
func (c *Client) Retry(ctx context.Context, id string) (Interview, error) {
	return c.post(ctx, id, "capture/retry", nil)
}

// Accept submits the reviewed take.
func (c *Client) Accept(ctx context.Context, id string) (Receipt, Interview, error) {
	var resp struct {
		Receipt   Receipt   `json:"receipt"`
		Interview Interview `json:"interview"`
	}
	err := c.do(ctx, http.MethodPost, c.interviewPath(id, "capture/accept"), nil, &resp)
	return resp.Receipt, resp.Interview, err
}

// Artifacts lists accepted artifacts, optionally for one interview.
func (c *Client) Artifacts(ctx context.Context, interviewID string) ([]Artifact, error) {
	endpoint := "v0/artifacts"
	if interviewID != "" {
		endpoint += "?interview_id=" + url.QueryEscape(interviewID)
	}
	var resp []Artifact
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Download returns an artifact payload.
func (c *Client) Download(ctx context.Context, artifactID string) ([]byte, error) {
	endpoint := fmt.Sprintf("v0/artifacts/%s/content", url.PathEscape(artifactID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/"+endpoint, nil)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := c.send(req, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, interviewID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if interviewID != "" {
		q.Set("interview_id", interviewID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) post(ctx context.Context, id, action string, body any) (Interview, error) {
	var resp Interview
	err := c.do(ctx, http.MethodPost, c.interviewPath(id, action), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if out == nil {
		return c.send(req, nil)
	}
	var raw bytes.Buffer
	if err := c.send(req, &raw); err != nil {
		return err
	}
	if raw.Len() == 0 {
		return nil
	}
	return json.Unmarshal(raw.Bytes(), out)
}

func (c *Client) send(req *http.Request, out io.Writer) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		_, err = io.Copy(out, resp.Body)
		return err
	}
	return nil
}

func (c *Client) interviewPath(id, action string) string {
	p := fmt.Sprintf("v0/interviews/%s", url.PathEscape(id))
	if action != "" {
		p += "/" + strings.TrimLeft(action, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
