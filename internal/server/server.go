package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"videointerview/internal/capture"
	"videointerview/internal/device"
	"videointerview/internal/engine"
	"videointerview/internal/interview"
	"videointerview/internal/logger"
	"videointerview/internal/repo"
)

// maxChunkBytes bounds one recorder chunk upload.
const maxChunkBytes = 16 << 20

// Config for the HTTP API handler.
type Config struct {
	Engine      *engine.Engine
	BasePath    string
	CORSOrigins []string
	// NewDevice returns the camera of a new interview. Defaults to a
	// browser-driven device.Remote.
	NewDevice func() capture.Device
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"stop not allowed in state ready"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the interview API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.NewDevice == nil {
		cfg.NewDevice = func() capture.Device { return device.NewRemote() }
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	router.Use(requestLogger(logger.Named("http")))

	hcfg := huma.DefaultConfig("Video Interview API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerInterviews(group, cfg.Engine, cfg.NewDevice)
	registerCapture(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerArtifacts(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *interview.ValidationError
	if errors.As(err, &ve) {
		details := make(map[string]any, len(ve.Fields))
		for k, v := range ve.Fields {
			details[k] = v
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), details)
	}
	var ie *capture.InvariantError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"op": ie.Op, "state": string(ie.State)})
	}
	var ue *interview.UnexpectedEventError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"event": ue.Event, "step": ue.Step.String()})
	}
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, capture.ErrDeviceAccess):
		return newAPIError(http.StatusConflict, "device_access", err.Error(), nil)
	case errors.Is(err, capture.ErrTooShort):
		return newAPIError(http.StatusConflict, "too_short", err.Error(), nil)
	case errors.Is(err, interview.ErrContinueLocked),
		errors.Is(err, interview.ErrNoPrompts),
		errors.Is(err, engine.ErrNoCapture),
		errors.Is(err, capture.ErrClosed),
		errors.Is(err, device.ErrNotRecording):
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post, item.Delete} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{Description: "Error"}
		}
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type interviewPath struct {
	ID string `path:"id"`
}

type viewOutput struct {
	Body engine.View `json:"body"`
}

func viewResult(v engine.View, err error) (*viewOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &viewOutput{Body: v}, nil
}

func registerInterviews(api huma.API, e *engine.Engine, newDevice func() capture.Device) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-interview",
		Method:        http.MethodPost,
		Path:          "/interviews",
		Summary:       "Start an interview",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*viewOutput, error) {
		iv, err := e.Begin(ctx, newDevice())
		if err != nil {
			return nil, handleError(err)
		}
		return &viewOutput{Body: iv.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-interviews",
		Method:      http.MethodGet,
		Path:        "/interviews",
		Summary:     "List interviews",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"in_progress, completed or abandoned"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []InterviewResponse `json:"body"`
	}, error) {
		rows, err := e.Repo.ListInterviews(ctx, repo.InterviewFilters{Status: input.Status, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		live := map[string]bool{}
		for _, id := range e.Live() {
			live[id] = true
		}
		out := make([]InterviewResponse, 0, len(rows))
		for _, r := range rows {
			out = append(out, interviewResponse(r, live[r.ID]))
		}
		return &struct {
			Body []InterviewResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-interview",
		Method:      http.MethodGet,
		Path:        "/interviews/{id}",
		Summary:     "Current interview view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *interviewPath) (*viewOutput, error) {
		iv, err := e.Get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &viewOutput{Body: iv.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "abandon-interview",
		Method:        http.MethodDelete,
		Path:          "/interviews/{id}",
		Summary:       "Abandon an interview and release its device",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *interviewPath) (*struct{}, error) {
		if err := e.Abandon(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-identity",
		Method:      http.MethodPost,
		Path:        "/interviews/{id}/identity",
		Summary:     "Submit the candidate identity form",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body IdentityRequest
	}) (*viewOutput, error) {
		iv, err := e.Get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return viewResult(iv.SubmitIdentity(ctx, input.Body.FullName, input.Body.Email))
	})

	step := func(id, p, summary string, fn func(*engine.Interview, context.Context) (engine.View, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        p,
			Summary:     summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *interviewPath) (*viewOutput, error) {
			iv, err := e.Get(input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return viewResult(fn(iv, ctx))
		})
	}
	step("playback-ended", "/interviews/{id}/playback/ended", "Report the end of the clip on screen", (*engine.Interview).PlaybackEnded)
	step("continue", "/interviews/{id}/continue", "Leave the current playback step", (*engine.Interview).Continue)
}

func registerCapture(api huma.API, e *engine.Engine) {
	remote := func(id string) (*engine.Interview, *device.Remote, error) {
		iv, err := e.Get(id)
		if err != nil {
			return nil, nil, err
		}
		rd, ok := iv.Device().(*device.Remote)
		if !ok {
			return nil, nil, fmt.Errorf("%w: interview device is not browser-driven", engine.ErrNoCapture)
		}
		return iv, rd, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "report-device-permission",
		Method:      http.MethodPost,
		Path:        "/interviews/{id}/capture/device",
		Summary:     "Report the camera permission outcome and acquire the device",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body DevicePermissionRequest
	}) (*viewOutput, error) {
		iv, rd, err := remote(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Granted {
			rd.Grant()
		} else {
			rd.Deny(input.Body.Reason)
		}
		return viewResult(iv.AcquireDevice(ctx))
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-device-ended",
		Method:      http.MethodPost,
		Path:        "/interviews/{id}/capture/device/ended",
		Summary:     "Report that the camera stream ended or permission was revoked",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body DeviceEndedRequest
	}) (*viewOutput, error) {
		iv, rd, err := remote(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		reason := input.Body.Reason
		if reason == "" {
			reason = "track ended"
		}
		rd.Revoke(reason)
		return &viewOutput{Body: iv.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "upload-chunk",
		Method:       http.MethodPost,
		Path:         "/interviews/{id}/capture/chunks",
		Summary:      "Upload one recorder chunk",
		MaxBodyBytes: maxChunkBytes,
		Errors:       []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		RawBody []byte
	}) (*struct {
		Body ChunkResponse `json:"body"`
	}, error) {
		_, rd, err := remote(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := rd.Push(input.RawBody); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChunkResponse `json:"body"`
		}{Body: ChunkResponse{Bytes: len(input.RawBody)}}, nil
	})

	control := func(id, p, summary string, fn func(*engine.Interview, context.Context) (engine.View, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        p,
			Summary:     summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *interviewPath) (*viewOutput, error) {
			iv, err := e.Get(input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return viewResult(fn(iv, ctx))
		})
	}
	control("start-recording", "/interviews/{id}/capture/start", "Start recording", (*engine.Interview).StartRecording)
	control("stop-recording", "/interviews/{id}/capture/stop", "Stop recording and review", (*engine.Interview).StopRecording)
	control("retry-recording", "/interviews/{id}/capture/retry", "Discard the reviewed take", (*engine.Interview).Retry)

	huma.Register(api, huma.Operation{
		OperationID: "accept-recording",
		Method:      http.MethodPost,
		Path:        "/interviews/{id}/capture/accept",
		Summary:     "Accept the reviewed take and advance",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *interviewPath) (*struct {
		Body AcceptResponse `json:"body"`
	}, error) {
		iv, err := e.Get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		rec, v, err := iv.Accept(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptResponse `json:"body"`
		}{Body: AcceptResponse{Receipt: rec, Interview: v}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "interview-feed",
		Method:      http.MethodGet,
		Path:        "/interviews/{id}/feed",
		Summary:     "Display events after a sequence number",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Since int64  `query:"since"`
		Wait  int    `query:"wait" doc:"Seconds to wait for a new event when none is pending" maximum:"30"`
	}) (*struct {
		Body FeedResponse `json:"body"`
	}, error) {
		iv, err := e.Get(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		feed := iv.Feed()
		changed := feed.Changed()
		items := feed.Since(input.Since)
		if len(items) == 0 && input.Wait > 0 {
			select {
			case <-changed:
				items = feed.Since(input.Since)
			case <-time.After(time.Duration(input.Wait) * time.Second):
			case <-ctx.Done():
			}
		}
		last := input.Since
		if n := len(items); n > 0 {
			last = items[n-1].Seq
		}
		return &struct {
			Body FeedResponse `json:"body"`
		}{Body: FeedResponse{Items: items, Last: last}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent logged events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		InterviewID string `query:"interview_id"`
		Type        string `query:"type"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.InterviewID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerArtifacts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/artifacts",
		Summary:     "List accepted artifacts",
	}, func(ctx context.Context, input *struct {
		InterviewID string `query:"interview_id"`
	}) (*struct {
		Body []ArtifactResponse `json:"body"`
	}, error) {
		rows, err := e.Repo.ListArtifacts(ctx, input.InterviewID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ArtifactResponse, 0, len(rows))
		for _, a := range rows {
			out = append(out, artifactResponse(a))
		}
		return &struct {
			Body []ArtifactResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-artifact",
		Method:      http.MethodGet,
		Path:        "/artifacts/{id}/content",
		Summary:     "Download an artifact payload",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *interviewPath) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		a, err := e.Repo.GetArtifact(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := os.Open(a.Path)
		if err != nil {
			return nil, handleError(err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "video/webm",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", a.Name),
			Body:               data,
		}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
