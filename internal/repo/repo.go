package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"videointerview/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const interviewCols = `id,COALESCE(candidate_name,''),COALESCE(candidate_email,''),status,step,questions,answered,created_at,updated_at,completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanInterview(row scanner) (domain.Interview, error) {
	var iv domain.Interview
	var completed sql.NullString
	err := row.Scan(&iv.ID, &iv.CandidateName, &iv.CandidateEmail, &iv.Status, &iv.Step, &iv.Questions, &iv.Answered, &iv.CreatedAt, &iv.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return iv, ErrNotFound
	}
	if completed.Valid {
		iv.CompletedAt = &completed.String
	}
	return iv, err
}

func (r Repo) InsertInterview(ctx context.Context, iv domain.Interview) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO interviews(id,candidate_name,candidate_email,status,step,questions,answered,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		iv.ID, nullable(iv.CandidateName), nullable(iv.CandidateEmail), iv.Status, iv.Step, iv.Questions, iv.Answered, iv.CreatedAt, iv.UpdatedAt)
	return err
}

func (r Repo) GetInterview(ctx context.Context, id string) (domain.Interview, error) {
	return scanInterview(r.DB.QueryRowContext(ctx, `SELECT `+interviewCols+` FROM interviews WHERE id=?`, id))
}

// InterviewUpdate lists the columns to change; nil fields are left alone.
type InterviewUpdate struct {
	CandidateName  *string
	CandidateEmail *string
	Status         *string
	Step           *string
	Answered       *int
	CompletedAt    *string
	UpdatedAt      string
}

func (r Repo) UpdateInterview(ctx context.Context, id string, u InterviewUpdate) error {
	var (
		fields []string
		args   []any
	)
	add := func(col string, v any) {
		fields = append(fields, col+"=?")
		args = append(args, v)
	}
	if u.CandidateName != nil {
		add("candidate_name", *u.CandidateName)
	}
	if u.CandidateEmail != nil {
		add("candidate_email", *u.CandidateEmail)
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.Step != nil {
		add("step", *u.Step)
	}
	if u.Answered != nil {
		add("answered", *u.Answered)
	}
	if u.CompletedAt != nil {
		add("completed_at", *u.CompletedAt)
	}
	if len(fields) == 0 {
		return nil
	}
	if u.UpdatedAt != "" {
		add("updated_at", u.UpdatedAt)
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE interviews SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type InterviewFilters struct {
	Status string
	Limit  int
}

func (r Repo) ListInterviews(ctx context.Context, f InterviewFilters) ([]domain.Interview, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM interviews WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`, interviewCols, strings.Join(clauses, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, iv)
	}
	return res, rows.Err()
}

// InsertArtifact records an accepted answer. A second artifact for the same
// question of an interview is rejected by the schema.
func (r Repo) InsertArtifact(ctx context.Context, a domain.Artifact) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO artifacts(id,interview_id,question_index,name,size_bytes,path,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.InterviewID, a.QuestionIndex, a.Name, a.SizeBytes, a.Path, a.CreatedAt)
	return err
}

func (r Repo) ListArtifacts(ctx context.Context, interviewID string) ([]domain.Artifact, error) {
	query := `SELECT id,interview_id,question_index,name,size_bytes,path,created_at FROM artifacts`
	var args []any
	if interviewID != "" {
		query += ` WHERE interview_id=?`
		args = append(args, interviewID)
	}
	query += ` ORDER BY created_at ASC, question_index ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.ID, &a.InterviewID, &a.QuestionIndex, &a.Name, &a.SizeBytes, &a.Path, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	var a domain.Artifact
	err := r.DB.QueryRowContext(ctx, `SELECT id,interview_id,question_index,name,size_bytes,path,created_at FROM artifacts WHERE id=?`, id).
		Scan(&a.ID, &a.InterviewID, &a.QuestionIndex, &a.Name, &a.SizeBytes, &a.Path, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, interviewID, evtType string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, interviewID, evtType)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, interviewID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if interviewID != "" {
		clauses = append(clauses, "interview_id=?")
		args = append(args, interviewID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,interview_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, interviewID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if interviewID != "" {
		clauses = append(clauses, "interview_id=?")
		args = append(args, interviewID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,interview_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var interviewID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &interviewID, &payload); err != nil {
			return nil, err
		}
		e.InterviewID = interviewID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
