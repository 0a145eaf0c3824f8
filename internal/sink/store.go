// Package sink persists accepted answers: the payload goes to the artifacts
// directory and an index row goes to the database.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"videointerview/internal/capture"
	"videointerview/internal/domain"
	"videointerview/internal/repo"
)

// Store writes artifacts below Dir/<interview id>/.
type Store struct {
	Dir  string
	Repo repo.Repo
}

// For returns the sink of one interview.
func (s Store) For(interviewID string) capture.Sink {
	return capture.SinkFunc(func(ctx context.Context, a capture.Artifact) error {
		_, err := s.Save(ctx, interviewID, a)
		return err
	})
}

// Save writes the payload and indexes it.
func (s Store) Save(ctx context.Context, interviewID string, a capture.Artifact) (domain.Artifact, error) {
	if interviewID == "" {
		return domain.Artifact{}, fmt.Errorf("interview id is required")
	}
	id := ArtifactID(interviewID, a.QuestionIndex)
	if _, err := s.Repo.GetArtifact(ctx, id); err == nil {
		return domain.Artifact{}, fmt.Errorf("question %d of interview %s already has an artifact", a.QuestionIndex+1, interviewID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Artifact{}, err
	}
	dir := filepath.Join(s.Dir, interviewID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	name := filepath.Base(a.SuggestedName)
	path := filepath.Join(dir, name)
	if err := writeFileAtomic(path, a.Payload); err != nil {
		return domain.Artifact{}, err
	}
	row := domain.Artifact{
		ID:            id,
		InterviewID:   interviewID,
		QuestionIndex: a.QuestionIndex,
		Name:          name,
		SizeBytes:     a.SizeBytes,
		Path:          path,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := s.Repo.InsertArtifact(ctx, row); err != nil {
		_ = os.Remove(path)
		return domain.Artifact{}, fmt.Errorf("index artifact: %w", err)
	}
	return row, nil
}

// ArtifactID is stable per interview and question.
func ArtifactID(interviewID string, questionIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(interviewID+"|"+strconv.Itoa(questionIndex))).String()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("move artifact: %w", err)
	}
	return nil
}
