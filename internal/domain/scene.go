package domain

import (
	"errors"
	"fmt"
	"time"
)

// StageStatus tracks one generation stage (image or audio) of a scene.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// ArtifactKind distinguishes the two generated artifact families.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactAudio ArtifactKind = "audio"
)

// Scene is one unit of story content with independent image and audio stages.
type Scene struct {
	ID              string
	JobID           string
	Index           int
	Text            string
	CharacterPrompt string
	ImageStatus     StageStatus
	AudioStatus     StageStatus
	ImageURL        string
	AudioURL        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Completed reports whether both stages finished successfully.
func (s Scene) Completed() bool {
	return s.ImageStatus == StageCompleted && s.AudioStatus == StageCompleted
}

// SceneID derives the stable scene identifier for a job and scene index.
// The same (job, index) pair always yields the same id.
func SceneID(jobID string, index int) string {
	return fmt.Sprintf("%s:%d", jobID, index)
}

// StageResult is the outcome a generation worker reports for one stage.
type StageResult struct {
	Status StageStatus
	URL    string
}

// Validate rejects results a worker should never report.
func (r StageResult) Validate() error {
	switch r.Status {
	case StageCompleted, StageFailed:
	default:
		return fmt.Errorf("stage status %q is not reportable", r.Status)
	}
	if r.Status == StageCompleted && r.URL == "" {
		return errors.New("completed result requires a url")
	}
	return nil
}
