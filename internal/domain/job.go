package domain

import "time"

// JobStatus enumerates story job lifecycle states.
type JobStatus string

const (
	JobStatusInitializing JobStatus = "initializing"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// Job is the authoritative record of one story generation run.
// CompletedScenes is always recomputed from scene rows, never incremented.
type Job struct {
	ID              string
	Status          JobStatus
	Title           string
	TotalScenes     int
	CompletedScenes int
	FailReason      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobSeed is the initial context supplied when a job is created.
type JobSeed struct {
	ID         string // optional; generated when empty
	GradeLevel string
	Locale     string
	SourceName string
}

// DeriveJobStatus recomputes the status implied by the scene counters.
// Failed is sticky; completion requires a known total matched by the
// completed count. A job stays initializing until metadata or a scene
// moves it forward.
func DeriveJobStatus(current JobStatus, totalScenes, completedScenes int) JobStatus {
	switch {
	case current == JobStatusFailed:
		return JobStatusFailed
	case totalScenes > 0 && completedScenes >= totalScenes:
		return JobStatusCompleted
	case current == JobStatusInitializing:
		return JobStatusInitializing
	default:
		return JobStatusProcessing
	}
}
