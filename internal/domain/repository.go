package domain

import "context"

// Tracker is the authoritative state machine for story jobs and their scenes.
// Report methods are idempotent: redelivering the same result never corrupts
// counters, and results arriving for a failed job are still recorded.
type Tracker interface {
	CreateJob(ctx context.Context, seed JobSeed) (*Job, error)
	SetJobMetadata(ctx context.Context, jobID, title string, totalScenes int) (*Job, error)
	RegisterScene(ctx context.Context, scene *Scene) (*Scene, error)
	ReportImageResult(ctx context.Context, sceneID string, result StageResult) (*Scene, error)
	ReportAudioResult(ctx context.Context, sceneID string, result StageResult) (*Scene, error)
	MarkJobFailed(ctx context.Context, jobID, reason string) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetScene(ctx context.Context, sceneID string) (*Scene, error)
	ListScenes(ctx context.Context, jobID string) ([]Scene, error)
}

// SavedStoryStore is the account-side story catalog consulted during
// migration. Account ownership itself lives in a separate service; this
// backend only needs existence checks and inserts.
type SavedStoryStore interface {
	Has(ctx context.Context, storyID string) (bool, error)
	Save(ctx context.Context, story *ReconstructedStory) error
}
