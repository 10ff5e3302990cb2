package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyloom/internal/domain"
)

// TrackerPG implements domain.Tracker on PostgreSQL. Mutations that can move
// the completion count run inside a transaction holding the job row lock, so
// recomputation is serialized per job while unrelated jobs stay unblocked.
type TrackerPG struct {
	pool *pgxpool.Pool
}

var _ domain.Tracker = (*TrackerPG)(nil)

// NewTrackerPG creates a tracker backed by PostgreSQL.
func NewTrackerPG(pool *pgxpool.Pool) *TrackerPG {
	return &TrackerPG{pool: pool}
}

// CreateJob inserts a job in the initializing state. A caller-supplied id that
// already exists fails with domain.ErrAlreadyExists.
func (r *TrackerPG) CreateJob(ctx context.Context, seed domain.JobSeed) (*domain.Job, error) {
	id := seed.ID
	if id == "" {
		id = uuid.NewString()
	}
	query := `
INSERT INTO jobs (id, status)
VALUES ($1, $2)
RETURNING id, status, title, total_scenes, completed_scenes, fail_reason, created_at, updated_at;
`
	job, err := scanJob(r.pool.QueryRow(ctx, query, id, domain.JobStatusInitializing))
	if err != nil {
		return nil, mapPGError(err)
	}
	return job, nil
}

// SetJobMetadata stores the title and expected scene total, then recomputes
// the derived counters under the job lock. Calling again overwrites.
func (r *TrackerPG) SetJobMetadata(ctx context.Context, jobID, title string, totalScenes int) (*domain.Job, error) {
	if totalScenes < 0 {
		return nil, fmt.Errorf("%w: total scenes %d", domain.ErrMalformed, totalScenes)
	}
	var job *domain.Job
	err := r.withJobLock(ctx, jobID, func(tx pgx.Tx) error {
		query := `
UPDATE jobs
SET title = $2,
    total_scenes = $3,
    status = CASE WHEN status = $4 THEN $5 ELSE status END,
    updated_at = NOW()
WHERE id = $1;
`
		if _, err := tx.Exec(ctx, query, jobID, title, totalScenes, domain.JobStatusInitializing, domain.JobStatusProcessing); err != nil {
			return err
		}
		var err error
		job, err = recomputeJob(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RegisterScene upserts a scene under its deterministic id. Re-registering the
// same (job, index) refreshes the text fields and returns the existing
// identity instead of minting a second one.
func (r *TrackerPG) RegisterScene(ctx context.Context, scene *domain.Scene) (*domain.Scene, error) {
	if scene == nil {
		return nil, errors.New("repo: scene is required")
	}
	if scene.JobID == "" || scene.Index < 0 {
		return nil, fmt.Errorf("%w: scene needs a job id and non-negative index", domain.ErrMalformed)
	}
	id := domain.SceneID(scene.JobID, scene.Index)
	var out *domain.Scene
	err := r.withJobLock(ctx, scene.JobID, func(tx pgx.Tx) error {
		bump := `
UPDATE jobs
SET status = $2, updated_at = NOW()
WHERE id = $1 AND status = $3;
`
		if _, err := tx.Exec(ctx, bump, scene.JobID, domain.JobStatusProcessing, domain.JobStatusInitializing); err != nil {
			return err
		}
		query := `
INSERT INTO scenes (id, job_id, scene_index, scene_text, character_prompt)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id, scene_index) DO UPDATE
SET scene_text = EXCLUDED.scene_text,
    character_prompt = EXCLUDED.character_prompt,
    updated_at = NOW()
RETURNING id, job_id, scene_index, scene_text, character_prompt, image_status, audio_status, image_url, audio_url, created_at, updated_at;
`
		var err error
		out, err = scanScene(tx.QueryRow(ctx, query, id, scene.JobID, scene.Index, scene.Text, scene.CharacterPrompt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReportImageResult records the image stage outcome for a scene.
func (r *TrackerPG) ReportImageResult(ctx context.Context, sceneID string, result domain.StageResult) (*domain.Scene, error) {
	query := `
UPDATE scenes
SET image_status = $2,
    image_url = CASE WHEN $3 = '' THEN image_url ELSE $3 END,
    updated_at = NOW()
WHERE id = $1
RETURNING id, job_id, scene_index, scene_text, character_prompt, image_status, audio_status, image_url, audio_url, created_at, updated_at;
`
	return r.reportStage(ctx, sceneID, query, result)
}

// ReportAudioResult records the audio stage outcome for a scene.
func (r *TrackerPG) ReportAudioResult(ctx context.Context, sceneID string, result domain.StageResult) (*domain.Scene, error) {
	query := `
UPDATE scenes
SET audio_status = $2,
    audio_url = CASE WHEN $3 = '' THEN audio_url ELSE $3 END,
    updated_at = NOW()
WHERE id = $1
RETURNING id, job_id, scene_index, scene_text, character_prompt, image_status, audio_status, image_url, audio_url, created_at, updated_at;
`
	return r.reportStage(ctx, sceneID, query, result)
}

// reportStage applies one stage update under the owning job's lock and then
// recomputes that job from scratch, which keeps redelivered and out-of-order
// reports harmless. Reports for failed jobs still land on the scene row;
// recomputation leaves the failed status alone.
func (r *TrackerPG) reportStage(ctx context.Context, sceneID, query string, result domain.StageResult) (*domain.Scene, error) {
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformed, err)
	}
	var jobID string
	if err := r.pool.QueryRow(ctx, `SELECT job_id FROM scenes WHERE id = $1;`, sceneID).Scan(&jobID); err != nil {
		return nil, mapPGError(err)
	}
	var out *domain.Scene
	err := r.withJobLock(ctx, jobID, func(tx pgx.Tx) error {
		var err error
		out, err = scanScene(tx.QueryRow(ctx, query, sceneID, result.Status, result.URL))
		if err != nil {
			return err
		}
		_, err = recomputeJob(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkJobFailed flips the job to failed and records the reason. Marking an
// absent job is a no-op; marking twice overwrites the reason.
func (r *TrackerPG) MarkJobFailed(ctx context.Context, jobID, reason string) error {
	query := `
UPDATE jobs
SET status = $2, fail_reason = $3, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusFailed, reason)
	return err
}

// GetJob fetches the authoritative job record.
func (r *TrackerPG) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, status, title, total_scenes, completed_scenes, fail_reason, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	job, err := scanJob(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		return nil, mapPGError(err)
	}
	return job, nil
}

// GetScene fetches one scene by its deterministic id.
func (r *TrackerPG) GetScene(ctx context.Context, sceneID string) (*domain.Scene, error) {
	query := `
SELECT id, job_id, scene_index, scene_text, character_prompt, image_status, audio_status, image_url, audio_url, created_at, updated_at
FROM scenes
WHERE id = $1;
`
	scene, err := scanScene(r.pool.QueryRow(ctx, query, sceneID))
	if err != nil {
		return nil, mapPGError(err)
	}
	return scene, nil
}

// ListScenes returns all scenes of a job ordered by scene index.
func (r *TrackerPG) ListScenes(ctx context.Context, jobID string) ([]domain.Scene, error) {
	query := `
SELECT id, job_id, scene_index, scene_text, character_prompt, image_status, audio_status, image_url, audio_url, created_at, updated_at
FROM scenes
WHERE job_id = $1
ORDER BY scene_index ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenes []domain.Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, *scene)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scenes, nil
}

// withJobLock runs fn inside a transaction that holds the job row lock for the
// whole recomputation.
func (r *TrackerPG) withJobLock(ctx context.Context, jobID string, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM jobs WHERE id = $1 FOR UPDATE;`, jobID).Scan(&locked); err != nil {
		return mapPGError(err)
	}
	if err := fn(tx); err != nil {
		return mapPGError(err)
	}
	return tx.Commit(ctx)
}

// recomputeJob rederives completed_scenes and status from the scene rows and
// persists the result. Counting from scratch instead of incrementing is what
// makes at-least-once reporting safe.
func recomputeJob(ctx context.Context, tx pgx.Tx, jobID string) (*domain.Job, error) {
	countQuery := `
SELECT COUNT(*)
FROM scenes
WHERE job_id = $1 AND image_status = $2 AND audio_status = $2;
`
	var completed int
	if err := tx.QueryRow(ctx, countQuery, jobID, domain.StageCompleted).Scan(&completed); err != nil {
		return nil, err
	}
	jobQuery := `
SELECT id, status, title, total_scenes, completed_scenes, fail_reason, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	job, err := scanJob(tx.QueryRow(ctx, jobQuery, jobID))
	if err != nil {
		return nil, err
	}
	status := domain.DeriveJobStatus(job.Status, job.TotalScenes, completed)
	update := `
UPDATE jobs
SET completed_scenes = $2, status = $3, updated_at = NOW()
WHERE id = $1;
`
	if _, err := tx.Exec(ctx, update, jobID, completed, status); err != nil {
		return nil, err
	}
	job.CompletedScenes = completed
	job.Status = status
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Title,
		&job.TotalScenes,
		&job.CompletedScenes,
		&job.FailReason,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

func scanScene(row rowScanner) (*domain.Scene, error) {
	var scene domain.Scene
	if err := row.Scan(
		&scene.ID,
		&scene.JobID,
		&scene.Index,
		&scene.Text,
		&scene.CharacterPrompt,
		&scene.ImageStatus,
		&scene.AudioStatus,
		&scene.ImageURL,
		&scene.AudioURL,
		&scene.CreatedAt,
		&scene.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &scene, nil
}

// mapPGError translates driver errors into domain sentinels.
func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrAlreadyExists
	}
	return err
}
