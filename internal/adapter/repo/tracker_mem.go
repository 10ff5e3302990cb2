package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyloom/internal/domain"
)

// TrackerMem is an in-memory Tracker for tests and development runs without a
// database. Each job carries its own mutex, mirroring the per-row lock of the
// Postgres implementation: one job's recomputation never blocks another's.
type TrackerMem struct {
	mu   sync.RWMutex
	jobs map[string]*memJob
}

type memJob struct {
	mu     sync.Mutex
	job    domain.Job
	scenes map[int]domain.Scene
}

var _ domain.Tracker = (*TrackerMem)(nil)

// NewTrackerMem creates an empty in-memory tracker.
func NewTrackerMem() *TrackerMem {
	return &TrackerMem{jobs: make(map[string]*memJob)}
}

func (r *TrackerMem) CreateJob(ctx context.Context, seed domain.JobSeed) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := seed.ID
	if id == "" {
		id = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	state := &memJob{
		job: domain.Job{
			ID:        id,
			Status:    domain.JobStatusInitializing,
			CreatedAt: now,
			UpdatedAt: now,
		},
		scenes: make(map[int]domain.Scene),
	}
	r.jobs[id] = state
	out := state.job
	return &out, nil
}

func (r *TrackerMem) SetJobMetadata(ctx context.Context, jobID, title string, totalScenes int) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if totalScenes < 0 {
		return nil, fmt.Errorf("%w: total scenes %d", domain.ErrMalformed, totalScenes)
	}
	state, err := r.state(jobID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.job.Title = title
	state.job.TotalScenes = totalScenes
	if state.job.Status == domain.JobStatusInitializing {
		state.job.Status = domain.JobStatusProcessing
	}
	state.recompute()
	out := state.job
	return &out, nil
}

func (r *TrackerMem) RegisterScene(ctx context.Context, scene *domain.Scene) (*domain.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scene == nil {
		return nil, errors.New("repo: scene is required")
	}
	if scene.JobID == "" || scene.Index < 0 {
		return nil, fmt.Errorf("%w: scene needs a job id and non-negative index", domain.ErrMalformed)
	}
	state, err := r.state(scene.JobID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := state.scenes[scene.Index]
	if !ok {
		existing = domain.Scene{
			ID:          domain.SceneID(scene.JobID, scene.Index),
			JobID:       scene.JobID,
			Index:       scene.Index,
			ImageStatus: domain.StagePending,
			AudioStatus: domain.StagePending,
			CreatedAt:   now,
		}
	}
	existing.Text = scene.Text
	existing.CharacterPrompt = scene.CharacterPrompt
	existing.UpdatedAt = now
	state.scenes[scene.Index] = existing
	if state.job.Status == domain.JobStatusInitializing {
		state.job.Status = domain.JobStatusProcessing
	}
	state.job.UpdatedAt = now
	out := existing
	return &out, nil
}

func (r *TrackerMem) ReportImageResult(ctx context.Context, sceneID string, result domain.StageResult) (*domain.Scene, error) {
	return r.reportStage(ctx, sceneID, domain.ArtifactImage, result)
}

func (r *TrackerMem) ReportAudioResult(ctx context.Context, sceneID string, result domain.StageResult) (*domain.Scene, error) {
	return r.reportStage(ctx, sceneID, domain.ArtifactAudio, result)
}

func (r *TrackerMem) reportStage(ctx context.Context, sceneID string, kind domain.ArtifactKind, result domain.StageResult) (*domain.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformed, err)
	}
	jobID, index, ok := splitSceneID(sceneID)
	if !ok {
		return nil, fmt.Errorf("scene %s: %w", sceneID, domain.ErrNotFound)
	}
	state, err := r.state(jobID)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", sceneID, domain.ErrNotFound)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	scene, ok := state.scenes[index]
	if !ok {
		return nil, fmt.Errorf("scene %s: %w", sceneID, domain.ErrNotFound)
	}
	switch kind {
	case domain.ArtifactImage:
		scene.ImageStatus = result.Status
		if result.URL != "" {
			scene.ImageURL = result.URL
		}
	case domain.ArtifactAudio:
		scene.AudioStatus = result.Status
		if result.URL != "" {
			scene.AudioURL = result.URL
		}
	}
	scene.UpdatedAt = time.Now().UTC()
	state.scenes[index] = scene
	state.recompute()
	out := scene
	return &out, nil
}

// MarkJobFailed flips the job to failed; marking an absent job is a no-op.
func (r *TrackerMem) MarkJobFailed(ctx context.Context, jobID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := r.state(jobID)
	if err != nil {
		return nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.job.Status = domain.JobStatusFailed
	state.job.FailReason = reason
	state.job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *TrackerMem) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := r.state(jobID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	out := state.job
	return &out, nil
}

func (r *TrackerMem) GetScene(ctx context.Context, sceneID string) (*domain.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jobID, index, ok := splitSceneID(sceneID)
	if !ok {
		return nil, fmt.Errorf("scene %s: %w", sceneID, domain.ErrNotFound)
	}
	state, err := r.state(jobID)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", sceneID, domain.ErrNotFound)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	scene, ok := state.scenes[index]
	if !ok {
		return nil, fmt.Errorf("scene %s: %w", sceneID, domain.ErrNotFound)
	}
	out := scene
	return &out, nil
}

func (r *TrackerMem) ListScenes(ctx context.Context, jobID string) ([]domain.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := r.state(jobID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	scenes := make([]domain.Scene, 0, len(state.scenes))
	for _, scene := range state.scenes {
		scenes = append(scenes, scene)
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Index < scenes[j].Index })
	return scenes, nil
}

func (r *TrackerMem) state(jobID string) (*memJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return state, nil
}

// recompute rederives counters and status; callers hold the job mutex.
func (j *memJob) recompute() {
	completed := 0
	for _, scene := range j.scenes {
		if scene.Completed() {
			completed++
		}
	}
	j.job.CompletedScenes = completed
	j.job.Status = domain.DeriveJobStatus(j.job.Status, j.job.TotalScenes, completed)
	j.job.UpdatedAt = time.Now().UTC()
}

// splitSceneID reverses domain.SceneID. The index is everything after the last
// colon, which keeps job ids containing colons unambiguous.
func splitSceneID(sceneID string) (jobID string, index int, ok bool) {
	pos := strings.LastIndexByte(sceneID, ':')
	if pos <= 0 || pos == len(sceneID)-1 {
		return "", 0, false
	}
	index, err := strconv.Atoi(sceneID[pos+1:])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return sceneID[:pos], index, true
}
