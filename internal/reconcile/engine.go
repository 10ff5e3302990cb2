package reconcile

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storyloom/internal/domain"
	"storyloom/internal/infra"
	"storyloom/internal/storage"
)

// Engine rebuilds story structure from the artifact files of a job folder. It
// is strictly read-side: tracker rows and folder contents are never modified,
// and its output is always tagged as a reconstruction.
type Engine struct {
	store  *storage.FileStore
	saved  domain.SavedStoryStore
	logger infra.Logger
}

// New wires a reconciliation engine over the artifact store and the saved
// story catalog. The catalog may be nil when only Reconstruct is used.
func New(store *storage.FileStore, saved domain.SavedStoryStore, logger infra.Logger) *Engine {
	return &Engine{store: store, saved: saved, logger: logger}
}

type candidate struct {
	name    string
	modTime time.Time
}

// Reconstruct assembles the best-effort story view for one job folder.
// Sidecar, backups and unparseable names are skipped; when an index holds
// several artifacts of the same kind the latest-modified file wins; indexes
// missing either kind are dropped entirely. Only an unreadable folder errors.
func (e *Engine) Reconstruct(ctx context.Context, jobID string, area storage.Area) (*domain.ReconstructedStory, error) {
	entries, err := e.store.ListArtifacts(ctx, jobID, area)
	if err != nil {
		return nil, err
	}
	meta, err := e.store.Metadata(ctx, jobID, area)
	if err != nil {
		if !errors.Is(err, domain.ErrMalformed) {
			return nil, err
		}
		e.logger.Warn().Str("job_id", jobID).Msg("reconcile: unreadable sidecar, continuing without metadata")
		meta = map[string]any{}
	}

	slots := make(map[int]map[domain.ArtifactKind]candidate)
	skipped := 0
	for _, entry := range entries {
		if entry.Name == storage.MetadataFilename || storage.IsBackupFilename(entry.Name) {
			continue
		}
		ref, ok := storage.ParseArtifactFilename(entry.Name)
		if !ok {
			skipped++
			e.logger.Debug().Str("job_id", jobID).Str("file", entry.Name).Msg("reconcile: ignoring unparseable name")
			continue
		}
		kinds := slots[ref.SceneIndex]
		if kinds == nil {
			kinds = make(map[domain.ArtifactKind]candidate)
			slots[ref.SceneIndex] = kinds
		}
		cur, exists := kinds[ref.Kind]
		if !exists {
			kinds[ref.Kind] = candidate{name: entry.Name, modTime: entry.ModTime}
			continue
		}
		// Latest mtime wins; equal stamps fall back to name order so the
		// outcome stays deterministic.
		if entry.ModTime.After(cur.modTime) || (entry.ModTime.Equal(cur.modTime) && entry.Name > cur.name) {
			kinds[ref.Kind] = candidate{name: entry.Name, modTime: entry.ModTime}
		}
		skipped++
	}

	indexes := make([]int, 0, len(slots))
	for idx := range slots {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	scenes := make([]domain.ReconstructedScene, 0, len(indexes))
	for _, idx := range indexes {
		kinds := slots[idx]
		image, hasImage := kinds[domain.ArtifactImage]
		audio, hasAudio := kinds[domain.ArtifactAudio]
		if !hasImage || !hasAudio {
			skipped += len(kinds)
			e.logger.Debug().Str("job_id", jobID).Int("scene_index", idx).Msg("reconcile: dropping partial scene")
			continue
		}
		scenes = append(scenes, domain.ReconstructedScene{
			Index:    idx,
			ImageRef: path.Join(string(area), jobID, image.name),
			AudioRef: path.Join(string(area), jobID, audio.name),
		})
	}

	story := &domain.ReconstructedStory{
		ID:            jobID,
		Title:         storyTitle(meta, jobID),
		Scenes:        scenes,
		Reconstructed: true,
		TieBreak:      domain.TieBreakLatestMtime,
		Skipped:       skipped,
		RebuiltAt:     time.Now().UTC(),
	}
	if grade, ok := meta[storage.MetaGradeLevel].(string); ok {
		story.GradeLevel = grade
	}
	return story, nil
}

// MigrateOutcome is the per-folder result of a migration scan.
type MigrateOutcome struct {
	StoryID string `json:"story_id"`
	Action  string `json:"action"`
	Scenes  int    `json:"scenes,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	ActionMigrated = "migrated"
	ActionSkipped  = "skipped"
	ActionError    = "error"
)

// ScanAndMigrate walks every job folder in the area and imports the ones the
// saved-story catalog does not know yet. One folder's failure never stops the
// scan; it is recorded in the outcome list and the walk moves on.
func (e *Engine) ScanAndMigrate(ctx context.Context, area storage.Area) ([]MigrateOutcome, error) {
	if e.saved == nil {
		return nil, errors.New("reconcile: no saved story catalog configured")
	}
	folders, err := e.store.JobFolders(ctx, area)
	if err != nil {
		return nil, err
	}
	outcomes := make([]MigrateOutcome, 0, len(folders))
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, e.migrateOne(ctx, folder.ID, area))
	}
	return outcomes, nil
}

func (e *Engine) migrateOne(ctx context.Context, storyID string, area storage.Area) MigrateOutcome {
	known, err := e.saved.Has(ctx, storyID)
	if err != nil {
		e.logger.Warn().Err(err).Str("story_id", storyID).Msg("reconcile: catalog lookup failed")
		return MigrateOutcome{StoryID: storyID, Action: ActionError, Error: err.Error()}
	}
	if known {
		return MigrateOutcome{StoryID: storyID, Action: ActionSkipped}
	}
	story, err := e.Reconstruct(ctx, storyID, area)
	if err != nil {
		e.logger.Warn().Err(err).Str("story_id", storyID).Msg("reconcile: reconstruction failed")
		return MigrateOutcome{StoryID: storyID, Action: ActionError, Error: err.Error()}
	}
	if err := e.saved.Save(ctx, story); err != nil {
		e.logger.Warn().Err(err).Str("story_id", storyID).Msg("reconcile: catalog save failed")
		return MigrateOutcome{StoryID: storyID, Action: ActionError, Error: err.Error()}
	}
	e.logger.Info().Str("story_id", storyID).Int("scenes", len(story.Scenes)).Msg("reconcile: story migrated")
	return MigrateOutcome{StoryID: storyID, Action: ActionMigrated, Scenes: len(story.Scenes)}
}

// storyTitle prefers the sidecar title and falls back to a readable form of
// the folder id.
func storyTitle(meta map[string]any, jobID string) string {
	if title, ok := storage.TitleFrom(meta); ok {
		return title
	}
	cleaned := strings.NewReplacer("-", " ", "_", " ").Replace(jobID)
	return cases.Title(language.Und).String(cleaned)
}
