package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"storyloom/internal/domain"
	"storyloom/internal/storage"
)

type fakeCatalog struct {
	known   map[string]bool
	saved   []*domain.ReconstructedStory
	saveErr error
}

func (f *fakeCatalog) Has(ctx context.Context, storyID string) (bool, error) {
	return f.known[storyID], nil
}

func (f *fakeCatalog) Save(ctx context.Context, story *domain.ReconstructedStory) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, story)
	return nil
}

func newTestEngine(t *testing.T, catalog domain.SavedStoryStore) (*Engine, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return New(store, catalog, zerolog.Nop()), store
}

func seedFolder(t *testing.T, store *storage.FileStore, jobID string, meta map[string]any, files ...string) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateJobFolder(ctx, jobID, meta); err != nil {
		t.Fatalf("CreateJobFolder: %v", err)
	}
	for _, name := range files {
		if _, err := store.SaveArtifact(ctx, jobID, storage.AreaWorking, name, []byte(name)); err != nil {
			t.Fatalf("SaveArtifact(%s): %v", name, err)
		}
	}
}

func touch(t *testing.T, store *storage.FileStore, jobID, name string, at time.Time) {
	t.Helper()
	full := filepath.Join(store.BasePath(), "working", jobID, name)
	if err := os.Chtimes(full, at, at); err != nil {
		t.Fatalf("Chtimes(%s): %v", name, err)
	}
}

func TestReconstructOrdersScenes(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	seedFolder(t, store, "job-1", map[string]any{storage.MetaTitle: "The River", storage.MetaGradeLevel: "4"},
		"job-1_scene_2.png", "job-1_scene_2.mp3",
		"job-1_scene_0.png", "job-1_scene_0.mp3",
		"job-1_scene_1.png", "job-1_scene_1.mp3",
	)

	story, err := engine.Reconstruct(context.Background(), "job-1", storage.AreaWorking)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !story.Reconstructed {
		t.Fatalf("story not tagged as reconstruction")
	}
	if story.TieBreak != domain.TieBreakLatestMtime {
		t.Fatalf("tie-break tag = %q", story.TieBreak)
	}
	if story.Title != "The River" || story.GradeLevel != "4" {
		t.Fatalf("metadata not applied: %+v", story)
	}
	if len(story.Scenes) != 3 {
		t.Fatalf("scenes = %d, want 3", len(story.Scenes))
	}
	for i, scene := range story.Scenes {
		if scene.Index != i {
			t.Fatalf("scene order: got index %d at position %d", scene.Index, i)
		}
	}
	if story.Scenes[1].ImageRef != "working/job-1/job-1_scene_1.png" {
		t.Fatalf("image ref = %q", story.Scenes[1].ImageRef)
	}
}

func TestReconstructLatestMtimeWins(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	seedFolder(t, store, "job-1", nil,
		"job-1_scene_0.png", "job-1_scene_0.jpg", "job-1_scene_0.mp3",
	)
	base := time.Now().Add(-time.Hour)
	touch(t, store, "job-1", "job-1_scene_0.png", base)
	touch(t, store, "job-1", "job-1_scene_0.jpg", base.Add(10*time.Minute))

	story, err := engine.Reconstruct(context.Background(), "job-1", storage.AreaWorking)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(story.Scenes) != 1 {
		t.Fatalf("scenes = %d, want 1", len(story.Scenes))
	}
	if story.Scenes[0].ImageRef != "working/job-1/job-1_scene_0.jpg" {
		t.Fatalf("tie-break picked %q, want the newer jpg", story.Scenes[0].ImageRef)
	}
	if story.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1 for the beaten duplicate", story.Skipped)
	}

	// Flip the ages and the winner flips with them.
	touch(t, store, "job-1", "job-1_scene_0.png", base.Add(20*time.Minute))
	story, err = engine.Reconstruct(context.Background(), "job-1", storage.AreaWorking)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if story.Scenes[0].ImageRef != "working/job-1/job-1_scene_0.png" {
		t.Fatalf("tie-break picked %q after mtime flip", story.Scenes[0].ImageRef)
	}
}

func TestReconstructDropsPartialScenes(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	seedFolder(t, store, "job-1", nil,
		"job-1_scene_0.png", "job-1_scene_0.mp3",
		"job-1_scene_1.png", // no audio
		"job-1_scene_2.mp3", // no image
	)

	story, err := engine.Reconstruct(context.Background(), "job-1", storage.AreaWorking)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(story.Scenes) != 1 || story.Scenes[0].Index != 0 {
		t.Fatalf("scenes = %+v, want only index 0", story.Scenes)
	}
	if story.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2 partial files", story.Skipped)
	}
}

func TestReconstructIgnoresNonArtifacts(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	seedFolder(t, store, "job-1", nil,
		"job-1_scene_0.png", "job-1_scene_0.mp3",
		"notes.txt", "job-1_scene_x.png",
	)
	// Overwrite to produce a real backup file in the folder.
	if _, err := store.SaveArtifact(context.Background(), "job-1", storage.AreaWorking, "job-1_scene_0.png", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	story, err := engine.Reconstruct(context.Background(), "job-1", storage.AreaWorking)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(story.Scenes) != 1 {
		t.Fatalf("scenes = %d, want 1", len(story.Scenes))
	}
	if story.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2 (notes.txt and the bad index); sidecar and backups are not counted", story.Skipped)
	}
}

func TestReconstructAcceptsForeignFilenamesAfterPromotion(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	seedFolder(t, store, "draft-7", nil, "draft-7_scene_0.png", "draft-7_scene_0.mp3")
	if _, err := store.PromoteToSaved(context.Background(), "draft-7", "story-1"); err != nil {
		t.Fatalf("PromoteToSaved: %v", err)
	}

	story, err := engine.Reconstruct(context.Background(), "story-1", storage.AreaSaved)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(story.Scenes) != 1 {
		t.Fatalf("scenes = %d; filenames keep the original job id after promotion", len(story.Scenes))
	}
	if story.Scenes[0].ImageRef != "saved/story-1/draft-7_scene_0.png" {
		t.Fatalf("image ref = %q", story.Scenes[0].ImageRef)
	}
}

func TestReconstructTitleFallback(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	seedFolder(t, store, "winter-fox-story", nil, "winter-fox-story_scene_0.png", "winter-fox-story_scene_0.mp3")

	story, err := engine.Reconstruct(context.Background(), "winter-fox-story", storage.AreaWorking)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if story.Title != "Winter Fox Story" {
		t.Fatalf("fallback title = %q", story.Title)
	}
}

func TestReconstructMissingFolder(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	if _, err := engine.Reconstruct(context.Background(), "ghost", storage.AreaWorking); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReconstructIsReadOnly(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	seedFolder(t, store, "job-1", nil, "job-1_scene_0.png", "job-1_scene_0.jpg", "job-1_scene_0.mp3", "junk.txt")

	before, err := store.ListArtifacts(context.Background(), "job-1", storage.AreaWorking)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if _, err := engine.Reconstruct(context.Background(), "job-1", storage.AreaWorking); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	after, err := store.ListArtifacts(context.Background(), "job-1", storage.AreaWorking)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("reconstruction changed the folder: %d files before, %d after", len(before), len(after))
	}
}

func TestScanAndMigrate(t *testing.T) {
	catalog := &fakeCatalog{known: map[string]bool{"already-saved": true}}
	engine, store := newTestEngine(t, catalog)
	seedFolder(t, store, "already-saved", nil, "a_scene_0.png", "a_scene_0.mp3")
	seedFolder(t, store, "fresh", map[string]any{storage.MetaTitle: "Fresh"}, "fresh_scene_0.png", "fresh_scene_0.mp3")

	outcomes, err := engine.ScanAndMigrate(context.Background(), storage.AreaWorking)
	if err != nil {
		t.Fatalf("ScanAndMigrate: %v", err)
	}
	actions := map[string]string{}
	for _, o := range outcomes {
		actions[o.StoryID] = o.Action
	}
	if actions["already-saved"] != ActionSkipped {
		t.Fatalf("known story action = %q", actions["already-saved"])
	}
	if actions["fresh"] != ActionMigrated {
		t.Fatalf("new story action = %q", actions["fresh"])
	}
	if len(catalog.saved) != 1 || catalog.saved[0].ID != "fresh" {
		t.Fatalf("catalog saves = %+v", catalog.saved)
	}
	if catalog.saved[0].Title != "Fresh" || !catalog.saved[0].Reconstructed {
		t.Fatalf("saved story = %+v", catalog.saved[0])
	}
}

func TestScanAndMigrateContinuesPastErrors(t *testing.T) {
	catalog := &fakeCatalog{saveErr: fmt.Errorf("catalog down")}
	engine, store := newTestEngine(t, catalog)
	seedFolder(t, store, "one", nil, "one_scene_0.png", "one_scene_0.mp3")
	seedFolder(t, store, "two", nil, "two_scene_0.png", "two_scene_0.mp3")

	outcomes, err := engine.ScanAndMigrate(context.Background(), storage.AreaWorking)
	if err != nil {
		t.Fatalf("ScanAndMigrate: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want the scan to reach every folder", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Action != ActionError || o.Error == "" {
			t.Fatalf("outcome = %+v, want recorded error", o)
		}
	}
}
