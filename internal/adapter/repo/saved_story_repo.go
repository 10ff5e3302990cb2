package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"storyloom/internal/domain"
	"storyloom/internal/infra"
	"storyloom/internal/sqlinline"
)

// SavedStoryPG implements domain.SavedStoryStore using PostgreSQL. It is the
// reference catalog the migration scan checks before importing a folder; story
// ownership and account data live in a separate service.
type SavedStoryPG struct {
	db infra.SQLExecutor
}

var _ domain.SavedStoryStore = (*SavedStoryPG)(nil)

// NewSavedStoryStore constructs a saved-story catalog backed by PostgreSQL.
// Queries run through the audit-marked runner.
func NewSavedStoryStore(pool *pgxpool.Pool, logger infra.Logger) *SavedStoryPG {
	return &SavedStoryPG{db: infra.NewSQLRunner(pool, logger)}
}

// Has reports whether a story id is already cataloged.
func (r *SavedStoryPG) Has(ctx context.Context, storyID string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, sqlinline.QSavedStoryExists, storyID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Save catalogs a reconstructed story. Saving an id that already exists fails
// with domain.ErrAlreadyExists; the migration scan checks Has first.
func (r *SavedStoryPG) Save(ctx context.Context, story *domain.ReconstructedStory) error {
	if story == nil || story.ID == "" {
		return fmt.Errorf("%w: story id is required", domain.ErrMalformed)
	}
	payload, err := json.Marshal(story.Scenes)
	if err != nil {
		return fmt.Errorf("repo: encode scenes: %w", err)
	}
	_, err = r.db.Exec(ctx, sqlinline.QInsertSavedStory,
		story.ID,
		story.Title,
		story.GradeLevel,
		len(story.Scenes),
		story.Reconstructed,
		payload,
	)
	return mapPGError(err)
}
