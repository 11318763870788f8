package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gcode-mirror/foe-project/internal/model"
)

type FeedRepository struct {
	db *pgxpool.Pool
}

func NewFeedRepository(db *pgxpool.Pool) *FeedRepository {
	return &FeedRepository{db: db}
}

// InsertCatalogFeed registers a feed in the catalog.
func (r *FeedRepository) InsertCatalogFeed(ctx context.Context, feed *model.CatalogFeed) error {
	query := `
        INSERT INTO catalog_rss (code, name, content_type, description, location)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.db.Exec(ctx, query,
		feed.Code,
		feed.Name,
		feed.ContentType,
		feed.Description,
		feed.Location,
	)
	if err != nil {
		return fmt.Errorf("insert catalog feed %s: %w", feed.Code, err)
	}
	return nil
}
