package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// ImageRepositoryPG implements domain.ImageRepository.
type ImageRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewImageRepository creates an image repository backed by PostgreSQL.
func NewImageRepository(pool *pgxpool.Pool) *ImageRepositoryPG {
	return &ImageRepositoryPG{pool: pool}
}

// Create inserts a new image record.
func (r *ImageRepositoryPG) Create(ctx context.Context, img *domain.Image) error {
	query := `
INSERT INTO images (id, job_id, scene_kind, prompt, primary_character_id, secondary_character_id, seed, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.pool.Exec(ctx, query,
		img.ID,
		nullableString(img.JobID),
		img.SceneKind,
		img.Prompt,
		nullableString(img.PrimaryCharacterID),
		nullableString(img.SecondaryCharacterID),
		img.Seed,
		img.Status,
		img.CreatedAt,
	)
	return err
}

// GetByID fetches an image record.
func (r *ImageRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Image, error) {
	query := `
SELECT id, COALESCE(job_id, ''), scene_kind, prompt,
       COALESCE(primary_character_id, ''), COALESCE(secondary_character_id, ''),
       seed, COALESCE(storage_key, ''), COALESCE(url, ''), status, created_at, updated_at
FROM images
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var img domain.Image
	if err := row.Scan(
		&img.ID,
		&img.JobID,
		&img.SceneKind,
		&img.Prompt,
		&img.PrimaryCharacterID,
		&img.SecondaryCharacterID,
		&img.Seed,
		&img.StorageKey,
		&img.URL,
		&img.Status,
		&img.CreatedAt,
		&img.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &img, nil
}

// UpdateResult records the stored asset and final status for an image.
func (r *ImageRepositoryPG) UpdateResult(ctx context.Context, id string, storageKey, url string, status domain.ImageStatus) error {
	query := `
UPDATE images
SET storage_key = NULLIF($2, ''),
    url = NULLIF($3, ''),
    status = $4,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, id, storageKey, url, status)
	return err
}

var _ domain.ImageRepository = (*ImageRepositoryPG)(nil)
