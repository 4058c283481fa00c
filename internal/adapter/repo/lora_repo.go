package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// LoraRepositoryPG implements domain.LoraRepository.
type LoraRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLoraRepository creates an identity adapter repository backed by PostgreSQL.
func NewLoraRepository(pool *pgxpool.Pool) *LoraRepositoryPG {
	return &LoraRepositoryPG{pool: pool}
}

// Create inserts a new identity record. A partial unique index over
// character_id (status not in failed/archived) backs the one-active-identity
// invariant; its violation surfaces as domain.ErrActiveIdentity.
func (r *LoraRepositoryPG) Create(ctx context.Context, lora *domain.CharacterLora) error {
	query := `
INSERT INTO character_loras (id, character_id, trigger_word, base_model, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		lora.ID,
		lora.CharacterID,
		lora.TriggerWord,
		lora.BaseModel,
		lora.Status,
		lora.Attempts,
		lora.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrActiveIdentity
		}
		return err
	}
	return nil
}

const loraColumns = `
SELECT id, character_id, trigger_word, base_model, status, dataset_size,
       validation_score, attempts, COALESCE(artifact_key, ''), COALESCE(error_message, ''),
       created_at, updated_at
FROM character_loras
`

// GetByID fetches an identity record.
func (r *LoraRepositoryPG) GetByID(ctx context.Context, id string) (*domain.CharacterLora, error) {
	return r.scanOne(r.pool.QueryRow(ctx, loraColumns+`WHERE id = $1;`, id))
}

// GetActiveByCharacter returns the character's non-terminal identity, if any.
func (r *LoraRepositoryPG) GetActiveByCharacter(ctx context.Context, characterID string) (*domain.CharacterLora, error) {
	query := loraColumns + `
WHERE character_id = $1 AND status NOT IN ('failed', 'archived')
ORDER BY created_at DESC
LIMIT 1;
`
	return r.scanOne(r.pool.QueryRow(ctx, query, characterID))
}

// GetLatestByCharacter returns the character's most recent identity in any status.
func (r *LoraRepositoryPG) GetLatestByCharacter(ctx context.Context, characterID string) (*domain.CharacterLora, error) {
	query := loraColumns + `
WHERE character_id = $1
ORDER BY created_at DESC
LIMIT 1;
`
	return r.scanOne(r.pool.QueryRow(ctx, query, characterID))
}

// GetDeployedByCharacter returns the character's deployed identity, if any.
func (r *LoraRepositoryPG) GetDeployedByCharacter(ctx context.Context, characterID string) (*domain.CharacterLora, error) {
	query := loraColumns + `
WHERE character_id = $1 AND status = 'deployed'
ORDER BY created_at DESC
LIMIT 1;
`
	return r.scanOne(r.pool.QueryRow(ctx, query, characterID))
}

// UpdateStatus advances the training stage.
func (r *LoraRepositoryPG) UpdateStatus(ctx context.Context, id string, status domain.LoraStatus) error {
	query := `
UPDATE character_loras
SET status = $2, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, id, status)
	return err
}

// MarkFailed records the terminal failure with its error string.
func (r *LoraRepositoryPG) MarkFailed(ctx context.Context, id string, errMsg string) error {
	query := `
UPDATE character_loras
SET status = 'failed', error_message = $2, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, id, errMsg)
	return err
}

// MarkDeployed promotes a validated adapter.
func (r *LoraRepositoryPG) MarkDeployed(ctx context.Context, id string, artifactKey string, score float64) error {
	query := `
UPDATE character_loras
SET status = 'deployed', artifact_key = $2, validation_score = $3, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, id, artifactKey, score)
	return err
}

// SetDatasetSize records how many dataset images were generated.
func (r *LoraRepositoryPG) SetDatasetSize(ctx context.Context, id string, size int) error {
	query := `
UPDATE character_loras
SET dataset_size = $2, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, id, size)
	return err
}

// SaveDatasetImage inserts one dataset image row.
func (r *LoraRepositoryPG) SaveDatasetImage(ctx context.Context, img *domain.DatasetImage) error {
	query := `
INSERT INTO lora_dataset_images (id, lora_id, variation_type, fragment, eval_status, caption, storage_key, score, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.pool.Exec(ctx, query,
		img.ID,
		img.LoraID,
		img.Variation,
		img.Fragment,
		img.EvalStatus,
		nullableString(img.Caption),
		img.StorageKey,
		img.Score,
		img.CreatedAt,
	)
	return err
}

// ListDatasetImages returns all dataset images owned by an identity.
func (r *LoraRepositoryPG) ListDatasetImages(ctx context.Context, loraID string) ([]domain.DatasetImage, error) {
	query := `
SELECT id, lora_id, variation_type, fragment, eval_status, COALESCE(caption, ''), storage_key, score, created_at
FROM lora_dataset_images
WHERE lora_id = $1
ORDER BY created_at;
`
	rows, err := r.pool.Query(ctx, query, loraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DatasetImage
	for rows.Next() {
		var img domain.DatasetImage
		if err := rows.Scan(
			&img.ID,
			&img.LoraID,
			&img.Variation,
			&img.Fragment,
			&img.EvalStatus,
			&img.Caption,
			&img.StorageKey,
			&img.Score,
			&img.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// UpdateDatasetImage stores the evaluation outcome and caption for one image.
func (r *LoraRepositoryPG) UpdateDatasetImage(ctx context.Context, id string, status domain.EvalStatus, score *float64, caption string) error {
	query := `
UPDATE lora_dataset_images
SET eval_status = $2,
    score = COALESCE($3, score),
    caption = CASE WHEN $4 <> '' THEN $4 ELSE caption END
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, id, status, score, caption)
	return err
}

func (r *LoraRepositoryPG) scanOne(row pgx.Row) (*domain.CharacterLora, error) {
	var lora domain.CharacterLora
	if err := row.Scan(
		&lora.ID,
		&lora.CharacterID,
		&lora.TriggerWord,
		&lora.BaseModel,
		&lora.Status,
		&lora.DatasetSize,
		&lora.ValidationScore,
		&lora.Attempts,
		&lora.ArtifactKey,
		&lora.ErrorMessage,
		&lora.CreatedAt,
		&lora.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &lora, nil
}

var _ domain.LoraRepository = (*LoraRepositoryPG)(nil)
