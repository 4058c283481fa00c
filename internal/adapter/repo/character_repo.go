package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// CharacterRepositoryPG implements domain.CharacterRepository.
type CharacterRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCharacterRepository creates a character repository backed by PostgreSQL.
func NewCharacterRepository(pool *pgxpool.Pool) *CharacterRepositoryPG {
	return &CharacterRepositoryPG{pool: pool}
}

// GetByID fetches a character by its identifier.
func (r *CharacterRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Character, error) {
	query := `
SELECT id, story_id, name, gender, trigger_word, appearance_prompt, reference_images, created_at, updated_at
FROM characters
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var c domain.Character
	if err := row.Scan(
		&c.ID,
		&c.StoryID,
		&c.Name,
		&c.Gender,
		&c.TriggerWord,
		&c.AppearancePrompt,
		&c.ReferenceImages,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

var _ domain.CharacterRepository = (*CharacterRepositoryPG)(nil)
