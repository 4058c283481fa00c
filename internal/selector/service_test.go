package selector

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// stubLoraRepo answers GetDeployedByCharacter and counts lookups; everything
// else is unused by the selector.
type stubLoraRepo struct {
	domain.LoraRepository

	deployed map[string]*domain.CharacterLora
	lookups  int
}

func (s *stubLoraRepo) GetDeployedByCharacter(ctx context.Context, characterID string) (*domain.CharacterLora, error) {
	s.lookups++
	if lora, ok := s.deployed[characterID]; ok {
		return lora, nil
	}
	return nil, domain.ErrNotFound
}

func newServiceWith(repo *stubLoraRepo) *Service {
	return NewService(repo, zerolog.Nop())
}

func TestCharacterAdapter_Deployed(t *testing.T) {
	repo := &stubLoraRepo{deployed: map[string]*domain.CharacterLora{
		"char-1": {ID: "lora-1", CharacterID: "char-1", ArtifactKey: "characters/char_char-1.safetensors"},
	}}
	svc := newServiceWith(repo)

	adapter, ok := svc.CharacterAdapter(context.Background(), "char-1")
	require.True(t, ok)
	assert.Equal(t, "characters/char_char-1.safetensors", adapter.Name)
	assert.Equal(t, 0.85, adapter.StrengthModel)
	assert.Equal(t, 0.85, adapter.StrengthClip)
}

func TestCharacterAdapter_FilenameFallback(t *testing.T) {
	repo := &stubLoraRepo{deployed: map[string]*domain.CharacterLora{
		"char-2": {ID: "lora-2", CharacterID: "char-2"},
	}}
	svc := newServiceWith(repo)

	adapter, ok := svc.CharacterAdapter(context.Background(), "char-2")
	require.True(t, ok)
	assert.Equal(t, "characters/char_char-2.safetensors", adapter.Name)
}

func TestCharacterAdapter_CachesHitsAndMisses(t *testing.T) {
	repo := &stubLoraRepo{deployed: map[string]*domain.CharacterLora{
		"char-1": {ID: "lora-1", CharacterID: "char-1"},
	}}
	svc := newServiceWith(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, ok := svc.CharacterAdapter(ctx, "char-1")
		assert.True(t, ok)
	}
	assert.Equal(t, 1, repo.lookups)

	for i := 0; i < 3; i++ {
		_, ok := svc.CharacterAdapter(ctx, "missing")
		assert.False(t, ok)
	}
	assert.Equal(t, 2, repo.lookups)
}

func TestCharacterAdapter_InvalidateForcesRefresh(t *testing.T) {
	repo := &stubLoraRepo{deployed: map[string]*domain.CharacterLora{}}
	svc := newServiceWith(repo)
	ctx := context.Background()

	_, ok := svc.CharacterAdapter(ctx, "char-1")
	assert.False(t, ok)

	// Adapter deploys; the stale negative entry must be dropped.
	repo.deployed["char-1"] = &domain.CharacterLora{ID: "lora-1", CharacterID: "char-1"}
	svc.Invalidate("char-1")

	_, ok = svc.CharacterAdapter(ctx, "char-1")
	assert.True(t, ok)
}

func TestCharacterAdapter_EmptyID(t *testing.T) {
	repo := &stubLoraRepo{}
	svc := newServiceWith(repo)

	_, ok := svc.CharacterAdapter(context.Background(), "")
	assert.False(t, ok)
	assert.Zero(t, repo.lookups)
}

func TestGenderAdapter(t *testing.T) {
	fem, ok := GenderAdapter(domain.CharacterGenderFemale)
	require.True(t, ok)
	assert.Equal(t, "feminine-form-xl.safetensors", fem.Name)

	masc, ok := GenderAdapter(domain.CharacterGenderMale)
	require.True(t, ok)
	assert.Equal(t, "masculine-form-xl.safetensors", masc.Name)

	_, ok = GenderAdapter(domain.CharacterGenderOther)
	assert.False(t, ok)
}
