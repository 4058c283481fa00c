package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// Character LoRAs apply at full-ish strength; the identity has to win over
// the base model's average face.
const (
	characterStrengthModel = 0.85
	characterStrengthClip  = 0.85
)

// Service resolves per-character identity adapters on top of the static rule
// table. Deployed-adapter lookups are memoized so per-pass selection does not
// hit the store repeatedly within a burst of requests.
type Service struct {
	loras  domain.LoraRepository
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewService constructs a selector service.
func NewService(loras domain.LoraRepository, logger zerolog.Logger) *Service {
	return &Service{
		loras:  loras,
		cache:  cache.New(2*time.Minute, 5*time.Minute),
		logger: logger,
	}
}

// Select delegates to the rule table. Exposed on the service so callers hold
// one selection surface.
func (s *Service) Select(cls Classification, kind domain.SceneKind, opts Options) Selection {
	sel := Select(cls, kind, opts)
	if sel.FellBack {
		s.logger.Warn().Str("reason", sel.Reason).Msg("selector: fell back to default checkpoint")
	}
	return sel
}

// CharacterAdapter returns the deployed identity adapter for a character, or
// ok=false when none has been trained yet. Lookup misses are cached too so a
// character without an adapter does not trigger a query per pass.
func (s *Service) CharacterAdapter(ctx context.Context, characterID string) (Adapter, bool) {
	if characterID == "" {
		return Adapter{}, false
	}
	if v, found := s.cache.Get(characterID); found {
		if a, ok := v.(Adapter); ok {
			return a, true
		}
		return Adapter{}, false
	}

	lora, err := s.loras.GetDeployedByCharacter(ctx, characterID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error().Err(err).Str("character_id", characterID).Msg("selector: adapter lookup failed")
		}
		s.cache.SetDefault(characterID, nil)
		return Adapter{}, false
	}

	adapter := Adapter{
		Name:          characterAdapterFilename(lora),
		StrengthModel: characterStrengthModel,
		StrengthClip:  characterStrengthClip,
	}
	s.cache.SetDefault(characterID, adapter)
	return adapter, true
}

// Invalidate drops the cached adapter for a character. Called after a fresh
// identity deploys so the next selection picks it up immediately.
func (s *Service) Invalidate(characterID string) {
	s.cache.Delete(characterID)
}

func characterAdapterFilename(lora *domain.CharacterLora) string {
	if lora.ArtifactKey != "" {
		return lora.ArtifactKey
	}
	return fmt.Sprintf("characters/char_%s.safetensors", lora.CharacterID)
}
