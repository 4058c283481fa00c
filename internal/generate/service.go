// Package generate ties classification, resource selection, graph building
// and job submission into the single per-request generation flow.
package generate

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/jobs"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/pipeline"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/selector"
)

var validate = validator.New()

// Request is one generation request after HTTP decoding.
type Request struct {
	Prompt               string `validate:"required,min=3"`
	SceneKind            string
	PrimaryCharacterID   string `validate:"required"`
	SecondaryCharacterID string
	BaseSeed             *int64
	Width                int
	Height               int

	// Diagnostics.
	ForceModel       string
	SkipFaceDetailer bool
	Debug            bool

	// Backend overrides the configured default generation backend.
	Backend string
}

// Result reports the accepted submission.
type Result struct {
	JobID    string             `json:"job_id"`
	ImageID  string             `json:"image_id"`
	Status   domain.JobStatus   `json:"status"`
	Backend  domain.BackendKind `json:"backend"`
	Seed     int64              `json:"seed"`
	Passes   int                `json:"passes"`
	FellBack bool               `json:"fell_back,omitempty"`
}

// Service orchestrates one generation request end to end. Requests are
// independent; the persistent store is the only shared state.
type Service struct {
	characters     domain.CharacterRepository
	images         domain.ImageRepository
	selector       *selector.Service
	manager        *jobs.Manager
	defaultBackend domain.BackendKind
	logger         zerolog.Logger
}

// NewService wires the generation service.
func NewService(
	characters domain.CharacterRepository,
	images domain.ImageRepository,
	sel *selector.Service,
	manager *jobs.Manager,
	defaultBackend domain.BackendKind,
	logger zerolog.Logger,
) *Service {
	return &Service{
		characters:     characters,
		images:         images,
		selector:       sel,
		manager:        manager,
		defaultBackend: defaultBackend,
		logger:         logger,
	}
}

// Generate classifies the scene, selects resources, builds the pass graph
// and submits it to the chosen backend.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	kind := domain.NormalizeSceneKind(req.SceneKind)
	primary, err := s.characterRef(ctx, req.PrimaryCharacterID)
	if err != nil {
		return nil, fmt.Errorf("load primary character: %w", err)
	}
	var secondary *pipeline.CharacterRef
	if req.SecondaryCharacterID != "" {
		ref, err := s.characterRef(ctx, req.SecondaryCharacterID)
		if err != nil {
			return nil, fmt.Errorf("load secondary character: %w", err)
		}
		secondary = &ref
	}

	cls := selector.Classify(req.Prompt, kind)
	if secondary != nil {
		// An explicit second character always wins over the keyword heuristic.
		cls.DualCharacter = true
	}
	sel := s.selector.Select(cls, kind, selector.Options{ForceModel: req.ForceModel})

	seed := int64(0)
	if req.BaseSeed != nil {
		seed = *req.BaseSeed
	} else {
		seed = rand.Int63n(1 << 31)
	}

	width, height := req.Width, req.Height
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}

	built, err := pipeline.Build(pipeline.Request{
		Prompt:           req.Prompt,
		SceneKind:        kind,
		Selection:        sel,
		Primary:          primary,
		Secondary:        secondary,
		BaseSeed:         seed,
		Width:            width,
		Height:           height,
		SkipFaceDetailer: req.SkipFaceDetailer,
		Debug:            req.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	backendKind := s.defaultBackend
	if req.Backend != "" {
		backendKind = domain.BackendKind(req.Backend)
	}

	img := &domain.Image{
		ID:                   uuid.NewString(),
		SceneKind:            kind,
		Prompt:               req.Prompt,
		PrimaryCharacterID:   req.PrimaryCharacterID,
		SecondaryCharacterID: req.SecondaryCharacterID,
		Seed:                 &seed,
		Status:               domain.ImageStatusGenerating,
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.images.Create(ctx, img); err != nil {
		return nil, fmt.Errorf("create image record: %w", err)
	}

	job, err := s.manager.Submit(ctx, built.Graph, jobs.SubmitOptions{
		Backend: backendKind,
		ImageID: img.ID,
		Seed:    seed,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("backend", string(backendKind)).
		Int("passes", len(built.Passes)).
		Bool("dual", cls.DualCharacter).
		Str("selection", sel.Reason).
		Msg("generate: pipeline submitted")

	return &Result{
		JobID:    job.ID,
		ImageID:  img.ID,
		Status:   job.Status,
		Backend:  backendKind,
		Seed:     seed,
		Passes:   len(built.Passes),
		FellBack: sel.FellBack,
	}, nil
}

func (s *Service) characterRef(ctx context.Context, id string) (pipeline.CharacterRef, error) {
	character, err := s.characters.GetByID(ctx, id)
	if err != nil {
		return pipeline.CharacterRef{}, err
	}
	ref := pipeline.CharacterRef{
		ID:          character.ID,
		Name:        character.Name,
		Gender:      character.Gender,
		TriggerWord: character.TriggerWord,
	}
	if adapter, ok := s.selector.CharacterAdapter(ctx, character.ID); ok {
		ref.Adapter = &adapter
	}
	return ref, nil
}
