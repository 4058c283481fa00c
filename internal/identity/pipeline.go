// Package identity runs the long-running training pipeline that turns one or
// two approved reference images into a deployed character adapter.
//
// The pipeline is fire-and-forget relative to the HTTP request that triggers
// it: StartTraining schedules a detached task and returns; all progress is
// observed through Progress polling. Errors never escape the task boundary;
// they are written into the identity record's terminal failed state.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/backend"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/pipeline"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/selector"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/storage"
	"github.com/G858-debug/No-Safe-Word-sub002/pkg/zip"
)

// Config tunes the training pipeline.
type Config struct {
	BaseModel          string
	DatasetSize        int
	MinAcceptedImages  int
	EvalThreshold      float64
	ValidateThreshold  float64
	RenderConcurrency  int
	TrainPollInterval  time.Duration
	RunTimeout         time.Duration
	DatasetWidth       int
	DatasetHeight      int
	TrainSteps         int
}

func (c *Config) applyDefaults() {
	if c.BaseModel == "" {
		c.BaseModel = selector.DefaultCheckpoint
	}
	if c.DatasetSize <= 0 {
		c.DatasetSize = 12
	}
	if c.MinAcceptedImages <= 0 {
		c.MinAcceptedImages = 6
	}
	if c.EvalThreshold <= 0 {
		c.EvalThreshold = 0.55
	}
	if c.ValidateThreshold <= 0 {
		c.ValidateThreshold = 0.6
	}
	if c.RenderConcurrency <= 0 {
		c.RenderConcurrency = 3
	}
	if c.TrainPollInterval <= 0 {
		c.TrainPollInterval = 15 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 2 * time.Hour
	}
	if c.DatasetWidth <= 0 {
		c.DatasetWidth = 1024
	}
	if c.DatasetHeight <= 0 {
		c.DatasetHeight = 1024
	}
}

// DeployNotifier is told when a fresh adapter deploys so cached selections
// pick it up. Satisfied by selector.Service.
type DeployNotifier interface {
	Invalidate(characterID string)
}

// Pipeline is the identity training orchestrator.
type Pipeline struct {
	characters domain.CharacterRepository
	loras      domain.LoraRepository
	store      *storage.FileStore
	renderer   Renderer
	evaluator  *Evaluator
	trainer    *Trainer
	notifier   DeployNotifier
	logger     zerolog.Logger
	cfg        Config
}

// NewPipeline wires the training pipeline.
func NewPipeline(
	characters domain.CharacterRepository,
	loras domain.LoraRepository,
	store *storage.FileStore,
	renderer Renderer,
	evaluator *Evaluator,
	trainer *Trainer,
	notifier DeployNotifier,
	logger zerolog.Logger,
	cfg Config,
) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		characters: characters,
		loras:      loras,
		store:      store,
		renderer:   renderer,
		evaluator:  evaluator,
		trainer:    trainer,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// StartTraining creates a fresh identity record and schedules the detached
// training task. Returns domain.ErrActiveIdentity when the character already
// has a non-terminal identity. The advisory read-then-create check is backed
// by a partial unique index in the store; a unique violation from Create is
// the same rejection signal.
func (p *Pipeline) StartTraining(ctx context.Context, characterID string) (string, error) {
	character, err := p.characters.GetByID(ctx, characterID)
	if err != nil {
		return "", fmt.Errorf("identity: load character: %w", err)
	}
	if len(character.ReferenceImages) == 0 {
		return "", fmt.Errorf("identity: character %s has no approved reference images: %w", characterID, domain.ErrInvalidInput)
	}

	if existing, err := p.loras.GetActiveByCharacter(ctx, characterID); err == nil && existing != nil {
		return "", domain.ErrActiveIdentity
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("identity: active check: %w", err)
	}

	attempts := 1
	if prev, err := p.loras.GetLatestByCharacter(ctx, characterID); err == nil && prev != nil {
		attempts = prev.Attempts + 1
	}

	lora := &domain.CharacterLora{
		ID:          uuid.NewString(),
		CharacterID: characterID,
		TriggerWord: character.TriggerWord,
		BaseModel:   p.cfg.BaseModel,
		Status:      domain.LoraStatusPending,
		Attempts:    attempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.loras.Create(ctx, lora); err != nil {
		if errors.Is(err, domain.ErrActiveIdentity) {
			return "", domain.ErrActiveIdentity
		}
		return "", fmt.Errorf("identity: create record: %w", err)
	}

	go p.run(lora, character)
	return lora.ID, nil
}

// run is the detached task body. Every failure path ends in the record's
// terminal failed state; nothing is rethrown.
func (p *Pipeline) run(lora *domain.CharacterLora, character *domain.Character) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RunTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("lora_id", lora.ID).Interface("panic", r).Msg("identity: training task panicked")
			p.markFailed(lora, fmt.Sprintf("internal: %v", r))
		}
	}()

	log := p.logger.With().Str("lora_id", lora.ID).Str("character_id", character.ID).Logger()
	log.Info().Int("attempt", lora.Attempts).Msg("identity: training started")

	if err := p.execute(ctx, lora, character, log); err != nil {
		log.Error().Err(err).Msg("identity: training failed")
		p.markFailed(lora, err.Error())
		return
	}
	log.Info().Msg("identity: adapter deployed")
}

func (p *Pipeline) execute(ctx context.Context, lora *domain.CharacterLora, character *domain.Character, log zerolog.Logger) error {
	reference, err := p.store.Read(ctx, character.ReferenceImages[0])
	if err != nil {
		return fmt.Errorf("load reference image: %w", err)
	}

	if err := p.advance(ctx, lora, domain.LoraStatusGeneratingDataset); err != nil {
		return err
	}
	specs, err := p.generateDataset(ctx, lora, character, log)
	if err != nil {
		return fmt.Errorf("generate dataset: %w", err)
	}

	if err := p.advance(ctx, lora, domain.LoraStatusEvaluating); err != nil {
		return err
	}
	accepted, err := p.evaluateDataset(ctx, lora, character, reference, log)
	if err != nil {
		return fmt.Errorf("evaluate dataset: %w", err)
	}
	if len(accepted) < p.cfg.MinAcceptedImages {
		return fmt.Errorf("only %d of %d dataset images passed evaluation (need %d)",
			len(accepted), len(specs), p.cfg.MinAcceptedImages)
	}

	if err := p.advance(ctx, lora, domain.LoraStatusCaptioning); err != nil {
		return err
	}
	if err := p.captionDataset(ctx, lora, character, accepted); err != nil {
		return fmt.Errorf("caption dataset: %w", err)
	}

	if err := p.advance(ctx, lora, domain.LoraStatusTraining); err != nil {
		return err
	}
	artifactKey, err := p.train(ctx, lora, character, log)
	if err != nil {
		return fmt.Errorf("train adapter: %w", err)
	}

	if err := p.advance(ctx, lora, domain.LoraStatusValidating); err != nil {
		return err
	}
	score, err := p.validateAdapter(ctx, lora, artifactKey, reference)
	if err != nil {
		return fmt.Errorf("validate adapter: %w", err)
	}
	if score < p.cfg.ValidateThreshold {
		return fmt.Errorf("validation score %.3f below threshold %.3f", score, p.cfg.ValidateThreshold)
	}

	if err := p.loras.MarkDeployed(ctx, lora.ID, artifactKey, score); err != nil {
		return fmt.Errorf("mark deployed: %w", err)
	}
	lora.Status = domain.LoraStatusDeployed
	if p.notifier != nil {
		p.notifier.Invalidate(character.ID)
	}
	return nil
}

// generateDataset renders the planned variations concurrently and registers
// each as a pending dataset image.
func (p *Pipeline) generateDataset(ctx context.Context, lora *domain.CharacterLora, character *domain.Character, log zerolog.Logger) ([]variationSpec, error) {
	specs := planVariations(lora.ID, p.cfg.DatasetSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.RenderConcurrency)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			if _, _, err := p.renderDatasetImage(gctx, lora, character, spec, i); err != nil {
				return fmt.Errorf("render variation %d (%s): %w", i, spec.Variation, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := p.loras.SetDatasetSize(ctx, lora.ID, len(specs)); err != nil {
		log.Warn().Err(err).Msg("identity: record dataset size failed")
	}
	lora.DatasetSize = len(specs)
	return specs, nil
}

// renderDatasetImage renders one planned variation, stores the asset and
// registers the pending dataset row. index keys the storage path and the
// reference image rotation.
func (p *Pipeline) renderDatasetImage(ctx context.Context, lora *domain.CharacterLora, character *domain.Character, spec variationSpec, index int) (*domain.DatasetImage, []byte, error) {
	graph, err := pipeline.BuildVariationGraph(pipeline.VariationRequest{
		Checkpoint:     p.cfg.BaseModel,
		ReferenceImage: character.ReferenceImages[index%len(character.ReferenceImages)],
		Prompt:         variationPrompt(character, spec),
		Seed:           spec.Seed,
		Width:          p.cfg.DatasetWidth,
		Height:         p.cfg.DatasetHeight,
	})
	if err != nil {
		return nil, nil, err
	}
	data, err := p.renderer.Render(ctx, graph)
	if err != nil {
		return nil, nil, err
	}
	key, err := p.store.Write(ctx, datasetImageKey(lora.ID, index), data)
	if err != nil {
		return nil, nil, err
	}
	img := &domain.DatasetImage{
		ID:         uuid.NewString(),
		LoraID:     lora.ID,
		Variation:  spec.Variation,
		Fragment:   spec.Fragment,
		EvalStatus: domain.EvalStatusPending,
		StorageKey: key,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.loras.SaveDatasetImage(ctx, img); err != nil {
		return nil, nil, err
	}
	return img, data, nil
}

// evaluateDataset scores every pending dataset image against the reference
// and returns the accepted ones. A below-threshold image gets one replacement
// render with a fresh seed; the rejected row is kept as replaced for audit.
func (p *Pipeline) evaluateDataset(ctx context.Context, lora *domain.CharacterLora, character *domain.Character, reference []byte, log zerolog.Logger) ([]domain.DatasetImage, error) {
	images, err := p.loras.ListDatasetImages(ctx, lora.ID)
	if err != nil {
		return nil, err
	}
	accepted := make([]domain.DatasetImage, 0, len(images))
	for i, img := range images {
		if img.EvalStatus != domain.EvalStatusPending {
			continue
		}
		data, err := p.store.Read(ctx, img.StorageKey)
		if err != nil {
			return nil, err
		}
		score, err := p.evaluator.Similarity(ctx, reference, data)
		if err != nil {
			return nil, err
		}
		if score >= p.cfg.EvalThreshold {
			if err := p.loras.UpdateDatasetImage(ctx, img.ID, domain.EvalStatusPassed, &score, ""); err != nil {
				return nil, err
			}
			img.EvalStatus = domain.EvalStatusPassed
			img.Score = &score
			accepted = append(accepted, img)
			continue
		}
		log.Info().Str("dataset_image", img.ID).Float64("score", score).Msg("identity: dataset image rejected")
		replacement, err := p.replaceDatasetImage(ctx, lora, character, img, i, score, reference, log)
		if err != nil {
			return nil, err
		}
		if replacement != nil {
			accepted = append(accepted, *replacement)
		}
	}
	return accepted, nil
}

// replaceDatasetImage re-renders a rejected variation once with a fresh seed.
// The old row is marked replaced either way; the new row ends up passed or
// failed on its own score.
func (p *Pipeline) replaceDatasetImage(ctx context.Context, lora *domain.CharacterLora, character *domain.Character, rejected domain.DatasetImage, index int, score float64, reference []byte, log zerolog.Logger) (*domain.DatasetImage, error) {
	if err := p.loras.UpdateDatasetImage(ctx, rejected.ID, domain.EvalStatusReplaced, &score, ""); err != nil {
		return nil, err
	}
	spec := variationSpec{
		Variation: rejected.Variation,
		Fragment:  rejected.Fragment,
		Seed:      seedFromID(lora.ID) + int64(p.cfg.DatasetSize+index),
	}
	replacement, data, err := p.renderDatasetImage(ctx, lora, character, spec, p.cfg.DatasetSize+index)
	if err != nil {
		return nil, fmt.Errorf("render replacement (%s): %w", spec.Variation, err)
	}
	rescore, err := p.evaluator.Similarity(ctx, reference, data)
	if err != nil {
		return nil, err
	}
	status := domain.EvalStatusPassed
	if rescore < p.cfg.EvalThreshold {
		status = domain.EvalStatusFailed
	}
	if err := p.loras.UpdateDatasetImage(ctx, replacement.ID, status, &rescore, ""); err != nil {
		return nil, err
	}
	if status == domain.EvalStatusFailed {
		log.Info().Str("dataset_image", replacement.ID).Float64("score", rescore).Msg("identity: replacement rejected")
		return nil, nil
	}
	replacement.EvalStatus = status
	replacement.Score = &rescore
	return replacement, nil
}

// captionDataset attaches the trigger-word caption to each accepted image,
// built from the fragment the image was actually rendered with.
func (p *Pipeline) captionDataset(ctx context.Context, lora *domain.CharacterLora, character *domain.Character, accepted []domain.DatasetImage) error {
	for i := range accepted {
		spec := variationSpec{Variation: accepted[i].Variation, Fragment: accepted[i].Fragment}
		caption := buildCaption(lora.TriggerWord, spec, character)
		if err := p.loras.UpdateDatasetImage(ctx, accepted[i].ID, domain.EvalStatusPassed, accepted[i].Score, caption); err != nil {
			return err
		}
		accepted[i].Caption = caption
	}
	return nil
}

// train zips the accepted dataset, submits it to the training service, and
// waits for the artifact. Returns the stored adapter key.
func (p *Pipeline) train(ctx context.Context, lora *domain.CharacterLora, character *domain.Character, log zerolog.Logger) (string, error) {
	images, err := p.loras.ListDatasetImages(ctx, lora.ID)
	if err != nil {
		return "", err
	}
	entries := make([]zip.Entry, 0, len(images)*2)
	idx := 0
	for _, img := range images {
		if img.EvalStatus != domain.EvalStatusPassed {
			continue
		}
		data, err := p.store.Read(ctx, img.StorageKey)
		if err != nil {
			return "", err
		}
		name := fmt.Sprintf("img_%03d", idx)
		entries = append(entries,
			zip.Entry{Name: name + ".png", Data: data},
			zip.Entry{Name: name + ".txt", Data: []byte(img.Caption)},
		)
		idx++
	}
	archive, err := zip.Archive(entries)
	if err != nil {
		return "", fmt.Errorf("archive dataset: %w", err)
	}
	zipKey, err := p.store.Write(ctx, fmt.Sprintf("datasets/%s/dataset.zip", lora.ID), archive)
	if err != nil {
		return "", err
	}

	trainID, err := p.trainer.Submit(ctx, TrainRequest{
		DatasetURL:  p.store.PublicURL(zipKey),
		TriggerWord: lora.TriggerWord,
		BaseModel:   lora.BaseModel,
		Steps:       p.cfg.TrainSteps,
	})
	if err != nil {
		return "", err
	}
	log.Info().Str("train_job", trainID).Int("images", idx).Msg("identity: training submitted")

	artifactURL, err := p.awaitTraining(ctx, trainID)
	if err != nil {
		return "", err
	}
	artifact, err := p.trainer.FetchArtifact(ctx, artifactURL)
	if err != nil {
		return "", fmt.Errorf("fetch artifact: %w", err)
	}
	return p.store.Write(ctx, fmt.Sprintf("characters/char_%s.safetensors", character.ID), artifact)
}

func (p *Pipeline) awaitTraining(ctx context.Context, trainID string) (string, error) {
	ticker := time.NewTicker(p.cfg.TrainPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		status, err := p.trainer.Poll(ctx, trainID)
		if err != nil {
			return "", err
		}
		switch status.State {
		case backend.StatePending:
			continue
		case backend.StateFailed:
			return "", errors.New(status.Error)
		case backend.StateCompleted:
			return status.ArtifactURL, nil
		}
	}
}

// validateAdapter renders one sample with the trained adapter and scores it.
func (p *Pipeline) validateAdapter(ctx context.Context, lora *domain.CharacterLora, artifactKey string, reference []byte) (float64, error) {
	graph, err := pipeline.BuildValidationGraph(pipeline.ValidationRequest{
		Checkpoint:  lora.BaseModel,
		AdapterKey:  artifactKey,
		TriggerWord: lora.TriggerWord,
		Seed:        seedFromID(lora.ID) + 9000,
		Width:       p.cfg.DatasetWidth,
		Height:      p.cfg.DatasetHeight,
	})
	if err != nil {
		return 0, err
	}
	sample, err := p.renderer.Render(ctx, graph)
	if err != nil {
		return 0, err
	}
	return p.evaluator.Similarity(ctx, reference, sample)
}

// advance moves the record to the next stage, enforcing forward-only
// progression.
func (p *Pipeline) advance(ctx context.Context, lora *domain.CharacterLora, next domain.LoraStatus) error {
	if !lora.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, lora.Status, next)
	}
	if err := p.loras.UpdateStatus(ctx, lora.ID, next); err != nil {
		return fmt.Errorf("advance to %s: %w", next, err)
	}
	lora.Status = next
	return nil
}

// markFailed records the terminal failure. Uses a fresh context so a
// cancelled run can still write its error.
func (p *Pipeline) markFailed(lora *domain.CharacterLora, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.loras.MarkFailed(ctx, lora.ID, msg); err != nil {
		p.logger.Error().Err(err).Str("lora_id", lora.ID).Msg("identity: mark failed failed")
	}
	lora.Status = domain.LoraStatusFailed
	lora.ErrorMessage = msg
}

// Progress is the polling view of a character's latest identity.
type Progress struct {
	Status          domain.LoraStatus `json:"status"`
	LoraID          string            `json:"lora_id"`
	DatasetSize     int               `json:"dataset_size,omitempty"`
	ValidationScore *float64          `json:"validation_score,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Progress returns the latest identity's progress for a character, or nil
// when training has never been started.
func (p *Pipeline) Progress(ctx context.Context, characterID string) (*Progress, error) {
	lora, err := p.loras.GetLatestByCharacter(ctx, characterID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Progress{
		Status:          lora.Status,
		LoraID:          lora.ID,
		DatasetSize:     lora.DatasetSize,
		ValidationScore: lora.ValidationScore,
		Error:           lora.ErrorMessage,
	}, nil
}

func datasetImageKey(loraID string, index int) string {
	return fmt.Sprintf("datasets/%s/img_%03d.png", loraID, index)
}
