package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/storage"
)

type memCharacterRepo struct {
	characters map[string]*domain.Character
}

func (r *memCharacterRepo) GetByID(ctx context.Context, id string) (*domain.Character, error) {
	c, ok := r.characters[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

// memLoraRepo is safe for the detached training goroutine plus the test
// goroutine polling it.
type memLoraRepo struct {
	mu     sync.Mutex
	loras  map[string]*domain.CharacterLora
	images map[string]*domain.DatasetImage
}

func newMemLoraRepo() *memLoraRepo {
	return &memLoraRepo{
		loras:  make(map[string]*domain.CharacterLora),
		images: make(map[string]*domain.DatasetImage),
	}
}

func (r *memLoraRepo) Create(ctx context.Context, lora *domain.CharacterLora) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.loras {
		if existing.CharacterID == lora.CharacterID && existing.Status.Active() {
			return domain.ErrActiveIdentity
		}
	}
	cp := *lora
	r.loras[lora.ID] = &cp
	return nil
}

func (r *memLoraRepo) GetByID(ctx context.Context, id string) (*domain.CharacterLora, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lora, ok := r.loras[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *lora
	return &cp, nil
}

func (r *memLoraRepo) GetActiveByCharacter(ctx context.Context, characterID string) (*domain.CharacterLora, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lora := range r.loras {
		if lora.CharacterID == characterID && lora.Status.Active() {
			cp := *lora
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memLoraRepo) GetLatestByCharacter(ctx context.Context, characterID string) (*domain.CharacterLora, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.CharacterLora
	for _, lora := range r.loras {
		if lora.CharacterID != characterID {
			continue
		}
		if latest == nil || lora.CreatedAt.After(latest.CreatedAt) {
			latest = lora
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *memLoraRepo) GetDeployedByCharacter(ctx context.Context, characterID string) (*domain.CharacterLora, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lora := range r.loras {
		if lora.CharacterID == characterID && lora.Status == domain.LoraStatusDeployed {
			cp := *lora
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memLoraRepo) UpdateStatus(ctx context.Context, id string, status domain.LoraStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lora, ok := r.loras[id]; ok {
		lora.Status = status
	}
	return nil
}

func (r *memLoraRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lora, ok := r.loras[id]; ok {
		lora.Status = domain.LoraStatusFailed
		lora.ErrorMessage = errMsg
	}
	return nil
}

func (r *memLoraRepo) MarkDeployed(ctx context.Context, id string, artifactKey string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lora, ok := r.loras[id]; ok {
		lora.Status = domain.LoraStatusDeployed
		lora.ArtifactKey = artifactKey
		lora.ValidationScore = &score
	}
	return nil
}

func (r *memLoraRepo) SetDatasetSize(ctx context.Context, id string, size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lora, ok := r.loras[id]; ok {
		lora.DatasetSize = size
	}
	return nil
}

func (r *memLoraRepo) SaveDatasetImage(ctx context.Context, img *domain.DatasetImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *img
	r.images[img.ID] = &cp
	return nil
}

func (r *memLoraRepo) ListDatasetImages(ctx context.Context, loraID string) ([]domain.DatasetImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DatasetImage
	for _, img := range r.images {
		if img.LoraID == loraID {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (r *memLoraRepo) UpdateDatasetImage(ctx context.Context, id string, status domain.EvalStatus, score *float64, caption string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if img, ok := r.images[id]; ok {
		img.EvalStatus = status
		if score != nil {
			img.Score = score
		}
		if caption != "" {
			img.Caption = caption
		}
	}
	return nil
}

type rendererFunc func(ctx context.Context, graph *comfy.Graph) ([]byte, error)

func (f rendererFunc) Render(ctx context.Context, graph *comfy.Graph) ([]byte, error) {
	return f(ctx, graph)
}

type stubNotifier struct {
	mu          sync.Mutex
	invalidated []string
}

func (n *stubNotifier) Invalidate(characterID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invalidated = append(n.invalidated, characterID)
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.invalidated)
}

type pipelineHarness struct {
	pipeline *Pipeline
	loras    *memLoraRepo
	notifier *stubNotifier
	store    *storage.FileStore
}

// harnessConfig tunes the httptest vendors behind a pipeline harness.
type harnessConfig struct {
	score       func(candidate []byte) float64
	render      rendererFunc
	concurrency int
}

// newHarness wires a pipeline against httptest vendors. similarity is the
// score the evaluator answers with for every pair.
func newHarness(t *testing.T, similarity float64) *pipelineHarness {
	return newHarnessWith(t, harnessConfig{
		score: func([]byte) float64 { return similarity },
	})
}

func newHarnessWith(t *testing.T, hc harnessConfig) *pipelineHarness {
	t.Helper()

	evalSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/similarity", r.URL.Path)
		var req similarityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		candidate, err := base64.StdEncoding.DecodeString(req.ImageB)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]float64{"similarity": hc.score(candidate)})
	}))
	t.Cleanup(evalSrv.Close)

	mux := http.NewServeMux()
	trainSrv := httptest.NewServer(mux)
	t.Cleanup(trainSrv.Close)
	mux.HandleFunc("/v2/train-ep/run", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "train-1"})
	})
	mux.HandleFunc("/v2/train-ep/status/train-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "COMPLETED",
			"output": map[string]string{"lora_url": trainSrv.URL + "/artifact"},
		})
	})
	mux.HandleFunc("/artifact", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("safetensors-bytes"))
	})

	evaluator, err := NewEvaluator(EvaluatorOptions{BaseURL: evalSrv.URL})
	require.NoError(t, err)
	trainer, err := NewTrainer(TrainerOptions{BaseURL: trainSrv.URL, APIKey: "key", EndpointID: "train-ep"})
	require.NoError(t, err)

	store, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/static")
	require.NoError(t, err)
	_, err = store.Write(context.Background(), "refs/char-1.png", []byte("reference-bytes"))
	require.NoError(t, err)

	characters := &memCharacterRepo{characters: map[string]*domain.Character{
		"char-1": {
			ID:               "char-1",
			Name:             "Amara",
			Gender:           domain.CharacterGenderFemale,
			TriggerWord:      "nsw_amara",
			AppearancePrompt: "dark curly hair, brown eyes",
			ReferenceImages:  []string{"refs/char-1.png"},
		},
		"char-noref": {ID: "char-noref", Name: "Ghost", TriggerWord: "nsw_ghost"},
	}}

	loras := newMemLoraRepo()
	notifier := &stubNotifier{}
	renderer := hc.render
	if renderer == nil {
		renderer = func(ctx context.Context, graph *comfy.Graph) ([]byte, error) {
			return []byte("rendered-png"), nil
		}
	}
	concurrency := hc.concurrency
	if concurrency == 0 {
		concurrency = 2
	}

	p := NewPipeline(characters, loras, store, renderer, evaluator, trainer, notifier, zerolog.Nop(), Config{
		DatasetSize:       5,
		MinAcceptedImages: 3,
		RenderConcurrency: concurrency,
		TrainPollInterval: 10 * time.Millisecond,
		RunTimeout:        5 * time.Second,
	})
	return &pipelineHarness{pipeline: p, loras: loras, notifier: notifier, store: store}
}

func (h *pipelineHarness) waitTerminal(t *testing.T, loraID string) *domain.CharacterLora {
	t.Helper()
	var lora *domain.CharacterLora
	require.Eventually(t, func() bool {
		var err error
		lora, err = h.loras.GetByID(context.Background(), loraID)
		return err == nil && lora.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return lora
}

func TestStartTraining_DeploysThroughAllStages(t *testing.T) {
	h := newHarness(t, 0.9)

	loraID, err := h.pipeline.StartTraining(context.Background(), "char-1")
	require.NoError(t, err)

	lora := h.waitTerminal(t, loraID)
	assert.Equal(t, domain.LoraStatusDeployed, lora.Status)
	assert.Equal(t, "characters/char_char-1.safetensors", lora.ArtifactKey)
	require.NotNil(t, lora.ValidationScore)
	assert.InDelta(t, 0.9, *lora.ValidationScore, 1e-9)
	assert.Equal(t, 5, lora.DatasetSize)
	assert.Equal(t, 1, h.notifier.count())

	artifact, err := h.store.Read(context.Background(), lora.ArtifactKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("safetensors-bytes"), artifact)

	images, err := h.loras.ListDatasetImages(context.Background(), loraID)
	require.NoError(t, err)
	require.Len(t, images, 5)
	for _, img := range images {
		assert.Equal(t, domain.EvalStatusPassed, img.EvalStatus)
		assert.True(t, strings.HasPrefix(img.Caption, "nsw_amara, "), "caption %q must lead with trigger word", img.Caption)
	}
}

func TestStartTraining_RejectsSecondActiveRun(t *testing.T) {
	h := newHarness(t, 0.9)

	first, err := h.pipeline.StartTraining(context.Background(), "char-1")
	require.NoError(t, err)

	// Immediately after start the first run is still active.
	_, err = h.pipeline.StartTraining(context.Background(), "char-1")
	assert.ErrorIs(t, err, domain.ErrActiveIdentity)

	h.waitTerminal(t, first)
}

func TestStartTraining_RequiresReferenceImages(t *testing.T) {
	h := newHarness(t, 0.9)
	_, err := h.pipeline.StartTraining(context.Background(), "char-noref")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStartTraining_UnknownCharacter(t *testing.T) {
	h := newHarness(t, 0.9)
	_, err := h.pipeline.StartTraining(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartTraining_LowSimilarityFailsTerminal(t *testing.T) {
	h := newHarness(t, 0.1)

	loraID, err := h.pipeline.StartTraining(context.Background(), "char-1")
	require.NoError(t, err)

	lora := h.waitTerminal(t, loraID)
	assert.Equal(t, domain.LoraStatusFailed, lora.Status)
	assert.Contains(t, lora.ErrorMessage, "passed evaluation")
	assert.Zero(t, h.notifier.count())
}

func TestStartTraining_AttemptsIncrementAfterFailure(t *testing.T) {
	h := newHarness(t, 0.1)

	first, err := h.pipeline.StartTraining(context.Background(), "char-1")
	require.NoError(t, err)
	h.waitTerminal(t, first)

	// Failed runs no longer block; the retry carries attempt 2.
	second, err := h.pipeline.StartTraining(context.Background(), "char-1")
	require.NoError(t, err)
	lora, err := h.loras.GetByID(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, 2, lora.Attempts)
	h.waitTerminal(t, second)
}

func TestStartTraining_ReplacesRejectedDatasetImage(t *testing.T) {
	// The first render drifts off-identity; every later render is fine.
	var mu sync.Mutex
	renders := 0
	h := newHarnessWith(t, harnessConfig{
		concurrency: 1,
		render: func(ctx context.Context, graph *comfy.Graph) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			renders++
			if renders == 1 {
				return []byte("off-identity-png"), nil
			}
			return []byte("on-identity-png"), nil
		},
		score: func(candidate []byte) float64 {
			if string(candidate) == "off-identity-png" {
				return 0.2
			}
			return 0.9
		},
	})

	loraID, err := h.pipeline.StartTraining(context.Background(), "char-1")
	require.NoError(t, err)
	lora := h.waitTerminal(t, loraID)
	assert.Equal(t, domain.LoraStatusDeployed, lora.Status)

	images, err := h.loras.ListDatasetImages(context.Background(), loraID)
	require.NoError(t, err)
	require.Len(t, images, 6)

	originalKeys := map[string]bool{}
	for i := 0; i < 5; i++ {
		originalKeys[datasetImageKey(loraID, i)] = true
	}
	var replaced *domain.DatasetImage
	var substitute *domain.DatasetImage
	passed := 0
	for i := range images {
		switch images[i].EvalStatus {
		case domain.EvalStatusReplaced:
			replaced = &images[i]
		case domain.EvalStatusPassed:
			passed++
			if !originalKeys[images[i].StorageKey] {
				substitute = &images[i]
			}
		}
	}
	assert.Equal(t, 5, passed)
	require.NotNil(t, replaced, "rejected image must be kept as replaced")
	require.NotNil(t, substitute, "a replacement render must be registered")
	require.NotNil(t, replaced.Score)
	assert.InDelta(t, 0.2, *replaced.Score, 1e-9)

	// The replacement re-renders the same variation with the same fragment.
	assert.Equal(t, replaced.Variation, substitute.Variation)
	assert.Equal(t, replaced.Fragment, substitute.Fragment)
	assert.Empty(t, replaced.Caption)
	assert.Contains(t, substitute.Caption, substitute.Fragment)
}

func TestStartTraining_CaptionsUseRenderedFragment(t *testing.T) {
	h := newHarness(t, 0.9)

	loraID, err := h.pipeline.StartTraining(context.Background(), "char-1")
	require.NoError(t, err)
	h.waitTerminal(t, loraID)

	images, err := h.loras.ListDatasetImages(context.Background(), loraID)
	require.NoError(t, err)
	require.Len(t, images, 5)
	for _, img := range images {
		require.NotEmpty(t, img.Fragment)
		assert.Contains(t, img.Caption, img.Fragment,
			"caption %q must describe the rendered fragment", img.Caption)
	}
}

func TestProgress(t *testing.T) {
	h := newHarness(t, 0.9)
	ctx := context.Background()

	progress, err := h.pipeline.Progress(ctx, "char-1")
	require.NoError(t, err)
	assert.Nil(t, progress)

	loraID, err := h.pipeline.StartTraining(ctx, "char-1")
	require.NoError(t, err)
	h.waitTerminal(t, loraID)

	progress, err = h.pipeline.Progress(ctx, "char-1")
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, loraID, progress.LoraID)
	assert.Equal(t, domain.LoraStatusDeployed, progress.Status)
	assert.Equal(t, 5, progress.DatasetSize)
}
