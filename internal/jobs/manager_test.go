package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/backend"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/storage"
)

type memJobRepo struct {
	jobs map[string]*domain.GenerationJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*domain.GenerationJob)}
}

func (r *memJobRepo) Create(ctx context.Context, job *domain.GenerationJob) error {
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, id string) (*domain.GenerationJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) GetByExternalID(ctx context.Context, kind domain.BackendKind, externalID string) (*domain.GenerationJob, error) {
	for _, job := range r.jobs {
		if job.Backend == kind && job.ExternalJobID == externalID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memJobRepo) MarkRunning(ctx context.Context, id string) error {
	if job, ok := r.jobs[id]; ok && job.Status == domain.JobStatusPending {
		job.Status = domain.JobStatusRunning
	}
	return nil
}

func (r *memJobRepo) MarkCompleted(ctx context.Context, id string, resultKey string, seed *int64) error {
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = domain.JobStatusCompleted
	job.ResultKey = resultKey
	if seed != nil {
		job.Seed = seed
	}
	return nil
}

func (r *memJobRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = errMsg
	return nil
}

type memImageRepo struct {
	updates map[string]domain.ImageStatus
}

func newMemImageRepo() *memImageRepo {
	return &memImageRepo{updates: make(map[string]domain.ImageStatus)}
}

func (r *memImageRepo) Create(ctx context.Context, img *domain.Image) error { return nil }
func (r *memImageRepo) GetByID(ctx context.Context, id string) (*domain.Image, error) {
	return nil, domain.ErrNotFound
}
func (r *memImageRepo) UpdateResult(ctx context.Context, id string, storageKey, url string, status domain.ImageStatus) error {
	r.updates[id] = status
	return nil
}

// scriptedPoller plays back canned poll results and counts vendor calls.
type scriptedPoller struct {
	kind      domain.BackendKind
	submitID  string
	submitErr error
	results   []*backend.PollResult
	polls     int
}

func (p *scriptedPoller) Name() domain.BackendKind { return p.kind }

func (p *scriptedPoller) Submit(ctx context.Context, graph *comfy.Graph) (string, error) {
	return p.submitID, p.submitErr
}

func (p *scriptedPoller) Poll(ctx context.Context, externalID string) (*backend.PollResult, error) {
	if p.polls >= len(p.results) {
		return nil, errors.New("poller: no more scripted results")
	}
	res := p.results[p.polls]
	p.polls++
	return res, nil
}

type fakeSync struct {
	result *backend.ImageResult
	err    error
}

func (f *fakeSync) Name() domain.BackendKind { return domain.BackendSelfHosted }
func (f *fakeSync) Generate(ctx context.Context, graph *comfy.Graph) (*backend.ImageResult, error) {
	return f.result, f.err
}

func emptyGraph() *comfy.Graph {
	g := comfy.New()
	g.CheckpointLoader("10", "base.safetensors")
	return g
}

func newTestManager(t *testing.T, sync backend.Synchronous, pollers ...backend.AsyncPollable) (*Manager, *memJobRepo, *memImageRepo) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/static")
	require.NoError(t, err)
	jobRepo := newMemJobRepo()
	imageRepo := newMemImageRepo()
	return NewManager(jobRepo, imageRepo, store, sync, pollers, zerolog.Nop()), jobRepo, imageRepo
}

func TestSubmit_SynchronousCompletesInline(t *testing.T) {
	sync := &fakeSync{result: &backend.ImageResult{ImageData: []byte("png")}}
	m, repo, images := newTestManager(t, sync)

	job, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{
		Backend: domain.BackendSelfHosted,
		ImageID: "img-1",
		Seed:    42,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.NotEmpty(t, job.ResultKey)

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Equal(t, domain.ImageStatusReady, images.updates["img-1"])
}

func TestSubmit_SynchronousFailureIsTerminal(t *testing.T) {
	sync := &fakeSync{err: errors.New("worker exploded")}
	m, repo, images := newTestManager(t, sync)

	job, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{
		Backend: domain.BackendSelfHosted,
		ImageID: "img-1",
	})
	require.Error(t, err)
	require.NotNil(t, job)

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "worker exploded")
	assert.Equal(t, domain.ImageStatusFailed, images.updates["img-1"])
}

func TestSubmit_AsyncRecordsExternalID(t *testing.T) {
	poller := &scriptedPoller{kind: domain.BackendRunPod, submitID: "rp-1"}
	m, repo, _ := newTestManager(t, nil, poller)

	job, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{Backend: domain.BackendRunPod})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, "rp-1", job.ExternalJobID)

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "rp-1", stored.ExternalJobID)
}

func TestSubmit_UnconfiguredBackend(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	_, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{Backend: domain.BackendComfyDeploy})
	assert.Error(t, err)
}

func TestPoll_PendingMarksRunning(t *testing.T) {
	poller := &scriptedPoller{
		kind:     domain.BackendRunPod,
		submitID: "rp-1",
		results:  []*backend.PollResult{{State: backend.StatePending}},
	}
	m, repo, _ := newTestManager(t, nil, poller)
	job, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{Backend: domain.BackendRunPod})
	require.NoError(t, err)

	status, err := m.Poll(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, status.Completed)

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, stored.Status)
}

func TestPoll_CompletedStoresInlineData(t *testing.T) {
	poller := &scriptedPoller{
		kind:     domain.BackendRunPod,
		submitID: "rp-1",
		results:  []*backend.PollResult{{State: backend.StateCompleted, ImageData: []byte("png")}},
	}
	m, _, images := newTestManager(t, nil, poller)
	job, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{Backend: domain.BackendRunPod, ImageID: "img-9"})
	require.NoError(t, err)

	status, err := m.Poll(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, status.Completed)
	assert.Contains(t, status.ImageURL, "http://localhost:8080/static/")
	assert.Equal(t, domain.ImageStatusReady, images.updates["img-9"])
}

func TestPoll_CompletedWithHostedURL(t *testing.T) {
	poller := &scriptedPoller{
		kind:     domain.BackendComfyDeploy,
		submitID: "cd-1",
		results:  []*backend.PollResult{{State: backend.StateCompleted, ImageURL: "https://cdn.example.com/out.png"}},
	}
	m, _, _ := newTestManager(t, nil, poller)
	job, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{Backend: domain.BackendComfyDeploy})
	require.NoError(t, err)

	status, err := m.Poll(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, status.Completed)
	assert.Equal(t, "https://cdn.example.com/out.png", status.ImageURL)
}

func TestPoll_TerminalReplaysWithoutVendorCall(t *testing.T) {
	poller := &scriptedPoller{
		kind:     domain.BackendRunPod,
		submitID: "rp-1",
		results:  []*backend.PollResult{{State: backend.StateCompleted, ImageData: []byte("png")}},
	}
	m, _, _ := newTestManager(t, nil, poller)
	job, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{Backend: domain.BackendRunPod})
	require.NoError(t, err)

	first, err := m.Poll(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, first.Completed)
	require.Equal(t, 1, poller.polls)

	// Later polls replay the stored answer; the vendor is never asked again.
	for i := 0; i < 3; i++ {
		again, err := m.Poll(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ImageURL, again.ImageURL)
		assert.True(t, again.Completed)
	}
	assert.Equal(t, 1, poller.polls)
}

func TestPoll_FailureIsTerminalAndReplayed(t *testing.T) {
	poller := &scriptedPoller{
		kind:     domain.BackendRunPod,
		submitID: "rp-1",
		results:  []*backend.PollResult{{State: backend.StateFailed, Error: "CUDA out of memory"}},
	}
	m, _, _ := newTestManager(t, nil, poller)
	job, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{Backend: domain.BackendRunPod})
	require.NoError(t, err)

	status, err := m.Poll(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, status.Completed)
	assert.Equal(t, "CUDA out of memory", status.Error)

	again, err := m.Poll(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "CUDA out of memory", again.Error)
	assert.Equal(t, 1, poller.polls)
}

func TestPoll_ResolvesBackendPrefixedRef(t *testing.T) {
	poller := &scriptedPoller{
		kind:     domain.BackendRunPod,
		submitID: "vendor-abc",
		results:  []*backend.PollResult{{State: backend.StatePending}},
	}
	m, _, _ := newTestManager(t, nil, poller)
	_, err := m.Submit(context.Background(), emptyGraph(), SubmitOptions{Backend: domain.BackendRunPod})
	require.NoError(t, err)

	status, err := m.Poll(context.Background(), "runpod:vendor-abc")
	require.NoError(t, err)
	assert.False(t, status.Completed)
}

func TestPoll_UnknownJob(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	_, err := m.Poll(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
