// Package jobs owns the generation job lifecycle: submission to a backend,
// poll normalization, and terminal bookkeeping. Status is monotonic; a
// terminal job replays its stored answer on every later poll.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/backend"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/storage"
)

// Status is the normalized poll answer returned to clients.
type Status struct {
	JobID     string `json:"job_id"`
	Completed bool   `json:"completed"`
	ImageURL  string `json:"image_url,omitempty"`
	Seed      *int64 `json:"seed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Manager coordinates jobs across one synchronous backend and any number of
// asynchronous-poll vendors. It performs no background polling of its own;
// clients drive Poll.
type Manager struct {
	jobs   domain.JobRepository
	images domain.ImageRepository
	store  *storage.FileStore
	sync   backend.Synchronous
	async  map[domain.BackendKind]backend.AsyncPollable
	logger zerolog.Logger
}

// NewManager wires a job manager.
func NewManager(
	jobs domain.JobRepository,
	images domain.ImageRepository,
	store *storage.FileStore,
	sync backend.Synchronous,
	pollers []backend.AsyncPollable,
	logger zerolog.Logger,
) *Manager {
	async := make(map[domain.BackendKind]backend.AsyncPollable, len(pollers))
	for _, p := range pollers {
		async[p.Name()] = p
	}
	return &Manager{
		jobs:   jobs,
		images: images,
		store:  store,
		sync:   sync,
		async:  async,
		logger: logger,
	}
}

// SubmitOptions carries submission metadata.
type SubmitOptions struct {
	Backend domain.BackendKind
	ImageID string
	// Seed is the realized base seed recorded with the result.
	Seed int64
}

// Submit sends a built graph to the chosen backend. For the synchronous
// backend the call blocks until the image is ready; for async vendors it
// returns as soon as the vendor acknowledges the job.
func (m *Manager) Submit(ctx context.Context, graph *comfy.Graph, opts SubmitOptions) (*domain.GenerationJob, error) {
	seed := opts.Seed
	job := &domain.GenerationJob{
		ID:          uuid.NewString(),
		ImageID:     opts.ImageID,
		Backend:     opts.Backend,
		Status:      domain.JobStatusPending,
		Seed:        &seed,
		SubmittedAt: time.Now().UTC(),
	}

	if opts.Backend == domain.BackendSelfHosted {
		if m.sync == nil {
			return nil, fmt.Errorf("jobs: synchronous backend not configured")
		}
		if err := m.jobs.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("jobs: create job: %w", err)
		}
		result, err := m.sync.Generate(ctx, graph)
		if err != nil {
			m.failJob(ctx, job, err.Error())
			return job, err
		}
		m.completeWithData(ctx, job, result.ImageData)
		return job, nil
	}

	poller, ok := m.async[opts.Backend]
	if !ok {
		return nil, fmt.Errorf("jobs: backend %q not configured", opts.Backend)
	}
	externalID, err := poller.Submit(ctx, graph)
	if err != nil {
		return nil, err
	}
	job.ExternalJobID = externalID
	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("jobs: create job: %w", err)
	}
	return job, nil
}

// Poll returns the normalized status for a job. Accepts the internal job id
// or a backend-prefixed external ref ("runpod:<vendor-id>"). Terminal jobs
// replay their stored answer without touching the vendor.
func (m *Manager) Poll(ctx context.Context, idOrRef string) (*Status, error) {
	job, err := m.resolve(ctx, idOrRef)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return m.statusOf(job), nil
	}

	poller, ok := m.async[job.Backend]
	if !ok {
		return nil, fmt.Errorf("jobs: backend %q not configured", job.Backend)
	}
	result, err := poller.Poll(ctx, job.ExternalJobID)
	if err != nil {
		return nil, err
	}

	switch result.State {
	case backend.StatePending:
		if job.Status == domain.JobStatusPending {
			if err := m.jobs.MarkRunning(ctx, job.ID); err != nil {
				m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: mark running failed")
			} else {
				job.Status = domain.JobStatusRunning
			}
		}
	case backend.StateCompleted:
		if len(result.ImageData) > 0 {
			m.completeWithData(ctx, job, result.ImageData)
		} else {
			m.completeWithURL(ctx, job, result.ImageURL)
		}
	case backend.StateFailed:
		m.failJob(ctx, job, result.Error)
	}

	return m.statusOf(job), nil
}

func (m *Manager) resolve(ctx context.Context, idOrRef string) (*domain.GenerationJob, error) {
	if ref, ok := backend.ParseJobRef(idOrRef); ok {
		return m.jobs.GetByExternalID(ctx, ref.Backend, ref.ExternalID)
	}
	return m.jobs.GetByID(ctx, idOrRef)
}

// completeWithData stores the decoded asset, then finalizes. Bookkeeping
// failures after the asset is safely stored are logged, not surfaced; the
// primary operation already succeeded.
func (m *Manager) completeWithData(ctx context.Context, job *domain.GenerationJob, data []byte) {
	key := fmt.Sprintf("generated/images/%s.png", job.ID)
	storedKey, err := m.store.Write(ctx, key, data)
	if err != nil {
		m.failJob(ctx, job, fmt.Sprintf("store result: %v", err))
		return
	}
	m.finalize(ctx, job, storedKey, m.store.PublicURL(storedKey))
}

// completeWithURL finalizes a job whose vendor hosts the result itself.
func (m *Manager) completeWithURL(ctx context.Context, job *domain.GenerationJob, url string) {
	m.finalize(ctx, job, url, url)
}

func (m *Manager) finalize(ctx context.Context, job *domain.GenerationJob, resultKey, url string) {
	if err := m.jobs.MarkCompleted(ctx, job.ID, resultKey, job.Seed); err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: mark completed failed")
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusCompleted
	job.ResultKey = resultKey
	job.CompletedAt = &now

	if job.ImageID != "" {
		if err := m.images.UpdateResult(ctx, job.ImageID, resultKey, url, domain.ImageStatusReady); err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID).Str("image_id", job.ImageID).
				Msg("jobs: image record update failed after asset stored")
		}
	}
}

func (m *Manager) failJob(ctx context.Context, job *domain.GenerationJob, msg string) {
	if err := m.jobs.MarkFailed(ctx, job.ID, msg); err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: mark failed failed")
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = msg
	job.CompletedAt = &now

	if job.ImageID != "" {
		if err := m.images.UpdateResult(ctx, job.ImageID, "", "", domain.ImageStatusFailed); err != nil {
			m.logger.Warn().Err(err).Str("image_id", job.ImageID).Msg("jobs: image record update failed")
		}
	}
}

func (m *Manager) statusOf(job *domain.GenerationJob) *Status {
	st := &Status{
		JobID:     job.ID,
		Completed: job.Status == domain.JobStatusCompleted,
		Seed:      job.Seed,
		Error:     job.ErrorMessage,
	}
	if st.Completed && job.ResultKey != "" {
		if isHTTPURL(job.ResultKey) {
			st.ImageURL = job.ResultKey
		} else {
			st.ImageURL = m.store.PublicURL(job.ResultKey)
		}
	}
	return st
}

func isHTTPURL(s string) bool {
	return len(s) > 7 && (s[:7] == "http://" || (len(s) > 8 && s[:8] == "https://"))
}
