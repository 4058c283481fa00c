// Package backend talks to the diffusion execution vendors. One synchronous
// backend (self-hosted worker) and two asynchronous-poll vendors with
// different response shapes, all normalized into a single tri-state poll
// contract.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// PollState is the normalized tri-state every vendor response maps onto.
type PollState string

const (
	StatePending   PollState = "pending"
	StateCompleted PollState = "completed"
	StateFailed    PollState = "failed"
)

// PollResult is the normalized outcome of one poll call.
type PollResult struct {
	State PollState
	// ImageData holds decoded pixel bytes when the vendor returns them inline.
	ImageData []byte
	// ImageURL holds a hosted result URL when the vendor returns one instead.
	ImageURL string
	Error    string
}

// ImageResult is a synchronous backend's return value.
type ImageResult struct {
	ImageData     []byte
	ExecutionTime time.Duration
}

// Synchronous backends block until the image is ready.
type Synchronous interface {
	Name() domain.BackendKind
	Generate(ctx context.Context, graph *comfy.Graph) (*ImageResult, error)
}

// AsyncPollable backends return an opaque external job id immediately; the
// caller re-invokes Poll until a terminal state comes back.
type AsyncPollable interface {
	Name() domain.BackendKind
	Submit(ctx context.Context, graph *comfy.Graph) (string, error)
	Poll(ctx context.Context, externalID string) (*PollResult, error)
}

// VendorError carries a non-success vendor HTTP response. Never retried
// automatically; surfaced to the caller as-is.
type VendorError struct {
	Vendor     string
	StatusCode int
	Body       string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Vendor, e.StatusCode, e.Body)
}

// JobRef is a typed reference to a vendor job: which backend owns it plus the
// vendor's external id. Its string form ("runpod:abc123") is what clients that
// only hold a vendor id poll with.
type JobRef struct {
	Backend    domain.BackendKind
	ExternalID string
}

func (r JobRef) String() string {
	return string(r.Backend) + ":" + r.ExternalID
}

// ParseJobRef parses a backend-prefixed external id. ok=false when the string
// carries no recognized backend tag.
func ParseJobRef(s string) (JobRef, bool) {
	tag, rest, found := strings.Cut(s, ":")
	if !found || rest == "" {
		return JobRef{}, false
	}
	switch kind := domain.BackendKind(tag); kind {
	case domain.BackendSelfHosted, domain.BackendRunPod, domain.BackendComfyDeploy:
		return JobRef{Backend: kind, ExternalID: rest}, true
	default:
		return JobRef{}, false
	}
}
