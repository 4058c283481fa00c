package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/backend"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
)

// Renderer runs one graph to completion and returns the image bytes. The
// training pipeline is a detached long-running task, so waiting on an async
// vendor here is fine; generation jobs never do this.
type Renderer interface {
	Render(ctx context.Context, graph *comfy.Graph) ([]byte, error)
}

// NewSyncRenderer adapts a synchronous backend into a Renderer.
func NewSyncRenderer(b backend.Synchronous) Renderer {
	return syncRenderer{b: b}
}

type syncRenderer struct {
	b backend.Synchronous
}

func (r syncRenderer) Render(ctx context.Context, graph *comfy.Graph) ([]byte, error) {
	result, err := r.b.Generate(ctx, graph)
	if err != nil {
		return nil, err
	}
	return result.ImageData, nil
}

// NewPollRenderer adapts an async vendor into a Renderer by submitting and
// polling on an interval until terminal.
func NewPollRenderer(b backend.AsyncPollable, interval time.Duration) Renderer {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &pollRenderer{b: b, interval: interval, httpClient: &http.Client{Timeout: 60 * time.Second}}
}

type pollRenderer struct {
	b          backend.AsyncPollable
	interval   time.Duration
	httpClient *http.Client
}

func (r *pollRenderer) Render(ctx context.Context, graph *comfy.Graph) ([]byte, error) {
	id, err := r.b.Submit(ctx, graph)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		result, err := r.b.Poll(ctx, id)
		if err != nil {
			return nil, err
		}
		switch result.State {
		case backend.StatePending:
			continue
		case backend.StateFailed:
			return nil, fmt.Errorf("render: %s", result.Error)
		case backend.StateCompleted:
			if len(result.ImageData) > 0 {
				return result.ImageData, nil
			}
			if result.ImageURL != "" {
				return r.fetch(ctx, result.ImageURL)
			}
			return nil, errors.New("render: completed with no output")
		}
	}
}

func (r *pollRenderer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return nil, &backend.VendorError{Vendor: "render-fetch", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}
