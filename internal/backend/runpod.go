package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// RunPodOptions configures the RunPod serverless client.
type RunPodOptions struct {
	BaseURL    string
	APIKey     string
	EndpointID string
	HTTPClient *http.Client
	// SubmitsPerMinute caps job submissions against the endpoint; 0 disables
	// the limiter.
	SubmitsPerMinute int
}

// RunPodClient drives a RunPod serverless ComfyUI endpoint.
type RunPodClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	endpointID string
	limiter    *rate.Limiter
}

// NewRunPodClient validates credentials up front; a missing key or endpoint
// is a configuration error, not something to discover at submit time.
func NewRunPodClient(opts RunPodOptions) (*RunPodClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("runpod: api key is required")
	}
	if strings.TrimSpace(opts.EndpointID) == "" {
		return nil, errors.New("runpod: endpoint id is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.runpod.ai"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	var limiter *rate.Limiter
	if opts.SubmitsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.SubmitsPerMinute)), opts.SubmitsPerMinute)
	}
	return &RunPodClient{
		httpClient: client,
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
		endpointID: strings.TrimSpace(opts.EndpointID),
		limiter:    limiter,
	}, nil
}

func (c *RunPodClient) Name() domain.BackendKind { return domain.BackendRunPod }

type runpodSubmitRequest struct {
	Input runpodInput `json:"input"`
}

type runpodInput struct {
	Workflow *comfy.Graph `json:"workflow"`
}

type runpodSubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type runpodStatusResponse struct {
	Status string `json:"status"`
	Output struct {
		Images []struct {
			Data string `json:"data"`
		} `json:"images"`
	} `json:"output"`
	Error string `json:"error"`
}

// Submit enqueues the graph and returns RunPod's opaque job id.
func (c *RunPodClient) Submit(ctx context.Context, graph *comfy.Graph) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	body, err := json.Marshal(runpodSubmitRequest{Input: runpodInput{Workflow: graph}})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/v2/%s/run", c.baseURL, c.endpointID)
	raw, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	var out runpodSubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("runpod: decode submit response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("runpod: submit returned no job id")
	}
	return out.ID, nil
}

// Poll fetches the vendor status and normalizes it. Vendor statuses IN_QUEUE
// and IN_PROGRESS map to pending; COMPLETED carries inline base64 images.
func (c *RunPodClient) Poll(ctx context.Context, externalID string) (*PollResult, error) {
	endpoint := fmt.Sprintf("%s/v2/%s/status/%s", c.baseURL, c.endpointID, externalID)
	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var out runpodStatusResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("runpod: decode status response: %w", err)
	}
	switch out.Status {
	case "IN_QUEUE", "IN_PROGRESS":
		return &PollResult{State: StatePending}, nil
	case "COMPLETED":
		if len(out.Output.Images) == 0 {
			return &PollResult{State: StateFailed, Error: "runpod: completed with no images"}, nil
		}
		data, err := base64.StdEncoding.DecodeString(out.Output.Images[0].Data)
		if err != nil {
			return nil, fmt.Errorf("runpod: decode image: %w", err)
		}
		return &PollResult{State: StateCompleted, ImageData: data}, nil
	case "FAILED":
		msg := out.Error
		if msg == "" {
			msg = "runpod: job failed"
		}
		return &PollResult{State: StateFailed, Error: msg}, nil
	default:
		return nil, fmt.Errorf("runpod: unknown status %q", out.Status)
	}
}

func (c *RunPodClient) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &VendorError{Vendor: "runpod", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

var _ AsyncPollable = (*RunPodClient)(nil)
