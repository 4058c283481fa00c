package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// ComfyDeployOptions configures the ComfyDeploy client.
type ComfyDeployOptions struct {
	BaseURL          string
	APIKey           string
	DeploymentID     string
	HTTPClient       *http.Client
	SubmitsPerMinute int
}

// ComfyDeployClient drives a ComfyDeploy hosted deployment. Same normalized
// contract as RunPod but a different wire shape: lowercase statuses and
// hosted result URLs instead of inline base64.
type ComfyDeployClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	deploymentID string
	limiter      *rate.Limiter
}

// NewComfyDeployClient validates configuration and builds the client.
func NewComfyDeployClient(opts ComfyDeployOptions) (*ComfyDeployClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("comfydeploy: api key is required")
	}
	if strings.TrimSpace(opts.DeploymentID) == "" {
		return nil, errors.New("comfydeploy: deployment id is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://www.comfydeploy.com"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	var limiter *rate.Limiter
	if opts.SubmitsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.SubmitsPerMinute)), opts.SubmitsPerMinute)
	}
	return &ComfyDeployClient{
		httpClient:   client,
		baseURL:      base,
		apiKey:       strings.TrimSpace(opts.APIKey),
		deploymentID: strings.TrimSpace(opts.DeploymentID),
		limiter:      limiter,
	}, nil
}

func (c *ComfyDeployClient) Name() domain.BackendKind { return domain.BackendComfyDeploy }

type comfyDeployRunRequest struct {
	DeploymentID string            `json:"deployment_id"`
	Inputs       comfyDeployInputs `json:"inputs"`
}

type comfyDeployInputs struct {
	Workflow *comfy.Graph `json:"workflow"`
}

type comfyDeployRunResponse struct {
	RunID string `json:"run_id"`
}

type comfyDeployStatusResponse struct {
	Status  string `json:"status"`
	Outputs []struct {
		URL string `json:"url"`
	} `json:"outputs"`
	Error string `json:"error"`
}

// Submit starts a run and returns the run id.
func (c *ComfyDeployClient) Submit(ctx context.Context, graph *comfy.Graph) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	body, err := json.Marshal(comfyDeployRunRequest{
		DeploymentID: c.deploymentID,
		Inputs:       comfyDeployInputs{Workflow: graph},
	})
	if err != nil {
		return "", err
	}
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/run", body)
	if err != nil {
		return "", err
	}
	var out comfyDeployRunResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("comfydeploy: decode run response: %w", err)
	}
	if out.RunID == "" {
		return "", errors.New("comfydeploy: run returned no id")
	}
	return out.RunID, nil
}

// Poll normalizes ComfyDeploy's run states: not-started/running/uploading map
// to pending, success carries hosted output URLs.
func (c *ComfyDeployClient) Poll(ctx context.Context, externalID string) (*PollResult, error) {
	endpoint := c.baseURL + "/api/run?run_id=" + url.QueryEscape(externalID)
	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var out comfyDeployStatusResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("comfydeploy: decode status response: %w", err)
	}
	switch out.Status {
	case "not-started", "queued", "running", "uploading":
		return &PollResult{State: StatePending}, nil
	case "success":
		if len(out.Outputs) == 0 || out.Outputs[0].URL == "" {
			return &PollResult{State: StateFailed, Error: "comfydeploy: success with no outputs"}, nil
		}
		return &PollResult{State: StateCompleted, ImageURL: out.Outputs[0].URL}, nil
	case "failed":
		msg := out.Error
		if msg == "" {
			msg = "comfydeploy: run failed"
		}
		return &PollResult{State: StateFailed, Error: msg}, nil
	default:
		return nil, fmt.Errorf("comfydeploy: unknown status %q", out.Status)
	}
}

func (c *ComfyDeployClient) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
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
		return nil, &VendorError{Vendor: "comfydeploy", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

var _ AsyncPollable = (*ComfyDeployClient)(nil)
