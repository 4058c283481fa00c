package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/backend"
)

// TrainerOptions configures the external adapter-training service client.
type TrainerOptions struct {
	BaseURL    string
	APIKey     string
	EndpointID string
	HTTPClient *http.Client
}

// Trainer submits captioned datasets to the serverless LoRA training endpoint
// and polls for the trained artifact.
type Trainer struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	endpointID string
}

// NewTrainer validates credentials and builds the client.
func NewTrainer(opts TrainerOptions) (*Trainer, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("trainer: api key is required")
	}
	if strings.TrimSpace(opts.EndpointID) == "" {
		return nil, errors.New("trainer: endpoint id is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.runpod.ai"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &Trainer{
		httpClient: client,
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
		endpointID: strings.TrimSpace(opts.EndpointID),
	}, nil
}

// TrainRequest describes one training run.
type TrainRequest struct {
	DatasetURL  string
	TriggerWord string
	BaseModel   string
	Steps       int
}

// TrainStatus is the normalized training poll outcome.
type TrainStatus struct {
	State       backend.PollState
	ArtifactURL string
	Error       string
}

type trainSubmitRequest struct {
	Input trainInput `json:"input"`
}

type trainInput struct {
	DatasetURL  string `json:"dataset_url"`
	TriggerWord string `json:"trigger_word"`
	BaseModel   string `json:"base_model"`
	Steps       int    `json:"steps"`
}

type trainSubmitResponse struct {
	ID string `json:"id"`
}

type trainStatusResponse struct {
	Status string `json:"status"`
	Output struct {
		LoraURL string `json:"lora_url"`
	} `json:"output"`
	Error string `json:"error"`
}

// Submit starts a training run and returns the vendor job id.
func (t *Trainer) Submit(ctx context.Context, req TrainRequest) (string, error) {
	steps := req.Steps
	if steps <= 0 {
		steps = 1500
	}
	body, err := json.Marshal(trainSubmitRequest{Input: trainInput{
		DatasetURL:  req.DatasetURL,
		TriggerWord: req.TriggerWord,
		BaseModel:   req.BaseModel,
		Steps:       steps,
	}})
	if err != nil {
		return "", err
	}
	raw, err := t.do(ctx, http.MethodPost, fmt.Sprintf("%s/v2/%s/run", t.baseURL, t.endpointID), body)
	if err != nil {
		return "", err
	}
	var out trainSubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("trainer: decode submit response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("trainer: submit returned no job id")
	}
	return out.ID, nil
}

// Poll fetches and normalizes the training run status.
func (t *Trainer) Poll(ctx context.Context, id string) (*TrainStatus, error) {
	raw, err := t.do(ctx, http.MethodGet, fmt.Sprintf("%s/v2/%s/status/%s", t.baseURL, t.endpointID, id), nil)
	if err != nil {
		return nil, err
	}
	var out trainStatusResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("trainer: decode status response: %w", err)
	}
	switch out.Status {
	case "IN_QUEUE", "IN_PROGRESS":
		return &TrainStatus{State: backend.StatePending}, nil
	case "COMPLETED":
		if out.Output.LoraURL == "" {
			return &TrainStatus{State: backend.StateFailed, Error: "trainer: completed without artifact url"}, nil
		}
		return &TrainStatus{State: backend.StateCompleted, ArtifactURL: out.Output.LoraURL}, nil
	case "FAILED":
		msg := out.Error
		if msg == "" {
			msg = "trainer: run failed"
		}
		return &TrainStatus{State: backend.StateFailed, Error: msg}, nil
	default:
		return nil, fmt.Errorf("trainer: unknown status %q", out.Status)
	}
}

// FetchArtifact downloads the trained adapter bytes.
func (t *Trainer) FetchArtifact(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &backend.VendorError{Vendor: "trainer", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (t *Trainer) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &backend.VendorError{Vendor: "trainer", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
