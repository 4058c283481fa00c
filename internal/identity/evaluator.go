package identity

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

	"github.com/G858-debug/No-Safe-Word-sub002/internal/backend"
)

// EvaluatorOptions configures the face-similarity scoring client.
type EvaluatorOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Evaluator scores identity fidelity between a reference image and a
// candidate by calling the insightface-backed similarity service.
type Evaluator struct {
	httpClient *http.Client
	baseURL    string
}

// NewEvaluator validates configuration and builds the client.
func NewEvaluator(opts EvaluatorOptions) (*Evaluator, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("evaluator: base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Evaluator{httpClient: client, baseURL: base}, nil
}

type similarityRequest struct {
	ImageA string `json:"image_a"`
	ImageB string `json:"image_b"`
}

type similarityResponse struct {
	Similarity float64 `json:"similarity"`
	Error      string  `json:"error"`
}

// Similarity returns a [0,1] face similarity score between the two images.
func (e *Evaluator) Similarity(ctx context.Context, reference, candidate []byte) (float64, error) {
	body, err := json.Marshal(similarityRequest{
		ImageA: base64.StdEncoding.EncodeToString(reference),
		ImageB: base64.StdEncoding.EncodeToString(candidate),
	})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/similarity", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return 0, &backend.VendorError{Vendor: "evaluator", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var out similarityResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("evaluator: decode response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("evaluator: %s", out.Error)
	}
	return out.Similarity, nil
}
