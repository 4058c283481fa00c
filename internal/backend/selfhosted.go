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

	"github.com/G858-debug/No-Safe-Word-sub002/internal/comfy"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
)

// SelfHostedOptions configures the synchronous self-hosted worker client.
type SelfHostedOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// SelfHostedClient submits a graph to the self-hosted worker and blocks until
// image bytes and execution time come back in one call.
type SelfHostedClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewSelfHostedClient validates configuration and builds the client.
func NewSelfHostedClient(opts SelfHostedOptions) (*SelfHostedClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("selfhosted: base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &SelfHostedClient{httpClient: client, baseURL: base}, nil
}

func (c *SelfHostedClient) Name() domain.BackendKind { return domain.BackendSelfHosted }

type selfHostedRequest struct {
	Prompt *comfy.Graph `json:"prompt"`
}

type selfHostedResponse struct {
	ImageBase64     string `json:"image_base64"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Error           string `json:"error"`
}

// Generate runs the graph and returns the decoded result. The caller owns
// persisting the bytes.
func (c *SelfHostedClient) Generate(ctx context.Context, graph *comfy.Graph) (*ImageResult, error) {
	body, err := json.Marshal(selfHostedRequest{Prompt: graph})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, &VendorError{Vendor: "selfhosted", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out selfHostedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("selfhosted: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("selfhosted: %s", out.Error)
	}
	if out.ImageBase64 == "" {
		return nil, errors.New("selfhosted: empty image in response")
	}
	data, err := base64.StdEncoding.DecodeString(out.ImageBase64)
	if err != nil {
		return nil, fmt.Errorf("selfhosted: decode image: %w", err)
	}
	return &ImageResult{
		ImageData:     data,
		ExecutionTime: time.Duration(out.ExecutionTimeMs) * time.Millisecond,
	}, nil
}

var _ Synchronous = (*SelfHostedClient)(nil)
