package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/auditwatch/auditwatch/internal/domain"
)

const maxResponseBytes = 4 * 1024 * 1024

// OllamaGenerator calls an Ollama-style /api/generate endpoint for
// narrative text. The caller handles failures by falling back to the
// deterministic composer.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaGenerator creates a generator against an inference endpoint.
func NewOllamaGenerator(baseURL, model string, timeout time.Duration) *OllamaGenerator {
	if model == "" {
		model = "llama3"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate calls the inference endpoint and parses the narrative sections
// out of its response.
func (g *OllamaGenerator) Generate(ctx context.Context, req *Request) (*domain.Narrative, error) {
	if req == nil || req.Case == nil {
		return nil, fmt.Errorf("nil narrative request")
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  g.model,
		System: systemPrompt,
		Prompt: buildPrompt(req),
		Stream: false,
		Options: map[string]any{
			"temperature": 0.2,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: inference endpoint returned %d",
			domain.ErrCollaboratorUnavailable, resp.StatusCode)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollaboratorUnavailable, out.Error)
	}
	if strings.TrimSpace(out.Response) == "" {
		return nil, fmt.Errorf("%w: empty response from inference endpoint",
			domain.ErrCollaboratorUnavailable)
	}

	model := out.Model
	if model == "" {
		model = g.model
	}
	return newNarrative(req, out.Response, model, false), nil
}

// Ping probes the endpoint root.
func (g *OllamaGenerator) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCollaboratorUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: inference endpoint returned %d",
			domain.ErrCollaboratorUnavailable, resp.StatusCode)
	}
	return nil
}

// Close is a no-op, the generator holds no persistent connection state.
func (g *OllamaGenerator) Close() error {
	g.client.CloseIdleConnections()
	return nil
}
