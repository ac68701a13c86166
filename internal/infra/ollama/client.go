package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"outreach-orchestrator/internal/infra/metrics"
)

const defaultBaseURL = "http://localhost:11434"

// Client выполняет запросы к локальному серверу Ollama.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient создаёт клиента Ollama.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

// GenerateRequest описывает тело запроса /api/generate.
type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options GenerateOptions `json:"options"`
}

// GenerateOptions задаёт параметры сэмплирования.
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// GenerateResponse описывает ответ без стриминга.
type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// Model описывает локально доступную модель.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// Generate вызывает /api/generate.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("ollama: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	var out GenerateResponse
	err = c.do(httpReq, &out)
	metrics.ObserveNetworkRequest("ollama", "generate", req.Model, start, err)
	if err != nil {
		return GenerateResponse{}, err
	}
	metrics.ObserveLLMGeneration(req.Model, time.Since(start), out.PromptEvalCount, out.EvalCount)
	return out, nil
}

// Tags возвращает список локальных моделей.
func (c *Client) Tags(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	start := time.Now()
	var out tagsResponse
	err = c.do(httpReq, &out)
	metrics.ObserveNetworkRequest("ollama", "tags", "models", start, err)
	if err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("ollama: %s", apiErr.Error)
		}
		return fmt.Errorf("ollama: unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}
	return nil
}

type apiErrorResponse struct {
	Error string `json:"error"`
}
