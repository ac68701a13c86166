package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

// ErrRateLimited возвращается, когда исполнитель просит притормозить.
var ErrRateLimited = errors.New("actuator: rate limited")

// Client обращается к внешнему сервису, который выполняет действия в соцсети и собирает посты.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

var (
	_ domain.Actuator  = (*Client)(nil)
	_ domain.Harvester = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type searchRequest struct {
	Companies []string `json:"companies"`
}

type searchResponse struct {
	Profiles []domain.ProfileSnapshot `json:"profiles"`
}

type dispatchRequest struct {
	ExternalID string `json:"external_id"`
	Message    string `json:"message"`
}

type dispatchResponse struct {
	Sent bool `json:"sent"`
}

type acceptedResponse struct {
	ExternalIDs []string `json:"external_ids"`
}

type harvestedPost struct {
	URL         string   `json:"url"`
	Author      string   `json:"author"`
	AuthorTitle string   `json:"author_title"`
	Content     string   `json:"content"`
	Reactions   int      `json:"reactions"`
	Comments    int      `json:"comments"`
	Shares      int      `json:"shares"`
	Hashtags    []string `json:"hashtags"`
	AgeHours    float64  `json:"age_hours"`
}

type harvestResponse struct {
	Posts []harvestedPost `json:"posts"`
}

// SearchCandidates ищет профили сотрудников указанных компаний.
func (c *Client) SearchCandidates(ctx context.Context, companies []string) ([]domain.ProfileSnapshot, error) {
	var resp searchResponse
	if err := c.post(ctx, "search_candidates", "/api/v1/candidates/search", searchRequest{Companies: companies}, &resp); err != nil {
		return nil, err
	}
	return resp.Profiles, nil
}

// DispatchConnection отправляет запрос на контакт. false без ошибки означает отказ исполнителя.
func (c *Client) DispatchConnection(ctx context.Context, externalID, message string) (bool, error) {
	var resp dispatchResponse
	if err := c.post(ctx, "dispatch_connection", "/api/v1/connections", dispatchRequest{ExternalID: externalID, Message: message}, &resp); err != nil {
		return false, err
	}
	return resp.Sent, nil
}

// DispatchMessage отправляет личное сообщение.
func (c *Client) DispatchMessage(ctx context.Context, externalID, message string) (bool, error) {
	var resp dispatchResponse
	if err := c.post(ctx, "dispatch_message", "/api/v1/messages", dispatchRequest{ExternalID: externalID, Message: message}, &resp); err != nil {
		return false, err
	}
	return resp.Sent, nil
}

// PollAcceptedConnections возвращает идентификаторы принявших запрос.
func (c *Client) PollAcceptedConnections(ctx context.Context) ([]string, error) {
	var resp acceptedResponse
	if err := c.get(ctx, "poll_accepted", "/api/v1/connections/accepted", nil, &resp); err != nil {
		return nil, err
	}
	return resp.ExternalIDs, nil
}

// HarvestCandidatePosts собирает свежие посты по теме.
func (c *Client) HarvestCandidatePosts(ctx context.Context, topic string, hoursBack int) ([]domain.ViralPost, error) {
	query := url.Values{}
	query.Set("topic", topic)
	query.Set("hours_back", strconv.Itoa(hoursBack))
	var resp harvestResponse
	if err := c.get(ctx, "harvest_posts", "/api/v1/posts/harvest", query, &resp); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]domain.ViralPost, 0, len(resp.Posts))
	for _, p := range resp.Posts {
		out = append(out, domain.ViralPost{
			URL:         p.URL,
			Author:      p.Author,
			AuthorTitle: p.AuthorTitle,
			Content:     p.Content,
			Reactions:   p.Reactions,
			Comments:    p.Comments,
			Shares:      p.Shares,
			Hashtags:    p.Hashtags,
			Age:         time.Duration(p.AgeHours * float64(time.Hour)),
			ScrapedAt:   now,
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(op, req, out)
}

func (c *Client) post(ctx context.Context, op, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	return c.do(op, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	if len(query) > 0 {
		resolved.RawQuery = query.Encode()
	}
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(op string, req *http.Request, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("actuator", op, c.baseURL.Host, start, err)
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("actuator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return mapAPIError(resp.StatusCode, apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapAPIError(status int, err apiError) error {
	switch {
	case err.Code == "target_not_found":
		return domain.ErrTargetNotFound
	case err.Code == "rate_limited" || status == http.StatusTooManyRequests:
		return ErrRateLimited
	case err.Code == "":
		return fmt.Errorf("actuator error: status=%d message=%s", status, err.Error)
	default:
		return fmt.Errorf("actuator error [%s]: %s", err.Code, err.Error)
	}
}
