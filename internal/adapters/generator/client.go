package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
	"outreach-orchestrator/internal/infra/ollama"
)

type ollamaClient interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (ollama.GenerateResponse, error)
	Tags(ctx context.Context) ([]ollama.Model, error)
}

// Config задаёт параметры генерации.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// MaxAttempts считает все запросы к модели, включая первый.
	MaxAttempts int
	RetryDelay  time.Duration
}

// Client генерирует тексты по шаблонам через Ollama.
type Client struct {
	api   ollamaClient
	cfg   Config
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error

	mu   sync.RWMutex
	path string
	doc  Document
}

var _ domain.TextGenerator = (*Client)(nil)

// New создаёт клиента со встроенными шаблонами.
func New(api ollamaClient, cfg Config, log zerolog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "llama2"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Client{api: api, cfg: cfg, log: log, sleep: sleepCtx, doc: DefaultDocument()}
}

// LoadTemplates загружает шаблоны из файла. При ошибке остаются встроенные шаблоны,
// а ошибка возвращается только для журнала.
func (c *Client) LoadTemplates(path string) error {
	c.mu.Lock()
	c.path = path
	c.mu.Unlock()

	doc, err := LoadDocument(path)
	if err != nil {
		c.mu.Lock()
		c.doc = DefaultDocument()
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("path", path).Msg("шаблоны не загружены, используются встроенные")
		return err
	}
	c.swap(doc)
	return nil
}

// ReloadTemplates перечитывает файл шаблонов. При ошибке текущие шаблоны сохраняются.
func (c *Client) ReloadTemplates() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()
	if path == "" {
		return errors.New("путь к шаблонам не задан")
	}
	doc, err := LoadDocument(path)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("перезагрузка шаблонов не удалась, оставляем текущие")
		return err
	}
	c.swap(doc)
	return nil
}

func (c *Client) swap(doc Document) {
	c.mu.Lock()
	c.doc = doc
	c.mu.Unlock()
	c.log.Info().Int("prompts", len(doc.Prompts)).Msg("шаблоны загружены")
}

// Document возвращает текущий документ шаблонов.
func (c *Client) Document() Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc
}

// TargetCompanies возвращает компании из документа шаблонов.
func (c *Client) TargetCompanies() []string {
	return c.Document().Companies()
}

// Generate возвращает текст модели. ok=false означает пропуск: шаблон не найден
// или все попытки исчерпаны.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (string, bool) {
	label := req.PromptKey
	if req.CustomPrompt != "" {
		label = "custom"
	}
	logger := c.log.With().Str("prompt", label).Logger()

	doc := c.Document()
	system, prompt, err := buildPrompt(doc, req, logger)
	if err != nil {
		logger.Error().Err(err).Msg("генерация пропущена")
		metrics.GenerationSkipped.WithLabelValues(label).Inc()
		return "", false
	}

	settings := c.effectiveSettings(doc)
	temperature := settings.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	body := ollama.GenerateRequest{
		Model:   settings.Model,
		Prompt:  prompt,
		System:  system,
		Options: ollama.GenerateOptions{Temperature: temperature, NumPredict: settings.MaxTokens},
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.api.Generate(reqCtx, body)
		cancel()
		if err == nil {
			text := strings.TrimSpace(resp.Response)
			if text == "" {
				logger.Warn().Msg("модель вернула пустой ответ")
				metrics.GenerationSkipped.WithLabelValues(label).Inc()
				return "", false
			}
			c.warnTokenCeiling(logger, text, settings.MaxTokens)
			return text, true
		}

		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", c.cfg.MaxAttempts).Msg("запрос к модели не удался")
		if attempt == c.cfg.MaxAttempts {
			break
		}
		metrics.GenerationRetries.WithLabelValues(label).Inc()
		if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
			logger.Warn().Err(err).Msg("ожидание повтора прервано")
			break
		}
	}

	logger.Error().Msg("генерация не удалась после всех попыток")
	metrics.GenerationSkipped.WithLabelValues(label).Inc()
	return "", false
}

// ListModels возвращает имена локально доступных моделей.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	models, err := c.api.Tags(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// CheckHealth проверяет доступность сервера и наличие настроенной модели.
func (c *Client) CheckHealth(ctx context.Context) bool {
	names, err := c.ListModels(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("сервер модели недоступен")
		return false
	}
	want := baseModelName(c.effectiveSettings(c.Document()).Model)
	for _, name := range names {
		if baseModelName(name) == want {
			return true
		}
	}
	c.log.Warn().Str("model", want).Strs("available", names).Msg("модель не найдена")
	return false
}

func (c *Client) effectiveSettings(doc Document) Config {
	cfg := c.cfg
	if doc.Ollama.Model != "" {
		cfg.Model = doc.Ollama.Model
	}
	if doc.Ollama.Temperature != nil {
		cfg.Temperature = *doc.Ollama.Temperature
	}
	if doc.Ollama.MaxTokens > 0 {
		cfg.MaxTokens = doc.Ollama.MaxTokens
	}
	return cfg
}

func (c *Client) warnTokenCeiling(logger zerolog.Logger, text string, maxTokens int) {
	words := len(strings.Fields(text))
	if maxTokens > 0 && float64(words) > float64(maxTokens)*0.9 {
		logger.Warn().Int("words", words).Int("max_tokens", maxTokens).Msg("ответ близок к лимиту токенов")
	}
}

func buildPrompt(doc Document, req domain.GenerationRequest, logger zerolog.Logger) (system, prompt string, err error) {
	if req.CustomPrompt != "" {
		if tpl, ok := doc.Prompts[req.PromptKey]; ok {
			system = tpl.System
		}
		return system, req.CustomPrompt, nil
	}
	tpl, ok := doc.Prompts[req.PromptKey]
	if !ok {
		return "", "", fmt.Errorf("шаблон %q не найден", req.PromptKey)
	}
	prompt, unresolved := render(tpl.User, req.Variables)
	if len(unresolved) > 0 {
		logger.Debug().Strs("placeholders", unresolved).Msg("плейсхолдеры без значений")
	}
	return tpl.System, prompt, nil
}

func baseModelName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
