package config

import (
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	APIToken    string `envconfig:"API_TOKEN"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"5"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Events         string `envconfig:"EVENTS_QUEUE_KEY" default:"outreach_events"`
		EventsExchange string `envconfig:"EVENTS_EXCHANGE" default:"outreach.events"`
	} `envconfig:""`

	Telegram struct {
		Token          string `envconfig:"TG_BOT_TOKEN"`
		OperatorChatID int64  `envconfig:"TG_OPERATOR_CHAT_ID"`
	} `envconfig:""`

	Ollama struct {
		BaseURL      string        `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
		Model        string        `envconfig:"OLLAMA_MODEL" default:"llama2"`
		Temperature  float64       `envconfig:"OLLAMA_TEMPERATURE" default:"0.7"`
		MaxTokens    int           `envconfig:"OLLAMA_MAX_TOKENS" default:"1000"`
		Timeout      time.Duration `envconfig:"OLLAMA_TIMEOUT" default:"60s"`
		MaxAttempts  int           `envconfig:"OLLAMA_RETRY_ATTEMPTS" default:"3"`
		RetryDelay   time.Duration `envconfig:"OLLAMA_RETRY_DELAY" default:"2s"`
		PromptsPath  string        `envconfig:"PROMPTS_PATH" default:"config/prompts.yml"`
		WatchPrompts bool          `envconfig:"PROMPTS_WATCH" default:"true"`
	} `envconfig:""`

	Actuator struct {
		BaseURL string        `envconfig:"ACTUATOR_BASE_URL"`
		Timeout time.Duration `envconfig:"ACTUATOR_TIMEOUT" default:"120s"`
	} `envconfig:""`

	Limits struct {
		ConnectionsPerDay  int           `envconfig:"LIMIT_CONNECTIONS_PER_DAY" default:"30"`
		MessageDelayHours  int           `envconfig:"MESSAGE_DELAY_HOURS" default:"5"`
		OutreachBatch      int           `envconfig:"OUTREACH_BATCH" default:"30"`
		CompanyLimit       int           `envconfig:"DISCOVERY_COMPANY_LIMIT" default:"10"`
		ConnectionDelayMin time.Duration `envconfig:"CONNECTION_DELAY_MIN" default:"30s"`
		ConnectionDelayMax time.Duration `envconfig:"CONNECTION_DELAY_MAX" default:"90s"`
		MessageDelayMin    time.Duration `envconfig:"MESSAGE_DELAY_MIN" default:"60s"`
		MessageDelayMax    time.Duration `envconfig:"MESSAGE_DELAY_MAX" default:"120s"`
	} `envconfig:""`

	Content struct {
		Topic     string `envconfig:"CONTENT_TOPIC" default:"AI"`
		HoursBack int    `envconfig:"CONTENT_HOURS_BACK" default:"24"`
	} `envconfig:""`

	TargetCompanies []string `envconfig:"TARGET_COMPANIES"`

	Schedule struct {
		DiscoveryAt      string        `envconfig:"SCHEDULE_DISCOVERY_AT" default:"02:00"`
		ContentAt        string        `envconfig:"SCHEDULE_CONTENT_AT" default:"07:00"`
		ConnectionsEvery time.Duration `envconfig:"SCHEDULE_CONNECTIONS_EVERY" default:"30m"`
		AcceptanceEvery  time.Duration `envconfig:"SCHEDULE_ACCEPTANCE_EVERY" default:"15m"`
		Poll             time.Duration `envconfig:"SCHEDULE_POLL" default:"1m"`
		LockTTL          time.Duration `envconfig:"SCHEDULE_LOCK_TTL" default:"2h"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	cfg.TargetCompanies = compact(cfg.TargetCompanies)
	return cfg
}

// MessageDelay возвращает окно ожидания перед первым сообщением.
func (c AppConfig) MessageDelay() time.Duration {
	return time.Duration(c.Limits.MessageDelayHours) * time.Hour
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
