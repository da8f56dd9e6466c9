package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/elonfeng/trendscore/pkg/score"
)

// Config is the root configuration.
type Config struct {
	AppEnv   string         `yaml:"app_env"`
	LogLevel string         `yaml:"log_level"`
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Sources  SourcesConfig  `yaml:"sources"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	LLM      LLMConfig      `yaml:"llm"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the polling daemon.
type ScheduleConfig struct {
	Cron          string `yaml:"cron"`
	Analyze       bool   `yaml:"analyze"`
	CrossPlatform bool   `yaml:"cross_platform"`
}

// SourcesConfig holds configuration for all data sources.
type SourcesConfig struct {
	Reddit      RedditConfig     `yaml:"reddit"`
	HackerNews  HackerNewsConfig `yaml:"hackernews"`
	YouTube     YouTubeConfig    `yaml:"youtube"`
	ProductHunt LimitConfig      `yaml:"producthunt"`
	Twitter     TwitterConfig    `yaml:"twitter"`
	Polymarket  LimitConfig      `yaml:"polymarket"`
}

type RedditConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Subreddits   []string `yaml:"subreddits"`
	Limit        int      `yaml:"limit"`
}

type HackerNewsConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
}

type YouTubeConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKey  string   `yaml:"api_key"`
	Queries []string `yaml:"queries"`
	Limit   int      `yaml:"limit"`
}

// TwitterConfig reads accounts through a Nitter instance.
type TwitterConfig struct {
	Enabled   bool     `yaml:"enabled"`
	NitterURL string   `yaml:"nitter_url"`
	Accounts  []string `yaml:"accounts"`
}

// LimitConfig is for sources that only take an item limit.
type LimitConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
}

// ScoringConfig tunes the scorer and the pipeline.
type ScoringConfig struct {
	Weights        score.Weights   `yaml:"weights"`
	AIWeights      score.AIWeights `yaml:"ai_weights"`
	MemeSubreddits []string        `yaml:"meme_subreddits"`
	CacheTTL       string          `yaml:"cache_ttl"`
	BatchSize      int             `yaml:"batch_size"`
}

// ParseCacheTTL returns the cache TTL, defaulting to one hour.
func (s ScoringConfig) ParseCacheTTL() time.Duration {
	d, err := time.ParseDuration(s.CacheTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// Scorer builds a scorer from the configured weights and denylist.
func (s ScoringConfig) Scorer() *score.Scorer {
	sc := score.NewScorer()
	sc.Weights = s.Weights
	sc.AIWeights = s.AIWeights
	sc.Memes = score.NewMemeCommunities(s.MemeSubreddits...)
	return sc
}

// LLMConfig configures the judgment service.
type LLMConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Provider      string  `yaml:"provider"` // "perplexity", "openai" or "openrouter"
	Model         string  `yaml:"model"`
	APIKey        string  `yaml:"api_key"`
	BaseURL       string  `yaml:"base_url"`
	RPS           float64 `yaml:"rps"`
	Timeout       string  `yaml:"timeout"`
	MonthlyBudget float64 `yaml:"monthly_budget"` // USD
}

func (l LLMConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(l.Timeout)
	if err != nil || d <= 0 {
		return 90 * time.Second
	}
	return d
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic signed webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		AppEnv:   "local",
		LogLevel: "info",
		Database: DatabaseConfig{Path: "./trendscore.db"},
		Schedule: ScheduleConfig{Cron: "@every 30m", Analyze: true, CrossPlatform: true},
		Sources: SourcesConfig{
			Reddit: RedditConfig{
				Enabled:    true,
				Subreddits: []string{"artificial", "ChatGPT", "ClaudeAI", "LocalLLaMA", "SideProject", "passive_income", "vibecoding", "cryptocurrency"},
				Limit:      25,
			},
			HackerNews:  HackerNewsConfig{Enabled: true, Limit: 30},
			YouTube:     YouTubeConfig{Enabled: false, Limit: 15},
			ProductHunt: LimitConfig{Enabled: true, Limit: 20},
			Twitter: TwitterConfig{
				Enabled:   false,
				NitterURL: "https://nitter.net",
			},
			Polymarket: LimitConfig{Enabled: true, Limit: 15},
		},
		Scoring: ScoringConfig{
			Weights:        score.DefaultWeights,
			AIWeights:      score.DefaultAIWeights,
			MemeSubreddits: append([]string(nil), score.DefaultMemeSubreddits...),
			CacheTTL:       "1h",
			BatchSize:      25,
		},
		LLM: LLMConfig{
			Provider:      "perplexity",
			Model:         "sonar",
			RPS:           1,
			Timeout:       "90s",
			MonthlyBudget: 30,
		},
		Server: ServerConfig{Port: 8080},
	}
}

// envOverrides are read from the process environment, after an optional
// .env file has been loaded. Empty values leave the file config alone.
type envOverrides struct {
	AppEnv             string   `env:"APP_ENV"`
	LogLevel           string   `env:"LOG_LEVEL"`
	DBPath             string   `env:"TRENDSCORE_DB_PATH"`
	Port               int      `env:"TRENDSCORE_PORT"`
	Cron               string   `env:"TRENDSCORE_SCHEDULE"`
	RedditClientID     string   `env:"REDDIT_CLIENT_ID"`
	RedditClientSecret string   `env:"REDDIT_CLIENT_SECRET"`
	YouTubeAPIKey      string   `env:"YOUTUBE_API_KEY"`
	NitterURL          string   `env:"NITTER_URL"`
	MemeSubreddits     []string `env:"MEME_SUBREDDITS" envSeparator:","`
	OpenAIAPIKey       string   `env:"OPENAI_API_KEY"`
	PerplexityAPIKey   string   `env:"PERPLEXITY_API_KEY"`
	LLMModel           string   `env:"LLM_MODEL"`
	LLMBaseURL         string   `env:"LLM_BASE_URL"`
	LLMMonthlyBudget   float64  `env:"LLM_MONTHLY_BUDGET"`
	SlackWebhookURL    string   `env:"SLACK_WEBHOOK_URL"`
	DiscordWebhookURL  string   `env:"DISCORD_WEBHOOK_URL"`
	AlertWebhookURL    string   `env:"ALERT_WEBHOOK_URL"`
	AlertWebhookSecret string   `env:"ALERT_WEBHOOK_SECRET"`
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load() // .env is optional

	overrides, err := env.ParseAs[envOverrides]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	applyEnvOverrides(cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, o envOverrides) {
	setString(&cfg.AppEnv, o.AppEnv)
	setString(&cfg.LogLevel, o.LogLevel)
	setString(&cfg.Database.Path, o.DBPath)
	setString(&cfg.Schedule.Cron, o.Cron)
	if o.Port > 0 {
		cfg.Server.Port = o.Port
	}

	setString(&cfg.Sources.Reddit.ClientID, o.RedditClientID)
	setString(&cfg.Sources.Reddit.ClientSecret, o.RedditClientSecret)
	if o.YouTubeAPIKey != "" {
		cfg.Sources.YouTube.APIKey = o.YouTubeAPIKey
		cfg.Sources.YouTube.Enabled = true
	}
	setString(&cfg.Sources.Twitter.NitterURL, o.NitterURL)
	if len(o.MemeSubreddits) > 0 {
		cfg.Scoring.MemeSubreddits = o.MemeSubreddits
	}

	if o.OpenAIAPIKey != "" {
		cfg.LLM.APIKey = o.OpenAIAPIKey
		cfg.LLM.Enabled = true
		cfg.LLM.Provider = "openai"
		cfg.LLM.Model = ""
	}
	if o.PerplexityAPIKey != "" {
		cfg.LLM.APIKey = o.PerplexityAPIKey
		cfg.LLM.Enabled = true
		cfg.LLM.Provider = "perplexity"
		cfg.LLM.Model = "sonar"
	}
	setString(&cfg.LLM.Model, o.LLMModel)
	setString(&cfg.LLM.BaseURL, o.LLMBaseURL)
	if o.LLMMonthlyBudget > 0 {
		cfg.LLM.MonthlyBudget = o.LLMMonthlyBudget
	}

	if o.SlackWebhookURL != "" {
		cfg.Alerts.Slack.WebhookURL = o.SlackWebhookURL
		cfg.Alerts.Slack.Enabled = true
	}
	if o.DiscordWebhookURL != "" {
		cfg.Alerts.Discord.WebhookURL = o.DiscordWebhookURL
		cfg.Alerts.Discord.Enabled = true
	}
	if o.AlertWebhookURL != "" {
		cfg.Alerts.Webhook.URL = o.AlertWebhookURL
		cfg.Alerts.Webhook.Enabled = true
	}
	setString(&cfg.Alerts.Webhook.Secret, o.AlertWebhookSecret)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

const weightTolerance = 0.001

// Validate checks values that would silently skew scores.
func (c *Config) Validate() error {
	var errs []error
	if sum := c.Scoring.Weights.Sum(); math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("scoring.weights must sum to 1, got %.3f", sum))
	}
	if sum := c.Scoring.AIWeights.Sum(); math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("scoring.ai_weights must sum to 1, got %.3f", sum))
	}
	if c.Scoring.BatchSize < 1 || c.Scoring.BatchSize > 25 {
		errs = append(errs, fmt.Errorf("scoring.batch_size must be between 1 and 25, got %d", c.Scoring.BatchSize))
	}
	if c.Scoring.CacheTTL != "" {
		if _, err := time.ParseDuration(c.Scoring.CacheTTL); err != nil {
			errs = append(errs, fmt.Errorf("scoring.cache_ttl: %w", err))
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}
