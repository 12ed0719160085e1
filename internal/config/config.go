package config

import (
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/riposte/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Feed      FeedConfig      `yaml:"feed"`
	LLM       LLMConfig       `yaml:"llm"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Platform  PlatformConfig  `yaml:"platform"`
	Poster    PosterConfig    `yaml:"poster"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgres or sqlite
	Path     string `yaml:"path"` // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type SchedulerConfig struct {
	Interval string `yaml:"interval"`
	Enabled  bool   `yaml:"enabled"`
}

type PipelineConfig struct {
	Keywords         []string        `yaml:"keywords"`
	Accounts         []AccountConfig `yaml:"accounts"`
	TopK             int             `yaml:"top_k"`
	PerQueryLimit    int             `yaml:"per_query_limit"`
	FetchConcurrency int             `yaml:"fetch_concurrency"`
	FetchTimeout     string          `yaml:"fetch_timeout"`
	GenerateTimeout  string          `yaml:"generate_timeout"`
	DispatchTimeout  string          `yaml:"dispatch_timeout"`
	RunLockTTL       string          `yaml:"run_lock_ttl"`
}

// AccountConfig seeds the watched_accounts table on start-up.
type AccountConfig struct {
	Handle          string `yaml:"handle"`
	Priority        string `yaml:"priority"`
	CheckEveryHours int    `yaml:"check_every_hours"`
}

type ScoringConfig struct {
	FollowersWeight float64  `yaml:"followers_weight"`
	ViewsWeight     float64  `yaml:"views_weight"`
	LikesWeight     float64  `yaml:"likes_weight"`
	RepostsWeight   float64  `yaml:"reposts_weight"`
	RepliesWeight   float64  `yaml:"replies_weight"`
	VerifiedBonus   float64  `yaml:"verified_bonus"`
	KeywordBonus    float64  `yaml:"keyword_bonus"`
	BonusPhrases    []string `yaml:"bonus_phrases"`
	HalfLife        string   `yaml:"half_life"`
	MaxPostAge      string   `yaml:"max_post_age"`
	MinScore        float64  `yaml:"min_score"`
	MinViews        int64    `yaml:"min_views"`
	MinFollowers    int64    `yaml:"min_followers"`
}

type FeedConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

type LLMConfig struct {
	Provider    ProviderConfig `yaml:"provider"`
	Fallback    ProviderConfig `yaml:"fallback"`
	Temperature float64        `yaml:"temperature"`
	MaxTokens   int            `yaml:"max_tokens"`
	Persona     string         `yaml:"persona"`
	MaxChars    int            `yaml:"max_chars"`
}

type ProviderConfig struct {
	Name   string `yaml:"name"`
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type TelegramConfig struct {
	Token         string  `yaml:"token"`
	ChatID        int64   `yaml:"chat_id"`
	APIURL        string  `yaml:"api_url"`
	Mode          string  `yaml:"mode"` // polling or webhook
	WebhookURL    string  `yaml:"webhook_url"` // public base URL the webhook is registered under
	WebhookSecret string  `yaml:"webhook_secret"`
	SendRate      float64 `yaml:"send_rate"` // messages per second
	PollTimeout   int     `yaml:"poll_timeout"`
}

type PlatformConfig struct {
	Type    string `yaml:"type"` // x or dryrun
	APIURL  string `yaml:"api_url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

type PosterConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	BaseDelay      string `yaml:"base_delay"`
	MaxDelay       string `yaml:"max_delay"`
	AttemptTimeout string `yaml:"attempt_timeout"`
}

type ApprovalConfig struct {
	ExpireAfter   string `yaml:"expire_after"`
	SweepInterval string `yaml:"sweep_interval"`
	Workers       int    `yaml:"workers"`
	RetentionDays int    `yaml:"retention_days"`
}

type AuthConfig struct {
	TOTPSecret string `yaml:"totp_secret"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/riposte.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Scheduler.Interval == "" {
		cfg.Scheduler.Interval = "2h"
	}

	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 10
	}
	if cfg.Pipeline.PerQueryLimit == 0 {
		cfg.Pipeline.PerQueryLimit = 30
	}
	if cfg.Pipeline.FetchConcurrency == 0 {
		cfg.Pipeline.FetchConcurrency = 3
	}
	if cfg.Pipeline.FetchTimeout == "" {
		cfg.Pipeline.FetchTimeout = "90s"
	}
	if cfg.Pipeline.GenerateTimeout == "" {
		cfg.Pipeline.GenerateTimeout = "60s"
	}
	if cfg.Pipeline.DispatchTimeout == "" {
		cfg.Pipeline.DispatchTimeout = "15s"
	}
	if cfg.Pipeline.RunLockTTL == "" {
		cfg.Pipeline.RunLockTTL = "1h"
	}

	if cfg.Scoring.FollowersWeight == 0 {
		cfg.Scoring.FollowersWeight = 1.0
	}
	if cfg.Scoring.ViewsWeight == 0 {
		cfg.Scoring.ViewsWeight = 1.0
	}
	if cfg.Scoring.LikesWeight == 0 {
		cfg.Scoring.LikesWeight = 0.8
	}
	if cfg.Scoring.RepostsWeight == 0 {
		cfg.Scoring.RepostsWeight = 0.6
	}
	if cfg.Scoring.RepliesWeight == 0 {
		cfg.Scoring.RepliesWeight = 0.6
	}
	if cfg.Scoring.VerifiedBonus == 0 {
		cfg.Scoring.VerifiedBonus = 2
	}
	if cfg.Scoring.KeywordBonus == 0 {
		cfg.Scoring.KeywordBonus = 2
	}
	if cfg.Scoring.HalfLife == "" {
		cfg.Scoring.HalfLife = "6h"
	}
	if cfg.Scoring.MaxPostAge == "" {
		cfg.Scoring.MaxPostAge = "24h"
	}

	if cfg.Feed.Timeout == "" {
		cfg.Feed.Timeout = "60s"
	}

	if cfg.LLM.Provider.Name == "" {
		cfg.LLM.Provider.Name = "groq"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.8
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 200
	}
	if cfg.LLM.MaxChars == 0 {
		cfg.LLM.MaxChars = 280
	}

	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = "https://api.telegram.org"
	}
	if cfg.Telegram.Mode == "" {
		cfg.Telegram.Mode = "polling"
	}
	if cfg.Telegram.SendRate == 0 {
		cfg.Telegram.SendRate = 1
	}
	if cfg.Telegram.PollTimeout == 0 {
		cfg.Telegram.PollTimeout = 30
	}

	if cfg.Platform.Type == "" {
		cfg.Platform.Type = "dryrun"
	}
	if cfg.Platform.APIURL == "" {
		cfg.Platform.APIURL = "https://api.twitter.com/2"
	}
	if cfg.Platform.Timeout == "" {
		cfg.Platform.Timeout = "30s"
	}

	if cfg.Poster.MaxAttempts == 0 {
		cfg.Poster.MaxAttempts = 4
	}
	if cfg.Poster.BaseDelay == "" {
		cfg.Poster.BaseDelay = "2s"
	}
	if cfg.Poster.MaxDelay == "" {
		cfg.Poster.MaxDelay = "1m"
	}
	if cfg.Poster.AttemptTimeout == "" {
		cfg.Poster.AttemptTimeout = "30s"
	}

	if cfg.Approval.ExpireAfter == "" {
		cfg.Approval.ExpireAfter = "24h"
	}
	if cfg.Approval.SweepInterval == "" {
		cfg.Approval.SweepInterval = "15m"
	}
	if cfg.Approval.Workers == 0 {
		cfg.Approval.Workers = 4
	}
	if cfg.Approval.RetentionDays == 0 {
		cfg.Approval.RetentionDays = 90
	}
}

// Duration parses a config duration string, falling back when it is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
