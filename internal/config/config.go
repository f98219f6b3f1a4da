package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr           string
	Port                 string
	DatabasePath         string
	SessionSecret        string
	GinMode              string
	LogLevel             string
	LogFormat            string
	DefaultOrgID         string
	DestinationsFile     string
	Destinations         []DestinationConfig
	PublishMaxAttempts   int
	PublishBackoff       []time.Duration
	ConnectorTimeout     time.Duration
	QACheckTimeout       time.Duration
	QADefaultChecks      []string
	SchedulerInterval    time.Duration
	SchedulerConcurrency int
	RenderCacheSize      int
	AIBaseURL            string
	AIAPIKey             string
	AIModel              string
}

// DestinationConfig 描述一个发布目标平台。Type 决定使用的连接器，
// 其余字段只由对应连接器读取。
type DestinationConfig struct {
	ID          string `toml:"id"`
	Type        string `toml:"type"` // "wordpress", "medium", "ghost" or "stub"
	Name        string `toml:"name"`
	BaseURL     string `toml:"base_url"`
	Username    string `toml:"username,omitempty"`
	AppPassword string `toml:"app_password,omitempty"`
	Token       string `toml:"token,omitempty"`
	AdminKey    string `toml:"admin_key,omitempty"`
	PublishAs   string `toml:"publish_as,omitempty"` // remote status, e.g. "draft" or "publish"
}

type destinationsFile struct {
	Destinations []DestinationConfig `toml:"destinations"`
}

var defaultBackoff = []time.Duration{time.Second, 5 * time.Second, 25 * time.Second}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
// 若存在 .env 文件会先加载它。
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring .env: %v", err)
	}

	port := envOrDefault("PORT", "8080")

	cfg := AppConfig{
		ListenAddr:       envOrDefault("LISTEN_ADDR", fmt.Sprintf(":%s", port)),
		Port:             port,
		DatabasePath:     envOrDefault("DATABASE_PATH", "postpipe.db"),
		SessionSecret:    envOrDefault("SESSION_SECRET", "postpipe-dev-secret"),
		GinMode:          envOrDefault("GIN_MODE", "release"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "text"),
		DefaultOrgID:     envOrDefault("DEFAULT_ORG_ID", "default"),
		DestinationsFile: strings.TrimSpace(os.Getenv("DESTINATIONS_FILE")),
		AIBaseURL:        envOrDefault("AI_BASE_URL", "https://api.openai.com/v1"),
		AIAPIKey:         strings.TrimSpace(os.Getenv("AI_API_KEY")),
		AIModel:          envOrDefault("AI_MODEL", "gpt-4o-mini"),
		QADefaultChecks:  splitList(envOrDefault("QA_DEFAULT_CHECKS", "seo,readability,grammar,tone,fact_check")),
	}

	var err error
	if cfg.PublishMaxAttempts, err = envInt("PUBLISH_MAX_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.SchedulerConcurrency, err = envInt("SCHEDULER_CONCURRENCY", 4); err != nil {
		return cfg, err
	}
	if cfg.RenderCacheSize, err = envInt("RENDER_CACHE_SIZE", 256); err != nil {
		return cfg, err
	}
	if cfg.ConnectorTimeout, err = envDuration("CONNECTOR_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.QACheckTimeout, err = envDuration("QA_CHECK_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SchedulerInterval, err = envDuration("SCHEDULER_INTERVAL", 15*time.Second); err != nil {
		return cfg, err
	}
	if cfg.PublishBackoff, err = ParseBackoff(os.Getenv("PUBLISH_BACKOFF")); err != nil {
		return cfg, err
	}

	if cfg.DestinationsFile != "" {
		if cfg.Destinations, err = LoadDestinations(cfg.DestinationsFile); err != nil {
			return cfg, err
		}
	} else {
		cfg.Destinations = []DestinationConfig{{ID: "stub", Type: "stub", Name: "Stub", BaseURL: "https://stub.local"}}
	}

	return cfg, nil
}

// LoadDestinations 从 TOML 文件读取目标平台配置。
func LoadDestinations(path string) ([]DestinationConfig, error) {
	var file destinationsFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parse destinations file %s: %w", path, err)
	}
	return validateDestinations(file.Destinations)
}

// ParseDestinations 解析 TOML 文本中的目标平台配置。
func ParseDestinations(data string) ([]DestinationConfig, error) {
	var file destinationsFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, fmt.Errorf("parse destinations: %w", err)
	}
	return validateDestinations(file.Destinations)
}

func validateDestinations(dests []DestinationConfig) ([]DestinationConfig, error) {
	seen := make(map[string]bool, len(dests))
	for i := range dests {
		d := &dests[i]
		d.ID = strings.TrimSpace(d.ID)
		d.Type = strings.ToLower(strings.TrimSpace(d.Type))
		d.BaseURL = strings.TrimRight(strings.TrimSpace(d.BaseURL), "/")
		if d.ID == "" {
			return nil, fmt.Errorf("destination #%d: id is required", i+1)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("destination %q declared twice", d.ID)
		}
		seen[d.ID] = true
		switch d.Type {
		case "wordpress", "medium", "ghost", "stub":
		default:
			return nil, fmt.Errorf("destination %q: unknown type %q", d.ID, d.Type)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
	}
	return dests, nil
}

// ParseBackoff 解析逗号分隔的时长列表（如 "1s,5s,25s"），
// 为空时使用默认退避序列。
func ParseBackoff(raw string) ([]time.Duration, error) {
	parts := splitList(raw)
	if len(parts) == 0 {
		return append([]time.Duration(nil), defaultBackoff...), nil
	}
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid PUBLISH_BACKOFF entry %q: %w", part, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid PUBLISH_BACKOFF entry %q: negative", part)
		}
		out = append(out, d)
	}
	return out, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
