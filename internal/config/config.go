package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// Nesting levels are separated by a double underscore, so
// FEEDFILTER_VISION__API_KEY maps to vision.api_key.
const EnvPrefix = "FEEDFILTER_"

type Config struct {
	Server     ServerConfig              `koanf:"server"`
	Log        LogConfig                 `koanf:"log"`
	Telemetry  TelemetryConfig           `koanf:"telemetry"`
	Room       RoomConfig                `koanf:"room"`
	Vision     VisionConfig              `koanf:"vision"`
	Sampler    SamplerConfig             `koanf:"sampler"`
	Stillness  StillnessConfig           `koanf:"stillness"`
	Navigation NavigationConfig          `koanf:"navigation"`
	Dispatch   DispatchConfig            `koanf:"dispatch"`
	MCP        MCPConfig                 `koanf:"mcp"`
	Storage    StorageConfig             `koanf:"storage"`
	Platforms  map[string]PlatformConfig `koanf:"platforms"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	ServiceName string `koanf:"service_name"`
}

// RoomConfig configures the data channel the browser extension joins.
type RoomConfig struct {
	// APIKey is a plain key, usually injected from the environment.
	APIKey  string         `koanf:"api_key"`
	APIKeys []APIKeyConfig `koanf:"api_keys"`
	// MaxFrameBytes bounds a single inbound websocket message.
	MaxFrameBytes int64 `koanf:"max_frame_bytes"`
	// ConnectRate is the number of new connections accepted per second,
	// with bursts up to ConnectBurst. Zero disables the limit.
	ConnectRate  float64 `koanf:"connect_rate"`
	ConnectBurst int     `koanf:"connect_burst"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Description string `koanf:"description"`
}

// VisionConfig configures the trigger classifier and its provider.
type VisionConfig struct {
	Provider            string        `koanf:"provider"` // anthropic, openai
	APIKey              string        `koanf:"api_key"`
	BaseURL             string        `koanf:"base_url"`
	Model               string        `koanf:"model"` // empty selects the provider default
	MaxTokens           int           `koanf:"max_tokens"`
	Temperature         float64       `koanf:"temperature"`
	Timeout             time.Duration `koanf:"timeout"`
	ImageMaxEdge        int           `koanf:"image_max_edge"`
	ImageQuality        int           `koanf:"image_quality"`
	ClosedSetConfidence float64       `koanf:"closed_set_confidence"`
	OpenSetConfidence   float64       `koanf:"open_set_confidence"`
	PromptBudgetTokens  int           `koanf:"prompt_budget_tokens"`
}

type SamplerConfig struct {
	BaseFPS     float64       `koanf:"base_fps"`
	BoostFPS    float64       `koanf:"boost_fps"`
	BoostWindow time.Duration `koanf:"boost_window"`
}

type StillnessConfig struct {
	Threshold  int     `koanf:"threshold"`
	Similarity float64 `koanf:"similarity"`
	Stride     int     `koanf:"stride"`
}

type NavigationConfig struct {
	MaxWatchDuration time.Duration `koanf:"max_watch_duration"`
	MinInterval      time.Duration `koanf:"min_interval"`
}

type DispatchConfig struct {
	SettleDelay time.Duration `koanf:"settle_delay"`
	// NavigateCommand selects the outbound command for a navigation:
	// "scroll" emits SCROLL_NEXT, "navigate" emits NAVIGATE_NEXT.
	NavigateCommand string `koanf:"navigate_command"`
	// FailureNoticeThreshold is the number of consecutive classification
	// failures after which one ERROR notice is sent to the extension.
	FailureNoticeThreshold int `koanf:"failure_notice_threshold"`
}

// MCPConfig configures the optional web MCP server used to locate and
// click page elements. Locating is disabled when Endpoint is empty.
type MCPConfig struct {
	Endpoint string        `koanf:"endpoint"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// PlatformConfig overrides the built-in selector table for one platform.
type PlatformConfig struct {
	NotInterested []StepConfig `koanf:"not_interested"`
}

type StepConfig struct {
	Selector string `koanf:"selector"`
	Text     string `koanf:"text"`
}

var defaults = map[string]any{
	"server.port":                        8080,
	"log.level":                          "info",
	"telemetry.service_name":             "feedfilter",
	"room.max_frame_bytes":               int64(16 * 1024 * 1024),
	"room.connect_rate":                  5.0,
	"room.connect_burst":                 10,
	"vision.provider":                    "anthropic",
	"vision.max_tokens":                  300,
	"vision.temperature":                 0.1,
	"vision.timeout":                     30 * time.Second,
	"vision.image_max_edge":              1024,
	"vision.image_quality":               85,
	"vision.closed_set_confidence":       0.85,
	"vision.open_set_confidence":         0.7,
	"vision.prompt_budget_tokens":        2000,
	"sampler.base_fps":                   2.0,
	"sampler.boost_fps":                  4.0,
	"sampler.boost_window":               3 * time.Second,
	"stillness.threshold":                5,
	"stillness.similarity":               0.95,
	"stillness.stride":                   1000,
	"navigation.max_watch_duration":      10 * time.Second,
	"navigation.min_interval":            500 * time.Millisecond,
	"dispatch.settle_delay":              400 * time.Millisecond,
	"dispatch.navigate_command":          "scroll",
	"dispatch.failure_notice_threshold":  3,
	"mcp.timeout":                        10 * time.Second,
	"storage.type":                       "sqlite",
	"storage.sqlite.path":                "./data/feedfilter.db",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (a missing file is not an error), then overlays
// FEEDFILTER_* environment variables, then fills defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("failed to set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Vision.APIKey = substituteEnvVars(cfg.Vision.APIKey)
	cfg.Room.APIKey = substituteEnvVars(cfg.Room.APIKey)
	cfg.MCP.APIKey = substituteEnvVars(cfg.MCP.APIKey)

	return &cfg, nil
}

// Validate reports every missing or out-of-range setting at once.
// Callers treat a non-nil result as fatal before any track is processed.
func (c *Config) Validate() error {
	var errs []error

	if c.Room.APIKey == "" && len(c.Room.APIKeys) == 0 {
		errs = append(errs, errors.New("room.api_key or room.api_keys is required"))
	}
	for i, key := range c.Room.APIKeys {
		if key.KeyHash == "" {
			errs = append(errs, fmt.Errorf("room.api_keys[%d].key_hash is empty", i))
		}
	}
	if c.Vision.Provider == "" {
		errs = append(errs, errors.New("vision.provider is required"))
	}
	if c.Vision.APIKey == "" {
		errs = append(errs, errors.New("vision.api_key is required"))
	}
	if c.Vision.MaxTokens <= 0 || c.Vision.MaxTokens > 300 {
		errs = append(errs, fmt.Errorf("vision.max_tokens must be in 1..300, got %d", c.Vision.MaxTokens))
	}
	if c.Vision.ImageQuality < 1 || c.Vision.ImageQuality > 100 {
		errs = append(errs, fmt.Errorf("vision.image_quality must be in 1..100, got %d", c.Vision.ImageQuality))
	}
	if c.Sampler.BaseFPS <= 0 || c.Sampler.BoostFPS <= 0 {
		errs = append(errs, errors.New("sampler fps values must be positive"))
	}
	if c.Stillness.Threshold <= 0 || c.Stillness.Stride <= 0 {
		errs = append(errs, errors.New("stillness.threshold and stillness.stride must be positive"))
	}
	if c.Navigation.MaxWatchDuration <= 0 {
		errs = append(errs, errors.New("navigation.max_watch_duration must be positive"))
	}
	switch c.Dispatch.NavigateCommand {
	case "scroll", "navigate":
	default:
		errs = append(errs, fmt.Errorf("dispatch.navigate_command must be scroll or navigate, got %q", c.Dispatch.NavigateCommand))
	}
	switch c.Storage.Type {
	case "sqlite", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}

	return errors.Join(errs...)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
