package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Sim       SimConfig       `yaml:"sim" mapstructure:"sim"`
	Panel     PanelConfig     `yaml:"panel" mapstructure:"panel"`
	Credits   CreditsConfig   `yaml:"credits" mapstructure:"credits"`
	Poll      PollConfig      `yaml:"poll" mapstructure:"poll"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OpenAIConfig holds settings for any OpenAI-compatible completion API.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SimConfig configures job execution.
type SimConfig struct {
	Workers        int     `yaml:"workers" mapstructure:"workers"`
	MaxPanelSize   int     `yaml:"max_panel_size" mapstructure:"max_panel_size"`
	JobTimeoutSecs int     `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
	RatePerSec     float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Temperature    float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens      int     `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PanelConfig locates the demographic data and perspective catalog.
type PanelConfig struct {
	DemographicsPath string `yaml:"demographics_path" mapstructure:"demographics_path"`
	CatalogPath      string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// CreditsConfig configures the billing gate.
type CreditsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// PollConfig configures the client-side result poller.
type PollConfig struct {
	IntervalMillis int `yaml:"interval_millis" mapstructure:"interval_millis"`
	MaxAttempts    int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "hive.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("sim.workers", 4)
	v.SetDefault("sim.max_panel_size", 100)
	v.SetDefault("sim.job_timeout_secs", 600)
	v.SetDefault("sim.rate_per_sec", 5.0)
	v.SetDefault("sim.temperature", 1.0)
	v.SetDefault("sim.max_tokens", 500)
	v.SetDefault("panel.demographics_path", "demographics.csv")
	v.SetDefault("credits.enabled", false)
	v.SetDefault("poll.interval_millis", 2000)
	v.SetDefault("poll.max_attempts", 150)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a given mode requires. Modes are the
// command names: "serve" needs a listen port and a completion backend,
// "run" needs a backend only.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkCommon := func() {
		if c.OpenAI.Key == "" && c.Anthropic.Key == "" {
			problems = append(problems, "openai.key or anthropic.key is required")
		}
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Sim.Workers < 1 || c.Sim.Workers > 50 {
			problems = append(problems, "sim.workers must be between 1 and 50")
		}
		if c.Sim.MaxPanelSize < 1 {
			problems = append(problems, "sim.max_panel_size must be >= 1")
		}
		if c.Sim.RatePerSec < 0 {
			problems = append(problems, "sim.rate_per_sec must be >= 0")
		}
	}

	switch mode {
	case "serve":
		checkCommon()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "run":
		checkCommon()
		if c.Poll.MaxAttempts < 1 {
			problems = append(problems, "poll.max_attempts must be >= 1")
		}
	case "migrate", "personas":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
