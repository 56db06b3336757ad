package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the bridge service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Summarizer    SummarizerConfig    `mapstructure:"summarizer"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Providers     ProviderKeys        `mapstructure:"providers"`
	ProviderChain []ProviderEntry     `mapstructure:"provider_chain"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ReadHeaderTimeout     time.Duration `mapstructure:"read_header_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type CatalogConfig struct {
	Path       string         `mapstructure:"path"`
	RoleQuotas map[string]int `mapstructure:"role_quotas"`
}

type SummarizerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	MaxWords int           `mapstructure:"max_words"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type ObservabilityConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// ProviderKeys holds credentials and endpoint overrides per backend.
type ProviderKeys struct {
	RunwareKey        string `mapstructure:"runware_key"`
	RunwareEndpoint   string `mapstructure:"runware_endpoint"`
	RunwareModel      string `mapstructure:"runware_model"`
	HFSpaceURL        string `mapstructure:"hf_space_url"`
	HFToken           string `mapstructure:"hf_token"`
	WavespeedKey      string `mapstructure:"wavespeed_key"`
	WavespeedEndpoint string `mapstructure:"wavespeed_endpoint"`
	FALKey            string `mapstructure:"fal_key"`
	FALEndpoint       string `mapstructure:"fal_endpoint"`
	TogetherKey       string `mapstructure:"together_key"`
	TogetherBaseURL   string `mapstructure:"together_base_url"`
	PixelDojoKey      string `mapstructure:"pixeldojo_key"`
	PixelDojoEndpoint string `mapstructure:"pixeldojo_endpoint"`
}

// ProviderEntry is one slot in the fallback chain. Priority alone decides
// attempt order; nothing at request time reorders the chain.
type ProviderEntry struct {
	Name          string        `mapstructure:"name"`
	Priority      int           `mapstructure:"priority"`
	MaxAdapters   int           `mapstructure:"max_adapters"`
	TimeoutBudget time.Duration `mapstructure:"timeout_budget"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Enabled       *bool         `mapstructure:"enabled"`
}

func (e ProviderEntry) IsEnabled() bool {
	if e.Enabled == nil {
		return true
	}
	return *e.Enabled
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("BRIDGE_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("bridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and normalizes the chain.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Catalog.Path) == "" {
		return fmt.Errorf("catalog.path must be provided (BRIDGE_CATALOG_PATH)")
	}
	for role, quota := range c.Catalog.RoleQuotas {
		if quota < 0 {
			return fmt.Errorf("catalog.role_quotas.%s must be >= 0", role)
		}
	}

	if c.Summarizer.Enabled {
		if strings.TrimSpace(c.Summarizer.APIKey) == "" {
			return fmt.Errorf("summarizer.api_key must be provided when summarizer is enabled")
		}
		if c.Summarizer.Timeout <= 0 {
			c.Summarizer.Timeout = 30 * time.Second
		}
		if c.Summarizer.MaxWords <= 0 {
			c.Summarizer.MaxWords = 300
		}
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	enabled := 0
	seen := make(map[string]struct{}, len(c.ProviderChain))
	for i, entry := range c.ProviderChain {
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("provider_chain[%d].name must be provided", i)
		}
		if _, dup := seen[entry.Name]; dup {
			return fmt.Errorf("provider_chain contains %q twice", entry.Name)
		}
		seen[entry.Name] = struct{}{}
		if entry.TimeoutBudget <= 0 {
			c.ProviderChain[i].TimeoutBudget = 120 * time.Second
		}
		if entry.PollInterval <= 0 {
			c.ProviderChain[i].PollInterval = 2 * time.Second
		}
		if entry.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("provider_chain has no enabled providers")
	}
	sort.SliceStable(c.ProviderChain, func(i, j int) bool {
		return c.ProviderChain[i].Priority < c.ProviderChain[j].Priority
	})

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":7861")
	v.SetDefault("server.body_limit_mb", 10)
	v.SetDefault("server.request_timeout", "300s")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("catalog.path", "master_adapter_catalog.json")
	v.SetDefault("catalog.role_quotas", map[string]int{
		"character":  6,
		"nsfw":       4,
		"expression": 2,
		"general":    2,
		"misc":       1,
	})

	v.SetDefault("summarizer.enabled", false)
	v.SetDefault("summarizer.base_url", "https://api.together.xyz/v1")
	v.SetDefault("summarizer.model", "deepseek-ai/DeepSeek-V3")
	v.SetDefault("summarizer.max_words", 300)
	v.SetDefault("summarizer.timeout", "30s")

	v.SetDefault("observability.enable_metrics", true)

	v.SetDefault("providers.runware_endpoint", "https://api.runware.ai/v1")
	v.SetDefault("providers.runware_model", "runware:101@1")
	v.SetDefault("providers.wavespeed_endpoint", "https://api.wavespeed.ai/api/v3/wavespeed-ai/flux-dev-lora")
	v.SetDefault("providers.fal_endpoint", "https://queue.fal.run/fal-ai/flux-lora")
	v.SetDefault("providers.together_base_url", "https://api.together.xyz/v1")
	v.SetDefault("providers.pixeldojo_endpoint", "https://pixeldojo.ai/api/v1/flux")

	v.SetDefault("provider_chain", []map[string]any{
		{"name": "runware", "priority": 1, "max_adapters": 12, "timeout_budget": "120s"},
		{"name": "hfspace", "priority": 2, "max_adapters": 10, "timeout_budget": "180s"},
		{"name": "wavespeed", "priority": 3, "max_adapters": 4, "timeout_budget": "120s"},
		{"name": "fal", "priority": 4, "max_adapters": 3, "timeout_budget": "120s"},
		{"name": "together", "priority": 5, "max_adapters": 2, "timeout_budget": "120s"},
		{"name": "pixeldojo", "priority": 6, "max_adapters": 1, "timeout_budget": "120s"},
	})
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
