package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/PadsterH2012/archon-plus-sub002/internal/circuitbreaker"
	"github.com/PadsterH2012/archon-plus-sub002/internal/db"
	"github.com/PadsterH2012/archon-plus-sub002/internal/toolcatalog"
	"github.com/PadsterH2012/archon-plus-sub002/internal/tracing"
	"github.com/PadsterH2012/archon-plus-sub002/internal/workflowstore"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "./config/augment.yaml"

// EnvPrefix prefixes environment overrides, e.g. AUGMENT_SERVER_PORT.
const EnvPrefix = "AUGMENT"

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type DetectionConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
	Thresholds  struct {
		AutoExecute float64 `mapstructure:"auto_execute"`
		Preview     float64 `mapstructure:"preview"`
	} `mapstructure:"thresholds"`
}

type TemplatesConfig struct {
	Dir string `mapstructure:"dir"`
}

type ComponentsConfig struct {
	Dirs []string `mapstructure:"dirs"`
}

type ToolsConfig struct {
	CatalogPath string              `mapstructure:"catalog_path"`
	Options     toolcatalog.Options `mapstructure:",squash"`
}

type RedisConfig struct {
	Enabled        bool                    `mapstructure:"enabled"`
	Addr           string                  `mapstructure:"addr"`
	Password       string                  `mapstructure:"password"`
	DB             int                     `mapstructure:"db"`
	CircuitBreaker circuitbreaker.Settings `mapstructure:"circuit_breaker"`
}

type WorkflowStoreConfig struct {
	Migrate bool                  `mapstructure:"migrate"`
	Options workflowstore.Options `mapstructure:",squash"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// Config is the service configuration.
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Tracing       tracing.Config      `mapstructure:"tracing"`
	Detection     DetectionConfig     `mapstructure:"detection"`
	Templates     TemplatesConfig     `mapstructure:"templates"`
	Components    ComponentsConfig    `mapstructure:"components"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Database      db.Config           `mapstructure:"database"`
	WorkflowStore WorkflowStoreConfig `mapstructure:"workflow_store"`
	Watch         WatchConfig         `mapstructure:"watch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8181)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.requests_per_second", 50.0)
	v.SetDefault("server.rate_limit.burst", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "task-augmentor")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("detection.catalog_path", "")
	v.SetDefault("detection.thresholds.auto_execute", 0.8)
	v.SetDefault("detection.thresholds.preview", 0.5)

	v.SetDefault("templates.dir", "./config/templates")
	v.SetDefault("components.dirs", []string{})

	v.SetDefault("tools.catalog_path", "./config/tools.yaml")
	v.SetDefault("tools.cache_ttl", "10m")
	v.SetDefault("tools.key_prefix", "augment:mcp:")
	v.SetDefault("tools.max_suggestions", 5)
	v.SetDefault("tools.saturation", 3)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "archon")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("workflow_store.migrate", false)
	v.SetDefault("workflow_store.scan_limit", 200)
	v.SetDefault("workflow_store.max_suggestions", 5)
	v.SetDefault("workflow_store.min_similarity", 0.05)
	v.SetDefault("workflow_store.tag_boost", 0.2)

	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", "250ms")
}

// Load reads the YAML file at CONFIG_PATH (or DefaultPath) and applies
// AUGMENT_* environment overrides. A missing file yields defaults.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	th := c.Detection.Thresholds
	if th.Preview < 0 || th.AutoExecute > 1 || th.Preview > th.AutoExecute {
		problems = append(problems, fmt.Sprintf("detection thresholds must satisfy 0 <= preview (%.2f) <= auto_execute (%.2f) <= 1", th.Preview, th.AutoExecute))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}
	if c.Templates.Dir == "" {
		problems = append(problems, "templates.dir is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
