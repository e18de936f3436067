// Package config loads the stackflow service configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/readiness"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STACKFLOW_"

const (
	StoreMemory  = "memory"
	StoreSQLite  = "sqlite"
	StoreBackend = "backend"
)

type Config struct {
	Server    Server    `yaml:"server" json:"server"`
	Backend   Backend   `yaml:"backend" json:"backend"`
	Execution Execution `yaml:"execution" json:"execution"`
	Store     Store     `yaml:"store" json:"store"`
	Autosave  Autosave  `yaml:"autosave" json:"autosave"`
	Log       Log       `yaml:"log" json:"log"`
}

type Server struct {
	Addr            string        `yaml:"addr" json:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`
}

// Backend points at the workflow backend that executes workflows.
type Backend struct {
	BaseURL    string        `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
	Token      string        `yaml:"token" json:"-"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`
	// MaxUploadMB caps document uploads.
	MaxUploadMB int     `yaml:"max_upload_mb" json:"max_upload_mb" validate:"gte=1"`
	Breaker     Breaker `yaml:"breaker" json:"breaker"`
}

type Breaker struct {
	MinRequests      uint32        `yaml:"min_requests" json:"min_requests"`
	FailureThreshold float64       `yaml:"failure_threshold" json:"failure_threshold" validate:"gte=0,lte=1"`
	OpenTimeout      time.Duration `yaml:"open_timeout" json:"open_timeout" validate:"gte=0"`
}

type Execution struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	// Policy is "graph-wide" or "per-node".
	Policy string `yaml:"policy" json:"policy" validate:"oneof=graph-wide per-node"`
	// InlineWorkflow sends the graph snapshot along with each execution.
	InlineWorkflow bool `yaml:"inline_workflow" json:"inline_workflow"`
}

type Store struct {
	Driver string `yaml:"driver" json:"driver" validate:"oneof=memory sqlite backend"`
	DSN    string `yaml:"dsn" json:"dsn"`
	Table  string `yaml:"table" json:"table"`
}

type Autosave struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Expression string `yaml:"expression" json:"expression"`
}

type Log struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json pretty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Backend: Backend{
			BaseURL:     "http://localhost:8000",
			Timeout:     60 * time.Second,
			MaxRetries:  2,
			MaxUploadMB: 10,
			Breaker: Breaker{
				MinRequests:      5,
				FailureThreshold: 0.8,
				OpenTimeout:      60 * time.Second,
			},
		},
		Execution: Execution{
			Timeout:        2 * time.Minute,
			Policy:         readiness.GraphWide.String(),
			InlineWorkflow: true,
		},
		Store: Store{
			Driver: StoreMemory,
			Table:  "workflows",
		},
		Autosave: Autosave{
			Expression: "@every 30s",
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Parse decodes YAML or JSON over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	// yaml can handle JSON too, so a single attempt is fine
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, stackflow.NewError(stackflow.ErrInvalidRequest, "parse config", err, nil)
	}
	return cfg, cfg.Validate()
}

// Load reads path, applies environment overrides and validates. An empty
// path starts from the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, stackflow.NewError(stackflow.ErrInvalidRequest, "read config", err,
				map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, stackflow.NewError(stackflow.ErrInvalidRequest, "parse config", err,
				map[string]any{"path": path})
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from STACKFLOW_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("ADDR", &c.Server.Addr)
	str("BACKEND_URL", &c.Backend.BaseURL)
	str("TOKEN", &c.Backend.Token)
	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_DSN", &c.Store.DSN)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("AUTOSAVE_EXPRESSION", &c.Autosave.Expression)

	if v, ok := lookup(EnvPrefix + "AUTOSAVE"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return stackflow.NewError(stackflow.ErrInvalidRequest,
				fmt.Sprintf("%sAUTOSAVE must be a boolean", EnvPrefix), err, nil)
		}
		c.Autosave.Enabled = enabled
	}
	if v, ok := lookup(EnvPrefix + "EXECUTION_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return stackflow.NewError(stackflow.ErrInvalidRequest,
				fmt.Sprintf("%sEXECUTION_TIMEOUT must be a duration", EnvPrefix), err, nil)
		}
		c.Execution.Timeout = d
	}
	return nil
}

// Validate checks field constraints and cross field rules.
func (c Config) Validate() error {
	if err := stackflow.ValidateStruct(&c, stackflow.ErrInvalidRequest); err != nil {
		return err
	}
	if c.Store.Driver == StoreSQLite && c.Store.DSN == "" {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "store.dsn is required for the sqlite driver", nil, nil)
	}
	if c.Store.Driver == StoreBackend && c.Backend.BaseURL == "" {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "backend.base_url is required for the backend store", nil, nil)
	}
	if c.Autosave.Enabled && c.Autosave.Expression == "" {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "autosave.expression is required when autosave is enabled", nil, nil)
	}
	return nil
}

// ReadinessPolicy returns the configured connectivity policy.
func (c Config) ReadinessPolicy() readiness.Policy {
	if c.Execution.Policy == readiness.PerNode.String() {
		return readiness.PerNode
	}
	return readiness.GraphWide
}

// MaxUploadBytes returns the upload cap in bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Backend.MaxUploadMB) << 20
}
