package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	kgerrors "kgraph-backend/internal/errors"
)

// structValidator runs declarative `validate` struct-tag rules, mirroring
// internal/interfaces/http/validation.Validator singleton
// (here applied to the config tree instead of HTTP DTOs).
var structValidator = validator.New()

// Loader resolves a Config by layering, in increasing priority: built-in
// defaults, a base YAML file, an environment-specific YAML file, and
// environment variables prefixed KGRAPH_. This mirrors // internal/config/loader.go layering order.
type Loader struct {
	ConfigDir string
	EnvPrefix string
}

func NewLoader(configDir string) *Loader {
	return &Loader{ConfigDir: configDir, EnvPrefix: "KGRAPH_"}
}

// Load resolves the final Config, recording which layers actually
// contributed in Config.LoadedFrom.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = append(cfg.LoadedFrom, "defaults")

	basePath := filepath.Join(l.ConfigDir, "config.yaml")
	if err := l.overlayFile(cfg, basePath); err != nil {
		return nil, err
	}

	env := Environment(envOr(l.EnvPrefix+"ENVIRONMENT", string(cfg.Environment)))
	cfg.Environment = env

	envPath := filepath.Join(l.ConfigDir, fmt.Sprintf("config.%s.yaml", env))
	if err := l.overlayFile(cfg, envPath); err != nil {
		return nil, err
	}

	l.overlayEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return kgerrors.Wrap(err, "read config file "+path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return kgerrors.Wrap(err, "parse config file "+path)
	}
	cfg.LoadedFrom = append(cfg.LoadedFrom, path)
	return nil
}

// overlayEnv applies a small, explicit set of environment-variable
// overrides. Unlike the YAML layers this does not reflect over struct tags;
// loader.go takes the same explicit-list approach rather than
// a generic env-to-struct mapper.
func (l *Loader) overlayEnv(cfg *Config) {
	if v, ok := os.LookupEnv(l.EnvPrefix + "RELATIONAL_DSN"); ok {
		cfg.RelationalDSN = v
		cfg.LoadedFrom = append(cfg.LoadedFrom, "env:RELATIONAL_DSN")
	}
	if v, ok := os.LookupEnv(l.EnvPrefix + "DYNAMO_TABLE"); ok {
		cfg.DynamoTable = v
		cfg.LoadedFrom = append(cfg.LoadedFrom, "env:DYNAMO_TABLE")
	}
	if v, ok := os.LookupEnv(l.EnvPrefix + "QDRANT_DSN"); ok {
		cfg.QdrantDSN = v
		cfg.LoadedFrom = append(cfg.LoadedFrom, "env:QDRANT_DSN")
	}
	if v, ok := os.LookupEnv(l.EnvPrefix + "REDIS_ADDR"); ok {
		cfg.RedisAddr = v
		cfg.LoadedFrom = append(cfg.LoadedFrom, "env:REDIS_ADDR")
	}
	if v, ok := os.LookupEnv(l.EnvPrefix + "SCHEDULER_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Concurrency = n
			cfg.LoadedFrom = append(cfg.LoadedFrom, "env:SCHEDULER_CONCURRENCY")
		}
	}
	if v, ok := os.LookupEnv(l.EnvPrefix + "LLM_CALL_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.LLMCallTimeout = d
			cfg.LoadedFrom = append(cfg.LoadedFrom, "env:LLM_CALL_TIMEOUT")
		}
	}
	// API keys are secrets and never read from YAML, only from the
	// environment, mirroring loader.go treatment of
	// credentials.
	if v, ok := os.LookupEnv(l.EnvPrefix + "EMBEDDING_API_KEY"); ok {
		cfg.Embedding.APIKey = v
		cfg.LoadedFrom = append(cfg.LoadedFrom, "env:EMBEDDING_API_KEY")
	}
	if v, ok := os.LookupEnv(l.EnvPrefix + "EXTRACTION_API_KEY"); ok {
		cfg.Extraction.APIKey = v
		cfg.LoadedFrom = append(cfg.LoadedFrom, "env:EXTRACTION_API_KEY")
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// validate checks struct-tag rules via structValidator. Cross-field
// ordering (chunker word bounds, vocab zone thresholds, etc.) is expressed
// with gtfield tags directly on Config, so there is no separate hand-rolled
// pass left here.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return kgerrors.Validation("invalid configuration: " + err.Error())
	}
	return nil
}
