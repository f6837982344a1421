// Package config loads layered configuration: built-in defaults, overlaid
// by a base YAML file, overlaid by an environment-specific YAML file,
// overlaid by environment variables. A fsnotify watcher (watcher.go) lets
// a subset of fields hot-reload without a restart.
package config

import "time"

// Environment selects which optional YAML overlay is loaded.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// ChunkerConfig mirrors defaults.
type ChunkerConfig struct {
	TargetWords  int `yaml:"target_words" validate:"required,min=1"`
	MinWords     int `yaml:"min_words" validate:"required,min=1"`
	MaxWords     int `yaml:"max_words" validate:"required,gtfield=MinWords"`
	OverlapWords int `yaml:"overlap_words" validate:"min=0"`
}

// VocabConfig mirrors zone thresholds.
type VocabConfig struct {
	MinComfort        int     `yaml:"min_comfort" validate:"required,min=1"`
	SoftMax           int     `yaml:"soft_max" validate:"required,gtfield=MinComfort"`
	HardMax           int     `yaml:"hard_max" validate:"required,gtfield=SoftMax"`
	MergeThreshold    float64 `yaml:"merge_threshold" validate:"required,gt=0,lte=1"`
	CreationThreshold float64 `yaml:"creation_threshold" validate:"required,gt=0,lte=1"`
}

// SchedulerConfig mirrors concurrency and timeout knobs.
type SchedulerConfig struct {
	Concurrency     int           `yaml:"concurrency" validate:"required,min=1"`
	LLMCallTimeout  time.Duration `yaml:"llm_call_timeout" validate:"required"`
	ChunkTimeout    time.Duration `yaml:"chunk_timeout" validate:"required"`
	JobHardTimeout  time.Duration `yaml:"job_hard_timeout"`
	RetentionWindow time.Duration `yaml:"retention_window" validate:"required"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"required"`
}

// UpsertConfig mirrors the tunable dedup threshold. Per the Open Question
// resolved in DESIGN.md, this applies globally: it is not overridable per
// ontology.
type UpsertConfig struct {
	MatchThreshold float64 `yaml:"match_threshold" validate:"required,gt=0,lte=1"`
}

// EmbeddingProviderConfig holds the bootstrap EmbeddingProvider settings;
// fields other than APIKey are overridden at runtime by whichever
// EmbeddingConfig row is active (see internal/embeddingadmin).
type EmbeddingProviderConfig struct {
	APIKey         string `yaml:"api_key"`
	QueryPrefix    string `yaml:"query_prefix"`
	DocumentPrefix string `yaml:"document_prefix"`
}

// ExtractionProviderConfig holds the ExtractionProvider's Anthropic call
// parameters.
type ExtractionProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// ObservabilityConfig mirrors tracing/metrics bootstrap knobs.
type ObservabilityConfig struct {
	ServiceName      string `yaml:"service_name"`
	OTLPEndpoint     string `yaml:"otlp_endpoint"`
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// RetryConfig mirrors retry counts.
type RetryConfig struct {
	StoreMaxAttempts      int `yaml:"store_max_attempts" validate:"required,min=1"`
	ProviderMaxAttempts   int `yaml:"provider_max_attempts" validate:"required,min=1"`
	ExtractionMaxAttempts int `yaml:"extraction_max_attempts" validate:"required,min=1"`
}

// EventsConfig controls the optional EventBridge sink for job-lifecycle
// events. Disabled by default: most deployments have no external consumer
// wired up yet.
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	EventBus string `yaml:"event_bus"`
	Source   string `yaml:"source"`
}

// Config is the fully-resolved, layered configuration.
type Config struct {
	Environment   Environment              `yaml:"environment"`
	Chunker       ChunkerConfig            `yaml:"chunker"`
	Vocab         VocabConfig              `yaml:"vocab"`
	Scheduler     SchedulerConfig          `yaml:"scheduler"`
	Upsert        UpsertConfig             `yaml:"upsert"`
	Retry         RetryConfig              `yaml:"retry"`
	Embedding     EmbeddingProviderConfig  `yaml:"embedding"`
	Extraction    ExtractionProviderConfig `yaml:"extraction"`
	Observability ObservabilityConfig      `yaml:"observability"`
	Events        EventsConfig             `yaml:"events"`

	RelationalDSN    string `yaml:"relational_dsn" validate:"required"`
	DynamoTable      string `yaml:"dynamo_table" validate:"required"`
	QdrantDSN        string `yaml:"qdrant_dsn" validate:"required"`
	QdrantCollection string `yaml:"qdrant_collection" validate:"required"`
	RedisAddr        string `yaml:"redis_addr" validate:"required"`

	// LoadedFrom records which sources contributed to the final value, for
	// startup diagnostics.
	LoadedFrom []string `yaml:"-"`
}

// Default returns the built-in configuration before any file or
// environment-variable overlay is applied.
func Default() *Config {
	return &Config{
		Environment: Development,
		Chunker: ChunkerConfig{
			TargetWords:  1000,
			MinWords:     800,
			MaxWords:     1500,
			OverlapWords: 200,
		},
		Vocab: VocabConfig{
			MinComfort:        30,
			SoftMax:           90,
			HardMax:           200,
			MergeThreshold:    0.92,
			CreationThreshold: 0.75,
		},
		Scheduler: SchedulerConfig{
			Concurrency:     1,
			LLMCallTimeout:  120 * time.Second,
			ChunkTimeout:    300 * time.Second,
			JobHardTimeout:  0, // 0 = unbounded
			RetentionWindow: 30 * 24 * time.Hour,
			CleanupInterval: 1 * time.Hour,
		},
		Upsert: UpsertConfig{
			MatchThreshold: 0.85,
		},
		Retry: RetryConfig{
			StoreMaxAttempts:      5,
			ProviderMaxAttempts:   2,
			ExtractionMaxAttempts: 2,
		},
		Embedding: EmbeddingProviderConfig{
			DocumentPrefix: "",
			QueryPrefix:    "",
		},
		Extraction: ExtractionProviderConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Observability: ObservabilityConfig{
			ServiceName:      "kgraph-worker",
			MetricsNamespace: "kgraph",
		},
		Events: EventsConfig{
			Enabled:  false,
			EventBus: "default",
			Source:   "kgraph-worker",
		},
		RelationalDSN:    "postgres://localhost:5432/kgraph?sslmode=disable",
		DynamoTable:      "kgraph_graph",
		QdrantDSN:        "http://localhost:6334",
		QdrantCollection: "kgraph_concepts",
		RedisAddr:        "localhost:6379",
	}
}
