package domain

import "time"

// EmbeddingConfig is a named embedding backend configuration. Exactly one
// config is active at a time; switching the active config to one with a
// different dimension requires an explicit override (see
// EmbeddingAdmin.Activate).
type EmbeddingConfig struct {
	ID              string `json:"id"`
	Provider        string `json:"provider"`
	ModelName       string `json:"model_name"`
	Dimensions      int    `json:"dimensions"`
	Active          bool   `json:"active"`
	DeleteProtected bool   `json:"delete_protected"`
	ChangeProtected bool   `json:"change_protected"`
	// MatchThreshold is the concept-dedup cosine-similarity threshold used
	// by UpsertEngine.Apply. Stored per config: tunable per EmbeddingConfig
	// but applied globally, never overridden per-ontology.
	MatchThreshold float64   `json:"match_threshold"`
	CreatedAt      time.Time `json:"created_at"`
}
