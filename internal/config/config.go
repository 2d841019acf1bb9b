// Package config defines the process configuration: storage locations,
// embedding dimensionality, CORS, and the optional Redis cache used by the
// compounding engine's advisory link cache.
package config

// PostgresConfig points at the durable record-store backend. Storage is a
// capability the core consumes; any transactional key-value backend
// suffices, but the reference deployment uses Postgres.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// QdrantConfig points at the vector index backend.
type QdrantConfig struct {
	DSN    string `yaml:"dsn"`
	Metric string `yaml:"metric"` // cosine|l2|ip, defaults to cosine
}

// RedisConfig configures the advisory related_entries cache used by the
// compounding engine. Disabled by default; the engine falls back to an
// in-process map when Redis isn't configured.
type RedisConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password"`
	DB                    int    `yaml:"db"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`
}

// EmbeddingConfig configures the embedding provider capability.
type EmbeddingConfig struct {
	Dimensions int `yaml:"dimensions"`
}

// CompoundingConfig holds tuning values for the compounding maintenance
// operations. Load fills it from YAML, but no component reads it: the
// engine and the compact endpoint use the compounding package's defaults.
type CompoundingConfig struct {
	DecayAfterDays int     `yaml:"decay_after_days"`
	DecayRate      float64 `yaml:"decay_rate"`
	LinkThreshold  float64 `yaml:"link_threshold"`
	MergeThreshold float64 `yaml:"merge_threshold"`
}

// HTTPConfig configures the thin HTTP edge adapter over the core.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// Config is the root configuration object, loaded from YAML. There are no
// mandatory environment variables; every field has a documented default
// applied by Default().
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	LogPath     string            `yaml:"log_path"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Qdrant      QdrantConfig      `yaml:"qdrant"`
	Redis       RedisConfig       `yaml:"redis"`
	Embeddings  EmbeddingConfig   `yaml:"embeddings"`
	Compounding CompoundingConfig `yaml:"compounding"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// Default returns a Config with every ambient default spec.md section 6
// requires: embedding dimension 512, no mandatory env vars, permissive CORS
// disabled by default (empty allow-list).
func Default() Config {
	return Config{
		LogLevel: "info",
		Qdrant:   QdrantConfig{Metric: "cosine"},
		Embeddings: EmbeddingConfig{
			Dimensions: 512,
		},
		Compounding: CompoundingConfig{
			DecayAfterDays: 30,
			DecayRate:      0.95,
			LinkThreshold:  0.8,
			MergeThreshold: 0.95,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}
