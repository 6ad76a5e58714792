package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/streamsift/engine/internal/inference"
)

// Env overrides applied after the config file is read. Deployment chooses
// the device and artifact location; the file pins model identity.
const (
	envDevice        = "SIFT_DEVICE"
	envModelCacheDir = "SIFT_MODEL_CACHE_DIR"
	envEncoderModel  = "SIFT_ENCODER_MODEL_ID"
	envScorerModel   = "SIFT_SCORER_MODEL_ID"
)

const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["encoder", "scorer"],
  "properties": {
    "encoder": {
      "type": "object",
      "required": ["model_id", "embedding_size"],
      "properties": {
        "model_id": {"type": "string", "minLength": 1},
        "embedding_size": {"type": "integer", "minimum": 1},
        "max_input_length": {"type": "integer", "minimum": 1},
        "device": {"type": "string"},
        "cache_dir": {"type": "string"}
      }
    },
    "scorer": {
      "type": "object",
      "required": ["model_id"],
      "properties": {
        "model_id": {"type": "string", "minLength": 1},
        "max_input_length": {"type": "integer", "minimum": 1},
        "device": {"type": "string"},
        "cache_dir": {"type": "string"}
      }
    },
    "cache": {
      "type": "object",
      "properties": {
        "path": {"type": "string"},
        "max_mb": {"type": "integer", "minimum": 1}
      }
    },
    "server": {
      "type": "object",
      "properties": {
        "max_concurrent": {"type": "integer", "minimum": 1},
        "rate_per_second": {"type": "number", "exclusiveMinimum": 0},
        "rate_burst": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

// Config is the engine process configuration.
type Config struct {
	Encoder EncoderSettings `json:"encoder"`
	Scorer  ScorerSettings  `json:"scorer"`
	Cache   CacheSettings   `json:"cache"`
	Server  ServerSettings  `json:"server"`
}

// EncoderSettings selects and sizes the bi-encoder model.
type EncoderSettings struct {
	ModelID        string `json:"model_id"`
	EmbeddingSize  int    `json:"embedding_size"`
	MaxInputLength int    `json:"max_input_length"`
	Device         string `json:"device"`
	CacheDir       string `json:"cache_dir"`
}

// ScorerSettings selects the cross-encoder model.
type ScorerSettings struct {
	ModelID        string `json:"model_id"`
	MaxInputLength int    `json:"max_input_length"`
	Device         string `json:"device"`
	CacheDir       string `json:"cache_dir"`
}

// CacheSettings configures the persistent vector cache. An empty path
// disables it.
type CacheSettings struct {
	Path  string `json:"path"`
	MaxMB int    `json:"max_mb"`
}

// ServerSettings bounds the NDJSON server.
type ServerSettings struct {
	MaxConcurrent int     `json:"max_concurrent"`
	RatePerSecond float64 `json:"rate_per_second"`
	RateBurst     int     `json:"rate_burst"`
}

// DefaultConfig returns the configuration used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		Encoder: EncoderSettings{
			ModelID:        "sentence-transformers/all-MiniLM-L6-v2",
			EmbeddingSize:  384,
			MaxInputLength: inference.DefaultMaxInputLength,
			Device:         inference.DefaultDevice,
		},
		Scorer: ScorerSettings{
			ModelID:        "cross-encoder/ms-marco-MiniLM-L-6-v2",
			MaxInputLength: inference.DefaultMaxInputLength,
			Device:         inference.DefaultDevice,
		},
		Cache: CacheSettings{MaxMB: 500},
	}
}

// LoadConfig reads, schema-validates, and unmarshals the config file at
// path, then applies SIFT_* env overrides.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("service: read config %s: %w", path, err)
	}

	if err := validateConfig(raw); err != nil {
		return nil, fmt.Errorf("service: config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("service: parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func validateConfig(raw []byte) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(configSchema))
	if err != nil {
		return fmt.Errorf("parse embedded schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("engine-config.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("engine-config.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envDevice); v != "" {
		cfg.Encoder.Device = v
		cfg.Scorer.Device = v
	}
	if v := os.Getenv(envModelCacheDir); v != "" {
		cfg.Encoder.CacheDir = v
		cfg.Scorer.CacheDir = v
	}
	if v := os.Getenv(envEncoderModel); v != "" {
		cfg.Encoder.ModelID = v
	}
	if v := os.Getenv(envScorerModel); v != "" {
		cfg.Scorer.ModelID = v
	}
}

// EncoderConfig maps the settings onto the inference core's configuration.
func (c *Config) EncoderConfig() inference.EncoderConfig {
	ec := inference.NewEncoderConfig(c.Encoder.ModelID, c.Encoder.EmbeddingSize)
	if c.Encoder.MaxInputLength > 0 {
		ec.MaxInputLength = c.Encoder.MaxInputLength
	}
	if c.Encoder.Device != "" {
		ec.Device = c.Encoder.Device
	}
	ec.CacheDir = c.Encoder.CacheDir
	return ec
}

// ScorerConfig maps the settings onto the inference core's configuration.
func (c *Config) ScorerConfig() inference.ScorerConfig {
	sc := inference.NewScorerConfig(c.Scorer.ModelID)
	if c.Scorer.MaxInputLength > 0 {
		sc.MaxInputLength = c.Scorer.MaxInputLength
	}
	if c.Scorer.Device != "" {
		sc.Device = c.Scorer.Device
	}
	sc.CacheDir = c.Scorer.CacheDir
	return sc
}
