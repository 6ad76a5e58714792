// Package inference owns the process-wide neural inference resources of the
// streamsift engine: a bi-encoder that turns text into fixed-size embedding
// vectors and a cross-encoder that scores (query, candidate) text pairs for
// re-ranking. Each model is loaded exactly once per process and shared by all
// callers; see AcquireEncoder and AcquireScorer.
package inference

import (
	"errors"
	"fmt"
)

const (
	// DefaultMaxInputLength is the token budget applied when a config leaves
	// MaxInputLength unset.
	DefaultMaxInputLength = 128

	// DefaultDevice is the compute device used when a config leaves Device unset.
	DefaultDevice = "cpu"
)

var errMissingModelID = errors.New("inference: ModelID is required")

// EncoderConfig configures the embedding Encoder. It is frozen into the
// singleton on first construction; later Acquire calls cannot change it.
type EncoderConfig struct {
	// ModelID identifies the bi-encoder model, e.g.
	// "sentence-transformers/all-MiniLM-L6-v2".
	ModelID string

	// EmbeddingSize is the width of the vectors the model produces. It must
	// match the model's true output width.
	EmbeddingSize int

	// MaxInputLength is the maximum token count per input; longer texts are
	// truncated during tokenization.
	MaxInputLength int

	// Device selects the compute device: "cpu", "cuda", or "cuda:N".
	Device string

	// CacheDir is where model artifacts are stored. Empty means the default
	// location under the user's home directory.
	CacheDir string

	// SerializeInference wraps each forward pass in a mutex scoped to the
	// instance. ONNX Runtime sessions are not guaranteed re-entrant across
	// every execution provider, so this defaults to on via NewEncoderConfig.
	SerializeInference bool
}

// NewEncoderConfig returns an EncoderConfig with defaults applied for the
// given model and embedding size.
func NewEncoderConfig(modelID string, embeddingSize int) EncoderConfig {
	return EncoderConfig{
		ModelID:            modelID,
		EmbeddingSize:      embeddingSize,
		MaxInputLength:     DefaultMaxInputLength,
		Device:             DefaultDevice,
		SerializeInference: true,
	}
}

// Validate reports the first construction-blocking problem with the config.
func (c EncoderConfig) Validate() error {
	if c.ModelID == "" {
		return errMissingModelID
	}
	if c.EmbeddingSize <= 0 {
		return fmt.Errorf("inference: EmbeddingSize must be positive, got %d", c.EmbeddingSize)
	}
	if c.MaxInputLength <= 0 {
		return fmt.Errorf("inference: MaxInputLength must be positive, got %d", c.MaxInputLength)
	}
	return nil
}

// ScorerConfig configures the RelevanceScorer. Same freeze-on-first-use
// lifecycle as EncoderConfig.
type ScorerConfig struct {
	// ModelID identifies the cross-encoder model, e.g.
	// "cross-encoder/ms-marco-MiniLM-L-6-v2".
	ModelID string

	// MaxInputLength is the joint token budget for an encoded pair.
	MaxInputLength int

	// Device selects the compute device: "cpu", "cuda", or "cuda:N".
	Device string

	// CacheDir is where model artifacts are stored; empty means the default.
	CacheDir string

	// SerializeInference wraps each forward pass in an instance-scoped mutex.
	SerializeInference bool
}

// NewScorerConfig returns a ScorerConfig with defaults applied for the given model.
func NewScorerConfig(modelID string) ScorerConfig {
	return ScorerConfig{
		ModelID:            modelID,
		MaxInputLength:     DefaultMaxInputLength,
		Device:             DefaultDevice,
		SerializeInference: true,
	}
}

// Validate reports the first construction-blocking problem with the config.
func (c ScorerConfig) Validate() error {
	if c.ModelID == "" {
		return errMissingModelID
	}
	if c.MaxInputLength <= 0 {
		return fmt.Errorf("inference: MaxInputLength must be positive, got %d", c.MaxInputLength)
	}
	return nil
}
