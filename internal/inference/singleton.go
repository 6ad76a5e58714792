package inference

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Process-wide singleton holders. Construction is serialized under the
// holder mutex so exactly one model load happens even when first-time
// callers race; the first caller's configuration is frozen for the process
// lifetime.
var (
	encoderMu       sync.Mutex
	encoderInstance *Encoder

	scorerMu       sync.Mutex
	scorerInstance *RelevanceScorer
)

// AcquireEncoder returns the process-wide Encoder, constructing it on first
// call. Later calls return the same instance; a call carrying a different
// configuration gets the existing instance back unchanged, and the ignored
// mismatch is logged so first-writer-wins is observable rather than silent.
// Construction failure leaves the holder empty, so a later call with a
// corrected configuration can retry.
func AcquireEncoder(cfg EncoderConfig) (*Encoder, error) {
	encoderMu.Lock()
	defer encoderMu.Unlock()

	if encoderInstance != nil {
		if cfg != encoderInstance.cfg {
			slog.Warn("encoder already constructed, ignoring differing configuration",
				"active_model_id", encoderInstance.cfg.ModelID,
				"requested_model_id", cfg.ModelID)
		}
		return encoderInstance, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sess, err := loadEncoderSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("inference: construct encoder: %w", err)
	}

	encoderInstance = &Encoder{cfg: cfg, log: slog.Default(), sess: sess}
	return encoderInstance, nil
}

// AcquireScorer returns the process-wide RelevanceScorer, constructing it on
// first call. Same lifecycle and first-writer-wins policy as AcquireEncoder.
func AcquireScorer(cfg ScorerConfig) (*RelevanceScorer, error) {
	scorerMu.Lock()
	defer scorerMu.Unlock()

	if scorerInstance != nil {
		if cfg != scorerInstance.cfg {
			slog.Warn("scorer already constructed, ignoring differing configuration",
				"active_model_id", scorerInstance.cfg.ModelID,
				"requested_model_id", cfg.ModelID)
		}
		return scorerInstance, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sess, err := loadScorerSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("inference: construct scorer: %w", err)
	}

	scorerInstance = &RelevanceScorer{cfg: cfg, log: slog.Default(), sess: sess}
	return scorerInstance, nil
}

// Shutdown releases any constructed singletons. Intended for process
// teardown only; instances handed out earlier must not be used afterwards.
func Shutdown() error {
	var errs []error

	encoderMu.Lock()
	if encoderInstance != nil {
		if err := encoderInstance.sess.close(); err != nil {
			errs = append(errs, fmt.Errorf("inference: close encoder: %w", err))
		}
		encoderInstance = nil
	}
	encoderMu.Unlock()

	scorerMu.Lock()
	if scorerInstance != nil {
		if err := scorerInstance.sess.close(); err != nil {
			errs = append(errs, fmt.Errorf("inference: close scorer: %w", err))
		}
		scorerInstance = nil
	}
	scorerMu.Unlock()

	return errors.Join(errs...)
}
