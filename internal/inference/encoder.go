package inference

import (
	"context"
	"log/slog"
	"sync"
)

// maxLoggedInputBytes bounds how much of a failing input is echoed into logs.
const maxLoggedInputBytes = 256

// Encoder is the process-wide bi-encoder. It owns one loaded model and its
// tokenizer, both read-only after construction. Obtain it via AcquireEncoder.
type Encoder struct {
	cfg  EncoderConfig
	log  *slog.Logger
	sess session
	mu   sync.Mutex
}

// Config returns the frozen configuration the instance was constructed with.
func (e *Encoder) Config() EncoderConfig { return e.cfg }

// Encode turns text into a flat embedding vector of length
// EmbeddingSize. Tokenization and forward-pass failures never escape as
// errors: they are logged and reported as a nil result, and the instance
// remains usable for subsequent calls. Callers detect failure by checking
// for an empty result.
//
// The embedding is the hidden state of the first token position ([CLS]) of
// the model's last hidden layer. Downstream similarity computations depend
// on this exact pooling choice; it is deliberately not mean or max pooling.
func (e *Encoder) Encode(_ context.Context, text string) []float32 {
	enc, err := encodeText(text, e.cfg.MaxInputLength)
	if err != nil {
		e.log.Error("tokenization failed", "err", err)
		e.log.Error("could not tokenize input text", "text", clipForLog(text))
		return nil
	}

	out, err := e.forward(enc)
	if err != nil {
		e.log.Error("forward pass failed", "err", err)
		e.log.Error("could not generate embedding",
			"model_id", e.cfg.ModelID, "text", clipForLog(text))
		return nil
	}

	dim := e.cfg.EmbeddingSize
	if len(out) < dim {
		e.log.Error("model output narrower than configured embedding size",
			"got", len(out), "want", dim)
		e.log.Error("could not generate embedding",
			"model_id", e.cfg.ModelID, "text", clipForLog(text))
		return nil
	}

	// First token position of the last hidden state, copied out of the
	// session's buffer so the caller owns host memory.
	vec := make([]float32, dim)
	copy(vec, out[:dim])
	return vec
}

// EncodeRows returns the same embedding as Encode wrapped in a 1×dim matrix,
// the row-per-input shape batch consumers expect. Nil on handled failure.
func (e *Encoder) EncodeRows(ctx context.Context, text string) [][]float32 {
	vec := e.Encode(ctx, text)
	if vec == nil {
		return nil
	}
	return [][]float32{vec}
}

// forward runs the model, serialized per instance unless the config opted
// into free-threaded inference.
func (e *Encoder) forward(enc encoding) ([]float32, error) {
	if e.cfg.SerializeInference {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	return e.sess.run(enc)
}

func clipForLog(text string) string {
	if len(text) > maxLoggedInputBytes {
		return text[:maxLoggedInputBytes] + "…"
	}
	return text
}
