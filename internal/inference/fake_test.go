package inference

import (
	"context"
	"log/slog"
	"sync"
)

// fakeEncoderSession produces deterministic per-token hidden states derived
// from the whole token sequence, standing in for a loaded bi-encoder.
type fakeEncoderSession struct {
	dim int

	mu     sync.Mutex
	calls  int
	err    error
	closed bool
}

func (f *fakeEncoderSession) run(enc encoding) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// FNV-style mix over the full sequence so the first-token hidden state
	// depends on every input token.
	var h uint64 = 1469598103934665603
	for _, id := range enc.ids {
		h = (h ^ uint64(id)) * 1099511628211
	}

	out := make([]float32, len(enc.ids)*f.dim)
	for pos := range enc.ids {
		for j := 0; j < f.dim; j++ {
			mixed := h ^ uint64(pos)*31 ^ uint64(j)*131
			out[pos*f.dim+j] = float32(mixed%2003)/2003.0 - 0.5
		}
	}
	return out, nil
}

func (f *fakeEncoderSession) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEncoderSession) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEncoderSession) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeScorerSession scores a pair by token overlap between the two segments,
// so lexically related pairs outscore unrelated ones deterministically.
type fakeScorerSession struct {
	mu  sync.Mutex
	err error
}

func (f *fakeScorerSession) run(enc encoding) ([]float32, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	seg0 := map[int64]bool{}
	var overlap float32
	for i, id := range enc.ids {
		if enc.mask[i] == 0 || id == clsTokenID || id == sepTokenID {
			continue
		}
		if enc.typeIDs[i] == 0 {
			seg0[id] = true
		} else if seg0[id] {
			overlap++
		}
	}
	return []float32{overlap}, nil
}

func (f *fakeScorerSession) close() error { return nil }

// recordingHandler captures slog records so tests can assert on emitted
// diagnostics.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func newTestEncoder(dim, maxLen int) (*Encoder, *fakeEncoderSession, *recordingHandler) {
	sess := &fakeEncoderSession{dim: dim}
	h := &recordingHandler{}
	cfg := NewEncoderConfig("test/bi-encoder", dim)
	cfg.MaxInputLength = maxLen
	return &Encoder{cfg: cfg, log: slog.New(h), sess: sess}, sess, h
}

func newTestScorer(maxLen int) (*RelevanceScorer, *fakeScorerSession) {
	sess := &fakeScorerSession{}
	cfg := NewScorerConfig("test/cross-encoder")
	cfg.MaxInputLength = maxLen
	return &RelevanceScorer{cfg: cfg, log: slog.Default(), sess: sess}, sess
}
