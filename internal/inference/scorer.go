package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Pair is one (query, candidate) input to the RelevanceScorer.
type Pair struct {
	Query     string
	Candidate string
}

// RelevanceScorer is the process-wide cross-encoder. It jointly encodes text
// pairs and produces one relevance score per pair. Obtain it via AcquireScorer.
type RelevanceScorer struct {
	cfg  ScorerConfig
	log  *slog.Logger
	sess session
	mu   sync.Mutex
}

// Config returns the frozen configuration the instance was constructed with.
func (s *RelevanceScorer) Config() ScorerConfig { return s.cfg }

// Score returns one relevance score per pair, in input order. Higher means
// more relevant; scores are raw model logits with no guaranteed range.
//
// Unlike Encoder.Encode, failures propagate: a malformed pair or a failed
// forward pass aborts the whole call with an error. The pipeline treats a
// failed re-ranking batch as unrecoverable rather than silently reordering
// on partial scores.
func (s *RelevanceScorer) Score(_ context.Context, pairs []Pair) ([]float32, error) {
	scores := make([]float32, len(pairs))
	for i, p := range pairs {
		enc, err := encodePair(p.Query, p.Candidate, s.cfg.MaxInputLength)
		if err != nil {
			return nil, fmt.Errorf("inference: tokenize pair %d: %w", i, err)
		}

		out, err := s.forward(enc)
		if err != nil {
			return nil, fmt.Errorf("inference: score pair %d with model %s: %w", i, s.cfg.ModelID, err)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("inference: model %s returned no logits for pair %d", s.cfg.ModelID, i)
		}
		scores[i] = out[0]
	}
	return scores, nil
}

func (s *RelevanceScorer) forward(enc encoding) ([]float32, error) {
	if s.cfg.SerializeInference {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return s.sess.run(enc)
}
