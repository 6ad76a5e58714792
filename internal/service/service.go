// Package service is the pipeline-facing facade over the inference core:
// single and batch encoding with a cache lookaside and rate limiting, and
// cross-encoder re-ranking.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/time/rate"

	"github.com/streamsift/engine/internal/cache"
	"github.com/streamsift/engine/internal/inference"
)

// encoder and scorer mirror the inference singletons so tests can inject
// deterministic fakes.
type encoder interface {
	Encode(ctx context.Context, text string) []float32
	EncodeRows(ctx context.Context, text string) [][]float32
	Config() inference.EncoderConfig
}

type scorer interface {
	Score(ctx context.Context, pairs []inference.Pair) ([]float32, error)
	Config() inference.ScorerConfig
}

// Service coordinates the shared encoder and scorer for the pipeline.
type Service struct {
	enc     encoder
	scorer  scorer
	vectors *cache.VectorCache // nil disables caching
	limiter *rate.Limiter      // nil disables rate limiting
	log     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithVectorCache attaches a persistent vector cache consulted before the
// encoder and updated after successful encodes.
func WithVectorCache(c *cache.VectorCache) Option {
	return func(s *Service) { s.vectors = c }
}

// WithRateLimit bounds inference throughput so a bursty batch pipeline
// cannot starve the shared compute device.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Service) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a Service over the given encoder and scorer.
func New(enc encoder, sc scorer, opts ...Option) *Service {
	s := &Service{enc: enc, scorer: sc, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EncoderConfig returns the active encoder configuration.
func (s *Service) EncoderConfig() inference.EncoderConfig { return s.enc.Config() }

// ScorerConfig returns the active scorer configuration.
func (s *Service) ScorerConfig() inference.ScorerConfig { return s.scorer.Config() }

// Encode embeds one text, consulting the vector cache first. Empty result
// means the encode failed and was isolated inside the encoder.
func (s *Service) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.encodeOne(ctx, text), nil
}

// EncodeRows is Encode in the 1×dim matrix representation.
func (s *Service) EncodeRows(ctx context.Context, text string) ([][]float32, error) {
	vec, err := s.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return nil, nil
	}
	return [][]float32{vec}, nil
}

// EncodeBatch embeds each text in input order. A text whose encoding fails
// yields a nil vector at its position; the batch keeps going, matching the
// encoder's isolation contract. The returned error only reports context
// cancellation while waiting on the rate limiter.
func (s *Service) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		out[i] = s.encodeOne(ctx, text)
	}
	return out, nil
}

// Rerank scores every candidate against the query and returns the scores in
// candidate order plus the candidate indices sorted by descending score,
// ties keeping input order. Scoring failures propagate: a half-scored batch
// must not silently reorder results.
func (s *Service) Rerank(ctx context.Context, query string, candidates []string) ([]float32, []int, error) {
	if err := s.wait(ctx); err != nil {
		return nil, nil, err
	}

	pairs := make([]inference.Pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = inference.Pair{Query: query, Candidate: c}
	}

	scores, err := s.scorer.Score(ctx, pairs)
	if err != nil {
		return nil, nil, fmt.Errorf("service: rerank: %w", err)
	}

	ranking := make([]int, len(scores))
	for i := range ranking {
		ranking[i] = i
	}
	sort.SliceStable(ranking, func(a, b int) bool {
		return scores[ranking[a]] > scores[ranking[b]]
	})

	return scores, ranking, nil
}

func (s *Service) encodeOne(ctx context.Context, text string) []float32 {
	modelID := s.enc.Config().ModelID

	var hash string
	if s.vectors != nil {
		hash = cache.ContentHash(text)
		if vec, err := s.vectors.Get(hash, modelID); err == nil && vec != nil {
			return vec
		}
	}

	vec := s.enc.Encode(ctx, text)
	if vec != nil && s.vectors != nil {
		// Best-effort cache write.
		if err := s.vectors.Put(hash, modelID, vec); err != nil {
			s.log.Warn("vector cache write failed", "err", err)
		}
	}
	return vec
}

func (s *Service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("service: rate limit wait: %w", err)
	}
	return nil
}
