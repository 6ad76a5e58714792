package server

import (
	"context"
	"encoding/json"

	"github.com/streamsift/engine/internal/service"
	"github.com/streamsift/engine/pkg/types"
)

const (
	engineVersion   = "0.2.0"
	protocolVersion = 1
)

// RegisterBuiltinHandlers registers the engine's JSON-RPC methods on s,
// backed by the given service.
func RegisterBuiltinHandlers(s *Server, svc *service.Service) {
	s.RegisterHandler("initialize", handleInitialize(s, svc))
	s.RegisterHandler("encode", handleEncode(svc))
	s.RegisterHandler("encode_batch", handleEncodeBatch(svc))
	s.RegisterHandler("rerank", handleRerank(svc))
	s.RegisterHandler("shutdown", handleShutdown(s))
}

func handleInitialize(s *Server, svc *service.Service) Handler {
	return func(_ context.Context, params json.RawMessage) (any, *types.RPCError) {
		var p types.InitializeParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, invalidParams("initialize", err)
			}
		}

		ec := svc.EncoderConfig()
		sc := svc.ScorerConfig()
		return &types.InitializeResult{
			EngineVersion:         engineVersion,
			ProtocolVersion:       protocolVersion,
			EncoderModelID:        ec.ModelID,
			ScorerModelID:         sc.ModelID,
			EmbeddingSize:         ec.EmbeddingSize,
			MaxInputLength:        ec.MaxInputLength,
			MaxConcurrentRequests: s.MaxConcurrent(),
		}, nil
	}
}

func handleEncode(svc *service.Service) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, *types.RPCError) {
		var p types.EncodeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("encode", err)
		}

		// Isolated encode failures surface as an empty result, never as an
		// RPC error; only infrastructure problems (rate limit wait) do.
		if p.AsRows {
			rows, err := svc.EncodeRows(ctx, p.Text)
			if err != nil {
				return nil, engineError("encode", err)
			}
			return &types.EncodeResult{Rows: rows}, nil
		}

		vec, err := svc.Encode(ctx, p.Text)
		if err != nil {
			return nil, engineError("encode", err)
		}
		return &types.EncodeResult{Vector: vec}, nil
	}
}

func handleEncodeBatch(svc *service.Service) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, *types.RPCError) {
		var p types.EncodeBatchParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("encode_batch", err)
		}

		vectors, err := svc.EncodeBatch(ctx, p.Texts)
		if err != nil {
			return nil, engineError("encode_batch", err)
		}
		return &types.EncodeBatchResult{Vectors: vectors}, nil
	}
}

func handleRerank(svc *service.Service) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, *types.RPCError) {
		var p types.RerankParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("rerank", err)
		}

		scores, ranking, err := svc.Rerank(ctx, p.Query, p.Candidates)
		if err != nil {
			return nil, types.NewRPCError(
				types.ErrScoreError,
				"rerank failed",
				types.ErrTypeScoreError,
				false,
				err.Error(),
			)
		}
		return &types.RerankResult{Scores: scores, Ranking: ranking}, nil
	}
}

func handleShutdown(s *Server) Handler {
	return func(context.Context, json.RawMessage) (any, *types.RPCError) {
		s.BeginShutdown()
		return &types.ShutdownResult{RequestsServed: s.RequestsServed()}, nil
	}
}

func invalidParams(method string, err error) *types.RPCError {
	return types.NewRPCError(
		types.ErrInvalidParams,
		"invalid params for "+method,
		types.ErrTypeInvalidParams,
		false,
		err.Error(),
	)
}

func engineError(method string, err error) *types.RPCError {
	return types.NewRPCError(
		types.ErrEngineError,
		method+" failed",
		types.ErrTypeEngineError,
		true,
		err.Error(),
	)
}
