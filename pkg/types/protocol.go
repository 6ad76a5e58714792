// Package types defines the NDJSON JSON-RPC protocol the streamsift engine
// speaks with the surrounding pipeline.
package types

import "encoding/json"

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error object.
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData holds structured error detail.
type ErrorData struct {
	ErrorType string `json:"error_type"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail"`
}

// InitializeParams holds parameters for the initialize method.
type InitializeParams struct {
	ClientName      string `json:"client_name"`
	ClientVersion   string `json:"client_version"`
	ProtocolVersion int    `json:"protocol_version"`
}

// InitializeResult holds the result of the initialize method.
type InitializeResult struct {
	EngineVersion         string `json:"engine_version"`
	ProtocolVersion       int    `json:"protocol_version"`
	EncoderModelID        string `json:"encoder_model_id"`
	ScorerModelID         string `json:"scorer_model_id"`
	EmbeddingSize         int    `json:"embedding_size"`
	MaxInputLength        int    `json:"max_input_length"`
	MaxConcurrentRequests int    `json:"max_concurrent_requests"`
}

// EncodeParams holds parameters for the encode method.
type EncodeParams struct {
	Text string `json:"text"`
	// AsRows selects the 1×dim matrix representation instead of the flat
	// vector. Both carry the same numbers.
	AsRows bool `json:"as_rows,omitempty"`
}

// EncodeResult holds the result of the encode method. Exactly one of Vector
// and Rows is populated on success; both are empty when encoding failed and
// was isolated. The caller checks for emptiness, mirroring the in-process
// contract.
type EncodeResult struct {
	Vector []float32   `json:"vector,omitempty"`
	Rows   [][]float32 `json:"rows,omitempty"`
}

// EncodeBatchParams holds parameters for the encode_batch method.
type EncodeBatchParams struct {
	Texts []string `json:"texts"`
}

// EncodeBatchResult holds one vector per input text, in order. A failed text
// yields an empty vector at its position; the batch itself never fails on
// malformed input.
type EncodeBatchResult struct {
	Vectors [][]float32 `json:"vectors"`
}

// RerankParams holds parameters for the rerank method.
type RerankParams struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
}

// RerankResult holds relevance scores aligned with the input candidates and
// the candidate indices sorted by descending score.
type RerankResult struct {
	Scores  []float32 `json:"scores"`
	Ranking []int     `json:"ranking"`
}

// ShutdownResult holds the result of the shutdown method.
type ShutdownResult struct {
	RequestsServed int `json:"requests_served"`
}
