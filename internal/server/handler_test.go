package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streamsift/engine/internal/inference"
	"github.com/streamsift/engine/internal/service"
	"github.com/streamsift/engine/pkg/types"
)

// fakeEncoder mirrors the inference encoder: deterministic vectors,
// isolated failure (nil) for texts containing "!fail".
type fakeEncoder struct {
	cfg inference.EncoderConfig
	mu  sync.Mutex
}

func (f *fakeEncoder) Config() inference.EncoderConfig { return f.cfg }

func (f *fakeEncoder) Encode(_ context.Context, text string) []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(text, "!fail") {
		return nil
	}
	vec := make([]float32, f.cfg.EmbeddingSize)
	for i := range vec {
		vec[i] = float32(len(text)+i) / 10
	}
	return vec
}

func (f *fakeEncoder) EncodeRows(ctx context.Context, text string) [][]float32 {
	vec := f.Encode(ctx, text)
	if vec == nil {
		return nil
	}
	return [][]float32{vec}
}

type fakeScorer struct {
	cfg inference.ScorerConfig
	err error
}

func (f *fakeScorer) Config() inference.ScorerConfig { return f.cfg }

func (f *fakeScorer) Score(_ context.Context, pairs []inference.Pair) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	scores := make([]float32, len(pairs))
	for i, p := range pairs {
		scores[i] = float32(len(p.Candidate))
	}
	return scores, nil
}

func newTestService(scorerErr error) *service.Service {
	enc := &fakeEncoder{cfg: inference.NewEncoderConfig("test/bi-encoder", 4)}
	sc := &fakeScorer{cfg: inference.NewScorerConfig("test/cross-encoder"), err: scorerErr}
	return service.New(enc, sc)
}

func newTestServer(t *testing.T, svc *service.Service) (io.Writer, *json.Decoder) {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	s := New(inR, outW, slog.New(slog.NewTextHandler(io.Discard, nil)))
	RegisterBuiltinHandlers(s, svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		inW.Close()
		outW.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("server did not stop")
		}
	})

	return inW, json.NewDecoder(outR)
}

func sendRequest(t *testing.T, w io.Writer, id int64, method string, params any) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	req := types.Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

func readResponse(t *testing.T, dec *json.Decoder) *types.Response {
	t.Helper()
	var resp types.Response
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &resp
}

func TestHandler_Initialize(t *testing.T) {
	in, out := newTestServer(t, newTestService(nil))

	sendRequest(t, in, 1, "initialize", types.InitializeParams{ClientName: "test", ProtocolVersion: 1})
	resp := readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}

	var result types.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.EncoderModelID != "test/bi-encoder" {
		t.Errorf("encoder model: got %q", result.EncoderModelID)
	}
	if result.EmbeddingSize != 4 {
		t.Errorf("embedding size: got %d, want 4", result.EmbeddingSize)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("protocol version: got %d, want %d", result.ProtocolVersion, protocolVersion)
	}
}

func TestHandler_Encode(t *testing.T) {
	in, out := newTestServer(t, newTestService(nil))

	sendRequest(t, in, 2, "encode", types.EncodeParams{Text: "hello world"})
	resp := readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("encode failed: %+v", resp.Error)
	}

	var result types.EncodeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Vector) != 4 {
		t.Errorf("vector length: got %d, want 4", len(result.Vector))
	}
	if result.Rows != nil {
		t.Errorf("rows must be empty for flat encode, got %v", result.Rows)
	}
}

func TestHandler_Encode_AsRows(t *testing.T) {
	in, out := newTestServer(t, newTestService(nil))

	sendRequest(t, in, 3, "encode", types.EncodeParams{Text: "hello world", AsRows: true})
	resp := readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("encode failed: %+v", resp.Error)
	}

	var result types.EncodeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Rows) != 1 || len(result.Rows[0]) != 4 {
		t.Errorf("unexpected rows shape: %v", result.Rows)
	}
}

func TestHandler_Encode_IsolatedFailureIsNotAnRPCError(t *testing.T) {
	in, out := newTestServer(t, newTestService(nil))

	sendRequest(t, in, 4, "encode", types.EncodeParams{Text: "broken !fail input"})
	resp := readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("isolated encode failure must not be an RPC error: %+v", resp.Error)
	}

	var result types.EncodeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Vector) != 0 {
		t.Errorf("expected empty vector, got %d values", len(result.Vector))
	}
}

func TestHandler_EncodeBatch(t *testing.T) {
	in, out := newTestServer(t, newTestService(nil))

	sendRequest(t, in, 5, "encode_batch", types.EncodeBatchParams{
		Texts: []string{"one", "two !fail", "three"},
	})
	resp := readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("encode_batch failed: %+v", resp.Error)
	}

	var result types.EncodeBatchResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(result.Vectors))
	}
	if len(result.Vectors[0]) != 4 || len(result.Vectors[2]) != 4 {
		t.Error("healthy texts must produce full vectors")
	}
	if len(result.Vectors[1]) != 0 {
		t.Errorf("failed text must produce empty vector, got %d values", len(result.Vectors[1]))
	}
}

func TestHandler_Rerank(t *testing.T) {
	in, out := newTestServer(t, newTestService(nil))

	sendRequest(t, in, 6, "rerank", types.RerankParams{
		Query:      "what is retrieval?",
		Candidates: []string{"short", "a much longer candidate text"},
	})
	resp := readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("rerank failed: %+v", resp.Error)
	}

	var result types.RerankResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Scores) != 2 || len(result.Ranking) != 2 {
		t.Fatalf("unexpected result shape: %+v", result)
	}
	// fakeScorer scores by candidate length: the longer one ranks first.
	if result.Ranking[0] != 1 {
		t.Errorf("ranking: got %v, want candidate 1 first", result.Ranking)
	}
}

func TestHandler_Rerank_ScorerErrorIsRPCError(t *testing.T) {
	in, out := newTestServer(t, newTestService(errors.New("device exploded")))

	sendRequest(t, in, 7, "rerank", types.RerankParams{Query: "q", Candidates: []string{"c"}})
	resp := readResponse(t, out)
	if resp.Error == nil {
		t.Fatal("expected RPC error for scorer failure, got success")
	}
	if resp.Error.Code != types.ErrScoreError {
		t.Errorf("error code: got %d, want %d", resp.Error.Code, types.ErrScoreError)
	}
}

func TestHandler_MethodNotFound(t *testing.T) {
	in, out := newTestServer(t, newTestService(nil))

	sendRequest(t, in, 8, "no_such_method", struct{}{})
	resp := readResponse(t, out)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %+v", resp)
	}
}

func TestHandler_Shutdown(t *testing.T) {
	in, out := newTestServer(t, newTestService(nil))

	sendRequest(t, in, 9, "encode", types.EncodeParams{Text: "warm up"})
	readResponse(t, out)

	sendRequest(t, in, 10, "shutdown", struct{}{})
	resp := readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("shutdown failed: %+v", resp.Error)
	}

	var result types.ShutdownResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.RequestsServed != 2 {
		t.Errorf("requests served: got %d, want 2", result.RequestsServed)
	}
}
