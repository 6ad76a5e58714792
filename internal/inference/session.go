package inference

import "errors"

// session is one loaded model bound to a compute device. run executes a
// single forward pass over a fixed-length tokenized input and returns the
// raw output floats: the last hidden state (seqLen × dim) for the encoder,
// a single logit for the scorer.
type session interface {
	run(enc encoding) ([]float32, error)
	close() error
}

var errONNXNotAvailable = errors.New("onnx inference: not compiled — rebuild with -tags onnx")

// Session loaders, overridable in tests. The real implementations live
// behind the onnx build tag.
var (
	loadEncoderSession = newEncoderSession
	loadScorerSession  = newScorerSession
)
