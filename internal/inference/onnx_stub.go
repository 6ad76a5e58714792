//go:build !onnx

package inference

// ONNXAvailable indicates whether local ONNX inference was compiled in.
const ONNXAvailable = false

// newEncoderSession returns an error when ONNX support is not compiled in.
func newEncoderSession(_ EncoderConfig) (session, error) {
	return nil, errONNXNotAvailable
}

// newScorerSession returns an error when ONNX support is not compiled in.
func newScorerSession(_ ScorerConfig) (session, error) {
	return nil, errONNXNotAvailable
}
