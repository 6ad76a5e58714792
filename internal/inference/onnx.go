//go:build onnx

package inference

import (
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXAvailable indicates that local ONNX inference is compiled in.
const ONNXAvailable = true

var (
	ortInit    sync.Once
	ortInitErr error
)

// initRuntime loads the ONNX Runtime shared library and initializes the
// environment once per process. Every session shares the one runtime.
func initRuntime(cacheDir string) error {
	ortInit.Do(func() {
		libPath, err := ensureRuntimeLib(cacheDir)
		if err != nil {
			ortInitErr = err
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitErr = fmt.Errorf("inference: initialize onnx runtime: %w", err)
		}
	})
	return ortInitErr
}

// onnxSession wraps a loaded ONNX model. The session is created once at
// construction and reused for every forward pass.
type onnxSession struct {
	sess     *ort.DynamicAdvancedSession
	seqLen   int
	outWidth int
	perToken bool
}

// newEncoderSession loads the bi-encoder model onto the configured device.
// The session reads the transformer's last hidden state, seqLen × outWidth
// floats per input.
func newEncoderSession(cfg EncoderConfig) (session, error) {
	if err := initRuntime(cfg.CacheDir); err != nil {
		return nil, err
	}
	modelPath, err := ensureModel(cfg.ModelID, cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	opts, err := sessionOptions(cfg.Device)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	sess, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("inference: load encoder model %s: %w", cfg.ModelID, err)
	}

	return &onnxSession{
		sess:     sess,
		seqLen:   cfg.MaxInputLength,
		outWidth: cfg.EmbeddingSize,
		perToken: true,
	}, nil
}

// newScorerSession loads the cross-encoder model onto the configured device.
// The session reads the classification head's logit, one float per pair.
func newScorerSession(cfg ScorerConfig) (session, error) {
	if err := initRuntime(cfg.CacheDir); err != nil {
		return nil, err
	}
	modelPath, err := ensureModel(cfg.ModelID, cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	opts, err := sessionOptions(cfg.Device)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	sess, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("inference: load scorer model %s: %w", cfg.ModelID, err)
	}

	return &onnxSession{
		sess:     sess,
		seqLen:   cfg.MaxInputLength,
		outWidth: 1,
		perToken: false,
	}, nil
}

// sessionOptions builds session options for the given device identifier.
// "cpu" (or empty) runs on the default CPU provider; "cuda" and "cuda:N"
// append the CUDA execution provider.
func sessionOptions(device string) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("inference: create session options: %w", err)
	}

	switch {
	case device == "" || device == "cpu":
		return opts, nil
	case strings.HasPrefix(device, "cuda"):
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("inference: create CUDA provider options: %w", err)
		}
		defer cudaOpts.Destroy()

		if id, ok := strings.CutPrefix(device, "cuda:"); ok {
			if err := cudaOpts.Update(map[string]string{"device_id": id}); err != nil {
				opts.Destroy()
				return nil, fmt.Errorf("inference: set CUDA device %q: %w", id, err)
			}
		}
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("inference: append CUDA provider: %w", err)
		}
		return opts, nil
	default:
		opts.Destroy()
		return nil, fmt.Errorf("inference: unsupported device %q", device)
	}
}

func (s *onnxSession) run(enc encoding) ([]float32, error) {
	shape := ort.NewShape(1, int64(s.seqLen))

	idTensor, err := ort.NewTensor(shape, enc.ids)
	if err != nil {
		return nil, fmt.Errorf("onnx run: create input_ids tensor: %w", err)
	}
	defer idTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, enc.mask)
	if err != nil {
		return nil, fmt.Errorf("onnx run: create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, enc.typeIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx run: create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	var outShape ort.Shape
	var outLen int
	if s.perToken {
		outShape = ort.NewShape(1, int64(s.seqLen), int64(s.outWidth))
		outLen = s.seqLen * s.outWidth
	} else {
		outShape = ort.NewShape(1, int64(s.outWidth))
		outLen = s.outWidth
	}

	// The output buffer is Go-owned, so it stays valid after the tensor
	// wrapping it is destroyed.
	outData := make([]float32, outLen)
	outTensor, err := ort.NewTensor(outShape, outData)
	if err != nil {
		return nil, fmt.Errorf("onnx run: create output tensor: %w", err)
	}
	defer outTensor.Destroy()

	inputs := []ort.Value{idTensor, maskTensor, typeTensor}
	if err := s.sess.Run(inputs, []ort.Value{outTensor}); err != nil {
		return nil, fmt.Errorf("onnx run: inference: %w", err)
	}

	return outData, nil
}

func (s *onnxSession) close() error {
	return s.sess.Destroy()
}
