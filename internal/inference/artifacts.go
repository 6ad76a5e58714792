package inference

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const modelHubURL = "https://huggingface.co"

// runtimeLibEnv overrides discovery of the ONNX Runtime shared library.
const runtimeLibEnv = "SIFT_ONNX_RUNTIME_LIB"

// defaultCacheDir returns the default model artifact directory
// (~/.streamsift/models/).
func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".streamsift", "models")
	}
	return filepath.Join(home, ".streamsift", "models")
}

// modelFileName flattens a hub model id into a single cache file name,
// e.g. "sentence-transformers/all-MiniLM-L6-v2" → "sentence-transformers--all-MiniLM-L6-v2.onnx".
func modelFileName(modelID string) string {
	return strings.ReplaceAll(modelID, "/", "--") + ".onnx"
}

func modelURL(modelID string) string {
	return fmt.Sprintf("%s/%s/resolve/main/onnx/model.onnx", modelHubURL, modelID)
}

// ensureModel checks for the ONNX export of the given model in cacheDir and
// downloads it from the hub if missing. Returns the path to the model file.
func ensureModel(modelID, cacheDir string) (string, error) {
	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}

	modelPath := filepath.Join(cacheDir, modelFileName(modelID))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("inference: create cache dir %s: %w", cacheDir, err)
	}

	if err := downloadFile(modelURL(modelID), modelPath); err != nil {
		return "", fmt.Errorf("inference: download model %s: %w", modelID, err)
	}

	return modelPath, nil
}

// runtimeLibName returns the expected shared library filename for the current platform.
func runtimeLibName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// ensureRuntimeLib locates the ONNX Runtime shared library: the env override
// first, then cacheDir, then standard system library paths.
func ensureRuntimeLib(cacheDir string) (string, error) {
	if p := os.Getenv(runtimeLibEnv); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("inference: %s points at %s: %w", runtimeLibEnv, p, err)
		}
		return p, nil
	}

	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}

	libName := runtimeLibName()
	candidates := []string{
		filepath.Join(cacheDir, libName),
		"/usr/local/lib/" + libName,
		"/usr/lib/" + libName,
		"/opt/homebrew/lib/" + libName,
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf(
		"inference: ONNX Runtime shared library %s not found — install it via your package manager or set %s",
		libName, runtimeLibEnv,
	)
}

// downloadFile downloads a URL to a local file path via a temp file + rename.
func downloadFile(url, destPath string) error {
	resp, err := http.Get(url) //nolint:gosec // hub URL built from a configured model id
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: HTTP %d", url, resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	out.Close()

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s to %s: %w", tmpPath, destPath, err)
	}

	return nil
}
