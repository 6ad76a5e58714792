package service

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, `{
		"encoder": {"model_id": "org/bi", "embedding_size": 768, "device": "cuda:1"},
		"scorer": {"model_id": "org/cross"},
		"cache": {"path": "/tmp/vectors.db", "max_mb": 100},
		"server": {"max_concurrent": 4, "rate_per_second": 50, "rate_burst": 10}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Encoder.ModelID != "org/bi" || cfg.Encoder.EmbeddingSize != 768 {
		t.Errorf("encoder settings wrong: %+v", cfg.Encoder)
	}
	if cfg.Encoder.Device != "cuda:1" {
		t.Errorf("device: got %q, want cuda:1", cfg.Encoder.Device)
	}
	// Unset fields keep defaults.
	if cfg.Encoder.MaxInputLength != 128 {
		t.Errorf("max input length default: got %d, want 128", cfg.Encoder.MaxInputLength)
	}
	if cfg.Server.MaxConcurrent != 4 {
		t.Errorf("max concurrent: got %d, want 4", cfg.Server.MaxConcurrent)
	}
}

func TestLoadConfig_SchemaRejectsMissingEncoder(t *testing.T) {
	path := writeConfig(t, `{"scorer": {"model_id": "org/cross"}}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected schema validation error, got nil")
	}
}

func TestLoadConfig_SchemaRejectsBadEmbeddingSize(t *testing.T) {
	path := writeConfig(t, `{
		"encoder": {"model_id": "org/bi", "embedding_size": 0},
		"scorer": {"model_id": "org/cross"}
	}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected schema validation error for embedding_size 0, got nil")
	}
}

func TestLoadConfig_MalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"encoder": {"model_id": "org/bi", "embedding_size": 384},
		"scorer": {"model_id": "org/cross"}
	}`)
	t.Setenv(envDevice, "cuda")
	t.Setenv(envEncoderModel, "org/bi-override")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Encoder.Device != "cuda" || cfg.Scorer.Device != "cuda" {
		t.Errorf("device override not applied: %q / %q", cfg.Encoder.Device, cfg.Scorer.Device)
	}
	if cfg.Encoder.ModelID != "org/bi-override" {
		t.Errorf("encoder model override not applied: %q", cfg.Encoder.ModelID)
	}
}

func TestConfig_MapsToInferenceConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encoder.Device = "cuda:0"
	cfg.Encoder.MaxInputLength = 256

	ec := cfg.EncoderConfig()
	if ec.ModelID != cfg.Encoder.ModelID {
		t.Errorf("model id: got %q", ec.ModelID)
	}
	if ec.Device != "cuda:0" || ec.MaxInputLength != 256 {
		t.Errorf("encoder config not mapped: %+v", ec)
	}
	if !ec.SerializeInference {
		t.Error("expected serialized inference by default")
	}

	sc := cfg.ScorerConfig()
	if sc.ModelID != cfg.Scorer.ModelID {
		t.Errorf("scorer model id: got %q", sc.ModelID)
	}
}
