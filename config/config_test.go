package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DOCUMIND_DENSE_ENABLED", "")
	t.Setenv("DOCUMIND_SPARSE_MAX_CHUNKS", "")
	t.Setenv("DOCUMIND_WARM_ON_STARTUP", "")

	cfg := Load()
	if cfg.Port != "8000" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.DenseEnabled {
		t.Error("dense retrieval must default off")
	}
	if cfg.SparseMaxChunks != 5000 {
		t.Errorf("sparse cap = %d", cfg.SparseMaxChunks)
	}
	if !cfg.WarmSparseOnStartup {
		t.Error("warmup must default on")
	}
	if cfg.GroqModel == "" || cfg.OpenAIModel == "" {
		t.Error("model defaults missing")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DOCUMIND_DENSE_ENABLED", "true")
	t.Setenv("DOCUMIND_SPARSE_MAX_CHUNKS", "123")
	t.Setenv("DOCUMIND_CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Errorf("port = %q", cfg.Port)
	}
	if !cfg.DenseEnabled {
		t.Error("dense override ignored")
	}
	if cfg.SparseMaxChunks != 123 {
		t.Errorf("sparse cap = %d", cfg.SparseMaxChunks)
	}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "https://b.example" {
		t.Errorf("cors origins = %v", cfg.CORSAllowOrigins)
	}
}

func TestValidateDenseRequiresDSN(t *testing.T) {
	cfg := Load()
	cfg.DenseEnabled = true
	cfg.PostgresDSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without a DSN")
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Load().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}
