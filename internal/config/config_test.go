package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		set        bool
		defaultVal int
		want       int
	}{
		{"unset", "", false, 25, 25},
		{"empty", "", true, 25, 25},
		{"valid", "42", true, 25, 42},
		{"zero", "0", true, 25, 25},
		{"negative", "-3", true, 25, 25},
		{"invalid", "abc", true, 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.set {
				t.Setenv("TEST_ENV_INT", tt.value)
			} else {
				os.Unsetenv("TEST_ENV_INT")
			}
			if got := envInt("TEST_ENV_INT", tt.defaultVal); got != tt.want {
				t.Errorf("envInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEnvFloatAndDuration(t *testing.T) {
	t.Setenv("TEST_ENV_FLOAT", "0.5")
	if got := envFloat("TEST_ENV_FLOAT", 0.25); got != 0.5 {
		t.Errorf("envFloat() = %f, want 0.5", got)
	}
	t.Setenv("TEST_ENV_FLOAT", "nope")
	if got := envFloat("TEST_ENV_FLOAT", 0.25); got != 0.25 {
		t.Errorf("envFloat() = %f, want default", got)
	}

	t.Setenv("TEST_ENV_DURATION", "3s")
	if got := envDuration("TEST_ENV_DURATION", time.Second); got != 3*time.Second {
		t.Errorf("envDuration() = %s, want 3s", got)
	}
	t.Setenv("TEST_ENV_DURATION", "10")
	if got := envDuration("TEST_ENV_DURATION", time.Second); got != time.Second {
		t.Errorf("envDuration() = %s, want default", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"SEARCH_MAX_DISTANCE", "FACE_MAX_DISTANCE", "CLIP_DIM", "FACE_DIM",
		"MACHINE_LEARNING_TIMEOUT", "REDIS_HOST", "REDIS_DB", "SEARCH_TRANSLATE", "HNSW_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Search.MaxDistance != 0.25 {
		t.Errorf("expected SEARCH_MAX_DISTANCE default 0.25, got %f", cfg.Search.MaxDistance)
	}
	if cfg.Search.FaceMaxDistance != 0.6 {
		t.Errorf("expected FACE_MAX_DISTANCE default 0.6, got %f", cfg.Search.FaceMaxDistance)
	}
	if cfg.Search.CLIPDim != 512 || cfg.Search.FaceDim != 512 {
		t.Errorf("expected 512 dimensions, got clip=%d face=%d", cfg.Search.CLIPDim, cfg.Search.FaceDim)
	}
	if cfg.MachineLearning.Timeout != 10*time.Second {
		t.Errorf("expected 10s encoder timeout, got %s", cfg.MachineLearning.Timeout)
	}
	if cfg.Redis.Addr() != "" {
		t.Errorf("expected Redis disabled, got %q", cfg.Redis.Addr())
	}
	if cfg.Translate != "" {
		t.Errorf("expected translation disabled, got %q", cfg.Translate)
	}
	if cfg.Database.HNSW {
		t.Error("expected HNSW disabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SEARCH_MAX_DISTANCE", "0.3")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "0")
	t.Setenv("SEARCH_TRANSLATE", " Gemini ")
	t.Setenv("HNSW_ENABLED", "true")

	cfg := Load()

	if cfg.Search.MaxDistance != 0.3 {
		t.Errorf("expected 0.3, got %f", cfg.Search.MaxDistance)
	}
	if cfg.Redis.Addr() != "cache:6380" {
		t.Errorf("expected cache:6380, got %q", cfg.Redis.Addr())
	}
	if cfg.Translate != "gemini" {
		t.Errorf("expected gemini, got %q", cfg.Translate)
	}
	if !cfg.Database.HNSW {
		t.Error("expected HNSW enabled")
	}
}

func TestDefaultSystemConfig(t *testing.T) {
	cfg := DefaultSystemConfig()

	if !cfg.Features.Search {
		t.Error("search should be enabled by default")
	}
	if !cfg.MachineLearning.Enabled || !cfg.MachineLearning.CLIP.Enabled {
		t.Error("machine learning and CLIP should be enabled by default")
	}
	if cfg.MachineLearning.CLIP.ModelName == "" {
		t.Error("expected a default CLIP model")
	}
	if cfg.MachineLearning.FacialRecognition.MaxDistance != 0.6 {
		t.Errorf("expected face max distance 0.6, got %f", cfg.MachineLearning.FacialRecognition.MaxDistance)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoadSystemConfig_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.yaml")
	writeFile(t, path, "machineLearning:\n  clip:\n    enabled: false\n")

	cfg, err := LoadSystemConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MachineLearning.CLIP.Enabled {
		t.Error("overlay should disable CLIP")
	}
	if !cfg.Features.Search || cfg.MachineLearning.URL == "" {
		t.Error("keys missing from the overlay should keep defaults")
	}
}

func TestLoadSystemConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadSystemConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(dir, "bad.yaml")
	writeFile(t, path, "features:\n  searchh: true\n")
	if _, err := LoadSystemConfig(path); err == nil {
		t.Error("expected error for unknown key")
	}

	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "")
	if _, err := LoadSystemConfig(empty); err != nil {
		t.Errorf("empty overlay should be accepted: %v", err)
	}
}

func TestSystemConfigStore_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.yaml")
	writeFile(t, path, "features:\n  search: true\n")

	store, err := NewSystemConfigStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.Get().Features.Search {
		t.Fatal("expected search enabled")
	}

	writeFile(t, path, "features:\n  search: false\n")
	cfg, err := store.Reload()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if cfg.Features.Search || store.Get().Features.Search {
		t.Error("reload should disable search")
	}

	writeFile(t, path, "features: [\n")
	if _, err := store.Reload(); err == nil {
		t.Error("expected parse error")
	}
	if store.Get().Features.Search {
		t.Error("failed reload must keep the previous snapshot")
	}
}

func TestSystemConfigStore_ConcurrentReads(t *testing.T) {
	store := NewStaticSystemConfigStore(DefaultSystemConfig())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(enabled bool) {
			defer wg.Done()
			for range 100 {
				cfg := store.Get()
				cfg.Features.Search = enabled
				store.Set(cfg)
				_ = store.Get().MachineLearning.URL
			}
		}(i%2 == 0)
	}
	wg.Wait()
}
