package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()

	if cfg.Model.ConversationalModel != "gpt-4o" || cfg.Model.DeepModel != "gemini-2.5-pro" {
		t.Fatalf("unexpected default models: %+v", cfg.Model)
	}
	if cfg.Task.DefaultUrgency != 3 {
		t.Fatalf("unexpected default urgency: %d", cfg.Task.DefaultUrgency)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not persisted: %v", err)
	}
}

func TestLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	partial := `{"http":{"port":9100},"task":{"default_urgency":9}}`
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()

	if cfg.HTTP.Port != 9100 {
		t.Fatalf("explicit port lost: %d", cfg.HTTP.Port)
	}
	if cfg.Task.DefaultUrgency != 3 {
		t.Fatalf("out-of-range urgency should fall back to default, got %d", cfg.Task.DefaultUrgency)
	}
	if cfg.Ingest.BatchSize != 50 {
		t.Fatalf("missing section should get defaults, got %d", cfg.Ingest.BatchSize)
	}
}

func TestUpdatePersistsAndRevalidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	updated, err := mgr.Update(func(cfg *Config) {
		cfg.Selector.DeepInputThreshold = 1200
		cfg.Model.Temperature = 9.5
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Selector.DeepInputThreshold != 1200 {
		t.Fatalf("update lost: %d", updated.Selector.DeepInputThreshold)
	}
	if updated.Model.Temperature != 0.7 {
		t.Fatalf("invalid temperature should reset to default, got %f", updated.Model.Temperature)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Get().Selector.DeepInputThreshold != 1200 {
		t.Fatal("update not persisted to disk")
	}
}

func TestAPIKeysComeFromEnvOnly(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "gm-test")
	path := filepath.Join(t.TempDir(), "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Model.OpenAIAPIKey != "sk-test" || cfg.Model.GeminiAPIKey != "gm-test" {
		t.Fatalf("env keys not applied: %+v", cfg.Model)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	for _, secret := range []string{"sk-test", "gm-test"} {
		if strings.Contains(string(data), secret) {
			t.Fatalf("secret %q leaked into the config file", secret)
		}
	}
}
