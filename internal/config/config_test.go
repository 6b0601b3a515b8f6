package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("QUIET_WINDOW", "")
	t.Setenv("WINDOW_ABANDON_AFTER", "")
	t.Setenv("JANITOR_INTERVAL", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.QuietWindow != 4*time.Second {
		t.Fatalf("expected default quiet window, got %s", cfg.QuietWindow)
	}
	if cfg.WindowAbandonAfter != 10*time.Minute {
		t.Fatalf("expected default abandon threshold, got %s", cfg.WindowAbandonAfter)
	}
	if cfg.JanitorInterval != 10*time.Minute {
		t.Fatalf("expected default janitor interval, got %s", cfg.JanitorInterval)
	}
	if cfg.TokenStore != "postgres" {
		t.Fatalf("expected default token store, got %s", cfg.TokenStore)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("QUIET_WINDOW", "2s")
	t.Setenv("WINDOW_ABANDON_AFTER", "5m")
	t.Setenv("CONTROL_NUMBER", " 60199998888 ")
	t.Setenv("AI_PROVIDER", "Bedrock")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("SEND_WORKER_COUNT", "4")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.QuietWindow != 2*time.Second {
		t.Fatalf("expected quiet window override, got %s", cfg.QuietWindow)
	}
	if cfg.WindowAbandonAfter != 5*time.Minute {
		t.Fatalf("expected abandon override, got %s", cfg.WindowAbandonAfter)
	}
	if cfg.ControlNumber != "60199998888" {
		t.Fatalf("expected trimmed control number, got %q", cfg.ControlNumber)
	}
	if cfg.AIProvider != "bedrock" {
		t.Fatalf("expected lowercased ai provider, got %s", cfg.AIProvider)
	}
	if !cfg.UseMemoryQueue {
		t.Fatal("expected memory queue enabled")
	}
	if cfg.SendWorkerCount != 4 {
		t.Fatalf("expected send worker count override, got %d", cfg.SendWorkerCount)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("QUIET_WINDOW", "soon")
	t.Setenv("SEND_WORKER_COUNT", "many")
	t.Setenv("USE_MEMORY_QUEUE", "yep")
	cfg := Load()
	if cfg.QuietWindow != 4*time.Second {
		t.Fatalf("expected fallback quiet window, got %s", cfg.QuietWindow)
	}
	if cfg.SendWorkerCount != 2 {
		t.Fatalf("expected fallback worker count, got %d", cfg.SendWorkerCount)
	}
	if cfg.UseMemoryQueue {
		t.Fatal("expected fallback memory queue disabled")
	}
}
