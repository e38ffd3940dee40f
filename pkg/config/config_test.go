package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.ListenAddr != ":8080" || cfg.OpsAddr != ":9090" {
		t.Fatalf("unexpected addresses: %s / %s", cfg.ListenAddr, cfg.OpsAddr)
	}
	if cfg.AlertCapacity != 100 {
		t.Fatalf("expected alert capacity 100, got %d", cfg.AlertCapacity)
	}
	if cfg.AutoBlockDuration != 0 {
		t.Fatalf("expected indefinite blocks by default, got %v", cfg.AutoBlockDuration)
	}
	if cfg.MaxMessageLen != 4000 {
		t.Fatalf("expected max message length 4000, got %d", cfg.MaxMessageLen)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINELLE_LISTEN_ADDR", ":7070")
	t.Setenv("SENTINELLE_ALERT_CAPACITY", "250")
	t.Setenv("SENTINELLE_AUTO_BLOCK_SECONDS", "300")
	t.Setenv("SENTINELLE_WEIGHT_NETWORK", "2.5")
	t.Setenv("SENTINELLE_ENABLE_SEMANTICS", "true")

	cfg := NewDefaultConfig()
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("listen addr override ignored: %s", cfg.ListenAddr)
	}
	if cfg.AlertCapacity != 250 {
		t.Fatalf("alert capacity override ignored: %d", cfg.AlertCapacity)
	}
	if cfg.AutoBlockDuration != 5*time.Minute {
		t.Fatalf("auto block override ignored: %v", cfg.AutoBlockDuration)
	}
	if cfg.WeightNetwork != 2.5 {
		t.Fatalf("weight override ignored: %f", cfg.WeightNetwork)
	}
	if !cfg.EnableSemantics {
		t.Fatal("semantics toggle ignored")
	}
}

func TestEnvClamping(t *testing.T) {
	t.Setenv("SENTINELLE_ALERT_CAPACITY", "-5")
	t.Setenv("SENTINELLE_MIRROR_WORKERS", "100000")

	cfg := NewDefaultConfig()
	if cfg.AlertCapacity != 1 {
		t.Fatalf("expected capacity clamped to 1, got %d", cfg.AlertCapacity)
	}
	if cfg.MirrorWorkers != 256 {
		t.Fatalf("expected workers clamped to 256, got %d", cfg.MirrorWorkers)
	}
}

func TestProfiles(t *testing.T) {
	hs := NewHighSecurityConfig()
	if hs.AutoBlockDuration != 0 || hs.AlertCapacity != 500 {
		t.Fatalf("unexpected high security profile: %+v", hs)
	}
	hu := NewHighUsabilityConfig()
	if hu.AutoBlockDuration != 5*time.Minute {
		t.Fatalf("unexpected high usability profile: %+v", hu)
	}
}

func TestValidateRejectsMissingDetectionFile(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.DetectionFile = "/nonexistent/detection.yaml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure for a missing detection file")
	}
}

func TestLoadDetectionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detection.yaml")
	content := `keywords:
  sql_injection:
    - "union select"
    - "drop table"
  malicious_intent:
    - "voler les donnees"
weights:
  network: 2.5
  intent: 1.8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	df, err := LoadDetectionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(df.Keywords["sql_injection"]) != 2 {
		t.Fatalf("unexpected keywords: %v", df.Keywords)
	}
	if df.Weights.Network != 2.5 || df.Weights.Intent != 1.8 {
		t.Fatalf("unexpected weights: %+v", df.Weights)
	}
	if df.Weights.Vulnerability != 0 {
		t.Fatalf("absent weight must stay zero, got %f", df.Weights.Vulnerability)
	}
}

func TestLoadDetectionFileErrors(t *testing.T) {
	if _, err := LoadDetectionFile("/nonexistent/detection.yaml"); err == nil {
		t.Fatal("expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("keywords: [not: a: map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDetectionFile(path); err == nil {
		t.Fatal("expected a parse error")
	}
}
