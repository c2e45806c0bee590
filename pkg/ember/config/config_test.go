package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultFileMatchesDocumentedDefaults(t *testing.T) {
	f := DefaultFile()
	if f.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", f.Addr)
	}
	if f.Logging.Level != "info" || f.Logging.Format != "json" {
		t.Errorf("unexpected default logging config: %+v", f.Logging)
	}
	if f.Server.MaxConnections != 10000 {
		t.Errorf("expected embedded server defaults, got %+v", f.Server)
	}
}

func TestLoadFallsBackToDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	f, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if f.Addr != ":8080" {
		t.Errorf("expected fallback default addr, got %q", f.Addr)
	}
}

func TestLoadReadsYAMLFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	yaml := "addr: \":9999\"\nlogging:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	t.Setenv("EMBER_LOGGING_LEVEL", "warn")

	f, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if f.Addr != ":9999" {
		t.Errorf("expected addr from file, got %q", f.Addr)
	}
	if f.Logging.Level != "warn" {
		t.Errorf("expected env override to win, got %q", f.Logging.Level)
	}
}
