package config

import (
	"os"
	"path/filepath"
	"testing"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadMissingFileAppliesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_PORT", "")
	t.Setenv("WEB_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseConfig.Host != "localhost" {
		t.Errorf("expected default db host, got %q", cfg.DatabaseConfig.Host)
	}
	if cfg.DatabaseConfig.Port != 5432 {
		t.Errorf("expected default db port, got %d", cfg.DatabaseConfig.Port)
	}
	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("expected default server port, got %d", cfg.ServerConfig.Port)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"database": {`)
	chdir(t, dir)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestLoadReadsFileValues(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"database": {"host": "db.internal", "port": 6543}, "server": {"port": 9090}}`)
	chdir(t, dir)
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_PORT", "")
	t.Setenv("WEB_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseConfig.Host != "db.internal" {
		t.Errorf("expected file db host, got %q", cfg.DatabaseConfig.Host)
	}
	if cfg.DatabaseConfig.Port != 6543 {
		t.Errorf("expected file db port, got %d", cfg.DatabaseConfig.Port)
	}
	if cfg.ServerConfig.Port != 9090 {
		t.Errorf("expected file server port, got %d", cfg.ServerConfig.Port)
	}
}
