package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bibin-skaria/ocidir/layers"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
log_format: json
compression: zstd
compression_level: 19
platform: linux/arm64
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.Platform != "linux/arm64" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.CompressionLevel == nil || *cfg.CompressionLevel != 19 {
		t.Errorf("compression level = %v", cfg.CompressionLevel)
	}
	lc, err := cfg.LayerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if lc.Compression != layers.CompressionZstd {
		t.Errorf("compression = %s", lc.Compression)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.yaml")} {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%q) failed: %v", path, err)
		}
		if *cfg != *Default() {
			t.Errorf("Load(%q) = %+v, want defaults", path, cfg)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("defaults do not validate: %v", err)
		}
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "compresion: zstd\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for misspelled key")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:    "warn",
		EnvCompression: "none",
		EnvPlatform:    "",
	}
	cfg := Default()
	cfg.Platform = "linux/amd64"
	cfg.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if cfg.LogLevel != "warn" || cfg.Compression != "none" {
		t.Errorf("environment not applied: %+v", cfg)
	}
	if cfg.Platform != "linux/amd64" {
		t.Errorf("empty variable overrode platform: %q", cfg.Platform)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad compression", func(c *Config) { c.Compression = "lz4" }},
		{"bad platform", func(c *Config) { c.Platform = "linux" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
