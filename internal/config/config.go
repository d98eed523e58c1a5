// Package config loads the ocidir command's settings from a YAML file and
// the environment.
package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/bibin-skaria/ocidir/internal/logging"
	"github.com/bibin-skaria/ocidir/internal/types"
	"github.com/bibin-skaria/ocidir/layers"
)

const (
	EnvLogLevel    = "LOG_LEVEL"
	EnvCompression = "OCIDIR_COMPRESSION"
	EnvPlatform    = "OCIDIR_PLATFORM"
)

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// Compression is one of gzip, zstd or none.
	Compression      string `yaml:"compression"`
	CompressionLevel *int   `yaml:"compression_level,omitempty"`
	// Platform recorded on new manifests, os/arch[/variant]. Empty means the host.
	Platform string `yaml:"platform"`
}

func Default() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   logging.FormatText,
		Compression: string(layers.CompressionGzip),
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables; lookup is
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvCompression); ok && v != "" {
		c.Compression = v
	}
	if v, ok := lookup(EnvPlatform); ok && v != "" {
		c.Platform = v
	}
}

func (c *Config) Validate() error {
	if _, err := logging.NewWithOutput(io.Discard, c.LogLevel, c.LogFormat); err != nil {
		return fmt.Errorf("invalid logging settings: %w", err)
	}
	if _, err := c.LayerConfig(); err != nil {
		return err
	}
	if _, err := types.ParsePlatform(c.Platform); err != nil {
		return err
	}
	return nil
}

// LayerConfig converts the compression settings for layers.NewLayerWriter.
func (c *Config) LayerConfig() (layers.LayerConfig, error) {
	compression, err := layers.ParseCompression(c.Compression)
	if err != nil {
		return layers.LayerConfig{}, err
	}
	return layers.LayerConfig{Compression: compression, Level: c.CompressionLevel}, nil
}
