package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

//go:embed system-config.yaml
var defaultSystemConfigYAML []byte

// SystemConfig is the runtime-tunable configuration: feature flags and the
// machine learning service settings.
type SystemConfig struct {
	Features        FeaturesConfig              `yaml:"features" json:"features"`
	MachineLearning SystemMachineLearningConfig `yaml:"machineLearning" json:"machineLearning"`
}

type FeaturesConfig struct {
	Search bool `yaml:"search" json:"search"`
}

type SystemMachineLearningConfig struct {
	Enabled           bool                    `yaml:"enabled" json:"enabled"`
	URL               string                  `yaml:"url" json:"url"`
	CLIP              CLIPConfig              `yaml:"clip" json:"clip"`
	FacialRecognition FacialRecognitionConfig `yaml:"facialRecognition" json:"facialRecognition"`
}

// CLIPConfig is sent along with every text encoding request.
type CLIPConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	ModelName string `yaml:"modelName" json:"modelName"`
}

type FacialRecognitionConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ModelName   string  `yaml:"modelName" json:"modelName"`
	MaxDistance float64 `yaml:"maxDistance" json:"maxDistance"`
}

// DefaultSystemConfig returns the embedded defaults.
func DefaultSystemConfig() SystemConfig {
	var cfg SystemConfig
	if err := yaml.Unmarshal(defaultSystemConfigYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded system-config.yaml: " + err.Error())
	}
	return cfg
}

// LoadSystemConfig reads the defaults and overlays the YAML file at path, if any.
// Keys missing from the file keep their default values.
func LoadSystemConfig(path string) (SystemConfig, error) {
	cfg := DefaultSystemConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return cfg, fmt.Errorf("read system config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return DefaultSystemConfig(), fmt.Errorf("parse system config %s: %w", path, err)
	}
	return cfg, nil
}

// SystemConfigStore holds the current SystemConfig snapshot. Readers never
// block; Reload swaps the snapshot atomically.
type SystemConfigStore struct {
	path    string
	current atomic.Pointer[SystemConfig]
}

// NewSystemConfigStore loads the system config from path (empty means defaults only).
func NewSystemConfigStore(path string) (*SystemConfigStore, error) {
	s := &SystemConfigStore{path: path}
	cfg, err := LoadSystemConfig(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(&cfg)
	return s, nil
}

// NewStaticSystemConfigStore wraps a fixed config, for tests and embedding.
func NewStaticSystemConfigStore(cfg SystemConfig) *SystemConfigStore {
	s := &SystemConfigStore{}
	s.current.Store(&cfg)
	return s
}

// Get returns a copy of the current snapshot.
func (s *SystemConfigStore) Get() SystemConfig {
	return *s.current.Load()
}

// Set replaces the snapshot.
func (s *SystemConfigStore) Set(cfg SystemConfig) {
	s.current.Store(&cfg)
}

// Reload re-reads the config file and swaps the snapshot. On error the
// previous snapshot stays in place.
func (s *SystemConfigStore) Reload() (SystemConfig, error) {
	cfg, err := LoadSystemConfig(s.path)
	if err != nil {
		return s.Get(), err
	}
	s.current.Store(&cfg)
	slog.Info("system config reloaded",
		"path", s.path,
		"search", cfg.Features.Search,
		"machine_learning", cfg.MachineLearning.Enabled,
		"clip", cfg.MachineLearning.CLIP.Enabled)
	return cfg, nil
}
