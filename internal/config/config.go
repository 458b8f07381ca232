// Package config loads indexwatch settings from defaults, an optional YAML
// file and command-line overrides, in that order of precedence.
package config

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "indexwatch.yaml"

// Config represents the application configuration.
type Config struct {
	Mode            Mode            `yaml:"mode"`
	Watch           WatchConfig     `yaml:"watch"`
	Index           IndexConfig     `yaml:"index"`
	Companion       CompanionConfig `yaml:"companion"`
	Admin           AdminConfig     `yaml:"admin"`
	Journal         JournalConfig   `yaml:"journal"`
	Notify          NotifyConfig    `yaml:"notify"`
	Lock            bool            `yaml:"lock"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// WatchConfig controls the filesystem watcher and the debounce window.
type WatchConfig struct {
	Path             string        `yaml:"path"`
	Recursive        bool          `yaml:"recursive"`
	Debounce         time.Duration `yaml:"debounce"`
	Buffer           int           `yaml:"buffer"`
	Ignore           []string      `yaml:"ignore,omitempty"`
	IgnoreTempFiles  bool          `yaml:"ignore_temp_files"`
	RespectGitignore bool          `yaml:"respect_gitignore"`
}

// IndexConfig describes the indexing backend invocation.
type IndexConfig struct {
	Target         string        `yaml:"target"`
	Command        string        `yaml:"command"`
	Args           []string      `yaml:"args"`
	VersionArgs    []string      `yaml:"version_args"`
	Workdir        string        `yaml:"workdir,omitempty"`
	Timeout        time.Duration `yaml:"timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	Initial        bool          `yaml:"initial"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

// CompanionConfig describes the companion server invocation.
type CompanionConfig struct {
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args"`
	FlowFile     string        `yaml:"flow_file"`
	Address      string        `yaml:"address"`
	GracePeriod  time.Duration `yaml:"grace_period"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	ReadyProbe   bool          `yaml:"ready_probe"`
}

// AdminConfig enables the admin HTTP server when Address is set.
type AdminConfig struct {
	Address string `yaml:"address"`
}

// JournalConfig enables the SQLite run journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig enables NATS notifications when NatsURL is set.
type NotifyConfig struct {
	NatsURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Mode: ModeWatch,
		Watch: WatchConfig{
			Recursive:       true,
			Debounce:        2 * time.Second,
			Buffer:          256,
			IgnoreTempFiles: true,
		},
		Index: IndexConfig{
			Command:      "cocoindex",
			Args:         []string{"update", "{target}"},
			VersionArgs:  []string{"--version"},
			Timeout:      300 * time.Second,
			ProbeTimeout: 10 * time.Second,
		},
		Companion: CompanionConfig{
			Command:      "cocoindex",
			Args:         []string{"server", "{flow}", "--address", "{address}"},
			FlowFile:     "example_flow.py",
			Address:      "0.0.0.0:8000",
			GracePeriod:  5 * time.Second,
			ReadyTimeout: 30 * time.Second,
			ReadyProbe:   true,
		},
		Notify: NotifyConfig{
			Subject: "indexwatch.runs",
		},
		Lock:            true,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load reads .env files and then the YAML file at path over the defaults.
// A missing file is an error only when explicit is true.
func Load(path string, explicit bool) (*Config, error) {
	loadEnvFiles()

	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").
			WithContext("path", path).
			Build()
	}

	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse config file").
			WithContext("path", path).
			Build()
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
