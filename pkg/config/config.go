// Package config loads the nodewatch.yaml file that drives a watchdog run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modoterra/nodewatch/pkg/core"
)

// Environment variables that override file values.
const (
	EnvUnit           = "NODEWATCH_UNIT"
	EnvProcessPattern = "NODEWATCH_PROCESS_PATTERN"
)

// Log sources.
const (
	SourceJournald = "journald"
	SourceFile     = "file"
)

// Config represents a nodewatch.yaml configuration file.
type Config struct {
	Version        int           `yaml:"version"         json:"version"`
	Unit           string        `yaml:"unit"            json:"unit"`
	ProcessPattern string        `yaml:"process_pattern" json:"process_pattern"`
	HealthyMarker  string        `yaml:"healthy_marker"  json:"healthy_marker"`
	HistoryLines   int           `yaml:"history_lines"   json:"history_lines"`
	Source         string        `yaml:"source"          json:"source"`
	LogPath        string        `yaml:"log_path,omitempty" json:"log_path,omitempty"` // file source
	Live           Live          `yaml:"live"            json:"live"`
	Supervisor     string        `yaml:"supervisor"      json:"supervisor"`
	KillGrace      time.Duration `yaml:"kill_grace"      json:"kill_grace"`
	RestartTimeout time.Duration `yaml:"restart_timeout" json:"restart_timeout"`
	Audit          Audit         `yaml:"audit"           json:"audit"`
	Log            Log           `yaml:"log"             json:"log"`
	Metrics        Metrics       `yaml:"metrics"         json:"metrics"`
}

// Live configures the live monitoring phase.
type Live struct {
	Window       time.Duration `yaml:"window"        json:"window"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	BacklogLines int           `yaml:"backlog_lines" json:"backlog_lines"`
	QuietNotice  time.Duration `yaml:"quiet_notice"  json:"quiet_notice"`
}

// Audit configures where restart records are kept. An empty path disables it.
type Audit struct {
	Format string `yaml:"format" json:"format"`
	Path   string `yaml:"path"   json:"path"`
}

// Log configures progress output.
type Log struct {
	Level string `yaml:"level"          json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// Metrics configures the Prometheus textfile export.
type Metrics struct {
	Textfile string `yaml:"textfile,omitempty" json:"textfile,omitempty"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Version:        1,
		Unit:           "para.service",
		ProcessPattern: "node-1.4.21.1-linux",
		HealthyMarker:  "data worker listening",
		HistoryLines:   20,
		Source:         SourceJournald,
		Live: Live{
			Window:       30 * time.Second,
			PollInterval: 500 * time.Millisecond,
			QuietNotice:  5 * time.Second,
		},
		Supervisor:     "dbus",
		KillGrace:      5 * time.Second,
		RestartTimeout: time.Minute,
		Audit: Audit{
			Format: "jsonl",
			Path:   "/var/lib/nodewatch/${unit}.restarts.jsonl",
		},
		Log: Log{Level: "info"},
	}
}

// Parse decodes YAML on top of Defaults and applies environment overrides.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvUnit); v != "" {
		c.Unit = v
	}
	if v := os.Getenv(EnvProcessPattern); v != "" {
		c.ProcessPattern = v
	}
}

// Resolved returns a copy with the unit normalised and ${unit} expanded in
// every path-valued option. Call it after all overrides are applied.
func (c *Config) Resolved() *Config {
	out := *c
	out.Unit = core.UnitName(c.Unit)
	name := core.ServiceName(out.Unit)
	expand := func(s string) string {
		return strings.ReplaceAll(s, "${unit}", name)
	}
	out.LogPath = expand(c.LogPath)
	out.Audit.Path = expand(c.Audit.Path)
	out.Log.File = expand(c.Log.File)
	out.Metrics.Textfile = expand(c.Metrics.Textfile)
	return &out
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the configuration to path, creating parent directories. It
// refuses to overwrite an existing file unless force is set.
func (c *Config) Save(path string, force bool) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}
