// internal/config/config.go
//
// This package handles configuration and the .maidsync directory structure.
// Every directory maidsync runs in gets a .maidsync/ folder holding the
// config file, the maid journal and the logs.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".maidsync"

	// DefaultBridgeHost and DefaultBridgePort are where the bridge listens
	// unless configured otherwise.
	DefaultBridgeHost = "127.0.0.1"
	DefaultBridgePort = 8765

	defaultStorePath     = "state/maids.db"
	defaultDrainInterval = 100 * time.Millisecond
	defaultDedupeWindow  = 256
	defaultBusBuffer     = 128
	defaultNameStyle     = "first_last"
	defaultLogLevel      = "info"
	defaultDemoInterval  = 750 * time.Millisecond
)

const defaultProjectConfigYAML = `# maidsync configuration
version: 1

store:
  # Relative paths resolve against .maidsync/
  path: state/maids.db

engine:
  # How often pending refreshes are drained. Notifications for the same
  # field inside one interval collapse into a single refresh.
  drain_interval: 100ms
  remove_value_limit: false

bus:
  dedupe_window: 256
  buffer: 128

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765
  # How long a bridge request may wait for the engine to answer.
  reply_timeout: 2s

display:
  # first_last or last_first
  name_style: first_last

log:
  # debug, info, warn or error
  level: info

demo:
  enabled: true
  interval: 750ms
  seed: 1
`

// Duration is a time.Duration spelled like "100ms" in YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// StoreConfig locates the maid journal.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig tunes the synchronization engine.
type EngineConfig struct {
	DrainInterval    Duration `yaml:"drain_interval"`
	RemoveValueLimit bool     `yaml:"remove_value_limit"`
}

// BusConfig tunes notification delivery.
type BusConfig struct {
	DedupeWindow int `yaml:"dedupe_window"`
	Buffer       int `yaml:"buffer"`
}

// BridgeConfig captures the optional HTTP event bridge settings.
type BridgeConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Host         string   `yaml:"host,omitempty"`
	Port         int      `yaml:"port,omitempty"`
	ReplyTimeout Duration `yaml:"reply_timeout,omitempty"`
	MaxBodyBytes int64    `yaml:"max_body_bytes,omitempty"`
}

// DisplayConfig captures presentation preferences.
type DisplayConfig struct {
	NameStyle string `yaml:"name_style"`
}

// LogConfig sets the diagnostics log threshold.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DemoConfig drives the built-in simulator.
type DemoConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Seed     uint64   `yaml:"seed"`
}

// ProjectConfig models .maidsync/config.yaml.
type ProjectConfig struct {
	Version int           `yaml:"version"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Bus     BusConfig     `yaml:"bus"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Display DisplayConfig `yaml:"display"`
	Log     LogConfig     `yaml:"log"`
	Demo    DemoConfig    `yaml:"demo"`
}

// envOverrides lists the MAIDSYNC_* variables that win over the file.
type envOverrides struct {
	StorePath        string        `env:"MAIDSYNC_STORE_PATH"`
	DrainInterval    time.Duration `env:"MAIDSYNC_DRAIN_INTERVAL"`
	RemoveValueLimit *bool         `env:"MAIDSYNC_REMOVE_VALUE_LIMIT"`
	BridgeEnabled    *bool         `env:"MAIDSYNC_BRIDGE_ENABLED"`
	BridgeHost       string        `env:"MAIDSYNC_BRIDGE_HOST"`
	BridgePort       int           `env:"MAIDSYNC_BRIDGE_PORT"`
	BridgeReply      time.Duration `env:"MAIDSYNC_BRIDGE_REPLY_TIMEOUT"`
	NameStyle        string        `env:"MAIDSYNC_NAME_STYLE"`
	LogLevel         string        `env:"MAIDSYNC_LOG_LEVEL"`
	DemoEnabled      *bool         `env:"MAIDSYNC_DEMO"`
}

// Config holds the runtime configuration for maidsync.
type Config struct {
	// ProjectDir is the directory where the user ran `maidsync` from
	ProjectDir string

	// StateDir is ProjectDir/.maidsync
	StateDir string

	// Project is the effective config: the file plus env and flag overrides.
	Project ProjectConfig

	// file is what config.yaml holds; saves write only this.
	file ProjectConfig
}

// InitDir creates the .maidsync directory structure in the given project
// directory and writes the default config when none exists.
//
// Structure created:
// .maidsync/
// ├── config.yaml
// ├── logs/         <- diagnostics log and the user-facing logbook
// └── state/        <- maid journal
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	dirs := []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig loads .maidsync/config.yaml under projectDir and applies
// environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		StateDir:   filepath.Join(projectDir, Dir),
		Project:    defaultProjectConfig(),
		file:       defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Project.normalize()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// LogbookPath returns the user-facing journal shown in the TUI footer.
func (c *Config) LogbookPath() string {
	return filepath.Join(c.LogsDir(), "logbook.jsonl")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateDir, "config.yaml")
}

// StorePath returns the absolute journal path.
func (c *Config) StorePath() string {
	return resolvePath(c.StateDir, c.Project.Store.Path)
}

// BridgeEnabled reports whether the HTTP bridge should start.
func (c *Config) BridgeEnabled() bool {
	return c.Project.Bridge.Enabled == nil || *c.Project.Bridge.Enabled
}

// SetRemoveValueLimit updates engine.remove_value_limit and persists it.
func (c *Config) SetRemoveValueLimit(remove bool) error {
	c.Project.Engine.RemoveValueLimit = remove
	c.file.Engine.RemoveValueLimit = remove
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	c.file = parsed
	return nil
}

func (c *Config) applyEnv() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	pc := &c.Project
	if path := strings.TrimSpace(overrides.StorePath); path != "" {
		pc.Store.Path = path
	}
	if overrides.DrainInterval > 0 {
		pc.Engine.DrainInterval = Duration(overrides.DrainInterval)
	}
	if overrides.RemoveValueLimit != nil {
		pc.Engine.RemoveValueLimit = *overrides.RemoveValueLimit
	}
	if overrides.BridgeEnabled != nil {
		enabled := *overrides.BridgeEnabled
		pc.Bridge.Enabled = &enabled
	}
	if host := strings.TrimSpace(overrides.BridgeHost); host != "" {
		pc.Bridge.Host = host
	}
	if isValidPort(overrides.BridgePort) {
		pc.Bridge.Port = overrides.BridgePort
	}
	if overrides.BridgeReply > 0 {
		pc.Bridge.ReplyTimeout = Duration(overrides.BridgeReply)
	}
	if style := strings.TrimSpace(overrides.NameStyle); style != "" {
		pc.Display.NameStyle = style
	}
	if level := strings.TrimSpace(overrides.LogLevel); level != "" {
		pc.Log.Level = level
	}
	if overrides.DemoEnabled != nil {
		pc.Demo.Enabled = *overrides.DemoEnabled
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{Demo: DemoConfig{Enabled: true, Seed: 1}}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Store.Path == "" {
		pc.Store.Path = defaultStorePath
	}
	if pc.Engine.DrainInterval <= 0 {
		pc.Engine.DrainInterval = Duration(defaultDrainInterval)
	}
	if pc.Bus.DedupeWindow <= 0 {
		pc.Bus.DedupeWindow = defaultDedupeWindow
	}
	if pc.Bus.Buffer <= 0 {
		pc.Bus.Buffer = defaultBusBuffer
	}
	if pc.Bridge.Host == "" {
		pc.Bridge.Host = DefaultBridgeHost
	}
	if pc.Bridge.Port == 0 {
		pc.Bridge.Port = DefaultBridgePort
	}
	if pc.Display.NameStyle == "" {
		pc.Display.NameStyle = defaultNameStyle
	}
	if pc.Log.Level == "" {
		pc.Log.Level = defaultLogLevel
	}
	if pc.Demo.Interval <= 0 {
		pc.Demo.Interval = Duration(defaultDemoInterval)
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Store.Path = strings.TrimSpace(pc.Store.Path)
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
	pc.Display.NameStyle = strings.ToLower(strings.TrimSpace(pc.Display.NameStyle))
	pc.Log.Level = strings.ToLower(strings.TrimSpace(pc.Log.Level))
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if !isValidPort(pc.Bridge.Port) {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	if pc.Engine.DrainInterval <= 0 {
		return fmt.Errorf("engine.drain_interval must be positive")
	}
	if pc.Bridge.ReplyTimeout < 0 || pc.Bridge.MaxBodyBytes < 0 {
		return fmt.Errorf("bridge.reply_timeout and bridge.max_body_bytes must not be negative")
	}
	switch pc.Display.NameStyle {
	case "first_last", "last_first":
	default:
		return fmt.Errorf("display.name_style must be 'first_last' or 'last_first'")
	}
	switch pc.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.file.applyDefaults()
	c.file.normalize()
	if err := c.file.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure state dir: %w", err)
	}
	data, err := yaml.Marshal(c.file)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
