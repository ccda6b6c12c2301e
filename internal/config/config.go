package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config represents the main configuration for fieldsync.
type Config struct {
	DeviceID     string             `toml:"device_id" validate:"required"`
	BaseDir      string             `toml:"base_dir" validate:"required"`
	LogDir       string             `toml:"log_dir"`
	Database     DatabaseConfig     `toml:"database"`
	Queue        QueueConfig        `toml:"queue"`
	Gateway      GatewayConfig      `toml:"gateway"`
	Sync         SyncConfig         `toml:"sync"`
	Encryption   EncryptionConfig   `toml:"encryption"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// DatabaseConfig represents configuration for the local cache.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// QueueConfig selects where pending mutations are kept.
// "memory" loses queued changes on restart and is only accepted together
// with an in-memory database.
type QueueConfig struct {
	Type string `toml:"type" validate:"omitempty,oneof=sqlite memory"` // "sqlite" (default) or "memory"
}

// GatewayConfig represents configuration for the remote API.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type GatewayConfig struct {
	Type    string   `toml:"type" validate:"oneof=http s3 memory"`
	Timeout Duration `toml:"timeout"`

	// HTTP-specific fields (only used when Type == "http")
	BaseURL  string `toml:"base_url,omitempty" validate:"required_if=Type http"`
	PingPath string `toml:"ping_path,omitempty"`
	// Routes overrides the resource path of an entity type, e.g. material = "/stock/items".
	Routes map[string]string `toml:"routes,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
	S3UsePathStyle    bool   `toml:"s3_use_path_style,omitempty"`
}

// SyncConfig tunes retries and background draining.
type SyncConfig struct {
	RetryCeiling  int      `toml:"retry_ceiling" validate:"gte=1"`
	BaseBackoff   Duration `toml:"base_backoff"`
	MaxBackoff    Duration `toml:"max_backoff"`
	BatchSize     int      `toml:"batch_size" validate:"gte=1"`
	DrainInterval Duration `toml:"drain_interval"`
	DrainBudget   Duration `toml:"drain_budget"`
}

// EncryptionConfig holds paths to the age key pair protecting the local cache.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=none age test"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ConnectivityConfig controls the reachability poller.
type ConnectivityConfig struct {
	// PollInterval of zero disables polling; the device is then assumed online.
	PollInterval Duration `toml:"poll_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address serving /metrics during `fieldsync run`. Empty disables it.
	Listen string `toml:"listen,omitempty"`
}

// Duration is a time.Duration stored as a string such as "30s".
type Duration struct {
	time.Duration
}

// Dur wraps d.
func Dur(d time.Duration) Duration { return Duration{Duration: d} }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// NewConfig creates a new Config with the provided values and default settings.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Queue:    QueueConfig{Type: "sqlite"},
		Gateway: GatewayConfig{
			Type:     "http",
			Timeout:  Dur(10 * time.Second),
			BaseURL:  "http://localhost:8080",
			PingPath: "/health",
		},
		Sync: SyncConfig{
			RetryCeiling:  8,
			BaseBackoff:   Dur(2 * time.Second),
			MaxBackoff:    Dur(5 * time.Minute),
			BatchSize:     50,
			DrainInterval: Dur(30 * time.Second),
			DrainBudget:   Dur(2 * time.Minute),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "fieldsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "fieldsync.key"),
		},
		Connectivity: ConnectivityConfig{PollInterval: Dur(15 * time.Second)},
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Queue.Type == "memory" && c.Database.Type != "memory" {
		return fmt.Errorf("invalid config: queue.type memory requires database.type memory")
	}
	if c.Gateway.Timeout.Duration <= 0 {
		return fmt.Errorf("invalid config: gateway.timeout must be positive")
	}
	if c.Sync.BaseBackoff.Duration <= 0 {
		return fmt.Errorf("invalid config: sync.base_backoff must be positive")
	}
	if c.Sync.MaxBackoff.Duration < c.Sync.BaseBackoff.Duration {
		return fmt.Errorf("invalid config: sync.max_backoff must not be below sync.base_backoff")
	}
	if c.Sync.DrainInterval.Duration <= 0 {
		return fmt.Errorf("invalid config: sync.drain_interval must be positive")
	}
	if c.Sync.DrainBudget.Duration < 0 || c.Connectivity.PollInterval.Duration < 0 {
		return fmt.Errorf("invalid config: durations must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
