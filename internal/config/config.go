package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the LightScope update binaries.
type Config struct {
	// UpdateURL is the base HTTPS URL where release artifacts are hosted.
	UpdateURL string `yaml:"update_url"`
	// ArtifactFile is the path to the active core artifact the service runs.
	ArtifactFile string `yaml:"artifact_file"`
	// BackupFile is the single backup slot holding the previously active artifact.
	BackupFile string `yaml:"backup_file"`
	// PublicKeyFile is the locally pinned public key used for signature verification.
	PublicKeyFile string `yaml:"public_key_file"`
	// StateFile is the path to the JSON file recording the installed state.
	StateFile string `yaml:"state_file"`
	// LogFile is an optional path for rotated log output of the runner.
	LogFile string `yaml:"log_file"`
	// Timeout bounds individual network operations.
	Timeout time.Duration `yaml:"timeout"`
	// PollInterval is how often the runner checks the version endpoint.
	PollInterval time.Duration `yaml:"poll_interval"`
	// RestartCommand is executed after a successful update so the service
	// manager reloads the core (e.g. ["systemctl", "restart", "lightscope"]).
	// When empty, the runner relaunches the core process itself.
	RestartCommand []string `yaml:"restart_command"`
	// CoreCommand launches the monitored core process. Externally started
	// copies can only be adopted or terminated by name when this is a single
	// dedicated binary; an interpreter invocation (["python3", "core.py"])
	// is managed only for processes the runner launched itself.
	CoreCommand []string `yaml:"core_command"`
	// HeartbeatFile is touched periodically so an external watchdog can
	// detect a hung runner.
	HeartbeatFile string `yaml:"heartbeat_file"`
}

const (
	// DefaultConfigFilename is the default filename for updater settings.
	DefaultConfigFilename = "lightscope-settings.yaml"

	// DefaultArtifactFilename is the distributed core artifact name.
	DefaultArtifactFilename = "lightscope_core.py"

	// DefaultBackupFilename is the default single backup slot.
	DefaultBackupFilename = "lightscope_core.py.bak"

	// DefaultPublicKeyFilename is the pinned public key bundled at install time.
	DefaultPublicKeyFilename = "lightscope-public.pem"

	// DefaultStateFilename is the default filename for installed-state JSON.
	DefaultStateFilename = "lightscope-update-state.json"

	// DefaultHeartbeatFilename is the default liveness marker path.
	DefaultHeartbeatFilename = "lightscope-heartbeat"

	// DefaultTimeout bounds a single network operation.
	DefaultTimeout = 30 * time.Second

	// DefaultPollInterval is how often the version endpoint is polled.
	DefaultPollInterval = time.Hour

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUpdateURLRequired is returned when the update base URL is missing.
	errUpdateURLRequired = errors.New("update URL must be provided")
	// errUpdateURLNotHTTPS is returned when the update base URL is not encrypted.
	errUpdateURLNotHTTPS = errors.New("update URL must use https")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.UpdateURL == "" {
		return errUpdateURLRequired
	}

	parsed, err := url.ParseRequestURI(cfg.UpdateURL)
	if err != nil {
		return fmt.Errorf("invalid update URL: %w", err)
	}

	// Plaintext distribution is a hard failure, not a fallback.
	if parsed.Scheme != "https" {
		return fmt.Errorf("%w: %s", errUpdateURLNotHTTPS, cfg.UpdateURL)
	}

	if cfg.ArtifactFile == "" {
		cfg.ArtifactFile = DefaultArtifactFilename
	}

	if cfg.BackupFile == "" {
		cfg.BackupFile = DefaultBackupFilename
	}

	if cfg.PublicKeyFile == "" {
		cfg.PublicKeyFile = DefaultPublicKeyFilename
	}

	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFilename
	}

	if cfg.HeartbeatFile == "" {
		cfg.HeartbeatFile = DefaultHeartbeatFilename
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return nil
}
