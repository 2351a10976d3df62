package taskvault

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for store construction
const (
	// DefaultDebounceInterval is the quiet period after the last mutation
	// before a snapshot is written
	DefaultDebounceInterval = 500 * time.Millisecond

	// DefaultBackupRetention is how many .bak.N snapshots are kept
	DefaultBackupRetention = 5

	// File backend permissions
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755

	// Task tag bounds
	MaxTags      = 16
	MaxTagLength = 32

	// Weekly entry day bounds, in hours
	MaxDayHours = 24.0

	mirrorUploadTimeout = 30 * time.Second
)

// Default data file names, one JSON document per store
const (
	DefaultTasksFile    = "tasks.json"
	DefaultProjectsFile = "projects.json"
	DefaultWeeksFile    = "weeks.json"
)

// Config is the process-local configuration for an App. All fields have
// working defaults; a zero Config with DataDir set is valid.
type Config struct {
	// DataDir holds the per-store JSON data files and their backups
	DataDir string `yaml:"data_dir"`

	// Debounce is the save quiet period, e.g. "500ms"
	Debounce time.Duration `yaml:"-"`

	// BackupRetention is how many rotated backups to keep per data file
	BackupRetention int `yaml:"backup_retention"`

	// Files overrides the default per-store data file names
	Files FilesConfig `yaml:"files"`

	// Mirror configures an optional off-machine snapshot copy target
	Mirror MirrorConfig `yaml:"mirror"`

	Logging LoggingConfig `yaml:"logging"`

	// Raw string value for YAML unmarshaling
	DebounceRaw string `yaml:"debounce"`
}

// FilesConfig names the per-store data files within the data directory
type FilesConfig struct {
	Tasks    string `yaml:"tasks"`
	Projects string `yaml:"projects"`
	Weeks    string `yaml:"weeks"`
}

// MirrorConfig selects and configures a snapshot mirror backend
type MirrorConfig struct {
	// Type is "s3", "gcs", or empty to disable mirroring
	Type   string `yaml:"type"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// S3 only
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// GCS only
	CredentialsFile string `yaml:"credentials_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error"
	Level string `yaml:"level"`
	// Development selects human-readable console output
	Development bool `yaml:"development"`
}

// LoadConfig reads a YAML configuration file and applies defaults.
// Environment variables in ${VAR} form are expanded before parsing so
// credentials can stay out of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.DebounceRaw != "" {
		d, err := time.ParseDuration(c.DebounceRaw)
		if err != nil {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "debounce",
				"value":  c.DebounceRaw,
				"reason": err.Error(),
			})
		}
		c.Debounce = d
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounceInterval
	}
	if c.BackupRetention <= 0 {
		c.BackupRetention = DefaultBackupRetention
	}
	if c.Files.Tasks == "" {
		c.Files.Tasks = DefaultTasksFile
	}
	if c.Files.Projects == "" {
		c.Files.Projects = DefaultProjectsFile
	}
	if c.Files.Weeks == "" {
		c.Files.Weeks = DefaultWeeksFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "data_dir",
			"reason": "data directory is required",
		})
	}

	switch c.Mirror.Type {
	case "", "s3", "gcs":
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "mirror.type",
			"value":  c.Mirror.Type,
			"reason": "must be \"s3\", \"gcs\", or empty",
		})
	}
	if c.Mirror.Type != "" && c.Mirror.Bucket == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "mirror.bucket",
			"reason": "bucket is required when mirroring is enabled",
		})
	}
	if c.Mirror.Type == "s3" && c.Mirror.Region == "" && c.Mirror.Endpoint == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "mirror.region",
			"reason": "S3 mirror requires either region or endpoint",
		})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "logging.level",
			"value":  c.Logging.Level,
			"reason": "must be debug, info, warn, or error",
		})
	}
	return nil
}
