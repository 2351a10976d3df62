package taskvault

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StoreOptions configures a single store. The zero value is usable; every
// field has a working default.
type StoreOptions struct {
	// FileName is the data file key within the backend, e.g. "tasks.json"
	FileName string

	// Debounce is the save quiet period after the last mutation
	Debounce time.Duration

	// Retention is how many rotated backups to keep
	Retention int

	// Mirror, when set, receives a best-effort async copy of every snapshot
	Mirror Backend

	Logger  Logger
	Metrics Metrics
}

func (o StoreOptions) withDefaults(fileName string) StoreOptions {
	if o.FileName == "" {
		o.FileName = fileName
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounceInterval
	}
	if o.Retention <= 0 {
		o.Retention = DefaultBackupRetention
	}
	if o.Logger == nil {
		o.Logger = &NoOpLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = &NoOpMetrics{}
	}
	return o
}

// App wires the three stores over one filesystem backend. It replaces any
// notion of process-global store singletons: construct an App, pass it
// around, Close it on the way out.
type App struct {
	Tasks    *TaskStore
	Projects *ProjectStore
	Weeks    *TimesheetStore

	backend Backend
	mirror  Backend
	logger  Logger
}

// NewApp builds the stores described by cfg, creating the data directory
// if needed and loading each data file synchronously. Load failures are
// logged and leave the affected store empty rather than failing startup;
// the corrupt file is quarantined for manual recovery.
func NewApp(ctx context.Context, cfg *Config, logger Logger, metrics Metrics) (*App, error) {
	if cfg == nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{"reason": "nil config"})
	}
	// Work on a copy; defaulting must not rewrite the caller's Config
	own := *cfg
	cfg = &own
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	if err := os.MkdirAll(cfg.DataDir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	mirror, err := newMirrorBackend(ctx, cfg.Mirror)
	if err != nil {
		return nil, err
	}

	backend := NewFilesystemBackend(cfg.DataDir)
	opts := StoreOptions{
		Debounce:  cfg.Debounce,
		Retention: cfg.BackupRetention,
		Mirror:    mirror,
		Logger:    logger,
		Metrics:   metrics,
	}

	app := &App{
		backend: backend,
		mirror:  mirror,
		logger:  logger,
	}
	taskOpts, projectOpts, weekOpts := opts, opts, opts
	taskOpts.FileName = cfg.Files.Tasks
	projectOpts.FileName = cfg.Files.Projects
	weekOpts.FileName = cfg.Files.Weeks

	app.Tasks = NewTaskStore(backend, taskOpts)
	app.Projects = NewProjectStore(backend, projectOpts)
	app.Weeks = NewTimesheetStore(backend, weekOpts)

	logger.Info("stores ready",
		"data_dir", cfg.DataDir,
		"debounce", cfg.Debounce.String(),
		"mirror", cfg.Mirror.Type,
		"tasks", app.Tasks.Count(),
		"projects", app.Projects.Count(),
		"weeks", app.Weeks.Count())
	return app, nil
}

// Flush forces every store's pending save to disk
func (a *App) Flush() error {
	var firstErr error
	for _, f := range []func() error{a.Tasks.Flush, a.Projects.Flush, a.Weeks.Flush} {
		if err := f(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes every store and releases the backends. Safe to call once
// at shutdown; stores reject further use afterwards.
func (a *App) Close() error {
	var firstErr error
	for _, f := range []func() error{a.Tasks.Close, a.Projects.Close, a.Weeks.Close} {
		if err := f(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// newMirrorBackend constructs the optional snapshot mirror. Returns nil
// when mirroring is disabled.
func newMirrorBackend(ctx context.Context, cfg MirrorConfig) (Backend, error) {
	switch cfg.Type {
	case "":
		return nil, nil

	case "s3":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		if cfg.AccessKeyID != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
		return NewS3Backend(client, cfg.Bucket, cfg.Prefix), nil

	case "gcs":
		backend, err := NewGCSBackend(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("creating GCS mirror: %w", err)
		}
		return backend, nil

	default:
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field": "mirror.type",
			"value": cfg.Type,
		})
	}
}
