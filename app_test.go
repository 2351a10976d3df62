package taskvault

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestNewApp(t *testing.T) {
	ctx := context.Background()

	t.Run("builds all stores and persists across restart", func(t *testing.T) {
		dataDir := filepath.Join(t.TempDir(), "data")
		cfg := &Config{DataDir: dataDir, Debounce: time.Hour}

		app, err := NewApp(ctx, cfg, nil, nil)
		if err != nil {
			t.Fatalf("NewApp failed: %v", err)
		}

		task, err := app.Tasks.Create(&Task{Title: "t"})
		if err != nil {
			t.Fatalf("task create: %v", err)
		}
		proj, err := app.Projects.Create(&Project{Nickname: "P", ExternalCode: "P-1"})
		if err != nil {
			t.Fatalf("project create: %v", err)
		}
		week, err := app.Weeks.Create(&WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "P-1", ActivityCode: "dev"})
		if err != nil {
			t.Fatalf("week create: %v", err)
		}

		if err := app.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		// A second app over the same directory sees everything
		app2, err := NewApp(ctx, &Config{DataDir: dataDir}, nil, nil)
		if err != nil {
			t.Fatalf("NewApp (reopen) failed: %v", err)
		}
		defer app2.Close()

		if _, ok := app2.Tasks.Get(task.ID); !ok {
			t.Error("task lost across restart")
		}
		if _, ok := app2.Projects.Get(proj.ID); !ok {
			t.Error("project lost across restart")
		}
		if _, ok := app2.Weeks.Get(week.ID); !ok {
			t.Error("week entry lost across restart")
		}
	})

	t.Run("caller's config is not mutated", func(t *testing.T) {
		cfg := &Config{DataDir: t.TempDir()}
		app, err := NewApp(ctx, cfg, nil, nil)
		if err != nil {
			t.Fatalf("NewApp failed: %v", err)
		}
		defer app.Close()

		if cfg.Debounce != 0 || cfg.BackupRetention != 0 {
			t.Errorf("defaulting leaked into caller's config: %+v", cfg)
		}
		if cfg.Files.Tasks != "" {
			t.Errorf("file name defaulting leaked into caller's config: %+v", cfg.Files)
		}
	})

	t.Run("nil config refused", func(t *testing.T) {
		if _, err := NewApp(ctx, nil, nil, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("invalid config refused", func(t *testing.T) {
		cfg := &Config{DataDir: t.TempDir(), Mirror: MirrorConfig{Type: "ftp", Bucket: "b"}}
		if _, err := NewApp(ctx, cfg, nil, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestApp_MetricsFlow(t *testing.T) {
	metrics := NewInMemoryMetrics()
	cfg := &Config{DataDir: t.TempDir(), Debounce: time.Hour}

	app, err := NewApp(context.Background(), cfg, nil, metrics)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer app.Close()

	task, err := app.Tasks.Create(&Task{Title: "measured"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := app.Tasks.SoftDelete(task.ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if err := app.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if metrics.Counter(MetricCreateTotal) != 1 {
		t.Errorf("create counter = %d", metrics.Counter(MetricCreateTotal))
	}
	if metrics.Counter(MetricDeleteTotal) != 1 {
		t.Errorf("delete counter = %d", metrics.Counter(MetricDeleteTotal))
	}
	if metrics.Counter(MetricSaveSuccess) == 0 {
		t.Error("no save recorded after Flush")
	}
}
