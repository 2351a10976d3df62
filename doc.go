// Package taskvault is the storage core for a personal task and time
// tracker: three in-memory indexed stores (tasks, projects, weekly time)
// over debounced, backup-rotating JSON files.
//
// # Overview
//
// Each store keeps its full table in memory behind one coarse lock and
// persists it as a single pretty-printed JSON array. Mutations validate
// first and apply atomically with every secondary index, then schedule a
// debounced save; a burst of edits produces one disk write. Saves rotate
// numbered backups before overwriting, so the last few generations of each
// data file are always recoverable.
//
//   - Tasks form a hierarchy; soft delete cascades to all descendants and
//     persists once for the whole cascade
//   - Projects carry two case-insensitively unique keys, nickname and
//     external code; soft delete releases both for reuse
//   - Week entries are unique per (week ending, project code, activity
//     code) combination and indexed by week
//
// Every store exposes a typed change feed; Subscribe returns a cancel
// func, so observers control their own lifetime.
//
// # Quick Start
//
//	cfg := &taskvault.Config{DataDir: "./data"}
//	app, err := taskvault.NewApp(ctx, cfg, logger, metrics)
//	if err != nil {
//		return err
//	}
//	defer app.Close()
//
//	task, err := app.Tasks.Create(&taskvault.Task{Title: "write report"})
//	cancel := app.Tasks.Events().Subscribe(func(e taskvault.Event[*taskvault.Task]) {
//		// refresh UI
//	})
//	defer cancel()
//
// Data files load at startup; a missing file is a fresh start, a corrupt
// one is quarantined next to the original and the store begins empty.
// Close flushes any pending save, so no edit is lost at shutdown.
//
// An optional mirror backend (S3 or GCS) receives a best-effort async
// copy of every snapshot for off-machine backup; local saves never wait
// on it.
package taskvault
