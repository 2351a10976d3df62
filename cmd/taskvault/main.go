// TaskVault - file-backed task and time tracking store
//
// Your data is JSON files you can see and edit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mwhitford/taskvault"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "stats":
			runStats(os.Args[2:])
			return
		case "verify":
			runVerify(os.Args[2:])
			return
		case "compact":
			runCompact(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}
	printHelp()
	os.Exit(2)
}

func printHelp() {
	fmt.Println(`TaskVault - file-backed task and time tracking store

Usage:
  taskvault stats [flags]      Print per-store row counts
  taskvault verify [flags]     Reload every data file and report problems
  taskvault compact [flags]    Purge soft-deleted rows and rewrite the files

Flags:
  --config string  Config file (YAML); overrides --data
  --data string    Data directory (default "./data")
  --verbose        Structured console logging`)
}

func openApp(fs *flag.FlagSet, args []string) (*taskvault.App, error) {
	var (
		configPath = fs.String("config", "", "Config file (YAML)")
		dataDir    = fs.String("data", "./data", "Data directory")
		verbose    = fs.Bool("verbose", false, "Structured console logging")
	)
	fs.Parse(args)

	cfg := &taskvault.Config{DataDir: *dataDir}
	if *configPath != "" {
		loaded, err := taskvault.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := taskvault.Logger(&taskvault.NoOpLogger{})
	if *verbose {
		zl, err := taskvault.NewDevelopmentZapLogger()
		if err != nil {
			return nil, err
		}
		logger = zl
	}

	return taskvault.NewApp(context.Background(), cfg, logger, nil)
}

func runStats(args []string) {
	app, err := openApp(flag.NewFlagSet("stats", flag.ExitOnError), args)
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer app.Close()

	fmt.Printf("tasks:    %d total, %d live\n",
		app.Tasks.Count(), len(app.Tasks.List(nil, false)))
	fmt.Printf("projects: %d total, %d live\n",
		app.Projects.Count(), len(app.Projects.List(nil, false)))
	fmt.Printf("weeks:    %d total, %d live\n",
		app.Weeks.Count(), len(app.Weeks.List(nil, false)))
}

func runVerify(args []string) {
	app, err := openApp(flag.NewFlagSet("verify", flag.ExitOnError), args)
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer app.Close()

	ctx := context.Background()
	failed := false
	for name, reload := range map[string]func(context.Context) error{
		"tasks":    app.Tasks.Reload,
		"projects": app.Projects.Reload,
		"weeks":    app.Weeks.Reload,
	} {
		if err := reload(ctx); err != nil {
			fmt.Printf("%s: FAILED: %v\n", name, err)
			failed = true
		} else {
			fmt.Printf("%s: ok\n", name)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func runCompact(args []string) {
	app, err := openApp(flag.NewFlagSet("compact", flag.ExitOnError), args)
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer app.Close()

	purged := 0

	// Hard-deleting a task removes its subtree, so only purge roots of
	// deleted subtrees; descendants go with them.
	for _, t := range app.Tasks.List(nil, true) {
		if !t.Deleted {
			continue
		}
		if parent, ok := app.Tasks.Get(t.ParentID); ok && parent.Deleted {
			continue
		}
		if err := app.Tasks.HardDelete(t.ID); err == nil {
			purged++
		}
	}
	for _, p := range app.Projects.List(nil, true) {
		if p.Deleted {
			if err := app.Projects.HardDelete(p.ID); err == nil {
				purged++
			}
		}
	}
	for _, w := range app.Weeks.List(nil, true) {
		if w.Deleted {
			if err := app.Weeks.HardDelete(w.ID); err == nil {
				purged++
			}
		}
	}

	if err := app.Flush(); err != nil {
		log.Fatalf("Failed to flush: %v", err)
	}
	fmt.Printf("purged %d soft-deleted rows\n", purged)
}
