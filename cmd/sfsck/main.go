// Command sfsck offline-checks (and optionally repairs) a staging and
// outbox directory pair for a sfs node, the batch-stream analogue of
// the teacher's rrr-fsck companion binary.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"go.ntppool.org/common/version"

	"github.com/immofs/sfs/internal/config"
	"github.com/immofs/sfs/internal/sfsck"
)

// CLI defines the command-line interface for sfsck.
type CLI struct {
	ConfigFile string `arg:"" help:"Path to the sfs node's .sfs.conf." type:"path"`

	Repair     bool          `short:"r" help:"Repair issues found (otherwise just report)."`
	StaleAfter time.Duration `default:"10m" help:"How old a staging batch must be to count as stale."`
	Verbose    bool          `short:"v" help:"Enable verbose logging."`

	Version kong.VersionFlag `short:"V" help:"Show version."`
}

func main() {
	var cli CLI

	kctx := kong.Parse(&cli,
		kong.Name("sfsck"),
		kong.Description("Verify and repair sfs batch-stream directory consistency"),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version()},
	)

	if err := run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		kctx.Exit(1)
	}
}

func run(cli *CLI) error {
	configPath, err := filepath.Abs(cli.ConfigFile)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	snap := cfg.Snapshot()

	logLevel := slog.LevelInfo
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	if cli.Verbose {
		fmt.Printf("Checking node %s: staging=%s outbox=%s\n", snap.NodeName, snap.BatchTmpDir, snap.BatchDir)
	}

	result, err := sfsck.Run(snap.BatchTmpDir, snap.BatchDir, sfsck.Options{
		Repair:     cli.Repair,
		StaleAfter: cli.StaleAfter,
		Verbose:    cli.Verbose,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("sfsck failed: %w", err)
	}

	fmt.Printf("\nIssues found: %d\n", result.Issues)
	for check, count := range result.IssuesFound {
		if count > 0 {
			fmt.Printf("  %s: %d\n", check, count)
		}
	}

	if result.Issues > 0 {
		if cli.Repair {
			if result.Repaired {
				fmt.Printf("Repair complete: promoted %d batch(es) from staging to outbox\n", result.Promoted)
			} else {
				return fmt.Errorf("repair was requested but not completed")
			}
		} else {
			fmt.Println("\nRun with --repair to promote stale staging batches into the outbox.")
			return fmt.Errorf("found %d issues", result.Issues)
		}
	} else {
		fmt.Println("No issues found")
	}

	return nil
}
