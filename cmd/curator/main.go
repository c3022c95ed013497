package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/collect"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/config"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/database"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/pipeline"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/retryqueue"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	log        *logger.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "curator",
	Short:   "Bilingual AI news curation",
	Long:    "curator fetches AI news feeds, keeps the relevant stories, finds an image for each and stores English and Spanish copies.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			var err error
			log, err = logger.New("development", "info")
			return err
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		log, err = logger.New(cfg.Logging.Mode, level)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retryCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("curator", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/curator/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, API keys, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Records:")
		fmt.Printf("  Total stored: %d\n", stats.TotalRecords)
		fmt.Printf("  Last 24h: %d\n", stats.RecordsLastDay)
		fmt.Printf("  Embeddings: %d\n", stats.Embeddings)
		fmt.Printf("  Image fingerprints: %d\n", stats.ImageHashes)
		fmt.Println("\nRetry queue:")
		fmt.Printf("  Queued: %d\n", stats.RetryQueued)
		fmt.Printf("  Due now: %d\n", stats.RetryDue)
		fmt.Println("\nRuns:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		if !stats.LastRunAt.IsZero() {
			fmt.Printf("  Last: %s\n", stats.LastRunAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

// --- collect command ---

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Fetch configured feeds and show what they return",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Collecting items from sources...")

		collector := collect.NewCollector(cfg, effectiveDaysBack(), log)
		result := collector.Collect(cmd.Context())

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  Kept: %d\n", len(result.Items))
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)
		fmt.Printf("  Failed feeds: %d\n", result.FailedFeeds)

		if len(result.Sources) > 0 {
			fmt.Println("\nItems by source:")
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		return nil
	},
}

// --- run command ---

var (
	dryRun   bool
	daysBack int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline: retry -> fetch -> classify -> dedupe -> image -> translate -> store -> retry",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, closeFn, err := pipeline.Build(cfg, db, effectiveDaysBack(), log)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := cmd.Context()
		if dryRun {
			result := pipe.DryRun(ctx)
			for _, step := range result.Steps {
				fmt.Printf("\n%s\n", step.Name)
				if step.Err != nil {
					fmt.Printf("  Error: %v\n", step.Err)
				} else {
					fmt.Printf("  %s\n", step.Summary)
				}
			}
			return nil
		}

		stats, err := pipe.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Println("\nRun complete:")
		fmt.Printf("  Fetched: %d (%d already known)\n", stats.Fetched, stats.Existing)
		fmt.Printf("  Accepted: %d of %d classified\n", stats.Accepted, stats.Classified)
		fmt.Printf("  Stored: %d\n", stats.Stored)
		fmt.Printf("  Queued for retry: %d\n", stats.Queued)
		fmt.Printf("  Skipped: %d\n", stats.Skipped())
		fmt.Printf("  Recovered from queue: %d of %d due\n", stats.RetryRecovered, stats.RetryDue)
		if stats.Failed > 0 {
			fmt.Printf("  Failed: %d\n", stats.Failed)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().IntVar(&daysBack, "days-back", 0, "Override lookback window (days)")
	collectCmd.Flags().IntVar(&daysBack, "days-back", 0, "Override lookback window (days)")
}

// --- retry command ---

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Inspect the image retry queue",
}

var retryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued records",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := retryqueue.New(db, log).List(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Retry queue is empty.")
			return nil
		}

		now := time.Now()
		fmt.Printf("Retry queue (%d):\n\n", len(entries))
		for _, e := range entries {
			due := "due now"
			if e.NextAttemptAt.After(now) {
				due = "in " + e.NextAttemptAt.Sub(now).Round(time.Minute).String()
			}
			fmt.Printf("  [%d] %s  (%s, %s)\n", e.Attempts, e.Link, e.Reason, due)
			if e.LastError != "" {
				msg := e.LastError
				if len(msg) > 80 {
					msg = msg[:80] + "..."
				}
				fmt.Printf("        %s\n", msg)
			}
		}
		return nil
	},
}

func init() {
	retryCmd.AddCommand(retryListCmd)
}

func effectiveDaysBack() int {
	if daysBack > 0 {
		return daysBack
	}
	return pipeline.DefaultDaysBack
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "curator.db")
	return database.Open(dbPath)
}
