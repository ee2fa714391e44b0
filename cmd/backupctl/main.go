package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/edvin/sitebackup/internal/app"
	"github.com/edvin/sitebackup/internal/config"
	"github.com/edvin/sitebackup/internal/db"
	"github.com/edvin/sitebackup/internal/logging"
	"github.com/edvin/sitebackup/internal/metrics"
	"github.com/edvin/sitebackup/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		file := fs.String("f", "", "Path to backup job YAML file (required)")
		metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address while the job runs")
		fs.Parse(os.Args[2:])

		if *file == "" {
			fmt.Fprintln(os.Stderr, "Error: -f flag is required")
			fs.Usage()
			os.Exit(1)
		}
		err = runBackup(*file, *metricsAddr)

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		asJSON := fs.Bool("json", false, "Print the catalog as JSON")
		fs.Parse(os.Args[2:])
		err = listBackups(*asJSON)

	case "show":
		fs := flag.NewFlagSet("show", flag.ExitOnError)
		fs.Parse(os.Args[2:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: backupctl show <backup-id>")
			os.Exit(1)
		}
		err = showBackup(fs.Arg(0))

	case "delete":
		fs := flag.NewFlagSet("delete", flag.ExitOnError)
		fs.Parse(os.Args[2:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: backupctl delete <backup-id>")
			os.Exit(1)
		}
		err = deleteBackup(fs.Arg(0))

	case "restore":
		fs := flag.NewFlagSet("restore", flag.ExitOnError)
		dest := fs.String("to", "", "Directory to extract into (required)")
		fs.Parse(os.Args[2:])
		if fs.NArg() < 1 || *dest == "" {
			fmt.Fprintln(os.Stderr, "Usage: backupctl restore -to <dir> <backup-id>")
			os.Exit(1)
		}
		err = restoreBackup(fs.Arg(0), *dest)

	case "test-connection":
		err = testConnection()

	case "signed-url":
		fs := flag.NewFlagSet("signed-url", flag.ExitOnError)
		ttl := fs.Duration("ttl", 15*time.Minute, "Lifetime of the signed URL")
		fs.Parse(os.Args[2:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: backupctl signed-url [-ttl 15m] <remote-key>")
			os.Exit(1)
		}
		err = signedURL(fs.Arg(0), *ttl)

	case "migrate":
		err = migrate()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  backupctl run -f <job.yaml> [-metrics-addr :9102]
  backupctl list [-json]
  backupctl show <backup-id>
  backupctl delete <backup-id>
  backupctl restore -to <dir> <backup-id>
  backupctl test-connection
  backupctl signed-url [-ttl 15m] <remote-key>
  backupctl migrate

Commands:
  run               Build, upload and finalize a backup described by a job file
  list              Show the reconciled catalog of remote and local backups
  show              Print one catalog entry as JSON
  delete            Remove a backup from the destination and the work directory
  restore           Download and extract a backup
  test-connection   Check the configured storage destination
  signed-url        Issue a time-limited download URL (direct S3 only)
  migrate           Apply options database migrations

Configuration is read from the environment and the optional CONFIG_FILE.`)
}

// withApp loads configuration and runs fn with the wired components. The
// context is cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate("backupctl"); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func runBackup(file, metricsAddr string) error {
	job, err := pipeline.LoadJob(file)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		if metricsAddr != "" {
			srv := metrics.NewServer(metricsAddr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.Logger.Warn().Err(err).Msg("metrics server stopped")
				}
			}()
			defer srv.Close()
		}

		m, err := a.Runner.Backup(ctx, *job)
		if err != nil {
			return err
		}
		fmt.Printf("Backup %s finalized: %d file(s), %d bytes\n", m.BackupID, len(m.Files), m.TotalSize)
		return nil
	})
}

func listBackups(asJSON bool) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		entries, err := a.Catalog.List(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BACKUP ID\tTYPE\tSTATUS\tSIZE\tCREATED\tSOURCE\tPARTIAL")
		for _, e := range entries {
			created := "-"
			if !e.CreatedAt.IsZero() {
				created = e.CreatedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%t\n",
				e.BackupID, e.BackupType, e.Status, e.TotalSize, created, e.Provenance, e.Partial)
		}
		return w.Flush()
	})
}

func showBackup(backupID string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		entry, err := a.Catalog.Get(ctx, backupID)
		if err != nil {
			return err
		}
		return printJSON(entry)
	})
}

func deleteBackup(backupID string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		if err := a.Catalog.Delete(ctx, backupID); err != nil {
			return err
		}
		fmt.Printf("Backup %s deleted\n", backupID)
		return nil
	})
}

func restoreBackup(backupID, dest string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		entry, err := a.Catalog.Get(ctx, backupID)
		if err != nil {
			return err
		}
		if err := a.Runner.Restore(ctx, *entry, dest); err != nil {
			return err
		}
		fmt.Printf("Backup %s restored into %s\n", backupID, dest)
		return nil
	})
}

func testConnection() error {
	return withApp(func(ctx context.Context, a *app.App) error {
		if err := a.Adapter.TestConnection(ctx); err != nil {
			return fmt.Errorf("%s (%s): %w", a.Adapter.Name(), a.Adapter.Backend(), err)
		}
		fmt.Printf("Connection to %s (%s) OK\n", a.Adapter.Name(), a.Adapter.Backend())
		return nil
	})
}

func signedURL(key string, ttl time.Duration) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		url, err := a.Adapter.SignedURL(ctx, key, ttl)
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	})
}

func migrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	logger := logging.NewLogger(cfg)
	logger.Info().Msg("running database migrations")
	return db.RunMigrations(cfg.DatabaseURL)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
