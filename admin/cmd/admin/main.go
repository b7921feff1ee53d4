package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/givestake/ledger/admin/internal/admin"
	"github.com/givestake/ledger/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// PostgreSQL configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "", "PostgreSQL database name (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("pg-username", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode (or set POSTGRES_SSLMODE env var)")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL database migrations using goose")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL database migration status")
	resetDBFlag := flag.Bool("reset-db", false, "Drop all ledger tables")
	auditFlag := flag.Bool("audit", false, "Recompute challenge aggregates from participant rows and report mismatches")
	exportEventsFlag := flag.Bool("export-events", false, "Export the ledger event log as CSV to stdout")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	// Export options
	challengeIDFlag := flag.Int64("challenge-id", 0, "Restrict export to one challenge (0 = all)")
	sinceFlag := flag.String("since", "", "Export events at or after this time (RFC3339 format)")
	untilFlag := flag.String("until", "", "Export events before this time (RFC3339 format)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	// Override PostgreSQL flags with environment variables if set
	if envPgHost := os.Getenv("POSTGRES_HOST"); envPgHost != "" {
		*pgHostFlag = envPgHost
	}
	if envPgPort := os.Getenv("POSTGRES_PORT"); envPgPort != "" {
		*pgPortFlag = envPgPort
	}
	if envPgDatabase := os.Getenv("POSTGRES_DB"); envPgDatabase != "" {
		*pgDatabaseFlag = envPgDatabase
	}
	if envPgUsername := os.Getenv("POSTGRES_USER"); envPgUsername != "" {
		*pgUsernameFlag = envPgUsername
	}
	if envPgPassword := os.Getenv("POSTGRES_PASSWORD"); envPgPassword != "" {
		*pgPasswordFlag = envPgPassword
	}
	if envPgSSLMode := os.Getenv("POSTGRES_SSLMODE"); envPgSSLMode != "" {
		*pgSSLModeFlag = envPgSSLMode
	}

	pgCfg := admin.PgMigrateConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}

	requirePg := func(cmd string) error {
		if pgCfg.Database == "" || pgCfg.Username == "" {
			return fmt.Errorf("--pg-database and --pg-username are required for %s", cmd)
		}
		return nil
	}

	// Execute commands
	if *pgMigrateFlag {
		if err := requirePg("--pg-migrate"); err != nil {
			return err
		}
		return admin.PgMigrateUp(log, pgCfg)
	}

	if *pgMigrateDownFlag {
		if err := requirePg("--pg-migrate-down"); err != nil {
			return err
		}
		return admin.PgMigrateDown(log, pgCfg)
	}

	if *pgMigrateStatusFlag {
		if err := requirePg("--pg-migrate-status"); err != nil {
			return err
		}
		return admin.PgMigrateStatus(log, pgCfg)
	}

	if *resetDBFlag {
		if err := requirePg("--reset-db"); err != nil {
			return err
		}
		return admin.ResetDB(log, pgCfg, *dryRunFlag, *yesFlag)
	}

	if *auditFlag {
		if err := requirePg("--audit"); err != nil {
			return err
		}
		return admin.Audit(log, pgCfg)
	}

	if *exportEventsFlag {
		if err := requirePg("--export-events"); err != nil {
			return err
		}

		var since, until time.Time
		if *sinceFlag != "" {
			var err error
			since, err = time.Parse(time.RFC3339, *sinceFlag)
			if err != nil {
				return fmt.Errorf("invalid since format (use RFC3339, e.g. 2026-01-01T00:00:00Z): %w", err)
			}
		}
		if *untilFlag != "" {
			var err error
			until, err = time.Parse(time.RFC3339, *untilFlag)
			if err != nil {
				return fmt.Errorf("invalid until format (use RFC3339, e.g. 2026-01-01T00:00:00Z): %w", err)
			}
		}

		return admin.ExportEvents(log, pgCfg, os.Stdout, admin.ExportEventsConfig{
			ChallengeID: *challengeIDFlag,
			Since:       since,
			Until:       until,
		})
	}

	flag.Usage()
	return nil
}
