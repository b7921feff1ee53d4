package admin

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ledgerTables are dropped in dependency order, events and children first.
var ledgerTables = []string{
	"ledger_events",
	"participants",
	"challenge_whitelist",
	"challenges",
	"fee_account",
	"goose_db_version",
}

// ResetDB drops every ledger table so migrations can rebuild the schema from
// scratch.
func ResetDB(log *slog.Logger, cfg PgMigrateConfig, dryRun, skipConfirm bool) error {
	ctx := context.Background()

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslMode,
	)

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer conn.Close(ctx)

	var existing []string
	for _, table := range ledgerTables {
		var found bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)
		`, table).Scan(&found)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if found {
			existing = append(existing, table)
		}
	}

	if len(existing) == 0 {
		fmt.Println("No ledger tables found")
		return nil
	}

	fmt.Printf("⚠️  WARNING: This will DROP %d table(s) from database '%s':\n\n", len(existing), cfg.Database)
	for _, table := range existing {
		fmt.Printf("  - %s\n", table)
	}

	if dryRun {
		fmt.Println("\n[DRY RUN] Would drop the above tables")
		return nil
	}

	// Prompt for confirmation unless --yes flag is set
	if !skipConfirm {
		fmt.Printf("\n⚠️  This is a DESTRUCTIVE operation that cannot be undone!\n")
		fmt.Printf("Type 'yes' to confirm: ")

		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" {
			fmt.Printf("\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Println()
	}

	fmt.Println("Dropping tables...")
	for _, table := range existing {
		if _, err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		fmt.Printf("  ✓ Dropped %s\n", table)
	}

	fmt.Printf("\nSuccessfully dropped %d table(s)\n", len(existing))
	return nil
}
