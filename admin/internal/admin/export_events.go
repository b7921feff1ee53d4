package admin

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ExportEventsConfig controls which events get exported.
type ExportEventsConfig struct {
	ChallengeID int64 // 0 exports all challenges
	Since       time.Time
	Until       time.Time
}

// ExportEvents writes the ledger event log as CSV. Events are append-only, so
// repeated exports with the same bounds are stable.
func ExportEvents(log *slog.Logger, cfg PgMigrateConfig, out io.Writer, opts ExportEventsConfig) error {
	ctx := context.Background()

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslMode,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	return exportEvents(ctx, log, pool, out, opts)
}

func exportEvents(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, out io.Writer, opts ExportEventsConfig) error {
	query := `
		SELECT id, challenge_id, address, kind, amount, created_at
		FROM ledger_events
		WHERE ($1 = 0 OR challenge_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at, id
	`
	var since, until any
	if !opts.Since.IsZero() {
		since = opts.Since.UTC()
	}
	if !opts.Until.IsZero() {
		until = opts.Until.UTC()
	}

	rows, err := pool.Query(ctx, query, opts.ChallengeID, since, until)
	if err != nil {
		return fmt.Errorf("failed to query ledger events: %w", err)
	}
	defer rows.Close()

	w := csv.NewWriter(out)
	if err := w.Write([]string{"id", "challenge_id", "address", "kind", "amount", "created_at"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	var exported int
	for rows.Next() {
		var (
			id          string
			challengeID int64
			address     *string // NULL for challenge-level events
			kind        string
			amount      int64
			createdAt   time.Time
		)
		if err := rows.Scan(&id, &challengeID, &address, &kind, &amount, &createdAt); err != nil {
			return fmt.Errorf("failed to scan ledger event: %w", err)
		}
		var addr string
		if address != nil {
			addr = *address
		}
		record := []string{
			id,
			strconv.FormatInt(challengeID, 10),
			addr,
			kind,
			strconv.FormatInt(amount, 10),
			createdAt.UTC().Format(time.RFC3339Nano),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
		exported++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate ledger events: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV output: %w", err)
	}

	log.Info("exported ledger events", "count", exported)
	return nil
}
