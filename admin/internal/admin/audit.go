package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// auditRow is one challenge's stored aggregates next to the values recomputed
// from its participant rows.
type auditRow struct {
	ID                   int64
	ParticipantCount     int64
	ActualParticipants   int64
	DeclaredParticipants int64
	ActualDeclared       int64
	TotalDonation        int64
	ActualDonation       int64
	WinnerInitialStake   int64
	ActualWinnerStake    int64
	ResultsFinalized     bool
	FeePlusNet           int64
}

// Audit recomputes every challenge's aggregate counters from its participant
// rows and reports mismatches. A clean ledger prints nothing but the summary.
func Audit(log *slog.Logger, cfg PgMigrateConfig) error {
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

	rows, err := pool.Query(ctx, `
		SELECT
			c.id,
			c.participant_count,
			COUNT(p.id),
			c.declared_participants,
			COUNT(p.id) FILTER (WHERE p.result_declared),
			c.total_donation,
			COALESCE(SUM(p.initial_amount - (p.initial_amount * p.refund_bps / 10000))
				FILTER (WHERE p.result_declared AND NOT p.timeout_claimed), 0),
			c.total_winner_initial_stake,
			COALESCE(SUM(p.initial_amount)
				FILTER (WHERE p.result_declared AND NOT p.timeout_claimed
					AND p.initial_amount * p.refund_bps / 10000 > 0), 0),
			c.results_finalized,
			c.fee_amount + c.net_donation
		FROM challenges c
		LEFT JOIN participants p ON p.challenge_id = c.id
		GROUP BY c.id
		ORDER BY c.id
	`)
	if err != nil {
		return fmt.Errorf("failed to query challenges for audit: %w", err)
	}
	defer rows.Close()

	var audited, broken int
	for rows.Next() {
		var r auditRow
		err := rows.Scan(
			&r.ID,
			&r.ParticipantCount, &r.ActualParticipants,
			&r.DeclaredParticipants, &r.ActualDeclared,
			&r.TotalDonation, &r.ActualDonation,
			&r.WinnerInitialStake, &r.ActualWinnerStake,
			&r.ResultsFinalized, &r.FeePlusNet,
		)
		if err != nil {
			return fmt.Errorf("failed to scan audit row: %w", err)
		}
		audited++

		var problems []string
		if r.ParticipantCount != r.ActualParticipants {
			problems = append(problems, fmt.Sprintf("participant_count=%d, actual=%d", r.ParticipantCount, r.ActualParticipants))
		}
		if r.DeclaredParticipants != r.ActualDeclared {
			problems = append(problems, fmt.Sprintf("declared_participants=%d, actual=%d", r.DeclaredParticipants, r.ActualDeclared))
		}
		if r.TotalDonation != r.ActualDonation {
			problems = append(problems, fmt.Sprintf("total_donation=%d, recomputed=%d", r.TotalDonation, r.ActualDonation))
		}
		if r.WinnerInitialStake != r.ActualWinnerStake {
			problems = append(problems, fmt.Sprintf("total_winner_initial_stake=%d, recomputed=%d", r.WinnerInitialStake, r.ActualWinnerStake))
		}
		if r.ResultsFinalized && r.FeePlusNet != r.TotalDonation {
			problems = append(problems, fmt.Sprintf("fee_amount+net_donation=%d, total_donation=%d", r.FeePlusNet, r.TotalDonation))
		}

		if len(problems) > 0 {
			broken++
			fmt.Printf("challenge %d:\n", r.ID)
			for _, p := range problems {
				fmt.Printf("  ✗ %s\n", p)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate audit rows: %w", err)
	}

	fmt.Printf("\nAudited %d challenge(s), %d with mismatched aggregates\n", audited, broken)
	if broken > 0 {
		return fmt.Errorf("audit found %d broken challenge(s)", broken)
	}
	return nil
}
