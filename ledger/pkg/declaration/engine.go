// Package declaration converts raw stakes into refund and donation amounts.
// Results arrive in batches so a single call scales with the batch, not with
// the whole participant set; the engine can be invoked repeatedly until every
// participant is declared.
package declaration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/event"
	"github.com/givestake/ledger/ledger/pkg/types"
)

// DefaultWindow is how long after a challenge ends the authority may declare
// results. Past it the timeout-refund fallback takes over.
const DefaultWindow = 7 * 24 * time.Hour

// EngineConfig configures the declaration engine.
type EngineConfig struct {
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Clock     clockwork.Clock
	Authority types.Address
	Window    time.Duration // defaults to DefaultWindow
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Authority.IsZero() {
		return errors.New("declaration authority is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return nil
}

// Engine applies batched result declarations.
type Engine struct {
	log *slog.Logger
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{log: cfg.Logger, cfg: cfg}, nil
}

// Declare assigns refund percentages (basis points) to a batch of
// participants. Only the declaration authority may call it, only between the
// challenge's end time and the end of the declaration window, and only before
// finalize. The batch is atomic: one bad pair aborts the whole call with no
// participant declared.
func (e *Engine) Declare(ctx context.Context, caller types.Address, challengeID int64, addrs []types.Address, refundBps []int64) error {
	if caller != e.cfg.Authority {
		return types.ErrNotAuthorized
	}
	if len(addrs) != len(refundBps) {
		return types.ErrArrayLengthMismatch
	}
	if len(addrs) == 0 {
		return nil
	}

	tx, err := e.cfg.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ch, err := challenge.GetForUpdate(ctx, tx, challengeID)
	if err != nil {
		return err
	}
	if ch.ResultsFinalized {
		return types.ErrAlreadyFinalized
	}
	now := e.cfg.Clock.Now()
	if now.Before(ch.EndTime) {
		return types.ErrChallengeNotEnded
	}
	if now.After(ch.EndTime.Add(e.cfg.Window)) {
		return types.ErrDeclarationWindowExpired
	}

	var donationDelta, winnerStakeDelta int64
	declared := 0
	for i, addr := range addrs {
		bps := refundBps[i]
		if bps < 0 || bps > types.MaxBps {
			return fmt.Errorf("%w: %d bps for %s", types.ErrInvalidPercentage, bps, addr)
		}

		p, err := challenge.GetParticipantForUpdate(ctx, tx, challengeID, addr)
		if err != nil {
			return err
		}
		if p.ResultDeclared {
			return fmt.Errorf("%w: %s", types.ErrAlreadyDeclared, addr)
		}

		refund := types.BpsOf(p.InitialAmount, bps)
		donation := p.InitialAmount - refund
		donationDelta += donation
		if refund > 0 {
			winnerStakeDelta += p.InitialAmount
		}

		// Amount changes meaning here: from "stake held" to "refund claimable".
		_, err = tx.Exec(ctx, `
			UPDATE participants
			SET amount = $1, refund_bps = $2, result_declared = TRUE, declared_at = NOW()
			WHERE challenge_id = $3 AND address = $4
		`, refund, bps, challengeID, addr.String())
		if err != nil {
			return fmt.Errorf("failed to declare participant %s: %w", addr, err)
		}

		if err := event.Insert(ctx, tx, challengeID, addr, event.KindResultDeclared, refund); err != nil {
			return err
		}
		declared++
	}

	_, err = tx.Exec(ctx, `
		UPDATE challenges
		SET total_donation = total_donation + $1,
		    total_winner_initial_stake = total_winner_initial_stake + $2,
		    declared_participants = declared_participants + $3
		WHERE id = $4
	`, donationDelta, winnerStakeDelta, declared, challengeID)
	if err != nil {
		return fmt.Errorf("failed to accumulate declaration totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit declaration: %w", err)
	}

	e.log.Info("declaration/engine: batch declared",
		"challenge_id", challengeID,
		"batch_size", declared,
		"donation_delta", donationDelta,
	)
	return nil
}
