// Package accountant tracks the platform fee pool and the reward-token
// backing pool. Settlement credits them; only the authority can withdraw the
// platform side. The backing pool is never withdrawable — it backs the
// circulating reward token supply.
package accountant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/givestake/ledger/ledger/pkg/asset"
	"github.com/givestake/ledger/ledger/pkg/event"
	"github.com/givestake/ledger/ledger/pkg/types"
)

// AccountantConfig configures the fee accountant.
type AccountantConfig struct {
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Asset     asset.Transferrer
	Authority types.Address
}

func (cfg *AccountantConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Asset == nil {
		return errors.New("asset transferrer is required")
	}
	if cfg.Authority.IsZero() {
		return errors.New("fee authority is required")
	}
	return nil
}

// Accountant exposes fee balances and withdrawal.
type Accountant struct {
	log *slog.Logger
	cfg AccountantConfig
}

func NewAccountant(cfg AccountantConfig) (*Accountant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Accountant{log: cfg.Logger, cfg: cfg}, nil
}

// Balances holds the two accumulator pools.
type Balances struct {
	CollectedFees int64 `json:"collected_fees"`
	BackingPool   int64 `json:"backing_pool"`
}

// Balances returns the current pool balances.
func (a *Accountant) Balances(ctx context.Context) (*Balances, error) {
	var b Balances
	err := a.cfg.Pool.QueryRow(ctx, `
		SELECT collected_fees, backing_pool FROM fee_account WHERE id = TRUE
	`).Scan(&b.CollectedFees, &b.BackingPool)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee account: %w", err)
	}
	return &b, nil
}

// WithdrawFees transfers the entire collected platform fee balance to the
// destination and resets it to zero, atomically. Authority only.
func (a *Accountant) WithdrawFees(ctx context.Context, caller, to types.Address) (int64, error) {
	if caller != a.cfg.Authority {
		return 0, types.ErrNotAuthorized
	}
	if to.IsZero() {
		return 0, types.ErrInvalidAddress
	}
	if _, err := types.ParseAddress(to.String()); err != nil {
		return 0, fmt.Errorf("%w: %s", types.ErrInvalidAddress, err)
	}

	tx, err := a.cfg.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var amount int64
	err = tx.QueryRow(ctx, `SELECT collected_fees FROM fee_account WHERE id = TRUE FOR UPDATE`).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("failed to lock fee account: %w", err)
	}
	if amount <= 0 {
		return 0, types.ErrNoFeesToWithdraw
	}

	_, err = tx.Exec(ctx, `UPDATE fee_account SET collected_fees = 0 WHERE id = TRUE`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset collected fees: %w", err)
	}

	if err := event.Insert(ctx, tx, 0, to, event.KindFeesWithdrawn, amount); err != nil {
		return 0, err
	}

	if err := a.cfg.Asset.Transfer(ctx, to, amount); err != nil {
		a.log.Warn("accountant: fee withdrawal transfer rejected", "to", to, "amount", amount, "error", err)
		return 0, fmt.Errorf("%w: %s", types.ErrTransferFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit fee withdrawal: %w", err)
	}

	a.log.Info("accountant: fees withdrawn", "to", to, "amount", amount)
	return amount, nil
}
