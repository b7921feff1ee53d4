// Package participation admits stakers into challenges: it validates
// membership rules, records the stake, and moves the funds into the treasury.
package participation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/givestake/ledger/ledger/pkg/asset"
	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/event"
	"github.com/givestake/ledger/ledger/pkg/types"
)

// ManagerConfig configures the participation manager.
type ManagerConfig struct {
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Clock    clockwork.Clock
	Asset    asset.Transferrer
	Token    asset.RewardToken // optional; nil disables stake discounts
	Treasury types.Address
	MinStake int64 // defaults to 1.0 asset unit
}

func (cfg *ManagerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Asset == nil {
		return errors.New("asset transferrer is required")
	}
	if cfg.Treasury.IsZero() {
		return errors.New("treasury address is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MinStake <= 0 {
		cfg.MinStake = types.OneUnit
	}
	return nil
}

// Manager records participant stakes.
type Manager struct {
	log *slog.Logger
	cfg ManagerConfig
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{log: cfg.Logger, cfg: cfg}, nil
}

// JoinResult reports what a successful join actually moved.
type JoinResult struct {
	Stake        int64 // recorded stake (initial_amount)
	Discount     int64 // asset amount covered by burned reward tokens
	Transferred  int64 // asset amount drawn from the staker (Stake - Discount)
	BurnedTokens int64 // reward tokens burned for the discount
}

// Join records a stake for the given challenge. Joining closes when the
// challenge starts: a participant must be in before start_time. One join per
// address per challenge, permanently; a fully claimed participant cannot
// rejoin.
//
// maxDiscountTokens caps how many reward tokens the staker authorizes the
// ledger to burn against the stake. The applied discount is
// min(stake, tokens * backingPool / totalSupply) with both the discount and
// the burn truncated downward, so rounding always favors the backing pool.
func (m *Manager) Join(ctx context.Context, challengeID int64, staker types.Address, stake, maxDiscountTokens int64) (*JoinResult, error) {
	if _, err := types.ParseAddress(staker.String()); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidAddress, err)
	}

	tx, err := m.cfg.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ch, err := challenge.GetForUpdate(ctx, tx, challengeID)
	if err != nil {
		return nil, err
	}

	if !m.cfg.Clock.Now().Before(ch.StartTime) {
		return nil, types.ErrChallengeEnded
	}
	if stake < m.cfg.MinStake {
		return nil, types.ErrBelowMinimum
	}
	if ch.IsPrivate {
		ok, err := challenge.IsWhitelisted(ctx, tx, challengeID, staker)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, types.ErrNotWhitelisted
		}
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM participants WHERE challenge_id = $1 AND address = $2)
	`, challengeID, staker.String()).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if exists {
		return nil, types.ErrAlreadyJoined
	}

	result := &JoinResult{Stake: stake}
	if m.cfg.Token != nil && maxDiscountTokens > 0 {
		if err := m.applyDiscount(ctx, tx, staker, stake, maxDiscountTokens, result); err != nil {
			return nil, err
		}
	}
	result.Transferred = stake - result.Discount

	// Effects before interactions: all rows are written before the custody
	// calls, so a rejected transfer rolls everything back.
	_, err = tx.Exec(ctx, `
		INSERT INTO participants (challenge_id, address, initial_amount, amount)
		VALUES ($1, $2, $3, $3)
	`, challengeID, staker.String(), stake)
	if err != nil {
		return nil, fmt.Errorf("failed to insert participant: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE challenges SET participant_count = participant_count + 1 WHERE id = $1
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to update participant count: %w", err)
	}

	if err := event.Insert(ctx, tx, challengeID, staker, event.KindParticipantJoined, stake); err != nil {
		return nil, err
	}

	if err := m.cfg.Asset.TransferFrom(ctx, staker, m.cfg.Treasury, result.Transferred); err != nil {
		m.log.Warn("participation/manager: stake transfer rejected",
			"challenge_id", challengeID, "staker", staker, "amount", result.Transferred, "error", err)
		return nil, fmt.Errorf("%w: %s", types.ErrTransferFailed, err)
	}
	if result.BurnedTokens > 0 {
		if err := m.cfg.Token.Burn(ctx, staker, result.BurnedTokens); err != nil {
			m.log.Error("participation/manager: token burn rejected after stake transfer",
				"challenge_id", challengeID, "staker", staker, "tokens", result.BurnedTokens, "error", err)
			return nil, fmt.Errorf("%w: %s", types.ErrTokenOpFailed, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}

	m.log.Info("participation/manager: participant joined",
		"challenge_id", challengeID,
		"staker", staker,
		"stake", stake,
		"discount", result.Discount,
		"burned_tokens", result.BurnedTokens,
	)
	return result, nil
}

// applyDiscount computes the token-backed stake discount and debits the
// backing pool. Both truncations round down, so the pool never pays out more
// than the burned tokens are backed by.
func (m *Manager) applyDiscount(ctx context.Context, tx pgx.Tx, staker types.Address, stake, maxTokens int64, result *JoinResult) error {
	var pool int64
	err := tx.QueryRow(ctx, `SELECT backing_pool FROM fee_account WHERE id = TRUE FOR UPDATE`).Scan(&pool)
	if err != nil {
		return fmt.Errorf("failed to lock fee account: %w", err)
	}
	if pool <= 0 {
		return nil
	}

	supply, err := m.cfg.Token.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("%w: total supply: %s", types.ErrTokenOpFailed, err)
	}
	if supply <= 0 {
		return nil
	}
	balance, err := m.cfg.Token.BalanceOf(ctx, staker)
	if err != nil {
		return fmt.Errorf("%w: balance: %s", types.ErrTokenOpFailed, err)
	}

	tokens := min(maxTokens, balance)
	if tokens <= 0 {
		return nil
	}

	discount := types.MulDiv(tokens, pool, supply)
	if discount > stake {
		// Burn only as many tokens as the stake can absorb, then recompute
		// the discount from that smaller burn so both legs stay truncated in
		// the pool's favor.
		tokens = types.MulDiv(stake, supply, pool)
		discount = types.MulDiv(tokens, pool, supply)
	}
	if discount <= 0 || tokens <= 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `UPDATE fee_account SET backing_pool = backing_pool - $1 WHERE id = TRUE`, discount)
	if err != nil {
		return fmt.Errorf("failed to debit backing pool: %w", err)
	}

	result.Discount = discount
	result.BurnedTokens = tokens
	return nil
}
