// Package settlement distributes a challenge's funds: the one-time aggregate
// donation payout, each participant's refund claim, and the timeout fallback
// that lets stakers recover funds when the declaration authority never acts.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/givestake/ledger/ledger/pkg/asset"
	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/event"
	"github.com/givestake/ledger/ledger/pkg/types"
)

const (
	// DefaultFeeBps is the platform fee taken from the aggregate donation.
	DefaultFeeBps = int64(1000)

	// DefaultRewardShareBps is the slice of the fee routed to the reward
	// token backing pool when a challenge has winners.
	DefaultRewardShareBps = int64(5000)

	// DefaultDeclarationTimeout is how long after end time participants must
	// wait before the unconditional full-refund fallback opens.
	DefaultDeclarationTimeout = 7 * 24 * time.Hour

	// DefaultFinalizeGracePeriod is how long finalize stays
	// authority-restricted after end time. Past it anyone may finalize, so an
	// unresponsive authority cannot freeze the recipient's funds forever.
	DefaultFinalizeGracePeriod = 14 * 24 * time.Hour
)

// EngineConfig configures the settlement engine.
type EngineConfig struct {
	Logger              *slog.Logger
	Pool                *pgxpool.Pool
	Clock               clockwork.Clock
	Asset               asset.Transferrer
	Token               asset.RewardToken // optional; nil disables reward minting
	Authority           types.Address
	FeeBps              int64
	RewardShareBps      int64
	DeclarationTimeout  time.Duration
	FinalizeGracePeriod time.Duration
}

func (cfg *EngineConfig) Validate() error {
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
		return errors.New("declaration authority is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FeeBps < 0 || cfg.FeeBps > types.MaxBps {
		return errors.New("fee bps out of range")
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = DefaultFeeBps
	}
	if cfg.RewardShareBps < 0 || cfg.RewardShareBps > types.MaxBps {
		return errors.New("reward share bps out of range")
	}
	if cfg.RewardShareBps == 0 {
		cfg.RewardShareBps = DefaultRewardShareBps
	}
	if cfg.DeclarationTimeout <= 0 {
		cfg.DeclarationTimeout = DefaultDeclarationTimeout
	}
	if cfg.FinalizeGracePeriod <= 0 {
		cfg.FinalizeGracePeriod = DefaultFinalizeGracePeriod
	}
	return nil
}

// Engine settles challenges and pays claims.
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

// FinalizeResult reports the aggregate split of a finalized challenge.
type FinalizeResult struct {
	TotalDonation int64
	Fee           int64
	PlatformFee   int64
	BackingShare  int64
	NetDonation   int64
	TokenPot      int64
}

// Finalize settles the aggregate donation exactly once. It requires the
// challenge to have ended with every participant declared. The caller must be
// the declaration authority until the grace period after end time elapses;
// after that anyone may finalize.
//
// The finalized flag is written before the recipient transfer, so a re-entrant
// or concurrent second call observes a finalized challenge and fails without
// moving funds.
func (e *Engine) Finalize(ctx context.Context, caller types.Address, challengeID int64) (*FinalizeResult, error) {
	tx, err := e.cfg.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ch, err := challenge.GetForUpdate(ctx, tx, challengeID)
	if err != nil {
		return nil, err
	}
	if ch.ResultsFinalized {
		return nil, types.ErrAlreadyFinalized
	}
	now := e.cfg.Clock.Now()
	if now.Before(ch.EndTime) {
		return nil, types.ErrChallengeNotEnded
	}
	if caller != e.cfg.Authority && !now.After(ch.EndTime.Add(e.cfg.FinalizeGracePeriod)) {
		return nil, types.ErrNotAuthorized
	}
	if ch.DeclaredParticipants != ch.ParticipantCount {
		return nil, types.ErrNotAllDeclared
	}

	result := &FinalizeResult{TotalDonation: ch.TotalDonation}
	if ch.TotalDonation > 0 {
		result.Fee = types.BpsOf(ch.TotalDonation, e.cfg.FeeBps)
		if e.cfg.Token != nil && ch.TotalWinnerInitialStake > 0 {
			result.BackingShare = types.BpsOf(result.Fee, e.cfg.RewardShareBps)
		}
		// With no winners there is nobody to back rewards for; the whole fee
		// goes to the platform.
		result.PlatformFee = result.Fee - result.BackingShare
		result.NetDonation = ch.TotalDonation - result.Fee
		// The pot is backed 1:1 by the backing-pool share, keeping the
		// token's redemption rate stable across settlements.
		result.TokenPot = result.BackingShare
	}

	_, err = tx.Exec(ctx, `
		UPDATE challenges
		SET results_finalized = TRUE, finalized_at = NOW(),
		    fee_amount = $1, net_donation = $2, token_pot = $3
		WHERE id = $4
	`, result.Fee, result.NetDonation, result.TokenPot, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark challenge finalized: %w", err)
	}

	if result.Fee > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE fee_account
			SET collected_fees = collected_fees + $1, backing_pool = backing_pool + $2
			WHERE id = TRUE
		`, result.PlatformFee, result.BackingShare)
		if err != nil {
			return nil, fmt.Errorf("failed to accumulate fees: %w", err)
		}
	}

	if err := event.Insert(ctx, tx, challengeID, ch.Recipient, event.KindChallengeFinalized, result.NetDonation); err != nil {
		return nil, err
	}

	if result.NetDonation > 0 {
		if err := e.cfg.Asset.Transfer(ctx, ch.Recipient, result.NetDonation); err != nil {
			e.log.Warn("settlement/engine: donation transfer rejected",
				"challenge_id", challengeID, "recipient", ch.Recipient, "amount", result.NetDonation, "error", err)
			return nil, fmt.Errorf("%w: %s", types.ErrTransferFailed, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit finalize: %w", err)
	}

	e.log.Info("settlement/engine: challenge finalized",
		"challenge_id", challengeID,
		"total_donation", result.TotalDonation,
		"fee", result.Fee,
		"backing_share", result.BackingShare,
		"net_donation", result.NetDonation,
	)
	return result, nil
}

// ClaimResult reports what a claim paid out.
type ClaimResult struct {
	Refund int64
	Reward int64 // reward tokens minted, when the challenge carries a pot
}

// ClaimRefund pays a participant's declared refund exactly once. The
// challenge must be finalized first; the declared refund amount is fixed at
// declaration time, so waiting for finalize costs the participant nothing and
// keeps reward minting against a settled token pot.
//
// The claimable balance is zeroed before the transfer. A second claim finds a
// zero balance and fails without moving funds.
func (e *Engine) ClaimRefund(ctx context.Context, caller types.Address, challengeID int64) (*ClaimResult, error) {
	tx, err := e.cfg.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ch, err := challenge.GetForUpdate(ctx, tx, challengeID)
	if err != nil {
		return nil, err
	}
	if !ch.ResultsFinalized {
		return nil, types.ErrChallengeNotFinalized
	}

	p, err := challenge.GetParticipantForUpdate(ctx, tx, challengeID, caller)
	if err != nil {
		return nil, err
	}
	if !p.ResultDeclared {
		return nil, types.ErrResultsNotDeclared
	}
	if p.TimeoutClaimed || p.Amount <= 0 {
		return nil, types.ErrAlreadyClaimed
	}

	result := &ClaimResult{Refund: p.Amount}
	if ch.TokenPot > 0 && p.RefundBps > 0 && ch.TotalWinnerInitialStake > 0 {
		result.Reward = types.MulDiv(p.InitialAmount, ch.TokenPot, ch.TotalWinnerInitialStake)
	}

	_, err = tx.Exec(ctx, `
		UPDATE participants
		SET amount = 0, claimed_at = NOW()
		WHERE challenge_id = $1 AND address = $2
	`, challengeID, caller.String())
	if err != nil {
		return nil, fmt.Errorf("failed to zero claimable balance: %w", err)
	}

	if err := event.Insert(ctx, tx, challengeID, caller, event.KindRefundClaimed, result.Refund); err != nil {
		return nil, err
	}
	if result.Reward > 0 {
		if err := event.Insert(ctx, tx, challengeID, caller, event.KindRewardMinted, result.Reward); err != nil {
			return nil, err
		}
	}

	if err := e.cfg.Asset.Transfer(ctx, caller, result.Refund); err != nil {
		e.log.Warn("settlement/engine: refund transfer rejected",
			"challenge_id", challengeID, "claimer", caller, "amount", result.Refund, "error", err)
		return nil, fmt.Errorf("%w: %s", types.ErrTransferFailed, err)
	}
	if result.Reward > 0 {
		if err := e.cfg.Token.Mint(ctx, caller, result.Reward); err != nil {
			e.log.Error("settlement/engine: reward mint rejected after refund transfer",
				"challenge_id", challengeID, "claimer", caller, "reward", result.Reward, "error", err)
			return nil, fmt.Errorf("%w: %s", types.ErrTokenOpFailed, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	e.log.Info("settlement/engine: refund claimed",
		"challenge_id", challengeID,
		"claimer", caller,
		"refund", result.Refund,
		"reward", result.Reward,
	)
	return result, nil
}

// ClaimTimeoutRefund is the safety valve: once the declaration timeout after
// end time has passed with no declared result, the participant unilaterally
// recovers the full initial stake, bypassing fees and donations entirely. The
// participant is marked resolved so a later declaration cannot touch the same
// funds.
func (e *Engine) ClaimTimeoutRefund(ctx context.Context, caller types.Address, challengeID int64) (*ClaimResult, error) {
	tx, err := e.cfg.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ch, err := challenge.GetForUpdate(ctx, tx, challengeID)
	if err != nil {
		return nil, err
	}

	p, err := challenge.GetParticipantForUpdate(ctx, tx, challengeID, caller)
	if err != nil {
		return nil, err
	}
	if p.ResultDeclared {
		if p.TimeoutClaimed {
			return nil, types.ErrAlreadyClaimed
		}
		return nil, types.ErrAlreadyDeclared
	}
	if !e.cfg.Clock.Now().After(ch.EndTime.Add(e.cfg.DeclarationTimeout)) {
		return nil, types.ErrDeclarationWindowNotExpired
	}

	result := &ClaimResult{Refund: p.InitialAmount}

	// Resolve the participant as a 100% refund so declaration and finalize
	// account for them, but contribute nothing to the donation pool.
	_, err = tx.Exec(ctx, `
		UPDATE participants
		SET amount = 0, refund_bps = $1, result_declared = TRUE,
		    timeout_claimed = TRUE, declared_at = NOW(), claimed_at = NOW()
		WHERE challenge_id = $2 AND address = $3
	`, types.MaxBps, challengeID, caller.String())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve timeout claim: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE challenges SET declared_participants = declared_participants + 1 WHERE id = $1
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to update declared count: %w", err)
	}

	if err := event.Insert(ctx, tx, challengeID, caller, event.KindTimeoutRefund, result.Refund); err != nil {
		return nil, err
	}

	if err := e.cfg.Asset.Transfer(ctx, caller, result.Refund); err != nil {
		e.log.Warn("settlement/engine: timeout refund transfer rejected",
			"challenge_id", challengeID, "claimer", caller, "amount", result.Refund, "error", err)
		return nil, fmt.Errorf("%w: %s", types.ErrTransferFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit timeout claim: %w", err)
	}

	e.log.Info("settlement/engine: timeout refund claimed",
		"challenge_id", challengeID,
		"claimer", caller,
		"refund", result.Refund,
	)
	return result, nil
}
