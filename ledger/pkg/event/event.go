// Package event records the ledger's audit trail. Every mutating operation
// writes one or more events inside its own transaction, so the trail commits
// or rolls back together with the state change it describes.
package event

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/givestake/ledger/ledger/pkg/types"
)

const (
	KindChallengeCreated   = "challenge_created"
	KindParticipantJoined  = "participant_joined"
	KindResultDeclared     = "result_declared"
	KindChallengeFinalized = "challenge_finalized"
	KindRefundClaimed      = "refund_claimed"
	KindTimeoutRefund      = "timeout_refund"
	KindRewardMinted       = "reward_minted"
	KindFeesWithdrawn      = "fees_withdrawn"
)

// Insert writes an audit event within the caller's transaction. Address may
// be zero for challenge-level events.
func Insert(ctx context.Context, tx pgx.Tx, challengeID int64, addr types.Address, kind string, amount int64) error {
	var address *string
	if !addr.IsZero() {
		s := addr.String()
		address = &s
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_events (id, challenge_id, address, kind, amount)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), challengeID, address, kind, amount)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", kind, err)
	}
	return nil
}
