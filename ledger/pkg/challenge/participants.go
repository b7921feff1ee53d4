package challenge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/givestake/ledger/ledger/pkg/types"
)

const participantColumns = `
	id, challenge_id, address, initial_amount, amount, refund_bps,
	result_declared, timeout_claimed, joined_at, declared_at, claimed_at`

func scanParticipant(row pgx.Row) (*Participant, error) {
	var p Participant
	var address string
	err := row.Scan(
		&p.ID, &p.ChallengeID, &address, &p.InitialAmount, &p.Amount, &p.RefundBps,
		&p.ResultDeclared, &p.TimeoutClaimed, &p.JoinedAt, &p.DeclaredAt, &p.ClaimedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to scan participant: %w", err)
	}
	p.Address = types.Address(address)
	return &p, nil
}

// GetParticipantForUpdate loads and locks one participant row. The caller
// must already hold the challenge row lock; locking in that order everywhere
// keeps the two-row lock acquisition deadlock-free.
func GetParticipantForUpdate(ctx context.Context, tx pgx.Tx, challengeID int64, addr types.Address) (*Participant, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE challenge_id = $1 AND address = $2
		FOR UPDATE
	`, challengeID, addr.String())
	return scanParticipant(row)
}

// IsWhitelisted reports whether the address was whitelisted at creation.
func IsWhitelisted(ctx context.Context, tx pgx.Tx, challengeID int64, addr types.Address) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM challenge_whitelist WHERE challenge_id = $1 AND address = $2
		)
	`, challengeID, addr.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check whitelist: %w", err)
	}
	return exists, nil
}

// GetParticipant returns one participant without locking.
func (s *Store) GetParticipant(ctx context.Context, challengeID int64, addr types.Address) (*Participant, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE challenge_id = $1 AND address = $2
	`, challengeID, addr.String())
	return scanParticipant(row)
}

// ListParticipants returns a challenge's participants in join order.
func (s *Store) ListParticipants(ctx context.Context, challengeID int64, limit, offset int) ([]*Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE challenge_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3
	`, challengeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var out []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Whitelist returns the challenge's whitelist entries, if any.
func (s *Store) Whitelist(ctx context.Context, challengeID int64) ([]types.Address, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address FROM challenge_whitelist WHERE challenge_id = $1 ORDER BY address
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query whitelist: %w", err)
	}
	defer rows.Close()

	var out []types.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist entry: %w", err)
		}
		out = append(out, types.Address(addr))
	}
	return out, rows.Err()
}
