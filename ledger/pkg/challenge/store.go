package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/givestake/ledger/ledger/pkg/event"
	"github.com/givestake/ledger/ledger/pkg/types"
)

// StoreConfig configures the challenge registry store.
type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Clock  clockwork.Clock
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Store owns the challenge table: it allocates identifiers, creates
// challenges, and serves read projections. Participation, declaration and
// settlement mutate challenges through the ForUpdate accessors below, always
// inside their own transactions.
type Store struct {
	log   *slog.Logger
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:   cfg.Logger,
		pool:  cfg.Pool,
		clock: cfg.Clock,
	}, nil
}

// CreateParams are the caller-supplied fields of a new challenge.
type CreateParams struct {
	Recipient types.Address
	StartTime time.Time
	EndTime   time.Time
	IsPrivate bool
	Whitelist []types.Address
	Metadata  string
}

// Create validates and stores a new challenge, returning its identifier.
// Identifiers are monotonic and never reused.
func (s *Store) Create(ctx context.Context, params CreateParams) (int64, error) {
	if params.Recipient.IsZero() {
		return 0, types.ErrInvalidRecipient
	}
	if _, err := types.ParseAddress(params.Recipient.String()); err != nil {
		return 0, fmt.Errorf("%w: %s", types.ErrInvalidRecipient, err)
	}
	now := s.clock.Now()
	if !params.StartTime.After(now) || !params.EndTime.After(params.StartTime) {
		return 0, types.ErrInvalidSchedule
	}
	if params.IsPrivate && len(params.Whitelist) == 0 {
		return 0, types.ErrEmptyWhitelist
	}
	for _, addr := range params.Whitelist {
		if _, err := types.ParseAddress(addr.String()); err != nil {
			return 0, fmt.Errorf("%w: whitelist entry: %s", types.ErrInvalidAddress, err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO challenges (recipient, start_time, end_time, is_private, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, params.Recipient.String(), params.StartTime.UTC(), params.EndTime.UTC(), params.IsPrivate, params.Metadata).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert challenge: %w", err)
	}

	if params.IsPrivate {
		for _, addr := range params.Whitelist {
			// ON CONFLICT tolerates duplicate entries in the caller's list.
			_, err = tx.Exec(ctx, `
				INSERT INTO challenge_whitelist (challenge_id, address)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, id, addr.String())
			if err != nil {
				return 0, fmt.Errorf("failed to insert whitelist entry: %w", err)
			}
		}
	}

	if err := event.Insert(ctx, tx, id, "", event.KindChallengeCreated, 0); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit challenge creation: %w", err)
	}

	s.log.Info("challenge/store: challenge created",
		"id", id,
		"recipient", params.Recipient,
		"start_time", params.StartTime.UTC(),
		"end_time", params.EndTime.UTC(),
		"private", params.IsPrivate,
	)
	return id, nil
}

const challengeColumns = `
	id, recipient, start_time, end_time, is_private, metadata,
	total_donation, total_winner_initial_stake, declared_participants,
	participant_count, results_finalized, finalized_at, net_donation,
	fee_amount, token_pot, created_at`

func scanChallenge(row pgx.Row) (*Challenge, error) {
	var ch Challenge
	var recipient string
	err := row.Scan(
		&ch.ID, &recipient, &ch.StartTime, &ch.EndTime, &ch.IsPrivate, &ch.Metadata,
		&ch.TotalDonation, &ch.TotalWinnerInitialStake, &ch.DeclaredParticipants,
		&ch.ParticipantCount, &ch.ResultsFinalized, &ch.FinalizedAt, &ch.NetDonation,
		&ch.FeeAmount, &ch.TokenPot, &ch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to scan challenge: %w", err)
	}
	ch.Recipient = types.Address(recipient)
	return &ch, nil
}

// GetForUpdate loads a challenge row and locks it for the duration of the
// caller's transaction. Every state-changing engine goes through this lock,
// which serializes all mutations of a single challenge.
func GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*Challenge, error) {
	row := tx.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1 FOR UPDATE`, id)
	return scanChallenge(row)
}

// Get returns a single challenge without locking.
func (s *Store) Get(ctx context.Context, id int64) (*Challenge, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)
	return scanChallenge(row)
}

// List returns recent challenges, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Challenge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+challengeColumns+`
		FROM challenges
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query challenges: %w", err)
	}
	defer rows.Close()

	var out []*Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ListByAddress returns the challenges a given address has participated in,
// most recent membership first.
func (s *Store) ListByAddress(ctx context.Context, addr types.Address, limit, offset int) ([]*Challenge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+qualifyColumns("c")+`
		FROM challenges c
		JOIN participants p ON p.challenge_id = c.id
		WHERE p.address = $1
		ORDER BY p.id DESC
		LIMIT $2 OFFSET $3
	`, addr.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query challenges by address: %w", err)
	}
	defer rows.Close()

	var out []*Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func qualifyColumns(alias string) string {
	return alias + `.id, ` + alias + `.recipient, ` + alias + `.start_time, ` + alias + `.end_time, ` +
		alias + `.is_private, ` + alias + `.metadata, ` + alias + `.total_donation, ` +
		alias + `.total_winner_initial_stake, ` + alias + `.declared_participants, ` +
		alias + `.participant_count, ` + alias + `.results_finalized, ` + alias + `.finalized_at, ` +
		alias + `.net_donation, ` + alias + `.fee_amount, ` + alias + `.token_pot, ` + alias + `.created_at`
}
