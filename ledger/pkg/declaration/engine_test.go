package declaration_test

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	apitesting "github.com/givestake/ledger/api/testing"
	"github.com/givestake/ledger/ledger/pkg/asset"
	"github.com/givestake/ledger/ledger/pkg/challenge"
	"github.com/givestake/ledger/ledger/pkg/declaration"
	"github.com/givestake/ledger/ledger/pkg/participation"
	"github.com/givestake/ledger/ledger/pkg/types"
)

var (
	baseTime  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	authority = types.MustAddress("authority9")
	treasury  = types.MustAddress("treasury7")
	alice     = types.MustAddress("a2ice")
	bob       = types.MustAddress("bob")
	carol     = types.MustAddress("caro2")
)

type stack struct {
	pool    *pgxpool.Pool
	clock   *clockwork.FakeClock
	bank    *asset.Memory
	store   *challenge.Store
	manager *participation.Manager
	engine  *declaration.Engine
}

func newStack(t *testing.T) *stack {
	t.Helper()
	pool := apitesting.NewTestPool(t, testDB)
	clock := clockwork.NewFakeClockAt(baseTime)
	bank := asset.NewMemory(treasury)

	store, err := challenge.NewStore(challenge.StoreConfig{
		Logger: testLog,
		Pool:   pool,
		Clock:  clock,
	})
	require.NoError(t, err)

	manager, err := participation.NewManager(participation.ManagerConfig{
		Logger:   testLog,
		Pool:     pool,
		Clock:    clock,
		Asset:    bank,
		Treasury: treasury,
	})
	require.NoError(t, err)

	engine, err := declaration.NewEngine(declaration.EngineConfig{
		Logger:    testLog,
		Pool:      pool,
		Clock:     clock,
		Authority: authority,
	})
	require.NoError(t, err)

	return &stack{pool: pool, clock: clock, bank: bank, store: store, manager: manager, engine: engine}
}

// endedChallenge creates a challenge, joins the given stakes, and advances the
// clock past end time so declarations are open.
func (s *stack) endedChallenge(t *testing.T, stakes map[types.Address]int64) int64 {
	t.Helper()
	ctx := t.Context()

	id, err := s.store.Create(ctx, challenge.CreateParams{
		Recipient: types.MustAddress("recipient3"),
		StartTime: s.clock.Now().Add(time.Hour),
		EndTime:   s.clock.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)

	for addr, stake := range stakes {
		s.bank.Deposit(addr, stake)
		_, err := s.manager.Join(ctx, id, addr, stake, 0)
		require.NoError(t, err)
	}

	s.clock.Advance(2*time.Hour + time.Minute)
	return id
}

func TestLedger_Declaration_Declare(t *testing.T) {
	ctx := t.Context()

	t.Run("batch updates refunds and totals", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{
			alice: 100 * types.OneUnit,
			bob:   50 * types.OneUnit,
			carol: 25 * types.OneUnit,
		})

		err := s.engine.Declare(ctx, authority, id,
			[]types.Address{alice, bob, carol},
			[]int64{10000, 8000, 0},
		)
		require.NoError(t, err)

		// alice keeps 100, bob keeps 40 and donates 10, carol donates 25.
		pa, err := s.store.GetParticipant(ctx, id, alice)
		require.NoError(t, err)
		require.Equal(t, 100*types.OneUnit, pa.Amount)
		require.Equal(t, 10000, pa.RefundBps)
		require.True(t, pa.ResultDeclared)
		require.NotNil(t, pa.DeclaredAt)

		pb, err := s.store.GetParticipant(ctx, id, bob)
		require.NoError(t, err)
		require.Equal(t, 40*types.OneUnit, pb.Amount)

		pc, err := s.store.GetParticipant(ctx, id, carol)
		require.NoError(t, err)
		require.Zero(t, pc.Amount)

		ch, err := s.store.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 35*types.OneUnit, ch.TotalDonation)
		require.Equal(t, 150*types.OneUnit, ch.TotalWinnerInitialStake)
		require.Equal(t, 3, ch.DeclaredParticipants)
	})

	t.Run("declarations accumulate across batches", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{
			alice: 10 * types.OneUnit,
			bob:   10 * types.OneUnit,
		})

		require.NoError(t, s.engine.Declare(ctx, authority, id, []types.Address{alice}, []int64{5000}))
		require.NoError(t, s.engine.Declare(ctx, authority, id, []types.Address{bob}, []int64{0}))

		ch, err := s.store.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 15*types.OneUnit, ch.TotalDonation)
		require.Equal(t, 10*types.OneUnit, ch.TotalWinnerInitialStake)
		require.Equal(t, 2, ch.DeclaredParticipants)
	})

	t.Run("only the authority may declare", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{alice: 10 * types.OneUnit})

		err := s.engine.Declare(ctx, alice, id, []types.Address{alice}, []int64{10000})
		require.ErrorIs(t, err, types.ErrNotAuthorized)
	})

	t.Run("rejects mismatched array lengths", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{alice: 10 * types.OneUnit})

		err := s.engine.Declare(ctx, authority, id, []types.Address{alice}, []int64{10000, 0})
		require.ErrorIs(t, err, types.ErrArrayLengthMismatch)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{alice: 10 * types.OneUnit})

		require.NoError(t, s.engine.Declare(ctx, authority, id, nil, nil))
		ch, err := s.store.Get(ctx, id)
		require.NoError(t, err)
		require.Zero(t, ch.DeclaredParticipants)
	})

	t.Run("rejects before end time", func(t *testing.T) {
		s := newStack(t)
		id, err := s.store.Create(ctx, challenge.CreateParams{
			Recipient: types.MustAddress("recipient3"),
			StartTime: baseTime.Add(time.Hour),
			EndTime:   baseTime.Add(2 * time.Hour),
		})
		require.NoError(t, err)

		err = s.engine.Declare(ctx, authority, id, []types.Address{alice}, []int64{10000})
		require.ErrorIs(t, err, types.ErrChallengeNotEnded)
	})

	t.Run("rejects after the declaration window", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{alice: 10 * types.OneUnit})

		s.clock.Advance(declaration.DefaultWindow)
		err := s.engine.Declare(ctx, authority, id, []types.Address{alice}, []int64{10000})
		require.ErrorIs(t, err, types.ErrDeclarationWindowExpired)
	})

	t.Run("rejects out-of-range percentage", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{alice: 10 * types.OneUnit})

		err := s.engine.Declare(ctx, authority, id, []types.Address{alice}, []int64{10001})
		require.ErrorIs(t, err, types.ErrInvalidPercentage)
	})

	t.Run("rejects unknown participant", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{alice: 10 * types.OneUnit})

		err := s.engine.Declare(ctx, authority, id, []types.Address{bob}, []int64{10000})
		require.ErrorIs(t, err, types.ErrParticipantNotFound)
	})

	t.Run("rejects repeated declaration", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{alice: 10 * types.OneUnit})

		require.NoError(t, s.engine.Declare(ctx, authority, id, []types.Address{alice}, []int64{10000}))
		err := s.engine.Declare(ctx, authority, id, []types.Address{alice}, []int64{10000})
		require.ErrorIs(t, err, types.ErrAlreadyDeclared)
	})

	t.Run("one bad pair aborts the whole batch", func(t *testing.T) {
		s := newStack(t)
		id := s.endedChallenge(t, map[types.Address]int64{
			alice: 10 * types.OneUnit,
			bob:   10 * types.OneUnit,
		})

		err := s.engine.Declare(ctx, authority, id,
			[]types.Address{alice, bob},
			[]int64{10000, 10001},
		)
		require.ErrorIs(t, err, types.ErrInvalidPercentage)

		// The valid first pair must not have been applied.
		p, err := s.store.GetParticipant(ctx, id, alice)
		require.NoError(t, err)
		require.False(t, p.ResultDeclared)

		ch, err := s.store.Get(ctx, id)
		require.NoError(t, err)
		require.Zero(t, ch.DeclaredParticipants)
		require.Zero(t, ch.TotalDonation)
	})

	t.Run("rejects unknown challenge", func(t *testing.T) {
		s := newStack(t)
		err := s.engine.Declare(ctx, authority, 9_999_999, []types.Address{alice}, []int64{10000})
		require.ErrorIs(t, err, types.ErrChallengeNotFound)
	})
}
