package accountant_test

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	apitesting "github.com/givestake/ledger/api/testing"
	"github.com/givestake/ledger/ledger/pkg/accountant"
	"github.com/givestake/ledger/ledger/pkg/asset"
	"github.com/givestake/ledger/ledger/pkg/types"
)

var (
	authority = types.MustAddress("authority9")
	treasury  = types.MustAddress("treasury7")
	alice     = types.MustAddress("a2ice")
)

func newAccountant(t *testing.T) (*accountant.Accountant, *pgxpool.Pool, *asset.Memory) {
	t.Helper()
	pool := apitesting.NewTestPool(t, testDB)
	apitesting.ResetLedger(t, pool)
	bank := asset.NewMemory(treasury)

	acct, err := accountant.NewAccountant(accountant.AccountantConfig{
		Logger:    testLog,
		Pool:      pool,
		Asset:     bank,
		Authority: authority,
	})
	require.NoError(t, err)
	return acct, pool, bank
}

func setFees(t *testing.T, pool *pgxpool.Pool, collected, backing int64) {
	t.Helper()
	_, err := pool.Exec(t.Context(), `
		UPDATE fee_account SET collected_fees = $1, backing_pool = $2 WHERE id = TRUE
	`, collected, backing)
	require.NoError(t, err)
}

func TestLedger_Accountant_Balances(t *testing.T) {
	acct, pool, _ := newAccountant(t)
	ctx := t.Context()

	b, err := acct.Balances(ctx)
	require.NoError(t, err)
	require.Zero(t, b.CollectedFees)
	require.Zero(t, b.BackingPool)

	setFees(t, pool, 1_750_000, 2_250_000)

	b, err = acct.Balances(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1_750_000), b.CollectedFees)
	require.Equal(t, int64(2_250_000), b.BackingPool)
}

func TestLedger_Accountant_WithdrawFees(t *testing.T) {
	ctx := t.Context()

	t.Run("pays out and zeroes the platform pool", func(t *testing.T) {
		acct, pool, bank := newAccountant(t)
		setFees(t, pool, 3_000_000, 1_000_000)
		bank.Deposit(treasury, 3_000_000)

		amount, err := acct.WithdrawFees(ctx, authority, alice)
		require.NoError(t, err)
		require.Equal(t, int64(3_000_000), amount)
		require.Equal(t, int64(3_000_000), bank.Balance(alice))

		b, err := acct.Balances(ctx)
		require.NoError(t, err)
		require.Zero(t, b.CollectedFees)
		// The backing pool is untouchable.
		require.Equal(t, int64(1_000_000), b.BackingPool)

		var events int
		err = pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM ledger_events WHERE kind = 'fees_withdrawn' AND address = $1 AND amount = $2
		`, alice.String(), int64(3_000_000)).Scan(&events)
		require.NoError(t, err)
		require.Equal(t, 1, events)
	})

	t.Run("exactly once", func(t *testing.T) {
		acct, pool, bank := newAccountant(t)
		setFees(t, pool, 2_000_000, 0)
		bank.Deposit(treasury, 2_000_000)

		_, err := acct.WithdrawFees(ctx, authority, alice)
		require.NoError(t, err)

		_, err = acct.WithdrawFees(ctx, authority, alice)
		require.ErrorIs(t, err, types.ErrNoFeesToWithdraw)
		require.Equal(t, int64(2_000_000), bank.Balance(alice))
	})

	t.Run("authority only", func(t *testing.T) {
		acct, pool, _ := newAccountant(t)
		setFees(t, pool, 2_000_000, 0)

		_, err := acct.WithdrawFees(ctx, alice, alice)
		require.ErrorIs(t, err, types.ErrNotAuthorized)
	})

	t.Run("rejects malformed destination", func(t *testing.T) {
		acct, pool, _ := newAccountant(t)
		setFees(t, pool, 2_000_000, 0)

		_, err := acct.WithdrawFees(ctx, authority, "")
		require.ErrorIs(t, err, types.ErrInvalidAddress)

		_, err = acct.WithdrawFees(ctx, authority, types.Address("0OIl"))
		require.ErrorIs(t, err, types.ErrInvalidAddress)
	})

	t.Run("nothing to withdraw", func(t *testing.T) {
		acct, _, _ := newAccountant(t)
		_, err := acct.WithdrawFees(ctx, authority, alice)
		require.ErrorIs(t, err, types.ErrNoFeesToWithdraw)
	})

	t.Run("rejected transfer keeps the balance", func(t *testing.T) {
		acct, pool, bank := newAccountant(t)
		setFees(t, pool, 2_000_000, 0)
		bank.Deposit(treasury, 2_000_000)
		bank.FailNext = true

		_, err := acct.WithdrawFees(ctx, authority, alice)
		require.ErrorIs(t, err, types.ErrTransferFailed)

		b, err := acct.Balances(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(2_000_000), b.CollectedFees)

		amount, err := acct.WithdrawFees(ctx, authority, alice)
		require.NoError(t, err)
		require.Equal(t, int64(2_000_000), amount)
	})
}
