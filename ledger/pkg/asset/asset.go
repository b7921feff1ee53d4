// Package asset defines the external collaborator contracts the ledger calls
// out to: the stable-asset custody service holding staked funds, and the
// reward token the ledger mints and burns. Both must fail loudly; a returned
// error aborts the calling ledger operation entirely.
package asset

import (
	"context"

	"github.com/givestake/ledger/ledger/pkg/types"
)

// Transferrer moves stable-asset balances between accounts. Transfers are
// atomic: on insufficient balance or allowance the call fails and no funds
// move.
type Transferrer interface {
	// Transfer moves amount from the ledger's treasury to the given account.
	Transfer(ctx context.Context, to types.Address, amount int64) error

	// TransferFrom moves amount between two accounts using the ledger's
	// pre-authorized allowance on the source account.
	TransferFrom(ctx context.Context, from, to types.Address, amount int64) error
}

// RewardToken is the fungible reward token. Mint and burn authority is
// restricted to the ledger's credentials on the custody side.
type RewardToken interface {
	Mint(ctx context.Context, to types.Address, amount int64) error
	Burn(ctx context.Context, from types.Address, amount int64) error
	BalanceOf(ctx context.Context, account types.Address) (int64, error)
	TotalSupply(ctx context.Context) (int64, error)
}
