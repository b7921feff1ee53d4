package asset

import (
	"context"
	"fmt"
	"sync"

	"github.com/givestake/ledger/ledger/pkg/types"
)

// Memory is an in-process asset bank and token supply. It backs tests and
// local development; production deployments use Client against the custody
// service.
type Memory struct {
	mu       sync.Mutex
	treasury types.Address
	balances map[types.Address]int64
	tokens   map[types.Address]int64
	supply   int64

	// FailNext, when set, rejects the next transfer and resets. Lets tests
	// exercise collaborator-failure rollback.
	FailNext bool
}

// NewMemory creates a memory bank whose Transfer debits the given treasury
// account.
func NewMemory(treasury types.Address) *Memory {
	return &Memory{
		treasury: treasury,
		balances: make(map[types.Address]int64),
		tokens:   make(map[types.Address]int64),
	}
}

// Deposit credits an account balance directly, bypassing transfer checks.
func (m *Memory) Deposit(account types.Address, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
}

// Balance returns the current stable-asset balance of an account.
func (m *Memory) Balance(account types.Address) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}

func (m *Memory) Transfer(ctx context.Context, to types.Address, amount int64) error {
	return m.TransferFrom(ctx, m.treasury, to, amount)
}

func (m *Memory) TransferFrom(ctx context.Context, from, to types.Address, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return fmt.Errorf("transfer rejected")
	}
	if amount < 0 {
		return fmt.Errorf("negative transfer amount %d", amount)
	}
	if m.balances[from] < amount {
		return fmt.Errorf("insufficient balance: account %s has %d, need %d", from, m.balances[from], amount)
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}

func (m *Memory) Mint(ctx context.Context, to types.Address, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount < 0 {
		return fmt.Errorf("negative mint amount %d", amount)
	}
	m.tokens[to] += amount
	m.supply += amount
	return nil
}

func (m *Memory) Burn(ctx context.Context, from types.Address, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount < 0 {
		return fmt.Errorf("negative burn amount %d", amount)
	}
	if m.tokens[from] < amount {
		return fmt.Errorf("insufficient token balance: account %s has %d, need %d", from, m.tokens[from], amount)
	}
	m.tokens[from] -= amount
	m.supply -= amount
	return nil
}

func (m *Memory) BalanceOf(ctx context.Context, account types.Address) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[account], nil
}

func (m *Memory) TotalSupply(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply, nil
}
