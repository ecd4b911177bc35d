package custody

import (
	"context"
	"math/big"
	"strings"
	"sync"
)

// MemoryBank is an in-process Custody implementation for tests and local
// runs. The bank itself holds the game pool under its own account.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	pool     string // account holding staked funds
}

// PoolAccount is the default account name for the custody pool.
const PoolAccount = "0x0000000000000000000000000000000000000C57" // "CST"

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[string]*big.Int),
		pool:     normalize(PoolAccount),
	}
}

func normalize(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// Mint credits an account out of thin air. Test/dev helper.
func (b *MemoryBank) Mint(account string, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(normalize(account), amount)
}

func (b *MemoryBank) credit(account string, amount *big.Int) {
	cur, ok := b.balances[account]
	if !ok {
		cur = new(big.Int)
		b.balances[account] = cur
	}
	cur.Add(cur, amount)
}

func (b *MemoryBank) debit(account string, amount *big.Int) error {
	cur, ok := b.balances[account]
	if !ok || cur.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	cur.Sub(cur, amount)
	return nil
}

func (b *MemoryBank) TransferFrom(_ context.Context, from, to string, amount *big.Int) error {
	if to == "" {
		to = b.pool
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(normalize(from), amount); err != nil {
		return err
	}
	b.credit(normalize(to), amount)
	return nil
}

func (b *MemoryBank) Transfer(_ context.Context, to string, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(b.pool, amount); err != nil {
		return err
	}
	b.credit(normalize(to), amount)
	return nil
}

func (b *MemoryBank) BalanceOf(_ context.Context, account string) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.balances[normalize(account)]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(cur), nil
}
