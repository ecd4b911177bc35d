package custody

import (
	"context"
	"errors"
	"math/big"
)

// Custody is the token balance ledger the game ledger debits and credits.
// Amounts are fixed-point integers scaled by 10^18. Accounts are hex
// addresses; implementations normalize casing themselves.
type Custody interface {
	// TransferFrom moves amount from the payer into the custody pool.
	// Returns ErrInsufficientFunds when the payer cannot cover it.
	TransferFrom(ctx context.Context, from, to string, amount *big.Int) error
	// Transfer pays amount out of the custody pool to the recipient.
	Transfer(ctx context.Context, to string, amount *big.Int) error
	// BalanceOf reports the account balance.
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
}

// ErrInsufficientFunds means the payer's balance cannot cover the debit.
var ErrInsufficientFunds = errors.New("custody: insufficient funds")
