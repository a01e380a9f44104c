package types

import "math/big"

// Account holds the base-currency balance and nonce for a marketplace
// participant. Reward-token balances are tracked per symbol by the token
// ledger, not here.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceBase *big.Int `json:"balanceBase"`
}

// Normalize replaces a nil balance with zero so callers can perform
// arithmetic without nil checks. It returns the receiver for chaining.
func (a *Account) Normalize() *Account {
	if a == nil {
		return &Account{BalanceBase: big.NewInt(0)}
	}
	if a.BalanceBase == nil {
		a.BalanceBase = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{BalanceBase: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, BalanceBase: big.NewInt(0)}
	if a.BalanceBase != nil {
		clone.BalanceBase = new(big.Int).Set(a.BalanceBase)
	}
	return clone
}
