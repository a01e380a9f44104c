package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var (
	// ErrInsufficientBalance is returned when a transfer would drive the
	// sender's balance below zero.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrUnauthorizedCaller is returned when the privileged transfer is
	// invoked by anything other than the registered checkout identity.
	ErrUnauthorizedCaller = errors.New("token: caller is not the checkout engine")
)

// NormalizeSymbol canonicalises a token symbol to its trimmed uppercase form.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Ledger tracks reward-token balances per symbol and address. Its single
// privileged mutation, TransferFromCheckout, is gated on the settlement
// engine identity registered via SetCheckout; no other principal can move a
// third party's balance.
type Ledger struct {
	mu        sync.RWMutex
	balances  map[string]map[[20]byte]*big.Int
	whitelist map[string]bool
	checkout  [20]byte
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[string]map[[20]byte]*big.Int),
		whitelist: make(map[string]bool),
	}
}

// SetCheckout registers the settlement engine identity allowed to invoke the
// privileged transfer.
func (l *Ledger) SetCheckout(addr [20]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkout = addr
}

// SetWhitelisted marks a token symbol as accepted for loyalty rewards.
func (l *Ledger) SetWhitelisted(symbol string, accepted bool) {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.whitelist[normalized] = accepted
}

// IsWhitelisted reports whether the token symbol is accepted for loyalty
// rewards.
func (l *Ledger) IsWhitelisted(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.whitelist[NormalizeSymbol(symbol)]
}

// Mint credits an address with newly issued tokens. Provisioning only; the
// issuance economics themselves live outside the settlement node.
func (l *Ledger) Mint(symbol string, to [20]byte, amount *big.Int) error {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token: symbol required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("token: mint amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(normalized, to, amount)
	return nil
}

// BalanceOf returns the balance of an address for a token symbol.
func (l *Ledger) BalanceOf(symbol string, addr [20]byte) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	byAddr, ok := l.balances[NormalizeSymbol(symbol)]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := byAddr[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// TransferFromCheckout moves tokens between two addresses on behalf of the
// settlement engine. The caller must match the registered checkout identity
// and the sender must hold the full amount; a failed transfer leaves both
// balances untouched.
func (l *Ledger) TransferFromCheckout(caller [20]byte, symbol string, from, to [20]byte, amount *big.Int) error {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token: symbol required")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checkout == ([20]byte{}) || caller != l.checkout {
		return ErrUnauthorizedCaller
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal := l.balance(normalized, from)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[normalized][from] = new(big.Int).Sub(fromBal, amount)
	l.credit(normalized, to, amount)
	return nil
}

func (l *Ledger) balance(symbol string, addr [20]byte) *big.Int {
	byAddr, ok := l.balances[symbol]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := byAddr[addr]
	if !ok {
		return big.NewInt(0)
	}
	return bal
}

func (l *Ledger) credit(symbol string, addr [20]byte, amount *big.Int) {
	byAddr, ok := l.balances[symbol]
	if !ok {
		byAddr = make(map[[20]byte]*big.Int)
		l.balances[symbol] = byAddr
	}
	current, ok := byAddr[addr]
	if !ok {
		current = big.NewInt(0)
	}
	byAddr[addr] = new(big.Int).Add(current, amount)
}
