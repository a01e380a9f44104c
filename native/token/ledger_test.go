package token

import (
	"errors"
	"math/big"
	"testing"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestTransferFromCheckoutRequiresCapability(t *testing.T) {
	ledger := NewLedger()
	checkout := testAddr(0xEE)
	from := testAddr(0x01)
	to := testAddr(0x02)
	if err := ledger.Mint("DPT", from, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// No checkout registered at all.
	err := ledger.TransferFromCheckout(checkout, "DPT", from, to, big.NewInt(10))
	if !errors.Is(err, ErrUnauthorizedCaller) {
		t.Fatalf("expected ErrUnauthorizedCaller, got %v", err)
	}

	ledger.SetCheckout(checkout)
	if err := ledger.TransferFromCheckout(testAddr(0x99), "DPT", from, to, big.NewInt(10)); !errors.Is(err, ErrUnauthorizedCaller) {
		t.Fatalf("expected ErrUnauthorizedCaller for impostor, got %v", err)
	}
	if err := ledger.TransferFromCheckout(checkout, "DPT", from, to, big.NewInt(10)); err != nil {
		t.Fatalf("privileged transfer: %v", err)
	}
	if got := ledger.BalanceOf("DPT", to); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("recipient balance = %s, want 10", got)
	}
	if got := ledger.BalanceOf("DPT", from); got.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("sender balance = %s, want 90", got)
	}
}

func TestTransferFromCheckoutUnderflow(t *testing.T) {
	ledger := NewLedger()
	checkout := testAddr(0xEE)
	ledger.SetCheckout(checkout)
	from := testAddr(0x01)
	to := testAddr(0x02)
	if err := ledger.Mint("DPT", from, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := ledger.TransferFromCheckout(checkout, "DPT", from, to, big.NewInt(6))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := ledger.BalanceOf("DPT", from); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("sender balance changed on failed transfer: %s", got)
	}
	if got := ledger.BalanceOf("DPT", to); got.Sign() != 0 {
		t.Fatalf("recipient credited on failed transfer: %s", got)
	}
}

func TestWhitelist(t *testing.T) {
	ledger := NewLedger()
	if ledger.IsWhitelisted("LOY") {
		t.Fatal("token whitelisted by default")
	}
	ledger.SetWhitelisted(" loy ", true)
	if !ledger.IsWhitelisted("LOY") {
		t.Fatal("normalised symbol not whitelisted")
	}
	ledger.SetWhitelisted("LOY", false)
	if ledger.IsWhitelisted("loy") {
		t.Fatal("whitelist removal ignored")
	}
}

func TestBalancesAreIsolatedPerSymbol(t *testing.T) {
	ledger := NewLedger()
	holder := testAddr(0x01)
	if err := ledger.Mint("DPT", holder, big.NewInt(7)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := ledger.BalanceOf("LOY", holder); got.Sign() != 0 {
		t.Fatalf("cross-symbol balance leak: %s", got)
	}
	// Returned balances are copies.
	ledger.BalanceOf("DPT", holder).SetInt64(0)
	if got := ledger.BalanceOf("DPT", holder); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("balance mutated through returned value: %s", got)
	}
}
