package state

import (
	"math/big"
	"testing"

	"dinmarket/core/types"
	"dinmarket/storage"
)

func TestGetAccountDefaultsToZeroBalance(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := []byte{0x01, 0x02, 0x03}
	acc, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.BalanceBase == nil || acc.BalanceBase.Sign() != 0 {
		t.Fatalf("fresh account balance = %v, want 0", acc.BalanceBase)
	}
}

func TestPutAccountRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := []byte{0xAA, 0xBB}
	if err := manager.PutAccount(addr, &types.Account{Nonce: 3, BalanceBase: big.NewInt(125)}); err != nil {
		t.Fatalf("put account: %v", err)
	}
	acc, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Nonce != 3 {
		t.Fatalf("nonce = %d, want 3", acc.Nonce)
	}
	if acc.BalanceBase.Cmp(big.NewInt(125)) != 0 {
		t.Fatalf("balance = %s, want 125", acc.BalanceBase)
	}
}

func TestPutAccountRejectsNegativeBalance(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	err := manager.PutAccount([]byte{0x01}, &types.Account{BalanceBase: big.NewInt(-1)})
	if err == nil {
		t.Fatal("expected negative balance rejection")
	}
}
