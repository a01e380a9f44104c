package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"dinmarket/core/types"
	"dinmarket/storage"
)

var accountPrefix = []byte("account:")

// storedAccount is the RLP shape persisted per address. RLP has no signed
// integers, so balances are kept as big.Int.
type storedAccount struct {
	Nonce       uint64
	BalanceBase *big.Int
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

// Manager persists participant accounts in the node's key-value store.
type Manager struct {
	db storage.Database
}

// NewManager creates an account manager backed by the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// GetAccount reconstructs the account stored under the provided address. An
// unknown address yields a zero-balance account rather than an error.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state manager not configured")
	}
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return (&types.Account{}).Normalize(), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	account := &types.Account{Nonce: stored.Nonce, BalanceBase: stored.BalanceBase}
	return account.Normalize(), nil
}

// PutAccount persists the provided account state under the supplied address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state manager not configured")
	}
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	normalized := account.Clone().Normalize()
	if normalized.BalanceBase.Sign() < 0 {
		return fmt.Errorf("account balance must not be negative")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{
		Nonce:       normalized.Nonce,
		BalanceBase: normalized.BalanceBase,
	})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}
