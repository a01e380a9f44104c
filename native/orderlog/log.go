package orderlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"dinmarket/storage"
)

// ErrOrderNotFound is returned when an order identifier has no record.
var ErrOrderNotFound = errors.New("orderlog: order not found")

var counterKey = []byte("orderlog/counter")

func orderKey(id uint64) []byte {
	key := make([]byte, 0, len("orderlog/order/")+8)
	key = append(key, []byte("orderlog/order/")...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(key, buf[:]...)
}

// Record is an immutable settlement record. Records are created exactly once
// per successful checkout and never mutated or deleted.
type Record struct {
	ID         uint64
	NonceHash  [32]byte
	Buyer      [20]byte
	Merchant   [20]byte
	DIN        uint64
	Quantity   uint64
	TotalPrice *big.Int
	Timestamp  uint64
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.TotalPrice != nil {
		clone.TotalPrice = new(big.Int).Set(r.TotalPrice)
	} else {
		clone.TotalPrice = big.NewInt(0)
	}
	return &clone
}

// Log assigns monotonically increasing order identifiers starting at 1 and
// persists the corresponding records append-only.
type Log struct {
	mu sync.Mutex
	db storage.Database
}

// New creates an order log backed by the provided database.
func New(db storage.Database) *Log {
	return &Log{db: db}
}

// Create assigns the next identifier to the record and persists it. The ID
// field of the argument is ignored; the stored record is returned.
func (l *Log) Create(rec *Record) (*Record, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("orderlog: not configured")
	}
	if rec == nil {
		return nil, fmt.Errorf("orderlog: nil record")
	}
	if rec.TotalPrice == nil || rec.TotalPrice.Sign() < 0 {
		return nil, fmt.Errorf("orderlog: total price must be non-negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	count, err := l.count()
	if err != nil {
		return nil, err
	}
	stored := rec.Clone()
	stored.ID = count + 1
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return nil, err
	}
	if err := l.db.Put(orderKey(stored.ID), encoded); err != nil {
		return nil, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], stored.ID)
	if err := l.db.Put(counterKey, buf[:]); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// Get returns the record stored under the given identifier.
func (l *Log) Get(id uint64) (*Record, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("orderlog: not configured")
	}
	raw, err := l.db.Get(orderKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := new(Record)
	if err := rlp.DecodeBytes(raw, rec); err != nil {
		return nil, fmt.Errorf("orderlog: decode order %d: %w", id, err)
	}
	return rec, nil
}

// Count returns the identifier of the most recently created order, which
// equals the total number of orders.
func (l *Log) Count() (uint64, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("orderlog: not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count()
}

func (l *Log) count() (uint64, error) {
	raw, err := l.db.Get(counterKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("orderlog: corrupt counter")
	}
	return binary.BigEndian.Uint64(raw), nil
}
