package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"dinmarket/storage"
)

var (
	// ErrNotRegistered is returned when a DIN has no registry entry.
	ErrNotRegistered = errors.New("registry: DIN not registered")
	// ErrUnauthorized is returned when a mutation is attempted by a
	// principal other than the current owner.
	ErrUnauthorized = errors.New("registry: caller is not the DIN owner")
)

var counterKey = []byte("registry/din/counter")

func entryKey(din uint64) []byte {
	key := make([]byte, 0, len("registry/din/entry/")+8)
	key = append(key, []byte("registry/din/entry/")...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], din)
	return append(key, buf[:]...)
}

type storedEntry struct {
	DIN      uint64
	Owner    [20]byte
	Resolver string
}

// Registry persists DIN ownership and resolver assignments. Registration and
// transfer exist to provision deployments and tests; governance around them
// is out of scope for the settlement node.
type Registry struct {
	mu sync.Mutex
	db storage.Database
}

// New creates a registry backed by the provided database.
func New(db storage.Database) *Registry {
	return &Registry{db: db}
}

// Register assigns the next DIN to the given owner and returns it.
func (r *Registry) Register(owner [20]byte) (uint64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("registry: not configured")
	}
	if owner == ([20]byte{}) {
		return 0, fmt.Errorf("registry: owner required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.nextDIN()
	if err != nil {
		return 0, err
	}
	if err := r.putEntry(&Entry{DIN: next, Owner: owner}); err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := r.db.Put(counterKey, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// Transfer reassigns ownership of a DIN. Only the current owner may call it.
func (r *Registry) Transfer(din uint64, caller, newOwner [20]byte) error {
	if newOwner == ([20]byte{}) {
		return fmt.Errorf("registry: new owner required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.getEntry(din)
	if err != nil {
		return err
	}
	if entry.Owner != caller {
		return ErrUnauthorized
	}
	entry.Owner = newOwner
	return r.putEntry(entry)
}

// SetResolver binds a DIN to a resolver identifier. Only the owner may call
// it. An empty identifier clears the binding.
func (r *Registry) SetResolver(din uint64, caller [20]byte, resolver string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.getEntry(din)
	if err != nil {
		return err
	}
	if entry.Owner != caller {
		return ErrUnauthorized
	}
	entry.Resolver = strings.TrimSpace(resolver)
	return r.putEntry(entry)
}

// OwnerOf returns the registered owner of the DIN.
func (r *Registry) OwnerOf(din uint64) ([20]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.getEntry(din)
	if err != nil {
		return [20]byte{}, err
	}
	return entry.Owner, nil
}

// ResolverOf returns the resolver identifier bound to the DIN. An empty
// string means no resolver is configured.
func (r *Registry) ResolverOf(din uint64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.getEntry(din)
	if err != nil {
		return "", err
	}
	return entry.Resolver, nil
}

func (r *Registry) nextDIN() (uint64, error) {
	raw, err := r.db.Get(counterKey)
	if errors.Is(err, storage.ErrNotFound) {
		return FirstDIN, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("registry: corrupt DIN counter")
	}
	return binary.BigEndian.Uint64(raw) + 1, nil
}

func (r *Registry) getEntry(din uint64) (*Entry, error) {
	raw, err := r.db.Get(entryKey(din))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	var stored storedEntry
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("registry: decode entry %d: %w", din, err)
	}
	return &Entry{DIN: stored.DIN, Owner: stored.Owner, Resolver: stored.Resolver}, nil
}

func (r *Registry) putEntry(entry *Entry) error {
	sanitized, err := SanitizeEntry(entry)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&storedEntry{DIN: sanitized.DIN, Owner: sanitized.Owner, Resolver: sanitized.Resolver})
	if err != nil {
		return err
	}
	return r.db.Put(entryKey(sanitized.DIN), encoded)
}
