package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrUnknownResolver is returned when a resolver identifier has no
	// registered implementation.
	ErrUnknownResolver = errors.New("registry: unknown resolver")
	// ErrQueryBudgetExhausted aborts a resolver lookup that exceeded its
	// step allowance.
	ErrQueryBudgetExhausted = errors.New("registry: resolver query budget exhausted")
)

// MerchantQueryBudget is the fixed step allowance granted to a resolver per
// lookup. The allowance is sized for map reads only; a resolver attempting
// anything heavier runs out of steps and the lookup fails.
const MerchantQueryBudget = 64

// Meter enforces the step budget of a single resolver query.
type Meter struct {
	remaining uint64
}

// Charge consumes steps from the budget.
func (m *Meter) Charge(steps uint64) error {
	if m == nil {
		return ErrQueryBudgetExhausted
	}
	if steps > m.remaining {
		m.remaining = 0
		return ErrQueryBudgetExhausted
	}
	m.remaining -= steps
	return nil
}

// Remaining reports the unconsumed step allowance.
func (m *Meter) Remaining() uint64 {
	if m == nil {
		return 0
	}
	return m.remaining
}

// MerchantResolver maps a DIN to its merchant payout address and product URL.
// Implementations receive only the DIN and a query meter: they hold no
// reference to engine state, so a lookup cannot mutate it, and the meter
// bounds the work a misbehaving implementation can perform.
type MerchantResolver interface {
	MerchantOf(meter *Meter, din uint64) ([20]byte, error)
	ProductURLOf(meter *Meter, din uint64) (string, error)
}

// ResolverSet maps resolver identifiers to implementations and invokes them
// under a fresh per-query meter with panic containment.
type ResolverSet struct {
	mu        sync.RWMutex
	resolvers map[string]MerchantResolver
}

// NewResolverSet returns an empty resolver set.
func NewResolverSet() *ResolverSet {
	return &ResolverSet{resolvers: make(map[string]MerchantResolver)}
}

// Register binds an identifier to a resolver implementation.
func (s *ResolverSet) Register(id string, resolver MerchantResolver) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("registry: resolver id required")
	}
	if resolver == nil {
		return fmt.Errorf("registry: nil resolver")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolvers[trimmed] = resolver
	return nil
}

// MerchantOf resolves the merchant for a DIN through the identified resolver.
// The query runs under a fixed step budget and a recovered panic surfaces as
// an error rather than unwinding the caller.
func (s *ResolverSet) MerchantOf(id string, din uint64) (addr [20]byte, err error) {
	resolver, err := s.lookup(id)
	if err != nil {
		return [20]byte{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			addr = [20]byte{}
			err = fmt.Errorf("registry: resolver %q panicked: %v", id, r)
		}
	}()
	meter := &Meter{remaining: MerchantQueryBudget}
	return resolver.MerchantOf(meter, din)
}

// ProductURLOf resolves the descriptive URL for a DIN under the same budget
// rules as MerchantOf.
func (s *ResolverSet) ProductURLOf(id string, din uint64) (url string, err error) {
	resolver, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	defer func() {
		if r := recover(); r != nil {
			url = ""
			err = fmt.Errorf("registry: resolver %q panicked: %v", id, r)
		}
	}()
	meter := &Meter{remaining: MerchantQueryBudget}
	return resolver.ProductURLOf(meter, din)
}

func (s *ResolverSet) lookup(id string) (MerchantResolver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resolver, ok := s.resolvers[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrUnknownResolver
	}
	return resolver, nil
}

// StaticResolver serves merchant records from an in-memory table. It is the
// standard resolver used by deployments that manage listings directly.
type StaticResolver struct {
	mu      sync.RWMutex
	records map[uint64]Record
}

// NewStaticResolver returns an empty static resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{records: make(map[uint64]Record)}
}

// SetRecord installs or replaces the record for a DIN.
func (r *StaticResolver) SetRecord(din uint64, record Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[din] = record
}

// MerchantOf implements MerchantResolver.
func (r *StaticResolver) MerchantOf(meter *Meter, din uint64) ([20]byte, error) {
	if err := meter.Charge(1); err != nil {
		return [20]byte{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[din].Merchant, nil
}

// ProductURLOf implements MerchantResolver.
func (r *StaticResolver) ProductURLOf(meter *Meter, din uint64) (string, error) {
	if err := meter.Charge(1); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[din].ProductURL, nil
}
