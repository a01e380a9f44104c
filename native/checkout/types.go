package checkout

import (
	"fmt"
	"math/big"
	"strings"

	"dinmarket/native/token"
)

// OrderRequest is the buyer-supplied payload for a single checkout attempt.
// It is ephemeral: only the resulting order record is persisted.
type OrderRequest struct {
	DIN             uint64
	Quantity        uint64
	TotalPrice      *big.Int
	PriceValidUntil int64
	AffiliateReward *big.Int
	Affiliate       [20]byte
	LoyaltyReward   *big.Int
	LoyaltyToken    string
	NonceHash       [32]byte
	V               byte
	R               [32]byte
	S               [32]byte

	// Buyer and Funds describe the caller: who is settling and how much
	// base currency they attached to the purchase.
	Buyer [20]byte
	Funds *big.Int
}

// Clone returns a deep copy of the request with nil amounts normalised to
// zero and the loyalty token symbol canonicalised.
func (r *OrderRequest) Clone() *OrderRequest {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalPrice = cloneAmount(r.TotalPrice)
	clone.AffiliateReward = cloneAmount(r.AffiliateReward)
	clone.LoyaltyReward = cloneAmount(r.LoyaltyReward)
	clone.Funds = cloneAmount(r.Funds)
	clone.LoyaltyToken = token.NormalizeSymbol(r.LoyaltyToken)
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// UnitPrice returns the per-item price the owner's signature commits to,
// using truncating integer division. Quantity must be non-zero.
func (r *OrderRequest) UnitPrice() *big.Int {
	if r == nil || r.TotalPrice == nil || r.Quantity == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(r.TotalPrice, new(big.Int).SetUint64(r.Quantity))
}

// RejectionReason is the closed set of causes for which a checkout is
// refused. A rejection is fatal only to the individual request.
type RejectionReason uint8

const (
	ReasonInvalidResolver RejectionReason = iota + 1
	ReasonInvalidMerchant
	ReasonOfferExpired
	ReasonInvalidAffiliate
	ReasonInvalidLoyaltyToken
	ReasonInvalidPrice
	ReasonInvalidSignature
	ReasonInsufficientBalance
)

// String returns the canonical reason label used in events and RPC errors.
func (r RejectionReason) String() string {
	switch r {
	case ReasonInvalidResolver:
		return "invalid resolver"
	case ReasonInvalidMerchant:
		return "invalid merchant"
	case ReasonOfferExpired:
		return "offer expired"
	case ReasonInvalidAffiliate:
		return "invalid affiliate"
	case ReasonInvalidLoyaltyToken:
		return "invalid loyalty token"
	case ReasonInvalidPrice:
		return "invalid price"
	case ReasonInvalidSignature:
		return "invalid signature"
	case ReasonInsufficientBalance:
		return "insufficient balance"
	default:
		return "unknown"
	}
}

// RejectionError carries the structured context of a refused checkout. The
// buyer's funds never move on a rejection.
type RejectionError struct {
	Reason    RejectionReason
	DIN       uint64
	Timestamp int64
}

func (e *RejectionError) Error() string {
	if e == nil {
		return "checkout rejected"
	}
	return fmt.Sprintf("checkout rejected: %s (din %d)", e.Reason, e.DIN)
}

// Rejection unwraps err into a RejectionError when the failure belongs to
// the closed checkout taxonomy.
func Rejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if err == nil {
		return nil, false
	}
	if as, ok := err.(*RejectionError); ok {
		rej = as
	}
	return rej, rej != nil
}

// ParseReason maps a canonical reason label back to its enum value.
func ParseReason(label string) (RejectionReason, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "invalid resolver":
		return ReasonInvalidResolver, true
	case "invalid merchant":
		return ReasonInvalidMerchant, true
	case "offer expired":
		return ReasonOfferExpired, true
	case "invalid affiliate":
		return ReasonInvalidAffiliate, true
	case "invalid loyalty token":
		return ReasonInvalidLoyaltyToken, true
	case "invalid price":
		return ReasonInvalidPrice, true
	case "invalid signature":
		return ReasonInvalidSignature, true
	case "insufficient balance":
		return ReasonInsufficientBalance, true
	default:
		return 0, false
	}
}
