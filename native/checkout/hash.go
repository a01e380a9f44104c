package checkout

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"dinmarket/native/token"
)

// QuoteDomainV1 is the domain separator mixed into every price quote hash so
// signatures cannot be replayed against other signing schemes.
const QuoteDomainV1 = "DINMARKET_QUOTE_V1"

// signedMessagePrefix is the fixed prefix of the signing convention; the
// trailing "32" is the byte length of the hashed payload.
const signedMessagePrefix = "\x19Ethereum Signed Message:\n32"

// QuoteHash computes the canonical hash an owner signs to authorise a unit
// price for a DIN. The hash commits to the unit price, not the total: the
// buyer chooses the quantity at checkout.
func QuoteHash(din uint64, unitPrice *big.Int, priceValidUntil int64, affiliateReward, loyaltyReward *big.Int, loyaltyToken string) [32]byte {
	payload := fmt.Sprintf("%s|din=%d|unit=%s|exp=%d|aff=%s|loy=%s|token=%s",
		QuoteDomainV1,
		din,
		amountString(unitPrice),
		priceValidUntil,
		amountString(affiliateReward),
		amountString(loyaltyReward),
		token.NormalizeSymbol(loyaltyToken),
	)
	var hash [32]byte
	copy(hash[:], ethcrypto.Keccak256([]byte(payload)))
	return hash
}

// OrderQuoteHash derives the quote hash committed to by an order request,
// including the truncating unit price division.
func OrderQuoteHash(req *OrderRequest) [32]byte {
	if req == nil {
		return [32]byte{}
	}
	return QuoteHash(req.DIN, req.UnitPrice(), req.PriceValidUntil, req.AffiliateReward, req.LoyaltyReward, req.LoyaltyToken)
}

// prefixedDigest wraps a message hash with the signed-message prefix before
// recovery, matching what signing wallets produce.
func prefixedDigest(messageHash [32]byte) [32]byte {
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256([]byte(signedMessagePrefix), messageHash[:]))
	return digest
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
