package checkout

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// VerifySignature reports whether the (v, r, s) triple over the prefixed
// messageHash recovers to the claimed signer. Malformed signatures that
// cannot recover to any address yield false, never an error.
func VerifySignature(signer [20]byte, messageHash [32]byte, v byte, r, s [32]byte) bool {
	if signer == ([20]byte{}) {
		return false
	}
	recovered, ok := recoverSigner(messageHash, v, r, s)
	if !ok {
		return false
	}
	return recovered == signer
}

// SignQuote produces the (v, r, s) triple over the prefixed messageHash with
// the given private key bytes. It is the counterpart of VerifySignature used
// by owner tooling.
func SignQuote(messageHash [32]byte, privKey []byte) (v byte, r, s [32]byte, err error) {
	key, err := ethcrypto.ToECDSA(privKey)
	if err != nil {
		return 0, [32]byte{}, [32]byte{}, err
	}
	digest := prefixedDigest(messageHash)
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return 0, [32]byte{}, [32]byte{}, err
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	// Export with the legacy 27/28 offset used by signing wallets.
	return sig[64] + 27, r, s, nil
}

func recoverSigner(messageHash [32]byte, v byte, r, s [32]byte) ([20]byte, bool) {
	recID := v
	if recID >= 27 {
		recID -= 27
	}
	if recID > 1 {
		return [20]byte{}, false
	}
	sig := make([]byte, 65)
	copy(sig[:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = recID
	digest := prefixedDigest(messageHash)
	pubKey, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return [20]byte{}, false
	}
	var addr [20]byte
	copy(addr[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	return addr, true
}
