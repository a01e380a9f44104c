package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"dinmarket/crypto"
	"dinmarket/native/checkout"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "generate-key":
		err = runGenerateKey()
	case "address":
		err = runAddress(os.Args[2:])
	case "sign-quote":
		err = runSignQuote(os.Args[2:])
	case "quote-hash":
		err = runQuoteHash(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: din-cli <command> [flags]

commands:
  generate-key [-keystore <path> -passphrase <pw>]
                           generate a new owner key pair
  address [key flags]      derive the bech32 address for a private key
  quote-hash [flags]       print the canonical quote hash for an offer
  sign-quote [flags]       sign a price quote with an owner key

key flags (address, sign-quote):
  -key <hex>               private key as hex
  -keystore <path>         encrypted keystore file
  -passphrase <pw>         keystore passphrase`)
}

func runGenerateKey() error {
	fs := flag.NewFlagSet("generate-key", flag.ExitOnError)
	ksPath := fs.String("keystore", "", "write the key to an encrypted keystore file")
	passphrase := fs.String("passphrase", "", "keystore passphrase")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if *ksPath != "" {
		if err := crypto.SaveToKeystore(*ksPath, key, *passphrase); err != nil {
			return err
		}
		fmt.Printf("keystore: %s\n", *ksPath)
	} else {
		fmt.Printf("private key: %s\n", hex.EncodeToString(key.Bytes()))
	}
	fmt.Printf("address:     %s\n", key.PubKey().Address().String())
	return nil
}

type keyFlags struct {
	hex        string
	keystore   string
	passphrase string
}

func bindKeyFlags(fs *flag.FlagSet) *keyFlags {
	k := &keyFlags{}
	fs.StringVar(&k.hex, "key", "", "private key hex")
	fs.StringVar(&k.keystore, "keystore", "", "encrypted keystore file")
	fs.StringVar(&k.passphrase, "passphrase", "", "keystore passphrase")
	return k
}

func (k *keyFlags) load() (*crypto.PrivateKey, error) {
	if k.keystore != "" {
		return crypto.LoadFromKeystore(k.keystore, k.passphrase)
	}
	return parseKey(k.hex)
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	kf := bindKeyFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := kf.load()
	if err != nil {
		return err
	}
	fmt.Println(key.PubKey().Address().String())
	return nil
}

type quoteFlags struct {
	din       uint64
	unitPrice string
	expiry    int64
	affiliate string
	loyalty   string
	token     string
}

func bindQuoteFlags(fs *flag.FlagSet) *quoteFlags {
	q := &quoteFlags{}
	fs.Uint64Var(&q.din, "din", 0, "product identifier")
	fs.StringVar(&q.unitPrice, "unit-price", "0", "signed per-item price")
	fs.Int64Var(&q.expiry, "valid-until", 0, "unix expiry of the quote")
	fs.StringVar(&q.affiliate, "affiliate-reward", "0", "affiliate reward amount")
	fs.StringVar(&q.loyalty, "loyalty-reward", "0", "loyalty reward amount")
	fs.StringVar(&q.token, "loyalty-token", "", "loyalty token symbol")
	return q
}

func (q *quoteFlags) hash() ([32]byte, error) {
	unit, err := parseAmount(q.unitPrice)
	if err != nil {
		return [32]byte{}, fmt.Errorf("unit-price: %w", err)
	}
	affiliate, err := parseAmount(q.affiliate)
	if err != nil {
		return [32]byte{}, fmt.Errorf("affiliate-reward: %w", err)
	}
	loyalty, err := parseAmount(q.loyalty)
	if err != nil {
		return [32]byte{}, fmt.Errorf("loyalty-reward: %w", err)
	}
	return checkout.QuoteHash(q.din, unit, q.expiry, affiliate, loyalty, q.token), nil
}

func runQuoteHash(args []string) error {
	fs := flag.NewFlagSet("quote-hash", flag.ExitOnError)
	q := bindQuoteFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	hash, err := q.hash()
	if err != nil {
		return err
	}
	fmt.Printf("0x%s\n", hex.EncodeToString(hash[:]))
	return nil
}

func runSignQuote(args []string) error {
	fs := flag.NewFlagSet("sign-quote", flag.ExitOnError)
	q := bindQuoteFlags(fs)
	kf := bindKeyFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := kf.load()
	if err != nil {
		return err
	}
	hash, err := q.hash()
	if err != nil {
		return err
	}
	v, r, s, err := checkout.SignQuote(hash, key.Bytes())
	if err != nil {
		return err
	}
	fmt.Printf("hash: 0x%s\n", hex.EncodeToString(hash[:]))
	fmt.Printf("v:    %d\n", v)
	fmt.Printf("r:    0x%s\n", hex.EncodeToString(r[:]))
	fmt.Printf("s:    0x%s\n", hex.EncodeToString(s[:]))
	return nil
}

func parseKey(keyHex string) (*crypto.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("private key required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	return crypto.PrivateKeyFromBytes(raw)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
