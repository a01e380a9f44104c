package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"dinmarket/core/state"
	"dinmarket/core/types"
	"dinmarket/crypto"
	"dinmarket/native/checkout"
	"dinmarket/native/common"
	"dinmarket/native/orderlog"
	"dinmarket/native/registry"
	"dinmarket/native/token"
	"dinmarket/storage"
)

const testNow = int64(1_700_000_000)

type rpcFixture struct {
	server   *httptest.Server
	accounts *state.Manager
	ledger   *token.Ledger

	din      uint64
	ownerKey []byte
	buyer    [20]byte
	merchant [20]byte
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	db := storage.NewMemDB()
	accounts := state.NewManager(db)
	reg := registry.New(db)
	set := registry.NewResolverSet()
	static := registry.NewStaticResolver()
	require.NoError(t, set.Register("static", static))
	ledger := token.NewLedger()
	orders := orderlog.New(db)

	ownerKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	var owner [20]byte
	copy(owner[:], ethcrypto.PubkeyToAddress(ownerKey.PublicKey).Bytes())

	var self, buyer, merchant [20]byte
	self[0], buyer[0], merchant[0] = 0xEE, 0xB1, 0x33
	ledger.SetCheckout(self)

	din, err := reg.Register(owner)
	require.NoError(t, err)
	require.NoError(t, reg.SetResolver(din, owner, "static"))
	static.SetRecord(din, registry.Record{Merchant: merchant, ProductURL: "https://shop.example"})

	engine := checkout.NewEngine()
	engine.SetState(accounts)
	engine.SetRegistry(reg)
	engine.SetMerchantGateway(set)
	engine.SetLedger(ledger)
	engine.SetOrderLog(orders)
	engine.SetIdentity(self)
	engine.SetNowFunc(func() int64 { return testNow })
	pauses := common.NewPauseSet()
	engine.SetPauses(pauses)

	server := NewServer(ServerConfig{
		Engine:     engine,
		Accounts:   accounts,
		Registry:   reg,
		Static:     static,
		ResolverID: "static",
		Ledger:     ledger,
		Orders:     orders,
		Pauses:     pauses,
		AdminToken: "secret",
	})

	fixture := &rpcFixture{
		server:   httptest.NewServer(server.Router()),
		accounts: accounts,
		ledger:   ledger,
		din:      din,
		ownerKey: ethcrypto.FromECDSA(ownerKey),
		buyer:    buyer,
		merchant: merchant,
	}
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *rpcFixture) call(t *testing.T, method string, params interface{}, headers map[string]string) *RPCResponse {
	t.Helper()
	rawParams, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []json.RawMessage{rawParams},
	})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := new(RPCResponse)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return out
}

func (f *rpcFixture) buyParams(t *testing.T, quantity uint64, totalPrice, funds int64) map[string]interface{} {
	t.Helper()
	validUntil := testNow + 3600
	unit := new(big.Int).Quo(big.NewInt(totalPrice), new(big.Int).SetUint64(quantity))
	hash := checkout.QuoteHash(f.din, unit, validUntil, nil, nil, "")
	v, r, s, err := checkout.SignQuote(hash, f.ownerKey)
	require.NoError(t, err)
	var nonce [32]byte
	nonce[0] = 0xC4
	return map[string]interface{}{
		"din":             f.din,
		"quantity":        quantity,
		"totalPrice":      big.NewInt(totalPrice).String(),
		"priceValidUntil": validUntil,
		"nonceHash":       "0x" + hex.EncodeToString(nonce[:]),
		"v":               v,
		"r":               "0x" + hex.EncodeToString(r[:]),
		"s":               "0x" + hex.EncodeToString(s[:]),
		"buyer":           crypto.MustNewAddress(crypto.DINPrefix, f.buyer).String(),
		"funds":           big.NewInt(funds).String(),
	}
}

func TestBuyOverRPC(t *testing.T) {
	f := newRPCFixture(t)
	require.NoError(t, f.accounts.PutAccount(f.buyer[:], &types.Account{BalanceBase: big.NewInt(200)}))

	resp := f.call(t, "checkout_buy", f.buyParams(t, 2, 200, 200), nil)
	require.Nil(t, resp.Error)
	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var order orderResult
	require.NoError(t, json.Unmarshal(result, &order))
	require.Equal(t, uint64(1), order.OrderID)
	require.Equal(t, "200", order.TotalPrice)

	acc, err := f.accounts.GetAccount(f.merchant[:])
	require.NoError(t, err)
	require.Equal(t, "200", acc.Normalize().BalanceBase.String())
}

func TestBuyRejectionOverRPC(t *testing.T) {
	f := newRPCFixture(t)
	require.NoError(t, f.accounts.PutAccount(f.buyer[:], &types.Account{BalanceBase: big.NewInt(500)}))

	params := f.buyParams(t, 2, 200, 250)
	resp := f.call(t, "checkout_buy", params, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeRejected, resp.Error.Code)
	require.Equal(t, checkout.ReasonInvalidPrice.String(), resp.Error.Message)

	acc, err := f.accounts.GetAccount(f.buyer[:])
	require.NoError(t, err)
	require.Equal(t, "500", acc.Normalize().BalanceBase.String())
}

func TestIsValidOrderOverRPC(t *testing.T) {
	f := newRPCFixture(t)
	require.NoError(t, f.accounts.PutAccount(f.buyer[:], &types.Account{BalanceBase: big.NewInt(200)}))

	resp := f.call(t, "checkout_isValidOrder", f.buyParams(t, 2, 200, 200), nil)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.Equal(t, true, result["valid"])

	params := f.buyParams(t, 2, 200, 200)
	params["priceValidUntil"] = testNow - 1
	resp = f.call(t, "checkout_isValidOrder", params, nil)
	require.Nil(t, resp.Error)
	result = resp.Result.(map[string]interface{})
	require.Equal(t, false, result["valid"])
	require.Equal(t, checkout.ReasonOfferExpired.String(), result["reason"])
}

func TestAdminMethodsRequireToken(t *testing.T) {
	f := newRPCFixture(t)
	ownerAddr := crypto.MustNewAddress(crypto.DINPrefix, [20]byte{0x05}).String()

	resp := f.call(t, "registry_register", map[string]string{"owner": ownerAddr}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = f.call(t, "registry_register", map[string]string{"owner": ownerAddr}, map[string]string{
		"Authorization": "Bearer secret",
	})
	require.Nil(t, resp.Error)
}

func TestIsValidSignatureOverRPC(t *testing.T) {
	f := newRPCFixture(t)
	hash := checkout.QuoteHash(f.din, big.NewInt(100), testNow+3600, nil, nil, "")
	v, r, s, err := checkout.SignQuote(hash, f.ownerKey)
	require.NoError(t, err)

	key, err := ethcrypto.ToECDSA(f.ownerKey)
	require.NoError(t, err)
	var owner [20]byte
	copy(owner[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())

	resp := f.call(t, "checkout_isValidSignature", map[string]interface{}{
		"signer": crypto.MustNewAddress(crypto.DINPrefix, owner).String(),
		"hash":   "0x" + hex.EncodeToString(hash[:]),
		"v":      v,
		"r":      "0x" + hex.EncodeToString(r[:]),
		"s":      "0x" + hex.EncodeToString(s[:]),
	}, nil)
	require.Nil(t, resp.Error)
	require.Equal(t, true, resp.Result)
}

func TestPauseToggleOverRPC(t *testing.T) {
	f := newRPCFixture(t)
	require.NoError(t, f.accounts.PutAccount(f.buyer[:], &types.Account{BalanceBase: big.NewInt(200)}))
	auth := map[string]string{"Authorization": "Bearer secret"}

	resp := f.call(t, "system_setPaused", map[string]interface{}{"module": "checkout", "paused": true}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = f.call(t, "system_setPaused", map[string]interface{}{"module": "checkout", "paused": true}, auth)
	require.Nil(t, resp.Error)

	resp = f.call(t, "checkout_buy", f.buyParams(t, 2, 200, 200), nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeServerError, resp.Error.Code)
	require.Contains(t, resp.Error.Message, "paused")

	resp = f.call(t, "system_setPaused", map[string]interface{}{"module": "checkout", "paused": false}, auth)
	require.Nil(t, resp.Error)

	resp = f.call(t, "checkout_buy", f.buyParams(t, 2, 200, 200), nil)
	require.Nil(t, resp.Error)
}

func TestIdleVisitorLimitersArePruned(t *testing.T) {
	s := NewServer(ServerConfig{RatePerMinute: 60, RateBurst: 5})
	now := time.Now()
	s.mu.Lock()
	s.visitors["stale"] = &visitor{limiter: s.newLimit(), lastSeen: now.Add(-2 * visitorIdleTTL)}
	s.visitors["fresh"] = &visitor{limiter: s.newLimit(), lastSeen: now}
	s.pruneVisitors(now)
	_, staleKept := s.visitors["stale"]
	_, freshKept := s.visitors["fresh"]
	s.mu.Unlock()
	require.False(t, staleKept)
	require.True(t, freshKept)
}
