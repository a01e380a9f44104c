package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"dinmarket/crypto"
	"dinmarket/native/checkout"
	"dinmarket/native/orderlog"
)

type orderRequestParam struct {
	DIN             uint64 `json:"din"`
	Quantity        uint64 `json:"quantity"`
	TotalPrice      string `json:"totalPrice"`
	PriceValidUntil int64  `json:"priceValidUntil"`
	AffiliateReward string `json:"affiliateReward,omitempty"`
	Affiliate       string `json:"affiliate,omitempty"`
	LoyaltyReward   string `json:"loyaltyReward,omitempty"`
	LoyaltyToken    string `json:"loyaltyToken,omitempty"`
	NonceHash       string `json:"nonceHash"`
	V               uint8  `json:"v"`
	R               string `json:"r"`
	S               string `json:"s"`
	Buyer           string `json:"buyer"`
	Funds           string `json:"funds"`
}

type orderResult struct {
	OrderID    uint64 `json:"orderId"`
	NonceHash  string `json:"nonceHash"`
	Buyer      string `json:"buyer"`
	Merchant   string `json:"merchant"`
	DIN        uint64 `json:"din"`
	Quantity   uint64 `json:"quantity"`
	TotalPrice string `json:"totalPrice"`
	Timestamp  uint64 `json:"timestamp"`
}

func newOrderResult(rec *orderlog.Record) *orderResult {
	if rec == nil {
		return nil
	}
	total := "0"
	if rec.TotalPrice != nil {
		total = rec.TotalPrice.String()
	}
	return &orderResult{
		OrderID:    rec.ID,
		NonceHash:  "0x" + hex.EncodeToString(rec.NonceHash[:]),
		Buyer:      crypto.MustNewAddress(crypto.DINPrefix, rec.Buyer).String(),
		Merchant:   crypto.MustNewAddress(crypto.DINPrefix, rec.Merchant).String(),
		DIN:        rec.DIN,
		Quantity:   rec.Quantity,
		TotalPrice: total,
		Timestamp:  rec.Timestamp,
	}
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, nil
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
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

func parseHash32(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hash: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("hash must be 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func decodeOrderRequest(raw json.RawMessage) (*checkout.OrderRequest, error) {
	var param orderRequestParam
	if err := json.Unmarshal(raw, &param); err != nil {
		return nil, fmt.Errorf("invalid order request: %w", err)
	}
	total, err := parseAmount(param.TotalPrice)
	if err != nil {
		return nil, fmt.Errorf("totalPrice: %w", err)
	}
	affiliateReward, err := parseAmount(param.AffiliateReward)
	if err != nil {
		return nil, fmt.Errorf("affiliateReward: %w", err)
	}
	loyaltyReward, err := parseAmount(param.LoyaltyReward)
	if err != nil {
		return nil, fmt.Errorf("loyaltyReward: %w", err)
	}
	funds, err := parseAmount(param.Funds)
	if err != nil {
		return nil, fmt.Errorf("funds: %w", err)
	}
	affiliate, err := parseAddress(param.Affiliate)
	if err != nil {
		return nil, fmt.Errorf("affiliate: %w", err)
	}
	buyer, err := parseAddress(param.Buyer)
	if err != nil {
		return nil, fmt.Errorf("buyer: %w", err)
	}
	if buyer == ([20]byte{}) {
		return nil, fmt.Errorf("buyer address required")
	}
	nonceHash, err := parseHash32(param.NonceHash)
	if err != nil {
		return nil, fmt.Errorf("nonceHash: %w", err)
	}
	r, err := parseHash32(param.R)
	if err != nil {
		return nil, fmt.Errorf("r: %w", err)
	}
	s, err := parseHash32(param.S)
	if err != nil {
		return nil, fmt.Errorf("s: %w", err)
	}
	return &checkout.OrderRequest{
		DIN:             param.DIN,
		Quantity:        param.Quantity,
		TotalPrice:      total,
		PriceValidUntil: param.PriceValidUntil,
		AffiliateReward: affiliateReward,
		Affiliate:       affiliate,
		LoyaltyReward:   loyaltyReward,
		LoyaltyToken:    param.LoyaltyToken,
		NonceHash:       nonceHash,
		V:               param.V,
		R:               r,
		S:               s,
		Buyer:           buyer,
		Funds:           funds,
	}, nil
}

func requireSingleParam(req *RPCRequest) (json.RawMessage, error) {
	if len(req.Params) != 1 {
		return nil, fmt.Errorf("expected exactly one parameter object")
	}
	return req.Params[0], nil
}

func (s *Server) handleBuy(w http.ResponseWriter, req *RPCRequest, logger *slog.Logger) {
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	order, err := decodeOrderRequest(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	start := time.Now()
	rec, err := s.engine.Buy(order)
	if err != nil {
		if rej, ok := checkout.Rejection(err); ok {
			s.metrics.ObserveRejection(rej.Reason.String(), time.Since(start))
			logger.Info("checkout rejected", "reason", rej.Reason.String(), "din", rej.DIN)
			writeError(w, http.StatusOK, req.ID, codeRejected, rej.Reason.String(), map[string]interface{}{
				"din":       rej.DIN,
				"timestamp": rej.Timestamp,
			})
			return
		}
		logger.Error("checkout failed", "error", err)
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	s.metrics.ObserveSettlement(time.Since(start))
	logger.Info("order committed", "orderId", rec.ID, "din", rec.DIN)
	writeResult(w, req.ID, newOrderResult(rec))
}

func (s *Server) handleIsValidOrder(w http.ResponseWriter, req *RPCRequest) {
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	order, err := decodeOrderRequest(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result := map[string]interface{}{"valid": true}
	if err := s.engine.IsValidOrder(order); err != nil {
		rej, ok := checkout.Rejection(err)
		if !ok {
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
			return
		}
		result["valid"] = false
		result["reason"] = rej.Reason.String()
	}
	writeResult(w, req.ID, result)
}

type signatureParam struct {
	Signer string `json:"signer"`
	Hash   string `json:"hash"`
	V      uint8  `json:"v"`
	R      string `json:"r"`
	S      string `json:"s"`
}

func (s *Server) handleIsValidSignature(w http.ResponseWriter, req *RPCRequest) {
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var param signatureParam
	if err := json.Unmarshal(raw, &param); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signature parameter", nil)
		return
	}
	signer, err := parseAddress(param.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("signer: %v", err), nil)
		return
	}
	hash, err := parseHash32(param.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("hash: %v", err), nil)
		return
	}
	r, err := parseHash32(param.R)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("r: %v", err), nil)
		return
	}
	sig, err := parseHash32(param.S)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("s: %v", err), nil)
		return
	}
	writeResult(w, req.ID, checkout.VerifySignature(signer, hash, param.V, r, sig))
}

type orderIDParam struct {
	OrderID uint64 `json:"orderId"`
}

func (s *Server) handleGetOrder(w http.ResponseWriter, req *RPCRequest) {
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var param orderIDParam
	if err := json.Unmarshal(raw, &param); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid order id parameter", nil)
		return
	}
	rec, err := s.orders.Get(param.OrderID)
	if err != nil {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, newOrderResult(rec))
}

func (s *Server) handleOrderCount(w http.ResponseWriter, req *RPCRequest) {
	count, err := s.orders.Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"count": count})
}

type balanceParam struct {
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var param balanceParam
	if err := json.Unmarshal(raw, &param); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid balance parameter", nil)
		return
	}
	addr, err := parseAddress(param.Address)
	if err != nil || addr == ([20]byte{}) {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address required", nil)
		return
	}
	if token := strings.TrimSpace(param.Token); token != "" {
		writeResult(w, req.ID, map[string]string{"balance": s.ledger.BalanceOf(token, addr).String()})
		return
	}
	acc, err := s.accounts.GetAccount(addr[:])
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": acc.Normalize().BalanceBase.String()})
}
