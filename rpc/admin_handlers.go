package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"dinmarket/native/registry"
)

type registerParam struct {
	Owner string `json:"owner"`
}

func (s *Server) handleRegistryRegister(w http.ResponseWriter, req *RPCRequest, logger *slog.Logger) {
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var param registerParam
	if err := json.Unmarshal(raw, &param); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid register parameter", nil)
		return
	}
	owner, err := parseAddress(param.Owner)
	if err != nil || owner == ([20]byte{}) {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "owner address required", nil)
		return
	}
	din, err := s.registry.Register(owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	logger.Info("DIN registered", "din", din)
	writeResult(w, req.ID, map[string]uint64{"din": din})
}

type setMerchantParam struct {
	DIN        uint64 `json:"din"`
	Owner      string `json:"owner"`
	Merchant   string `json:"merchant"`
	ProductURL string `json:"productUrl,omitempty"`
}

// handleRegistrySetMerchant installs the merchant record on the node's static
// resolver and binds the DIN to it in one call.
func (s *Server) handleRegistrySetMerchant(w http.ResponseWriter, req *RPCRequest, logger *slog.Logger) {
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var param setMerchantParam
	if err := json.Unmarshal(raw, &param); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid merchant parameter", nil)
		return
	}
	owner, err := parseAddress(param.Owner)
	if err != nil || owner == ([20]byte{}) {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "owner address required", nil)
		return
	}
	merchant, err := parseAddress(param.Merchant)
	if err != nil || merchant == ([20]byte{}) {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "merchant address required", nil)
		return
	}
	s.static.SetRecord(param.DIN, registry.Record{Merchant: merchant, ProductURL: strings.TrimSpace(param.ProductURL)})
	if err := s.registry.SetResolver(param.DIN, owner, s.resolver); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	logger.Info("merchant bound", "din", param.DIN)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type mintParam struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func (s *Server) handleTokenMint(w http.ResponseWriter, req *RPCRequest, logger *slog.Logger) {
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var param mintParam
	if err := json.Unmarshal(raw, &param); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid mint parameter", nil)
		return
	}
	addr, err := parseAddress(param.Address)
	if err != nil || addr == ([20]byte{}) {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address required", nil)
		return
	}
	amount, err := parseAmount(param.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("amount: %v", err), nil)
		return
	}
	if err := s.ledger.Mint(param.Token, addr, amount); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	logger.Info("tokens minted", "token", param.Token, "amount", amount.String())
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type whitelistParam struct {
	Token    string `json:"token"`
	Accepted bool   `json:"accepted"`
}

func (s *Server) handleTokenSetWhitelisted(w http.ResponseWriter, req *RPCRequest, logger *slog.Logger) {
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var param whitelistParam
	if err := json.Unmarshal(raw, &param); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid whitelist parameter", nil)
		return
	}
	if strings.TrimSpace(param.Token) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "token symbol required", nil)
		return
	}
	s.ledger.SetWhitelisted(param.Token, param.Accepted)
	logger.Info("loyalty whitelist updated", "token", param.Token, "accepted", param.Accepted)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type pauseParam struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

// handleSetPaused toggles the administrative pause of a native module. A
// paused checkout module rejects every settlement until resumed.
func (s *Server) handleSetPaused(w http.ResponseWriter, req *RPCRequest, logger *slog.Logger) {
	if s.pauses == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "pause control not enabled", nil)
		return
	}
	raw, err := requireSingleParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var param pauseParam
	if err := json.Unmarshal(raw, &param); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid pause parameter", nil)
		return
	}
	module := strings.TrimSpace(param.Module)
	if module == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "module name required", nil)
		return
	}
	s.pauses.SetPaused(module, param.Paused)
	logger.Info("module pause updated", "module", module, "paused", param.Paused)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
