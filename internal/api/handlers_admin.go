package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/sweep"
	"github.com/deposit-scanner/internal/types"
)

const (
	defaultPendingLimit = 100
	maxPendingLimit     = 1000
)

// handleAssignWallet handles POST /admin/wallets
func (s *Server) handleAssignWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"userId"`
		Chain  string `json:"chain"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	chain, err := types.ParseChainID(req.Chain)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	res, err := s.wallets.AssignWallet(r.Context(), req.UserID, chain)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]interface{}{
		"userId":  res.Wallet.UserID,
		"chain":   res.Wallet.Chain,
		"address": res.Wallet.Address,
		"index":   res.Wallet.DerivationIndex,
		"created": res.Created,
	})
}

// handleSweep handles POST /admin/sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceAddress      string `json:"sourceAddress"`
		Currency           string `json:"currency"`
		DestinationAddress string `json:"destinationAddress"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.SourceAddress) == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "sourceAddress is required", nil)
		return
	}
	currency, err := types.ParseCurrency(req.Currency)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	res, err := s.sweeper.Sweep(r.Context(), sweep.Request{
		SourceAddress: strings.TrimSpace(req.SourceAddress),
		Currency:      currency,
		Destination:   strings.TrimSpace(req.DestinationAddress),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleGasDispatch handles POST /admin/gas-dispatch
func (s *Server) handleGasDispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
		Currency      string `json:"currency"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "walletAddress is required", nil)
		return
	}
	currency, err := types.ParseCurrency(req.Currency)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	res, err := s.sweeper.DispatchGas(r.Context(), strings.TrimSpace(req.WalletAddress), currency)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleSweepScan handles POST /admin/sweep-scan/{chain}
func (s *Server) handleSweepScan(w http.ResponseWriter, r *http.Request) {
	chain, err := types.ParseChainID(mux.Vars(r)["chain"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	stats, err := s.sweeper.RefreshBalances(r.Context(), chain)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"chain": chain,
		"stats": stats,
	})
}

// handleSpeedUp handles POST /admin/rescue/{hash}/speed-up
func (s *Server) handleSpeedUp(w http.ResponseWriter, r *http.Request) {
	res, err := s.rescuer.SpeedUp(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleCancel handles POST /admin/rescue/{hash}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.rescuer.Cancel(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleListPending handles GET /admin/pending?limit=N
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	limit := defaultPendingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPendingLimit {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}

	txs, err := s.pending.ListPending(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*models.PendingOutboundTx{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(txs),
		"transactions": txs,
	})
}
