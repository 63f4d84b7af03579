package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"VaultLedger/internal/asset"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/vault"
)

// FeedResolver maps a feed reference from a registration request to a live
// price feed. Dev mode resolves against statically configured feeds.
type FeedResolver func(feedRef string) (oracle.PriceFeed, error)

// Deps wires the HTTP surface to the vault.
type Deps struct {
	Vault       *vault.Vault
	Health      *observability.HealthChecker
	ResolveFeed FeedResolver
	Logger      zerolog.Logger
}

// NewRouter builds the HTTP API. Admin operations identify the caller via
// the X-Caller header; role checks happen inside the vault.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)

	r.Get("/healthz", deps.Health.LivenessHandler)
	r.Get("/readyz", deps.Health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	s := &server{vault: deps.Vault, resolveFeed: deps.ResolveFeed, logger: deps.Logger}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/deposits", s.handleDeposit)
		r.Post("/withdrawals", s.handleWithdraw)
		r.Post("/withdrawals/swap", s.handleSwapWithdraw)

		r.Get("/balances/{user}/{asset}", s.handleBalance)
		r.Get("/status", s.handleStatus)
		r.Get("/assets", s.handleAssets)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/assets", s.handleRegisterAsset)
			r.Put("/capacity", s.handleSetCapacity)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/rescue", s.handleRescue)
		})
	})

	return r
}

type server struct {
	vault       *vault.Vault
	resolveFeed FeedResolver
	logger      zerolog.Logger
}

type depositRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"` // native units, decimal string
}

func (s *server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id", nil)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount", nil)
		return
	}

	usdAmount, err := s.vault.Deposit(r.Context(), user, req.Asset, amount)
	if err != nil {
		s.writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       req.User,
		"asset":      req.Asset,
		"amount":     req.Amount,
		"usd_amount": usdAmount,
	})
}

type withdrawRequest struct {
	User      string `json:"user"`
	Asset     string `json:"asset"`
	USDAmount int64  `json:"usd_amount"`
}

func (s *server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id", nil)
		return
	}

	native, err := s.vault.Withdraw(r.Context(), user, req.Asset, req.USDAmount)
	if err != nil {
		s.writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":          req.User,
		"asset":         req.Asset,
		"usd_amount":    req.USDAmount,
		"native_amount": native.String(),
	})
}

type swapWithdrawRequest struct {
	User      string   `json:"user"`
	USDAmount int64    `json:"usd_amount"`
	Path      []string `json:"path"`
}

func (s *server) handleSwapWithdraw(w http.ResponseWriter, r *http.Request) {
	var req swapWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id", nil)
		return
	}

	amountOut, err := s.vault.SwapWithdraw(r.Context(), user, req.USDAmount, req.Path)
	if err != nil {
		s.writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       req.User,
		"path":       req.Path,
		"usd_amount": req.USDAmount,
		"amount_out": amountOut.String(),
	})
}

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id", nil)
		return
	}
	assetID := chi.URLParam(r, "asset")

	balance := s.vault.Balance(user, assetID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    user.String(),
		"asset":   assetID,
		"balance": balance.String(),
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	deposits, withdrawals := s.vault.Counters()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_normalized":   s.vault.TotalNormalized(),
		"ceiling":            s.vault.Ceiling(),
		"withdraw_threshold": s.vault.Threshold(),
		"paused":             s.vault.Paused(),
		"deposits":           deposits,
		"withdrawals":        withdrawals,
	})
}

func (s *server) handleAssets(w http.ResponseWriter, r *http.Request) {
	regs := s.vault.Assets()
	out := make([]map[string]interface{}, 0, len(regs))
	for _, reg := range regs {
		out = append(out, map[string]interface{}{
			"asset":    reg.Asset,
			"decimals": reg.Decimals,
			"feed_ref": reg.FeedRef,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": out})
}

type registerAssetRequest struct {
	Asset    string `json:"asset"`
	Decimals uint8  `json:"decimals"`
	FeedRef  string `json:"feed_ref"`
}

func (s *server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req registerAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if s.resolveFeed == nil {
		writeError(w, http.StatusNotImplemented, "no feed resolver configured", nil)
		return
	}
	feed, err := s.resolveFeed(req.FeedRef)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown feed reference", map[string]interface{}{"feed_ref": req.FeedRef})
		return
	}

	if err := s.vault.RegisterAsset(caller(r), req.Asset, req.Decimals, req.FeedRef, feed); err != nil {
		s.writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset": req.Asset, "registered": true})
}

func (s *server) handleSetCapacity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ceiling int64 `json:"ceiling"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := s.vault.SetCapacity(caller(r), req.Ceiling); err != nil {
		s.writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ceiling": req.Ceiling})
}

func (s *server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Pause(caller(r)); err != nil {
		s.writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": true})
}

func (s *server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Resume(caller(r)); err != nil {
		s.writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": false})
}

type rescueRequest struct {
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

func (s *server) handleRescue(w http.ResponseWriter, r *http.Request) {
	var req rescueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	recipient, err := uuid.Parse(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recipient id", nil)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount", nil)
		return
	}

	if err := s.vault.RescueFunds(r.Context(), caller(r), recipient, req.Asset, amount); err != nil {
		s.writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rescued": true})
}

// caller extracts the admin identity. Authentication of the header is the
// deployment's concern (mTLS or gateway auth); this service only maps the
// identity to roles.
func caller(r *http.Request) string {
	return r.Header.Get("X-Caller")
}

// writeVaultError maps domain errors to HTTP statuses with diagnostic
// payloads so clients can react without parsing message strings.
func (s *server) writeVaultError(w http.ResponseWriter, err error) {
	var capErr *vault.CapacityExceededError
	var limErr *vault.WithdrawalLimitError
	var balErr *ledger.InsufficientBalanceError
	var trErr *vault.TransferFailedError

	switch {
	case errors.Is(err, vault.ErrZeroAmount):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, vault.ErrPaused):
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
	case errors.Is(err, vault.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, vault.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, asset.ErrNotRegistered),
		errors.Is(err, asset.ErrDecimalsNotSet),
		errors.Is(err, asset.ErrFeedNotSet),
		errors.Is(err, asset.ErrNativeReserved):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, oracle.ErrPriceStale),
		errors.Is(err, oracle.ErrPriceInvalid),
		errors.Is(err, oracle.ErrOracleCompromised):
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
	case errors.Is(err, math.ErrArithmeticOverflow):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.As(err, &capErr):
		writeError(w, http.StatusConflict, err.Error(), map[string]interface{}{
			"requested": capErr.Requested,
			"available": capErr.Available,
		})
	case errors.As(err, &limErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), map[string]interface{}{
			"requested": limErr.Requested,
			"threshold": limErr.Threshold,
		})
	case errors.As(err, &balErr):
		writeError(w, http.StatusConflict, err.Error(), map[string]interface{}{
			"current": balErr.Current.String(),
		})
	case errors.As(err, &trErr):
		writeError(w, http.StatusBadGateway, err.Error(), nil)
	default:
		s.logger.Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	body := map[string]interface{}{"error": message}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
