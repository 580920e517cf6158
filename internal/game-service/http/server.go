package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/game-service/dto"
	"github.com/radieske/arena-wager-platform/internal/payout"
	"github.com/radieske/arena-wager-platform/internal/pool"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
	"github.com/radieske/arena-wager-platform/internal/wallet"
	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

const (
	headerBettor      = "X-Bettor-ID"
	headerIdempotency = "Idempotency-Key"
	walletHistory     = 20
)

// Views é a leitura cacheada das rodadas (Redis); opcional
type Views interface {
	GetRound(ctx context.Context, id uint64) (events.RoundView, bool, error)
	GetCurrent(ctx context.Context) (events.RoundView, bool, error)
}

// API expõe apostas, claims, carteira e as projeções das rodadas
type API struct {
	Machine    *round.Machine
	Payouts    *payout.Distributor
	Queue      *txqueue.Queue
	Balances   wallet.Balances
	Views      Views
	WS         http.HandlerFunc
	AdminToken string
	Log        *zap.Logger
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, withCORS)

	r.Get("/v1/rounds/current", a.getCurrent)
	r.Get("/v1/rounds/{id}", a.getRound)
	if a.WS != nil {
		r.Get("/ws", a.WS)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireBettor)
		r.Post("/v1/rounds/current/stakes", a.placeEntryStake)
		r.Post("/v1/rounds/{id}/spectator-stakes", a.placeSpectatorStake)
		r.Post("/v1/rounds/{id}/claims", a.claim)
		r.Get("/v1/wallet", a.getWallet)
		r.Post("/v1/wallet/deposits", a.walletTx(txqueue.KindDeposit))
		r.Post("/v1/wallet/withdrawals", a.walletTx(txqueue.KindWithdrawal))
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(a.requireAdmin)
		r.Post("/rounds/{id}/force-reset", a.forceReset)
		r.Post("/rounds/{id}/halt", a.halt)
		r.Post("/rounds/{id}/unlock", a.unlock)
		r.Post("/rounds/{id}/claims", a.adminClaims)
		r.Post("/rounds/{id}/house-fee", a.collectHouseFee)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor traduz os erros do domínio em status HTTP
func statusFor(err error) int {
	switch {
	case errors.Is(err, round.ErrRoundNotFound), errors.Is(err, round.ErrNoActiveRound),
		errors.Is(err, txqueue.ErrNotFound), errors.Is(err, payout.ErrNothingToClaim):
		return http.StatusNotFound
	case errors.Is(err, round.ErrStakeTooSmall), errors.Is(err, round.ErrStakeTooLarge),
		errors.Is(err, round.ErrInvalidBettor), errors.Is(err, round.ErrTargetNotFinalist),
		errors.Is(err, round.ErrNotASpectator), errors.Is(err, txqueue.ErrInvalidAmount),
		errors.Is(err, pool.ErrZeroAmount):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, round.ErrConcurrentUpdate):
		return http.StatusServiceUnavailable
	case errors.Is(err, payout.ErrAutoPayoutFailed), errors.Is(err, wallet.ErrTransferRejected):
		return http.StatusBadGateway
	case round.IsRejected(err), errors.Is(err, round.ErrEmergencyTimeoutNotElapsed),
		errors.Is(err, round.ErrSubmissionInFlight), errors.Is(err, round.ErrHouseFeeCollected),
		errors.Is(err, txqueue.ErrInvalidState):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.Log.Error("request failed", zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	}
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: msg})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+headerBettor+", "+headerIdempotency)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireBettor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(headerBettor)) == "" {
			writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: headerBettor + " header required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin exige Authorization: Bearer ADMIN_TOKEN; sem token configurado as rotas ficam fechadas
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if a.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.AdminToken)) != 1 {
			writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bettorOf(r *http.Request) string { return strings.TrimSpace(r.Header.Get(headerBettor)) }

// stakeID usa o Idempotency-Key do cliente quando presente
func stakeID(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(headerIdempotency)); k != "" {
		return "http:" + bettorOf(r) + ":" + k
	}
	return "http:" + uuid.NewString()
}

func roundIDParam(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func decode(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}
