package simulator

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/ledger"
	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

type StakeReq struct {
	Bettor string `json:"bettor"`
	Amount uint64 `json:"amount"`
	Bot    bool   `json:"bot,omitempty"`
}

type SpectatorStakeReq struct {
	Bettor string `json:"bettor"`
	Target string `json:"target"`
	Amount uint64 `json:"amount"`
}

type ControlReq struct {
	FailNext int  `json:"fail_next,omitempty"`
	Down     bool `json:"down"`
}

type errorResp struct {
	Error string `json:"error"`
}

// Server expõe o ledger, o oracle e a carteira nas rotas que os clientes
// HTTP da arena usam
type Server struct {
	Ledger *Ledger
	Oracle *randomness.MockOracle
	Wallet *Wallet
	Log    *zap.Logger
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/ledger", func(r chi.Router) {
		r.Get("/snapshot", s.snapshot)
		r.Get("/health", s.health)
		r.Get("/tx/{handle}", s.txStatus)
		r.Post("/stakes", s.placeStake)
		r.Post("/rounds/{id}/spectator-stakes", s.placeSpectatorStake)
		r.Post("/rounds/{id}/close", s.submitClose)
		r.Post("/rounds/{id}/winner", s.submitWinner)
	})
	r.Route("/oracle/requests", func(r chi.Router) {
		r.Post("/", s.requestRandomness)
		r.Get("/{ref}", s.fulfillment)
		r.Post("/{ref}/fulfill", s.fulfill)
	})
	r.Post("/wallet/transfers", s.transfer)
	r.Post("/sim/control", s.control)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResp{Error: err.Error()})
}

func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUnknownTx):
		return http.StatusNotFound
	}
	return http.StatusConflict
}

func roundID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) snapshot(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.Ledger.Snapshot()
	if err != nil {
		fail(w, ledgerStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if !s.Ledger.Healthy() {
		fail(w, http.StatusServiceUnavailable, ErrUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, ledger.Health{Healthy: true})
}

func (s *Server) txStatus(w http.ResponseWriter, r *http.Request) {
	h := ledger.TxHandle(chi.URLParam(r, "handle"))
	st, err := s.Ledger.TxStatus(r.Context(), h)
	if err != nil {
		fail(w, ledgerStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.TxStatusResponse{Handle: h, Status: st})
}

func (s *Server) placeStake(w http.ResponseWriter, r *http.Request) {
	var req StakeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Bettor == "" || req.Amount == 0 {
		fail(w, http.StatusBadRequest, errors.New("bettor and amount required"))
		return
	}
	ev, err := s.Ledger.PlaceStake(r.Context(), req.Bettor, req.Amount, req.Bot)
	if err != nil {
		fail(w, ledgerStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) placeSpectatorStake(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(r)
	if !ok {
		fail(w, http.StatusBadRequest, errors.New("invalid round id"))
		return
	}
	var req SpectatorStakeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Bettor == "" || req.Amount == 0 {
		fail(w, http.StatusBadRequest, errors.New("bettor, target and amount required"))
		return
	}
	ev, err := s.Ledger.PlaceSpectatorStake(r.Context(), id, req.Bettor, req.Target, req.Amount)
	if err != nil {
		fail(w, ledgerStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) submitClose(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(r)
	if !ok {
		fail(w, http.StatusBadRequest, errors.New("invalid round id"))
		return
	}
	h, err := s.Ledger.SubmitCloseBetting(id)
	if err != nil {
		fail(w, ledgerStatus(err), err)
		return
	}
	s.Log.Info("close betting submitted", zap.Uint64("round_id", id), zap.String("handle", string(h)))
	writeJSON(w, http.StatusAccepted, ledger.SubmitResponse{Handle: h})
}

func (s *Server) submitWinner(w http.ResponseWriter, r *http.Request) {
	id, ok := roundID(r)
	if !ok {
		fail(w, http.StatusBadRequest, errors.New("invalid round id"))
		return
	}
	var req ledger.SubmitWinnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	h, err := s.Ledger.SubmitWinner(id, req.Winner)
	if err != nil {
		fail(w, ledgerStatus(err), err)
		return
	}
	s.Log.Info("winner submitted", zap.Uint64("round_id", id), zap.String("winner", req.Winner),
		zap.String("handle", string(h)))
	writeJSON(w, http.StatusAccepted, ledger.SubmitResponse{Handle: h})
}

func (s *Server) requestRandomness(w http.ResponseWriter, r *http.Request) {
	var req randomness.OracleRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoundID == 0 {
		fail(w, http.StatusBadRequest, errors.New("round_id and tag required"))
		return
	}
	ref, err := s.Oracle.RequestRandomness(r.Context(), req.RoundID, req.Tag)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, randomness.OracleRequestResponse{Ref: ref})
}

func (s *Server) fulfillment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	seed, ready, err := s.Oracle.Fulfillment(r.Context(), ref)
	if errors.Is(err, randomness.ErrUnknownRef) {
		fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	out := randomness.OracleFulfillmentResponse{Ref: ref, Ready: ready}
	if ready {
		out.Seed = hex.EncodeToString(seed)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) fulfill(w http.ResponseWriter, r *http.Request) {
	if err := s.Oracle.Fulfill(chi.URLParam(r, "ref")); err != nil {
		fail(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req wallet.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	ref, err := s.Wallet.Transfer(req)
	if errors.Is(err, wallet.ErrTransferRejected) {
		writeJSON(w, http.StatusUnprocessableEntity, wallet.TransferResponse{Status: "rejected", Reason: err.Error()})
		return
	}
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet.TransferResponse{TransferRef: ref, Status: "completed"})
}

// control liga as falhas simuladas do ledger
func (s *Server) control(w http.ResponseWriter, r *http.Request) {
	var req ControlReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	s.Ledger.SetDown(req.Down)
	s.Ledger.FailNext(req.FailNext)
	s.Log.Warn("simulator control", zap.Bool("down", req.Down), zap.Int("fail_next", req.FailNext))
	w.WriteHeader(http.StatusNoContent)
}
