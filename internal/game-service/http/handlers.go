package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/game-service/dto"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/roundfeed"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
)

// getCurrent devolve a rodada ativa, preferencialmente do cache
func (a *API) getCurrent(w http.ResponseWriter, r *http.Request) {
	if a.Views != nil {
		if v, ok, err := a.Views.GetCurrent(r.Context()); err == nil && ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	rd, err := a.Machine.Active(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roundfeed.View(rd))
}

func (a *API) getRound(w http.ResponseWriter, r *http.Request) {
	id, ok := roundIDParam(r)
	if !ok {
		badRequest(w, "invalid round id")
		return
	}
	if a.Views != nil {
		if v, ok, err := a.Views.GetRound(r.Context(), id); err == nil && ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	rd, err := a.Machine.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roundfeed.View(rd))
}

// placeEntryStake debita o saldo e registra a aposta; se a rodada recusar,
// o débito é desfeito
func (a *API) placeEntryStake(w http.ResponseWriter, r *http.Request) {
	var req dto.StakeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "bad json")
		return
	}
	bettor, id := bettorOf(r), stakeID(r)

	a.stake(w, r, bettor, req.Amount, id, func(ctx context.Context) (*round.Round, error) {
		return a.Machine.PlaceEntryStake(ctx, round.StakeRequest{ID: id, Bettor: bettor, Amount: req.Amount})
	}, a.Machine.Active)
}

func (a *API) placeSpectatorStake(w http.ResponseWriter, r *http.Request) {
	roundID, ok := roundIDParam(r)
	if !ok {
		badRequest(w, "invalid round id")
		return
	}
	var req dto.SpectatorStakeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "bad json")
		return
	}
	bettor, id := bettorOf(r), stakeID(r)

	a.stake(w, r, bettor, req.Amount, id, func(ctx context.Context) (*round.Round, error) {
		return a.Machine.PlaceSpectatorStake(ctx, round.SpectatorRequest{
			ID: id, RoundID: roundID, Bettor: bettor, Target: req.Target, Amount: req.Amount,
		})
	}, func(ctx context.Context) (*round.Round, error) { return a.Machine.Get(ctx, roundID) })
}

func (a *API) stake(w http.ResponseWriter, r *http.Request, bettor string, amount uint64, id string,
	place func(context.Context) (*round.Round, error), current func(context.Context) (*round.Round, error)) {
	ctx := r.Context()
	if amount == 0 {
		a.writeError(w, r, round.ErrStakeTooSmall)
		return
	}
	// cada tentativa tem sua própria ref de débito; a dedupe da aposta é da rodada
	attempt := id + ":" + uuid.NewString()
	if _, err := a.Balances.Debit(ctx, bettor, amount, "stake:"+attempt); err != nil {
		a.writeError(w, r, err)
		return
	}

	rd, err := place(ctx)
	if err != nil {
		if _, cerr := a.Balances.Credit(context.WithoutCancel(ctx), bettor, amount, "stake-revert:"+attempt); cerr != nil {
			a.Log.Error("revert stake debit failed", zap.String("stake_id", id), zap.String("bettor", bettor), zap.Error(cerr))
		}
		if !errors.Is(err, round.ErrDuplicateEvent) {
			a.writeError(w, r, err)
			return
		}
		// repetição com o mesmo Idempotency-Key
		if rd, err = current(ctx); err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dto.StakeResponse{StakeID: id, Round: roundfeed.View(rd)})
		return
	}

	a.Log.Info("stake placed", zap.String("stake_id", id), zap.String("bettor", bettor),
		zap.Uint64("amount", amount), zap.Uint64("round_id", rd.ID))
	writeJSON(w, http.StatusCreated, dto.StakeResponse{StakeID: id, Round: roundfeed.View(rd)})
}

func (a *API) claim(w http.ResponseWriter, r *http.Request) {
	roundID, ok := roundIDParam(r)
	if !ok {
		badRequest(w, "invalid round id")
		return
	}
	a.runClaim(w, r, roundID, bettorOf(r))
}

func (a *API) runClaim(w http.ResponseWriter, r *http.Request, roundID uint64, bettor string) {
	rep, err := a.Payouts.Claim(r.Context(), roundID, bettor)
	if err != nil && len(rep.Results) == 0 {
		a.writeError(w, r, err)
		return
	}

	resp := dto.ClaimResponse{RoundID: roundID}
	for _, res := range rep.Results {
		cr := dto.ClaimResult{PayoutID: res.PayoutID, Bettor: res.Bettor, Amount: res.Amount, TransferRef: res.TransferRef}
		if res.Err != nil {
			cr.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, cr)
	}
	status := http.StatusOK
	if rep.Failed() > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (a *API) getWallet(w http.ResponseWriter, r *http.Request) {
	bettor := bettorOf(r)
	bal, err := a.Balances.Balance(r.Context(), bettor)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := dto.WalletResponse{Bettor: bettor, Balance: bal, Transactions: []dto.WalletTx{}}
	if a.Queue != nil {
		txs, err := a.Queue.List(r.Context(), bettor, walletHistory)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		for _, tx := range txs {
			resp.Transactions = append(resp.Transactions, walletTx(tx))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) walletTx(kind txqueue.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.Queue == nil {
			writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "wallet queue disabled"})
			return
		}
		var req dto.WalletTxRequest
		if err := decode(r, &req); err != nil {
			badRequest(w, "bad json")
			return
		}
		tx, err := a.Queue.Enqueue(r.Context(), kind, bettorOf(r), req.Amount, req.Priority)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, walletTx(tx))
	}
}

func walletTx(tx txqueue.Transaction) dto.WalletTx {
	return dto.WalletTx{
		ID: tx.ID, Kind: string(tx.Kind), Amount: tx.Amount, Status: string(tx.Status),
		Compensated: tx.Compensated, LastError: tx.LastError, CreatedAt: tx.CreatedAt,
	}
}

// ---- admin ----

func (a *API) forceReset(w http.ResponseWriter, r *http.Request) {
	a.admin(w, r, func(ctx context.Context, id uint64, req dto.AdminRequest) (*round.Round, error) {
		return a.Machine.ForceReset(ctx, id, req.Reason)
	})
}

func (a *API) halt(w http.ResponseWriter, r *http.Request) {
	a.admin(w, r, func(ctx context.Context, id uint64, req dto.AdminRequest) (*round.Round, error) {
		if req.Reason == "" {
			req.Reason = "operator halt"
		}
		return a.Machine.Halt(ctx, id, req.Reason)
	})
}

func (a *API) unlock(w http.ResponseWriter, r *http.Request) {
	a.admin(w, r, func(ctx context.Context, id uint64, _ dto.AdminRequest) (*round.Round, error) {
		return a.Machine.EmergencyUnlock(ctx, id)
	})
}

func (a *API) collectHouseFee(w http.ResponseWriter, r *http.Request) {
	a.admin(w, r, func(ctx context.Context, id uint64, _ dto.AdminRequest) (*round.Round, error) {
		return a.Machine.CollectHouseFee(ctx, id)
	})
}

func (a *API) adminClaims(w http.ResponseWriter, r *http.Request) {
	roundID, ok := roundIDParam(r)
	if !ok {
		badRequest(w, "invalid round id")
		return
	}
	a.runClaim(w, r, roundID, "")
}

func (a *API) admin(w http.ResponseWriter, r *http.Request, op func(context.Context, uint64, dto.AdminRequest) (*round.Round, error)) {
	id, ok := roundIDParam(r)
	if !ok {
		badRequest(w, "invalid round id")
		return
	}
	var req dto.AdminRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "bad json")
		return
	}
	rd, err := op(r.Context(), id, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Log.Warn("admin action", zap.String("path", r.URL.Path), zap.Uint64("round_id", id), zap.String("reason", req.Reason))
	writeJSON(w, http.StatusOK, roundfeed.View(rd))
}
