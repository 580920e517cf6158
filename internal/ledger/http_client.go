package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/quartz"
)

// HTTPGateway fala com o ledger externo via REST
type HTTPGateway struct {
	BaseURL string
	HTTP    *http.Client

	// intervalo entre consultas em AwaitConfirmation
	PollInterval time.Duration
	Clock        quartz.Clock
}

func NewHTTPGateway(base string, clock quartz.Clock) *HTTPGateway {
	return &HTTPGateway{
		BaseURL:      base,
		HTTP:         &http.Client{Timeout: 3 * time.Second},
		PollInterval: 500 * time.Millisecond,
		Clock:        clock,
	}
}

type SubmitWinnerRequest struct {
	Winner string `json:"winner"` // vazio em rodada reembolsada
}

type SubmitResponse struct {
	Handle TxHandle `json:"handle"`
}

type TxStatusResponse struct {
	Handle TxHandle `json:"handle"`
	Status TxStatus `json:"status"`
}

func (g *HTTPGateway) GetRoundSnapshot(ctx context.Context) (RoundSnapshot, error) {
	var out RoundSnapshot
	err := g.do(ctx, http.MethodGet, "/ledger/snapshot", nil, &out)
	return out, err
}

func (g *HTTPGateway) SubmitCloseBetting(ctx context.Context, roundID uint64) (TxHandle, error) {
	var out SubmitResponse
	if err := g.do(ctx, http.MethodPost, "/ledger/rounds/"+strconv.FormatUint(roundID, 10)+"/close", struct{}{}, &out); err != nil {
		return "", fmt.Errorf("%w: close betting: %v", ErrSubmissionFailed, err)
	}
	return out.Handle, nil
}

func (g *HTTPGateway) SubmitWinner(ctx context.Context, roundID uint64, winner string) (TxHandle, error) {
	var out SubmitResponse
	if err := g.do(ctx, http.MethodPost, "/ledger/rounds/"+strconv.FormatUint(roundID, 10)+"/winner", SubmitWinnerRequest{Winner: winner}, &out); err != nil {
		return "", fmt.Errorf("%w: submit winner: %v", ErrSubmissionFailed, err)
	}
	return out.Handle, nil
}

// AwaitConfirmation consulta o status até confirmar, falhar ou o ctx expirar
func (g *HTTPGateway) AwaitConfirmation(ctx context.Context, h TxHandle) (bool, error) {
	for {
		var out TxStatusResponse
		if err := g.do(ctx, http.MethodGet, "/ledger/tx/"+url.PathEscape(string(h)), nil, &out); err != nil {
			return false, err
		}
		switch out.Status {
		case TxConfirmed:
			return true, nil
		case TxFailed:
			return false, nil
		}

		t := g.Clock.NewTimer(g.PollInterval, "ledger", "await")
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
}

func (g *HTTPGateway) HealthCheck(ctx context.Context) (Health, error) {
	start := g.Clock.Now()
	var out Health
	if err := g.do(ctx, http.MethodGet, "/ledger/health", nil, &out); err != nil {
		return Health{}, err
	}
	out.Latency = g.Clock.Since(start)
	return out, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := g.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("ledger %s %s http %d", method, path, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
