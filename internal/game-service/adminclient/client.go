// Package adminclient fala com as rotas de operação do game-service
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/radieske/arena-wager-platform/internal/game-service/dto"
	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

// APIError carrega o status e a mensagem devolvidos pelo game-service
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("game-service http %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(base, token string) *Client {
	return &Client{BaseURL: base, Token: token, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// Round devolve a rodada pedida; id 0 é a rodada ativa
func (c *Client) Round(ctx context.Context, id uint64) (events.RoundView, error) {
	path := "/v1/rounds/current"
	if id != 0 {
		path = "/v1/rounds/" + strconv.FormatUint(id, 10)
	}
	var out events.RoundView
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) ForceReset(ctx context.Context, id uint64, reason string) (events.RoundView, error) {
	return c.roundAction(ctx, id, "force-reset", reason)
}

func (c *Client) Halt(ctx context.Context, id uint64, reason string) (events.RoundView, error) {
	return c.roundAction(ctx, id, "halt", reason)
}

func (c *Client) Unlock(ctx context.Context, id uint64) (events.RoundView, error) {
	return c.roundAction(ctx, id, "unlock", "")
}

func (c *Client) CollectHouseFee(ctx context.Context, id uint64) (events.RoundView, error) {
	return c.roundAction(ctx, id, "house-fee", "")
}

// Claims tenta de novo todos os payouts em claim_pending da rodada
func (c *Client) Claims(ctx context.Context, id uint64) (dto.ClaimResponse, error) {
	var out dto.ClaimResponse
	err := c.do(ctx, http.MethodPost, "/v1/admin/rounds/"+strconv.FormatUint(id, 10)+"/claims", struct{}{}, &out)
	return out, err
}

func (c *Client) roundAction(ctx context.Context, id uint64, action, reason string) (events.RoundView, error) {
	var out events.RoundView
	path := "/v1/admin/rounds/" + strconv.FormatUint(id, 10) + "/" + action
	err := c.do(ctx, http.MethodPost, path, dto.AdminRequest{Reason: reason}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		var e dto.ErrorResponse
		_ = json.NewDecoder(res.Body).Decode(&e)
		return &APIError{Status: res.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(res.Body).Decode(out)
}
