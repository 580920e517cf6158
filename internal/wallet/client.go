package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type TransferResponse struct {
	TransferRef string `json:"transfer_ref"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// Client fala com o serviço externo de transferência de valor
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(base string) *Client {
	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 2 * time.Second},
	}
}

func (c *Client) Transfer(ctx context.Context, tr TransferRequest) (string, error) {
	body, _ := json.Marshal(tr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/wallet/transfers", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var out TransferResponse
	_ = json.NewDecoder(res.Body).Decode(&out)
	if res.StatusCode == http.StatusUnprocessableEntity {
		return "", fmt.Errorf("%w: %s", ErrTransferRejected, out.Reason)
	}
	if res.StatusCode >= 300 {
		return "", fmt.Errorf("wallet transfer http %d", res.StatusCode)
	}
	return out.TransferRef, nil
}
