package randomness

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPOracle fala com o oracle externo via REST
type HTTPOracle struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPOracle(base string) *HTTPOracle {
	return &HTTPOracle{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 3 * time.Second},
	}
}

type OracleRequestBody struct {
	RoundID uint64 `json:"round_id"`
	Tag     Tag    `json:"tag"`
}

type OracleRequestResponse struct {
	Ref string `json:"ref"`
}

type OracleFulfillmentResponse struct {
	Ref   string `json:"ref"`
	Ready bool   `json:"ready"`
	Seed  string `json:"seed,omitempty"` // hex
}

func (o *HTTPOracle) RequestRandomness(ctx context.Context, roundID uint64, tag Tag) (string, error) {
	body, _ := json.Marshal(OracleRequestBody{RoundID: roundID, Tag: tag})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/oracle/requests", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := o.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return "", fmt.Errorf("oracle request http %d", res.StatusCode)
	}
	var out OracleRequestResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", fmt.Errorf("oracle request: empty ref")
	}
	return out.Ref, nil
}

func (o *HTTPOracle) Fulfillment(ctx context.Context, ref string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/oracle/requests/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, false, err
	}
	res, err := o.HTTP.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, false, fmt.Errorf("oracle fulfillment http %d", res.StatusCode)
	}
	var out OracleFulfillmentResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, false, err
	}
	if !out.Ready {
		return nil, false, nil
	}
	seed, err := hex.DecodeString(out.Seed)
	if err != nil {
		return nil, false, fmt.Errorf("decode seed: %w", err)
	}
	return seed, true, nil
}
