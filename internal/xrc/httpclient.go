package xrc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPOracle fetches the ICP/USD rate from an exchange-rate bridge service.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

var _ Client = (*HTTPOracle)(nil)

func NewHTTPOracle(baseURL string) *HTTPOracle {
	return &HTTPOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type rateResponse struct {
	Rate      uint64 `json:"rate"`
	Decimals  uint32 `json:"decimals"`
	Timestamp uint64 `json:"timestamp"`
}

func (o *HTTPOracle) GetIcpRate(ctx context.Context) (ExchangeRate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/rates/icp-usd", nil)
	if err != nil {
		return ExchangeRate{}, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return ExchangeRate{}, fmt.Errorf("rate bridge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ExchangeRate{}, ErrNoRate
	}
	if resp.StatusCode != http.StatusOK {
		return ExchangeRate{}, fmt.Errorf("rate bridge: unexpected status %d", resp.StatusCode)
	}

	var rr rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return ExchangeRate{}, err
	}
	if rr.Rate == 0 {
		return ExchangeRate{}, ErrNoRate
	}
	return ExchangeRate{Rate: rr.Rate, Decimals: rr.Decimals, Timestamp: rr.Timestamp}, nil
}
