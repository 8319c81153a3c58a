package external

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// HTTPFXProvider implements FXProvider against an exchangerate.host-
// shaped upstream: GET {BaseURL}/latest?base=FROM&symbols=TO returning
// {"rates": {"TO": 1.23}}.
type HTTPFXProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFXProvider(baseURL string, timeout time.Duration) *HTTPFXProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPFXProvider{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type fxRatesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

func (p *HTTPFXProvider) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/latest?base=%s&symbols=%s", p.baseURL, from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return decimal.Zero, fmt.Errorf("fx upstream returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fx upstream returned %d", resp.StatusCode)
	}

	var body fxRatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decoding fx response: %w", err)
	}

	rate, ok := body.Rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s->%s in upstream response", from, to)
	}
	return decimal.NewFromFloat(rate), nil
}
