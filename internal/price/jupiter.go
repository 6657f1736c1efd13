// internal/price/jupiter.go
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-autosell/internal/dexscreener"
)

const DefaultJupiterURL = "https://api.jup.ag/price/v2"

type jupiterResponse struct {
	Data map[string]*struct {
		ID    string          `json:"id"`
		Type  string          `json:"type"`
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}

// JupiterProvider quotes a token through the Jupiter price API with SOL as
// the vs token.
type JupiterProvider struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewJupiterProvider creates a provider that waits at least delay between
// requests.
func NewJupiterProvider(baseURL string, delay time.Duration, timeout time.Duration) *JupiterProvider {
	if baseURL == "" {
		baseURL = DefaultJupiterURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &JupiterProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: newLimiter(delay),
	}
}

func (p *JupiterProvider) Name() string { return "jupiter" }

func (p *JupiterProvider) Price(ctx context.Context, tokenID string) (float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	q := url.Values{}
	q.Set("ids", tokenID)
	q.Set("vsToken", dexscreener.WrappedSOL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var out jupiterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	entry, ok := out.Data[tokenID]
	if !ok || entry == nil {
		return 0, fmt.Errorf("token %s not quoted", tokenID)
	}
	return entry.Price.InexactFloat64(), nil
}

// newLimiter spaces calls by delay with a burst of one. A zero delay means
// no limit.
func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
