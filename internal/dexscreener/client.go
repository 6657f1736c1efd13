// internal/dexscreener/client.go
package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.dexscreener.com/latest/dex"
	SolanaChain    = "solana"
	// WrappedSOL is the mint every SOL-quoted pair references.
	WrappedSOL = "So11111111111111111111111111111111111111112"

	defaultRequestsPerMinute = 300
	defaultTimeout           = 10 * time.Second
)

// TokenPairsResponse is the body of /tokens/{mint}.
type TokenPairsResponse struct {
	SchemaVersion string `json:"schemaVersion"`
	Pairs         []Pair `json:"pairs"`
}

// Pair is a single liquidity pool as reported by DexScreener.
type Pair struct {
	ChainID       string    `json:"chainId"`
	DexID         string    `json:"dexId"`
	PairAddress   string    `json:"pairAddress"`
	BaseToken     Token     `json:"baseToken"`
	QuoteToken    Token     `json:"quoteToken"`
	PriceNative   string    `json:"priceNative"`
	PriceUSD      string    `json:"priceUsd"`
	Liquidity     Liquidity `json:"liquidity"`
	PairCreatedAt int64     `json:"pairCreatedAt"`
}

type Token struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type Liquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// StatusError is returned when the API answers with a non-200 code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Code, e.Body)
}

// Options tune a Client. Zero values fall back to the public API defaults.
type Options struct {
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Client talks to the DexScreener REST API. It is shared by the price oracle
// and the liquidity guard so both draw from the same request budget.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = defaultRequestsPerMinute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1),
		logger:  logger.Named("dexscreener"),
	}
}

// TokenPairs returns every pool that trades the given mint.
func (c *Client) TokenPairs(ctx context.Context, mint string) ([]Pair, error) {
	url := fmt.Sprintf("%s/tokens/%s", c.baseURL, mint)

	var response TokenPairsResponse
	if err := c.get(ctx, url, &response); err != nil {
		return nil, fmt.Errorf("failed to get token pairs: %w", err)
	}
	return response.Pairs, nil
}

// BestSOLPair picks the Solana pair with the deepest USD liquidity that is
// quoted against wrapped SOL. It returns false when none exists.
func BestSOLPair(pairs []Pair, mint string) (Pair, bool) {
	return deepest(pairs, func(p Pair) bool {
		return p.BaseToken.Address == mint && p.QuoteToken.Address == WrappedSOL
	})
}

// DeepestPair picks the Solana pair with the deepest USD liquidity that
// trades mint against any quote token.
func DeepestPair(pairs []Pair, mint string) (Pair, bool) {
	return deepest(pairs, func(p Pair) bool {
		return p.BaseToken.Address == mint || p.QuoteToken.Address == mint
	})
}

func deepest(pairs []Pair, match func(Pair) bool) (Pair, bool) {
	var (
		best  Pair
		found bool
	)
	for _, pair := range pairs {
		if pair.ChainID != "" && pair.ChainID != SolanaChain {
			continue
		}
		if !match(pair) {
			continue
		}
		if !found || pair.Liquidity.USD > best.Liquidity.USD {
			best = pair
			found = true
		}
	}
	return best, found
}

// get performs a rate limited GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("request completed", zap.String("url", url))
	return nil
}
