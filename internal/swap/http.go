// internal/swap/http.go
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPConfig configures the execution service client.
type HTTPConfig struct {
	URL          string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	MaxElapsed   time.Duration
	RequestDelay time.Duration
}

type sellRequest struct {
	Side          string  `json:"side"`
	ClientOrderID string  `json:"clientOrderId"`
	TokenID       string  `json:"tokenId"`
	WalletRef     string  `json:"walletRef"`
	Quantity      *string `json:"quantity,omitempty"`
	SellAll       bool    `json:"sellAll,omitempty"`
	SlippageBps   int     `json:"slippageBps"`
}

type sellResponse struct {
	Signature      string           `json:"signature"`
	ReceivedAmount decimal.Decimal  `json:"receivedAmount"`
	Quantity       *decimal.Decimal `json:"quantity,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPExecutor sends sell orders to the swap execution service.
type HTTPExecutor struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewHTTPExecutor(cfg HTTPConfig, logger *zap.Logger) *HTTPExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = time.Minute
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}
	return &HTTPExecutor{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.Named("swap"),
	}
}

// Sell submits the order and retries transport failures and 5xx answers.
// The client order id stays the same across retries so the service can
// deduplicate.
func (e *HTTPExecutor) Sell(ctx context.Context, order SellOrder) (Result, error) {
	if err := order.Validate(); err != nil {
		return Result{}, err
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}

	body, err := json.Marshal(buildRequest(order))
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.RetryDelay
	policy.MaxInterval = e.cfg.RetryDelay * 10

	notify := func(err error, d time.Duration) {
		e.logger.Warn("sell attempt failed, retrying",
			zap.String("client_order_id", order.ClientOrderID),
			zap.String("token_id", order.TokenID),
			zap.Duration("backoff", d),
			zap.Error(err))
	}

	operation := func() (Result, error) {
		return e.send(ctx, body)
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(e.cfg.MaxRetries)),
		backoff.WithMaxElapsedTime(e.cfg.MaxElapsed),
		backoff.WithNotify(notify))
	if err != nil {
		return Result{}, fmt.Errorf("sell %s: %w", order.TokenID, err)
	}

	e.logger.Info("sell confirmed",
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("token_id", order.TokenID),
		zap.String("signature", res.Signature),
		zap.Float64("received", res.ReceivedAmount))
	return res, nil
}

func buildRequest(order SellOrder) sellRequest {
	req := sellRequest{
		Side:          "sell",
		ClientOrderID: order.ClientOrderID,
		TokenID:       order.TokenID,
		WalletRef:     order.WalletRef,
		SellAll:       order.SellAll,
		SlippageBps:   order.SlippageBps,
	}
	if !order.SellAll {
		q := decimal.NewFromFloat(order.Quantity).String()
		req.Quantity = &q
	}
	return req
}

// send performs one attempt. Errors that must not be retried are wrapped
// with backoff.Permanent.
func (e *HTTPExecutor) send(ctx context.Context, body []byte) (Result, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, backoff.Permanent(ctx.Err())
		}
		// Временная ошибка для retry
		return Result{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("execution service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("execution service rate limited: %s", strings.TrimSpace(string(raw)))
	case resp.StatusCode >= 400:
		return Result{}, backoff.Permanent(decodeError(resp.StatusCode, raw))
	}

	var out sellResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if err := ValidateSignature(out.Signature); err != nil {
		return Result{}, backoff.Permanent(err)
	}

	res := Result{
		Signature:      out.Signature,
		ReceivedAmount: out.ReceivedAmount.InexactFloat64(),
	}
	if out.Quantity != nil {
		res.Quantity = out.Quantity.InexactFloat64()
	}
	return res, nil
}

func decodeError(status int, raw []byte) error {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err != nil || (er.Error == "" && er.Code == "") {
		er.Error = strings.TrimSpace(string(raw))
	}
	if IsSlippageExceeded(er.Code, er.Error) {
		return &SlippageExceededError{Message: er.Error}
	}
	return &RejectedError{StatusCode: status, Code: er.Code, Message: er.Error}
}

// IsPermanent reports whether retrying the same order is pointless.
func IsPermanent(err error) bool {
	var rejected *RejectedError
	return errors.Is(err, ErrInvalidOrder) || errors.As(err, &rejected)
}
