// Package webapp talks to the upstream economy service that may hold the
// authoritative balance.
package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fastprodman/gameledger/internal/config"
)

var ErrUpstream = errors.New("webapp request failed")

// Economy is the upstream balance API. Deduct and Credit carry the same
// idempotency key as the local ledger entry they mirror.
type Economy interface {
	Balance(ctx context.Context, userID uint64) (int64, error)
	Deduct(ctx context.Context, userID uint64, amount int64, idempotencyKey, reason string) (int64, error)
	Credit(ctx context.Context, userID uint64, amount int64, idempotencyKey, reason string) (int64, error)
}

const (
	IdempotencyHeader = "Idempotency-Key"
	apiKeyHeader      = "X-Api-Key"
	maxErrorBody      = 512
)

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Economy = (*HTTPClient)(nil)

// New returns nil when no base URL is configured; the local balance is then
// authoritative.
func New(cfg config.WebappConfig) *HTTPClient {
	if cfg.BaseURL == "" {
		return nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type mutationRequest struct {
	UserID uint64 `json:"userId"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (c *HTTPClient) Balance(ctx context.Context, userID uint64) (int64, error) {
	path := "/api/users/" + url.PathEscape(strconv.FormatUint(userID, 10)) + "/balance"

	var out balanceResponse

	err := c.do(ctx, http.MethodGet, path, "", nil, &out)
	if err != nil {
		return 0, err
	}

	return out.Balance, nil
}

func (c *HTTPClient) Deduct(ctx context.Context, userID uint64, amount int64, idempotencyKey, reason string) (int64, error) {
	return c.mutate(ctx, "/api/balance/deduct", userID, amount, idempotencyKey, reason)
}

func (c *HTTPClient) Credit(ctx context.Context, userID uint64, amount int64, idempotencyKey, reason string) (int64, error) {
	return c.mutate(ctx, "/api/balance/credit", userID, amount, idempotencyKey, reason)
}

func (c *HTTPClient) mutate(ctx context.Context, path string, userID uint64, amount int64, key, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrUpstream)
	}

	var out balanceResponse

	err := c.do(ctx, http.MethodPost, path, key, mutationRequest{UserID: userID, Amount: amount, Reason: reason}, &out)
	if err != nil {
		return 0, err
	}

	return out.Balance, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, key string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUpstream, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrUpstream, method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrUpstream, path, err)
	}

	return nil
}
