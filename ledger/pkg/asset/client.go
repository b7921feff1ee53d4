package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/givestake/ledger/ledger/pkg/types"
	"github.com/givestake/ledger/utils/pkg/retry"
)

// IdempotencyKeyHeader carries the per-call key the custody service
// deduplicates mutating requests on.
const IdempotencyKeyHeader = "Idempotency-Key"

// Client is an HTTP client for the custody service, implementing both
// Transferrer and RewardToken. Mutating calls are retried only when the
// failure is clearly transient; every attempt of one logical call carries the
// same Idempotency-Key header, so a retry of a request the custody service
// already applied is a no-op server-side.
type Client struct {
	baseURL    string
	treasury   types.Address
	httpClient *http.Client
	retryCfg   retry.Config
	log        *slog.Logger
	observe    func(endpoint string, duration time.Duration, err error)
}

// WithObserver installs a per-call observation hook, invoked once per logical
// call with the endpoint path and total duration including retries.
func (c *Client) WithObserver(observe func(endpoint string, duration time.Duration, err error)) *Client {
	c.observe = observe
	return c
}

// WithRetryConfig overrides the default retry policy.
func (c *Client) WithRetryConfig(cfg retry.Config) *Client {
	c.retryCfg = cfg
	return c
}

// NewClient creates a custody client. Transfer debits the given treasury
// account.
func NewClient(baseURL string, treasury types.Address, log *slog.Logger) *Client {
	// Dial timeout keeps a dead custody endpoint from stalling ledger
	// operations; the transaction holding the challenge lock is waiting on us.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
	}

	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		treasury: treasury,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Minute,
		},
		retryCfg: retry.DefaultConfig(),
		log:      log,
	}
}

type transferRequest struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type tokenRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type balanceResponse struct {
	Amount int64 `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusError carries the HTTP status so retry.IsRetryable can branch on it.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("custody service returned %d: %s", e.status, e.body)
}

func (e *statusError) StatusCode() int { return e.status }

func (c *Client) Transfer(ctx context.Context, to types.Address, amount int64) error {
	return c.post(ctx, "/v1/transfer", transferRequest{From: c.treasury.String(), To: to.String(), Amount: amount}, nil)
}

func (c *Client) TransferFrom(ctx context.Context, from, to types.Address, amount int64) error {
	return c.post(ctx, "/v1/transfer-from", transferRequest{From: from.String(), To: to.String(), Amount: amount}, nil)
}

func (c *Client) Mint(ctx context.Context, to types.Address, amount int64) error {
	return c.post(ctx, "/v1/token/mint", tokenRequest{Account: to.String(), Amount: amount}, nil)
}

func (c *Client) Burn(ctx context.Context, from types.Address, amount int64) error {
	return c.post(ctx, "/v1/token/burn", tokenRequest{Account: from.String(), Amount: amount}, nil)
}

func (c *Client) BalanceOf(ctx context.Context, account types.Address) (int64, error) {
	var resp balanceResponse
	err := c.get(ctx, "/v1/token/balance/"+account.String(), &resp)
	if err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (c *Client) TotalSupply(ctx context.Context) (int64, error) {
	var resp balanceResponse
	err := c.get(ctx, "/v1/token/supply", &resp)
	if err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal custody request: %w", err)
	}
	// One key per logical call, constant across retries. A retried request
	// whose first attempt actually executed server-side deduplicates instead
	// of moving funds twice.
	idempotencyKey := uuid.NewString()
	start := time.Now()
	err = retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
		return c.do(req, out)
	})
	if c.observe != nil {
		c.observe(path, time.Since(start), err)
	}
	return err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	start := time.Now()
	err := retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		return c.do(req, out)
	})
	if c.observe != nil {
		c.observe(path, time.Since(start), err)
	}
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("custody request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read custody response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eresp errorResponse
		msg := strings.TrimSpace(string(raw))
		if err := json.Unmarshal(raw, &eresp); err == nil && eresp.Error != "" {
			msg = eresp.Error
		}
		c.log.Debug("asset/client: custody call rejected", "path", req.URL.Path, "status", resp.StatusCode, "error", msg)
		return &statusError{status: resp.StatusCode, body: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode custody response: %w", err)
		}
	}
	return nil
}
