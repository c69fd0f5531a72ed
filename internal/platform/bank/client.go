package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fatflowers/donations/pkg/config"
	"github.com/fatflowers/donations/pkg/logctx"
)

var (
	// ErrMissingToken is a configuration error: the run fails and the next tick retries.
	ErrMissingToken = errors.New("bank statement token is not configured")
	ErrUpstream     = errors.New("bank statement api error")
	// ErrThrottled is returned when the upstream rejects a request made too soon after the previous one.
	ErrThrottled = errors.New("bank statement api throttled")
)

const maxErrorBody = 1 << 10

// Client talks to a token-authenticated statement API whose records are
// column-tagged JSON (Fio banka style). The token is part of the path and is
// redacted from every returned error.
type Client struct {
	baseURL      string
	token        string
	homeCurrency string
	httpClient   *http.Client
	limiter      *rate.Limiter
	log          *zap.SugaredLogger
}

type ClientOptions struct {
	BaseURL      string
	Token        string
	HomeCurrency string
	Timeout      time.Duration
	// MinInterval spaces consecutive requests; the upstream rejects bursts.
	MinInterval time.Duration
	HTTPClient  *http.Client
}

func NewClient(opts ClientOptions, log *zap.SugaredLogger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		token:        opts.Token,
		homeCurrency: strings.ToUpper(opts.HomeCurrency),
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(limit, 1),
		log:          log,
	}
}

// NewStatementClient builds the client from application config.
func NewStatementClient(cfg *config.Config, log *zap.SugaredLogger) StatementClient {
	return NewClient(ClientOptions{
		BaseURL:      cfg.Bank.BaseURL,
		Token:        cfg.Bank.Token,
		HomeCurrency: cfg.Bank.HomeCurrency,
		Timeout:      cfg.Bank.RequestTimeout,
		MinInterval:  cfg.Bank.MinRequestInterval,
	}, log)
}

func (c *Client) Range(ctx context.Context, from, to time.Time) (*Statement, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid statement range: %s is after %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	path := fmt.Sprintf("/periods/%s/%s/%s/transactions.json", c.token, from.Format(time.DateOnly), to.Format(time.DateOnly))
	return c.fetch(ctx, path)
}

func (c *Client) Last(ctx context.Context) (*Statement, error) {
	return c.fetch(ctx, fmt.Sprintf("/last/%s/transactions.json", c.token))
}

func (c *Client) SetLastID(ctx context.Context, id int64) error {
	resp, err := c.do(ctx, fmt.Sprintf("/set-last-id/%s/%d/", c.token, id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) fetch(ctx context.Context, path string) (*Statement, error) {
	resp, err := c.do(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw rawStatement
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode bank statement: %w", err)
	}

	info := raw.AccountStatement.Info
	currency := c.homeCurrency
	if info.Currency != "" {
		currency = strings.ToUpper(info.Currency)
	}
	var rows []rawTransaction
	if tl := raw.AccountStatement.TransactionList; tl != nil {
		rows = tl.Transaction
	}
	txs := normalize(rows, currency)
	if dropped := len(rows) - len(txs); dropped > 0 {
		logctx.FromCtx(ctx, c.log).Warnw("dropped malformed statement rows", "dropped", dropped, "raw", len(rows))
	}

	return &Statement{
		Info: StatementInfo{
			AccountID:      info.AccountID,
			Currency:       currency,
			IDFrom:         info.IDFrom,
			IDTo:           info.IDTo,
			IDLastDownload: info.IDLastDownload,
		},
		RawCount:     len(rows),
		Transactions: txs,
	}, nil
}

// do issues a GET and returns the response when it is 2xx. The caller closes the body.
func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	if c.token == "" {
		return nil, ErrMissingToken
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("bank statement rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, c.redact(fmt.Errorf("create bank statement request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.redact(fmt.Errorf("bank statement request failed: %w", err))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	sentinel := ErrUpstream
	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusTooManyRequests {
		sentinel = ErrThrottled
	}
	return nil, c.redact(fmt.Errorf("%w: status %d: %s", sentinel, resp.StatusCode, strings.TrimSpace(string(body))))
}

// redactedError hides the token in the message but keeps the chain for errors.Is.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func (c *Client) redact(err error) error {
	if err == nil || c.token == "" || !strings.Contains(err.Error(), c.token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), c.token, "***"), err: err}
}
