// Package client is a Go client for the NextDay API. The balance it reports
// is updated optimistically on debit and corrected from every server answer.
package client

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

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextday/nextday-api/pkg/optimistic"
)

const (
	DefaultTimeout           = 30 * time.Second
	DefaultSubscriptionCache = 5 * time.Minute

	maxErrorBody = 4 << 10
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// APIError is a non-2xx answer from the API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Quote is the advisory price of an action
type Quote struct {
	Action  string `json:"action"`
	Cost    int64  `json:"cost"`
	Balance int64  `json:"balance"`
	Allowed bool   `json:"allowed"`
}

// Subscription is the account's plan as the API projects it
type Subscription struct {
	HasActiveSubscription bool       `json:"hasActiveSubscription"`
	Status                string     `json:"status"`
	CurrentPeriodStart    *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd      *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd     bool       `json:"cancelAtPeriodEnd"`
	RecurringInterval     string     `json:"recurringInterval,omitempty"`
	Amount                int64      `json:"amount"`
	Currency              string     `json:"currency,omitempty"`
}

// Debit describes a charge. Action and Steps let the server verify Amount.
type Debit struct {
	Amount         int64
	Action         string
	Steps          int
	IdempotencyKey string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithSubscriptionTTL(ttl time.Duration) Option {
	return func(c *Client) { c.subscriptionTTL = ttl }
}

// Client talks to the API on behalf of one signed-in account
type Client struct {
	baseURL   string
	token     string
	accountID string
	http      *http.Client

	balance         *optimistic.Value[int64]
	subscriptionTTL time.Duration
	subscriptions   *expirable.LRU[string, Subscription]
}

func New(baseURL, token, accountID string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		token:           token,
		accountID:       accountID,
		http:            &http.Client{Timeout: DefaultTimeout},
		balance:         optimistic.New[int64](0),
		subscriptionTTL: DefaultSubscriptionCache,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.subscriptions = expirable.NewLRU[string, Subscription](16, nil, c.subscriptionTTL)
	return c
}

// CachedBalance returns the last known balance including pending debits
func (c *Client) CachedBalance() int64 {
	return c.balance.Get()
}

// Balance fetches the balance and reconciles the local copy
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var rows []struct {
		Balance int64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/balance", nil, nil, &rows); err != nil {
		return 0, err
	}

	var balance int64
	if len(rows) > 0 {
		balance = rows[0].Balance
	}
	c.balance.Reconcile(balance)
	return balance, nil
}

// Debit lowers the cached balance immediately, then asks the server. The
// cached value takes the server balance on success; on failure only this
// debit is undone.
func (c *Client) Debit(ctx context.Context, d Debit) (int64, error) {
	change := c.balance.Apply(func(b int64) int64 { return b - d.Amount })

	body := map[string]interface{}{
		"userId": c.accountID,
		"amount": d.Amount,
	}
	if d.Action != "" {
		body["action"] = d.Action
		body["steps"] = d.Steps
	}
	header := http.Header{}
	if d.IdempotencyKey != "" {
		header.Set("Idempotency-Key", d.IdempotencyKey)
	}

	var res struct {
		Success bool  `json:"success"`
		Balance int64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/balance", header, body, &res); err != nil {
		change.Rollback()
		return 0, err
	}

	change.Commit(res.Balance)
	return res.Balance, nil
}

// Quote asks whether the account can afford an action right now
func (c *Client) Quote(ctx context.Context, action string, steps int) (Quote, error) {
	q := url.Values{"action": {action}}
	if steps != 0 {
		q.Set("steps", strconv.Itoa(steps))
	}

	var env struct {
		Data Quote `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/gate/quote?"+q.Encode(), nil, nil, &env); err != nil {
		return Quote{}, err
	}
	c.balance.Reconcile(env.Data.Balance)
	return env.Data, nil
}

// Subscription returns the account's plan, cached for the subscription TTL
func (c *Client) Subscription(ctx context.Context) (Subscription, error) {
	if s, ok := c.subscriptions.Get(c.accountID); ok {
		return s, nil
	}

	var env struct {
		Data Subscription `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/subscription", nil, nil, &env); err != nil {
		return Subscription{}, err
	}
	c.subscriptions.Add(c.accountID, env.Data)
	return env.Data, nil
}

// InvalidateSubscription drops the cached plan, e.g. after checkout
func (c *Client) InvalidateSubscription() {
	c.subscriptions.Remove(c.accountID)
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// decodeError understands the three error bodies the API writes:
// {"error":"msg"}, {"success":false,"error":"msg"} and the envelope
// {"success":false,"error":{"code","message"}}.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Error json.RawMessage `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && len(body.Error) > 0 {
		var s string
		var info struct {
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(body.Error, &s) == nil:
			msg = s
		case json.Unmarshal(body.Error, &info) == nil:
			msg = info.Message
		}
	}

	apiErr := &APIError{Status: resp.StatusCode, Message: msg}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
	case resp.StatusCode == http.StatusBadRequest && msg == "Insufficient balance":
		return fmt.Errorf("%w: %w", ErrInsufficientBalance, apiErr)
	}
	return apiErr
}
