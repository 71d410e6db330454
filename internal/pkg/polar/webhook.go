package polar

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"
)

const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMissingHeaders   = errors.New("missing webhook signature headers")
	ErrInvalidTimestamp = errors.New("webhook timestamp outside tolerance")
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// Event types handled by the ingress
const (
	EventCheckoutCreated      = "checkout.created"
	EventCheckoutUpdated      = "checkout.updated"
	EventOrderCreated         = "order.created"
	EventOrderPaid            = "order.paid"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionActive   = "subscription.active"
	EventSubscriptionCanceled = "subscription.canceled"
	EventSubscriptionRevoked  = "subscription.revoked"
)

// Event is a verified webhook delivery
type Event struct {
	ID        string          `json:"-"`
	Type      string          `json:"type"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Order decodes the payload of an order.* event
func (e *Event) Order() (*Order, error) {
	var o Order
	if err := json.Unmarshal(e.Data, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &o, nil
}

// Subscription decodes the payload of a subscription.* event
func (e *Event) Subscription() (*Subscription, error) {
	var s Subscription
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &s, nil
}

// ParseEvent decodes a webhook body
func ParseEvent(id string, body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}
	ev.ID = id
	return &ev, nil
}

// VerifyWebhook checks a Standard Webhooks signature against the
// delivery headers and returns the webhook id on success. The timestamp
// window is enforced here so callers can pick the tolerance and clock.
func VerifyWebhook(secret string, h http.Header, body []byte, tolerance time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret is required", ErrInvalidSignature)
	}

	id := h.Get(HeaderWebhookID)
	ts := h.Get(HeaderWebhookTimestamp)
	if id == "" || ts == "" || h.Get(HeaderWebhookSignature) == "" {
		return "", ErrMissingHeaders
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", ErrInvalidTimestamp
	}
	if tolerance > 0 {
		sent := time.Unix(unix, 0)
		if now.Sub(sent) > tolerance || sent.Sub(now) > tolerance {
			return "", ErrInvalidTimestamp
		}
	}

	wh, err := standardwebhooks.NewWebhookRaw(signingKey(secret))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := wh.VerifyIgnoringTimestamp(body, h); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return id, nil
}

// SignWebhook produces the signature header value for a payload
func SignWebhook(secret, id string, ts time.Time, body []byte) (string, error) {
	wh, err := standardwebhooks.NewWebhookRaw(signingKey(secret))
	if err != nil {
		return "", err
	}
	return wh.Sign(id, ts, body)
}

// whsec_ secrets carry a base64 key; Polar's plain secrets are used as raw bytes.
func signingKey(secret string) []byte {
	if rest, ok := strings.CutPrefix(secret, "whsec_"); ok {
		if key, err := base64.StdEncoding.DecodeString(rest); err == nil {
			return key
		}
	}
	return []byte(secret)
}
