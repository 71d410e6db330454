package polar

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Price is one product price. Amounts are in minor units.
type Price struct {
	ID            string `json:"id"`
	AmountType    string `json:"amount_type"`
	PriceAmount   int64  `json:"price_amount"`
	PriceCurrency string `json:"price_currency"`
	IsArchived    bool   `json:"is_archived"`
}

// Product is a catalog item. Credit packs carry metadata["credits"].
type Product struct {
	ID                string                     `json:"id"`
	Name              string                     `json:"name"`
	Description       string                     `json:"description"`
	IsRecurring       bool                       `json:"is_recurring"`
	RecurringInterval string                     `json:"recurring_interval"`
	IsArchived        bool                       `json:"is_archived"`
	Metadata          map[string]json.RawMessage `json:"metadata"`
	Prices            []Price                    `json:"prices"`
}

// Customer as embedded in orders and subscriptions
type Customer struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
}

// Subscription is an active or past recurring purchase
type Subscription struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	RecurringInterval  string     `json:"recurring_interval"`
	CurrentPeriodStart *time.Time `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	StartedAt          *time.Time `json:"started_at"`
	ProductID          string     `json:"product_id"`
	Customer           *Customer  `json:"customer,omitempty"`
}

// CustomerState is the aggregated view of a customer's entitlements
type CustomerState struct {
	ID                  string         `json:"id"`
	ExternalID          string         `json:"external_id"`
	Email               string         `json:"email"`
	ActiveSubscriptions []Subscription `json:"active_subscriptions"`
}

// Order is a completed purchase
type Order struct {
	ID         string   `json:"id"`
	ProductID  string   `json:"product_id"`
	CustomerID string   `json:"customer_id"`
	Customer   Customer `json:"customer"`
	Status     string   `json:"status"`
}

type ListResource[T any] struct {
	Items      []T `json:"items"`
	Pagination struct {
		TotalCount int `json:"total_count"`
		MaxPage    int `json:"max_page"`
	} `json:"pagination"`
}

// Checkout is a hosted checkout session
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CustomerSession grants access to the hosted customer portal
type CustomerSession struct {
	Token             string `json:"token"`
	CustomerPortalURL string `json:"customer_portal_url"`
}

// CheckoutParams creates a checkout for one or more products
type CheckoutParams struct {
	Products           []string `json:"products"`
	SuccessURL         string   `json:"success_url,omitempty"`
	ExternalCustomerID string   `json:"external_customer_id,omitempty"`
	CustomerEmail      string   `json:"customer_email,omitempty"`
}

// FormatAmount renders a minor-unit amount, e.g. 1999 usd -> "$19.99".
func FormatAmount(minor int64, currency string) string {
	value := decimal.New(minor, -2).StringFixed(2)
	switch strings.ToLower(currency) {
	case "", "usd":
		return "$" + value
	case "eur":
		return "€" + value
	case "gbp":
		return "£" + value
	default:
		return value + " " + strings.ToUpper(currency)
	}
}
