package subscription

import (
	"time"

	"github.com/nextday/nextday-api/internal/pkg/polar"
)

// Status is the coarse state shown to users
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusNone     Status = "none"
)

// Projection is a read-only view of an account's recurring plan
type Projection struct {
	HasActiveSubscription bool       `json:"hasActiveSubscription"`
	Status                Status     `json:"status"`
	SubscriptionID        string     `json:"subscriptionId,omitempty"`
	ProductID             string     `json:"productId,omitempty"`
	CurrentPeriodStart    *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd      *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd     bool       `json:"cancelAtPeriodEnd"`
	RecurringInterval     string     `json:"recurringInterval,omitempty"`
	Amount                int64      `json:"amount"`
	Currency              string     `json:"currency,omitempty"`
	StartedAt             *time.Time `json:"startedAt,omitempty"`
}

// None is the projection for accounts without a plan
func None() Projection {
	return Projection{Status: StatusNone}
}

// FromCustomerState picks the first active subscription. A subscription that
// is set to cancel at period end still grants access until it lapses.
func FromCustomerState(st *polar.CustomerState) Projection {
	if st == nil || len(st.ActiveSubscriptions) == 0 {
		return None()
	}

	sub := st.ActiveSubscriptions[0]
	p := Projection{
		HasActiveSubscription: true,
		Status:                StatusActive,
		SubscriptionID:        sub.ID,
		ProductID:             sub.ProductID,
		CurrentPeriodStart:    sub.CurrentPeriodStart,
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:     sub.CancelAtPeriodEnd,
		RecurringInterval:     sub.RecurringInterval,
		Amount:                sub.Amount,
		Currency:              sub.Currency,
		StartedAt:             sub.StartedAt,
	}
	if sub.CancelAtPeriodEnd || sub.Status == "canceled" {
		p.Status = StatusCanceled
	}
	return p
}
