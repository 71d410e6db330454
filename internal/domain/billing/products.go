package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nextday/nextday-api/internal/pkg/polar"
)

const creditsMetadataKey = "credits"

// ParseCredits reads metadata["credits"]. Numbers and numeric strings are
// accepted; the value must be a positive whole number.
func ParseCredits(metadata map[string]json.RawMessage) (int64, error) {
	raw, ok := metadata[creditsMetadataKey]
	if !ok || len(raw) == 0 {
		return 0, fmt.Errorf("%w: missing", ErrInvalidCredits)
	}

	text := string(bytes.TrimSpace(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidCredits, err)
		}
		text = strings.TrimSpace(s)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidCredits, text)
	}
	if !d.IsInteger() || !d.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be a positive whole number", ErrInvalidCredits, d)
	}
	return d.IntPart(), nil
}

// ProductView is a catalog entry ready for display
type ProductView struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Price             string `json:"price"`
	PriceAmount       int64  `json:"priceAmount"`
	Currency          string `json:"currency,omitempty"`
	Interval          string `json:"interval,omitempty"`
	Credits           int64  `json:"credits,omitempty"`
	MonthlyEquivalent string `json:"monthlyEquivalent,omitempty"`
	AnnualSavings     int64  `json:"annualSavings,omitempty"`
}

// Catalog groups products the way the pricing page shows them
type Catalog struct {
	Monthly           []ProductView `json:"monthly"`
	Yearly            []ProductView `json:"yearly"`
	Credits           []ProductView `json:"credits"`
	SavingsPercentage int64         `json:"savingsPercentage"`
}

// payWhatYouWant sorts custom-priced products last
const payWhatYouWant = int64(1<<53 - 1)

func priceValue(p polar.Product) int64 {
	if len(p.Prices) == 0 {
		return 0
	}
	switch p.Prices[0].AmountType {
	case "fixed":
		return p.Prices[0].PriceAmount
	case "free":
		return 0
	default:
		return payWhatYouWant
	}
}

func formattedPrice(p polar.Product) string {
	if len(p.Prices) == 0 {
		return "N/A"
	}
	switch p.Prices[0].AmountType {
	case "fixed":
		return polar.FormatAmount(p.Prices[0].PriceAmount, p.Prices[0].PriceCurrency)
	case "free":
		return "Free"
	default:
		return "Pay what you want"
	}
}

func interval(p polar.Product) string {
	switch p.RecurringInterval {
	case "":
		return ""
	case "year":
		return "/year"
	default:
		return "/month"
	}
}

// monthlyFromYearly renders the per-month cost of a yearly plan
func monthlyFromYearly(p polar.Product) string {
	v := priceValue(p)
	switch v {
	case 0:
		return "Free"
	case payWhatYouWant:
		return "Pay what you want"
	}
	currency := ""
	if len(p.Prices) > 0 {
		currency = p.Prices[0].PriceCurrency
	}
	perMonth := decimal.New(v, 0).Div(decimal.NewFromInt(12)).Round(0).IntPart()
	return polar.FormatAmount(perMonth, currency)
}

// annualSavings is what twelve monthly payments cost over one yearly payment, in major units.
func annualSavings(yearly, monthly int64) int64 {
	y := decimal.New(yearly, -2)
	m := decimal.New(monthly*12, -2)
	return m.Sub(y).Round(0).IntPart()
}

func savingsPercentage(yearly, monthly int64) int64 {
	if monthly <= 0 {
		return 0
	}
	m := decimal.NewFromInt(monthly * 12)
	return m.Sub(decimal.NewFromInt(yearly)).Div(m).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func view(p polar.Product) ProductView {
	v := ProductView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       formattedPrice(p),
		PriceAmount: priceValue(p),
		Interval:    interval(p),
	}
	if len(p.Prices) > 0 {
		v.Currency = p.Prices[0].PriceCurrency
	}
	if credits, err := ParseCredits(p.Metadata); err == nil {
		v.Credits = credits
	}
	return v
}

// BuildCatalog sorts products by price and pairs yearly plans with the monthly
// plan at the same position.
func BuildCatalog(products []polar.Product) Catalog {
	sorted := make([]polar.Product, 0, len(products))
	for _, p := range products {
		if !p.IsArchived {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return priceValue(sorted[i]) < priceValue(sorted[j]) })

	c := Catalog{Monthly: []ProductView{}, Yearly: []ProductView{}, Credits: []ProductView{}}
	var monthly, yearly []polar.Product
	for _, p := range sorted {
		switch p.RecurringInterval {
		case "":
			c.Credits = append(c.Credits, view(p))
		case "year":
			yearly = append(yearly, p)
		default:
			monthly = append(monthly, p)
		}
	}

	for _, p := range monthly {
		c.Monthly = append(c.Monthly, view(p))
	}
	for i, p := range yearly {
		v := view(p)
		v.MonthlyEquivalent = monthlyFromYearly(p)
		if i < len(monthly) {
			v.AnnualSavings = annualSavings(priceValue(p), priceValue(monthly[i]))
		}
		c.Yearly = append(c.Yearly, v)
	}
	if len(yearly) > 0 && len(monthly) > 0 {
		c.SavingsPercentage = savingsPercentage(priceValue(yearly[0]), priceValue(monthly[0]))
	}
	return c
}
