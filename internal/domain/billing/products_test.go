package billing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextday/nextday-api/internal/pkg/polar"
)

func fixed(amount int64) []polar.Price {
	return []polar.Price{{AmountType: "fixed", PriceAmount: amount, PriceCurrency: "usd"}}
}

func TestBuildCatalog(t *testing.T) {
	products := []polar.Product{
		{ID: "pro_year", Name: "Pro yearly", RecurringInterval: "year", Prices: fixed(9600)},
		{ID: "pro_month", Name: "Pro", RecurringInterval: "month", Prices: fixed(1000)},
		{ID: "basic_month", Name: "Basic", RecurringInterval: "month", Prices: fixed(500)},
		{ID: "basic_year", Name: "Basic yearly", RecurringInterval: "year", Prices: fixed(4800)},
		{ID: "pack_big", Name: "500 credits", Prices: fixed(2000), Metadata: map[string]json.RawMessage{"credits": json.RawMessage(`500`)}},
		{ID: "pack_small", Name: "100 credits", Prices: fixed(500), Metadata: map[string]json.RawMessage{"credits": json.RawMessage(`"100"`)}},
		{ID: "free", Name: "Free", Prices: []polar.Price{{AmountType: "free"}}},
		{ID: "old", Name: "Old", IsArchived: true, Prices: fixed(1)},
	}

	c := BuildCatalog(products)

	require.Len(t, c.Monthly, 2)
	assert.Equal(t, "basic_month", c.Monthly[0].ID)
	assert.Equal(t, "$5.00", c.Monthly[0].Price)
	assert.Equal(t, "/month", c.Monthly[0].Interval)

	require.Len(t, c.Yearly, 2)
	assert.Equal(t, "basic_year", c.Yearly[0].ID)
	assert.Equal(t, "/year", c.Yearly[0].Interval)
	assert.Equal(t, "$4.00", c.Yearly[0].MonthlyEquivalent)
	assert.Equal(t, int64(12), c.Yearly[0].AnnualSavings)
	assert.Equal(t, int64(24), c.Yearly[1].AnnualSavings)
	assert.Equal(t, int64(20), c.SavingsPercentage)

	require.Len(t, c.Credits, 3)
	assert.Equal(t, "free", c.Credits[0].ID)
	assert.Equal(t, "Free", c.Credits[0].Price)
	assert.Equal(t, int64(100), c.Credits[1].Credits)
	assert.Equal(t, int64(500), c.Credits[2].Credits)
}

func TestFormattedPriceVariants(t *testing.T) {
	assert.Equal(t, "N/A", formattedPrice(polar.Product{}))
	assert.Equal(t, "Pay what you want", formattedPrice(polar.Product{Prices: []polar.Price{{AmountType: "custom"}}}))
	assert.Equal(t, "Pay what you want", monthlyFromYearly(polar.Product{Prices: []polar.Price{{AmountType: "custom"}}}))
	assert.Equal(t, "Free", monthlyFromYearly(polar.Product{Prices: []polar.Price{{AmountType: "free"}}}))
}
