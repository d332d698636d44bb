package billing

import (
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	MinPricePerDay = 1
	MaxPricePerDay = 10
)

var (
	daysPerYear    = decimal.NewFromInt(365)
	monthsPerYear  = decimal.NewFromInt(12)
	centsPerDollar = decimal.NewFromInt(100)
)

// MonthlyPrice converts a daily commitment into the monthly charge in dollars,
// rounded to the cent: daily * 365 / 12.
func MonthlyPrice(pricePerDay float64) decimal.Decimal {
	return decimal.NewFromFloat(pricePerDay).Mul(daysPerYear).Div(monthsPerYear).Round(2)
}

// MonthlyUnitAmount is MonthlyPrice in cents.
func MonthlyUnitAmount(pricePerDay float64) int64 {
	return MonthlyPrice(pricePerDay).Mul(centsPerDollar).Round(0).IntPart()
}

// FormatPricePerDay renders the daily price the way it is echoed back in
// checkout metadata: 3 -> "3", 2.5 -> "2.5".
func FormatPricePerDay(pricePerDay float64) string {
	return strconv.FormatFloat(pricePerDay, 'f', -1, 64)
}

func validPrice(pricePerDay float64) bool {
	return pricePerDay >= MinPricePerDay && pricePerDay <= MaxPricePerDay
}
