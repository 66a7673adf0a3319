package domain

import (
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

var unitsPattern = regexp.MustCompile(`\d+`)

// UnitsFromProductLabel extracts the number of units from labels such as
// "Durian Package 10 Trees". A label without a number counts as one unit.
func UnitsFromProductLabel(label string) int {
	m := unitsPattern.FindString(label)
	if m == "" {
		return 1
	}
	n, err := strconv.Atoi(m)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// RecomputeTotals derives the investor rollups from its line items.
// Rollups are never adjusted anywhere else.
func RecomputeTotals(iv *Investor) {
	capital := decimal.Zero
	paidIn := decimal.Zero
	assets := 0

	for _, inv := range iv.Investments {
		paidIn = paidIn.Add(inv.AmountPaid)
		if !inv.AmountPaid.IsPositive() {
			continue
		}
		capital = capital.Add(inv.TotalAmount)
		assets += UnitsFromProductLabel(inv.ProductRef)
	}

	iv.TotalCapital = capital
	iv.TotalPaidIn = paidIn
	iv.AssetCount = assets
}
