package quote

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Paths probed, in order, for the payable total inside the opaque pricing
// payload. The calculation engine owns the payload shape; the core only
// lifts the total out for projections and never recomputes it.
var payableTotalPaths = []string{
	"payment.payableComponents.totalPayable",
	"payment.total.payable",
	"payableBreakdown.totalPayable",
	"totalPayable",
}

func payableTotalOf(result []byte) decimal.Decimal {
	for _, p := range payableTotalPaths {
		v := gjson.GetBytes(result, p)
		if !v.Exists() {
			continue
		}
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			continue
		}
		return d
	}
	return decimal.Zero
}
