package exchange

import (
	"github.com/shopspring/decimal"
)

// FormatQuantity rounds size to at most places decimals and strips trailing
// zeros. The second return value is false when the formatted size is not
// positive, in which case the order must not be submitted.
func FormatQuantity(size float64, places int32) (string, bool) {
	if size <= 0 {
		return "0", false
	}
	d := decimal.NewFromFloat(size).Round(places)
	if !d.IsPositive() {
		return "0", false
	}
	return d.String(), true
}

// FormatStep rounds size down to a multiple of step. When rounding yields zero
// the venue minimum is used instead. Decimal places never exceed maxPlaces.
func FormatStep(size float64, step, minQty decimal.Decimal, maxPlaces int32) (string, bool) {
	if size <= 0 {
		return "0", false
	}
	d := decimal.NewFromFloat(size)
	if step.IsPositive() {
		d = d.Div(step).Floor().Mul(step)
	}
	if !d.IsPositive() && minQty.IsPositive() {
		d = minQty
	}
	places := maxPlaces
	if step.IsPositive() {
		if exp := -step.Exponent(); exp >= 0 && exp < places {
			places = exp
		}
	}
	d = d.Truncate(places)
	if !d.IsPositive() {
		if minQty.IsPositive() {
			return minQty.String(), true
		}
		return "0", false
	}
	return d.String(), true
}

// FormatPrice rounds px to sig significant figures and then to at most
// maxDecimals decimal places.
func FormatPrice(px float64, sig int, maxDecimals int32) string {
	if px <= 0 {
		return "0"
	}
	d := decimal.NewFromFloat(px)
	// Number of integer digits decides how many decimals sig figures allow.
	intDigits := int32(len(d.Truncate(0).Abs().String()))
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		intDigits = 0
	}
	places := int32(sig) - intDigits
	if intDigits == 0 {
		// Leading zeros after the point do not count as significant.
		s := d.String()
		for i := 2; i < len(s) && s[i] == '0'; i++ {
			places++
		}
	}
	if places < 0 {
		places = 0
	}
	if places > maxDecimals {
		places = maxDecimals
	}
	return d.Round(places).String()
}

// FormatDecimal rounds v to places decimals without trailing zeros.
func FormatDecimal(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).String()
}
