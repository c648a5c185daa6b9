// Package money implements integer currency arithmetic. Amounts are carried
// in minor units (cents); per-unit overage rates in micro-units (1e-6 of the
// currency) so sub-cent rates survive without floating point.
package money

import "fmt"

const microsPerMinor = 10_000

// RoundHalfUpDiv divides num by div, rounding half away from zero for
// non-negative inputs. div must be positive.
func RoundHalfUpDiv(num, div int64) int64 {
	if num < 0 {
		return -RoundHalfUpDiv(-num, div)
	}
	return (num + div/2) / div
}

// OverageAmountMinor computes quantity × unit price, rounded to minor units.
func OverageAmountMinor(quantity, unitPriceMicros int64) int64 {
	if quantity <= 0 || unitPriceMicros <= 0 {
		return 0
	}
	return RoundHalfUpDiv(quantity*unitPriceMicros, microsPerMinor)
}

// TaxMinor applies a basis-point rate to an amount in minor units.
func TaxMinor(amountMinor int64, rateBps int) int64 {
	if amountMinor <= 0 || rateBps <= 0 {
		return 0
	}
	return RoundHalfUpDiv(amountMinor*int64(rateBps), 10_000)
}

// MinorFromMicros converts a micro-unit amount to minor units.
func MinorFromMicros(micros int64) int64 {
	return RoundHalfUpDiv(micros, microsPerMinor)
}

// FormatMinor renders a minor-unit amount for display, assuming a
// two-decimal currency.
func FormatMinor(amountMinor int64, currency string) string {
	sign := ""
	if amountMinor < 0 {
		sign = "-"
		amountMinor = -amountMinor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amountMinor/100, amountMinor%100, currency)
}

// FormatMicros renders a micro-unit rate for display.
func FormatMicros(unitPriceMicros int64, currency string) string {
	whole := unitPriceMicros / 1_000_000
	frac := unitPriceMicros % 1_000_000
	if frac == 0 {
		return fmt.Sprintf("%d.00 %s", whole, currency)
	}
	return fmt.Sprintf("%d.%06d %s", whole, frac, currency)
}
