// Package summary turns raw senior redemptions into position summaries:
// the deposited and redeemed amounts and the realized APY of each position.
package summary

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/syport/internal/domain"
)

// DaysPerYear is the fixed day count used to annualize realized yield.
const DaysPerYear = 365

// apyPrecision is the number of decimal places kept when dividing.
const apyPrecision = 18

var (
	daysPerYear = decimal.NewFromInt(DaysPerYear)
	hundred     = decimal.NewFromInt(100)
)

// BuildPage joins every redemption with its pool and computes the derived
// figures. The result has the same length and order as redeems. pools is
// keyed by domain.AddressKey and is only read.
func BuildPage(redeems []domain.SeniorRedeem, pools map[string]domain.Pool) []domain.PositionSummary {
	out := make([]domain.PositionSummary, 0, len(redeems))
	for _, r := range redeems {
		out = append(out, Build(r, pools))
	}
	return out
}

// Build computes the summary of a single redemption.
func Build(r domain.SeniorRedeem, pools map[string]domain.Pool) domain.PositionSummary {
	s := domain.PositionSummary{
		SeniorRedeem: r,
		Deposited:    r.UnderlyingIn,
		Redeemed:     Redeemed(r.UnderlyingIn, r.Gain, r.Fee),
		APY:          APY(r.Gain, r.UnderlyingIn, r.ForDays),
	}
	if p, ok := pools[domain.AddressKey(r.SmartYieldAddress)]; ok {
		s.Pool = &p
	}
	return s
}

// Redeemed returns deposited + gain - fee. Negative results are kept as is.
func Redeemed(deposited, gain, fee decimal.Decimal) decimal.Decimal {
	return deposited.Add(gain).Sub(fee)
}

// APY annualizes the realized gain as a percentage:
// (gain / deposited) / days * 365 * 100. The result is invalid when deposited
// or days is zero.
func APY(gain, deposited decimal.Decimal, days int64) decimal.NullDecimal {
	if deposited.IsZero() || days == 0 {
		return decimal.NullDecimal{}
	}
	// Multiply before dividing so whole-number yields stay exact.
	num := gain.Mul(daysPerYear).Mul(hundred)
	den := deposited.Mul(decimal.NewFromInt(days))
	return decimal.NewNullDecimal(num.DivRound(den, apyPrecision))
}
