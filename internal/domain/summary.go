package domain

import "github.com/shopspring/decimal"

// PositionSummary is the read-only view of one redemption joined with its
// pool. Pool is nil when the pool is unknown to the registry. APY is invalid
// (JSON null) when it cannot be computed.
type PositionSummary struct {
	SeniorRedeem
	Pool      *Pool               `json:"pool,omitempty"`
	Deposited decimal.Decimal     `json:"deposited"`
	Redeemed  decimal.Decimal     `json:"redeemed"`
	APY       decimal.NullDecimal `json:"apy"`
}
