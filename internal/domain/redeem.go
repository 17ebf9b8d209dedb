package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FilterAll is the originator / token filter value that disables filtering.
const FilterAll = "all"

// DefaultPageSize matches the page size of the dashboard's past-positions list.
const DefaultPageSize = 10

// SeniorRedeem is one completed senior-tranche redemption as reported by the
// redemption data source. Amounts are in units of the pool's underlying asset.
type SeniorRedeem struct {
	SmartYieldAddress string          `json:"smartYieldAddress"`
	AccountAddress    string          `json:"accountAddress"`
	SeniorBondID      string          `json:"seniorBondId"`
	UnderlyingIn      decimal.Decimal `json:"underlyingIn"`
	Gain              decimal.Decimal `json:"gain"`
	Fee               decimal.Decimal `json:"fee"`
	ForDays           int64           `json:"forDays"`
	TransactionHash   string          `json:"transactionHash"`
	BlockTimestamp    int64           `json:"blockTimestamp"`
}

// RedeemedAt returns the block time of the redemption in UTC.
func (r SeniorRedeem) RedeemedAt() time.Time {
	return time.Unix(r.BlockTimestamp, 0).UTC()
}

// RedeemQuery selects one page of an account's senior redemptions.
type RedeemQuery struct {
	Account    string `json:"account"`
	Page       int    `json:"page"` // 1-based
	PageSize   int    `json:"pageSize"`
	Originator string `json:"originator"` // protocol id, or FilterAll
	Token      string `json:"token"`      // underlying symbol, or FilterAll
}

// Normalized returns a copy with defaults applied: page >= 1, a positive page
// size, and "all" for empty filters.
func (q RedeemQuery) Normalized() RedeemQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.Originator == "" {
		q.Originator = FilterAll
	}
	if q.Token == "" {
		q.Token = FilterAll
	}
	return q
}

// Offset returns the number of records preceding the requested page.
func (q RedeemQuery) Offset() int {
	n := q.Normalized()
	return (n.Page - 1) * n.PageSize
}

// RedeemPage is one page of redemption records plus the authoritative total
// number of records matching the query.
type RedeemPage struct {
	Data  []SeniorRedeem `json:"data"`
	Count int            `json:"count"`
}
