// Package view renders position summaries into display-ready strings for the
// dashboard: grouped amounts, USD values, percentages, shortened hashes and
// explorer links.
package view

import (
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Placeholder is shown for values that cannot be computed.
const Placeholder = "-"

// TimestampLayout is the redemption timestamp format (MM.dd.yyyy HH:mm).
const TimestampLayout = "01.02.2006 15:04"

// BigValue rounds d to four decimal places, drops trailing zeros and groups
// the integer part by thousands: 12345.678912 -> "12,345.6789".
func BigValue(d decimal.Decimal) string {
	s := d.Round(4).String()

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString(groupThousands(intPart))
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// USD formats d as a US dollar amount rounded to cents: "$1,045.00".
func USD(d decimal.Decimal) string {
	cents := d.Shift(2).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}

// Percent formats an optional percentage value: "5 %" or "-" when undefined.
func Percent(d decimal.NullDecimal) string {
	if !d.Valid {
		return Placeholder
	}
	return BigValue(d.Decimal) + " %"
}

// ShortenAddr keeps the first six and last four characters of an address or
// hash: 0x4B8d...5840.
func ShortenAddr(s string) string {
	const first, last = 6, 4
	if len(s) <= first+last {
		return s
	}
	return s[:first] + "..." + s[len(s)-last:]
}

// TxURL returns the block explorer link for a transaction hash, or "" when
// the hash is not a 32-byte hex string.
func TxURL(explorer, hash string) string {
	if !(strings.HasPrefix(hash, "0x") || strings.HasPrefix(hash, "0X")) || len(common.FromHex(hash)) != common.HashLength {
		return ""
	}
	return strings.TrimRight(explorer, "/") + "/tx/" + common.HexToHash(hash).Hex()
}

// Timestamp formats a Unix timestamp in UTC using TimestampLayout.
func Timestamp(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(TimestampLayout)
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
