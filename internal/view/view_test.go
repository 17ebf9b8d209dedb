package view

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/summary"
)

const txHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

func TestBigValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1045", "1,045"},
		{"12345.678912", "12,345.6789"},
		{"1000000.5", "1,000,000.5"},
		{"-9876543.21", "-9,876,543.21"},
		{"0.00001", "0"},
		{"999.99995", "1,000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, BigValue(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestUSD(t *testing.T) {
	assert.Equal(t, "$1,045.00", USD(decimal.RequireFromString("1045")))
	assert.Equal(t, "$0.13", USD(decimal.RequireFromString("0.125")))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "5 %", Percent(decimal.NewNullDecimal(decimal.NewFromInt(5))))
	assert.Equal(t, Placeholder, Percent(decimal.NullDecimal{}))
}

func TestShortenAddr(t *testing.T) {
	assert.Equal(t, "0x5c50...2060", ShortenAddr(txHash))
	assert.Equal(t, "0x12", ShortenAddr("0x12"))
}

func TestTxURL(t *testing.T) {
	assert.Equal(t, "https://etherscan.io/tx/"+txHash, TxURL("https://etherscan.io/", txHash))
	assert.Empty(t, TxURL("https://etherscan.io", "0xnothex"))
	assert.Empty(t, TxURL("https://etherscan.io", "0x1234"))
}

func TestTimestamp(t *testing.T) {
	assert.Equal(t, "03.06.2021 03:06", Timestamp(1_615_000_000))
}

func TestNewCard(t *testing.T) {
	r := domain.SeniorRedeem{
		SmartYieldAddress: "0x4B8d90D68F26DEF303Dcb6CFc9b63A1aAEC15840",
		SeniorBondID:      "42",
		UnderlyingIn:      decimal.NewFromInt(1000),
		Gain:              decimal.NewFromInt(50),
		Fee:               decimal.NewFromInt(5),
		ForDays:           365,
		TransactionHash:   txHash,
		BlockTimestamp:    1_615_000_000,
	}
	pools := map[string]domain.Pool{
		domain.AddressKey(r.SmartYieldAddress): {
			UnderlyingSymbol: "USDC",
			Meta:             &domain.PoolMeta{Name: "USD Coin", Icon: "token-usdc"},
			Market:           &domain.MarketMeta{ID: "compound/v2", Name: "Compound", Icon: "compound"},
		},
	}

	c := NewCard(summary.Build(r, pools), "https://etherscan.io")

	assert.Equal(t, "42", c.Key)
	assert.Equal(t, StatusRedeemed, c.Status)
	assert.Equal(t, "USDC", c.Symbol)
	assert.Equal(t, "Compound", c.MarketName)
	assert.Equal(t, "token-usdc", c.Icon)
	assert.Equal(t, "1,000 USDC", c.Deposited.Value)
	assert.Equal(t, "1,045 USDC", c.Redeemed.Value)
	assert.Equal(t, "1045", c.Redeemed.Exact)
	assert.Equal(t, "$1,045.00", c.Redeemed.USD)
	assert.Equal(t, "5 %", c.APY)
	assert.Equal(t, "0x5c50...2060", c.TxShort)
	assert.Equal(t, "03.06.2021 03:06", c.RedeemedAt)
}

func TestNewCard_UnknownPool(t *testing.T) {
	r := domain.SeniorRedeem{UnderlyingIn: decimal.Zero, Gain: decimal.NewFromInt(1), Fee: decimal.Zero, TransactionHash: txHash}

	c := NewCard(summary.Build(r, nil), "https://etherscan.io")

	assert.Empty(t, c.Symbol)
	assert.Empty(t, c.MarketName)
	assert.Equal(t, "1", c.Redeemed.Value)
	assert.Equal(t, Placeholder, c.APY)
}
