package view

import (
	"github.com/alanyoungcy/syport/internal/domain"
)

// StatusRedeemed is the status tag shown on every past senior position.
const StatusRedeemed = "REDEEMED"

// Amount is a token amount rendered three ways.
type Amount struct {
	Exact string `json:"exact"`
	Value string `json:"value"`
	USD   string `json:"usd"`
}

// Card is the display model of one past senior position.
type Card struct {
	Key        string `json:"key"`
	Symbol     string `json:"symbol,omitempty"`
	MarketName string `json:"marketName,omitempty"`
	Icon       string `json:"icon,omitempty"`
	MarketIcon string `json:"marketIcon,omitempty"`
	Status     string `json:"status"`
	Deposited  Amount `json:"deposited"`
	Redeemed   Amount `json:"redeemed"`
	TxHash     string `json:"txHash"`
	TxShort    string `json:"txShort"`
	TxURL      string `json:"txUrl,omitempty"`
	RedeemedAt string `json:"redeemedAt"`
	APY        string `json:"apy"`
}

// NewCard renders a summary. Pool-derived fields stay empty when the pool is
// unknown. explorer is the block explorer base URL.
func NewCard(s domain.PositionSummary, explorer string) Card {
	c := Card{
		Key:        s.SeniorBondID,
		Status:     StatusRedeemed,
		TxHash:     s.TransactionHash,
		TxShort:    ShortenAddr(s.TransactionHash),
		TxURL:      TxURL(explorer, s.TransactionHash),
		RedeemedAt: Timestamp(s.BlockTimestamp),
		APY:        Percent(s.APY),
	}

	symbol := ""
	if p := s.Pool; p != nil {
		symbol = p.UnderlyingSymbol
		c.Symbol = p.UnderlyingSymbol
		if p.Meta != nil {
			c.Icon = p.Meta.Icon
		}
		if p.Market != nil {
			c.MarketName = p.Market.Name
			c.MarketIcon = p.Market.Icon
		}
	}

	c.Deposited = Amount{
		Exact: s.Deposited.String(),
		Value: withSymbol(BigValue(s.Deposited), symbol),
		USD:   USD(s.Deposited),
	}
	c.Redeemed = Amount{
		Exact: s.Redeemed.String(),
		Value: withSymbol(BigValue(s.Redeemed), symbol),
		USD:   USD(s.Redeemed),
	}
	return c
}

// NewCards renders a page of summaries in order.
func NewCards(summaries []domain.PositionSummary, explorer string) []Card {
	out := make([]Card, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, NewCard(s, explorer))
	}
	return out
}

func withSymbol(v, symbol string) string {
	if symbol == "" {
		return v
	}
	return v + " " + symbol
}
