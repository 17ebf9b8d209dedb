package registry

import "github.com/alanyoungcy/syport/internal/domain"

// PoolMetas is the display metadata of known underlying assets, keyed by
// underlying symbol.
var PoolMetas = map[string]domain.PoolMeta{
	"USDC": {Name: "USD Coin", Icon: "token-usdc", Color: "var(--theme-blue-color)"},
	"DAI":  {Name: "Dai Stablecoin", Icon: "token-dai", Color: "var(--theme-yellow-color)"},
	"USDT": {Name: "Tether USD", Icon: "token-usdt", Color: "var(--theme-green-color)"},
	"GUSD": {Name: "Gemini Dollar", Icon: "token-gusd", Color: "var(--theme-blue-color)"},
}

// Markets is the display metadata of known originator markets, keyed by
// protocol id.
var Markets = map[string]domain.MarketMeta{
	"compound/v2": {ID: "compound/v2", Name: "Compound", Icon: "compound"},
	"aave/v2":     {ID: "aave/v2", Name: "Aave", Icon: "aave"},
	"cream/v2":    {ID: "cream/v2", Name: "C.R.E.A.M. Finance", Icon: "cream_finance"},
}

// Decorate attaches PoolMeta and MarketMeta to p when they are known.
func Decorate(p domain.Pool) domain.Pool {
	if m, ok := PoolMetas[p.UnderlyingSymbol]; ok {
		p.Meta = &m
	} else {
		p.Meta = nil
	}
	if m, ok := Markets[p.ProtocolID]; ok {
		p.Market = &m
	} else {
		p.Market = nil
	}
	return p
}
