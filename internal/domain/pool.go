package domain

// PoolMeta is display metadata for a pool's underlying asset.
type PoolMeta struct {
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color,omitempty"`
}

// MarketMeta is display metadata for an originator market (e.g. Compound).
type MarketMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Pool describes a Smart Yield pool. Meta and Market are resolved from the
// static metadata tables and may be nil for unknown assets or originators.
type Pool struct {
	ProtocolID         string      `json:"protocolId"`
	SmartYieldAddress  string      `json:"smartYieldAddress"`
	ControllerAddress  string      `json:"controllerAddress"`
	SeniorBondAddress  string      `json:"seniorBondAddress"`
	JuniorBondAddress  string      `json:"juniorBondAddress"`
	UnderlyingAddress  string      `json:"underlyingAddress"`
	UnderlyingSymbol   string      `json:"underlyingSymbol"`
	UnderlyingDecimals int         `json:"underlyingDecimals"`
	Meta               *PoolMeta   `json:"meta,omitempty"`
	Market             *MarketMeta `json:"market,omitempty"`
}
