package smartyield

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/syport/internal/domain"
)

// APIPool is a pool as returned by GET /api/smartyield/pools.
type APIPool struct {
	ProtocolID         string `json:"protocolId"`
	ControllerAddress  string `json:"controllerAddress"`
	ModelAddress       string `json:"modelAddress"`
	ProviderAddress    string `json:"providerAddress"`
	SmartYieldAddress  string `json:"smartYieldAddress"`
	OracleAddress      string `json:"oracleAddress"`
	JuniorBondAddress  string `json:"juniorBondAddress"`
	SeniorBondAddress  string `json:"seniorBondAddress"`
	CTokenAddress      string `json:"cTokenAddress"`
	UnderlyingAddress  string `json:"underlyingAddress"`
	UnderlyingSymbol   string `json:"underlyingSymbol"`
	UnderlyingDecimals int    `json:"underlyingDecimals"`
	RewardPoolAddress  string `json:"rewardPoolAddress"`
}

// ToDomain converts the API representation.
func (p APIPool) ToDomain() domain.Pool {
	return domain.Pool{
		ProtocolID:         p.ProtocolID,
		SmartYieldAddress:  p.SmartYieldAddress,
		ControllerAddress:  p.ControllerAddress,
		SeniorBondAddress:  p.SeniorBondAddress,
		JuniorBondAddress:  p.JuniorBondAddress,
		UnderlyingAddress:  p.UnderlyingAddress,
		UnderlyingSymbol:   p.UnderlyingSymbol,
		UnderlyingDecimals: p.UnderlyingDecimals,
	}
}

// APISeniorRedeem is a redemption as returned by
// GET /api/smartyield/users/{address}/redeems/senior.
type APISeniorRedeem struct {
	SeniorBondAddress string          `json:"seniorBondAddress"`
	UserAddress       string          `json:"userAddress"`
	SeniorBondID      flexString      `json:"seniorBondId"`
	SmartYieldAddress string          `json:"smartYieldAddress"`
	Fee               decimal.Decimal `json:"fee"`
	UnderlyingIn      decimal.Decimal `json:"underlyingIn"`
	Gain              decimal.Decimal `json:"gain"`
	ForDays           int64           `json:"forDays"`
	BlockTimestamp    int64           `json:"blockTimestamp"`
	TransactionHash   string          `json:"transactionHash"`
}

// ToDomain converts the API representation.
func (r APISeniorRedeem) ToDomain() domain.SeniorRedeem {
	return domain.SeniorRedeem{
		SmartYieldAddress: r.SmartYieldAddress,
		AccountAddress:    r.UserAddress,
		SeniorBondID:      string(r.SeniorBondID),
		UnderlyingIn:      r.UnderlyingIn,
		Gain:              r.Gain,
		Fee:               r.Fee,
		ForDays:           r.ForDays,
		TransactionHash:   r.TransactionHash,
		BlockTimestamp:    r.BlockTimestamp,
	}
}

type poolsResponse struct {
	Data []APIPool `json:"data"`
}

type redeemsResponse struct {
	Data []APISeniorRedeem `json:"data"`
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
}

// flexString unmarshals from a JSON string or number; bond ids are sent as
// either depending on the API version.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	*f = flexString(s)
	return nil
}
