package state

import "encoding/json"

// poolRecord is the durable form of a pool selection.
type poolRecord struct {
	PoolType     string  `json:"poolType"`
	Address      string  `json:"address"`
	Fee          uint32  `json:"fee"`
	LiquidityUSD float64 `json:"liquidityUsd"`
	SpotPrice    float64 `json:"spotPrice"`
	TokenSymbol  string  `json:"tokenSymbol"`
	TokenName    string  `json:"tokenName"`
}

func encodePool(info PoolInfo) string {
	raw, err := json.Marshal(poolRecord{
		PoolType:     info.PoolType,
		Address:      info.Address,
		Fee:          info.Fee,
		LiquidityUSD: info.LiquidityUSD,
		SpotPrice:    info.SpotPrice,
		TokenSymbol:  info.TokenSymbol,
		TokenName:    info.TokenName,
	})
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decodePool(token, quote, data string) (PoolInfo, error) {
	var rec poolRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{
		Token:        token,
		Quote:        quote,
		PoolType:     rec.PoolType,
		Address:      rec.Address,
		Fee:          rec.Fee,
		LiquidityUSD: rec.LiquidityUSD,
		SpotPrice:    rec.SpotPrice,
		TokenSymbol:  rec.TokenSymbol,
		TokenName:    rec.TokenName,
	}, nil
}
