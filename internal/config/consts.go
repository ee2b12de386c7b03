package config

import (
	"fmt"

	"github.com/subfrost/espo/internal/schema"
)

// GenesisHeight returns the height below which nothing is indexed.
func GenesisHeight(network NetworkType) uint32 {
	switch network {
	case NetworkMainnet:
		return 904_648
	default:
		return 0
	}
}

// AmmFactory returns the well-known AMM factory contract for the network.
func AmmFactory(network NetworkType) (schema.AlkaneId, error) {
	switch network {
	case NetworkMainnet:
		return schema.AlkaneId{Block: 4, Tx: 65522}, nil
	default:
		return schema.AlkaneId{}, fmt.Errorf("amm factory not defined for network %q", network)
	}
}

// CanonicalQuoteUnit is the reference unit a canonical quote prices in.
type CanonicalQuoteUnit uint8

const (
	UnitBtc CanonicalQuoteUnit = iota
	UnitUsd
)

func (u CanonicalQuoteUnit) String() string {
	if u == UnitBtc {
		return "btc"
	}
	return "usd"
}

// CanonicalQuote designates a token as a reference leg for BTC/USD price
// attribution.
type CanonicalQuote struct {
	ID   schema.AlkaneId
	Unit CanonicalQuoteUnit
}

// CanonicalQuotes returns the configured reference legs for the network.
func CanonicalQuotes(network NetworkType) []CanonicalQuote {
	mainnet := []CanonicalQuote{
		{ID: schema.AlkaneId{Block: 32, Tx: 0}, Unit: UnitBtc},
		{ID: schema.AlkaneId{Block: 2, Tx: 56801}, Unit: UnitUsd},
	}
	switch network {
	case NetworkMainnet:
		return mainnet
	default:
		return mainnet
	}
}

// CanonicalQuoteUnits returns the canonical quotes keyed by token id.
func CanonicalQuoteUnits(network NetworkType) map[schema.AlkaneId]CanonicalQuoteUnit {
	out := make(map[schema.AlkaneId]CanonicalQuoteUnit)
	for _, q := range CanonicalQuotes(network) {
		out[q.ID] = q.Unit
	}
	return out
}
