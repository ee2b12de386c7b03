package candles

import "github.com/holiman/uint256"

// PriceFeed resolves the BTC/USD price at a block height. Implementations
// are the live fetcher or a fixture for tests.
type PriceFeed interface {
	BitcoinPriceUsdAtHeight(height uint32) *uint256.Int
}
