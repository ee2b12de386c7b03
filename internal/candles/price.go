package candles

import (
	"github.com/holiman/uint256"

	"github.com/subfrost/espo/internal/schema"
)

// PriceScale is the fixed-point scale of all candle prices (1e8).
var PriceScale = uint256.NewInt(100_000_000)

// PriceQuotePerBase computes quote·SCALE/base. ok is false when base is
// zero, in which case the bucket is skipped.
func PriceQuotePerBase(base, quote *uint256.Int) (*uint256.Int, bool) {
	if base == nil || base.IsZero() {
		return nil, false
	}
	p := new(uint256.Int).Mul(quote, PriceScale)
	p.Div(p, base)
	return p, true
}

// PriceBasePerQuote computes base·SCALE/quote. ok is false when quote is
// zero.
func PriceBasePerQuote(base, quote *uint256.Int) (*uint256.Int, bool) {
	if quote == nil || quote.IsZero() {
		return nil, false
	}
	p := new(uint256.Int).Mul(base, PriceScale)
	p.Div(p, quote)
	return p, true
}

// MergeCandles folds a later candle into an earlier one on the same bucket:
// the earlier open wins, high/low extend, close follows the later candle,
// volumes sum.
func MergeCandles(earlier, later *schema.Candle) schema.Candle {
	out := schema.Candle{
		Open:   new(uint256.Int).Set(earlier.Open),
		High:   new(uint256.Int).Set(earlier.High),
		Low:    new(uint256.Int).Set(earlier.Low),
		Close:  new(uint256.Int).Set(later.Close),
		Volume: new(uint256.Int).Add(earlier.Volume, later.Volume),
	}
	if later.High.Gt(out.High) {
		out.High.Set(later.High)
	}
	if later.Low.Lt(out.Low) {
		out.Low.Set(later.Low)
	}
	return out
}

func updateCandle(c *schema.Candle, price, volume *uint256.Int) {
	if price.Gt(c.High) {
		c.High = new(uint256.Int).Set(price)
	}
	if price.Lt(c.Low) {
		c.Low = new(uint256.Int).Set(price)
	}
	c.Close = new(uint256.Int).Set(price)
	c.Volume = new(uint256.Int).Add(c.Volume, volume)
}
