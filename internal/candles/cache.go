package candles

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/config"
	"github.com/subfrost/espo/internal/schema"
	"github.com/subfrost/espo/internal/store"
	"github.com/subfrost/espo/pkg/logging"
)

// Namespace tags candle writes in the AOF log.
const Namespace = "candles"

type bucketRef struct {
	pool   schema.AlkaneId
	tf     Timeframe
	bucket uint64
}

// canonicalDirty marks one (token, tf, bucket) whose derived USD candle
// must be refreshed from the pool candle it trades in.
type canonicalDirty struct {
	token  schema.AlkaneId
	pool   schema.AlkaneId
	isBase bool // token is the pool's base leg
	unit   config.CanonicalQuoteUnit
	tf     Timeframe
	bucket uint64
}

// Cache accumulates candle updates for one block and flushes them as
// tracked writes. Stored candles on the same bucket are loaded first so
// cross-block merges keep the earlier open.
type Cache struct {
	db  *store.Store
	log *logging.Logger

	entries map[bucketRef]*schema.FullCandle
	dirty   map[bucketRef]struct{}

	canonical map[canonicalDirty]struct{}
}

// NewCache returns an empty cache over the primary store.
func NewCache(db *store.Store, log *logging.Logger) *Cache {
	return &Cache{
		db:        db,
		log:       log,
		entries:   make(map[bucketRef]*schema.FullCandle),
		dirty:     make(map[bucketRef]struct{}),
		canonical: make(map[canonicalDirty]struct{}),
	}
}

// Reset drops all pending state so the cache can be reused. The block
// pipeline builds a fresh cache per block rather than calling Reset.
func (c *Cache) Reset() {
	c.entries = make(map[bucketRef]*schema.FullCandle)
	c.dirty = make(map[bucketRef]struct{})
	c.canonical = make(map[canonicalDirty]struct{})
}

func (c *Cache) fetch(ref bucketRef) (*schema.FullCandle, bool) {
	if fc, ok := c.entries[ref]; ok {
		return fc, true
	}
	raw, found, err := c.db.Get(PoolCandleKey(ref.tf, ref.pool, ref.bucket))
	if err != nil || !found {
		return nil, false
	}
	fc, err := schema.DecodeFullCandle(raw)
	if err != nil {
		// Treat an undecodable stored candle as missing; it will be
		// rewritten from this block's trades.
		c.log.Error("Failed to decode stored candle", "pool", ref.pool, "tf", ref.tf.Code(), "error", err)
		return nil, false
	}
	c.entries[ref] = fc
	return fc, true
}

// ApplyTrade folds one trade's post-trade prices and side volumes into
// every active timeframe. Buckets whose price is undefined (a drained
// reserve) are skipped.
func (c *Cache) ApplyTrade(ts uint64, pool schema.AlkaneId, frames []Timeframe, newBase, newQuote, baseVol, quoteVol *uint256.Int) {
	pQuotePerBase, okQ := PriceQuotePerBase(newBase, newQuote)
	pBasePerQuote, okB := PriceBasePerQuote(newBase, newQuote)
	if !okQ || !okB {
		return
	}

	for _, tf := range frames {
		ref := bucketRef{pool: pool, tf: tf, bucket: BucketStart(ts, tf)}
		fc, ok := c.fetch(ref)
		if !ok {
			fc = &schema.FullCandle{
				BasePerQuote: schema.NewCandle(pBasePerQuote, uint256.NewInt(0)),
				QuotePerBase: schema.NewCandle(pQuotePerBase, uint256.NewInt(0)),
			}
			c.entries[ref] = fc
		}
		updateCandle(&fc.BasePerQuote, pBasePerQuote, baseVol)
		updateCandle(&fc.QuotePerBase, pQuotePerBase, quoteVol)
		c.dirty[ref] = struct{}{}
	}
}

// MarkCanonical queues the non-canonical token of a trade for USD
// reprojection across all frames.
func (c *Cache) MarkCanonical(token, pool schema.AlkaneId, tokenIsBase bool, unit config.CanonicalQuoteUnit, frames []Timeframe, ts uint64) {
	for _, tf := range frames {
		c.canonical[canonicalDirty{
			token:  token,
			pool:   pool,
			isBase: tokenIsBase,
			unit:   unit,
			tf:     tf,
			bucket: BucketStart(ts, tf),
		}] = struct{}{}
	}
}

// Flush writes every dirty pool candle through the tracked writer in a
// deterministic key order.
func (c *Cache) Flush(w *aof.Tracked) error {
	refs := make([]bucketRef, 0, len(c.dirty))
	for ref := range c.dirty {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if cmp := a.pool.Cmp(b.pool); cmp != 0 {
			return cmp < 0
		}
		if a.tf != b.tf {
			return a.tf < b.tf
		}
		return a.bucket < b.bucket
	})

	for _, ref := range refs {
		fc := c.entries[ref]
		if err := w.Put(Namespace, PoolCandleKey(ref.tf, ref.pool, ref.bucket), fc.Encode()); err != nil {
			return err
		}
	}
	return nil
}

// Reproject refreshes the derived single-token USD candles for every dirty
// (token, tf, bucket), converting BTC-quoted legs through the price feed.
func (c *Cache) Reproject(w *aof.Tracked, feed PriceFeed, height uint32) error {
	marks := make([]canonicalDirty, 0, len(c.canonical))
	for m := range c.canonical {
		marks = append(marks, m)
	}
	sort.Slice(marks, func(i, j int) bool {
		a, b := marks[i], marks[j]
		if cmp := a.token.Cmp(b.token); cmp != 0 {
			return cmp < 0
		}
		if a.tf != b.tf {
			return a.tf < b.tf
		}
		return a.bucket < b.bucket
	})

	var btcUsd *uint256.Int
	for _, m := range marks {
		fc, ok := c.fetch(bucketRef{pool: m.pool, tf: m.tf, bucket: m.bucket})
		if !ok {
			continue
		}

		// The side pricing the token in canonical units: quote-per-base
		// when the token is the base leg, base-per-quote otherwise.
		side := fc.QuotePerBase
		if !m.isBase {
			side = fc.BasePerQuote
		}

		derived := schema.Candle{
			Open:   new(uint256.Int).Set(side.Open),
			High:   new(uint256.Int).Set(side.High),
			Low:    new(uint256.Int).Set(side.Low),
			Close:  new(uint256.Int).Set(side.Close),
			Volume: new(uint256.Int).Set(side.Volume),
		}
		if m.unit == config.UnitBtc {
			if btcUsd == nil {
				btcUsd = feed.BitcoinPriceUsdAtHeight(height)
			}
			for _, f := range []*uint256.Int{derived.Open, derived.High, derived.Low, derived.Close, derived.Volume} {
				f.Mul(f, btcUsd)
				f.Div(f, PriceScale)
			}
		}

		key := TokenUsdCandleKey(m.tf, m.token, m.bucket)
		if err := w.Put(Namespace, key, derived.Encode()); err != nil {
			return err
		}
	}
	return nil
}
