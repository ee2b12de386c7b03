package amm

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/candles"
	"github.com/subfrost/espo/internal/config"
	"github.com/subfrost/espo/internal/schema"
	"github.com/subfrost/espo/internal/source"
)

const (
	secsPerDay = uint64(24 * 3600)
)

// windowCutoff computes ts − window, saturating at 0 for young chains.
func windowCutoff(ts, window uint64) uint64 {
	if ts < window {
		return 0
	}
	return ts - window
}

// sumPoolVolumes walks a pool's stored daily candles backwards and sums
// both side volumes for buckets at or after cutoff. A cutoff of 0 sums the
// pool's whole history.
func (p *Pipeline) sumPoolVolumes(pool schema.AlkaneId, cutoff uint64) (base, quote *uint256.Int) {
	base = new(uint256.Int)
	quote = new(uint256.Int)
	prefix := candles.PoolCandleRangePrefix(candles.TfD1, pool)
	_ = p.db.IteratePrefix(prefix, true, func(key, value []byte) (bool, error) {
		bucket, ok := candles.BucketFromKey(key)
		if !ok || bucket < cutoff {
			return false, nil
		}
		fc, err := schema.DecodeFullCandle(value)
		if err != nil {
			return true, nil
		}
		base.Add(base, fc.BasePerQuote.Volume)
		quote.Add(quote, fc.QuotePerBase.Volume)
		return true, nil
	})
	return base, quote
}

// poolWindows holds one pool's side volumes across the metric windows,
// including the in-flight block that has not reached the store yet.
type poolWindows struct {
	base1d, quote1d   *uint256.Int
	base7d, quote7d   *uint256.Int
	base30d, quote30d *uint256.Int
	baseAll, quoteAll *uint256.Int
}

func (p *Pipeline) poolWindows(st *blockState, pool schema.AlkaneId, ts uint64) *poolWindows {
	w := &poolWindows{}
	windows := []struct {
		cutoff      uint64
		base, quote **uint256.Int
	}{
		{windowCutoff(ts, secsPerDay), &w.base1d, &w.quote1d},
		{windowCutoff(ts, 7*secsPerDay), &w.base7d, &w.quote7d},
		{windowCutoff(ts, 30*secsPerDay), &w.base30d, &w.quote30d},
		{0, &w.baseAll, &w.quoteAll},
	}
	for _, win := range windows {
		base, quote := p.sumPoolVolumes(pool, win.cutoff)
		if vol, ok := st.volumes[pool]; ok {
			base.Add(base, vol.base)
			quote.Add(quote, vol.quote)
		}
		*win.base = base
		*win.quote = quote
	}
	return w
}

// canonicalValue prices an amount of a canonical leg in USD and sats using
// the block's BTC/USD price.
func (p *Pipeline) canonicalValue(amount *uint256.Int, unit config.CanonicalQuoteUnit, btcUsd *uint256.Int) (usd, sats *uint256.Int) {
	usd = new(uint256.Int)
	sats = new(uint256.Int)
	switch unit {
	case config.UnitUsd:
		usd.Set(amount)
		if !btcUsd.IsZero() {
			sats.Mul(amount, candles.PriceScale)
			sats.Div(sats, btcUsd)
		}
	case config.UnitBtc:
		sats.Set(amount)
		usd.Mul(amount, btcUsd)
		usd.Div(usd, candles.PriceScale)
	}
	return usd, sats
}

// updateMetrics refreshes pool and token metrics for every pool touched by
// the block. Stored daily candles provide the trailing windows; the
// in-block volumes cover the bucket that has not been flushed to the store
// yet.
func (p *Pipeline) updateMetrics(st *blockState, w *aof.Tracked, blk *source.Block) error {
	if len(st.touched) == 0 {
		return nil
	}

	btcUsd := p.feed.BitcoinPriceUsdAtHeight(blk.Height)

	pools := make([]schema.AlkaneId, 0, len(st.touched))
	for pool := range st.touched {
		pools = append(pools, pool)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Less(pools[j]) })

	tokens := make(map[schema.AlkaneId]struct{})

	for _, pool := range pools {
		defs := st.pools[pool]
		snap := st.snapshot.Entries[pool]
		if defs == nil || snap == nil {
			continue
		}
		tokens[defs.BaseID] = struct{}{}
		tokens[defs.QuoteID] = struct{}{}

		windows := p.poolWindows(st, pool, blk.Timestamp)

		m := schema.NewPoolMetrics()
		m.Token0Volume1d = windows.base1d
		m.Token1Volume1d = windows.quote1d
		m.Token0Volume30d = windows.base30d
		m.Token1Volume30d = windows.quote30d

		// Value the canonical leg when one exists; TVL doubles it because
		// both sides of a balanced pool carry equal value.
		var canonicalLeg *uint256.Int
		var canonicalVolumes []*uint256.Int
		var unit config.CanonicalQuoteUnit
		if u, ok := p.canonical[defs.QuoteID]; ok {
			unit = u
			canonicalLeg = snap.QuoteReserve
			canonicalVolumes = []*uint256.Int{windows.quote1d, windows.quote7d, windows.quote30d, windows.quoteAll}
		} else if u, ok := p.canonical[defs.BaseID]; ok {
			unit = u
			canonicalLeg = snap.BaseReserve
			canonicalVolumes = []*uint256.Int{windows.base1d, windows.base7d, windows.base30d, windows.baseAll}
		}
		if canonicalLeg != nil {
			m.PoolVolume1dUsd, m.PoolVolume1dSats = p.canonicalValue(canonicalVolumes[0], unit, btcUsd)
			m.PoolVolume7dUsd, m.PoolVolume7dSats = p.canonicalValue(canonicalVolumes[1], unit, btcUsd)
			m.PoolVolume30dUsd, m.PoolVolume30dSats = p.canonicalValue(canonicalVolumes[2], unit, btcUsd)
			m.PoolVolumeAllTimeUsd, m.PoolVolumeAllSats = p.canonicalValue(canonicalVolumes[3], unit, btcUsd)

			doubled := new(uint256.Int).Add(canonicalLeg, canonicalLeg)
			m.PoolTvlUsd, m.PoolTvlSats = p.canonicalValue(doubled, unit, btcUsd)
		}

		if err := w.Put(Namespace, PoolMetricsKey(pool), m.Encode()); err != nil {
			return err
		}
	}

	tokenIds := make([]schema.AlkaneId, 0, len(tokens))
	for id := range tokens {
		tokenIds = append(tokenIds, id)
	}
	sort.Slice(tokenIds, func(i, j int) bool { return tokenIds[i].Less(tokenIds[j]) })

	for _, token := range tokenIds {
		if _, isCanonical := p.canonical[token]; isCanonical {
			continue
		}
		m := p.tokenMetrics(st, token, btcUsd, blk.Timestamp)
		if err := w.Put(Namespace, TokenMetricsKey(token), m.Encode()); err != nil {
			return err
		}
	}

	return nil
}

// tokenMetrics sums a token's side volumes across every pool it trades in
// and derives its USD price from the first pool pairing it with a canonical
// leg. PriceUsd stays zero for tokens with no canonical pairing.
func (p *Pipeline) tokenMetrics(st *blockState, token schema.AlkaneId, btcUsd *uint256.Int, ts uint64) *schema.TokenMetrics {
	m := schema.NewTokenMetrics()

	for pool, defs := range st.pools {
		tokenIsBase := defs.BaseID == token
		if !tokenIsBase && defs.QuoteID != token {
			continue
		}

		windows := p.poolWindows(st, pool, ts)
		if tokenIsBase {
			m.Volume1d.Add(m.Volume1d, windows.base1d)
			m.Volume7d.Add(m.Volume7d, windows.base7d)
			m.Volume30d.Add(m.Volume30d, windows.base30d)
			m.VolumeAllTime.Add(m.VolumeAllTime, windows.baseAll)
		} else {
			m.Volume1d.Add(m.Volume1d, windows.quote1d)
			m.Volume7d.Add(m.Volume7d, windows.quote7d)
			m.Volume30d.Add(m.Volume30d, windows.quote30d)
			m.VolumeAllTime.Add(m.VolumeAllTime, windows.quoteAll)
		}

		if !m.PriceUsd.IsZero() {
			continue
		}
		snap := st.snapshot.Entries[pool]
		if snap == nil {
			continue
		}

		var tokenReserve, canonicalReserve *uint256.Int
		var unit config.CanonicalQuoteUnit
		if tokenIsBase {
			u, ok := p.canonical[defs.QuoteID]
			if !ok {
				continue
			}
			unit = u
			tokenReserve, canonicalReserve = snap.BaseReserve, snap.QuoteReserve
		} else {
			u, ok := p.canonical[defs.BaseID]
			if !ok {
				continue
			}
			unit = u
			tokenReserve, canonicalReserve = snap.QuoteReserve, snap.BaseReserve
		}
		if tokenReserve.IsZero() {
			continue
		}

		price := new(uint256.Int).Mul(canonicalReserve, candles.PriceScale)
		price.Div(price, tokenReserve)
		usd, _ := p.canonicalValue(price, unit, btcUsd)
		m.PriceUsd = usd
	}

	return m
}
