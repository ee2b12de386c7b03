package amm

import (
	"context"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/schema"
	"github.com/subfrost/espo/internal/source"
)

// max128 saturates reserve arithmetic.
var max128 = func() *uint256.Int {
	v := new(uint256.Int)
	v[0] = ^uint64(0)
	v[1] = ^uint64(0)
	return v
}()

// u128FromBig converts a non-negative big.Int, saturating at 2^128−1.
func u128FromBig(v *big.Int) *uint256.Int {
	out, overflow := uint256.FromBig(v)
	if overflow || out.BitLen() > 128 {
		return new(uint256.Int).Set(max128)
	}
	return out
}

// applyDelta adds a signed delta to a u128 reserve. A result below zero is
// clamped to 0 (degraded=true); above 2^128−1 it saturates.
func applyDelta(prev *uint256.Int, delta *big.Int) (next *uint256.Int, degraded bool) {
	if delta.Sign() >= 0 {
		next = new(uint256.Int).Add(prev, u128FromBig(delta))
		if next.BitLen() > 128 || next.Lt(prev) {
			next = new(uint256.Int).Set(max128)
		}
		return next, false
	}

	abs := u128FromBig(new(big.Int).Abs(delta))
	if abs.Gt(prev) {
		return new(uint256.Int), true
	}
	return new(uint256.Int).Sub(prev, abs), false
}

// classify maps the delta sign pair onto an activity kind. ok is false for
// any pair involving a zero, which is skipped silently.
func classify(baseDelta, quoteDelta *big.Int) (schema.ActivityKind, *schema.ActivityDirection, bool) {
	switch {
	case baseDelta.Sign() > 0 && quoteDelta.Sign() < 0:
		d := schema.DirectionBaseIn
		return schema.KindTradeSell, &d, true
	case baseDelta.Sign() < 0 && quoteDelta.Sign() > 0:
		d := schema.DirectionQuoteIn
		return schema.KindTradeBuy, &d, true
	case baseDelta.Sign() > 0 && quoteDelta.Sign() > 0:
		return schema.KindLiquidityAdd, nil, true
	case baseDelta.Sign() < 0 && quoteDelta.Sign() < 0:
		return schema.KindLiquidityRemove, nil, true
	default:
		return 0, nil, false
	}
}

// emitActivity stores the activity record under (pool, ts, seq) and writes
// the fan-out index keys shared by every kind: global history and, when the
// payer is known, per-address history.
func (p *Pipeline) emitActivity(st *blockState, w *aof.Tracked, pool schema.AlkaneId, activity *schema.Activity) error {
	seq := st.nextSeq(pool)
	ts := activity.Timestamp

	if err := w.Put(Namespace, PoolActivityKey(pool, ts, seq), activity.Encode()); err != nil {
		return err
	}
	if err := w.Put(Namespace, HistoryAllKey(ts, seq, activity.Kind, pool), nil); err != nil {
		return err
	}
	if len(activity.AddressSPK) > 0 {
		if err := w.Put(Namespace, AddressHistoryKey(activity.AddressSPK, ts, seq, activity.Kind, pool), nil); err != nil {
			return err
		}
	}

	defs := st.pools[pool]
	spk := activity.AddressSPK

	switch {
	case activity.Kind.IsTrade():
		if err := w.Put(Namespace, TokenSwapsKey(defs.BaseID, ts, seq, pool), nil); err != nil {
			return err
		}
		if err := w.Put(Namespace, TokenSwapsKey(defs.QuoteID, ts, seq, pool), nil); err != nil {
			return err
		}
		if len(spk) > 0 {
			if err := w.Put(Namespace, AddressPoolSwapsKey(spk, pool, ts, seq), nil); err != nil {
				return err
			}
			if err := w.Put(Namespace, AddressTokenSwapsKey(spk, defs.BaseID, ts, seq, pool), nil); err != nil {
				return err
			}
			if err := w.Put(Namespace, AddressTokenSwapsKey(spk, defs.QuoteID, ts, seq, pool), nil); err != nil {
				return err
			}
		}
	case activity.Kind == schema.KindLiquidityAdd:
		if len(spk) > 0 {
			if err := w.Put(Namespace, AddressPoolMintsKey(spk, ts, seq, pool), nil); err != nil {
				return err
			}
		}
	case activity.Kind == schema.KindLiquidityRemove:
		if len(spk) > 0 {
			if err := w.Put(Namespace, AddressPoolBurnsKey(spk, ts, seq, pool), nil); err != nil {
				return err
			}
		}
	}

	return nil
}

// processBalanceDeltas applies each pool's per-transaction balance
// movements: reserve mutation, classification, activity emission, index
// fan-out and candle updates.
func (p *Pipeline) processBalanceDeltas(ctx context.Context, blk *source.Block, st *blockState, w *aof.Tracked) error {
	balances, err := p.essentials.BalanceTxsByHeight(ctx, blk.Height)
	if err != nil {
		p.log.Error("Failed to load balance txs", "height", blk.Height, "error", err)
		return nil
	}

	// Pools in id order so per-block emission order is deterministic.
	owners := make([]schema.AlkaneId, 0, len(balances))
	for owner := range balances {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Less(owners[j]) })

	for _, owner := range owners {
		defs, ok := st.pools[owner]
		if !ok {
			continue
		}
		snap, ok := st.snapshot.Entries[owner]
		if !ok {
			continue
		}

		for _, entry := range balances[owner] {
			baseDelta := big.NewInt(0)
			if v, ok := entry.Outflow[defs.BaseID]; ok && v != nil {
				baseDelta = v
			}
			quoteDelta := big.NewInt(0)
			if v, ok := entry.Outflow[defs.QuoteID]; ok && v != nil {
				quoteDelta = v
			}
			if baseDelta.Sign() == 0 && quoteDelta.Sign() == 0 {
				continue
			}

			kind, direction, ok := classify(baseDelta, quoteDelta)
			if !ok {
				continue
			}

			newBase, baseDegraded := applyDelta(snap.BaseReserve, baseDelta)
			newQuote, quoteDegraded := applyDelta(snap.QuoteReserve, quoteDelta)
			if baseDegraded || quoteDegraded {
				st.degraded[owner] = struct{}{}
				p.log.Error("Reserve underflow clamped to zero", "pool", owner, "txid", entry.Txid, "height", blk.Height)
			}
			snap.BaseReserve = newBase
			snap.QuoteReserve = newQuote
			st.snapshotDirty = true
			st.touched[owner] = struct{}{}

			meta, found, err := p.essentials.TxMeta(ctx, entry.Txid)
			if err != nil {
				return err
			}
			if !found {
				meta = source.TxMeta{Success: true}
			}

			activity := &schema.Activity{
				Timestamp:  blk.Timestamp,
				Txid:       [32]byte(entry.Txid),
				Kind:       kind,
				Direction:  direction,
				BaseDelta:  baseDelta,
				QuoteDelta: quoteDelta,
				AddressSPK: meta.PayerSPK,
				Success:    meta.Success,
			}
			if err := p.emitActivity(st, w, owner, activity); err != nil {
				return err
			}

			if kind.IsTrade() {
				st.hasTrades = true
				baseAbs := u128FromBig(new(big.Int).Abs(baseDelta))
				quoteAbs := u128FromBig(new(big.Int).Abs(quoteDelta))
				st.addVolume(owner, baseAbs, quoteAbs)

				st.candleCache.ApplyTrade(blk.Timestamp, owner, p.frames, newBase, newQuote, baseAbs, quoteAbs)

				if unit, ok := p.canonical[defs.QuoteID]; ok {
					st.candleCache.MarkCanonical(defs.BaseID, owner, true, unit, p.frames, blk.Timestamp)
				}
				if unit, ok := p.canonical[defs.BaseID]; ok {
					st.candleCache.MarkCanonical(defs.QuoteID, owner, false, unit, p.frames, blk.Timestamp)
				}
			}
		}
	}

	return nil
}
