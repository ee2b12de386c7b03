package amm

import (
	"context"
	"fmt"

	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/candles"
	"github.com/subfrost/espo/internal/chain"
	"github.com/subfrost/espo/internal/config"
	"github.com/subfrost/espo/internal/schema"
	"github.com/subfrost/espo/internal/source"
	"github.com/subfrost/espo/internal/store"
	"github.com/subfrost/espo/pkg/logging"
)

// Pipeline indexes one block at a time. It is not safe for concurrent use;
// the indexer loop is single-threaded per chain by design.
type Pipeline struct {
	cfg        *config.AppConfig
	db         *store.Store
	aof        *aof.Manager
	meta       *chain.Metadata
	essentials source.EssentialsSource
	feed       candles.PriceFeed
	log        *logging.Logger

	frames    []candles.Timeframe
	canonical map[schema.AlkaneId]config.CanonicalQuoteUnit

	factories    map[schema.AlkaneId]struct{}
	bootstrapped bool
}

// NewPipeline wires the per-block pipeline. The persisted factory set is
// loaded eagerly and the network's well-known factory contract is seeded
// into it.
func NewPipeline(cfg *config.AppConfig, db *store.Store, aofMgr *aof.Manager, meta *chain.Metadata, essentials source.EssentialsSource, feed candles.PriceFeed, log *logging.Logger) (*Pipeline, error) {
	p := &Pipeline{
		cfg:        cfg,
		db:         db,
		aof:        aofMgr,
		meta:       meta,
		essentials: essentials,
		feed:       feed,
		log:        log,
		frames:     candles.ActiveTimeframes(),
		canonical:  config.CanonicalQuoteUnits(cfg.NetworkType),
	}
	if err := p.loadFactories(); err != nil {
		return nil, fmt.Errorf("load factories: %w", err)
	}
	if wellKnown, err := config.AmmFactory(cfg.NetworkType); err == nil {
		p.factories[wellKnown] = struct{}{}
	}
	return p, nil
}

// Factories returns a copy of the current factory set.
func (p *Pipeline) Factories() []schema.AlkaneId {
	out := make([]schema.AlkaneId, 0, len(p.factories))
	for id := range p.factories {
		out = append(out, id)
	}
	return out
}

// ProcessBlock runs the full per-block pipeline and commits the result
// atomically: factory discovery, pool materialization, delta application,
// candle bucketing, index fan-out, metrics, and finally the AOF flush and
// the indexed-height advance.
func (p *Pipeline) ProcessBlock(ctx context.Context, blk *source.Block) error {
	p.aof.StartBlock(blk.Height, blk.Hash)

	batch := p.db.NewBatch()
	w := p.aof.Tracked(batch)

	snapshot, err := LoadReservesSnapshot(p.db, p.log)
	if err != nil {
		return fmt.Errorf("load reserves snapshot: %w", err)
	}
	cache := candles.NewCache(p.db, p.log.Component("candles"))
	st := newBlockState(snapshot, cache)

	if err := p.prepareFactories(ctx, blk, w); err != nil {
		return fmt.Errorf("prepare factories at %d: %w", blk.Height, err)
	}
	if err := p.materializePools(ctx, blk, st, w); err != nil {
		return fmt.Errorf("materialize pools at %d: %w", blk.Height, err)
	}
	if err := p.processBalanceDeltas(ctx, blk, st, w); err != nil {
		return fmt.Errorf("process balance deltas at %d: %w", blk.Height, err)
	}

	if st.hasTrades {
		if err := cache.Flush(w); err != nil {
			return fmt.Errorf("flush candles at %d: %w", blk.Height, err)
		}
		if err := cache.Reproject(w, p.feed, blk.Height); err != nil {
			return fmt.Errorf("reproject candles at %d: %w", blk.Height, err)
		}
	}

	if st.snapshotDirty {
		if err := w.Put(Namespace, ReservesSnapshotKey(), st.snapshot.Encode()); err != nil {
			return fmt.Errorf("write reserves snapshot at %d: %w", blk.Height, err)
		}
	}

	if err := p.updateMetrics(st, w, blk); err != nil {
		return fmt.Errorf("update metrics at %d: %w", blk.Height, err)
	}

	if err := p.db.Write(batch); err != nil {
		return fmt.Errorf("commit block %d: %w", blk.Height, err)
	}

	if err := p.aof.FinishBlock(); err != nil {
		return fmt.Errorf("finish aof block %d: %w", blk.Height, err)
	}

	// Height and hash move together, and only after the AOF log is durable:
	// a crash before this point re-indexes the block from scratch.
	if err := p.meta.StoreBlockHash(blk.Height, blk.Hash); err != nil {
		return fmt.Errorf("store block hash %d: %w", blk.Height, err)
	}
	if err := p.meta.SetIndexedHeight(blk.Height); err != nil {
		return fmt.Errorf("set indexed height %d: %w", blk.Height, err)
	}

	if len(st.degraded) > 0 {
		p.log.Warn("Block indexed with degraded pools", "height", blk.Height, "degraded", len(st.degraded))
	}

	return nil
}
