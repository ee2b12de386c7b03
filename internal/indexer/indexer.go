// Package indexer drives the sequential block loop: reorg detection,
// revert, per-block pipeline execution, and the graceful-shutdown contract
// that only stops at block boundaries.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/subfrost/espo/internal/amm"
	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/chain"
	"github.com/subfrost/espo/internal/config"
	"github.com/subfrost/espo/internal/source"
	"github.com/subfrost/espo/internal/store"
	"github.com/subfrost/espo/pkg/logging"
)

// tipPollInterval is how long the loop sleeps when caught up with the tip.
const tipPollInterval = 5 * time.Second

// Indexer processes blocks strictly in height order. All AOF and snapshot
// invariants rely on this single-threaded-per-chain scheduling.
type Indexer struct {
	cfg      *config.AppConfig
	db       *store.Store
	aofMgr   *aof.Manager
	meta     *chain.Metadata
	pipeline *amm.Pipeline
	blocks   source.BlockSource
	log      *logging.Logger

	genesis uint32

	// onBlock, when set, fires after every successfully indexed block.
	onBlock func(height uint32, hash string)
}

// OnBlock registers a callback fired after each indexed block. Must be set
// before Run.
func (ix *Indexer) OnBlock(fn func(height uint32, hash string)) {
	ix.onBlock = fn
}

// New wires an indexer.
func New(cfg *config.AppConfig, db *store.Store, aofMgr *aof.Manager, meta *chain.Metadata, pipeline *amm.Pipeline, blocks source.BlockSource, log *logging.Logger) *Indexer {
	return &Indexer{
		cfg:      cfg,
		db:       db,
		aofMgr:   aofMgr,
		meta:     meta,
		pipeline: pipeline,
		blocks:   blocks,
		log:      log,
		genesis:  config.GenesisHeight(cfg.NetworkType),
	}
}

// Run processes blocks until the context is cancelled. Cancellation is
// honored only between blocks: a block being indexed always runs to
// completion so its AOF log lands on disk. Returns nil on graceful
// shutdown and the fatal error otherwise.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.log.Info("Indexer starting", "network", ix.cfg.NetworkType, "genesis", ix.genesis, "aof_depth", ix.aofMgr.Depth())

	for {
		select {
		case <-ctx.Done():
			ix.log.Info("Indexer stopped at block boundary")
			return nil
		default:
		}

		advanced, err := ix.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// A fetch interrupted by shutdown is not a failure.
				ix.log.Info("Indexer stopped at block boundary")
				return nil
			}
			return err
		}

		if !advanced {
			select {
			case <-ctx.Done():
			case <-time.After(tipPollInterval):
			}
			continue
		}

		if delay := ix.cfg.Indexer.BlockDelayMs; delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(delay) * time.Millisecond):
			}
		}
	}
}

// step indexes at most one block. It reports whether it advanced, so the
// caller can idle at the tip.
func (ix *Indexer) step(ctx context.Context) (bool, error) {
	indexed, haveIndexed, err := ix.meta.IndexedHeight()
	if err != nil {
		return false, fmt.Errorf("read indexed height: %w", err)
	}

	next := ix.genesis
	if haveIndexed {
		next = indexed + 1
	}

	tip, err := ix.blocks.TipHeight(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch tip height: %w", err)
	}
	if next > tip {
		return false, nil
	}

	if haveIndexed && next > ix.genesis {
		reverted, err := ix.checkReorg(ctx, next)
		if err != nil {
			return false, err
		}
		if reverted {
			return true, nil
		}
	}

	blk, err := ix.blocks.BlockAt(ctx, next)
	if err != nil {
		return false, fmt.Errorf("fetch block %d: %w", next, err)
	}

	// The block runs on a context that ignores shutdown, so a cancel that
	// arrives mid-block cannot interrupt it.
	if err := ix.pipeline.ProcessBlock(context.WithoutCancel(ctx), blk); err != nil {
		return false, err
	}

	ix.log.Info("Block indexed", "height", blk.Height, "hash", blk.Hash, "txs", len(blk.Txs))
	if ix.onBlock != nil {
		ix.onBlock(blk.Height, blk.Hash)
	}
	return true, nil
}

// checkReorg compares the local hash chain against the remote one and, on
// divergence, reverts down to the common ancestor: AOF replay first, then
// the hash map and the indexed-height pointer move back together.
func (ix *Indexer) checkReorg(ctx context.Context, next uint32) (bool, error) {
	depth := ix.aofMgr.Depth()
	if window := next - ix.genesis; window < depth {
		depth = window
	}

	remote := func(height uint32) (string, bool, error) {
		return ix.blocks.BlockHash(ctx, height)
	}

	ancestor, reorg, err := ix.meta.DetectReorg(next, depth, remote)
	if err != nil {
		return false, fmt.Errorf("reorg detection at %d: %w", next, err)
	}
	if !reorg {
		return false, nil
	}

	indexed := next - 1
	count := int(indexed - ancestor)
	ix.log.Warn("Reorg detected", "ancestor", ancestor, "indexed", indexed, "reverting", count)

	lowest, ok, err := ix.aofMgr.RevertLastBlocks(count)
	if err != nil {
		return false, fmt.Errorf("revert %d blocks: %w", count, err)
	}
	if ok && lowest != ancestor+1 {
		return false, fmt.Errorf("revert stopped at %d, expected %d", lowest, ancestor+1)
	}

	if err := ix.meta.DeleteHashesFrom(ancestor + 1); err != nil {
		return false, fmt.Errorf("delete hashes from %d: %w", ancestor+1, err)
	}
	if err := ix.meta.SetIndexedHeight(ancestor); err != nil {
		return false, fmt.Errorf("reset indexed height to %d: %w", ancestor, err)
	}

	ix.log.Info("Reorg handled", "indexed_height", ancestor)
	return true, nil
}
