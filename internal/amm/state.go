package amm

import (
	"github.com/holiman/uint256"

	"github.com/subfrost/espo/internal/candles"
	"github.com/subfrost/espo/internal/schema"
)

// tradeVolume accumulates the intra-block absolute volume per pool.
type tradeVolume struct {
	base  *uint256.Int
	quote *uint256.Int
}

// blockState carries everything the pipeline accumulates while indexing
// one block.
type blockState struct {
	snapshot *schema.ReservesSnapshot
	pools    map[schema.AlkaneId]*schema.MarketDefs

	// seqs allocates the per-(pool, block) activity sequence, dense from 0.
	seqs map[schema.AlkaneId]uint64

	volumes  map[schema.AlkaneId]*tradeVolume
	touched  map[schema.AlkaneId]struct{}
	degraded map[schema.AlkaneId]struct{}

	snapshotDirty bool
	hasTrades     bool

	candleCache *candles.Cache
}

func newBlockState(snapshot *schema.ReservesSnapshot, cache *candles.Cache) *blockState {
	return &blockState{
		snapshot:    snapshot,
		pools:       poolsFromSnapshot(snapshot),
		seqs:        make(map[schema.AlkaneId]uint64),
		volumes:     make(map[schema.AlkaneId]*tradeVolume),
		touched:     make(map[schema.AlkaneId]struct{}),
		degraded:    make(map[schema.AlkaneId]struct{}),
		candleCache: cache,
	}
}

// nextSeq hands out the next activity sequence number for a pool.
func (st *blockState) nextSeq(pool schema.AlkaneId) uint64 {
	seq := st.seqs[pool]
	st.seqs[pool] = seq + 1
	return seq
}

// addVolume folds one trade's absolute legs into the pool's running block
// volume.
func (st *blockState) addVolume(pool schema.AlkaneId, baseAbs, quoteAbs *uint256.Int) {
	vol, ok := st.volumes[pool]
	if !ok {
		vol = &tradeVolume{base: new(uint256.Int), quote: new(uint256.Int)}
		st.volumes[pool] = vol
	}
	vol.base.Add(vol.base, baseAbs)
	vol.quote.Add(vol.quote, quoteAbs)
}
