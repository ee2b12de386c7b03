package amm

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/holiman/uint256"

	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/candles"
	"github.com/subfrost/espo/internal/chain"
	"github.com/subfrost/espo/internal/config"
	"github.com/subfrost/espo/internal/pricefeed"
	"github.com/subfrost/espo/internal/schema"
	"github.com/subfrost/espo/internal/source"
	"github.com/subfrost/espo/internal/store"
	"github.com/subfrost/espo/pkg/logging"
)

var (
	tokenA   = schema.AlkaneId{Block: 2, Tx: 1}
	tokenB   = schema.AlkaneId{Block: 2, Tx: 2}
	poolP    = schema.AlkaneId{Block: 4, Tx: 100}
	factoryF = schema.AlkaneId{Block: 4, Tx: 10}
	testSPK  = []byte{0x00, 0x14, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd}
)

type fakeEssentials struct {
	records  []source.CreationRecord
	proxies  map[schema.AlkaneId]schema.AlkaneId
	balances map[uint32]map[schema.AlkaneId][]source.BalanceTx
	meta     map[chainhash.Hash]source.TxMeta
}

func (f *fakeEssentials) CreationRecordsOrdered(context.Context) ([]source.CreationRecord, error) {
	return f.records, nil
}

func (f *fakeEssentials) CreationRecord(_ context.Context, alkane schema.AlkaneId) (source.CreationRecord, bool, error) {
	for _, rec := range f.records {
		if rec.Alkane == alkane {
			return rec, true, nil
		}
	}
	return source.CreationRecord{}, false, nil
}

func (f *fakeEssentials) ProxyTarget(_ context.Context, alkane schema.AlkaneId) (schema.AlkaneId, bool, error) {
	target, ok := f.proxies[alkane]
	return target, ok, nil
}

func (f *fakeEssentials) BalanceTxsByHeight(_ context.Context, height uint32) (map[schema.AlkaneId][]source.BalanceTx, error) {
	if m, ok := f.balances[height]; ok {
		return m, nil
	}
	return map[schema.AlkaneId][]source.BalanceTx{}, nil
}

func (f *fakeEssentials) TxMeta(_ context.Context, txid chainhash.Hash) (source.TxMeta, bool, error) {
	meta, ok := f.meta[txid]
	return meta, ok, nil
}

type pipelineEnv struct {
	db         *store.Store
	aofMgr     *aof.Manager
	meta       *chain.Metadata
	essentials *fakeEssentials
	pipeline   *Pipeline
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open primary: %v", err)
	}
	logdb, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open logdb: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		logdb.Close()
	})

	aofMgr, err := aof.New(db, logdb, 10, logging.Default())
	if err != nil {
		t.Fatalf("aof.New: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.NetworkType = config.NetworkRegtest

	essentials := &fakeEssentials{
		proxies:  make(map[schema.AlkaneId]schema.AlkaneId),
		balances: make(map[uint32]map[schema.AlkaneId][]source.BalanceTx),
		meta:     make(map[chainhash.Hash]source.TxMeta),
	}

	meta := chain.NewMetadata(db)
	pipeline, err := NewPipeline(cfg, db, aofMgr, meta, essentials, pricefeed.NewFixed(50_000), logging.Default())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	return &pipelineEnv{db: db, aofMgr: aofMgr, meta: meta, essentials: essentials, pipeline: pipeline}
}

func txidN(n byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = n
	return h
}

func dumpPrimary(t *testing.T, db *store.Store) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := db.IteratePrefix(nil, false, func(key, value []byte) (bool, error) {
		if bytes.HasPrefix(key, []byte("!badger!")) {
			return true, nil
		}
		out[string(key)] = string(value)
		return true, nil
	})
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	return out
}

// poolCreationBlock builds the block that deploys pool P for tokens A/B
// with 1000/2000 initial reserves via factory F.
func poolCreationBlock(height uint32, ts uint64, txid chainhash.Hash) *source.Block {
	return &source.Block{
		Height:    height,
		Hash:      fmt.Sprintf("hash%d", height),
		Timestamp: ts,
		Txs: []source.TxTraces{{
			Txid: txid,
			Events: []source.TraceEvent{
				source.CallEvent{
					Callee: source.ShortId{Block: "0x4", Tx: "0xa"},
					Data:   buildCreateCalldata(deployAmmOpcode, 2, 1, 2, 2, 30),
				},
				source.CreateEvent{ID: source.ShortId{Block: "0x4", Tx: "0x64"}},
				source.TransferEvent{ID: source.ShortId{Block: "0x2", Tx: "0x1"}, Value: "0x3e8"},
				source.TransferEvent{ID: source.ShortId{Block: "0x2", Tx: "0x2"}, Value: "0x7d0"},
				source.ReturnEvent{
					Success: true,
					Alkanes: []source.TransferLeg{{ID: source.ShortId{Block: "0x4", Tx: "0x64"}, Value: "0x58a"}},
				},
			},
		}},
	}
}

func (env *pipelineEnv) seedFactory() {
	env.essentials.records = []source.CreationRecord{
		{Alkane: factoryF, Inspection: "wasm export amm-factory v2"},
	}
}

func TestEmptyBlock(t *testing.T) {
	env := newPipelineEnv(t)

	blk := &source.Block{Height: 5, Hash: "hash5", Timestamp: 3600}
	if err := env.pipeline.ProcessBlock(context.Background(), blk); err != nil {
		t.Fatalf("ProcessBlock() error = %v", err)
	}

	h, ok, err := env.meta.IndexedHeight()
	if err != nil || !ok || h != 5 {
		t.Errorf("indexed height = %d, %v, %v; want 5", h, ok, err)
	}
	hash, ok, _ := env.meta.BlockHash(5)
	if !ok || hash != "hash5" {
		t.Errorf("stored hash = %q, %v", hash, ok)
	}

	logs, err := env.aofMgr.RecentBlocks(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Height != 5 {
		t.Fatalf("logs = %+v", logs)
	}
	if len(logs[0].Updates) != 0 {
		t.Errorf("empty block should log no updates, got %d", len(logs[0].Updates))
	}

	// Only the internal height and hash keys exist.
	dump := dumpPrimary(t, env.db)
	if len(dump) != 2 {
		t.Errorf("primary store has %d keys, want 2 internal: %v", len(dump), dump)
	}
}

func TestPoolCreation(t *testing.T) {
	env := newPipelineEnv(t)
	env.seedFactory()

	txid := txidN(1)
	env.essentials.meta[txid] = source.TxMeta{PayerSPK: testSPK, Success: true}

	if err := env.pipeline.ProcessBlock(context.Background(), poolCreationBlock(5, 3600, txid)); err != nil {
		t.Fatalf("ProcessBlock() error = %v", err)
	}

	// Factory discovered via bootstrap scan.
	has, _ := env.db.Has(FactoryKey(factoryF))
	if !has {
		t.Error("factory membership key missing")
	}

	// Reserves snapshot holds the new pool.
	snapshot, err := LoadReservesSnapshot(env.db, logging.Default())
	if err != nil {
		t.Fatal(err)
	}
	snap, ok := snapshot.Entries[poolP]
	if !ok {
		t.Fatal("pool missing from snapshot")
	}
	if snap.BaseID != tokenA || snap.QuoteID != tokenB {
		t.Errorf("legs = %v/%v, want %v/%v", snap.BaseID, snap.QuoteID, tokenA, tokenB)
	}
	if !snap.BaseReserve.Eq(uint256.NewInt(1000)) || !snap.QuoteReserve.Eq(uint256.NewInt(2000)) {
		t.Errorf("reserves = %s/%s, want 1000/2000", snap.BaseReserve, snap.QuoteReserve)
	}

	// PoolCreate activity recorded at seq 0.
	raw, found, _ := env.db.Get(PoolActivityKey(poolP, 3600, 0))
	if !found {
		t.Fatal("pool create activity missing")
	}
	activity, err := schema.DecodeActivity(raw)
	if err != nil {
		t.Fatal(err)
	}
	if activity.Kind != schema.KindPoolCreate {
		t.Errorf("kind = %v, want PoolCreate", activity.Kind)
	}

	// Creation info records the height and LP supply verbatim.
	raw, found, _ = env.db.Get(PoolCreationInfoKey(poolP))
	if !found {
		t.Fatal("pool creation info missing")
	}
	info, err := schema.DecodePoolCreationInfo(raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.CreationHeight != 5 {
		t.Errorf("creation height = %d, want 5", info.CreationHeight)
	}
	if !info.InitialLpSupply.Eq(uint256.NewInt(0x58a)) {
		t.Errorf("lp supply = %s, want %d", info.InitialLpSupply, 0x58a)
	}

	// Market defs persisted.
	raw, found, _ = env.db.Get(PoolDefsKey(poolP))
	if !found {
		t.Fatal("pool defs missing")
	}
	defs, err := schema.DecodeMarketDefs(raw)
	if err != nil {
		t.Fatal(err)
	}
	if defs.PoolID != poolP || defs.BaseID != tokenA || defs.QuoteID != tokenB {
		t.Errorf("defs = %+v", defs)
	}
}

func TestSwapAndCandle(t *testing.T) {
	env := newPipelineEnv(t)
	env.seedFactory()

	creationTxid := txidN(1)
	env.essentials.meta[creationTxid] = source.TxMeta{PayerSPK: testSPK, Success: true}
	if err := env.pipeline.ProcessBlock(context.Background(), poolCreationBlock(5, 600, creationTxid)); err != nil {
		t.Fatalf("creation block: %v", err)
	}

	swapTxid := txidN(2)
	env.essentials.meta[swapTxid] = source.TxMeta{PayerSPK: testSPK, Success: true}
	env.essentials.balances[6] = map[schema.AlkaneId][]source.BalanceTx{
		poolP: {{
			Txid: swapTxid,
			Outflow: map[schema.AlkaneId]*big.Int{
				tokenA: big.NewInt(10),
				tokenB: big.NewInt(-20),
			},
		}},
	}

	blk := &source.Block{Height: 6, Hash: "hash6", Timestamp: 3600}
	if err := env.pipeline.ProcessBlock(context.Background(), blk); err != nil {
		t.Fatalf("swap block: %v", err)
	}

	// Reserves moved.
	snapshot, err := LoadReservesSnapshot(env.db, logging.Default())
	if err != nil {
		t.Fatal(err)
	}
	snap := snapshot.Entries[poolP]
	if !snap.BaseReserve.Eq(uint256.NewInt(1010)) || !snap.QuoteReserve.Eq(uint256.NewInt(1980)) {
		t.Errorf("reserves = %s/%s, want 1010/1980", snap.BaseReserve, snap.QuoteReserve)
	}

	// TradeSell activity with direction BaseIn at seq 0 of this block.
	raw, found, _ := env.db.Get(PoolActivityKey(poolP, 3600, 0))
	if !found {
		t.Fatal("swap activity missing")
	}
	activity, err := schema.DecodeActivity(raw)
	if err != nil {
		t.Fatal(err)
	}
	if activity.Kind != schema.KindTradeSell {
		t.Errorf("kind = %v, want TradeSell", activity.Kind)
	}
	if activity.Direction == nil || *activity.Direction != schema.DirectionBaseIn {
		t.Error("direction should be BaseIn")
	}

	// 1h candle at bucket 3600: open = close = 1980*1e8/1010.
	raw, found, _ = env.db.Get(candles.PoolCandleKey(candles.TfH1, poolP, 3600))
	if !found {
		t.Fatal("candle missing")
	}
	fc, err := schema.DecodeFullCandle(raw)
	if err != nil {
		t.Fatal(err)
	}
	wantPrice := new(uint256.Int).Mul(uint256.NewInt(1980), candles.PriceScale)
	wantPrice.Div(wantPrice, uint256.NewInt(1010))
	if !fc.QuotePerBase.Open.Eq(wantPrice) || !fc.QuotePerBase.Close.Eq(wantPrice) {
		t.Errorf("candle open/close = %s/%s, want %s", fc.QuotePerBase.Open, fc.QuotePerBase.Close, wantPrice)
	}
	if !fc.QuotePerBase.Volume.Eq(uint256.NewInt(20)) {
		t.Errorf("quote volume = %s, want 20", fc.QuotePerBase.Volume)
	}
	if !fc.BasePerQuote.Volume.Eq(uint256.NewInt(10)) {
		t.Errorf("base volume = %s, want 10", fc.BasePerQuote.Volume)
	}

	// Pool metrics carry the in-flight block's side volumes in the 1d window.
	raw, found, _ = env.db.Get(PoolMetricsKey(poolP))
	if !found {
		t.Fatal("pool metrics missing")
	}
	pm, err := schema.DecodePoolMetrics(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !pm.Token0Volume1d.Eq(uint256.NewInt(10)) || !pm.Token1Volume1d.Eq(uint256.NewInt(20)) {
		t.Errorf("pool side volumes 1d = %s/%s, want 10/20", pm.Token0Volume1d, pm.Token1Volume1d)
	}

	// Token metrics sum the token's side volume in every window, even
	// without a canonical pairing (price stays zero then).
	raw, found, _ = env.db.Get(TokenMetricsKey(tokenA))
	if !found {
		t.Fatal("token metrics missing")
	}
	tm, err := schema.DecodeTokenMetrics(raw)
	if err != nil {
		t.Fatal(err)
	}
	for _, vol := range []*uint256.Int{tm.Volume1d, tm.Volume7d, tm.Volume30d, tm.VolumeAllTime} {
		if !vol.Eq(uint256.NewInt(10)) {
			t.Errorf("token A volume window = %s, want 10", vol)
		}
	}
	if !tm.PriceUsd.IsZero() {
		t.Errorf("price usd = %s, want 0 without a canonical pairing", tm.PriceUsd)
	}

	raw, found, _ = env.db.Get(TokenMetricsKey(tokenB))
	if !found {
		t.Fatal("token B metrics missing")
	}
	tm, err = schema.DecodeTokenMetrics(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !tm.Volume1d.Eq(uint256.NewInt(20)) {
		t.Errorf("token B volume 1d = %s, want 20", tm.Volume1d)
	}

	// Fan-out keys present: global, token A, token B, address.
	for _, key := range [][]byte{
		HistoryAllKey(3600, 0, schema.KindTradeSell, poolP),
		TokenSwapsKey(tokenA, 3600, 0, poolP),
		TokenSwapsKey(tokenB, 3600, 0, poolP),
		AddressPoolSwapsKey(testSPK, poolP, 3600, 0),
		AddressTokenSwapsKey(testSPK, tokenA, 3600, 0, poolP),
		AddressTokenSwapsKey(testSPK, tokenB, 3600, 0, poolP),
		AddressHistoryKey(testSPK, 3600, 0, schema.KindTradeSell, poolP),
	} {
		has, err := env.db.Has(key)
		if err != nil {
			t.Fatal(err)
		}
		if !has {
			t.Errorf("fan-out key missing: %q", key)
		}
	}
}

func TestReorgRevertRestoresState(t *testing.T) {
	env := newPipelineEnv(t)
	env.seedFactory()

	creationTxid := txidN(1)
	env.essentials.meta[creationTxid] = source.TxMeta{PayerSPK: testSPK, Success: true}
	if err := env.pipeline.ProcessBlock(context.Background(), poolCreationBlock(5, 600, creationTxid)); err != nil {
		t.Fatalf("creation block: %v", err)
	}

	before := dumpPrimary(t, env.db)

	// Two more blocks with swaps.
	for h := uint32(6); h <= 7; h++ {
		txid := txidN(byte(h))
		env.essentials.meta[txid] = source.TxMeta{PayerSPK: testSPK, Success: true}
		env.essentials.balances[h] = map[schema.AlkaneId][]source.BalanceTx{
			poolP: {{
				Txid: txid,
				Outflow: map[schema.AlkaneId]*big.Int{
					tokenA: big.NewInt(int64(h)),
					tokenB: big.NewInt(-int64(h)),
				},
			}},
		}
		blk := &source.Block{Height: h, Hash: fmt.Sprintf("hash%d", h), Timestamp: uint64(h) * 3600}
		if err := env.pipeline.ProcessBlock(context.Background(), blk); err != nil {
			t.Fatalf("block %d: %v", h, err)
		}
	}

	// Revert blocks 6..7 the way the indexer does on reorg.
	lowest, ok, err := env.aofMgr.RevertLastBlocks(2)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if !ok || lowest != 6 {
		t.Fatalf("lowest = %d, %v; want 6", lowest, ok)
	}
	if err := env.meta.DeleteHashesFrom(6); err != nil {
		t.Fatal(err)
	}
	if err := env.meta.SetIndexedHeight(5); err != nil {
		t.Fatal(err)
	}

	after := dumpPrimary(t, env.db)
	if len(after) != len(before) {
		t.Fatalf("store has %d keys after revert, want %d", len(after), len(before))
	}
	for k, v := range before {
		if after[k] != v {
			t.Errorf("key %x differs after revert", k)
		}
	}

	h, _, _ := env.meta.IndexedHeight()
	if h != 5 {
		t.Errorf("indexed height = %d, want 5", h)
	}
	if _, ok, _ := env.meta.BlockHash(6); ok {
		t.Error("hash for reverted block 6 should be gone")
	}
	if _, ok, _ := env.meta.BlockHash(7); ok {
		t.Error("hash for reverted block 7 should be gone")
	}
}

func TestUnderflowClampsAndContinues(t *testing.T) {
	env := newPipelineEnv(t)

	// Seed a pool with tiny reserves directly.
	snapshot := schema.NewReservesSnapshot()
	snapshot.Entries[poolP] = &schema.PoolSnapshot{
		BaseReserve:  uint256.NewInt(5),
		QuoteReserve: uint256.NewInt(5),
		BaseID:       tokenA,
		QuoteID:      tokenB,
	}
	if err := env.db.Put(ReservesSnapshotKey(), snapshot.Encode()); err != nil {
		t.Fatal(err)
	}

	txid := txidN(9)
	env.essentials.meta[txid] = source.TxMeta{PayerSPK: testSPK, Success: true}
	env.essentials.balances[5] = map[schema.AlkaneId][]source.BalanceTx{
		poolP: {{
			Txid: txid,
			Outflow: map[schema.AlkaneId]*big.Int{
				tokenA: big.NewInt(-10),
				tokenB: big.NewInt(-10),
			},
		}},
	}

	blk := &source.Block{Height: 5, Hash: "hash5", Timestamp: 3600}
	if err := env.pipeline.ProcessBlock(context.Background(), blk); err != nil {
		t.Fatalf("ProcessBlock() error = %v", err)
	}

	loaded, err := LoadReservesSnapshot(env.db, logging.Default())
	if err != nil {
		t.Fatal(err)
	}
	snap := loaded.Entries[poolP]
	if !snap.BaseReserve.IsZero() || !snap.QuoteReserve.IsZero() {
		t.Errorf("reserves = %s/%s, want 0/0", snap.BaseReserve, snap.QuoteReserve)
	}

	// The LiquidityRemove activity is still emitted.
	raw, found, _ := env.db.Get(PoolActivityKey(poolP, 3600, 0))
	if !found {
		t.Fatal("activity missing after underflow")
	}
	activity, err := schema.DecodeActivity(raw)
	if err != nil {
		t.Fatal(err)
	}
	if activity.Kind != schema.KindLiquidityRemove {
		t.Errorf("kind = %v, want LiquidityRemove", activity.Kind)
	}

	// Next block processes normally.
	next := &source.Block{Height: 6, Hash: "hash6", Timestamp: 7200}
	if err := env.pipeline.ProcessBlock(context.Background(), next); err != nil {
		t.Errorf("next block after underflow: %v", err)
	}
}

func TestCanonicalQuoteBecomesQuoteLeg(t *testing.T) {
	env := newPipelineEnv(t)

	// (2, 56801) is the configured canonical USD token; with tokenA on the
	// other side it must become the quote leg even though it orders first.
	usd := schema.AlkaneId{Block: 2, Tx: 56801}
	base, quote := env.pipeline.orderLegs(usd, schema.AlkaneId{Block: 3, Tx: 7})
	if quote != usd {
		t.Errorf("quote = %v, want canonical %v", quote, usd)
	}
	if base != (schema.AlkaneId{Block: 3, Tx: 7}) {
		t.Errorf("base = %v", base)
	}

	// Without a canonical leg, plain id order decides.
	base, quote = env.pipeline.orderLegs(tokenB, tokenA)
	if base != tokenA || quote != tokenB {
		t.Errorf("legs = %v/%v, want %v/%v", base, quote, tokenA, tokenB)
	}
}
