package candles

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/schema"
	"github.com/subfrost/espo/internal/store"
	"github.com/subfrost/espo/pkg/logging"
)

func TestTimeframeDurations(t *testing.T) {
	cases := []struct {
		tf   Timeframe
		code string
		secs uint64
	}{
		{TfM10, "10m", 600},
		{TfH1, "1h", 3600},
		{TfH4, "4h", 14400},
		{TfD1, "1d", 86400},
		{TfW1, "1w", 604800},
		{TfM1, "1M", 2592000},
	}
	for _, tc := range cases {
		if tc.tf.DurationSecs() != tc.secs {
			t.Errorf("%s duration = %d, want %d", tc.code, tc.tf.DurationSecs(), tc.secs)
		}
		if tc.tf.Code() != tc.code {
			t.Errorf("code = %q, want %q", tc.tf.Code(), tc.code)
		}
		back, ok := TimeframeFromCode(tc.code)
		if !ok || back != tc.tf {
			t.Errorf("TimeframeFromCode(%q) = %v, %v", tc.code, back, ok)
		}
	}
}

func TestBucketStart(t *testing.T) {
	if got := BucketStart(3725, TfH1); got != 3600 {
		t.Errorf("BucketStart(3725, 1h) = %d, want 3600", got)
	}
	if got := BucketStart(3600, TfH1); got != 3600 {
		t.Errorf("BucketStart(3600, 1h) = %d, want 3600", got)
	}
	if got := BucketStart(599, TfM10); got != 0 {
		t.Errorf("BucketStart(599, 10m) = %d, want 0", got)
	}
}

func TestPriceMath(t *testing.T) {
	base := uint256.NewInt(1010)
	quote := uint256.NewInt(1980)

	p, ok := PriceQuotePerBase(base, quote)
	if !ok {
		t.Fatal("price should be defined")
	}
	// 1980 * 1e8 / 1010
	want := uint256.NewInt(196039603)
	if !p.Eq(want) {
		t.Errorf("quote per base = %s, want %s", p, want)
	}

	if _, ok := PriceQuotePerBase(uint256.NewInt(0), quote); ok {
		t.Error("zero base should skip the bucket")
	}
	if _, ok := PriceBasePerQuote(base, uint256.NewInt(0)); ok {
		t.Error("zero quote should skip the bucket")
	}
}

func TestMergeCandles(t *testing.T) {
	earlier := schema.NewCandle(uint256.NewInt(100), uint256.NewInt(5))
	later := schema.NewCandle(uint256.NewInt(150), uint256.NewInt(7))
	later.Low = uint256.NewInt(90)

	merged := MergeCandles(&earlier, &later)
	if !merged.Open.Eq(uint256.NewInt(100)) {
		t.Errorf("open = %s, first write should win", merged.Open)
	}
	if !merged.Close.Eq(uint256.NewInt(150)) {
		t.Errorf("close = %s, latest should win", merged.Close)
	}
	if !merged.High.Eq(uint256.NewInt(150)) {
		t.Errorf("high = %s", merged.High)
	}
	if !merged.Low.Eq(uint256.NewInt(90)) {
		t.Errorf("low = %s", merged.Low)
	}
	if !merged.Volume.Eq(uint256.NewInt(12)) {
		t.Errorf("volume = %s, want sum", merged.Volume)
	}
}

func openCacheEnv(t *testing.T) (*Cache, *store.Store, *aof.Manager) {
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
	mgr, err := aof.New(db, logdb, 10, logging.Default())
	if err != nil {
		t.Fatalf("aof.New: %v", err)
	}
	return NewCache(db, logging.Default()), db, mgr
}

func TestCacheApplyTradeAndFlush(t *testing.T) {
	cache, db, mgr := openCacheEnv(t)
	pool := schema.AlkaneId{Block: 4, Tx: 100}
	frames := []Timeframe{TfH1}

	mgr.StartBlock(1, "h1")
	batch := db.NewBatch()
	w := mgr.Tracked(batch)

	// Two trades in the same bucket.
	cache.ApplyTrade(3600, pool, frames, uint256.NewInt(1010), uint256.NewInt(1980), uint256.NewInt(10), uint256.NewInt(20))
	cache.ApplyTrade(3700, pool, frames, uint256.NewInt(1020), uint256.NewInt(1960), uint256.NewInt(10), uint256.NewInt(20))

	if err := cache.Flush(w); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := db.Write(batch); err != nil {
		t.Fatal(err)
	}
	if err := mgr.FinishBlock(); err != nil {
		t.Fatal(err)
	}

	raw, found, err := db.Get(PoolCandleKey(TfH1, pool, 3600))
	if err != nil || !found {
		t.Fatalf("candle missing: %v, %v", found, err)
	}
	fc, err := schema.DecodeFullCandle(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	// First trade sets the open; both add volume.
	firstPrice, _ := PriceQuotePerBase(uint256.NewInt(1010), uint256.NewInt(1980))
	secondPrice, _ := PriceQuotePerBase(uint256.NewInt(1020), uint256.NewInt(1960))
	if !fc.QuotePerBase.Open.Eq(firstPrice) {
		t.Errorf("open = %s, want %s", fc.QuotePerBase.Open, firstPrice)
	}
	if !fc.QuotePerBase.Close.Eq(secondPrice) {
		t.Errorf("close = %s, want %s", fc.QuotePerBase.Close, secondPrice)
	}
	if !fc.QuotePerBase.Volume.Eq(uint256.NewInt(40)) {
		t.Errorf("quote volume = %s, want 40", fc.QuotePerBase.Volume)
	}
	if !fc.BasePerQuote.Volume.Eq(uint256.NewInt(20)) {
		t.Errorf("base volume = %s, want 20", fc.BasePerQuote.Volume)
	}

	// Candle monotonicity: low <= open,close <= high.
	for _, side := range []schema.Candle{fc.QuotePerBase, fc.BasePerQuote} {
		if side.Low.Gt(side.Open) || side.Low.Gt(side.Close) {
			t.Error("low exceeds open or close")
		}
		if side.High.Lt(side.Open) || side.High.Lt(side.Close) {
			t.Error("high below open or close")
		}
	}
}

func TestCacheCrossBlockMergeKeepsOpen(t *testing.T) {
	cache, db, mgr := openCacheEnv(t)
	pool := schema.AlkaneId{Block: 4, Tx: 100}
	frames := []Timeframe{TfH1}

	// Block one.
	mgr.StartBlock(1, "h1")
	batch := db.NewBatch()
	w := mgr.Tracked(batch)
	cache.ApplyTrade(3600, pool, frames, uint256.NewInt(1000), uint256.NewInt(2000), uint256.NewInt(1), uint256.NewInt(2))
	if err := cache.Flush(w); err != nil {
		t.Fatal(err)
	}
	if err := db.Write(batch); err != nil {
		t.Fatal(err)
	}
	if err := mgr.FinishBlock(); err != nil {
		t.Fatal(err)
	}

	// Block two, same bucket, fresh cache (new block, new cache state).
	cache.Reset()
	mgr.StartBlock(2, "h2")
	batch = db.NewBatch()
	w = mgr.Tracked(batch)
	cache.ApplyTrade(3900, pool, frames, uint256.NewInt(1100), uint256.NewInt(1800), uint256.NewInt(3), uint256.NewInt(4))
	if err := cache.Flush(w); err != nil {
		t.Fatal(err)
	}
	if err := db.Write(batch); err != nil {
		t.Fatal(err)
	}
	if err := mgr.FinishBlock(); err != nil {
		t.Fatal(err)
	}

	raw, _, _ := db.Get(PoolCandleKey(TfH1, pool, 3600))
	fc, err := schema.DecodeFullCandle(raw)
	if err != nil {
		t.Fatal(err)
	}

	firstPrice, _ := PriceQuotePerBase(uint256.NewInt(1000), uint256.NewInt(2000))
	if !fc.QuotePerBase.Open.Eq(firstPrice) {
		t.Errorf("open = %s, the first block's open must survive", fc.QuotePerBase.Open)
	}
	if !fc.QuotePerBase.Volume.Eq(uint256.NewInt(6)) {
		t.Errorf("volume = %s, want 6 across blocks", fc.QuotePerBase.Volume)
	}
}

func TestCacheSkipsDrainedPool(t *testing.T) {
	cache, _, _ := openCacheEnv(t)
	pool := schema.AlkaneId{Block: 4, Tx: 100}

	cache.ApplyTrade(3600, pool, []Timeframe{TfH1}, uint256.NewInt(0), uint256.NewInt(100), uint256.NewInt(1), uint256.NewInt(1))
	if len(cache.dirty) != 0 {
		t.Error("a drained reserve should not produce candle updates")
	}
}

func TestBucketFromKey(t *testing.T) {
	pool := schema.AlkaneId{Block: 4, Tx: 100}
	key := PoolCandleKey(TfH1, pool, 7200)
	bucket, ok := BucketFromKey(key)
	if !ok || bucket != 7200 {
		t.Errorf("BucketFromKey = %d, %v; want 7200", bucket, ok)
	}
}
