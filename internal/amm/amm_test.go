package amm

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/subfrost/espo/internal/schema"
)

func TestClassifySignTable(t *testing.T) {
	cases := []struct {
		base, quote int64
		kind        schema.ActivityKind
		direction   *schema.ActivityDirection
		ok          bool
	}{
		{10, -20, schema.KindTradeSell, dirPtr(schema.DirectionBaseIn), true},
		{-10, 20, schema.KindTradeBuy, dirPtr(schema.DirectionQuoteIn), true},
		{10, 20, schema.KindLiquidityAdd, nil, true},
		{-10, -20, schema.KindLiquidityRemove, nil, true},
		{10, 0, 0, nil, false},
		{-10, 0, 0, nil, false},
		{0, 10, 0, nil, false},
		{0, -10, 0, nil, false},
		{0, 0, 0, nil, false},
	}

	for _, tc := range cases {
		kind, direction, ok := classify(big.NewInt(tc.base), big.NewInt(tc.quote))
		if ok != tc.ok {
			t.Errorf("classify(%d, %d) ok = %v, want %v", tc.base, tc.quote, ok, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		if kind != tc.kind {
			t.Errorf("classify(%d, %d) kind = %v, want %v", tc.base, tc.quote, kind, tc.kind)
		}
		if (direction == nil) != (tc.direction == nil) {
			t.Errorf("classify(%d, %d) direction presence mismatch", tc.base, tc.quote)
		} else if direction != nil && *direction != *tc.direction {
			t.Errorf("classify(%d, %d) direction = %v, want %v", tc.base, tc.quote, *direction, *tc.direction)
		}
	}
}

func dirPtr(d schema.ActivityDirection) *schema.ActivityDirection {
	return &d
}

func TestApplyDeltaClampsUnderflow(t *testing.T) {
	next, degraded := applyDelta(uint256.NewInt(5), big.NewInt(-10))
	if !degraded {
		t.Error("underflow should mark the pool degraded")
	}
	if !next.IsZero() {
		t.Errorf("reserve = %s, want 0", next)
	}

	next, degraded = applyDelta(uint256.NewInt(100), big.NewInt(-100))
	if degraded || !next.IsZero() {
		t.Errorf("exact drain = %s, degraded=%v; want 0, false", next, degraded)
	}

	next, degraded = applyDelta(uint256.NewInt(100), big.NewInt(50))
	if degraded || !next.Eq(uint256.NewInt(150)) {
		t.Errorf("add = %s, degraded=%v", next, degraded)
	}
}

func TestHistoryKeyRoundTrip(t *testing.T) {
	pool := schema.AlkaneId{Block: 4, Tx: 100}

	key := HistoryAllKey(3600, 2, schema.KindTradeBuy, pool)
	ts, seq, kind, gotPool, ok := ParseHistoryAllKey(key)
	if !ok {
		t.Fatal("ParseHistoryAllKey failed")
	}
	if ts != 3600 || seq != 2 || kind != schema.KindTradeBuy || gotPool != pool {
		t.Errorf("parsed = %d %d %v %v", ts, seq, kind, gotPool)
	}

	spk := []byte{0x00, 0x14, 0xaa}
	prefix := AddressHistoryPrefix(spk)
	addrKey := AddressHistoryKey(spk, 7200, 0, schema.KindLiquidityAdd, pool)
	ts, seq, kind, gotPool, ok = ParseAddressHistoryKey(addrKey, prefix)
	if !ok {
		t.Fatal("ParseAddressHistoryKey failed")
	}
	if ts != 7200 || seq != 0 || kind != schema.KindLiquidityAdd || gotPool != pool {
		t.Errorf("parsed = %d %d %v %v", ts, seq, kind, gotPool)
	}
}

func TestHistoryKeysSortByTimestamp(t *testing.T) {
	pool := schema.AlkaneId{Block: 4, Tx: 100}
	early := HistoryAllKey(100, 5, schema.KindTradeBuy, pool)
	late := HistoryAllKey(200, 0, schema.KindTradeBuy, pool)
	if string(early) >= string(late) {
		t.Error("earlier timestamp must sort first regardless of seq")
	}

	first := HistoryAllKey(100, 0, schema.KindTradeBuy, pool)
	second := HistoryAllKey(100, 1, schema.KindTradeBuy, pool)
	if string(first) >= string(second) {
		t.Error("seq must break ties within a timestamp")
	}
}

func TestParseFactoryCreateCall(t *testing.T) {
	data := buildCreateCalldata(deployAmmOpcode, 2, 1, 2, 2, 30)

	call, ok := parseFactoryCreateCall(data)
	if !ok {
		t.Fatal("parseFactoryCreateCall failed")
	}
	if call.TokenA != (schema.AlkaneId{Block: 2, Tx: 1}) {
		t.Errorf("token a = %v", call.TokenA)
	}
	if call.TokenB != (schema.AlkaneId{Block: 2, Tx: 2}) {
		t.Errorf("token b = %v", call.TokenB)
	}
	if call.FeeBps != 30 {
		t.Errorf("fee = %d, want 30", call.FeeBps)
	}

	// Wrong opcode.
	if _, ok := parseFactoryCreateCall(buildCreateCalldata(0x61, 2, 1, 2, 2, 30)); ok {
		t.Error("wrong opcode should not parse")
	}
	// Truncated.
	if _, ok := parseFactoryCreateCall(data[:40]); ok {
		t.Error("truncated calldata should not parse")
	}
}

// buildCreateCalldata lays out 16-byte LE words.
func buildCreateCalldata(words ...uint64) []byte {
	out := make([]byte, 0, len(words)*16)
	for _, w := range words {
		var buf [16]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(w >> (8 * uint(i)))
		}
		out = append(out, buf[:]...)
	}
	return out
}

func TestNormalizeSearchText(t *testing.T) {
	got, ok := NormalizeSearchText("  Frost-BTC! ")
	if !ok || got != "frostbtc" {
		t.Errorf("NormalizeSearchText = %q, %v", got, ok)
	}
	if _, ok := NormalizeSearchText("!!!"); ok {
		t.Error("symbol-only input should report not ok")
	}
}

func TestCollectSearchPrefixes(t *testing.T) {
	prefixes := CollectSearchPrefixes([]string{"Frost"}, []string{"FR"}, 2, 4)

	want := map[string]bool{"fr": true, "fro": true, "fros": true}
	if len(prefixes) != len(want) {
		t.Fatalf("prefixes = %v", prefixes)
	}
	for _, p := range prefixes {
		if !want[p] {
			t.Errorf("unexpected prefix %q", p)
		}
	}

	if got := CollectSearchPrefixes([]string{"x"}, nil, 0, 4); got != nil {
		t.Error("minLen 0 should produce nothing")
	}
}
