// Package amm implements the per-block AMM indexing pipeline: factory
// discovery, pool materialization, balance-delta classification, reserve
// snapshot mutation, and secondary-index fan-out.
package amm

import (
	"github.com/subfrost/espo/internal/schema"
)

// Namespace tags ammdata writes in the AOF log.
const Namespace = "ammdata"

// Primary-store key prefixes. Secondary-index keys carry their sort tuple
// in the key itself, big-endian where ordering matters, and hold empty
// values; membership is key existence.
const (
	ammFactoryPrefix       = "amm_factory|"
	poolDefsPrefix         = "pool_defs|"
	poolCreationInfoPrefix = "pool_creation_info|"
	poolActivityPrefix     = "pool_activity|"
	ammHistoryAllPrefix    = "amm_history_all|"
	tokenSwapsPrefix       = "token_swaps|"
	addrPoolSwapsPrefix    = "addr_pool_swaps|"
	addrTokenSwapsPrefix   = "addr_token_swaps|"
	addrPoolMintsPrefix    = "addr_pool_mints|"
	addrPoolBurnsPrefix    = "addr_pool_burns|"
	addrAmmHistoryPrefix   = "addr_amm_history|"
	tokenMetricsPrefix     = "token_metrics|"
	poolMetricsPrefix      = "pool_metrics|"
)

// reservesSnapshotKey holds the single ReservesSnapshot value.
var reservesSnapshotKey = []byte("reserves_snapshot_v1")

// ReservesSnapshotKey returns the well-known reserves snapshot key.
func ReservesSnapshotKey() []byte {
	return append([]byte(nil), reservesSnapshotKey...)
}

func appendBE64(key []byte, v uint64) []byte {
	return append(key,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// appendSPK writes a u16 length prefix followed by the script pubkey, so
// variable-length addresses cannot collide with the fields behind them.
func appendSPK(key []byte, spk []byte) []byte {
	key = append(key, byte(len(spk)>>8), byte(len(spk)))
	return append(key, spk...)
}

// FactoryKey marks an alkane as a confirmed AMM factory.
func FactoryKey(id schema.AlkaneId) []byte {
	return append([]byte(ammFactoryPrefix), id.Bytes()...)
}

// FactoryPrefix is the common prefix of all factory membership keys.
func FactoryPrefix() []byte {
	return []byte(ammFactoryPrefix)
}

// FactoryIdFromKey recovers the alkane id from a factory membership key.
func FactoryIdFromKey(key []byte) (schema.AlkaneId, bool) {
	if len(key) <= len(ammFactoryPrefix) {
		return schema.AlkaneId{}, false
	}
	id, err := schema.AlkaneIdFromBytes(key[len(ammFactoryPrefix):])
	if err != nil {
		return schema.AlkaneId{}, false
	}
	return id, true
}

// PoolDefsKey holds a pool's MarketDefs.
func PoolDefsKey(pool schema.AlkaneId) []byte {
	return append([]byte(poolDefsPrefix), pool.Bytes()...)
}

// PoolCreationInfoKey holds a pool's PoolCreationInfo.
func PoolCreationInfoKey(pool schema.AlkaneId) []byte {
	return append([]byte(poolCreationInfoPrefix), pool.Bytes()...)
}

// PoolActivityKey holds one encoded Activity at (pool, ts, seq).
func PoolActivityKey(pool schema.AlkaneId, ts, seq uint64) []byte {
	key := append([]byte(poolActivityPrefix), pool.Bytes()...)
	key = appendBE64(key, ts)
	return appendBE64(key, seq)
}

// PoolActivityPrefix is the common prefix of one pool's activity entries.
func PoolActivityPrefix(pool schema.AlkaneId) []byte {
	return append([]byte(poolActivityPrefix), pool.Bytes()...)
}

// HistoryAllKey indexes every activity globally by (ts, seq).
func HistoryAllKey(ts, seq uint64, kind schema.ActivityKind, pool schema.AlkaneId) []byte {
	key := appendBE64([]byte(ammHistoryAllPrefix), ts)
	key = appendBE64(key, seq)
	key = append(key, byte(kind))
	return append(key, pool.Bytes()...)
}

// HistoryAllPrefix is the common prefix of the global history index.
func HistoryAllPrefix() []byte {
	return []byte(ammHistoryAllPrefix)
}

// TokenSwapsKey indexes a trade under one of its token legs.
func TokenSwapsKey(token schema.AlkaneId, ts, seq uint64, pool schema.AlkaneId) []byte {
	key := append([]byte(tokenSwapsPrefix), token.Bytes()...)
	key = appendBE64(key, ts)
	key = appendBE64(key, seq)
	return append(key, pool.Bytes()...)
}

// TokenSwapsPrefix is the common prefix of one token's swap index.
func TokenSwapsPrefix(token schema.AlkaneId) []byte {
	return append([]byte(tokenSwapsPrefix), token.Bytes()...)
}

// AddressPoolSwapsKey indexes a trade under (address, pool).
func AddressPoolSwapsKey(spk []byte, pool schema.AlkaneId, ts, seq uint64) []byte {
	key := appendSPK([]byte(addrPoolSwapsPrefix), spk)
	key = append(key, pool.Bytes()...)
	key = appendBE64(key, ts)
	return appendBE64(key, seq)
}

// AddressTokenSwapsKey indexes a trade under (address, token).
func AddressTokenSwapsKey(spk []byte, token schema.AlkaneId, ts, seq uint64, pool schema.AlkaneId) []byte {
	key := appendSPK([]byte(addrTokenSwapsPrefix), spk)
	key = append(key, token.Bytes()...)
	key = appendBE64(key, ts)
	key = appendBE64(key, seq)
	return append(key, pool.Bytes()...)
}

// AddressPoolMintsKey indexes a liquidity add under the address.
func AddressPoolMintsKey(spk []byte, ts, seq uint64, pool schema.AlkaneId) []byte {
	key := appendSPK([]byte(addrPoolMintsPrefix), spk)
	key = appendBE64(key, ts)
	key = appendBE64(key, seq)
	return append(key, pool.Bytes()...)
}

// AddressPoolBurnsKey indexes a liquidity remove under the address.
func AddressPoolBurnsKey(spk []byte, ts, seq uint64, pool schema.AlkaneId) []byte {
	key := appendSPK([]byte(addrPoolBurnsPrefix), spk)
	key = appendBE64(key, ts)
	key = appendBE64(key, seq)
	return append(key, pool.Bytes()...)
}

// AddressHistoryKey indexes every activity of an address by (ts, seq).
func AddressHistoryKey(spk []byte, ts, seq uint64, kind schema.ActivityKind, pool schema.AlkaneId) []byte {
	key := appendSPK([]byte(addrAmmHistoryPrefix), spk)
	key = appendBE64(key, ts)
	key = appendBE64(key, seq)
	key = append(key, byte(kind))
	return append(key, pool.Bytes()...)
}

// AddressHistoryPrefix is the common prefix of one address's history.
func AddressHistoryPrefix(spk []byte) []byte {
	return appendSPK([]byte(addrAmmHistoryPrefix), spk)
}

// parseTsSeqKindPool decodes the `be64(ts) | be64(seq) | kind | pool_id`
// tail shared by the history index keys.
func parseTsSeqKindPool(rest []byte) (ts, seq uint64, kind schema.ActivityKind, pool schema.AlkaneId, ok bool) {
	if len(rest) != 8+8+1+12 {
		return 0, 0, 0, schema.AlkaneId{}, false
	}
	be64 := func(b []byte) uint64 {
		return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
			uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
	}
	ts = be64(rest[0:8])
	seq = be64(rest[8:16])
	kind = schema.ActivityKind(rest[16])
	id, err := schema.AlkaneIdFromBytes(rest[17:])
	if err != nil {
		return 0, 0, 0, schema.AlkaneId{}, false
	}
	return ts, seq, kind, id, true
}

// ParseHistoryAllKey decodes a global history index key.
func ParseHistoryAllKey(key []byte) (ts, seq uint64, kind schema.ActivityKind, pool schema.AlkaneId, ok bool) {
	if len(key) <= len(ammHistoryAllPrefix) {
		return 0, 0, 0, schema.AlkaneId{}, false
	}
	return parseTsSeqKindPool(key[len(ammHistoryAllPrefix):])
}

// ParseAddressHistoryKey decodes an address history index key given the
// address prefix it was iterated under.
func ParseAddressHistoryKey(key, prefix []byte) (ts, seq uint64, kind schema.ActivityKind, pool schema.AlkaneId, ok bool) {
	if len(key) <= len(prefix) {
		return 0, 0, 0, schema.AlkaneId{}, false
	}
	return parseTsSeqKindPool(key[len(prefix):])
}

// TokenMetricsKey holds a token's TokenMetrics.
func TokenMetricsKey(token schema.AlkaneId) []byte {
	return append([]byte(tokenMetricsPrefix), token.Bytes()...)
}

// PoolMetricsKey holds a pool's PoolMetrics.
func PoolMetricsKey(pool schema.AlkaneId) []byte {
	return append([]byte(poolMetricsPrefix), pool.Bytes()...)
}
