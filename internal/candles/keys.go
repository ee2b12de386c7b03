package candles

import (
	"github.com/subfrost/espo/internal/schema"
)

// Key prefixes for candle values. Buckets are big-endian so lexicographic
// key order equals chronological order within a prefix.
const (
	poolCandlePrefix     = "candles|"
	tokenUsdCandlePrefix = "token_usd_candles|"
)

func appendBE64(key []byte, v uint64) []byte {
	return append(key,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// PoolCandleKey builds the key of a pool's FullCandle at (tf, bucket).
func PoolCandleKey(tf Timeframe, pool schema.AlkaneId, bucket uint64) []byte {
	key := append([]byte(poolCandlePrefix), tf.Code()...)
	key = append(key, '|')
	key = append(key, pool.Bytes()...)
	return appendBE64(key, bucket)
}

// PoolCandleRangePrefix is the common prefix of all buckets of (tf, pool).
func PoolCandleRangePrefix(tf Timeframe, pool schema.AlkaneId) []byte {
	key := append([]byte(poolCandlePrefix), tf.Code()...)
	key = append(key, '|')
	return append(key, pool.Bytes()...)
}

// TokenUsdCandleKey builds the key of a token's derived USD candle.
func TokenUsdCandleKey(tf Timeframe, token schema.AlkaneId, bucket uint64) []byte {
	key := append([]byte(tokenUsdCandlePrefix), tf.Code()...)
	key = append(key, '|')
	key = append(key, token.Bytes()...)
	return appendBE64(key, bucket)
}

// TokenUsdCandleRangePrefix is the common prefix of all buckets of
// (tf, token).
func TokenUsdCandleRangePrefix(tf Timeframe, token schema.AlkaneId) []byte {
	key := append([]byte(tokenUsdCandlePrefix), tf.Code()...)
	key = append(key, '|')
	return append(key, token.Bytes()...)
}

// BucketFromKey extracts the trailing big-endian bucket from a candle key.
func BucketFromKey(key []byte) (uint64, bool) {
	if len(key) < 8 {
		return 0, false
	}
	b := key[len(key)-8:]
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7]), true
}
