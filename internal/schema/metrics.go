package schema

import "github.com/holiman/uint256"

// TokenMetrics aggregates per-token market figures recomputed from candle
// windows after each block that touched the token. Volumes are denominated
// in token units; PriceUsd is zero for tokens without a canonical-quoted
// pool.
type TokenMetrics struct {
	PriceUsd      *uint256.Int
	VolumeAllTime *uint256.Int
	Volume1d      *uint256.Int
	Volume7d      *uint256.Int
	Volume30d     *uint256.Int
}

// NewTokenMetrics returns zeroed metrics.
func NewTokenMetrics() *TokenMetrics {
	return &TokenMetrics{
		PriceUsd:      new(uint256.Int),
		VolumeAllTime: new(uint256.Int),
		Volume1d:      new(uint256.Int),
		Volume7d:      new(uint256.Int),
		Volume30d:     new(uint256.Int),
	}
}

// Encode returns the deterministic wire form.
func (m *TokenMetrics) Encode() []byte {
	w := NewWriter()
	w.U128(m.PriceUsd)
	w.U128(m.VolumeAllTime)
	w.U128(m.Volume1d)
	w.U128(m.Volume7d)
	w.U128(m.Volume30d)
	return w.Bytes()
}

// DecodeTokenMetrics decodes a value produced by Encode.
func DecodeTokenMetrics(b []byte) (*TokenMetrics, error) {
	r := NewReader(b)
	m := NewTokenMetrics()
	fields := []**uint256.Int{
		&m.PriceUsd, &m.VolumeAllTime, &m.Volume1d, &m.Volume7d, &m.Volume30d,
	}
	for _, f := range fields {
		v, err := r.U128()
		if err != nil {
			return nil, err
		}
		*f = v
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return m, nil
}

// PoolMetrics aggregates per-pool volume and TVL figures. Side volumes are
// denominated in the respective token; the USD/sats figures value the
// canonical leg and are zero for pools without one.
type PoolMetrics struct {
	Token0Volume1d       *uint256.Int
	Token1Volume1d       *uint256.Int
	Token0Volume30d      *uint256.Int
	Token1Volume30d      *uint256.Int
	PoolVolume1dUsd      *uint256.Int
	PoolVolume30dUsd     *uint256.Int
	PoolVolume1dSats     *uint256.Int
	PoolVolume30dSats    *uint256.Int
	PoolVolume7dUsd      *uint256.Int
	PoolVolumeAllTimeUsd *uint256.Int
	PoolVolume7dSats     *uint256.Int
	PoolVolumeAllSats    *uint256.Int
	PoolTvlUsd           *uint256.Int
	PoolTvlSats          *uint256.Int
}

// NewPoolMetrics returns zeroed metrics.
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		Token0Volume1d:       new(uint256.Int),
		Token1Volume1d:       new(uint256.Int),
		Token0Volume30d:      new(uint256.Int),
		Token1Volume30d:      new(uint256.Int),
		PoolVolume1dUsd:      new(uint256.Int),
		PoolVolume30dUsd:     new(uint256.Int),
		PoolVolume1dSats:     new(uint256.Int),
		PoolVolume30dSats:    new(uint256.Int),
		PoolVolume7dUsd:      new(uint256.Int),
		PoolVolumeAllTimeUsd: new(uint256.Int),
		PoolVolume7dSats:     new(uint256.Int),
		PoolVolumeAllSats:    new(uint256.Int),
		PoolTvlUsd:           new(uint256.Int),
		PoolTvlSats:          new(uint256.Int),
	}
}

func (m *PoolMetrics) fields() []**uint256.Int {
	return []**uint256.Int{
		&m.Token0Volume1d, &m.Token1Volume1d, &m.Token0Volume30d, &m.Token1Volume30d,
		&m.PoolVolume1dUsd, &m.PoolVolume30dUsd, &m.PoolVolume1dSats, &m.PoolVolume30dSats,
		&m.PoolVolume7dUsd, &m.PoolVolumeAllTimeUsd, &m.PoolVolume7dSats, &m.PoolVolumeAllSats,
		&m.PoolTvlUsd, &m.PoolTvlSats,
	}
}

// Encode returns the deterministic wire form.
func (m *PoolMetrics) Encode() []byte {
	w := NewWriter()
	for _, f := range m.fields() {
		w.U128(*f)
	}
	return w.Bytes()
}

// DecodePoolMetrics decodes a value produced by Encode.
func DecodePoolMetrics(b []byte) (*PoolMetrics, error) {
	r := NewReader(b)
	m := NewPoolMetrics()
	for _, f := range m.fields() {
		v, err := r.U128()
		if err != nil {
			return nil, err
		}
		*f = v
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return m, nil
}
