package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/subfrost/espo/internal/amm"
	"github.com/subfrost/espo/internal/candles"
	"github.com/subfrost/espo/internal/chain"
	"github.com/subfrost/espo/internal/config"
	"github.com/subfrost/espo/internal/schema"
)

// Version of the indexer.
const Version = "0.1.0-dev"

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func pageBounds(limit, page *uint64) (size, offset uint64) {
	size = defaultPageSize
	if limit != nil && *limit > 0 {
		size = *limit
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	if page != nil {
		offset = *page * size
	}
	return size, offset
}

func (s *Server) netParams() *chaincfg.Params {
	switch s.cfg.NetworkType {
	case config.NetworkTestnet:
		return &chaincfg.TestNet3Params
	case config.NetworkRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// renderAddress formats a script pubkey as an address, falling back to hex
// for non-standard scripts.
func (s *Server) renderAddress(spk []byte) string {
	if len(spk) == 0 {
		return ""
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(spk, s.netParams())
	if err == nil && len(addrs) == 1 {
		return addrs[0].EncodeAddress()
	}
	return hex.EncodeToString(spk)
}

// spkFromAddress converts an address back into its script pubkey.
func (s *Server) spkFromAddress(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, s.netParams())
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	return txscript.PayToAddrScript(addr)
}

// ========================================
// amm_ping
// ========================================

func (s *Server) ammPing(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return "pong", nil
}

// ========================================
// amm_getIndexedHeight
// ========================================

func (s *Server) ammGetIndexedHeight(ctx context.Context, params json.RawMessage) (interface{}, error) {
	meta := chain.NewMetadata(s.db)
	height, ok, err := meta.IndexedHeight()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"indexed": ok, "height": height}, nil
}

// ========================================
// amm_getPools
// ========================================

// PoolInfo is one entry of the amm_getPools response.
type PoolInfo struct {
	Pool         string `json:"pool"`
	Base         string `json:"base"`
	Quote        string `json:"quote"`
	BaseReserve  string `json:"base_reserve"`
	QuoteReserve string `json:"quote_reserve"`
}

type getPoolsParams struct {
	Page  *uint64 `json:"page"`
	Limit *uint64 `json:"limit"`
}

func (s *Server) ammGetPools(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getPoolsParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	size, offset := pageBounds(p.Limit, p.Page)

	snapshot, err := s.loadSnapshot()
	if err != nil {
		return nil, err
	}

	pools := snapshot.SortedPools()
	out := make([]PoolInfo, 0, size)
	for i := offset; i < uint64(len(pools)) && uint64(len(out)) < size; i++ {
		pool := pools[i]
		snap := snapshot.Entries[pool]
		out = append(out, PoolInfo{
			Pool:         pool.String(),
			Base:         snap.BaseID.String(),
			Quote:        snap.QuoteID.String(),
			BaseReserve:  snap.BaseReserve.Dec(),
			QuoteReserve: snap.QuoteReserve.Dec(),
		})
	}

	return map[string]interface{}{"pools": out, "total": len(pools)}, nil
}

func (s *Server) loadSnapshot() (*schema.ReservesSnapshot, error) {
	raw, found, err := s.db.Get(amm.ReservesSnapshotKey())
	if err != nil {
		return nil, err
	}
	if !found {
		return schema.NewReservesSnapshot(), nil
	}
	return schema.DecodeReservesSnapshot(raw)
}

// ========================================
// amm_getReserves
// ========================================

type getReservesParams struct {
	Pool string `json:"pool"`
}

func (s *Server) ammGetReserves(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getReservesParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	snapshot, err := s.loadSnapshot()
	if err != nil {
		return nil, err
	}

	if p.Pool != "" {
		id, err := schema.ParseAlkaneId(p.Pool)
		if err != nil {
			return nil, err
		}
		snap, ok := snapshot.Entries[id]
		if !ok {
			return nil, fmt.Errorf("unknown pool %s", p.Pool)
		}
		return PoolInfo{
			Pool:         id.String(),
			Base:         snap.BaseID.String(),
			Quote:        snap.QuoteID.String(),
			BaseReserve:  snap.BaseReserve.Dec(),
			QuoteReserve: snap.QuoteReserve.Dec(),
		}, nil
	}

	out := make([]PoolInfo, 0, len(snapshot.Entries))
	for _, pool := range snapshot.SortedPools() {
		snap := snapshot.Entries[pool]
		out = append(out, PoolInfo{
			Pool:         pool.String(),
			Base:         snap.BaseID.String(),
			Quote:        snap.QuoteID.String(),
			BaseReserve:  snap.BaseReserve.Dec(),
			QuoteReserve: snap.QuoteReserve.Dec(),
		})
	}
	return map[string]interface{}{"pools": out}, nil
}

// ========================================
// amm_getCandles
// ========================================

// CandleInfo is one OHLCV entry of the amm_getCandles response.
type CandleInfo struct {
	Bucket uint64 `json:"bucket"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

type getCandlesParams struct {
	Pool      string  `json:"pool"`
	Timeframe string  `json:"timeframe"`
	Side      string  `json:"side"` // "base_per_quote" or "quote_per_base"
	Limit     *uint64 `json:"limit"`
	Page      *uint64 `json:"page"`
}

func (s *Server) ammGetCandles(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getCandlesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	pool, err := schema.ParseAlkaneId(p.Pool)
	if err != nil {
		return nil, err
	}
	tf, ok := candles.TimeframeFromCode(p.Timeframe)
	if !ok {
		return nil, fmt.Errorf("unknown timeframe %q", p.Timeframe)
	}
	size, offset := pageBounds(p.Limit, p.Page)

	out := make([]CandleInfo, 0, size)
	skipped := uint64(0)
	prefix := candles.PoolCandleRangePrefix(tf, pool)
	err = s.db.IteratePrefix(prefix, true, func(key, value []byte) (bool, error) {
		if skipped < offset {
			skipped++
			return true, nil
		}
		bucket, ok := candles.BucketFromKey(key)
		if !ok {
			return true, nil
		}
		fc, err := schema.DecodeFullCandle(value)
		if err != nil {
			return true, nil
		}
		side := fc.QuotePerBase
		if p.Side == "base_per_quote" {
			side = fc.BasePerQuote
		}
		out = append(out, CandleInfo{
			Bucket: bucket,
			Open:   side.Open.Dec(),
			High:   side.High.Dec(),
			Low:    side.Low.Dec(),
			Close:  side.Close.Dec(),
			Volume: side.Volume.Dec(),
		})
		return uint64(len(out)) < size, nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"candles": out}, nil
}

// ========================================
// amm_getActivity
// ========================================

// ActivityInfo is one entry of the amm_getActivity response.
type ActivityInfo struct {
	Timestamp  uint64 `json:"timestamp"`
	Txid       string `json:"txid"`
	Kind       string `json:"kind"`
	Direction  string `json:"direction,omitempty"`
	Pool       string `json:"pool"`
	BaseDelta  string `json:"base_delta"`
	QuoteDelta string `json:"quote_delta"`
	Address    string `json:"address,omitempty"`
	Success    bool   `json:"success"`
}

type getActivityParams struct {
	Pool    string  `json:"pool"`
	Address string  `json:"address"`
	Limit   *uint64 `json:"limit"`
	Page    *uint64 `json:"page"`
}

func (s *Server) activityInfo(a *schema.Activity, pool schema.AlkaneId) ActivityInfo {
	info := ActivityInfo{
		Timestamp:  a.Timestamp,
		Txid:       hex.EncodeToString(a.Txid[:]),
		Kind:       a.Kind.String(),
		Pool:       pool.String(),
		BaseDelta:  a.BaseDelta.String(),
		QuoteDelta: a.QuoteDelta.String(),
		Address:    s.renderAddress(a.AddressSPK),
		Success:    a.Success,
	}
	if a.Direction != nil {
		info.Direction = a.Direction.String()
	}
	return info
}

func (s *Server) ammGetActivity(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getActivityParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	size, offset := pageBounds(p.Limit, p.Page)

	out := make([]ActivityInfo, 0, size)
	skipped := uint64(0)

	appendRecord := func(pool schema.AlkaneId, ts, seq uint64) (bool, error) {
		if skipped < offset {
			skipped++
			return true, nil
		}
		raw, found, err := s.db.Get(amm.PoolActivityKey(pool, ts, seq))
		if err != nil {
			return false, err
		}
		if !found {
			return true, nil
		}
		activity, err := schema.DecodeActivity(raw)
		if err != nil {
			return true, nil
		}
		out = append(out, s.activityInfo(activity, pool))
		return uint64(len(out)) < size, nil
	}

	switch {
	case p.Pool != "":
		pool, err := schema.ParseAlkaneId(p.Pool)
		if err != nil {
			return nil, err
		}
		prefix := amm.PoolActivityPrefix(pool)
		err = s.db.IteratePrefix(prefix, true, func(_, value []byte) (bool, error) {
			if skipped < offset {
				skipped++
				return true, nil
			}
			activity, err := schema.DecodeActivity(value)
			if err != nil {
				return true, nil
			}
			out = append(out, s.activityInfo(activity, pool))
			return uint64(len(out)) < size, nil
		})
		if err != nil {
			return nil, err
		}

	case p.Address != "":
		spk, err := s.spkFromAddress(p.Address)
		if err != nil {
			return nil, err
		}
		prefix := amm.AddressHistoryPrefix(spk)
		err = s.db.IteratePrefix(prefix, true, func(key, _ []byte) (bool, error) {
			ts, seq, _, pool, ok := amm.ParseAddressHistoryKey(key, prefix)
			if !ok {
				return true, nil
			}
			return appendRecord(pool, ts, seq)
		})
		if err != nil {
			return nil, err
		}

	default:
		err := s.db.IteratePrefix(amm.HistoryAllPrefix(), true, func(key, _ []byte) (bool, error) {
			ts, seq, _, pool, ok := amm.ParseHistoryAllKey(key)
			if !ok {
				return true, nil
			}
			return appendRecord(pool, ts, seq)
		})
		if err != nil {
			return nil, err
		}
	}

	return map[string]interface{}{"activity": out}, nil
}

// ========================================
// amm_getPoolMetrics / amm_getTokenMetrics
// ========================================

type getMetricsParams struct {
	Pool  string `json:"pool"`
	Token string `json:"token"`
}

func (s *Server) ammGetPoolMetrics(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getMetricsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	pool, err := schema.ParseAlkaneId(p.Pool)
	if err != nil {
		return nil, err
	}
	raw, found, err := s.db.Get(amm.PoolMetricsKey(pool))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no metrics for pool %s", p.Pool)
	}
	m, err := schema.DecodePoolMetrics(raw)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"pool":                      pool.String(),
		"token0_volume_1d":          m.Token0Volume1d.Dec(),
		"token1_volume_1d":          m.Token1Volume1d.Dec(),
		"token0_volume_30d":         m.Token0Volume30d.Dec(),
		"token1_volume_30d":         m.Token1Volume30d.Dec(),
		"pool_volume_1d_usd":        m.PoolVolume1dUsd.Dec(),
		"pool_volume_7d_usd":        m.PoolVolume7dUsd.Dec(),
		"pool_volume_30d_usd":       m.PoolVolume30dUsd.Dec(),
		"pool_volume_all_time_usd":  m.PoolVolumeAllTimeUsd.Dec(),
		"pool_volume_1d_sats":       m.PoolVolume1dSats.Dec(),
		"pool_volume_7d_sats":       m.PoolVolume7dSats.Dec(),
		"pool_volume_30d_sats":      m.PoolVolume30dSats.Dec(),
		"pool_volume_all_time_sats": m.PoolVolumeAllSats.Dec(),
		"pool_tvl_usd":              m.PoolTvlUsd.Dec(),
		"pool_tvl_sats":             m.PoolTvlSats.Dec(),
	}, nil
}

func (s *Server) ammGetTokenMetrics(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getMetricsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := schema.ParseAlkaneId(p.Token)
	if err != nil {
		return nil, err
	}
	raw, found, err := s.db.Get(amm.TokenMetricsKey(token))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no metrics for token %s", p.Token)
	}
	m, err := schema.DecodeTokenMetrics(raw)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"token":           token.String(),
		"price_usd":       m.PriceUsd.Dec(),
		"volume_1d":       m.Volume1d.Dec(),
		"volume_7d":       m.Volume7d.Dec(),
		"volume_30d":      m.Volume30d.Dec(),
		"volume_all_time": m.VolumeAllTime.Dec(),
	}, nil
}
