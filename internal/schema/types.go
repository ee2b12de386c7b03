package schema

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"
)

// ActivityKind classifies one pool interaction.
type ActivityKind uint8

const (
	KindTradeBuy ActivityKind = iota
	KindTradeSell
	KindLiquidityAdd
	KindLiquidityRemove
	KindPoolCreate
)

// IsTrade reports whether the kind is a swap.
func (k ActivityKind) IsTrade() bool {
	return k == KindTradeBuy || k == KindTradeSell
}

func (k ActivityKind) String() string {
	switch k {
	case KindTradeBuy:
		return "trade_buy"
	case KindTradeSell:
		return "trade_sell"
	case KindLiquidityAdd:
		return "liquidity_add"
	case KindLiquidityRemove:
		return "liquidity_remove"
	case KindPoolCreate:
		return "pool_create"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func decodeActivityKind(r *Reader) (ActivityKind, error) {
	v, err := r.U8()
	if err != nil {
		return 0, err
	}
	if v > uint8(KindPoolCreate) {
		return 0, fmt.Errorf("schema: invalid activity kind %d", v)
	}
	return ActivityKind(v), nil
}

// ActivityDirection records which leg entered the pool on a trade.
type ActivityDirection uint8

const (
	DirectionBaseIn ActivityDirection = iota
	DirectionQuoteIn
)

func (d ActivityDirection) String() string {
	if d == DirectionBaseIn {
		return "base_in"
	}
	return "quote_in"
}

// Candle is one OHLCV entry. Prices are fixed-point with PriceScale.
type Candle struct {
	Open   *uint256.Int
	High   *uint256.Int
	Low    *uint256.Int
	Close  *uint256.Int
	Volume *uint256.Int
}

// NewCandle initializes a candle where every price is p and volume is vol.
func NewCandle(p, vol *uint256.Int) Candle {
	return Candle{
		Open:   new(uint256.Int).Set(p),
		High:   new(uint256.Int).Set(p),
		Low:    new(uint256.Int).Set(p),
		Close:  new(uint256.Int).Set(p),
		Volume: new(uint256.Int).Set(vol),
	}
}

func (c *Candle) encode(w *Writer) {
	w.U128(c.Open)
	w.U128(c.High)
	w.U128(c.Low)
	w.U128(c.Close)
	w.U128(c.Volume)
}

func decodeCandle(r *Reader) (Candle, error) {
	var c Candle
	var err error
	if c.Open, err = r.U128(); err != nil {
		return c, err
	}
	if c.High, err = r.U128(); err != nil {
		return c, err
	}
	if c.Low, err = r.U128(); err != nil {
		return c, err
	}
	if c.Close, err = r.U128(); err != nil {
		return c, err
	}
	if c.Volume, err = r.U128(); err != nil {
		return c, err
	}
	return c, nil
}

// Encode returns the deterministic wire form of a standalone candle.
func (c *Candle) Encode() []byte {
	w := NewWriter()
	c.encode(w)
	return w.Bytes()
}

// DecodeCandle decodes a standalone candle produced by Encode.
func DecodeCandle(b []byte) (*Candle, error) {
	r := NewReader(b)
	c, err := decodeCandle(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FullCandle holds both price orientations of one pool/timeframe/bucket.
// The base-per-quote side accumulates base volume, the quote-per-base side
// quote volume.
type FullCandle struct {
	BasePerQuote Candle
	QuotePerBase Candle
}

// Encode returns the deterministic wire form.
func (f *FullCandle) Encode() []byte {
	w := NewWriter()
	f.BasePerQuote.encode(w)
	f.QuotePerBase.encode(w)
	return w.Bytes()
}

// DecodeFullCandle decodes a value produced by Encode.
func DecodeFullCandle(b []byte) (*FullCandle, error) {
	r := NewReader(b)
	var f FullCandle
	var err error
	if f.BasePerQuote, err = decodeCandle(r); err != nil {
		return nil, err
	}
	if f.QuotePerBase, err = decodeCandle(r); err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return &f, nil
}

// MarketDefs names the two token legs a pool trades and the pool's own id.
// Immutable after pool creation.
type MarketDefs struct {
	BaseID  AlkaneId
	QuoteID AlkaneId
	PoolID  AlkaneId
}

// Encode returns the deterministic wire form.
func (m *MarketDefs) Encode() []byte {
	w := NewWriter()
	m.BaseID.encode(w)
	m.QuoteID.encode(w)
	m.PoolID.encode(w)
	return w.Bytes()
}

// DecodeMarketDefs decodes a value produced by Encode.
func DecodeMarketDefs(b []byte) (*MarketDefs, error) {
	r := NewReader(b)
	var m MarketDefs
	var err error
	if m.BaseID, err = decodeAlkaneId(r); err != nil {
		return nil, err
	}
	if m.QuoteID, err = decodeAlkaneId(r); err != nil {
		return nil, err
	}
	if m.PoolID, err = decodeAlkaneId(r); err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return &m, nil
}

// PoolSnapshot carries a pool's reserves at the most recent indexed height
// together with its token ids, so readers never need a second lookup.
type PoolSnapshot struct {
	BaseReserve  *uint256.Int
	QuoteReserve *uint256.Int
	BaseID       AlkaneId
	QuoteID      AlkaneId
}

func (p *PoolSnapshot) encode(w *Writer) {
	w.U128(p.BaseReserve)
	w.U128(p.QuoteReserve)
	p.BaseID.encode(w)
	p.QuoteID.encode(w)
}

func decodePoolSnapshot(r *Reader) (*PoolSnapshot, error) {
	var p PoolSnapshot
	var err error
	if p.BaseReserve, err = r.U128(); err != nil {
		return nil, err
	}
	if p.QuoteReserve, err = r.U128(); err != nil {
		return nil, err
	}
	if p.BaseID, err = decodeAlkaneId(r); err != nil {
		return nil, err
	}
	if p.QuoteID, err = decodeAlkaneId(r); err != nil {
		return nil, err
	}
	return &p, nil
}

// Encode returns the deterministic wire form.
func (p *PoolSnapshot) Encode() []byte {
	w := NewWriter()
	p.encode(w)
	return w.Bytes()
}

// DecodePoolSnapshot decodes a value produced by Encode.
func DecodePoolSnapshot(b []byte) (*PoolSnapshot, error) {
	r := NewReader(b)
	p, err := decodePoolSnapshot(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// ReservesSnapshot maps every pool to its current snapshot. It is persisted
// as one value; entries are written in ascending pool-id order so equal maps
// encode to equal bytes.
type ReservesSnapshot struct {
	Entries map[AlkaneId]*PoolSnapshot
}

// NewReservesSnapshot returns an empty snapshot.
func NewReservesSnapshot() *ReservesSnapshot {
	return &ReservesSnapshot{Entries: make(map[AlkaneId]*PoolSnapshot)}
}

// SortedPools returns the pool ids in ascending order.
func (s *ReservesSnapshot) SortedPools() []AlkaneId {
	pools := make([]AlkaneId, 0, len(s.Entries))
	for id := range s.Entries {
		pools = append(pools, id)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Less(pools[j]) })
	return pools
}

// Encode returns the deterministic wire form.
func (s *ReservesSnapshot) Encode() []byte {
	w := NewWriter()
	pools := s.SortedPools()
	w.U32(uint32(len(pools)))
	for _, id := range pools {
		id.encode(w)
		s.Entries[id].encode(w)
	}
	return w.Bytes()
}

// DecodeReservesSnapshot decodes a value produced by Encode.
func DecodeReservesSnapshot(b []byte) (*ReservesSnapshot, error) {
	r := NewReader(b)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	s := NewReservesSnapshot()
	for i := uint32(0); i < n; i++ {
		id, err := decodeAlkaneId(r)
		if err != nil {
			return nil, err
		}
		snap, err := decodePoolSnapshot(r)
		if err != nil {
			return nil, err
		}
		s.Entries[id] = snap
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return s, nil
}

// Activity is one classified pool interaction. Direction is set only for
// trades.
type Activity struct {
	Timestamp  uint64
	Txid       [32]byte
	Kind       ActivityKind
	Direction  *ActivityDirection
	BaseDelta  *big.Int
	QuoteDelta *big.Int
	AddressSPK []byte
	Success    bool
}

// Encode returns the deterministic wire form.
func (a *Activity) Encode() []byte {
	w := NewWriter()
	w.U64(a.Timestamp)
	w.Bytes32(a.Txid)
	w.U8(uint8(a.Kind))
	w.Option(a.Direction != nil)
	if a.Direction != nil {
		w.U8(uint8(*a.Direction))
	}
	w.I128(a.BaseDelta)
	w.I128(a.QuoteDelta)
	w.VarBytes(a.AddressSPK)
	w.Bool(a.Success)
	return w.Bytes()
}

// DecodeActivity decodes a value produced by Encode.
func DecodeActivity(b []byte) (*Activity, error) {
	r := NewReader(b)
	var a Activity
	var err error
	if a.Timestamp, err = r.U64(); err != nil {
		return nil, err
	}
	if a.Txid, err = r.Bytes32(); err != nil {
		return nil, err
	}
	if a.Kind, err = decodeActivityKind(r); err != nil {
		return nil, err
	}
	present, err := r.Option()
	if err != nil {
		return nil, err
	}
	if present {
		v, err := r.U8()
		if err != nil {
			return nil, err
		}
		if v > uint8(DirectionQuoteIn) {
			return nil, fmt.Errorf("schema: invalid direction %d", v)
		}
		d := ActivityDirection(v)
		a.Direction = &d
	}
	if a.BaseDelta, err = r.I128(); err != nil {
		return nil, err
	}
	if a.QuoteDelta, err = r.I128(); err != nil {
		return nil, err
	}
	if a.AddressSPK, err = r.VarBytes(); err != nil {
		return nil, err
	}
	if a.Success, err = r.Bool(); err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return &a, nil
}

// PoolCreationInfo records who created a pool and with what.
type PoolCreationInfo struct {
	CreatorSPK          []byte
	CreationHeight      uint32
	InitialToken0Amount *uint256.Int
	InitialToken1Amount *uint256.Int
	InitialLpSupply     *uint256.Int
}

// Encode returns the deterministic wire form.
func (p *PoolCreationInfo) Encode() []byte {
	w := NewWriter()
	w.VarBytes(p.CreatorSPK)
	w.U32(p.CreationHeight)
	w.U128(p.InitialToken0Amount)
	w.U128(p.InitialToken1Amount)
	w.U128(p.InitialLpSupply)
	return w.Bytes()
}

// DecodePoolCreationInfo decodes a value produced by Encode.
func DecodePoolCreationInfo(b []byte) (*PoolCreationInfo, error) {
	r := NewReader(b)
	var p PoolCreationInfo
	var err error
	if p.CreatorSPK, err = r.VarBytes(); err != nil {
		return nil, err
	}
	if p.CreationHeight, err = r.U32(); err != nil {
		return nil, err
	}
	if p.InitialToken0Amount, err = r.U128(); err != nil {
		return nil, err
	}
	if p.InitialToken1Amount, err = r.U128(); err != nil {
		return nil, err
	}
	if p.InitialLpSupply, err = r.U128(); err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return &p, nil
}
