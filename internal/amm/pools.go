package amm

import (
	"context"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/subfrost/espo/internal/aof"
	"github.com/subfrost/espo/internal/schema"
	"github.com/subfrost/espo/internal/source"
)

// deployAmmOpcode is the factory calldata opcode creating a new pool.
const deployAmmOpcode = 0x01

// factoryCreateCall is a parsed Create(token_a, token_b, fee) call.
type factoryCreateCall struct {
	TokenA schema.AlkaneId
	TokenB schema.AlkaneId
	FeeBps uint64
}

// parseFactoryCreateCall decodes factory calldata laid out as 16-byte LE
// words: opcode, a.block, a.tx, b.block, b.tx, and an optional fee word.
func parseFactoryCreateCall(data []byte) (*factoryCreateCall, bool) {
	if len(data) < 5*16 || len(data)%16 != 0 {
		return nil, false
	}
	words := make([]*uint256.Int, 0, len(data)/16)
	for off := 0; off < len(data); off += 16 {
		word := new(uint256.Int)
		for i := 0; i < 16; i++ {
			limb := i / 8
			word[limb] |= uint64(data[off+i]) << (8 * uint(i%8))
		}
		words = append(words, word)
	}

	if !words[0].Eq(uint256.NewInt(deployAmmOpcode)) {
		return nil, false
	}

	idFromWords := func(blockWord, txWord *uint256.Int) (schema.AlkaneId, bool) {
		if !blockWord.IsUint64() || blockWord.Uint64() > 0xffffffff {
			return schema.AlkaneId{}, false
		}
		if !txWord.IsUint64() {
			return schema.AlkaneId{}, false
		}
		return schema.AlkaneId{Block: uint32(blockWord.Uint64()), Tx: txWord.Uint64()}, true
	}

	tokenA, ok := idFromWords(words[1], words[2])
	if !ok {
		return nil, false
	}
	tokenB, ok := idFromWords(words[3], words[4])
	if !ok {
		return nil, false
	}

	call := &factoryCreateCall{TokenA: tokenA, TokenB: tokenB}
	if len(words) > 5 && words[5].IsUint64() {
		call.FeeBps = words[5].Uint64()
	}
	return call, true
}

// transfersToSheet merges a trace's transfer events into a per-token sum.
// Zero-value and unparseable transfers are dropped.
func transfersToSheet(events []source.TraceEvent) map[schema.AlkaneId]*uint256.Int {
	sheet := make(map[schema.AlkaneId]*uint256.Int)
	for _, ev := range events {
		transfer, ok := ev.(source.TransferEvent)
		if !ok {
			continue
		}
		id, ok := transfer.ID.Parse()
		if !ok {
			continue
		}
		value, ok := source.ParseHexAmount(transfer.Value)
		if !ok || value.IsZero() {
			continue
		}
		if prev, ok := sheet[id]; ok {
			prev.Add(prev, value)
		} else {
			sheet[id] = new(uint256.Int).Set(value)
		}
	}
	return sheet
}

// lpSupplyFromReturn takes the minted LP amount for pool from the last
// Return event's value sheet.
func lpSupplyFromReturn(events []source.TraceEvent, pool schema.AlkaneId) *uint256.Int {
	supply := new(uint256.Int)
	for _, ev := range events {
		ret, ok := ev.(source.ReturnEvent)
		if !ok {
			continue
		}
		total := new(uint256.Int)
		for _, leg := range ret.Alkanes {
			id, ok := leg.ID.Parse()
			if !ok || id != pool {
				continue
			}
			if value, ok := source.ParseHexAmount(leg.Value); ok {
				total.Add(total, value)
			}
		}
		supply = total // last Return wins
	}
	return supply
}

// orderLegs resolves (base, quote) for a new pool: token0/token1 by id
// order, then a canonical leg becomes the quote when exactly one exists.
func (p *Pipeline) orderLegs(tokenA, tokenB schema.AlkaneId) (base, quote schema.AlkaneId) {
	token0, token1 := tokenA, tokenB
	if token1.Less(token0) {
		token0, token1 = token1, token0
	}

	_, canonical0 := p.canonical[token0]
	_, canonical1 := p.canonical[token1]
	switch {
	case canonical0 && !canonical1:
		return token1, token0
	case canonical1 && !canonical0:
		return token0, token1
	default:
		return token0, token1
	}
}

// materializePools detects pool creations in the block's traces: a Call to
// a known factory whose data parses as a create, with the new pool id taken
// from the Create event of the same trace.
func (p *Pipeline) materializePools(ctx context.Context, blk *source.Block, st *blockState, w *aof.Tracked) error {
	for _, tx := range blk.Txs {
		var call *factoryCreateCall
		for _, ev := range tx.Events {
			callEv, ok := ev.(source.CallEvent)
			if !ok {
				continue
			}
			callee, ok := callEv.Callee.Parse()
			if !ok {
				continue
			}
			if _, isFactory := p.factories[callee]; !isFactory {
				continue
			}
			if parsed, ok := parseFactoryCreateCall(callEv.Data); ok {
				call = parsed
				break
			}
		}
		if call == nil {
			continue
		}

		var pool schema.AlkaneId
		foundPool := false
		for _, ev := range tx.Events {
			if create, ok := ev.(source.CreateEvent); ok {
				if id, ok := create.ID.Parse(); ok {
					pool = id
					foundPool = true
					break
				}
			}
		}
		if !foundPool {
			continue
		}
		if _, exists := st.pools[pool]; exists {
			continue
		}

		base, quote := p.orderLegs(call.TokenA, call.TokenB)

		sheet := transfersToSheet(tx.Events)
		initialBase := new(uint256.Int)
		if v, ok := sheet[base]; ok {
			initialBase.Set(v)
		}
		initialQuote := new(uint256.Int)
		if v, ok := sheet[quote]; ok {
			initialQuote.Set(v)
		}

		meta, _, err := p.essentials.TxMeta(ctx, tx.Txid)
		if err != nil {
			return err
		}

		defs := &schema.MarketDefs{BaseID: base, QuoteID: quote, PoolID: pool}
		st.pools[pool] = defs
		st.snapshot.Entries[pool] = &schema.PoolSnapshot{
			BaseReserve:  initialBase,
			QuoteReserve: initialQuote,
			BaseID:       base,
			QuoteID:      quote,
		}
		st.snapshotDirty = true
		st.touched[pool] = struct{}{}

		if err := w.Put(Namespace, PoolDefsKey(pool), defs.Encode()); err != nil {
			return err
		}

		info := &schema.PoolCreationInfo{
			CreatorSPK:          meta.PayerSPK,
			CreationHeight:      blk.Height,
			InitialToken0Amount: initialBase,
			InitialToken1Amount: initialQuote,
			InitialLpSupply:     lpSupplyFromReturn(tx.Events, pool),
		}
		if err := w.Put(Namespace, PoolCreationInfoKey(pool), info.Encode()); err != nil {
			return err
		}

		activity := &schema.Activity{
			Timestamp:  blk.Timestamp,
			Txid:       [32]byte(tx.Txid),
			Kind:       schema.KindPoolCreate,
			BaseDelta:  new(big.Int).SetBytes(initialBase.Bytes()),
			QuoteDelta: new(big.Int).SetBytes(initialQuote.Bytes()),
			AddressSPK: meta.PayerSPK,
			Success:    meta.Success,
		}
		if err := p.emitActivity(st, w, pool, activity); err != nil {
			return err
		}

		p.log.Info("Pool created", "pool", pool, "base", base, "quote", quote, "height", blk.Height)
	}

	return nil
}
