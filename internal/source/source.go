// Package source defines the inbound collaborators of the indexer: the
// block stream, the per-block trace feed, creation records, the balance
// delta feed, and transaction metadata. The live chain source implements
// BlockSource over an esplora-compatible HTTP API; the richer feeds are
// provided by the trace-processing pipeline upstream of this module.
package source

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/subfrost/espo/internal/schema"
)

// Block is one confirmed block together with its parsed traces.
type Block struct {
	Height    uint32
	Hash      string
	Timestamp uint64
	Txs       []TxTraces
}

// TxTraces carries the executor trace of one transaction.
type TxTraces struct {
	Txid   chainhash.Hash
	Events []TraceEvent
}

// ShortId is an alkane id in wire form: hex integers, "0x" prefix optional.
// Empty or malformed components mean the event is ignored.
type ShortId struct {
	Block string
	Tx    string
}

// Parse resolves the wire id into a schema.AlkaneId.
func (s ShortId) Parse() (schema.AlkaneId, bool) {
	block, ok := parseHexUint32(s.Block)
	if !ok {
		return schema.AlkaneId{}, false
	}
	tx, ok := parseHexUint64(s.Tx)
	if !ok {
		return schema.AlkaneId{}, false
	}
	return schema.AlkaneId{Block: block, Tx: tx}, true
}

// TraceEvent is one executor event: Invoke, Return, Create, Call or
// Transfer.
type TraceEvent interface {
	isTraceEvent()
}

// InvokeEvent starts a contract invocation with incoming value.
type InvokeEvent struct {
	Target   ShortId
	Incoming []TransferLeg
}

// ReturnEvent ends an invocation; Alkanes carries the returned value.
type ReturnEvent struct {
	Success bool
	Alkanes []TransferLeg
}

// CreateEvent reports a newly created alkane contract.
type CreateEvent struct {
	ID ShortId
}

// CallEvent is a nested call into another contract.
type CallEvent struct {
	Callee ShortId
	Data   []byte
}

// TransferEvent moves value between contracts.
type TransferEvent struct {
	ID    ShortId
	Value string // hex amount
}

func (InvokeEvent) isTraceEvent()   {}
func (ReturnEvent) isTraceEvent()   {}
func (CreateEvent) isTraceEvent()   {}
func (CallEvent) isTraceEvent()     {}
func (TransferEvent) isTraceEvent() {}

// TransferLeg is one (token, amount) pair on an invoke or return.
type TransferLeg struct {
	ID    ShortId
	Value string // hex amount
}

// BalanceTx is the net outflow vector of one transaction against one pool:
// token id to signed amount.
type BalanceTx struct {
	Txid    chainhash.Hash
	Outflow map[schema.AlkaneId]*big.Int
}

// TxMeta is the payer script-public-key and success flag of a transaction.
type TxMeta struct {
	PayerSPK []byte
	Success  bool
}

// CreationRecord describes one created alkane contract. Inspection is the
// optional UTF-8 text examined for the factory marker.
type CreationRecord struct {
	Alkane     schema.AlkaneId
	Inspection string
}

// BlockSource streams confirmed blocks in height order.
type BlockSource interface {
	// TipHeight returns the remote chain tip.
	TipHeight(ctx context.Context) (uint32, error)

	// BlockHash returns the remote hash at a height; ok is false when the
	// remote does not know the height.
	BlockHash(ctx context.Context, height uint32) (string, bool, error)

	// BlockAt fetches a block with its traces.
	BlockAt(ctx context.Context, height uint32) (*Block, error)
}

// EssentialsSource serves the creation-record and balance-delta feeds.
type EssentialsSource interface {
	// CreationRecordsOrdered lists every creation record in canonical
	// (block, tx) order.
	CreationRecordsOrdered(ctx context.Context) ([]CreationRecord, error)

	// CreationRecord returns the record of one alkane; ok is false when
	// the alkane is unknown.
	CreationRecord(ctx context.Context, alkane schema.AlkaneId) (CreationRecord, bool, error)

	// ProxyTarget resolves a proxy contract's implementation target.
	ProxyTarget(ctx context.Context, alkane schema.AlkaneId) (schema.AlkaneId, bool, error)

	// BalanceTxsByHeight returns the per-pool balance movements of a block.
	BalanceTxsByHeight(ctx context.Context, height uint32) (map[schema.AlkaneId][]BalanceTx, error)

	// TxMeta returns payer and success metadata for a transaction.
	TxMeta(ctx context.Context, txid chainhash.Hash) (TxMeta, bool, error)
}
