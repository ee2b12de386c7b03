package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/subfrost/espo/internal/schema"
)

// HTTPEssentials implements EssentialsSource against the essentials
// module's HTTP API, which exposes the creation-record and balance feeds
// produced by the trace pipeline.
type HTTPEssentials struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPEssentials creates a client against the given base URL.
func NewHTTPEssentials(baseURL string) *HTTPEssentials {
	return &HTTPEssentials{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (e *HTTPEssentials) getJSON(ctx context.Context, path string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<26))
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

type wireCreationRecord struct {
	Alkane     string `json:"alkane"`
	Inspection string `json:"inspection,omitempty"`
}

func (r wireCreationRecord) parse() (CreationRecord, bool) {
	id, err := schema.ParseAlkaneId(r.Alkane)
	if err != nil {
		return CreationRecord{}, false
	}
	return CreationRecord{Alkane: id, Inspection: r.Inspection}, true
}

// CreationRecordsOrdered lists every creation record in canonical order.
func (e *HTTPEssentials) CreationRecordsOrdered(ctx context.Context) ([]CreationRecord, error) {
	var wire struct {
		Records []wireCreationRecord `json:"records"`
	}
	if _, err := e.getJSON(ctx, "/creation-records", &wire); err != nil {
		return nil, err
	}
	out := make([]CreationRecord, 0, len(wire.Records))
	for _, rec := range wire.Records {
		if parsed, ok := rec.parse(); ok {
			out = append(out, parsed)
		}
	}
	return out, nil
}

// CreationRecord returns the record of one alkane.
func (e *HTTPEssentials) CreationRecord(ctx context.Context, alkane schema.AlkaneId) (CreationRecord, bool, error) {
	var wire wireCreationRecord
	found, err := e.getJSON(ctx, "/creation-records/"+alkane.String(), &wire)
	if err != nil || !found {
		return CreationRecord{}, false, err
	}
	parsed, ok := wire.parse()
	return parsed, ok, nil
}

// ProxyTarget resolves a proxy contract's implementation target.
func (e *HTTPEssentials) ProxyTarget(ctx context.Context, alkane schema.AlkaneId) (schema.AlkaneId, bool, error) {
	var wire struct {
		Target string `json:"target"`
	}
	found, err := e.getJSON(ctx, "/proxy-target/"+alkane.String(), &wire)
	if err != nil || !found {
		return schema.AlkaneId{}, false, err
	}
	id, err := schema.ParseAlkaneId(wire.Target)
	if err != nil {
		return schema.AlkaneId{}, false, nil
	}
	return id, true, nil
}

// BalanceTxsByHeight returns the per-pool balance movements of a block.
func (e *HTTPEssentials) BalanceTxsByHeight(ctx context.Context, height uint32) (map[schema.AlkaneId][]BalanceTx, error) {
	var wire struct {
		Pools map[string][]struct {
			Txid    string            `json:"txid"`
			Outflow map[string]string `json:"outflow"`
		} `json:"pools"`
	}
	if _, err := e.getJSON(ctx, fmt.Sprintf("/balance-txs/%d", height), &wire); err != nil {
		return nil, err
	}

	out := make(map[schema.AlkaneId][]BalanceTx, len(wire.Pools))
	for poolStr, entries := range wire.Pools {
		pool, err := schema.ParseAlkaneId(poolStr)
		if err != nil {
			continue
		}
		txs := make([]BalanceTx, 0, len(entries))
		for _, entry := range entries {
			txid, err := chainhash.NewHashFromStr(entry.Txid)
			if err != nil {
				continue
			}
			outflow := make(map[schema.AlkaneId]*big.Int, len(entry.Outflow))
			for tokenStr, amountStr := range entry.Outflow {
				token, err := schema.ParseAlkaneId(tokenStr)
				if err != nil {
					continue
				}
				amount, ok := new(big.Int).SetString(amountStr, 10)
				if !ok {
					continue
				}
				outflow[token] = amount
			}
			txs = append(txs, BalanceTx{Txid: *txid, Outflow: outflow})
		}
		out[pool] = txs
	}
	return out, nil
}

// TxMeta returns payer and success metadata for a transaction.
func (e *HTTPEssentials) TxMeta(ctx context.Context, txid chainhash.Hash) (TxMeta, bool, error) {
	var wire struct {
		PayerSPK string `json:"payer_spk"`
		Success  bool   `json:"success"`
	}
	found, err := e.getJSON(ctx, "/tx-meta/"+txid.String(), &wire)
	if err != nil || !found {
		return TxMeta{}, false, err
	}
	spk, err := parseHexBytes(wire.PayerSPK)
	if err != nil {
		return TxMeta{}, false, nil
	}
	return TxMeta{PayerSPK: spk, Success: wire.Success}, true, nil
}
