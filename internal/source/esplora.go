package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// EsploraSource implements BlockSource over an esplora-compatible HTTP API
// (mempool.space, blockstream.info, self-hosted instances). It serves the
// block skeleton only; traces and balance feeds come from the alkanes
// pipeline.
type EsploraSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewEsploraSource creates a source against the given base URL.
func NewEsploraSource(baseURL string) *EsploraSource {
	return &EsploraSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (e *EsploraSource) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s: %w", path, err)
	}
	return body, resp.StatusCode, nil
}

// TipHeight returns the remote chain tip height.
func (e *EsploraSource) TipHeight(ctx context.Context) (uint32, error) {
	body, status, err := e.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("tip height: status %d", status)
	}
	h, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("tip height: %w", err)
	}
	return uint32(h), nil
}

// BlockHash returns the remote hash at a height.
func (e *EsploraSource) BlockHash(ctx context.Context, height uint32) (string, bool, error) {
	body, status, err := e.get(ctx, fmt.Sprintf("/block-height/%d", height))
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound {
		return "", false, nil
	}
	if status != http.StatusOK {
		return "", false, fmt.Errorf("block hash at %d: status %d", height, status)
	}
	return strings.TrimSpace(string(body)), true, nil
}

// BlockAt fetches the block header at a height. Traces are left empty;
// callers needing the event stream attach it from the trace feed.
func (e *EsploraSource) BlockAt(ctx context.Context, height uint32) (*Block, error) {
	hash, ok, err := e.BlockHash(ctx, height)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("block %d not found", height)
	}

	body, status, err := e.get(ctx, "/block/"+hash)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("block %s: status %d", hash, status)
	}

	var header struct {
		ID        string `json:"id"`
		Height    uint32 `json:"height"`
		Timestamp uint64 `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &header); err != nil {
		return nil, fmt.Errorf("block %s: %w", hash, err)
	}

	return &Block{
		Height:    header.Height,
		Hash:      header.ID,
		Timestamp: header.Timestamp,
	}, nil
}
