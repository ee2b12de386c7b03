// Package pricefeed provides BTC/USD price-at-height implementations of
// the candles.PriceFeed capability: a live HTTP fetcher and a fixed
// fixture for tests.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/subfrost/espo/pkg/logging"
)

// Live fetches the current BTC/USD price from a mempool.space-compatible
// endpoint. Prices are cached per height so one block asks at most once.
type Live struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger

	mu     sync.Mutex
	height uint32
	cached *uint256.Int
}

// NewLive creates a live feed against the given API base URL.
func NewLive(baseURL string, log *logging.Logger) *Live {
	return &Live{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

// BitcoinPriceUsdAtHeight returns the BTC/USD price. The live feed serves
// the latest spot price; a failed fetch returns the last cached value, or
// zero when nothing was ever fetched.
func (l *Live) BitcoinPriceUsdAtHeight(height uint32) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil && l.height == height {
		return new(uint256.Int).Set(l.cached)
	}

	price, err := l.fetch()
	if err != nil {
		l.log.Error("Failed to fetch BTC/USD price", "height", height, "error", err)
		if l.cached != nil {
			return new(uint256.Int).Set(l.cached)
		}
		return new(uint256.Int)
	}

	l.height = height
	l.cached = price
	return new(uint256.Int).Set(price)
}

func (l *Live) fetch() (*uint256.Int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", l.baseURL+"/v1/prices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prices: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, err
	}

	var out struct {
		USD uint64 `json:"USD"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("prices: %w", err)
	}

	return uint256.NewInt(out.USD), nil
}

// Fixed is a fixture feed returning one constant price at every height.
type Fixed struct {
	Price *uint256.Int
}

// NewFixed returns a fixture feed.
func NewFixed(price uint64) *Fixed {
	return &Fixed{Price: uint256.NewInt(price)}
}

// BitcoinPriceUsdAtHeight returns the fixed price.
func (f *Fixed) BitcoinPriceUsdAtHeight(uint32) *uint256.Int {
	return new(uint256.Int).Set(f.Price)
}
