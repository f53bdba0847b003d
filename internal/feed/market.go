// internal/feed/market.go
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultPairsURL          = "https://api.dexscreener.com/latest/dex"
	DefaultPriceURL          = "https://lite-api.jup.ag/price/v3"
	DefaultRequestsPerMinute = 300
)

// ErrNoMarketData is returned when neither endpoint knows the mint.
var ErrNoMarketData = errors.New("no market data for mint")

// MarketData is one polling observation.
type MarketData struct {
	Mint         string
	Symbol       string
	Name         string
	PriceUSD     float64
	MarketCapUSD float64
	LiquidityUSD float64
	PriceOnly    bool // came from the fallback endpoint
}

// MarketClient is the polling data source.
type MarketClient interface {
	FetchMarket(ctx context.Context, mint string) (*MarketData, error)
	FetchPrices(ctx context.Context, mints []string) (map[string]float64, error)
}

// pairsResponse mirrors the pair aggregation endpoint.
type pairsResponse struct {
	SchemaVersion string     `json:"schemaVersion"`
	Pairs         []pairInfo `json:"pairs"`
}

type pairInfo struct {
	ChainID     string        `json:"chainId"`
	DexID       string        `json:"dexId"`
	PairAddress string        `json:"pairAddress"`
	BaseToken   tokenInfo     `json:"baseToken"`
	PriceUSD    string        `json:"priceUsd"`
	MarketCap   float64       `json:"marketCap"`
	FDV         float64       `json:"fdv"`
	Liquidity   liquidityInfo `json:"liquidity"`
	Info        *pairMeta     `json:"info,omitempty"`
}

type tokenInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
}

type liquidityInfo struct {
	USD float64 `json:"usd"`
}

type pairMeta struct {
	ImageURL string `json:"imageUrl"`
}

type priceEntry struct {
	USDPrice float64 `json:"usdPrice"`
}

// HTTPMarketClient reaches both endpoints through a configurable base URL,
// which is how the privileged proxy is plugged in.
type HTTPMarketClient struct {
	client   *http.Client
	pairsURL string
	priceURL string
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// HTTPMarketConfig configures HTTPMarketClient.
type HTTPMarketConfig struct {
	PairsURL          string
	PriceURL          string
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// NewHTTPMarketClient creates a market client.
func NewHTTPMarketClient(cfg HTTPMarketConfig, logger *zap.Logger) *HTTPMarketClient {
	if cfg.PairsURL == "" {
		cfg.PairsURL = DefaultPairsURL
	}
	if cfg.PriceURL == "" {
		cfg.PriceURL = DefaultPriceURL
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	return &HTTPMarketClient{
		client:   client,
		pairsURL: strings.TrimRight(cfg.PairsURL, "/"),
		priceURL: strings.TrimRight(cfg.PriceURL, "/"),
		limiter:  rate.NewLimiter(perSecond, 5),
		logger:   logger.Named("market"),
	}
}

// FetchMarket returns the most liquid pair for mint, or a price-only
// observation when no pair exists.
func (c *HTTPMarketClient) FetchMarket(ctx context.Context, mint string) (*MarketData, error) {
	var resp pairsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/tokens/%s", c.pairsURL, mint), &resp); err != nil {
		return nil, fmt.Errorf("fetch pairs: %w", err)
	}

	if best := bestPair(resp.Pairs, mint); best != nil {
		price, err := strconv.ParseFloat(best.PriceUSD, 64)
		if err == nil && price > 0 {
			mcap := best.MarketCap
			if mcap <= 0 {
				mcap = best.FDV
			}
			return &MarketData{
				Mint:         mint,
				Symbol:       best.BaseToken.Symbol,
				Name:         best.BaseToken.Name,
				PriceUSD:     price,
				MarketCapUSD: mcap,
				LiquidityUSD: best.Liquidity.USD,
			}, nil
		}
		c.logger.Debug("Best pair has no usable price",
			zap.String("mint", mint),
			zap.String("pair", best.PairAddress),
			zap.String("price_usd", best.PriceUSD))
	}

	prices, err := c.FetchPrices(ctx, []string{mint})
	if err != nil {
		return nil, fmt.Errorf("fetch fallback price: %w", err)
	}
	price, ok := prices[mint]
	if !ok || price <= 0 {
		return nil, ErrNoMarketData
	}
	return &MarketData{Mint: mint, PriceUSD: price, PriceOnly: true}, nil
}

// FetchPrices queries the price-only endpoint for several mints at once.
// Mints without data are absent from the result.
func (c *HTTPMarketClient) FetchPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(mints, ","))

	var resp map[string]*priceEntry
	if err := c.getJSON(ctx, c.priceURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(resp))
	for mint, entry := range resp {
		if entry == nil || entry.USDPrice <= 0 {
			continue
		}
		out[mint] = entry.USDPrice
	}
	return out, nil
}

// bestPair picks the pair with the deepest USD liquidity whose base token is
// mint. Pairs quoting mint on the other side are ignored because their price
// is for the wrong token.
func bestPair(pairs []pairInfo, mint string) *pairInfo {
	var best *pairInfo
	maxLiquidity := -1.0
	for i := range pairs {
		p := &pairs[i]
		if p.BaseToken.Address != "" && p.BaseToken.Address != mint {
			continue
		}
		if p.Liquidity.USD > maxLiquidity {
			maxLiquidity = p.Liquidity.USD
			best = p
		}
	}
	return best
}

// getJSON performs a rate limited GET and decodes the body into out.
func (c *HTTPMarketClient) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
