package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const pairsBody = `{
  "schemaVersion": "1.0.0",
  "pairs": [
    {
      "chainId": "solana",
      "dexId": "raydium",
      "pairAddress": "shallow",
      "baseToken": {"address": "%[1]s", "symbol": "BONK", "name": "Bonk"},
      "priceUsd": "0.00002100",
      "marketCap": 1500000000,
      "liquidity": {"usd": 1000}
    },
    {
      "chainId": "solana",
      "dexId": "orca",
      "pairAddress": "deep",
      "baseToken": {"address": "%[1]s", "symbol": "BONK", "name": "Bonk"},
      "priceUsd": "0.00002000",
      "fdv": 1600000000,
      "liquidity": {"usd": 250000},
      "info": {"imageUrl": "https://example.invalid/bonk.png"}
    },
    {
      "chainId": "solana",
      "dexId": "raydium",
      "pairAddress": "quoted",
      "baseToken": {"address": "So11111111111111111111111111111111111111112", "symbol": "SOL"},
      "priceUsd": "150.0",
      "liquidity": {"usd": 9000000}
    }
  ]
}`

func newTestMarketServer(t *testing.T, pairs string, prices string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/tokens/"):
			fmt.Fprint(w, pairs)
		case r.URL.Path == "/price":
			fmt.Fprint(w, prices)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(t *testing.T, srv *httptest.Server) *HTTPMarketClient {
	return NewHTTPMarketClient(HTTPMarketConfig{
		PairsURL:          srv.URL,
		PriceURL:          srv.URL + "/price",
		RequestsPerMinute: 60000,
	}, zaptest.NewLogger(t))
}

func TestFetchMarketPicksDeepestPair(t *testing.T) {
	srv := newTestMarketServer(t, fmt.Sprintf(pairsBody, testMint), `{}`)
	defer srv.Close()

	data, err := newTestClient(t, srv).FetchMarket(context.Background(), testMint)
	require.NoError(t, err)

	assert.Equal(t, 0.00002, data.PriceUSD)
	assert.Equal(t, 1_600_000_000.0, data.MarketCapUSD, "fdv stands in for a missing market cap")
	assert.Equal(t, 250_000.0, data.LiquidityUSD)
	assert.Equal(t, "BONK", data.Symbol)
	assert.False(t, data.PriceOnly)
}

func TestFetchMarketFallsBackToPriceOnly(t *testing.T) {
	prices := fmt.Sprintf(`{"%s": {"usdPrice": 0.75}}`, testMint)
	srv := newTestMarketServer(t, `{"schemaVersion":"1.0.0","pairs":null}`, prices)
	defer srv.Close()

	data, err := newTestClient(t, srv).FetchMarket(context.Background(), testMint)
	require.NoError(t, err)
	assert.True(t, data.PriceOnly)
	assert.Equal(t, 0.75, data.PriceUSD)
	assert.Zero(t, data.MarketCapUSD)
}

func TestFetchMarketNoData(t *testing.T) {
	srv := newTestMarketServer(t, `{"pairs":[]}`, `{}`)
	defer srv.Close()

	_, err := newTestClient(t, srv).FetchMarket(context.Background(), testMint)
	assert.ErrorIs(t, err, ErrNoMarketData)
}

func TestFetchMarketHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FetchMarket(context.Background(), testMint)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchPricesBatch(t *testing.T) {
	var gotIDs string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIDs = r.URL.Query().Get("ids")
		fmt.Fprintf(w, `{"%s":{"usdPrice":0.00002},"%s":{"usdPrice":0.9},"bogus":null}`, testMint, otherMint)
	}))
	defer srv.Close()

	client := NewHTTPMarketClient(HTTPMarketConfig{PriceURL: srv.URL, RequestsPerMinute: 60000}, zaptest.NewLogger(t))
	prices, err := client.FetchPrices(context.Background(), []string{testMint, otherMint})
	require.NoError(t, err)

	assert.Equal(t, testMint+","+otherMint, gotIDs)
	assert.Equal(t, map[string]float64{testMint: 0.00002, otherMint: 0.9}, prices)

	empty, err := client.FetchPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
