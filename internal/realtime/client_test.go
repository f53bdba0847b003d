package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
)

const mint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

// peer is a fake page observer.
type peer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu      sync.Mutex
	targets []message
	conns   int
	onConn  func(n int, conn *websocket.Conn)
}

func (p *peer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	p.mu.Lock()
	p.conns++
	n := p.conns
	onConn := p.onConn
	p.mu.Unlock()

	if onConn != nil {
		go onConn(n, conn)
	}
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		p.mu.Lock()
		p.targets = append(p.targets, msg)
		p.mu.Unlock()
	}
}

func (p *peer) received() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.targets...)
}

func startPeer(t *testing.T, p *peer) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func runClient(t *testing.T, c *Client) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
	return cancel
}

func TestClientDeliversTicks(t *testing.T) {
	p := &peer{t: t}
	p.onConn = func(_ int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`))
		_ = conn.WriteJSON(map[string]any{
			"type": "tick", "mint": mint, "price": 0.00002, "confidence": 2,
			"source": "chart", "chartMarketCap": 1.5e9,
		})
	}
	_, url := startPeer(t, p)

	c := New(Config{URL: url, Logger: zaptest.NewLogger(t)})
	runClient(t, c)

	select {
	case tick := <-c.Ticks():
		assert.Equal(t, feed.Tick{Mint: mint, PriceUSD: 0.00002, Confidence: 2, Source: "chart", ChartMarketCap: 1.5e9}, tick)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
}

func TestClientAnnouncesTarget(t *testing.T) {
	p := &peer{t: t}
	_, url := startPeer(t, p)

	c := New(Config{URL: url, Logger: zaptest.NewLogger(t)})
	// Retarget before connecting only records the target.
	require.NoError(t, c.Retarget(context.Background(), feed.Instrument{Mint: mint, Symbol: "BONK"}))
	runClient(t, c)

	require.Eventually(t, func() bool { return len(p.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := p.received()[0]
	assert.Equal(t, MessageTarget, got.Type)
	assert.Equal(t, mint, got.Mint)
	assert.Equal(t, "BONK", got.Symbol)

	other := "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
	require.NoError(t, c.Retarget(context.Background(), feed.Instrument{Mint: other}))
	require.Eventually(t, func() bool { return len(p.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, other, p.received()[1].Mint)
}

func TestClientReconnectsAndResendsTarget(t *testing.T) {
	p := &peer{t: t}
	p.onConn = func(n int, conn *websocket.Conn) {
		if n == 1 {
			// Drop the first connection once the target arrived.
			time.Sleep(50 * time.Millisecond)
			conn.Close()
		}
	}
	_, url := startPeer(t, p)

	c := New(Config{URL: url, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	require.NoError(t, c.Retarget(context.Background(), feed.Instrument{Mint: mint}))
	runClient(t, c)

	require.Eventually(t, func() bool { return len(p.received()) >= 2 }, 3*time.Second, 10*time.Millisecond)
	for _, m := range p.received() {
		assert.Equal(t, mint, m.Mint)
	}
}
