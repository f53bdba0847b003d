package ui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func collect(t *testing.T, h *Handler) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev := <-h.Events():
			out = append(out, ev)
			if ev.Type == ExitRequested {
				return out
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestHandlerEmitsCommands(t *testing.T) {
	h := NewHandler(context.Background(), strings.NewReader("buy 1\n\n  sell 50  \nq\nbuy 2\n"), zaptest.NewLogger(t))
	defer h.Stop()
	h.Start()

	got := collect(t, h)
	require.Len(t, got, 3)
	assert.Equal(t, Event{Type: CommandEntered, Data: "buy 1"}, got[0])
	assert.Equal(t, Event{Type: CommandEntered, Data: "sell 50"}, got[1])
	assert.Equal(t, ExitRequested, got[2].Type)
}

func TestHandlerExitsOnEOF(t *testing.T) {
	h := NewHandler(context.Background(), strings.NewReader("positions"), zaptest.NewLogger(t))
	defer h.Stop()
	h.Start()

	got := collect(t, h)
	require.Len(t, got, 2)
	assert.Equal(t, "positions", got[0].Data)
	assert.Equal(t, ExitRequested, got[1].Type)
}

func TestShortenAddress(t *testing.T) {
	assert.Equal(t, "short", ShortenAddress("short"))
	assert.Equal(t, "DezXAZ…pPB263", ShortenAddress("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"))
}
