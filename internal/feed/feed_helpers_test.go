package feed

import (
	"context"
	"sync"
	"time"
)

const (
	testMint  = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	otherMint = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeMarket returns canned data and lets a test hook into a fetch.
type fakeMarket struct {
	mu       sync.Mutex
	data     map[string]*MarketData
	prices   map[string]float64
	err      error
	calls    int
	onFetch  func()
	priceErr error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{data: map[string]*MarketData{}, prices: map[string]float64{}}
}

func (m *fakeMarket) set(d *MarketData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[d.Mint] = d
}

func (m *fakeMarket) FetchMarket(_ context.Context, mint string) (*MarketData, error) {
	m.mu.Lock()
	m.calls++
	hook := m.onFetch
	err := m.err
	d, ok := m.data[mint]
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoMarketData
	}
	cp := *d
	return &cp, nil
}

func (m *fakeMarket) FetchPrices(_ context.Context, mints []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.priceErr != nil {
		return nil, m.priceErr
	}
	out := map[string]float64{}
	for _, mint := range mints {
		if p, ok := m.prices[mint]; ok {
			out[mint] = p
		}
	}
	return out, nil
}

type fakeTicks struct {
	mu       sync.Mutex
	ch       chan Tick
	targeted []Instrument
}

func newFakeTicks() *fakeTicks {
	return &fakeTicks{ch: make(chan Tick, 16)}
}

func (f *fakeTicks) Ticks() <-chan Tick { return f.ch }

func (f *fakeTicks) Retarget(_ context.Context, inst Instrument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targeted = append(f.targeted, inst)
	return nil
}

func (f *fakeTicks) targets() []Instrument {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Instrument, len(f.targeted))
	copy(out, f.targeted)
	return out
}
