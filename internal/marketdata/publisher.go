package marketdata

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jacobstahl/agent-exchange/internal/domain"
)

const (
	ringBufferCapacity = 100
	defaultBarInterval = 10 // ticks per bar
)

// Execution is one recorded fill, stamped with an external id.
type Execution struct {
	ExecID   string      `json:"exec_id"`
	Asset    string      `json:"asset"`
	BuyerID  int64       `json:"buyer_id"`
	SellerID int64       `json:"seller_id"`
	Price    int64       `json:"price"`
	Quantity int64       `json:"quantity"`
	Tick     domain.Tick `json:"tick"`
	LoggedAt time.Time   `json:"logged_at"`
}

// TickBar is OHLCV data aggregated over a fixed number of ticks.
type TickBar struct {
	Asset     string      `json:"asset"`
	Open      int64       `json:"open"`
	High      int64       `json:"high"`
	Low       int64       `json:"low"`
	Close     int64       `json:"close"`
	Volume    int64       `json:"volume"`
	StartTick domain.Tick `json:"start_tick"`
	Interval  domain.Tick `json:"interval"`
}

// MovingAverages carries the buffered trade-price averages for an asset.
// A nil entry means no trades recorded yet.
type MovingAverages struct {
	MA5   *float64 `json:"ma_5"`
	MA10  *float64 `json:"ma_10"`
	MA50  *float64 `json:"ma_50"`
	MA100 *float64 `json:"ma_100"`
}

// barState tracks the current (building) bar for one asset.
type barState struct {
	current  *TickBar
	hasData  bool
	interval domain.Tick
}

// maState holds the circular trade-price buffer for one asset.
type maState struct {
	buffer []int64
	next   int
	filled bool
}

func (s *maState) push(price int64) {
	if len(s.buffer) < ringBufferCapacity {
		s.buffer = append(s.buffer, price)
		return
	}
	s.buffer[s.next] = price
	s.next = (s.next + 1) % ringBufferCapacity
	s.filled = true
}

// recent returns the last n prices in order, oldest first.
func (s *maState) recent(n int) []int64 {
	if len(s.buffer) == 0 {
		return nil
	}
	if n > len(s.buffer) {
		n = len(s.buffer)
	}
	start := len(s.buffer) - n
	if s.filled {
		start = s.next - n
	}
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		idx := ((start+i)%len(s.buffer) + len(s.buffer)) % len(s.buffer)
		out = append(out, s.buffer[idx])
	}
	return out
}

// RingBuffer is a fixed-size circular buffer of completed tick bars.
type RingBuffer struct {
	data  [ringBufferCapacity]*TickBar
	head  int
	count int
}

// Push adds a bar to the ring buffer.
func (rb *RingBuffer) Push(bar *TickBar) {
	rb.data[rb.head] = bar
	rb.head = (rb.head + 1) % ringBufferCapacity
	if rb.count < ringBufferCapacity {
		rb.count++
	}
}

// GetRecent returns the n most recent bars in chronological order.
func (rb *RingBuffer) GetRecent(n int) []*TickBar {
	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}
	result := make([]*TickBar, n)
	start := (rb.head - n + ringBufferCapacity) % ringBufferCapacity
	for i := 0; i < n; i++ {
		result[i] = rb.data[(start+i)%ringBufferCapacity]
	}
	return result
}

// Publisher consumes matches from the simulation and maintains tick bars,
// moving averages and an execution log per asset.
type Publisher struct {
	mu sync.RWMutex

	barInterval domain.Tick

	bars       map[string]*RingBuffer
	states     map[string]*barState
	maStates   map[string]*maState
	executions []Execution
}

// NewPublisher creates a publisher building bars over barInterval ticks.
func NewPublisher(barInterval domain.Tick) *Publisher {
	if barInterval == 0 {
		barInterval = defaultBarInterval
	}
	return &Publisher{
		barInterval: barInterval,
		bars:        make(map[string]*RingBuffer),
		states:      make(map[string]*barState),
		maStates:    make(map[string]*maState),
	}
}

// OnMatch records one delivered match. Wire it into the simulation as a
// match listener.
func (p *Publisher) OnMatch(match domain.Match, now domain.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price := match.ExecPrice()
	asset := match.Buyer.Asset

	p.executions = append(p.executions, Execution{
		ExecID:   uuid.New().String(),
		Asset:    asset,
		BuyerID:  match.Buyer.TraderID,
		SellerID: match.Seller.TraderID,
		Price:    price,
		Quantity: match.Qty,
		Tick:     now,
		LoggedAt: time.Now(),
	})

	p.updateBar(asset, price, match.Qty, now)
	p.updateMovingAverages(asset, price)
}

func (p *Publisher) updateBar(asset string, price, qty int64, now domain.Tick) {
	state, ok := p.states[asset]
	if !ok {
		state = &barState{interval: p.barInterval}
		p.states[asset] = state
	}

	barStart := now - now%state.interval

	if state.hasData && state.current.StartTick != barStart {
		p.rotateBar(asset, state)
	}

	if !state.hasData {
		state.current = &TickBar{
			Asset:     asset,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    qty,
			StartTick: barStart,
			Interval:  state.interval,
		}
		state.hasData = true
		return
	}

	bar := state.current
	if price > bar.High {
		bar.High = price
	}
	if price < bar.Low {
		bar.Low = price
	}
	bar.Close = price
	bar.Volume += qty
}

func (p *Publisher) rotateBar(asset string, state *barState) {
	rb, ok := p.bars[asset]
	if !ok {
		rb = &RingBuffer{}
		p.bars[asset] = rb
	}
	rb.Push(state.current)
	state.hasData = false
	state.current = nil
}

func (p *Publisher) updateMovingAverages(asset string, price int64) {
	state, ok := p.maStates[asset]
	if !ok {
		state = &maState{}
		p.maStates[asset] = state
	}
	state.push(price)
}

// GetBars returns the most recent bars for an asset, including the current
// building bar.
func (p *Publisher) GetBars(asset string, count int) []*TickBar {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*TickBar
	if rb, ok := p.bars[asset]; ok {
		result = rb.GetRecent(count)
	}
	if state, ok := p.states[asset]; ok && state.hasData {
		bar := *state.current
		result = append(result, &bar)
	}
	return result
}

// GetMovingAverages returns the buffered trade-price averages for an asset.
func (p *Publisher) GetMovingAverages(asset string) MovingAverages {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var mas MovingAverages
	state, ok := p.maStates[asset]
	if !ok || len(state.buffer) == 0 {
		return mas
	}

	windows := []struct {
		size int
		dst  **float64
	}{
		{5, &mas.MA5},
		{10, &mas.MA10},
		{50, &mas.MA50},
		{100, &mas.MA100},
	}
	for _, w := range windows {
		prices := state.recent(w.size)
		if len(prices) == 0 {
			continue
		}
		var sum int64
		for _, price := range prices {
			sum += price
		}
		avg := float64(sum) / float64(len(prices))
		*w.dst = &avg
	}
	return mas
}

// GetExecutions returns the logged executions matching the filters. Zero
// values match everything.
func (p *Publisher) GetExecutions(asset string, traderID int64, since domain.Tick) []Execution {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []Execution
	for _, exec := range p.executions {
		if asset != "" && exec.Asset != asset {
			continue
		}
		if traderID != 0 && exec.BuyerID != traderID && exec.SellerID != traderID {
			continue
		}
		if exec.Tick < since {
			continue
		}
		result = append(result, exec)
	}
	return result
}
