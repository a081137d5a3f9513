package agents

import (
	"math/rand"

	"github.com/jacobstahl/agent-exchange/internal/abm"
	"github.com/jacobstahl/agent-exchange/internal/domain"
)

// NoiseTrader places random limit orders around the current mid price, with
// an occasional market order, to keep the book populated. Deterministic for
// a given seed.
type NoiseTrader struct {
	abm.BaseAgent

	asset       string
	basePrice   int64
	rangeTicks  int64
	marketRatio int // 1 in N orders is a market order
	rng         *rand.Rand

	lastPlacedOrderID int64
	placed            int
}

// NewNoiseTrader creates a noise trader centered on basePrice, quoting
// within rangeTicks of the mid.
func NewNoiseTrader(asset string, basePrice, rangeTicks int64, marketRatio int, seed int64) *NoiseTrader {
	if rangeTicks < 1 {
		rangeTicks = 1
	}
	if marketRatio < 1 {
		marketRatio = 5
	}
	return &NoiseTrader{
		asset:       asset,
		basePrice:   basePrice,
		rangeTicks:  rangeTicks,
		marketRatio: marketRatio,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// mid estimates the current mid price from the spread, falling back to the
// configured base price on a one-sided or empty book.
func (n *NoiseTrader) mid(observation domain.Observation) int64 {
	spread, ok := observation.AssetSpreads[n.asset]
	if !ok || spread.Empty() {
		return n.basePrice
	}
	if spread.BidsMissing {
		return spread.LowestAsk
	}
	if spread.AsksMissing {
		return spread.HighestBid
	}
	return (spread.HighestBid + spread.LowestAsk) / 2
}

func (n *NoiseTrader) Policy(observation domain.Observation) domain.Action {
	side := domain.SideBuy
	if n.rng.Intn(2) == 1 {
		side = domain.SideSell
	}

	n.placed++
	if n.placed%n.marketRatio == 0 {
		order := domain.Order{
			Asset: n.asset,
			Side:  side,
			Type:  domain.OrdTypeMarket,
			Qty:   1 + n.rng.Int63n(10),
		}
		return domain.Place(order)
	}

	offset := n.rng.Int63n(n.rangeTicks) + 1
	price := n.mid(observation)
	if side == domain.SideBuy {
		price -= offset
	} else {
		price += offset
	}
	if price < 1 {
		price = 1
	}

	order := domain.Order{
		Asset: n.asset,
		Side:  side,
		Type:  domain.OrdTypeLimit,
		Price: price,
		Qty:   1 + n.rng.Int63n(10),
	}

	// Cancel the most recently placed order and quote anew. A market order
	// also counts as the most recently placed one, so the quote placed
	// before it is not canceled and stays on the book.
	if n.lastPlacedOrderID > 0 {
		return domain.Replace(order, n.lastPlacedOrderID)
	}
	return domain.Place(order)
}

func (n *NoiseTrader) OrderPlaced(orderID int64, now domain.Tick) {
	n.lastPlacedOrderID = orderID
}

func (n *NoiseTrader) LastWill(observation domain.Observation) domain.Action {
	if n.lastPlacedOrderID > 0 {
		return domain.Cancel(n.lastPlacedOrderID)
	}
	return domain.Action{}
}
