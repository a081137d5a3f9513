package agents

import (
	"github.com/jacobstahl/agent-exchange/internal/abm"
	"github.com/jacobstahl/agent-exchange/internal/domain"
)

// Producer dumps qtyPerTick units of an asset onto the market each tick as
// a sell market order, ramping production up while the best bid sits above
// its preferred price and down while it sits below. It ceases production
// entirely while there are no bids.
type Producer struct {
	abm.BaseAgent

	asset          string
	preferredPrice int64
	qtyPerTick     int64
}

// NewProducer creates a producer targeting the given price level.
func NewProducer(asset string, preferredPrice int64) *Producer {
	return &Producer{
		asset:          asset,
		preferredPrice: preferredPrice,
		qtyPerTick:     1,
	}
}

func (p *Producer) Policy(observation domain.Observation) domain.Action {
	// A missing spread means no book exists yet for the asset; one is
	// created the first time an order names it.
	spread, ok := observation.AssetSpreads[p.asset]
	if !ok {
		spread = domain.Spread{BidsMissing: true, AsksMissing: true}
	}

	// Cease production if there are no bids
	if spread.BidsMissing {
		return domain.Action{}
	}

	if spread.HighestBid > p.preferredPrice {
		p.qtyPerTick++
	} else if spread.HighestBid < p.preferredPrice && p.qtyPerTick > 0 {
		p.qtyPerTick--
	}

	if p.qtyPerTick < 1 {
		return domain.Action{}
	}

	order := domain.Order{
		Asset: p.asset,
		Side:  domain.SideSell,
		Type:  domain.OrdTypeMarket,
		Qty:   p.qtyPerTick,
	}
	return domain.Place(order)
}
