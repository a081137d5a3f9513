package agents

import (
	"github.com/jacobstahl/agent-exchange/internal/abm"
	"github.com/jacobstahl/agent-exchange/internal/domain"
)

// Consumer bids for one unit of an asset each tick. Its willingness to pay
// follows a sigmoid of the time since it last consumed: freshly fed it bids
// near zero, starved it approaches its max price. Each tick it replaces its
// standing bid with a repriced one.
type Consumer struct {
	abm.BaseAgent

	asset                string
	maxPrice             int64
	ticksUntilHalfHunger domain.Tick

	lastConsumed      domain.Tick
	lastPlacedOrderID int64
}

// NewConsumer creates a consumer for the asset. maxPrice caps the bid;
// appetiteCoef is the number of ticks of fasting at which hunger reaches
// half strength.
func NewConsumer(asset string, maxPrice int64, appetiteCoef domain.Tick) *Consumer {
	if appetiteCoef == 0 {
		appetiteCoef = 1
	}
	return &Consumer{
		asset:                asset,
		maxPrice:             maxPrice,
		ticksUntilHalfHunger: appetiteCoef,
	}
}

// sigmoidHunger maps time since last consumption to a bid price in
// [0, maxPrice) via x/(1+x).
func (c *Consumer) sigmoidHunger(timeSinceLastConsumption domain.Tick) int64 {
	x := float64(timeSinceLastConsumption) / float64(c.ticksUntilHalfHunger)
	sig := x / (1 + x)
	return int64(sig * float64(c.maxPrice))
}

func (c *Consumer) newLimitPrice(now domain.Tick) int64 {
	var timeSinceLastConsumption domain.Tick
	if c.lastConsumed > 0 && now > c.lastConsumed {
		timeSinceLastConsumption = now - c.lastConsumed
	}
	return c.sigmoidHunger(timeSinceLastConsumption)
}

func (c *Consumer) Policy(observation domain.Observation) domain.Action {
	// Don't start hungry
	if c.lastConsumed == 0 {
		c.lastConsumed = observation.Time
	}

	price := c.newLimitPrice(observation.Time)
	if price < 1 {
		return domain.Action{} // not hungry enough to bid yet
	}

	// qty always 1 to avoid partial fills
	order := domain.Order{
		Asset: c.asset,
		Side:  domain.SideBuy,
		Type:  domain.OrdTypeLimit,
		Price: price,
		Qty:   1,
	}

	if c.lastPlacedOrderID > 0 {
		return domain.Replace(order, c.lastPlacedOrderID)
	}
	return domain.Place(order)
}

func (c *Consumer) OrderPlaced(orderID int64, now domain.Tick) {
	c.lastPlacedOrderID = orderID
}

func (c *Consumer) MatchFound(match domain.Match, now domain.Tick) {
	c.lastConsumed = now
}

// LastWill cancels the standing bid before the consumer leaves the market.
func (c *Consumer) LastWill(observation domain.Observation) domain.Action {
	if c.lastPlacedOrderID > 0 {
		return domain.Cancel(c.lastPlacedOrderID)
	}
	return domain.Action{}
}
