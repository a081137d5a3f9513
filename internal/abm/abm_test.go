package abm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobstahl/agent-exchange/internal/domain"
)

// scriptAgent runs a fixed policy function and records its callbacks.
type scriptAgent struct {
	BaseAgent

	policy   func(a *scriptAgent, obs domain.Observation) domain.Action
	lastWill func(a *scriptAgent, obs domain.Observation) domain.Action

	matches     []domain.Match
	placedIDs   []int64
	canceledIDs []int64
}

func (a *scriptAgent) Policy(obs domain.Observation) domain.Action {
	if a.policy == nil {
		return domain.Action{}
	}
	return a.policy(a, obs)
}

func (a *scriptAgent) MatchFound(match domain.Match, now domain.Tick) {
	a.matches = append(a.matches, match)
}

func (a *scriptAgent) OrderPlaced(orderID int64, now domain.Tick) {
	a.placedIDs = append(a.placedIDs, orderID)
}

func (a *scriptAgent) OrderCanceled(orderID int64, now domain.Tick) {
	a.canceledIDs = append(a.canceledIDs, orderID)
}

func (a *scriptAgent) LastWill(obs domain.Observation) domain.Action {
	if a.lastWill == nil {
		return domain.Action{}
	}
	return a.lastWill(a, obs)
}

// keepAllBut keeps every agent except the named trader id.
type keepAllBut struct {
	doomed int64
}

func (s keepAllBut) KeepThis(agent Agent) bool {
	return agent.TraderID() != s.doomed
}

// keepBelow keeps agents whose trader id is below the threshold.
type keepBelow struct {
	threshold int64
}

func (s keepBelow) KeepThis(agent Agent) bool {
	return agent.TraderID() < s.threshold
}

func sellMarketOnTickZero(asset string) func(*scriptAgent, domain.Observation) domain.Action {
	return func(a *scriptAgent, obs domain.Observation) domain.Action {
		if obs.Time == 0 {
			return domain.Place(domain.Order{
				Asset: asset,
				Side:  domain.SideSell,
				Type:  domain.OrdTypeMarket,
				Qty:   1,
			})
		}
		return domain.Action{}
	}
}

func buyLimitOnTickZero(asset string, price int64) func(*scriptAgent, domain.Observation) domain.Action {
	return func(a *scriptAgent, obs domain.Observation) domain.Action {
		if obs.Time == 0 {
			return domain.Place(domain.Order{
				Asset: asset,
				Side:  domain.SideBuy,
				Type:  domain.OrdTypeLimit,
				Price: price,
				Qty:   1,
			})
		}
		return domain.Action{}
	}
}

func TestAddAgentReturnsCorrectID(t *testing.T) {
	sim := NewABM()
	id := sim.AddAgent(&scriptAgent{})
	assert.Equal(t, int64(1), id)
}

func TestAddMultipleAgentsIncrementIDs(t *testing.T) {
	sim := NewABM()
	id1 := sim.AddAgent(&scriptAgent{})
	id2 := sim.AddAgent(&scriptAgent{})
	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
}

func TestRemoveAgentsBasedOnID(t *testing.T) {
	sim := NewABM()
	for i := 0; i < 4; i++ {
		sim.AddAgent(&scriptAgent{})
	}
	assert.Equal(t, 4, sim.GetNumAgents())

	// Keep agents with id < 3: drops 3 and 4.
	sim.RemoveAgents(keepBelow{threshold: 3})
	assert.Equal(t, 2, sim.GetNumAgents())
}

func TestProducerConsumerOneStep(t *testing.T) {
	sim := NewABM()

	// 1 producer, 3 consumers
	sim.AddAgent(&scriptAgent{policy: sellMarketOnTickZero("FOOD")})
	for i := 0; i < 3; i++ {
		sim.AddAgent(&scriptAgent{policy: buyLimitOnTickZero("FOOD", 100)})
	}

	sim.SimStep()

	obs := sim.GetLatestObservation()
	assert.Equal(t, domain.Tick(1), obs.Time)

	// The market sell matched one of the three bids, leaving two.
	depth, ok := obs.AssetOrderDepths["FOOD"]
	require.True(t, ok)
	require.Len(t, depth.BidBins, 1)
	assert.Equal(t, int64(100), depth.BidBins[0].Price)
	assert.Equal(t, int64(2), depth.BidBins[0].TotalQty)
	assert.Empty(t, depth.AskBins)
}

func TestMultipleStepsIncrementTickCounter(t *testing.T) {
	sim := NewABM()
	for i := 0; i < 10; i++ {
		sim.SimStep()
		assert.Equal(t, domain.Tick(i+1), sim.GetLatestObservation().Time)
	}
}

func TestMatchRoutingToAgents(t *testing.T) {
	sim := NewABM()

	producer := &scriptAgent{policy: sellMarketOnTickZero("FOOD")}
	consumer := &scriptAgent{policy: buyLimitOnTickZero("FOOD", 100)}
	sim.AddAgent(producer)
	sim.AddAgent(consumer)

	sim.SimStep()

	require.Len(t, producer.matches, 1)
	require.Len(t, consumer.matches, 1)

	prodMatch := producer.matches[0]
	consMatch := consumer.matches[0]

	assert.Equal(t, int64(1), prodMatch.Qty)
	assert.Equal(t, int64(1), consMatch.Qty)

	assert.Equal(t, producer.TraderID(), prodMatch.Seller.TraderID)
	assert.Equal(t, consumer.TraderID(), prodMatch.Buyer.TraderID)
	assert.Equal(t, producer.TraderID(), consMatch.Seller.TraderID)
	assert.Equal(t, consumer.TraderID(), consMatch.Buyer.TraderID)
}

func TestOrderPlacedCallbackCarriesAuthoritativeID(t *testing.T) {
	sim := NewABM()

	agent := &scriptAgent{policy: func(a *scriptAgent, obs domain.Observation) domain.Action {
		if obs.Time == 0 {
			order := domain.Order{
				Asset: "FOOD",
				Side:  domain.SideSell,
				Type:  domain.OrdTypeLimit,
				Price: 100,
				Qty:   1,
			}
			order.OrdID = 999999 // overwritten at dispatch
			return domain.Place(order)
		}
		return domain.Action{}
	}}
	sim.AddAgent(agent)

	sim.SimStep()

	require.Len(t, agent.placedIDs, 1)
	assert.Equal(t, int64(1), agent.placedIDs[0], "order ids are assigned by the engine, monotone from 1")
}

func TestCancellationRoundTrip(t *testing.T) {
	sim := NewABM()

	agent := &scriptAgent{}
	agent.policy = func(a *scriptAgent, obs domain.Observation) domain.Action {
		switch obs.Time {
		case 0:
			return domain.Place(domain.Order{
				Asset: "FOOD",
				Side:  domain.SideSell,
				Type:  domain.OrdTypeLimit,
				Price: 100,
				Qty:   1,
			})
		case 1:
			require.Len(t, a.placedIDs, 1)
			return domain.Cancel(a.placedIDs[0])
		}
		return domain.Action{}
	}
	sim.AddAgent(agent)

	sim.SimStep()
	sim.SimStep()

	require.Len(t, agent.canceledIDs, 1)
	assert.Equal(t, agent.placedIDs[0], agent.canceledIDs[0])

	// The canceled ask never matches and is swept from the depth on touch;
	// a third agent's crossing bid must find nothing.
	prober := &scriptAgent{policy: func(a *scriptAgent, obs domain.Observation) domain.Action {
		if obs.Time == 2 {
			return domain.Place(domain.Order{
				Asset: "FOOD",
				Side:  domain.SideBuy,
				Type:  domain.OrdTypeMarket,
				Qty:   1,
			})
		}
		return domain.Action{}
	}}
	sim.AddAgent(prober)
	sim.SimStep()

	assert.Empty(t, prober.matches)
	assert.Empty(t, agent.matches)
	depth := sim.GetLatestObservation().AssetOrderDepths["FOOD"]
	assert.Empty(t, depth.AskBins)
}

func TestCancelExecutesBeforePlaceWithinOneAction(t *testing.T) {
	sim := NewABM()

	// The agent replaces its standing ask each tick. If the cancel did not
	// run first, the previous ask would remain and depth would grow.
	agent := &scriptAgent{}
	agent.policy = func(a *scriptAgent, obs domain.Observation) domain.Action {
		if obs.Time > 4 {
			return domain.Action{}
		}
		order := domain.Order{
			Asset: "FOOD",
			Side:  domain.SideSell,
			Type:  domain.OrdTypeLimit,
			Price: 100 + int64(obs.Time),
			Qty:   1,
		}
		if len(a.placedIDs) > 0 {
			return domain.Replace(order, a.placedIDs[len(a.placedIDs)-1])
		}
		return domain.Place(order)
	}
	sim.AddAgent(agent)

	for i := 0; i < 5; i++ {
		sim.SimStep()
	}

	assert.Len(t, agent.placedIDs, 5)
	assert.Len(t, agent.canceledIDs, 4)

	// Only the newest ask can still match.
	prober := &scriptAgent{policy: func(a *scriptAgent, obs domain.Observation) domain.Action {
		return domain.Place(domain.Order{
			Asset: "FOOD",
			Side:  domain.SideBuy,
			Type:  domain.OrdTypeMarket,
			Qty:   10,
		})
	}}
	sim.AddAgent(prober)
	sim.SimStep()

	require.Len(t, prober.matches, 1)
	assert.Equal(t, int64(1), prober.matches[0].Qty)
	assert.Equal(t, int64(104), prober.matches[0].Seller.Price)
}

func TestLastWillCancelHonored(t *testing.T) {
	sim := NewABM()

	leaver := &scriptAgent{}
	leaver.policy = func(a *scriptAgent, obs domain.Observation) domain.Action {
		if obs.Time == 0 {
			return domain.Place(domain.Order{
				Asset: "FOOD",
				Side:  domain.SideSell,
				Type:  domain.OrdTypeLimit,
				Price: 100,
				Qty:   1,
			})
		}
		return domain.Action{}
	}
	leaver.lastWill = func(a *scriptAgent, obs domain.Observation) domain.Action {
		return domain.Cancel(a.placedIDs[0])
	}

	leaverID := sim.AddAgent(leaver)
	sim.SimStep()

	// Remove the agent; its last will cancels the standing ask.
	sim.RemoveAgents(keepAllBut{doomed: leaverID})
	assert.Equal(t, 0, sim.GetNumAgents())

	prober := &scriptAgent{policy: func(a *scriptAgent, obs domain.Observation) domain.Action {
		return domain.Place(domain.Order{
			Asset: "FOOD",
			Side:  domain.SideBuy,
			Type:  domain.OrdTypeMarket,
			Qty:   1,
		})
	}}
	sim.AddAgent(prober)
	sim.SimStep()

	assert.Empty(t, prober.matches)
}

func TestDeadCounterpartySilentlySkipped(t *testing.T) {
	sim := NewABM()

	// Seller places a resting ask on tick 0 and is then removed; the buyer
	// crosses it on tick 1 and the seller-side delivery is skipped.
	seller := &scriptAgent{policy: func(a *scriptAgent, obs domain.Observation) domain.Action {
		if obs.Time == 0 {
			return domain.Place(domain.Order{
				Asset: "FOOD",
				Side:  domain.SideSell,
				Type:  domain.OrdTypeLimit,
				Price: 100,
				Qty:   1,
			})
		}
		return domain.Action{}
	}}
	buyer := &scriptAgent{policy: func(a *scriptAgent, obs domain.Observation) domain.Action {
		if obs.Time == 1 {
			return domain.Place(domain.Order{
				Asset: "FOOD",
				Side:  domain.SideBuy,
				Type:  domain.OrdTypeMarket,
				Qty:   1,
			})
		}
		return domain.Action{}
	}}

	sellerID := sim.AddAgent(seller)
	sim.AddAgent(buyer)

	sim.SimStep()

	// Drop the seller. Its LastWill is a no-op, so the ask stays on the
	// book.
	sim.RemoveAgents(keepAllBut{doomed: sellerID})
	require.Equal(t, 1, sim.GetNumAgents())

	sim.SimStep()

	require.Len(t, buyer.matches, 1)
	assert.Equal(t, sellerID, buyer.matches[0].Seller.TraderID)
	assert.Empty(t, seller.matches)
}

func TestMatchListenerSeesEveryMatchOnce(t *testing.T) {
	sim := NewABM()

	var seen []domain.Match
	sim.AddMatchListener(func(match domain.Match, now domain.Tick) {
		seen = append(seen, match)
	})

	sim.AddAgent(&scriptAgent{policy: sellMarketOnTickZero("FOOD")})
	sim.AddAgent(&scriptAgent{policy: buyLimitOnTickZero("FOOD", 100)})

	sim.SimStep()

	require.Len(t, seen, 1)
	assert.Equal(t, int64(1), seen[0].Qty)
}

func TestMatchersCreatedLazilyPerAsset(t *testing.T) {
	sim := NewABM()

	sim.AddAgent(&scriptAgent{policy: buyLimitOnTickZero("FOOD", 10)})
	sim.AddAgent(&scriptAgent{policy: buyLimitOnTickZero("GOLD", 20)})

	assert.Empty(t, sim.Assets())
	sim.SimStep()
	assert.Equal(t, []string{"FOOD", "GOLD"}, sim.Assets())

	obs := sim.GetLatestObservation()
	assert.Contains(t, obs.AssetSpreads, "FOOD")
	assert.Contains(t, obs.AssetSpreads, "GOLD")
	assert.Equal(t, int64(10), obs.AssetSpreads["FOOD"].HighestBid)
	assert.Equal(t, int64(20), obs.AssetSpreads["GOLD"].HighestBid)
}

// recordingObserver counts lifecycle calls and vetoes one asset.
type recordingObserver struct {
	vetoAsset string

	checked  []domain.Order
	placed   []domain.Order
	canceled []int64
}

func (o *recordingObserver) OrderAdmissible(order domain.Order) error {
	o.checked = append(o.checked, order)
	if order.Asset == o.vetoAsset {
		return fmt.Errorf("trading in %s is halted", order.Asset)
	}
	return nil
}

func (o *recordingObserver) OrderPlaced(order domain.Order, now domain.Tick) {
	o.placed = append(o.placed, order)
}

func (o *recordingObserver) OrderCanceled(orderID int64, now domain.Tick) {
	o.canceled = append(o.canceled, orderID)
}

func TestOrderObserverSeesLifecycle(t *testing.T) {
	sim := NewABM()
	observer := &recordingObserver{}
	sim.SetOrderObserver(observer)

	agent := &scriptAgent{}
	agent.policy = func(a *scriptAgent, obs domain.Observation) domain.Action {
		switch obs.Time {
		case 0:
			return domain.Place(domain.Order{
				Asset: "FOOD", Side: domain.SideSell, Type: domain.OrdTypeLimit,
				Price: 100, Qty: 1,
			})
		case 1:
			return domain.Cancel(a.placedIDs[0])
		}
		return domain.Action{}
	}
	sim.AddAgent(agent)

	sim.SimStep()
	sim.SimStep()

	require.Len(t, observer.checked, 1)
	require.Len(t, observer.placed, 1)
	assert.Equal(t, agent.placedIDs[0], observer.placed[0].OrdID)
	assert.Equal(t, agent.TraderID(), observer.placed[0].TraderID)
	require.Len(t, observer.canceled, 1)
	assert.Equal(t, agent.placedIDs[0], observer.canceled[0])
}

func TestOrderObserverVetoBlocksPlacement(t *testing.T) {
	sim := NewABM()
	observer := &recordingObserver{vetoAsset: "GOLD"}
	sim.SetOrderObserver(observer)

	agent := &scriptAgent{policy: buyLimitOnTickZero("GOLD", 10)}
	sim.AddAgent(agent)

	sim.SimStep()

	assert.Empty(t, agent.placedIDs, "a vetoed order never reaches the agent as placed")
	assert.Empty(t, observer.placed)
	assert.Empty(t, sim.GetLatestObservation().AssetOrderDepths["GOLD"].BidBins)

	// The book for the asset still exists; only the order was refused.
	assert.Equal(t, []string{"GOLD"}, sim.Assets())
}

func TestOrderObserverSeesLastWillCancel(t *testing.T) {
	sim := NewABM()
	observer := &recordingObserver{}
	sim.SetOrderObserver(observer)

	leaver := &scriptAgent{policy: buyLimitOnTickZero("FOOD", 10)}
	leaver.lastWill = func(a *scriptAgent, obs domain.Observation) domain.Action {
		return domain.Cancel(a.placedIDs[0])
	}
	leaverID := sim.AddAgent(leaver)

	sim.SimStep()
	sim.RemoveAgents(keepAllBut{doomed: leaverID})

	require.Len(t, observer.canceled, 1)
	assert.Equal(t, leaver.placedIDs[0], observer.canceled[0])
}

func TestRejectedPlacementDoesNotFireOrderPlaced(t *testing.T) {
	sim := NewABM()

	agent := &scriptAgent{policy: func(a *scriptAgent, obs domain.Observation) domain.Action {
		if obs.Time == 0 {
			return domain.Place(domain.Order{
				Asset: "FOOD",
				Side:  domain.SideBuy,
				Type:  domain.OrdTypeLimit,
				Price: 0, // invalid
				Qty:   1,
			})
		}
		return domain.Action{}
	}}
	sim.AddAgent(agent)

	sim.SimStep()

	assert.Empty(t, agent.placedIDs)
	assert.Empty(t, sim.GetLatestObservation().AssetOrderDepths["FOOD"].BidBins)
}
