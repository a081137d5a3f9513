package abm

import (
	"sort"

	"github.com/jacobstahl/agent-exchange/internal/domain"
	"github.com/jacobstahl/agent-exchange/internal/matcher"
	"github.com/jacobstahl/agent-exchange/internal/notify"
)

// MatchListener observes every match delivered during a tick, once per
// match. Market data consumers hang off this hook.
type MatchListener func(match domain.Match, now domain.Tick)

// OrderObserver is an optional hook that sees the lifecycle of every order
// the simulation dispatches. A non-nil error from OrderAdmissible vetoes
// the placement before it reaches a matcher: the order is reported as a
// failed placement and the agent gets no OrderPlaced callback. The broker
// hangs off this hook to earmark funds for open orders.
type OrderObserver interface {
	OrderAdmissible(order domain.Order) error
	OrderPlaced(order domain.Order, now domain.Tick)
	OrderCanceled(orderID int64, now domain.Tick)
}

// ABM drives a population of trading agents against per-asset matchers in
// discrete ticks. Single-threaded and deterministic: a SimStep runs to
// completion before the next begins, agents act in insertion order, and
// matchers are created lazily the first time an order mentions an asset.
type ABM struct {
	agents []Agent

	tickCounter  domain.Tick
	nextTraderID int64
	nextOrderID  int64

	orderMatchers map[string]*matcher.Matcher
	notifier      *notify.InMemoryNotifier

	latestObservation domain.Observation

	matchListeners []MatchListener
	orderObserver  OrderObserver
}

// NewABM creates an empty simulation.
func NewABM() *ABM {
	return &ABM{
		nextTraderID:  1,
		orderMatchers: make(map[string]*matcher.Matcher),
		notifier:      notify.NewInMemoryNotifier(),
		latestObservation: domain.Observation{
			AssetSpreads:     make(map[string]domain.Spread),
			AssetOrderDepths: make(map[string]domain.Depth),
		},
	}
}

// AddMatchListener registers an observer for delivered matches.
func (a *ABM) AddMatchListener(listener MatchListener) {
	a.matchListeners = append(a.matchListeners, listener)
}

// SetOrderObserver installs the order lifecycle hook. Without one, every
// order is admissible.
func (a *ABM) SetOrderObserver(observer OrderObserver) {
	a.orderObserver = observer
}

// AddAgent assigns a fresh trader id (monotone from 1), stores the agent
// and returns the assigned id.
func (a *ABM) AddAgent(agent Agent) int64 {
	id := a.nextTraderID
	a.nextTraderID++
	agent.SetTraderID(id)
	a.agents = append(a.agents, agent)
	return id
}

// GetNumAgents returns the current population size.
func (a *ABM) GetNumAgents() int {
	return len(a.agents)
}

// GetLatestObservation returns the cached observation.
func (a *ABM) GetLatestObservation() domain.Observation {
	return a.latestObservation
}

// RemoveAgents drops every agent the selector rejects. Each doomed agent's
// LastWill runs first; a final cancel is honored across every matcher, a
// final placement is not.
func (a *ABM) RemoveAgents(selector AgentSelector) {
	kept := a.agents[:0]
	for _, agent := range a.agents {
		if selector.KeepThis(agent) {
			kept = append(kept, agent)
			continue
		}

		finalAction := agent.LastWill(a.latestObservation)
		if finalAction.CancelOrder {
			a.cancelOrderWithAllMatchers(finalAction.DoomedOrderID)
			if a.orderObserver != nil {
				a.orderObserver.OrderCanceled(finalAction.DoomedOrderID, a.tickCounter)
			}
		}
	}
	a.agents = kept
}

// observe refreshes the cached observation from every matcher.
func (a *ABM) observe() {
	a.latestObservation.Time = a.tickCounter
	for asset, m := range a.orderMatchers {
		a.latestObservation.AssetSpreads[asset] = m.GetSpread()
		a.latestObservation.AssetOrderDepths[asset] = m.GetDepth()
	}
}

func (a *ABM) addMatcherIfNeeded(asset string) *matcher.Matcher {
	m, ok := a.orderMatchers[asset]
	if !ok {
		m = matcher.NewMatcher(asset, a.notifier)
		a.orderMatchers[asset] = m
	}
	return m
}

func (a *ABM) cancelOrderWithAllMatchers(doomedOrderID int64) {
	for _, m := range a.orderMatchers {
		m.CancelOrder(doomedOrderID)
	}
}

// SimStep runs one tick: observe, let every agent act in insertion order
// (cancel before place within one action), route the accumulated matches
// to both counterparties, advance the tick and observe again.
func (a *ABM) SimStep() {
	a.observe()

	for _, agent := range a.agents {
		action := agent.Policy(a.latestObservation)

		if action.CancelOrder {
			a.cancelOrderWithAllMatchers(action.DoomedOrderID)
			if a.orderObserver != nil {
				a.orderObserver.OrderCanceled(action.DoomedOrderID, a.tickCounter)
			}
			agent.OrderCanceled(action.DoomedOrderID, a.tickCounter)
		}

		if action.PlaceOrder {
			order := action.Order
			a.nextOrderID++
			order.OrdID = a.nextOrderID
			order.TraderID = agent.TraderID()

			m := a.addMatcherIfNeeded(order.Asset)

			if a.orderObserver != nil {
				if err := a.orderObserver.OrderAdmissible(order); err != nil {
					a.notifier.NotifyOrderPlacementFailed(order, err.Error())
					a.notifier.PopPlacementFailedIf(order.OrdID)
					continue
				}
			}

			outcome := m.AddOrder(order, true)

			if outcome.Accepted {
				a.notifier.PopPlacedIf(order.OrdID)
				if a.orderObserver != nil {
					a.orderObserver.OrderPlaced(order, a.tickCounter)
				}
				agent.OrderPlaced(order.OrdID, a.tickCounter)
			} else {
				a.notifier.PopPlacementFailedIf(order.OrdID)
				// placement failure is not signalled to the agent
			}
		}
	}

	a.routeMatches(a.notifier.DrainMatches())
	a.tickCounter++
	a.observe()
}

// routeMatches delivers every match to its buyer and its seller. Agents and
// matches are sorted by trader id and walked with two pointers; a
// counterparty that no longer exists is skipped silently.
func (a *ABM) routeMatches(matches []domain.Match) {
	if len(matches) == 0 {
		return
	}

	sort.SliceStable(a.agents, func(i, j int) bool {
		return a.agents[i].TraderID() < a.agents[j].TraderID()
	})

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Buyer.TraderID < matches[j].Buyer.TraderID
	})
	agentIdx := 0
	for i := range matches {
		for agentIdx < len(a.agents) && a.agents[agentIdx].TraderID() < matches[i].Buyer.TraderID {
			agentIdx++
		}
		if agentIdx < len(a.agents) && a.agents[agentIdx].TraderID() == matches[i].Buyer.TraderID {
			a.agents[agentIdx].MatchFound(matches[i], a.tickCounter)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Seller.TraderID < matches[j].Seller.TraderID
	})
	agentIdx = 0
	for i := range matches {
		for agentIdx < len(a.agents) && a.agents[agentIdx].TraderID() < matches[i].Seller.TraderID {
			agentIdx++
		}
		if agentIdx < len(a.agents) && a.agents[agentIdx].TraderID() == matches[i].Seller.TraderID {
			a.agents[agentIdx].MatchFound(matches[i], a.tickCounter)
		}
	}

	for i := range matches {
		for _, listener := range a.matchListeners {
			listener(matches[i], a.tickCounter)
		}
	}
}

// Matcher returns the matcher for an asset, or nil if no order has
// mentioned it yet.
func (a *ABM) Matcher(asset string) *matcher.Matcher {
	return a.orderMatchers[asset]
}

// Assets returns the symbols with a live matcher, sorted.
func (a *ABM) Assets() []string {
	assets := make([]string, 0, len(a.orderMatchers))
	for asset := range a.orderMatchers {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// TickCounter returns the current tick.
func (a *ABM) TickCounter() domain.Tick {
	return a.tickCounter
}
