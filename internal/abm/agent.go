package abm

import "github.com/jacobstahl/agent-exchange/internal/domain"

// Agent is the contract the simulation consumes. Policy must be a pure
// function of the observation plus agent-local state and must not block.
// The callbacks default to no-ops on BaseAgent; embed it and override what
// you need.
type Agent interface {
	TraderID() int64
	SetTraderID(id int64)

	// Policy decides this tick's action from the shared observation.
	Policy(observation domain.Observation) domain.Action

	// MatchFound is delivered in a batch at end of tick, once per match the
	// agent participated in.
	MatchFound(match domain.Match, now domain.Tick)

	// OrderPlaced is delivered synchronously during the agent's turn with
	// the authoritative order id.
	OrderPlaced(orderID int64, now domain.Tick)

	// OrderCanceled is delivered synchronously during the agent's turn.
	OrderCanceled(orderID int64, now domain.Tick)

	// LastWill runs once before the agent is removed. It may cancel an
	// order; placements in the final action are ignored.
	LastWill(observation domain.Observation) domain.Action
}

// AgentSelector decides which agents survive a RemoveAgents pass.
type AgentSelector interface {
	KeepThis(agent Agent) bool
}

// BaseAgent carries the trader id and no-op defaults for every callback.
type BaseAgent struct {
	traderID int64
}

func (a *BaseAgent) TraderID() int64      { return a.traderID }
func (a *BaseAgent) SetTraderID(id int64) { a.traderID = id }

func (a *BaseAgent) Policy(domain.Observation) domain.Action { return domain.Action{} }

func (a *BaseAgent) MatchFound(domain.Match, domain.Tick) {}

func (a *BaseAgent) OrderPlaced(int64, domain.Tick) {}

func (a *BaseAgent) OrderCanceled(int64, domain.Tick) {}

func (a *BaseAgent) LastWill(domain.Observation) domain.Action { return domain.Action{} }
