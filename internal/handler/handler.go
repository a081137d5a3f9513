package handler

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jacobstahl/agent-exchange/internal/abm"
	"github.com/jacobstahl/agent-exchange/internal/agents"
	"github.com/jacobstahl/agent-exchange/internal/broker"
	"github.com/jacobstahl/agent-exchange/internal/domain"
	"github.com/jacobstahl/agent-exchange/internal/marketdata"
	"github.com/jacobstahl/agent-exchange/internal/middleware"
)

// Handler exposes the simulation over HTTP. All stepping and population
// changes are serialized through one mutex; the engine itself is
// single-threaded.
type Handler struct {
	mu        sync.Mutex
	sim       *abm.ABM
	publisher *marketdata.Publisher
	accounts  *broker.Broker
}

// NewHandler creates a Handler around a wired simulation.
func NewHandler(sim *abm.ABM, publisher *marketdata.Publisher, accounts *broker.Broker) *Handler {
	return &Handler{
		sim:       sim,
		publisher: publisher,
		accounts:  accounts,
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/agents", h.AddAgent)
		v1.DELETE("/agents/:id", h.RemoveAgent)
		v1.GET("/agents", h.GetAgents)
		v1.POST("/sim/step", h.Step)
		v1.GET("/sim/observation", h.GetObservation)
		v1.GET("/marketdata/spread", h.GetSpread)
		v1.GET("/marketdata/depth", h.GetDepth)
		v1.GET("/marketdata/bars", h.GetBars)
		v1.GET("/marketdata/movingAverages", h.GetMovingAverages)
		v1.GET("/executions", h.GetExecutions)
		v1.GET("/accounts/:id", h.GetAccount)
		v1.POST("/accounts/:id/deposit", h.Deposit)
	}
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "agent-exchange",
	})
}

// AddAgentRequest is the request body for adding an agent to the
// simulation. Type selects the strategy; the other fields parameterize it.
type AddAgentRequest struct {
	Type  string `json:"type" binding:"required,oneof=consumer producer noise"`
	Asset string `json:"asset" binding:"required"`

	// consumer
	MaxPrice     int64  `json:"max_price"`
	AppetiteCoef uint64 `json:"appetite_coef"`

	// producer
	PreferredPrice int64 `json:"preferred_price"`

	// noise
	BasePrice   int64 `json:"base_price"`
	RangeTicks  int64 `json:"range_ticks"`
	MarketRatio int   `json:"market_ratio"`
	Seed        int64 `json:"seed"`

	// initial account funding
	CashCents int64 `json:"cash_cents"`
	Holding   int64 `json:"holding"`
}

// AddAgent handles POST /v1/agents.
func (h *Handler) AddAgent(c *gin.Context) {
	var req AddAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var agent abm.Agent
	switch req.Type {
	case "consumer":
		if req.MaxPrice < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_price must be at least 1 for a consumer"})
			return
		}
		agent = agents.NewConsumer(req.Asset, req.MaxPrice, domain.Tick(req.AppetiteCoef))
	case "producer":
		if req.PreferredPrice < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "preferred_price must be at least 1 for a producer"})
			return
		}
		agent = agents.NewProducer(req.Asset, req.PreferredPrice)
	case "noise":
		if req.BasePrice < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "base_price must be at least 1 for a noise trader"})
			return
		}
		agent = agents.NewNoiseTrader(req.Asset, req.BasePrice, req.RangeTicks, req.MarketRatio, req.Seed)
	}

	h.mu.Lock()
	traderID := h.sim.AddAgent(agent)
	middleware.AgentsGauge.Set(float64(h.sim.GetNumAgents()))
	h.mu.Unlock()

	if err := h.accounts.OpenAccount(traderID); err == nil {
		if req.CashCents > 0 {
			_ = h.accounts.DepositCash(traderID, req.CashCents)
		}
		if req.Holding > 0 {
			_ = h.accounts.DepositAsset(traderID, req.Asset, req.Holding)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"trader_id": traderID})
}

// dropByID removes exactly one trader id from the population.
type dropByID struct {
	doomed int64
}

func (s dropByID) KeepThis(agent abm.Agent) bool {
	return agent.TraderID() != s.doomed
}

// RemoveAgent handles DELETE /v1/agents/:id.
func (h *Handler) RemoveAgent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent id must be an integer"})
		return
	}

	h.mu.Lock()
	before := h.sim.GetNumAgents()
	h.sim.RemoveAgents(dropByID{doomed: id})
	after := h.sim.GetNumAgents()
	middleware.AgentsGauge.Set(float64(after))
	h.mu.Unlock()

	if before == after {
		c.JSON(http.StatusNotFound, gin.H{"error": "no agent with that id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

// GetAgents handles GET /v1/agents.
func (h *Handler) GetAgents(c *gin.Context) {
	h.mu.Lock()
	num := h.sim.GetNumAgents()
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"num_agents": num})
}

// StepRequest asks for a number of simulation steps.
type StepRequest struct {
	Steps int `json:"steps" binding:"required,gt=0,lte=100000"`
}

// Step handles POST /v1/sim/step.
func (h *Handler) Step(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	for i := 0; i < req.Steps; i++ {
		start := time.Now()
		h.sim.SimStep()
		middleware.SimStepDuration.Observe(time.Since(start).Seconds())
		middleware.SimSteps.Inc()
	}
	middleware.SimTick.Set(float64(h.sim.TickCounter()))
	obs := h.sim.GetLatestObservation()
	for asset, depth := range obs.AssetOrderDepths {
		middleware.BookDepth.WithLabelValues(asset, "buy").Set(float64(len(depth.BidBins)))
		middleware.BookDepth.WithLabelValues(asset, "sell").Set(float64(len(depth.AskBins)))
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"tick": obs.Time})
}

// GetObservation handles GET /v1/sim/observation.
func (h *Handler) GetObservation(c *gin.Context) {
	h.mu.Lock()
	obs := h.sim.GetLatestObservation()
	h.mu.Unlock()
	c.JSON(http.StatusOK, obs)
}

// GetSpread handles GET /v1/marketdata/spread.
func (h *Handler) GetSpread(c *gin.Context) {
	asset := c.Query("asset")
	if asset == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset is required"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.sim.Matcher(asset)
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no market for asset"})
		return
	}
	c.JSON(http.StatusOK, m.GetSpread())
}

// GetDepth handles GET /v1/marketdata/depth.
func (h *Handler) GetDepth(c *gin.Context) {
	asset := c.Query("asset")
	if asset == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset is required"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.sim.Matcher(asset)
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no market for asset"})
		return
	}
	c.JSON(http.StatusOK, m.GetDepth())
}

// GetBars handles GET /v1/marketdata/bars.
func (h *Handler) GetBars(c *gin.Context) {
	asset := c.Query("asset")
	if asset == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset is required"})
		return
	}
	count := 20
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a positive integer"})
			return
		}
		count = parsed
	}

	bars := h.publisher.GetBars(asset, count)
	c.JSON(http.StatusOK, gin.H{"asset": asset, "bars": bars})
}

// GetMovingAverages handles GET /v1/marketdata/movingAverages.
func (h *Handler) GetMovingAverages(c *gin.Context) {
	asset := c.Query("asset")
	if asset == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset is required"})
		return
	}
	c.JSON(http.StatusOK, h.publisher.GetMovingAverages(asset))
}

// GetExecutions handles GET /v1/executions.
func (h *Handler) GetExecutions(c *gin.Context) {
	asset := c.Query("asset")
	var traderID int64
	if raw := c.Query("trader_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "trader_id must be an integer"})
			return
		}
		traderID = parsed
	}
	var since domain.Tick
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a nonnegative integer"})
			return
		}
		since = domain.Tick(parsed)
	}

	execs := h.publisher.GetExecutions(asset, traderID, since)
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

// GetAccount handles GET /v1/accounts/:id.
func (h *Handler) GetAccount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account id must be an integer"})
		return
	}

	account, err := h.accounts.GetAccount(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, account)
}

// DepositRequest funds an account with cash and/or an asset holding.
type DepositRequest struct {
	CashCents int64  `json:"cash_cents"`
	Asset     string `json:"asset"`
	Amount    int64  `json:"amount"`
}

// Deposit handles POST /v1/accounts/:id/deposit.
func (h *Handler) Deposit(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account id must be an integer"})
		return
	}
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.CashCents > 0 {
		if err := h.accounts.DepositCash(id, req.CashCents); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Amount > 0 {
		if req.Asset == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "asset is required for an asset deposit"})
			return
		}
		if err := h.accounts.DepositAsset(id, req.Asset, req.Amount); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	account, err := h.accounts.GetAccount(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, account)
}
