package domain

// Side represents the order side (buy or sell).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrdType represents the order type. Subset of FIX tag 40.
type OrdType string

const (
	OrdTypeMarket    OrdType = "market"
	OrdTypeLimit     OrdType = "limit"
	OrdTypeStop      OrdType = "stop"
	OrdTypeStopLimit OrdType = "stop_limit"
)

// Tick is a unit of simulated time, a monotone nonnegative counter.
type Tick uint64

// MaxDepthBins caps the number of aggregated price bins per book side.
const MaxDepthBins = 30

// Order is a single order as held by a matcher's book.
// Prices are in cents (int64) to avoid floating-point issues.
type Order struct {
	TraderID  int64   `json:"trader_id"`
	OrdID     int64   `json:"ord_id"`
	OrdNum    uint64  `json:"ord_num"` // matcher-assigned admission sequence
	Asset     string  `json:"asset"`
	Side      Side    `json:"side"`
	Type      OrdType `json:"type"`
	Qty       int64   `json:"qty"`
	Fill      int64   `json:"fill"`
	Price     int64   `json:"price"`      // required for limit and stop-limit
	StopPrice int64   `json:"stop_price"` // required for stop and stop-limit
}

// Unfilled returns the quantity still open on the order.
func (o *Order) Unfilled() int64 {
	return o.Qty - o.Fill
}

// CompletelyFilled reports whether the order has no open quantity left.
func (o *Order) CompletelyFilled() bool {
	return o.Fill == o.Qty
}

// Amt returns the total amount of the order in cents.
func (o *Order) Amt() int64 {
	return o.Qty * o.Price
}

// TreatAsMarket reports whether the order should execute as a market order
// against the current spread. A stop becomes a market order once the top of
// book crosses its stop price; until then it is dormant.
func (o *Order) TreatAsMarket(spread Spread) bool {
	switch o.Type {
	case OrdTypeMarket:
		return true
	case OrdTypeLimit, OrdTypeStopLimit:
		return false
	case OrdTypeStop:
		if o.Side == SideBuy {
			if spread.AsksMissing {
				return false
			}
			return spread.LowestAsk >= o.StopPrice
		}
		if spread.BidsMissing {
			return false
		}
		return spread.HighestBid <= o.StopPrice
	}
	return false
}

// TreatAsLimit reports whether the order should rest as a limit order
// against the current spread. A stop-limit becomes a limit once the top of
// book crosses its stop price.
func (o *Order) TreatAsLimit(spread Spread) bool {
	switch o.Type {
	case OrdTypeMarket, OrdTypeStop:
		return false
	case OrdTypeLimit:
		return true
	case OrdTypeStopLimit:
		if o.Side == SideBuy {
			if spread.AsksMissing {
				return false
			}
			return spread.LowestAsk >= o.StopPrice
		}
		if spread.BidsMissing {
			return false
		}
		return spread.HighestBid <= o.StopPrice
	}
	return false
}

// Spread summarizes the top of book. Price fields are defined only when the
// corresponding missing flag is false.
type Spread struct {
	BidsMissing bool  `json:"bids_missing"`
	AsksMissing bool  `json:"asks_missing"`
	HighestBid  int64 `json:"highest_bid"`
	LowestAsk   int64 `json:"lowest_ask"`
}

// Empty reports whether both sides of the book are missing.
func (s Spread) Empty() bool {
	return s.BidsMissing && s.AsksMissing
}

// PriceBin is one aggregated price level in a depth snapshot.
type PriceBin struct {
	Price    int64 `json:"price"`
	TotalQty int64 `json:"total_qty"` // cumulative unfilled qty from top of book
}

// Depth is an aggregated order book snapshot: bid bins sorted descending,
// ask bins ascending, each capped at MaxDepthBins.
type Depth struct {
	BidBins []PriceBin `json:"bid_bins"`
	AskBins []PriceBin `json:"ask_bins"`
}

// Match pairs a buyer and a seller for one fill increment.
type Match struct {
	Buyer  Order `json:"buyer"`
	Seller Order `json:"seller"`
	Qty    int64 `json:"qty"`
}

// ExecPrice returns the price this match executed at: the resting limit
// side sets the price, the market side pays it.
func (m *Match) ExecPrice() int64 {
	if m.Buyer.Type == OrdTypeLimit || m.Buyer.Type == OrdTypeStopLimit {
		return m.Buyer.Price
	}
	return m.Seller.Price
}

// Action is what an agent wants done on its turn. Both a placement and a
// cancellation may be set; the cancel executes first.
type Action struct {
	PlaceOrder    bool
	Order         Order
	CancelOrder   bool
	DoomedOrderID int64
}

// Place builds an action that places the given order.
func Place(order Order) Action {
	return Action{PlaceOrder: true, Order: order}
}

// Cancel builds an action that cancels the given order id.
func Cancel(doomedOrderID int64) Action {
	return Action{CancelOrder: true, DoomedOrderID: doomedOrderID}
}

// Replace builds an action that cancels doomedOrderID and places order.
func Replace(order Order, doomedOrderID int64) Action {
	return Action{PlaceOrder: true, Order: order, CancelOrder: true, DoomedOrderID: doomedOrderID}
}

// Observation is the shared per-tick market snapshot handed to every agent.
type Observation struct {
	Time             Tick              `json:"time"`
	AssetSpreads     map[string]Spread `json:"asset_spreads"`
	AssetOrderDepths map[string]Depth  `json:"asset_order_depths"`
}
