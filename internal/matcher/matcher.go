package matcher

import (
	"fmt"
	"log"
	"sort"

	"github.com/jacobstahl/agent-exchange/internal/domain"
	"github.com/jacobstahl/agent-exchange/internal/notify"
)

// Outcome is the admission result returned by AddOrder. The same outcome is
// mirrored into the notifier's placed / placement-failed streams.
type Outcome struct {
	Accepted bool
	OrdNum   uint64
	Reason   string
}

// Matcher processes orders for a single asset with price-time priority.
//
// Limit and stop-limit orders rest in per-price FIFO buckets; market and
// stop orders queue in admission order and are swept against the opposing
// limit book on every matching pass. Cancellation is lazy: canceled ids are
// swept out the next time a traversal touches them.
type Matcher struct {
	asset    string
	notifier notify.Notifier

	lastOrdNum uint64

	// price -> FIFO slice of limit and stop-limit orders at that price
	buyLimits  map[int64][]domain.Order
	sellLimits map[int64][]domain.Order

	// market and stop orders across both sides, in admission order
	marketOrders []domain.Order

	canceledOrderIDs map[int64]struct{}
}

// NewMatcher creates a matcher for one asset reporting into the notifier.
func NewMatcher(asset string, notifier notify.Notifier) *Matcher {
	return &Matcher{
		asset:            asset,
		notifier:         notifier,
		buyLimits:        make(map[int64][]domain.Order),
		sellLimits:       make(map[int64][]domain.Order),
		canceledOrderIDs: make(map[int64]struct{}),
	}
}

// Asset returns the symbol this matcher trades.
func (m *Matcher) Asset() string {
	return m.asset
}

// validateOrder checks an order at admission. Returns a human-readable
// rejection reason, or "" when the order is admissible.
func validateOrder(order *domain.Order) string {
	if order.Qty < 1 {
		return fmt.Sprintf("qty must be at least 1, got %d", order.Qty)
	}

	switch order.Type {
	case domain.OrdTypeMarket:
	case domain.OrdTypeLimit:
		if order.Price < 1 {
			return fmt.Sprintf("limit price must be at least 1, got %d", order.Price)
		}
	case domain.OrdTypeStop:
		if order.StopPrice < 1 {
			return fmt.Sprintf("stop price must be at least 1, got %d", order.StopPrice)
		}
	case domain.OrdTypeStopLimit:
		if order.StopPrice < 1 {
			return fmt.Sprintf("stop price must be at least 1, got %d", order.StopPrice)
		}
		if order.Price < 1 {
			return fmt.Sprintf("limit price must be at least 1, got %d", order.Price)
		}
		// A sell stop-limit arms when the bid drops to the stop, then tries
		// to sell at >= limit. A stop below the limit could never arm into a
		// valid sell; the buy case mirrors it.
		if order.Side == domain.SideSell && order.StopPrice < order.Price {
			return fmt.Sprintf("stop price %d below limit price %d on a sell", order.StopPrice, order.Price)
		}
		if order.Side == domain.SideBuy && order.StopPrice > order.Price {
			return fmt.Sprintf("stop price %d above limit price %d on a buy", order.StopPrice, order.Price)
		}
	default:
		return fmt.Sprintf("unknown order type %q", order.Type)
	}
	return ""
}

// AddOrder admits a new order: assigns its admission sequence number,
// validates it, parks it in the right container and notifies the outcome.
// When thenMatch is set the matcher immediately runs a match sweep.
func (m *Matcher) AddOrder(order domain.Order, thenMatch bool) Outcome {
	m.lastOrdNum++
	order.OrdNum = m.lastOrdNum

	if reason := validateOrder(&order); reason != "" {
		m.notifier.NotifyOrderPlacementFailed(order, reason)
		return Outcome{Accepted: false, Reason: reason}
	}

	switch order.Type {
	case domain.OrdTypeLimit, domain.OrdTypeStopLimit:
		m.pushBackLimitOrder(order)
	case domain.OrdTypeMarket, domain.OrdTypeStop:
		m.marketOrders = append(m.marketOrders, order)
	default:
		// validateOrder has already rejected anything else
		log.Printf("[matcher] %s: order type %q fell through dispatch", m.asset, order.Type)
	}

	m.notifier.NotifyOrderPlaced(order)

	if thenMatch {
		m.matchOrders()
	}
	return Outcome{Accepted: true, OrdNum: order.OrdNum}
}

// pushBackLimitOrder appends the order to its price bucket, FIFO.
func (m *Matcher) pushBackLimitOrder(order domain.Order) {
	if order.Side == domain.SideBuy {
		m.buyLimits[order.Price] = append(m.buyLimits[order.Price], order)
	} else {
		m.sellLimits[order.Price] = append(m.sellLimits[order.Price], order)
	}
}

// CancelOrder records an id to be swept lazily. Nothing is removed here;
// the id is dropped on the next traversal that touches its container.
// Canceling an unknown or already-filled id has no effect.
func (m *Matcher) CancelOrder(ordID int64) {
	m.canceledOrderIDs[ordID] = struct{}{}
}

func (m *Matcher) isCanceled(ordID int64) bool {
	_, ok := m.canceledOrderIDs[ordID]
	return ok
}

// matchOrders sweeps the market queue in admission order, filling each
// active order against the opposing limit book.
func (m *Matcher) matchOrders() {
	var remove []int

	for i := range m.marketOrders {
		order := &m.marketOrders[i]

		if m.isCanceled(order.OrdID) {
			delete(m.canceledOrderIDs, order.OrdID)
			remove = append(remove, i)
			continue
		}

		// Recompute from scratch: earlier market orders may have consumed
		// or exposed price levels.
		spread := m.GetSpread()
		if spread.Empty() {
			break
		}
		if order.Side == domain.SideBuy && spread.AsksMissing {
			continue
		}
		if order.Side == domain.SideSell && spread.BidsMissing {
			continue
		}
		if !order.TreatAsMarket(spread) {
			continue // dormant stop
		}

		if order.Side == domain.SideBuy {
			m.tryFillBuyMarket(order, spread)
		} else {
			m.tryFillSellMarket(order, spread)
		}

		if order.CompletelyFilled() {
			remove = append(remove, i)
		}
	}

	removeIdxs(&m.marketOrders, remove)
}

// tryFillBuyMarket fills a buy market order against the sell book from the
// lowest price upward.
func (m *Matcher) tryFillBuyMarket(order *domain.Order, spread domain.Spread) {
	prices := sortedPrices(m.sellLimits, false)
	for _, price := range prices {
		if order.CompletelyFilled() {
			return
		}
		m.matchLimits(order, spread, m.sellLimits, price)
	}
}

// tryFillSellMarket fills a sell market order against the buy book from the
// highest price downward.
func (m *Matcher) tryFillSellMarket(order *domain.Order, spread domain.Spread) {
	prices := sortedPrices(m.buyLimits, true)
	for _, price := range prices {
		if order.CompletelyFilled() {
			return
		}
		m.matchLimits(order, spread, m.buyLimits, price)
	}
}

// matchLimits consumes the FIFO bucket at the given price: canceled limits
// are swept out, dormant stop-limits skipped, the rest matched in admission
// order until the market order is filled. Empty buckets are pruned.
func (m *Matcher) matchLimits(marketOrd *domain.Order, spread domain.Spread, limits map[int64][]domain.Order, price int64) {
	bucket := limits[price]
	kept := bucket[:0]

	for i := range bucket {
		limit := &bucket[i]

		if m.isCanceled(limit.OrdID) {
			delete(m.canceledOrderIDs, limit.OrdID)
			continue
		}
		if !limit.TreatAsLimit(spread) {
			kept = append(kept, *limit) // dormant stop-limit
			continue
		}
		if marketOrd.CompletelyFilled() {
			kept = append(kept, *limit)
			continue
		}

		m.matchMarketAndLimit(marketOrd, limit)
		if !limit.CompletelyFilled() {
			kept = append(kept, *limit)
		}
	}

	if len(kept) == 0 {
		delete(limits, price)
	} else {
		limits[price] = kept
	}
}

// matchMarketAndLimit fills the smaller of the two open quantities and
// emits one match.
func (m *Matcher) matchMarketAndLimit(market, limit *domain.Order) {
	fillQty := market.Unfilled()
	if limit.Unfilled() < fillQty {
		fillQty = limit.Unfilled()
	}
	if fillQty <= 0 {
		panic(fmt.Sprintf("matcher %s: zero-qty match between ord %d and ord %d", m.asset, market.OrdID, limit.OrdID))
	}

	market.Fill += fillQty
	limit.Fill += fillQty

	match := domain.Match{Qty: fillQty}
	if market.Side == domain.SideBuy {
		match.Buyer = *market
		match.Seller = *limit
	} else {
		match.Buyer = *limit
		match.Seller = *market
	}
	m.notifier.NotifyOrderMatched(match)
}

// GetSpread scans for the first non-empty bucket from the high end of the
// buy book and the low end of the sell book. Canceled orders awaiting
// their lazy sweep do not count.
func (m *Matcher) GetSpread() domain.Spread {
	spread := domain.Spread{BidsMissing: true, AsksMissing: true}

	for price, bucket := range m.buyLimits {
		if !m.bucketHasLiveOrder(bucket) {
			continue
		}
		if spread.BidsMissing || price > spread.HighestBid {
			spread.BidsMissing = false
			spread.HighestBid = price
		}
	}
	for price, bucket := range m.sellLimits {
		if !m.bucketHasLiveOrder(bucket) {
			continue
		}
		if spread.AsksMissing || price < spread.LowestAsk {
			spread.AsksMissing = false
			spread.LowestAsk = price
		}
	}
	return spread
}

func (m *Matcher) bucketHasLiveOrder(bucket []domain.Order) bool {
	for i := range bucket {
		if bucket[i].Unfilled() > 0 && !m.isCanceled(bucket[i].OrdID) {
			return true
		}
	}
	return false
}

// GetDepth aggregates cumulative unfilled quantity per price level from the
// top of book, at most MaxDepthBins bins per side. Buckets whose open
// quantity is zero and canceled orders awaiting their sweep are skipped.
func (m *Matcher) GetDepth() domain.Depth {
	return domain.Depth{
		BidBins: m.depthBins(m.buyLimits, true),
		AskBins: m.depthBins(m.sellLimits, false),
	}
}

func (m *Matcher) depthBins(limits map[int64][]domain.Order, descending bool) []domain.PriceBin {
	prices := sortedPrices(limits, descending)

	bins := make([]domain.PriceBin, 0, domain.MaxDepthBins)
	var cum int64
	for _, price := range prices {
		var open int64
		for i := range limits[price] {
			if m.isCanceled(limits[price][i].OrdID) {
				continue
			}
			open += limits[price][i].Unfilled()
		}
		if open == 0 {
			continue
		}
		cum += open
		bins = append(bins, domain.PriceBin{Price: price, TotalQty: cum})
		if len(bins) == domain.MaxDepthBins {
			break
		}
	}
	return bins
}

// GetOrderCounts returns counts of live orders by type.
func (m *Matcher) GetOrderCounts() map[domain.OrdType]int {
	counts := make(map[domain.OrdType]int)
	var orders []domain.Order
	m.DumpOrdersTo(&orders)
	for i := range orders {
		counts[orders[i].Type]++
	}
	return counts
}

// DumpOrdersTo appends all live orders to the target slice: market queue
// first, then buy limits, then sell limits. Live means unfilled and not
// pending a cancel sweep. Orders within the limit books are grouped by
// price, not sorted by admission time.
func (m *Matcher) DumpOrdersTo(orders *[]domain.Order) {
	appendLive := func(order *domain.Order) {
		if order.Unfilled() > 0 && !m.isCanceled(order.OrdID) {
			*orders = append(*orders, *order)
		}
	}

	for i := range m.marketOrders {
		appendLive(&m.marketOrders[i])
	}
	for _, price := range sortedPrices(m.buyLimits, true) {
		bucket := m.buyLimits[price]
		for i := range bucket {
			appendLive(&bucket[i])
		}
	}
	for _, price := range sortedPrices(m.sellLimits, false) {
		bucket := m.sellLimits[price]
		for i := range bucket {
			appendLive(&bucket[i])
		}
	}
}

// sortedPrices returns the non-empty bucket prices, descending for the buy
// book and ascending for the sell book.
func sortedPrices(limits map[int64][]domain.Order, descending bool) []int64 {
	prices := make([]int64, 0, len(limits))
	for price, bucket := range limits {
		if len(bucket) > 0 {
			prices = append(prices, price)
		}
	}
	if descending {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}
	return prices
}

// removeIdxs removes the given ascending indices from the slice in one
// compaction pass.
func removeIdxs(orders *[]domain.Order, idxToRemove []int) {
	if len(idxToRemove) == 0 {
		return
	}

	vec := *orders
	write := 0
	prev := 0
	for _, remPos := range idxToRemove {
		if remPos >= len(vec) {
			break
		}
		for k := prev; k < remPos; k++ {
			vec[write] = vec[k]
			write++
		}
		prev = remPos + 1
	}
	for k := prev; k < len(vec); k++ {
		vec[write] = vec[k]
		write++
	}
	*orders = vec[:write]
}
