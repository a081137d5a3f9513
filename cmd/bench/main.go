package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/jacobstahl/agent-exchange/internal/domain"
	"github.com/jacobstahl/agent-exchange/internal/matcher"
	"github.com/jacobstahl/agent-exchange/internal/notify"
)

// orderFactory generates a random order stream: normally distributed limit
// prices around a mid, buys shaded below and sells above.
type orderFactory struct {
	rng          *rand.Rand
	nextID       int64
	basePrice    float64
	priceStddev  float64
	spreadFactor float64
	maxQty       int64
	marketWeight float64
	stopWeight   float64
	asset        string
}

func (f *orderFactory) newOrder(side domain.Side, ordType domain.OrdType, qty, price, stopPrice int64) domain.Order {
	f.nextID++
	return domain.Order{
		TraderID:  f.nextID,
		OrdID:     f.nextID,
		Asset:     f.asset,
		Side:      side,
		Type:      ordType,
		Qty:       qty,
		Price:     price,
		StopPrice: stopPrice,
	}
}

func (f *orderFactory) randomOrder() domain.Order {
	side := domain.SideBuy
	if f.rng.Intn(2) == 1 {
		side = domain.SideSell
	}

	ordType := domain.OrdTypeLimit
	roll := f.rng.Float64()
	if roll < f.marketWeight {
		ordType = domain.OrdTypeMarket
	} else if roll < f.marketWeight+f.stopWeight {
		ordType = domain.OrdTypeStop
	}

	qty := 1 + f.rng.Int63n(f.maxQty)
	price := f.basePrice + f.rng.NormFloat64()*f.priceStddev
	stopOffset := 30 + f.rng.NormFloat64()*10

	var stopPrice float64
	switch side {
	case domain.SideBuy:
		price -= f.spreadFactor
		stopPrice = price + stopOffset
	case domain.SideSell:
		price += f.spreadFactor
		stopPrice = price - stopOffset
	}
	if price < 1 {
		price = 1
	}
	if stopPrice < 1 {
		stopPrice = 1
	}

	return f.newOrder(side, ordType, qty, int64(price), int64(stopPrice))
}

func main() {
	numOrders := flag.Int("orders", 5_000_000, "number of orders to submit")
	basePrice := flag.Float64("base-price", 1000, "mid price for the random price distribution")
	priceStddev := flag.Float64("price-stddev", 100, "price distribution standard deviation")
	spread := flag.Float64("spread", 10, "half-spread applied to generated limit prices")
	maxQty := flag.Int64("max-qty", 100, "maximum order quantity")
	marketWeight := flag.Float64("market-weight", 0.5, "fraction of orders that are market orders")
	stopWeight := flag.Float64("stop-weight", 0, "fraction of orders that are stop orders")
	cancelEvery := flag.Int("cancel-every", 0, "cancel a random earlier order every N submissions")
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed for the deterministic random stream")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	factory := &orderFactory{
		rng:          rng,
		basePrice:    *basePrice,
		priceStddev:  *priceStddev,
		spreadFactor: *spread,
		maxQty:       *maxQty,
		marketWeight: *marketWeight,
		stopWeight:   *stopWeight,
		asset:        "BENCH",
	}

	orders := make([]domain.Order, 0, *numOrders)
	for i := 0; i < *numOrders; i++ {
		orders = append(orders, factory.randomOrder())
	}
	fmt.Println("Generated orders. Running benchmark...")

	notifier := notify.NewInMemoryNotifier()
	m := matcher.NewMatcher("BENCH", notifier)

	start := time.Now()
	lastPrint := start
	processed := 0

	for i := range orders {
		m.AddOrder(orders[i], true)
		processed++

		if *cancelEvery > 0 && i > 0 && i%*cancelEvery == 0 {
			m.CancelOrder(orders[rng.Intn(i)].OrdID)
		}

		if now := time.Now(); now.Sub(lastPrint) >= time.Second {
			printProgress(m, notifier, processed)
			lastPrint = now
		}
	}
	elapsed := time.Since(start)

	fmt.Println("Done!")
	fmt.Printf("Processed %d orders in %s (%.0f orders/sec)\n",
		processed, elapsed, float64(processed)/elapsed.Seconds())
	fmt.Printf("Matches found: %d\n", len(notifier.Matches))
	fmt.Printf("Orders rejected: %d\n", len(notifier.PlacementFailedOrders))
}

func printProgress(m *matcher.Matcher, notifier *notify.InMemoryNotifier, processed int) {
	counts := m.GetOrderCounts()
	spread := m.GetSpread()

	fmt.Printf("%d orders processed | MARKET:%d LIMIT:%d STOP:%d STOPLIMIT:%d | Matches found:%d | Spread:",
		processed,
		counts[domain.OrdTypeMarket],
		counts[domain.OrdTypeLimit],
		counts[domain.OrdTypeStop],
		counts[domain.OrdTypeStopLimit],
		len(notifier.Matches),
	)
	if spread.BidsMissing {
		fmt.Printf(" bidsMissing")
	} else {
		fmt.Printf(" highestBid:%d", spread.HighestBid)
	}
	if spread.AsksMissing {
		fmt.Printf(" asksMissing")
	} else {
		fmt.Printf(" lowestAsk:%d", spread.LowestAsk)
	}
	fmt.Println()
}
