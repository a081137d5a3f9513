package broker

import (
	"fmt"
	"sync"

	"github.com/jacobstahl/agent-exchange/internal/domain"
)

// Account tracks a trader's cash balance and asset portfolio. Earmarks
// reserve funds held against open orders.
type Account struct {
	TraderID         int64            `json:"trader_id"`
	CashBalanceCents int64            `json:"cash_balance_cents"`
	Portfolio        map[string]int64 `json:"portfolio"` // asset -> quantity
	EarmarkedCash    int64            `json:"earmarked_cash"`
	EarmarkedAssets  map[string]int64 `json:"earmarked_assets"`
}

// TradableBalanceCents is the cash not reserved by open buy orders.
func (a *Account) TradableBalanceCents() int64 {
	return a.CashBalanceCents - a.EarmarkedCash
}

// TradableAssetAmount is the held amount not reserved by open sell orders.
func (a *Account) TradableAssetAmount(asset string) int64 {
	return a.Portfolio[asset] - a.EarmarkedAssets[asset]
}

func (a *Account) clone() *Account {
	portfolio := make(map[string]int64, len(a.Portfolio))
	for k, v := range a.Portfolio {
		portfolio[k] = v
	}
	earmarked := make(map[string]int64, len(a.EarmarkedAssets))
	for k, v := range a.EarmarkedAssets {
		earmarked[k] = v
	}
	return &Account{
		TraderID:         a.TraderID,
		CashBalanceCents: a.CashBalanceCents,
		Portfolio:        portfolio,
		EarmarkedCash:    a.EarmarkedCash,
		EarmarkedAssets:  earmarked,
	}
}

// orderEarmark is the funds one open order has reserved: cash for a buy
// limit, the asset itself for a sell.
type orderEarmark struct {
	traderID  int64
	cashCents int64
	asset     string
	assetQty  int64
}

// Broker manages trader accounts above the simulation: deposits,
// withdrawals, earmarks for open orders and settlement of delivered
// matches. It plugs into the simulation as its order observer and match
// listener; the engine core never depends on it.
type Broker struct {
	mu            sync.RWMutex
	accounts      map[int64]*Account
	orderEarmarks map[int64]*orderEarmark // order id -> reserved funds
}

// NewBroker creates a broker with no accounts.
func NewBroker() *Broker {
	return &Broker{
		accounts:      make(map[int64]*Account),
		orderEarmarks: make(map[int64]*orderEarmark),
	}
}

// OpenAccount creates an empty account for the trader.
func (b *Broker) OpenAccount(traderID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.accounts[traderID]; exists {
		return fmt.Errorf("account for trader %d already exists", traderID)
	}
	b.accounts[traderID] = &Account{
		TraderID:        traderID,
		Portfolio:       make(map[string]int64),
		EarmarkedAssets: make(map[string]int64),
	}
	return nil
}

// CloseAccount removes and returns the trader's account.
func (b *Broker) CloseAccount(traderID int64) (*Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	account, exists := b.accounts[traderID]
	if !exists {
		return nil, fmt.Errorf("account for trader %d does not exist", traderID)
	}
	delete(b.accounts, traderID)
	return account, nil
}

// GetAccount returns a copy of the trader's account.
func (b *Broker) GetAccount(traderID int64) (*Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	account, exists := b.accounts[traderID]
	if !exists {
		return nil, fmt.Errorf("account for trader %d does not exist", traderID)
	}
	return account.clone(), nil
}

// DepositCash credits the trader's cash balance.
func (b *Broker) DepositCash(traderID, amountCents int64) error {
	if amountCents < 0 {
		return fmt.Errorf("deposit amount must be nonnegative, got %d", amountCents)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	account, exists := b.accounts[traderID]
	if !exists {
		return fmt.Errorf("account for trader %d does not exist", traderID)
	}
	account.CashBalanceCents += amountCents
	return nil
}

// WithdrawCash debits the trader's tradable cash balance.
func (b *Broker) WithdrawCash(traderID, amountCents int64) error {
	if amountCents < 0 {
		return fmt.Errorf("withdrawal amount must be nonnegative, got %d", amountCents)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	account, exists := b.accounts[traderID]
	if !exists {
		return fmt.Errorf("account for trader %d does not exist", traderID)
	}
	if account.TradableBalanceCents() < amountCents {
		return fmt.Errorf("trader %d has %d tradable cents, cannot withdraw %d",
			traderID, account.TradableBalanceCents(), amountCents)
	}
	account.CashBalanceCents -= amountCents
	return nil
}

// DepositAsset credits the trader's portfolio.
func (b *Broker) DepositAsset(traderID int64, asset string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("deposit amount must be nonnegative, got %d", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	account, exists := b.accounts[traderID]
	if !exists {
		return fmt.Errorf("account for trader %d does not exist", traderID)
	}
	account.Portfolio[asset] += amount
	return nil
}

// WithdrawAsset debits the trader's tradable holding of the asset.
func (b *Broker) WithdrawAsset(traderID int64, asset string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("withdrawal amount must be nonnegative, got %d", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	account, exists := b.accounts[traderID]
	if !exists {
		return fmt.Errorf("account for trader %d does not exist", traderID)
	}
	if account.TradableAssetAmount(asset) < amount {
		return fmt.Errorf("trader %d has %d tradable %s, cannot withdraw %d",
			traderID, account.TradableAssetAmount(asset), asset, amount)
	}
	account.Portfolio[asset] -= amount
	if account.Portfolio[asset] == 0 {
		delete(account.Portfolio, asset)
	}
	return nil
}

// OrderAdmissible checks an order against the trader's tradable funds
// before the simulation admits it. Buy limits must be covered by tradable
// cash at their limit price, sells by the tradable holding. A market buy
// has no admission price to check against and is admitted as-is (see
// DESIGN.md).
func (b *Broker) OrderAdmissible(order domain.Order) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	account, exists := b.accounts[order.TraderID]
	if !exists {
		return fmt.Errorf("trader %d has no account", order.TraderID)
	}

	switch order.Side {
	case domain.SideBuy:
		if order.Type != domain.OrdTypeLimit && order.Type != domain.OrdTypeStopLimit {
			return nil
		}
		cost := order.Price * order.Qty
		if account.TradableBalanceCents() < cost {
			return fmt.Errorf("trader %d has %d tradable cents, order needs %d",
				order.TraderID, account.TradableBalanceCents(), cost)
		}
	case domain.SideSell:
		if account.TradableAssetAmount(order.Asset) < order.Qty {
			return fmt.Errorf("trader %d has %d tradable %s, order needs %d",
				order.TraderID, account.TradableAssetAmount(order.Asset), order.Asset, order.Qty)
		}
	}
	return nil
}

// OrderPlaced earmarks the funds an admitted order holds open: limit-price
// cash for a buy limit, the quantity itself for a sell. The earmark shrinks
// as the order fills and is released when it is canceled.
func (b *Broker) OrderPlaced(order domain.Order, now domain.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	account, exists := b.accounts[order.TraderID]
	if !exists {
		return
	}

	em := &orderEarmark{traderID: order.TraderID}
	switch order.Side {
	case domain.SideBuy:
		if order.Type != domain.OrdTypeLimit && order.Type != domain.OrdTypeStopLimit {
			return
		}
		em.cashCents = order.Price * order.Qty
		account.EarmarkedCash += em.cashCents
	case domain.SideSell:
		em.asset = order.Asset
		em.assetQty = order.Qty
		account.EarmarkedAssets[order.Asset] += em.assetQty
	}
	b.orderEarmarks[order.OrdID] = em
}

// OrderCanceled releases whatever the canceled order still has earmarked.
// Unknown or already-settled ids are a no-op.
func (b *Broker) OrderCanceled(orderID int64, now domain.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	em, exists := b.orderEarmarks[orderID]
	if !exists {
		return
	}
	delete(b.orderEarmarks, orderID)

	account, exists := b.accounts[em.traderID]
	if !exists {
		return
	}
	account.EarmarkedCash -= em.cashCents
	if account.EarmarkedCash < 0 {
		account.EarmarkedCash = 0
	}
	if em.assetQty > 0 {
		account.EarmarkedAssets[em.asset] -= em.assetQty
		if account.EarmarkedAssets[em.asset] <= 0 {
			delete(account.EarmarkedAssets, em.asset)
		}
	}
}

// OnMatch settles one delivered match: the buyer pays cash and receives
// the asset, the seller the reverse, and each side's earmark shrinks by
// the settled amount. Traders without an account are skipped; the
// simulation does not require every agent to be funded.
func (b *Broker) OnMatch(match domain.Match, now domain.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cost := match.ExecPrice() * match.Qty
	asset := match.Buyer.Asset

	if buyer, ok := b.accounts[match.Buyer.TraderID]; ok {
		buyer.CashBalanceCents -= cost
		buyer.Portfolio[asset] += match.Qty
		b.consumeCashEarmark(buyer, match.Buyer.OrdID, cost)
	}
	if seller, ok := b.accounts[match.Seller.TraderID]; ok {
		seller.CashBalanceCents += cost
		seller.Portfolio[asset] -= match.Qty
		if seller.Portfolio[asset] == 0 {
			delete(seller.Portfolio, asset)
		}
		b.consumeAssetEarmark(seller, match.Seller.OrdID, asset, match.Qty)
	}
}

func (b *Broker) consumeCashEarmark(account *Account, ordID, cost int64) {
	em, exists := b.orderEarmarks[ordID]
	if !exists || em.cashCents == 0 {
		return
	}
	if cost > em.cashCents {
		cost = em.cashCents
	}
	em.cashCents -= cost
	account.EarmarkedCash -= cost
	if account.EarmarkedCash < 0 {
		account.EarmarkedCash = 0
	}
	if em.cashCents == 0 {
		delete(b.orderEarmarks, ordID)
	}
}

func (b *Broker) consumeAssetEarmark(account *Account, ordID int64, asset string, qty int64) {
	em, exists := b.orderEarmarks[ordID]
	if !exists || em.assetQty == 0 {
		return
	}
	if qty > em.assetQty {
		qty = em.assetQty
	}
	em.assetQty -= qty
	account.EarmarkedAssets[asset] -= qty
	if account.EarmarkedAssets[asset] <= 0 {
		delete(account.EarmarkedAssets, asset)
	}
	if em.assetQty == 0 {
		delete(b.orderEarmarks, ordID)
	}
}

// EndTradingDay resets the earmarks on every account and forgets the open
// orders that held them.
func (b *Broker) EndTradingDay() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, account := range b.accounts {
		account.EarmarkedCash = 0
		account.EarmarkedAssets = make(map[string]int64)
	}
	b.orderEarmarks = make(map[int64]*orderEarmark)
}

// NumAccounts returns the number of open accounts.
func (b *Broker) NumAccounts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.accounts)
}
