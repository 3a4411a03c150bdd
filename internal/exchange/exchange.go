package exchange

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xtrntr/wattex/internal/ledger"
	"github.com/xtrntr/wattex/internal/models"
	"github.com/xtrntr/wattex/internal/orderbook"
	"github.com/xtrntr/wattex/internal/stats"
)

// TradeSink receives every settled trade, in execution order, while the
// exchange lock is held. Implementations must not call back into the exchange.
type TradeSink interface {
	RecordTrade(models.Trade)
}

// Observer is notified of order lifecycle events
type Observer interface {
	OrderPlaced(models.Order)
	OrderRejected(err error)
	OrderCancelled(o models.Order, reason string)
	OrderExpired(models.Order)
	TradeSettled(models.Trade)
}

// Cancellation reasons reported to observers
const (
	ReasonUser         = "user"
	ReasonInsufficient = "insufficient_funds"
	ReasonMatchFailed  = "match_failed"
)

// OrderRequest is a request to place a limit order
type OrderRequest struct {
	Account   string
	Side      models.Side
	Quantity  uint64
	Price     uint64
	ExpiresAt *time.Time
}

// Placement is the outcome of PlaceOrder: the placed order in its final
// state, the trades it produced, and the resting orders those trades or
// insolvency cancellations changed.
type Placement struct {
	Order   models.Order
	Trades  []models.Trade
	Updated []models.Order
}

// Exchange manages the order book and matching engine for one market.
// A single mutex serializes placement, matching and cancellation.
type Exchange struct {
	mu           sync.Mutex
	cfg          models.MarketConfig
	ledger       *ledger.Ledger
	book         *orderbook.OrderBook
	orders       map[string]*models.Order
	trades       []models.Trade
	participants map[string]models.Participant
	operators    map[string]bool
	// expired since the last SweepExpired, whichever path expired them
	expired []models.Order

	feeFactors FeeFactorsFunc
	sinks      []TradeSink
	observer   Observer
	log        *zap.Logger
	now        func() time.Time
	newID      func() string
}

// Option configures an Exchange
type Option func(*Exchange)

// WithLogger sets the logger; the default discards everything
func WithLogger(l *zap.Logger) Option { return func(e *Exchange) { e.log = l } }

// WithClock replaces time.Now as the source of order and trade timestamps
func WithClock(now func() time.Time) Option { return func(e *Exchange) { e.now = now } }

// WithIDGenerator replaces the UUIDv7 generator for order and trade ids
func WithIDGenerator(f func() string) Option { return func(e *Exchange) { e.newID = f } }

// WithTradeSink adds a sink that receives every settled trade
func WithTradeSink(s TradeSink) Option { return func(e *Exchange) { e.sinks = append(e.sinks, s) } }

// WithObserver sets the observer notified of order and trade events
func WithObserver(o Observer) Option { return func(e *Exchange) { e.observer = o } }

// WithFeeFactors sets the per-pair distance and congestion fee multipliers
func WithFeeFactors(f FeeFactorsFunc) Option { return func(e *Exchange) { e.feeFactors = f } }

// WithOperators grants accounts the right to change market configuration
// and to trade while the market is closed.
func WithOperators(accounts ...string) Option {
	return func(e *Exchange) {
		for _, a := range accounts {
			e.operators[a] = true
		}
	}
}

// NewExchange creates a new exchange settling against l
func NewExchange(cfg models.MarketConfig, l *ledger.Ledger, opts ...Option) (*Exchange, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	e := &Exchange{
		cfg:          cfg,
		ledger:       l,
		book:         orderbook.New(),
		orders:       make(map[string]*models.Order),
		participants: make(map[string]models.Participant),
		operators:    make(map[string]bool),
		log:          zap.NewNop(),
		now:          time.Now,
		newID:        newUUID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func validateConfig(cfg models.MarketConfig) error {
	if cfg.FeeRateBps > 10000 {
		return fmt.Errorf("fee rate %d bps: %w", cfg.FeeRateBps, models.ErrInvalidAmount)
	}
	if cfg.MaxOrderSize != 0 && cfg.MinOrderSize > cfg.MaxOrderSize {
		return fmt.Errorf("order size bounds %d..%d: %w", cfg.MinOrderSize, cfg.MaxOrderSize, models.ErrOrderSizeOutOfBounds)
	}
	if cfg.MaxPrice != 0 && cfg.MinPrice > cfg.MaxPrice {
		return fmt.Errorf("price bounds %d..%d: %w", cfg.MinPrice, cfg.MaxPrice, models.ErrPriceOutOfBounds)
	}
	if cfg.FeeSink == "" {
		return fmt.Errorf("fee sink: %w", models.ErrInvalidAccount)
	}
	return nil
}

// Ledger returns the token ledger the exchange settles against
func (e *Exchange) Ledger() *ledger.Ledger {
	return e.ledger
}

// PlaceOrder validates the request, adds the order to the book and matches
// it. Orders cancelled for insufficient funds during matching do not fail
// the placement.
func (e *Exchange) PlaceOrder(req OrderRequest) (Placement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.expireLocked(now)

	if err := e.validateLocked(req, now); err != nil {
		e.log.Info("order rejected", zap.String("account", req.Account), zap.String("side", string(req.Side)), zap.Error(err))
		if e.observer != nil {
			e.observer.OrderRejected(err)
		}
		return Placement{}, err
	}

	order := &models.Order{
		ID:        e.newID(),
		Owner:     req.Account,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    models.OrderPending,
		CreatedAt: now,
		ExpiresAt: req.ExpiresAt,
	}
	if order.ExpiresAt == nil && e.cfg.OrderTTL > 0 {
		exp := now.Add(e.cfg.OrderTTL)
		order.ExpiresAt = &exp
	}
	if err := e.book.Insert(order); err != nil {
		return Placement{}, err
	}
	e.orders[order.ID] = order

	e.log.Debug("order placed",
		zap.String("order_id", order.ID),
		zap.String("account", order.Owner),
		zap.String("side", string(order.Side)),
		zap.Uint64("quantity", order.Quantity),
		zap.Uint64("price", order.Price))
	if e.observer != nil {
		e.observer.OrderPlaced(*order)
	}

	var p Placement
	touched := make(map[string]struct{})
	err := e.matchLocked(order.ID, &p, touched)

	p.Order = *order
	for id := range touched {
		if id != order.ID {
			p.Updated = append(p.Updated, *e.orders[id])
		}
	}
	sort.Slice(p.Updated, func(i, j int) bool { return p.Updated[i].ID < p.Updated[j].ID })
	return p, err
}

func (e *Exchange) validateLocked(req OrderRequest, now time.Time) error {
	if !e.cfg.Open && !e.operators[req.Account] {
		return models.ErrMarketClosed
	}
	if p, ok := e.participants[req.Account]; !ok || !p.Active {
		return fmt.Errorf("account %q is not a registered participant: %w", req.Account, models.ErrInvalidAccount)
	}
	if !req.Side.Valid() {
		return models.ErrInvalidSide
	}
	if req.Quantity == 0 || req.Price == 0 {
		return fmt.Errorf("quantity and price must be positive: %w", models.ErrInvalidAmount)
	}
	if req.Quantity < e.cfg.MinOrderSize || (e.cfg.MaxOrderSize != 0 && req.Quantity > e.cfg.MaxOrderSize) {
		return fmt.Errorf("quantity %d outside %d..%d: %w", req.Quantity, e.cfg.MinOrderSize, e.cfg.MaxOrderSize, models.ErrOrderSizeOutOfBounds)
	}
	if req.Price < e.cfg.MinPrice || (e.cfg.MaxPrice != 0 && req.Price > e.cfg.MaxPrice) {
		return fmt.Errorf("price %d outside %d..%d: %w", req.Price, e.cfg.MinPrice, e.cfg.MaxPrice, models.ErrPriceOutOfBounds)
	}
	// every match settles at most quantity*price of this order or of an
	// already validated resting order
	if hi, _ := bits.Mul64(req.Quantity, req.Price); hi != 0 {
		return fmt.Errorf("notional %d x %d: %w", req.Quantity, req.Price, models.ErrOverflow)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return models.ErrOrderExpired
	}
	if e.wouldSelfTradeLocked(req) {
		return fmt.Errorf("order would trade against own resting order: %w", models.ErrInvalidAccount)
	}
	return nil
}

func (e *Exchange) wouldSelfTradeLocked(req OrderRequest) bool {
	opposite := e.book.Asks()
	crosses := func(p uint64) bool { return p <= req.Price }
	if req.Side == models.Sell {
		opposite = e.book.Bids()
		crosses = func(p uint64) bool { return p >= req.Price }
	}
	for _, o := range opposite {
		if !crosses(o.Price) {
			break
		}
		if o.Owner == req.Account {
			return true
		}
	}
	return false
}

// matchLocked runs price/time priority matching until the book no longer
// crosses. The resting order's price is the execution price.
func (e *Exchange) matchLocked(aggressorID string, p *Placement, touched map[string]struct{}) error {
	for {
		bid, ok := e.book.BestBid()
		if !ok {
			return nil
		}
		ask, ok := e.book.BestAsk()
		if !ok || bid.Price < ask.Price {
			return nil
		}
		if bid.Owner == ask.Owner {
			e.dropLocked(bid, ask, aggressorID, fmt.Errorf("self-match: %w", models.ErrInternal), touched)
			continue
		}

		qty := min(bid.Remaining(), ask.Remaining())
		price := executionPrice(bid, ask, aggressorID)
		hi, notional := bits.Mul64(qty, price)
		if hi != 0 {
			e.dropLocked(bid, ask, aggressorID, fmt.Errorf("notional %d x %d: %w", qty, price, models.ErrOverflow), touched)
			continue
		}
		factors := FeeFactors{}
		if e.feeFactors != nil {
			factors = e.feeFactors(bid.Owner, ask.Owner)
		}
		fee, err := GridFee(notional, e.cfg.FeeRateBps, factors)
		if err != nil {
			e.dropLocked(bid, ask, aggressorID, err, touched)
			continue
		}

		err = e.ledger.Settle(models.WATT, bid.Owner, ask.Owner, e.cfg.FeeSink, notional, fee)
		if errors.Is(err, models.ErrInsufficientBalance) {
			e.book.Remove(bid.ID)
			bid.Status = models.OrderCancelled
			touched[bid.ID] = struct{}{}
			e.log.Info("order cancelled: buyer cannot fund match",
				zap.String("order_id", bid.ID),
				zap.String("account", bid.Owner),
				zap.Uint64("notional", notional),
				zap.Uint64("fee", fee))
			if e.observer != nil {
				e.observer.OrderCancelled(*bid, ReasonInsufficient)
			}
			continue
		}
		if err != nil {
			e.dropLocked(bid, ask, aggressorID, fmt.Errorf("settle: %w", err), touched)
			continue
		}

		trade := models.Trade{
			ID:          e.newID(),
			BuyOrderID:  bid.ID,
			SellOrderID: ask.ID,
			Buyer:       bid.Owner,
			Seller:      ask.Owner,
			Quantity:    qty,
			Price:       price,
			Notional:    notional,
			GridFee:     fee,
			Status:      models.TradeSettled,
			ExecutedAt:  e.now(),
		}
		bidID, askID := bid.ID, ask.ID
		if _, err := e.book.Reduce(bidID, qty); err != nil {
			return err
		}
		if _, err := e.book.Reduce(askID, qty); err != nil {
			return err
		}
		touched[bidID] = struct{}{}
		touched[askID] = struct{}{}

		e.trades = append(e.trades, trade)
		p.Trades = append(p.Trades, trade)
		e.log.Info("trade settled",
			zap.String("trade_id", trade.ID),
			zap.String("buyer", trade.Buyer),
			zap.String("seller", trade.Seller),
			zap.Uint64("quantity", qty),
			zap.Uint64("price", price),
			zap.Uint64("grid_fee", fee))
		for _, s := range e.sinks {
			s.RecordTrade(trade)
		}
		if e.observer != nil {
			e.observer.TradeSettled(trade)
		}
	}
}

// dropLocked cancels one order of a pair that cannot be matched so the book
// stops crossing. The aggressor goes if it is part of the pair, otherwise
// the later of the two. Balances are untouched: settlement is all-or-nothing.
func (e *Exchange) dropLocked(bid, ask *models.Order, aggressorID string, cause error, touched map[string]struct{}) {
	victim := bid
	switch {
	case ask.ID == aggressorID:
		victim = ask
	case bid.ID == aggressorID:
	case earlierOrder(bid, ask):
		victim = ask
	}
	e.book.Remove(victim.ID)
	victim.Status = models.OrderCancelled
	touched[victim.ID] = struct{}{}
	e.log.Warn("order cancelled: match failed",
		zap.String("order_id", victim.ID),
		zap.String("bid_id", bid.ID),
		zap.String("ask_id", ask.ID),
		zap.Error(cause))
	if e.observer != nil {
		e.observer.OrderCancelled(*victim, ReasonMatchFailed)
	}
}

func earlierOrder(a, b *models.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// executionPrice returns the price of whichever order was resting when the
// aggressor arrived. Without an aggressor the earlier order rests.
func executionPrice(bid, ask *models.Order, aggressorID string) uint64 {
	switch aggressorID {
	case bid.ID:
		return ask.Price
	case ask.ID:
		return bid.Price
	}
	if ask.CreatedAt.After(bid.CreatedAt) {
		return bid.Price
	}
	return ask.Price
}

// CancelOrder cancels an active order owned by account
func (e *Exchange) CancelOrder(orderID, account string) (models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireLocked(e.now())

	o, ok := e.orders[orderID]
	if !ok {
		return models.Order{}, fmt.Errorf("cancel %s: %w", orderID, models.ErrOrderNotFound)
	}
	if o.Owner != account {
		return models.Order{}, fmt.Errorf("cancel %s: not owned by %s: %w", orderID, account, models.ErrInvalidAccount)
	}
	switch o.Status {
	case models.OrderFilled:
		return *o, models.ErrAlreadyFilled
	case models.OrderCancelled:
		return *o, models.ErrAlreadyCancelled
	case models.OrderExpired:
		return *o, models.ErrOrderExpired
	}

	e.book.Remove(orderID)
	o.Status = models.OrderCancelled
	e.log.Debug("order cancelled", zap.String("order_id", orderID), zap.String("account", account))
	if e.observer != nil {
		e.observer.OrderCancelled(*o, ReasonUser)
	}
	return *o, nil
}

// SweepExpired removes expired orders from the book and returns every order
// that expired since the previous sweep, including those expired lazily by
// placement, cancellation or book reads.
func (e *Exchange) SweepExpired() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireLocked(e.now())
	expired := e.expired
	e.expired = nil
	return expired
}

func (e *Exchange) expireLocked(now time.Time) {
	expired := e.book.Expire(now)
	e.expired = append(e.expired, expired...)
	for _, o := range expired {
		e.log.Debug("order expired", zap.String("order_id", o.ID), zap.String("account", o.Owner))
		if e.observer != nil {
			e.observer.OrderExpired(o)
		}
	}
}

// GetOrderBook returns the current buy and sell orders in priority order
func (e *Exchange) GetOrderBook() ([]models.Order, []models.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireLocked(e.now())
	return e.book.Bids(), e.book.Asks()
}

// GetMarketStats summarizes the book, trade history and participants
func (e *Exchange) GetMarketStats() models.MarketStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireLocked(e.now())

	s := stats.Compute(e.book.Bids(), e.book.Asks(), e.trades)
	s.Participants = stats.CountParticipants(e.participantsLocked())
	return s
}

// Order returns any order ever placed, including terminal ones
func (e *Exchange) Order(id string) (models.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// OrdersFor returns the orders placed by account, oldest first
func (e *Exchange) OrdersFor(account string) []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Order
	for _, o := range e.orders {
		if o.Owner == account {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Trades returns the trade history in execution order
func (e *Exchange) Trades() []models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Trade(nil), e.trades...)
}

// TradesFor returns the trades where account was buyer or seller
func (e *Exchange) TradesFor(account string) []models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Trade
	for _, t := range e.trades {
		if t.Buyer == account || t.Seller == account {
			out = append(out, t)
		}
	}
	return out
}

// RestoreOrders loads previously persisted active orders into the book
// without matching them.
func (e *Exchange) RestoreOrders(orders []models.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range orders {
		o := orders[i]
		if !o.Status.Active() {
			continue
		}
		if err := e.book.Insert(&o); err != nil {
			return fmt.Errorf("restore order %s: %w", o.ID, err)
		}
		e.orders[o.ID] = &o
	}
	return nil
}

// RestoreTrades loads previously persisted trade history
func (e *Exchange) RestoreTrades(trades []models.Trade) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trades = append(e.trades, trades...)
}
