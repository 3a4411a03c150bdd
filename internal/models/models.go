package models

import "time"

// Token identifies one of the two token kinds held by an account
type Token string

const (
	GRID Token = "GRID" // governance/grid token, stakeable
	WATT Token = "WATT" // utility/energy token, used for settlement
)

// Valid reports whether t is a known token kind
func (t Token) Valid() bool {
	return t == GRID || t == WATT
}

// Side is the direction of an order
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether s is buy or sell
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// OrderStatus tracks an order through its lifecycle
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
)

// Active reports whether an order with this status may rest in the book
func (s OrderStatus) Active() bool {
	return s == OrderPending || s == OrderPartiallyFilled
}

// TradeStatus is the settlement state of a trade
type TradeStatus string

const (
	TradePending TradeStatus = "pending"
	TradeSettled TradeStatus = "settled"
	TradeFailed  TradeStatus = "failed"
)

// Account holds the balances of a single account id.
// Amounts are integers in the smallest token unit.
type Account struct {
	ID     string `json:"id"`
	Grid   uint64 `json:"grid"`
	Watt   uint64 `json:"watt"`
	Staked uint64 `json:"staked"`
	Nonce  uint64 `json:"nonce"`
}

// Balance returns the free balance of the given token kind
func (a Account) Balance(kind Token) uint64 {
	if kind == GRID {
		return a.Grid
	}
	return a.Watt
}

// Order represents a buy or sell order for energy.
// Quantity is in the smallest energy unit, Price in WATT units per energy unit.
type Order struct {
	ID        string      `json:"id"`
	Owner     string      `json:"owner"`
	Side      Side        `json:"side"`
	Quantity  uint64      `json:"quantity"`
	Price     uint64      `json:"price"`
	Filled    uint64      `json:"filled"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"` // Used for time priority
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// Remaining is the quantity still open on the order
func (o Order) Remaining() uint64 {
	return o.Quantity - o.Filled
}

// ExpiredAt reports whether the order has expired at t
func (o Order) ExpiredAt(t time.Time) bool {
	return o.ExpiresAt != nil && !t.Before(*o.ExpiresAt)
}

// Trade represents an executed and settled match between two orders
type Trade struct {
	ID          string      `json:"id"`
	BuyOrderID  string      `json:"buy_order_id"`
	SellOrderID string      `json:"sell_order_id"`
	Buyer       string      `json:"buyer"`
	Seller      string      `json:"seller"`
	Quantity    uint64      `json:"quantity"`
	Price       uint64      `json:"price"`
	Notional    uint64      `json:"notional"`
	GridFee     uint64      `json:"grid_fee"`
	Status      TradeStatus `json:"status"`
	ExecutedAt  time.Time   `json:"executed_at"`
}

// MarketConfig holds process-wide market parameters.
// A zero MinPrice or MaxPrice disables that bound.
type MarketConfig struct {
	FeeRateBps   uint64        `json:"fee_rate_bps"`
	MinOrderSize uint64        `json:"min_order_size"`
	MaxOrderSize uint64        `json:"max_order_size"`
	MinPrice     uint64        `json:"min_price"`
	MaxPrice     uint64        `json:"max_price"`
	Open         bool          `json:"open"`
	FeeSink      string        `json:"fee_sink"`
	OrderTTL     time.Duration `json:"order_ttl"`
}

// DefaultMarketConfig mirrors the prototype's defaults: 5% grid fee,
// orders between 1 and 1000 kWh in centi-kWh.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		FeeRateBps:   500,
		MinOrderSize: 100,
		MaxOrderSize: 100000,
		MinPrice:     100,
		MaxPrice:     100000,
		Open:         true,
		FeeSink:      "grid-operator",
	}
}

// MarketStats is a read-only summary of the book and trade history
type MarketStats struct {
	ActiveBuyOrders  int                     `json:"active_buy_orders"`
	ActiveSellOrders int                     `json:"active_sell_orders"`
	TotalTrades      int                     `json:"total_trades"`
	TotalVolume      uint64                  `json:"total_volume"`
	TotalNotional    uint64                  `json:"total_notional"`
	TotalFees        uint64                  `json:"total_fees"`
	AveragePrice     uint64                  `json:"average_price"`
	MarketPrice      *uint64                 `json:"market_price,omitempty"`
	BestBid          *uint64                 `json:"best_bid,omitempty"`
	BestAsk          *uint64                 `json:"best_ask,omitempty"`
	Participants     map[ParticipantKind]int `json:"participants,omitempty"`
}
