package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xtrntr/wattex/internal/models"
)

// Metrics records exchange activity as prometheus series. It satisfies
// exchange.Observer.
type Metrics struct {
	ordersPlaced    *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	ordersExpired   prometheus.Counter
	trades          prometheus.Counter
	volume          prometheus.Counter
	notional        prometheus.Counter
	fees            prometheus.Counter
	lastPrice       prometheus.Gauge
	tradeSize       prometheus.Histogram
}

// New registers the exchange metrics with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ordersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wattex_orders_placed_total",
			Help: "Orders accepted into the book by side",
		}, []string{"side"}),
		ordersRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wattex_orders_rejected_total",
			Help: "Orders rejected at validation by reason",
		}, []string{"reason"}),
		ordersCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wattex_orders_cancelled_total",
			Help: "Orders cancelled by reason",
		}, []string{"reason"}),
		ordersExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "wattex_orders_expired_total",
			Help: "Orders removed from the book after expiry",
		}),
		trades: f.NewCounter(prometheus.CounterOpts{
			Name: "wattex_trades_total",
			Help: "Settled trades",
		}),
		volume: f.NewCounter(prometheus.CounterOpts{
			Name: "wattex_traded_energy_total",
			Help: "Energy traded in centi-kWh",
		}),
		notional: f.NewCounter(prometheus.CounterOpts{
			Name: "wattex_traded_notional_total",
			Help: "WATT paid from buyers to sellers",
		}),
		fees: f.NewCounter(prometheus.CounterOpts{
			Name: "wattex_grid_fees_total",
			Help: "WATT collected as grid fees",
		}),
		lastPrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "wattex_last_trade_price",
			Help: "Price of the most recent settled trade",
		}),
		tradeSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wattex_trade_quantity",
			Help:    "Quantity per settled trade in centi-kWh",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		}),
	}
}

func (m *Metrics) OrderPlaced(o models.Order) {
	m.ordersPlaced.WithLabelValues(string(o.Side)).Inc()
}

func (m *Metrics) OrderRejected(err error) {
	m.ordersRejected.WithLabelValues(RejectReason(err)).Inc()
}

func (m *Metrics) OrderCancelled(_ models.Order, reason string) {
	m.ordersCancelled.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderExpired(models.Order) {
	m.ordersExpired.Inc()
}

func (m *Metrics) TradeSettled(t models.Trade) {
	m.trades.Inc()
	m.volume.Add(float64(t.Quantity))
	m.notional.Add(float64(t.Notional))
	m.fees.Add(float64(t.GridFee))
	m.lastPrice.Set(float64(t.Price))
	m.tradeSize.Observe(float64(t.Quantity))
}

var reasons = []struct {
	err   error
	label string
}{
	{models.ErrMarketClosed, "market_closed"},
	{models.ErrInvalidAccount, "invalid_account"},
	{models.ErrInvalidSide, "invalid_side"},
	{models.ErrInvalidAmount, "invalid_amount"},
	{models.ErrOrderSizeOutOfBounds, "size_out_of_bounds"},
	{models.ErrPriceOutOfBounds, "price_out_of_bounds"},
	{models.ErrOverflow, "overflow"},
	{models.ErrOrderExpired, "expired"},
}

// RejectReason maps a validation error to a bounded label value
func RejectReason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}
