package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/xtrntr/wattex/internal/models"
)

func TestMetrics_Observer(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OrderPlaced(models.Order{Side: models.Buy})
	m.OrderPlaced(models.Order{Side: models.Buy})
	m.OrderPlaced(models.Order{Side: models.Sell})
	m.OrderRejected(fmt.Errorf("wrapped: %w", models.ErrPriceOutOfBounds))
	m.OrderCancelled(models.Order{}, "insufficient_funds")
	m.OrderExpired(models.Order{})
	m.TradeSettled(models.Trade{Quantity: 70, Price: 95, Notional: 6650, GridFee: 332})
	m.TradeSettled(models.Trade{Quantity: 30, Price: 100, Notional: 3000, GridFee: 150})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersPlaced.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersPlaced.WithLabelValues("sell")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersRejected.WithLabelValues("price_out_of_bounds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersCancelled.WithLabelValues("insufficient_funds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersExpired))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.trades))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.volume))
	assert.Equal(t, 9650.0, testutil.ToFloat64(m.notional))
	assert.Equal(t, 482.0, testutil.ToFloat64(m.fees))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.lastPrice))
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "market_closed", RejectReason(models.ErrMarketClosed))
	assert.Equal(t, "invalid_account", RejectReason(fmt.Errorf("x: %w", models.ErrInvalidAccount)))
	assert.Equal(t, "other", RejectReason(fmt.Errorf("boom")))
}
