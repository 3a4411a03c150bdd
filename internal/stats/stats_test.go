package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/wattex/internal/models"
)

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil, nil, nil)
	assert.Zero(t, s.TotalTrades)
	assert.Zero(t, s.AveragePrice)
	assert.Nil(t, s.MarketPrice)
	assert.Nil(t, s.BestBid)
	assert.Nil(t, s.BestAsk)
}

func TestCompute(t *testing.T) {
	bids := []models.Order{
		{ID: "b1", Side: models.Buy, Price: 90, Quantity: 10, Status: models.OrderPending},
		{ID: "b2", Side: models.Buy, Price: 80, Quantity: 10, Filled: 5, Status: models.OrderPartiallyFilled},
	}
	asks := []models.Order{
		{ID: "s1", Side: models.Sell, Price: 95, Quantity: 10, Status: models.OrderPending},
	}
	trades := []models.Trade{
		{ID: "t1", Quantity: 70, Price: 95, Notional: 6650, GridFee: 332, Status: models.TradeSettled},
		{ID: "t2", Quantity: 30, Price: 100, Notional: 3000, GridFee: 150, Status: models.TradeSettled},
		{ID: "t3", Quantity: 500, Price: 1, Notional: 500, Status: models.TradeFailed},
	}

	s := Compute(bids, asks, trades)
	assert.Equal(t, 2, s.ActiveBuyOrders)
	assert.Equal(t, 1, s.ActiveSellOrders)
	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, uint64(100), s.TotalVolume)
	assert.Equal(t, uint64(9650), s.TotalNotional)
	assert.Equal(t, uint64(482), s.TotalFees)
	// (70*95 + 30*100) / 100 = 96.5, floored
	assert.Equal(t, uint64(96), s.AveragePrice)
	require.NotNil(t, s.MarketPrice)
	assert.Equal(t, uint64(100), *s.MarketPrice)
	require.NotNil(t, s.BestBid)
	assert.Equal(t, uint64(90), *s.BestBid)
	require.NotNil(t, s.BestAsk)
	assert.Equal(t, uint64(95), *s.BestAsk)
}

func TestCompute_AveragePriceFloorsExactly(t *testing.T) {
	const big = 100_000_000_000_000_000
	trades := []models.Trade{
		{ID: "t1", Quantity: big - 1, Price: 2, Notional: 2 * (big - 1), Status: models.TradeSettled},
		{ID: "t2", Quantity: 1, Price: 1, Notional: 1, Status: models.TradeSettled},
	}
	s := Compute(nil, nil, trades)
	// (2*(1e17-1) + 1) / 1e17 = 1.99999999999999999
	assert.Equal(t, uint64(1), s.AveragePrice)
}

func TestCountParticipants(t *testing.T) {
	ps := []models.Participant{
		{Account: "a", Profile: models.Producer{}, Active: true},
		{Account: "b", Profile: models.Prosumer{}, Active: true},
		{Account: "c", Profile: models.Producer{}, Active: true},
		{Account: "d", Profile: models.Consumer{}, Active: false},
	}
	got := CountParticipants(ps)
	assert.Equal(t, map[models.ParticipantKind]int{
		models.KindProducer: 2,
		models.KindProsumer: 1,
	}, got)
}
