// Package stats derives read-only market summaries from book snapshots and
// trade history.
package stats

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/wattex/internal/models"
)

// Compute summarizes the given book sides and trade history. Only settled
// trades count toward volume and prices; trades must be in execution order.
func Compute(bids, asks []models.Order, trades []models.Trade) models.MarketStats {
	s := models.MarketStats{
		ActiveBuyOrders:  countActive(bids),
		ActiveSellOrders: countActive(asks),
	}
	if len(bids) > 0 {
		p := bids[0].Price
		s.BestBid = &p
	}
	if len(asks) > 0 {
		p := asks[0].Price
		s.BestAsk = &p
	}

	weighted := decimal.Zero
	volume := decimal.Zero
	for _, t := range trades {
		if t.Status != models.TradeSettled {
			continue
		}
		s.TotalTrades++
		s.TotalVolume += t.Quantity
		s.TotalNotional += t.Notional
		s.TotalFees += t.GridFee
		q := fromUint(t.Quantity)
		weighted = weighted.Add(q.Mul(fromUint(t.Price)))
		volume = volume.Add(q)

		price := t.Price
		s.MarketPrice = &price
	}
	if volume.IsPositive() {
		// QuoRem at precision 0 truncates exactly; Div would round first
		avg, _ := weighted.QuoRem(volume, 0)
		s.AveragePrice = toUint(avg)
	}
	return s
}

// CountParticipants tallies participants by kind
func CountParticipants(ps []models.Participant) map[models.ParticipantKind]int {
	out := make(map[models.ParticipantKind]int)
	for _, p := range ps {
		if p.Active {
			out[p.Kind()]++
		}
	}
	return out
}

func countActive(orders []models.Order) int {
	n := 0
	for _, o := range orders {
		if o.Status.Active() {
			n++
		}
	}
	return n
}

func fromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func toUint(d decimal.Decimal) uint64 {
	b := d.BigInt()
	if !b.IsUint64() {
		return 0
	}
	return b.Uint64()
}
