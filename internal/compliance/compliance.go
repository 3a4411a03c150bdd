// Package compliance produces per-account activity reports from the trade
// history and checks trade records for internal consistency.
package compliance

import (
	"fmt"
	"math/bits"
	"sort"
	"time"

	"github.com/xtrntr/wattex/internal/models"
)

// Activity aggregates one account's settled trades within a report window
type Activity struct {
	Account  string `json:"account"`
	Trades   int    `json:"trades"`
	Bought   uint64 `json:"bought"`
	Sold     uint64 `json:"sold"`
	Spent    uint64 `json:"spent"`
	Earned   uint64 `json:"earned"`
	FeesPaid uint64 `json:"fees_paid"`
}

// NetEnergy is energy bought minus energy sold
func (a Activity) NetEnergy() int64 {
	return int64(a.Bought) - int64(a.Sold)
}

type Report struct {
	From          time.Time  `json:"from"`
	To            time.Time  `json:"to"`
	TotalTrades   int        `json:"total_trades"`
	TotalVolume   uint64     `json:"total_volume"`
	TotalNotional uint64     `json:"total_notional"`
	TotalFees     uint64     `json:"total_fees"`
	Accounts      []Activity `json:"accounts"`
	Invalid       []string   `json:"invalid,omitempty"`
}

// For returns the activity of one account, zero if it did not trade
func (r Report) For(account string) Activity {
	for _, a := range r.Accounts {
		if a.Account == account {
			return a
		}
	}
	return Activity{Account: account}
}

// Generate summarizes settled trades executed in [from, to). A zero to
// leaves the window open ended. Trades that fail ValidateTrade are listed
// by id and left out of the totals.
func Generate(trades []models.Trade, from, to time.Time) Report {
	r := Report{From: from, To: to}
	byAccount := make(map[string]*Activity)
	get := func(id string) *Activity {
		a, ok := byAccount[id]
		if !ok {
			a = &Activity{Account: id}
			byAccount[id] = a
		}
		return a
	}

	for _, t := range trades {
		if t.Status != models.TradeSettled || t.ExecutedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !t.ExecutedAt.Before(to) {
			continue
		}
		if err := ValidateTrade(t); err != nil {
			r.Invalid = append(r.Invalid, t.ID)
			continue
		}
		r.TotalTrades++
		r.TotalVolume += t.Quantity
		r.TotalNotional += t.Notional
		r.TotalFees += t.GridFee

		buyer := get(t.Buyer)
		buyer.Trades++
		buyer.Bought += t.Quantity
		buyer.Spent += t.Notional + t.GridFee
		buyer.FeesPaid += t.GridFee

		seller := get(t.Seller)
		seller.Trades++
		seller.Sold += t.Quantity
		seller.Earned += t.Notional
	}

	r.Accounts = make([]Activity, 0, len(byAccount))
	for _, a := range byAccount {
		r.Accounts = append(r.Accounts, *a)
	}
	sort.Slice(r.Accounts, func(i, j int) bool { return r.Accounts[i].Account < r.Accounts[j].Account })
	return r
}

// ValidateTrade checks that a trade record is self-consistent
func ValidateTrade(t models.Trade) error {
	if t.ID == "" || t.BuyOrderID == "" || t.SellOrderID == "" {
		return fmt.Errorf("trade %q: missing identifiers: %w", t.ID, models.ErrInvalidAccount)
	}
	if t.Buyer == "" || t.Seller == "" || t.Buyer == t.Seller {
		return fmt.Errorf("trade %s: buyer %q seller %q: %w", t.ID, t.Buyer, t.Seller, models.ErrInvalidAccount)
	}
	if t.Quantity == 0 || t.Price == 0 {
		return fmt.Errorf("trade %s: zero quantity or price: %w", t.ID, models.ErrInvalidAmount)
	}
	hi, notional := bits.Mul64(t.Quantity, t.Price)
	if hi != 0 {
		return fmt.Errorf("trade %s: %w", t.ID, models.ErrOverflow)
	}
	if notional != t.Notional {
		return fmt.Errorf("trade %s: notional %d, want %d: %w", t.ID, t.Notional, notional, models.ErrInvalidAmount)
	}
	if t.GridFee > t.Notional {
		return fmt.Errorf("trade %s: fee %d exceeds notional: %w", t.ID, t.GridFee, models.ErrInvalidAmount)
	}
	switch t.Status {
	case models.TradePending, models.TradeSettled, models.TradeFailed:
	default:
		return fmt.Errorf("trade %s: status %q: %w", t.ID, t.Status, models.ErrInternal)
	}
	return nil
}
