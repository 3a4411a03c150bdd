package orderbook

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/xtrntr/wattex/internal/models"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newOrder(id string, side models.Side, price, qty uint64, at time.Duration) *models.Order {
	return &models.Order{
		ID:        id,
		Owner:     "owner-" + id,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Status:    models.OrderPending,
		CreatedAt: base.Add(at),
	}
}

func TestOrderBook_Insert(t *testing.T) {
	ob := New()

	// Test buy orders
	buyOrders := []*models.Order{
		newOrder("1", models.Buy, 50000, 10, -time.Second),
		newOrder("2", models.Buy, 51000, 20, 0),
		newOrder("3", models.Buy, 50000, 30, time.Second),
	}
	for _, o := range buyOrders {
		if err := ob.Insert(o); err != nil {
			t.Fatalf("insert %s: %v", o.ID, err)
		}
	}

	if ob.Len(models.Buy) != 3 {
		t.Errorf("expected 3 buy orders, got %d", ob.Len(models.Buy))
	}
	bids := ob.Bids()
	if bids[0].ID != "2" || bids[1].ID != "1" || bids[2].ID != "3" {
		t.Errorf("buy orders not in price/time priority: %s %s %s", bids[0].ID, bids[1].ID, bids[2].ID)
	}

	// Test sell orders
	sellOrders := []*models.Order{
		newOrder("4", models.Sell, 52000, 10, -time.Second),
		newOrder("5", models.Sell, 51000, 20, 0),
		newOrder("6", models.Sell, 52000, 30, time.Second),
	}
	for _, o := range sellOrders {
		if err := ob.Insert(o); err != nil {
			t.Fatalf("insert %s: %v", o.ID, err)
		}
	}

	asks := ob.Asks()
	if asks[0].ID != "5" || asks[1].ID != "4" || asks[2].ID != "6" {
		t.Errorf("sell orders not in price/time priority: %s %s %s", asks[0].ID, asks[1].ID, asks[2].ID)
	}

	best, ok := ob.BestAsk()
	if !ok || best.Price != 51000 {
		t.Errorf("expected lowest ask 51000, got %+v", best)
	}
	best, ok = ob.BestBid()
	if !ok || best.Price != 51000 {
		t.Errorf("expected highest bid 51000, got %+v", best)
	}
}

func TestOrderBook_InsertRejects(t *testing.T) {
	ob := New()
	if err := ob.Insert(newOrder("a", models.Buy, 10, 10, 0)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		order *models.Order
		want  error
	}{
		{name: "Duplicate", order: newOrder("a", models.Buy, 10, 10, 0), want: models.ErrInternal},
		{name: "ZeroQuantity", order: newOrder("b", models.Buy, 10, 0, 0), want: models.ErrInvalidAmount},
		{name: "ZeroPrice", order: newOrder("c", models.Sell, 0, 10, 0), want: models.ErrInvalidAmount},
		{name: "BadSide", order: newOrder("d", models.Side("hold"), 10, 10, 0), want: models.ErrInvalidSide},
		{name: "Terminal", order: func() *models.Order {
			o := newOrder("e", models.Sell, 10, 10, 0)
			o.Status = models.OrderCancelled
			return o
		}(), want: models.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ob.Insert(tt.order); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if ob.Len(models.Buy)+ob.Len(models.Sell) != 1 {
		t.Errorf("rejected orders must not enter the book")
	}
}

func TestOrderBook_EmptySides(t *testing.T) {
	ob := New()
	if _, ok := ob.BestBid(); ok {
		t.Error("expected no best bid")
	}
	if _, ok := ob.BestAsk(); ok {
		t.Error("expected no best ask")
	}
	if _, ok := ob.Remove("missing"); ok {
		t.Error("remove of a missing order should be a no-op")
	}
}

func TestOrderBook_SameTimestampTieBreaksByID(t *testing.T) {
	ob := New()
	_ = ob.Insert(newOrder("b", models.Sell, 100, 10, 0))
	_ = ob.Insert(newOrder("a", models.Sell, 100, 10, 0))

	best, _ := ob.BestAsk()
	if best.ID != "a" {
		t.Errorf("expected id tie-break to favour %q, got %q", "a", best.ID)
	}
}

func TestOrderBook_ReducePartialKeepsPriority(t *testing.T) {
	ob := New()
	_ = ob.Insert(newOrder("first", models.Sell, 100, 100, 0))
	_ = ob.Insert(newOrder("second", models.Sell, 100, 100, time.Second))

	o, err := ob.Reduce("first", 60)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.OrderPartiallyFilled || o.Remaining() != 40 {
		t.Errorf("expected partially filled with 40 remaining, got %s/%d", o.Status, o.Remaining())
	}
	best, _ := ob.BestAsk()
	if best.ID != "first" {
		t.Errorf("partial fill must keep priority, best is %s", best.ID)
	}

	o, err = ob.Reduce("first", 40)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.OrderFilled {
		t.Errorf("expected filled, got %s", o.Status)
	}
	if _, ok := ob.Get("first"); ok {
		t.Error("filled order should leave the book")
	}
	best, _ = ob.BestAsk()
	if best.ID != "second" {
		t.Errorf("expected second at front, got %s", best.ID)
	}
}

func TestOrderBook_ReduceErrors(t *testing.T) {
	ob := New()
	_ = ob.Insert(newOrder("x", models.Buy, 100, 10, 0))

	if _, err := ob.Reduce("missing", 1); !errors.Is(err, models.ErrOrderNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := ob.Reduce("x", 0); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("expected invalid amount, got %v", err)
	}
	if _, err := ob.Reduce("x", 11); !errors.Is(err, models.ErrInternal) {
		t.Errorf("expected internal error on overfill, got %v", err)
	}
	o, _ := ob.Get("x")
	if o.Filled != 0 {
		t.Errorf("failed reduce must not change the order, filled=%d", o.Filled)
	}
}

func TestOrderBook_Expire(t *testing.T) {
	ob := New()
	soon := base.Add(time.Minute)
	later := base.Add(time.Hour)

	a := newOrder("a", models.Buy, 100, 10, 0)
	a.ExpiresAt = &soon
	b := newOrder("b", models.Sell, 200, 10, 0)
	b.ExpiresAt = &later
	c := newOrder("c", models.Sell, 300, 10, 0)
	for _, o := range []*models.Order{a, b, c} {
		_ = ob.Insert(o)
	}

	expired := ob.Expire(base.Add(time.Minute))
	if len(expired) != 1 || expired[0].ID != "a" || expired[0].Status != models.OrderExpired {
		t.Fatalf("expected order a to expire, got %+v", expired)
	}
	if a.Status != models.OrderExpired {
		t.Errorf("book entry should be marked expired, got %s", a.Status)
	}
	if ob.Len(models.Buy) != 0 || ob.Len(models.Sell) != 2 {
		t.Errorf("unexpected book sizes %d/%d", ob.Len(models.Buy), ob.Len(models.Sell))
	}
	if got := ob.Expire(base.Add(2 * time.Hour)); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("expected order b to expire, got %+v", got)
	}
}

// The best order on each side is always the one an exhaustive scan would pick.
func TestOrderBook_PriorityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := New()
		n := rapid.IntRange(1, 40).Draw(t, "n")
		var all []*models.Order
		for i := 0; i < n; i++ {
			side := rapid.SampledFrom([]models.Side{models.Buy, models.Sell}).Draw(t, "side")
			price := rapid.Uint64Range(1, 5).Draw(t, "price")
			at := time.Duration(rapid.IntRange(0, 3).Draw(t, "at")) * time.Second
			o := newOrder(rapid.StringMatching(`[a-z]{6}`).Draw(t, "id"), side, price, 10, at)
			if ob.Insert(o) == nil {
				all = append(all, o)
			}
		}

		var wantBid, wantAsk *models.Order
		for _, o := range all {
			if o.Side == models.Buy && (wantBid == nil || bidLess(o, wantBid)) {
				wantBid = o
			}
			if o.Side == models.Sell && (wantAsk == nil || askLess(o, wantAsk)) {
				wantAsk = o
			}
		}
		if got, ok := ob.BestBid(); ok != (wantBid != nil) || (ok && got != wantBid) {
			t.Fatalf("best bid mismatch")
		}
		if got, ok := ob.BestAsk(); ok != (wantAsk != nil) || (ok && got != wantAsk) {
			t.Fatalf("best ask mismatch")
		}
	})
}
