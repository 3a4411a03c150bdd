package orderbook

import (
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/btree"

	"github.com/xtrntr/wattex/internal/models"
)

// OrderBook keeps resting orders in price/time priority.
// It is not safe for concurrent use; the exchange serializes access.
type OrderBook struct {
	bids  *btree.BTreeG[*models.Order]
	asks  *btree.BTreeG[*models.Order]
	index map[string]*models.Order
}

// New creates an empty order book
func New() *OrderBook {
	opts := btree.Options{NoLocks: true}
	return &OrderBook{
		bids:  btree.NewBTreeGOptions(bidLess, opts),
		asks:  btree.NewBTreeGOptions(askLess, opts),
		index: make(map[string]*models.Order),
	}
}

// Buy orders: highest price first, then earliest time
func bidLess(a, b *models.Order) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return earlier(a, b)
}

// Sell orders: lowest price first, then earliest time
func askLess(a, b *models.Order) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return earlier(a, b)
}

// earlier breaks price ties by creation time, then by id
func earlier(a, b *models.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (b *OrderBook) side(s models.Side) *btree.BTreeG[*models.Order] {
	if s == models.Buy {
		return b.bids
	}
	return b.asks
}

// Insert adds an active order. The book takes ownership of the pointer.
func (b *OrderBook) Insert(o *models.Order) error {
	if !o.Side.Valid() {
		return models.ErrInvalidSide
	}
	if o.Quantity == 0 || o.Price == 0 {
		return models.ErrInvalidAmount
	}
	if !o.Status.Active() || o.Filled >= o.Quantity {
		return fmt.Errorf("insert order %s with status %s: %w", o.ID, o.Status, models.ErrInternal)
	}
	if _, ok := b.index[o.ID]; ok {
		return fmt.Errorf("duplicate order %s: %w", o.ID, models.ErrInternal)
	}
	b.side(o.Side).Set(o)
	b.index[o.ID] = o
	return nil
}

// BestBid returns the buy order at the front of priority
func (b *OrderBook) BestBid() (*models.Order, bool) {
	return b.bids.Min()
}

// BestAsk returns the sell order at the front of priority
func (b *OrderBook) BestAsk() (*models.Order, bool) {
	return b.asks.Min()
}

// Get returns a resting order by id
func (b *OrderBook) Get(id string) (*models.Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// Remove takes an order out of the book. Missing ids are a no-op.
func (b *OrderBook) Remove(id string) (*models.Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return nil, false
	}
	b.side(o.Side).Delete(o)
	delete(b.index, id)
	return o, true
}

// Reduce records a fill of delta against a resting order. A fully filled
// order leaves the book; a partial fill keeps its original priority.
func (b *OrderBook) Reduce(id string, delta uint64) (models.Order, error) {
	o, ok := b.index[id]
	if !ok {
		return models.Order{}, fmt.Errorf("reduce %s: %w", id, models.ErrOrderNotFound)
	}
	if delta == 0 {
		return models.Order{}, models.ErrInvalidAmount
	}
	if delta > o.Remaining() {
		return models.Order{}, fmt.Errorf("reduce %s by %d with %d remaining: %w", id, delta, o.Remaining(), models.ErrInternal)
	}

	o.Filled += delta
	if o.Filled == o.Quantity {
		o.Status = models.OrderFilled
		b.Remove(id)
	} else {
		o.Status = models.OrderPartiallyFilled
	}
	return *o, nil
}

// Expire removes every order whose expiry is at or before now, marking it
// Expired, and returns copies of the removed orders.
func (b *OrderBook) Expire(now time.Time) []models.Order {
	var expired []models.Order
	for _, o := range b.index {
		if o.ExpiredAt(now) {
			expired = append(expired, *o)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return earlier(&expired[i], &expired[j]) })
	for i := range expired {
		o, _ := b.Remove(expired[i].ID)
		o.Status = models.OrderExpired
		expired[i].Status = models.OrderExpired
	}
	return expired
}

// Len returns the number of resting orders on a side
func (b *OrderBook) Len(s models.Side) int {
	return b.side(s).Len()
}

// Bids returns copies of the buy orders in priority order
func (b *OrderBook) Bids() []models.Order {
	return snapshot(b.bids)
}

// Asks returns copies of the sell orders in priority order
func (b *OrderBook) Asks() []models.Order {
	return snapshot(b.asks)
}

func snapshot(t *btree.BTreeG[*models.Order]) []models.Order {
	out := make([]models.Order, 0, t.Len())
	t.Scan(func(o *models.Order) bool {
		out = append(out, *o)
		return true
	})
	return out
}
