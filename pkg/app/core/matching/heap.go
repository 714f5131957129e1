package matching

import (
	"container/heap"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

// entry is a resting order plus its heap slot.
type entry struct {
	o     *order.Order
	index int
}

// orderHeap implements heap.Interface over resting orders of one side.
// Use container/heap to manipulate it (Init, Push, Pop, Remove).
type orderHeap struct {
	side    order.Side
	entries []*entry
}

func (h *orderHeap) Len() int           { return len(h.entries) }
func (h *orderHeap) Less(i, j int) bool { return before(h.side, h.entries[i].o, h.entries[j].o) }

func (h *orderHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *orderHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *orderHeap) Pop() interface{} {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.entries = old[:n-1]
	return e
}

// sorted drains a copy of the heap, returning the side's orders best first.
// The copy has its own entries so the live heap indices stay intact.
func (h *orderHeap) sorted() []*order.Order {
	cp := &orderHeap{side: h.side, entries: make([]*entry, len(h.entries))}
	for i, e := range h.entries {
		cp.entries[i] = &entry{o: e.o, index: i}
	}
	out := make([]*order.Order, 0, len(cp.entries))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(cp).(*entry).o)
	}
	return out
}

// before is price-time priority: orders without a limit price rank first, then the
// better limit (higher for buys, lower for sells), then earlier CreatedAt, then Seq.
func before(side order.Side, a, b *order.Order) bool {
	pa, pb := a.LimitPrice, b.LimitPrice
	switch {
	case pa == nil && pb != nil:
		return true
	case pa != nil && pb == nil:
		return false
	case pa != nil && pb != nil && !pa.Equal(*pb):
		if side == order.Buy {
			return pa.GreaterThan(*pb)
		}
		return pa.LessThan(*pb)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// PriceLevel aggregates resting limit quantity at one price.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}
