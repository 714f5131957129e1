package matching

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

// book holds one symbol's NBBO and every session's resting orders for it.
// mu is the symbol critical section: tick ingestion, evaluation, admission and
// cancellation for the symbol all run under it.
type book struct {
	mu     sync.Mutex
	symbol string
	nbbo   NBBO

	// outbox holds hook notifications until mu is released. pub is taken
	// before mu is released, so notifications keep the symbol's order.
	outbox []func()
	pub    sync.Mutex

	// Heap-based priority per side
	bids *orderHeap
	asks *orderHeap

	// Order index for O(log n) cancellation
	index map[string]*entry
}

func newBook(symbol string) *book {
	bids := &orderHeap{side: order.Buy}
	asks := &orderHeap{side: order.Sell}
	heap.Init(bids)
	heap.Init(asks)
	return &book{
		symbol: symbol,
		nbbo:   NBBO{Symbol: symbol},
		bids:   bids,
		asks:   asks,
		index:  make(map[string]*entry),
	}
}

func (b *book) sideOf(s order.Side) *orderHeap {
	if s == order.Buy {
		return b.bids
	}
	return b.asks
}

func (b *book) add(o *order.Order) {
	e := &entry{o: o}
	heap.Push(b.sideOf(o.Side), e)
	b.index[o.ID] = e
}

// remove drops id from the book. Returns nil when the order is not resting here.
func (b *book) remove(id string) *order.Order {
	e, ok := b.index[id]
	if !ok {
		return nil
	}
	heap.Remove(b.sideOf(e.o.Side), e.index)
	delete(b.index, id)
	return e.o
}

func (b *book) get(id string) (*order.Order, bool) {
	e, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return e.o, true
}

// ordered returns resting orders in evaluation order: buys then sells, each by priority.
func (b *book) ordered() []*order.Order {
	return append(b.bids.sorted(), b.asks.sorted()...)
}

func (b *book) absorb(t Tick) {
	switch t.Kind {
	case TradeTick:
		b.nbbo.LastTrade = t.Price
		b.nbbo.LastSize = t.Size
	case QuoteTick:
		b.nbbo.Bid, b.nbbo.BidSize = t.Bid, t.BidSize
		b.nbbo.Ask, b.nbbo.AskSize = t.Ask, t.AskSize
	}
	b.nbbo.Time = t.Time
}

// levels aggregates resting limit quantity per price, best first.
func (b *book) levels(side order.Side) []PriceLevel {
	h := b.sideOf(side)
	agg := make(map[string]*PriceLevel)
	for _, e := range h.entries {
		o := e.o
		if o.LimitPrice == nil || (o.Type.HasStop() && !o.Triggered) {
			continue
		}
		key := o.LimitPrice.String()
		lvl, ok := agg[key]
		if !ok {
			lvl = &PriceLevel{Price: *o.LimitPrice, Qty: decimal.Zero}
			agg[key] = lvl
		}
		lvl.Qty = lvl.Qty.Add(o.Remaining())
	}

	out := make([]PriceLevel, 0, len(agg))
	for _, lvl := range agg {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if side == order.Buy {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
