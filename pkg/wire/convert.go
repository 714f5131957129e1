package wire

import (
	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/order"
	"github.com/uhyunpark/papertrade/pkg/app/core/session"
)

func FromOrder(o *order.Order) Order {
	return Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		SessionID:      o.SessionID,
		Symbol:         o.Symbol,
		Side:           o.Side.String(),
		Type:           o.Type.String(),
		TimeInForce:    o.TimeInForce.String(),
		Qty:            o.Qty,
		FilledQty:      o.FilledQty,
		Remaining:      o.Remaining(),
		FilledAvgPrice: o.FilledAvgPrice,
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		TrailPrice:     o.TrailPrice,
		TrailPercent:   o.TrailPercent,
		HighWaterMark:  o.HighWaterMark,
		LastFillPrice:  o.LastFillPrice,
		Status:         o.Status.String(),
		Triggered:      o.Triggered,
		CreatedAt:      o.CreatedAt,
		SubmittedAt:    o.SubmittedAt,
		UpdatedAt:      o.UpdatedAt,
		FilledAt:       o.FilledAt,
		CanceledAt:     o.CanceledAt,
		ExpiredAt:      o.ExpiredAt,
		TriggeredAt:    o.TriggeredAt,
		Replaces:       o.Replaces,
		ReplacedBy:     o.ReplacedBy,
	}
}

func FromOrders(orders []*order.Order) []Order {
	out := make([]Order, len(orders))
	for i, o := range orders {
		out[i] = FromOrder(o)
	}
	return out
}

func FromFill(f order.Fill) Fill {
	return Fill{
		ID:        f.ID,
		OrderID:   f.OrderID,
		SessionID: f.SessionID,
		Symbol:    f.Symbol,
		Side:      f.Side.String(),
		Qty:       f.Qty,
		Price:     f.Price,
		Time:      f.Time,
		Seq:       f.Seq,
	}
}

func FromFills(fs []order.Fill) []Fill {
	out := make([]Fill, len(fs))
	for i, f := range fs {
		out[i] = FromFill(f)
	}
	return out
}

func FromAccount(s account.State) Account {
	return Account{
		SessionID:             s.SessionID,
		Cash:                  s.Cash,
		Equity:                s.Equity,
		BuyingPower:           s.BuyingPower,
		RegtBuyingPower:       s.RegtBuyingPower,
		DaytradingBuyingPower: s.DaytradingBuyingPower,
		LongMarketValue:       s.LongMarketValue,
		ShortMarketValue:      s.ShortMarketValue,
		InitialMargin:         s.InitialMargin,
		MaintenanceMargin:     s.MaintenanceMargin,
		AccruedFees:           s.AccruedFees,
		Reserved:              s.Reserved,
		RealizedPl:            s.RealizedPl,
		UnrealizedPl:          s.UnrealizedPl,
		PatternDayTrader:      s.PatternDayTrader,
		DaytradeCount:         s.DaytradeCount,
		Multiplier:            s.Multiplier,
		ShortingEnabled:       s.ShortingEnabled,
		UpdatedAt:             s.UpdatedAt,
	}
}

func FromPosition(p account.Position) Position {
	return Position{
		Symbol:         p.Symbol,
		Side:           p.Side(),
		Qty:            p.Qty,
		AvgEntryPrice:  p.AvgEntryPrice,
		CurrentPrice:   p.CurrentPrice,
		MarketValue:    p.MarketValue,
		CostBasis:      p.CostBasis,
		UnrealizedPl:   p.UnrealizedPl,
		UnrealizedPlpc: p.UnrealizedPlpc,
		RealizedPl:     p.RealizedPl,
	}
}

func FromPositions(ps []account.Position) []Position {
	out := make([]Position, len(ps))
	for i, p := range ps {
		out[i] = FromPosition(p)
	}
	return out
}

func FromNBBO(q matching.NBBO) Quote {
	return Quote{
		Symbol:    q.Symbol,
		Bid:       q.Bid,
		BidSize:   q.BidSize,
		Ask:       q.Ask,
		AskSize:   q.AskSize,
		LastTrade: q.LastTrade,
		LastSize:  q.LastSize,
		Time:      q.Time,
	}
}

func FromLevels(ls []matching.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(ls))
	for i, l := range ls {
		out[i] = PriceLevel{Price: l.Price, Qty: l.Qty}
	}
	return out
}

// FromEvent converts a registry event into its published form.
func FromEvent(ev session.Event) Event {
	out := Event{
		Kind:      string(ev.Kind),
		Seq:       ev.Seq,
		Time:      ev.Time,
		SessionID: ev.SessionID,
	}
	switch {
	case ev.Trade != nil:
		out.Trade = &Trade{Symbol: ev.Trade.Symbol, Price: ev.Trade.Price, Size: ev.Trade.Size, Time: ev.Trade.Time}
	case ev.Quote != nil:
		out.Quote = &Quote{
			Symbol:  ev.Quote.Symbol,
			Bid:     ev.Quote.Bid,
			BidSize: ev.Quote.BidSize,
			Ask:     ev.Quote.Ask,
			AskSize: ev.Quote.AskSize,
			Time:    ev.Quote.Time,
		}
	case ev.Order != nil:
		u := &OrderUpdate{Update: string(ev.Order.Update), Order: FromOrder(ev.Order.Order)}
		if ev.Order.Fill != nil {
			f := FromFill(*ev.Order.Fill)
			u.Fill = &f
		}
		if ev.Order.Account != nil {
			a := FromAccount(*ev.Order.Account)
			u.Account = &a
		}
		out.Order = u
	case ev.Session != nil:
		sess := FromInfo(ev.Session.Info)
		sess.Action = string(ev.Session.Action)
		out.Session = &sess
	}
	return out
}

func FromInfo(inf session.Info) Session {
	return Session{
		ID:              inf.ID,
		CreatedAt:       inf.CreatedAt,
		InitialCash:     inf.Params.InitialCash,
		Multiplier:      inf.Params.Multiplier,
		ShortingEnabled: inf.Params.ShortingEnabled,
		FeeBps:          inf.Params.FeeBps,
		FeePerShare:     inf.Params.FeePerShare,
		Orders:          inf.Orders,
		OpenOrders:      inf.OpenOrders,
		Fills:           inf.Fills,
	}
}

// Symbol is the instrument an event concerns.
func (e Event) Symbol() string {
	switch {
	case e.Trade != nil:
		return e.Trade.Symbol
	case e.Quote != nil:
		return e.Quote.Symbol
	case e.Order != nil:
		return e.Order.Order.Symbol
	}
	return ""
}

// Channel is the WebSocket/pubsub channel an event belongs to.
func (e Event) Channel() string {
	switch {
	case e.Trade != nil:
		return "trades:" + e.Trade.Symbol
	case e.Quote != nil:
		return "quotes:" + e.Quote.Symbol
	case e.Order != nil:
		return "orders:" + e.SessionID
	case e.Session != nil:
		return "sessions"
	}
	return ""
}
