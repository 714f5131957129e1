package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/session"
	"github.com/uhyunpark/papertrade/pkg/wire"
)

type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Close() error
}

// Redis publishes each event on prefix+channel (see wire.Event.Channel) and
// keeps a prefix+"nbbo:"+symbol hash with the latest quote and last trade.
type Redis struct {
	c       redisClient
	prefix  string
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewRedis connects and pings the server before returning.
func NewRedis(ctx context.Context, addr, password string, db int, prefix string, log *zap.SugaredLogger) (*Redis, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return newRedis(c, prefix, log), nil
}

func newRedis(c redisClient, prefix string, log *zap.SugaredLogger) *Redis {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Redis{c: c, prefix: prefix, timeout: defaultWriteTimeout, log: log}
}

func (r *Redis) Handle(ev session.Event) error {
	w := wire.FromEvent(ev)
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if fields := nbboFields(w); fields != nil {
		if err := r.c.HSet(ctx, r.prefix+"nbbo:"+w.Symbol(), fields...).Err(); err != nil {
			r.log.Warnw("redis_nbbo_failed", "symbol", w.Symbol(), "err", err)
			return err
		}
	}
	if err := r.c.Publish(ctx, r.prefix+w.Channel(), payload).Err(); err != nil {
		r.log.Warnw("redis_publish_failed", "seq", ev.Seq, "channel", w.Channel(), "err", err)
		return err
	}
	return nil
}

func (r *Redis) Close() error {
	return r.c.Close()
}

func nbboFields(e wire.Event) []any {
	switch {
	case e.Quote != nil:
		q := e.Quote
		return []any{
			"bid", q.Bid.String(),
			"bidSize", q.BidSize.String(),
			"ask", q.Ask.String(),
			"askSize", q.AskSize.String(),
			"quoteTime", q.Time.Format(time.RFC3339Nano),
		}
	case e.Trade != nil:
		t := e.Trade
		return []any{
			"last", t.Price.String(),
			"lastSize", t.Size.String(),
			"tradeTime", t.Time.Format(time.RFC3339Nano),
		}
	}
	return nil
}
