package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/session"
	"github.com/uhyunpark/papertrade/pkg/wire"
)

// Journal is a Pebble-backed record of every session's orders, fills and latest
// account snapshot. It is fed by registry events and never consulted by the core.
type Journal struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	log       *zap.SugaredLogger
}

type Option func(*Journal)

// WithSync makes every event commit wait for fsync.
func WithSync(sync bool) Option {
	return func(j *Journal) {
		if sync {
			j.writeOpts = pebble.Sync
		} else {
			j.writeOpts = pebble.NoSync
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(j *Journal) { j.log = log }
}

// Open opens a Pebble database at the given path
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	j := &Journal{db: db, writeOpts: pebble.NoSync, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

func (j *Journal) Close() error {
	if err := j.db.Flush(); err != nil {
		j.db.Close()
		return err
	}
	return j.db.Close()
}

// Handle records one registry event. All keys touched by the event are written
// in a single batch.
func (j *Journal) Handle(ev session.Event) error {
	w := wire.FromEvent(ev)
	batch := j.db.NewBatch()
	defer batch.Close()

	switch {
	case w.Order != nil:
		u := w.Order
		if err := set(batch, "order", orderKey(u.Order.SessionID, u.Order.ID), u.Order); err != nil {
			return err
		}
		if u.Fill != nil {
			if err := set(batch, "fill", fillKey(u.Fill.SessionID, u.Fill.Time, u.Fill.ID), u.Fill); err != nil {
				return err
			}
		}
		if u.Account != nil {
			if err := set(batch, "account", accountKey(w.SessionID), u.Account); err != nil {
				return err
			}
		}
	case w.Session != nil:
		if err := set(batch, "session", sessionKey(w.Session.ID), w.Session); err != nil {
			return err
		}
	default:
		return nil
	}

	if err := batch.Commit(j.writeOpts); err != nil {
		return fmt.Errorf("failed to commit journal batch: %w", err)
	}
	return nil
}

func set(batch *pebble.Batch, kind string, key []byte, v any) error {
	data, err := encode(kind, v)
	if err != nil {
		return err
	}
	return batch.Set(key, data, nil)
}

func (j *Journal) get(kind string, key []byte, v any) (bool, error) {
	data, closer, err := j.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	defer closer.Close()
	return true, decode(kind, data, v)
}

// Session returns the last recorded header for a session.
func (j *Journal) Session(sessionID string) (wire.Session, bool, error) {
	var s wire.Session
	ok, err := j.get("session", sessionKey(sessionID), &s)
	return s, ok, err
}

// Sessions lists every session ever recorded, closed ones included.
func (j *Journal) Sessions() ([]wire.Session, error) {
	var out []wire.Session
	err := j.scan(sessionPrefix(), false, 0, func(v []byte) error {
		var s wire.Session
		if err := decode("session", v, &s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// Account returns the latest account snapshot recorded for a session.
func (j *Journal) Account(sessionID string) (wire.Account, bool, error) {
	var a wire.Account
	ok, err := j.get("account", accountKey(sessionID), &a)
	return a, ok, err
}

func (j *Journal) Order(sessionID, orderID string) (wire.Order, bool, error) {
	var o wire.Order
	ok, err := j.get("order", orderKey(sessionID, orderID), &o)
	return o, ok, err
}

// Orders loads every order of a session. openOnly filters out terminal ones.
func (j *Journal) Orders(sessionID string, openOnly bool) ([]wire.Order, error) {
	var out []wire.Order
	err := j.scan(orderPrefix(sessionID), false, 0, func(v []byte) error {
		var o wire.Order
		if err := decode("order", v, &o); err != nil {
			j.log.Warnw("journal_skip_order", "session_id", sessionID, "err", err)
			return nil
		}
		if openOnly && !isOpenStatus(o.Status) {
			return nil
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

func isOpenStatus(s string) bool {
	return s == "accepted" || s == "partially_filled"
}

// RecentFills loads the most recent fills of a session, newest first.
func (j *Journal) RecentFills(sessionID string, limit int) ([]wire.Fill, error) {
	var out []wire.Fill
	err := j.scan(fillPrefix(sessionID), true, limit, func(v []byte) error {
		var f wire.Fill
		if err := decode("fill", v, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// scan visits every value under prefix; reverse walks newest key first. limit <= 0 means all.
func (j *Journal) scan(prefix []byte, reverse bool, limit int, fn func(v []byte) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	first, next := iter.First, iter.Next
	if reverse {
		first, next = iter.Last, iter.Prev
	}
	n := 0
	for valid := first(); valid && (limit <= 0 || n < limit); valid = next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
		n++
	}
	return iter.Error()
}
