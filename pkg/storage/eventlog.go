package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/uhyunpark/papertrade/pkg/app/core/session"
	"github.com/uhyunpark/papertrade/pkg/wire"
)

// EventLog appends every event as one JSON line. Useful for replaying a
// simulated day or diffing two runs.
type EventLog struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func NewEventLog(path string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &EventLog{f: f, w: bufio.NewWriter(f)}, nil
}

func (l *EventLog) Handle(ev session.Event) error {
	line, err := json.Marshal(wire.FromEvent(ev))
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.Seq, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
