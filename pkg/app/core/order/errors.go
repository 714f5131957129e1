package order

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced to callers of the trading core.
type Kind string

const (
	KindValidation              Kind = "validation"
	KindInsufficientBuyingPower Kind = "insufficient_buying_power"
	KindNotFound                Kind = "not_found"
	KindInvalidState            Kind = "invalid_state"
	KindUnsupported             Kind = "unsupported_request"
)

// Sentinels for errors.Is; every *Error matches the sentinel of its Kind.
var (
	ErrValidation              = &Error{Kind: KindValidation}
	ErrInsufficientBuyingPower = &Error{Kind: KindInsufficientBuyingPower}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrInvalidState            = &Error{Kind: KindInvalidState}
	ErrUnsupported             = &Error{Kind: KindUnsupported}
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or "" when err is not a trading error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
