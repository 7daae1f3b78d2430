// Package errs is the tagged error taxonomy shared by every component.
// Errors compare by Code with errors.Is and keep their cause for Unwrap.
package errs

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind groups codes by how callers should react.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindFunds
	KindConflict
	KindTransient
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindFunds:
		return "funds"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Code is the stable machine-readable error identifier sent to clients.
type Code string

const (
	AmountNonPositive        Code = "AMOUNT_NON_POSITIVE"
	UnknownSymbol            Code = "UNKNOWN_SYMBOL"
	InstrumentUntradeable    Code = "INSTRUMENT_UNTRADEABLE"
	EarlyCloseDisabled       Code = "EARLY_CLOSE_DISABLED"
	TradingDisabled          Code = "TRADING_DISABLED"
	InvalidArgument          Code = "INVALID_ARGUMENT"
	UserBlocked              Code = "USER_BLOCKED"
	UserFrozen               Code = "USER_FROZEN"
	Unauthenticated          Code = "UNAUTHENTICATED"
	Forbidden                Code = "FORBIDDEN"
	InsufficientFunds        Code = "INSUFFICIENT_FUNDS"
	DuplicateKey             Code = "DUPLICATE_KEY"
	StateTransitionForbidden Code = "STATE_TRANSITION_FORBIDDEN"
	TradeNotFound            Code = "TRADE_NOT_FOUND"
	TradeNotActive           Code = "TRADE_NOT_ACTIVE"
	NotFound                 Code = "NOT_FOUND"
	Unavailable              Code = "UNAVAILABLE"
	Internal                 Code = "INTERNAL"
)

var kinds = map[Code]Kind{
	AmountNonPositive:        KindValidation,
	UnknownSymbol:            KindValidation,
	InstrumentUntradeable:    KindValidation,
	EarlyCloseDisabled:       KindValidation,
	TradingDisabled:          KindValidation,
	InvalidArgument:          KindValidation,
	UserBlocked:              KindAuthorization,
	UserFrozen:               KindAuthorization,
	Unauthenticated:          KindAuthorization,
	Forbidden:                KindAuthorization,
	InsufficientFunds:        KindFunds,
	DuplicateKey:             KindConflict,
	StateTransitionForbidden: KindConflict,
	TradeNotActive:           KindConflict,
	TradeNotFound:            KindNotFound,
	NotFound:                 KindNotFound,
	Unavailable:              KindTransient,
	Internal:                 KindInternal,
}

// KindOfCode returns the kind a code belongs to.
func KindOfCode(c Code) Kind {
	if k, ok := kinds[c]; ok {
		return k
	}
	return KindInternal
}

// Error is a coded error with an optional cause.
type Error struct {
	Code  Code
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Kind reports the error's kind.
func (e *Error) Kind() Kind { return KindOfCode(e.Code) }

// New builds a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags cause with code, recording a stack at the wrap site.
func Wrap(cause error, code Code, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Msg: msg, cause: errors.WithStack(cause)}
}

// CodeOf extracts the code from err, Internal when untagged.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// KindOf extracts the kind from err.
func KindOf(err error) Kind {
	return KindOfCode(CodeOf(err))
}

// Message returns the coded message without the cause chain.
func Message(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// Sentinels for errors.Is.
var (
	ErrAmountNonPositive        = New(AmountNonPositive, "amount must be positive")
	ErrUnknownSymbol            = New(UnknownSymbol, "unknown symbol")
	ErrInstrumentUntradeable    = New(InstrumentUntradeable, "instrument is not tradeable")
	ErrEarlyCloseDisabled       = New(EarlyCloseDisabled, "early close is disabled")
	ErrTradingDisabled          = New(TradingDisabled, "trading is disabled")
	ErrInvalidArgument          = New(InvalidArgument, "invalid argument")
	ErrUserBlocked              = New(UserBlocked, "user is blocked")
	ErrUserFrozen               = New(UserFrozen, "user is frozen")
	ErrUnauthenticated          = New(Unauthenticated, "unauthenticated")
	ErrForbidden                = New(Forbidden, "forbidden")
	ErrInsufficientFunds        = New(InsufficientFunds, "insufficient funds")
	ErrDuplicateKey             = New(DuplicateKey, "duplicate key")
	ErrStateTransitionForbidden = New(StateTransitionForbidden, "state transition forbidden")
	ErrTradeNotFound            = New(TradeNotFound, "trade not found")
	ErrTradeNotActive           = New(TradeNotActive, "trade is not active")
	ErrNotFound                 = New(NotFound, "not found")
	ErrUnavailable              = New(Unavailable, "temporarily unavailable")
	ErrInternal                 = New(Internal, "internal error")
)
