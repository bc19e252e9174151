package apperr

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure in the order saga.
type Kind int

const (
	KindNotFound Kind = iota
	KindInvalidState
	KindInvalidArgument
	KindInsufficientStock
	KindEventPublication
	KindStockUpdate
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindInvalidState:
		return "INVALID_STATE"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case KindEventPublication:
		return "EVENT_PUBLICATION"
	case KindStockUpdate:
		return "STOCK_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// ErrOutcomeUnknown marks a remote call that may or may not have been applied,
// such as a request that timed out after it was sent.
var ErrOutcomeUnknown = errors.New("outcome unknown")

// Error carries a Kind alongside the message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports a missing order or product.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports a transition that is not allowed from the current status.
func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports bad input detected before any side effect.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStock reports a reduction larger than the available quantity.
func InsufficientStock(productID int64, requested, available int) *Error {
	return &Error{
		Kind:    KindInsufficientStock,
		Message: fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", productID, requested, available),
	}
}

// EventPublication wraps any broker, encoding or cancellation failure while publishing.
func EventPublication(err error, format string, args ...any) *Error {
	return &Error{Kind: KindEventPublication, Message: fmt.Sprintf(format, args...), Err: err}
}

// StockUpdate wraps a per-product failure during the post-payment decrement.
func StockUpdate(productID int64, err error) *Error {
	return &Error{
		Kind:    KindStockUpdate,
		Message: fmt.Sprintf("failed to update stock for product %d", productID),
		Err:     err,
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsNotFound(err error) bool          { return is(err, KindNotFound) }
func IsInvalidState(err error) bool      { return is(err, KindInvalidState) }
func IsInvalidArgument(err error) bool   { return is(err, KindInvalidArgument) }
func IsInsufficientStock(err error) bool { return is(err, KindInsufficientStock) }
func IsEventPublication(err error) bool  { return is(err, KindEventPublication) }
func IsStockUpdate(err error) bool       { return is(err, KindStockUpdate) }

// New builds an error of kind with a fixed message, used when a kind crosses
// a process boundary.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k := KindNotFound; k <= KindStockUpdate; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}
