package entities

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrAuthentication        = errors.New("authentication error")
	ErrNotFound              = errors.New("resource not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrIntegrity             = errors.New("ledger integrity check failed")
	ErrInconsistentState     = errors.New("inconsistent ledger state")
	ErrTransport             = errors.New("transport error")
	ErrDecode                = errors.New("token decode error")
)

// Error is a domain failure that is reported back to the caller with Message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func NewError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error {
	return NewError(ErrValidation, format, args...)
}

func NotFoundf(format string, args ...any) error {
	return NewError(ErrNotFound, format, args...)
}

// IntegrityError points at the first block of a chain whose hash or link does not check out.
type IntegrityError struct {
	Institution string
	Index       uint64
	Reason      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger [%s] block [%d]: %s", e.Institution, e.Index, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// InconsistentStateError marks a transaction whose ledger posting did not complete.
// When RolledBack is false at least one institution in Committed holds the record and the
// balances were left mutated; the transaction needs manual reconciliation.
type InconsistentStateError struct {
	TransactionID string
	Committed     []string
	RolledBack    bool
	Cause         error
}

func (e *InconsistentStateError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "transaction [%s] failed during ledger posting", e.TransactionID)
	if e.RolledBack {
		sb.WriteString(", balances restored")
	} else {
		fmt.Fprintf(&sb, ", committed on %v", e.Committed)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

func (e *InconsistentStateError) Unwrap() []error {
	return []error{ErrInconsistentState, e.Cause}
}
