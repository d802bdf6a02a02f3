package rootchain

import (
	"errors"
	"fmt"
)

// ErrorType is the category of a rejected ledger call.
type ErrorType int

const (
	ErrorTypeValidation ErrorType = iota
	ErrorTypeOrderViolation
	ErrorTypeAlreadyChallenged
	ErrorTypeDoubleFinalization
	ErrorTypeNotFound
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeOrderViolation:
		return "order_violation"
	case ErrorTypeAlreadyChallenged:
		return "already_challenged"
	case ErrorTypeDoubleFinalization:
		return "double_finalization"
	case ErrorTypeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Sentinel causes, matched with errors.Is.
var (
	ErrInvalidBond            = errors.New("invalid bond")
	ErrInvalidBlockKind       = errors.New("invalid block kind")
	ErrBlockKindMismatch      = errors.New("block kind does not match the open epoch")
	ErrEpochOverflow          = errors.New("block number outside the open epoch")
	ErrNotCurrentFork         = errors.New("not the current fork")
	ErrNotOperator            = errors.New("caller is not the operator")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidAsset           = errors.New("invalid asset")
	ErrNotPrepared            = errors.New("user-activated exit not prepared")
	ErrAlreadyPrepared        = errors.New("user-activated exit already prepared")
	ErrForkNotSettled         = errors.New("current fork's user-activated block is not finalized")
	ErrNoUserRequests         = errors.New("no user-activated requests to include")
	ErrBlockNotFinalized      = errors.New("block is not finalized")
	ErrNotRequestBlock        = errors.New("block carries no requests")
	ErrRequestIndexOutOfRange = errors.New("request index out of range")
	ErrNotExit                = errors.New("request is not an exit")
	ErrRequestFinalized       = errors.New("request settled, challenge window closed")
	ErrInvalidProof           = errors.New("invalid challenge proof")
	ErrInvalidRequestKind     = errors.New("invalid request kind")

	ErrUnknownFork         = errors.New("unknown fork")
	ErrUnknownBlock        = errors.New("unknown block")
	ErrUnknownEpoch        = errors.New("unknown epoch")
	ErrUnknownRequest      = errors.New("unknown request")
	ErrUnknownRequestBlock = errors.New("unknown request block")

	ErrOrderViolation     = errors.New("out-of-order finalization")
	ErrAlreadyChallenged  = errors.New("request already challenged")
	ErrDoubleFinalization = errors.New("request already finalized")
)

// Error is a rejected ledger call. A rejected call never mutates state.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rootchain %s error: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("rootchain %s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an error of the given type.
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithCause sets the cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithContext adds context information.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func validationErr(cause error, format string, args ...interface{}) *Error {
	return NewError(ErrorTypeValidation, fmt.Sprintf(format, args...)).WithCause(cause)
}

func notFoundErr(cause error, format string, args ...interface{}) *Error {
	return NewError(ErrorTypeNotFound, fmt.Sprintf(format, args...)).WithCause(cause)
}

// TypeOf returns the ErrorType of err and whether err is a ledger error.
func TypeOf(err error) (ErrorType, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Type, true
	}
	return 0, false
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	t, ok := TypeOf(err)
	return ok && t == ErrorTypeValidation
}
