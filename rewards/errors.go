package rewards

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned to a client carries exactly one.
const (
	KindValidation   = "validation"
	KindBusinessRule = "business_rule"
	KindNetwork      = "network"
	KindTimeout      = "timeout"
	KindNotFound     = "not_found"
)

// Machine-readable error codes.
const (
	CodeInvalidID           = "invalid_id"
	CodeInvalidCountry      = "invalid_country"
	CodeInvalidDates        = "invalid_dates"
	CodeInvalidName         = "invalid_name"
	CodeInvalidAmount       = "invalid_amount"
	CodeInvalidHash         = "invalid_hash"
	CodeInvalidWaitParams   = "invalid_wait_parameters"
	CodeInvalidOperation    = "invalid_operation"
	CodeInvalidRequest      = "invalid_request"
	CodeAlreadyRegistered   = "already_registered"
	CodeAlreadyIssued       = "already_issued_today"
	CodeDailyCapExceeded    = "daily_cap_exceeded"
	CodeInsufficientBalance = "insufficient_balance"
	CodeLedgerRejected      = "ledger_rejected"
	CodeTouristNotFound     = "tourist_not_found"
	CodeRestaurantNotFound  = "restaurant_not_found"
	CodeParticipantNotFound = "participant_not_found"
	CodeTxNotFound          = "transaction_not_found"
	CodeLedgerUnreachable   = "ledger_unreachable"
	CodeConfirmationTimeout = "confirmation_timeout"
)

// Error is the client-facing error: a kind that drives the HTTP status, a stable code and a human message.
type Error struct {
	Kind  string `json:"kind"`
	Code  string `json:"code"`
	Msg   string `json:"message"`
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

func errValidation(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func errBusinessRule(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func errNotFound(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func errNetwork(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNetwork, Code: CodeLedgerUnreachable, Msg: fmt.Sprintf(format, args...), cause: cause}
}

func errTimeout(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTimeout, Code: CodeConfirmationTimeout, Msg: fmt.Sprintf(format, args...)}
}

// ErrKind returns the kind of err, or empty when err carries no taxonomy.
func ErrKind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ErrCode returns the machine-readable code of err, or empty.
func ErrCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusFor maps an error to the HTTP status the API replies with.
func StatusFor(err error) int {
	switch ErrKind(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindBusinessRule:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
