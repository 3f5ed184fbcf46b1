// Package errors defines the engine's error taxonomy.
//
// Every failure an operation surfaces to callers is an *Error with one of the
// codes below, so reporting layers can branch on GetCode without string
// matching. Validation and transmission failures happen before anything is
// polled; the rest describe how a polling loop ended.
package errors

import (
	"errors"
	"strconv"
)

// Code is a machine-readable error class.
type Code string

const (
	// CodeUnknown is returned by GetCode for foreign errors.
	CodeUnknown Code = "UNKNOWN"
	// CodeValidation: malformed input detected before dispatch.
	CodeValidation Code = "VALIDATION"
	// CodeTransmission: signing or transport of a command failed.
	CodeTransmission Code = "TRANSMISSION"
	// CodeTimeout: the retry budget ran out without a terminal classification.
	CodeTimeout Code = "TIMEOUT"
	// CodeRemote: a process reported the declared error outcome.
	CodeRemote Code = "REMOTE"
	// CodeDepositUnresolved: deposit checks answered but never resolved.
	CodeDepositUnresolved Code = "DEPOSIT_UNRESOLVED"
	// CodeCompensationFailure: a corrective Cancel-Allow failed, leaving funds claimed.
	CodeCompensationFailure Code = "COMPENSATION_FAILURE"
)

// Metadata keys.
const (
	MetaAttempts      = "attempts"
	MetaCorrelationID = "correlation_id"
	MetaOperation     = "operation"
	MetaAction        = "action"
	MetaAllowTxID     = "allow_tx_id"
	MetaField         = "field"
)

// Error is a coded engine error.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error returns the message. Remote errors return the remote text unchanged.
func (e *Error) Error() string {
	if e.Cause != nil && e.Code != CodeRemote {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code so errors.Is(err, &Error{Code: CodeTimeout}) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithMetadata creates an error with metadata attached.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// GetCode extracts the code from any error, or CodeUnknown.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// GetMetadata returns the metadata of the outermost *Error in the chain.
func GetMetadata(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Metadata
	}
	return nil
}

// Validation reports a missing or malformed input field.
func Validation(field, message string) *Error {
	return WithMetadata(CodeValidation, message, map[string]string{MetaField: field})
}

// Transmission wraps a dispatch failure for action.
func Transmission(action string, cause error) *Error {
	return &Error{
		Code:     CodeTransmission,
		Message:  "transmit " + action,
		Metadata: map[string]string{MetaAction: action},
		Cause:    cause,
	}
}

// Timeout reports an exhausted polling budget. The remote command may still
// complete; correlationID lets callers keep polling on their own.
func Timeout(operation, correlationID string, attempts int) *Error {
	return WithMetadata(CodeTimeout, "no terminal outcome for "+operation+" after "+strconv.Itoa(attempts)+" attempts", map[string]string{
		MetaOperation:     operation,
		MetaCorrelationID: correlationID,
		MetaAttempts:      strconv.Itoa(attempts),
	})
}

// Remote carries the text a process attached to its error outcome, verbatim.
func Remote(operation, text string) *Error {
	return WithMetadata(CodeRemote, text, map[string]string{MetaOperation: operation})
}

// DepositUnresolved reports that every deposit check came back unresolved.
func DepositUnresolved(depositTxID string, attempts int, lastStatus string) *Error {
	return WithMetadata(CodeDepositUnresolved, "deposit "+depositTxID+" unresolved after "+strconv.Itoa(attempts)+" checks (last status "+lastStatus+")", map[string]string{
		MetaAttempts: strconv.Itoa(attempts),
	})
}

// CompensationFailure reports that releasing allowTxID failed. cause is the
// compensation failure; original is the failure that triggered compensation.
func CompensationFailure(allowTxID string, original, cause error) *Error {
	msg := "cancel allowance " + allowTxID
	if original != nil {
		msg += " after " + original.Error()
	}
	return &Error{
		Code:     CodeCompensationFailure,
		Message:  msg,
		Metadata: map[string]string{MetaAllowTxID: allowTxID},
		Cause:    cause,
	}
}
