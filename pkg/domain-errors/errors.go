// Package domainerrors carries coded errors across service boundaries.
//
// Stores speak in pkg/platform/sentinel facts; services translate those into a
// coded error here so transports can map them to a wire status and clients can
// branch on a stable identifier instead of matching message text.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error identifier.
type Code string

// Generic codes shared by every surface.
const (
	CodeValidation         Code = "validation_failed"
	CodeInvalidInput       Code = "invalid_input"
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"
)

// Registry lifecycle codes. Clients distinguish these, so each failure mode of
// the civil-status machine gets its own identifier rather than a generic 409.
const (
	CodeDuplicateProposal       Code = "duplicate_proposal"
	CodeIdentityAlreadyMarried  Code = "identity_already_married"
	CodeIdentityAlreadyConsumed Code = "identity_already_consumed"
	CodeInvalidProof            Code = "invalid_proof"
	CodeProposalNotFound        Code = "proposal_not_found"
	CodeProposalExpired         Code = "proposal_expired"
	CodeAlreadyAccepted         Code = "already_accepted"
	CodeNotAuthorized           Code = "not_authorized"
	CodeMarriageNotFound        Code = "marriage_not_found"
	CodeMarriageNotActive       Code = "marriage_not_active"
)

// Error is a coded domain error. It wraps an optional cause for logs while the
// code and message are what crosses the wire.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match coded errors against a constructed target by code
// and message, which is how tests assert on exact failures.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code && e.Message == other.Message
}

// New builds a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause. A nil cause yields nil
// so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is a readability alias for HasCode, matching how tests assert on codes.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf extracts the code from err, defaulting to CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to its HTTP status for the JSON error envelope.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeNotAuthorized:
		return http.StatusForbidden
	case CodeNotFound, CodeProposalNotFound, CodeMarriageNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeDuplicateProposal, CodeIdentityAlreadyMarried,
		CodeIdentityAlreadyConsumed, CodeAlreadyAccepted, CodeMarriageNotActive:
		return http.StatusConflict
	case CodeProposalExpired:
		return http.StatusGone
	case CodeInvalidProof:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
