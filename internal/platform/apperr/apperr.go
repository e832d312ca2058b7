// Package apperr defines the error taxonomy shared by every domain service.
// Services return *Error values; the HTTP error handler maps them to status
// codes and the failure envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDomain
	KindNotFound
	KindConflict
)

// Code is a stable machine-readable identifier carried by domain errors.
type Code string

const (
	CodeValidation                Code = "VALIDATION_ERROR"
	CodeNotFound                  Code = "NOT_FOUND"
	CodeInternal                  Code = "INTERNAL_ERROR"
	CodeOperationInProgress       Code = "OPERATION_IN_PROGRESS"
	CodeInvalidReferralState      Code = "INVALID_REFERRAL_STATE"
	CodeAlreadyDischarged         Code = "ALREADY_DISCHARGED"
	CodeAdmissionExists           Code = "ADMISSION_EXISTS"
	CodeAdmissionReferralMismatch Code = "ADMISSION_REFERRAL_MISMATCH"
	CodeUnauthorizedPA            Code = "UNAUTHORIZED_PA"
	CodeMissingAuthorization      Code = "MISSING_AUTHORIZATION"
	CodeDuplicateClaim            Code = "DUPLICATE_CLAIM"
	CodeEmptyClaim                Code = "EMPTY_CLAIM"
	CodeInvalidTransition         Code = "INVALID_TRANSITION"
	CodeClaimHasCriticalAlerts    Code = "CLAIM_HAS_CRITICAL_ALERTS"
	CodeApprovedAmountOutOfRange  Code = "APPROVED_AMOUNT_OUT_OF_RANGE"
	CodeClaimBatched              Code = "CLAIM_BATCHED"
	CodeNoEligibleClaims          Code = "NO_ELIGIBLE_CLAIMS"
	CodeInvalidBatchState         Code = "INVALID_BATCH_STATE"
)

type Error struct {
	Kind    Kind
	Code    Code
	Message string
	// Fields maps request field names to validation messages.
	Fields  map[string]string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error carrying the same code, so callers can write
// errors.Is(err, apperr.Domain(apperr.CodeDuplicateClaim, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindDomain:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail attaches a key to the error's details and returns the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: "validation failed", Fields: fields}
}

// Field is shorthand for a validation error on a single field.
func Field(name, msg string) *Error {
	return Validation(map[string]string{name: msg})
}

func Domain(code Code, msg string) *Error {
	return &Error{Kind: KindDomain, Code: code, Message: msg}
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: resource + " not found"}
}

func Conflict(code Code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or "" when err
// carries none.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindNotFound
}
