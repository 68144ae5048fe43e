package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrInvalidStateTransition    ErrorKind = "INVALID_STATE_TRANSITION"
	ErrInvoiceNotAvailable       ErrorKind = "INVOICE_NOT_AVAILABLE"
	ErrFundingTermsNotSet        ErrorKind = "FUNDING_TERMS_NOT_SET"
	ErrInterestRateMismatch      ErrorKind = "INTEREST_RATE_MISMATCH"
	ErrTenureExceedsLimit        ErrorKind = "TENURE_EXCEEDS_LIMIT"
	ErrFundingAmountExceedsLimit ErrorKind = "FUNDING_AMOUNT_EXCEEDS_LIMIT"
	ErrDuplicateActiveOffer      ErrorKind = "DUPLICATE_ACTIVE_OFFER"
	ErrOfferNotActionable        ErrorKind = "OFFER_NOT_ACTIONABLE"
	ErrNotAuthorized             ErrorKind = "NOT_AUTHORIZED"
	ErrNotFound                  ErrorKind = "NOT_FOUND"
	ErrValidation                ErrorKind = "VALIDATION_FAILED"
)

// DomainError is a typed business-rule violation. It carries a stable kind so
// handlers can map it to an HTTP status and enough structured detail for the
// caller to explain the rejection.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewDomainError(kind ErrorKind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

func NewDomainErrorf(kind ErrorKind, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a structured detail value and returns the error for
// chaining.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func NewNotFound(entity string) *DomainError {
	return NewDomainErrorf(ErrNotFound, "%s not found", entity)
}

func NewNotAuthorized(message string) *DomainError {
	return NewDomainError(ErrNotAuthorized, message)
}

// KindOf extracts the domain-error kind from an error chain. The second
// return value is false for infrastructure errors.
func KindOf(err error) (ErrorKind, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
