package conduit

import (
	"errors"
	"fmt"
)

// Code is the machine-readable routing failure classification. The set is
// closed; HTTP handlers and CLI exit codes key off these values.
type Code string

const (
	CodeInvalidRequest        Code = "invalid_request"
	CodeProviderNotConfigured Code = "provider_not_configured"
	CodeNoAvailableProvider   Code = "no_available_provider"
	CodeAllProvidersFailed    Code = "all_providers_failed"
	CodeDeadlineExceeded      Code = "deadline_exceeded"
	CodeCredentialCorrupt     Code = "credential_corrupt"
	CodePersistence           Code = "persistence_error"
	CodeSuggestionParse       Code = "suggestion_parse_error"
)

// RouteError is the error type returned by Router.Generate and the refresh
// flow. Attempts carries the per-provider failure trail when the router
// exhausted its candidates.
type RouteError struct {
	Code     Code
	Message  string
	Attempts []Attempt
	err      error
}

func (e *RouteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *RouteError) Unwrap() error { return e.err }

// NewRouteError builds a RouteError wrapping cause (which may be nil).
func NewRouteError(code Code, message string, cause error) *RouteError {
	return &RouteError{Code: code, Message: message, err: cause}
}

// AsRouteError extracts a *RouteError from err's chain.
func AsRouteError(err error) (*RouteError, bool) {
	var re *RouteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
