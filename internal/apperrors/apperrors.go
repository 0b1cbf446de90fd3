// Package apperrors defines the closed set of error kinds the platform
// surfaces at its API boundary, mirroring the exception hierarchy of the
// conversational booking engine this system replaces.
package apperrors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind is a closed sum type of error categories. Every Error carries exactly
// one Kind and translates to a fixed HTTP status at the API boundary.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuthentication     Kind = "authentication"
	KindAuthorization      Kind = "authorization"
	KindResourceNotFound   Kind = "resource_not_found"
	KindExternalService    Kind = "external_service"
	KindToken              Kind = "token"
	KindRateLimit          Kind = "rate_limit"
	KindConversation       Kind = "conversation"
	KindBusinessLogic      Kind = "business_logic"
	KindConfiguration      Kind = "configuration"
)

// httpStatus maps each Kind to its fixed HTTP status per spec §7.
var httpStatus = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindAuthentication:   http.StatusUnauthorized,
	KindAuthorization:    http.StatusForbidden,
	KindResourceNotFound: http.StatusNotFound,
	KindExternalService:  http.StatusBadGateway,
	KindToken:            http.StatusUnauthorized,
	KindRateLimit:        http.StatusTooManyRequests,
	KindConversation:     http.StatusBadRequest,
	KindBusinessLogic:    http.StatusBadRequest,
	KindConfiguration:    http.StatusInternalServerError,
}

// Error is the single error type returned across the platform's boundaries.
type Error struct {
	Kind    Kind           `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	// RetryAfterSeconds is only meaningful for KindRateLimit.
	RetryAfterSeconds int `json:"-"`

	// wrapped is the underlying cause, if any, for errors.Is/As support.
	wrapped error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.wrapped
}

// HTTPStatus returns the fixed HTTP status code for this error's Kind.
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	if status, ok := httpStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// envelope is the wire shape: {"error":{"code","message","details"}}.
type envelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// MarshalJSON renders the {"error":{...}} envelope required at the API boundary.
func (e *Error) MarshalJSON() ([]byte, error) {
	var env envelope
	env.Error.Code = e.Code
	env.Error.Message = e.Message
	env.Error.Details = e.Details
	return json.Marshal(env)
}

func newErr(kind Kind, code, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

// Validation builds a 400 validation error, optionally naming the offending field.
func Validation(message, field string) *Error {
	var details map[string]any
	if field != "" {
		details = map[string]any{"field": field}
	}
	return newErr(KindValidation, "VALIDATION_ERROR", message, details)
}

// Authentication builds a 401 authentication error.
func Authentication(message string) *Error {
	if message == "" {
		message = "authentication failed"
	}
	return newErr(KindAuthentication, "AUTHENTICATION_ERROR", message, nil)
}

// Authorization builds a 403 authorization error.
func Authorization(message string) *Error {
	if message == "" {
		message = "insufficient permissions"
	}
	return newErr(KindAuthorization, "AUTHORIZATION_ERROR", message, nil)
}

// NotFound builds a 404 resource-not-found error.
func NotFound(resourceType, resourceID string) *Error {
	message := resourceType + " not found"
	if resourceID != "" {
		message += ": " + resourceID
	}
	return newErr(KindResourceNotFound, "RESOURCE_NOT_FOUND", message, map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	})
}

// ExternalService builds a 502 error naming the upstream service that failed.
func ExternalService(service, message string, cause error) *Error {
	e := newErr(KindExternalService, "EXTERNAL_SERVICE_ERROR", fmt.Sprintf("%s error: %s", service, message), map[string]any{
		"service": service,
	})
	e.wrapped = cause
	return e
}

// Token builds a 401 token error, used for CRM OAuth refresh failures.
func Token(message, tenantID string) *Error {
	var details map[string]any
	if tenantID != "" {
		details = map[string]any{"tenant_id": tenantID}
	}
	return newErr(KindToken, "TOKEN_ERROR", message, details)
}

// RateLimit builds a 429 error carrying a Retry-After hint.
func RateLimit(retryAfterSeconds int) *Error {
	details := map[string]any{}
	if retryAfterSeconds > 0 {
		details["retry_after"] = retryAfterSeconds
	}
	e := newErr(KindRateLimit, "RATE_LIMIT_EXCEEDED", "rate limit exceeded", details)
	e.RetryAfterSeconds = retryAfterSeconds
	return e
}

// Conversation builds a 400 error for an invalid conversation state transition.
func Conversation(message, conversationID string) *Error {
	var details map[string]any
	if conversationID != "" {
		details = map[string]any{"conversation_id": conversationID}
	}
	return newErr(KindConversation, "CONVERSATION_ERROR", message, details)
}

// BusinessLogic builds a 400 error for a business-rule violation (e.g. delete in-use tier).
func BusinessLogic(message string, details map[string]any) *Error {
	return newErr(KindBusinessLogic, "BUSINESS_LOGIC_ERROR", message, details)
}

// Configuration builds a 500 error for missing/invalid startup configuration.
func Configuration(message string, details map[string]any) *Error {
	return newErr(KindConfiguration, "CONFIGURATION_ERROR", message, details)
}

// WriteJSON writes the error envelope with its matching HTTP status code.
func WriteJSON(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	if err.Kind == KindRateLimit && err.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", err.RetryAfterSeconds))
	}
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(err)
}

// As extracts an *Error from any error chain, for boundary-layer translation.
func As(err error) (*Error, bool) {
	var target *Error
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	type wrapper interface{ Unwrap() error }
	for w, ok := err.(wrapper); ok; w, ok = err.(wrapper) {
		err = w.Unwrap()
		if e, ok := err.(*Error); ok {
			target = e
			return target, true
		}
	}
	return nil, false
}
