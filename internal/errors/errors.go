// Package errors defines the service error taxonomy returned at the request boundary.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable rejection code.
type ErrorCode string

const (
	CodeDecoding          ErrorCode = "DECODING_ERROR"
	CodeDecryption        ErrorCode = "DECRYPTION_ERROR"
	CodeCredentialMissing ErrorCode = "CREDENTIAL_MISSING"
	CodeCredentialInvalid ErrorCode = "CREDENTIAL_INVALID"
	CodeCredentialExpired ErrorCode = "CREDENTIAL_EXPIRED"

	CodeBadRequest        ErrorCode = "BAD_REQUEST"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInactiveUser      ErrorCode = "INACTIVE_USER"
	CodeBlackUser         ErrorCode = "BLACK_USER"
	CodeInvalidUser       ErrorCode = "INVALID_USER"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error carrying the client-visible rejection and the internal cause.
// Only Code, Message and Details are ever written to the caller.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ServiceError with the same code.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value

	cp := *e
	cp.Details = details
	return &cp
}

// Sentinels for errors.Is comparisons by code.
var (
	ErrDecoding          = &ServiceError{Code: CodeDecoding}
	ErrDecryption        = &ServiceError{Code: CodeDecryption}
	ErrCredentialMissing = &ServiceError{Code: CodeCredentialMissing}
	ErrCredentialInvalid = &ServiceError{Code: CodeCredentialInvalid}
	ErrCredentialExpired = &ServiceError{Code: CodeCredentialExpired}
)

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Err:        err,
	}
}

// DecodingFailed reports a body that is not valid encoded ciphertext.
func DecodingFailed(err error) *ServiceError {
	return newError(CodeDecoding, http.StatusBadRequest, "Request body is not valid encoded ciphertext", err)
}

// DecryptionFailed reports a ciphertext that cannot be decrypted under the configured key.
func DecryptionFailed(err error) *ServiceError {
	return newError(CodeDecryption, http.StatusBadRequest, "Request body could not be decrypted", err)
}

// CredentialMissing reports an absent bearer credential.
func CredentialMissing(header string) *ServiceError {
	return newError(CodeCredentialMissing, http.StatusUnauthorized, "Missing credential", nil).
		WithDetails("header", header)
}

// CredentialInvalid reports a malformed token, a bad signature or an unexpected algorithm.
func CredentialInvalid(reason string, err error) *ServiceError {
	return newError(CodeCredentialInvalid, http.StatusUnauthorized, "Invalid credential", err).
		WithDetails("reason", reason)
}

// CredentialExpired reports a token outside its validity window.
func CredentialExpired(err error) *ServiceError {
	return newError(CodeCredentialExpired, http.StatusUnauthorized, "Credential expired", err)
}

func BadRequest(message string, err error) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, err)
}

func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func NotFound(resource string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, resource+" not found", nil)
}

// InactiveUser, BlackUser and InvalidUser are the downstream account status rejections.
func InactiveUser() *ServiceError {
	return newError(CodeInactiveUser, http.StatusForbidden, "User is inactive", nil)
}

func BlackUser() *ServiceError {
	return newError(CodeBlackUser, http.StatusForbidden, "User is blocked", nil)
}

func InvalidUser(err error) *ServiceError {
	return newError(CodeInvalidUser, http.StatusNotFound, "User does not exist", err)
}

// RateLimitExceeded reports a caller over its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// IsClientError reports whether err maps to a 4xx rejection.
func IsClientError(err error) bool {
	se := GetServiceError(err)
	return se != nil && se.HTTPStatus >= 400 && se.HTTPStatus < 500
}
