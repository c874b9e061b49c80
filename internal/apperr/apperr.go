// Package apperr defines the tagged error taxonomy shared across the
// storage, cache, transform, parameter, and lifecycle domains, so the
// request handler can map any error it sees to an HTTP status without
// type-switching on every concrete error type.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain groups related error codes.
type Domain string

const (
	DomainStorage   Domain = "storage"
	DomainCache     Domain = "cache"
	DomainTransform Domain = "transform"
	DomainParameter Domain = "parameter"
	DomainLifecycle Domain = "lifecycle"
)

// Code identifies one error kind within a domain.
type Code string

const (
	CodeStorageNotFound         Code = "storage.not_found"
	CodeStorageUnavailable      Code = "storage.unavailable"
	CodeStorageTimeout          Code = "storage.timeout"
	CodeStorageAllSourcesFailed Code = "storage.all_sources_failed"
	CodeStorageAuthFailed       Code = "storage.auth_failed"

	CodeCacheRead        Code = "cache.read"
	CodeCacheWrite       Code = "cache.write"
	CodeCacheUnavailable Code = "cache.unavailable"
	CodeCacheTagGen      Code = "cache.tag_generation"

	CodeTransformFailed     Code = "transform.failed"
	CodeTransformInvalidOpt Code = "transform.invalid_option"

	CodeParameterInvalid Code = "parameter.invalid"
	CodeParameterUnknown Code = "parameter.unknown"

	CodeLifecycleInitTimeout    Code = "lifecycle.init_timeout"
	CodeLifecycleCriticalFailed Code = "lifecycle.critical_service_failed"

	CodeClientClosed Code = "request.client_closed"
)

// Error is the tagged error value propagated through the pipeline.
type Error struct {
	Domain    Domain
	Code      Code
	Status    int
	Retryable bool
	Details   map[string]any
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(domain Domain, code Code, status int, retryable bool, err error) *Error {
	return &Error{Domain: domain, Code: code, Status: status, Retryable: retryable, Err: err}
}

func StorageNotFound(err error) *Error {
	return new_(DomainStorage, CodeStorageNotFound, http.StatusNotFound, false, err)
}

func StorageUnavailable(err error) *Error {
	return new_(DomainStorage, CodeStorageUnavailable, http.StatusBadGateway, true, err)
}

func StorageTimeout(err error) *Error {
	return new_(DomainStorage, CodeStorageTimeout, http.StatusGatewayTimeout, true, err)
}

func StorageAllSourcesFailed(errs map[string]error) *Error {
	details := make(map[string]any, len(errs))
	for source, err := range errs {
		details[source] = err.Error()
	}
	return &Error{
		Domain: DomainStorage, Code: CodeStorageAllSourcesFailed,
		Status: http.StatusBadGateway, Retryable: false, Details: details,
	}
}

func StorageAuthFailed(err error) *Error {
	return new_(DomainStorage, CodeStorageAuthFailed, http.StatusForbidden, false, err)
}

func CacheRead(err error) *Error {
	return new_(DomainCache, CodeCacheRead, http.StatusInternalServerError, true, err)
}

func CacheWrite(err error) *Error {
	return new_(DomainCache, CodeCacheWrite, http.StatusInternalServerError, true, err)
}

func CacheUnavailable(err error) *Error {
	return new_(DomainCache, CodeCacheUnavailable, http.StatusInternalServerError, false, err)
}

func CacheTagGeneration(err error) *Error {
	return new_(DomainCache, CodeCacheTagGen, http.StatusInternalServerError, false, err)
}

func TransformFailed(err error) *Error {
	return new_(DomainTransform, CodeTransformFailed, http.StatusInternalServerError, false, err)
}

func TransformInvalidOption(err error) *Error {
	return new_(DomainTransform, CodeTransformInvalidOpt, http.StatusBadRequest, false, err)
}

func ParameterInvalid(err error) *Error {
	return new_(DomainParameter, CodeParameterInvalid, http.StatusOK, false, err)
}

func ParameterUnknown(err error) *Error {
	return new_(DomainParameter, CodeParameterUnknown, http.StatusOK, false, err)
}

func LifecycleInitTimeout(err error) *Error {
	return new_(DomainLifecycle, CodeLifecycleInitTimeout, http.StatusInternalServerError, false, err)
}

func LifecycleCriticalServiceFailed(err error) *Error {
	return new_(DomainLifecycle, CodeLifecycleCriticalFailed, http.StatusInternalServerError, false, err)
}

// ClientClosed reports a request that was cancelled by its originator
// before a meaningful response could be produced.
func ClientClosed() *Error {
	return &Error{Domain: DomainStorage, Code: CodeClientClosed, Status: 499, Retryable: false}
}

// Retryable reports whether err (if it is or wraps an *Error) should be retried.
func Retryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// StatusFor maps err to the HTTP status code the handler should write.
// Errors that are not an *apperr.Error map to 500.
func StatusFor(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}
