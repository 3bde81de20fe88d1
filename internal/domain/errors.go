package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAborted is the cause recorded when an engine's abort signal fires.
var ErrAborted = errors.New("request aborted")

// ConfigurationError reports a missing credential or malformed options.
type ConfigurationError struct {
	Service string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Service == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("%s: configuration error: %s", e.Service, e.Message)
}

// TransportError reports a non-2xx response or a network failure.
type TransportError struct {
	Service    string
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Service, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: transport error: %s", e.Service, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// AbortError reports that a request was cancelled mid-flight.
type AbortError struct {
	Service string
	Cause   error
}

func (e *AbortError) Error() string {
	if e.Service == "" {
		return "request aborted"
	}
	return e.Service + ": request aborted"
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}

// DecodeError reports a malformed wire payload.
type DecodeError struct {
	Message string
	Data    []byte
	Cause   error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode error: %s: %v", e.Message, e.Cause)
	}
	return "decode error: " + e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// LookupError reports a model with no price table entry.
type LookupError struct {
	Service string
	Model   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no price entry for %s/%s", e.Service, e.Model)
}

// IsAbort reports whether err is, or wraps, an AbortError.
func IsAbort(err error) bool {
	var target *AbortError
	return errors.As(err, &target)
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsDecode reports whether err is, or wraps, a DecodeError.
func IsDecode(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

// IsLookup reports whether err is, or wraps, a LookupError.
func IsLookup(err error) bool {
	var target *LookupError
	return errors.As(err, &target)
}
