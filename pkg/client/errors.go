package client

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a 200 response with an unreadable body.
	ErrorClassDecode ErrorClass = "decode"
)

// ErrNotOK matches any APIError produced by a non-200 status.
var ErrNotOK = errors.New("unexpected status")

// APIError describes a failed PandaScore request.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Endpoint   string
	Page       int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	where := e.Endpoint
	if e.Page > 0 {
		where = fmt.Sprintf("%s page %d", e.Endpoint, e.Page)
	}
	if e.Err != nil {
		return fmt.Sprintf("pandascore %s error on %s (status %d): %s: %v",
			e.ErrorClass, where, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("pandascore %s error on %s (status %d): %s",
		e.ErrorClass, where, e.StatusCode, e.Message)
}

// Unwrap exposes the transport error, or ErrNotOK for status failures.
func (e *APIError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.StatusCode != 0 {
		return ErrNotOK
	}
	return nil
}

// ClassifyStatus maps a non-200 HTTP status to an ErrorClass.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
