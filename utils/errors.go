package utils

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a proxy failure. Codes are stable and are
// reported to clients inside SOAP faults.
type ErrorCode int

const (
	ErrNone ErrorCode = iota

	// user errors
	ErrNoInput
	ErrBadOperation
	ErrBadRequest
	ErrDataLoad
	ErrParseBackendOutput
	ErrParseMixedOutput
	ErrEmptyXML
	ErrContentType
	ErrContentHeaders

	// system errors
	ErrInternal
	ErrBackendExec
	ErrBackendOutput
	ErrConfigLoad
	ErrNotImplemented
)

var errorMessages = map[ErrorCode]string{
	ErrNoInput:            "S2P service ERROR: No input found.",
	ErrBadOperation:       "Unrecognized Operation",
	ErrBadRequest:         "Malformed Request",
	ErrDataLoad:           "Internal Error: Failed to load response.",
	ErrParseBackendOutput: "Error E0 parsing mapserver output.",
	ErrParseMixedOutput:   "Error E1 parsing mapserver output (multipart/mixed).",
	ErrEmptyXML:           "No XML found when expected, or bad XML in multipart/mixed response part.",
	ErrContentType:        "Unrecognised Content-type. See error log.",
	ErrContentHeaders:     "Error parsing Mapserver response headers",
	ErrInternal:           "Internal Processing Error",
	ErrBackendExec:        "Failed to execute Mapserver",
	ErrBackendOutput:      "Unexpected error processing Mapserver output",
	ErrConfigLoad:         "Failed to load required properties.",
	ErrNotImplemented:     "Not Implemented.",
}

var errorNames = map[ErrorCode]string{
	ErrNoInput:            "NoInput",
	ErrBadOperation:       "BadOperation",
	ErrBadRequest:         "BadRequest",
	ErrDataLoad:           "DataLoad",
	ErrParseBackendOutput: "ParseBackendOutput",
	ErrParseMixedOutput:   "ParseMixedOutput",
	ErrEmptyXML:           "EmptyXML",
	ErrContentType:        "ContentType",
	ErrContentHeaders:     "ContentHeaders",
	ErrInternal:           "Internal",
	ErrBackendExec:        "BackendExec",
	ErrBackendOutput:      "BackendOutput",
	ErrConfigLoad:         "ConfigLoad",
	ErrNotImplemented:     "NotImplemented",
}

func (c ErrorCode) String() string {
	if name, ok := errorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Message returns the client facing text for the code.
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return errorMessages[ErrInternal]
}

// IsUserError reports whether the failure was caused by the request
// rather than by the proxy or its backend.
func (c ErrorCode) IsUserError() bool {
	return c > ErrNone && c < ErrInternal
}

// ProxyError carries an error code together with diagnostic detail.
type ProxyError struct {
	Code   ErrorCode
	Detail string
	Err    error
}

func NewError(code ErrorCode, detail string) *ProxyError {
	return &ProxyError{Code: code, Detail: detail}
}

func WrapError(code ErrorCode, err error) *ProxyError {
	return &ProxyError{Code: code, Err: err}
}

func (e *ProxyError) Error() string {
	msg := e.Code.Message()
	if len(e.Detail) > 0 {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the error code of err, ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrInternal
}
