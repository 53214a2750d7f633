package ingest

import (
	"fmt"
	"net/http"
)

// Code names an ingest failure. Codes are stable and returned to clients.
type Code string

const (
	CodeNoFile          Code = "NO_FILE"
	CodeLimitFiles      Code = "LIMIT_FILES"
	CodeEmptyFile       Code = "EMPTY_FILE"
	CodeLimitFileSize   Code = "LIMIT_FILE_SIZE"
	CodeInvalidMIMEType Code = "INVALID_MIME_TYPE"
	CodeStorage         Code = "STORAGE_ERROR"
)

// Error is the only error type Ingest returns.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the code to an HTTP status.
func (e *Error) Status() int {
	switch e.Code {
	case CodeNoFile, CodeLimitFiles, CodeEmptyFile:
		return http.StatusBadRequest
	case CodeLimitFileSize:
		return http.StatusRequestEntityTooLarge
	case CodeInvalidMIMEType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func fail(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}
