// Package errors defines the error taxonomy shared by the index builder,
// the field parser and the batch processor.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeUnknown            = "UNKNOWN_ERROR"
	CodeInvalidMagic       = "INVALID_MAGIC"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"
	CodeCorruptedData      = "CORRUPTED_DATA"
	CodeIOError            = "IO_ERROR"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeConfigError        = "CONFIG_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeCacheError         = "CACHE_ERROR"
)

// Stage names the part of the read path that failed.
type Stage string

const (
	StageNone        Stage = ""
	StageHeader      Stage = "header"
	StageStringTable Stage = "string_table"
	StageRecord      Stage = "record"
	StageIndexCache  Stage = "index_cache"
)

// NoOffset marks an error that is not tied to a byte position.
const NoOffset int64 = -1

// AppError represents an application error with a code and message.
// Stage and Offset locate the failure inside the file when known.
type AppError struct {
	Code    string
	Stage   Stage
	Offset  int64
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	where := ""
	if e.Stage != StageNone {
		where = " " + string(e.Stage)
	}
	if e.Offset >= 0 {
		where += fmt.Sprintf(" @%d", e.Offset)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s]%s %s: %v", e.Code, where, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s]%s %s", e.Code, where, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Offset:  NoOffset,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Offset:  NoOffset,
		Message: message,
		Err:     err,
	}
}

// At returns a copy of e located at the given stage and byte offset.
func (e *AppError) At(stage Stage, offset int64) *AppError {
	c := *e
	c.Stage = stage
	c.Offset = offset
	return &c
}

// InvalidMagic reports a header signature mismatch.
func InvalidMagic(expected, actual string) *AppError {
	return New(CodeInvalidMagic, fmt.Sprintf("expected magic %q, got %q", expected, actual)).At(StageHeader, 0)
}

// UnsupportedVersion reports a header version outside the compatible range.
func UnsupportedVersion(version, min, max uint32) *AppError {
	return New(CodeUnsupportedVersion, fmt.Sprintf("version %d not in supported range %d..%d", version, min, max)).At(StageHeader, 8)
}

// Corrupted reports malformed data at the given stage and offset.
func Corrupted(stage Stage, offset int64, format string, args ...interface{}) *AppError {
	return New(CodeCorruptedData, fmt.Sprintf(format, args...)).At(stage, offset)
}

// CorruptedWrap is Corrupted with an underlying cause.
func CorruptedWrap(stage Stage, offset int64, err error, format string, args ...interface{}) *AppError {
	return Wrap(CodeCorruptedData, fmt.Sprintf(format, args...), err).At(stage, offset)
}

// IO wraps a read, seek or write failure.
func IO(stage Stage, offset int64, message string, err error) *AppError {
	return Wrap(CodeIOError, message, err).At(stage, offset)
}

// Common error instances.
var (
	ErrInvalidMagic       = New(CodeInvalidMagic, "invalid magic")
	ErrUnsupportedVersion = New(CodeUnsupportedVersion, "unsupported version")
	ErrCorruptedData      = New(CodeCorruptedData, "corrupted data")
	ErrIOError            = New(CodeIOError, "io error")
	ErrInvalidInput       = New(CodeInvalidInput, "invalid input")
	ErrConfigError        = New(CodeConfigError, "configuration error")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrCacheError         = New(CodeCacheError, "index cache error")
)

// IsInvalidMagic checks if the error is a header signature mismatch.
func IsInvalidMagic(err error) bool {
	return errors.Is(err, ErrInvalidMagic)
}

// IsUnsupportedVersion checks if the error is a header version mismatch.
func IsUnsupportedVersion(err error) bool {
	return errors.Is(err, ErrUnsupportedVersion)
}

// IsCorruptedData checks if the error reports malformed data.
func IsCorruptedData(err error) bool {
	return errors.Is(err, ErrCorruptedData)
}

// IsIOError checks if the error wraps an I/O failure.
func IsIOError(err error) bool {
	return errors.Is(err, ErrIOError)
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) Stage {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Stage
	}
	return StageNone
}

// OffsetOf returns the byte offset recorded on err, or NoOffset.
func OffsetOf(err error) int64 {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Offset
	}
	return NoOffset
}
