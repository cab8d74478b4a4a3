package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeInvalidInput, "empty path"),
			expected: "[INVALID_INPUT] empty path",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeCacheError, "store failed", errors.New("disk full")),
			expected: "[CACHE_ERROR] store failed: disk full",
		},
		{
			name:     "with stage and offset",
			err:      Corrupted(StageRecord, 128, "short read of %d bytes", 8),
			expected: "[CORRUPTED_DATA] record @128 short read of 8 bytes",
		},
		{
			name:     "with stage only",
			err:      New(CodeCorruptedData, "bad marker").At(StageStringTable, NoOffset),
			expected: "[CORRUPTED_DATA] string_table bad marker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := IO(StageHeader, 0, "read header", underlying)

	assert.Equal(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))
}

func TestAppError_Is(t *testing.T) {
	err1 := Corrupted(StageRecord, 10, "a")
	err2 := Corrupted(StageHeader, 0, "b")
	err3 := New(CodeIOError, "c")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestAppError_At(t *testing.T) {
	base := New(CodeCorruptedData, "bad")
	located := base.At(StageRecord, 42)

	assert.Equal(t, NoOffset, base.Offset)
	assert.Equal(t, StageRecord, located.Stage)
	assert.Equal(t, int64(42), located.Offset)
}

func TestClassifiers(t *testing.T) {
	wrapped := fmt.Errorf("build: %w", Corrupted(StageRecord, 99, "bad length"))

	tests := []struct {
		name  string
		check func(error) bool
		err   error
		want  bool
	}{
		{"invalid magic", IsInvalidMagic, InvalidMagic("MEMSCOPE", "XXXXXXXX"), true},
		{"unsupported version", IsUnsupportedVersion, UnsupportedVersion(9, 1, 2), true},
		{"corrupted wrapped by fmt", IsCorruptedData, wrapped, true},
		{"io error", IsIOError, IO(StageRecord, 5, "seek", errors.New("boom")), true},
		{"not found", IsNotFound, ErrNotFound, true},
		{"io is not corrupted", IsCorruptedData, ErrIOError, false},
		{"plain error", IsIOError, errors.New("plain"), false},
		{"nil error", IsCorruptedData, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeInvalidMagic, GetErrorCode(InvalidMagic("a", "b")))
	assert.Equal(t, CodeCorruptedData, GetErrorCode(fmt.Errorf("x: %w", ErrCorruptedData)))
	assert.Equal(t, CodeUnknown, GetErrorCode(errors.New("plain")))
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "resource not found", GetErrorMessage(ErrNotFound))
	assert.Equal(t, "plain", GetErrorMessage(errors.New("plain")))
	assert.Equal(t, "", GetErrorMessage(nil))
}

func TestStageAndOffsetOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", Corrupted(StageRecord, 4096, "frame"))

	assert.Equal(t, StageRecord, StageOf(err))
	assert.Equal(t, int64(4096), OffsetOf(err))
	assert.Equal(t, StageNone, StageOf(errors.New("plain")))
	assert.Equal(t, NoOffset, OffsetOf(errors.New("plain")))
}
