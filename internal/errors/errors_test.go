package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesKind(t *testing.T) {
	base := StoreUnavailable("connection reset", nil)
	wrapped := Wrap(base, "upsert concept")

	assert.True(t, Is(wrapped, KindStoreUnavailable))
	assert.True(t, IsRetryable(wrapped))
}

func TestWrapClassifiesPlainErrorsAsInternal(t *testing.T) {
	wrapped := Wrap(assertError{}, "apply extraction")

	assert.True(t, Is(wrapped, KindInternal))
	assert.False(t, IsRetryable(wrapped))
}

func TestDimensionMismatchIsNotRetryable(t *testing.T) {
	err := DimensionMismatch("query vector has 768 dims, active config has 1536")
	assert.False(t, err.Retryable)
	assert.Equal(t, KindDimensionMismatch, err.Kind)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
