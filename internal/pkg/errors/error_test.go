package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesCodeAndMessage(t *testing.T) {
	err := New(ErrBookNotFound, "book 42")

	assert.Equal(t, ErrBookNotFound, err.Code)
	assert.Equal(t, "Book not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Contains(t, err.Error(), "book 42")
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(cause, ErrStorageFailed, "writing object")

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, ErrStorageFailed, ExtractCode(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrStorageFailed))
}

func TestWrapKeepsExistingAppErrorCode(t *testing.T) {
	inner := New(ErrParseInvalidContainer, "bad zip")
	err := Wrap(fmt.Errorf("processing: %w", inner), ErrStorageFailed)

	assert.Equal(t, ErrParseInvalidContainer, ExtractCode(err))
}

func TestIsMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrParseQueueFull))

	assert.True(t, Is(err, ErrParseQueueFull))
	assert.False(t, Is(err, ErrParseFailed))
	assert.False(t, Is(stderrors.New("plain"), ErrParseQueueFull))
}

func TestExtractCodeDefaultsToInternal(t *testing.T) {
	assert.Equal(t, ErrInternalServer, ExtractCode(stderrors.New("plain")))
}
