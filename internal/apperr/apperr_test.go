package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, GeocodingNotFound, KindOf(New(GeocodingNotFound, "no such place")))
	assert.Equal(t, Unknown, KindOf(nil))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Cancelled, KindOf(context.Canceled))
	assert.Equal(t, ApiTimeout, KindOf(context.DeadlineExceeded))
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := New(ApiRateLimited, "slow down")
	outer := fmt.Errorf("fetch gfs forecast: %w", inner)
	assert.Equal(t, ApiRateLimited, KindOf(outer))
	assert.True(t, IsKind(outer, ApiRateLimited))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ApiUnavailable, "upstream unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "upstream unreachable: connection refused", err.Error())
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "no location found", Message(New(GeocodingNotFound, "no location found")))
	// Non-taxonomy errors never leak their internals.
	assert.Equal(t, "something went wrong", Message(errors.New("pq: duplicate key")))
}
