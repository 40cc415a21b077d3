package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassString(t *testing.T) {
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "invalid", ClassInvalid.String())
	assert.Equal(t, "fatal", ClassFatal.String())
	assert.Equal(t, "unknown", Class(99).String())
}

func TestWrap(t *testing.T) {
	base := New("boom")

	err := Wrap(base, "transport", "Connect", "exchange SDP")
	require.Error(t, err)
	assert.Equal(t, "transport.Connect: exchange SDP failed: boom", err.Error())
	assert.True(t, Is(err, base))

	assert.NoError(t, Wrap(nil, "transport", "Connect", "exchange SDP"))
}

func TestClassifiedWrappers(t *testing.T) {
	base := New("boom")

	t.Run("transient", func(t *testing.T) {
		err := WrapTransient(base, "order_client", "Submit", "post order")
		assert.True(t, IsTransient(err))
		assert.False(t, IsFatal(err))
		assert.Equal(t, ClassTransient, Classify(err))

		var ce *ClassifiedError
		require.True(t, As(err, &ce))
		assert.Equal(t, "order_client", ce.Component)
		assert.Equal(t, "Submit", ce.Operation)
	})

	t.Run("fatal", func(t *testing.T) {
		err := WrapFatal(base, "aggregator", "Feed", "parse event")
		assert.True(t, IsFatal(err))
		assert.False(t, IsTransient(err))
		assert.Equal(t, ClassFatal, Classify(err))
	})

	t.Run("invalid", func(t *testing.T) {
		err := WrapInvalid(base, "menu", "Decode", "unmarshal catalog")
		assert.True(t, IsInvalid(err))
		assert.Equal(t, ClassInvalid, Classify(err))
	})

	t.Run("nil passthrough", func(t *testing.T) {
		assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
		assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
		assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	})
}

func TestSentinelClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class Class
	}{
		{"connect timeout", ErrConnectTimeout, ClassFatal},
		{"transport", ErrTransport, ClassFatal},
		{"protocol", ErrProtocol, ClassFatal},
		{"malformed event", ErrMalformedEvent, ClassFatal},
		{"catalog empty", ErrCatalogEmpty, ClassFatal},
		{"catalog unavailable", ErrCatalogUnavailable, ClassFatal},
		{"submission failed", ErrSubmissionFailed, ClassTransient},
		{"submission rejected", ErrSubmissionRejected, ClassInvalid},
		{"credentials unavailable", ErrCredentialsUnavailable, ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}
}

func TestSentinelClassificationSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("submitting: %w", ErrSubmissionFailed)
	assert.True(t, IsTransient(err))

	err = fmt.Errorf("matching: %w", ErrCatalogEmpty)
	assert.True(t, IsFatal(err))
	assert.True(t, IsMatchError(err))
}

func TestIsMatchError(t *testing.T) {
	assert.True(t, IsMatchError(ErrCatalogEmpty))
	assert.True(t, IsMatchError(ErrCatalogUnavailable))
	assert.False(t, IsMatchError(ErrSubmissionFailed))
	assert.False(t, IsMatchError(nil))
}
