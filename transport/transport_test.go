package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/metric"
)

func testCallbacks() Callbacks {
	return Callbacks{
		OnMessage: func([]byte) {},
	}
}

func TestNewRequiresOnMessage(t *testing.T) {
	_, err := New(DefaultConfig(), Callbacks{}, slog.Default(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewWiresHandlersAtConstruction(t *testing.T) {
	tr, err := New(DefaultConfig(), testCallbacks(), slog.Default(), nil)
	require.NoError(t, err)
	defer tr.Close()

	// The data channel exists and is labeled before any signaling ran.
	assert.Equal(t, "oai-events", tr.dc.Label())
	assert.Equal(t, StateIdle, tr.State())
}

func TestNewMetricsRegistersOnce(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := NewMetrics(registry, "transport")
	require.NotNil(t, m)

	// One shared set serves every transport the process builds.
	tr, err := New(DefaultConfig(), testCallbacks(), slog.Default(), m)
	require.NoError(t, err)
	defer tr.Close()
	tr2, err := New(DefaultConfig(), testCallbacks(), slog.Default(), m)
	require.NoError(t, err)
	defer tr2.Close()

	assert.Same(t, m, tr.metrics)
	assert.Same(t, m, tr2.metrics)
	assert.Nil(t, NewMetrics(nil, "transport"))
}

func TestSendBeforeConnectFails(t *testing.T) {
	tr, err := New(DefaultConfig(), testCallbacks(), slog.Default(), nil)
	require.NoError(t, err)
	defer tr.Close()

	err = tr.Send([]byte(`{"type":"session.update"}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCloseIsIdempotentAndDeterministic(t *testing.T) {
	var states []State
	cb := Callbacks{
		OnMessage:     func([]byte) {},
		OnStateChange: func(s State) { states = append(states, s) },
	}
	tr, err := New(DefaultConfig(), cb, slog.Default(), nil)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	assert.Equal(t, StateClosed, tr.State())
	require.NoError(t, tr.Close())

	assert.Equal(t, []State{StateClosed}, states)
}

func TestConnectFromNonIdleStateFails(t *testing.T) {
	tr, err := New(DefaultConfig(), testCallbacks(), slog.Default(), nil)
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	err = tr.Connect(context.Background(), SignalingTarget{Endpoint: "http://localhost:0"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestErrorReportedOnce(t *testing.T) {
	var reports atomic.Int32
	cb := Callbacks{
		OnMessage: func([]byte) {},
		OnError:   func(error) { reports.Add(1) },
	}
	tr, err := New(DefaultConfig(), cb, slog.Default(), nil)
	require.NoError(t, err)
	defer tr.Close()

	tr.reportError(errors.ErrTransport)
	tr.reportError(errors.ErrConnectionClosed)

	assert.Equal(t, int32(1), reports.Load())
	assert.Equal(t, StateError, tr.State())
}

func TestAsyncFailureDeliversStateChange(t *testing.T) {
	var states []State
	var reports atomic.Int32
	cb := Callbacks{
		OnMessage:     func([]byte) {},
		OnStateChange: func(s State) { states = append(states, s) },
		OnError:       func(error) { reports.Add(1) },
	}
	tr, err := New(DefaultConfig(), cb, slog.Default(), nil)
	require.NoError(t, err)
	defer tr.Close()

	// A failure from a data-channel or ICE callback, not from Connect.
	tr.reportError(errors.ErrTransport)

	assert.Equal(t, []State{StateError}, states)
	assert.Equal(t, int32(1), reports.Load())
	assert.Equal(t, StateError, tr.State())
}

func TestNoErrorReportAfterClose(t *testing.T) {
	var reports atomic.Int32
	cb := Callbacks{
		OnMessage: func([]byte) {},
		OnError:   func(error) { reports.Add(1) },
	}
	tr, err := New(DefaultConfig(), cb, slog.Default(), nil)
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	tr.reportError(errors.ErrTransport)

	assert.Equal(t, int32(0), reports.Load())
	assert.Equal(t, StateClosed, tr.State())
}

func TestPostOffer(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotAuth, gotContentType, gotBody string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")
			buf := make([]byte, 1024)
			n, _ := r.Body.Read(buf)
			gotBody = string(buf[:n])
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("v=0 answer"))
		}))
		defer server.Close()

		tr, err := New(DefaultConfig(), testCallbacks(), slog.Default(), nil)
		require.NoError(t, err)
		defer tr.Close()

		answer, err := tr.postOffer(context.Background(), SignalingTarget{
			Endpoint:     server.URL,
			ClientSecret: "ephemeral-secret",
		}, "v=0 offer")
		require.NoError(t, err)

		assert.Equal(t, "v=0 answer", answer)
		assert.Equal(t, "Bearer ephemeral-secret", gotAuth)
		assert.Equal(t, "application/sdp", gotContentType)
		assert.Equal(t, "v=0 offer", gotBody)
	})

	t.Run("rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		tr, err := New(DefaultConfig(), testCallbacks(), slog.Default(), nil)
		require.NoError(t, err)
		defer tr.Close()

		_, err = tr.postOffer(context.Background(), SignalingTarget{Endpoint: server.URL}, "v=0")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrSignalingRejected))
		assert.True(t, errors.IsFatal(err))
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}
