package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/metric"
)

// State represents the connection state of the transport.
type State int

const (
	// StateIdle indicates the transport was created but Connect has not run.
	StateIdle State = iota
	// StateConnecting indicates establishment is in progress.
	StateConnecting
	// StateConnected indicates the data channel is open and deliverable.
	StateConnected
	// StateError indicates a terminal failure; the transport stays down.
	StateError
	// StateClosed indicates a voluntary Close.
	StateClosed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callbacks is the consumer surface of the transport. OnMessage is
// mandatory: New refuses to build a transport whose data channel could
// deliver into nothing.
type Callbacks struct {
	OnStateChange func(State)
	OnMessage     func(data []byte)
	OnError       func(err error)
}

// SignalingTarget identifies where the SDP offer is exchanged and the
// ephemeral credential authorizing it.
type SignalingTarget struct {
	Endpoint     string
	ClientSecret string
}

// Metrics holds Prometheus metrics for the transport.
type Metrics struct {
	messagesReceived prometheus.Counter
	stateChanges     *prometheus.CounterVec
	connectDuration  prometheus.Histogram
	errorsTotal      *prometheus.CounterVec
}

// NewMetrics registers the transport metrics once; the returned set is
// shared by every transport the process builds. Returns nil for a nil
// registry.
func NewMetrics(registry metric.Registrar, name string) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "transport",
			Name:      "messages_received_total",
			Help:      "Total data channel messages received",
		}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "transport",
			Name:      "state_changes_total",
			Help:      "Connection state transitions",
		}, []string{"state"}),
		connectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voiceorder",
			Subsystem: "transport",
			Name:      "connect_duration_seconds",
			Help:      "Time from Connect to data channel open",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Total transport errors by type",
		}, []string{"type"}),
	}

	_ = registry.RegisterCounter(name, "messages_received", m.messagesReceived)
	_ = registry.RegisterCounterVec(name, "state_changes", m.stateChanges)
	_ = registry.RegisterHistogram(name, "connect_duration", m.connectDuration)
	_ = registry.RegisterCounterVec(name, "errors_total", m.errorsTotal)

	return m
}

// Transport owns one peer connection and its protocol data channel. A
// Transport is single-use: after a terminal error or Close, the caller
// builds a new one for an explicit reconnect.
type Transport struct {
	cfg     Config
	cb      Callbacks
	logger  *slog.Logger
	metrics *Metrics

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	httpClient *http.Client

	mu    sync.Mutex
	state State

	dcOpen    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	errOnce   sync.Once
}

// New builds a transport with its data channel handlers wired as one atomic
// step. The returned transport has a created, handler-attached data channel
// before any signaling can run, so the first flushed messages after open
// cannot be lost.
func New(cfg Config, cb Callbacks, logger *slog.Logger, metrics *Metrics) (*Transport, error) {
	if cb.OnMessage == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("OnMessage callback is required"),
			"transport", "New", "validate callbacks")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	var iceServers []webrtc.ICEServer
	for _, url := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, errors.WrapFatal(err, "transport", "New", "create peer connection")
	}

	// The provider expects an audio section in the SDP even though this
	// service only consumes the data channel. Media frames are discarded.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, errors.WrapFatal(err, "transport", "New", "add audio transceiver")
	}

	ordered := true
	dc, err := pc.CreateDataChannel(cfg.DataChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		pc.Close()
		return nil, errors.WrapFatal(err, "transport", "New", "create data channel")
	}

	t := &Transport{
		cfg:        cfg,
		cb:         cb,
		logger:     logger,
		metrics:    metrics,
		pc:         pc,
		dc:         dc,
		httpClient: &http.Client{Timeout: cfg.SignalingTimeout},
		state:      StateIdle,
		dcOpen:     make(chan struct{}),
		closed:     make(chan struct{}),
	}

	// Handlers attach here, inside construction. The channel cannot have
	// opened yet: signaling has not run.
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if t.metrics != nil {
			t.metrics.messagesReceived.Inc()
		}
		t.cb.OnMessage(msg.Data)
	})
	dc.OnOpen(func() {
		t.logger.Debug("data channel open", "label", dc.Label())
		close(t.dcOpen)
	})
	dc.OnClose(func() {
		t.mu.Lock()
		wasConnected := t.state == StateConnected
		t.mu.Unlock()
		if wasConnected {
			t.reportError(errors.WrapFatal(errors.ErrConnectionClosed,
				"transport", "OnClose", "data channel closed"))
		}
	})
	dc.OnError(func(err error) {
		t.reportError(errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrTransport, err),
			"transport", "OnError", "data channel error"))
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Debug("ICE state change", "state", state.String())
		if state == webrtc.ICEConnectionStateFailed {
			t.reportError(errors.WrapFatal(
				fmt.Errorf("%w: ICE failed", errors.ErrTransport),
				"transport", "OnICEConnectionStateChange", "monitor ICE"))
		}
	})

	return t, nil
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect performs the SDP exchange and blocks until the data channel is
// open or the establishment timeout elapses. A timeout is terminal: the
// transport transitions to StateError and must be replaced.
func (t *Transport) Connect(ctx context.Context, target SignalingTarget) error {
	t.mu.Lock()
	if t.state != StateIdle {
		state := t.state
		t.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("connect from state %s", state),
			"transport", "Connect", "check state")
	}
	t.mu.Unlock()
	t.setState(StateConnecting)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	if err := t.exchangeSDP(ctx, target); err != nil {
		t.fail(err)
		return err
	}

	select {
	case <-t.dcOpen:
	case <-ctx.Done():
		err := errors.WrapFatal(
			fmt.Errorf("%w after %s", errors.ErrConnectTimeout, t.cfg.ConnectTimeout),
			"transport", "Connect", "wait for data channel open")
		t.fail(err)
		return err
	case <-t.closed:
		return errors.WrapFatal(errors.ErrConnectionClosed,
			"transport", "Connect", "wait for data channel open")
	}

	if t.metrics != nil {
		t.metrics.connectDuration.Observe(time.Since(start).Seconds())
	}
	t.setState(StateConnected)
	t.logger.Info("transport connected",
		"label", t.cfg.DataChannelLabel,
		"elapsed", time.Since(start))
	return nil
}

// exchangeSDP creates the local offer, gathers candidates, posts the SDP to
// the signaling endpoint with the ephemeral credential, and applies the
// answer. Vanilla ICE: one HTTP round-trip.
func (t *Transport) exchangeSDP(ctx context.Context, target SignalingTarget) error {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return errors.WrapFatal(err, "transport", "exchangeSDP", "create offer")
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return errors.WrapFatal(err, "transport", "exchangeSDP", "set local description")
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return errors.WrapFatal(
			fmt.Errorf("%w: ICE gathering", errors.ErrConnectTimeout),
			"transport", "exchangeSDP", "gather candidates")
	}

	answerSDP, err := t.postOffer(ctx, target, t.pc.LocalDescription().SDP)
	if err != nil {
		return err
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return errors.WrapFatal(err, "transport", "exchangeSDP", "set remote description")
	}
	return nil
}

// postOffer sends the offer SDP to the provider and returns the answer SDP.
func (t *Transport) postOffer(ctx context.Context, target SignalingTarget, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint,
		bytes.NewReader([]byte(offerSDP)))
	if err != nil {
		return "", errors.WrapFatal(err, "transport", "postOffer", "build request")
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+target.ClientSecret)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrTransport, err),
			"transport", "postOffer", "post SDP offer")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.WrapFatal(err, "transport", "postOffer", "read answer")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.WrapFatal(
			fmt.Errorf("%w: status %d", errors.ErrSignalingRejected, resp.StatusCode),
			"transport", "postOffer", "exchange SDP")
	}
	return string(body), nil
}

// Send writes a client event to the data channel.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state != StateConnected {
		return errors.WrapInvalid(
			fmt.Errorf("send from state %s", state),
			"transport", "Send", "check state")
	}
	if err := t.dc.Send(data); err != nil {
		return errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrTransport, err),
			"transport", "Send", "write data channel")
	}
	return nil
}

// Close tears the transport down deterministically: the peer connection and
// all of its timers are released before Close returns, so callers can
// distinguish a voluntary disconnect from a failure.
func (t *Transport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.setState(StateClosed)
		closeErr = t.pc.Close()
		t.logger.Info("transport closed")
	})
	return closeErr
}

// setState updates the state and notifies the consumer. No state change is
// delivered after StateClosed or StateError is reached.
func (t *Transport) setState(s State) {
	t.mu.Lock()
	if t.state == s || t.state == StateClosed || t.state == StateError {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.stateChanges.WithLabelValues(s.String()).Inc()
	}
	if t.cb.OnStateChange != nil {
		t.cb.OnStateChange(s)
	}
}

// fail transitions to StateError and reports the error exactly once.
func (t *Transport) fail(err error) {
	t.reportError(err)
}

// reportError transitions to StateError and delivers at most one error to
// the consumer per transport. Every terminal failure path lands here, the
// asynchronous ones included, so the consumer always sees the state change
// before the error.
func (t *Transport) reportError(err error) {
	t.errOnce.Do(func() {
		t.mu.Lock()
		closed := t.state == StateClosed
		t.mu.Unlock()
		if closed {
			return
		}
		t.setState(StateError)
		if t.metrics != nil {
			t.metrics.errorsTotal.WithLabelValues(errors.Classify(err).String()).Inc()
		}
		t.logger.Error("transport error", "error", err)
		if t.cb.OnError != nil {
			t.cb.OnError(err)
		}
	})
}
