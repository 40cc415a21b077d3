package aggregator

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tablecraft/voiceorder/metric"
	"github.com/tablecraft/voiceorder/provider"
)

// Events is the set of typed events the handler emits. Callbacks are fixed
// at construction; a nil callback drops that event class.
type Events struct {
	// TranscriptUpdated fires on every transcript delta and again, with
	// final=true, when the transcript completes.
	TranscriptUpdated func(itemID, text string, final bool)

	// FunctionCallCompleted fires exactly once per call, on its done
	// event, with the fully assembled argument JSON.
	FunctionCallCompleted func(callID, name, argsJSON string)

	// SessionError fires on provider error events and on protocol
	// violations. Protocol violations are terminal: the handler stops
	// processing further messages.
	SessionError func(code, message string)
}

// transcriptState accumulates one transcript item keyed by item_id.
type transcriptState struct {
	text  strings.Builder
	final bool
}

// callState accumulates one function-call invocation keyed by call_id.
type callState struct {
	name string
	args strings.Builder
	done bool
}

// Metrics holds Prometheus metrics for the handler.
type Metrics struct {
	eventsTotal    *prometheus.CounterVec
	lazyCreations  *prometheus.CounterVec
	callsCompleted prometheus.Counter
	protocolErrors prometheus.Counter
}

// NewMetrics registers the handler metrics once; the returned set is shared
// by every handler the process builds. Returns nil for a nil registry.
func NewMetrics(registry metric.Registrar, name string) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "aggregator",
			Name:      "events_total",
			Help:      "Provider events processed by type",
		}, []string{"type"}),
		lazyCreations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "aggregator",
			Name:      "lazy_creations_total",
			Help:      "Entries created by a delta that preceded its creation event",
		}, []string{"kind"}),
		callsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "aggregator",
			Name:      "function_calls_completed_total",
			Help:      "Function calls assembled and emitted",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "aggregator",
			Name:      "protocol_errors_total",
			Help:      "Messages that violated the provider protocol",
		}),
	}

	_ = registry.RegisterCounterVec(name, "events_total", m.eventsTotal)
	_ = registry.RegisterCounterVec(name, "lazy_creations_total", m.lazyCreations)
	_ = registry.RegisterCounter(name, "function_calls_completed", m.callsCompleted)
	_ = registry.RegisterCounter(name, "protocol_errors", m.protocolErrors)

	return m
}

// Handler turns raw data channel messages into typed events. Not safe for
// concurrent use; see the package comment.
type Handler struct {
	events  Events
	logger  *slog.Logger
	metrics *Metrics

	transcripts map[string]*transcriptState
	calls       map[string]*callState

	// failed is set on a protocol violation. Every later Feed is a no-op:
	// applying deltas after a violation risks mixing state from a stale key.
	failed bool
}

// NewHandler creates a handler with its event callbacks fixed up front.
func NewHandler(events Events, logger *slog.Logger, metrics *Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		events:      events,
		logger:      logger,
		metrics:     metrics,
		transcripts: make(map[string]*transcriptState),
		calls:       make(map[string]*callState),
	}
}

// Failed reports whether the handler hit a terminal protocol violation.
func (h *Handler) Failed() bool {
	return h.failed
}

// Feed processes one raw message, synchronously emitting zero or one event.
func (h *Handler) Feed(raw []byte) {
	if h.failed {
		return
	}

	ev, err := provider.ParseServerEvent(raw)
	if err != nil {
		h.protocolError("malformed_event", err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.eventsTotal.WithLabelValues(ev.Type).Inc()
	}

	switch ev.Type {
	case provider.EventItemCreated:
		h.handleItemCreated(ev)
	case provider.EventTranscriptDelta:
		h.handleTranscriptDelta(ev)
	case provider.EventTranscriptDone:
		h.handleTranscriptDone(ev)
	case provider.EventFunctionDelta:
		h.handleFunctionDelta(ev)
	case provider.EventFunctionDone:
		h.handleFunctionDone(ev)
	case provider.EventError:
		h.handleError(ev)
	case provider.EventSessionCreated, provider.EventSessionUpdated, provider.EventResponseDone:
		// Lifecycle markers; no per-item state.
	default:
		// Unknown event types are skipped, not errors: the provider adds
		// event types faster than clients update.
		h.logger.Debug("ignoring unrecognized event type", "type", ev.Type)
	}
}

// handleItemCreated registers streaming state ahead of the deltas.
func (h *Handler) handleItemCreated(ev *provider.ServerEvent) {
	if ev.Item == nil || ev.Item.ID == "" {
		h.protocolError("malformed_event", "conversation.item.created without item id")
		return
	}
	switch ev.Item.Type {
	case "function_call":
		callID := ev.Item.CallID
		if callID == "" {
			callID = ev.Item.ID
		}
		state := h.callEntry(callID, false)
		if state.name == "" {
			state.name = ev.Item.Name
		}
	default:
		h.transcriptEntry(ev.Item.ID, false)
	}
}

func (h *Handler) handleTranscriptDelta(ev *provider.ServerEvent) {
	if ev.ItemID == "" {
		h.protocolError("malformed_event", "transcript delta without item_id")
		return
	}
	state := h.transcriptEntry(ev.ItemID, true)
	if state.final {
		// Deltas after done are stale; the provider has already committed
		// the transcript.
		return
	}
	state.text.WriteString(ev.Delta)
	h.emitTranscript(ev.ItemID, state.text.String(), false)
}

func (h *Handler) handleTranscriptDone(ev *provider.ServerEvent) {
	if ev.ItemID == "" {
		h.protocolError("malformed_event", "transcript done without item_id")
		return
	}
	state := h.transcriptEntry(ev.ItemID, true)
	if state.final {
		return
	}
	state.final = true

	// The done event may carry the committed transcript; prefer it over
	// the accumulation when present.
	text := state.text.String()
	if ev.Transcript != "" {
		text = ev.Transcript
		state.text.Reset()
		state.text.WriteString(ev.Transcript)
	}
	h.emitTranscript(ev.ItemID, text, true)
}

func (h *Handler) handleFunctionDelta(ev *provider.ServerEvent) {
	if ev.CallID == "" {
		h.protocolError("malformed_event", "function call delta without call_id")
		return
	}
	state := h.callEntry(ev.CallID, true)
	if state.done {
		return
	}
	if state.name == "" && ev.Name != "" {
		state.name = ev.Name
	}
	state.args.WriteString(ev.Delta)
}

// handleFunctionDone assembles and emits the completed call. Argument text
// is parsed as JSON exactly once, here — never incrementally, because a
// partial argument string is not valid JSON.
func (h *Handler) handleFunctionDone(ev *provider.ServerEvent) {
	if ev.CallID == "" {
		h.protocolError("malformed_event", "function call done without call_id")
		return
	}
	state := h.callEntry(ev.CallID, true)
	if state.done {
		return
	}
	state.done = true

	name := state.name
	if ev.Name != "" {
		name = ev.Name
	}

	args := state.args.String()
	if args == "" && ev.Arguments != "" {
		// All argument deltas were lost (or none were streamed); the done
		// event carries the full argument text.
		args = ev.Arguments
	}

	if !json.Valid([]byte(args)) {
		h.protocolError("invalid_arguments",
			"function call "+ev.CallID+" completed with non-JSON arguments")
		return
	}

	if h.metrics != nil {
		h.metrics.callsCompleted.Inc()
	}
	if h.events.FunctionCallCompleted != nil {
		h.events.FunctionCallCompleted(ev.CallID, name, args)
	}
}

func (h *Handler) handleError(ev *provider.ServerEvent) {
	code, message := "provider_error", "unknown provider error"
	if ev.Error != nil {
		if ev.Error.Code != "" {
			code = ev.Error.Code
		}
		if ev.Error.Message != "" {
			message = ev.Error.Message
		}
	}
	h.logger.Warn("provider error event", "code", code, "message", message)
	if h.events.SessionError != nil {
		h.events.SessionError(code, message)
	}
}

// transcriptEntry returns the state for an item_id, creating it if needed.
// lazy marks lookups from delta/done handlers, where a missing entry means
// the creation event never arrived.
func (h *Handler) transcriptEntry(itemID string, lazy bool) *transcriptState {
	state, ok := h.transcripts[itemID]
	if !ok {
		state = &transcriptState{}
		h.transcripts[itemID] = state
		if lazy {
			h.logger.Debug("transcript created lazily from delta", "item_id", itemID)
			if h.metrics != nil {
				h.metrics.lazyCreations.WithLabelValues("transcript").Inc()
			}
		}
	}
	return state
}

// callEntry returns the state for a call_id, creating it if needed.
func (h *Handler) callEntry(callID string, lazy bool) *callState {
	state, ok := h.calls[callID]
	if !ok {
		state = &callState{}
		h.calls[callID] = state
		if lazy {
			h.logger.Debug("function call created lazily from delta", "call_id", callID)
			if h.metrics != nil {
				h.metrics.lazyCreations.WithLabelValues("function_call").Inc()
			}
		}
	}
	return state
}

func (h *Handler) emitTranscript(itemID, text string, final bool) {
	if h.events.TranscriptUpdated != nil {
		h.events.TranscriptUpdated(itemID, text, final)
	}
}

// protocolError marks the handler failed and reports the violation. The
// session owner is expected to tear the session down.
func (h *Handler) protocolError(code, message string) {
	h.failed = true
	if h.metrics != nil {
		h.metrics.protocolErrors.Inc()
	}
	h.logger.Error("protocol violation", "code", code, "message", message)
	if h.events.SessionError != nil {
		h.events.SessionError(code, message)
	}
}
