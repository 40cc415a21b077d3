package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tablecraft/voiceorder/aggregator"
	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/menu"
	"github.com/tablecraft/voiceorder/metric"
	"github.com/tablecraft/voiceorder/order"
	"github.com/tablecraft/voiceorder/provider"
	"github.com/tablecraft/voiceorder/transport"
)

// AddToOrderTool is the function name the provider model invokes to add
// spoken items to the order.
const AddToOrderTool = "add_to_order"

// Conn is the slice of the transport a session drives. Satisfied by
// *transport.Transport.
type Conn interface {
	Connect(ctx context.Context, target transport.SignalingTarget) error
	Send(data []byte) error
	Close() error
	State() transport.State
}

// ConnFactory builds a connection with its callbacks wired before any
// signaling can run. Injecting the factory keeps session tests off the
// network.
type ConnFactory func(cb transport.Callbacks) (Conn, error)

// DefaultConnFactory builds real WebRTC transports sharing one metric set.
func DefaultConnFactory(cfg transport.Config, logger *slog.Logger, metrics *transport.Metrics) ConnFactory {
	return func(cb transport.Callbacks) (Conn, error) {
		return transport.New(cfg, cb, logger, metrics)
	}
}

// Events is the session's notification surface toward the UI. Callbacks may
// be nil.
type Events struct {
	ConnectionStateChanged func(state transport.State)
	TranscriptUpdated      func(itemID, text string, final bool)
	OrderItemsChanged      func(items []order.Item)
	SubmissionStateChanged func(state order.SubmissionState)
	OrderAbandoned         func(items []order.Item)
	SessionError           func(code, message string)
}

// Config holds per-session settings.
type Config struct {
	RestaurantID string             `json:"restaurant_id"`
	Matcher      menu.MatcherConfig `json:"matcher"`

	// Instructions overrides the generated ordering instructions when set.
	Instructions string `json:"instructions,omitempty"`
}

// Metrics bundles the session-scoped metric sets. Created once per process
// and shared across sessions; per-session registration would collide in the
// registry.
type Metrics struct {
	started     prometheus.Counter
	startErrors *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec

	Draft      *order.Metrics
	Aggregator *aggregator.Metrics
	Matcher    *menu.Metrics
}

// NewMetrics registers all session-scoped metrics. Returns nil for a nil
// registry.
func NewMetrics(registry metric.Registrar) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		Draft:      order.NewMetrics(registry, "draft"),
		Aggregator: aggregator.NewMetrics(registry, "aggregator"),
		Matcher:    menu.NewMetrics(registry, "matcher"),

		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Sessions successfully started",
		}),
		startErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "session",
			Name:      "start_errors_total",
			Help:      "Session start failures by stage",
		}, []string{"stage"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "session",
			Name:      "tool_calls_total",
			Help:      "Completed tool calls by outcome",
		}, []string{"outcome"}),
	}
	_ = registry.RegisterCounter("session", "started", m.started)
	_ = registry.RegisterCounterVec("session", "start_errors", m.startErrors)
	_ = registry.RegisterCounterVec("session", "tool_calls", m.toolCalls)
	return m
}

// Session is one voice-ordering call.
type Session struct {
	id      string
	cfg     Config
	events  Events
	logger  *slog.Logger
	metrics *Metrics

	creds     CredentialProvider
	factory   ConnFactory
	submitter order.Submitter

	matcher *menu.Matcher
	draft   *order.Draft
	handler *aggregator.Handler
	conn    Conn

	closeOnce   sync.Once
	abandonOnce sync.Once
	closed      chan struct{}
}

// New creates a session. Nothing touches the network until Start.
func New(cfg Config, creds CredentialProvider, factory ConnFactory, submitter order.Submitter,
	events Events, logger *slog.Logger, metrics *Metrics) (*Session, error) {
	if cfg.RestaurantID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("restaurant_id is required"),
			"session", "New", "validate config")
	}
	if creds == nil || factory == nil || submitter == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("credential provider, conn factory and submitter are required"),
			"session", "New", "validate dependencies")
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		cfg:       cfg,
		events:    events,
		logger:    logger.With("session_id", id, "restaurant_id", cfg.RestaurantID),
		metrics:   metrics,
		creds:     creds,
		factory:   factory,
		submitter: submitter,
		closed:    make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Start brings the session up: credentials, catalog, matcher, transport,
// provider configuration, in that order. The matcher is built before any
// signaling so an unusable menu fails here rather than letting a connected
// session match nothing.
func (s *Session) Start(ctx context.Context) error {
	var draftMetrics *order.Metrics
	var handlerMetrics *aggregator.Metrics
	var matcherMetrics *menu.Metrics
	if s.metrics != nil {
		draftMetrics = s.metrics.Draft
		handlerMetrics = s.metrics.Aggregator
		matcherMetrics = s.metrics.Matcher
	}

	creds, err := s.creds.Fetch(ctx, s.cfg.RestaurantID)
	if err != nil {
		s.startFailed("credentials")
		return err
	}

	catalog, err := menu.DecodeCatalog(s.cfg.RestaurantID, creds.MenuContext)
	if err != nil {
		s.startFailed("catalog")
		return err
	}
	s.matcher, err = menu.NewMatcher(catalog, s.cfg.Matcher, s.logger, matcherMetrics)
	if err != nil {
		s.startFailed("matcher")
		return err
	}

	s.draft = order.NewDraft(s.submitter, order.Events{
		SubmissionStateChanged: s.events.SubmissionStateChanged,
		ItemsChanged:           s.events.OrderItemsChanged,
		Abandoned:              s.events.OrderAbandoned,
	}, s.logger, draftMetrics)

	s.handler = aggregator.NewHandler(aggregator.Events{
		TranscriptUpdated:     s.events.TranscriptUpdated,
		FunctionCallCompleted: s.handleFunctionCall,
		SessionError:          s.handleSessionError,
	}, s.logger, handlerMetrics)

	conn, err := s.factory(transport.Callbacks{
		OnMessage:     s.handler.Feed,
		OnStateChange: s.events.ConnectionStateChanged,
		OnError:       s.handleTransportError,
	})
	if err != nil {
		s.startFailed("transport")
		return err
	}
	s.conn = conn

	if err := conn.Connect(ctx, transport.SignalingTarget{
		Endpoint:     creds.SDPEndpoint,
		ClientSecret: creds.ClientSecret,
	}); err != nil {
		s.startFailed("connect")
		conn.Close()
		return err
	}

	if err := s.configureProvider(catalog); err != nil {
		s.startFailed("configure")
		conn.Close()
		return err
	}

	if s.metrics != nil {
		s.metrics.started.Inc()
	}
	s.logger.Info("session started", "menu_entries", catalog.Len())
	return nil
}

// configureProvider sends session.update with the ordering instructions and
// the add_to_order tool declaration.
func (s *Session) configureProvider(catalog *menu.Catalog) error {
	instructions := s.cfg.Instructions
	if instructions == "" {
		instructions = buildInstructions(catalog)
	}

	update := provider.NewSessionUpdate(instructions, []provider.Tool{{
		Type:        "function",
		Name:        AddToOrderTool,
		Description: "Add one or more items the customer asked for to the order draft.",
		Parameters:  []byte(menu.AddToOrderSchema),
	}})
	data, err := update.Encode()
	if err != nil {
		return err
	}
	return s.conn.Send(data)
}

// buildInstructions renders the default ordering instructions from the
// catalog so the model only offers items this restaurant sells.
func buildInstructions(catalog *menu.Catalog) string {
	var b strings.Builder
	b.WriteString("You are a voice ordering assistant for a restaurant. ")
	b.WriteString("Take the customer's order conversationally. ")
	b.WriteString("When the customer asks for items, call the add_to_order function ")
	b.WriteString("with the item names exactly as the customer said them. ")
	b.WriteString("Only discuss items from this menu:\n")
	for _, e := range catalog.Entries() {
		fmt.Fprintf(&b, "- %s ($%d.%02d)\n", e.Name, e.PriceCents/100, e.PriceCents%100)
		if len(e.RequiredSlots) > 0 {
			fmt.Fprintf(&b, "  requires a choice of: %s\n", strings.Join(e.RequiredSlots, ", "))
		}
	}
	return b.String()
}

// handleFunctionCall routes one completed tool call through extraction and
// matching into the draft. Extraction and match failures are reported, not
// terminal; the conversation continues.
func (s *Session) handleFunctionCall(callID, name, argsJSON string) {
	if name == "" {
		// The creation event carrying the name can be lost. With a single
		// declared tool the intent is unambiguous; do not discard it.
		name = AddToOrderTool
	}
	if name != AddToOrderTool {
		s.logger.Warn("ignoring unknown tool call", "call_id", callID, "name", name)
		s.countToolCall("unknown_tool")
		return
	}

	spoken, err := menu.ParseAddToOrder(argsJSON)
	if err != nil {
		s.logger.Warn("tool call arguments failed extraction",
			"call_id", callID, "error", err)
		s.countToolCall("extraction_failed")
		s.emitError("extraction_failed", err.Error())
		return
	}

	matched, unmatched, err := s.matcher.Match(spoken)
	if err != nil {
		s.countToolCall("match_failed")
		s.emitError("match_failed", err.Error())
		return
	}

	s.countToolCall("ok")
	s.draft.AddItems(append(matched, unmatched...)...)
}

func (s *Session) handleSessionError(code, message string) {
	s.emitError(code, message)
}

func (s *Session) handleTransportError(err error) {
	s.emitError("transport_error", err.Error())
}

// Submit sends the draft to the order API. The submission context is
// detached from the caller's: a response that lands after the voice
// connection drops is still applied. If the session was closed while the
// call was in flight and the call failed, the preserved items are reported
// as abandoned here, since Close already ran and will not look again.
func (s *Session) Submit(ctx context.Context) (*order.Receipt, error) {
	if s.draft == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("session not started"),
			"session", "Submit", "check state")
	}
	receipt, err := s.draft.Submit(context.WithoutCancel(ctx), s.cfg.RestaurantID)
	if err != nil && s.isClosed() {
		s.abandonDraft()
	}
	return receipt, err
}

func (s *Session) abandonDraft() {
	s.abandonOnce.Do(func() {
		s.draft.Abandon()
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// RemoveItem removes one draft item by ID.
func (s *Session) RemoveItem(id string) bool {
	if s.draft == nil {
		return false
	}
	return s.draft.RemoveItem(id)
}

// Items returns the current draft items.
func (s *Session) Items() []order.Item {
	if s.draft == nil {
		return nil
	}
	return s.draft.Items()
}

// Draft exposes the draft for read-side consumers.
func (s *Session) Draft() *order.Draft {
	return s.draft
}

// Close tears the session down. A non-empty draft with no submission in
// flight is reported as abandoned; an in-flight submission is left to
// settle on its own so a late confirmation is still applied. A late
// failure reports the preserved items as abandoned from the Submit path.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn != nil {
			err = s.conn.Close()
		}
		if s.draft != nil && s.draft.State() != order.SubmissionSubmitting {
			s.abandonDraft()
		}
		s.logger.Info("session closed")
	})
	return err
}

func (s *Session) startFailed(stage string) {
	if s.metrics != nil {
		s.metrics.startErrors.WithLabelValues(stage).Inc()
	}
}

func (s *Session) countToolCall(outcome string) {
	if s.metrics != nil {
		s.metrics.toolCalls.WithLabelValues(outcome).Inc()
	}
}

func (s *Session) emitError(code, message string) {
	s.logger.Warn("session error", "code", code, "message", message)
	if s.events.SessionError != nil {
		s.events.SessionError(code, message)
	}
}
