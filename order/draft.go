package order

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/metric"
)

// SubmissionState is the draft's submission state machine. Transitions are
// idle→submitting→{submitted,failed}→idle; never idle→submitted directly,
// never two concurrent submitting states.
type SubmissionState int

const (
	// SubmissionIdle means no submission is in flight.
	SubmissionIdle SubmissionState = iota
	// SubmissionSubmitting means exactly one API call is in flight.
	SubmissionSubmitting
	// SubmissionSubmitted means the last submission was confirmed.
	SubmissionSubmitted
	// SubmissionFailed means the last submission failed; items intact.
	SubmissionFailed
)

// String returns the string representation of SubmissionState.
func (s SubmissionState) String() string {
	switch s {
	case SubmissionIdle:
		return "idle"
	case SubmissionSubmitting:
		return "submitting"
	case SubmissionSubmitted:
		return "submitted"
	case SubmissionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SubmissionRequest is the single call shape the external order API accepts.
type SubmissionRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	RestaurantID   string `json:"restaurant_id"`
	Items          []Item `json:"items"`
}

// Receipt reports a confirmed submission.
type Receipt struct {
	OrderID        string
	SubmittedItems []Item
	TotalCents     int
}

// Submitter is the external order-submission API. Implementations must be
// safely retryable with the same idempotency key.
type Submitter interface {
	Submit(ctx context.Context, req SubmissionRequest) (orderID string, err error)
}

// Events is the draft's notification surface. Callbacks fire outside the
// draft's lock and may be nil.
type Events struct {
	SubmissionStateChanged func(SubmissionState)
	ItemsChanged           func(items []Item)
	// Abandoned fires when the session tears down over a non-empty,
	// unsubmitted draft. The surrounding caller decides what a human
	// should see; the draft only guarantees the items do not vanish
	// without a trace.
	Abandoned func(items []Item)
}

// Metrics holds Prometheus metrics for the draft.
type Metrics struct {
	submissions    *prometheus.CounterVec
	submitDuration prometheus.Histogram
	abandoned      prometheus.Counter
}

// NewMetrics registers the draft metrics once; the returned set is shared
// by every draft the process builds. Returns nil for a nil registry.
func NewMetrics(registry metric.Registrar, name string) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "order",
			Name:      "submissions_total",
			Help:      "Submission attempts by outcome",
		}, []string{"outcome"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voiceorder",
			Subsystem: "order",
			Name:      "submit_duration_seconds",
			Help:      "Duration of submission API calls",
			Buckets:   prometheus.DefBuckets,
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "order",
			Name:      "drafts_abandoned_total",
			Help:      "Sessions torn down over a non-empty unsubmitted draft",
		}),
	}
	_ = registry.RegisterCounterVec(name, "submissions", m.submissions)
	_ = registry.RegisterHistogram(name, "submit_duration", m.submitDuration)
	_ = registry.RegisterCounter(name, "drafts_abandoned", m.abandoned)
	return m
}

// inflight carries the shared result of the single in-flight submission.
type inflight struct {
	done    chan struct{}
	receipt *Receipt
	err     error
}

// Draft is the authoritative order draft for one voice session.
type Draft struct {
	submitter Submitter
	events    Events
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	items   []Item
	state   SubmissionState
	idemKey string
	// pending is non-nil for exactly the lifetime of the API call; it is
	// the submission guard. It is set before the call starts and cleared
	// only after the call has returned.
	pending *inflight
}

// NewDraft creates an empty draft bound to a submitter.
func NewDraft(submitter Submitter, events Events, logger *slog.Logger, metrics *Metrics) *Draft {
	if logger == nil {
		logger = slog.Default()
	}
	return &Draft{
		submitter: submitter,
		events:    events,
		logger:    logger,
		metrics:   metrics,
		state:     SubmissionIdle,
	}
}

// AddItems appends extracted items to the draft, matched and unmatched
// alike: unmatched items stay visible until a human resolves them.
func (d *Draft) AddItems(items ...Item) {
	if len(items) == 0 {
		return
	}
	d.mu.Lock()
	d.items = append(d.items, items...)
	snapshot := d.copyItemsLocked()
	d.mu.Unlock()

	d.emitItems(snapshot)
}

// RemoveItem deletes one item by its draft ID. Returns false if absent.
func (d *Draft) RemoveItem(id string) bool {
	d.mu.Lock()
	found := false
	for i, it := range d.items {
		if it.ID == id {
			d.items = append(d.items[:i], d.items[i+1:]...)
			found = true
			break
		}
	}
	var snapshot []Item
	if found {
		snapshot = d.copyItemsLocked()
	}
	d.mu.Unlock()

	if found {
		d.emitItems(snapshot)
	}
	return found
}

// Items returns a copy of the current draft items.
func (d *Draft) Items() []Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.copyItemsLocked()
}

// TotalCents returns the derived total over matched items.
func (d *Draft) TotalCents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, it := range d.items {
		total += it.LineTotalCents()
	}
	return total
}

// State returns the current submission state.
func (d *Draft) State() SubmissionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IdempotencyKey returns the draft's current key, empty until the first
// submission attempt mints one.
func (d *Draft) IdempotencyKey() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idemKey
}

// Submit sends the draft's matched items to the order API. Calling Submit
// while a submission is in flight starts no second call: the caller blocks
// on and shares the in-flight result. On failure the draft returns to idle
// with all items preserved and the idempotency key retained for the retry.
// On confirmation exactly the submitted snapshot is cleared; items added
// during the call survive.
//
// The passed context should outlive the transport: a response that arrives
// after a disconnect is still applied so local state matches the server.
func (d *Draft) Submit(ctx context.Context, restaurantID string) (*Receipt, error) {
	d.mu.Lock()
	if pending := d.pending; pending != nil {
		d.mu.Unlock()
		<-pending.done
		return pending.receipt, pending.err
	}

	snapshot := d.matchedItemsLocked()
	if len(snapshot) == 0 {
		d.mu.Unlock()
		return nil, errors.WrapInvalid(
			fmt.Errorf("draft has no matched items"),
			"draft", "Submit", "snapshot items")
	}

	if d.idemKey == "" {
		d.idemKey = uuid.NewString()
	}
	key := d.idemKey
	d.state = SubmissionSubmitting
	pending := &inflight{done: make(chan struct{})}
	d.pending = pending
	d.mu.Unlock()

	d.emitState(SubmissionSubmitting)

	start := time.Now()
	orderID, err := d.submitter.Submit(ctx, SubmissionRequest{
		IdempotencyKey: key,
		RestaurantID:   restaurantID,
		Items:          snapshot,
	})
	if d.metrics != nil {
		d.metrics.submitDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		d.settleFailure(pending, err)
		return nil, pending.err
	}

	receipt := &Receipt{
		OrderID:        orderID,
		SubmittedItems: snapshot,
		TotalCents:     lineTotal(snapshot),
	}
	d.settleSuccess(pending, receipt, snapshot)
	return receipt, nil
}

// settleFailure returns the draft to idle with items and key intact. The
// in-flight marker clears here, after the API call has returned, so a
// retry admitted during the failure callback can never overlap the call
// that just finished.
func (d *Draft) settleFailure(pending *inflight, err error) {
	wrapped := errors.WrapTransient(
		fmt.Errorf("%w: %v", errors.ErrSubmissionFailed, err),
		"draft", "Submit", "submit order")
	if errors.IsInvalid(err) {
		wrapped = err
	}

	d.mu.Lock()
	d.state = SubmissionFailed
	d.pending = nil
	pending.err = wrapped
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.submissions.WithLabelValues("failed").Inc()
	}
	d.logger.Warn("order submission failed, draft preserved", "error", err)
	d.emitState(SubmissionFailed)

	d.settleIdle(SubmissionFailed)
	close(pending.done)
}

// settleIdle completes a terminal state's transition back to idle. If a new
// submission was admitted during the terminal callback it owns the state
// now and the idle transition is skipped rather than clobbering it.
func (d *Draft) settleIdle(from SubmissionState) {
	d.mu.Lock()
	if d.state != from {
		d.mu.Unlock()
		return
	}
	d.state = SubmissionIdle
	d.mu.Unlock()
	d.emitState(SubmissionIdle)
}

// settleSuccess clears exactly the submitted snapshot and resets the key
// so the next logical submission mints a fresh one.
func (d *Draft) settleSuccess(pending *inflight, receipt *Receipt, snapshot []Item) {
	submitted := make(map[string]bool, len(snapshot))
	for _, it := range snapshot {
		submitted[it.ID] = true
	}

	d.mu.Lock()
	remaining := d.items[:0:0]
	for _, it := range d.items {
		if !submitted[it.ID] {
			remaining = append(remaining, it)
		}
	}
	d.items = remaining
	d.state = SubmissionSubmitted
	d.idemKey = ""
	d.pending = nil
	pending.receipt = receipt
	itemsSnapshot := d.copyItemsLocked()
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.submissions.WithLabelValues("submitted").Inc()
	}
	d.logger.Info("order submitted",
		"order_id", receipt.OrderID,
		"items", len(snapshot),
		"total_cents", receipt.TotalCents)

	d.emitState(SubmissionSubmitted)
	d.emitItems(itemsSnapshot)

	d.settleIdle(SubmissionSubmitted)
	close(pending.done)
}

// Abandon reports the draft's items at session teardown. A non-empty draft
// is never silently submitted or silently discarded; the caller is told so
// a human can decide.
func (d *Draft) Abandon() []Item {
	d.mu.Lock()
	snapshot := d.copyItemsLocked()
	d.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}
	if d.metrics != nil {
		d.metrics.abandoned.Inc()
	}
	d.logger.Warn("session closed over unsubmitted draft", "items", len(snapshot))
	if d.events.Abandoned != nil {
		d.events.Abandoned(snapshot)
	}
	return snapshot
}

func (d *Draft) copyItemsLocked() []Item {
	out := make([]Item, len(d.items))
	copy(out, d.items)
	return out
}

func (d *Draft) matchedItemsLocked() []Item {
	var out []Item
	for _, it := range d.items {
		if it.Status == StatusMatched {
			out = append(out, it)
		}
	}
	return out
}

func (d *Draft) emitState(s SubmissionState) {
	if d.events.SubmissionStateChanged != nil {
		d.events.SubmissionStateChanged(s)
	}
}

func (d *Draft) emitItems(items []Item) {
	if d.events.ItemsChanged != nil {
		d.events.ItemsChanged(items)
	}
}

func lineTotal(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.LineTotalCents()
	}
	return total
}
