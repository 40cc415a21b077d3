package kitchen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/metric"
	"github.com/tablecraft/voiceorder/order"
)

// Publisher is the slice of the NATS connection the announcer uses.
// Satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config holds announcer settings.
type Config struct {
	// SubjectPrefix is prepended to the restaurant ID to form the publish
	// subject, e.g. "voiceorder.kitchen" -> "voiceorder.kitchen.rest-1".
	SubjectPrefix string `json:"subject_prefix"`
}

// DefaultConfig returns the default announcer configuration.
func DefaultConfig() Config {
	return Config{SubjectPrefix: "voiceorder.kitchen"}
}

// Announcement is the wire shape published per confirmed order.
type Announcement struct {
	OrderID      string       `json:"order_id"`
	RestaurantID string       `json:"restaurant_id"`
	Items        []order.Item `json:"items"`
	TotalCents   int          `json:"total_cents"`
	SubmittedAt  time.Time    `json:"submitted_at"`
}

// Metrics holds Prometheus metrics for the announcer.
type Metrics struct {
	published prometheus.Counter
	failures  prometheus.Counter
}

func newMetrics(registry metric.Registrar, name string) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "kitchen",
			Name:      "announcements_total",
			Help:      "Orders announced to kitchen displays",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "kitchen",
			Name:      "announcement_failures_total",
			Help:      "Announcements that failed to publish",
		}),
	}
	_ = registry.RegisterCounter(name, "announcements", m.published)
	_ = registry.RegisterCounter(name, "announcement_failures", m.failures)
	return m
}

// Announcer publishes confirmed orders.
type Announcer struct {
	cfg     Config
	pub     Publisher
	logger  *slog.Logger
	metrics *Metrics
}

// NewAnnouncer creates an announcer over a publisher.
func NewAnnouncer(cfg Config, pub Publisher, logger *slog.Logger, registry metric.Registrar) (*Announcer, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("publisher is required"),
			"kitchen", "NewAnnouncer", "validate dependencies")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultConfig().SubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		cfg:     cfg,
		pub:     pub,
		logger:  logger,
		metrics: newMetrics(registry, "kitchen"),
	}, nil
}

// OrderSubmitted publishes one confirmed order to the restaurant's subject.
func (a *Announcer) OrderSubmitted(ctx context.Context, restaurantID string, receipt *order.Receipt) error {
	ann := Announcement{
		OrderID:      receipt.OrderID,
		RestaurantID: restaurantID,
		Items:        receipt.SubmittedItems,
		TotalCents:   receipt.TotalCents,
		SubmittedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(ann)
	if err != nil {
		return errors.WrapInvalid(err, "kitchen", "OrderSubmitted", "encode announcement")
	}

	subject := fmt.Sprintf("%s.%s", a.cfg.SubjectPrefix, restaurantID)
	if err := a.pub.Publish(subject, data); err != nil {
		if a.metrics != nil {
			a.metrics.failures.Inc()
		}
		return errors.WrapTransient(
			fmt.Errorf("publish to %s: %w", subject, err),
			"kitchen", "OrderSubmitted", "publish announcement")
	}

	if a.metrics != nil {
		a.metrics.published.Inc()
	}
	a.logger.Info("order announced",
		"order_id", receipt.OrderID,
		"subject", subject,
		"items", len(receipt.SubmittedItems))
	return nil
}
