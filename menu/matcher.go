package menu

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/metric"
	"github.com/tablecraft/voiceorder/order"
)

// MatcherConfig holds tunables for catalog matching. The composite scoring
// and 0.6 threshold are configurable defaults, not wire-level constants.
type MatcherConfig struct {
	// MinConfidence is the floor below which an item is reported
	// unmatched instead of force-assigned.
	MinConfidence float64 `json:"min_confidence"`

	// AmbiguityMargin: when the top two non-exact candidates score within
	// this margin of each other, the item is ambiguous rather than
	// matched to whichever happened to sort first.
	AmbiguityMargin float64 `json:"ambiguity_margin"`

	// TokenWeight and EditWeight combine the two fuzzy signals. They
	// should sum to 1.
	TokenWeight float64 `json:"token_weight"`
	EditWeight  float64 `json:"edit_weight"`
}

// DefaultMatcherConfig returns the default matching configuration.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MinConfidence:   0.6,
		AmbiguityMargin: 0.05,
		TokenWeight:     0.55,
		EditWeight:      0.45,
	}
}

func (c MatcherConfig) withDefaults() MatcherConfig {
	def := DefaultMatcherConfig()
	if c.MinConfidence <= 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.AmbiguityMargin <= 0 {
		c.AmbiguityMargin = def.AmbiguityMargin
	}
	if c.TokenWeight <= 0 && c.EditWeight <= 0 {
		c.TokenWeight = def.TokenWeight
		c.EditWeight = def.EditWeight
	}
	return c
}

// Metrics holds Prometheus metrics for the matcher.
type Metrics struct {
	outcomes *prometheus.CounterVec
}

// NewMetrics registers the matcher metrics once; the returned set is shared
// by every matcher the process builds. Returns nil for a nil registry.
func NewMetrics(registry metric.Registrar, name string) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voiceorder",
			Subsystem: "menu",
			Name:      "match_outcomes_total",
			Help:      "Extracted items by match outcome",
		}, []string{"outcome"}),
	}
	_ = registry.RegisterCounterVec(name, "match_outcomes", m.outcomes)
	return m
}

// Matcher resolves spoken item names against one restaurant's catalog.
type Matcher struct {
	cfg     MatcherConfig
	catalog *Catalog
	logger  *slog.Logger
	metrics *Metrics

	// normalized alias → entry index, for the exact tier.
	aliasIndex map[string]int
}

// NewMatcher builds a matcher over a catalog. An empty catalog fails here,
// fail-fast, rather than letting a session run and "successfully" match
// nothing.
func NewMatcher(catalog *Catalog, cfg MatcherConfig, logger *slog.Logger, metrics *Metrics) (*Matcher, error) {
	if catalog.Len() == 0 {
		return nil, errors.WrapFatal(
			errors.ErrCatalogEmpty,
			"menu", "NewMatcher", "validate catalog")
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Matcher{
		cfg:        cfg.withDefaults(),
		catalog:    catalog,
		logger:     logger,
		metrics:    metrics,
		aliasIndex: make(map[string]int),
	}

	// First registration wins so lookups stay deterministic even if two
	// entries claim the same alias.
	for i, entry := range catalog.Entries() {
		key := normalize(entry.Name)
		if _, ok := m.aliasIndex[key]; !ok {
			m.aliasIndex[key] = i
		}
		for _, alias := range entry.Aliases {
			key := normalize(alias)
			if _, ok := m.aliasIndex[key]; !ok {
				m.aliasIndex[key] = i
			}
		}
	}

	return m, nil
}

// Match resolves the extracted items, returning matched and unmatched lists
// in one pass. Ambiguous items are reported in the unmatched list with
// StatusAmbiguous. Low confidence is an outcome, never an error.
func (m *Matcher) Match(spoken []SpokenItem) (matched, unmatched []order.Item, err error) {
	if m.catalog.Len() == 0 {
		return nil, nil, errors.WrapFatal(
			fmt.Errorf("%w: restaurant %s", errors.ErrCatalogEmpty, m.catalog.RestaurantID),
			"menu", "Match", "validate catalog")
	}

	for _, sp := range spoken {
		item := m.matchOne(sp)
		if m.metrics != nil {
			m.metrics.outcomes.WithLabelValues(string(item.Status)).Inc()
		}
		if item.Status == order.StatusMatched {
			matched = append(matched, item)
		} else {
			unmatched = append(unmatched, item)
		}
	}
	return matched, unmatched, nil
}

// candidate is one catalog entry's score against a spoken name.
type candidate struct {
	index int
	score float64
	exact bool
}

func (m *Matcher) matchOne(sp SpokenItem) order.Item {
	item := order.Item{
		ID:        order.NewItemID(),
		RawName:   sp.Name,
		Quantity:  sp.Quantity,
		Modifiers: sp.Modifiers,
		Status:    order.StatusUnmatched,
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	norm := normalize(sp.Name)
	if norm == "" {
		return item
	}

	best, second := m.scan(norm)
	if best.index < 0 || best.score < m.cfg.MinConfidence {
		m.logger.Debug("no catalog match above threshold",
			"raw_name", sp.Name, "best_score", best.score)
		return item
	}

	// Two close non-exact candidates cannot be silently decided.
	if !best.exact && second.index >= 0 &&
		best.score-second.score < m.cfg.AmbiguityMargin {
		item.Status = order.StatusAmbiguous
		item.MatchConfidence = best.score
		m.logger.Debug("ambiguous catalog match",
			"raw_name", sp.Name,
			"first", m.catalog.entries[best.index].Name,
			"second", m.catalog.entries[second.index].Name)
		return item
	}

	entry := m.catalog.entries[best.index]
	item.Status = order.StatusMatched
	item.MatchedMenuItemID = entry.ID
	item.MatchedName = entry.Name
	item.PriceCents = entry.PriceCents
	item.MatchConfidence = best.score
	item.MissingSlots = unfilledRequiredSlots(entry, sp.Modifiers)
	return item
}

// scan scores every entry and returns the best and runner-up candidates.
// Tie-break order: exact alias, then score, then fewest unfilled required
// modifier slots.
func (m *Matcher) scan(norm string) (best, second candidate) {
	best = candidate{index: -1}
	second = candidate{index: -1}

	if i, ok := m.aliasIndex[norm]; ok {
		best = candidate{index: i, score: 1.0, exact: true}
		return best, second
	}

	for i, entry := range m.catalog.entries {
		score := m.scoreEntry(norm, entry)
		c := candidate{index: i, score: score}
		switch {
		case best.index < 0 || c.score > best.score ||
			(c.score == best.score && m.fewerUnfilledSlots(i, best.index)):
			second = best
			best = c
		case second.index < 0 || c.score > second.score:
			second = c
		}
	}
	return best, second
}

// scoreEntry returns the best composite score across the entry's canonical
// name and aliases.
func (m *Matcher) scoreEntry(norm string, entry CatalogEntry) float64 {
	names := make([]string, 0, len(entry.Aliases)+1)
	names = append(names, entry.Name)
	names = append(names, entry.Aliases...)

	best := 0.0
	for _, name := range names {
		cand := normalize(name)
		if cand == "" {
			continue
		}
		score := m.cfg.TokenWeight*tokenOverlap(norm, cand) +
			m.cfg.EditWeight*editSimilarity(norm, cand)
		if score > best {
			best = score
		}
	}
	return best
}

func (m *Matcher) fewerUnfilledSlots(i, j int) bool {
	return len(m.catalog.entries[i].RequiredSlots) < len(m.catalog.entries[j].RequiredSlots)
}

// unfilledRequiredSlots returns required slots no spoken modifier mentions.
func unfilledRequiredSlots(entry CatalogEntry, modifiers []string) []string {
	var missing []string
	for _, slot := range entry.RequiredSlots {
		slotNorm := normalize(slot)
		filled := false
		for _, mod := range modifiers {
			if strings.Contains(normalize(mod), slotNorm) {
				filled = true
				break
			}
		}
		if !filled {
			missing = append(missing, slot)
		}
	}
	return missing
}
