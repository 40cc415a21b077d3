package order

import "github.com/google/uuid"

// ItemStatus classifies how an extracted item resolved against the menu.
type ItemStatus string

const (
	// StatusMatched means the item resolved to a catalog entry at or above
	// the confidence threshold.
	StatusMatched ItemStatus = "matched"
	// StatusUnmatched means no catalog entry scored at the threshold. The
	// item is kept and shown distinctly, never silently dropped.
	StatusUnmatched ItemStatus = "unmatched"
	// StatusAmbiguous means two catalog entries scored too close to call.
	StatusAmbiguous ItemStatus = "ambiguous"
)

// Item is one extracted order line. Produced by the menu matcher, owned by
// the Draft from then on.
type Item struct {
	// ID is a locally generated identifier for draft mutations.
	ID string `json:"id"`

	// RawName is the name as spoken/extracted, before matching.
	RawName string `json:"raw_name"`

	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers,omitempty"`

	// MatchedMenuItemID is set only when MatchConfidence clears the
	// matcher's threshold; empty otherwise.
	MatchedMenuItemID string     `json:"matched_menu_item_id,omitempty"`
	MatchedName       string     `json:"matched_name,omitempty"`
	PriceCents        int        `json:"price_cents,omitempty"`
	MatchConfidence   float64    `json:"match_confidence"`
	Status            ItemStatus `json:"status"`

	// MissingSlots lists required modifier slots the spoken modifiers did
	// not fill; a matched item with missing slots needs clarification
	// before the kitchen can make it.
	MissingSlots []string `json:"missing_slots,omitempty"`
}

// NewItemID returns a fresh item identifier.
func NewItemID() string {
	return uuid.NewString()
}

// LineTotalCents returns the price contribution of this item.
func (it Item) LineTotalCents() int {
	if it.Status != StatusMatched {
		return 0
	}
	qty := it.Quantity
	if qty <= 0 {
		qty = 1
	}
	return it.PriceCents * qty
}
