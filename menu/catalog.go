package menu

import (
	"encoding/json"
	"fmt"

	"github.com/tablecraft/voiceorder/errors"
)

// CatalogEntry is one sellable menu item. Read-only for the lifetime of a
// session.
type CatalogEntry struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty"`
	PriceCents int      `json:"price_cents"`

	// RequiredSlots are modifier slots the kitchen cannot default (bread
	// choice, side choice). OptionalSlots can be omitted.
	RequiredSlots []string `json:"required_slots,omitempty"`
	OptionalSlots []string `json:"optional_slots,omitempty"`
}

// Catalog is the menu for one restaurant.
type Catalog struct {
	RestaurantID string
	entries      []CatalogEntry
}

// DecodeCatalog parses the serialized menu context delivered with the
// session credentials. An empty or undecodable catalog is a fatal match
// error: proceeding would let the session run with no menu context and
// produce superficially-successful empty matches.
func DecodeCatalog(restaurantID string, menuContext []byte) (*Catalog, error) {
	if len(menuContext) == 0 {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: restaurant %s", errors.ErrCatalogUnavailable, restaurantID),
			"menu", "DecodeCatalog", "read menu context")
	}

	var entries []CatalogEntry
	if err := json.Unmarshal(menuContext, &entries); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrCatalogUnavailable, err),
			"menu", "DecodeCatalog", "unmarshal menu context")
	}
	if len(entries) == 0 {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: restaurant %s", errors.ErrCatalogEmpty, restaurantID),
			"menu", "DecodeCatalog", "validate menu context")
	}

	for i, e := range entries {
		if e.ID == "" || e.Name == "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("entry %d missing id or name", i),
				"menu", "DecodeCatalog", "validate menu context")
		}
	}

	return &Catalog{RestaurantID: restaurantID, entries: entries}, nil
}

// Entries returns the catalog entries.
func (c *Catalog) Entries() []CatalogEntry {
	return c.entries
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
