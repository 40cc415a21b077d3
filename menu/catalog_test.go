package menu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecraft/voiceorder/errors"
)

func TestDecodeCatalog(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		ctx := []byte(`[
			{"id":"m1","name":"Bacon Lettuce Tomato Sandwich","aliases":["BLT"],"price_cents":950,"required_slots":["bread","side"]},
			{"id":"m2","name":"Fall Salad","price_cents":875}
		]`)

		catalog, err := DecodeCatalog("rest-1", ctx)
		require.NoError(t, err)
		assert.Equal(t, "rest-1", catalog.RestaurantID)
		assert.Equal(t, 2, catalog.Len())
		assert.Equal(t, "Bacon Lettuce Tomato Sandwich", catalog.Entries()[0].Name)
	})

	t.Run("empty context is unavailable", func(t *testing.T) {
		_, err := DecodeCatalog("rest-1", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCatalogUnavailable))
		assert.True(t, errors.IsMatchError(err))
	})

	t.Run("empty list is empty catalog", func(t *testing.T) {
		_, err := DecodeCatalog("rest-1", []byte(`[]`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCatalogEmpty))
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("undecodable context", func(t *testing.T) {
		_, err := DecodeCatalog("rest-1", []byte(`{broken`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCatalogUnavailable))
	})

	t.Run("entry missing id", func(t *testing.T) {
		_, err := DecodeCatalog("rest-1", []byte(`[{"name":"Nameless","price_cents":100}]`))
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})
}
