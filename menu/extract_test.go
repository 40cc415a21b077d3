package menu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecraft/voiceorder/errors"
)

func TestParseAddToOrder(t *testing.T) {
	t.Run("full arguments", func(t *testing.T) {
		items, err := ParseAddToOrder(`{"items":[
			{"name":"Fall Salad","quantity":1},
			{"name":"BLT","quantity":2,"modifiers":["wheat bread","fries"]}
		]}`)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "Fall Salad", items[0].Name)
		assert.Equal(t, 1, items[0].Quantity)
		assert.Equal(t, []string{"wheat bread", "fries"}, items[1].Modifiers)
	})

	t.Run("quantity defaults to one", func(t *testing.T) {
		items, err := ParseAddToOrder(`{"items":[{"name":"Fall Salad"}]}`)
		require.NoError(t, err)
		assert.Equal(t, 1, items[0].Quantity)
	})

	t.Run("missing items key", func(t *testing.T) {
		_, err := ParseAddToOrder(`{"order":[]}`)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("empty items array", func(t *testing.T) {
		_, err := ParseAddToOrder(`{"items":[]}`)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("item without name", func(t *testing.T) {
		_, err := ParseAddToOrder(`{"items":[{"quantity":2}]}`)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("zero quantity rejected by schema", func(t *testing.T) {
		_, err := ParseAddToOrder(`{"items":[{"name":"BLT","quantity":0}]}`)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})
}
