package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaleIDFromChannel(t *testing.T) {
	id, ok := SaleIDFromChannel("sale_events:42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = SaleIDFromChannel("sale_events:abc")
	assert.False(t, ok)

	_, ok = SaleIDFromChannel("other_channel:42")
	assert.False(t, ok)

	_, ok = SaleIDFromChannel("sale_events:")
	assert.False(t, ok)
}
