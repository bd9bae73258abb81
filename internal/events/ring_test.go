package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

func ids(recs []record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.event.ID
	}
	return out
}

func TestRing_WrapsOldestFirst(t *testing.T) {
	r := newRing(3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		r.push(record{event: domain.Event{ID: id}})
	}

	assert.Equal(t, 3, r.len())
	assert.Equal(t, []string{"c", "d", "e"}, ids(r.recent(10)))
	assert.Equal(t, []string{"d", "e"}, ids(r.recent(2)))
	assert.Nil(t, r.recent(0))

	r.clear()
	assert.Equal(t, 0, r.len())
	assert.Nil(t, r.recent(5))
}

func TestRing_DefaultSize(t *testing.T) {
	r := newRing(0)
	assert.Equal(t, 1000, r.size)
}
