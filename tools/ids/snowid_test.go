package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUniqueAndOrdered(t *testing.T) {
	seen := make(map[int64]struct{}, 10000)
	var last int64
	for i := 0; i < 10000; i++ {
		id := Generate()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %d", id)
		assert.Greater(t, id, last)
		seen[id] = struct{}{}
		last = id
	}
}

func TestActionID(t *testing.T) {
	a, b := ActionID(), ActionID()
	assert.True(t, strings.HasPrefix(a, "action_"))
	assert.NotEqual(t, a, b)
}

func TestNodeFromDevice(t *testing.T) {
	d := DeviceID()
	n := NodeFromDevice(d)
	assert.Equal(t, n, NodeFromDevice(d))
	assert.True(t, n >= 0 && n <= 1023)
	assert.True(t, NodeFromDevice("not-a-uuid") <= 1023)
}
