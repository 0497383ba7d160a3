package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_OpenByDefault(t *testing.T) {
	f := NewFilter()
	assert.True(t, f.AllowsPeer(1, "10.0.0.1"))
	assert.True(t, f.AllowsSourceIP("10.0.0.1"))
}

func TestFilter_BlocksByNodeID(t *testing.T) {
	f := NewFilter()
	f.Set([]int{2}, nil)
	assert.False(t, f.AllowsPeer(2, "10.0.0.2"))
	assert.True(t, f.AllowsPeer(3, "10.0.0.3"))
}

func TestFilter_BlocksByIP(t *testing.T) {
	f := NewFilter()
	f.Set(nil, []string{"10.0.0.5"})
	assert.False(t, f.AllowsPeer(9, "10.0.0.5"))
	assert.False(t, f.AllowsSourceIP("10.0.0.5"))
	assert.True(t, f.AllowsSourceIP("10.0.0.6"))
}

func TestFilter_SetReplacesWholesale(t *testing.T) {
	f := NewFilter()
	f.Set([]int{1}, []string{"10.0.0.1"})
	f.Set([]int{2}, nil)

	assert.True(t, f.AllowsPeer(1, "10.0.0.1"), "earlier block-list must be fully replaced")
	assert.False(t, f.AllowsPeer(2, "10.0.0.2"))
}

func TestFilter_Status(t *testing.T) {
	f := NewFilter()
	f.Set([]int{1, 2}, []string{"10.0.0.1"})

	ids, ips := f.Status()
	assert.ElementsMatch(t, []int{1, 2}, ids)
	assert.ElementsMatch(t, []string{"10.0.0.1"}, ips)
}
