package slotpool

import (
	"slices"

	"github.com/holmberd/go-slotpool/internal/subpool"
)

// chain is an ordered list of subpools. The head is the last element,
// so pushing and popping the head is O(1).
type chain struct {
	subpools []*subpool.Subpool
}

func (c *chain) len() int {
	return len(c.subpools)
}

// head returns the head subpool, or nil if the chain is empty.
func (c *chain) head() *subpool.Subpool {
	if len(c.subpools) == 0 {
		return nil
	}
	return c.subpools[len(c.subpools)-1]
}

func (c *chain) pushHead(s *subpool.Subpool) {
	c.subpools = append(c.subpools, s)
}

func (c *chain) popHead() *subpool.Subpool {
	n := len(c.subpools)
	if n == 0 {
		return nil
	}
	s := c.subpools[n-1]
	c.subpools[n-1] = nil
	c.subpools = c.subpools[:n-1]
	return s
}

// remove unlinks s from the chain and reports whether it was a member.
func (c *chain) remove(s *subpool.Subpool) bool {
	// Search from the head; recently migrated subpools sit there.
	for i := len(c.subpools) - 1; i >= 0; i-- {
		if c.subpools[i] == s {
			c.subpools = slices.Delete(c.subpools, i, i+1)
			return true
		}
	}
	return false
}

// appendTail places the subpools of other behind the current tail and empties other.
func (c *chain) appendTail(other *chain) {
	c.subpools = append(slices.Clone(other.subpools), c.subpools...)
	clear(other.subpools)
	other.subpools = other.subpools[:0]
}

func (c *chain) reset() {
	clear(c.subpools)
	c.subpools = c.subpools[:0]
}
