package structures

import (
	"github.com/holiman/uint256"

	"github.com/scigolib/r2d2/internal/core"
)

// Cursor iterates leaf entries in ascending key order. A fresh cursor is
// positioned at the first entry; Seek repositions it. Cursors observe
// the tree at call time and must not be used across mutations.
type Cursor struct {
	tree *BPTree
	leaf *node
	idx  int
}

// Cursor returns a cursor positioned at the first entry.
func (t *BPTree) Cursor() *Cursor {
	c := &Cursor{tree: t}
	c.SeekToFirst()
	return c
}

// SeekToFirst positions the cursor at the smallest key.
func (c *Cursor) SeekToFirst() {
	c.leaf = c.tree.firstLeaf()
	c.idx = 0
	c.skipExhaustedLeaf()
}

// Seek positions the cursor at the least key >= k. Seeking past the
// maximum leaves the cursor exhausted.
func (c *Cursor) Seek(k uint256.Int) {
	n := c.tree.root
	for !n.leaf {
		n = n.kids[n.childIndex(&k)]
	}
	c.leaf = n
	c.idx = n.lowerBound(&k)
	c.skipExhaustedLeaf()
}

// Next yields the current entry and advances. ok is false once the
// cursor is exhausted.
func (c *Cursor) Next() (key uint256.Int, val *core.Document, ok bool) {
	if c.leaf == nil {
		return uint256.Int{}, nil, false
	}
	key = c.leaf.keys[c.idx]
	val = c.leaf.vals[c.idx]
	c.idx++
	c.skipExhaustedLeaf()
	return key, val, true
}

// skipExhaustedLeaf hops the successor chain past the end of the
// current leaf.
func (c *Cursor) skipExhaustedLeaf() {
	for c.leaf != nil && c.idx >= len(c.leaf.keys) {
		c.leaf = c.leaf.next
		c.idx = 0
	}
}
