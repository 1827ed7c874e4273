// Package structures provides the ordered in-memory index backing the
// r2d2 store: a B+-tree keyed by 128-bit timestamps with leaf-linked
// range scans.
package structures

import (
	"github.com/holiman/uint256"

	"github.com/scigolib/r2d2/internal/core"
)

// MinFanOut is the smallest usable fan-out; constructors clamp to it.
const MinFanOut = 3

// DefaultFanOut is the production fan-out.
const DefaultFanOut = 2000

// node is a single B+-tree node. Ownership is strictly top-down: parents
// own children, parent context during mutation lives on the descent
// stack, and leaves carry only a forward successor link.
type node struct {
	leaf bool
	keys []uint256.Int

	// Leaf payload. len(vals) == len(keys).
	vals []*core.Document
	next *node

	// Internal payload. len(kids) == len(keys)+1.
	kids []*node
}

// BPTree is a sorted map from 128-bit key to document.
//
// Invariants after every operation:
//   - keys are unique and totally ordered,
//   - every non-root leaf holds between ceil(F/2)-1 and F-1 entries,
//   - an internal node with k separators has k+1 children; child i holds
//     keys < separator i, child i+1 holds keys >= separator i,
//   - leaves are forward-linked in ascending key order,
//   - height changes only by root split or root collapse.
type BPTree struct {
	fanOut int
	root   *node
	size   int
}

// NewBPTree creates an empty tree. Fan-outs below MinFanOut are clamped.
func NewBPTree(fanOut int) *BPTree {
	if fanOut < MinFanOut {
		fanOut = MinFanOut
	}
	return &BPTree{
		fanOut: fanOut,
		root:   &node{leaf: true},
	}
}

// Len returns the number of entries.
func (t *BPTree) Len() int { return t.size }

// FanOut returns the configured fan-out.
func (t *BPTree) FanOut() int { return t.fanOut }

// maxKeys is the entry capacity of a node.
func (t *BPTree) maxKeys() int { return t.fanOut - 1 }

// minLeafKeys is the occupancy floor for non-root leaves.
func (t *BPTree) minLeafKeys() int { return (t.fanOut+1)/2 - 1 }

// minChildren is the occupancy floor for non-root internal nodes.
func (t *BPTree) minChildren() int { return (t.fanOut + 1) / 2 }

// Lookup returns the document stored at k.
func (t *BPTree) Lookup(k uint256.Int) (*core.Document, bool) {
	n := t.root
	for !n.leaf {
		n = n.kids[n.childIndex(&k)]
	}
	i := n.lowerBound(&k)
	if i < len(n.keys) && n.keys[i].Eq(&k) {
		return n.vals[i], true
	}
	return nil, false
}

// Insert stores v at k, replacing any existing value. It returns the
// previous value when the key was already present.
func (t *BPTree) Insert(k uint256.Int, v *core.Document) (*core.Document, bool) {
	prev, replaced, sep, right := t.insert(t.root, k, v)
	if right != nil {
		t.root = &node{
			keys: []uint256.Int{sep},
			kids: []*node{t.root, right},
		}
	}
	if !replaced {
		t.size++
	}
	return prev, replaced
}

// insert descends to the leaf for k. A split in the subtree surfaces as
// a non-nil right node plus the separator to register in the caller.
func (t *BPTree) insert(n *node, k uint256.Int, v *core.Document) (prev *core.Document, replaced bool, sep uint256.Int, right *node) {
	if n.leaf {
		i := n.lowerBound(&k)
		if i < len(n.keys) && n.keys[i].Eq(&k) {
			prev = n.vals[i]
			n.vals[i] = v
			return prev, true, sep, nil
		}

		n.keys = append(n.keys, uint256.Int{})
		copy(n.keys[i+1:], n.keys[i:])
		n.keys[i] = k
		n.vals = append(n.vals, nil)
		copy(n.vals[i+1:], n.vals[i:])
		n.vals[i] = v

		if len(n.keys) > t.maxKeys() {
			sep, right = t.splitLeaf(n)
		}
		return nil, false, sep, right
	}

	idx := n.childIndex(&k)
	prev, replaced, childSep, childRight := t.insert(n.kids[idx], k, v)
	if childRight != nil {
		n.keys = append(n.keys, uint256.Int{})
		copy(n.keys[idx+1:], n.keys[idx:])
		n.keys[idx] = childSep
		n.kids = append(n.kids, nil)
		copy(n.kids[idx+2:], n.kids[idx+1:])
		n.kids[idx+1] = childRight

		if len(n.keys) > t.maxKeys() {
			sep, right = t.splitInternal(n)
		}
	}
	return prev, replaced, sep, right
}

// splitLeaf splits an overflowing leaf at ceil(F/2). The separator is
// the first key of the new right sibling.
func (t *BPTree) splitLeaf(n *node) (uint256.Int, *node) {
	at := (t.fanOut + 1) / 2
	right := &node{
		leaf: true,
		keys: append([]uint256.Int(nil), n.keys[at:]...),
		vals: append([]*core.Document(nil), n.vals[at:]...),
		next: n.next,
	}
	n.keys = n.keys[:at:at]
	n.vals = n.vals[:at:at]
	n.next = right
	return right.keys[0], right
}

// splitInternal splits an overflowing internal node and promotes the
// median key.
func (t *BPTree) splitInternal(n *node) (uint256.Int, *node) {
	mid := len(n.keys) / 2
	sep := n.keys[mid]
	right := &node{
		keys: append([]uint256.Int(nil), n.keys[mid+1:]...),
		kids: append([]*node(nil), n.kids[mid+1:]...),
	}
	n.keys = n.keys[:mid:mid]
	n.kids = n.kids[:mid+1 : mid+1]
	return sep, right
}

// Remove deletes the entry at k, returning the stored value. Removing an
// absent key is a no-op.
func (t *BPTree) Remove(k uint256.Int) (*core.Document, bool) {
	v, ok := t.remove(t.root, k)
	if ok {
		t.size--
	}
	// Collapse an internal root that dropped to a single child.
	if !t.root.leaf && len(t.root.kids) == 1 {
		t.root = t.root.kids[0]
	}
	return v, ok
}

func (t *BPTree) remove(n *node, k uint256.Int) (*core.Document, bool) {
	if n.leaf {
		i := n.lowerBound(&k)
		if i >= len(n.keys) || !n.keys[i].Eq(&k) {
			return nil, false
		}
		v := n.vals[i]
		n.keys = append(n.keys[:i], n.keys[i+1:]...)
		n.vals = append(n.vals[:i], n.vals[i+1:]...)
		return v, true
	}

	idx := n.childIndex(&k)
	v, ok := t.remove(n.kids[idx], k)
	if ok && t.underflowed(n.kids[idx]) {
		t.rebalance(n, idx)
	}
	return v, ok
}

func (t *BPTree) underflowed(n *node) bool {
	if n.leaf {
		return len(n.keys) < t.minLeafKeys()
	}
	return len(n.kids) < t.minChildren()
}

// rebalance restores the occupancy floor of parent.kids[idx]. Resolution
// order: borrow from right, borrow from left, merge with right, merge
// with left. Borrowing refreshes the parent separator to the new
// leftmost key of the right-hand sibling of the rotation.
func (t *BPTree) rebalance(parent *node, idx int) {
	switch {
	case idx+1 < len(parent.kids) && t.canLend(parent.kids[idx+1]):
		t.borrowRight(parent, idx)
	case idx > 0 && t.canLend(parent.kids[idx-1]):
		t.borrowLeft(parent, idx)
	case idx+1 < len(parent.kids):
		t.merge(parent, idx)
	case idx > 0:
		t.merge(parent, idx-1)
	}
}

func (t *BPTree) canLend(n *node) bool {
	if n.leaf {
		return len(n.keys) > t.minLeafKeys()
	}
	return len(n.kids) > t.minChildren()
}

// borrowRight moves the leftmost entry of the right sibling into child.
func (t *BPTree) borrowRight(parent *node, idx int) {
	child := parent.kids[idx]
	sib := parent.kids[idx+1]

	if child.leaf {
		child.keys = append(child.keys, sib.keys[0])
		child.vals = append(child.vals, sib.vals[0])
		sib.keys = append(sib.keys[:0], sib.keys[1:]...)
		sib.vals = append(sib.vals[:0], sib.vals[1:]...)
		parent.keys[idx] = sib.keys[0]
		return
	}

	// Internal rotation through the parent separator.
	child.keys = append(child.keys, parent.keys[idx])
	child.kids = append(child.kids, sib.kids[0])
	parent.keys[idx] = sib.keys[0]
	sib.keys = append(sib.keys[:0], sib.keys[1:]...)
	sib.kids = append(sib.kids[:0], sib.kids[1:]...)
}

// borrowLeft moves the rightmost entry of the left sibling into child.
func (t *BPTree) borrowLeft(parent *node, idx int) {
	child := parent.kids[idx]
	sib := parent.kids[idx-1]
	last := len(sib.keys) - 1

	if child.leaf {
		child.keys = append([]uint256.Int{sib.keys[last]}, child.keys...)
		child.vals = append([]*core.Document{sib.vals[last]}, child.vals...)
		sib.keys = sib.keys[:last]
		sib.vals = sib.vals[:last]
		parent.keys[idx-1] = child.keys[0]
		return
	}

	child.keys = append([]uint256.Int{parent.keys[idx-1]}, child.keys...)
	child.kids = append([]*node{sib.kids[len(sib.kids)-1]}, child.kids...)
	parent.keys[idx-1] = sib.keys[last]
	sib.keys = sib.keys[:last]
	sib.kids = sib.kids[:len(sib.kids)-1]
}

// merge folds parent.kids[idx+1] into parent.kids[idx] and drops the
// separating key. Parent underflow propagates to the caller's frame.
func (t *BPTree) merge(parent *node, idx int) {
	left := parent.kids[idx]
	right := parent.kids[idx+1]

	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.vals = append(left.vals, right.vals...)
		left.next = right.next
	} else {
		left.keys = append(left.keys, parent.keys[idx])
		left.keys = append(left.keys, right.keys...)
		left.kids = append(left.kids, right.kids...)
	}

	parent.keys = append(parent.keys[:idx], parent.keys[idx+1:]...)
	parent.kids = append(parent.kids[:idx+1], parent.kids[idx+2:]...)
}

// lowerBound returns the first index whose key is >= k.
func (n *node) lowerBound(k *uint256.Int) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if n.keys[mid].Lt(k) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childIndex routes k during descent: keys equal to a separator belong
// to the right-hand child.
func (n *node) childIndex(k *uint256.Int) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if k.Lt(&n.keys[mid]) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// firstLeaf returns the leftmost leaf.
func (t *BPTree) firstLeaf() *node {
	n := t.root
	for !n.leaf {
		n = n.kids[0]
	}
	return n
}
