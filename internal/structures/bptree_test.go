package structures

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/r2d2/internal/core"
)

func key(v uint64) uint256.Int { return *uint256.NewInt(v) }

func rowDoc(v uint64) *core.Document {
	d := core.NewDocument()
	d.Set("value", core.Int64(int64(v)))
	return d
}

func rowValue(t *testing.T, d *core.Document) int64 {
	t.Helper()
	require.NotNil(t, d)
	e, ok := d.Get("value")
	require.True(t, ok)
	v, ok := e.Int64Value()
	require.True(t, ok)
	return v
}

// audit checks the structural invariants: uniform depth, key ordering,
// occupancy floors on non-root nodes, separator routing bounds, and the
// leaf successor chain.
func audit(t *testing.T, tree *BPTree) {
	t.Helper()

	var leaves []*node
	var walk func(n *node, depth int, min, max *uint256.Int) int
	walk = func(n *node, depth int, min, max *uint256.Int) int {
		// Key ordering within the node, bounded by inherited separators.
		for i := range n.keys {
			if i > 0 {
				require.True(t, n.keys[i-1].Lt(&n.keys[i]), "keys out of order")
			}
			if min != nil {
				require.False(t, n.keys[i].Lt(min), "key below separator bound")
			}
			if max != nil {
				require.True(t, n.keys[i].Lt(max), "key above separator bound")
			}
		}

		if n.leaf {
			require.Empty(t, n.kids, "leaf with children")
			require.Len(t, n.vals, len(n.keys), "leaf key/value mismatch")
			if n != tree.root {
				require.GreaterOrEqual(t, len(n.keys), tree.minLeafKeys(), "leaf underflow")
			}
			require.LessOrEqual(t, len(n.keys), tree.maxKeys(), "leaf overflow")
			leaves = append(leaves, n)
			return depth
		}

		require.Empty(t, n.vals, "internal node with values")
		require.Len(t, n.kids, len(n.keys)+1, "child count mismatch")
		if n != tree.root {
			require.GreaterOrEqual(t, len(n.kids), tree.minChildren(), "internal underflow")
		} else {
			require.GreaterOrEqual(t, len(n.kids), 2, "internal root below two children")
		}
		require.LessOrEqual(t, len(n.keys), tree.maxKeys(), "internal overflow")

		leafDepth := -1
		for i, kid := range n.kids {
			var lo, hi *uint256.Int
			if i > 0 {
				lo = &n.keys[i-1]
			} else {
				lo = min
			}
			if i < len(n.keys) {
				hi = &n.keys[i]
			} else {
				hi = max
			}
			d := walk(kid, depth+1, lo, hi)
			if leafDepth == -1 {
				leafDepth = d
			}
			require.Equal(t, leafDepth, d, "leaves at differing depths")
		}
		return leafDepth
	}
	walk(tree.root, 0, nil, nil)

	// The successor chain must enumerate exactly the in-order leaves.
	chain := tree.firstLeaf()
	for i, leaf := range leaves {
		require.Same(t, leaf, chain, "leaf chain out of order at %d", i)
		chain = chain.next
	}
	require.Nil(t, chain, "leaf chain has trailing nodes")

	// Size agrees with the leaf contents.
	total := 0
	for _, leaf := range leaves {
		total += len(leaf.keys)
	}
	require.Equal(t, tree.Len(), total, "size out of sync")
}

func TestBPTreeFanOutClamp(t *testing.T) {
	tree := NewBPTree(1)
	require.Equal(t, MinFanOut, tree.FanOut())
}

func TestBPTreeEmpty(t *testing.T) {
	tree := NewBPTree(4)
	require.Equal(t, 0, tree.Len())

	_, ok := tree.Lookup(key(1))
	require.False(t, ok)

	_, removed := tree.Remove(key(1))
	require.False(t, removed)

	cur := tree.Cursor()
	_, _, ok = cur.Next()
	require.False(t, ok)
	audit(t, tree)
}

func TestBPTreeInsertLookup(t *testing.T) {
	tree := NewBPTree(4)
	for i := uint64(0); i < 100; i++ {
		// Spread insert order: 0, 97, 194 mod 100, ...
		v := (i * 97) % 100
		prev, replaced := tree.Insert(key(v), rowDoc(v))
		require.Nil(t, prev)
		require.False(t, replaced)
	}
	require.Equal(t, 100, tree.Len())
	audit(t, tree)

	for i := uint64(0); i < 100; i++ {
		doc, ok := tree.Lookup(key(i))
		require.True(t, ok, "missing key %d", i)
		require.Equal(t, int64(i), rowValue(t, doc))
	}
	_, ok := tree.Lookup(key(100))
	require.False(t, ok)
}

func TestBPTreeInsertReplace(t *testing.T) {
	tree := NewBPTree(4)
	tree.Insert(key(7), rowDoc(1))

	prev, replaced := tree.Insert(key(7), rowDoc(2))
	require.True(t, replaced)
	require.Equal(t, int64(1), rowValue(t, prev))
	require.Equal(t, 1, tree.Len())

	doc, ok := tree.Lookup(key(7))
	require.True(t, ok)
	require.Equal(t, int64(2), rowValue(t, doc))
}

func TestBPTreeAscendingInsertDescendingRemove(t *testing.T) {
	tree := NewBPTree(5)
	const n = 500
	for i := uint64(0); i < n; i++ {
		tree.Insert(key(i), rowDoc(i))
	}
	audit(t, tree)

	for i := uint64(n); i > 0; i-- {
		doc, ok := tree.Remove(key(i - 1))
		require.True(t, ok)
		require.Equal(t, int64(i-1), rowValue(t, doc))
		audit(t, tree)
	}
	require.Equal(t, 0, tree.Len())
}

func TestBPTreeRemoveRebalances(t *testing.T) {
	// Deterministic mixed workload across several fan-outs, auditing
	// the invariants after every mutation.
	for _, fanOut := range []int{3, 4, 5, 8} {
		tree := NewBPTree(fanOut)
		present := map[uint64]bool{}

		for i := uint64(0); i < 300; i++ {
			v := (i*131 + 17) % 257
			if present[v] {
				_, ok := tree.Remove(key(v))
				require.True(t, ok)
				present[v] = false
			} else {
				tree.Insert(key(v), rowDoc(v))
				present[v] = true
			}
			audit(t, tree)
		}

		for v, in := range present {
			_, ok := tree.Lookup(key(v))
			require.Equal(t, in, ok, "fanOut %d key %d", fanOut, v)
		}
	}
}

func TestBPTreeRemoveAbsentIsNoop(t *testing.T) {
	tree := NewBPTree(3)
	for i := uint64(0); i < 10; i++ {
		tree.Insert(key(i*2), rowDoc(i))
	}

	_, ok := tree.Remove(key(5))
	require.False(t, ok)
	require.Equal(t, 10, tree.Len())

	_, ok = tree.Remove(key(4))
	require.True(t, ok)
	_, ok = tree.Remove(key(4))
	require.False(t, ok)
	audit(t, tree)
}

func TestBPTreeCursorOrder(t *testing.T) {
	tree := NewBPTree(4)
	for i := uint64(0); i < 50; i++ {
		v := (i * 37) % 50
		tree.Insert(key(v), rowDoc(v))
	}

	cur := tree.Cursor()
	var got []uint64
	for {
		k, doc, ok := cur.Next()
		if !ok {
			break
		}
		require.Equal(t, int64(k.Uint64()), rowValue(t, doc))
		got = append(got, k.Uint64())
	}

	require.Len(t, got, 50)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
}

func TestBPTreeCursorSeek(t *testing.T) {
	tree := NewBPTree(4)
	for i := uint64(0); i < 20; i++ {
		tree.Insert(key(i*10), rowDoc(i*10))
	}

	tests := []struct {
		name  string
		seek  uint64
		first uint64
		found bool
	}{
		{name: "exact hit", seek: 50, first: 50, found: true},
		{name: "between keys", seek: 51, first: 60, found: true},
		{name: "before first", seek: 0, first: 0, found: true},
		{name: "at last", seek: 190, first: 190, found: true},
		{name: "past the end", seek: 191, found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := tree.Cursor()
			cur.Seek(key(tt.seek))
			k, _, ok := cur.Next()
			require.Equal(t, tt.found, ok)
			if ok {
				require.Equal(t, tt.first, k.Uint64())
			}
		})
	}
}

func TestBPTreeCursorSeekSpansLeaves(t *testing.T) {
	tree := NewBPTree(3)
	for i := uint64(0); i < 30; i++ {
		tree.Insert(key(i), rowDoc(i))
	}

	cur := tree.Cursor()
	cur.Seek(key(13))
	var got []uint64
	for {
		k, _, ok := cur.Next()
		if !ok {
			break
		}
		got = append(got, k.Uint64())
	}
	require.Len(t, got, 17)
	require.Equal(t, uint64(13), got[0])
	require.Equal(t, uint64(29), got[len(got)-1])
}

func TestBPTreeWideKeys(t *testing.T) {
	tree := NewBPTree(4)

	var max uint256.Int
	max.SetAllOne()
	max.Rsh(&max, 128)

	wide := *uint256.NewInt(1)
	wide.Lsh(&wide, 100)

	tree.Insert(max, rowDoc(1))
	tree.Insert(wide, rowDoc(2))
	tree.Insert(key(1), rowDoc(3))

	cur := tree.Cursor()
	k1, _, _ := cur.Next()
	k2, _, _ := cur.Next()
	k3, _, _ := cur.Next()
	require.True(t, k1.Eq(uint256.NewInt(1)))
	require.True(t, k2.Eq(&wide))
	require.True(t, k3.Eq(&max))
	audit(t, tree)
}
