// Package qtree implements a compressed quadtree over an N×N domain
// (N = 2^depth), storing one uint32 per cell. A node whose four children
// share the same value collapses to a leaf carrying that value, so a
// uniform region of any size is O(1) to store and to query.
package qtree

import "fmt"

// node is either a leaf (Children == nil, Value meaningful) or an
// internal node with exactly four children in ll, lr, ul, ur order.
type node struct {
	value    uint32
	children *[4]*node
}

func leaf(v uint32) *node { return &node{value: v} }

// QTree is a compressed quadtree of depth Depth over a 2^Depth x 2^Depth
// domain. The zero value is not usable; construct with New.
type QTree struct {
	Depth uint8
	root  *node
}

// New returns a QTree of the given depth, uniformly filled with v.
func New(depth uint8, v uint32) *QTree {
	return &QTree{Depth: depth, root: leaf(v)}
}

// Size returns the domain size N = 2^Depth along one axis.
func (t *QTree) Size() uint32 { return 1 << t.Depth }

func quadrant(x, y, bit uint32) int {
	xi := 0
	if x&bit != 0 {
		xi = 1
	}
	yi := 0
	if y&bit != 0 {
		yi = 1
	}
	return yi<<1 | xi
}

// Get returns the value stored at (x, y).
func (t *QTree) Get(x, y uint32) uint32 {
	n := t.root
	for level := int(t.Depth); level > 0 && n.children != nil; level-- {
		bit := uint32(1) << (level - 1)
		n = n.children[quadrant(x, y, bit)]
	}
	return n.value
}

// Set stores v at (x, y), copy-on-write splitting the path down to the
// leaf and collapsing uniform siblings back up on ascent.
func (t *QTree) Set(x, y uint32, v uint32) {
	t.root = setRec(t.root, int(t.Depth), x, y, v)
}

func setRec(n *node, level int, x, y uint32, v uint32) *node {
	if level == 0 {
		if n.value == v {
			return n
		}
		return leaf(v)
	}
	bit := uint32(1) << (level - 1)
	q := quadrant(x, y, bit)

	children := n.children
	if children == nil {
		if n.value == v {
			return n
		}
		var split [4]*node
		for i := range split {
			split[i] = leaf(n.value)
		}
		children = &split
	}

	newChild := setRec(children[q], level-1, x, y, v)
	if newChild == children[q] {
		return n
	}

	next := *children
	next[q] = newChild
	return collapse(&next)
}

// collapse returns a single leaf if all four children are leaves sharing
// the same value, otherwise an internal node over children.
func collapse(children *[4]*node) *node {
	first := children[0]
	if first.children != nil {
		return &node{children: children}
	}
	for _, c := range children[1:] {
		if c.children != nil || c.value != first.value {
			return &node{children: children}
		}
	}
	return leaf(first.value)
}

// Region is an axis-aligned, half-open integer rectangle [X0,X1)x[Y0,Y1).
type Region struct {
	X0, Y0, X1, Y1 uint32
}

func (r Region) contains(o Region) bool {
	return r.X0 <= o.X0 && r.Y0 <= o.Y0 && r.X1 >= o.X1 && r.Y1 >= o.Y1
}

func (r Region) overlaps(o Region) bool {
	return r.X0 < o.X1 && o.X0 < r.X1 && r.Y0 < o.Y1 && o.Y0 < r.Y1
}

func quadRegions(r Region) [4]Region {
	midX := (r.X0 + r.X1) / 2
	midY := (r.Y0 + r.Y1) / 2
	return [4]Region{
		{r.X0, r.Y0, midX, midY}, // ll
		{midX, r.Y0, r.X1, midY}, // lr
		{r.X0, midY, midX, r.Y1}, // ul
		{midX, midY, r.X1, r.Y1}, // ur
	}
}

// Fill sets every cell within region to v, splitting quads that
// straddle the boundary and collapsing quads that end up uniform.
func (t *QTree) Fill(region Region, v uint32) {
	domain := Region{0, 0, t.Size(), t.Size()}
	t.root = fillRec(t.root, domain, region, v)
}

func fillRec(n *node, nodeRegion, fillRegion Region, v uint32) *node {
	if !nodeRegion.overlaps(fillRegion) {
		return n
	}
	if fillRegion.contains(nodeRegion) {
		return leaf(v)
	}

	quads := quadRegions(nodeRegion)

	children := n.children
	if children == nil {
		var split [4]*node
		for i := range split {
			split[i] = leaf(n.value)
		}
		children = &split
	}

	var next [4]*node
	changed := false
	for i, qr := range quads {
		child := fillRec(children[i], qr, fillRegion, v)
		next[i] = child
		if child != children[i] {
			changed = true
		}
	}
	if !changed {
		return n
	}
	return collapse(&next)
}

// MapRegion replaces every cell within region with fn(oldValue). Unlike
// Fill, a fully-contained but non-uniform subtree must still be walked
// leaf by leaf, since fn's result depends on each leaf's own value.
func (t *QTree) MapRegion(region Region, fn func(uint32) uint32) {
	domain := Region{0, 0, t.Size(), t.Size()}
	t.root = mapRegionRec(t.root, domain, region, fn)
}

func mapRegionRec(n *node, nodeRegion, region Region, fn func(uint32) uint32) *node {
	if !nodeRegion.overlaps(region) {
		return n
	}
	if n.children == nil && region.contains(nodeRegion) {
		nv := fn(n.value)
		if nv == n.value {
			return n
		}
		return leaf(nv)
	}

	quads := quadRegions(nodeRegion)
	children := n.children
	if children == nil {
		var split [4]*node
		for i := range split {
			split[i] = leaf(n.value)
		}
		children = &split
	}

	var next [4]*node
	changed := false
	for i, qr := range quads {
		child := mapRegionRec(children[i], qr, region, fn)
		next[i] = child
		if child != children[i] {
			changed = true
		}
	}
	if !changed {
		return n
	}
	return collapse(&next)
}

// ForEachQuad visits every maximal uniform quad whose value matches
// pred, in deterministic ll/lr/ul/ur row-major ascent order. cb receives
// the quad's origin, its size (in domain cells) and its value.
func (t *QTree) ForEachQuad(pred func(uint32) bool, cb func(x, y, size uint32, v uint32)) {
	forEachQuadRec(t.root, 0, 0, t.Size(), pred, cb)
}

func forEachQuadRec(n *node, x, y, size uint32, pred func(uint32) bool, cb func(x, y, size, v uint32)) {
	if n.children == nil {
		if pred(n.value) {
			cb(x, y, size, n.value)
		}
		return
	}
	half := size / 2
	forEachQuadRec(n.children[0], x, y, half, pred, cb)           // ll
	forEachQuadRec(n.children[1], x+half, y, half, pred, cb)      // lr
	forEachQuadRec(n.children[2], x, y+half, half, pred, cb)      // ul
	forEachQuadRec(n.children[3], x+half, y+half, half, pred, cb) // ur
}

// Op is a bulk bitwise operator combining two cell values.
type Op func(a, b uint32) uint32

func And(a, b uint32) uint32 { return a & b }
func Or(a, b uint32) uint32  { return a | b }
func Xor(a, b uint32) uint32 { return a ^ b }
func Sub(a, b uint32) uint32 { return a &^ b }

// Combine returns a new QTree of the same depth as a and b, applying op
// to every cell. a and b are descended in lockstep, splitting where
// their structure differs and collapsing on the way back up, so the
// cost is O(|a|+|b|) in leaf count rather than O(N^2).
func Combine(a, b *QTree, op Op) (*QTree, error) {
	if a.Depth != b.Depth {
		return nil, fmt.Errorf("qtree: depth mismatch (%d != %d)", a.Depth, b.Depth)
	}
	return &QTree{Depth: a.Depth, root: combineRec(a.root, b.root, int(a.Depth), op)}, nil
}

func combineRec(a, b *node, level int, op Op) *node {
	if a.children == nil && b.children == nil {
		return leaf(op(a.value, b.value))
	}
	if level == 0 {
		// Both leaves are expected at level 0; guard against malformed trees.
		return leaf(op(a.value, b.value))
	}

	ac := virtualSplit(a)
	bc := virtualSplit(b)

	var next [4]*node
	for i := range next {
		next[i] = combineRec(ac[i], bc[i], level-1, op)
	}
	return collapse(&next)
}

func virtualSplit(n *node) [4]*node {
	if n.children != nil {
		return *n.children
	}
	return [4]*node{n, n, n, n}
}

// Equal reports whether a and b have the same depth and the same value
// at every cell.
func Equal(a, b *QTree) bool {
	if a.Depth != b.Depth {
		return false
	}
	return equalRec(a.root, b.root)
}

func equalRec(a, b *node) bool {
	if a.children == nil && b.children == nil {
		return a.value == b.value
	}
	ac, bc := virtualSplit(a), virtualSplit(b)
	for i := range ac {
		if !equalRec(ac[i], bc[i]) {
			return false
		}
	}
	return true
}

// IsUniform reports whether the whole tree is a single leaf, and if so
// returns its value.
func (t *QTree) IsUniform() (uint32, bool) {
	if t.root.children == nil {
		return t.root.value, true
	}
	return 0, false
}
