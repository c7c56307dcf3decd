// Package refframe implements the reference frame: a directed tree of
// RFNodes defining, per subtree, the coordinate contract a TileSet's
// tiles must honour. NodeInfo materialises a node at a specific TileId,
// including its validity against the subtree's valid extents.
package refframe

import (
	"fmt"

	"github.com/eak1mov/vts-tiles/tileid"
)

// SubdivisionKind states whether a subtree's children split the parent's
// extents geometrically (midpoint in the SRS) or by pixel count.
type SubdivisionKind int

const (
	SubdivisionGeometric SubdivisionKind = iota
	SubdivisionPixel
)

// RFNode is one node of a reference frame tree. Nodes are stored by
// value in ReferenceFrame.Nodes and referenced by index — there is no
// ownership cycle, only arena-and-index references rather than direct
// parent/child pointers.
type RFNode struct {
	ID           tileid.ID
	SRS          string
	Extents      tileid.Extents2 // full geometric footprint, independent of validity
	ValidExtents tileid.Extents2 // subset of Extents actually usable by tiles
	Subdivision  SubdivisionKind

	parent   int // -1 for a subtree root
	children int // index into ReferenceFrame.childSets, or -1 if leaf
}

// ReferenceFrame is a forest of RFNode trees, one tree per SRS subtree.
type ReferenceFrame struct {
	Nodes     []RFNode
	Roots     []int // indices into Nodes
	childSets [][4]int
}

// New creates an empty ReferenceFrame.
func New() *ReferenceFrame {
	return &ReferenceFrame{}
}

// AddRoot adds a new subtree root and returns its index. extents is the
// root's full geometric footprint; valid is the (possibly smaller)
// subset of it that tiles may actually occupy.
func (rf *ReferenceFrame) AddRoot(id tileid.ID, srs string, extents, valid tileid.Extents2, sub SubdivisionKind) int {
	idx := len(rf.Nodes)
	rf.Nodes = append(rf.Nodes, RFNode{
		ID: id, SRS: srs, Extents: extents, ValidExtents: valid, Subdivision: sub, parent: -1, children: -1,
	})
	rf.Roots = append(rf.Roots, idx)
	return idx
}

// AddChild adds a child of parentIdx in quadrant q and returns its
// index. The child inherits SRS and Subdivision from its parent;
// extents is derived by the caller (normally via Extents2.Split), and
// valid may differ from extents (a child can be partial within a
// larger valid area, or wholly outside it).
func (rf *ReferenceFrame) AddChild(parentIdx int, q tileid.Quadrant, extents, valid tileid.Extents2) int {
	parent := &rf.Nodes[parentIdx]
	childID := parent.ID.Child(q)

	idx := len(rf.Nodes)
	rf.Nodes = append(rf.Nodes, RFNode{
		ID: childID, SRS: parent.SRS, Extents: extents, ValidExtents: valid, Subdivision: parent.Subdivision, parent: parentIdx, children: -1,
	})
	// append may have moved rf.Nodes; take the parent pointer again.
	parent = &rf.Nodes[parentIdx]

	if parent.children == -1 {
		parent.children = len(rf.childSets)
		rf.childSets = append(rf.childSets, [4]int{-1, -1, -1, -1})
	}
	rf.childSets[parent.children][q] = idx
	return idx
}

// Child returns the index of the child of nodeIdx in quadrant q, and
// whether it exists.
func (rf *ReferenceFrame) Child(nodeIdx int, q tileid.Quadrant) (int, bool) {
	n := rf.Nodes[nodeIdx]
	if n.children == -1 {
		return -1, false
	}
	c := rf.childSets[n.children][q]
	return c, c != -1
}

// Parent returns the index of nodeIdx's parent, or (-1, false) at a root.
func (rf *ReferenceFrame) Parent(nodeIdx int) (int, bool) {
	p := rf.Nodes[nodeIdx].parent
	return p, p != -1
}

// Subtree returns the indices of every node in the closure under
// children of rootIdx, rootIdx itself included.
func (rf *ReferenceFrame) Subtree(rootIdx int) []int {
	var out []int
	var walk func(int)
	walk = func(idx int) {
		out = append(out, idx)
		n := rf.Nodes[idx]
		if n.children == -1 {
			return
		}
		for _, c := range rf.childSets[n.children] {
			if c != -1 {
				walk(c)
			}
		}
	}
	walk(rootIdx)
	return out
}

// RootFor finds the subtree root whose ID is an ancestor of id (within
// the same SRS forest), returning its index.
func (rf *ReferenceFrame) RootFor(id tileid.ID) (int, error) {
	for _, r := range rf.Roots {
		root := rf.Nodes[r]
		if root.ID.Lod > id.Lod {
			continue
		}
		if id.Ancestor(root.ID.Lod) == root.ID {
			return r, nil
		}
	}
	return -1, fmt.Errorf("refframe: no subtree root covers %v", id)
}
