package refframe

import "github.com/eak1mov/vts-tiles/tileid"

// NodeData is the exported mirror of RFNode used to move a
// ReferenceFrame across a serialization boundary (e.g. a registry
// store) without reaching into RFNode's unexported tree-linkage fields.
type NodeData struct {
	ID           tileid.ID
	SRS          string
	Extents      tileid.Extents2
	ValidExtents tileid.Extents2
	Subdivision  SubdivisionKind
	Parent       int
	Children     int
}

// Export flattens rf into NodeData plus the raw Roots/childSets arrays,
// suitable for marshaling by a caller.
func (rf *ReferenceFrame) Export() (nodes []NodeData, roots []int, childSets [][4]int) {
	nodes = make([]NodeData, len(rf.Nodes))
	for i, n := range rf.Nodes {
		nodes[i] = NodeData{
			ID: n.ID, SRS: n.SRS, Extents: n.Extents, ValidExtents: n.ValidExtents,
			Subdivision: n.Subdivision, Parent: n.parent, Children: n.children,
		}
	}
	return nodes, rf.Roots, rf.childSets
}

// FromParts reconstructs a ReferenceFrame from the pieces Export
// produced. It does not validate tree well-formedness: callers are
// expected to round-trip exactly what Export gave them.
func FromParts(nodes []NodeData, roots []int, childSets [][4]int) *ReferenceFrame {
	rf := &ReferenceFrame{
		Nodes:     make([]RFNode, len(nodes)),
		Roots:     roots,
		childSets: childSets,
	}
	for i, n := range nodes {
		rf.Nodes[i] = RFNode{
			ID: n.ID, SRS: n.SRS, Extents: n.Extents, ValidExtents: n.ValidExtents,
			Subdivision: n.Subdivision, parent: n.Parent, children: n.Children,
		}
	}
	return rf
}
