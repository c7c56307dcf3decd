package refframe

import "github.com/eak1mov/vts-tiles/tileid"

// Validity classifies a NodeInfo against its subtree's valid extents: a
// node fully outside is Invalid, one straddling the boundary is
// Partial, otherwise Full.
type Validity int

const (
	Invalid Validity = iota
	Partial
	Full
)

func (v Validity) String() string {
	switch v {
	case Invalid:
		return "invalid"
	case Partial:
		return "partial"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// NodeInfo is a materialised reference-frame node at a specific TileId:
// its subtree root, its own extents (derived by splitting the root's
// extents down to id), and its Validity.
type NodeInfo struct {
	Root     int
	ID       tileid.ID
	Extents  tileid.Extents2
	Validity Validity
}

// validitySampleGrid is the per-axis sample count used to approximate a
// node's footprint coverage against the subtree's valid extents, rather
// than a cheaper but looser bounding-box overlap test.
const validitySampleGrid = 5

// NodeInfoFor materialises the reference-frame node at id. Child(parent)
// is only meaningful when parent's Validity != Invalid, matching the
// spec's "Child(NodeInfo) is defined iff parent is valid" invariant;
// callers should check the parent's Validity before descending.
func NodeInfoFor(rf *ReferenceFrame, id tileid.ID) (NodeInfo, error) {
	rootIdx, err := rf.RootFor(id)
	if err != nil {
		return NodeInfo{}, err
	}
	root := rf.Nodes[rootIdx]

	// The node's own footprint is derived by geometric splitting from the
	// subtree's full extents, not its valid extents — a node can be
	// smaller than, larger than, or offset from the valid region.
	extents := root.Extents
	for lod := root.ID.Lod; lod < id.Lod; lod++ {
		quads := extents.Split()
		ancestor := id.Ancestor(lod + 1)
		extents = quads[ancestor.QuadrantOf()]
	}

	validity := computeValidity(extents, root.ValidExtents)
	return NodeInfo{Root: rootIdx, ID: id, Extents: extents, Validity: validity}, nil
}

func computeValidity(node, valid tileid.Extents2) Validity {
	if !node.Overlaps(valid) {
		return Invalid
	}
	if valid.Contains(node) {
		return Full
	}

	hit := 0
	total := 0
	for i := 0; i < validitySampleGrid; i++ {
		for j := 0; j < validitySampleGrid; j++ {
			fx := (float64(i) + 0.5) / validitySampleGrid
			fy := (float64(j) + 0.5) / validitySampleGrid
			x := node.MinX + fx*node.Width()
			y := node.MinY + fy*node.Height()
			total++
			if valid.ContainsPoint(x, y) {
				hit++
			}
		}
	}
	switch {
	case hit == 0:
		return Invalid
	case hit == total:
		return Full
	default:
		return Partial
	}
}

// Child returns the NodeInfo for parent's child in quadrant q. The
// caller must ensure parent.Validity != Invalid.
func Child(rf *ReferenceFrame, parent NodeInfo, q tileid.Quadrant) NodeInfo {
	quads := parent.Extents.Split()
	extents := quads[q]
	valid := rf.Nodes[parent.Root].ValidExtents
	return NodeInfo{
		Root:     parent.Root,
		ID:       parent.ID.Child(q),
		Extents:  extents,
		Validity: computeValidity(extents, valid),
	}
}
