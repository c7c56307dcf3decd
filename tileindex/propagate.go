package tileindex

import "github.com/eak1mov/vts-tiles/qtree"

// activeMask is the set of bits that make a cell "present" for pyramid
// completion purposes: either it carries its own material, or it was
// already marked compound by a previous propagation pass.
const activeMask = MaterialMask | FlagCompound

// MakeAbsolute ensures that, for every material tile, every ancestor
// along (x>>k, y>>k) within the index's LodRange has FlagCompound set;
// lods below LodRange.Min are not added, so ancestors there stay
// unmarked. It walks bottom-up, LOD by
// LOD, so a single pass suffices (idempotent on a second call).
func (ti *TileIndex) MakeAbsolute() {
	if ti.lodRange.Empty() {
		return
	}
	for lod := ti.lodRange.Max; lod > ti.lodRange.Min; lod-- {
		child, _ := ti.levelAt(lod)
		parent, _ := ti.levelAt(lod - 1)
		propagateUp(child, parent)
	}
}

// propagateUp sets FlagCompound on every parent cell covering an active
// child quad, without disturbing the rest of each flag word.
func propagateUp(child, parent *qtree.QTree) {
	child.ForEachQuad(func(v uint32) bool { return v&activeMask != 0 }, func(x, y, size, _ uint32) {
		pSize := size >> 1
		if pSize == 0 {
			pSize = 1
		}
		px, py := x>>1, y>>1
		region := qtree.Region{X0: px, Y0: py, X1: px + pSize, Y1: py + pSize}
		parent.MapRegion(region, func(old uint32) uint32 { return old | FlagCompound })
	})
}

// MakeComplete ensures that, for every material tile, FlagCompound is set
// on every descendant down to the index's max LOD (top-down).
func (ti *TileIndex) MakeComplete() {
	if ti.lodRange.Empty() {
		return
	}
	for lod := ti.lodRange.Min; lod < ti.lodRange.Max; lod++ {
		parent, _ := ti.levelAt(lod)
		child, _ := ti.levelAt(lod + 1)
		propagateDown(parent, child)
	}
}

func propagateDown(parent, child *qtree.QTree) {
	parent.ForEachQuad(func(v uint32) bool { return v&activeMask != 0 }, func(x, y, size, _ uint32) {
		region := qtree.Region{X0: x * 2, Y0: y * 2, X1: (x + size) * 2, Y1: (y + size) * 2}
		child.MapRegion(region, func(old uint32) uint32 { return old | FlagCompound })
	})
}

// MakeFull is the union of MakeAbsolute and MakeComplete.
func (ti *TileIndex) MakeFull() {
	ti.MakeAbsolute()
	ti.MakeComplete()
}
