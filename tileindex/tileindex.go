// Package tileindex implements TileIndex: a stack of per-LOD compressed
// quadtrees (qtree.QTree) mapping TileId to a u32 flag word, with
// pyramid completion, bulk set operations and binary serialization.
package tileindex

import (
	"fmt"

	"github.com/eak1mov/vts-tiles/qtree"
	"github.com/eak1mov/vts-tiles/tileid"
)

// Flag bits occupy the low 8 bits of the per-tile u32 word; the
// remainder is available to callers for traversal bookkeeping.
const (
	FlagMesh       uint32 = 1 << 0
	FlagAtlas      uint32 = 1 << 1
	FlagNavtile    uint32 = 1 << 2
	FlagMeta       uint32 = 1 << 3
	FlagReference  uint32 = 1 << 4
	FlagInfluenced uint32 = 1 << 5
	FlagAlien      uint32 = 1 << 6
	// FlagCompound marks a tile with at least one descendant carrying
	// material data ("has-children").
	FlagCompound uint32 = 1 << 7

	// MaterialMask is the set of flags whose presence makes a tile exist:
	// exists(t) := (get(t) & MaterialMask) != 0.
	MaterialMask uint32 = FlagMesh | FlagAtlas | FlagNavtile | FlagMeta
)

// TileIndex is an array<LOD -> QTree>. Lods outside LodRange hold no
// tree and are treated as entirely zero.
type TileIndex struct {
	lodRange tileid.LodRange
	levels   []*qtree.QTree // indexed by lod - lodRange.Min
}

// New returns a TileIndex spanning lodRange, every cell initially zero.
func New(lodRange tileid.LodRange) *TileIndex {
	ti := &TileIndex{lodRange: lodRange}
	if lodRange.Empty() {
		return ti
	}
	ti.levels = make([]*qtree.QTree, int(lodRange.Max-lodRange.Min)+1)
	for lod := lodRange.Min; ; lod++ {
		ti.levels[lod-lodRange.Min] = qtree.New(lod, 0)
		if lod == lodRange.Max {
			break
		}
	}
	return ti
}

func (ti *TileIndex) LodRange() tileid.LodRange { return ti.lodRange }

func (ti *TileIndex) levelAt(lod uint8) (*qtree.QTree, bool) {
	if !ti.lodRange.Contains(lod) {
		return nil, false
	}
	return ti.levels[lod-ti.lodRange.Min], true
}

// ensureLevel grows the index to cover lod, extending LodRange if
// necessary. Used by Set so a TileIndex can be populated incrementally.
func (ti *TileIndex) ensureLevel(lod uint8) *qtree.QTree {
	if level, ok := ti.levelAt(lod); ok {
		return level
	}

	newRange := ti.lodRange.Union(tileid.NewLodRange(lod, lod))
	newLevels := make([]*qtree.QTree, int(newRange.Max-newRange.Min)+1)
	for l := newRange.Min; ; l++ {
		if old, ok := ti.levelAt(l); ok {
			newLevels[l-newRange.Min] = old
		} else {
			newLevels[l-newRange.Min] = qtree.New(l, 0)
		}
		if l == newRange.Max {
			break
		}
	}
	ti.lodRange = newRange
	ti.levels = newLevels
	return ti.levels[lod-newRange.Min]
}

// Set stores flags at id, growing the index's LodRange if needed.
func (ti *TileIndex) Set(id tileid.ID, flags uint32) {
	ti.ensureLevel(id.Lod).Set(id.X, id.Y, flags)
}

// Get returns the flags stored at id, or 0 if id's lod is outside range.
func (ti *TileIndex) Get(id tileid.ID) uint32 {
	level, ok := ti.levelAt(id.Lod)
	if !ok {
		return 0
	}
	return level.Get(id.X, id.Y)
}

// Exists reports whether id carries any material flag.
func (ti *TileIndex) Exists(id tileid.ID) bool {
	return ti.Get(id)&MaterialMask != 0
}

// SetMask ORs mask into id's flags (set=true) or clears it (set=false).
func (ti *TileIndex) SetMask(id tileid.ID, mask uint32, set bool) {
	cur := ti.Get(id)
	if set {
		ti.Set(id, cur|mask)
	} else {
		ti.Set(id, cur&^mask)
	}
}

// Traverse yields every non-zero cell at lod until fn returns false,
// which halts the whole traversal rather than just the current quad.
// Order follows the quadtree's own quadrant recursion (each matched
// quad's interior visited row-major, but quads themselves are not
// visited in row-major order), not a literal row-major scan of the
// lod's full grid.
func (ti *TileIndex) Traverse(lod uint8, fn func(tileid.ID, uint32) bool) {
	level, ok := ti.levelAt(lod)
	if !ok {
		return
	}
	stop := false
	level.ForEachQuad(func(v uint32) bool { return v != 0 }, func(x, y, size, v uint32) {
		if stop {
			return
		}
		for dy := uint32(0); dy < size && !stop; dy++ {
			for dx := uint32(0); dx < size && !stop; dx++ {
				if !fn(tileid.ID{Lod: lod, X: x + dx, Y: y + dy}, v) {
					stop = true
				}
			}
		}
	})
}

func cloneLevel(l *qtree.QTree) *qtree.QTree {
	// QTree nodes are immutable once built (post-flush, per §5); a
	// shallow struct copy shares the (immutable) node graph safely.
	cp := *l
	return &cp
}

// Clone returns a deep-enough copy of ti: the per-lod QTrees are shared
// (they are only ever replaced wholesale, never mutated in place beyond
// Set's own copy-on-write), but the level slice is independent.
func (ti *TileIndex) Clone() *TileIndex {
	out := &TileIndex{lodRange: ti.lodRange, levels: make([]*qtree.QTree, len(ti.levels))}
	for i, l := range ti.levels {
		out.levels[i] = cloneLevel(l)
	}
	return out
}

func (ti *TileIndex) String() string {
	if ti.lodRange.Empty() {
		return "TileIndex{empty}"
	}
	return fmt.Sprintf("TileIndex{lod=[%d,%d]}", ti.lodRange.Min, ti.lodRange.Max)
}
