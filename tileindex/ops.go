package tileindex

import (
	"github.com/eak1mov/vts-tiles/qtree"
	"github.com/eak1mov/vts-tiles/tileid"
)

// Translate returns a new TileIndex with every tile shifted by (dx, dy)
// at its own lod, and every lod shifted by dl.
func (ti *TileIndex) Translate(dx, dy int32, dl int8) *TileIndex {
	out := New(tileid.EmptyLodRange())
	for lod := ti.lodRange.Min; ; lod++ {
		level, _ := ti.levelAt(lod)
		level.ForEachQuad(func(v uint32) bool { return v != 0 }, func(x, y, size, v uint32) {
			for oy := uint32(0); oy < size; oy++ {
				for ox := uint32(0); ox < size; ox++ {
					newLod := int(lod) + int(dl)
					if newLod < 0 || newLod > 255 {
						continue
					}
					newX := int64(x+ox) + int64(dx)
					newY := int64(y+oy) + int64(dy)
					if newX < 0 || newY < 0 {
						continue
					}
					out.Set(tileid.ID{Lod: uint8(newLod), X: uint32(newX), Y: uint32(newY)}, v)
				}
			}
		})
		if lod == ti.lodRange.Max {
			break
		}
	}
	return out
}

// combine applies op lod-by-lod across the union of ti's and other's
// LodRanges, treating a lod missing from one side as an all-zero tree.
func combine(a, b *TileIndex, op qtree.Op) (*TileIndex, error) {
	unionRange := a.lodRange.Union(b.lodRange)
	if unionRange.Empty() {
		return New(unionRange), nil
	}

	out := New(unionRange)
	for lod := unionRange.Min; ; lod++ {
		aLevel, aok := a.levelAt(lod)
		if !aok {
			aLevel = qtree.New(lod, 0)
		}
		bLevel, bok := b.levelAt(lod)
		if !bok {
			bLevel = qtree.New(lod, 0)
		}
		merged, err := qtree.Combine(aLevel, bLevel, op)
		if err != nil {
			return nil, err
		}
		out.levels[lod-unionRange.Min] = merged
		if lod == unionRange.Max {
			break
		}
	}
	return out, nil
}

// Unite returns the bitwise-OR of ti and other, lod by lod.
func (ti *TileIndex) Unite(other *TileIndex) (*TileIndex, error) {
	return combine(ti, other, qtree.Or)
}

// Intersect returns the bitwise-AND of ti and other, lod by lod.
func (ti *TileIndex) Intersect(other *TileIndex) (*TileIndex, error) {
	return combine(ti, other, qtree.And)
}

// Subtract returns ti with every bit set in other cleared, lod by lod.
func (ti *TileIndex) Subtract(other *TileIndex) (*TileIndex, error) {
	return combine(ti, other, qtree.Sub)
}
