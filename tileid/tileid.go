// Package tileid defines tile coordinates for the LOD pyramid and the
// arithmetic used to navigate it: child/parent addressing, quadrant
// enumeration, extents splitting and Morton/Hilbert ordering.
package tileid

import (
	"fmt"

	"github.com/google/hilbert"
)

// ID identifies a tile by level-of-detail and its (x, y) position within
// the 2^lod x 2^lod grid at that level.
type ID struct {
	Lod uint8
	X   uint32
	Y   uint32
}

func (t ID) Valid() bool {
	return t.Lod < 32 && t.X < (1<<t.Lod) && t.Y < (1<<t.Lod)
}

func (t ID) String() string {
	return fmt.Sprintf("%d-%d-%d", t.Lod, t.X, t.Y)
}

// Quadrant is a child index within a parent tile: ll=0, lr=1, ul=2, ur=3.
type Quadrant int

const (
	LL Quadrant = iota
	LR
	UL
	UR
)

// Child returns the child of t in the given quadrant.
func (t ID) Child(q Quadrant) ID {
	dx := uint32(q) & 1
	dy := uint32(q) >> 1
	return ID{Lod: t.Lod + 1, X: 2*t.X + dx, Y: 2*t.Y + dy}
}

// Children returns all four children in quadrant order (ll, lr, ul, ur).
func (t ID) Children() [4]ID {
	return [4]ID{t.Child(LL), t.Child(LR), t.Child(UL), t.Child(UR)}
}

// Parent returns the parent of t. Parent of the root is the root itself.
func (t ID) Parent() ID {
	if t.Lod == 0 {
		return t
	}
	return ID{Lod: t.Lod - 1, X: t.X >> 1, Y: t.Y >> 1}
}

// QuadrantOf reports which quadrant t occupies within its parent.
func (t ID) QuadrantOf() Quadrant {
	return Quadrant((t.Y&1)<<1 | (t.X & 1))
}

// Ancestor returns the ancestor of t at the given (lower or equal) lod.
func (t ID) Ancestor(lod uint8) ID {
	if lod >= t.Lod {
		return t
	}
	shift := t.Lod - lod
	return ID{Lod: lod, X: t.X >> shift, Y: t.Y >> shift}
}

// LodRange is an inclusive [Min, Max] range of levels of detail. An empty
// range is represented distinctly via Empty().
type LodRange struct {
	Min, Max uint8
	empty    bool
}

func EmptyLodRange() LodRange { return LodRange{empty: true} }

func NewLodRange(min, max uint8) LodRange {
	if min > max {
		return EmptyLodRange()
	}
	return LodRange{Min: min, Max: max}
}

func (r LodRange) Empty() bool { return r.empty }

func (r LodRange) Contains(lod uint8) bool {
	return !r.empty && lod >= r.Min && lod <= r.Max
}

// Union returns the smallest range containing both r and o.
func (r LodRange) Union(o LodRange) LodRange {
	switch {
	case r.empty:
		return o
	case o.empty:
		return r
	}
	return LodRange{Min: min(r.Min, o.Min), Max: max(r.Max, o.Max)}
}

// Extents2 is an axis-aligned box in the subtree SRS.
type Extents2 struct {
	MinX, MinY, MaxX, MaxY float64
}

func (e Extents2) Empty() bool { return e.MinX >= e.MaxX || e.MinY >= e.MaxY }

func (e Extents2) Valid() bool { return !e.Empty() }

func (e Extents2) Width() float64  { return e.MaxX - e.MinX }
func (e Extents2) Height() float64 { return e.MaxY - e.MinY }

// Overlaps reports whether e and o share any area.
func (e Extents2) Overlaps(o Extents2) bool {
	return e.MinX < o.MaxX && o.MinX < e.MaxX && e.MinY < o.MaxY && o.MinY < e.MaxY
}

// Contains reports whether o lies entirely within e.
func (e Extents2) Contains(o Extents2) bool {
	return e.MinX <= o.MinX && e.MinY <= o.MinY && e.MaxX >= o.MaxX && e.MaxY >= o.MaxY
}

// ContainsPoint reports whether (x, y) lies within e.
func (e Extents2) ContainsPoint(x, y float64) bool {
	return x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

// Split divides e into the four quadrant sub-extents per §6.5: ll, lr,
// ul, ur splitting at the midpoint.
func (e Extents2) Split() [4]Extents2 {
	midX := (e.MinX + e.MaxX) / 2
	midY := (e.MinY + e.MaxY) / 2
	return [4]Extents2{
		{e.MinX, e.MinY, midX, midY}, // ll
		{midX, e.MinY, e.MaxX, midY}, // lr
		{e.MinX, midY, midX, e.MaxY}, // ul
		{midX, midY, e.MaxX, e.MaxY}, // ur
	}
}

// MortonCode interleaves the bits of x and y, low bit of x first, giving a
// stable Z-order key for a tile's (x, y) position at a fixed lod.
func MortonCode(x, y uint32) uint64 {
	return interleave(uint64(x)) | (interleave(uint64(y)) << 1)
}

func interleave(v uint64) uint64 {
	v &= 0x00000000ffffffff
	v = (v | (v << 16)) & 0x0000ffff0000ffff
	v = (v | (v << 8)) & 0x00ff00ff00ff00ff
	v = (v | (v << 4)) & 0x0f0f0f0f0f0f0f0f
	v = (v | (v << 2)) & 0x3333333333333333
	v = (v | (v << 1)) & 0x5555555555555555
	return v
}

// ContentOrder returns a single uint64 key that places tiles in Hilbert
// curve order within their lod, for use as a cache-friendly write order
// in the Tilar archive's index/journal compaction and in Delivery's lazy
// raster generation. Ordering is only comparable within the same lod.
func ContentOrder(id ID) uint64 {
	h, err := hilbert.NewHilbert(1 << id.Lod)
	if err != nil {
		// lod 0: a single-cell curve, well defined as the origin.
		return 0
	}
	code, _ := h.MapInverse(int(id.X), int(id.Y))
	return uint64(code)
}

// FromContentOrder inverts ContentOrder: given a position along the
// Hilbert curve of a size x size grid, it returns the (x, y) cell that
// position visits.
func FromContentOrder(size uint32, order uint64) (x, y uint32) {
	h, err := hilbert.NewHilbert(int(size))
	if err != nil {
		return 0, 0
	}
	ix, iy, _ := h.Map(int(order))
	return uint32(ix), uint32(iy)
}
