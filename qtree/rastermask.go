package qtree

// RasterMask is a QTree with a boolean payload, used for mesh coverage
// masks and as a single-LOD storage-presence quad.
type RasterMask struct {
	*QTree
}

// NewRasterMask returns a RasterMask of the given depth (domain side
// 2^depth), uniformly filled with fill.
func NewRasterMask(depth uint8, fill bool) RasterMask {
	return RasterMask{New(depth, boolToCell(fill))}
}

func boolToCell(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (m RasterMask) GetBool(x, y uint32) bool {
	return m.Get(x, y) != 0
}

func (m RasterMask) SetBool(x, y uint32, v bool) {
	m.Set(x, y, boolToCell(v))
}

func (m RasterMask) FillBool(region Region, v bool) {
	m.Fill(region, boolToCell(v))
}

// Count returns the number of set (true) cells.
func (m RasterMask) Count() uint64 {
	var n uint64
	m.ForEachQuad(func(v uint32) bool { return v != 0 }, func(_, _, size, _ uint32) {
		n += uint64(size) * uint64(size)
	})
	return n
}

// Full reports whether every cell is set.
func (m RasterMask) Full() bool {
	v, uniform := m.IsUniform()
	return uniform && v != 0
}

// Empty reports whether every cell is clear.
func (m RasterMask) Empty() bool {
	v, uniform := m.IsUniform()
	return uniform && v == 0
}

// Invert returns the complement of m.
func (m RasterMask) Invert() RasterMask {
	inverted := New(m.Depth, 0)
	m.ForEachQuad(func(uint32) bool { return true }, func(x, y, size, v uint32) {
		nv := uint32(1)
		if v != 0 {
			nv = 0
		}
		inverted.Fill(Region{x, y, x + size, y + size}, nv)
	})
	return RasterMask{inverted}
}
