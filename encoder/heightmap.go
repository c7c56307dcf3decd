package encoder

import (
	"math"
	"sync"

	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileset"
)

// heightmapAccumulator is a sparse TileId -> f32 raster of fixed size,
// used to build the derived navtile pyramid bottom-up during finish.
// Invalid pixels carry +Inf; merging two contributions at the same
// pixel keeps the minimum.
type heightmapAccumulator struct {
	size int

	mu    sync.Mutex
	tiles map[tileid.ID][]float32
}

func newHeightmapAccumulator(size int) *heightmapAccumulator {
	return &heightmapAccumulator{size: size, tiles: make(map[tileid.ID][]float32)}
}

func (h *heightmapAccumulator) tile(id tileid.ID) []float32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tileLocked(id)
}

func (h *heightmapAccumulator) tileLocked(id tileid.ID) []float32 {
	g, ok := h.tiles[id]
	if !ok {
		g = make([]float32, h.size*h.size)
		for i := range g {
			g[i] = float32(math.Inf(1))
		}
		h.tiles[id] = g
	}
	return g
}

// merge writes heights, row-major and sized size*size, into id's
// raster, keeping the minimum already present at every pixel.
func (h *heightmapAccumulator) merge(id tileid.ID, heights []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.tileLocked(id)
	for i, v := range heights {
		if i >= len(g) {
			break
		}
		if v < g[i] {
			g[i] = v
		}
	}
}

// resize downsamples every raster held at lod by averaging 2x2 blocks
// and merges the result into the matching quadrant of its parent's
// raster at lod-1. A destination block whose four source pixels are all
// invalid stays invalid.
func (h *heightmapAccumulator) resize(lod uint8) {
	h.mu.Lock()
	var ids []tileid.ID
	for id := range h.tiles {
		if id.Lod == lod {
			ids = append(ids, id)
		}
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.resizeOne(id)
	}
}

func (h *heightmapAccumulator) resizeOne(id tileid.ID) {
	size := h.size
	half := size / 2
	if half == 0 {
		return
	}

	h.mu.Lock()
	src := h.tileLocked(id)
	down := make([]float32, half*half)
	for y := 0; y < half; y++ {
		for x := 0; x < half; x++ {
			var sum float32
			n := 0
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					v := src[(y*2+dy)*size+(x*2+dx)]
					if !math.IsInf(float64(v), 1) {
						sum += v
						n++
					}
				}
			}
			if n == 0 {
				down[y*half+x] = float32(math.Inf(1))
			} else {
				down[y*half+x] = sum / float32(n)
			}
		}
	}
	h.mu.Unlock()

	parent := id.Parent()
	ox, oy := int(id.X%2)*half, int(id.Y%2)*half

	h.mu.Lock()
	dst := h.tileLocked(parent)
	for y := 0; y < half; y++ {
		for x := 0; x < half; x++ {
			di := (oy+y)*size + (ox + x)
			if di >= len(dst) {
				continue
			}
			if v := down[y*half+x]; v < dst[di] {
				dst[di] = v
			}
		}
	}
	h.mu.Unlock()
}

// writeInto persists every non-leaf raster the accumulator built as a
// tile set navtile, skipping ids with no material tile to attach to
// (setNavTile requires a mesh already present) and the traversal's own
// leaf LOD, whose navtiles generate/SetTile already wrote directly.
func (h *heightmapAccumulator) writeInto(ts *tileset.TileSet, lodRange tileid.LodRange) error {
	h.mu.Lock()
	ids := make([]tileid.ID, 0, len(h.tiles))
	for id := range h.tiles {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		if id.Lod == lodRange.Max {
			continue
		}
		if !ts.Exists(id) {
			continue
		}
		g := h.tile(id)
		min, max := heightRange(g)
		nav := tileset.NavTile{Size: h.size, Heights: append([]float32(nil), g...), Min: min, Max: max}
		if err := ts.SetNavTile(id, nav); err != nil {
			return err
		}
	}
	return nil
}

func heightRange(g []float32) (min, max float32) {
	min, max = float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range g {
		if math.IsInf(float64(v), 1) {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if math.IsInf(float64(min), 1) {
		return 0, 0
	}
	return min, max
}
