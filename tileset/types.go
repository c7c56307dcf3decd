package tileset

import (
	"github.com/eak1mov/vts-tiles/qtree"
)

// Submesh is one independently textured piece of a tile's Mesh: vertices
// in the physical SRS, triangle indices, internal texture coordinates,
// optional external ones, and an optional reference into a shared
// texture-layer atlas.
type Submesh struct {
	Vertices          [][3]float32
	Faces             [][3]uint32
	TexCoordsInternal [][2]float32
	TexCoordsExternal [][2]float32 // nil if the tile has none
	TextureLayer      int          // -1 if absent
}

// Mesh is a tile's geometry: one or more Submeshes.
type Mesh struct {
	Submeshes []Submesh
}

// coverageSize is the default side length of a tile's CoverageMask and
// NavTile grid.
const coverageSize = 256

func newCoverageMask(fill bool) qtree.RasterMask {
	depth := uint8(0)
	for 1<<depth < coverageSize {
		depth++
	}
	return qtree.NewRasterMask(depth, fill)
}

// Atlas is the ordered list of raster images bound by index to a Mesh's
// Submeshes.
type Atlas struct {
	Images [][]byte
}

// NavTile is a small height grid with its sample extrema.
type NavTile struct {
	Size       int
	Heights    []float32 // row-major, len == Size*Size
	Min, Max   float32
}

// Tile is the full payload `setTile` writes for one TileId: mesh plus
// the coverage mask it rasterises to, and optional atlas/navtile.
type Tile struct {
	Mesh     Mesh
	Coverage qtree.RasterMask
	Atlas    *Atlas
	NavTile  *NavTile
}

// PositionType distinguishes an objective (world-anchored) view position
// from a subjective (camera-relative) one.
type PositionType string

const (
	PositionObjective  PositionType = "objective"
	PositionSubjective PositionType = "subjective"
)

// HeightMode selects whether Position.Position[2] is an absolute height
// or floats above the terrain surface.
type HeightMode string

const (
	HeightFixed    HeightMode = "fixed"
	HeightFloating HeightMode = "floating"
)

// Position is a tile set's suggested initial viewpoint.
type Position struct {
	Type           PositionType `json:"type"`
	HeightMode     HeightMode   `json:"heightMode"`
	Position       [3]float64   `json:"position"`
	Orientation    [3]float64   `json:"orientation"`
	VerticalExtent float64      `json:"verticalExtent"`
	VerticalFov    float64      `json:"verticalFov"`
}
