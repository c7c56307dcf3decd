package glue

import (
	"fmt"
	"sort"

	"github.com/eak1mov/vts-tiles/qtree"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileset"
)

// Glue composes sources, given in ascending priority (the last entry
// is dominant), into dst. For every TileId present in two or more
// sources, the highest-priority one wins wherever its coverage mask is
// set; lower-priority sources leak through only where it is clear,
// recursively down the priority order. The composite mesh is the
// concatenation of each contributing source's submeshes, its atlas the
// concatenation of their images with texture-layer indices rebased to
// match, and its MetaNode.Reference records the 1-based rank (index in
// sources plus one) of the top contributing source, 0 meaning none. A
// TileId present in only one source takes the same path: it is decoded
// and rewritten through SetTile, not copied byte for byte.
//
// Every source tile is read and composed before dst is touched at all:
// composeTile only reads from sources, so a read failure on any one of
// them — a missing file, a corrupt record — aborts Glue before a
// single SetTile reaches dst. dst is written, and Flushed, only once
// every tile in the union has composed successfully.
func Glue(dst *tileset.TileSet, sources ...*tileset.TileSet) error {
	if len(sources) == 0 {
		return dst.Flush()
	}
	if len(sources) == 1 {
		return Paste(dst, sources[0])
	}

	type composed struct {
		id   tileid.ID
		tile tileset.Tile
		rank uint16
	}

	ids := unionTileIDs(sources)
	results := make([]composed, 0, len(ids))
	for _, id := range ids {
		tile, rank, err := composeTile(sources, id)
		if err != nil {
			return fmt.Errorf("glue: compose %v: %w", id, err)
		}
		if tile == nil {
			continue
		}
		results = append(results, composed{id: id, tile: *tile, rank: rank})
	}

	for _, r := range results {
		if err := dst.SetTile(r.id, r.tile, nil); err != nil {
			return fmt.Errorf("glue: write %v: %w", r.id, err)
		}
		dst.SetReference(r.id, r.rank)
	}
	return dst.Flush()
}

func unionTileIDs(sources []*tileset.TileSet) []tileid.ID {
	seen := make(map[tileid.ID]struct{})
	for _, src := range sources {
		lodRange := src.LodRange()
		if lodRange.Empty() {
			continue
		}
		for lod := lodRange.Min; ; lod++ {
			src.Traverse(lod, func(id tileid.ID, flags uint32) bool {
				seen[id] = struct{}{}
				return true
			})
			if lod == lodRange.Max {
				break
			}
		}
	}

	ids := make([]tileid.ID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Lod != b.Lod {
			return a.Lod < b.Lod
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return ids
}

// composeTile walks sources from highest priority (the last entry) to
// lowest, folding each one's surviving contribution into the result.
// remaining tracks the part of the tile not yet claimed by a
// higher-priority source; a source with no surviving contribution (its
// coverage wholly shadowed, or absent entirely) is skipped.
func composeTile(sources []*tileset.TileSet, id tileid.ID) (*tileset.Tile, uint16, error) {
	var (
		composite   tileset.Tile
		remaining   qtree.RasterMask
		initialized bool
		contributed bool
		rank        uint16
	)

	for i := len(sources) - 1; i >= 0; i-- {
		src := sources[i]
		if !src.Exists(id) {
			continue
		}
		tile, err := src.GetTile(id)
		if err != nil {
			return nil, 0, err
		}

		if !initialized {
			composite.Mesh.Submeshes = append(composite.Mesh.Submeshes, tile.Mesh.Submeshes...)
			composite.Coverage = tile.Coverage
			composite.Atlas = cloneAtlas(tile.Atlas)
			composite.NavTile = tile.NavTile
			remaining = tile.Coverage.Invert()
			rank = uint16(i + 1)
			initialized = true
			contributed = true
			continue
		}

		if remaining.Empty() {
			break
		}
		overlap, err := maskAnd(remaining, tile.Coverage)
		if err != nil {
			return nil, 0, err
		}
		if overlap.Empty() {
			continue
		}

		appendSubmeshes(&composite, tile)
		union, err := maskOr(composite.Coverage, tile.Coverage)
		if err != nil {
			return nil, 0, err
		}
		composite.Coverage = union
		remaining, err = maskAnd(remaining, tile.Coverage.Invert())
		if err != nil {
			return nil, 0, err
		}
		if composite.NavTile == nil {
			composite.NavTile = tile.NavTile
		}
	}

	if !contributed {
		return nil, 0, nil
	}
	return &composite, rank, nil
}

func cloneAtlas(a *tileset.Atlas) *tileset.Atlas {
	if a == nil {
		return nil
	}
	return &tileset.Atlas{Images: append([][]byte(nil), a.Images...)}
}

// appendSubmeshes concatenates tile's submeshes onto composite, rebasing
// each one's TextureLayer past composite's existing atlas images so the
// re-assembled atlas still matches submesh order.
func appendSubmeshes(composite *tileset.Tile, tile tileset.Tile) {
	offset := 0
	if composite.Atlas != nil {
		offset = len(composite.Atlas.Images)
	}
	if tile.Atlas != nil {
		if composite.Atlas == nil {
			composite.Atlas = &tileset.Atlas{}
		}
		composite.Atlas.Images = append(composite.Atlas.Images, tile.Atlas.Images...)
	}

	for _, sm := range tile.Mesh.Submeshes {
		if sm.TextureLayer >= 0 {
			sm.TextureLayer += offset
		}
		composite.Mesh.Submeshes = append(composite.Mesh.Submeshes, sm)
	}
}

func maskAnd(a, b qtree.RasterMask) (qtree.RasterMask, error) {
	t, err := qtree.Combine(a.QTree, b.QTree, qtree.And)
	if err != nil {
		return qtree.RasterMask{}, err
	}
	return qtree.RasterMask{QTree: t}, nil
}

func maskOr(a, b qtree.RasterMask) (qtree.RasterMask, error) {
	t, err := qtree.Combine(a.QTree, b.QTree, qtree.Or)
	if err != nil {
		return qtree.RasterMask{}, err
	}
	return qtree.RasterMask{QTree: t}, nil
}
