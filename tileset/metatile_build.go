package tileset

import (
	"github.com/eak1mov/vts-tiles/driver"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileindex"
)

// generateMetatiles rebuilds every metatile from the current tileindex
// and per-tile artefacts: leaf metanodes are built directly from stored
// data, then height range and texel size propagate upward into the
// compound ancestors MakeAbsolute marked.
func (ts *TileSet) generateMetatiles() error {
	lodRange := ts.index.LodRange()
	if lodRange.Empty() {
		return nil
	}

	nodes := make(map[tileid.ID]MetaNode)

	for lod := lodRange.Min; ; lod++ {
		ts.index.Traverse(lod, func(id tileid.ID, flags uint32) bool {
			if flags&tileindex.MaterialMask != 0 {
				if n, err := ts.buildLeafMetaNode(id, flags); err == nil {
					nodes[id] = n
				}
			}
			return true
		})
		if lod == lodRange.Max {
			break
		}
	}

	for lod := lodRange.Max; lod > lodRange.Min; lod-- {
		touched := make(map[tileid.ID]bool)
		ts.index.Traverse(lod, func(id tileid.ID, flags uint32) bool {
			child, ok := nodes[id]
			if !ok {
				return true
			}
			ts.foldIntoParent(nodes, id.Parent(), child, touched)
			return true
		})
		// texel size is the max of children's, halved for the parent's own
		// level; apply once per parent per level, after all its children
		// this round have contributed their max.
		for id := range touched {
			p := nodes[id]
			p.TexelSize /= 2
			nodes[id] = p
		}
	}

	return ts.writeMetatiles(nodes)
}

func (ts *TileSet) buildLeafMetaNode(id tileid.ID, flags uint32) (MetaNode, error) {
	info, err := ts.nodeInfoFor(id, nil)
	if err != nil {
		return MetaNode{}, err
	}
	node := MetaNode{
		Flags: uint8(flags & 0xFF),
		Extents: [6]float32{
			float32(info.Extents.MinX), float32(info.Extents.MinY), 0,
			float32(info.Extents.MaxX), float32(info.Extents.MaxY), 0,
		},
		TexelSize:   float32(info.Extents.Width() / coverageSize),
		DisplaySize: coverageSize,
		Reference:   ts.reference[id],
		Credits:     append([]int(nil), ts.config.Credits...),
	}
	if flags&tileindex.FlagNavtile != 0 {
		if nav, err := ts.GetNavTile(id); err == nil {
			node.HeightMin = nav.Min
			node.HeightMax = nav.Max
			node.Extents[2] = nav.Min
			node.Extents[5] = nav.Max
		}
	}
	return node, nil
}

// foldIntoParent merges child's derived stats into parentID's MetaNode,
// synthesizing the parent from the reference frame on its first
// contributing child. touched records which parents this level's pass
// updated, so the caller can apply the texel-size halving exactly once.
func (ts *TileSet) foldIntoParent(nodes map[tileid.ID]MetaNode, parentID tileid.ID, child MetaNode, touched map[tileid.ID]bool) {
	parent, exists := nodes[parentID]
	if !exists {
		info, err := ts.nodeInfoFor(parentID, nil)
		if err != nil {
			return
		}
		parent = MetaNode{
			Flags: uint8(ts.index.Get(parentID) & 0xFF),
			Extents: [6]float32{
				float32(info.Extents.MinX), float32(info.Extents.MinY), child.Extents[2],
				float32(info.Extents.MaxX), float32(info.Extents.MaxY), child.Extents[5],
			},
			HeightMin:   child.HeightMin,
			HeightMax:   child.HeightMax,
			TexelSize:   child.TexelSize,
			DisplaySize: coverageSize,
			Credits:     append([]int(nil), ts.config.Credits...),
		}
	} else {
		if child.HeightMin < parent.HeightMin {
			parent.HeightMin = child.HeightMin
		}
		if child.HeightMax > parent.HeightMax {
			parent.HeightMax = child.HeightMax
		}
		if child.TexelSize > parent.TexelSize {
			parent.TexelSize = child.TexelSize
		}
		if child.Extents[2] < parent.Extents[2] {
			parent.Extents[2] = child.Extents[2]
		}
		if child.Extents[5] > parent.Extents[5] {
			parent.Extents[5] = child.Extents[5]
		}
	}
	nodes[parentID] = parent
	touched[parentID] = true
}

// writeMetatiles groups nodes by metatile id and encodes/writes each
// blob. A metatile's binary order is recovered from the lod distance
// between its id and any one of its members, since shallow tiles (lod
// below the configured metaBinaryOrder) get their own single-node
// metatile rather than sharing the root's.
func (ts *TileSet) writeMetatiles(nodes map[tileid.ID]MetaNode) error {
	byMeta := make(map[tileid.ID]map[tileid.ID]MetaNode)
	for id, n := range nodes {
		metaID := metaIDFor(id, ts.metaBinaryOrder)
		group, ok := byMeta[metaID]
		if !ok {
			group = make(map[tileid.ID]MetaNode)
			byMeta[metaID] = group
		}
		group[id] = n
	}

	for metaID, group := range byMeta {
		var order uint8
		for id := range group {
			order = id.Lod - metaID.Lod
			break
		}
		data := encodeMetaTile(metaID, order, group)
		if err := writeKey(ts.driver, driver.TileKey(metaID, driver.FileMeta), data); err != nil {
			return err
		}
	}
	return nil
}
