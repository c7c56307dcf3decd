package tileset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eak1mov/vts-tiles/tileid"
)

const (
	metaTileMagic   = "MT"
	metaTileVersion = uint16(1)
)

// MetaNode is the per-tile record packed into a MetaTile: presence
// flags, geometric extents (3D, since terrain tiles carry height),
// texel/display size, height range, a provenance reference and
// the tile's credit set.
type MetaNode struct {
	Flags       uint8
	HeightMin   float32
	HeightMax   float32
	Extents     [6]float32 // minX,minY,minZ,maxX,maxY,maxZ
	TexelSize   float32
	DisplaySize uint16
	Reference   uint16
	Credits     []int
}

// metaTileSpan returns the number of tile rows/columns a metatile of the
// given binary order covers along one axis.
func metaTileSpan(binaryOrder uint8) uint32 { return 1 << binaryOrder }

// encodeMetaTile serializes nodes (keyed by position within the
// metatile, row-major from metaID's origin) per §6.4. Missing positions
// encode as a single zero flag byte.
func encodeMetaTile(metaID tileid.ID, binaryOrder uint8, nodes map[tileid.ID]MetaNode) []byte {
	var buf bytes.Buffer
	buf.WriteString(metaTileMagic)
	binary.Write(&buf, binary.LittleEndian, metaTileVersion)   //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, binaryOrder)       //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, metaID.Lod)        //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, metaID.X)          //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, metaID.Y)          //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF)) //nolint:errcheck // flagsMask: reserved, all bits significant

	span := metaTileSpan(binaryOrder)
	tileLod := metaID.Lod + binaryOrder
	originX, originY := metaID.X*span, metaID.Y*span

	for dy := uint32(0); dy < span; dy++ {
		for dx := uint32(0); dx < span; dx++ {
			id := tileid.ID{Lod: tileLod, X: originX + dx, Y: originY + dy}
			node, ok := nodes[id]
			if !ok {
				buf.WriteByte(0)
				continue
			}
			buf.WriteByte(node.Flags)
			binary.Write(&buf, binary.LittleEndian, node.HeightMin) //nolint:errcheck
			binary.Write(&buf, binary.LittleEndian, node.HeightMax) //nolint:errcheck
			for _, f := range node.Extents {
				binary.Write(&buf, binary.LittleEndian, f) //nolint:errcheck
			}
			binary.Write(&buf, binary.LittleEndian, node.TexelSize)   //nolint:errcheck
			binary.Write(&buf, binary.LittleEndian, node.DisplaySize) //nolint:errcheck
			binary.Write(&buf, binary.LittleEndian, node.Reference)   //nolint:errcheck
			binary.Write(&buf, binary.LittleEndian, uint32(len(node.Credits))) //nolint:errcheck
			for _, c := range node.Credits {
				binary.Write(&buf, binary.LittleEndian, int64(c)) //nolint:errcheck
			}
		}
	}
	return buf.Bytes()
}

func decodeMetaTile(data []byte) (metaID tileid.ID, binaryOrder uint8, nodes map[tileid.ID]MetaNode, err error) {
	r := bytes.NewReader(data)

	magicBuf := make([]byte, len(metaTileMagic))
	if _, err := io.ReadFull(r, magicBuf); err != nil || string(magicBuf) != metaTileMagic {
		return tileid.ID{}, 0, nil, fmt.Errorf("tileset: bad metatile magic")
	}
	var ver uint16
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return tileid.ID{}, 0, nil, err
	}
	if ver != metaTileVersion {
		return tileid.ID{}, 0, nil, fmt.Errorf("tileset: unsupported metatile version %d", ver)
	}
	if err := binary.Read(r, binary.LittleEndian, &binaryOrder); err != nil {
		return tileid.ID{}, 0, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &metaID.Lod); err != nil {
		return tileid.ID{}, 0, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &metaID.X); err != nil {
		return tileid.ID{}, 0, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &metaID.Y); err != nil {
		return tileid.ID{}, 0, nil, err
	}
	var flagsMask uint32
	if err := binary.Read(r, binary.LittleEndian, &flagsMask); err != nil {
		return tileid.ID{}, 0, nil, err
	}

	span := metaTileSpan(binaryOrder)
	tileLod := metaID.Lod + binaryOrder
	originX, originY := metaID.X*span, metaID.Y*span

	nodes = make(map[tileid.ID]MetaNode)
	for dy := uint32(0); dy < span; dy++ {
		for dx := uint32(0); dx < span; dx++ {
			var flags uint8
			if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
				return tileid.ID{}, 0, nil, err
			}
			if flags == 0 {
				continue
			}
			var node MetaNode
			node.Flags = flags
			if err := binary.Read(r, binary.LittleEndian, &node.HeightMin); err != nil {
				return tileid.ID{}, 0, nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &node.HeightMax); err != nil {
				return tileid.ID{}, 0, nil, err
			}
			for i := range node.Extents {
				if err := binary.Read(r, binary.LittleEndian, &node.Extents[i]); err != nil {
					return tileid.ID{}, 0, nil, err
				}
			}
			if err := binary.Read(r, binary.LittleEndian, &node.TexelSize); err != nil {
				return tileid.ID{}, 0, nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &node.DisplaySize); err != nil {
				return tileid.ID{}, 0, nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &node.Reference); err != nil {
				return tileid.ID{}, 0, nil, err
			}
			var creditCount uint32
			if err := binary.Read(r, binary.LittleEndian, &creditCount); err != nil {
				return tileid.ID{}, 0, nil, err
			}
			node.Credits = make([]int, creditCount)
			for i := range node.Credits {
				var c int64
				if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
					return tileid.ID{}, 0, nil, err
				}
				node.Credits[i] = int(c)
			}
			id := tileid.ID{Lod: tileLod, X: originX + dx, Y: originY + dy}
			nodes[id] = node
		}
	}
	return metaID, binaryOrder, nodes, nil
}

// metaIDFor returns the metatile id covering id, given metaBinaryOrder.
// Tiles shallower than one full metatile block (lod < metaBinaryOrder)
// get a private single-node metatile keyed by their own id instead of
// sharing the root's, since they don't all share a single ancestor lod
// levels above them.
func metaIDFor(id tileid.ID, metaBinaryOrder uint8) tileid.ID {
	if id.Lod < metaBinaryOrder {
		return id
	}
	return id.Ancestor(id.Lod - metaBinaryOrder)
}
