// Package delivery implements the read-only façade that synthesises
// derived streams (2D masks, credit sets, a filtered config) from a
// finalised TileSet on demand, without persisting them anywhere.
package delivery

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/eak1mov/vts-tiles/qtree"
	"github.com/eak1mov/vts-tiles/refframe"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileset"
)

// Flavor selects a delivery stream's rendering variant.
type Flavor int

const (
	// FlavorRegular renders the stream as stored.
	FlavorRegular Flavor = iota
	// FlavorDebug renders a viewer-diagnostic variant: a transparent
	// placeholder instead of a not-found error where data is missing.
	FlavorDebug
)

// Delivery wraps a TileSet and its registry for read-only access. It
// never calls any TileSet method that mutates storage.
type Delivery struct {
	ts       *tileset.TileSet
	registry refframe.Registry
}

// Open returns a Delivery façade over ts.
func Open(ts *tileset.TileSet, registry refframe.Registry) *Delivery {
	return &Delivery{ts: ts, registry: registry}
}

// Config returns the tile set's configuration with driver-specific
// options stripped, safe to hand to a client.
func (d *Delivery) Config() tileset.Config {
	return tileset.FilteredConfig(d.ts.Config())
}

const meta2dDepth = 8 // 256x256, matching the tile set's coverage grid

// Meta2D renders a 256x256 PNG mask of which descendants of tileID, one
// meta2dDepth levels down, carry material data, read straight from the
// tileindex. It is generated fresh on every call, never persisted. The
// tileindex is probed in Hilbert-curve order over the 256x256 block
// rather than row-major, so consecutive probes land near each other on
// the tile grid and, transitively, near each other in the tileindex's
// own per-lod storage.
func (d *Delivery) Meta2D(tileID tileid.ID) ([]byte, error) {
	size := uint32(1) << meta2dDepth
	childLod := tileID.Lod + meta2dDepth
	mask := qtree.NewRasterMask(meta2dDepth, false)
	for order := uint64(0); order < uint64(size)*uint64(size); order++ {
		x, y := tileid.FromContentOrder(size, order)
		id := tileid.ID{Lod: childLod, X: tileID.X*size + x, Y: tileID.Y*size + y}
		if d.ts.Exists(id) {
			mask.SetBool(x, y, true)
		}
	}
	return encodeMaskPNG(mask, false)
}

// Mask renders the stored mesh coverage mask for tileID as a PNG. In
// FlavorDebug, a tile with no mesh yields a transparent placeholder
// instead of a not-found error.
func (d *Delivery) Mask(tileID tileid.ID, flavor Flavor) ([]byte, error) {
	tile, err := d.ts.GetTile(tileID)
	if err != nil {
		if flavor == FlavorDebug && tileset.KindOf(err) == tileset.NoSuchFile {
			return encodeTransparentPNG(1 << meta2dDepth)
		}
		return nil, err
	}
	return encodeMaskPNG(tile.Coverage, flavor == FlavorDebug)
}

// Credits returns the credit set relevant to tileID: the tile set's
// configured credits directly when there is at most one, otherwise the
// union of every metanode's Credits under tileID's subtree, stopping as
// soon as every configured credit id has been observed.
func (d *Delivery) Credits(tileID tileid.ID) ([]refframe.Credit, error) {
	cfg := d.ts.Config()
	if len(cfg.Credits) <= 1 {
		return d.registry.Credits(cfg.Credits)
	}

	seen := make(map[int]struct{})
	lodRange := d.ts.LodRange()
	for lod := tileID.Lod; !lodRange.Empty() && lod <= lodRange.Max && len(seen) < len(cfg.Credits); lod++ {
		shift := lod - tileID.Lod
		minX, minY := tileID.X<<shift, tileID.Y<<shift
		span := uint32(1) << shift

		d.ts.Traverse(lod, func(id tileid.ID, flags uint32) bool {
			if id.X < minX || id.X >= minX+span || id.Y < minY || id.Y >= minY+span {
				return true
			}
			if node, err := d.ts.GetMetaNode(id); err == nil {
				for _, c := range node.Credits {
					seen[c] = struct{}{}
				}
			}
			return len(seen) < len(cfg.Credits)
		})
	}

	ids := make([]int, 0, len(seen))
	for c := range seen {
		ids = append(ids, c)
	}
	return d.registry.Credits(ids)
}

// LastModified is the latest modification time across the tile set's
// backing storage.
func (d *Delivery) LastModified() (time.Time, error) {
	return d.ts.Driver().LastModified()
}

func encodeMaskPNG(mask qtree.RasterMask, debug bool) ([]byte, error) {
	size := int(mask.Size())
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			switch {
			case mask.GetBool(uint32(x), uint32(y)):
				img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			case debug:
				img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 96})
			}
		}
	}
	return encodePNG(img)
}

func encodeTransparentPNG(size int) ([]byte, error) {
	return encodePNG(image.NewNRGBA(image.Rect(0, 0, size, size)))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("delivery: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
