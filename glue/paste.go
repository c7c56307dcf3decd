// Package glue implements multi-tile-set composition: Paste, a bulk,
// byte-for-byte union of non-overlapping tile sets, and Glue, a
// priority-ordered merge of overlapping ones.
package glue

import (
	"fmt"
	"io"

	"github.com/eak1mov/vts-tiles/driver"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileindex"
	"github.com/eak1mov/vts-tiles/tileset"
)

// perTileStreams enumerates the per-tile payload kinds Paste copies
// verbatim, in the order SetTile itself would write them.
var perTileStreams = []struct {
	flag uint32
	kind driver.FileKind
}{
	{tileindex.FlagMesh, driver.FileMesh},
	{tileindex.FlagAtlas, driver.FileAtlas},
	{tileindex.FlagNavtile, driver.FileNavtile},
}

// Paste bulk-inserts every material tile from each of srcs, in order,
// into dst by copying raw payload bytes through the driver's stream
// API; nothing is decoded or re-encoded. Conflict policy is last write
// wins: a later source's bytes replace an earlier source's at the same
// TileId. dst's metatiles are rebuilt once, by Flush, after every
// source has been copied.
func Paste(dst *tileset.TileSet, srcs ...*tileset.TileSet) error {
	for _, src := range srcs {
		lodRange := src.LodRange()
		if lodRange.Empty() {
			continue
		}
		for lod := lodRange.Min; ; lod++ {
			if err := pasteLod(src, dst, lod); err != nil {
				return fmt.Errorf("glue: paste: %w", err)
			}
			if lod == lodRange.Max {
				break
			}
		}
	}
	return dst.Flush()
}

func pasteLod(src, dst *tileset.TileSet, lod uint8) error {
	var copyErr error
	src.Traverse(lod, func(id tileid.ID, flags uint32) bool {
		if flags&tileindex.MaterialMask == 0 {
			return true
		}
		if err := copyTile(src, dst, id, flags); err != nil {
			copyErr = err
			return false
		}
		return true
	})
	return copyErr
}

func copyTile(src, dst *tileset.TileSet, id tileid.ID, flags uint32) error {
	for _, s := range perTileStreams {
		if flags&s.flag == 0 {
			continue
		}
		if err := copyStream(src.Driver(), dst.Driver(), driver.TileKey(id, s.kind)); err != nil {
			return err
		}
	}
	dst.MarkMaterial(id, flags&0xFF)
	return nil
}

func copyStream(src, dst driver.Driver, key driver.Key) error {
	r, err := src.Input(key)
	if err != nil {
		return fmt.Errorf("read %v: %w", key, err)
	}
	defer r.Close()

	w, err := dst.Output(key)
	if err != nil {
		return fmt.Errorf("write %v: %w", key, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close() //nolint:errcheck
		return fmt.Errorf("copy %v: %w", key, err)
	}
	return w.Close()
}
