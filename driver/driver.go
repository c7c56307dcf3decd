// Package driver defines the uniform key-to-stream interface every
// storage backend below TileSet implements.
package driver

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/eak1mov/vts-tiles/tileid"
)

// FileKind identifies what a Key names: either one of the four
// per-tile artefact kinds, or one of the three whole-tile-set files.
type FileKind int

const (
	FileMesh FileKind = iota
	FileAtlas
	FileNavtile
	FileMeta

	FileConfig
	FileTileIndex
	FileRegistry
)

// PerTile reports whether k addresses a (TileID, kind) slot rather than
// a single whole-tile-set file.
func (k FileKind) PerTile() bool {
	switch k {
	case FileMesh, FileAtlas, FileNavtile, FileMeta:
		return true
	default:
		return false
	}
}

func (k FileKind) String() string {
	switch k {
	case FileMesh:
		return "mesh"
	case FileAtlas:
		return "atlas"
	case FileNavtile:
		return "navtile"
	case FileMeta:
		return "meta"
	case FileConfig:
		return "config"
	case FileTileIndex:
		return "tileindex"
	case FileRegistry:
		return "registry"
	default:
		return "unknown"
	}
}

// Key addresses one storage slot. TileID is only meaningful when
// Kind.PerTile() is true.
type Key struct {
	TileID tileid.ID
	Kind   FileKind
}

// TileKey builds a per-tile Key.
func TileKey(id tileid.ID, kind FileKind) Key {
	return Key{TileID: id, Kind: kind}
}

// GlobalKey builds a whole-tile-set Key (config, tileindex, registry).
func GlobalKey(kind FileKind) Key {
	return Key{Kind: kind}
}

// ErrNoSuchFile is returned by Input/Stat when key names nothing in the
// backing store.
var ErrNoSuchFile = errors.New("driver: no such file")

// Stat describes a stored slot without reading its content.
type Stat struct {
	Size         int64
	LastModified time.Time
}

// Capabilities reports what operations a Driver instance supports.
type Capabilities struct {
	ReadOnly bool
}

// Resources reports a Driver's live resource usage, for diagnostics.
type Resources struct {
	OpenFiles int
}

// OptionsCarrier is implemented by drivers whose on-disk layout depends
// on geometry chosen at creation time (tilardriver's binary order, for
// instance). TileSet.Create persists the returned blob in the tile
// set's config so a later reopen doesn't need the caller to already
// know it.
type OptionsCarrier interface {
	DriverOptions() ([]byte, error)
}

// Driver is the storage abstraction TileSet, Encoder and Delivery read
// and write through. Implementations: tilardriver (grouped, indexed
// archives) and plaindriver (one file per slot).
type Driver interface {
	io.Closer

	Input(key Key) (io.ReadCloser, error)
	Output(key Key) (io.WriteCloser, error)
	Stat(key Key) (Stat, error)

	Flush() error
	// Watch notifies on ch whenever the driver's content may have
	// changed on disk (e.g. a concurrent writer's Flush), until ctx is
	// done or the Driver is closed.
	Watch(ctx context.Context) (ch <-chan struct{})

	Capabilities() Capabilities
	LastModified() (time.Time, error)
	Resources() Resources
}
