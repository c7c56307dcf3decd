// Package plaindriver implements driver.Driver as one plain file per
// slot, generalizing XYZ-style directory-pattern templating from a
// single tile format to arbitrary (TileID, FileKind) keys.
package plaindriver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eak1mov/vts-tiles/driver"
)

var _ driver.Driver = (*Driver)(nil)

var defaultPatterns = map[driver.FileKind]string{
	driver.FileMesh:      "{lod}/{x}/{y}.mesh",
	driver.FileAtlas:     "{lod}/{x}/{y}.atlas",
	driver.FileNavtile:   "{lod}/{x}/{y}.navtile",
	driver.FileMeta:      "{lod}/{x}/{y}.meta",
	driver.FileConfig:    "tileset.json",
	driver.FileTileIndex: "tileindex.bin",
	driver.FileRegistry:  "registry.json",
}

// Driver stores each slot as its own file under rootDir, named by
// substituting {lod}/{x}/{y} into a per-kind pattern.
type Driver struct {
	rootDir  string
	patterns map[driver.FileKind]string
	readOnly bool

	openFiles atomic.Int64

	watchMu  sync.Mutex
	watchers []chan struct{}
	closed   chan struct{}
}

// Open opens (creating if necessary, unless readOnly) a plain-file
// store rooted at rootDir.
func Open(rootDir string, readOnly bool) (*Driver, error) {
	if !readOnly {
		if err := os.MkdirAll(rootDir, 0o755); err != nil {
			return nil, fmt.Errorf("plaindriver: creating %s: %w", rootDir, err)
		}
	}
	return &Driver{
		rootDir:  rootDir,
		patterns: defaultPatterns,
		readOnly: readOnly,
		closed:   make(chan struct{}),
	}, nil
}

func (d *Driver) path(key driver.Key) string {
	pattern := d.patterns[key.Kind]
	if key.Kind.PerTile() {
		pattern = strings.ReplaceAll(pattern, "{lod}", fmt.Sprintf("%d", key.TileID.Lod))
		pattern = strings.ReplaceAll(pattern, "{x}", fmt.Sprintf("%d", key.TileID.X))
		pattern = strings.ReplaceAll(pattern, "{y}", fmt.Sprintf("%d", key.TileID.Y))
	}
	return filepath.Join(d.rootDir, pattern)
}

func (d *Driver) Input(key driver.Key) (io.ReadCloser, error) {
	f, err := os.Open(d.path(key))
	if os.IsNotExist(err) {
		return nil, driver.ErrNoSuchFile
	}
	if err != nil {
		return nil, fmt.Errorf("plaindriver: opening %s: %w", key.Kind, err)
	}
	d.openFiles.Add(1)
	return &countedFile{File: f, driver: d}, nil
}

// commitFile buffers writes to a temp file beside the target and
// renames it into place on Close, so a reader never observes a
// partially written slot.
type commitFile struct {
	tmp    *os.File
	final  string
	driver *Driver
}

func (c *commitFile) Write(p []byte) (int, error) { return c.tmp.Write(p) }

func (c *commitFile) Close() error {
	c.driver.openFiles.Add(-1)
	if err := c.tmp.Close(); err != nil {
		os.Remove(c.tmp.Name())
		return fmt.Errorf("plaindriver: closing temp file: %w", err)
	}
	if err := os.Rename(c.tmp.Name(), c.final); err != nil {
		os.Remove(c.tmp.Name())
		return fmt.Errorf("plaindriver: committing %s: %w", c.final, err)
	}
	c.driver.notify()
	return nil
}

func (d *Driver) Output(key driver.Key) (io.WriteCloser, error) {
	if d.readOnly {
		return nil, fmt.Errorf("plaindriver: driver is read-only")
	}
	final := d.path(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("plaindriver: creating directory for %s: %w", key.Kind, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(final), filepath.Base(final)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("plaindriver: creating temp file for %s: %w", key.Kind, err)
	}
	d.openFiles.Add(1)
	return &commitFile{tmp: tmp, final: final, driver: d}, nil
}

func (d *Driver) Stat(key driver.Key) (driver.Stat, error) {
	info, err := os.Stat(d.path(key))
	if os.IsNotExist(err) {
		return driver.Stat{}, driver.ErrNoSuchFile
	}
	if err != nil {
		return driver.Stat{}, fmt.Errorf("plaindriver: stat %s: %w", key.Kind, err)
	}
	return driver.Stat{Size: info.Size(), LastModified: info.ModTime()}, nil
}

// Flush is a no-op: every Output commits atomically on Close.
func (d *Driver) Flush() error { return nil }

func (d *Driver) notify() {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	for _, ch := range d.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch returns a channel that receives a signal whenever a commit
// lands through this Driver instance. There is no ecosystem
// filesystem-event library in the corpus, so cross-process changes
// are not observed; this only tracks writes made through this handle.
func (d *Driver) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	d.watchMu.Lock()
	d.watchers = append(d.watchers, ch)
	d.watchMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-d.closed:
		}
		d.watchMu.Lock()
		defer d.watchMu.Unlock()
		for i, c := range d.watchers {
			if c == ch {
				d.watchers = append(d.watchers[:i], d.watchers[i+1:]...)
				break
			}
		}
	}()
	return ch
}

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{ReadOnly: d.readOnly}
}

func (d *Driver) LastModified() (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(d.rootDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("plaindriver: scanning %s: %w", d.rootDir, err)
	}
	return latest, nil
}

func (d *Driver) Resources() driver.Resources {
	return driver.Resources{OpenFiles: int(d.openFiles.Load())}
}

func (d *Driver) Close() error {
	close(d.closed)
	return nil
}

type countedFile struct {
	*os.File
	driver *Driver
}

func (c *countedFile) Close() error {
	c.driver.openFiles.Add(-1)
	return c.File.Close()
}
