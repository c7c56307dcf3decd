// Package tilardriver implements driver.Driver over a directory of
// Tilar archives, one archive per (lod, super-tile) coordinate at a
// fixed binary order.
package tilardriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	goccyjson "github.com/goccy/go-json"

	"github.com/eak1mov/vts-tiles/driver"
	"github.com/eak1mov/vts-tiles/driver/plaindriver"
	"github.com/eak1mov/vts-tiles/tilar"
)

var _ driver.Driver = (*Driver)(nil)

var fileKindSlot = map[driver.FileKind]uint8{
	driver.FileMesh:    0,
	driver.FileAtlas:   1,
	driver.FileNavtile: 2,
	driver.FileMeta:    3,
}

var filesPerTile = uint8(len(fileKindSlot))

// Options records the archive geometry a Driver was created with, so a
// tile set can be reopened without the caller re-specifying it.
type Options struct {
	BinaryOrder  uint8 `json:"binaryOrder"`
	FilesPerTile uint8 `json:"filesPerTile"`
}

// MarshalOptions encodes opts for storage in a TileSet config's
// driverOptions field.
func MarshalOptions(opts Options) ([]byte, error) {
	return goccyjson.Marshal(opts)
}

// UnmarshalOptions decodes a TileSet config's driverOptions field back
// into the archive geometry the driver was created with.
func UnmarshalOptions(data []byte) (Options, error) {
	if len(data) == 0 {
		return Options{}, fmt.Errorf("tilardriver: no driver options recorded")
	}
	var opts Options
	if err := goccyjson.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("tilardriver: unmarshalling options: %w", err)
	}
	return opts, nil
}

type archiveKey struct {
	Lod    uint8
	AX, AY uint32
}

// Driver stores per-tile artefacts in Tilar archives grouped by
// super-tile coordinate, and delegates the three whole-tile-set keys
// (config, tileindex, registry) to an embedded plaindriver.Driver,
// since those have no per-tile grouping to benefit from.
type Driver struct {
	rootDir     string
	binaryOrder uint8
	readOnly    bool
	global      *plaindriver.Driver

	mu      sync.Mutex
	writers map[archiveKey]*tilar.Writer
	readers map[archiveKey]*tilar.Reader
}

// Open opens (creating if necessary, unless readOnly) a Tilar-backed
// store rooted at rootDir, grouping tiles into archives of 2^binaryOrder
// x 2^binaryOrder tiles.
func Open(rootDir string, binaryOrder uint8, readOnly bool) (*Driver, error) {
	global, err := plaindriver.Open(filepath.Join(rootDir, "global"), readOnly)
	if err != nil {
		return nil, err
	}
	if !readOnly {
		if err := os.MkdirAll(rootDir, 0o755); err != nil {
			return nil, fmt.Errorf("tilardriver: creating %s: %w", rootDir, err)
		}
	}
	return &Driver{
		rootDir:     rootDir,
		binaryOrder: binaryOrder,
		readOnly:    readOnly,
		global:      global,
		writers:     make(map[archiveKey]*tilar.Writer),
		readers:     make(map[archiveKey]*tilar.Reader),
	}, nil
}

// DriverOptions implements driver.OptionsCarrier.
func (d *Driver) DriverOptions() ([]byte, error) {
	return MarshalOptions(Options{BinaryOrder: d.binaryOrder, FilesPerTile: filesPerTile})
}

// ReadOptions reads the archive geometry recorded in rootDir's tile set
// config, without requiring the caller to already know binaryOrder.
// The config lives in the embedded plaindriver's "global" subtree, so
// this opens only that, never a per-tile archive.
func ReadOptions(rootDir string) (Options, error) {
	global, err := plaindriver.Open(filepath.Join(rootDir, "global"), true)
	if err != nil {
		return Options{}, err
	}
	defer global.Close()

	r, err := global.Input(driver.GlobalKey(driver.FileConfig))
	if err != nil {
		return Options{}, fmt.Errorf("tilardriver: reading config: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Options{}, fmt.Errorf("tilardriver: reading config: %w", err)
	}

	var stub struct {
		DriverOptions goccyjson.RawMessage `json:"driverOptions"`
	}
	if err := goccyjson.Unmarshal(data, &stub); err != nil {
		return Options{}, fmt.Errorf("tilardriver: parsing config: %w", err)
	}
	return UnmarshalOptions(stub.DriverOptions)
}

// OpenExisting reopens a Tilar-backed store rooted at rootDir using the
// archive geometry recorded in its own config, so the caller does not
// need to already know binaryOrder.
func OpenExisting(rootDir string, readOnly bool) (*Driver, error) {
	opts, err := ReadOptions(rootDir)
	if err != nil {
		return nil, err
	}
	return Open(rootDir, opts.BinaryOrder, readOnly)
}

func (d *Driver) archivePath(k archiveKey) string {
	return filepath.Join(d.rootDir, fmt.Sprintf("%d", k.Lod), fmt.Sprintf("%d-%d.tilar", k.AX, k.AY))
}

func (d *Driver) resolve(key driver.Key) (archiveKey, tilar.FileIndex, bool) {
	slot, ok := fileKindSlot[key.Kind]
	if !ok {
		return archiveKey{}, tilar.FileIndex{}, false
	}
	id := key.TileID
	lod, ax, ay := tilar.ArchiveCoord(id.Lod, id.X, id.Y, d.binaryOrder)
	idx := tilar.SlotIndex(id.X, id.Y, d.binaryOrder, slot)
	return archiveKey{Lod: lod, AX: ax, AY: ay}, idx, true
}

func (d *Driver) getReader(ak archiveKey) (*tilar.Reader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.readers[ak]; ok {
		return r, nil
	}
	r, err := tilar.OpenReader(d.archivePath(ak))
	if err != nil {
		return nil, err
	}
	d.readers[ak] = r
	return r, nil
}

func (d *Driver) getWriter(ak archiveKey) (*tilar.Writer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.writers[ak]; ok {
		return w, nil
	}
	path := d.archivePath(ak)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("tilardriver: creating directory for %s: %w", path, err)
	}
	var w *tilar.Writer
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		w, err = tilar.CreateWriter(path, d.binaryOrder, filesPerTile)
	} else {
		w, err = tilar.OpenWriter(path)
	}
	if err != nil {
		return nil, err
	}
	d.writers[ak] = w
	return w, nil
}

func (d *Driver) Input(key driver.Key) (io.ReadCloser, error) {
	if !key.Kind.PerTile() {
		return d.global.Input(key)
	}
	ak, idx, ok := d.resolve(key)
	if !ok {
		return nil, driver.ErrNoSuchFile
	}

	if !d.readOnly {
		d.mu.Lock()
		w, exists := d.writers[ak]
		d.mu.Unlock()
		if exists {
			data, ok, err := w.Get(idx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, driver.ErrNoSuchFile
			}
			return io.NopCloser(&sliceReader{data: data}), nil
		}
	}

	r, err := d.getReader(ak)
	if errors.Is(err, os.ErrNotExist) {
		return nil, driver.ErrNoSuchFile
	}
	if err != nil {
		return nil, err
	}
	data, ok, err := r.Get(idx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, driver.ErrNoSuchFile
	}
	return io.NopCloser(&sliceReader{data: data}), nil
}

type sliceReader struct {
	data []byte
	pos  int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

type tileWriteCloser struct {
	driver *Driver
	ak     archiveKey
	idx    tilar.FileIndex
	buf    []byte
}

func (t *tileWriteCloser) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tileWriteCloser) Close() error {
	w, err := t.driver.getWriter(t.ak)
	if err != nil {
		return err
	}
	return w.Put(t.idx, t.buf)
}

func (d *Driver) Output(key driver.Key) (io.WriteCloser, error) {
	if d.readOnly {
		return nil, fmt.Errorf("tilardriver: driver is read-only")
	}
	if !key.Kind.PerTile() {
		return d.global.Output(key)
	}
	ak, idx, ok := d.resolve(key)
	if !ok {
		return nil, fmt.Errorf("tilardriver: unsupported key kind %s", key.Kind)
	}
	return &tileWriteCloser{driver: d, ak: ak, idx: idx}, nil
}

func (d *Driver) Stat(key driver.Key) (driver.Stat, error) {
	if !key.Kind.PerTile() {
		return d.global.Stat(key)
	}
	ak, idx, ok := d.resolve(key)
	if !ok {
		return driver.Stat{}, driver.ErrNoSuchFile
	}
	var size int64
	var found bool

	d.mu.Lock()
	w, hasWriter := d.writers[ak]
	d.mu.Unlock()
	if hasWriter {
		size, found = w.Size(idx)
	}
	if !found && !hasWriter {
		r, err := d.getReader(ak)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return driver.Stat{}, err
		}
		if r != nil {
			size, found = r.Size(idx)
		}
	}
	if !found {
		return driver.Stat{}, driver.ErrNoSuchFile
	}

	info, err := os.Stat(d.archivePath(ak))
	var mtime time.Time
	if err == nil {
		mtime = info.ModTime()
	}
	return driver.Stat{Size: size, LastModified: mtime}, nil
}

// Flush publishes every archive opened for writing during this
// session, then the embedded global store.
func (d *Driver) Flush() error {
	d.mu.Lock()
	writers := make([]*tilar.Writer, 0, len(d.writers))
	for _, w := range d.writers {
		writers = append(writers, w)
	}
	d.mu.Unlock()

	for _, w := range writers {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return d.global.Flush()
}

// Watch polls the driver's overall LastModified on an interval, since
// no ecosystem filesystem-event library appears anywhere in the
// corpus. Only ctx cancellation stops the poll and closes the channel;
// Close does not stop it.
func (d *Driver) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		last, _ := d.LastModified()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur, err := d.LastModified()
				if err != nil || !cur.After(last) {
					continue
				}
				last = cur
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{ReadOnly: d.readOnly}
}

func (d *Driver) LastModified() (time.Time, error) {
	latest, err := d.global.LastModified()
	if err != nil {
		return time.Time{}, err
	}
	err = filepath.WalkDir(d.rootDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || filepath.Ext(path) != ".tilar" {
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
		return latest, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("tilardriver: scanning %s: %w", d.rootDir, err)
	}
	return latest, nil
}

func (d *Driver) Resources() driver.Resources {
	d.mu.Lock()
	open := len(d.writers) + len(d.readers)
	d.mu.Unlock()
	global := d.global.Resources()
	return driver.Resources{OpenFiles: open + global.OpenFiles}
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for _, w := range d.writers {
		errs = append(errs, w.Close())
	}
	for _, r := range d.readers {
		errs = append(errs, r.Close())
	}
	errs = append(errs, d.global.Close())
	return errors.Join(errs...)
}
