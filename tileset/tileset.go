// Package tileset implements TileSet: the logical tile-set model
// layered over a Driver and a TileIndex, with metatile generation,
// config persistence and the flush/seal lifecycle.
package tileset

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	goccyjson "github.com/goccy/go-json"

	"github.com/eak1mov/vts-tiles/driver"
	"github.com/eak1mov/vts-tiles/qtree"
	"github.com/eak1mov/vts-tiles/refframe"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileindex"
)

// defaultMetaBinaryOrder gives 32x32 tile nodes per metatile, a typical
// grouping size.
const defaultMetaBinaryOrder = 5

type settings struct {
	Logger          *slog.Logger
	MetaBinaryOrder uint8
}

// Option configures Create/Open.
type Option func(*settings)

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.Logger = logger }
}

func WithMetaBinaryOrder(order uint8) Option {
	return func(s *settings) { s.MetaBinaryOrder = order }
}

func newSettings(opts []Option) settings {
	s := settings{Logger: slog.New(slog.DiscardHandler), MetaBinaryOrder: defaultMetaBinaryOrder}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// TileSet is the logical view of a driver-backed tile store: mesh,
// atlas, navtile and metatile CRUD, tileindex bookkeeping and the
// flush/seal lifecycle.
type TileSet struct {
	mu sync.Mutex

	driver   driver.Driver
	registry refframe.Registry
	config   Config
	index    *tileindex.TileIndex

	metaBinaryOrder uint8
	logger          *slog.Logger
	sealed          bool

	// reference records, per tile, the contributing source rank a glue
	// composition wrote, surfaced in its MetaNode.Reference on the next
	// generateMetatiles pass. Ranks start at 1; absent entries read as 0,
	// meaning no glue source.
	reference map[tileid.ID]uint16
}

// Create initializes a new, empty tile set over d and persists cfg. d
// must not already hold a config.
func Create(d driver.Driver, cfg Config, registry refframe.Registry, opts ...Option) (*TileSet, error) {
	s := newSettings(opts)

	if _, err := d.Stat(driver.GlobalKey(driver.FileConfig)); err == nil {
		return nil, newError(AlreadyExists, "create", fmt.Errorf("driver already holds a config"))
	}

	if oc, ok := d.(driver.OptionsCarrier); ok {
		opts, err := oc.DriverOptions()
		if err != nil {
			return nil, newError(Internal, "create", fmt.Errorf("reading driver options: %w", err))
		}
		cfg.DriverOptions = opts
	}

	ts := &TileSet{
		driver:          d,
		registry:        registry,
		config:          cfg,
		index:           tileindex.New(tileid.EmptyLodRange()),
		metaBinaryOrder: s.MetaBinaryOrder,
		logger:          s.Logger,
	}
	if err := ts.writeConfig(); err != nil {
		return nil, err
	}
	return ts, nil
}

// Open loads an existing tile set from d.
func Open(d driver.Driver, registry refframe.Registry, opts ...Option) (*TileSet, error) {
	s := newSettings(opts)

	cfg, err := readConfig(d)
	if err != nil {
		return nil, err
	}

	index, err := readIndex(d)
	if err != nil {
		return nil, err
	}

	return &TileSet{
		driver:          d,
		registry:        registry,
		config:          cfg,
		index:           index,
		metaBinaryOrder: s.MetaBinaryOrder,
		logger:          s.Logger,
	}, nil
}

func readConfig(d driver.Driver) (Config, error) {
	r, err := d.Input(driver.GlobalKey(driver.FileConfig))
	if err != nil {
		return Config{}, newError(NoSuchFile, "open", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, newError(IOError, "open", err)
	}
	return UnmarshalConfig(data)
}

func readIndex(d driver.Driver) (*tileindex.TileIndex, error) {
	r, err := d.Input(driver.GlobalKey(driver.FileTileIndex))
	if err == driver.ErrNoSuchFile {
		return tileindex.New(tileid.EmptyLodRange()), nil
	}
	if err != nil {
		return nil, newError(IOError, "open", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newError(IOError, "open", err)
	}
	index, err := tileindex.Unmarshal(data)
	if err != nil {
		return nil, newError(FormatError, "open", err)
	}
	return index, nil
}

func (ts *TileSet) writeConfig() error {
	data, err := MarshalConfig(ts.config)
	if err != nil {
		return err
	}
	w, err := ts.driver.Output(driver.GlobalKey(driver.FileConfig))
	if err != nil {
		return newError(IOError, "writeConfig", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return newError(IOError, "writeConfig", err)
	}
	if err := w.Close(); err != nil {
		return newError(IOError, "writeConfig", err)
	}
	return nil
}

// Config returns the tile set's current configuration.
func (ts *TileSet) Config() Config { return ts.config }

// Exists reports whether id carries any material flag.
func (ts *TileSet) Exists(id tileid.ID) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.index.Exists(id)
}

// Empty reports whether the tile set holds no material tiles.
func (ts *TileSet) Empty() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.index.LodRange().Empty()
}

// LodRange returns the smallest LOD range containing any material tile.
func (ts *TileSet) LodRange() tileid.LodRange {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.index.LodRange()
}

// Traverse calls fn for every non-zero tile at lod in the quadtree's
// quadrant-recursion order (not a row-major scan), stopping early if fn
// returns false.
func (ts *TileSet) Traverse(lod uint8, fn func(id tileid.ID, flags uint32) bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.index.Traverse(lod, fn)
}

// Driver exposes the underlying storage backend for callers, such as
// Paste and Glue, that need to stream raw per-tile payloads without
// going through the mesh/atlas/navtile decoders.
func (ts *TileSet) Driver() driver.Driver { return ts.driver }

// MarkMaterial records id as carrying flags directly in the tileindex,
// bypassing SetTile's mesh/atlas/navtile encode step. Used by Paste,
// which copies already-encoded payload bytes verbatim.
func (ts *TileSet) MarkMaterial(id tileid.ID, flags uint32) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.index.Set(id, flags)
}

// SetReference records the contributing source rank for id, picked up
// by the next Flush's metatile generation. Used by Glue to mark which
// input tile set a composed tile's surface came from.
func (ts *TileSet) SetReference(id tileid.ID, rank uint16) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.reference == nil {
		ts.reference = make(map[tileid.ID]uint16)
	}
	ts.reference[id] = rank
}

// FullyCovered reports whether id has a mesh whose coverage mask is
// entirely set.
func (ts *TileSet) FullyCovered(id tileid.ID) (bool, error) {
	rec, ok, err := ts.getMeshRecord(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	mask, err := qtree.Unmarshal(rec.Coverage)
	if err != nil {
		return false, newError(FormatError, "fullyCovered", err)
	}
	return qtree.RasterMask{QTree: mask}.Full(), nil
}

type meshRecord struct {
	Mesh     Mesh   `json:"mesh"`
	Coverage []byte `json:"coverage"`
}

func (ts *TileSet) getMeshRecord(id tileid.ID) (meshRecord, bool, error) {
	r, err := ts.driver.Input(driver.TileKey(id, driver.FileMesh))
	if err == driver.ErrNoSuchFile {
		return meshRecord{}, false, nil
	}
	if err != nil {
		return meshRecord{}, false, newError(IOError, "getMesh", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return meshRecord{}, false, newError(IOError, "getMesh", err)
	}
	var rec meshRecord
	if err := goccyjson.Unmarshal(data, &rec); err != nil {
		return meshRecord{}, false, newError(FormatError, "getMesh", err)
	}
	return rec, true, nil
}

// GetMesh returns the mesh stored at id.
func (ts *TileSet) GetMesh(id tileid.ID) (Mesh, error) {
	rec, ok, err := ts.getMeshRecord(id)
	if err != nil {
		return Mesh{}, err
	}
	if !ok {
		return Mesh{}, newError(NoSuchFile, "getMesh", fmt.Errorf("%v", id))
	}
	return rec.Mesh, nil
}

// GetTile reassembles the full Tile payload at id: mesh and coverage
// mask, plus atlas and navtile if the tileindex flags say they exist.
// Used by Paste and Glue, which need a source tile's coverage mask
// alongside its mesh to compose output.
func (ts *TileSet) GetTile(id tileid.ID) (Tile, error) {
	rec, ok, err := ts.getMeshRecord(id)
	if err != nil {
		return Tile{}, err
	}
	if !ok {
		return Tile{}, newError(NoSuchFile, "getTile", fmt.Errorf("%v", id))
	}
	coverage, err := qtree.Unmarshal(rec.Coverage)
	if err != nil {
		return Tile{}, newError(FormatError, "getTile", err)
	}
	tile := Tile{Mesh: rec.Mesh, Coverage: qtree.RasterMask{QTree: coverage}}

	flags := ts.index.Get(id)
	if flags&tileindex.FlagAtlas != 0 {
		atlas, err := ts.GetAtlas(id)
		if err != nil {
			return Tile{}, err
		}
		tile.Atlas = &atlas
	}
	if flags&tileindex.FlagNavtile != 0 {
		nav, err := ts.GetNavTile(id)
		if err != nil {
			return Tile{}, err
		}
		tile.NavTile = &nav
	}
	return tile, nil
}

// GetAtlas returns the atlas stored at id.
func (ts *TileSet) GetAtlas(id tileid.ID) (Atlas, error) {
	r, err := ts.driver.Input(driver.TileKey(id, driver.FileAtlas))
	if err == driver.ErrNoSuchFile {
		return Atlas{}, newError(NoSuchFile, "getAtlas", fmt.Errorf("%v", id))
	}
	if err != nil {
		return Atlas{}, newError(IOError, "getAtlas", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Atlas{}, newError(IOError, "getAtlas", err)
	}
	var atlas Atlas
	if err := goccyjson.Unmarshal(data, &atlas); err != nil {
		return Atlas{}, newError(FormatError, "getAtlas", err)
	}
	return atlas, nil
}

// GetNavTile returns the navtile stored at id.
func (ts *TileSet) GetNavTile(id tileid.ID) (NavTile, error) {
	r, err := ts.driver.Input(driver.TileKey(id, driver.FileNavtile))
	if err == driver.ErrNoSuchFile {
		return NavTile{}, newError(NoSuchFile, "getNavTile", fmt.Errorf("%v", id))
	}
	if err != nil {
		return NavTile{}, newError(IOError, "getNavTile", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return NavTile{}, newError(IOError, "getNavTile", err)
	}
	var nav NavTile
	if err := goccyjson.Unmarshal(data, &nav); err != nil {
		return NavTile{}, newError(FormatError, "getNavTile", err)
	}
	return nav, nil
}

// GetMetaTile returns every MetaNode packed into the metatile at metaID.
func (ts *TileSet) GetMetaTile(metaID tileid.ID) (map[tileid.ID]MetaNode, error) {
	r, err := ts.driver.Input(driver.TileKey(metaID, driver.FileMeta))
	if err == driver.ErrNoSuchFile {
		return nil, newError(NoSuchFile, "getMetaTile", fmt.Errorf("%v", metaID))
	}
	if err != nil {
		return nil, newError(IOError, "getMetaTile", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newError(IOError, "getMetaTile", err)
	}
	_, _, nodes, err := decodeMetaTile(data)
	if err != nil {
		return nil, newError(FormatError, "getMetaTile", err)
	}
	return nodes, nil
}

// GetMetaNode returns the MetaNode for id, read from its containing
// metatile.
func (ts *TileSet) GetMetaNode(id tileid.ID) (MetaNode, error) {
	metaID := metaIDFor(id, ts.metaBinaryOrder)
	nodes, err := ts.GetMetaTile(metaID)
	if err != nil {
		return MetaNode{}, err
	}
	node, ok := nodes[id]
	if !ok {
		return MetaNode{}, newError(NoSuchFile, "getMetaNode", fmt.Errorf("%v", id))
	}
	return node, nil
}

// SetTile writes tile's mesh, coverage, optional atlas and optional
// navtile at id, and updates the tileindex accordingly. If info is nil
// the NodeInfo is derived from the tile set's reference frame; a
// caller-supplied info is trusted without re-validation.
func (ts *TileSet) SetTile(id tileid.ID, tile Tile, info *refframe.NodeInfo) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.sealed {
		return newError(ReadOnlyViolation, "setTile", fmt.Errorf("tile set is sealed"))
	}

	if _, err := ts.nodeInfoFor(id, info); err != nil {
		return newError(InconsistentInput, "setTile", err)
	}

	rec := meshRecord{Mesh: tile.Mesh, Coverage: qtree.Marshal(tile.Coverage.QTree)}
	data, err := goccyjson.Marshal(rec)
	if err != nil {
		return newError(Internal, "setTile", err)
	}
	if err := writeKey(ts.driver, driver.TileKey(id, driver.FileMesh), data); err != nil {
		return newError(IOError, "setTile", err)
	}

	flags := tileindex.FlagMesh
	if tile.Atlas != nil {
		atlasData, err := goccyjson.Marshal(tile.Atlas)
		if err != nil {
			return newError(Internal, "setTile", err)
		}
		if err := writeKey(ts.driver, driver.TileKey(id, driver.FileAtlas), atlasData); err != nil {
			return newError(IOError, "setTile", err)
		}
		flags |= tileindex.FlagAtlas
	} else {
		// invariant (1): has-mesh implies has-atlas except for a virtual
		// tile explicitly marked alien.
		flags |= tileindex.FlagAlien
	}

	if tile.NavTile != nil {
		if err := ts.setNavTileLocked(id, *tile.NavTile); err != nil {
			return err
		}
		flags |= tileindex.FlagNavtile
	}

	ts.index.Set(id, flags)
	return nil
}

// SetNavTile writes nav at id. id must already carry a mesh.
func (ts *TileSet) SetNavTile(id tileid.ID, nav NavTile) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.sealed {
		return newError(ReadOnlyViolation, "setNavTile", fmt.Errorf("tile set is sealed"))
	}
	if !ts.index.Exists(id) || ts.index.Get(id)&tileindex.FlagMesh == 0 {
		return newError(InconsistentInput, "setNavTile", fmt.Errorf("%v has no mesh", id))
	}
	if err := ts.setNavTileLocked(id, nav); err != nil {
		return err
	}
	ts.index.SetMask(id, tileindex.FlagNavtile, true)
	return nil
}

func (ts *TileSet) setNavTileLocked(id tileid.ID, nav NavTile) error {
	data, err := goccyjson.Marshal(nav)
	if err != nil {
		return newError(Internal, "setNavTile", err)
	}
	if err := writeKey(ts.driver, driver.TileKey(id, driver.FileNavtile), data); err != nil {
		return newError(IOError, "setNavTile", err)
	}
	return nil
}

func (ts *TileSet) nodeInfoFor(id tileid.ID, info *refframe.NodeInfo) (refframe.NodeInfo, error) {
	if info != nil {
		return *info, nil
	}
	rf, err := ts.registry.ReferenceFrame(ts.config.ReferenceFrame)
	if err != nil {
		return refframe.NodeInfo{}, err
	}
	return refframe.NodeInfoFor(rf, id)
}

func writeKey(d driver.Driver, key driver.Key, data []byte) error {
	w, err := d.Output(key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Flush materialises metatiles, serialises the tileindex and rewrites
// config, in that order. A tile set is unreadable by another opener
// until Flush has run at least once.
func (ts *TileSet) Flush() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.sealed {
		return newError(ReadOnlyViolation, "flush", fmt.Errorf("tile set is sealed"))
	}

	ts.index.MakeAbsolute()

	if err := ts.generateMetatiles(); err != nil {
		return newError(Internal, "flush", err)
	}

	indexData, err := tileindex.Marshal(ts.index)
	if err != nil {
		return newError(Internal, "flush", err)
	}
	if err := writeKey(ts.driver, driver.GlobalKey(driver.FileTileIndex), indexData); err != nil {
		return newError(IOError, "flush", err)
	}

	if err := ts.writeConfig(); err != nil {
		return err
	}

	if err := ts.driver.Flush(); err != nil {
		return newError(IOError, "flush", err)
	}
	return nil
}

// Close releases the underlying driver. It does not flush; callers that
// want durable writes must call Flush first.
func (ts *TileSet) Close() error {
	return ts.driver.Close()
}
