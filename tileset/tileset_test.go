package tileset_test

import (
	"testing"

	"github.com/eak1mov/vts-tiles/driver/plaindriver"
	"github.com/eak1mov/vts-tiles/qtree"
	"github.com/eak1mov/vts-tiles/refframe"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileset"
)

// fakeRegistry serves a single reference frame covering a flat
// 0..1000 x 0..1000 square, enough to exercise NodeInfoFor derivation.
type fakeRegistry struct {
	rf *refframe.ReferenceFrame
}

func newFakeRegistry() *fakeRegistry {
	rf := refframe.New()
	full := tileid.Extents2{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000}
	rf.AddRoot(tileid.ID{Lod: 0, X: 0, Y: 0}, "EPSG:3857", full, full, refframe.SubdivisionGeometric)
	return &fakeRegistry{rf: rf}
}

func (f *fakeRegistry) ReferenceFrame(id string) (*refframe.ReferenceFrame, error) {
	return f.rf, nil
}

func (f *fakeRegistry) Credits(ids []int) ([]refframe.Credit, error) {
	out := make([]refframe.Credit, len(ids))
	for i, id := range ids {
		out[i] = refframe.Credit{ID: id}
	}
	return out, nil
}

func (f *fakeRegistry) BoundLayer(id string) (*refframe.BoundLayer, error) {
	return nil, nil
}

func newTileSet(t *testing.T) (*tileset.TileSet, *fakeRegistry) {
	t.Helper()
	d, err := plaindriver.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("plaindriver.Open: %v", err)
	}
	reg := newFakeRegistry()
	cfg := tileset.Config{ID: "test-set", ReferenceFrame: "test-frame", LodRange: [2]uint8{0, 2}}
	ts, err := tileset.Create(d, cfg, reg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return ts, reg
}

func TestEmptyTileSetHasEmptyLodRange(t *testing.T) {
	ts, _ := newTileSet(t)
	defer ts.Close()

	if !ts.Empty() {
		t.Error("Empty() = false, want true for a freshly created tile set")
	}
	if !ts.LodRange().Empty() {
		t.Error("LodRange() should be empty before any SetTile")
	}
}

func TestSetTileFlushReopenRoundTrips(t *testing.T) {
	rootDir := t.TempDir()
	d, err := plaindriver.Open(rootDir, false)
	if err != nil {
		t.Fatalf("plaindriver.Open: %v", err)
	}
	reg := newFakeRegistry()
	cfg := tileset.Config{ID: "test-set", ReferenceFrame: "test-frame", LodRange: [2]uint8{0, 2}}

	ts, err := tileset.Create(d, cfg, reg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	parentID := tileid.ID{Lod: 1, X: 0, Y: 0}
	childID := tileid.ID{Lod: 2, X: 0, Y: 0}

	parentTile := tileset.Tile{
		Mesh:     tileset.Mesh{Submeshes: []tileset.Submesh{{Vertices: [][3]float32{{0, 0, 0}}}}},
		Coverage: qtree.NewRasterMask(4, true),
		Atlas:    &tileset.Atlas{Images: [][]byte{[]byte("jpeg-bytes")}},
		NavTile:  &tileset.NavTile{Size: 4, Heights: []float32{5, 6, 7, 8}, Min: 5, Max: 10},
	}
	childTile := tileset.Tile{
		Mesh:     tileset.Mesh{Submeshes: []tileset.Submesh{{Vertices: [][3]float32{{1, 1, 1}}}}},
		Coverage: qtree.NewRasterMask(4, true),
		Atlas:    &tileset.Atlas{Images: [][]byte{[]byte("jpeg-bytes-2")}},
		NavTile:  &tileset.NavTile{Size: 4, Heights: []float32{1, 2, 3, 4}, Min: 1, Max: 4},
	}
	if err := ts.SetTile(parentID, parentTile, nil); err != nil {
		t.Fatalf("SetTile(parent): %v", err)
	}
	if err := ts.SetTile(childID, childTile, nil); err != nil {
		t.Fatalf("SetTile(child): %v", err)
	}
	if !ts.Exists(parentID) || !ts.Exists(childID) {
		t.Fatal("Exists() = false after SetTile")
	}

	if err := ts.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := ts.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d2, err := plaindriver.Open(rootDir, false)
	if err != nil {
		t.Fatalf("reopening plaindriver: %v", err)
	}
	ts2, err := tileset.Open(d2, reg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ts2.Close()

	mesh, err := ts2.GetMesh(childID)
	if err != nil {
		t.Fatalf("GetMesh: %v", err)
	}
	if len(mesh.Submeshes) != 1 {
		t.Errorf("got %d submeshes, want 1", len(mesh.Submeshes))
	}

	nav, err := ts2.GetNavTile(childID)
	if err != nil {
		t.Fatalf("GetNavTile: %v", err)
	}
	if nav.Min != 1 || nav.Max != 4 {
		t.Errorf("nav range = [%v,%v], want [1,4]", nav.Min, nav.Max)
	}

	childNode, err := ts2.GetMetaNode(childID)
	if err != nil {
		t.Fatalf("GetMetaNode(child): %v", err)
	}
	if childNode.HeightMin != 1 || childNode.HeightMax != 4 {
		t.Errorf("child meta node height range = [%v,%v], want [1,4]", childNode.HeightMin, childNode.HeightMax)
	}

	parentNode, err := ts2.GetMetaNode(parentID)
	if err != nil {
		t.Fatalf("GetMetaNode(parent): %v", err)
	}
	if parentNode.HeightMin != 1 || parentNode.HeightMax != 10 {
		t.Errorf("parent meta node height range = [%v,%v], want propagated [1,10]", parentNode.HeightMin, parentNode.HeightMax)
	}
}

func TestSetNavTileWithoutMeshIsInconsistentInput(t *testing.T) {
	ts, _ := newTileSet(t)
	defer ts.Close()

	id := tileid.ID{Lod: 1, X: 0, Y: 0}
	err := ts.SetNavTile(id, tileset.NavTile{Size: 1, Heights: []float32{0}})
	if tileset.KindOf(err) != tileset.InconsistentInput {
		t.Fatalf("KindOf(err) = %v, want InconsistentInput", tileset.KindOf(err))
	}
}

func TestGetMeshMissingTileReturnsNoSuchFile(t *testing.T) {
	ts, _ := newTileSet(t)
	defer ts.Close()

	_, err := ts.GetMesh(tileid.ID{Lod: 1, X: 5, Y: 5})
	if tileset.KindOf(err) != tileset.NoSuchFile {
		t.Fatalf("KindOf(err) = %v, want NoSuchFile", tileset.KindOf(err))
	}
}
