package glue_test

import (
	"testing"

	"github.com/eak1mov/vts-tiles/driver"
	"github.com/eak1mov/vts-tiles/driver/plaindriver"
	"github.com/eak1mov/vts-tiles/glue"
	"github.com/eak1mov/vts-tiles/qtree"
	"github.com/eak1mov/vts-tiles/refframe"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileset"
)

type fakeRegistry struct{ rf *refframe.ReferenceFrame }

func newFakeRegistry() *fakeRegistry {
	rf := refframe.New()
	full := tileid.Extents2{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000}
	rf.AddRoot(tileid.ID{Lod: 0, X: 0, Y: 0}, "EPSG:3857", full, full, refframe.SubdivisionGeometric)
	return &fakeRegistry{rf: rf}
}

func (f *fakeRegistry) ReferenceFrame(id string) (*refframe.ReferenceFrame, error) { return f.rf, nil }
func (f *fakeRegistry) Credits(ids []int) ([]refframe.Credit, error)               { return nil, nil }
func (f *fakeRegistry) BoundLayer(id string) (*refframe.BoundLayer, error)         { return nil, nil }

func newTileSet(t *testing.T, id string) *tileset.TileSet {
	t.Helper()
	d, err := plaindriver.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("plaindriver.Open: %v", err)
	}
	cfg := tileset.Config{ID: id, ReferenceFrame: "test-frame", LodRange: [2]uint8{0, 2}}
	ts, err := tileset.Create(d, cfg, newFakeRegistry())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return ts
}

func flatMesh(z float32) tileset.Mesh {
	return tileset.Mesh{Submeshes: []tileset.Submesh{{Vertices: [][3]float32{{0, 0, z}}, TextureLayer: 0}}}
}

func TestGluePrioritySurfaceWins(t *testing.T) {
	low := newTileSet(t, "low")
	defer low.Close()
	high := newTileSet(t, "high")
	defer high.Close()
	dst := newTileSet(t, "dst")
	defer dst.Close()

	id := tileid.ID{Lod: 1, X: 0, Y: 0}

	if err := low.SetTile(id, tileset.Tile{
		Mesh:     flatMesh(1),
		Coverage: qtree.NewRasterMask(4, true),
		Atlas:    &tileset.Atlas{Images: [][]byte{[]byte("low")}},
	}, nil); err != nil {
		t.Fatalf("low.SetTile: %v", err)
	}
	if err := high.SetTile(id, tileset.Tile{
		Mesh:     flatMesh(9),
		Coverage: qtree.NewRasterMask(4, true),
		Atlas:    &tileset.Atlas{Images: [][]byte{[]byte("high")}},
	}, nil); err != nil {
		t.Fatalf("high.SetTile: %v", err)
	}

	if err := glue.Glue(dst, low, high); err != nil {
		t.Fatalf("Glue: %v", err)
	}

	mesh, err := dst.GetMesh(id)
	if err != nil {
		t.Fatalf("GetMesh: %v", err)
	}
	if len(mesh.Submeshes) != 1 {
		t.Fatalf("got %d submeshes, want 1 (high's coverage is full, low is fully shadowed)", len(mesh.Submeshes))
	}
	if mesh.Submeshes[0].Vertices[0][2] != 9 {
		t.Errorf("surface z = %v, want 9 (high wins where fully covered)", mesh.Submeshes[0].Vertices[0][2])
	}

	node, err := dst.GetMetaNode(id)
	if err != nil {
		t.Fatalf("GetMetaNode: %v", err)
	}
	if node.Reference != 2 {
		t.Errorf("Reference = %d, want 2 (high is sources[1], the dominant contributor; ranks are 1-based)", node.Reference)
	}
}

func TestGlueLowerPriorityLeaksThroughGap(t *testing.T) {
	low := newTileSet(t, "low")
	defer low.Close()
	high := newTileSet(t, "high")
	defer high.Close()
	dst := newTileSet(t, "dst")
	defer dst.Close()

	id := tileid.ID{Lod: 1, X: 0, Y: 0}

	if err := low.SetTile(id, tileset.Tile{
		Mesh:     flatMesh(1),
		Coverage: qtree.NewRasterMask(4, true),
	}, nil); err != nil {
		t.Fatalf("low.SetTile: %v", err)
	}
	// high covers only half the tile, leaving the rest clear.
	halfCoverage := qtree.NewRasterMask(4, false)
	halfCoverage.FillBool(qtree.Region{X0: 0, Y0: 0, X1: 8, Y1: 16}, true)
	if err := high.SetTile(id, tileset.Tile{
		Mesh:     flatMesh(9),
		Coverage: halfCoverage,
	}, nil); err != nil {
		t.Fatalf("high.SetTile: %v", err)
	}

	if err := glue.Glue(dst, low, high); err != nil {
		t.Fatalf("Glue: %v", err)
	}

	mesh, err := dst.GetMesh(id)
	if err != nil {
		t.Fatalf("GetMesh: %v", err)
	}
	if len(mesh.Submeshes) != 2 {
		t.Fatalf("got %d submeshes, want 2 (high's gap lets low's geometry through)", len(mesh.Submeshes))
	}

	covered, err := dst.FullyCovered(id)
	if err != nil {
		t.Fatalf("FullyCovered: %v", err)
	}
	if !covered {
		t.Error("FullyCovered = false, want true: low fills the part high's coverage leaves clear")
	}
}

func TestGlueSingleSourceIsPaste(t *testing.T) {
	src := newTileSet(t, "src")
	defer src.Close()
	dst := newTileSet(t, "dst")
	defer dst.Close()

	id := tileid.ID{Lod: 1, X: 0, Y: 0}
	if err := src.SetTile(id, tileset.Tile{
		Mesh:     flatMesh(3),
		Coverage: qtree.NewRasterMask(4, true),
	}, nil); err != nil {
		t.Fatalf("src.SetTile: %v", err)
	}

	if err := glue.Glue(dst, src); err != nil {
		t.Fatalf("Glue: %v", err)
	}
	if !dst.Exists(id) {
		t.Error("Exists() = false after Glue([single source])")
	}
}

func TestGlueIdempotentOnOneSource(t *testing.T) {
	src := newTileSet(t, "src")
	defer src.Close()
	dstA := newTileSet(t, "dstA")
	defer dstA.Close()
	dstB := newTileSet(t, "dstB")
	defer dstB.Close()

	id := tileid.ID{Lod: 1, X: 0, Y: 0}
	if err := src.SetTile(id, tileset.Tile{
		Mesh:     flatMesh(3),
		Coverage: qtree.NewRasterMask(4, true),
	}, nil); err != nil {
		t.Fatalf("src.SetTile: %v", err)
	}

	if err := glue.Glue(dstA, src); err != nil {
		t.Fatalf("Glue(dstA, src): %v", err)
	}
	if err := glue.Glue(dstB, src, src); err != nil {
		t.Fatalf("Glue(dstB, src, src): %v", err)
	}

	meshA, err := dstA.GetMesh(id)
	if err != nil {
		t.Fatalf("dstA.GetMesh: %v", err)
	}
	meshB, err := dstB.GetMesh(id)
	if err != nil {
		t.Fatalf("dstB.GetMesh: %v", err)
	}
	if len(meshA.Submeshes) != len(meshB.Submeshes) {
		t.Errorf("glue([src]) produced %d submeshes, glue([src,src]) produced %d, want equal", len(meshA.Submeshes), len(meshB.Submeshes))
	}
}

func TestGlueAbortsBeforeAnyWriteOnSourceReadFailure(t *testing.T) {
	low := newTileSet(t, "low")
	defer low.Close()
	high := newTileSet(t, "high")
	defer high.Close()
	dst := newTileSet(t, "dst")
	defer dst.Close()

	goodID := tileid.ID{Lod: 1, X: 0, Y: 0}
	badID := tileid.ID{Lod: 2, X: 0, Y: 0}

	for _, ts := range []*tileset.TileSet{low, high} {
		if err := ts.SetTile(goodID, tileset.Tile{
			Mesh:     flatMesh(1),
			Coverage: qtree.NewRasterMask(4, true),
		}, nil); err != nil {
			t.Fatalf("SetTile(goodID): %v", err)
		}
		if err := ts.SetTile(badID, tileset.Tile{
			Mesh:     flatMesh(2),
			Coverage: qtree.NewRasterMask(4, true),
		}, nil); err != nil {
			t.Fatalf("SetTile(badID): %v", err)
		}
	}

	// Corrupt high's stored mesh record for badID so composing it fails
	// partway through the union, after goodID already composed cleanly.
	w, err := high.Driver().Output(driver.TileKey(badID, driver.FileMesh))
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if _, err := w.Write([]byte("not json")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := glue.Glue(dst, low, high); err == nil {
		t.Fatal("Glue = nil error, want failure from corrupted source tile")
	}

	if dst.Exists(goodID) {
		t.Error("Exists(goodID) = true, want false: a later source failure must leave dst untouched even for tiles composed earlier")
	}
	if !dst.LodRange().Empty() {
		t.Errorf("LodRange = %v, want empty: nothing should have been written to dst", dst.LodRange())
	}
}
