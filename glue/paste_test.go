package glue_test

import (
	"testing"

	"github.com/eak1mov/vts-tiles/glue"
	"github.com/eak1mov/vts-tiles/qtree"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileset"
)

func TestPasteCopiesEveryMaterialTile(t *testing.T) {
	a := newTileSet(t, "a")
	defer a.Close()
	b := newTileSet(t, "b")
	defer b.Close()
	dst := newTileSet(t, "dst")
	defer dst.Close()

	idA := tileid.ID{Lod: 1, X: 0, Y: 0}
	idB := tileid.ID{Lod: 1, X: 1, Y: 1}

	if err := a.SetTile(idA, tileset.Tile{
		Mesh:     flatMesh(1),
		Coverage: qtree.NewRasterMask(4, true),
		Atlas:    &tileset.Atlas{Images: [][]byte{[]byte("atlas-a")}},
		NavTile:  &tileset.NavTile{Size: 2, Heights: []float32{1, 2, 3, 4}, Min: 1, Max: 4},
	}, nil); err != nil {
		t.Fatalf("a.SetTile: %v", err)
	}
	if err := b.SetTile(idB, tileset.Tile{
		Mesh:     flatMesh(2),
		Coverage: qtree.NewRasterMask(4, true),
		Atlas:    &tileset.Atlas{Images: [][]byte{[]byte("atlas-b")}},
	}, nil); err != nil {
		t.Fatalf("b.SetTile: %v", err)
	}

	if err := glue.Paste(dst, a, b); err != nil {
		t.Fatalf("Paste: %v", err)
	}

	if !dst.Exists(idA) || !dst.Exists(idB) {
		t.Fatal("Exists() = false after Paste for a disjoint source's tile")
	}

	atlas, err := dst.GetAtlas(idA)
	if err != nil {
		t.Fatalf("GetAtlas(idA): %v", err)
	}
	if string(atlas.Images[0]) != "atlas-a" {
		t.Errorf("atlas bytes = %q, want unmodified copy %q", atlas.Images[0], "atlas-a")
	}

	nav, err := dst.GetNavTile(idA)
	if err != nil {
		t.Fatalf("GetNavTile(idA): %v", err)
	}
	if nav.Min != 1 || nav.Max != 4 {
		t.Errorf("nav range = [%v,%v], want [1,4] (copied verbatim)", nav.Min, nav.Max)
	}
}

func TestPasteLastWriteWinsOnOverlap(t *testing.T) {
	a := newTileSet(t, "a")
	defer a.Close()
	b := newTileSet(t, "b")
	defer b.Close()
	dst := newTileSet(t, "dst")
	defer dst.Close()

	id := tileid.ID{Lod: 1, X: 0, Y: 0}
	if err := a.SetTile(id, tileset.Tile{
		Mesh:     flatMesh(1),
		Coverage: qtree.NewRasterMask(4, true),
	}, nil); err != nil {
		t.Fatalf("a.SetTile: %v", err)
	}
	if err := b.SetTile(id, tileset.Tile{
		Mesh:     flatMesh(2),
		Coverage: qtree.NewRasterMask(4, true),
	}, nil); err != nil {
		t.Fatalf("b.SetTile: %v", err)
	}

	if err := glue.Paste(dst, a, b); err != nil {
		t.Fatalf("Paste: %v", err)
	}

	mesh, err := dst.GetMesh(id)
	if err != nil {
		t.Fatalf("GetMesh: %v", err)
	}
	if mesh.Submeshes[0].Vertices[0][2] != 2 {
		t.Errorf("z = %v, want 2 (b pasted after a, last write wins)", mesh.Submeshes[0].Vertices[0][2])
	}
}

func TestPasteRebuildsMetatilesAtEnd(t *testing.T) {
	a := newTileSet(t, "a")
	defer a.Close()
	dst := newTileSet(t, "dst")
	defer dst.Close()

	parentID := tileid.ID{Lod: 1, X: 0, Y: 0}
	childID := tileid.ID{Lod: 2, X: 0, Y: 0}
	if err := a.SetTile(parentID, tileset.Tile{
		Mesh:     flatMesh(1),
		Coverage: qtree.NewRasterMask(4, true),
		NavTile:  &tileset.NavTile{Size: 2, Heights: []float32{5, 5, 5, 5}, Min: 5, Max: 5},
	}, nil); err != nil {
		t.Fatalf("a.SetTile(parent): %v", err)
	}
	if err := a.SetTile(childID, tileset.Tile{
		Mesh:     flatMesh(2),
		Coverage: qtree.NewRasterMask(4, true),
		NavTile:  &tileset.NavTile{Size: 2, Heights: []float32{1, 1, 1, 1}, Min: 1, Max: 1},
	}, nil); err != nil {
		t.Fatalf("a.SetTile(child): %v", err)
	}

	if err := glue.Paste(dst, a); err != nil {
		t.Fatalf("Paste: %v", err)
	}

	node, err := dst.GetMetaNode(parentID)
	if err != nil {
		t.Fatalf("GetMetaNode(parent): %v", err)
	}
	if node.HeightMin != 1 || node.HeightMax != 5 {
		t.Errorf("parent height range = [%v,%v], want propagated [1,5]", node.HeightMin, node.HeightMax)
	}
}
