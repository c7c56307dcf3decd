package tileset

import (
	"testing"

	"github.com/eak1mov/vts-tiles/tileid"
)

func TestEncodeDecodeMetaTileRoundTrip(t *testing.T) {
	metaID := tileid.ID{Lod: 0, X: 0, Y: 0}
	const order = 2 // 4x4 nodes

	nodes := map[tileid.ID]MetaNode{
		{Lod: 2, X: 0, Y: 0}: {
			Flags:       0b00000111,
			HeightMin:   1.5,
			HeightMax:   9.5,
			Extents:     [6]float32{0, 0, 1.5, 10, 10, 9.5},
			TexelSize:   0.5,
			DisplaySize: 256,
			Reference:   1,
			Credits:     []int{3, 7},
		},
		{Lod: 2, X: 3, Y: 3}: {
			Flags:     0b10000001,
			HeightMin: -2,
			HeightMax: 4,
		},
	}

	data := encodeMetaTile(metaID, order, nodes)

	gotID, gotOrder, gotNodes, err := decodeMetaTile(data)
	if err != nil {
		t.Fatalf("decodeMetaTile: %v", err)
	}
	if gotID != metaID {
		t.Errorf("metaID = %v, want %v", gotID, metaID)
	}
	if gotOrder != order {
		t.Errorf("order = %d, want %d", gotOrder, order)
	}
	if len(gotNodes) != len(nodes) {
		t.Fatalf("got %d nodes, want %d", len(gotNodes), len(nodes))
	}
	for id, want := range nodes {
		got, ok := gotNodes[id]
		if !ok {
			t.Fatalf("missing node %v", id)
		}
		if got.Flags != want.Flags || got.HeightMin != want.HeightMin || got.HeightMax != want.HeightMax {
			t.Errorf("node %v = %+v, want %+v", id, got, want)
		}
		if len(got.Credits) != len(want.Credits) {
			t.Errorf("node %v credits = %v, want %v", id, got.Credits, want.Credits)
		}
	}
}

func TestDecodeMetaTileRejectsBadMagic(t *testing.T) {
	if _, _, _, err := decodeMetaTile([]byte("XX")); err == nil {
		t.Fatal("expected error on bad magic")
	}
}

func TestMetaIDForShallowTilesArePrivate(t *testing.T) {
	const order = 5
	a := tileid.ID{Lod: 1, X: 0, Y: 0}
	b := tileid.ID{Lod: 2, X: 0, Y: 0}
	if metaIDFor(a, order) != a {
		t.Errorf("metaIDFor(%v) = %v, want %v (private)", a, metaIDFor(a, order), a)
	}
	if metaIDFor(b, order) != b {
		t.Errorf("metaIDFor(%v) = %v, want %v (private)", b, metaIDFor(b, order), b)
	}
	if metaIDFor(a, order) == metaIDFor(b, order) {
		t.Error("shallow tiles at different lods must not collide on the same metatile id")
	}
}

func TestMetaIDForDeepTilesShareABlock(t *testing.T) {
	const order = 2
	a := tileid.ID{Lod: 5, X: 4, Y: 4}
	b := tileid.ID{Lod: 5, X: 5, Y: 5}
	if metaIDFor(a, order) != metaIDFor(b, order) {
		t.Errorf("expected %v and %v to share a metatile, got %v and %v", a, b, metaIDFor(a, order), metaIDFor(b, order))
	}
}
