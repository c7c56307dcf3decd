package sqliteregistry_test

import (
	"database/sql"
	"testing"

	goccyjson "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eak1mov/vts-tiles/refframe"
	"github.com/eak1mov/vts-tiles/registry/sqliteregistry"
	"github.com/eak1mov/vts-tiles/tileid"
)

func newTestDB(t *testing.T) string {
	t.Helper()
	path := t.TempDir() + "/registry.sqlite"

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE reference_frames (id TEXT PRIMARY KEY, body BLOB);
		CREATE TABLE credits (id INTEGER PRIMARY KEY, notice TEXT, url TEXT);
		CREATE TABLE bound_layers (id TEXT PRIMARY KEY, url TEXT, lod_min INTEGER, lod_max INTEGER, credit_ids BLOB);
	`)
	if err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	rf := refframe.New()
	full := tileid.Extents2{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	rf.AddRoot(tileid.ID{Lod: 0, X: 0, Y: 0}, "EPSG:3857", full, full, refframe.SubdivisionGeometric)
	nodes, roots, childSets := rf.Export()
	body, err := goccyjson.Marshal(struct {
		Nodes     []refframe.NodeData
		Roots     []int
		ChildSets [][4]int
	}{nodes, roots, childSets})
	if err != nil {
		t.Fatalf("marshaling frame: %v", err)
	}
	if _, err := db.Exec("INSERT INTO reference_frames (id, body) VALUES (?, ?)", "frame-a", body); err != nil {
		t.Fatalf("inserting frame: %v", err)
	}

	if _, err := db.Exec("INSERT INTO credits (id, notice, url) VALUES (?, ?, ?)", 1, "Example Corp", "https://example.test"); err != nil {
		t.Fatalf("inserting credit: %v", err)
	}

	creditIDs, err := goccyjson.Marshal([]int{1})
	if err != nil {
		t.Fatalf("marshaling credit ids: %v", err)
	}
	if _, err := db.Exec("INSERT INTO bound_layers (id, url, lod_min, lod_max, credit_ids) VALUES (?, ?, ?, ?, ?)",
		"ortho", "https://example.test/{lod}/{x}/{y}.jpg", 0, 18, creditIDs); err != nil {
		t.Fatalf("inserting bound layer: %v", err)
	}

	return path
}

func TestReferenceFrameRoundTrip(t *testing.T) {
	reg, err := sqliteregistry.Open(newTestDB(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reg.Close()

	rf, err := reg.ReferenceFrame("frame-a")
	if err != nil {
		t.Fatalf("ReferenceFrame: %v", err)
	}
	if len(rf.Nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(rf.Nodes))
	}
	if rf.Nodes[0].SRS != "EPSG:3857" {
		t.Errorf("SRS = %q, want EPSG:3857", rf.Nodes[0].SRS)
	}

	if _, err := reg.ReferenceFrame("missing"); err == nil {
		t.Error("expected error for missing reference frame")
	}
}

func TestCredits(t *testing.T) {
	reg, err := sqliteregistry.Open(newTestDB(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reg.Close()

	credits, err := reg.Credits([]int{1})
	if err != nil {
		t.Fatalf("Credits: %v", err)
	}
	if len(credits) != 1 || credits[0].Notice != "Example Corp" {
		t.Errorf("Credits = %+v, want one entry for Example Corp", credits)
	}

	if _, err := reg.Credits([]int{99}); err == nil {
		t.Error("expected error for unknown credit id")
	}
}

func TestBoundLayer(t *testing.T) {
	reg, err := sqliteregistry.Open(newTestDB(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reg.Close()

	bl, err := reg.BoundLayer("ortho")
	if err != nil {
		t.Fatalf("BoundLayer: %v", err)
	}
	if bl.URL != "https://example.test/{lod}/{x}/{y}.jpg" {
		t.Errorf("URL = %q", bl.URL)
	}
	if len(bl.Credits) != 1 || bl.Credits[0] != 1 {
		t.Errorf("Credits = %v, want [1]", bl.Credits)
	}

	if _, err := reg.BoundLayer("missing"); err == nil {
		t.Error("expected error for missing bound layer")
	}
}
