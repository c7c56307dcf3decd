package plaindriver_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eak1mov/vts-tiles/driver"
	"github.com/eak1mov/vts-tiles/driver/plaindriver"
	"github.com/eak1mov/vts-tiles/tileid"
)

func TestPerTileRoundTrip(t *testing.T) {
	d, err := plaindriver.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	key := driver.TileKey(tileid.ID{Lod: 3, X: 1, Y: 2}, driver.FileMesh)

	w, err := d.Output(key)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if _, err := w.Write([]byte("mesh-bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := d.Input(key)
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "mesh-bytes" {
		t.Errorf("got %q, want %q", got, "mesh-bytes")
	}
}

func TestGlobalKeyRoundTrip(t *testing.T) {
	d, err := plaindriver.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	key := driver.GlobalKey(driver.FileConfig)
	w, err := d.Output(key)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if _, err := w.Write([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stat, err := d.Stat(key)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.Size != int64(len(`{"a":1}`)) {
		t.Errorf("Stat().Size = %d, want %d", stat.Size, len(`{"a":1}`))
	}
}

func TestInputMissingKeyReturnsErrNoSuchFile(t *testing.T) {
	d, err := plaindriver.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	_, err = d.Input(driver.TileKey(tileid.ID{Lod: 0, X: 0, Y: 0}, driver.FileAtlas))
	if err != driver.ErrNoSuchFile {
		t.Errorf("Input(missing) = %v, want driver.ErrNoSuchFile", err)
	}
}

func TestReadOnlyRejectsOutput(t *testing.T) {
	root := t.TempDir()
	writer, err := plaindriver.Open(root, false)
	if err != nil {
		t.Fatalf("Open(write): %v", err)
	}
	writer.Close()

	d, err := plaindriver.Open(root, true)
	if err != nil {
		t.Fatalf("Open(read-only): %v", err)
	}
	defer d.Close()

	if _, err := d.Output(driver.GlobalKey(driver.FileConfig)); err == nil {
		t.Error("expected Output to fail on a read-only driver")
	}
	if !d.Capabilities().ReadOnly {
		t.Error("Capabilities().ReadOnly = false, want true")
	}
}

func TestOutputNotVisibleUntilClose(t *testing.T) {
	d, err := plaindriver.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	key := driver.GlobalKey(driver.FileTileIndex)
	w, err := d.Output(key)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := d.Input(key); err != driver.ErrNoSuchFile {
		t.Errorf("Input before Close = %v, want driver.ErrNoSuchFile", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := d.Input(key); err != nil {
		t.Errorf("Input after Close: %v", err)
	}
}

func TestWatchNotifiesOnCommit(t *testing.T) {
	d, err := plaindriver.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := d.Watch(ctx)

	w, err := d.Output(driver.GlobalKey(driver.FileConfig))
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	w.Write([]byte("x"))
	w.Close()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Error("Watch did not signal after a commit")
	}
}

func TestPathsForDistinctTilesDoNotCollide(t *testing.T) {
	d, err := plaindriver.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	a := driver.TileKey(tileid.ID{Lod: 1, X: 0, Y: 0}, driver.FileMesh)
	b := driver.TileKey(tileid.ID{Lod: 1, X: 0, Y: 1}, driver.FileMesh)

	for _, kv := range []struct {
		key  driver.Key
		data string
	}{{a, "A"}, {b, "B"}} {
		w, err := d.Output(kv.key)
		if err != nil {
			t.Fatalf("Output: %v", err)
		}
		w.Write([]byte(kv.data))
		w.Close()
	}

	for _, kv := range []struct {
		key  driver.Key
		data string
	}{{a, "A"}, {b, "B"}} {
		r, err := d.Input(kv.key)
		if err != nil {
			t.Fatalf("Input: %v", err)
		}
		got, _ := io.ReadAll(r)
		r.Close()
		if string(got) != kv.data {
			t.Errorf("Input(%v) = %q, want %q", kv.key, got, kv.data)
		}
	}
}

func TestRootDirLayout(t *testing.T) {
	root := t.TempDir()
	d, err := plaindriver.Open(root, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	key := driver.TileKey(tileid.ID{Lod: 2, X: 3, Y: 1}, driver.FileNavtile)
	w, err := d.Output(key)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	w.Close()

	want := filepath.Join(root, "2", "3", "1.navtile")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected file at %s: %v", want, err)
	}
}
