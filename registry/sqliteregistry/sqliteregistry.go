// Package sqliteregistry implements refframe.Registry over a SQLite
// database, following the same sql.Open/Prepare/QueryRow/Close shape
// the corpus uses for MBTiles reading.
//
// Note: the caller must import the sqlite3 driver
// (e.g. import _ "github.com/mattn/go-sqlite3") before using this
// package.
package sqliteregistry

import (
	"database/sql"
	"errors"
	"fmt"

	goccyjson "github.com/goccy/go-json"

	"github.com/eak1mov/vts-tiles/refframe"
)

// Registry implements refframe.Registry backed by a SQLite database with
// three tables: reference_frames(id, body blob), credits(id, notice,
// url), bound_layers(id, url, lod_min, lod_max, credit_ids blob).
type Registry struct {
	db             *sql.DB
	frameStmt      *sql.Stmt
	creditStmt     *sql.Stmt
	boundLayerStmt *sql.Stmt
}

// Open opens a read-only Registry over the SQLite database at path. The
// returned Registry must be closed after use to release database
// resources.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("sqliteregistry: opening %s: %w", path, err)
	}

	frameStmt, err := db.Prepare("SELECT body FROM reference_frames WHERE id = ?")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteregistry: preparing reference_frames query: %w", err)
	}

	creditStmt, err := db.Prepare("SELECT id, notice, url FROM credits WHERE id = ?")
	if err != nil {
		errors.Join(frameStmt.Close(), db.Close())
		return nil, fmt.Errorf("sqliteregistry: preparing credits query: %w", err)
	}

	boundLayerStmt, err := db.Prepare("SELECT url, lod_min, lod_max, credit_ids FROM bound_layers WHERE id = ?")
	if err != nil {
		errors.Join(frameStmt.Close(), creditStmt.Close(), db.Close())
		return nil, fmt.Errorf("sqliteregistry: preparing bound_layers query: %w", err)
	}

	return &Registry{db: db, frameStmt: frameStmt, creditStmt: creditStmt, boundLayerStmt: boundLayerStmt}, nil
}

func (r *Registry) Close() error {
	return errors.Join(r.frameStmt.Close(), r.creditStmt.Close(), r.boundLayerStmt.Close(), r.db.Close())
}

// serializedFrame is the on-disk shape of a reference_frames.body blob,
// built from refframe.ReferenceFrame.Export's exported mirror type so
// the tree's internal linkage fields survive JSON encoding.
type serializedFrame struct {
	Nodes     []refframe.NodeData
	Roots     []int
	ChildSets [][4]int
}

func (r *Registry) ReferenceFrame(id string) (*refframe.ReferenceFrame, error) {
	var body []byte
	if err := r.frameStmt.QueryRow(id).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqliteregistry: no reference frame %q", id)
		}
		return nil, fmt.Errorf("sqliteregistry: querying reference frame %q: %w", id, err)
	}

	var sf serializedFrame
	if err := goccyjson.Unmarshal(body, &sf); err != nil {
		return nil, fmt.Errorf("sqliteregistry: decoding reference frame %q: %w", id, err)
	}
	return refframe.FromParts(sf.Nodes, sf.Roots, sf.ChildSets), nil
}

func (r *Registry) Credits(ids []int) ([]refframe.Credit, error) {
	out := make([]refframe.Credit, 0, len(ids))
	for _, id := range ids {
		var c refframe.Credit
		if err := r.creditStmt.QueryRow(id).Scan(&c.ID, &c.Notice, &c.URL); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("sqliteregistry: no credit %d", id)
			}
			return nil, fmt.Errorf("sqliteregistry: querying credit %d: %w", id, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Registry) BoundLayer(id string) (*refframe.BoundLayer, error) {
	var bl refframe.BoundLayer
	bl.ID = id
	var creditBlob []byte
	if err := r.boundLayerStmt.QueryRow(id).Scan(&bl.URL, &bl.LodRange.Min, &bl.LodRange.Max, &creditBlob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqliteregistry: no bound layer %q", id)
		}
		return nil, fmt.Errorf("sqliteregistry: querying bound layer %q: %w", id, err)
	}
	if len(creditBlob) > 0 {
		if err := goccyjson.Unmarshal(creditBlob, &bl.Credits); err != nil {
			return nil, fmt.Errorf("sqliteregistry: decoding bound layer %q credits: %w", id, err)
		}
	}
	return &bl, nil
}

var _ refframe.Registry = (*Registry)(nil)
