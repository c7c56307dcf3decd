// Package encoder implements the LOD-ordered, cancelable, parallel
// traversal that generates a tile set's tiles top-down and aggregates
// derived rasters.
package encoder

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/eak1mov/vts-tiles/refframe"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/eak1mov/vts-tiles/tileset"
)

const (
	defaultWorkers       = 4
	defaultHeightmapSize = 256
)

// ResultKind classifies what a GenerateFunc produced for one tile.
type ResultKind int

const (
	ResultData ResultKind = iota
	ResultNoDataYet
	ResultNoData
)

// TileResult is a GenerateFunc's outcome for one TileId: data with a
// payload, no data yet but children may still have some, or no data at
// all (which prunes the subtree).
type TileResult struct {
	Kind ResultKind
	Tile tileset.Tile
}

func Data(tile tileset.Tile) TileResult { return TileResult{Kind: ResultData, Tile: tile} }
func NoDataYet() TileResult             { return TileResult{Kind: ResultNoDataYet} }
func NoData() TileResult                { return TileResult{Kind: ResultNoData} }

// GenerateFunc produces the tile at id given its NodeInfo and the
// result its parent produced. The encoder calls it exactly once per
// reachable tile.
type GenerateFunc func(id tileid.ID, info refframe.NodeInfo, parent TileResult) TileResult

// Constraints bounds a Run to a LOD range; only tiles within it are
// passed to generate.
type Constraints struct {
	LodRange tileid.LodRange
}

type settings struct {
	Workers       int
	HeightmapSize int
	Progress      *progressbar.ProgressBar
	Logger        *slog.Logger
}

// Option configures Run.
type Option func(*settings)

// WithWorkers sets the fixed worker pool size (default 4).
func WithWorkers(n int) Option { return func(s *settings) { s.Workers = n } }

// WithHeightmapSize sets the accumulator's raster side length (default
// 256, matching the tile set's default coverage/navtile grid).
func WithHeightmapSize(n int) Option { return func(s *settings) { s.HeightmapSize = n } }

// WithProgress ticks bar once per generated tile.
func WithProgress(bar *progressbar.ProgressBar) Option { return func(s *settings) { s.Progress = bar } }

func WithLogger(logger *slog.Logger) Option { return func(s *settings) { s.Logger = logger } }

func newSettings(opts []Option) settings {
	s := settings{Workers: defaultWorkers, HeightmapSize: defaultHeightmapSize, Logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

type job struct {
	info   refframe.NodeInfo
	parent TileResult
}

// ErrCancelled is returned by Run when ctx was cancelled before
// traversal completed.
var ErrCancelled = errors.New("encoder: cancelled")

var quadrants = [4]tileid.Quadrant{tileid.LL, tileid.LR, tileid.UL, tileid.UR}

// Run traverses rf from its subtree roots, restricted to
// constraints.LodRange, invoking generate once per reachable tile and
// writing every data() result into ts. Tiles are handed to a fixed-size
// worker pool through a FIFO queue, so they are dequeued in
// breadth-first order, not depth-first pre-order, and the order in which
// workers finish them is not fixed; a parent's result becomes visible
// to its children before they are invoked. Cancelling
// ctx stops new tiles from being generated and drains in-flight ones;
// Run still aggregates and flushes whatever was written before
// returning ErrCancelled.
func Run(ctx context.Context, ts *tileset.TileSet, rf *refframe.ReferenceFrame, constraints Constraints, generate GenerateFunc, opts ...Option) error {
	s := newSettings(opts)
	heights := newHeightmapAccumulator(s.HeightmapSize)

	q := newJobQueue()
	var wg sync.WaitGroup
	fail := &firstError{}

	enqueue := func(j job) {
		wg.Add(1)
		q.tail() <- j
	}

	descend := func(info refframe.NodeInfo, parent TileResult) {
		if info.ID.Lod >= constraints.LodRange.Max || info.Validity == refframe.Invalid {
			return
		}
		for _, quad := range quadrants {
			child := refframe.Child(rf, info, quad)
			if child.Validity == refframe.Invalid {
				continue
			}
			enqueue(job{info: child, parent: parent})
		}
	}

	process := func(j job) {
		defer wg.Done()
		if ctx.Err() != nil || fail.get() != nil {
			return
		}

		id := j.info.ID
		if !constraints.LodRange.Contains(id.Lod) {
			descend(j.info, j.parent)
			return
		}

		result := generate(id, j.info, j.parent)
		if s.Progress != nil {
			s.Progress.Add(1) //nolint:errcheck
		}

		switch result.Kind {
		case ResultNoData:
			return
		case ResultData:
			if err := ts.SetTile(id, result.Tile, &j.info); err != nil {
				fail.set(err)
				return
			}
			if result.Tile.NavTile != nil {
				heights.merge(id, result.Tile.NavTile.Heights)
			}
		}

		descend(j.info, result)
	}

	for i := 0; i < s.Workers; i++ {
		go func() {
			for j := range q.head() {
				process(j)
			}
		}()
	}

	for _, rootIdx := range rf.Roots {
		info, err := refframe.NodeInfoFor(rf, rf.Nodes[rootIdx].ID)
		if err != nil {
			return err
		}
		enqueue(job{info: info, parent: NoDataYet()})
	}

	wg.Wait()
	q.close()

	if err := fail.get(); err != nil {
		return err
	}

	if finishErr := finish(ts, heights, constraints.LodRange); finishErr != nil {
		return finishErr
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// finish aggregates the derived navtile pyramid bottom-up from the
// height-map accumulator and flushes ts.
func finish(ts *tileset.TileSet, heights *heightmapAccumulator, lodRange tileid.LodRange) error {
	if !lodRange.Empty() {
		for lod := lodRange.Max; lod > lodRange.Min; lod-- {
			heights.resize(lod)
		}
		if err := heights.writeInto(ts, lodRange); err != nil {
			return err
		}
	}
	return ts.Flush()
}
