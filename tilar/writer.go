package tilar

import (
	"cmp"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/eak1mov/vts-tiles/tileid"
)

// Writer is the single-writer handle onto an archive: Put appends a
// blob and its journal record; Flush publishes the current set of live
// entries via a fresh index block and trailer.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	header Header
	logger *slog.Logger

	tail    uint64
	persist map[FileIndex]entry
	dirty   map[FileIndex]entry
}

type writerConfig struct {
	Logger *slog.Logger
}

type WriterOption func(*writerConfig)

func WithLogger(logger *slog.Logger) WriterOption {
	return func(c *writerConfig) { c.Logger = logger }
}

func newWriterConfig(opts []WriterOption) writerConfig {
	config := writerConfig{Logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// CreateWriter creates a new archive at path with the given binary
// order and files-per-tile, and takes the single-writer exclusive lock.
func CreateWriter(path string, binaryOrder, filesPerTile uint8, opts ...WriterOption) (w *Writer, err error) {
	config := newWriterConfig(opts)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tilar: creating %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	if err = lockExclusive(file); err != nil {
		return nil, err
	}

	header := Header{UUID: uuid.New(), BinaryOrder: binaryOrder, FilesPerTile: filesPerTile}
	hdrBytes := encodeHeader(header)
	if _, err = file.Write(hdrBytes); err != nil {
		return nil, fmt.Errorf("tilar: writing header: %w", err)
	}

	return &Writer{
		file:    file,
		header:  header,
		logger:  config.Logger,
		tail:    uint64(len(hdrBytes)),
		persist: make(map[FileIndex]entry),
		dirty:   make(map[FileIndex]entry),
	}, nil
}

// OpenWriter opens an existing archive for writing, recovering its live
// index via trailer probe or journal replay, and takes the
// single-writer exclusive lock.
func OpenWriter(path string, opts ...WriterOption) (w *Writer, err error) {
	config := newWriterConfig(opts)

	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tilar: opening %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	if err = lockExclusive(file); err != nil {
		return nil, err
	}

	header, persist, tail, err := recoverIndex(file)
	if err != nil {
		return nil, err
	}

	return &Writer{
		file:    file,
		header:  header,
		logger:  config.Logger,
		tail:    tail,
		persist: persist,
		dirty:   make(map[FileIndex]entry),
	}, nil
}

func (w *Writer) Header() Header { return w.header }

// Put appends data as the blob for idx, followed by its journal
// record. The write is visible to Get immediately, but only survives a
// crash (without replay) once a subsequent Flush has run.
func (w *Writer) Put(idx FileIndex, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := entry{FileIndex: idx, Offset: w.tail, Length: uint64(len(data)), CRC: crc32.ChecksumIEEE(data)}
	if len(data) > 0 {
		if _, err := w.file.WriteAt(data, int64(e.Offset)); err != nil {
			return fmt.Errorf("tilar: writing blob for %+v: %w", idx, err)
		}
	}

	recOffset := e.Offset + e.Length
	rec := encodeRecord(e)
	if _, err := w.file.WriteAt(rec, int64(recOffset)); err != nil {
		return fmt.Errorf("tilar: writing journal record for %+v: %w", idx, err)
	}

	w.tail = recOffset + uint64(len(rec))
	w.dirty[idx] = e
	return nil
}

// Get resolves idx via the dirty set first, then the last-flushed
// index, and reads its blob.
func (w *Writer) Get(idx FileIndex) ([]byte, bool, error) {
	w.mu.Lock()
	e, ok := w.dirty[idx]
	if !ok {
		e, ok = w.persist[idx]
	}
	w.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	if e.Length == 0 {
		return []byte{}, true, nil
	}
	buf := make([]byte, e.Length)
	if _, err := w.file.ReadAt(buf, int64(e.Offset)); err != nil {
		return nil, false, fmt.Errorf("tilar: reading blob for %+v: %w", idx, err)
	}
	return buf, true, nil
}

// Size reports the byte length of idx's blob without reading it, or
// ok=false if no such slot is live.
func (w *Writer) Size(idx FileIndex) (size int64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.dirty[idx]
	if !ok {
		e, ok = w.persist[idx]
	}
	if !ok {
		return 0, false
	}
	return int64(e.Length), true
}

// Flush writes an index block covering every live entry (persisted plus
// dirty), then an updated trailer, fsyncing after each per §4.3's
// write-order (index, fsync, trailer, fsync). It is a no-op if nothing
// has changed since the last Flush.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.dirty) == 0 {
		return nil
	}

	for k, e := range w.dirty {
		w.persist[k] = e
	}

	entries := make([]entry, 0, len(w.persist))
	for _, e := range w.persist {
		entries = append(entries, e)
	}
	// Sort by Hilbert position within the archive's 2^binaryOrder x
	// 2^binaryOrder block of local slot coordinates, not raw (X,Y), so
	// entries that are spatially adjacent on the tile grid land near
	// each other in the index too.
	slices.SortFunc(entries, func(a, b entry) int {
		orderA := tileid.ContentOrder(tileid.ID{Lod: w.header.BinaryOrder, X: a.X, Y: a.Y})
		orderB := tileid.ContentOrder(tileid.ID{Lod: w.header.BinaryOrder, X: b.X, Y: b.Y})
		if c := cmp.Compare(orderA, orderB); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})

	indexBytes := encodeIndex(entries)
	indexOffset := w.tail
	if _, err := w.file.WriteAt(indexBytes, int64(indexOffset)); err != nil {
		return fmt.Errorf("tilar: writing index block: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("tilar: fsync after index block: %w", err)
	}

	tr := trailer{
		IndexOffset: indexOffset,
		IndexLength: uint64(len(indexBytes)),
		IndexCRC32:  crc32.ChecksumIEEE(indexBytes),
	}
	trailerBytes := encodeTrailer(tr)
	trailerOffset := indexOffset + uint64(len(indexBytes))
	if _, err := w.file.WriteAt(trailerBytes, int64(trailerOffset)); err != nil {
		return fmt.Errorf("tilar: writing trailer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("tilar: fsync after trailer: %w", err)
	}

	w.logger.Debug("tilar: flushed",
		"entries", len(entries),
		"index_bytes", humanize.Bytes(uint64(len(indexBytes))),
	)

	w.tail = trailerOffset + uint64(len(trailerBytes))
	w.dirty = make(map[FileIndex]entry)
	return nil
}

// Close releases the writer's lock and closes the underlying file
// without flushing; callers that want durable writes must Flush first.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	unlock(w.file) //nolint:errcheck // best-effort; Close below still happens
	err := w.file.Close()
	w.file = nil
	return err
}
