package tilar

import (
	"fmt"
	"io"
	"iter"
	"os"
)

// Reader is a shared-lock, read-only handle onto a flushed archive.
// Any number of Readers may be open alongside each other, but not
// alongside a Writer.
type Reader struct {
	file    *os.File
	header  Header
	entries map[FileIndex]entry
}

// OpenReader opens path for reading, taking a shared lock, and loads
// its index (via trailer probe or journal replay, same as OpenWriter).
func OpenReader(path string) (r *Reader, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tilar: opening %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	if err = lockShared(file); err != nil {
		return nil, err
	}

	header, entries, _, err := recoverIndex(file)
	if err != nil {
		return nil, err
	}

	return &Reader{file: file, header: header, entries: entries}, nil
}

func (r *Reader) Header() Header { return r.header }

func (r *Reader) Close() error {
	unlock(r.file) //nolint:errcheck // best-effort; Close below still happens
	return r.file.Close()
}

// Get returns the blob stored at idx, or ok=false if no such slot is
// live in this archive.
func (r *Reader) Get(idx FileIndex) ([]byte, bool, error) {
	e, ok := r.entries[idx]
	if !ok {
		return nil, false, nil
	}
	if e.Length == 0 {
		return []byte{}, true, nil
	}
	buf := make([]byte, e.Length)
	if _, err := r.file.ReadAt(buf, int64(e.Offset)); err != nil {
		return nil, false, fmt.Errorf("tilar: reading blob for %+v: %w", idx, err)
	}
	return buf, true, nil
}

// Stream returns a bounded io.Reader over idx's blob without copying it
// into memory up front, or ok=false if no such slot is live.
func (r *Reader) Stream(idx FileIndex) (stream io.Reader, ok bool) {
	e, ok := r.entries[idx]
	if !ok {
		return nil, false
	}
	return io.NewSectionReader(r.file, int64(e.Offset), int64(e.Length)), true
}

// Size reports the byte length of idx's blob without reading it, or
// ok=false if no such slot is live.
func (r *Reader) Size(idx FileIndex) (size int64, ok bool) {
	e, ok := r.entries[idx]
	if !ok {
		return 0, false
	}
	return int64(e.Length), true
}

var errVisitCancelled = fmt.Errorf("tilar: visit cancelled")

// VisitEntries calls visitor once per live FileIndex in this archive.
// A non-nil error from visitor stops the walk and is returned.
func (r *Reader) VisitEntries(visitor func(FileIndex) error) error {
	for idx := range r.entries {
		if err := visitor(idx); err != nil {
			return err
		}
	}
	return nil
}

// Entries yields every live FileIndex in this archive. It panics if the
// visitor callback driving it fails for a reason other than the
// consumer stopping iteration early, mirroring the corpus's
// iter.Seq2-over-Visitor convention.
func (r *Reader) Entries() iter.Seq[FileIndex] {
	return func(yield func(FileIndex) bool) {
		err := r.VisitEntries(func(idx FileIndex) error {
			if !yield(idx) {
				return errVisitCancelled
			}
			return nil
		})
		if err != nil && err != errVisitCancelled {
			panic(err)
		}
	}
}
