package tilar

import (
	"fmt"
	"hash/crc32"
	"os"
)

// recoverIndex reconstructs a Writer's live index after open: it
// probes the trailer at the tail of the file, and falls back to a
// backward journal scan when no valid trailer is present (the file was
// never flushed, or the process crashed mid-flush). Either path also
// reports tail, the offset at which new writes should resume — any
// bytes after a torn record are silently dropped, matching §4.3's "a
// partially written tile at tail is truncated".
func recoverIndex(file *os.File) (Header, map[FileIndex]entry, uint64, error) {
	info, err := file.Stat()
	if err != nil {
		return Header{}, nil, 0, fmt.Errorf("tilar: stat: %w", err)
	}
	size := uint64(info.Size())
	if size < headerSize {
		return Header{}, nil, 0, fmt.Errorf("tilar: file too short to hold a header")
	}

	hdrBuf := make([]byte, headerSize)
	if _, err := file.ReadAt(hdrBuf, 0); err != nil {
		return Header{}, nil, 0, fmt.Errorf("tilar: reading header: %w", err)
	}
	header, err := decodeHeader(hdrBuf)
	if err != nil {
		return Header{}, nil, 0, err
	}

	if size >= headerSize+trailerSize {
		if entries, ok := probeTrailer(file, size); ok {
			index := make(map[FileIndex]entry, len(entries))
			for _, e := range entries {
				index[e.FileIndex] = e
			}
			return header, index, size, nil
		}
	}

	index, tail := replayJournal(file, size)
	return header, index, tail, nil
}

// probeTrailer reads the trailer ending exactly at trailerEnd and, if
// its magic and checksum check out, decodes the index block it points
// to.
func probeTrailer(file *os.File, trailerEnd uint64) ([]entry, bool) {
	if trailerEnd < headerSize+trailerSize {
		return nil, false
	}
	buf := make([]byte, trailerSize)
	if _, err := file.ReadAt(buf, int64(trailerEnd-trailerSize)); err != nil {
		return nil, false
	}
	tr, err := decodeTrailer(buf)
	if err != nil {
		return nil, false
	}
	if tr.IndexOffset+tr.IndexLength != trailerEnd-trailerSize {
		return nil, false
	}

	indexBuf := make([]byte, tr.IndexLength)
	if _, err := file.ReadAt(indexBuf, int64(tr.IndexOffset)); err != nil {
		return nil, false
	}
	if crc32.ChecksumIEEE(indexBuf) != tr.IndexCRC32 {
		return nil, false
	}
	entries, err := decodeIndex(indexBuf)
	if err != nil {
		return nil, false
	}
	return entries, true
}

// replayJournal walks the append region backward from the file's
// current end, one [blob][record] frame at a time. Each record
// self-describes its blob's offset and length, so walking backward
// needs no separately persisted index to anchor on: the newest record
// for a given FileIndex is seen first and wins.
//
// The walk stops at the first frame that fails to verify. If no frame
// has verified yet and no trailer ends there either, the bytes at the
// end are the torn tail of an interrupted write: the end is moved back
// one byte at a time and the walk retried until a frame or a trailer
// verifies there, and the torn bytes past it are discarded. Otherwise
// the stopping point is the boundary of an index block left by an
// earlier flush whose trailer never got superseded by a later one.
// probeTrailer is tried once at that boundary to recover those older,
// otherwise-unreachable entries; any of them not already overwritten by
// a newer record found during the backward walk are merged in. The
// returned tail is the end of the verified region, so new writes never
// overwrite a frame the walk verified.
func replayJournal(file *os.File, size uint64) (map[FileIndex]entry, uint64) {
	index := make(map[FileIndex]entry)
	end := size
	cursor := size

retry:
	for cursor > headerSize {
		if cursor < headerSize+recordSize {
			break
		}
		recStart := cursor - recordSize
		recBuf := make([]byte, recordSize)
		if _, err := file.ReadAt(recBuf, int64(recStart)); err != nil {
			break
		}
		rec := decodeRecord(recBuf)

		blobEnd := rec.Offset + rec.Length
		if rec.Offset < headerSize || blobEnd != recStart {
			break
		}

		blob := make([]byte, rec.Length)
		if rec.Length > 0 {
			if _, err := file.ReadAt(blob, int64(rec.Offset)); err != nil {
				break
			}
		}
		if crc32.ChecksumIEEE(blob) != rec.CRC {
			break
		}

		if _, seen := index[rec.FileIndex]; !seen {
			index[rec.FileIndex] = rec
		}
		cursor = rec.Offset
	}

	// Nothing verified and no trailer ends here: the last byte belongs to
	// a torn write, so drop it and try again one byte earlier.
	if len(index) == 0 && end > headerSize {
		if _, ok := probeTrailer(file, end); !ok {
			end--
			cursor = end
			goto retry
		}
	}

	if olderEntries, ok := probeTrailer(file, cursor); ok {
		for _, e := range olderEntries {
			if _, seen := index[e.FileIndex]; !seen {
				index[e.FileIndex] = e
			}
		}
		return index, end
	}

	return index, end
}
