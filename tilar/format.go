// Package tilar implements the content-addressed, crash-safe archive
// format: an append-only blob region, a per-write journal record, and
// an index block pointed to by an atomically updated trailer.
package tilar

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

const (
	headerMagic  = "TILAR\x00"
	trailerMagic = "TLTR\x00"
	formatVersion = uint8(1)

	headerSize  = 6 + 1 + 16 + 1 + 1 + 4 // magic, version, uuid, binaryOrder, filesPerTile, crc32
	recordSize  = 4 + 4 + 1 + 8 + 8 + 4  // x, y, type, offset, length, crc32
	trailerSize = 5 + 8 + 8 + 4          // magic, indexOffset, indexLength, indexCrc32
)

// FileIndex addresses one of the 2^B x 2^B x F slots within an archive:
// local (x, y) coordinates modulo the archive's binary order, plus a
// file-type token (mesh/atlas/navtile index, 0..filesPerTile-1).
type FileIndex struct {
	X, Y uint32
	Type uint8
}

// Header is the fixed-size record written once at archive creation.
type Header struct {
	UUID         uuid.UUID
	BinaryOrder  uint8
	FilesPerTile uint8
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:6], headerMagic)
	buf[6] = formatVersion
	copy(buf[7:23], h.UUID[:])
	buf[23] = h.BinaryOrder
	buf[24] = h.FilesPerTile
	crc := crc32.ChecksumIEEE(buf[:25])
	binary.LittleEndian.PutUint32(buf[25:29], crc)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) != headerSize {
		return Header{}, fmt.Errorf("tilar: header is %d bytes, want %d", len(buf), headerSize)
	}
	if string(buf[0:6]) != headerMagic {
		return Header{}, fmt.Errorf("tilar: bad header magic")
	}
	if buf[6] != formatVersion {
		return Header{}, fmt.Errorf("tilar: unsupported version %d", buf[6])
	}
	crc := binary.LittleEndian.Uint32(buf[25:29])
	if crc32.ChecksumIEEE(buf[:25]) != crc {
		return Header{}, fmt.Errorf("tilar: header crc mismatch")
	}
	var h Header
	copy(h.UUID[:], buf[7:23])
	h.BinaryOrder = buf[23]
	h.FilesPerTile = buf[24]
	return h, nil
}

// entry is a fully resolved journal/index record: the slot it
// describes, where its blob lives, and the blob's checksum.
type entry struct {
	FileIndex
	Offset uint64
	Length uint64
	CRC    uint32
}

func encodeRecord(e entry) []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], e.X)
	binary.LittleEndian.PutUint32(buf[4:8], e.Y)
	buf[8] = e.Type
	binary.LittleEndian.PutUint64(buf[9:17], e.Offset)
	binary.LittleEndian.PutUint64(buf[17:25], e.Length)
	binary.LittleEndian.PutUint32(buf[25:29], e.CRC)
	return buf
}

func decodeRecord(buf []byte) entry {
	return entry{
		FileIndex: FileIndex{
			X:    binary.LittleEndian.Uint32(buf[0:4]),
			Y:    binary.LittleEndian.Uint32(buf[4:8]),
			Type: buf[8],
		},
		Offset: binary.LittleEndian.Uint64(buf[9:17]),
		Length: binary.LittleEndian.Uint64(buf[17:25]),
		CRC:    binary.LittleEndian.Uint32(buf[25:29]),
	}
}

// encodeIndex serializes a set of entries as an index block: a
// uint32 count followed by that many fixed-size records.
func encodeIndex(entries []entry) []byte {
	buf := make([]byte, 4+len(entries)*recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(entries)))
	for i, e := range entries {
		copy(buf[4+i*recordSize:4+(i+1)*recordSize], encodeRecord(e))
	}
	return buf
}

func decodeIndex(buf []byte) ([]entry, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("tilar: index block truncated")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	want := 4 + int(count)*recordSize
	if len(buf) != want {
		return nil, fmt.Errorf("tilar: index block is %d bytes, want %d for %d entries", len(buf), want, count)
	}
	entries := make([]entry, count)
	for i := range entries {
		off := 4 + i*recordSize
		entries[i] = decodeRecord(buf[off : off+recordSize])
	}
	return entries, nil
}

type trailer struct {
	IndexOffset uint64
	IndexLength uint64
	IndexCRC32  uint32
}

func encodeTrailer(t trailer) []byte {
	buf := make([]byte, trailerSize)
	copy(buf[0:5], trailerMagic)
	binary.LittleEndian.PutUint64(buf[5:13], t.IndexOffset)
	binary.LittleEndian.PutUint64(buf[13:21], t.IndexLength)
	binary.LittleEndian.PutUint32(buf[21:25], t.IndexCRC32)
	return buf
}

func decodeTrailer(buf []byte) (trailer, error) {
	if len(buf) != trailerSize {
		return trailer{}, fmt.Errorf("tilar: trailer is %d bytes, want %d", len(buf), trailerSize)
	}
	if string(buf[0:5]) != trailerMagic {
		return trailer{}, fmt.Errorf("tilar: bad trailer magic")
	}
	return trailer{
		IndexOffset: binary.LittleEndian.Uint64(buf[5:13]),
		IndexLength: binary.LittleEndian.Uint64(buf[13:21]),
		IndexCRC32:  binary.LittleEndian.Uint32(buf[21:25]),
	}, nil
}

// ArchiveCoord locates the archive file that owns a tile, given the
// binary order B: the super-tile coordinate is (x>>B, y>>B) per lod.
func ArchiveCoord(lod uint8, x, y uint32, binaryOrder uint8) (archiveLod uint8, archiveX, archiveY uint32) {
	return lod, x >> binaryOrder, y >> binaryOrder
}

// SlotIndex computes the FileIndex of (x, y, fileType) within its
// owning archive at the given binary order.
func SlotIndex(x, y uint32, binaryOrder uint8, fileType uint8) FileIndex {
	mask := uint32(1)<<binaryOrder - 1
	return FileIndex{X: x & mask, Y: y & mask, Type: fileType}
}
