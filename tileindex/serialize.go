package tileindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eak1mov/vts-tiles/qtree"
	"github.com/eak1mov/vts-tiles/tileid"
	"github.com/klauspost/compress/zstd"
)

const (
	magic   = "TI"
	version = uint16(1)
)

// Marshal serializes ti as a small header (magic, version, min/max lod)
// followed by one size-prefixed, zstd-compressed QTree blob per lod.
func Marshal(ti *TileIndex) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, version) //nolint:errcheck // bytes.Buffer never errors

	if ti.lodRange.Empty() {
		binary.Write(&buf, binary.LittleEndian, uint8(1))
		binary.Write(&buf, binary.LittleEndian, uint8(0))
		binary.Write(&buf, binary.LittleEndian, uint16(0))
		return buf.Bytes(), nil
	}

	binary.Write(&buf, binary.LittleEndian, ti.lodRange.Min)
	binary.Write(&buf, binary.LittleEndian, ti.lodRange.Max)
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // reserved

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("tileindex: creating zstd encoder: %w", err)
	}
	defer enc.Close()

	for _, level := range ti.levels {
		raw := qtree.Marshal(level)
		compressed := enc.EncodeAll(raw, nil)
		binary.Write(&buf, binary.LittleEndian, uint32(len(compressed)))
		buf.Write(compressed)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a blob produced by Marshal.
func Unmarshal(data []byte) (*TileIndex, error) {
	r := bytes.NewReader(data)

	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil || string(magicBuf) != magic {
		return nil, fmt.Errorf("tileindex: bad magic")
	}

	var ver uint16
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return nil, fmt.Errorf("tileindex: reading version: %w", err)
	}
	if ver != version {
		return nil, fmt.Errorf("tileindex: unsupported version %d", ver)
	}

	var minLod, maxLod uint8
	var reserved uint16
	if err := binary.Read(r, binary.LittleEndian, &minLod); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &maxLod); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &reserved); err != nil {
		return nil, err
	}

	if minLod > maxLod {
		return New(tileid.EmptyLodRange()), nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("tileindex: creating zstd decoder: %w", err)
	}
	defer dec.Close()

	ti := New(tileid.NewLodRange(minLod, maxLod))
	for lod := minLod; ; lod++ {
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("tileindex: reading blob size for lod %d: %w", lod, err)
		}
		compressed := make([]byte, size)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, fmt.Errorf("tileindex: reading blob for lod %d: %w", lod, err)
		}
		raw, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("tileindex: decompressing blob for lod %d: %w", lod, err)
		}
		level, err := qtree.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("tileindex: parsing blob for lod %d: %w", lod, err)
		}
		ti.levels[lod-minLod] = level
		if lod == maxLod {
			break
		}
	}
	return ti, nil
}
