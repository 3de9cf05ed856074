// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

const (
	attributesVersion   = 100
	attributesFlagCRC32 = 0x00000001
)

// Attributes holds the parsed (attributes) special file: per-file metadata
// stored parallel to the block table.
type Attributes struct {
	Version uint32
	Flags   uint32
	CRC32s  []uint32
}

// ReadAttributes reads and parses the (attributes) special file if present.
// Returns nil if the archive carries none.
func (a *Archive) ReadAttributes() (*Attributes, error) {
	if a.mode != "r" {
		return nil, fmt.Errorf("archive not opened for reading")
	}
	if !a.HasFile("(attributes)") {
		return nil, nil
	}

	data, err := a.ReadFile("(attributes)")
	if err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("attributes data too small: %d bytes", len(data))
	}

	attrs := &Attributes{
		Version: binary.LittleEndian.Uint32(data[0:4]),
		Flags:   binary.LittleEndian.Uint32(data[4:8]),
	}

	if attrs.Flags&attributesFlagCRC32 != 0 {
		rest := data[8:]
		attrs.CRC32s = make([]uint32, len(rest)/4)
		for i := range attrs.CRC32s {
			attrs.CRC32s[i] = binary.LittleEndian.Uint32(rest[i*4:])
		}
	}

	return attrs, nil
}

// attributesWriter accumulates per-file CRC32 values while an archive is
// being written.
type attributesWriter struct {
	crc32 []uint32
}

func newAttributesWriter(fileCount int) *attributesWriter {
	return &attributesWriter{
		crc32: make([]uint32, fileCount),
	}
}

func (a *attributesWriter) setEntry(index int, data []byte) {
	if index < 0 || index >= len(a.crc32) {
		return
	}
	if data == nil {
		// Set CRC32 to 0 (used for placeholder entries like attributes file itself)
		a.crc32[index] = 0
	} else {
		a.crc32[index] = crc32(data)
	}
}

func (a *attributesWriter) build() ([]byte, error) {
	if len(a.crc32) == 0 {
		return nil, nil
	}

	data := make([]byte, 8+len(a.crc32)*4)
	binary.LittleEndian.PutUint32(data[0:4], attributesVersion)
	binary.LittleEndian.PutUint32(data[4:8], attributesFlagCRC32)

	offset := 8
	for _, value := range a.crc32 {
		binary.LittleEndian.PutUint32(data[offset:offset+4], value)
		offset += 4
	}

	return data, nil
}
