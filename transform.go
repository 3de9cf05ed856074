// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Transform re-emits the file's logical content under a different storage
// configuration: new flags, compression codec, sector size, and - when the
// target uses position-adjusted keys - a new payload position. The result
// is the complete stored payload, ready to be written into an archive or
// reopened as a standalone stream with the same base encryption seed.
func (s *Stream) Transform(targetFlags uint32, codec byte, targetPosition int64, targetBlockSize uint32) ([]byte, error) {
	if !s.canRead {
		return nil, errors.Wrap(ErrNotSupported, "stream failed validation")
	}
	if targetBlockSize == 0 {
		targetBlockSize = s.blockSize
	}

	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, s.entry.FileSize)
	if _, err := io.ReadFull(s, data); err != nil && err != io.EOF {
		return nil, err
	}

	baseSeed, _ := s.entry.BaseEncryptionSeed()
	return encodeFileData(data, targetFlags, codec, baseSeed, targetPosition, targetBlockSize)
}

// encodeFileData builds the stored payload for a file's logical content:
// compression first, then the sector offset table when one is required,
// then per-sector encryption. The archive writer shares this encoder.
func encodeFileData(data []byte, flags uint32, codec byte, baseSeed uint32, position int64, blockSize uint32) ([]byte, error) {
	if flags&FileImplode != 0 {
		return nil, errors.Wrap(ErrUnsupportedCompression, "cannot produce imploded files")
	}

	fileSize := uint32(len(data))
	var out []byte

	// positions marks the sector boundaries of the stored payload,
	// relative to its start. hasTable records whether positions[0] is a
	// real offset table occupying the payload head.
	var positions []uint32
	hasTable := false

	switch {
	case flags&FileCompress == 0:
		out = append([]byte(nil), data...)
		if flags&FileSingleUnit != 0 || fileSize == 0 {
			positions = []uint32{0, fileSize}
		} else {
			// No offset table exists for plain sector-split files; the
			// boundaries fall on every sector size.
			for off := uint32(0); off < fileSize; off += blockSize {
				positions = append(positions, off)
			}
			positions = append(positions, fileSize)
		}

	case flags&FileSingleUnit != 0:
		sector, err := compressSector(data, codec)
		if err != nil {
			return nil, err
		}
		out = sector
		positions = []uint32{0, uint32(len(out))}

	default:
		blocks := int((fileSize + blockSize - 1) / blockSize)
		tableLen := blocks + 1
		if flags&FileSectorCRC != 0 {
			tableLen++
		}
		header := uint32(tableLen * 4)

		out = make([]byte, header)
		positions = make([]uint32, 1, tableLen)
		positions[0] = header

		var checksums []uint32
		for i := 0; i < blocks; i++ {
			start := uint32(i) * blockSize
			end := start + blockSize
			if end > fileSize {
				end = fileSize
			}

			sector, err := compressSector(data[start:end], codec)
			if err != nil {
				return nil, err
			}
			out = append(out, sector...)
			positions = append(positions, uint32(len(out)))
			if flags&FileSectorCRC != 0 {
				checksums = append(checksums, adler32(sector))
			}
		}

		if flags&FileSectorCRC != 0 {
			for _, sum := range checksums {
				out = binary.LittleEndian.AppendUint32(out, sum)
			}
			positions = append(positions, uint32(len(out)))
		}

		for i, off := range positions {
			binary.LittleEndian.PutUint32(out[i*4:], off)
		}
		hasTable = true
	}

	if flags&FileEncrypted != 0 && len(positions) > 1 {
		if baseSeed == 0 {
			return nil, errors.Wrap(ErrUnknownEncryptionSeed, "cannot encrypt without a seed")
		}
		seed := baseSeed
		if flags&FileFixKey != 0 {
			seed = adjustKey(baseSeed, position, fileSize)
		}

		if hasTable {
			encryptBytes(out[:positions[0]], seed-1)
		}
		for i := 0; i+1 < len(positions); i++ {
			encryptBytes(out[positions[i]:positions[i+1]], seed+uint32(i))
		}
	}

	return out, nil
}

// compressSector compresses one sector with the given codec, prefixing the
// codec byte. When compression does not shrink the sector it is kept
// verbatim, without a codec byte, which readers detect by size.
func compressSector(data []byte, codec byte) ([]byte, error) {
	var compressed []byte
	switch codec {
	case CompressionZlib:
		var err error
		compressed, err = compressZlib(data)
		if err != nil {
			return nil, err
		}
	case CompressionHuffman:
		compressed = compressHuffman(data)
	default:
		return nil, errors.Wrapf(ErrUnsupportedCompression, "compress with 0x%02X", codec)
	}

	if len(compressed)+1 >= len(data) {
		return append([]byte(nil), data...), nil
	}
	return append([]byte{codec}, compressed...), nil
}
