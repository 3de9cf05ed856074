// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"compress/bzip2"
	"compress/zlib"
	"encoding/binary"
	"io"

	"github.com/JoshVarga/blast"
	"github.com/pkg/errors"
)

// validCompressionType reports whether a sector's leading codec byte is a
// combination this package can decode. The set is closed: audio codecs may
// stack with Huffman or PKWare, everything else stands alone.
func validCompressionType(compressionType byte) bool {
	switch compressionType {
	case CompressionHuffman,
		CompressionZlib,
		CompressionPKWare,
		CompressionBzip2,
		CompressionADPCMMono,
		CompressionADPCMStereo,
		CompressionADPCMMono | CompressionHuffman,
		CompressionADPCMMono | CompressionPKWare,
		CompressionADPCMStereo | CompressionHuffman,
		CompressionADPCMStereo | CompressionPKWare:
		return true
	}
	return false
}

// decompressData decompresses a multi-codec sector. The first byte selects
// the pipeline; stacked codecs are undone outermost first (the reverse of
// the order they were applied).
func decompressData(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrCorruptData, "empty compressed sector")
	}

	compressionType := data[0]
	payload := data[1:]

	switch compressionType {
	case CompressionZlib:
		return decompressZlib(payload, uncompressedSize)

	case CompressionPKWare:
		return decompressPKWare(payload, uncompressedSize)

	case CompressionBzip2:
		return decompressBzip2(payload, uncompressedSize)

	case CompressionHuffman:
		return decompressHuffman(payload, uncompressedSize)

	case CompressionADPCMMono:
		return decompressADPCM(payload, uncompressedSize, 1)

	case CompressionADPCMStereo:
		return decompressADPCM(payload, uncompressedSize, 2)

	case CompressionADPCMMono | CompressionHuffman:
		return decompressHuffmanADPCM(payload, uncompressedSize, 1)

	case CompressionADPCMStereo | CompressionHuffman:
		return decompressHuffmanADPCM(payload, uncompressedSize, 2)

	case CompressionADPCMMono | CompressionPKWare:
		return decompressPKWareADPCM(payload, uncompressedSize, 1)

	case CompressionADPCMStereo | CompressionPKWare:
		return decompressPKWareADPCM(payload, uncompressedSize, 2)

	default:
		// LZMA, sparse, sparse+zlib, sparse+bzip2, and anything unknown.
		return nil, errors.Wrapf(ErrUnsupportedCompression, "compression type 0x%02X", compressionType)
	}
}

// decompressHuffmanADPCM undoes Huffman, then ADPCM.
func decompressHuffmanADPCM(data []byte, uncompressedSize uint32, channels int) ([]byte, error) {
	inner, err := decompressHuffman(data, 0)
	if err != nil {
		return nil, err
	}
	return decompressADPCM(inner, uncompressedSize, channels)
}

// decompressPKWareADPCM undoes PKWare implode, then ADPCM.
func decompressPKWareADPCM(data []byte, uncompressedSize uint32, channels int) ([]byte, error) {
	inner, err := decompressPKWare(data, 0)
	if err != nil {
		return nil, err
	}
	return decompressADPCM(inner, uncompressedSize, channels)
}

// decompressImploded decompresses a whole-file PKWare sector (FileImplode).
// No codec byte is present. A three-zero-byte prefix marks an escape: a
// 32-bit length of the full stored sector follows, then either raw bytes or
// a nested zlib stream.
func decompressImploded(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) >= 7 && data[0] == 0 && data[1] == 0 && data[2] == 0 {
		declared := binary.LittleEndian.Uint32(data[3:7])
		if declared != uint32(len(data)) {
			return nil, errors.Wrapf(ErrCorruptData,
				"implode length header %d disagrees with sector length %d", declared, len(data))
		}
		rest := data[7:]
		if uint32(len(rest)) == uncompressedSize {
			return rest, nil
		}
		return decompressZlib(rest, uncompressedSize)
	}

	return decompressPKWare(data, uncompressedSize)
}

// decompressZlib decompresses zlib-compressed data
func decompressZlib(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrCorruptData, err.Error())
	}
	defer r.Close()

	result := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, result)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(ErrCorruptData, err.Error())
	}

	return result[:n], nil
}

// decompressBzip2 decompresses bzip2-compressed data
func decompressBzip2(data []byte, uncompressedSize uint32) ([]byte, error) {
	r := bzip2.NewReader(bytes.NewReader(data))

	result := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, result)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(ErrCorruptData, err.Error())
	}

	return result[:n], nil
}

// decompressPKWare decompresses PKWare DCL ("implode") data. A zero
// uncompressedSize means the output length is not known in advance, as in
// the inner stage of a stacked audio pipeline.
func decompressPKWare(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := blast.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrCorruptData, err.Error())
	}
	defer r.Close()

	if uncompressedSize == 0 {
		result, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(ErrCorruptData, err.Error())
		}
		return result, nil
	}

	result := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, result)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(ErrCorruptData, err.Error())
	}

	return result[:n], nil
}

// compressZlib compresses data with zlib at best compression. The codec
// byte is not included; callers prepend it only when compression shrank
// the sector.
func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
