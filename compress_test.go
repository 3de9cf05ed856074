// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestValidCompressionType(t *testing.T) {
	valid := []byte{
		CompressionHuffman,
		CompressionZlib,
		CompressionPKWare,
		CompressionBzip2,
		CompressionADPCMMono,
		CompressionADPCMStereo,
		CompressionADPCMMono | CompressionHuffman,
		CompressionADPCMMono | CompressionPKWare,
		CompressionADPCMStereo | CompressionHuffman,
		CompressionADPCMStereo | CompressionPKWare,
	}
	for _, c := range valid {
		require.True(t, validCompressionType(c), "0x%02X should be valid", c)
	}

	invalid := []byte{
		0x00,
		CompressionLZMA,
		CompressionSparse,
		CompressionSparse | CompressionZlib,
		CompressionSparse | CompressionBzip2,
		CompressionHuffman | CompressionZlib,
		CompressionZlib | CompressionBzip2,
		0xFF,
	}
	for _, c := range invalid {
		require.False(t, validCompressionType(c), "0x%02X should be invalid", c)
	}
}

func TestZlibSectorRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("zlib sector content "), 100)

	sector, err := compressSector(data, CompressionZlib)
	require.NoError(t, err)
	require.Less(t, len(sector), len(data), "repetitive data should compress")
	require.Equal(t, byte(CompressionZlib), sector[0])

	decoded, err := decompressData(sector, uint32(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestCompressSectorKeepsIncompressibleRaw(t *testing.T) {
	// A short non-repeating sector does not shrink under zlib; the sector
	// is kept verbatim with no codec byte.
	data := []byte{9, 3, 7, 1, 200, 45, 12, 250}

	sector, err := compressSector(data, CompressionZlib)
	require.NoError(t, err)
	require.Equal(t, data, sector)
}

func TestHuffmanRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("abcabcabc"), 50)

	compressed := compressHuffman(data)
	decoded, err := decompressHuffman(compressed, uint32(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestHuffmanSectorRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 1000)

	sector, err := compressSector(data, CompressionHuffman)
	require.NoError(t, err)
	require.Less(t, len(sector), len(data))
	require.Equal(t, byte(CompressionHuffman), sector[0])

	decoded, err := decompressData(sector, uint32(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestHuffmanTruncatedStream(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 100)
	compressed := compressHuffman(data)

	_, err := decompressHuffman(compressed[:len(compressed)/2], uint32(len(data)))
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestDecompressUnsupportedTypes(t *testing.T) {
	for _, c := range []byte{CompressionLZMA, CompressionSparse, CompressionSparse | CompressionZlib, 0x55} {
		_, err := decompressData([]byte{c, 1, 2, 3}, 16)
		require.ErrorIs(t, err, ErrUnsupportedCompression, "type 0x%02X", c)
	}
}

func TestDecompressEmptySector(t *testing.T) {
	_, err := decompressData(nil, 16)
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestImplodedEscapeRaw(t *testing.T) {
	payload := []byte("stored without compression")

	sector := []byte{0, 0, 0}
	sector = binary.LittleEndian.AppendUint32(sector, uint32(7+len(payload)))
	sector = append(sector, payload...)

	decoded, err := decompressImploded(sector, uint32(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestImplodedEscapeNestedZlib(t *testing.T) {
	payload := bytes.Repeat([]byte("nested zlib payload "), 64)
	compressed, err := compressZlib(payload)
	require.NoError(t, err)

	sector := []byte{0, 0, 0}
	sector = binary.LittleEndian.AppendUint32(sector, uint32(7+len(compressed)))
	sector = append(sector, compressed...)

	decoded, err := decompressImploded(sector, uint32(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestImplodedEscapeLengthMismatch(t *testing.T) {
	sector := []byte{0, 0, 0}
	sector = binary.LittleEndian.AppendUint32(sector, 999)
	sector = append(sector, []byte("body")...)

	_, err := decompressImploded(sector, 4)
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestPKWareGarbage(t *testing.T) {
	_, err := decompressPKWare([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}, 64)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorruptData))
}

func TestBzip2Garbage(t *testing.T) {
	_, err := decompressData([]byte{CompressionBzip2, 0xDE, 0xAD, 0xBE, 0xEF}, 64)
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestADPCMDecodeRepeatOp(t *testing.T) {
	// Header (reserved, bit shift), one initial sample, then a repeat op:
	// the previous sample is emitted again.
	data := []byte{0, 0, 0x10, 0x00, 0x80}

	decoded, err := decompressADPCM(data, 4, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{0x10, 0x00, 0x10, 0x00}, decoded)
}

func TestADPCMDecodeMagnitude(t *testing.T) {
	// Initial sample 0, then one encoded sample with magnitude bit 0 set:
	// diff = step + step with the initial step size 494.
	data := []byte{0, 0, 0x00, 0x00, 0x01}

	decoded, err := decompressADPCM(data, 4, 1)
	require.NoError(t, err)

	sample := int16(binary.LittleEndian.Uint16(decoded[2:4]))
	require.Equal(t, int16(988), sample)
}

func TestADPCMStereoInitialSamples(t *testing.T) {
	data := []byte{0, 0, 0x01, 0x00, 0x02, 0x00}

	decoded, err := decompressADPCM(data, 4, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x00, 0x02, 0x00}, decoded)
}

func TestADPCMShortHeader(t *testing.T) {
	_, err := decompressADPCM([]byte{0}, 4, 1)
	require.ErrorIs(t, err, ErrCorruptData)
}
