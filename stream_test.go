// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// patternData builds compressible content whose bytes differ across
// sectors, so misdirected sector reads are caught.
func patternData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i / 64)
	}
	return data
}

// encodePayload stores data under the given flags and returns the payload
// plus a matching entry with the seed installed.
func encodePayload(t *testing.T, data []byte, flags uint32, seed uint32, blockSize uint32) ([]byte, *FileEntry) {
	t.Helper()

	entry := NewFileEntry(0, uint32(len(data)), 0, flags)
	if seed != 0 {
		entry.SetEncryptionSeed(seed)
	}

	payload, err := encodeFileData(data, flags, CompressionZlib, seed, 0, blockSize)
	require.NoError(t, err)
	entry.CompressedSize = uint32(len(payload))

	return payload, entry
}

func TestSingleUnitRawRead(t *testing.T) {
	data := patternData(100)
	payload, entry := encodePayload(t, data, FileSingleUnit, 0, DefaultBlockSize)

	s := OpenStream(bytes.NewReader(payload), entry, DefaultBlockSize, true)
	require.True(t, s.CanRead())

	length, err := s.Length()
	require.NoError(t, err)
	require.Equal(t, int64(100), length)

	buf := make([]byte, 200)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 100, n)
	require.Equal(t, data, buf[:100])

	_, err = s.Read(buf)
	require.ErrorIs(t, err, io.EOF)

	_, err = s.Seek(50, io.SeekStart)
	require.NoError(t, err)
	n, err = s.Read(make([]byte, 1000))
	require.NoError(t, err)
	require.Equal(t, 50, n)
}

func TestMultiBlockCompressedRead(t *testing.T) {
	data := patternData(10000)
	payload, entry := encodePayload(t, data, FileCompress, 0, 4096)

	s := OpenStream(bytes.NewReader(payload), entry, 4096, true)
	require.True(t, s.CanRead())
	require.Len(t, s.blockPositions, 4)
	require.Equal(t, uint32(16), s.blockPositions[0])

	// One call crosses every sector boundary.
	buf := make([]byte, 10000)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 10000, n)
	require.Equal(t, data, buf)

	// Seeking into sector 1 loads only sector 1.
	_, err = s.Seek(4096, io.SeekStart)
	require.NoError(t, err)
	b, err := s.ReadByte()
	require.NoError(t, err)
	require.Equal(t, data[4096], b)
	require.Equal(t, 1, s.curBlock)
}

func TestSeedRecovery(t *testing.T) {
	data := patternData(10000)
	seed := hashString("war3map.j", hashTypeFileKey)
	payload, _ := encodePayload(t, data, FileCompress|FileEncrypted, seed, 4096)

	// Fresh entry with no seed: the open path must recover it from the
	// sector offset table.
	entry := NewFileEntry(0, uint32(len(data)), uint32(len(payload)), FileCompress|FileEncrypted)
	s := OpenStream(bytes.NewReader(payload), entry, 4096, true)
	require.True(t, s.CanRead())

	recovered, known := entry.EncryptionSeed()
	require.True(t, known)
	require.Equal(t, seed, recovered)

	base, known := entry.BaseEncryptionSeed()
	require.True(t, known)
	require.Equal(t, seed, base)

	got := make([]byte, len(data))
	_, err := io.ReadFull(s, got)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestSeedRecoveryWithFixKey(t *testing.T) {
	data := patternData(9000)
	flags := uint32(FileCompress | FileEncrypted | FileFixKey)
	base := hashString("units.dat", hashTypeFileKey)

	entry := NewFileEntry(0x4400, uint32(len(data)), 0, flags)
	entry.SetEncryptionSeed(base)

	payload, err := encodeFileData(data, flags, CompressionZlib, base, 0x4400, 4096)
	require.NoError(t, err)
	entry.CompressedSize = uint32(len(payload))

	// Lay the payload at its claimed position so the entry's offsets hold.
	backing := make([]byte, 0x4400+len(payload))
	copy(backing[0x4400:], payload)

	fresh := NewFileEntry(0x4400, uint32(len(data)), uint32(len(payload)), flags)
	s := OpenStream(bytes.NewReader(backing), fresh, 4096, true)
	require.True(t, s.CanRead())

	gotBase, known := fresh.BaseEncryptionSeed()
	require.True(t, known)
	require.Equal(t, base, gotBase)

	got := make([]byte, len(data))
	_, err = io.ReadFull(s, got)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestShortEncryptedFileReadable(t *testing.T) {
	// Files shorter than one cipher word never need a seed.
	payload := []byte{7, 8, 9}
	entry := NewFileEntry(0, 3, 3, FileEncrypted)

	s := OpenStream(bytes.NewReader(payload), entry, DefaultBlockSize, true)
	require.True(t, s.CanRead())

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestUnknownCodecUnreadable(t *testing.T) {
	// A single-unit compressed payload whose codec byte is LZMA.
	payload := append([]byte{CompressionLZMA}, patternData(50)...)
	entry := NewFileEntry(0, 200, uint32(len(payload)), FileCompress|FileSingleUnit)

	s := OpenStream(bytes.NewReader(payload), entry, DefaultBlockSize, true)
	require.False(t, s.CanRead())
	require.False(t, s.CanSeek())

	_, err := s.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrNotSupported)
	_, err = s.Seek(0, io.SeekStart)
	require.ErrorIs(t, err, ErrNotSupported)
	_, err = s.Length()
	require.ErrorIs(t, err, ErrNotSupported)

	// The stored payload remains reachable for pass-through re-packing.
	var raw bytes.Buffer
	require.NoError(t, s.CopyRawTo(&raw))
	require.Equal(t, payload, raw.Bytes())
}

func TestSingleUnitEncryptedUnknownSeed(t *testing.T) {
	data := patternData(600)
	seed := hashString("hidden.txt", hashTypeFileKey)
	flags := uint32(FileCompress | FileSingleUnit | FileEncrypted)
	payload, _ := encodePayload(t, data, flags, seed, DefaultBlockSize)

	// Without a sector offset table there is nothing to recover the seed
	// from: the stream opens but reads report the missing key.
	entry := NewFileEntry(0, uint32(len(data)), uint32(len(payload)), flags)
	s := OpenStream(bytes.NewReader(payload), entry, DefaultBlockSize, true)
	require.True(t, s.CanRead())

	_, err := s.Read(make([]byte, 16))
	require.ErrorIs(t, err, ErrUnknownEncryptionSeed)
}

func TestMultiBlockUncompressedEncrypted(t *testing.T) {
	data := patternData(10000)
	seed := hashString("terrain.w3e", hashTypeFileKey)
	payload, entry := encodePayload(t, data, FileEncrypted, seed, 4096)
	require.Len(t, payload, len(data))

	s := OpenStream(bytes.NewReader(payload), entry, 4096, true)
	require.True(t, s.CanRead())

	got := make([]byte, len(data))
	_, err := io.ReadFull(s, got)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestMultiBlockUncompressedEncryptedUnknownSeed(t *testing.T) {
	data := patternData(8192)
	seed := hashString("terrain.w3e", hashTypeFileKey)
	payload, _ := encodePayload(t, data, FileEncrypted, seed, 4096)

	entry := NewFileEntry(0, uint32(len(data)), uint32(len(payload)), FileEncrypted)
	s := OpenStream(bytes.NewReader(payload), entry, 4096, true)
	require.False(t, s.CanRead())
}

func TestBlockBoundaryTransparency(t *testing.T) {
	data := patternData(10000)
	payload, entry := encodePayload(t, data, FileCompress, 0, 4096)
	s := OpenStream(bytes.NewReader(payload), entry, 4096, true)

	_, err := s.Seek(4090, io.SeekStart)
	require.NoError(t, err)
	spanning := make([]byte, 12)
	_, err = io.ReadFull(s, spanning)
	require.NoError(t, err)
	require.Equal(t, data[4090:4102], spanning)

	_, err = s.Seek(4090, io.SeekStart)
	require.NoError(t, err)
	single := make([]byte, 12)
	for i := range single {
		single[i], err = s.ReadByte()
		require.NoError(t, err)
	}
	require.Equal(t, spanning, single)
}

func TestIdempotentValidation(t *testing.T) {
	data := patternData(10000)
	seed := hashString("war3map.wts", hashTypeFileKey)
	payload, _ := encodePayload(t, data, FileCompress|FileEncrypted, seed, 4096)

	read := func() (bool, int64, []byte) {
		entry := NewFileEntry(0, uint32(len(data)), uint32(len(payload)), FileCompress|FileEncrypted)
		s := OpenStream(bytes.NewReader(payload), entry, 4096, true)
		if !s.CanRead() {
			return false, 0, nil
		}
		length, err := s.Length()
		require.NoError(t, err)
		content, err := io.ReadAll(s)
		require.NoError(t, err)
		return true, length, content
	}

	ok1, len1, content1 := read()
	ok2, len2, content2 := read()
	require.Equal(t, ok1, ok2)
	require.Equal(t, len1, len2)
	require.Equal(t, content1, content2)
}

func TestSeekSemantics(t *testing.T) {
	data := patternData(1000)
	payload, entry := encodePayload(t, data, FileSingleUnit, 0, DefaultBlockSize)
	s := OpenStream(bytes.NewReader(payload), entry, DefaultBlockSize, true)

	pos, err := s.Seek(100, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(100), pos)
	require.Equal(t, int64(100), s.Position())

	b, err := s.ReadByte()
	require.NoError(t, err)
	require.Equal(t, data[100], b)
	require.Equal(t, int64(101), s.Position())

	pos, err = s.Seek(-1, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(999), pos)

	pos, err = s.Seek(1, io.SeekCurrent)
	require.NoError(t, err)
	require.Equal(t, int64(1000), pos)

	_, err = s.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, ErrNotSupported)
	_, err = s.Seek(1001, io.SeekStart)
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestStreamIsReadOnly(t *testing.T) {
	data := patternData(64)
	payload, entry := encodePayload(t, data, FileSingleUnit, 0, DefaultBlockSize)
	s := OpenStream(bytes.NewReader(payload), entry, DefaultBlockSize, true)

	require.False(t, s.CanWrite())
	_, err := s.Write([]byte{1})
	require.ErrorIs(t, err, ErrNotSupported)
	require.ErrorIs(t, s.SetLength(10), ErrNotSupported)
	require.NoError(t, s.Flush())
}

func TestSectorChecksums(t *testing.T) {
	data := patternData(10000)
	seed := hashString("checked.bin", hashTypeFileKey)
	flags := uint32(FileCompress | FileSectorCRC | FileEncrypted)
	payload, entry := encodePayload(t, data, flags, seed, 4096)

	s := OpenStream(bytes.NewReader(payload), entry, 4096, true)
	require.True(t, s.CanRead())
	require.Len(t, s.blockPositions, 5)

	sums, err := s.SectorChecksums()
	require.NoError(t, err)
	require.Len(t, sums, 3)
	require.NoError(t, s.VerifyChecksums())

	got := make([]byte, len(data))
	_, err = io.ReadFull(s, got)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

type closeRecorder struct {
	*bytes.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestStreamOwnership(t *testing.T) {
	data := patternData(64)
	payload, entry := encodePayload(t, data, FileSingleUnit, 0, DefaultBlockSize)

	owned := &closeRecorder{Reader: bytes.NewReader(payload)}
	s := OpenStream(owned, entry, DefaultBlockSize, false)
	require.NoError(t, s.Close())
	require.True(t, owned.closed)

	borrowed := &closeRecorder{Reader: bytes.NewReader(payload)}
	s = OpenStream(borrowed, entry, DefaultBlockSize, true)
	require.NoError(t, s.Close())
	require.False(t, borrowed.closed)
}

func TestSharedStreamLocking(t *testing.T) {
	data := patternData(10000)
	payload, entry := encodePayload(t, data, FileCompress, 0, 4096)

	src := bytes.NewReader(payload)
	var mu sync.Mutex
	a := newStream(src, &mu, entry, 4096)

	entry2 := NewFileEntry(0, uint32(len(data)), uint32(len(payload)), FileCompress)
	b := newStream(src, &mu, entry2, 4096)

	var wg sync.WaitGroup
	results := make([][]byte, 2)
	for i, s := range []*Stream{a, b} {
		wg.Add(1)
		go func(i int, s *Stream) {
			defer wg.Done()
			got := make([]byte, len(data))
			if _, err := io.ReadFull(s, got); err != nil {
				return
			}
			results[i] = got
		}(i, s)
	}
	wg.Wait()

	require.Equal(t, data, results[0])
	require.Equal(t, data, results[1])
}

func TestEmptyFile(t *testing.T) {
	payload, entry := encodePayload(t, nil, FileSingleUnit, 0, DefaultBlockSize)
	require.Empty(t, payload)

	s := OpenStream(bytes.NewReader(payload), entry, DefaultBlockSize, true)
	require.True(t, s.CanRead())

	length, err := s.Length()
	require.NoError(t, err)
	require.Zero(t, length)

	_, err = s.Read(make([]byte, 8))
	require.ErrorIs(t, err, io.EOF)
}

func BenchmarkStreamRead(b *testing.B) {
	data := patternData(1 << 20)
	entry := NewFileEntry(0, uint32(len(data)), 0, FileCompress)
	payload, err := encodeFileData(data, FileCompress, CompressionZlib, 0, 0, DefaultBlockSize)
	if err != nil {
		b.Fatal(err)
	}
	entry.CompressedSize = uint32(len(payload))

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := OpenStream(bytes.NewReader(payload), entry, DefaultBlockSize, true)
		if _, err := io.Copy(io.Discard, s); err != nil {
			b.Fatal(err)
		}
	}
}
