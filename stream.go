// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Stream is a random-access reader over a single file stored inside an
// archive stream. It validates the file's layout when constructed, lazily
// materializes sectors as they are read, and caches one decoded sector.
//
// A Stream is single-owner: its position and sector cache are not safe for
// concurrent use. Multiple streams may share one underlying archive stream;
// every raw read takes the shared lock.
type Stream struct {
	src io.ReadSeeker
	mu  *sync.Mutex

	entry     *FileEntry
	blockSize uint32

	// blockPositions holds the decoded sector offset table for multi-sector
	// compressed files, relative to the payload start. Nil otherwise.
	blockPositions []uint32

	pos      int64
	curBlock int
	curData  []byte

	canRead bool
	ownsSrc bool
}

// OpenStream opens a file stream over a standalone byte source. The entry
// describes the payload layout inside src. When leaveOpen is false the
// stream owns src and closes it (if it is an io.Closer) on Close.
//
// Layout validation happens here; a failure leaves the stream inert with
// CanRead reporting false rather than returning an error, so callers can
// probe files without aborting.
func OpenStream(src io.ReadSeeker, entry *FileEntry, blockSize uint32, leaveOpen bool) *Stream {
	s := newStream(src, &sync.Mutex{}, entry, blockSize)
	s.ownsSrc = !leaveOpen
	return s
}

// newStream builds a stream sharing the caller's lock over src.
func newStream(src io.ReadSeeker, mu *sync.Mutex, entry *FileEntry, blockSize uint32) *Stream {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	s := &Stream{
		src:       src,
		mu:        mu,
		entry:     entry,
		blockSize: blockSize,
		curBlock:  -1,
		canRead:   true,
	}
	s.open()
	return s
}

// blockCount returns the number of logical sectors of the file.
func (s *Stream) blockCount() int {
	return int((s.entry.FileSize + s.blockSize - 1) / s.blockSize)
}

// open validates the file layout, recovering the encryption seed when it
// is unknown but recoverable. Any violation marks the stream unreadable.
func (s *Stream) open() {
	e := s.entry

	if e.IsSingleUnit() {
		s.openSingleUnit()
		return
	}

	if e.IsCompressed() {
		s.openBlockTable()
		return
	}

	// Plain multi-sector file. Nothing to decode up front, but decryption
	// is impossible without a seed.
	if e.IsEncrypted() && e.FileSize >= 4 {
		if _, known := e.EncryptionSeed(); !known {
			s.unreadable("encrypted file with unknown seed")
		}
	}
}

// openSingleUnit peeks the codec byte of a single-unit payload.
func (s *Stream) openSingleUnit() {
	e := s.entry

	// Stored raw, or compressed whole-file PKWare: no codec byte exists.
	if !e.IsCompressedMulti() || e.CompressedSize == e.FileSize {
		return
	}

	seed, known := e.EncryptionSeed()
	if e.IsEncrypted() && e.FileSize >= 4 && !known {
		// No recovery is possible without a sector offset table. Reads
		// will fail with ErrUnknownEncryptionSeed; the layout itself may
		// still be fine, so the stream stays probe-able.
		return
	}

	n := e.CompressedSize
	if n > 4 {
		n = 4
	}
	head := make([]byte, n)
	if err := s.readRawAt(e.FilePosition, head); err != nil {
		s.unreadable("short payload: %v", err)
		return
	}
	if e.IsEncrypted() && e.FileSize >= 4 && len(head) >= 4 {
		decryptBytes(head, seed)
	}
	if len(head) == 0 || !validCompressionType(head[0]) {
		s.unreadable("unknown compression type 0x%02X", headByte(head))
	}
}

// openBlockTable reads, decrypts, and validates the sector offset table of
// a multi-sector compressed file.
func (s *Stream) openBlockTable() {
	e := s.entry

	count := s.blockCount() + 1
	if e.HasSectorChecksums() {
		count++
	}

	raw := make([]byte, count*4)
	if err := s.readRawAt(e.FilePosition, raw); err != nil {
		s.unreadable("short sector offset table: %v", err)
		return
	}

	seed, known := e.EncryptionSeed()
	if e.IsEncrypted() {
		if !known {
			if len(raw) < 8 {
				s.unreadable("sector offset table too small to recover a seed")
				return
			}
			// The first table word always decodes to the table's own size,
			// which is enough known plaintext to brute-force the seed.
			enc0 := binary.LittleEndian.Uint32(raw[0:4])
			enc1 := binary.LittleEndian.Uint32(raw[4:8])
			tableSize := uint32(count * 4)
			tableKey, ok := detectFileKey(enc0, enc1, tableSize, s.blockSize+tableSize)
			if !ok {
				s.unreadable("encryption seed not recoverable")
				return
			}
			seed = tableKey + 1
			e.setDetectedSeed(seed)
			logrus.Debugf("mpq: recovered encryption seed %#x for file at %#x", seed, e.FilePosition)
		}
		decryptBytes(raw, seed-1)
	}

	positions := make([]uint32, count)
	for i := range positions {
		positions[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}

	if positions[0] != uint32(count*4) {
		s.unreadable("sector offset table starts at %d, want %d", positions[0], count*4)
		return
	}

	blocks := s.blockCount()
	for i := 1; i <= blocks; i++ {
		delta := int64(positions[i]) - int64(positions[i-1])
		if delta <= 0 || delta > int64(s.blockSize) {
			s.unreadable("sector %d spans %d bytes", i-1, delta)
			return
		}
	}

	s.blockPositions = positions

	for i := 0; i < blocks; i++ {
		if err := s.checkBlockCompression(i, seed); err != nil {
			s.unreadable("sector %d: %v", i, err)
			s.blockPositions = nil
			return
		}
	}
}

// checkBlockCompression peeks a sector's codec byte without loading it.
// Sectors stored verbatim and whole-file PKWare sectors carry none.
func (s *Stream) checkBlockCompression(index int, seed uint32) error {
	e := s.entry
	if !e.IsCompressedMulti() {
		return nil
	}

	stored := s.blockPositions[index+1] - s.blockPositions[index]
	if stored == s.expectedBlockSize(index) {
		return nil
	}

	n := stored
	if n > 4 {
		n = 4
	}
	head := make([]byte, n)
	if err := s.readRawAt(e.FilePosition+int64(s.blockPositions[index]), head); err != nil {
		return err
	}
	if e.IsEncrypted() && len(head) >= 4 {
		decryptBytes(head, seed+uint32(index))
	}
	if len(head) == 0 || !validCompressionType(head[0]) {
		return errors.Errorf("unknown compression type 0x%02X", headByte(head))
	}
	return nil
}

// expectedBlockSize returns the decoded size of a sector.
func (s *Stream) expectedBlockSize(index int) uint32 {
	remaining := s.entry.FileSize - uint32(index)*s.blockSize
	if remaining > s.blockSize {
		return s.blockSize
	}
	return remaining
}

// unreadable flips the stream into its inert state.
func (s *Stream) unreadable(format string, args ...interface{}) {
	logrus.Debugf("mpq: unreadable file at %#x: "+format,
		append([]interface{}{s.entry.FilePosition}, args...)...)
	s.canRead = false
}

func headByte(head []byte) byte {
	if len(head) == 0 {
		return 0
	}
	return head[0]
}

// readRawAt reads exactly len(buf) bytes from the underlying stream at the
// given absolute offset, holding the shared lock.
func (s *Stream) readRawAt(offset int64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(s.src, buf); err != nil {
		return errors.Wrap(ErrInsufficientData, err.Error())
	}
	return nil
}

// CanRead reports whether open-time validation succeeded.
func (s *Stream) CanRead() bool { return s.canRead }

// CanSeek mirrors CanRead: a readable stream is seekable.
func (s *Stream) CanSeek() bool { return s.canRead }

// CanWrite always reports false; streams are read-only.
func (s *Stream) CanWrite() bool { return false }

// Entry returns the descriptor the stream was opened with. Seed recovery
// performed at open time is visible through it.
func (s *Stream) Entry() *FileEntry { return s.entry }

// Length returns the logical file size.
func (s *Stream) Length() (int64, error) {
	if !s.canRead {
		return 0, errors.Wrap(ErrNotSupported, "stream failed validation")
	}
	return int64(s.entry.FileSize), nil
}

// Position returns the current logical read position.
func (s *Stream) Position() int64 { return s.pos }

// SetPosition moves the read position; it delegates to Seek.
func (s *Stream) SetPosition(pos int64) error {
	_, err := s.Seek(pos, io.SeekStart)
	return err
}

// Seek implements io.Seeker over the logical file content. Seeking outside
// [0, length] fails with ErrNotSupported.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if !s.canRead {
		return 0, errors.Wrap(ErrNotSupported, "stream failed validation")
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = int64(s.entry.FileSize) + offset
	default:
		return 0, errors.Wrapf(ErrNotSupported, "seek whence %d", whence)
	}

	if target < 0 || target > int64(s.entry.FileSize) {
		return 0, errors.Wrapf(ErrNotSupported, "seek to %d outside file of %d bytes", target, s.entry.FileSize)
	}

	s.pos = target
	return target, nil
}

// Read implements io.Reader. A single call crosses sector boundaries,
// loading sectors as needed until p is full or the file ends.
func (s *Stream) Read(p []byte) (int, error) {
	if !s.canRead {
		return 0, errors.Wrap(ErrNotSupported, "stream failed validation")
	}

	total := 0
	for total < len(p) {
		if s.pos >= int64(s.entry.FileSize) {
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		}

		data, blockStart, err := s.currentBlock()
		if err != nil {
			return total, err
		}

		n := copy(p[total:], data[s.pos-blockStart:])
		s.pos += int64(n)
		total += n
	}
	return total, nil
}

// ReadByte implements io.ByteReader.
func (s *Stream) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := s.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Write always fails: streams are read-only.
func (s *Stream) Write([]byte) (int, error) {
	return 0, errors.Wrap(ErrNotSupported, "stream is read-only")
}

// SetLength always fails: streams are read-only.
func (s *Stream) SetLength(int64) error {
	return errors.Wrap(ErrNotSupported, "stream is read-only")
}

// Flush is a no-op kept for byte-stream symmetry.
func (s *Stream) Flush() error { return nil }

// Close releases the underlying stream when this stream owns it.
func (s *Stream) Close() error {
	s.curData = nil
	s.curBlock = -1
	if s.ownsSrc {
		if c, ok := s.src.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}

// currentBlock returns the decoded sector covering the current position,
// loading it into the one-slot cache if needed.
func (s *Stream) currentBlock() ([]byte, int64, error) {
	if s.entry.IsSingleUnit() {
		if s.curBlock != 0 {
			if err := s.loadSingleUnit(); err != nil {
				return nil, 0, err
			}
		}
		return s.curData, 0, nil
	}

	index := int(s.pos / int64(s.blockSize))
	if s.curBlock != index {
		if err := s.loadBlock(index); err != nil {
			return nil, 0, err
		}
	}
	return s.curData, int64(index) * int64(s.blockSize), nil
}

// loadBlock reads, decrypts, and decompresses one sector.
func (s *Stream) loadBlock(index int) error {
	e := s.entry
	expected := s.expectedBlockSize(index)

	var offset int64
	var stored uint32
	if s.blockPositions != nil {
		offset = int64(s.blockPositions[index])
		stored = s.blockPositions[index+1] - s.blockPositions[index]
	} else {
		offset = int64(index) * int64(s.blockSize)
		stored = expected
	}

	raw := make([]byte, stored)
	if err := s.readRawAt(e.FilePosition+offset, raw); err != nil {
		return errors.Wrapf(err, "sector %d", index)
	}

	if e.IsEncrypted() && len(raw) >= 4 {
		seed, known := e.EncryptionSeed()
		if !known {
			return errors.Wrapf(ErrUnknownEncryptionSeed, "sector %d", index)
		}
		decryptBytes(raw, seed+uint32(index))
	}

	// A sector whose stored size equals its decoded size is kept verbatim.
	if e.IsCompressed() && stored != expected {
		var err error
		if e.IsImploded() {
			raw, err = decompressImploded(raw, expected)
		} else {
			raw, err = decompressData(raw, expected)
		}
		if err != nil {
			return errors.Wrapf(err, "sector %d", index)
		}
		if uint32(len(raw)) != expected {
			return errors.Wrapf(ErrCorruptData, "sector %d decoded to %d of %d bytes", index, len(raw), expected)
		}
	}

	s.curBlock = index
	s.curData = raw
	return nil
}

// loadSingleUnit materializes the whole payload of a single-unit file.
func (s *Stream) loadSingleUnit() error {
	e := s.entry

	raw := make([]byte, e.CompressedSize)
	if err := s.readRawAt(e.FilePosition, raw); err != nil {
		return err
	}

	if e.IsEncrypted() && e.FileSize >= 4 {
		seed, known := e.EncryptionSeed()
		if !known {
			return errors.Wrap(ErrUnknownEncryptionSeed, "single-unit payload")
		}
		decryptBytes(raw, seed)
	}

	if e.IsCompressed() && e.CompressedSize != e.FileSize {
		var err error
		if e.IsImploded() {
			raw, err = decompressImploded(raw, e.FileSize)
		} else {
			raw, err = decompressData(raw, e.FileSize)
		}
		if err != nil {
			return err
		}
		if uint32(len(raw)) != e.FileSize {
			return errors.Wrapf(ErrCorruptData, "payload decoded to %d of %d bytes", len(raw), e.FileSize)
		}
	}

	s.curBlock = 0
	s.curData = raw
	return nil
}

// CopyRawTo copies the stored payload verbatim - still compressed and
// encrypted - into sink. Archive re-packers use it to pass files through
// untouched, so it works even on streams that failed validation.
func (s *Stream) CopyRawTo(sink io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.src.Seek(s.entry.FilePosition, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.CopyN(sink, s.src, int64(s.entry.CompressedSize)); err != nil {
		return errors.Wrap(ErrInsufficientData, err.Error())
	}
	return nil
}

// SectorChecksums returns the stored per-sector checksum table, or nil
// when the file carries none. The table is retained as stored; reads never
// validate against it.
func (s *Stream) SectorChecksums() ([]uint32, error) {
	if !s.canRead {
		return nil, errors.Wrap(ErrNotSupported, "stream failed validation")
	}
	e := s.entry
	if !e.HasSectorChecksums() || s.blockPositions == nil {
		return nil, nil
	}

	blocks := s.blockCount()
	start := s.blockPositions[blocks]
	end := s.blockPositions[blocks+1]
	if end < start {
		return nil, errors.Wrap(ErrCorruptData, "checksum sector range inverted")
	}

	raw := make([]byte, end-start)
	if err := s.readRawAt(e.FilePosition+int64(start), raw); err != nil {
		return nil, err
	}
	if e.IsEncrypted() && len(raw) >= 4 {
		seed, known := e.EncryptionSeed()
		if !known {
			return nil, errors.Wrap(ErrUnknownEncryptionSeed, "checksum sector")
		}
		decryptBytes(raw, seed+uint32(blocks))
	}

	if len(raw) != blocks*4 {
		decoded, err := decompressData(raw, uint32(blocks*4))
		if err != nil {
			return nil, errors.Wrap(err, "checksum sector")
		}
		raw = decoded
	}

	sums := make([]uint32, blocks)
	for i := range sums {
		sums[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return sums, nil
}

// VerifyChecksums recomputes the Adler-32 of every stored sector and
// compares it against the checksum table. Zero table entries are skipped,
// matching how writers mark unchecksummed sectors. Files without a table
// verify trivially.
func (s *Stream) VerifyChecksums() error {
	sums, err := s.SectorChecksums()
	if err != nil || sums == nil {
		return err
	}

	e := s.entry
	seed, _ := e.EncryptionSeed()
	for i, want := range sums {
		if want == 0 {
			continue
		}

		stored := s.blockPositions[i+1] - s.blockPositions[i]
		raw := make([]byte, stored)
		if err := s.readRawAt(e.FilePosition+int64(s.blockPositions[i]), raw); err != nil {
			return err
		}
		if e.IsEncrypted() && len(raw) >= 4 {
			decryptBytes(raw, seed+uint32(i))
		}
		if got := adler32(raw); got != want {
			return errors.Wrapf(ErrCorruptData, "sector %d checksum %#x, want %#x", i, got, want)
		}
	}
	return nil
}
