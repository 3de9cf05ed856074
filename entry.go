// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

// FileEntry describes a single file inside an archive stream: where its
// payload lives, how large it is, and how it is stored. Entries come from
// an archive's block table or are built directly for standalone streams.
type FileEntry struct {
	// FilePosition is the byte offset of the file payload inside the
	// underlying stream.
	FilePosition int64

	// FileSize is the decoded (logical) size in bytes.
	FileSize uint32

	// CompressedSize is the stored size in bytes. Equal to FileSize when
	// the file is stored raw.
	CompressedSize uint32

	// Flags is the File* flag set describing the storage scheme.
	Flags uint32

	// seed is the encryption key for the payload, already adjusted for
	// FileFixKey. Zero means unknown.
	seed uint32

	// baseSeed is the pre-adjustment key, required to re-emit the file at
	// a different position. Equals seed when FileFixKey is clear.
	baseSeed uint32
}

// NewFileEntry builds a descriptor for a file payload at the given
// position. The encryption seed, if any, is installed separately.
func NewFileEntry(position int64, fileSize, compressedSize, flags uint32) *FileEntry {
	return &FileEntry{
		FilePosition:   position,
		FileSize:       fileSize,
		CompressedSize: compressedSize,
		Flags:          flags,
	}
}

// SetEncryptionSeed installs the file's base encryption seed, deriving the
// position-adjusted key when FileFixKey is set.
func (e *FileEntry) SetEncryptionSeed(base uint32) {
	e.baseSeed = base
	e.seed = base
	if e.Flags&FileFixKey != 0 {
		e.seed = adjustKey(base, e.FilePosition, e.FileSize)
	}
}

// setDetectedSeed installs a recovered position-adjusted key, deriving the
// base seed from it. Used by open-time seed recovery.
func (e *FileEntry) setDetectedSeed(seed uint32) {
	e.seed = seed
	e.baseSeed = seed
	if e.Flags&FileFixKey != 0 {
		e.baseSeed = unadjustKey(seed, e.FilePosition, e.FileSize)
	}
}

// EncryptionSeed returns the position-adjusted key and whether it is known.
func (e *FileEntry) EncryptionSeed() (uint32, bool) {
	return e.seed, e.seed != 0
}

// BaseEncryptionSeed returns the pre-adjustment key and whether it is known.
func (e *FileEntry) BaseEncryptionSeed() (uint32, bool) {
	return e.baseSeed, e.baseSeed != 0
}

// Exists reports whether the entry marks a stored file.
func (e *FileEntry) Exists() bool { return e.Flags&FileExists != 0 }

// IsEncrypted reports whether the payload is encrypted.
func (e *FileEntry) IsEncrypted() bool { return e.Flags&FileEncrypted != 0 }

// IsCompressed reports whether either compression scheme is in use.
func (e *FileEntry) IsCompressed() bool { return e.Flags&FileCompressMask != 0 }

// IsImploded reports whole-file PKWARE compression.
func (e *FileEntry) IsImploded() bool { return e.Flags&FileImplode != 0 }

// IsCompressedMulti reports per-sector multi-codec compression.
func (e *FileEntry) IsCompressedMulti() bool { return e.Flags&FileCompress != 0 }

// IsSingleUnit reports whether the file is stored without sector splits.
func (e *FileEntry) IsSingleUnit() bool { return e.Flags&FileSingleUnit != 0 }

// HasSectorChecksums reports whether a sector checksum table follows the
// sector offsets.
func (e *FileEntry) HasSectorChecksums() bool { return e.Flags&FileSectorCRC != 0 }
