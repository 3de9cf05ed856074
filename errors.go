// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "github.com/pkg/errors"

// Sentinel errors returned by file streams. Call sites add context with
// errors.Wrap/Wrapf; callers match with errors.Is.
var (
	// ErrNotSupported is returned for writes, length changes, out-of-range
	// seeks, and reads, seeks, length queries, checksum reads and transforms
	// on a stream whose layout failed validation.
	ErrNotSupported = errors.New("mpq: operation not supported")

	// ErrUnknownEncryptionSeed is returned when a file requires decryption
	// but no seed is known and none could be recovered.
	ErrUnknownEncryptionSeed = errors.New("mpq: encryption seed unknown")

	// ErrUnsupportedCompression is returned for compression types the
	// format defines but this package does not decode (LZMA, sparse).
	ErrUnsupportedCompression = errors.New("mpq: compression type not supported")

	// ErrCorruptData is returned when decompression fails or an embedded
	// length header disagrees with the stream.
	ErrCorruptData = errors.New("mpq: corrupt compressed data")

	// ErrInsufficientData is returned when a raw read against the archive
	// stream yields fewer bytes than the layout requires.
	ErrInsufficientData = errors.New("mpq: unexpected end of file data")
)
