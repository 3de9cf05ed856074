// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq provides pure Go support for reading, streaming, and re-encoding
files stored in MPQ (Mo'PaQ) archives.

MPQ is an archive format created by Blizzard Entertainment, used in games
like Diablo, StarCraft, and World of Warcraft. Files inside an archive may
be split into fixed-size sectors, compressed sector-by-sector with a
combinable set of codecs, and encrypted with a per-file key that can often
be recovered even when the file name is unknown. This package centers on
[Stream], a seekable random-access reader over one such file, and its
Transform method, which re-emits the file under a different storage
configuration.

# Reading files

	archive, err := mpq.Open("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	s, err := archive.OpenFile("Data\\file.txt")
	if err != nil {
		log.Fatal(err)
	}
	if !s.CanRead() {
		log.Fatal("file layout not readable")
	}
	data, err := io.ReadAll(s)

Streams are lazy: a seek costs nothing and a read materializes only the
sectors it touches, so pulling a few bytes out of the middle of a large
file stays cheap. Multiple streams may share one archive; they coordinate
on the archive's lock.

# Standalone streams

A stream can also be opened over any io.ReadSeeker holding a single file
payload, described by a [FileEntry]:

	entry := mpq.NewFileEntry(0, fileSize, storedSize, mpq.FileCompress)
	s := mpq.OpenStream(bytes.NewReader(payload), entry, mpq.DefaultBlockSize, true)

When an encrypted file's seed is unknown, opening a multi-sector compressed
stream attempts to recover it from the sector offset table; probe CanRead
for the outcome.

# Re-encoding

Transform copies a file's logical content and re-encodes it under new
flags, codec, sector size, and position:

	payload, err := s.Transform(mpq.FileCompress|mpq.FileEncrypted, mpq.CompressionZlib, 0, 4096)

# Writing archives

	archive, err := mpq.Create("patch.mpq", 100)
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	err = archive.AddFile("local/file.txt", "Data\\file.txt")

Added files may be stored single-unit or sector-based, compressed and/or
encrypted (see [Archive.AddFileData]); the writer also emits (listfile)
and (attributes).

# Path Conventions

MPQ archives use backslash (\) as the path separator. This package
automatically converts forward slashes to backslashes, so both formats work.

# Limitations

  - No support for LZMA or sparse compression (SC2+ archives)
  - No support for MPQ format V3/V4 (Cataclysm+)
  - No support for patch archives
  - The archive writer compresses with zlib only; Transform can also emit
    Huffman sectors when that codec is passed to it
*/
package mpq
