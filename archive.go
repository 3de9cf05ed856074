// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FormatVersion specifies which MPQ format version to use when creating archives.
type FormatVersion int

const (
	// FormatV1 creates archives using the original MPQ format (up to 4GB).
	// Compatible with all games that use MPQ.
	FormatV1 FormatVersion = 0

	// FormatV2 creates archives using the extended format (>4GB support).
	// Compatible with WoW: The Burning Crusade and later.
	FormatV2 FormatVersion = 1
)

// Archive represents an MPQ archive.
type Archive struct {
	file          *os.File
	mu            sync.Mutex // guards seeks/reads on file; shared with every open Stream
	path          string
	tempPath      string
	mode          string // "r" for read, "w" for write
	header        *archiveHeader
	hashTable     []hashTableEntry
	entries       []*FileEntry
	pendingFiles  []pendingFile
	sectorSize    uint32
	formatVersion FormatVersion
}

// pendingFile represents a file to be added to the archive.
type pendingFile struct {
	mpqPath string
	data    []byte
	flags   uint32
}

// Create creates a new MPQ archive using V1 format.
// The maxFiles parameter specifies the maximum number of files the archive can hold.
func Create(path string, maxFiles int) (*Archive, error) {
	return CreateWithVersion(path, maxFiles, FormatV1)
}

// CreateV2 creates a new MPQ archive using V2 format.
// V2 format supports archives larger than 4GB and is compatible with
// WoW: The Burning Crusade and later.
func CreateV2(path string, maxFiles int) (*Archive, error) {
	return CreateWithVersion(path, maxFiles, FormatV2)
}

// CreateWithVersion creates a new MPQ archive with the specified format version.
func CreateWithVersion(path string, maxFiles int, version FormatVersion) (*Archive, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	// Create temp file in same directory for atomic write
	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, "mpq_*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()

	// Calculate hash table size (next power of 2 >= maxFiles * 1.5)
	hashTableSize := nextPowerOf2(uint32(float64(maxFiles) * 1.5))
	if hashTableSize < 16 {
		hashTableSize = 16
	}

	// Set header size based on version
	var headerSize uint32
	var formatVer uint16
	if version == FormatV2 {
		headerSize = headerSizeV2
		formatVer = formatVersion2
	} else {
		headerSize = headerSizeV1
		formatVer = formatVersion1
	}

	header := &archiveHeader{
		baseHeader: baseHeader{
			Magic:           mpqMagic,
			HeaderSize:      headerSize,
			FormatVersion:   formatVer,
			SectorSizeShift: defaultSectorSizeShift,
			HashTableSize:   hashTableSize,
			BlockTableSize:  0,
		},
	}

	return &Archive{
		path:          path,
		tempPath:      tempPath,
		mode:          "w",
		header:        header,
		hashTable:     make([]hashTableEntry, hashTableSize),
		entries:       make([]*FileEntry, 0, maxFiles),
		pendingFiles:  make([]pendingFile, 0, maxFiles),
		sectorSize:    512 << defaultSectorSizeShift,
		formatVersion: version,
	}, nil
}

// Open opens an existing MPQ archive for reading.
// Supports both V1 and V2 format archives.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	// Read and validate header
	header, err := readArchiveHeader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	if header.Magic != mpqMagic {
		file.Close()
		return nil, fmt.Errorf("invalid MPQ magic: 0x%08X", header.Magic)
	}

	if header.FormatVersion > formatVersion2 {
		file.Close()
		return nil, fmt.Errorf("unsupported MPQ format version: %d (only V1 and V2 are supported)", header.FormatVersion)
	}

	// Read hash table
	hashTableOffset := header.getHashTableOffset64()
	if _, err := file.Seek(int64(hashTableOffset), io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek to hash table: %w", err)
	}

	hashTableData := make([]uint32, header.HashTableSize*4)
	if err := readUint32Array(file, hashTableData); err != nil {
		file.Close()
		return nil, fmt.Errorf("read hash table: %w", err)
	}
	decryptBlock(hashTableData, hashString("(hash table)", hashTypeFileKey))

	hashTable := make([]hashTableEntry, header.HashTableSize)
	for i := range hashTable {
		hashTable[i] = hashTableEntry{
			HashA:      hashTableData[i*4],
			HashB:      hashTableData[i*4+1],
			Locale:     uint16(hashTableData[i*4+2] & 0xFFFF),
			Platform:   uint16(hashTableData[i*4+2] >> 16),
			BlockIndex: hashTableData[i*4+3],
		}
	}

	// Read block table
	blockTableOffset := header.getBlockTableOffset64()
	if _, err := file.Seek(int64(blockTableOffset), io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek to block table: %w", err)
	}

	blockTableData := make([]uint32, header.BlockTableSize*4)
	if err := readUint32Array(file, blockTableData); err != nil {
		file.Close()
		return nil, fmt.Errorf("read block table: %w", err)
	}
	decryptBlock(blockTableData, hashString("(block table)", hashTypeFileKey))

	entries := make([]*FileEntry, header.BlockTableSize)
	for i := range entries {
		entries[i] = NewFileEntry(
			int64(blockTableData[i*4]),
			blockTableData[i*4+2],
			blockTableData[i*4+1],
			blockTableData[i*4+3],
		)
	}

	// Read extended block table if V2
	if header.FormatVersion >= formatVersion2 && header.HiBlockTableOffset64 != 0 {
		if _, err := file.Seek(int64(header.HiBlockTableOffset64), io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("seek to hi-block table: %w", err)
		}

		hiBlockTable := make([]uint16, header.BlockTableSize)
		if err := readUint16Array(file, hiBlockTable); err != nil {
			file.Close()
			return nil, fmt.Errorf("read hi-block table: %w", err)
		}

		for i := range entries {
			entries[i].FilePosition |= int64(hiBlockTable[i]) << 32
		}
	}

	return &Archive{
		file:       file,
		path:       path,
		mode:       "r",
		header:     header,
		hashTable:  hashTable,
		entries:    entries,
		sectorSize: 512 << header.SectorSizeShift,
	}, nil
}

// AddFile adds a file from disk to the archive, stored as a compressed
// single unit. The mpqPath is the path within the archive (backslashes or
// forward slashes). Only valid for archives opened with Create.
func (a *Archive) AddFile(srcPath, mpqPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", srcPath, err)
	}
	return a.AddFileData(mpqPath, data, FileCompress|FileSingleUnit)
}

// AddFileData adds in-memory content to the archive under the given flags.
// Supported flags: FileCompress, FileSingleUnit, FileEncrypted, FileFixKey,
// FileSectorCRC; FileExists is implied. Encrypted files derive their key
// from the file name. Only valid for archives opened with Create.
func (a *Archive) AddFileData(mpqPath string, data []byte, flags uint32) error {
	if a.mode != "w" {
		return fmt.Errorf("archive not opened for writing")
	}
	if flags&FileImplode != 0 {
		return fmt.Errorf("add file %s: imploded output not supported", mpqPath)
	}

	// Normalize MPQ path
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	a.pendingFiles = append(a.pendingFiles, pendingFile{
		mpqPath: mpqPath,
		data:    data,
		flags:   flags | FileExists,
	})

	return nil
}

// OpenFile opens a seekable stream over a file in the archive. The stream
// shares the archive's file handle and lock; it remains valid until the
// archive is closed. Only valid for archives opened with Open.
func (a *Archive) OpenFile(mpqPath string) (*Stream, error) {
	if a.mode != "r" {
		return nil, fmt.Errorf("archive not opened for reading")
	}

	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")
	entry, err := a.findFile(mpqPath)
	if err != nil {
		return nil, err
	}

	if entry.IsEncrypted() {
		if _, known := entry.EncryptionSeed(); !known {
			entry.SetEncryptionSeed(fileNameKey(mpqPath))
		}
	}

	return newStream(a.file, &a.mu, entry, a.sectorSize), nil
}

// ReadFile reads a file's entire decoded content.
func (a *Archive) ReadFile(mpqPath string) ([]byte, error) {
	s, err := a.OpenFile(mpqPath)
	if err != nil {
		return nil, err
	}

	length, err := s.Length()
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", mpqPath, err)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(s, data); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read file %s: %w", mpqPath, err)
	}
	return data, nil
}

// ExtractFile extracts a file from the archive to the specified destination.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
// This method is only valid for archives opened with Open.
func (a *Archive) ExtractFile(mpqPath, destPath string) error {
	fileData, err := a.ReadFile(mpqPath)
	if err != nil {
		return err
	}

	// Ensure destination directory exists
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := os.WriteFile(destPath, fileData, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// HasFile returns true if the archive contains the specified file.
// The mpqPath is the path within the archive (use backslashes or forward slashes).
func (a *Archive) HasFile(mpqPath string) bool {
	if a.mode == "w" {
		mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")
		for _, f := range a.pendingFiles {
			if strings.EqualFold(f.mpqPath, mpqPath) {
				return true
			}
		}
		return false
	}

	_, err := a.findFile(mpqPath)
	return err == nil
}

// ListFiles returns the file names recorded in the archive's (listfile).
func (a *Archive) ListFiles() ([]string, error) {
	data, err := a.ReadFile("(listfile)")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Close closes the archive.
// For archives opened with Create, this writes the archive to disk.
func (a *Archive) Close() error {
	if a.mode == "r" {
		if a.file != nil {
			return a.file.Close()
		}
		return nil
	}

	// Write mode
	if err := a.writeArchive(); err != nil {
		os.Remove(a.tempPath)
		return err
	}

	// Move temp file to final path
	os.Remove(a.path)
	if err := os.Rename(a.tempPath, a.path); err != nil {
		if err := copyFile(a.tempPath, a.path); err != nil {
			os.Remove(a.tempPath)
			return fmt.Errorf("save archive: %w", err)
		}
		os.Remove(a.tempPath)
	}

	return nil
}

// findFile looks up a file in the hash table and returns its entry.
func (a *Archive) findFile(mpqPath string) (*FileEntry, error) {
	mpqPath = strings.ReplaceAll(mpqPath, "/", "\\")

	hashA := hashString(mpqPath, hashTypeNameA)
	hashB := hashString(mpqPath, hashTypeNameB)
	startIndex := hashString(mpqPath, hashTypeTableOffset) % a.header.HashTableSize

	for i := uint32(0); i < a.header.HashTableSize; i++ {
		idx := (startIndex + i) % a.header.HashTableSize
		entry := &a.hashTable[idx]

		if entry.BlockIndex == hashTableEmpty {
			break
		}
		if entry.BlockIndex == hashTableDeleted {
			continue
		}
		if entry.HashA == hashA && entry.HashB == hashB {
			if entry.BlockIndex < uint32(len(a.entries)) {
				block := a.entries[entry.BlockIndex]
				if block.Exists() {
					return block, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("file not found: %s", mpqPath)
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
