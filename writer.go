// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"os"
)

// writeArchive writes the complete MPQ archive
func (a *Archive) writeArchive() error {
	file, err := os.Create(a.tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer file.Close()

	// Initialize hash table with empty entries
	for i := range a.hashTable {
		a.hashTable[i] = hashTableEntry{
			HashA:      0xFFFFFFFF,
			HashB:      0xFFFFFFFF,
			Locale:     0xFFFF,
			Platform:   0xFFFF,
			BlockIndex: hashTableEmpty,
		}
	}

	// Reserve space for header
	headerSize := a.header.HeaderSize
	if _, err := file.Seek(int64(headerSize), 0); err != nil {
		return fmt.Errorf("seek past header: %w", err)
	}

	// Write file data and build the block table
	a.entries = a.entries[:0]
	attrs := newAttributesWriter(len(a.pendingFiles) + 2)
	listFileContent := ""
	needsHiBlockTable := false

	for i, pf := range a.pendingFiles {
		if err := a.writeStoredFile(file, pf.mpqPath, pf.data, pf.flags, &needsHiBlockTable); err != nil {
			return err
		}
		attrs.setEntry(i, pf.data)
		listFileContent += pf.mpqPath + "\r\n"
	}

	// Add (listfile) and (attributes)
	if listFileContent != "" {
		listFileData := []byte(listFileContent)
		if err := a.writeStoredFile(file, "(listfile)", listFileData,
			FileExists|FileCompress|FileSingleUnit, &needsHiBlockTable); err != nil {
			return err
		}
		attrs.setEntry(len(a.pendingFiles), listFileData)

		// The attributes file cannot checksum itself; its slot stays zero.
		attrs.setEntry(len(a.pendingFiles)+1, nil)
		attrData, err := attrs.build()
		if err != nil {
			return fmt.Errorf("build attributes: %w", err)
		}
		if err := a.writeStoredFile(file, "(attributes)", attrData,
			FileExists|FileCompress|FileSingleUnit, &needsHiBlockTable); err != nil {
			return err
		}
	}

	// Write hash table
	hashTableOffset, _ := file.Seek(0, 1)

	hashTableData := make([]uint32, len(a.hashTable)*4)
	for i, entry := range a.hashTable {
		hashTableData[i*4] = entry.HashA
		hashTableData[i*4+1] = entry.HashB
		hashTableData[i*4+2] = uint32(entry.Locale) | (uint32(entry.Platform) << 16)
		hashTableData[i*4+3] = entry.BlockIndex
	}
	encryptBlock(hashTableData, hashString("(hash table)", hashTypeFileKey))

	if err := writeUint32Array(file, hashTableData); err != nil {
		return fmt.Errorf("write hash table: %w", err)
	}

	// Write block table
	blockTableOffset, _ := file.Seek(0, 1)

	blockTableData := make([]uint32, len(a.entries)*4)
	for i, entry := range a.entries {
		blockTableData[i*4] = uint32(entry.FilePosition)
		blockTableData[i*4+1] = entry.CompressedSize
		blockTableData[i*4+2] = entry.FileSize
		blockTableData[i*4+3] = entry.Flags
	}
	encryptBlock(blockTableData, hashString("(block table)", hashTypeFileKey))

	if err := writeUint32Array(file, blockTableData); err != nil {
		return fmt.Errorf("write block table: %w", err)
	}

	// Write hi-block table if V2 and needed
	var hiBlockTableOffset int64
	if a.formatVersion == FormatV2 && needsHiBlockTable {
		hiBlockTableOffset, _ = file.Seek(0, 1)

		hiBlockTable := make([]uint16, len(a.entries))
		for i, entry := range a.entries {
			hiBlockTable[i] = uint16(entry.FilePosition >> 32)
		}

		if err := writeUint16Array(file, hiBlockTable); err != nil {
			return fmt.Errorf("write hi-block table: %w", err)
		}
	}

	// Get archive size
	archiveSize, _ := file.Seek(0, 1)

	// Update header
	a.header.setHashTableOffset64(uint64(hashTableOffset))
	a.header.setBlockTableOffset64(uint64(blockTableOffset))
	a.header.BlockTableSize = uint32(len(a.entries))
	a.header.ArchiveSize = uint32(archiveSize)

	if a.formatVersion == FormatV2 {
		if needsHiBlockTable {
			a.header.HiBlockTableOffset64 = uint64(hiBlockTableOffset)
		} else {
			a.header.HiBlockTableOffset64 = 0
		}
	}

	// Write header
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek to header: %w", err)
	}

	if err := writeArchiveHeader(file, a.header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	return nil
}

// writeStoredFile encodes one file's payload at the current position and
// records its block and hash table entries.
func (a *Archive) writeStoredFile(file *os.File, mpqPath string, data []byte, flags uint32, needsHiBlockTable *bool) error {
	filePos, err := file.Seek(0, 1)
	if err != nil {
		return fmt.Errorf("get file position: %w", err)
	}

	if filePos > 0xFFFFFFFF {
		*needsHiBlockTable = true
	}

	// Encrypted files derive their key from the plain file name.
	var baseSeed uint32
	if flags&FileEncrypted != 0 {
		baseSeed = fileNameKey(mpqPath)
	}

	encoded, err := encodeFileData(data, flags, CompressionZlib, baseSeed, filePos, a.sectorSize)
	if err != nil {
		return fmt.Errorf("encode file %s: %w", mpqPath, err)
	}

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("write file data: %w", err)
	}

	entry := NewFileEntry(filePos, uint32(len(data)), uint32(len(encoded)), flags)
	if baseSeed != 0 {
		entry.SetEncryptionSeed(baseSeed)
	}

	blockIndex := uint32(len(a.entries))
	a.entries = append(a.entries, entry)

	if err := a.addToHashTable(mpqPath, blockIndex); err != nil {
		return fmt.Errorf("add %s to hash table: %w", mpqPath, err)
	}

	return nil
}

// addToHashTable adds a file to the hash table
func (a *Archive) addToHashTable(mpqPath string, blockIndex uint32) error {
	hashA := hashString(mpqPath, hashTypeNameA)
	hashB := hashString(mpqPath, hashTypeNameB)
	startIndex := hashString(mpqPath, hashTypeTableOffset) % a.header.HashTableSize

	for i := uint32(0); i < a.header.HashTableSize; i++ {
		idx := (startIndex + i) % a.header.HashTableSize
		entry := &a.hashTable[idx]

		if entry.BlockIndex == hashTableEmpty || entry.BlockIndex == hashTableDeleted {
			entry.HashA = hashA
			entry.HashB = hashB
			entry.Locale = localeNeutral
			entry.Platform = 0
			entry.BlockIndex = blockIndex
			return nil
		}
	}

	return fmt.Errorf("hash table full")
}
