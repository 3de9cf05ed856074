// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// SignatureInfo contains parsed signature data from (signature) file.
type SignatureInfo struct {
	Version   uint32
	Signature []byte
}

// ReadSignature reads and parses the (signature) special file if present.
// Returns nil if the signature file doesn't exist.
func (a *Archive) ReadSignature() (*SignatureInfo, error) {
	if a.mode != "r" {
		return nil, fmt.Errorf("archive not opened for reading")
	}

	if !a.HasFile("(signature)") {
		return nil, nil // Signature is optional
	}

	signatureData, err := a.ReadFile("(signature)")
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}

	if len(signatureData) < 8 {
		return nil, fmt.Errorf("signature data too small: %d bytes", len(signatureData))
	}

	// Parse signature structure
	version := binary.LittleEndian.Uint32(signatureData[0:4])
	sigLength := binary.LittleEndian.Uint32(signatureData[4:8])

	if len(signatureData) < int(8+sigLength) {
		return nil, fmt.Errorf("signature data truncated: expected %d bytes, got %d", 8+sigLength, len(signatureData))
	}

	signature := make([]byte, sigLength)
	copy(signature, signatureData[8:8+sigLength])

	return &SignatureInfo{
		Version:   version,
		Signature: signature,
	}, nil
}

// VerifySignature performs basic structural validation of a signature.
// Full cryptographic verification requires the matching public key and is
// out of scope here.
func (s *SignatureInfo) VerifySignature() error {
	if s == nil {
		return fmt.Errorf("no signature available")
	}

	if len(s.Signature) == 0 {
		return fmt.Errorf("empty signature")
	}

	switch s.Version {
	case 0: // Weak signature (deprecated)
		if len(s.Signature) < 64 {
			return fmt.Errorf("weak signature too short: %d bytes", len(s.Signature))
		}
	case 1: // Strong signature
		if len(s.Signature) < 256 {
			return fmt.Errorf("strong signature too short: %d bytes", len(s.Signature))
		}
	default:
		return fmt.Errorf("unknown signature version: %d", s.Version)
	}

	return nil
}
