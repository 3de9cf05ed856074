// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// IMA-ADPCM step size table.
var adpcmStepSizes = [89]int32{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

// Step index adjustment, keyed by the low five magnitude bits of an
// encoded sample.
var adpcmNextStep = [32]int32{
	-1, 0, -1, 4, -1, 2, -1, 6,
	-1, 1, -1, 5, -1, 3, -1, 7,
	-1, 1, -1, 5, -1, 3, -1, 7,
	-1, 2, -1, 4, -1, 6, -1, 8,
}

const (
	adpcmInitialStepIndex = 0x2C
	adpcmMaxStepIndex     = 0x58

	// Encoded-sample control ops (high bit set).
	adpcmOpRepeat     = 0 // emit previous sample, narrow the step
	adpcmOpWidenStep  = 1 // widen the step, no output
	adpcmOpNextStream = 2 // advance to the next channel, no output
)

// decompressADPCM decodes an IMA-ADPCM sector into little-endian 16-bit
// PCM. The payload starts with a reserved byte and the bit shift, then one
// initial 16-bit sample per channel; remaining bytes carry one sample each,
// round-robin across channels.
func decompressADPCM(data []byte, uncompressedSize uint32, channels int) ([]byte, error) {
	if channels < 1 || channels > 2 {
		return nil, errors.Wrapf(ErrCorruptData, "adpcm channel count %d", channels)
	}
	if len(data) < 2+2*channels {
		return nil, errors.Wrap(ErrCorruptData, "adpcm sector shorter than its header")
	}

	bitShift := uint(data[1])
	pos := 2

	out := make([]byte, 0, uncompressedSize)
	var predicted [2]int32
	stepIndex := [2]int32{adpcmInitialStepIndex, adpcmInitialStepIndex}

	for ch := 0; ch < channels; ch++ {
		initial := int32(int16(binary.LittleEndian.Uint16(data[pos:])))
		pos += 2
		predicted[ch] = initial
		out = appendSample(out, initial)
	}

	ch := channels - 1
	for pos < len(data) {
		b := data[pos]
		pos++
		cur := (ch + 1) % channels

		if b&0x80 != 0 {
			switch b & 0x7F {
			case adpcmOpRepeat:
				if stepIndex[cur] > 0 {
					stepIndex[cur]--
				}
				out = appendSample(out, predicted[cur])
				ch = cur
			case adpcmOpWidenStep:
				stepIndex[cur] += 8
				if stepIndex[cur] > adpcmMaxStepIndex {
					stepIndex[cur] = adpcmMaxStepIndex
				}
			case adpcmOpNextStream:
				ch = cur
			default:
				stepIndex[cur] -= 8
				if stepIndex[cur] < 0 {
					stepIndex[cur] = 0
				}
			}
			continue
		}

		// Bits 0-5 select step fractions, bit 6 is the sign.
		step := adpcmStepSizes[stepIndex[cur]]
		diff := step >> bitShift
		for i := uint(0); i < 6; i++ {
			if b&(1<<i) != 0 {
				diff += step >> i
			}
		}

		if b&0x40 != 0 {
			predicted[cur] -= diff
		} else {
			predicted[cur] += diff
		}
		if predicted[cur] > 32767 {
			predicted[cur] = 32767
		} else if predicted[cur] < -32768 {
			predicted[cur] = -32768
		}
		out = appendSample(out, predicted[cur])

		stepIndex[cur] += adpcmNextStep[b&0x1F]
		if stepIndex[cur] < 0 {
			stepIndex[cur] = 0
		} else if stepIndex[cur] > adpcmMaxStepIndex {
			stepIndex[cur] = adpcmMaxStepIndex
		}
		ch = cur

		if uncompressedSize > 0 && uint32(len(out)) >= uncompressedSize {
			break
		}
	}

	if uncompressedSize > 0 {
		if uint32(len(out)) < uncompressedSize {
			return nil, errors.Wrapf(ErrCorruptData,
				"adpcm sector decoded to %d of %d bytes", len(out), uncompressedSize)
		}
		out = out[:uncompressedSize]
	}

	return out, nil
}

func appendSample(out []byte, sample int32) []byte {
	return append(out, byte(sample), byte(sample>>8))
}
