// Package vag decodes PlayStation ADPCM ("VAG") sample data into 16-bit delta PCM.
//
// The compressed stream is a sequence of 16-byte blocks:
//   - byte 0: shift (low nibble) and predictor filter (high nibble)
//   - byte 1: flags, used by the SPU for loop control
//   - bytes 2-15: 28 packed 4-bit samples, low nibble first
//
// Decoded samples are emitted as differences from the previous sample with
// 16-bit wraparound, which is the sample encoding used by FastTracker II modules.
package vag

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Block layout constants.
const (
	BlockSize       = 16
	SamplesPerBlock = 28

	headerBytes = 2
)

// Loop flag patterns found in the block flag byte.
const (
	loopStartMask  = 0x0E
	loopStartValue = 0x06
	loopEndMask    = 0x0F
	loopEndValue   = 0x03
	loopEndRepeat  = 0x07
)

// Errors.
var ErrUnalignedData = errors.New("vag: data size is not a multiple of the block size")

// Sample is a decoded sample together with the loop recovered from the block flags.
type Sample struct {
	// Deltas holds the sample as 16-bit differences from the previous sample.
	Deltas []int16

	// Loop points in samples.
	LoopStart  int
	LoopLength int
}

// ByteLength returns the size of the delta stream in bytes.
func (s *Sample) ByteLength() int {
	return len(s.Deltas) * 2
}

// LoopStartBytes returns the loop start as a byte offset into the delta stream.
func (s *Sample) LoopStartBytes() int {
	return s.LoopStart * 2
}

// LoopLengthBytes returns the loop length in bytes.
func (s *Sample) LoopLengthBytes() int {
	return s.LoopLength * 2
}

// Bytes returns the delta stream as little-endian 16-bit words.
func (s *Sample) Bytes() []byte {
	buf := make([]byte, len(s.Deltas)*2)
	for i, d := range s.Deltas {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(d))
	}

	return buf
}

// SampleCount returns the number of samples produced by size bytes of ADPCM data.
func SampleCount(size int) int {
	return (size / BlockSize) * SamplesPerBlock
}

// Decode decodes a whole ADPCM sample. The predictor starts from silence.
func Decode(data []byte) (*Sample, error) {
	if len(data)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnalignedData, len(data))
	}

	sample := &Sample{
		Deltas: make([]int16, 0, SampleCount(len(data))),
	}

	var (
		pred Predictor
		prev int
	)

	for blockStart := 0; blockStart < len(data); blockStart += BlockSize {
		param := data[blockStart]
		flags := data[blockStart+1]
		index := len(sample.Deltas)

		// Later matches replace earlier ones.
		if flags&loopStartMask == loopStartValue {
			sample.LoopStart = index
		}

		if end := flags & loopEndMask; end == loopEndValue || end == loopEndRepeat {
			sample.LoopLength = index + SamplesPerBlock - sample.LoopStart
		}

		for _, packed := range data[blockStart+headerBytes : blockStart+BlockSize] {
			for _, nibble := range [2]int{int(packed & 0x0F), int(packed>>4) & 0x0F} {
				cur := int(pred.Next(param, nibble))
				sample.Deltas = append(sample.Deltas, wrap16(cur-prev))
				prev = cur
			}
		}
	}

	return sample, nil
}

// wrap16 folds a difference of two int16 values back into int16 range the way
// a 16-bit register overflows.
func wrap16(diff int) int16 {
	if diff > math.MaxInt16 {
		diff -= 65536
	} else if diff < math.MinInt16 {
		diff += 65536
	}

	return int16(diff)
}
