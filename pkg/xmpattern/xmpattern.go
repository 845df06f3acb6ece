// Package xmpattern validates and re-packs compressed tracker pattern data.
//
// The source encoding is a token stream. Each row is a run of
// (channel, cell) pairs terminated by EndOfRow. A channel index must not go
// backwards within a row and must be below the channel count; channels that do
// not appear are empty. A cell is the packed FastTracker II note encoding: a
// descriptor byte with bit 7 set carries a 5-bit mask of the fields that follow
// (note, instrument, volume, effect, parameter), otherwise the descriptor is
// the note itself and the four remaining fields follow unpacked.
//
// The output encoding is standard XM packed pattern data, which has no channel
// indices: every channel of every row has a cell, and empty cells are written
// as a single EmptyCell byte.
package xmpattern

import (
	"errors"
	"fmt"
	"math/bits"
)

// Encoding constants.
const (
	EndOfRow      = 0xFF
	EmptyCell     = 0x80
	MaxDescriptor = 0x9F // bit 7 with all five field bits set

	packedFlag  = 0x80
	fieldMask   = 0x1F
	plainFields = 4
)

// Errors.
var ErrCorrupted = errors.New("xmpattern: corrupted pattern data")

// CellSize returns the number of bytes of a cell, descriptor included.
func CellSize(descriptor byte) int {
	if descriptor&packedFlag == 0 {
		return 1 + plainFields
	}

	return 1 + bits.OnesCount8(descriptor&fieldMask)
}

// Validate walks the token stream and returns the size of the re-packed
// pattern. Any structural violation returns an error wrapping ErrCorrupted.
func Validate(data []byte, channels, rows int) (int, error) {
	size := 0
	cursor := 0
	row := 0

	for i := 0; i < len(data); i++ {
		if data[i] == EndOfRow {
			row++
			if row == rows && i < len(data)-1 {
				return 0, fmt.Errorf("%w: %d trailing bytes after row %d", ErrCorrupted, len(data)-1-i, rows)
			}

			size += channels - cursor
			cursor = 0

			continue
		}

		channel := int(data[i])
		if channel >= channels || channel < cursor {
			return 0, fmt.Errorf("%w: channel %d out of range [%d, %d) at offset %d",
				ErrCorrupted, channel, cursor, channels, i)
		}

		size += channel - cursor
		cursor = channel

		i++
		if i >= len(data) {
			return 0, fmt.Errorf("%w: missing cell for channel %d", ErrCorrupted, channel)
		}

		descriptor := data[i]
		if descriptor&packedFlag != 0 && descriptor > MaxDescriptor {
			return 0, fmt.Errorf("%w: descriptor %#02x at offset %d", ErrCorrupted, descriptor, i)
		}

		cell := CellSize(descriptor)
		size += cell
		i += cell - 1
		cursor++

		if i >= len(data) {
			return 0, fmt.Errorf("%w: cell at offset %d runs past the end", ErrCorrupted, i-cell+1)
		}
	}

	return size, nil
}

// Repack converts a validated token stream to XM packed pattern data.
// The result for data that fails Validate is undefined.
func Repack(data []byte, channels int) []byte {
	out := make([]byte, 0, len(data)+channels)
	cursor := 0

	for i := 0; i < len(data); i++ {
		if data[i] == EndOfRow {
			out = appendEmpty(out, channels-cursor)
			cursor = 0

			continue
		}

		channel := int(data[i])
		out = appendEmpty(out, channel-cursor)
		cursor = channel + 1

		i++
		if i >= len(data) {
			break
		}

		end := min(i+CellSize(data[i]), len(data))
		out = append(out, data[i:end]...)
		i = end - 1
	}

	return out
}

// Blank returns an empty pattern of rows x channels cells.
func Blank(channels, rows int) []byte {
	return appendEmpty(nil, rows*channels)
}

// Normalize re-packs data, or returns a blank pattern together with the
// validation error when the data is corrupted.
func Normalize(data []byte, channels, rows int) ([]byte, error) {
	if _, err := Validate(data, channels, rows); err != nil {
		return Blank(channels, rows), err
	}

	return Repack(data, channels), nil
}

func appendEmpty(out []byte, n int) []byte {
	for range max(n, 0) {
		out = append(out, EmptyCell)
	}

	return out
}
