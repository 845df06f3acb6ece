package xmpattern

import (
	"bytes"
	"errors"
	"testing"
)

func TestCellSize(t *testing.T) {
	tests := []struct {
		descriptor byte
		want       int
	}{
		{0x00, 5},
		{0x31, 5}, // plain note
		{0x7F, 5},
		{0x80, 1},
		{0x81, 2},
		{0x83, 3},
		{0x95, 4},
		{0x9F, 6},
	}

	for _, tt := range tests {
		if got := CellSize(tt.descriptor); got != tt.want {
			t.Errorf("CellSize(%#02x): got %d, want %d", tt.descriptor, got, tt.want)
		}
	}
}

// TestEmptyRow checks that a lone row terminator expands to one empty cell per channel.
func TestEmptyRow(t *testing.T) {
	data := []byte{EndOfRow}

	size, err := Validate(data, 4, 1)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if size != 4 {
		t.Errorf("size: got %d, want 4", size)
	}

	want := []byte{EmptyCell, EmptyCell, EmptyCell, EmptyCell}
	if got := Repack(data, 4); !bytes.Equal(got, want) {
		t.Errorf("Repack: got % x, want % x", got, want)
	}
}

// TestRepackFillsSkippedChannels checks that skipped channels become empty cells
// and present cells are copied verbatim.
func TestRepackFillsSkippedChannels(t *testing.T) {
	data := []byte{
		// row 0: channel 1 packed note+instrument, channel 3 plain cell
		0x01, 0x83, 0x31, 0x02,
		0x03, 0x31, 0x01, 0x40, 0x0F, 0x06,
		EndOfRow,
		// row 1: channel 0 volume only, rest empty
		0x00, 0x84, 0x30,
		EndOfRow,
	}

	want := []byte{
		EmptyCell, 0x83, 0x31, 0x02, EmptyCell, 0x31, 0x01, 0x40, 0x0F, 0x06,
		0x84, 0x30, EmptyCell, EmptyCell, EmptyCell,
	}

	size, err := Validate(data, 4, 2)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if size != len(want) {
		t.Errorf("size: got %d, want %d", size, len(want))
	}

	got := Repack(data, 4)
	if !bytes.Equal(got, want) {
		t.Errorf("Repack:\n got % x\nwant % x", got, want)
	}
}

// TestRepackCanonical checks that a pattern listing every channel in every row
// keeps its cells byte for byte.
func TestRepackCanonical(t *testing.T) {
	cells := [][]byte{
		{0x31, 0x01, 0x40, 0x00, 0x00},
		{0x80},
		{0x9F, 0x32, 0x02, 0x30, 0x0A, 0x10},
		{0x81, 0x61},
	}

	var data, want []byte
	for range 2 {
		for ch, cell := range cells {
			data = append(data, byte(ch))
			data = append(data, cell...)
			want = append(want, cell...)
		}
		data = append(data, EndOfRow)
	}

	size, err := Validate(data, len(cells), 2)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if size != len(want) {
		t.Errorf("size: got %d, want %d", size, len(want))
	}

	if got := Repack(data, len(cells)); !bytes.Equal(got, want) {
		t.Errorf("Repack:\n got % x\nwant % x", got, want)
	}
}

// TestValidateCorrupted checks each independent corruption condition.
func TestValidateCorrupted(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		rows int
	}{
		{"channel out of range", []byte{0x04, 0x80, EndOfRow}, 1},
		{"channel goes backwards", []byte{0x02, 0x80, 0x01, 0x80, EndOfRow}, 1},
		{"channel repeated", []byte{0x01, 0x80, 0x01, 0x80, EndOfRow}, 1},
		{"descriptor too large", []byte{0x00, 0xA0, EndOfRow}, 1},
		{"descriptor 0xFE", []byte{0x00, 0xFE, EndOfRow}, 1},
		{"data after last row", []byte{EndOfRow, 0x00, 0x80, EndOfRow}, 1},
		{"missing cell", []byte{EndOfRow, 0x00}, 2},
		{"truncated packed cell", []byte{0x00, 0x83, 0x31}, 1},
		{"truncated plain cell", []byte{0x00, 0x31, 0x01, 0x02}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.data, 4, tt.rows)
			if !errors.Is(err, ErrCorrupted) {
				t.Fatalf("expected ErrCorrupted, got %v", err)
			}

			out, err := Normalize(tt.data, 4, tt.rows)
			if !errors.Is(err, ErrCorrupted) {
				t.Errorf("Normalize: expected ErrCorrupted, got %v", err)
			}

			if !bytes.Equal(out, Blank(4, tt.rows)) {
				t.Errorf("Normalize: expected blank pattern, got % x", out)
			}
		})
	}
}

// TestValidateLastRowAtEnd checks that the final terminator may be the last byte.
func TestValidateLastRowAtEnd(t *testing.T) {
	data := []byte{0x00, 0x80, EndOfRow, EndOfRow}

	size, err := Validate(data, 2, 2)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if size != 4 {
		t.Errorf("size: got %d, want 4", size)
	}
}

func TestValidateEmpty(t *testing.T) {
	size, err := Validate(nil, 4, 64)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if size != 0 {
		t.Errorf("size: got %d, want 0", size)
	}
}

func TestBlank(t *testing.T) {
	got := Blank(3, 4)
	if len(got) != 12 {
		t.Fatalf("length: got %d, want 12", len(got))
	}

	for i, b := range got {
		if b != EmptyCell {
			t.Errorf("byte %d: got %#02x, want %#02x", i, b, EmptyCell)
		}
	}

	if len(Blank(0, 64)) != 0 {
		t.Error("expected empty pattern for zero channels")
	}
}

// TestNormalizeValid checks that Normalize re-packs valid data.
func TestNormalizeValid(t *testing.T) {
	data := []byte{0x01, 0x81, 0x30, EndOfRow}

	out, err := Normalize(data, 2, 1)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	want := []byte{EmptyCell, 0x81, 0x30}
	if !bytes.Equal(out, want) {
		t.Errorf("Normalize: got % x, want % x", out, want)
	}
}
