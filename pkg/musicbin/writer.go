package musicbin

import (
	"encoding/binary"
	"fmt"
	"io"

	"driver-music/pkg/vag"
)

// Writer writes the records of an XM module.
type Writer struct {
	w       io.Writer
	written int64
}

// NewWriter creates a new Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

func (w *Writer) write(p []byte, what string) error {
	n, err := w.w.Write(p)
	w.written += int64(n)

	if err != nil {
		return fmt.Errorf("failed to write %s: %w", what, err)
	}

	return nil
}

// WriteModuleHeader writes the module header.
func (w *Writer) WriteModuleHeader(h *ModuleHeader) error {
	return w.write(h[:], "module header")
}

// WritePattern writes a pattern header followed by its packed data.
// The header's size field is expected to already match the data.
func (w *Writer) WritePattern(p *Pattern) error {
	if err := w.write(p.Header[:], "pattern header"); err != nil {
		return err
	}

	return w.write(p.Data, "pattern data")
}

// WriteInstrument writes an instrument record.
func (w *Writer) WriteInstrument(in Instrument) error {
	return w.write(in, "instrument")
}

// WriteSample writes a full XM sample header and the sample data.
// A nil sample writes a header for an empty sample.
func (w *Writer) WriteSample(h *SampleHeader, s *vag.Sample) error {
	var prefix [SamplePrefixSize]byte

	if s != nil {
		// Length and loop fields
		binary.LittleEndian.PutUint32(prefix[0:], uint32(s.ByteLength()))
		binary.LittleEndian.PutUint32(prefix[4:], uint32(s.LoopStartBytes()))
		binary.LittleEndian.PutUint32(prefix[8:], uint32(s.LoopLengthBytes()))
	}

	if err := w.write(prefix[:], "sample length"); err != nil {
		return err
	}

	if err := w.write(h[:], "sample header"); err != nil {
		return err
	}

	if s == nil {
		return nil
	}

	return w.write(s.Bytes(), "sample data")
}

// WriteRaw writes bytes that are copied through unchanged.
func (w *Writer) WriteRaw(p []byte) error {
	return w.write(p, "module data")
}
