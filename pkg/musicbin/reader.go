package musicbin

import (
	"encoding/binary"
	"fmt"
	"io"

	"driver-music/pkg/vag"
)

// Reader reads records from a MUSIC.BIN archive.
type Reader struct {
	r       io.ReadSeeker
	offsets OffsetTable
}

// NewReader creates a new Reader and reads the offset table.
// The archive has no signature, so any input of sufficient length is accepted.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	reader := &Reader{r: r}

	err := reader.readOffsetTable()
	if err != nil {
		return nil, err
	}

	return reader, nil
}

// readOffsetTable reads the module and sound bank offsets.
func (r *Reader) readOffsetTable() error {
	if _, err := r.r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", ErrTruncated, err)
	}

	err := binary.Read(r.r, binary.LittleEndian, &r.offsets)
	if err != nil {
		return fmt.Errorf("%w: offset table: %w", ErrTruncated, err)
	}

	return nil
}

// Offsets returns a copy of the offset table.
func (r *Reader) Offsets() OffsetTable {
	return r.offsets
}

// readAt fills buf from the given archive offset.
func (r *Reader) readAt(offset int64, buf []byte) error {
	if _, err := r.r.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to %d: %w", ErrTruncated, offset, err)
	}

	if _, err := io.ReadFull(r.r, buf); err != nil {
		return fmt.Errorf("%w: %d bytes at %d: %w", ErrTruncated, len(buf), offset, err)
	}

	return nil
}

// ReadModuleHeader reads the module header at offset.
func (r *Reader) ReadModuleHeader(offset int64) (*ModuleHeader, error) {
	var header ModuleHeader

	err := r.readAt(offset, header[:])
	if err != nil {
		return nil, err
	}

	return &header, nil
}

// ReadPattern reads a pattern header and its packed data at offset.
func (r *Reader) ReadPattern(offset int64) (*Pattern, error) {
	pattern := &Pattern{}

	err := r.readAt(offset, pattern.Header[:])
	if err != nil {
		return nil, err
	}

	pattern.Data = make([]byte, pattern.Header.PackedSize())

	// Continue reading right after the header
	if _, err := io.ReadFull(r.r, pattern.Data); err != nil {
		return nil, fmt.Errorf("%w: pattern data at %d: %w", ErrTruncated, offset+PatternHeaderSize, err)
	}

	return pattern, nil
}

// ReadSampleBank reads the sound bank table at offset.
func (r *Reader) ReadSampleBank(offset int64) (*SampleBank, error) {
	if _, err := r.r.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek to %d: %w", ErrTruncated, offset, err)
	}

	var count uint32
	if err := binary.Read(r.r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: sample count at %d: %w", ErrTruncated, offset, err)
	}

	bank := &SampleBank{Offset: offset}

	// A bogus count fails on the first short read.
	for i := range count {
		var entry SampleBankEntry
		if err := binary.Read(r.r, binary.LittleEndian, &entry); err != nil {
			return nil, fmt.Errorf("%w: sample entry %d: %w", ErrTruncated, i, err)
		}

		bank.Entries = append(bank.Entries, entry)
	}

	return bank, nil
}

// ReadInstrument reads the self-sized instrument record at offset.
func (r *Reader) ReadInstrument(offset int64) (Instrument, error) {
	var size [4]byte

	err := r.readAt(offset, size[:])
	if err != nil {
		return nil, err
	}

	length := int32(binary.LittleEndian.Uint32(size[:]))
	if length < instrumentMinSize {
		return nil, fmt.Errorf("%w: instrument at %d has size %d", ErrInvalidRecord, offset, length)
	}

	record := make(Instrument, length)
	copy(record, size[:])

	if _, err := io.ReadFull(r.r, record[len(size):]); err != nil {
		return nil, fmt.Errorf("%w: instrument at %d: %w", ErrTruncated, offset, err)
	}

	return record, nil
}

// ReadSampleHeader reads the fixed part of a sample header at offset.
func (r *Reader) ReadSampleHeader(offset int64) (*SampleHeader, error) {
	var header SampleHeader

	err := r.readAt(offset, header[:])
	if err != nil {
		return nil, err
	}

	return &header, nil
}

// ReadEncodedSample reads the ADPCM data of sound bank entry i.
//
// Samples are stored with a trailing block that the SPU needs but that carries no
// audio. It is dropped for one-shot samples, and for looping samples whose last
// block has no flags set.
func (r *Reader) ReadEncodedSample(bank *SampleBank, i int) (*EncodedSample, error) {
	if i < 0 || i >= len(bank.Entries) {
		return nil, fmt.Errorf("%w: sample %d of %d", ErrInvalidRecord, i, len(bank.Entries))
	}

	entry := bank.Entries[i]
	start := bank.DataOffset() + int64(entry.Offset)
	size := int64(entry.Size)
	sample := &EncodedSample{Entry: entry}

	if size >= vag.BlockSize {
		var last [4]byte

		err := r.readAt(start+size-vag.BlockSize, last[:])
		if err != nil {
			return nil, err
		}

		flags := last[paddingFlagOffset]
		if entry.LoopFlag == LoopNone || (entry.LoopFlag == LoopForward && flags == 0) {
			size -= vag.BlockSize
			sample.Trimmed = true
		}
	}

	if size == 0 {
		return sample, nil
	}

	sample.Data = make([]byte, size)

	err := r.readAt(start, sample.Data)
	if err != nil {
		return nil, err
	}

	return sample, nil
}

// ReadRange reads the bytes in [from, to). An empty or inverted range returns nil.
func (r *Reader) ReadRange(from, to int64) ([]byte, error) {
	if to <= from {
		return nil, nil
	}

	buf := make([]byte, to-from)

	err := r.readAt(from, buf)
	if err != nil {
		return nil, err
	}

	return buf, nil
}
