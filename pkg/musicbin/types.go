// Package musicbin reads the MUSIC.BIN archive used by the PlayStation releases
// of Driver and Driver 2 and writes its modules back out as FastTracker II XM files.
//
// The archive has no header of its own. It starts with a table of 17 little-endian
// 32-bit offsets: for each of the eight modules, the offset of its module record
// followed by the offset of its sound bank. The module record is an XM file whose
// sample data has been moved to the sound bank as PlayStation ADPCM and whose
// pattern data uses an indexed-channel packing. The sound bank is a 32-bit count,
// count entries of (offset, size, loop flag, reserved), then the ADPCM data.
package musicbin

import (
	"encoding/binary"
	"errors"
)

// Archive layout.
const (
	ModuleCount       = 8
	OffsetTableLength = 2*ModuleCount + 1
	OffsetTableSize   = OffsetTableLength * 4

	ModuleHeaderSize    = 336
	PatternHeaderSize   = 9
	SampleHeaderSize    = 28
	SampleBankEntrySize = 16
	SamplePrefixSize    = 12 // length, loop start, loop length
)

// Module header fields, as indices of 16-bit words.
const (
	fieldVersion     = 29
	fieldChannels    = 34
	fieldPatterns    = 35
	fieldInstruments = 36
)

// XMVersion is the FastTracker II format version written to converted modules.
const XMVersion uint16 = 0x0104

// Byte offsets inside the smaller records.
const (
	patternRowsOffset = 5
	patternSizeOffset = 7

	instrumentTypeOffset      = 26
	instrumentHasSampleOffset = 27 // low byte of the sample count
	instrumentMinSize         = instrumentHasSampleOffset + 1

	samplePackingOffset = 5 // reserved byte of the XM sample header, 0xAD marks packed data

	// Bytes between an instrument record and its sample header in the archive.
	// They hold the XM length and loop fields, which are recomputed on output.
	sampleHeaderGap = SamplePrefixSize

	// Byte of the padding block that holds its ADPCM flags.
	paddingFlagOffset = 1
)

// Loop flag values found in the sound bank.
const (
	LoopNone    uint32 = 0
	LoopForward uint32 = 1
)

// Errors.
var (
	ErrTruncated     = errors.New("musicbin: unexpected end of archive")
	ErrInvalidModule = errors.New("musicbin: invalid module index")
	ErrInvalidRecord = errors.New("musicbin: invalid record")
	ErrSampleData    = errors.New("musicbin: invalid sample data")
)

// OffsetTable is the table of module and sound bank offsets at the start of the archive.
type OffsetTable [OffsetTableLength]uint32

// ModuleOffset returns the offset of module i's record.
func (t *OffsetTable) ModuleOffset(i int) int64 {
	return int64(t[i*2])
}

// SampleBankOffset returns the offset of module i's sound bank.
func (t *OffsetTable) SampleBankOffset(i int) int64 {
	return int64(t[i*2+1])
}

// ModuleHeader is the XM module header, including the pattern order table.
type ModuleHeader [ModuleHeaderSize]byte

func (h *ModuleHeader) field(i int) uint16 {
	return binary.LittleEndian.Uint16(h[i*2:])
}

// Channels returns the number of channels.
func (h *ModuleHeader) Channels() int {
	return int(h.field(fieldChannels))
}

// Patterns returns the number of patterns.
func (h *ModuleHeader) Patterns() int {
	return int(h.field(fieldPatterns))
}

// Instruments returns the number of instruments.
func (h *ModuleHeader) Instruments() int {
	return int(h.field(fieldInstruments))
}

// Version returns the format version field.
func (h *ModuleHeader) Version() uint16 {
	return h.field(fieldVersion)
}

// SetVersion overwrites the format version field.
func (h *ModuleHeader) SetVersion(v uint16) {
	binary.LittleEndian.PutUint16(h[fieldVersion*2:], v)
}

// PatternHeader precedes every pattern's packed data.
type PatternHeader [PatternHeaderSize]byte

// Rows returns the number of rows in the pattern.
func (h *PatternHeader) Rows() int {
	return int(binary.LittleEndian.Uint16(h[patternRowsOffset:]))
}

// PackedSize returns the length of the packed pattern data.
func (h *PatternHeader) PackedSize() int {
	return int(binary.LittleEndian.Uint16(h[patternSizeOffset:]))
}

// SetPackedSize overwrites the packed data length.
func (h *PatternHeader) SetPackedSize(size int) {
	binary.LittleEndian.PutUint16(h[patternSizeOffset:], uint16(size))
}

// Pattern is a pattern header with its packed data.
type Pattern struct {
	Header PatternHeader
	Data   []byte
}

// Instrument is an XM instrument record. Its length is stored in its first four bytes.
type Instrument []byte

// HasSample reports whether a sample header follows the record.
func (in Instrument) HasSample() bool {
	return in[instrumentHasSampleOffset] != 0
}

// ClearType zeroes the instrument type byte, which precedes the sample count.
func (in Instrument) ClearType() {
	in[instrumentTypeOffset] = 0
}

// SampleHeader is the fixed part of an XM sample header, without the length and loop fields.
type SampleHeader [SampleHeaderSize]byte

// ClearPacking zeroes the byte that marks sample data as packed.
func (h *SampleHeader) ClearPacking() {
	h[samplePackingOffset] = 0
}

// SampleBankEntry locates one instrument's ADPCM data.
type SampleBankEntry struct {
	Offset   uint32 // relative to the sound bank's data start
	Size     uint32
	LoopFlag uint32
	Reserved uint32
}

// SampleBank is the table at the start of a module's sound bank.
type SampleBank struct {
	Offset  int64 // archive offset of the table
	Entries []SampleBankEntry
}

// DataOffset returns the archive offset of the first byte of sample data.
func (b *SampleBank) DataOffset() int64 {
	return b.Offset + int64(len(b.Entries))*SampleBankEntrySize + 4
}

// EncodedSample is an instrument's ADPCM data after the padding block has been
// removed. Data is nil when nothing remains.
type EncodedSample struct {
	Entry   SampleBankEntry
	Data    []byte
	Trimmed bool
}
