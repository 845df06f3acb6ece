package musicbin

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"

	"driver-music/pkg/vag"
	"driver-music/pkg/xmpattern"
)

// Option configures a conversion.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for per-module diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// PatternReport describes one converted pattern.
type PatternReport struct {
	Index      int
	Rows       int
	PackedSize int // source size
	OutputSize int
	Err        error // validation error when the pattern was replaced by a blank one
}

// Corrupted reports whether the pattern was replaced by a blank one.
func (p *PatternReport) Corrupted() bool {
	return p.Err != nil
}

// InstrumentReport describes one converted instrument and its sample.
type InstrumentReport struct {
	Index       int
	Size        int
	HasSample   bool
	LoopFlag    uint32
	StoredSize  int  // ADPCM bytes stored in the sound bank
	EncodedSize int  // ADPCM bytes decoded, after padding removal
	Trimmed     bool // padding block removed
	Length      int  // decoded sample length in bytes
	LoopStart   int  // in bytes
	LoopLength  int  // in bytes
}

// ModuleReport summarises the conversion of one module.
type ModuleReport struct {
	Index         int
	Channels      int
	Instruments   []InstrumentReport
	Patterns      []PatternReport
	SampleCount   int // sound bank entries
	TrailingBytes int
	Size          int64 // bytes written
}

// CorruptedPatterns returns the number of patterns replaced by blank ones.
func (m *ModuleReport) CorruptedPatterns() int {
	n := 0
	for i := range m.Patterns {
		if m.Patterns[i].Corrupted() {
			n++
		}
	}

	return n
}

// Convert converts module index of the archive and returns the complete XM file.
func Convert(r *Reader, index int, opts ...Option) ([]byte, *ModuleReport, error) {
	var buf bytes.Buffer

	report, err := ConvertModule(r, index, &buf, opts...)
	if err != nil {
		return nil, nil, err
	}

	return buf.Bytes(), report, nil
}

// ConvertModule converts module index of the archive and writes it to w as an XM file.
func ConvertModule(r *Reader, index int, w io.Writer, opts ...Option) (*ModuleReport, error) {
	if index < 0 || index >= ModuleCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidModule, index)
	}

	o := buildOptions(opts)
	logger := o.logger.With("module", index+1)
	out := NewWriter(w)

	pos := r.offsets.ModuleOffset(index)
	bankOffset := r.offsets.SampleBankOffset(index)

	// Module header
	header, err := r.ReadModuleHeader(pos)
	if err != nil {
		return nil, fmt.Errorf("module %d header: %w", index+1, err)
	}

	pos += ModuleHeaderSize

	report := &ModuleReport{
		Index:    index,
		Channels: header.Channels(),
	}

	logger.Debug("Module header",
		"channels", header.Channels(), "patterns", header.Patterns(),
		"instruments", header.Instruments(), "version", fmt.Sprintf("%#04x", header.Version()))

	header.SetVersion(XMVersion)

	if err := out.WriteModuleHeader(header); err != nil {
		return nil, err
	}

	// Patterns
	for i := range header.Patterns() {
		pattern, err := r.ReadPattern(pos)
		if err != nil {
			return nil, fmt.Errorf("module %d pattern %d: %w", index+1, i, err)
		}

		pos += PatternHeaderSize + int64(len(pattern.Data))

		pr := convertPattern(pattern, header.Channels(), i)
		if pr.Corrupted() {
			logger.Warn("Corrupted pattern replaced with an empty one", "pattern", i, "rows", pr.Rows, "error", pr.Err)
		} else {
			logger.Debug("Pattern", "pattern", i, "rows", pr.Rows, "in", pr.PackedSize, "out", pr.OutputSize)
		}

		if pr.OutputSize > math.MaxUint16 {
			logger.Warn("Pattern data exceeds the XM size field", "pattern", i, "size", pr.OutputSize)
		}

		report.Patterns = append(report.Patterns, pr)

		if err := out.WritePattern(pattern); err != nil {
			return nil, err
		}
	}

	// Sound bank
	bank, err := r.ReadSampleBank(bankOffset)
	if err != nil {
		return nil, fmt.Errorf("module %d sound bank: %w", index+1, err)
	}

	report.SampleCount = len(bank.Entries)

	instruments := header.Instruments()
	if len(bank.Entries) < instruments {
		logger.Debug("Sound bank has fewer samples than instruments",
			"instruments", instruments, "samples", len(bank.Entries))

		instruments = len(bank.Entries)
	}

	// Instruments and their samples
	for i := range instruments {
		ir, next, err := convertInstrument(r, out, bank, pos, i)
		if err != nil {
			return nil, fmt.Errorf("module %d instrument %d: %w", index+1, i+1, err)
		}

		pos = next

		if ir.HasSample {
			logger.Debug("Sample", "instrument", i+1, "encoded", ir.EncodedSize, "trimmed", ir.Trimmed,
				"length", ir.Length, "loopStart", ir.LoopStart, "loopLength", ir.LoopLength)
		}

		report.Instruments = append(report.Instruments, ir)
	}

	// Anything left before the sound bank is copied as-is
	trailing, err := r.ReadRange(pos, bankOffset)
	if err != nil {
		return nil, fmt.Errorf("module %d trailing data: %w", index+1, err)
	}

	if err := out.WriteRaw(trailing); err != nil {
		return nil, err
	}

	report.TrailingBytes = len(trailing)
	report.Size = out.Written()

	logger.Info("Module converted",
		"patterns", len(report.Patterns), "corrupted", report.CorruptedPatterns(),
		"instruments", len(report.Instruments), "bytes", report.Size)

	return report, nil
}

// convertPattern re-packs the pattern in place and updates its size field.
func convertPattern(p *Pattern, channels, index int) PatternReport {
	pr := PatternReport{
		Index:      index,
		Rows:       p.Header.Rows(),
		PackedSize: len(p.Data),
	}

	p.Data, pr.Err = xmpattern.Normalize(p.Data, channels, pr.Rows)
	p.Header.SetPackedSize(len(p.Data))
	pr.OutputSize = len(p.Data)

	return pr
}

// convertInstrument copies the instrument record at pos and, when it has one,
// decodes and writes its sample. It returns the position after the records.
func convertInstrument(r *Reader, out *Writer, bank *SampleBank, pos int64, index int) (InstrumentReport, int64, error) {
	ir := InstrumentReport{Index: index}

	record, err := r.ReadInstrument(pos)
	if err != nil {
		return ir, 0, err
	}

	pos += int64(len(record))
	ir.Size = len(record)
	ir.HasSample = record.HasSample()

	record.ClearType()

	if err := out.WriteInstrument(record); err != nil {
		return ir, 0, err
	}

	if !ir.HasSample {
		return ir, pos, nil
	}

	pos += sampleHeaderGap

	encoded, err := r.ReadEncodedSample(bank, index)
	if err != nil {
		return ir, 0, err
	}

	ir.LoopFlag = encoded.Entry.LoopFlag
	ir.StoredSize = int(encoded.Entry.Size)
	ir.EncodedSize = len(encoded.Data)
	ir.Trimmed = encoded.Trimmed

	sample, err := decodeSample(encoded)
	if err != nil {
		return ir, 0, err
	}

	if sample != nil {
		ir.Length = sample.ByteLength()
		ir.LoopStart = sample.LoopStartBytes()
		ir.LoopLength = sample.LoopLengthBytes()
	}

	header, err := r.ReadSampleHeader(pos)
	if err != nil {
		return ir, 0, err
	}

	pos += SampleHeaderSize

	header.ClearPacking()

	if err := out.WriteSample(header, sample); err != nil {
		return ir, 0, err
	}

	return ir, pos, nil
}

// decodeSample decodes the ADPCM data. It returns nil when there is no audio.
func decodeSample(encoded *EncodedSample) (*vag.Sample, error) {
	if len(encoded.Data) == 0 {
		return nil, nil
	}

	sample, err := vag.Decode(encoded.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSampleData, err)
	}

	return sample, nil
}
