// Package testarchive builds synthetic MUSIC.BIN archives for tests.
package testarchive

import (
	"bytes"
	"encoding/binary"
)

// Layout sizes, duplicated here so the builder does not depend on the package under test.
const (
	moduleCount       = 8
	offsetTableSize   = 68
	moduleHeaderSize  = 336
	sampleHeaderSize  = 28
	sampleHeaderGap   = 12
	instrumentMinSize = 29
)

// Pattern is one source pattern.
type Pattern struct {
	Rows int
	Data []byte // indexed-channel token stream
}

// Instrument is one source instrument and, optionally, its sample.
type Instrument struct {
	Size         int // record size, at least 29
	Name         string
	Type         byte // byte 26 of the record
	HasSample    bool
	SampleHeader [sampleHeaderSize]byte

	// Sound bank entry for this instrument. ADPCM is stored as given.
	ADPCM    []byte
	LoopFlag uint32
	Reserved uint32
}

// Module is one source module.
type Module struct {
	Channels    int
	Version     uint16
	Patterns    []Pattern
	Instruments []Instrument

	// ExtraSamples adds sound bank entries without an instrument.
	ExtraSamples [][]byte

	// SampleLimit, when positive, caps the number of instruments that get a
	// sound bank entry.
	SampleLimit int

	// Trailer is written between the last instrument and the sound bank.
	Trailer []byte
}

// Header returns the 336-byte module header for m.
func (m *Module) Header() []byte {
	h := make([]byte, moduleHeaderSize)
	copy(h, "Extended Module: ")
	copy(h[17:], "synthetic")
	h[37] = 0x1A

	version := m.Version
	if version == 0 {
		version = 0x0102
	}

	binary.LittleEndian.PutUint16(h[58:], version)
	binary.LittleEndian.PutUint32(h[60:], moduleHeaderSize-60)
	binary.LittleEndian.PutUint16(h[64:], uint16(max(len(m.Patterns), 1)))
	binary.LittleEndian.PutUint16(h[68:], uint16(m.Channels))
	binary.LittleEndian.PutUint16(h[70:], uint16(len(m.Patterns)))
	binary.LittleEndian.PutUint16(h[72:], uint16(len(m.Instruments)))

	for i := range m.Patterns {
		h[80+i] = byte(i)
	}

	return h
}

// PatternHeader returns the 9-byte header for p.
func PatternHeader(p Pattern) []byte {
	h := make([]byte, 9)
	binary.LittleEndian.PutUint32(h[0:], 9)
	binary.LittleEndian.PutUint16(h[5:], uint16(p.Rows))
	binary.LittleEndian.PutUint16(h[7:], uint16(len(p.Data)))

	return h
}

// Record returns the instrument record for in.
func (in *Instrument) Record() []byte {
	size := max(in.Size, instrumentMinSize)

	rec := make([]byte, size)
	binary.LittleEndian.PutUint32(rec[0:], uint32(size))
	copy(rec[4:26], in.Name)
	rec[26] = in.Type

	if in.HasSample {
		rec[27] = 1
	}

	return rec
}

// Build lays out an archive containing modules. Missing modules are empty.
func Build(modules ...Module) []byte {
	var archive bytes.Buffer

	offsets := make([]uint32, 2*moduleCount+1)
	archive.Write(make([]byte, offsetTableSize))

	for i := range moduleCount {
		var m Module
		if i < len(modules) {
			m = modules[i]
		}

		offsets[i*2] = uint32(archive.Len())

		writeModule(&archive, &m)

		offsets[i*2+1] = uint32(archive.Len())

		writeSoundBank(&archive, &m)
	}

	out := archive.Bytes()
	for i, off := range offsets {
		binary.LittleEndian.PutUint32(out[i*4:], off)
	}

	return out
}

func writeModule(buf *bytes.Buffer, m *Module) {
	buf.Write(m.Header())

	for _, p := range m.Patterns {
		buf.Write(PatternHeader(p))
		buf.Write(p.Data)
	}

	for i := range m.Instruments {
		in := &m.Instruments[i]
		buf.Write(in.Record())

		if !in.HasSample {
			continue
		}

		// Stale XM length fields, recomputed by the converter
		gap := make([]byte, sampleHeaderGap)
		for j := range gap {
			gap[j] = 0xEE
		}

		buf.Write(gap)
		buf.Write(in.SampleHeader[:])
	}

	buf.Write(m.Trailer)
}

func writeSoundBank(buf *bytes.Buffer, m *Module) {
	type entry struct {
		data               []byte
		loopFlag, reserved uint32
	}

	instruments := m.Instruments
	if m.SampleLimit > 0 && m.SampleLimit < len(instruments) {
		instruments = instruments[:m.SampleLimit]
	}

	entries := make([]entry, 0, len(instruments)+len(m.ExtraSamples))
	for _, in := range instruments {
		entries = append(entries, entry{in.ADPCM, in.LoopFlag, in.Reserved})
	}

	for _, data := range m.ExtraSamples {
		entries = append(entries, entry{data: data, loopFlag: 1})
	}

	_ = binary.Write(buf, binary.LittleEndian, uint32(len(entries)))

	offset := uint32(0)
	for _, e := range entries {
		_ = binary.Write(buf, binary.LittleEndian, [4]uint32{offset, uint32(len(e.data)), e.loopFlag, e.reserved})
		offset += uint32(len(e.data))
	}

	for _, e := range entries {
		buf.Write(e.data)
	}
}

// Block returns one 16-byte ADPCM block.
func Block(param, flags byte, packed ...byte) []byte {
	b := make([]byte, 16)
	b[0] = param
	b[1] = flags
	copy(b[2:], packed)

	return b
}

// Blocks concatenates ADPCM blocks.
func Blocks(blocks ...[]byte) []byte {
	var out []byte
	for _, b := range blocks {
		out = append(out, b...)
	}

	return out
}
