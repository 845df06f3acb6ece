package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nsf/termbox-go"

	"driver-music/internal/testarchive"
	"driver-music/pkg/musicbin"
	"driver-music/pkg/xmpattern"
)

func writeArchive(t *testing.T, modules ...testarchive.Module) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "MUSIC.BIN")
	if err := os.WriteFile(path, testarchive.Build(modules...), 0o644); err != nil {
		t.Fatalf("Failed to write archive: %v", err)
	}

	return path
}

func integrationModule() testarchive.Module {
	return testarchive.Module{
		Channels: 2,
		Patterns: []testarchive.Pattern{
			{Rows: 2, Data: []byte{0x00, 0x81, 0x30, xmpattern.EndOfRow, xmpattern.EndOfRow}},
			{Rows: 1, Data: []byte{0x07, 0x80, xmpattern.EndOfRow}},
		},
		Instruments: []testarchive.Instrument{
			{Name: "lead"},
			{
				Name:         "bass",
				HasSample:    true,
				SampleHeader: [28]byte{0: 0x40, 2: 0x11, 3: 0x80, 5: 0xAD},
				ADPCM: testarchive.Blocks(
					testarchive.Block(0x0C, 0x06, 0x21),
					testarchive.Block(0x00, 0x03),
				),
				LoopFlag: musicbin.LoopForward,
			},
		},
		Trailer: []byte("end"),
	}
}

// TestIntegrationLoadArchive converts a whole archive in memory.
func TestIntegrationLoadArchive(t *testing.T) {
	path := writeArchive(t, testarchive.Module{}, integrationModule())

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	modules, err := loadArchive(path, logger)
	if err != nil {
		t.Fatalf("loadArchive failed: %v", err)
	}

	if len(modules) != musicbin.ModuleCount {
		t.Fatalf("modules: got %d, want %d", len(modules), musicbin.ModuleCount)
	}

	report := modules[1].Report
	if report.Index != 1 || report.CorruptedPatterns() != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	if int64(len(modules[1].Data)) != report.Size {
		t.Errorf("data size: got %d, want %d", len(modules[1].Data), report.Size)
	}

	ir := report.Instruments[1]
	if ir.Length != 112 || ir.LoopStart != 0 || ir.LoopLength != 112 || ir.Trimmed {
		t.Errorf("unexpected sample report: %+v", ir)
	}

	if !strings.Contains(logs.String(), "Corrupted pattern replaced with an empty one") {
		t.Error("expected a warning for the corrupted pattern")
	}
}

func TestIntegrationLoadArchiveMissing(t *testing.T) {
	_, err := loadArchive(filepath.Join(t.TempDir(), "none.bin"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

// TestIntegrationWriteModules checks that written files match the in-memory modules.
func TestIntegrationWriteModules(t *testing.T) {
	path := writeArchive(t, integrationModule())

	modules, err := loadArchive(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("loadArchive failed: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "xm")
	if err := writeModules(dir, modules); err != nil {
		t.Fatalf("writeModules failed: %v", err)
	}

	for i, m := range modules {
		data, err := os.ReadFile(filepath.Join(dir, "Music "+string(rune('1'+i))+".xm"))
		if err != nil {
			t.Fatalf("module %d not written: %v", i+1, err)
		}

		if !bytes.Equal(data, m.Data) {
			t.Errorf("module %d: file differs from converted data", i+1)
		}
	}
}

func TestIntegrationPrintReport(t *testing.T) {
	path := writeArchive(t, integrationModule())

	modules, err := loadArchive(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("loadArchive failed: %v", err)
	}

	var out bytes.Buffer
	printReport(&out, modules)

	text := out.String()
	for _, want := range []string{
		"Music 1: 2 channels, 2 patterns (1 corrupted), 2 instruments, 2 samples",
		"Pattern   0:   2 rows,     5 ->     5 bytes",
		"Pattern   1:   1 rows,     3 ->     2 bytes CORRUPTED (corrupted pattern data: channel 7",
		"Instrument   1: no sample",
		"Instrument   2:     32 ADPCM ->     112 PCM bytes, loop 0+112",
		"Music 8: 0 channels",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q\n%s", want, text)
		}
	}
}

func TestInstrumentLine(t *testing.T) {
	tests := []struct {
		ir   musicbin.InstrumentReport
		want string
	}{
		{musicbin.InstrumentReport{Index: 0}, "Instrument   1: no sample"},
		{musicbin.InstrumentReport{Index: 4, HasSample: true, Trimmed: true}, "Instrument   5: empty sample"},
		{
			musicbin.InstrumentReport{Index: 1, HasSample: true, EncodedSize: 16, Length: 56, Trimmed: true},
			"Instrument   2:     16 ADPCM ->      56 PCM bytes, padding removed",
		},
	}

	for _, tt := range tests {
		if got := instrumentLine(&tt.ir); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

// TestTUINavigation checks key handling without a terminal.
func TestTUINavigation(t *testing.T) {
	path := writeArchive(t, integrationModule(), integrationModule())

	modules, err := loadArchive(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("loadArchive failed: %v", err)
	}

	s := newTUIState(modules, 42)
	if s.current != 0 {
		t.Fatalf("initial module: got %d, want 0", s.current)
	}

	handleKey(termbox.Event{Type: termbox.EventKey, Key: termbox.KeyArrowLeft}, s)
	if s.current != musicbin.ModuleCount-1 {
		t.Errorf("left from first module: got %d", s.current)
	}

	handleKey(termbox.Event{Type: termbox.EventKey, Ch: '2'}, s)
	if s.current != 1 {
		t.Errorf("select by number: got %d, want 1", s.current)
	}

	// Two patterns: the cursor stops on the last one
	handleKey(termbox.Event{Type: termbox.EventKey, Key: termbox.KeyPgdn}, s)
	if s.cursor != 1 {
		t.Errorf("cursor after PgDn: got %d, want 1", s.cursor)
	}

	handleKey(termbox.Event{Type: termbox.EventKey, Key: termbox.KeyTab}, s)
	if s.view != viewInstruments || s.cursor != 0 {
		t.Errorf("after Tab: view %d, cursor %d", s.view, s.cursor)
	}

	if lines := s.lines(); len(lines) != 2 || !strings.Contains(lines[1], "PCM bytes") {
		t.Errorf("instrument lines: %q", lines)
	}

	handleKey(termbox.Event{Type: termbox.EventKey, Key: termbox.KeyArrowUp}, s)
	if s.cursor != 0 {
		t.Errorf("cursor above first line: got %d, want 0", s.cursor)
	}

	handleKey(termbox.Event{Type: termbox.EventKey, Ch: 'q'}, s)
	if !s.exit {
		t.Error("expected exit after 'q'")
	}
}

type recordedSelection struct {
	module int
	view   string
	line   int
}

type selectionRecorder struct {
	changes []recordedSelection
}

func (r *selectionRecorder) OnSelectionChange(module int, view string, line int) {
	r.changes = append(r.changes, recordedSelection{module, view, line})
}

// TestTUISelectionListener checks that only real selection changes are reported.
func TestTUISelectionListener(t *testing.T) {
	path := writeArchive(t, integrationModule(), integrationModule())

	modules, err := loadArchive(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("loadArchive failed: %v", err)
	}

	rec := &selectionRecorder{}
	s := newTUIState(modules, 0)
	s.AddSelectionListener(rec)

	handleKey(termbox.Event{Type: termbox.EventKey, Key: termbox.KeyArrowUp}, s) // already at the top
	handleKey(termbox.Event{Type: termbox.EventKey, Key: termbox.KeyArrowDown}, s)
	handleKey(termbox.Event{Type: termbox.EventKey, Key: termbox.KeyTab}, s)
	handleKey(termbox.Event{Type: termbox.EventKey, Ch: '2'}, s)
	handleKey(termbox.Event{Type: termbox.EventKey, Ch: '2'}, s) // no change
	handleKey(termbox.Event{Type: termbox.EventKey, Ch: 'q'}, s)

	want := []recordedSelection{
		{0, "patterns", 1},
		{0, "instruments", 0},
		{1, "instruments", 0},
	}

	if len(rec.changes) != len(want) {
		t.Fatalf("changes: got %+v, want %+v", rec.changes, want)
	}

	for i := range want {
		if rec.changes[i] != want[i] {
			t.Errorf("change %d: got %+v, want %+v", i, rec.changes[i], want[i])
		}
	}
}

// xmLayout is the structure of an XM file as a tracker loader walks it.
type xmLayout struct {
	channels    int
	cells       []int // decoded cells per pattern
	rows        []int
	sampleBytes []int // per instrument, -1 without a sample
	trailing    int   // bytes after the last sample
}

// walkXM walks an XM file the way a loader does: header, packed patterns cell
// by cell, instrument records, 40-byte sample headers and sample data.
func walkXM(data []byte) (*xmLayout, error) {
	if len(data) < 80 || !bytes.HasPrefix(data, []byte("Extended Module: ")) || data[37] != 0x1A {
		return nil, errors.New("missing XM signature")
	}

	if v := binary.LittleEndian.Uint16(data[58:]); v != 0x0104 {
		return nil, fmt.Errorf("version %#04x", v)
	}

	layout := &xmLayout{channels: int(binary.LittleEndian.Uint16(data[68:]))}
	patterns := int(binary.LittleEndian.Uint16(data[70:]))
	instruments := int(binary.LittleEndian.Uint16(data[72:]))
	pos := 60 + int(binary.LittleEndian.Uint32(data[60:]))

	need := func(n int, what string) error {
		if pos+n > len(data) {
			return fmt.Errorf("%s at %d runs past the end", what, pos)
		}

		return nil
	}

	for i := range patterns {
		if err := need(9, "pattern header"); err != nil {
			return nil, err
		}

		if data[pos+4] != 0 {
			return nil, fmt.Errorf("pattern %d: packing type %d", i, data[pos+4])
		}

		rows := int(binary.LittleEndian.Uint16(data[pos+5:]))
		size := int(binary.LittleEndian.Uint16(data[pos+7:]))
		pos += int(binary.LittleEndian.Uint32(data[pos:]))

		if err := need(size, "pattern data"); err != nil {
			return nil, err
		}

		// An empty pattern is stored without data
		cells := 0
		if size == 0 {
			cells = rows * layout.channels
		}

		at := pos
		for ; at < pos+size; cells++ {
			flags := data[at]
			if flags&0x80 == 0 {
				at += 5
				continue
			}

			at++
			for bit := range 5 {
				if flags&(1<<bit) != 0 {
					at++
				}
			}
		}

		if at != pos+size {
			return nil, fmt.Errorf("pattern %d: last cell ends %d bytes past the data", i, at-pos-size)
		}

		layout.rows = append(layout.rows, rows)
		layout.cells = append(layout.cells, cells)
		pos += size
	}

	for i := range instruments {
		if err := need(29, "instrument"); err != nil {
			return nil, err
		}

		samples := int(binary.LittleEndian.Uint16(data[pos+27:]))
		pos += int(binary.LittleEndian.Uint32(data[pos:]))

		if samples == 0 {
			layout.sampleBytes = append(layout.sampleBytes, -1)
			continue
		}

		if samples != 1 {
			return nil, fmt.Errorf("instrument %d: %d samples", i+1, samples)
		}

		if err := need(40, "sample header"); err != nil {
			return nil, err
		}

		length := int(binary.LittleEndian.Uint32(data[pos:]))
		loopStart := int(binary.LittleEndian.Uint32(data[pos+4:]))
		loopLength := int(binary.LittleEndian.Uint32(data[pos+8:]))

		if data[pos+17] != 0 {
			return nil, fmt.Errorf("instrument %d: packed sample data", i+1)
		}

		if loopStart+loopLength > length || length%2 != 0 {
			return nil, fmt.Errorf("instrument %d: loop %d+%d outside %d bytes", i+1, loopStart, loopLength, length)
		}

		pos += 40

		if err := need(length, "sample data"); err != nil {
			return nil, err
		}

		layout.sampleBytes = append(layout.sampleBytes, length)
		pos += length
	}

	layout.trailing = len(data) - pos

	return layout, nil
}

// TestIntegrationWellFormedXM walks every converted module as an XM loader would.
func TestIntegrationWellFormedXM(t *testing.T) {
	empty := testarchive.Module{Channels: 4, Patterns: []testarchive.Pattern{{Rows: 64, Data: []byte{}}}}
	path := writeArchive(t, integrationModule(), empty, integrationModule())

	modules, err := loadArchive(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("loadArchive failed: %v", err)
	}

	for i, m := range modules {
		layout, err := walkXM(m.Data)
		if err != nil {
			t.Errorf("module %d: %v", i+1, err)
			continue
		}

		report := m.Report
		if layout.channels != report.Channels || len(layout.cells) != len(report.Patterns) {
			t.Errorf("module %d: %d channels, %d patterns", i+1, layout.channels, len(layout.cells))
		}

		// Every channel of every row has a cell, including blanked patterns
		for p, cells := range layout.cells {
			if want := layout.rows[p] * layout.channels; cells != want {
				t.Errorf("module %d pattern %d: %d cells, want %d", i+1, p, cells, want)
			}
		}

		for n, ir := range report.Instruments {
			want := -1
			if ir.HasSample {
				want = ir.Length
			}

			if layout.sampleBytes[n] != want {
				t.Errorf("module %d instrument %d: %d sample bytes, want %d", i+1, n+1, layout.sampleBytes[n], want)
			}
		}

		if layout.trailing != report.TrailingBytes {
			t.Errorf("module %d: %d trailing bytes, want %d", i+1, layout.trailing, report.TrailingBytes)
		}
	}
}
