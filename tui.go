package main

import (
	"fmt"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/nsf/termbox-go"
)

const (
	colDef     = termbox.ColorDefault
	colWhite   = termbox.ColorWhite
	colRed     = termbox.ColorRed
	colGreen   = termbox.ColorGreen
	colYellow  = termbox.ColorYellow
	colCyan    = termbox.ColorCyan
	colMagenta = termbox.ColorMagenta
)

type view int

const (
	viewPatterns view = iota
	viewInstruments
)

func (v view) String() string {
	if v == viewInstruments {
		return "instruments"
	}

	return "patterns"
}

// SelectionListener is notified when the highlighted module, view or line changes.
type SelectionListener interface {
	OnSelectionChange(module int, view string, line int)
}

type selection struct {
	module int
	view   view
	cursor int
}

type TUIState struct {
	modules   []convertedModule
	current   int  // module index
	view      view // patterns or instruments
	cursor    int  // selected line in the current view
	exit      bool
	listeners []SelectionListener
}

func newTUIState(modules []convertedModule, initial int) *TUIState {
	if initial < 0 || initial >= len(modules) {
		initial = 0
	}

	return &TUIState{modules: modules, current: initial}
}

// AddSelectionListener registers l for selection changes.
func (s *TUIState) AddSelectionListener(l SelectionListener) {
	s.listeners = append(s.listeners, l)
}

func (s *TUIState) selection() selection {
	return selection{module: s.current, view: s.view, cursor: s.cursor}
}

func (s *TUIState) notify() {
	for _, l := range s.listeners {
		l.OnSelectionChange(s.current, s.view.String(), s.cursor)
	}
}

// lines returns the text of the current view.
func (s *TUIState) lines() []string {
	if len(s.modules) == 0 {
		return nil
	}

	report := s.modules[s.current].Report

	var lines []string

	switch s.view {
	case viewPatterns:
		for i := range report.Patterns {
			lines = append(lines, patternLine(&report.Patterns[i]))
		}
	case viewInstruments:
		for i := range report.Instruments {
			lines = append(lines, instrumentLine(&report.Instruments[i]))
		}
	}

	return lines
}

func runTUI(modules []convertedModule, initial int, listeners ...SelectionListener) {
	err := termbox.Init()
	if err != nil {
		fmt.Printf("Failed to initialize TUI: %v\n", err)
		return
	}
	defer termbox.Close()

	termbox.SetInputMode(termbox.InputEsc)

	state := newTUIState(modules, initial)
	for _, l := range listeners {
		state.AddSelectionListener(l)
	}

	state.notify()

	eventQueue := make(chan termbox.Event)

	go func() {
		for {
			eventQueue <- termbox.PollEvent()
		}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	draw(state)

	for !state.exit {
		select {
		case ev := <-eventQueue:
			switch ev.Type {
			case termbox.EventKey:
				handleKey(ev, state)
				draw(state)
			case termbox.EventResize:
				draw(state)
			}
		case <-ticker.C:
			draw(state)
		}
	}
}

func handleKey(ev termbox.Event, s *TUIState) {
	if ev.Key == termbox.KeyEsc || ev.Ch == 'q' {
		s.exit = true
		return
	}

	before := s.selection()
	defer func() {
		if s.selection() != before {
			s.notify()
		}
	}()

	// Module selection by number
	if ev.Ch >= '1' && ev.Ch <= '8' && int(ev.Ch-'1') < len(s.modules) {
		s.current = int(ev.Ch - '1')
		s.cursor = 0

		return
	}

	count := len(s.lines())

	switch ev.Key {
	case termbox.KeyArrowLeft:
		s.current--
		if s.current < 0 {
			s.current = len(s.modules) - 1
		}

		s.cursor = 0
	case termbox.KeyArrowRight:
		s.current++
		if s.current >= len(s.modules) {
			s.current = 0
		}

		s.cursor = 0
	case termbox.KeyTab:
		if s.view == viewPatterns {
			s.view = viewInstruments
		} else {
			s.view = viewPatterns
		}

		s.cursor = 0
	case termbox.KeyArrowUp:
		s.cursor--
	case termbox.KeyArrowDown:
		s.cursor++
	case termbox.KeyPgup:
		s.cursor -= 10
	case termbox.KeyPgdn:
		s.cursor += 10
	case termbox.KeyHome:
		s.cursor = 0
	case termbox.KeyEnd:
		s.cursor = count - 1
	}

	s.cursor = min(s.cursor, count-1)
	s.cursor = max(s.cursor, 0)
}

func draw(state *TUIState) {
	_ = termbox.Clear(colDef, colDef)

	w, h := termbox.Size()

	// Header
	printTB(0, 0, w, colCyan, colDef, "Driver MUSIC.BIN - XM conversion")
	printTB(0, 1, w, colDef, colDef, "Left/Right or 1-8: module, Tab: patterns/instruments, Up/Down/PgUp/PgDn: scroll, q: quit")

	if len(state.modules) == 0 {
		printTB(0, 3, w, colRed, colDef, "No modules.")
		termbox.Flush()

		return
	}

	// Module tabs
	x := 0
	for i, m := range state.modules {
		col := colWhite
		bgColor := colDef

		if i == state.current {
			col = colDef
			bgColor = colWhite
		}

		label := fmt.Sprintf(" Music %d ", i+1)
		if m.Report.CorruptedPatterns() > 0 {
			label = fmt.Sprintf(" Music %d! ", i+1)
		}

		printTB(x, 3, w-x, col, bgColor, label)
		x += runewidth.StringWidth(label) + 1
	}

	report := state.modules[state.current].Report
	printTB(0, 5, w, colYellow, colDef, moduleSummary(report))

	title := "Patterns"
	if state.view == viewInstruments {
		title = "Instruments"
	}

	printTB(0, 6, w, colMagenta, colDef, title)

	// Calculate visible range
	lines := state.lines()
	listStartY := 8

	listHeight := h - listStartY - 2
	if listHeight < 5 {
		listHeight = 5
	}

	// Scroll to keep selected line visible
	scrollOffset := 0
	if state.cursor >= listHeight {
		scrollOffset = state.cursor - listHeight + 1
	}

	for i := 0; i < listHeight && scrollOffset+i < len(lines); i++ {
		idx := scrollOffset + i

		col := colGreen
		if state.view == viewPatterns && report.Patterns[idx].Corrupted() {
			col = colRed
		}

		bgColor := colDef
		prefix := "  "

		if idx == state.cursor {
			col = colDef
			bgColor = colWhite
			prefix = "> "
		}

		printTB(0, listStartY+i, w, col, bgColor, prefix+lines[idx])
	}

	// Footer with scroll indicator
	if len(lines) > listHeight {
		scrollInfo := fmt.Sprintf("Showing %d-%d of %d",
			scrollOffset+1, min(scrollOffset+listHeight, len(lines)), len(lines))
		printTB(0, h-1, w, colYellow, colDef, scrollInfo)
	}

	termbox.Flush()
}

// printTB prints msg at (x, y), cut to fit in width columns.
func printTB(x, y, width int, fg, bg termbox.Attribute, msg string) {
	if width <= 0 {
		return
	}

	for _, c := range runewidth.Truncate(msg, width, "…") {
		termbox.SetCell(x, y, c, fg, bg)
		x += runewidth.RuneWidth(c)
	}
}
