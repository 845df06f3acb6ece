// Package web serves the conversion report of a MUSIC.BIN archive to a browser
// and pushes the inspector's current selection over a WebSocket.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"driver-music/pkg/musicbin"
)

// ErrUnsupportedPlatform is returned when browser opening is not supported.
var ErrUnsupportedPlatform = errors.New("web: unsupported platform")

//go:embed static/*
var staticFiles embed.FS

// Message is the envelope of every WebSocket message.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Selection is the module, view and line highlighted in the inspector.
type Selection struct {
	Module int    `json:"module"`
	View   string `json:"view"`
	Line   int    `json:"line"`
}

// PatternEntry is a converted pattern.
type PatternEntry struct {
	Index      int    `json:"index"`
	Rows       int    `json:"rows"`
	PackedSize int    `json:"packedSize"`
	OutputSize int    `json:"outputSize"`
	Corrupted  bool   `json:"corrupted"`
	Reason     string `json:"reason,omitempty"`
}

// InstrumentEntry is a converted instrument and its sample.
type InstrumentEntry struct {
	Index       int    `json:"index"`
	Size        int    `json:"size"`
	HasSample   bool   `json:"hasSample"`
	LoopFlag    uint32 `json:"loopFlag"`
	StoredSize  int    `json:"storedSize"`
	EncodedSize int    `json:"encodedSize"`
	Trimmed     bool   `json:"trimmed"`
	Length      int    `json:"length"`
	LoopStart   int    `json:"loopStart"`
	LoopLength  int    `json:"loopLength"`
}

// ModuleEntry is the report of one converted module.
type ModuleEntry struct {
	Index         int               `json:"index"`
	Channels      int               `json:"channels"`
	SampleCount   int               `json:"sampleCount"`
	TrailingBytes int               `json:"trailingBytes"`
	Size          int64             `json:"size"`
	Corrupted     int               `json:"corrupted"`
	Patterns      []PatternEntry    `json:"patterns"`
	Instruments   []InstrumentEntry `json:"instruments"`
}

// StatePayload is everything a browser needs to render the archive.
type StatePayload struct {
	Archive   string        `json:"archive"`
	Selection Selection     `json:"selection"`
	Modules   []ModuleEntry `json:"modules"`
}

// NewModuleEntry converts a module report for JSON serialization.
func NewModuleEntry(r *musicbin.ModuleReport) ModuleEntry {
	entry := ModuleEntry{
		Index:         r.Index,
		Channels:      r.Channels,
		SampleCount:   r.SampleCount,
		TrailingBytes: r.TrailingBytes,
		Size:          r.Size,
		Corrupted:     r.CorruptedPatterns(),
		Patterns:      make([]PatternEntry, 0, len(r.Patterns)),
		Instruments:   make([]InstrumentEntry, 0, len(r.Instruments)),
	}

	for _, p := range r.Patterns {
		pe := PatternEntry{
			Index:      p.Index,
			Rows:       p.Rows,
			PackedSize: p.PackedSize,
			OutputSize: p.OutputSize,
			Corrupted:  p.Corrupted(),
		}

		if p.Err != nil {
			pe.Reason = p.Err.Error()
		}

		entry.Patterns = append(entry.Patterns, pe)
	}

	for _, ir := range r.Instruments {
		entry.Instruments = append(entry.Instruments, InstrumentEntry{
			Index:       ir.Index,
			Size:        ir.Size,
			HasSample:   ir.HasSample,
			LoopFlag:    ir.LoopFlag,
			StoredSize:  ir.StoredSize,
			EncodedSize: ir.EncodedSize,
			Trimmed:     ir.Trimmed,
			Length:      ir.Length,
			LoopStart:   ir.LoopStart,
			LoopLength:  ir.LoopLength,
		})
	}

	return entry
}

// Server is the web front end of the inspector.
type Server struct {
	archive    string
	modules    []ModuleEntry
	port       int
	hub        *Hub
	httpServer *http.Server

	mu        sync.RWMutex
	selection Selection
}

// NewServer creates a server for the reports of one archive.
func NewServer(archive string, reports []*musicbin.ModuleReport, port int) *Server {
	modules := make([]ModuleEntry, 0, len(reports))
	for _, r := range reports {
		modules = append(modules, NewModuleEntry(r))
	}

	return &Server{
		archive:   archive,
		modules:   modules,
		port:      port,
		hub:       NewHub(),
		selection: Selection{View: "patterns"},
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/state", s.handleAPIState)
	mux.HandleFunc("GET /api/modules/{index}", s.handleAPIModule)

	if staticFS, err := fs.Sub(staticFiles, "static"); err == nil {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	}

	return mux
}

// Start runs the hub and serves HTTP until Shutdown.
func (s *Server) Start() error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web server starting", "port", s.port, "url", fmt.Sprintf("http://localhost:%d", s.port))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Shutdown stops the HTTP server and disconnects all clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// OnSelectionChange records the inspector selection and pushes it to every browser.
func (s *Server) OnSelectionChange(module int, view string, line int) {
	sel := Selection{Module: module, View: view, Line: line}

	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()

	data, err := json.Marshal(Message{Type: "selection", Payload: sel})
	if err != nil {
		slog.Error("Failed to marshal selection", "error", err)
		return
	}

	s.hub.Broadcast(data)
}

func (s *Server) state() StatePayload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StatePayload{
		Archive:   s.archive,
		Selection: s.selection,
		Modules:   s.modules,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

//nolint:gochecknoglobals // WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local tool: only pages served by a loopback host may connect
		origin := r.Header.Get("Origin")
		return origin == "" || strings.Contains(origin, "://localhost") || strings.Contains(origin, "://127.0.0.1")
	},
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 16),
	}

	if !s.hub.add(client) {
		conn.Close()
		return
	}

	s.sendState(client)

	go client.writePump()
	client.readPump(func(msg []byte) {
		s.handleClientMessage(client, msg)
	})
}

func (s *Server) sendState(client *Client) {
	data, err := json.Marshal(Message{Type: "state", Payload: s.state()})
	if err != nil {
		slog.Error("Failed to marshal state", "error", err)
		return
	}

	s.hub.send(client, data)
}

// handleClientMessage answers "get_state" requests; other messages are ignored.
func (s *Server) handleClientMessage(client *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Failed to parse WebSocket message", "error", err)
		return
	}

	if msg.Type == "get_state" {
		s.sendState(client)
	}
}

func (s *Server) handleAPIState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	//nolint:errchkjson // StatePayload is a well-defined struct
	_ = json.NewEncoder(w).Encode(s.state())
}

func (s *Server) handleAPIModule(w http.ResponseWriter, r *http.Request) {
	// Modules are numbered from 1 like the output files
	n, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || n < 1 || n > len(s.modules) {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	//nolint:errchkjson // ModuleEntry is a well-defined struct
	_ = json.NewEncoder(w).Encode(s.modules[n-1])
}

// OpenBrowser opens the default browser at url.
func OpenBrowser(url string) error {
	ctx := context.Background()

	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}

	return cmd.Start()
}
