package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"driver-music/pkg/musicbin"
	"driver-music/web"
)

// convertedModule is one module of the archive after conversion.
type convertedModule struct {
	Report *musicbin.ModuleReport
	Data   []byte
}

func main() {
	logFile := flag.String("log", "driver-music.log", "Log file path")
	noTUI := flag.Bool("no-tui", false, "Print the conversion report instead of starting the TUI")
	module := flag.Int("module", 1, "Module to show first (1-8)")
	writeDir := flag.String("write", "", "Also write the converted modules to this directory")
	webPort := flag.Int("port", 8080, "Web server port")
	noWeb := flag.Bool("no-web", false, "Disable web server")
	noBrowser := flag.Bool("no-browser", false, "Don't auto-open browser")
	showHelp := flag.Bool("help", false, "Show this help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <MUSIC.BIN>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Converts the modules of a Driver MUSIC.BIN archive in memory and shows\n")
		fmt.Fprintf(os.Stderr, "their patterns, instruments and samples.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	// Setup logging
	file, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	logger := slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
	slog.Info("Starting driver-music", "args", os.Args)

	modules, err := loadArchive(flag.Arg(0), logger)
	if err != nil {
		slog.Error("Failed to convert archive", "file", flag.Arg(0), "error", err)
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	if *writeDir != "" {
		if err := writeModules(*writeDir, modules); err != nil {
			slog.Error("Failed to write modules", "dir", *writeDir, "error", err)
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		slog.Info("Modules written", "dir", *writeDir)
	}

	if *noTUI {
		printReport(os.Stdout, modules)
		return
	}

	// The web view follows the TUI selection, so it only runs alongside it
	var (
		webServer *web.Server
		listeners []SelectionListener
	)

	if !*noWeb {
		webServer = startWebServer(flag.Arg(0), modules, *webPort, !*noBrowser)
		listeners = append(listeners, webServer)
	}

	runTUI(modules, *module-1, listeners...)

	if webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := webServer.Shutdown(ctx); err != nil {
			slog.Error("Web server shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

// startWebServer serves the conversion report in the background.
func startWebServer(archive string, modules []convertedModule, port int, openBrowser bool) *web.Server {
	reports := make([]*musicbin.ModuleReport, 0, len(modules))
	for _, m := range modules {
		reports = append(reports, m.Report)
	}

	server := web.NewServer(filepath.Base(archive), reports, port)

	go func() {
		slog.Info("Starting web server", "port", port)

		if err := server.Start(); err != nil {
			slog.Error("Web server error", "error", err)
		}
	}()

	url := fmt.Sprintf("http://localhost:%d", port)

	if openBrowser {
		time.Sleep(200 * time.Millisecond) // Give server time to start

		go func() {
			if err := web.OpenBrowser(url); err != nil {
				slog.Error("Failed to open browser", "error", err)
			}
		}()
	}

	fmt.Printf("Web UI available at %s\n", url)

	return server
}

// loadArchive converts every module of the archive at path.
func loadArchive(path string, logger *slog.Logger) ([]convertedModule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := musicbin.NewReader(f)
	if err != nil {
		return nil, err
	}

	modules := make([]convertedModule, 0, musicbin.ModuleCount)

	for i := range musicbin.ModuleCount {
		data, report, err := musicbin.Convert(reader, i, musicbin.WithLogger(logger))
		if err != nil {
			return nil, err
		}

		modules = append(modules, convertedModule{Report: report, Data: data})
	}

	return modules, nil
}

// writeModules writes the converted modules as "Music <n>.xm" files.
func writeModules(dir string, modules []convertedModule) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var errs []error

	for i, m := range modules {
		path := filepath.Join(dir, fmt.Sprintf("Music %d.xm", i+1))
		if err := os.WriteFile(path, m.Data, 0o644); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// printReport writes the conversion report as plain text.
func printReport(w io.Writer, modules []convertedModule) {
	for _, m := range modules {
		fmt.Fprintln(w, moduleSummary(m.Report))

		for i := range m.Report.Patterns {
			fmt.Fprintln(w, "  "+patternLine(&m.Report.Patterns[i]))
		}

		for i := range m.Report.Instruments {
			fmt.Fprintln(w, "  "+instrumentLine(&m.Report.Instruments[i]))
		}
	}
}

func moduleSummary(r *musicbin.ModuleReport) string {
	return fmt.Sprintf("Music %d: %d channels, %d patterns (%d corrupted), %d instruments, %d samples, %d bytes",
		r.Index+1, r.Channels, len(r.Patterns), r.CorruptedPatterns(), len(r.Instruments), r.SampleCount, r.Size)
}

func patternLine(p *musicbin.PatternReport) string {
	line := fmt.Sprintf("Pattern %3d: %3d rows, %5d -> %5d bytes", p.Index, p.Rows, p.PackedSize, p.OutputSize)
	if p.Corrupted() {
		// Drop the package prefix, the line already says what failed
		reason := strings.TrimPrefix(p.Err.Error(), "xmpattern: ")
		line += " CORRUPTED (" + reason + ")"
	}

	return line
}

func instrumentLine(ir *musicbin.InstrumentReport) string {
	if !ir.HasSample {
		return fmt.Sprintf("Instrument %3d: no sample", ir.Index+1)
	}

	if ir.Length == 0 {
		return fmt.Sprintf("Instrument %3d: empty sample", ir.Index+1)
	}

	line := fmt.Sprintf("Instrument %3d: %6d ADPCM -> %7d PCM bytes", ir.Index+1, ir.EncodedSize, ir.Length)
	if ir.LoopLength > 0 {
		line += fmt.Sprintf(", loop %d+%d", ir.LoopStart, ir.LoopLength)
	}

	if ir.Trimmed {
		line += ", padding removed"
	}

	return line
}
