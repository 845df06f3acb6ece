// Command driver-music-extractor converts the MUSIC.BIN archive of Driver and
// Driver 2 (PlayStation) into eight FastTracker II XM modules.
//
// Usage:
//
//	driver-music-extractor [-v] [-log file] [-out dir] <MUSIC.BIN>
//
// The modules are written to a directory named after the input file without its
// extension, as "Music 1.xm" through "Music 8.xm".
//
// Options:
//
//	-v, -verbose   Log every pattern and sample
//	-log           Write the log to this file instead of stderr
//	-out           Output directory (default: input path without extension)
//
// Exit status is 1 when no file is given and -1 when there are too many
// arguments or a file cannot be opened or created.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"driver-music/pkg/musicbin"
)

var (
	outDir  = flag.String("out", "", "Output directory (default: input path without extension)")
	logPath = flag.String("log", "", "Log file path (default: stderr)")
	verbose bool
)

// Errors that select the exit status.
var (
	errNoFileName   = errors.New("the specified file name only contains a path")
	errOpenInput    = errors.New("unable to open the file")
	errCreateOutput = errors.New("unable to open output file")
)

func main() {
	flag.BoolVar(&verbose, "v", false, "Log every pattern and sample")
	flag.BoolVar(&verbose, "verbose", false, "Same as -v")
	flag.CommandLine.SetOutput(os.Stdout)
	flag.Usage = func() {
		fmt.Printf("Usage: %s [-v] [-log file] [-out dir] <filename>\n\n", os.Args[0])
		fmt.Printf("Extracts the music of Driver / Driver 2 (PSX) from MUSIC.BIN as XM modules.\n\n")
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s ./MUSIC.BIN\n", os.Args[0])
		fmt.Printf("  %s -v -log extract.log -out ./xm ./MUSIC.BIN\n", os.Args[0])
	}
	flag.Parse()

	switch {
	case flag.NArg() == 0:
		flag.Usage()
		os.Exit(1)
	case flag.NArg() > 1:
		fmt.Fprintln(os.Stderr, "Error: Too many arguments.")
		os.Exit(-1)
	}

	logger, closeLog, err := newLogger(*logPath, verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}

	err = run(flag.Arg(0), *outDir, logger)
	closeLog()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// newLogger returns a text logger writing to path, or to stderr when path is
// empty. The returned function closes the log file.
func newLogger(path string, verbose bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)

	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: log file: %w", errCreateOutput, err)
		}

		w = file
		closeFn = func() { _ = file.Close() }
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closeFn, nil
}

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errOpenInput), errors.Is(err, errCreateOutput):
		return -1
	default:
		return 1
	}
}

func run(inputPath, dir string, logger *slog.Logger) error {
	if dir == "" {
		var err error

		dir, err = outputDir(inputPath)
		if err != nil {
			return err
		}
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("%w: %w", errOpenInput, err)
	}
	defer in.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", errCreateOutput, err)
	}

	reader, err := musicbin.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read offset table: %w", err)
	}

	corrupted := 0

	for i := range musicbin.ModuleCount {
		data, report, err := musicbin.Convert(reader, i, musicbin.WithLogger(logger))
		if err != nil {
			return err
		}

		path := moduleFileName(dir, i+1)

		err = writeModule(path, data)
		if err != nil {
			return err
		}

		corrupted += report.CorruptedPatterns()

		logger.Debug("Module written", "file", path, "bytes", len(data))
	}

	fmt.Printf("Created %d modules in %s\n", musicbin.ModuleCount, dir)

	if corrupted > 0 {
		fmt.Printf("  %d corrupted patterns were replaced with empty ones\n", corrupted)
	}

	return nil
}

func writeModule(path string, data []byte) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", errCreateOutput, err)
	}
	defer out.Close()

	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return out.Close()
}

// outputDir derives the output directory from the input path: directory
// separators are normalised and the file extension is removed.
func outputDir(inputPath string) (string, error) {
	sep := string(filepath.Separator)
	path := strings.NewReplacer("/", sep, `\`, sep).Replace(inputPath)

	// Nothing after the last separator
	if path == "" || strings.HasSuffix(path, sep) {
		return "", errNoFileName
	}

	return strings.TrimSuffix(path, filepath.Ext(path)), nil
}

// moduleFileName returns the name of the n-th converted module (1-based).
func moduleFileName(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("Music %d.xm", n))
}
