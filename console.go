package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/ldemailly/buildgraph/graph"
)

// Names of the files written next to the cache file with -v 2.
const (
	outputFileName   = "output.txt"
	errorsFileName   = "errors.txt"
	buildLogFileName = "buildLog.txt"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiGray   = "\033[90m"
)

// consoleObserver prints progress lines and errors, colored when writing to
// a terminal.
type consoleObserver struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func newConsoleObserver(f *os.File) *consoleObserver {
	fd := f.Fd()
	return &consoleObserver{w: f, color: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)}
}

func (c *consoleObserver) paint(color, s string) string {
	if !c.color {
		return s
	}
	return color + s + ansiReset
}

func (c *consoleObserver) Progress(ev graph.Event) {
	status := ev.Status.String()
	switch ev.Status {
	case graph.StatusBuildSucceeded:
		status = c.paint(ansiGreen, status)
	case graph.StatusBuildFailed:
		status = c.paint(ansiRed, status)
	case graph.StatusBuildSkipped:
		status = c.paint(ansiYellow, status)
	default:
		status = c.paint(ansiGray, status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[%d/%d] %s %s\n", ev.Index, ev.Total, status, ev.Name)
	if ev.Err != nil {
		fmt.Fprintf(c.w, "    %v\n", ev.Err)
	}
}

func (c *consoleObserver) Error(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s %v\n", c.paint(ansiRed, "error:"), err)
}

// errorFile is an Observer appending every error, and every failed build, to
// a file.
type errorFile struct {
	mu sync.Mutex
	w  io.Writer
}

func (e *errorFile) Progress(ev graph.Event) {
	if ev.Status != graph.StatusBuildFailed {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "%s: build failed: %v\n", ev.Name, ev.Err)
}

func (e *errorFile) Error(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintln(e.w, err)
}

// fileSinks holds the output files living next to the cache file.
type fileSinks struct {
	dir   string
	files []*os.File
}

func newFileSinks(cacheFile string) *fileSinks {
	return &fileSinks{dir: filepath.Dir(cacheFile)}
}

// create truncates and opens name in the sinks directory.
func (s *fileSinks) create(name string) (*os.File, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	s.files = append(s.files, f)
	return f, nil
}

func (s *fileSinks) Close() error {
	var first error
	for _, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.files = nil
	return first
}
