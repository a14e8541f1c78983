// Package logging points the standard logger at stderr and, optionally, a
// size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/natefinch/lumberjack"
)

// Options selects the log destination.
type Options struct {
	File       string // empty logs to stderr only
	MaxSizeMB  int    // rotate after this many megabytes
	MaxAgeDays int    // delete rotated files older than this
	Verbose    bool   // add microsecond timestamps and source locations
}

// Setup configures the std log package and returns a closer for the log
// file. Messages always reach stderr; with a file they are copied there too.
func Setup(opts Options) io.Closer {
	flags := log.LstdFlags
	if opts.Verbose {
		flags |= log.Lmicroseconds | log.Lshortfile
	}
	log.SetFlags(flags)

	if opts.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}

	l := &lumberjack.Logger{
		Filename: opts.File,
		MaxSize:  opts.MaxSizeMB,  // megabytes
		MaxAge:   opts.MaxAgeDays, // days
	}
	log.SetOutput(io.MultiWriter(os.Stderr, l))
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
