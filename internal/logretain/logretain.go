// Package logretain manages the server's on-disk log files: one file per
// server run, restrictive permissions, and a daily sweep that removes files
// older than the retention period.
//
// Transcripts pass through these logs, so the directory is created with
// mode 0700 and files with mode 0600.
package logretain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const filePrefix = "server_"

// Options configures a [Writer].
type Options struct {
	// Retention is how long log files are kept. Defaults to 30 days.
	Retention time.Duration

	// Now supplies the clock, for tests. Defaults to [time.Now].
	Now func() time.Time

	// Logger reports sweep activity. Defaults to [slog.Default].
	Logger *slog.Logger
}

// Writer is an open log file inside a swept directory.
type Writer struct {
	file      *os.File
	dir       string
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// Open creates dir if needed and opens a fresh log file named
// server_YYYYMMDD_HHMMSS.log inside it.
func Open(dir string, opts Options) (*Writer, error) {
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("logretain: create %q: %w", dir, err)
	}

	name := fmt.Sprintf("%s%s.log", filePrefix, opts.Now().Format("20060102_150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("logretain: open %q: %w", name, err)
	}

	return &Writer{
		file:      f,
		dir:       dir,
		retention: opts.Retention,
		now:       opts.Now,
		log:       opts.Logger,
	}, nil
}

// Write appends to the log file.
func (w *Writer) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Path returns the open file's path.
func (w *Writer) Path() string {
	return w.file.Name()
}

// Close closes the log file. The sweep schedule, if started, stops with its
// context instead.
func (w *Writer) Close() error {
	return w.file.Close()
}

// Sweep removes log files in the directory whose modification time is older
// than the retention period. It returns the number of files removed.
func (w *Writer) Sweep() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("logretain: read %q: %w", w.dir, err)
	}

	cutoff := w.now().Add(-w.retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if path == w.file.Name() {
			continue
		}
		if err := os.Remove(path); err != nil {
			w.log.Warn("failed to remove expired log file", "path", path, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		w.log.Info("swept expired log files", "dir", w.dir, "removed", removed)
	}
	return removed, nil
}

// Start sweeps immediately and then once a day until ctx is cancelled.
func (w *Writer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if _, err := w.Sweep(); err != nil {
				w.log.Warn("log sweep failed", "err", err)
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}
