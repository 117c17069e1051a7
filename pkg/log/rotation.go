// Size-based log file rotation
//
// Copyright (C) 2025 Go port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures a RotatingFileWriter.
type RotationConfig struct {
	// Filename is the path of the active log file.
	Filename string

	// MaxSize is the rotation threshold in megabytes. Default 10.
	MaxSize int

	// MaxBackups is how many rotated files to retain. Default 5.
	MaxBackups int

	// Compress gzips rotated files when set.
	Compress bool
}

// RotatingFileWriter is an io.Writer that rotates the underlying file when
// it reaches a size threshold. Rotated files are renamed with a timestamp
// suffix and old backups beyond MaxBackups are removed.
type RotatingFileWriter struct {
	mu         sync.Mutex
	filename   string
	maxBytes   int64
	maxBackups int
	compress   bool
	size       int64
	file       *os.File
}

// NewRotatingFileWriter opens (or creates) the log file and returns a
// writer that rotates it at the configured size.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log rotation: filename is required")
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}

	w := &RotatingFileWriter{
		filename:   cfg.Filename,
		maxBytes:   int64(maxSize) * 1024 * 1024,
		maxBackups: maxBackups,
		compress:   cfg.Compress,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.filename), 0755); err != nil {
		return fmt.Errorf("log rotation: create directory: %w", err)
	}
	f, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("log rotation: open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("log rotation: stat file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first if the record would push the
// file past the threshold.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close active file: %w", err)
	}

	stamp := time.Now().Format("20060102-150405")
	ext := filepath.Ext(w.filename)
	base := strings.TrimSuffix(w.filename, ext)
	rotated := fmt.Sprintf("%s.%s%s", base, stamp, ext)

	if err := os.Rename(w.filename, rotated); err != nil {
		w.open()
		return fmt.Errorf("rename active file: %w", err)
	}

	if w.compress {
		go w.compressBackup(rotated)
	}
	go w.pruneBackups()

	return w.open()
}

func (w *RotatingFileWriter) compressBackup(name string) {
	src, err := os.Open(name)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(name + ".gz")
	if err != nil {
		return
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(name + ".gz")
		return
	}
	gz.Close()
	dst.Close()
	src.Close()
	os.Remove(name)
}

func (w *RotatingFileWriter) pruneBackups() {
	dir := filepath.Dir(w.filename)
	base := filepath.Base(w.filename)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if name == base || !strings.HasPrefix(name, prefix+".") {
			continue
		}
		if isRotatedName(name, prefix, ext) {
			backups = append(backups, filepath.Join(dir, name))
		}
	}

	// Oldest first by modification time.
	sort.Slice(backups, func(i, j int) bool {
		a, _ := os.Stat(backups[i])
		b, _ := os.Stat(backups[j])
		if a == nil || b == nil {
			return false
		}
		return a.ModTime().Before(b.ModTime())
	})

	for len(backups) > w.maxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}

// isRotatedName reports whether name matches prefix.YYYYMMDD-HHMMSS.ext
// with an optional .gz suffix.
func isRotatedName(name, prefix, ext string) bool {
	name = strings.TrimSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ext)
	name = strings.TrimPrefix(name, prefix+".")
	if len(name) != 15 || name[8] != '-' {
		return false
	}
	_, err1 := strconv.Atoi(name[:8])
	_, err2 := strconv.Atoi(name[9:])
	return err1 == nil && err2 == nil
}

// Close closes the active log file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Sync flushes the active log file to disk.
func (w *RotatingFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Sync()
	}
	return nil
}

// CurrentSize returns the size of the active log file in bytes.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Filename returns the active log file path.
func (w *RotatingFileWriter) Filename() string {
	return w.filename
}

// teeWriter duplicates writes to every underlying writer.
type teeWriter struct {
	writers []io.Writer
}

func (t *teeWriter) Write(p []byte) (int, error) {
	for _, w := range t.writers {
		if n, err := w.Write(p); err != nil {
			return n, err
		}
	}
	return len(p), nil
}

// NewFileLogger creates a logger writing only to a rotating file, with
// colors disabled.
func NewFileLogger(prefix string, cfg RotationConfig) (*Logger, *RotatingFileWriter, error) {
	writer, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := New(prefix)
	logger.SetWriter(writer)
	logger.SetColorize(false)
	return logger, writer, nil
}

// NewTeeLogger creates a logger writing to both stderr and a rotating file.
// Colors are disabled because the stream is shared with the file.
func NewTeeLogger(prefix string, cfg RotationConfig) (*Logger, *RotatingFileWriter, error) {
	writer, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := New(prefix)
	logger.SetWriter(&teeWriter{writers: []io.Writer{os.Stderr, writer}})
	logger.SetColorize(false)
	return logger, writer, nil
}
