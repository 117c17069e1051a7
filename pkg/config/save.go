package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	perrors "plasticpilot/pkg/errors"
)

const backupTimeLayout = "20060102_150405"

// Store persists settings changes back to the configuration file. It
// renders the whole backing Config, so sections the tuning does not own
// ([api], [mqtt], serial options) survive a save untouched.
type Store struct {
	mu         sync.Mutex
	path       string
	cfg        *Config
	maxBackups int
}

// NewStore wraps a parsed Config with save-back support for the file it
// was loaded from.
func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, cfg: cfg, maxBackups: 5}
}

// Path returns the file the store saves to.
func (s *Store) Path() string {
	return s.path
}

// SetOption sets or updates a single option value.
func (s *Store) SetOption(section, option, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setOptionLocked(section, option, value)
}

func (s *Store) setOptionLocked(section, option, value string) {
	sec := s.cfg.GetSectionOptional(section)
	if sec == nil {
		s.cfg.addSection(section, map[string]string{option: value})
		return
	}
	sec.setOption(option, value)
}

// ApplyTuning writes every tuning option into the backing config.
func (s *Store) ApplyTuning(t *TuningConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fo := range t.fileOptions() {
		s.setOptionLocked(fo.section, fo.key, fo.value)
	}
}

// Save writes the configuration atomically via a temp file rename. The
// previous file is kept as a timestamped backup; old backups beyond
// maxBackups are pruned.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return perrors.New(perrors.ErrInternal, "settings store has no file path")
	}
	if err := s.backup(); err != nil {
		return fmt.Errorf("failed to back up %s: %w", s.path, err)
	}

	content := s.render()
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".pilot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config: %w", err)
	}

	s.pruneBackups()
	return nil
}

// render generates INI content. Sections keep file order; the tuning
// sections list their options in canonical order first, everything else
// is sorted.
func (s *Store) render() string {
	canonical := make(map[string][]string)
	for _, fo := range DefaultTuning().fileOptions() {
		canonical[fo.section] = append(canonical[fo.section], fo.key)
	}

	var sb strings.Builder
	first := true
	for _, name := range s.cfg.GetSectionNames() {
		sec := s.cfg.GetSectionOptional(name)
		if sec == nil {
			continue
		}
		if !first {
			sb.WriteString("\n")
		}
		first = false

		sb.WriteString("[")
		sb.WriteString(name)
		sb.WriteString("]\n")

		options := sec.RawOptions()
		written := make(map[string]bool)
		for _, key := range canonical[name] {
			if v, ok := options[key]; ok {
				sb.WriteString(key)
				sb.WriteString(": ")
				sb.WriteString(v)
				sb.WriteString("\n")
				written[key] = true
			}
		}
		rest := make([]string, 0, len(options))
		for key := range options {
			if !written[key] {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		for _, key := range rest {
			sb.WriteString(key)
			sb.WriteString(": ")
			sb.WriteString(options[key])
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// backup copies the current file to path-<timestamp><ext>. Missing files
// are not an error, the first save has nothing to back up.
func (s *Store) backup() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	ext := filepath.Ext(s.path)
	base := strings.TrimSuffix(s.path, ext)
	backupPath := fmt.Sprintf("%s-%s%s", base, time.Now().Format(backupTimeLayout), ext)
	return os.WriteFile(backupPath, data, 0644)
}

// pruneBackups removes the oldest backups beyond maxBackups. Errors here
// never fail a save.
func (s *Store) pruneBackups() {
	ext := filepath.Ext(s.path)
	base := strings.TrimSuffix(s.path, ext)
	matches, err := filepath.Glob(base + "-*" + ext)
	if err != nil {
		return
	}
	var backups []string
	for _, m := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(m, base+"-"), ext)
		if _, err := time.Parse(backupTimeLayout, stamp); err == nil {
			backups = append(backups, m)
		}
	}
	if len(backups) <= s.maxBackups {
		return
	}
	// Timestamped names sort chronologically.
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-s.maxBackups] {
		os.Remove(old)
	}
}
