// Package backup snapshots the status database and the run summary into a
// dated directory with a checksum manifest.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"eodcollector/internal/domain"
)

const manifestName = "manifest.json"

// Manager writes snapshots under Dir and prunes those older than
// RetentionDays.
type Manager struct {
	Dir           string
	RetentionDays int
	log           *slog.Logger
}

// New creates a Manager.
func New(dir string, retentionDays int) *Manager {
	return &Manager{
		Dir:           dir,
		RetentionDays: retentionDays,
		log:           slog.Default().With("component", "backup"),
	}
}

// FileEntry describes one backed-up file.
type FileEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is written next to the copied files.
type Manifest struct {
	Date      string      `json:"date"`
	CreatedAt string      `json:"created_at"`
	Files     []FileEntry `json:"files"`
}

// Create copies the given files into <Dir>/<date>/ and writes the manifest.
// Files that do not exist are left out.
func (m *Manager) Create(date string, files []string) (string, error) {
	dest := filepath.Join(m.Dir, date)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}

	manifest := Manifest{
		Date:      date,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Files:     []FileEntry{},
	}
	for _, src := range files {
		if src == "" {
			continue
		}
		entry, err := copyFile(src, filepath.Join(dest, filepath.Base(src)))
		if errors.Is(err, fs.ErrNotExist) {
			m.log.Warn("backup source missing", "path", src)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("backing up %s: %w", src, err)
		}
		manifest.Files = append(manifest.Files, entry)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dest, manifestName), data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

// copyFile copies src to dst and hashes the bytes on the way.
func copyFile(src, dst string) (FileEntry, error) {
	in, err := os.Open(src)
	if err != nil {
		return FileEntry{}, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return FileEntry{}, err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{Name: filepath.Base(dst), Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Cleanup removes dated snapshot directories older than the retention
// window. Entries whose name is not a date are left alone.
func (m *Manager) Cleanup(now time.Time) error {
	entries, err := os.ReadDir(m.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	cutoff := now.UTC().AddDate(0, 0, -m.RetentionDays)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.Parse(domain.DateLayout, e.Name())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(m.Dir, e.Name())); err != nil {
				return err
			}
			m.log.Info("expired backup removed", "date", e.Name())
		}
	}
	return nil
}
