// Package vault abstracts the local document store the sync engine writes
// into. The engine only depends on the DocumentStore contract; the concrete
// host (a plain directory tree here) is swappable.
package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DocumentStore is the narrow contract the materializer and index builder
// require from the host document store. Paths are slash-separated and
// relative to the store root.
type DocumentStore interface {
	// EnsureFolder creates a folder (and parents) if it doesn't exist.
	EnsureFolder(path string) error

	// Read returns a document's text. ok is false when the document
	// doesn't exist; that is not an error.
	Read(path string) (text string, ok bool, err error)

	// Write creates or overwrites a document.
	Write(path, text string) error

	// List returns the paths of all documents under prefix, sorted.
	List(prefix string) ([]string, error)
}

// FS is a DocumentStore backed by a directory tree.
type FS struct {
	root string
}

// NewFS creates a filesystem-backed store rooted at dir.
func NewFS(dir string) *FS {
	return &FS{root: dir}
}

// Root returns the store's root directory.
func (s *FS) Root() string {
	return s.root
}

func (s *FS) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// EnsureFolder implements DocumentStore.
func (s *FS) EnsureFolder(path string) error {
	if err := os.MkdirAll(s.abs(path), 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return nil
}

// Read implements DocumentStore.
func (s *FS) Read(path string) (string, bool, error) {
	data, err := os.ReadFile(s.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	return string(data), true, nil
}

// Write implements DocumentStore. Writes go through a temp file and rename
// so a crash mid-write never leaves a truncated document behind.
func (s *FS) Write(path, text string) error {
	target := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create parent folder for %s: %w", path, err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file for %s: %w", path, err)
	}
	return nil
}

// List implements DocumentStore. Only .md documents are reported; the
// store may contain other files (attachments, state) that don't belong
// to the engine.
func (s *FS) List(prefix string) ([]string, error) {
	root := s.abs(prefix)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents under %s: %w", prefix, err)
	}

	sort.Strings(paths)
	return paths, nil
}
