// Package ledger provides durable completion ledgers: one record per
// completed work item, stored in a local directory or under an S3 prefix.
// A record becomes visible to List only once it is fully written.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ahrav/go-rationale/internal/ports"
)

// tempPrefix marks in-flight writes. List never reports names with a
// leading dot, so an interrupted write is indistinguishable from no write.
const tempPrefix = "."

// FS is a ports.Ledger backed by a local directory.
type FS struct {
	dir string
}

var _ ports.Ledger = (*FS)(nil)

// NewFS returns a ledger rooted at dir. The directory is created lazily on
// the first write.
func NewFS(dir string) *FS {
	return &FS{dir: filepath.Clean(dir)}
}

// List returns the names of the regular files in the directory, skipping
// hidden files and in-flight temp files. A missing directory lists as
// empty.
func (l *FS) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, ports.NewLedgerError("list", l.dir, "", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Read returns the content of the named record.
func (l *FS) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, ports.NewLedgerError("read", l.dir, name, err)
	}

	data, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = ports.ErrRecordNotFound
		}
		return nil, ports.NewLedgerError("read", l.dir, name, err)
	}
	return data, nil
}

// Write stores data under name by writing a hidden temp file in the same
// directory, syncing it and renaming it over the target.
func (l *FS) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return ports.NewLedgerError("write", l.dir, name, err)
	}
	if err := writeFileAtomic(l.dir, name, data); err != nil {
		return ports.NewLedgerError("write", l.dir, name, err)
	}
	return nil
}

// Sub returns a ledger for the child directory name.
func (l *FS) Sub(name string) ports.Ledger {
	return NewFS(filepath.Join(l.dir, name))
}

// Location returns the ledger directory.
func (l *FS) Location() string { return l.dir }

func writeFileAtomic(dir, name string, data []byte) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Best effort: persist the rename itself.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// validateName rejects names that would escape the ledger or collide with
// the temp-file namespace.
func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ports.ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ports.ErrInvalidName, name)
	case strings.HasPrefix(name, tempPrefix):
		return fmt.Errorf("%w: %q is hidden", ports.ErrInvalidName, name)
	}
	return nil
}
