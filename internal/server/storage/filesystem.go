package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/filex"
	"golang.org/x/sys/unix"
)

// statfs is a seam for tests.
var statfs = unix.Statfs

// FilesystemBackend stores each object as a file directly under root.
type FilesystemBackend struct {
	name string
	root string
}

func NewFilesystemBackend(name, root string) (*FilesystemBackend, error) {
	dir, err := filex.EnsureDir(root)
	if err != nil {
		return nil, fmt.Errorf("filesystem backend %s: %w", name, err)
	}
	return &FilesystemBackend{name: name, root: dir}, nil
}

func (b *FilesystemBackend) Name() string { return b.name }

func (b *FilesystemBackend) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || filepath.Base(key) != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(b.root, key), nil
}

// Put writes to a temp file in root and renames it into place once the size checks out.
func (b *FilesystemBackend) Put(_ context.Context, key string, r io.Reader, size int64) error {
	dest, err := b.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (b *FilesystemBackend) Get(_ context.Context, key string, w io.Writer) error {
	src, err := b.path(key)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", common.ErrObjectNotFound, key)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

func (b *FilesystemBackend) Delete(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

func (b *FilesystemBackend) Stat(_ context.Context, key string) (ObjectInfo, error) {
	p, err := b.path(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	sum, size, err := filex.FileMD5(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", common.ErrObjectNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}
	return ObjectInfo{Size: size, MD5: sum}, nil
}

// Usage reports the statistics of the filesystem that contains root.
func (b *FilesystemBackend) Usage(_ context.Context) (Usage, error) {
	var st unix.Statfs_t
	if err := statfs(b.root, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", b.root, err)
	}
	bsize := uint64(st.Bsize)
	return Usage{
		UsedBytes:   (uint64(st.Blocks) - uint64(st.Bfree)) * bsize,
		TotalBytes:  uint64(st.Blocks) * bsize,
		UsedInodes:  uint64(st.Files) - uint64(st.Ffree),
		TotalInodes: uint64(st.Files),
	}, nil
}

var _ Backend = (*FilesystemBackend)(nil)
