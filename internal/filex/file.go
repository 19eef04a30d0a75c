// Package filex holds small filesystem helpers shared by the workers and the CLI.
package filex

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// EnsureDir creates dirName if needed and returns its absolute path.
// Relative names are resolved against the working directory.
func EnsureDir(dirName string) (string, error) {
	dir := dirName
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
		dir = filepath.Join(cwd, dirName)
	}

	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}

// HashCopy copies r to w and returns the byte count and the hex MD5 of what was copied.
func HashCopy(w io.Writer, r io.Reader) (int64, string, error) {
	h := md5.New()
	n, err := io.Copy(io.MultiWriter(w, h), r)
	if err != nil {
		return n, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// FileMD5 returns the hex MD5 and size of the file at path.
func FileMD5(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	n, sum, err := HashCopy(io.Discard, f)
	if err != nil {
		return "", 0, err
	}
	return sum, n, nil
}
