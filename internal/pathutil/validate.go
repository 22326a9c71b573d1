// Package pathutil confines caller-supplied file names to a directory.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for a path that leaves its root directory.
var ErrOutsideRoot = errors.New("path escapes the export directory")

// Redact shortens path to .../<parent>/<base> for error messages.
func Redact(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// Confine resolves name inside root and returns the absolute result. A
// relative name is taken relative to root; an absolute one must already lie
// under it. Symlinks in existing ancestors are resolved before the check, so
// a link inside root that points elsewhere is rejected. Neither root nor the
// target needs to exist.
func Confine(root, name string) (string, error) {
	if name == "" {
		return "", errors.New("empty path")
	}
	if strings.ContainsRune(name, 0) {
		return "", errors.New("path contains a NUL byte")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving export directory: %w", err)
	}
	rootReal, err := realPath(rootAbs)
	if err != nil {
		return "", err
	}

	target := name
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target = filepath.Clean(target)

	dirReal, err := realPath(filepath.Dir(target))
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(dirReal, filepath.Base(target))

	if resolved == rootReal || !strings.HasPrefix(resolved, rootReal+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, Redact(target))
	}
	return resolved, nil
}

// realPath evaluates symlinks in the deepest existing ancestor of p and
// appends the missing tail unchanged.
func realPath(p string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(p)
	if parent == p {
		return "", fmt.Errorf("cannot resolve %s", Redact(p))
	}
	head, err := realPath(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(head, filepath.Base(p)), nil
}
