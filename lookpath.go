package procspawn

import (
	"os"
	"path/filepath"
	"strings"
)

// LookPath searches for an executable named file in the directories named
// by the PATH environment variable. If file contains a slash, it is tried
// directly and PATH is not consulted. On success the result is an
// absolute path, except when ErrDot would apply.
//
// Builder resolves a bare command name eagerly through LookPath, so a
// missing executable surfaces as KindFileNotFound at Spawn/Output time
// instead of deferring to the exec syscall.
func LookPath(file string) (string, error) {
	if strings.Contains(file, string(os.PathSeparator)) {
		if err := findExecutable(file); err == nil {
			return file, nil
		}
		return "", newError(KindFileNotFound, "lookpath", os.ErrNotExist)
	}

	path := os.Getenv("PATH")
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, file)
		if err := findExecutable(candidate); err == nil {
			if !filepath.IsAbs(candidate) {
				return candidate, newError(KindIO, "lookpath", ErrDot)
			}
			return candidate, nil
		}
	}
	return "", newError(KindFileNotFound, "lookpath", ErrNotFound)
}

// findExecutable reports whether path exists, is a regular file, and is
// executable by someone.
func findExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	m := fi.Mode()
	if m.IsDir() {
		return os.ErrPermission
	}
	if m&0o111 != 0 {
		return nil
	}
	return os.ErrPermission
}
