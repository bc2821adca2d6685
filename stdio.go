package procspawn

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StdioKind tags the shape of a Stdio value.
type StdioKind int

const (
	// StdioKindInherit connects the child directly to the parent's fd.
	StdioKindInherit StdioKind = iota
	// StdioKindPipe is the default: the parent gets the opposite end of
	// an OS pipe, and can attach feeds or write input.
	StdioKindPipe
	// StdioKindNull connects the child to the platform's bit bucket.
	StdioKindNull
	// StdioKindFile connects the child to an opened file.
	StdioKindFile
)

// Stdio is a tagged variant describing one of the three standard streams:
// Inherit, Pipe (the default), Null, or File{path, append}.
type Stdio struct {
	kind   StdioKind
	path   string
	append bool
}

// StdioInherit connects the child directly to the parent's standard fd.
func StdioInherit() Stdio { return Stdio{kind: StdioKindInherit} }

// StdioPipe is the default stdio shape: the parent owns the opposite end
// of a freshly-opened OS pipe.
func StdioPipe() Stdio { return Stdio{kind: StdioKindPipe} }

// StdioNull connects the child to the platform's null device.
func StdioNull() Stdio { return Stdio{kind: StdioKindNull} }

// StdioFile connects the child to path, opened for this stream. append is
// only meaningful for stdout/stderr; the Builder silently demotes it to
// false when the same Stdio value is used for stdin.
func StdioFile(path string, append bool) Stdio {
	return Stdio{kind: StdioKindFile, path: path, append: append}
}

func (s Stdio) isPipe() bool { return s.kind == StdioKindPipe }
func (s Stdio) isFile() bool { return s.kind == StdioKindFile }

// String renders a Stdio as a kind tag, plus path/append for File.
func (s Stdio) String() string {
	switch s.kind {
	case StdioKindInherit:
		return "inherit"
	case StdioKindPipe:
		return "pipe"
	case StdioKindNull:
		return "null"
	case StdioKindFile:
		if s.append {
			return fmt.Sprintf("file(%q,append)", s.path)
		}
		return fmt.Sprintf("file(%q)", s.path)
	default:
		return "unknown"
	}
}

// OutputOptions, when non-nil, signals that output mode is active and
// whether the caller supplied input, for buildStdioConfig's stdin rules.
type OutputOptions struct {
	hasInput bool
}

// StdioConfig is the validated, normalized (stdin, stdout, stderr) triple
// produced from a Builder's raw Stdio fields.
type StdioConfig struct {
	Stdin, Stdout, Stderr Stdio
}

// String renders the stdio sub-block as used in ProcessInfo's stable-
// column dump: stdin/stdout/stderr in that order.
func (c StdioConfig) String() string {
	return fmt.Sprintf("{stdin=%s stdout=%s stderr=%s}", c.Stdin, c.Stdout, c.Stderr)
}

// buildStdioConfig validates and normalizes three raw Stdio values into a
// StdioConfig, applying Output mode's promotion/demotion rules and
// rejecting illegal file collisions.
func buildStdioConfig(stdin, stdout, stderr Stdio, out *OutputOptions) (*StdioConfig, error) {
	cfg := &StdioConfig{Stdin: stdin, Stdout: stdout, Stderr: stderr}

	if out != nil {
		switch {
		case out.hasInput:
			cfg.Stdin = StdioPipe()
		case cfg.Stdin.kind == StdioKindPipe:
			// No input supplied in output mode: a Pipe here would hang
			// the child on an unread stdin, so route it to Null instead.
			cfg.Stdin = StdioNull()
		}
		cfg.Stdout = StdioPipe()
		cfg.Stderr = StdioPipe()
	}

	if cfg.Stdin.kind == StdioKindFile {
		// append is only meaningful for output streams.
		cfg.Stdin.append = false
		if cfg.Stdin.path == "" {
			return nil, newError(KindIO, "stdio", os.ErrInvalid)
		}
	}

	for _, s := range []*Stdio{&cfg.Stdout, &cfg.Stderr} {
		if s.kind != StdioKindFile {
			continue
		}
		dir := filepath.Dir(s.path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o777); err != nil {
				return nil, newError(KindIO, "stdio.mkdir", err)
			}
		}
	}

	if cfg.Stdin.kind == StdioKindFile {
		if samePath(cfg.Stdin.path, cfg.Stdout) || samePath(cfg.Stdin.path, cfg.Stderr) {
			return nil, newError(KindIO, "stdio", errStdinCollision)
		}
	}

	return cfg, nil
}

var errStdinCollision = errors.New("stdin file collides with an output file")

// samePath reports whether candidate and out (when out is a File stdio)
// name the same file, canonicalization-equivalent.
func samePath(candidate string, out Stdio) bool {
	if out.kind != StdioKindFile {
		return false
	}
	a, errA := filepath.Abs(candidate)
	b, errB := filepath.Abs(out.path)
	if errA != nil || errB != nil {
		return candidate == out.path
	}
	if a == b {
		return true
	}
	fa, errA := os.Stat(a)
	fb, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(fa, fb)
}

// sameOutputFile reports whether stdout and stderr, both File stdio,
// name the same underlying file and should therefore share one fd.
func sameOutputFile(stdout, stderr Stdio) bool {
	if stdout.kind != StdioKindFile || stderr.kind != StdioKindFile {
		return false
	}
	return samePath(stdout.path, stderr) || stdout.path == stderr.path
}
