//go:build unix

package procspawn

import (
	"os"

	"golang.org/x/sys/unix"
)

// dup2Entry is one entry in the dup2 plan: srcFd (parent-owned, or a
// just-opened file/null fd) should be duplicated onto dstFd inside the
// child, in the order given.
type dup2Entry struct {
	srcFd int
	dstFd int
}

// handleSlot tracks the parent-side resources opened for one standard
// stream, so StdioHandle.close can release them idempotently.
type handleSlot struct {
	// parentEnd is the descriptor the parent keeps (Pipe's read end for
	// stdout/stderr, write end for stdin). -1 when there is none
	// (Inherit, or a File/Null slot with nothing for the parent to
	// read/write).
	parentEnd int
	// childFile, when non-nil, is the *os.File backing a Pipe's child
	// end, a File stdio's open fd, or /dev/null, always closed in the
	// parent right after spawn succeeds.
	childFile *os.File
	// parentFile mirrors parentEnd as an *os.File, for Process to wrap
	// in a WriteStream or reader.
	parentFile *os.File
}

// StdioHandle owns the parent-side endpoints and the dup2 plan produced
// from a StdioConfig.
type StdioHandle struct {
	stdin, stdout, stderr handleSlot
	plan                  []dup2Entry

	closeOnce bool
}

// openStdioHandle opens the three parent-side endpoints and builds the
// dup2 plan, including the stdout==stderr File merge special case.
func openStdioHandle(cfg *StdioConfig) (h *StdioHandle, err error) {
	handle := &StdioHandle{}
	h = handle
	var acc suppressedErrors

	defer func() {
		if err != nil {
			// h is already nil here (return nil, err), so close the
			// handle through its own reference.
			handle.close()
		}
	}()

	mergedOutErr := sameOutputFile(cfg.Stdout, cfg.Stderr)

	if h.stdin, err = openSlot(cfg.Stdin, unix.Stdin); err != nil {
		return nil, err
	}
	if e := appendPlan(h, &h.stdin, unix.Stdin); e != nil {
		return nil, e
	}

	if h.stdout, err = openSlot(cfg.Stdout, unix.Stdout); err != nil {
		tryCloseSuppressed(&acc, h.stdin.childFile)
		return nil, err
	}
	if e := appendPlan(h, &h.stdout, unix.Stdout); e != nil {
		return nil, e
	}

	if mergedOutErr {
		// Reuse stdout's fd for stderr rather than opening the file
		// twice.
		h.stderr = handleSlot{parentEnd: -1}
		h.plan = append(h.plan, dup2Entry{srcFd: int(h.stdout.childFile.Fd()), dstFd: unix.Stderr})
	} else {
		if h.stderr, err = openSlot(cfg.Stderr, unix.Stderr); err != nil {
			tryCloseSuppressed(&acc, h.stdin.childFile)
			tryCloseSuppressed(&acc, h.stdout.childFile)
			return nil, err
		}
		if e := appendPlan(h, &h.stderr, unix.Stderr); e != nil {
			return nil, e
		}
	}

	if primary := acc.err(); primary != nil {
		return nil, primary
	}
	return h, nil
}

// openSlot opens the parent-side resources for one Stdio value, keyed on
// std to tell stdin (child reads, parent writes the Pipe's write end)
// apart from stdout/stderr (child writes, parent reads the Pipe's read
// end).
func openSlot(s Stdio, std int) (handleSlot, error) {
	switch s.kind {
	case StdioKindInherit:
		return handleSlot{parentEnd: -1}, nil

	case StdioKindPipe:
		r, w, err := os.Pipe()
		if err != nil {
			return handleSlot{}, newError(KindIO, "pipe", err)
		}
		if std == unix.Stdin {
			// Parent writes, child reads: child gets the read end.
			return handleSlot{parentEnd: int(w.Fd()), childFile: r, parentFile: w}, nil
		}
		// Parent reads, child writes: child gets the write end.
		return handleSlot{parentEnd: int(r.Fd()), childFile: w, parentFile: r}, nil

	case StdioKindNull:
		flag := os.O_RDONLY
		if std != unix.Stdin {
			flag = os.O_WRONLY
		}
		f, err := os.OpenFile(os.DevNull, flag, 0)
		if err != nil {
			return handleSlot{}, newError(KindIO, "open", err)
		}
		return handleSlot{parentEnd: -1, childFile: f}, nil

	case StdioKindFile:
		flag := os.O_RDONLY
		if std != unix.Stdin {
			flag = os.O_WRONLY | os.O_CREATE
			if s.append {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
		}
		f, err := os.OpenFile(s.path, flag, 0o644)
		if err != nil {
			if os.IsNotExist(err) {
				return handleSlot{}, newError(KindFileNotFound, "open", err)
			}
			if os.IsPermission(err) {
				return handleSlot{}, newError(KindAccessDenied, "open", err)
			}
			return handleSlot{}, newError(KindIO, "open", err)
		}
		return handleSlot{parentEnd: -1, childFile: f}, nil

	default:
		return handleSlot{}, newError(KindIO, "stdio", nil)
	}
}

func appendPlan(h *StdioHandle, slot *handleSlot, std int) error {
	if slot.childFile == nil {
		// Inherit: no plan entry, the child keeps the parent's fd.
		return nil
	}
	h.plan = append(h.plan, dup2Entry{srcFd: int(slot.childFile.Fd()), dstFd: std})
	return nil
}

// dup2Plan returns the ordered (src_fd, dst_fd) plan for the spawn
// engine's in-child hook.
func (h *StdioHandle) dup2Plan() []dup2Entry {
	return h.plan
}

// visitDup2 enumerates the plan in stable order, invoking visit for each
// entry; the first error aborts enumeration.
func (h *StdioHandle) visitDup2(visit func(srcFd, dstFd int) error) error {
	for _, e := range h.plan {
		if err := visit(e.srcFd, e.dstFd); err != nil {
			return err
		}
	}
	return nil
}

// closeChildEnds closes every child-side descriptor in the parent right
// after a successful spawn.
func (h *StdioHandle) closeChildEnds() {
	for _, slot := range []*handleSlot{&h.stdin, &h.stdout, &h.stderr} {
		if slot.childFile != nil {
			slot.childFile.Close()
			slot.childFile = nil
		}
	}
}

// close closes every parent-side descriptor exactly once; it is
// idempotent and invoked both by Process.Destroy and by spawn-failure
// cleanup (tryCloseSuppressed).
func (h *StdioHandle) close() error {
	if h.closeOnce {
		return nil
	}
	h.closeOnce = true
	var acc suppressedErrors
	for _, slot := range []*handleSlot{&h.stdin, &h.stdout, &h.stderr} {
		if slot.parentFile != nil {
			tryCloseSuppressed(&acc, slot.parentFile)
			slot.parentFile = nil
		}
		if slot.childFile != nil {
			tryCloseSuppressed(&acc, slot.childFile)
			slot.childFile = nil
		}
	}
	return acc.err()
}

// stdinWriter returns the parent's write end of stdin, or nil if stdin
// wasn't a Pipe.
func (h *StdioHandle) stdinWriter() *os.File {
	return h.stdin.parentFile
}

// stdoutReader returns the parent's read end of stdout, or nil if stdout
// wasn't a Pipe.
func (h *StdioHandle) stdoutReader() *os.File {
	return h.stdout.parentFile
}

// stderrReader returns the parent's read end of stderr, or nil if stderr
// wasn't a Pipe.
func (h *StdioHandle) stderrReader() *os.File {
	return h.stderr.parentFile
}
