//go:build unix && !darwin

package procspawn

import (
	"os"
	"syscall"
)

// platformSpawn is the fork+exec fallback for every unix platform other
// than darwin. It calls syscall.ForkExec directly so it can drive the
// same StdioHandle dup2 plan the darwin path uses, instead of going
// through os/exec's own Cmd plumbing.
//
// ForkExec's internal implementation already runs the fork+exec sequence
// through a CLOEXEC-pipe handshake (the child writes its errno back to
// the parent if exec fails, then the parent reads it before ForkExec
// returns), so the synchronous error ForkExec reports here is already
// precise; classifySpawnError gives it the same typed-error shape the
// darwin path produces.
func platformSpawn(req *spawnRequest) (*spawnResult, error) {
	var files [3]uintptr
	files[0] = os.Stdin.Fd()
	files[1] = os.Stdout.Fd()
	files[2] = os.Stderr.Fd()

	if err := req.h.visitDup2(func(srcFd, dstFd int) error {
		if dstFd < 0 || dstFd > 2 {
			return nil
		}
		files[dstFd] = uintptr(srcFd)
		return nil
	}); err != nil {
		return nil, classifySpawnError("dup2", req.path, err)
	}

	attr := &syscall.ProcAttr{
		Dir:   req.dir,
		Env:   req.envp,
		Files: files[:],
	}

	pid, err := syscall.ForkExec(req.path, req.argv, attr)
	if err != nil {
		return nil, classifySpawnError("exec", req.path, err)
	}

	req.h.closeChildEnds()
	return &spawnResult{pid: pid}, nil
}
