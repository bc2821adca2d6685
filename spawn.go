package procspawn

import (
	"errors"
	"os"
	"runtime"
	"syscall"

	"go.uber.org/zap"
)

// spawnRequest carries everything the platform-specific spawn path needs:
// the resolved command path, full argv (including argv[0]), envp, the
// working directory, and the already-opened StdioHandle with its dup2
// plan.
type spawnRequest struct {
	path string
	argv []string
	envp []string
	dir  string
	h    *StdioHandle

	destroySignal syscall.Signal
	handler       Handler
	logger        *zap.Logger
}

// spawnResult is what a platform spawn path must produce on success.
type spawnResult struct {
	pid int
}

// spawn dispatches to the fast-spawn path on darwin, or the fork+exec
// fallback everywhere else. Both paths return typed errors classified
// through classifySpawnError.
func spawn(req *spawnRequest) (*spawnResult, error) {
	if req.logger != nil {
		req.logger.Debug("spawning",
			zap.String("path", req.path),
			zap.Strings("argv", req.argv),
			zap.String("dir", req.dir),
			zap.String("mode", spawnModeName()),
		)
	}
	return platformSpawn(req)
}

func spawnModeName() string {
	if runtime.GOOS == "darwin" {
		return "posix_spawn"
	}
	return "fork+exec"
}

// classifySpawnError picks the tightest typed error for a spawn failure:
// FileNotFound for ENOENT or an absolute, missing command; AccessDenied
// when the command exists but isn't executable; generic IO otherwise.
// For EACCES it stats path to tell those two cases apart, so the result
// also depends on the file system, not only on the arguments.
func classifySpawnError(op string, path string, errno error) *ProcessError {
	var se syscall.Errno
	if errors.As(errno, &se) {
		switch se {
		case syscall.ENOENT:
			return newError(KindFileNotFound, op, errno)
		case syscall.EACCES:
			if fi, statErr := os.Stat(path); statErr == nil && fi.Mode().IsRegular() {
				return newError(KindAccessDenied, op, errno)
			}
			return newError(KindFileNotFound, op, errno)
		case syscall.ENOTDIR:
			return newError(KindFileNotFound, op, errno)
		}
	}
	if os.IsNotExist(errno) {
		return newError(KindFileNotFound, op, errno)
	}
	if os.IsPermission(errno) {
		return newError(KindAccessDenied, op, errno)
	}
	return newError(KindIO, op, errno)
}
