//go:build darwin

package procspawn

/*
#include <spawn.h>
#include <stdlib.h>
#include <string.h>
#include <errno.h>
#include <signal.h>
#include <unistd.h>

int init_file_actions(posix_spawn_file_actions_t *actions) {
    return posix_spawn_file_actions_init(actions);
}

int destroy_file_actions(posix_spawn_file_actions_t *actions) {
    return posix_spawn_file_actions_destroy(actions);
}

int add_dup2_action(posix_spawn_file_actions_t *actions, int fd, int newfd) {
    return posix_spawn_file_actions_adddup2(actions, fd, newfd);
}

#if defined(__APPLE__) && defined(__MACH__)
extern int posix_spawn_file_actions_addchdir(posix_spawn_file_actions_t *file_actions, const char *path) __attribute__((weak_import));
#pragma clang diagnostic push
#pragma clang diagnostic ignored "-Wdeprecated-declarations"
extern int posix_spawn_file_actions_addchdir_np(posix_spawn_file_actions_t *file_actions, const char *path) __attribute__((weak_import));
#pragma clang diagnostic pop

int add_chdir_action(posix_spawn_file_actions_t *actions, const char *path) {
    if (posix_spawn_file_actions_addchdir != NULL) {
        return posix_spawn_file_actions_addchdir(actions, path);
    }
    #pragma clang diagnostic push
    #pragma clang diagnostic ignored "-Wdeprecated-declarations"
    if (posix_spawn_file_actions_addchdir_np != NULL) {
        return posix_spawn_file_actions_addchdir_np(actions, path);
    }
    #pragma clang diagnostic pop
    return ENOSYS;
}

int has_chdir_np() {
    if (posix_spawn_file_actions_addchdir != NULL) {
        return 1;
    }
    #pragma clang diagnostic push
    #pragma clang diagnostic ignored "-Wdeprecated-declarations"
    int result = posix_spawn_file_actions_addchdir_np != NULL ? 1 : 0;
    #pragma clang diagnostic pop
    return result;
}
#else
int add_chdir_action(posix_spawn_file_actions_t *actions, const char *path) {
    return ENOSYS;
}
int has_chdir_np() {
    return 0;
}
#endif

int init_spawnattr(posix_spawnattr_t *attr) {
    return posix_spawnattr_init(attr);
}

int destroy_spawnattr(posix_spawnattr_t *attr) {
    return posix_spawnattr_destroy(attr);
}

int set_spawnattr_flags(posix_spawnattr_t *attr, short flags) {
    return posix_spawnattr_setflags(attr, flags);
}

int set_spawnattr_sigdefault(posix_spawnattr_t *attr, sigset_t *sigdefault) {
    return posix_spawnattr_setsigdefault(attr, sigdefault);
}

int set_spawnattr_sigmask(posix_spawnattr_t *attr, sigset_t *sigmask) {
    return posix_spawnattr_setsigmask(attr, sigmask);
}

int do_posix_spawn(pid_t *pid, const char *path,
                   posix_spawn_file_actions_t *file_actions,
                   posix_spawnattr_t *attrp,
                   char *const argv[], char *const envp[]) {
    return posix_spawn(pid, path, file_actions, attrp, argv, envp);
}

void sigset_fill(sigset_t *set) {
    sigfillset(set);
}

void sigset_empty(sigset_t *set) {
    sigemptyset(set);
}
*/
import "C"

import (
	"syscall"
	"unsafe"
)

// posixSpawnCloexecDefault is darwin-specific: every fd the child
// inherits is closed on exec unless a file action explicitly dup2s it
// back, so only the dup2 plan's fds survive into the child.
const posixSpawnCloexecDefault C.short = 0x4000

// platformSpawn is the darwin fast-spawn path: a cgo posix_spawn wrapper
// that runs off StdioHandle's dup2 plan. posix_spawn_file_actions has no
// code hook a child could use to write back to a self-pipe, so dup2/
// chdir/exec failures are reported the only way the kernel offers:
// synchronously, through posix_spawn's own return value.
// classifySpawnError gives this path the same typed errors the fork+exec
// path produces from syscall.ForkExec's errno.
func platformSpawn(req *spawnRequest) (*spawnResult, error) {
	var actions C.posix_spawn_file_actions_t
	if ret := C.init_file_actions(&actions); ret != 0 {
		return nil, classifySpawnError("spawn", req.path, syscall.Errno(ret))
	}
	defer C.destroy_file_actions(&actions)

	if err := req.h.visitDup2(func(srcFd, dstFd int) error {
		if ret := C.add_dup2_action(&actions, C.int(srcFd), C.int(dstFd)); ret != 0 {
			return syscall.Errno(ret)
		}
		return nil
	}); err != nil {
		return nil, classifySpawnError("dup2", req.path, err)
	}

	if req.dir != "" {
		if C.has_chdir_np() == 0 {
			return nil, newError(KindUnsupportedOperation, "chdir", errChdirUnsupported)
		}
		cDir := C.CString(req.dir)
		defer C.free(unsafe.Pointer(cDir))
		if ret := C.add_chdir_action(&actions, cDir); ret != 0 {
			return nil, classifySpawnError("chdir", req.dir, syscall.Errno(ret))
		}
	}

	var attr C.posix_spawnattr_t
	if ret := C.init_spawnattr(&attr); ret != 0 {
		return nil, classifySpawnError("spawn", req.path, syscall.Errno(ret))
	}
	defer C.destroy_spawnattr(&attr)

	flags := posixSpawnCloexecDefault | C.short(C.POSIX_SPAWN_SETSIGDEF) | C.short(C.POSIX_SPAWN_SETSIGMASK)
	C.set_spawnattr_flags(&attr, flags)

	var sigdefault, sigmask C.sigset_t
	C.sigset_fill(&sigdefault)
	C.sigset_empty(&sigmask)
	C.set_spawnattr_sigdefault(&attr, &sigdefault)
	C.set_spawnattr_sigmask(&attr, &sigmask)

	cPath := C.CString(req.path)
	defer C.free(unsafe.Pointer(cPath))

	cArgv := makeCStrings(req.argv)
	defer freeCStrings(cArgv)
	cEnvp := makeCStrings(req.envp)
	defer freeCStrings(cEnvp)

	var pid C.pid_t
	ret := C.do_posix_spawn(&pid, cPath, &actions, &attr,
		(**C.char)(unsafe.Pointer(&cArgv[0])),
		(**C.char)(unsafe.Pointer(&cEnvp[0])))
	if ret != 0 {
		return nil, classifySpawnError("exec", req.path, syscall.Errno(ret))
	}

	req.h.closeChildEnds()
	return &spawnResult{pid: int(pid)}, nil
}

// makeCStrings builds a NULL-terminated C string array from ss; the
// caller must freeCStrings it.
func makeCStrings(ss []string) []*C.char {
	out := make([]*C.char, len(ss)+1)
	for i, s := range ss {
		out[i] = C.CString(s)
	}
	out[len(ss)] = nil
	return out
}

func freeCStrings(cs []*C.char) {
	for _, c := range cs {
		if c != nil {
			C.free(unsafe.Pointer(c))
		}
	}
}
