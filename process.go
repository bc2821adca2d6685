package procspawn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Process is the public handle returned by a successful Spawn: pid,
// exit-code polling, waitFor in both blocking and cooperative-async
// flavors, destroy, and the dispatcher/WriteStream surface for attaching
// output feeds and writing stdin.
type Process struct {
	pid           int
	command       string
	args          []string
	cwd           string
	env           map[string]string
	stdio         StdioConfig
	destroySignal syscall.Signal
	startTime     time.Time

	// TraceID and logger are ambient-stack additions: every Process gets
	// a uuid so its log lines can be correlated across the two reader
	// goroutines and the collector.
	TraceID uuid.UUID
	logger  *zap.Logger

	handle  *StdioHandle
	disp    *dispatcher
	handler Handler

	exitCode  atomic.Pointer[int]
	destroyed atomic.Bool

	inputOnce sync.Once
	input     *WriteStream

	readerWG sync.WaitGroup
}

// newProcess wires a freshly spawned pid into a Process, attaches the
// dispatcher, and starts the reaper and reader goroutines. Called only
// from Builder.spawn (shared by Spawn and Output) after platformSpawn
// succeeds.
func newProcess(pid int, command string, args []string, cwd string, env map[string]string, cfg *StdioConfig, h *StdioHandle, destroySignal syscall.Signal, handler Handler, logger *zap.Logger) *Process {
	if handler == nil {
		handler = IgnoreHandler{}
	}
	if logger == nil {
		logger = nopLogger()
	}
	traceID := uuid.New()
	p := &Process{
		pid:           pid,
		command:       command,
		args:          args,
		cwd:           cwd,
		env:           env,
		stdio:         *cfg,
		destroySignal: destroySignal,
		startTime:     time.Now(),
		TraceID:       traceID,
		logger:        logger.With(zap.Int("pid", pid), zap.Stringer("trace_id", traceID)),
		handle:        h,
		handler:       handler,
	}
	p.disp = newDispatcher(p.logger, handler, cfg.Stdout.isPipe(), cfg.Stderr.isPipe())
	p.disp.onFatal = func(side, error) {
		// A feed exception the handler chose to rethrow is fatal to the
		// whole process, not just its stream; deferred because the
		// calling goroutine is itself a reader.
		go p.Destroy()
	}

	p.readerWG.Add(1)
	go p.reapLoop()
	if r := h.stdoutReader(); r != nil {
		p.readerWG.Add(1)
		go p.readLoop(sideStdout, r)
	}
	if r := h.stderrReader(); r != nil {
		p.readerWG.Add(1)
		go p.readLoop(sideStderr, r)
	}
	return p
}

// reapLoop blocks in a single Wait4 call for the lifetime of the
// process; this is the only caller of Wait4 for this pid, and
// ExitCodeOrNil only reads the code it stores, so there is no
// double-wait race.
func (p *Process) reapLoop() {
	defer p.readerWG.Done()
	var status unix.WaitStatus
	var rusage unix.Rusage
	_, err := unix.Wait4(p.pid, &status, 0, &rusage)
	code := -1
	switch {
	case err != nil:
	case status.Signaled():
		code = 128 + int(status.Signal())
	default:
		code = status.ExitStatus()
	}
	p.exitCode.Store(&code)
	if p.logger != nil {
		p.logger.Debug("process reaped", zap.Int("exitCode", code))
	}
}

// readLoop is one of the two parallel reader workers (one per standard
// stream): it reads f into an 8 KiB buffer and hands each chunk to the
// dispatcher, finishing with a nil-data call to signal end of stream.
func (p *Process) readLoop(s side, f *os.File) {
	defer p.readerWG.Done()
	buf := make([]byte, 8192)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.disp.dispatchBytes(s, chunk)
		}
		if err != nil {
			p.disp.dispatchBytes(s, nil)
			return
		}
	}
}

// Pid returns the process id. Spawn only ever returns a Process once the
// platform spawn call has already produced a pid, so Pid never observes
// an indeterminate state.
func (p *Process) Pid() int { return p.pid }

// ExitCodeOrNil returns, without blocking, the exit code recorded by the
// reaper goroutine; nil means the process has not been reaped yet.
func (p *Process) ExitCodeOrNil() *int {
	return p.exitCode.Load()
}

// ExitCode returns the exit code, or a KindIllegalState error if the
// process hasn't exited yet.
func (p *Process) ExitCode() (int, error) {
	if c := p.exitCode.Load(); c != nil {
		return *c, nil
	}
	return 0, newError(KindIllegalState, "exitCode", nil)
}

// IsAlive reports whether ExitCodeOrNil is still nil.
func (p *Process) IsAlive() bool {
	return p.exitCode.Load() == nil
}

// WaitFor blocks until the process exits and returns its exit code.
func (p *Process) WaitFor() int {
	code, _ := waitLoop(365*24*time.Hour, 100*time.Millisecond, func() (int, bool) {
		if c := p.exitCode.Load(); c != nil {
			return *c, true
		}
		return 0, false
	})
	return code
}

// WaitForTimeout blocks until either the process exits or timeout
// elapses; ok is false on timeout.
func (p *Process) WaitForTimeout(timeout time.Duration) (code int, ok bool) {
	return waitLoop(timeout, 100*time.Millisecond, func() (int, bool) {
		if c := p.exitCode.Load(); c != nil {
			return *c, true
		}
		return 0, false
	})
}

// WaitForAsync is WaitFor's cooperative-cancellation sibling: ctx
// cancellation returns a KindCancellation error without calling
// Destroy; the caller is responsible for doing so.
func (p *Process) WaitForAsync(ctx context.Context) (int, error) {
	code, ok, cancelled := waitLoopCancellable(365*24*time.Hour, 100*time.Millisecond, ctx.Done(), func() (int, bool) {
		if c := p.exitCode.Load(); c != nil {
			return *c, true
		}
		return 0, false
	})
	if cancelled {
		return 0, newError(KindCancellation, "waitFor", ctx.Err())
	}
	if !ok {
		return 0, newError(KindIO, "waitFor", nil)
	}
	return code, nil
}

// WaitForAsyncTimeout bounds WaitForAsync with timeout in addition to
// ctx cancellation.
func (p *Process) WaitForAsyncTimeout(ctx context.Context, timeout time.Duration) (code int, ok bool, err error) {
	code, ok, cancelled := waitLoopCancellable(timeout, 100*time.Millisecond, ctx.Done(), func() (int, bool) {
		if c := p.exitCode.Load(); c != nil {
			return *c, true
		}
		return 0, false
	})
	if cancelled {
		return 0, false, newError(KindCancellation, "waitFor", ctx.Err())
	}
	return code, ok, nil
}

// Stdout attaches feeds to the stdout dispatcher side.
func (p *Process) Stdout(feeds ...Feed) { p.disp.attach(sideStdout, feeds...) }

// Stderr attaches feeds to the stderr dispatcher side.
func (p *Process) Stderr(feeds ...Feed) { p.disp.attach(sideStderr, feeds...) }

// StdoutWaiter returns a Waiter for stdout. Constructing one before
// Destroy is a KindIllegalState error.
func (p *Process) StdoutWaiter() (*Waiter, error) { return p.disp.waiterFor(sideStdout) }

// StderrWaiter returns a Waiter for stderr. Constructing one before
// Destroy is a KindIllegalState error.
func (p *Process) StderrWaiter() (*Waiter, error) { return p.disp.waiterFor(sideStderr) }

// Input returns the stdin WriteStream, or nil if stdin wasn't a Pipe.
func (p *Process) Input() *WriteStream {
	if p.handle.stdinWriter() == nil {
		return nil
	}
	p.inputOnce.Do(func() {
		p.input = newWriteStream(p.handle.stdinWriter())
	})
	return p.input
}

// Destroy is idempotent: it delivers destroySignal to a still-alive
// child, closes the StdioHandle so the reader goroutines observe EOF
// and drive the dispatcher to stopped, and routes any cleanup failure
// through handler.OnException(ctx="destroy").
func (p *Process) Destroy() error {
	return p.destroyProtected(true)
}

// Close is an alias for Destroy.
func (p *Process) Close() error { return p.Destroy() }

func (p *Process) destroyProtected(immediate bool) error {
	if !p.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	p.disp.destroyed.Store(true)

	var acc suppressedErrors
	if immediate && p.IsAlive() {
		if err := unix.Kill(p.pid, p.destroySignal); err != nil && !errors.Is(err, syscall.ESRCH) {
			acc.add(err)
		}
	}
	if err := p.handle.close(); err != nil {
		acc.add(err)
	}

	err := acc.err()
	if err == nil {
		return nil
	}
	if rethrow := p.handler.OnException("destroy", err); rethrow != nil {
		return rethrow
	}
	return nil
}

// ProcessInfo is a textual-dump snapshot: pid, exit code (or "not
// exited"), command, args, cwd, stdio, and destroySignal, in stable
// column order.
type ProcessInfo struct {
	Pid           int
	ExitCode      *int
	Command       string
	Args          []string
	Cwd           string
	Stdio         StdioConfig
	DestroySignal syscall.Signal
}

// Info snapshots the Process into a ProcessInfo for logging or the
// OutputCollector's record.
func (p *Process) Info() ProcessInfo {
	return ProcessInfo{
		Pid:           p.pid,
		ExitCode:      p.exitCode.Load(),
		Command:       p.command,
		Args:          p.args,
		Cwd:           p.cwd,
		Stdio:         p.stdio,
		DestroySignal: p.destroySignal,
	}
}

// String renders the stable-column textual dump, used both as
// fmt.Stringer and via zap.Stringer in log fields.
func (i ProcessInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d", i.Pid)
	if i.ExitCode != nil {
		fmt.Fprintf(&b, " exitCode=%d", *i.ExitCode)
	} else {
		b.WriteString(" exitCode=not exited")
	}
	fmt.Fprintf(&b, " command=%q args=%q cwd=%q stdio=%s destroySignal=%s", i.Command, i.Args, i.Cwd, i.Stdio, i.DestroySignal)
	return b.String()
}
