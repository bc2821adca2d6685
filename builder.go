package procspawn

import (
	"os"
	"syscall"

	"go.uber.org/zap"
)

// Builder assembles a command, arguments, environment, working
// directory, stdio configuration, destroy signal, and failure handler
// before spawning. It mirrors os/exec.Cmd's fluent shape but is built
// around Stdio variants instead of io.Reader/io.Writer.
type Builder struct {
	command string
	args    []string
	env     map[string]string
	dir     string

	stdin, stdout, stderr Stdio
	destroySignal         syscall.Signal

	handler Handler
	logger  *zap.Logger
}

// NewBuilder starts a Builder for command, defaulting every stdio
// stream to Pipe and destroySignal to SIGTERM.
func NewBuilder(command string, args ...string) *Builder {
	return &Builder{
		command:       command,
		args:          args,
		stdin:         StdioPipe(),
		stdout:        StdioPipe(),
		stderr:        StdioPipe(),
		destroySignal: syscall.SIGTERM,
	}
}

// WithEnv overrides the child's environment. Passing nil (the default)
// inherits the parent's environment via Current.Environment.
func (b *Builder) WithEnv(env map[string]string) *Builder {
	b.env = env
	return b
}

// WithDir sets the child's working directory.
func (b *Builder) WithDir(dir string) *Builder {
	b.dir = dir
	return b
}

// WithStdin sets the stdin stdio variant.
func (b *Builder) WithStdin(s Stdio) *Builder {
	b.stdin = s
	return b
}

// WithStdout sets the stdout stdio variant.
func (b *Builder) WithStdout(s Stdio) *Builder {
	b.stdout = s
	return b
}

// WithStderr sets the stderr stdio variant.
func (b *Builder) WithStderr(s Stdio) *Builder {
	b.stderr = s
	return b
}

// WithDestroySignal overrides the signal Destroy delivers to a live
// child; typically SIGTERM or SIGKILL.
func (b *Builder) WithDestroySignal(sig syscall.Signal) *Builder {
	b.destroySignal = sig
	return b
}

// WithHandler sets the feed-exception handler. Nil (the default)
// installs IgnoreHandler.
func (b *Builder) WithHandler(h Handler) *Builder {
	b.handler = h
	return b
}

// WithLogger attaches a zap logger; nil installs a no-op logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// Spawn resolves the command, opens stdio, runs the platform spawn
// path, and returns a live Process.
func (b *Builder) Spawn() (*Process, error) {
	return b.spawn(nil)
}

// spawn is Spawn's shared implementation; out, when non-nil, signals
// Output mode so buildStdioConfig applies its stdin/stdout/stderr
// promotion rules.
func (b *Builder) spawn(out *OutputOptions) (*Process, error) {
	path, err := LookPath(b.command)
	if err != nil {
		return nil, err
	}

	if b.dir != "" {
		fi, err := os.Stat(b.dir)
		if err != nil {
			return nil, newError(KindFileNotFound, "changeDir", err)
		}
		if !fi.IsDir() {
			return nil, newError(KindFileNotFound, "changeDir", syscall.ENOTDIR)
		}
	}

	cfg, err := buildStdioConfig(b.stdin, b.stdout, b.stderr, out)
	if err != nil {
		return nil, err
	}

	h, err := openStdioHandle(cfg)
	if err != nil {
		return nil, err
	}

	envMap := b.env
	if envMap == nil {
		envMap = Current.Environment()
	}

	logger := b.logger
	if logger == nil {
		logger = nopLogger()
	}

	req := &spawnRequest{
		path:          path,
		argv:          append([]string{b.command}, b.args...),
		envp:          envpFromMap(envMap),
		dir:           b.dir,
		h:             h,
		destroySignal: b.destroySignal,
		handler:       b.handler,
		logger:        logger,
	}

	res, err := spawn(req)
	if err != nil {
		h.close()
		return nil, err
	}

	return newProcess(res.pid, b.command, b.args, b.dir, envMap, cfg, h, b.destroySignal, b.handler, logger), nil
}

// envpFromMap flattens an environment map into KEY=value entries for
// the platform spawn path; map iteration order is already unordered, so
// no ordering guarantee is lost versus os.Environ() usage.
func envpFromMap(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
