package procspawn

import (
	"context"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessEchoExitCode(t *testing.T) {
	p, err := NewBuilder("sh", "-c", "echo hello; exit 3").Spawn()
	require.NoError(t, err)
	require.Greater(t, p.Pid(), 0)

	var lines []string
	done := make(chan struct{})

	p.Stdout(LineFeed(func(line *string) error {
		if line == nil {
			close(done)
			return nil
		}
		lines = append(lines, *line)
		return nil
	}))

	code := p.WaitFor()
	require.Equal(t, 3, code)
	p.Destroy()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stdout EOS")
	}
	require.Equal(t, []string{"hello"}, lines)
}

func TestProcessIsAliveTransitions(t *testing.T) {
	p, err := NewBuilder("sh", "-c", "sleep 0.2").Spawn()
	require.NoError(t, err)

	require.True(t, p.IsAlive())
	_, err = p.ExitCode()
	require.Error(t, err)

	code := p.WaitFor()
	require.Equal(t, 0, code)
	require.False(t, p.IsAlive())

	c, err := p.ExitCode()
	require.NoError(t, err)
	require.Equal(t, 0, c)
	p.Destroy()
}

func TestProcessWaitForTimeout(t *testing.T) {
	p, err := NewBuilder("sh", "-c", "sleep 2").Spawn()
	require.NoError(t, err)
	defer p.Destroy()

	_, ok := p.WaitForTimeout(100 * time.Millisecond)
	require.False(t, ok)
}

func TestProcessWaitForAsyncCancellation(t *testing.T) {
	p, err := NewBuilder("sh", "-c", "sleep 2").Spawn()
	require.NoError(t, err)
	defer p.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.WaitForAsync(ctx)
	require.Error(t, err)
	var pe *ProcessError
	require.True(t, asProcessError(err, &pe))
	require.Equal(t, KindCancellation, pe.Kind)
}

func TestProcessDestroyIsIdempotent(t *testing.T) {
	p, err := NewBuilder("sh", "-c", "sleep 2").Spawn()
	require.NoError(t, err)
	require.NoError(t, p.Destroy())
	require.NoError(t, p.Destroy())
	p.WaitFor()
}

func TestProcessWaiterBeforeDestroyIsIllegalState(t *testing.T) {
	p, err := NewBuilder("sh", "-c", "true").Spawn()
	require.NoError(t, err)
	defer func() {
		p.WaitFor()
		p.Destroy()
	}()

	_, werr := p.StdoutWaiter()
	var pe *ProcessError
	require.True(t, asProcessError(werr, &pe))
	require.Equal(t, KindIllegalState, pe.Kind)
}

func TestProcessStdoutWaiterAfterDestroy(t *testing.T) {
	p, err := NewBuilder("sh", "-c", "echo done").Spawn()
	require.NoError(t, err)
	p.Stdout(RawFeed(func(*Segment) error { return nil }))
	p.WaitFor()
	p.Destroy()

	w, werr := p.StdoutWaiter()
	require.NoError(t, werr)
	w.AwaitStop()
	require.True(t, w.Stopped())
}

func TestProcessInputRoundTrip(t *testing.T) {
	p, err := NewBuilder("cat").Spawn()
	require.NoError(t, err)

	var got []string
	p.Stdout(LineFeed(func(line *string) error {
		if line != nil {
			got = append(got, *line)
		}
		return nil
	}))

	in := p.Input()
	require.NotNil(t, in)
	require.NoError(t, in.WriteUTF8("one line\n"))
	require.NoError(t, in.Close())

	code := p.WaitFor()
	p.Destroy()
	require.Equal(t, 0, code)
	require.Equal(t, []string{"one line"}, got)
}

func TestProcessInfoString(t *testing.T) {
	p, err := NewBuilder("sh", "-c", "exit 0").Spawn()
	require.NoError(t, err)
	p.WaitFor()
	defer p.Destroy()

	info := p.Info()
	require.NotEmpty(t, info.String())
	require.Equal(t, syscall.SIGTERM, info.DestroySignal)
}

func TestProcessStderrSameFileAsStdout(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "combined")
	require.NoError(t, err)
	f.Close()

	p, err := NewBuilder("sh", "-c", "echo stdout; echo 1>&2 stderr").
		WithStdout(StdioFile(f.Name(), false)).
		WithStderr(StdioFile(f.Name(), true)).
		Spawn()
	require.NoError(t, err)
	code := p.WaitFor()
	p.Destroy()
	require.Equal(t, 0, code)

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	require.True(t, len(lines) >= 2)
	require.Equal(t, []string{"stdout", "stderr"}, lines[:2])
}

// asProcessError is errors.As spelled locally to avoid importing errors
// into every test file that only needs this one check.
func asProcessError(err error, target **ProcessError) bool {
	for err != nil {
		if pe, ok := err.(*ProcessError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
