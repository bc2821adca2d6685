package procspawn

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuilderOutputEchoesStdout(t *testing.T) {
	out, err := NewBuilder("sh", "-c", "echo hello").Output(context.Background())
	require.NoError(t, err)
	require.NoError(t, out.ProcessError)
	require.Equal(t, "hello\n", string(out.Stdout.Bytes()))
	require.NotNil(t, out.Info.ExitCode)
	require.Equal(t, 0, *out.Info.ExitCode)
}

func TestBuilderOutputWithInputUTF8(t *testing.T) {
	out, err := NewBuilder("cat").Output(context.Background(), WithInputUTF8("round trip\n"))
	require.NoError(t, err)
	require.Equal(t, "round trip\n", string(out.Stdout.Bytes()))
}

func TestBuilderOutputWithInputBytes(t *testing.T) {
	out, err := NewBuilder("cat").Output(context.Background(), WithInput([]byte("raw bytes")))
	require.NoError(t, err)
	require.Equal(t, "raw bytes", string(out.Stdout.Bytes()))
}

func TestBuilderOutputMaxBufferExceeded(t *testing.T) {
	out, err := NewBuilder("sh", "-c", "yes | head -c 200000").
		Output(context.Background(), WithMaxBuffer(32*1024))
	require.NoError(t, err)
	require.Error(t, out.ProcessError)
	require.LessOrEqual(t, out.Stdout.Size(), 32*1024)
}

func TestBuilderOutputWaitForTimedOut(t *testing.T) {
	out, err := NewBuilder("sh", "-c", "sleep 2; exit 42").
		WithDestroySignal(syscall.SIGTERM).
		Output(context.Background(), WithTimeout(250*time.Millisecond))
	require.NoError(t, err)
	require.ErrorIs(t, out.ProcessError, ErrWaitTimedOut)
	require.NotNil(t, out.Info.ExitCode)
	require.Equal(t, 128+int(syscall.SIGTERM), *out.Info.ExitCode)
	require.Empty(t, string(out.Stdout.Bytes()))
}

func TestBuilderOutputCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := NewBuilder("sh", "-c", "sleep 2").Output(ctx)
	require.NoError(t, err)
	require.Error(t, out.ProcessError)
	var pe *ProcessError
	require.True(t, asProcessError(out.ProcessError, &pe))
	require.Equal(t, KindCancellation, pe.Kind)
}

func TestBuilderOutputStderrCapturedSeparately(t *testing.T) {
	out, err := NewBuilder("sh", "-c", "echo out; echo err 1>&2").Output(context.Background())
	require.NoError(t, err)
	require.Equal(t, "out\n", string(out.Stdout.Bytes()))
	require.Equal(t, "err\n", string(out.Stderr.Bytes()))
}
