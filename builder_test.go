package procspawn

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuilderDefaults(t *testing.T) {
	b := NewBuilder("sh", "-c", "true")
	require.True(t, b.stdin.isPipe())
	require.True(t, b.stdout.isPipe())
	require.True(t, b.stderr.isPipe())
	require.Equal(t, syscall.SIGTERM, b.destroySignal)
}

func TestBuilderFluentSetters(t *testing.T) {
	env := map[string]string{"FOO": "bar"}
	b := NewBuilder("sh").
		WithEnv(env).
		WithDir("/tmp").
		WithStdin(StdioNull()).
		WithStdout(StdioInherit()).
		WithStderr(StdioInherit()).
		WithDestroySignal(syscall.SIGKILL)

	require.Equal(t, "/tmp", b.dir)
	require.Equal(t, "bar", b.env["FOO"])
	require.Equal(t, StdioKindNull, b.stdin.kind)
	require.Equal(t, StdioKindInherit, b.stdout.kind)
	require.Equal(t, StdioKindInherit, b.stderr.kind)
	require.Equal(t, syscall.SIGKILL, b.destroySignal)
}

func TestBuilderSpawnMissingCommandIsFileNotFound(t *testing.T) {
	_, err := NewBuilder("this-binary-definitely-does-not-exist-xyz").Spawn()
	require.Error(t, err)
	var pe *ProcessError
	require.True(t, asProcessError(err, &pe))
	require.Equal(t, KindFileNotFound, pe.Kind)
}

func TestBuilderSpawnWithDirChangesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	p, err := NewBuilder("pwd").WithDir(dir).Spawn()
	require.NoError(t, err)

	var got string
	p.Stdout(LineFeed(func(line *string) error {
		if line != nil {
			got = *line
		}
		return nil
	}))
	code := p.WaitFor()
	p.Destroy()
	require.Equal(t, 0, code)
	require.Equal(t, dir, got)
}

func TestBuilderSpawnWithNonexistentDirIsFileNotFound(t *testing.T) {
	_, err := NewBuilder("sh", "-c", "true").WithDir("/nonexistent").Spawn()
	require.Error(t, err)
	var pe *ProcessError
	require.True(t, asProcessError(err, &pe))
	require.Equal(t, KindFileNotFound, pe.Kind)
	require.Contains(t, pe.Error(), "changeDir")
}

func TestBuilderSpawnWithEnvOverridesEnvironment(t *testing.T) {
	p, err := NewBuilder("sh", "-c", "echo $GREETING").
		WithEnv(map[string]string{"GREETING": "hi there"}).
		Spawn()
	require.NoError(t, err)

	var got string
	p.Stdout(LineFeed(func(line *string) error {
		if line != nil {
			got = *line
		}
		return nil
	}))
	code := p.WaitFor()
	p.Destroy()
	require.Equal(t, 0, code)
	require.Equal(t, "hi there", got)
}
