package procsession

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/holon-run/localagent/pkg/agenterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func waitProcess(t *testing.T, r *Registry, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx, id))
}

func TestStartCapturesBothStreams(t *testing.T) {
	skipWithoutShell(t)
	r := NewRegistry(Config{})

	res, err := r.Start("sh", []string{"-c", "echo hello; echo oops 1>&2; exit 3"}, t.TempDir())
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.Positive(t, res.PID)
	waitProcess(t, r, res.ID)

	out, err := r.Read(res.ID, false)
	require.NoError(t, err)
	assert.False(t, out.IsRunning)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 3, *out.ExitCode)
	assert.Contains(t, out.Output, "hello\n")
	assert.Contains(t, out.Output, "oops\n")
	assert.True(t, strings.HasSuffix(out.Output, "[process exited with code 3]"), "output = %q", out.Output)
}

func TestInteractiveSession(t *testing.T) {
	skipWithoutShell(t)
	r := NewRegistry(Config{})

	res, err := r.Start("cat", nil, "")
	require.NoError(t, err)

	w, err := r.Write(res.ID, "ping", true)
	require.NoError(t, err)
	assert.Equal(t, 5, w.BytesWritten)

	require.Eventually(t, func() bool {
		out, err := r.Read(res.ID, false)
		return err == nil && strings.Contains(out.Output, "ping\n")
	}, 5*time.Second, 10*time.Millisecond)

	out, err := r.Read(res.ID, true)
	require.NoError(t, err)
	assert.True(t, out.IsRunning)
	assert.Nil(t, out.ExitCode)
	assert.Equal(t, "ping\n", out.Output)

	out, err = r.Read(res.ID, false)
	require.NoError(t, err)
	assert.Empty(t, out.Output)
	assert.Zero(t, out.Chunks)

	w, err = r.Write(res.ID, "raw", false)
	require.NoError(t, err)
	assert.Equal(t, 3, w.BytesWritten)

	closed, err := r.Close(res.ID, false)
	require.NoError(t, err)
	assert.Equal(t, res.ID, closed.ID)

	_, err = r.Read(res.ID, false)
	assert.True(t, agenterr.IsKind(err, agenterr.KindNotFound), "Read() after Close error = %v", err)
}

func TestWriteAfterExit(t *testing.T) {
	skipWithoutShell(t)
	r := NewRegistry(Config{})

	res, err := r.Start("sh", []string{"-c", "exit 0"}, "")
	require.NoError(t, err)
	waitProcess(t, r, res.ID)

	_, err = r.Write(res.ID, "late", true)
	assert.True(t, agenterr.IsKind(err, agenterr.KindInvalidState), "Write() error = %v", err)

	out, err := r.Read(res.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "[process exited with code 0]", out.Output)
	assert.Equal(t, 1, out.Chunks)
}

func TestSpawnErrorIsRecorded(t *testing.T) {
	var events []ExitEvent
	r := NewRegistry(Config{OnExit: func(e ExitEvent) { events = append(events, e) }})

	res, err := r.Start("localagent-definitely-missing-binary", []string{"x"}, "")
	require.NoError(t, err)
	assert.Zero(t, res.PID)

	out, err := r.Read(res.ID, false)
	require.NoError(t, err)
	assert.False(t, out.IsRunning)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, -1, *out.ExitCode)
	assert.Equal(t, 1, out.Chunks)
	assert.True(t, strings.HasPrefix(out.Output, "[spawn error: "), "output = %q", out.Output)

	_, err = r.Write(res.ID, "x", true)
	assert.True(t, agenterr.IsKind(err, agenterr.KindInvalidState))

	require.Len(t, events, 1)
	assert.Equal(t, res.ID, events[0].ID)

	list := r.List()
	require.Len(t, list, 1)
	assert.False(t, list[0].IsRunning)
}

func TestExitWithLingeringDescendant(t *testing.T) {
	skipWithoutShell(t)
	r := NewRegistry(Config{})

	res, err := r.Start("sh", []string{"-c", "(sleep 2; echo child-done) & echo parent-done; exit 7"}, "")
	require.NoError(t, err)

	// The shell exits at once; its background child keeps the pipes open.
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Wait(ctx, res.ID))

	out, err := r.Read(res.ID, false)
	require.NoError(t, err)
	assert.False(t, out.IsRunning)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 7, *out.ExitCode)
	assert.Equal(t, "parent-done\n[process exited with code 7]", out.Output)

	_, err = r.Write(res.ID, "late", true)
	assert.True(t, agenterr.IsKind(err, agenterr.KindInvalidState), "Write() error = %v", err)

	require.Eventually(t, func() bool {
		out, err := r.Read(res.ID, false)
		return err == nil && strings.HasSuffix(out.Output, "child-done\n")
	}, 10*time.Second, 20*time.Millisecond)

	s, err := r.get("test", res.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !s.hasOpenStreams() }, 5*time.Second, 10*time.Millisecond)
}

func TestCloseEndedSessionKillsDescendants(t *testing.T) {
	skipWithoutShell(t)
	r := NewRegistry(Config{})

	res, err := r.Start("sh", []string{"-c", "sleep 30 & exit 0"}, "")
	require.NoError(t, err)
	waitProcess(t, r, res.ID)

	s, err := r.get("test", res.ID)
	require.NoError(t, err)
	require.True(t, s.hasOpenStreams())

	closed, err := r.Close(res.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "session removed", closed.Message)
	require.Eventually(t, func() bool { return !s.hasOpenStreams() }, 10*time.Second, 10*time.Millisecond)
}

func TestForceCloseRemovesFromList(t *testing.T) {
	skipWithoutShell(t)
	exited := make(chan ExitEvent, 1)
	r := NewRegistry(Config{OnExit: func(e ExitEvent) { exited <- e }})

	res, err := r.Start("sh", []string{"-c", "trap '' TERM; while :; do sleep 1; done"}, "")
	require.NoError(t, err)
	keep, err := r.Start("sleep", []string{"30"}, "")
	require.NoError(t, err)
	defer r.Shutdown()

	_, err = r.Close(res.ID, true)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)
	running, total := r.Counts()
	assert.Equal(t, 1, running)
	assert.Equal(t, 1, total)

	select {
	case e := <-exited:
		assert.Equal(t, res.ID, e.ID)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the killed process to be reaped")
	}
}

func TestTerminatedBySignal(t *testing.T) {
	skipWithoutShell(t)
	r := NewRegistry(Config{})

	res, err := r.Start("sh", []string{"-c", "kill -TERM $$"}, "")
	require.NoError(t, err)
	waitProcess(t, r, res.ID)

	out, err := r.Read(res.ID, false)
	require.NoError(t, err)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, -1, *out.ExitCode)
	assert.Equal(t, "[process terminated by signal SIGTERM]", out.Output)
}

func TestStartRequiresCommand(t *testing.T) {
	r := NewRegistry(Config{})
	_, err := r.Start("  ", nil, "")
	assert.True(t, agenterr.IsKind(err, agenterr.KindInvalidArgument), "Start() error = %v", err)
	assert.Empty(t, r.List())
}

func TestUnknownSession(t *testing.T) {
	r := NewRegistry(Config{})

	_, err := r.Write("proc_0_0", "x", true)
	assert.True(t, agenterr.IsKind(err, agenterr.KindNotFound))
	_, err = r.Read("proc_0_0", false)
	assert.True(t, agenterr.IsKind(err, agenterr.KindNotFound))
	_, err = r.Close("proc_0_0", true)
	assert.True(t, agenterr.IsKind(err, agenterr.KindNotFound))
}

func TestListAndShutdown(t *testing.T) {
	skipWithoutShell(t)
	r := NewRegistry(Config{})

	first, err := r.Start("sleep", []string{"30"}, "")
	require.NoError(t, err)
	second, err := r.Start("sh", []string{"-c", "exit 0"}, "")
	require.NoError(t, err)
	waitProcess(t, r, second.ID)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, "sleep", list[0].Command)
	assert.Equal(t, []string{"30"}, list[0].Args)
	assert.True(t, list[0].IsRunning)
	assert.Equal(t, second.ID, list[1].ID)
	assert.False(t, list[1].IsRunning)

	running, total := r.Counts()
	assert.Equal(t, 1, running)
	assert.Equal(t, 2, total)

	r.Shutdown()
	running, total = r.Counts()
	assert.Zero(t, running)
	assert.Zero(t, total)
}

func TestReaperGoroutinesExit(t *testing.T) {
	skipWithoutShell(t)
	defer goleak.VerifyNone(t)

	exited := make(chan ExitEvent, 1)
	r := NewRegistry(Config{OnExit: func(e ExitEvent) { exited <- e }})

	res, err := r.Start("sleep", []string{"30"}, "")
	require.NoError(t, err)
	_, err = r.Close(res.ID, true)
	require.NoError(t, err)

	select {
	case e := <-exited:
		assert.Equal(t, res.ID, e.ID)
		assert.Equal(t, "[process terminated by signal SIGKILL]", e.Entry)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the killed process to be reaped")
	}
}
