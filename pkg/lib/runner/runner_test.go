package runner

import (
	"bytes"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/sinit/pkg/lib"
	"github.com/SanjoDeundiak/sinit/pkg/lib/logging"
	"github.com/SanjoDeundiak/sinit/pkg/lib/sigmask"
)

type forkExecCall struct {
	argv0 string
	argv  []string
	attr  *syscall.ProcAttr
}

type fakeForkExec struct {
	calls []forkExecCall
	pid   int
	err   error
}

func (f *fakeForkExec) forkExec(argv0 string, argv []string, attr *syscall.ProcAttr) (int, error) {
	f.calls = append(f.calls, forkExecCall{argv0: argv0, argv: argv, attr: attr})
	if f.err != nil {
		return 0, f.err
	}
	return f.pid, nil
}

func newFakeRunner(t *testing.T, fake *fakeForkExec, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithForkExec(fake.forkExec), WithIgnored(func(os.Signal) bool { return false })}, opts...)
	r, err := NewRunner("/", opts...)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

var blocked = sigmask.Set{unix.SIGCHLD, unix.SIGUSR1, unix.SIGINT}

func TestRun_ParentReturnsPid(t *testing.T) {
	fake := &fakeForkExec{pid: 4242}
	r := newFakeRunner(t, fake)

	res, err := r.Run(lib.Command{Path: "/bin/rc.shutdown", Args: []string{"poweroff"}}, blocked)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Pid != 4242 {
		t.Fatalf("expected pid 4242, got %d", res.Pid)
	}
	if res.ID == "" {
		t.Fatalf("expected a spawn id")
	}

	if len(fake.calls) != 1 {
		t.Fatalf("expected one fork-exec, got %d", len(fake.calls))
	}
	call := fake.calls[0]
	if call.argv0 != "/bin/rc.shutdown" {
		t.Fatalf("unexpected argv0 %q", call.argv0)
	}
	if len(call.argv) != 2 || call.argv[0] != "/bin/rc.shutdown" || call.argv[1] != "poweroff" {
		t.Fatalf("unexpected argv %q", call.argv)
	}
	if call.attr.Sys == nil || !call.attr.Sys.Setsid {
		t.Fatalf("child must start a new session")
	}
	if call.attr.Dir != "/" {
		t.Fatalf("expected workdir /, got %q", call.attr.Dir)
	}
	if len(call.attr.Files) != 3 {
		t.Fatalf("expected stdio to be inherited, got %d files", len(call.attr.Files))
	}
}

func TestRun_EnvironmentUntouched(t *testing.T) {
	fake := &fakeForkExec{pid: 7}
	r := newFakeRunner(t, fake)
	r.environ = func() []string { return []string{"TERM=linux", "HOME=/"} }

	if _, err := r.Run(lib.Command{Path: "/bin/rc.init"}, blocked); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	env := fake.calls[0].attr.Env
	if len(env) != 2 || env[0] != "TERM=linux" || env[1] != "HOME=/" {
		t.Fatalf("environment was transformed: %q", env)
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	fake := &fakeForkExec{pid: 1}
	r := newFakeRunner(t, fake)

	_, err := r.Run(lib.Command{}, blocked)
	if !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("nothing should be forked for an empty command")
	}
}

func TestRun_ForkFailure(t *testing.T) {
	fake := &fakeForkExec{err: syscall.EAGAIN}
	r := newFakeRunner(t, fake)

	_, err := r.Run(lib.Command{Path: "/bin/rc.init"}, blocked)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
	if spawnErr.Stage != StageFork || spawnErr.InChild() {
		t.Fatalf("expected a parent-side fork failure, got stage %v", spawnErr.Stage)
	}
	if !errors.Is(err, unix.EAGAIN) {
		t.Fatalf("expected the OS error to be preserved: %v", err)
	}
}

func TestRun_ExecFailureInChild(t *testing.T) {
	fake := &fakeForkExec{err: syscall.ENOENT}
	r := newFakeRunner(t, fake)

	_, err := r.Run(lib.Command{Path: "/missing/rc.init"}, blocked)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
	if spawnErr.Stage != StageExec || !spawnErr.InChild() {
		t.Fatalf("expected a child-side exec failure, got stage %v", spawnErr.Stage)
	}
	if got, want := err.Error(), "couldn't exec child process /missing/rc.init: no such file or directory"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRun_SessionFailureInChild(t *testing.T) {
	fake := &fakeForkExec{err: syscall.EPERM}
	r := newFakeRunner(t, fake)

	_, err := r.Run(lib.Command{Path: "/bin/rc.init"}, blocked)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) || spawnErr.Stage != StageSession {
		t.Fatalf("expected setsid failure, got %v", err)
	}
}

func TestRun_IgnoredSignalFailsUnmask(t *testing.T) {
	fake := &fakeForkExec{pid: 1}
	r := newFakeRunner(t, fake, WithIgnored(func(sig os.Signal) bool { return sig == unix.SIGUSR1 }))

	_, err := r.Run(lib.Command{Path: "/bin/rc.init"}, blocked)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) || spawnErr.Stage != StageUnmask {
		t.Fatalf("expected unmask failure, got %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("nothing should be forked when the child cannot be unmasked")
	}
}

func TestRun_LookPath(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "rc.init")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	t.Setenv("PATH", dir)

	fake := &fakeForkExec{pid: 9}
	r := newFakeRunner(t, fake, WithLookPath(lookPath))

	if _, err := r.Run(lib.Command{Path: "rc.init"}, blocked); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := fake.calls[0].argv0; got != script {
		t.Fatalf("expected %q to be resolved to %q, got %q", "rc.init", script, got)
	}
	if got := fake.calls[0].argv[0]; got != "rc.init" {
		t.Fatalf("argv[0] must keep the configured name, got %q", got)
	}

	_, err := r.Run(lib.Command{Path: "rc.missing"}, blocked)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) || spawnErr.Stage != StageResolve || !errors.Is(err, unix.ENOENT) {
		t.Fatalf("expected resolve failure for a missing command, got %v", err)
	}
	if spawnErr.InChild() {
		t.Fatalf("no child exists when the path search fails")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("nothing should be forked for a missing command, got %d calls", len(fake.calls))
	}
}

func TestRun_FailureLogsSpawnID(t *testing.T) {
	var buf bytes.Buffer
	logging.Setup(&buf, false)
	defer logging.Setup(os.Stdout, false)

	fake := &fakeForkExec{err: syscall.ENOENT}
	r := newFakeRunner(t, fake)

	_, err := r.Run(lib.Command{Path: "/missing/rc.init"}, blocked)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
	if spawnErr.ID == "" {
		t.Fatalf("expected the spawn id on the error")
	}
	want := "Init: spawn " + spawnErr.ID + " failed at exec\n"
	if got := buf.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewRunner_InvalidWorkDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := NewRunner(file); err == nil {
		t.Fatalf("expected an error for a non-directory workdir")
	}
	if _, err := NewRunner(filepath.Join(file, "missing")); err == nil {
		t.Fatalf("expected an error for a missing workdir")
	}
}

func waitExit(t *testing.T, pid int) int {
	t.Helper()
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			t.Fatalf("wait4 failed: %v", err)
		}
		return status.ExitStatus()
	}
}

func TestRun_RealProcess(t *testing.T) {
	r, err := NewRunner(t.TempDir())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	res, err := r.Run(lib.Command{Path: "sh", Args: []string{"-c", "exit 3"}}, blocked)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code := waitExit(t, res.Pid); code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
}

// Runs only on linux
func TestRun_RealProcessIsSessionLeader(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("Skipping: not running on Linux")
	}

	r, err := NewRunner("/")
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	// Field 6 of /proc/<pid>/stat is the session id.
	script := `read -r pid comm state ppid pgrp session rest < /proc/$$/stat; [ "$session" = "$$" ]`
	res, err := r.Run(lib.Command{Path: "sh", Args: []string{"-c", script}}, blocked)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code := waitExit(t, res.Pid); code != 0 {
		t.Fatalf("child is not a session leader (exit code %d)", code)
	}
}

func TestRun_RealChildSignalsAtDefault(t *testing.T) {
	controller := sigmask.NewController(blocked)
	mask, err := controller.BlockAll()
	if err != nil {
		t.Fatalf("BlockAll failed: %v", err)
	}
	defer signal.Reset()

	r, err := NewRunner("/")
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	// The child must die from SIGUSR1 rather than inherit init's routing.
	res, err := r.Run(lib.Command{Path: "sh", Args: []string{"-c", "kill -USR1 $$; sleep 5"}}, mask.Set)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(res.Pid, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			t.Fatalf("wait4 failed: %v", err)
		}
		break
	}
	if !status.Signaled() || status.Signal() != unix.SIGUSR1 {
		t.Fatalf("expected the child to be killed by SIGUSR1, got %v", status)
	}
}

func TestRun_RealExecFailure(t *testing.T) {
	r, err := NewRunner("/")
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	_, err = r.Run(lib.Command{Path: "/nonexistent/rc.init"}, blocked)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
	if !spawnErr.InChild() || !errors.Is(err, unix.ENOENT) {
		t.Fatalf("expected a child-side ENOENT, got %v", err)
	}
}
