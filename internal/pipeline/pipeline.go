// Package pipeline launches a pipeline of processes: it forks one
// process per pipeline stage, wires their stdin/stdout per the pipe and
// redirection rules, assigns them all to a single new process group,
// and either waits for the group in the foreground or records it as a
// background job.
//
// Forking is adapted to os/exec.Cmd with SysProcAttr{Setpgid, Pgid}
// rather than a literal fork(2)+setpgid(2)+execve(2) sequence, since
// Go's exec package performs fork and exec atomically and there is no
// way to run further Go code in the child between them.
package pipeline

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gobacker/esh/internal/builtin"
	"github.com/gobacker/esh/internal/jobtable"
	"github.com/gobacker/esh/internal/logger"
	"github.com/gobacker/esh/internal/plugin"
	"github.com/gobacker/esh/internal/reaper"
	"github.com/gobacker/esh/internal/shellerr"
	"github.com/gobacker/esh/internal/sigutil"
	"github.com/gobacker/esh/internal/termctl"
)

// Printer is the narrow output sink the launcher writes user-visible
// notices to. *os.File satisfies it.
type Printer interface {
	WriteString(s string) (int, error)
}

// Launcher wires together every collaborator the Pipeline Launcher needs:
// the job table it registers new jobs in, the terminal controller it
// hands the foreground to, the reaper it funnels synchronous wait
// results through, the built-in dispatcher and plugin registry it
// consults before forking anything, and the shell's own process group.
type Launcher struct {
	Table    *jobtable.Table
	Term     *termctl.Controller
	Reaper   *reaper.Reaper
	Builtins *builtin.Dispatcher
	Plugins  *plugin.Registry
	Out      Printer

	ShellPgrp int
}

// Launch runs job's pipeline to completion (foreground) or registers it
// and returns immediately (background).
func (l *Launcher) Launch(job *jobtable.Job) error {
	if len(job.Commands) == 0 {
		return nil
	}

	if claimed, err := l.tryIntercept(job); claimed {
		return err
	}

	if err := sigutil.Block(unix.SIGCHLD); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	defer sigutil.Unblock(unix.SIGCHLD)

	cmds, err := l.startStages(job)
	if err != nil {
		return err
	}
	job.Pgrp = cmds[0].Process.Pid

	if job.BgMarker {
		job.Status = jobtable.Background
		l.Table.Append(job)
		l.printf("[%d] %d\n", job.JID, job.Pgrp)
		return nil
	}

	job.Status = jobtable.Foreground
	l.Table.Append(job)

	if err := l.Term.GiveTerminalTo(job.Pgrp, nil); err != nil {
		return shellerr.Wrap("pipeline: take terminal", err)
	}

	var status unix.WaitStatus
	pid, err := unix.Wait4(job.Pgrp, &status, unix.WUNTRACED, nil)
	if err != nil {
		return fmt.Errorf("pipeline: waitpid: %w", err)
	}
	l.Reaper.ReconcileSynchronous(pid, status)

	if err := l.Term.GiveTerminalTo(l.ShellPgrp, l.Term.Saved()); err != nil {
		return shellerr.Wrap("pipeline: return terminal", err)
	}
	return nil
}

// tryIntercept offers a single-stage pipeline to the built-in dispatcher
// and then the plugin registry, in that order. A multi-stage pipeline
// that names a built-in in any stage is rejected outright, before
// anything runs, since a built-in does not run as a forked member of the
// pipeline's process group. Plugins are offered only the first stage;
// a plugin's ProcessBuiltin both claims and handles the command, so when
// it claims the first stage of a multi-stage pipeline that stage has
// already been handled, and the remaining stages are not started.
func (l *Launcher) tryIntercept(job *jobtable.Job) (claimed bool, err error) {
	first := job.Commands[0]

	if len(job.Commands) != 1 {
		for i := range job.Commands {
			if builtin.IsBuiltin(job.Commands[i].Argv0()) {
				l.printf("esh: built-in commands cannot be used in a pipeline\n")
				return true, nil
			}
		}
	}

	if builtin.IsBuiltin(first.Argv0()) {
		return true, l.Builtins.Dispatch(&first)
	}

	if l.Plugins != nil && l.Plugins.ProcessBuiltin(&first) {
		if len(job.Commands) != 1 {
			l.printf("esh: plugin commands cannot be used in a pipeline\n")
		}
		return true, nil
	}

	return false, nil
}

// startStages forks every stage of the pipeline, wiring stdin/stdout:
// an explicit redirection overrides pipe wiring on any stage; otherwise
// adjacent stages connect via os.Pipe. The first
// stage started carries the new process group; every later stage joins
// it via Pgid.
func (l *Launcher) startStages(job *jobtable.Job) ([]*exec.Cmd, error) {
	n := len(job.Commands)
	cmds := make([]*exec.Cmd, n)

	var prevRead *os.File
	pgrp := 0

	for i := range job.Commands {
		stage := &job.Commands[i]
		cmd := buildCmd(stage)

		stdin, err := l.stageStdin(stage, i, prevRead)
		if err != nil {
			closeStarted(cmds[:i])
			return nil, err
		}
		cmd.Stdin = stdin

		stdout, closeAfterStart, err := l.stageStdout(stage, i, n)
		if err != nil {
			closeStarted(cmds[:i])
			return nil, err
		}

		var pipeReadEnd *os.File
		if stdout == nil {
			// No redirection and not the last stage: connect this
			// stage's stdout to the next stage's stdin via a fresh pipe.
			r, w, err := os.Pipe()
			if err != nil {
				closeStarted(cmds[:i])
				return nil, fmt.Errorf("pipeline: %w", err)
			}
			cmd.Stdout = w
			pipeReadEnd = r
			closeAfterStart = func() { w.Close() }
		} else {
			cmd.Stdout = stdout
		}

		cmd.Stderr = os.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: pgrp}

		if err := cmd.Start(); err != nil {
			closeStarted(cmds[:i])
			if pipeReadEnd != nil {
				pipeReadEnd.Close()
			}
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if closeAfterStart != nil {
			closeAfterStart()
		}

		if i == 0 {
			pgrp = cmd.Process.Pid
		}
		if prevRead != nil {
			prevRead.Close()
		}
		prevRead = pipeReadEnd

		cmds[i] = cmd
	}

	return cmds, nil
}

// stageStdin resolves stage i's standard input: an explicit redirection
// wins; otherwise the first stage inherits the shell's stdin and every
// later stage reads the previous stage's pipe.
func (l *Launcher) stageStdin(stage *jobtable.Command, i int, prevRead *os.File) (*os.File, error) {
	if stage.InputPath != "" {
		f, err := os.Open(stage.InputPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stage.InputPath, err)
		}
		return f, nil
	}
	if i == 0 {
		return os.Stdin, nil
	}
	return prevRead, nil
}

// stageStdout resolves stage i's standard output: an explicit
// redirection wins; the last stage otherwise inherits the shell's
// stdout. A nil, nil, nil return tells the caller this is an interior
// stage that must be connected to the next stage via a fresh pipe.
func (l *Launcher) stageStdout(stage *jobtable.Command, i, n int) (f *os.File, closeAfterStart func(), err error) {
	if stage.OutputPath != "" {
		flags := os.O_CREATE | os.O_WRONLY
		if stage.Append {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		opened, err := os.OpenFile(stage.OutputPath, flags, 0700)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", stage.OutputPath, err)
		}
		return opened, func() { opened.Close() }, nil
	}
	if i == n-1 {
		return os.Stdout, nil, nil
	}
	return nil, nil, nil
}

// buildCmd resolves stage into an *exec.Cmd, substituting a shell
// wrapper that prints the traditional "command not found" message and
// exits 0 when the named program cannot be found. A literal
// exec.Cmd.Start failure leaves no process behind at all, unlike the
// original C shell where the child itself forks, fails execve, prints,
// and exits. A real process standing in for the failed one is the
// only way to preserve the pipeline's process-group and wait semantics.
func buildCmd(stage *jobtable.Command) *exec.Cmd {
	argv0 := stage.Argv0()
	if _, err := exec.LookPath(argv0); err != nil {
		logger.Debugf("command not found: %s", argv0)
		msg := fmt.Sprintf("%s: command not found", argv0)
		return exec.Command("/bin/sh", "-c", "echo \""+escapeForShC(msg)+"\"; exit 0")
	}
	return exec.Command(argv0, stage.Argv[1:]...)
}

func escapeForShC(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' || s[i] == '$' || s[i] == '`' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func closeStarted(cmds []*exec.Cmd) {
	for _, cmd := range cmds {
		if cmd != nil && cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
}

func (l *Launcher) printf(format string, args ...any) {
	if l.Out == nil {
		return
	}
	l.Out.WriteString(fmt.Sprintf(format, args...))
}
