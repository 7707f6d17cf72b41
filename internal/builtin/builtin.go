// Package builtin dispatches the shell's built-in commands: jobs, fg,
// bg, stop, kill, implemented directly against the job table rather
// than through a general flag parser.
//
// Built-in names are kept in a name set and dispatched with a switch
// rather than a per-command option parser, since esh's built-ins take a
// single job-id positional argument rather than a general option set.
package builtin

import (
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/gobacker/esh/internal/jobtable"
	"github.com/gobacker/esh/internal/reaper"
	"github.com/gobacker/esh/internal/shellerr"
	"github.com/gobacker/esh/internal/sigutil"
	"github.com/gobacker/esh/internal/termctl"
)

// Printer is the narrow output sink the dispatcher writes its
// user-visible lines to. *os.File satisfies it.
type Printer interface {
	WriteString(s string) (int, error)
}

// Dispatcher implements the jobs/fg/bg/stop/kill built-ins.
type Dispatcher struct {
	Table  *jobtable.Table
	Term   *termctl.Controller
	Reaper *reaper.Reaper
	Out    Printer

	// ShellPgrp is the shell's own process group, restored as the
	// terminal's owner once a foregrounded job stops or exits.
	ShellPgrp int
}

// names is the closed set of built-in command names.
var names = map[string]bool{
	"jobs": true,
	"fg":   true,
	"bg":   true,
	"stop": true,
	"kill": true,
}

// IsBuiltin reports whether name is one of the built-in operations.
func IsBuiltin(name string) bool {
	return names[name]
}

// Dispatch runs the built-in named by cmd.Argv[0]. The caller must have
// already verified IsBuiltin(cmd.Argv0()).
func (d *Dispatcher) Dispatch(cmd *jobtable.Command) error {
	name := cmd.Argv0()
	arg := ""
	if len(cmd.Argv) > 1 {
		arg = cmd.Argv[1]
	}

	switch name {
	case "jobs":
		return d.jobs()
	case "fg":
		return d.withJID(name, arg, d.fg)
	case "bg":
		return d.withJID(name, arg, d.bg)
	case "stop":
		return d.withJID(name, arg, d.stop)
	case "kill":
		return d.withJID(name, arg, d.kill)
	default:
		return fmt.Errorf("builtin: unknown command %q", name)
	}
}

func (d *Dispatcher) withJID(name, arg string, f func(jid int) error) error {
	if arg == "" {
		d.printf("%s: usage: %s jobid\n", name, name)
		return nil
	}
	jid, err := strconv.Atoi(arg)
	if err != nil {
		d.printf("%s: usage: %s jobid\n", name, name)
		return nil
	}
	return f(jid)
}

// jobs lists every job in insertion order. "Running" covers both a
// FOREGROUND and a BACKGROUND job, and the line renders the full
// argument vector, not just argv[0] and argv[1].
func (d *Dispatcher) jobs() error {
	for _, job := range d.Table.Snapshot() {
		cmd := job.FirstCommand()
		switch job.Status {
		case jobtable.Foreground, jobtable.Background:
			d.printf("[%d] Running   (%s)\n", job.JID, cmd.String())
		case jobtable.Stopped:
			d.printf("[%d] Stopped   (%s)\n", job.JID, cmd.String())
		}
	}
	return nil
}

// kill sends SIGTERM to the whole process group and removes the job
// immediately; the reaper will see the resulting exit events against an
// already-removed job and stay silent.
func (d *Dispatcher) kill(jid int) error {
	job := d.Table.Find(jid)
	if job == nil {
		return nil
	}
	if err := unix.Kill(-job.Pgrp, unix.SIGTERM); err != nil {
		return shellerr.Wrap("kill", err)
	}
	d.Table.Remove(jid)
	return nil
}

// stop sends SIGSTOP to the process group and marks the job BACKGROUND:
// a stopped job is no longer the foreground owner.
func (d *Dispatcher) stop(jid int) error {
	job := d.Table.Find(jid)
	if job == nil {
		return nil
	}
	if err := unix.Kill(-job.Pgrp, unix.SIGSTOP); err != nil {
		return shellerr.Wrap("stop", err)
	}
	job.Status = jobtable.Background
	return nil
}

// bg continues a stopped job in the background.
func (d *Dispatcher) bg(jid int) error {
	job := d.Table.Find(jid)
	if job == nil {
		return nil
	}
	job.Status = jobtable.Background
	if err := unix.Kill(-job.Pgrp, unix.SIGCONT); err != nil {
		return shellerr.Wrap("bg", err)
	}
	cmd := job.FirstCommand()
	d.printf("[%d] %s\n", job.JID, cmd.Argv0())
	return nil
}

// fg brings a job to the foreground and blocks until it next stops or
// exits, exactly mirroring the pipeline launcher's own foreground-wait
// sequence: both funnel through the same reaper synchronous-reconciliation
// call. The child-status signal is blocked for the whole sequence.
func (d *Dispatcher) fg(jid int) error {
	job := d.Table.Find(jid)
	if job == nil {
		return nil
	}

	if err := sigutil.Block(unix.SIGCHLD); err != nil {
		return fmt.Errorf("fg: %w", err)
	}
	defer sigutil.Unblock(unix.SIGCHLD)

	cmd := job.FirstCommand()
	d.printf("%s\n", argv01(cmd))

	job.Status = jobtable.Foreground
	if err := unix.Kill(-job.Pgrp, unix.SIGCONT); err != nil {
		return shellerr.Wrap("fg", err)
	}

	if err := d.Term.GiveTerminalTo(job.Pgrp, nil); err != nil {
		return shellerr.Wrap("fg: take terminal", err)
	}

	var status unix.WaitStatus
	pid, err := unix.Wait4(job.Pgrp, &status, unix.WUNTRACED, nil)
	if err != nil {
		return fmt.Errorf("fg: waitpid: %w", err)
	}
	d.Reaper.ReconcileSynchronous(pid, status)

	if err := d.Term.GiveTerminalTo(d.ShellPgrp, d.Term.Saved()); err != nil {
		return shellerr.Wrap("fg: return terminal", err)
	}
	return nil
}

// argv01 renders "argv[0] argv[1]", the fg echo line's format. Unlike
// the Running/Stopped status lines, this one is always just the first
// two words of the argument vector, never the full vector.
func argv01(cmd *jobtable.Command) string {
	if len(cmd.Argv) < 2 {
		return cmd.Argv0()
	}
	return cmd.Argv[0] + " " + cmd.Argv[1]
}

func (d *Dispatcher) printf(format string, args ...any) {
	if d.Out == nil {
		return
	}
	d.Out.WriteString(fmt.Sprintf(format, args...))
}
