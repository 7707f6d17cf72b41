package builtin_test

import (
	"bytes"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	. "gopkg.in/check.v1"
	"golang.org/x/sys/unix"

	"github.com/gobacker/esh/internal/builtin"
	"github.com/gobacker/esh/internal/jobtable"
	"github.com/gobacker/esh/internal/reaper"
	"github.com/gobacker/esh/internal/shellerr"
	"github.com/gobacker/esh/internal/termctl"
)

func Test(t *testing.T) { TestingT(t) }

type BuiltinSuite struct{}

var _ = Suite(&BuiltinSuite{})

func (s *BuiltinSuite) TestIsBuiltin(c *C) {
	c.Assert(builtin.IsBuiltin("jobs"), Equals, true)
	c.Assert(builtin.IsBuiltin("fg"), Equals, true)
	c.Assert(builtin.IsBuiltin("bg"), Equals, true)
	c.Assert(builtin.IsBuiltin("stop"), Equals, true)
	c.Assert(builtin.IsBuiltin("kill"), Equals, true)
	c.Assert(builtin.IsBuiltin("echo"), Equals, false)
}

func newDispatcher(table *jobtable.Table, out *bytes.Buffer) *builtin.Dispatcher {
	return &builtin.Dispatcher{
		Table:  table,
		Reaper: reaper.New(table, out),
		Out:    out,
	}
}

func (s *BuiltinSuite) TestJobsRendersRunningForForegroundAndBackground(c *C) {
	table := jobtable.New()
	table.Append(&jobtable.Job{
		Status:   jobtable.Foreground,
		Commands: []jobtable.Command{{Argv: []string{"sleep", "30"}}},
	})
	table.Append(&jobtable.Job{
		Status:   jobtable.Background,
		Commands: []jobtable.Command{{Argv: []string{"cat"}}},
	})
	table.Append(&jobtable.Job{
		Status:   jobtable.Stopped,
		Commands: []jobtable.Command{{Argv: []string{"vi", "notes.txt"}}},
	})

	var out bytes.Buffer
	d := newDispatcher(table, &out)
	err := d.Dispatch(&jobtable.Command{Argv: []string{"jobs"}})
	c.Assert(err, IsNil)

	c.Assert(out.String(), Equals,
		"[1] Running   (sleep 30)\n"+
			"[2] Running   (cat)\n"+
			"[3] Stopped   (vi notes.txt)\n")
}

func (s *BuiltinSuite) TestKillUsageWithoutArg(c *C) {
	table := jobtable.New()
	var out bytes.Buffer
	d := newDispatcher(table, &out)

	err := d.Dispatch(&jobtable.Command{Argv: []string{"kill"}})
	c.Assert(err, IsNil)
	c.Assert(out.String(), Equals, "kill: usage: kill jobid\n")
}

func (s *BuiltinSuite) TestKillSignalFailureIsFatal(c *C) {
	// A process group that cannot possibly exist makes unix.Kill fail with
	// ESRCH; a signal-send failure against a known job is fatal to the
	// shell, not local to this command.
	table := jobtable.New()
	table.Append(&jobtable.Job{
		Pgrp:     999999,
		Status:   jobtable.Background,
		Commands: []jobtable.Command{{Argv: []string{"sleep", "60"}}},
	})
	var out bytes.Buffer
	d := newDispatcher(table, &out)

	err := d.Dispatch(&jobtable.Command{Argv: []string{"kill", "1"}})
	c.Assert(err, NotNil)
	c.Assert(shellerr.IsFatal(err), Equals, true)
}

// openPty opens the master side of a pseudo-terminal for tests that need
// a real tty, skipping when one isn't available (e.g. a CI sandbox with
// no /dev/ptmx).
func openPty(c *C) (ptx *os.File) {
	ptx, err := os.OpenFile("/dev/ptmx", os.O_RDWR, 0)
	if err != nil {
		c.Skip("no /dev/ptmx available: " + err.Error())
	}
	return ptx
}

func (s *BuiltinSuite) TestStopSendsSigstopAndMarksBackground(c *C) {
	if testing.Short() {
		c.Skip("spawns a real subprocess")
	}

	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	err := cmd.Start()
	c.Assert(err, IsNil)
	defer cmd.Process.Kill()

	table := jobtable.New()
	job := &jobtable.Job{
		Pgrp:     cmd.Process.Pid,
		Status:   jobtable.Foreground,
		Commands: []jobtable.Command{{Argv: []string{"sleep", "30"}}},
	}
	table.Append(job)

	var out bytes.Buffer
	d := newDispatcher(table, &out)

	err = d.Dispatch(&jobtable.Command{Argv: []string{"stop", "1"}})
	c.Assert(err, IsNil)
	c.Assert(job.Status, Equals, jobtable.Background)
	c.Assert(out.String(), Equals, "")

	// Give the signal a moment to land, then confirm the process is
	// actually stopped rather than still running.
	time.Sleep(50 * time.Millisecond)
	var status unix.WaitStatus
	pid, err := unix.Wait4(cmd.Process.Pid, &status, unix.WUNTRACED|unix.WNOHANG, nil)
	c.Assert(err, IsNil)
	c.Assert(pid, Equals, cmd.Process.Pid)
	c.Assert(status.Stopped(), Equals, true)

	unix.Kill(-cmd.Process.Pid, unix.SIGCONT)
}

func (s *BuiltinSuite) TestFgEchoesAndForegroundsRealJob(c *C) {
	if testing.Short() {
		c.Skip("spawns a real subprocess and needs a pty")
	}
	ptx := openPty(c)
	defer ptx.Close()

	cmd := exec.Command("sleep", "1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	err := cmd.Start()
	c.Assert(err, IsNil)
	defer cmd.Process.Kill()

	table := jobtable.New()
	job := &jobtable.Job{
		JID:      1,
		Pgrp:     cmd.Process.Pid,
		Status:   jobtable.Background,
		Commands: []jobtable.Command{{Argv: []string{"sleep", "1"}}},
	}
	table.Append(job)

	var out bytes.Buffer
	d := newDispatcher(table, &out)
	d.Term = termctl.New(int(ptx.Fd()))
	d.ShellPgrp = os.Getpid()

	err = d.Dispatch(&jobtable.Command{Argv: []string{"fg", "1"}})
	if err != nil && shellerr.IsFatal(err) {
		c.Skip("cannot take controlling terminal in this sandbox: " + err.Error())
	}
	c.Assert(err, IsNil)
	c.Assert(out.String(), Equals, "sleep 1\n")

	// fg waits for the job to exit before returning, so by now the
	// reaper has already reconciled it out of the table.
	c.Assert(table.Find(1), IsNil)
}

func (s *BuiltinSuite) TestBgContinuesRealStoppedJobAndPrints(c *C) {
	if testing.Short() {
		c.Skip("spawns a real subprocess")
	}

	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	err := cmd.Start()
	c.Assert(err, IsNil)
	defer cmd.Process.Kill()

	err = unix.Kill(-cmd.Process.Pid, unix.SIGSTOP)
	c.Assert(err, IsNil)

	table := jobtable.New()
	job := &jobtable.Job{
		Pgrp:     cmd.Process.Pid,
		Status:   jobtable.Stopped,
		Commands: []jobtable.Command{{Argv: []string{"sleep", "30"}}},
	}
	table.Append(job)

	var out bytes.Buffer
	d := newDispatcher(table, &out)

	err = d.Dispatch(&jobtable.Command{Argv: []string{"bg", "1"}})
	c.Assert(err, IsNil)
	c.Assert(out.String(), Equals, "[1] sleep\n")
	c.Assert(job.Status, Equals, jobtable.Background)
}
