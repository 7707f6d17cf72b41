// Package reaper services SIGCHLD and reconciles every child-status
// event against the shell's job table.
//
// A gopkg.in/tomb.v2-supervised goroutine calls signal.Notify for
// SIGCHLD and drains unix.Wait4(-1, ..., WNOHANG|WUNTRACED, nil) until ECHILD,
// reconciling every (pid, status) event against a jobtable.Table. A
// signaled child is reaped exactly like a normally-exited one; neither
// is left dangling in the table.
package reaper

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"

	"github.com/gobacker/esh/internal/jobtable"
	"github.com/gobacker/esh/internal/logger"
)

// Printer is the narrow interface the reaper uses to produce the
// DONE/Stopped notices. *os.File satisfies it.
type Printer interface {
	WriteString(s string) (int, error)
}

// Reaper owns the background goroutine that services SIGCHLD and
// reconciles child-status events against a job table.
type Reaper struct {
	table *jobtable.Table
	out   Printer

	t       tomb.Tomb
	started bool
}

// New returns a Reaper that reconciles events against table, printing
// user-visible notices to out.
func New(table *jobtable.Table, out Printer) *Reaper {
	return &Reaper{table: table, out: out}
}

// Start begins servicing SIGCHLD asynchronously. It is idempotent.
func (r *Reaper) Start() {
	if r.started {
		return
	}
	r.started = true
	r.t.Go(r.run)
}

// Stop halts the background goroutine and waits for it to exit.
func (r *Reaper) Stop() error {
	if !r.started {
		return nil
	}
	r.t.Kill(nil)
	err := r.t.Wait()
	r.started = false
	return err
}

func (r *Reaper) run() error {
	logger.Debugf("reaper started, waiting for SIGCHLD")
	sigChld := make(chan os.Signal, 1)
	signal.Notify(sigChld, unix.SIGCHLD)
	defer signal.Stop(sigChld)

	for {
		select {
		case <-sigChld:
			r.reapAvailable()
		case <-r.t.Dying():
			logger.Debugf("reaper stopped")
			return nil
		}
	}
}

// reapAvailable is the asynchronous entry point: it polls non-blocking,
// including stopped children, until none remain. The
// table is mutated without an explicit signal block here, because the
// asynchronous path owns the table for the duration of signal servicing;
// the main thread cannot interleave with it, only the reverse.
func (r *Reaper) reapAvailable() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG|unix.WUNTRACED, nil)
		switch err {
		case nil:
			if pid <= 0 {
				return
			}
			r.Reconcile(pid, status)
		case unix.ECHILD:
			return
		default:
			logger.Noticef("cannot wait for child process: %v", err)
			return
		}
	}
}

// Reconcile applies one (pid, status) event to the job table. It is the
// single reconciliation routine shared by the asynchronous entry point
// above and the synchronous entry point called from the pipeline
// launcher and the fg built-in right after a targeted wait.
//
// Reconciling the same event twice is a no-op the second time, since the
// job will already have been removed from (or updated in) the table.
func (r *Reaper) Reconcile(pid int, status unix.WaitStatus) {
	switch {
	case status.Stopped():
		r.reconcileStopped(pid)
	default:
		// Exited, signaled, or any other terminal status: the process is
		// gone. A signaled child is reaped exactly like a normal exit,
		// not ignored.
		r.reconcileGone(pid)
	}
}

func (r *Reaper) reconcileGone(pid int) {
	job := r.table.FindByPgrp(pid)
	if job == nil {
		return
	}
	if job.Status != jobtable.Foreground {
		r.printf("\n[%d] DONE\n", job.JID)
	}
	r.table.Remove(job.JID)
}

func (r *Reaper) reconcileStopped(pid int) {
	job := r.table.FindByPgrp(pid)
	if job == nil {
		return
	}
	job.Status = jobtable.Stopped
}

// ReconcileSynchronous is the synchronous entry point: called from the
// main loop immediately after a targeted, blocking wait
// on the foreground job, with the already-collected status and pid. In
// addition to the table update performed by Reconcile, the synchronous
// path prints the "Stopped" notice (the asynchronous path never does,
// since a foreground job stopping is always observed synchronously).
func (r *Reaper) ReconcileSynchronous(pid int, status unix.WaitStatus) {
	if status.Stopped() {
		job := r.table.FindByPgrp(pid)
		if job != nil {
			job.Status = jobtable.Stopped
			cmd := job.FirstCommand()
			r.printf("[%d] Stopped   (%s)\n", job.JID, cmd.String())
		}
		return
	}
	r.Reconcile(pid, status)
}

func (r *Reaper) printf(format string, args ...any) {
	if r.out == nil {
		return
	}
	r.out.WriteString(fmt.Sprintf(format, args...))
}
