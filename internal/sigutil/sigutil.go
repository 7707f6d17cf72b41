// Package sigutil arbitrates signal disposition for the shell: a thin,
// typed wrapper around signal disposition and mask manipulation.
//
// Block/Unblock are always meant to be paired lexically around a short
// critical section. There is no counted-semaphore discipline here;
// internal/reaper instead uses signal.Notify/signal.Stop rather than a
// nesting-aware mask stack.
package sigutil

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// Block blocks delivery of sig on the calling thread.
func Block(sig unix.Signal) error {
	set := &unix.Sigset_t{}
	addSignal(set, sig)
	return unix.PthreadSigmask(unix.SIG_BLOCK, set, nil)
}

// Unblock removes sig from the calling thread's signal mask.
func Unblock(sig unix.Signal) error {
	set := &unix.Sigset_t{}
	addSignal(set, sig)
	return unix.PthreadSigmask(unix.SIG_UNBLOCK, set, nil)
}

// addSignal sets the bit for sig in set. unix.Sigset_t is a fixed-size
// bitmap; signal numbers are 1-based.
func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	word := (sig - 1) / 64
	bit := uint((sig - 1) % 64)
	set.Val[word] |= 1 << bit
}

// Handler receives child-status notifications. It is invoked on the
// os/signal delivery goroutine, not the Unix signal-handler context
// itself; see internal/reaper for the reentrancy discipline this implies.
type Handler func(os.Signal)

// Notify registers ch to receive sig. It returns a stop function that
// removes the registration.
func Notify(sig os.Signal, ch chan<- os.Signal) (stop func()) {
	signal.Notify(ch, sig)
	return func() { signal.Stop(ch) }
}
