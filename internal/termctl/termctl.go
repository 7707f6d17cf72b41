// Package termctl saves the terminal's attributes once at shell start
// and arbitrates which process group owns the controlling terminal
// afterwards.
//
// Attributes are read with golang.org/x/sys/unix's TCGETS ioctl and
// restored with github.com/pkg/term/termios.Tcsetattr; the terminal is
// never switched into raw mode here. SIGTTOU is blocked around each
// transfer of the controlling terminal.
package termctl

import (
	"fmt"

	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"

	"github.com/gobacker/esh/internal/sigutil"
)

// State is a saved snapshot of a terminal's attributes.
type State struct {
	termios unix.Termios
}

// Controller owns the shell's controlling-terminal file descriptor and
// the attribute snapshot captured at Install time.
type Controller struct {
	fd    int
	saved *State
}

// New returns a Controller for the given terminal file descriptor
// (typically os.Stdin's fd, the shell's controlling terminal).
func New(fd int) *Controller {
	return &Controller{fd: fd}
}

// Install captures the terminal's current attributes and remembers them
// as the snapshot to restore later. It is meant to be called exactly
// once, at shell startup.
func (c *Controller) Install() (*State, error) {
	st, err := getState(c.fd)
	if err != nil {
		return nil, fmt.Errorf("cannot read terminal attributes: %w", err)
	}
	c.saved = st
	return st, nil
}

// Saved returns the snapshot captured by Install, or nil if Install was
// never called (or failed).
func (c *Controller) Saved() *State {
	return c.saved
}

func getState(fd int) (*State, error) {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	return &State{termios: *t}, nil
}

// restore applies a previously captured state to the terminal.
func restore(fd int, st *State) error {
	return termios.Tcsetattr(uintptr(fd), termios.TCSANOW, &st.termios)
}

// GiveTerminalTo atomically transfers the controlling terminal to pgrp.
// SIGTTOU is blocked for the duration of the transfer, since otherwise
// the shell would stop itself while reassigning a terminal it no longer
// owns the foreground of. If restoreState is non-nil, it is applied
// before SIGTTOU is unblocked again. A failed transfer is fatal to the
// shell: the caller is expected to abort the process on a non-nil
// error.
func (c *Controller) GiveTerminalTo(pgrp int, restoreState *State) error {
	if err := sigutil.Block(unix.SIGTTOU); err != nil {
		return fmt.Errorf("cannot block SIGTTOU: %w", err)
	}
	defer sigutil.Unblock(unix.SIGTTOU)

	if err := setForegroundPgrp(c.fd, pgrp); err != nil {
		return fmt.Errorf("tcsetpgrp: %w", err)
	}

	if restoreState != nil {
		if err := restore(c.fd, restoreState); err != nil {
			return fmt.Errorf("cannot restore terminal attributes: %w", err)
		}
	}
	return nil
}

// setForegroundPgrp is the TIOCSPGRP ioctl, the tcsetpgrp(3) primitive.
func setForegroundPgrp(fd, pgrp int) error {
	return unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgrp)
}

// ForegroundPgrp is the TIOCGPGRP ioctl, the tcgetpgrp(3) primitive.
func ForegroundPgrp(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}
