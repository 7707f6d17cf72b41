// Package shellerr distinguishes the shell's one fatal error class
// (terminal-transfer failures, parent-side setpgid failures, and
// signal-send failures against a known job) from every other error,
// which is local to the current pipeline and lets the read-eval loop
// continue.
package shellerr

import (
	"errors"
	"fmt"
)

// Fatal wraps an error that must abort the shell with a diagnostic.
type Fatal struct {
	Op  string
	Err error
}

func (f *Fatal) Error() string {
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Fatal) Unwrap() error {
	return f.Err
}

// Wrap marks err as fatal, tagged with the operation that failed.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fatal{Op: op, Err: err}
}

// IsFatal reports whether err (or anything it wraps) is a Fatal.
func IsFatal(err error) bool {
	var f *Fatal
	return errors.As(err, &f)
}
