// Package lineedit is the shell's line-editor contract: an interface a
// plugin can override (ShellHandle.OverrideLineEditor), with a
// github.com/chzyer/readline-backed default, the line-editing library
// other interactive Go shells reach for, for history and raw-mode input
// handling rather than a hand-rolled bufio.Scanner loop.
package lineedit

import (
	"io"

	"github.com/chzyer/readline"
)

// Editor reads one line of input at a time, rendering prompt first.
// ReadLine returns ok=false on EOF, ending the read-eval loop cleanly,
// same as an interactive shell exiting on Ctrl-D.
type Editor interface {
	ReadLine(prompt string) (line string, ok bool, err error)
	Close() error
}

// readlineEditor adapts *readline.Instance to the Editor interface.
type readlineEditor struct {
	inst *readline.Instance
}

// New constructs esh's default line editor, backed by chzyer/readline,
// persisting history to historyFile (empty disables history persistence).
func New(historyFile string) (Editor, error) {
	inst, err := readline.NewEx(&readline.Config{
		Prompt:          "esh> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &readlineEditor{inst: inst}, nil
}

func (e *readlineEditor) ReadLine(prompt string) (string, bool, error) {
	e.inst.SetPrompt(prompt)
	line, err := e.inst.Readline()
	switch err {
	case nil:
		return line, true, nil
	case readline.ErrInterrupt:
		// Ctrl-C on an empty line re-prompts; it is not EOF.
		return "", true, nil
	case io.EOF:
		return "", false, nil
	default:
		return "", false, err
	}
}

func (e *readlineEditor) Close() error {
	return e.inst.Close()
}
