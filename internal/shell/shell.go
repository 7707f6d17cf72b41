// Package shell implements esh's top-level driver, owning startup
// (process-group and terminal setup, plugin discovery) and the
// per-iteration prompt/read/parse/launch cycle.
//
// Startup follows a linear sequence of "acquire this resource or fail
// fatally" steps, the same shape a long-running daemon's startup
// sequencing takes, adapted here to an interactive shell's startup.
package shell

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/gobacker/esh/internal/builtin"
	"github.com/gobacker/esh/internal/jobtable"
	"github.com/gobacker/esh/internal/lineedit"
	"github.com/gobacker/esh/internal/logger"
	"github.com/gobacker/esh/internal/parser"
	"github.com/gobacker/esh/internal/pipeline"
	"github.com/gobacker/esh/internal/plugin"
	"github.com/gobacker/esh/internal/reaper"
	"github.com/gobacker/esh/internal/shellerr"
	"github.com/gobacker/esh/internal/termctl"
)

// Config holds the knobs the invocation's flags and environment resolve
// into before the shell starts.
type Config struct {
	// PluginDir, if non-empty, is scanned at startup for .so plugins.
	PluginDir string
	// HistoryFile is passed through to the line editor; empty disables
	// history persistence.
	HistoryFile string
	// Debug enables verbose logging.
	Debug bool
}

// Shell is the assembled Read-Eval Loop and everything it owns.
type Shell struct {
	cfg Config

	table    *jobtable.Table
	term     *termctl.Controller
	reaper   *reaper.Reaper
	builtins *builtin.Dispatcher
	launcher *pipeline.Launcher
	plugins  *plugin.Registry
	parser   parser.Parser
	editor   lineedit.Editor

	promptOverride func() string
	parseOverride  func(string) (*jobtable.Job, bool)

	shellPgrp int
}

// New assembles a Shell but does not yet touch the terminal or fork
// anything; call Start and then Run to start the loop.
func New(cfg Config) (*Shell, error) {
	sh := &Shell{cfg: cfg}

	sh.table = jobtable.New()
	sh.term = termctl.New(int(os.Stdin.Fd()))
	sh.reaper = reaper.New(sh.table, os.Stdout)
	sh.builtins = &builtin.Dispatcher{
		Table:  sh.table,
		Term:   sh.term,
		Reaper: sh.reaper,
		Out:    os.Stdout,
	}
	sh.plugins = plugin.NewRegistry()
	sh.launcher = &pipeline.Launcher{
		Table:    sh.table,
		Term:     sh.term,
		Reaper:   sh.reaper,
		Builtins: sh.builtins,
		Plugins:  sh.plugins,
		Out:      os.Stdout,
	}
	sh.parser = parser.New()

	return sh, nil
}

// OverridePromptBuilder implements plugin.ShellHandle.
func (sh *Shell) OverridePromptBuilder(f func() string) {
	sh.promptOverride = f
}

// OverrideLineEditor implements plugin.ShellHandle. Plugins supply the
// narrower (prompt string) (string, bool) shape; it is wrapped in a
// pluginEditor so Run reads through the same Editor interface either way.
func (sh *Shell) OverrideLineEditor(readLine func(prompt string) (string, bool)) {
	sh.editor = pluginEditor{readLine: readLine}
}

// OverrideParser implements plugin.ShellHandle.
func (sh *Shell) OverrideParser(parse func(line string) (*jobtable.Job, bool)) {
	sh.parseOverride = parse
}

// pluginEditor adapts a plugin-supplied readLine function to the Editor
// interface so Run doesn't need two separate read paths.
type pluginEditor struct {
	readLine func(prompt string) (string, bool)
}

func (p pluginEditor) ReadLine(prompt string) (string, bool, error) {
	line, ok := p.readLine(prompt)
	return line, ok, nil
}

func (p pluginEditor) Close() error { return nil }

// Start performs the startup sequence: put the shell in its own process
// group, capture the terminal's mode, claim the controlling terminal,
// start the reaper, load any configured plugins, and open the default
// line editor unless a plugin replaced it. Plugin load failures are
// logged; any other failure here is fatal:
// esh refuses to run without job control.
func (sh *Shell) Start() error {
	if err := unix.Setpgid(0, 0); err != nil {
		return shellerr.Wrap("setpgid", err)
	}
	sh.shellPgrp = unix.Getpid()
	sh.launcher.ShellPgrp = sh.shellPgrp
	sh.builtins.ShellPgrp = sh.shellPgrp

	if _, err := sh.term.Install(); err != nil {
		return shellerr.Wrap("capture terminal state", err)
	}

	if err := sh.term.GiveTerminalTo(sh.shellPgrp, nil); err != nil {
		return shellerr.Wrap("take controlling terminal", err)
	}

	sh.reaper.Start()

	if sh.cfg.PluginDir != "" {
		if err := sh.plugins.LoadDir(sh.cfg.PluginDir, sh); err != nil {
			logger.Noticef("cannot load plugins from %s: %v", sh.cfg.PluginDir, err)
		}
	}

	if sh.editor == nil {
		editor, err := lineedit.New(sh.cfg.HistoryFile)
		if err != nil {
			return shellerr.Wrap("start line editor", err)
		}
		sh.editor = editor
	}

	return nil
}

// Stop releases everything Start acquired.
func (sh *Shell) Stop() {
	if sh.editor != nil {
		sh.editor.Close()
	}
	sh.reaper.Stop()
}

// Run executes the read-eval loop until EOF. A parse error or empty
// line re-prompts; a non-fatal launch error is reported and the loop
// continues. The loop ends on EOF, on an I/O error from the line
// editor, or on a fatal (shellerr.IsFatal) launch error, which is
// returned to the caller.
func (sh *Shell) Run() error {
	for {
		prompt := sh.buildPrompt()
		line, ok, err := sh.editor.ReadLine(prompt)
		if err != nil {
			return shellerr.Wrap("read line", err)
		}
		if !ok {
			return nil
		}

		job, err := sh.parseLine(line)
		if err != nil {
			if errors.Is(err, parser.ErrEmpty) {
				continue
			}
			fmt.Fprintf(os.Stdout, "esh: %v\n", err)
			continue
		}
		if job == nil {
			continue
		}

		if err := sh.launcher.Launch(job); err != nil {
			if shellerr.IsFatal(err) {
				return err
			}
			fmt.Fprintf(os.Stdout, "esh: %v\n", err)
		}
	}
}

// buildPrompt assembles the prompt: nothing at all when standard input
// isn't a terminal (a script being piped into esh), a plugin override
// if one is installed, otherwise the plugin registry's concatenated
// contributions (defaulting to "esh> ").
func (sh *Shell) buildPrompt() string {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return ""
	}
	if sh.promptOverride != nil {
		return sh.promptOverride()
	}
	return sh.plugins.BuildPrompt()
}

func (sh *Shell) parseLine(line string) (*jobtable.Job, error) {
	if sh.parseOverride != nil {
		job, ok := sh.parseOverride(line)
		if !ok {
			return nil, parser.ErrEmpty
		}
		return job, nil
	}
	return sh.parser.Parse(line)
}
