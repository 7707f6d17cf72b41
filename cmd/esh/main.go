// Command esh is an interactive POSIX job-control shell: a
// Read-Eval-Print Loop that forks pipelines into their own process
// groups and arbitrates the controlling terminal between them and the
// shell itself.
//
// Flag parsing uses a go-flags-backed Options struct passed to
// flags.Parse, via the canonical github.com/jessevdk/go-flags since
// this module carries no Snap-specific behavior to justify a patched
// fork of it.
package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/gobacker/esh/internal/logger"
	"github.com/gobacker/esh/internal/shell"
)

type options struct {
	PluginDir   string `short:"p" long:"plugin-dir" description:"directory to scan for .so plugins" value-name:"DIR"`
	HistoryFile string `long:"history-file" description:"file to persist line-editor history to" value-name:"FILE"`
	Debug       bool   `short:"d" long:"debug" description:"enable verbose logging"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if flags.WroteHelp(err) {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "esh: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Usage = "[OPTIONS]"
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}

	logger.SetLogger(logger.StderrLogger(opts.Debug))

	sh, err := shell.New(shell.Config{
		PluginDir:   opts.PluginDir,
		HistoryFile: opts.HistoryFile,
		Debug:       opts.Debug,
	})
	if err != nil {
		return err
	}

	if err := sh.Start(); err != nil {
		return err
	}
	defer sh.Stop()

	return sh.Run()
}
