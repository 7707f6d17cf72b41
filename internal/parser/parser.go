// Package parser turns one line of shell input into a jobtable.Job: the
// line grammar is whitespace-separated words, '|' pipe separators, '<'
// and '>'/'>>' redirection, and a trailing '&' background marker.
//
// Parser is kept as an interface so a plugin can substitute its own
// (the ShellHandle.OverrideParser hook); simpleParser is esh's built-in
// default, a hand-rolled tokenizer rather than a grammar/parser-combinator
// library, since the grammar is a small fixed-token language.
package parser

import (
	"errors"
	"strings"

	"github.com/gobacker/esh/internal/jobtable"
)

// ErrEmpty is returned for a line with no command words at all: an
// empty or all-whitespace line is silently re-prompted.
var ErrEmpty = errors.New("parser: empty input")

// Parser turns a raw input line into a job ready for the pipeline
// launcher.
type Parser interface {
	Parse(line string) (*jobtable.Job, error)
}

// New returns esh's default line parser.
func New() Parser {
	return simpleParser{}
}

type simpleParser struct{}

func (simpleParser) Parse(line string) (*jobtable.Job, error) {
	return Parse(line)
}

// Parse is the package-level entry point used directly by callers that
// don't need the Parser indirection (such as tests).
func Parse(line string) (*jobtable.Job, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, ErrEmpty
	}

	bg := false
	if strings.HasSuffix(trimmed, "&") {
		bg = true
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "&"))
		if trimmed == "" {
			return nil, errors.New("parser: syntax error near '&'")
		}
	}

	stages := strings.Split(trimmed, "|")
	commands := make([]jobtable.Command, 0, len(stages))
	for _, stage := range stages {
		cmd, err := parseStage(stage)
		if err != nil {
			return nil, err
		}
		if len(cmd.Argv) == 0 {
			return nil, errors.New("parser: syntax error: empty pipeline stage")
		}
		commands = append(commands, cmd)
	}

	return &jobtable.Job{
		Commands: commands,
		BgMarker: bg,
	}, nil
}

// parseStage splits one pipe-delimited stage into its argument vector
// and any redirection targets. Redirection operators may appear
// anywhere in the stage and are stripped out of Argv before returning.
func parseStage(stage string) (jobtable.Command, error) {
	fields := strings.Fields(stage)
	var cmd jobtable.Command

	for i := 0; i < len(fields); i++ {
		tok := fields[i]
		switch {
		case tok == "<":
			path, err := nextOperand(fields, &i, "<")
			if err != nil {
				return cmd, err
			}
			cmd.InputPath = path
		case tok == ">":
			path, err := nextOperand(fields, &i, ">")
			if err != nil {
				return cmd, err
			}
			cmd.OutputPath = path
			cmd.Append = false
		case tok == ">>":
			path, err := nextOperand(fields, &i, ">>")
			if err != nil {
				return cmd, err
			}
			cmd.OutputPath = path
			cmd.Append = true
		case strings.HasPrefix(tok, "<") && len(tok) > 1:
			cmd.InputPath = tok[1:]
		case strings.HasPrefix(tok, ">>") && len(tok) > 2:
			cmd.OutputPath = tok[2:]
			cmd.Append = true
		case strings.HasPrefix(tok, ">") && len(tok) > 1:
			cmd.OutputPath = tok[1:]
			cmd.Append = false
		default:
			cmd.Argv = append(cmd.Argv, tok)
		}
	}

	return cmd, nil
}

// nextOperand consumes the token following a standalone redirection
// operator at fields[*i], advancing *i past it.
func nextOperand(fields []string, i *int, op string) (string, error) {
	if *i+1 >= len(fields) {
		return "", errors.New("parser: syntax error: missing target for " + op)
	}
	*i++
	return fields[*i], nil
}
