// Package plugin implements esh's plug-in contract: an externally
// loaded extension that may contribute prompt fragments and intercept
// commands before the pipeline launcher forks anything for them.
//
// Discovery is built on the standard library's plugin package
// (plugin.Open/plugin.Lookup), the only mechanism the Go ecosystem
// offers for loading .so extensions discovered at a runtime path. No
// third-party library in the retrieval pack addresses dynamic code
// loading, so this is the standard-library exception recorded in
// DESIGN.md.
package plugin

import (
	"errors"
	"os"
	"path/filepath"
	stdplugin "plugin"

	"github.com/gobacker/esh/internal/jobtable"
	"github.com/gobacker/esh/internal/logger"
)

// Plugin is the interface a loaded extension satisfies. Both hooks are
// optional from the extension author's point of view: a .so need only
// export the symbols it cares about.
type Plugin interface {
	// MakePrompt returns a freshly built prompt fragment, or "" to
	// contribute nothing.
	MakePrompt() string
	// ProcessBuiltin inspects cmd and reports whether it handled it. A
	// handled command is never forked by the pipeline launcher.
	ProcessBuiltin(cmd *jobtable.Command) bool
}

// Hooks is a Plugin built directly from function values, used both by
// Go-native plugins built against this package and internally when
// adapting the raw symbols loaded from a .so.
type Hooks struct {
	MakePromptFunc      func() string
	ProcessBuiltinFunc  func(cmd *jobtable.Command) bool
}

func (h Hooks) MakePrompt() string {
	if h.MakePromptFunc == nil {
		return ""
	}
	return h.MakePromptFunc()
}

func (h Hooks) ProcessBuiltin(cmd *jobtable.Command) bool {
	if h.ProcessBuiltinFunc == nil {
		return false
	}
	return h.ProcessBuiltinFunc(cmd)
}

// ShellHandle is passed to a plugin's Init symbol so it can override
// the prompt builder, line editor, and parser. The concrete fields are
// filled in by internal/shell, which owns those collaborators; this
// package only defines the narrow interface plugins see.
type ShellHandle interface {
	OverridePromptBuilder(f func() string)
	OverrideLineEditor(readLine func(prompt string) (string, bool))
	OverrideParser(parse func(line string) (*jobtable.Job, bool))
}

// Registry holds every plugin loaded at startup, in registration order.
type Registry struct {
	plugins []Plugin
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds p to the registry. Used both by LoadDir and directly by
// tests / Go-native callers that don't need .so discovery.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
}

// LoadDir scans dir for .so files and loads each one, looking up the
// optional "MakePrompt" and "ProcessBuiltin" symbols and, if present, an
// "Init" symbol of type func(ShellHandle) called once with handle. A
// plugin that fails to load is logged and skipped; it is not fatal to
// the shell, unlike a terminal/process-group/signal failure.
func (r *Registry) LoadDir(dir string, handle ShellHandle) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".so" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		p, err := loadOne(path, handle)
		if err != nil {
			logger.Noticef("cannot load plugin %s: %v", path, err)
			continue
		}
		r.Register(p)
	}
	return nil
}

func loadOne(path string, handle ShellHandle) (Plugin, error) {
	lib, err := stdplugin.Open(path)
	if err != nil {
		return nil, err
	}

	var hooks Hooks
	if sym, err := lib.Lookup("MakePrompt"); err == nil {
		if f, ok := sym.(func() string); ok {
			hooks.MakePromptFunc = f
		}
	}
	if sym, err := lib.Lookup("ProcessBuiltin"); err == nil {
		if f, ok := sym.(func(*jobtable.Command) bool); ok {
			hooks.ProcessBuiltinFunc = f
		}
	}
	if hooks.MakePromptFunc == nil && hooks.ProcessBuiltinFunc == nil {
		return nil, errors.New("plugin exports neither MakePrompt nor ProcessBuiltin")
	}

	if sym, err := lib.Lookup("Init"); err == nil {
		if f, ok := sym.(func(ShellHandle)); ok {
			f(handle)
		}
	}

	return hooks, nil
}

// BuildPrompt concatenates every registered plugin's prompt fragment, in
// registration order, defaulting to "esh> " if none contributes.
func (r *Registry) BuildPrompt() string {
	var prompt string
	for _, p := range r.plugins {
		prompt += p.MakePrompt()
	}
	if prompt == "" {
		return "esh> "
	}
	return prompt
}

// ProcessBuiltin offers cmd to every registered plugin in order. The
// first plugin to claim it stops the search: if any claims it, the
// stage is considered handled.
func (r *Registry) ProcessBuiltin(cmd *jobtable.Command) bool {
	for _, p := range r.plugins {
		if p.ProcessBuiltin(cmd) {
			return true
		}
	}
	return false
}
