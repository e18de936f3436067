// Package cli assembles kong command lines from self-describing commands.
package cli

import (
	"strings"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-errors"
)

// Config describes how a command appears on the command line.
type Config struct {
	Name        string
	Description string
	Group       string
	Aliases     []string
	Hidden      bool
}

// BuildTags renders the kong struct tags for c.
func (c Config) BuildTags() []string {
	var tags []string
	if len(c.Aliases) > 0 {
		tags = append(tags, "aliases:"+strings.Join(c.Aliases, ","))
	}
	if c.Hidden {
		tags = append(tags, `hidden:""`)
	}
	return tags
}

// Command is registered with a Registry. CLIHandler returns the kong command
// struct, which carries the flags and a Run method.
type Command interface {
	CLIOptions() Config
	CLIHandler() any
}

type Registry struct {
	mu      sync.Mutex
	names   map[string]struct{}
	options []kong.Option
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register adds commands. Names and aliases must be unique.
func (r *Registry) Register(cmds ...Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cmd := range cmds {
		if cmd == nil {
			return errors.New("command cannot be nil", errors.CategoryBadInput).
				WithTextCode("CLI_NIL_COMMAND")
		}
		opts := cmd.CLIOptions()
		if strings.TrimSpace(opts.Name) == "" {
			return errors.New("command name cannot be empty", errors.CategoryBadInput).
				WithTextCode("CLI_PATH_EMPTY")
		}
		for _, name := range append([]string{opts.Name}, opts.Aliases...) {
			if _, taken := r.names[name]; taken {
				return errors.New("cli command already registered", errors.CategoryConflict).
					WithTextCode("CLI_PATH_CONFLICT").
					WithMetadata(map[string]any{"name": name})
			}
		}
		for _, name := range append([]string{opts.Name}, opts.Aliases...) {
			r.names[name] = struct{}{}
		}
		r.options = append(r.options, kong.DynamicCommand(
			opts.Name,
			opts.Description,
			opts.Group,
			cmd.CLIHandler(),
			opts.BuildTags()...,
		))
	}
	return nil
}

// Options returns a copy of the kong options of every registered command.
func (r *Registry) Options() []kong.Option {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]kong.Option, len(r.options))
	copy(out, r.options)
	return out
}

// Parser builds a kong parser for grammar, usually a struct of global
// flags, plus the registered commands.
func (r *Registry) Parser(grammar any, extra ...kong.Option) (*kong.Kong, error) {
	opts := append(r.Options(), extra...)
	parser, err := kong.New(grammar, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "build command line parser").
			WithTextCode("CLI_PARSER_FAILED")
	}
	return parser, nil
}
