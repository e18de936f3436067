package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/goliatone/go-stackflow/cli"
	"github.com/goliatone/go-stackflow/config"
	"github.com/goliatone/go-stackflow/logging"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `short:"c" type:"path" help:"Path to a YAML or JSON config file." env:"STACKFLOW_CONFIG"`
	LogLevel string `help:"Override the configured log level (trace, debug, info, warn, error, fatal)."`
}

func commands() []cli.Command {
	return []cli.Command{
		serveCommand{},
		validateCommand{},
		executeCommand{},
		catalogCommand{},
	}
}

func newParser(globals *Globals, extra ...kong.Option) (*kong.Kong, error) {
	registry := cli.NewRegistry()
	if err := registry.Register(commands()...); err != nil {
		return nil, err
	}
	opts := append([]kong.Option{
		kong.Name("stackflow"),
		kong.Description("Build, validate and run query workflows."),
		kong.UsageOnError(),
	}, extra...)
	return registry.Parser(globals, opts...)
}

func main() {
	var globals Globals
	parser, err := newParser(&globals)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnv(globals, os.Stdout, os.Stderr)
	parser.FatalIfErrorf(err)

	kctx.BindTo(ctx, (*context.Context)(nil))
	parser.FatalIfErrorf(kctx.Run(env))
}

// Env carries the loaded configuration to commands.
type Env struct {
	Config config.Config
	Logger logging.Logger
	Out    io.Writer

	// executor replaces the backend client when set.
	executor executorFactory
}

func newEnv(g Globals, out, logOut io.Writer) (*Env, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &Env{
		Config: cfg,
		Logger: logging.NewGlog(cfg.Log.Level, cfg.Log.Format, logOut),
		Out:    out,
	}, nil
}
