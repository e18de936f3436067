package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/autosave"
	"github.com/goliatone/go-stackflow/catalog"
	"github.com/goliatone/go-stackflow/cli"
	"github.com/goliatone/go-stackflow/execution"
	"github.com/goliatone/go-stackflow/graph"
	"github.com/goliatone/go-stackflow/readiness"
	"github.com/goliatone/go-stackflow/server"
	"github.com/goliatone/go-stackflow/session"
)

type serveCommand struct{}

func (serveCommand) CLIOptions() cli.Config {
	return cli.Config{Name: "serve", Description: "Serve editing sessions over HTTP.", Group: "server"}
}

func (serveCommand) CLIHandler() any { return &serveCmd{} }

type serveCmd struct {
	Addr     string `help:"Listen address, overrides server.addr."`
	Autosave bool   `help:"Save dirty bound sessions on a schedule, even when autosave.enabled is off."`
}

func (c *serveCmd) Run(ctx context.Context, env *Env) error {
	cfg := env.Config
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	if c.Autosave {
		cfg.Autosave.Enabled = true
	}
	logger := env.Logger

	api, err := env.backend()
	if err != nil {
		return err
	}
	executor, err := env.Executor(api)
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(ctx, cfg, api)
	if err != nil {
		return err
	}
	defer closeRepo()

	saver := autosave.New(
		autosave.WithLogger(logger),
		autosave.WithExpression(cfg.Autosave.Expression),
	)
	registry := server.NewRegistry(server.RegistryConfig{
		Executor:   executor,
		Repository: repo,
		Policy:     cfg.ReadinessPolicy(),
		Coordinator: []execution.Option{
			execution.WithTimeout(cfg.Execution.Timeout),
			execution.WithInlineWorkflow(cfg.Execution.InlineWorkflow),
		},
		Logger: logger,
		OnOpen: func(c *execution.Coordinator) {
			if cfg.Autosave.Enabled {
				saver.Track(c)
			}
		},
		OnClose: saver.Untrack,
	})
	srv := server.New(registry,
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		server.WithWaitLimit(cfg.Execution.Timeout),
	)

	logger.Info("store %s, policy %s", cfg.Store.Driver, cfg.Execution.Policy)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
	})
	if cfg.Autosave.Enabled {
		g.Go(func() error {
			if err := saver.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			return saver.Stop(stopCtx)
		})
	}
	return g.Wait()
}

type validateCommand struct{}

func (validateCommand) CLIOptions() cli.Config {
	return cli.Config{Name: "validate", Description: "Check that a saved workflow is ready to run.", Group: "workflow", Aliases: []string{"check"}}
}

func (validateCommand) CLIHandler() any { return &validateCmd{} }

type validateCmd struct {
	File    string `arg:"" type:"existingfile" help:"Saved workflow configuration (JSON)."`
	PerNode bool   `help:"Require every node to be connected, not just the graph as a whole."`
}

func (c *validateCmd) Run(env *Env) error {
	g, err := readWorkflow(c.File)
	if err != nil {
		return err
	}
	policy := env.Config.ReadinessPolicy()
	if c.PerNode {
		policy = readiness.PerNode
	}
	res := readiness.Check(g, readiness.WithPolicy(policy))
	if !res.OK {
		fmt.Fprintf(env.Out, "not ready: %s\n", res.Reason.Message())
		return res.Err()
	}
	fmt.Fprintf(env.Out, "ready: %d nodes, %d edges (%s)\n", len(g.Nodes), len(g.Edges), policy)
	return nil
}

type executeCommand struct{}

func (executeCommand) CLIOptions() cli.Config {
	return cli.Config{Name: "execute", Description: "Run a query through a saved workflow.", Group: "workflow", Aliases: []string{"run"}}
}

func (executeCommand) CLIHandler() any { return &executeCmd{} }

type executeCmd struct {
	File       string `arg:"" type:"existingfile" help:"Saved workflow configuration (JSON)."`
	Query      string `short:"q" required:"" help:"Query to send."`
	WorkflowID string `name:"workflow" short:"w" help:"Workflow id known to the backend."`
}

func (c *executeCmd) Run(ctx context.Context, env *Env) error {
	g, err := readWorkflow(c.File)
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithLogger(env.Logger),
		session.WithPolicy(env.Config.ReadinessPolicy()),
	}
	if c.WorkflowID != "" {
		opts = append(opts, session.WithWorkflowID(c.WorkflowID))
	}
	s := session.New(opts...)
	defer s.Close()
	if err := s.Store().Replace(g); err != nil {
		return err
	}

	api, err := env.backend()
	if err != nil {
		return err
	}
	executor, err := env.Executor(api)
	if err != nil {
		return err
	}
	coord := execution.NewCoordinator(s, executor,
		execution.WithTimeout(env.Config.Execution.Timeout),
		execution.WithInlineWorkflow(env.Config.Execution.InlineWorkflow),
	)

	fut, err := coord.Execute(ctx, c.Query)
	if err != nil {
		return err
	}
	out, err := fut.Wait(ctx)
	if err != nil {
		if out.Detail != "" {
			return stackflow.NewError(stackflow.ErrCollaborator, out.Detail, err, nil)
		}
		return err
	}
	fmt.Fprintln(env.Out, out.Response)
	if len(out.Sinks) > 0 {
		env.Logger.Debug("response placed on %s", strings.Join(out.Sinks, ", "))
	}
	return nil
}

type catalogCommand struct{}

func (catalogCommand) CLIOptions() cli.Config {
	return cli.Config{Name: "catalog", Description: "List the available components.", Group: "workflow"}
}

func (catalogCommand) CLIHandler() any { return &catalogCmd{} }

type catalogCmd struct {
	JSON bool `help:"Print templates with their default configuration as JSON."`
}

func (c *catalogCmd) Run(env *Env) error {
	templates := catalog.Templates()
	if c.JSON {
		type entry struct {
			catalog.Template
			Config graph.Config `json:"config"`
		}
		out := make([]entry, 0, len(templates))
		for _, t := range templates {
			out = append(out, entry{Template: t, Config: catalog.DefaultConfig(t.Type)})
		}
		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tLABEL\tINPUT\tOUTPUT\tDESCRIPTION")
	for _, t := range templates {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", t.Type, t.Label, t.Ports.Input, t.Ports.Output, t.Description)
	}
	return w.Flush()
}

// readWorkflow loads a saved configuration file into a graph.
func readWorkflow(path string) (graph.Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return graph.Graph{}, stackflow.NewError(stackflow.ErrInvalidRequest, "read workflow", err,
			map[string]any{"path": path})
	}
	var saved session.SavedConfig
	if err := json.Unmarshal(raw, &saved); err != nil {
		return graph.Graph{}, stackflow.NewError(stackflow.ErrMalformedPayload, "decode workflow", err,
			map[string]any{"path": path})
	}
	return saved.Decode()
}
