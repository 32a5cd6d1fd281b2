package main

import (
	"context"
	"flag"

	"github.com/adhyaay-karnwal/ship/internal/app"
	"github.com/adhyaay-karnwal/ship/internal/config"
	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

type WatchCommand struct {
	wiring commandWiring
}

func NewWatchCommand(wiring commandWiring) *WatchCommand {
	return &WatchCommand{wiring: wiring}
}

func (c *WatchCommand) Run(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	repo := fs.String("repo", "", "repository (owner/name) to provision a sandbox for on the first prompt")
	branch := fs.String("branch", "", "branch to check out (defaults to the configured branch)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref := fs.Arg(0)
	if ref == "" && *repo == "" {
		return errMissingTarget
	}

	closeLog := func() {}
	cfg, rt, err := loadRuntime(c.wiring, func(cfg config.CoreConfig) logging.Logger {
		var logger logging.Logger
		logger, closeLog = fileLogger(cfg)
		return logger
	})
	defer closeLog()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := rt.orchestrator(cfg)
	defer orch.Close()

	title := ref
	if ref == "" {
		if parsed, ok := types.ParseRepository(*repo); ok {
			title = parsed.FullName()
		}
	}
	if _, err := resolveTarget(ctx, orch, ref, *repo, *branch); err != nil {
		return err
	}
	return c.wiring.runUI(ctx, orch, app.Options{Logger: rt.logger, Title: title, Timestamps: cfg.Timestamps()})
}
