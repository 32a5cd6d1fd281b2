package main

import (
	"context"
	"io"
	"os"

	"github.com/adhyaay-karnwal/ship/internal/app"
	"github.com/adhyaay-karnwal/ship/internal/config"
)

type commandRunner interface {
	Run(args []string) error
}

type uiRunner func(ctx context.Context, ctrl app.Controller, opts app.Options) error

type commandWiring struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.CoreConfig, error)
	newRuntime runtimeFactory
	runUI      uiRunner
	version    string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: config.LoadCoreConfig,
		newRuntime: newDefaultRuntime,
		runUI:      app.Run,
		version:    buildVersion(),
	}
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	return map[string]commandRunner{
		"watch":   NewWatchCommand(wiring),
		"send":    NewSendCommand(wiring),
		"stop":    NewStopCommand(wiring),
		"status":  NewStatusCommand(wiring),
		"history": NewHistoryCommand(wiring),
		"ls":      NewLSCommand(wiring),
		"config":  NewConfigCommand(wiring.stdout, wiring.stderr),
	}
}
