package main

import (
	"context"
	"io"
	"os"

	"github.com/adhyaay-karnwal/ship/internal/client"
	"github.com/adhyaay-karnwal/ship/internal/config"
	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/orchestrator"
	"github.com/adhyaay-karnwal/ship/internal/store"
	"github.com/adhyaay-karnwal/ship/internal/transport"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

// sessionClient is the part of the HTTP client the commands use.
type sessionClient interface {
	orchestrator.Control
	orchestrator.History
	orchestrator.Provisioner
	SessionStatus(ctx context.Context, sessionID string) (*client.SessionStatusResponse, error)
	SendMessage(ctx context.Context, sessionID string, prompt client.PromptRequest) (<-chan []byte, func(), error)
}

var _ sessionClient = (*client.Client)(nil)

type runtime struct {
	client    sessionClient
	connector transport.Connector
	cache     store.SessionCache
	logger    logging.Logger
}

type runtimeFactory func(cfg config.CoreConfig, logger logging.Logger) (*runtime, error)

func newDefaultRuntime(cfg config.CoreConfig, logger logging.Logger) (*runtime, error) {
	logger = logging.OrNop(logger)
	cli := client.New(cfg, client.WithLogger(logger))
	path, err := cfg.CachePath()
	if err != nil {
		return nil, err
	}
	cache, err := store.OpenCache(cfg.CacheBackend(), path)
	if err != nil {
		return nil, err
	}
	connector := transport.WebSocketConnector{
		URLFor: cli.WebSocketURL,
		Header: cli.AuthHeader(),
		Options: transport.Options{
			InitialBackoff: cfg.InitialBackoff(),
			MaxBackoff:     cfg.MaxBackoff(),
			MaxAttempts:    cfg.MaxAttempts(),
			WriteTimeout:   cfg.WriteTimeout(),
			Logger:         logger,
		},
	}
	return &runtime{client: cli, connector: connector, cache: cache, logger: logger}, nil
}

func (r *runtime) orchestrator(cfg config.CoreConfig) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Options{
		Connector:   r.connector,
		Control:     r.client,
		History:     r.client,
		Provisioner: r.client,
		Cache:       r.cache,
		Logger:      r.logger,
		Credentials: orchestrator.Credentials{
			UserID:      cfg.UserID(),
			GithubToken: cfg.GithubToken(),
			ModelAPIKey: cfg.ModelAPIKey(),
		},
		HistoryLimit:  cfg.HistoryLimit(),
		DefaultBranch: cfg.DefaultBranch(),
		Mode:          cfg.Mode(),
	})
}

func (r *runtime) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

func stderrLogger(stderr io.Writer, cfg config.CoreConfig) logging.Logger {
	if stderr == nil {
		stderr = os.Stderr
	}
	return logging.New(stderr, logging.ParseLevel(cfg.LogLevel()))
}

// fileLogger keeps log lines off the terminal while the full-screen view is
// up. It falls back to a discarding logger when the log file cannot be opened.
func fileLogger(cfg config.CoreConfig) (logging.Logger, func()) {
	path, err := config.LogPath()
	if err != nil {
		return logging.Nop(), func() {}
	}
	logger, closer, err := logging.NewFile(path, logging.ParseLevel(cfg.LogLevel()))
	if err != nil {
		return logging.Nop(), func() {}
	}
	return logger, func() { _ = closer.Close() }
}

// resolveTarget turns the positional session reference or --repo flag into
// an orchestrator ready to take a prompt.
func resolveTarget(ctx context.Context, orch *orchestrator.Orchestrator, ref, repo, branch string) (string, error) {
	if ref != "" {
		return orch.ActivateFromURL(ctx, ref)
	}
	parsed, ok := types.ParseRepository(repo)
	if !ok {
		return "", errMissingTarget
	}
	parsed.Branch = branch
	return "", orch.SelectRepository(parsed)
}
