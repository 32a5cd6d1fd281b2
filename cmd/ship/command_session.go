package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

const defaultHistoryLines = 50

type StopCommand struct {
	wiring commandWiring
}

func NewStopCommand(wiring commandWiring) *StopCommand {
	return &StopCommand{wiring: wiring}
}

func (c *StopCommand) Run(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := sessionIDArg("stop", fs.Args())
	if err != nil {
		return err
	}
	_, rt, err := loadRuntime(c.wiring, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.client.StopSession(context.Background(), id); err != nil {
		return err
	}
	fmt.Fprintln(c.wiring.stdout, "ok")
	return nil
}

type StatusCommand struct {
	wiring commandWiring
}

type statusOutput struct {
	SessionID     string              `json:"sessionId"`
	Status        types.SessionStatus `json:"status"`
	SandboxStatus string              `json:"sandboxStatus,omitempty"`
	RepoName      string              `json:"repoName,omitempty"`
	Branch        string              `json:"branch,omitempty"`
	Side          *types.SideChannel  `json:"cached,omitempty"`
}

func NewStatusCommand(wiring commandWiring) *StatusCommand {
	return &StatusCommand{wiring: wiring}
}

func (c *StatusCommand) Run(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := sessionIDArg("status", fs.Args())
	if err != nil {
		return err
	}
	_, rt, err := loadRuntime(c.wiring, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	resp, err := rt.client.SessionStatus(ctx, id)
	if err != nil {
		return err
	}
	out := statusOutput{
		SessionID:     id,
		Status:        resp.Status,
		SandboxStatus: resp.SandboxStatus,
		RepoName:      resp.RepoName,
		Branch:        resp.Branch,
	}
	side, ok, err := rt.cache.Load(ctx, id)
	if err != nil {
		rt.logger.Warn("cache load failed", logging.F("session_id", id), logging.Err(err))
	} else if ok {
		out.Side = &side
	}
	return writeJSON(c.wiring.stdout, out)
}

type HistoryCommand struct {
	wiring commandWiring
}

func NewHistoryCommand(wiring commandWiring) *HistoryCommand {
	return &HistoryCommand{wiring: wiring}
}

func (c *HistoryCommand) Run(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	limit := fs.Int("limit", defaultHistoryLines, "maximum number of messages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := sessionIDArg("history", fs.Args())
	if err != nil {
		return err
	}
	_, rt, err := loadRuntime(c.wiring, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.client.ListMessages(context.Background(), id, *limit)
	if err != nil {
		return err
	}
	if records == nil {
		records = []types.MessageRecord{}
	}
	return writeJSON(c.wiring.stdout, records)
}

type LSCommand struct {
	wiring commandWiring
}

func NewLSCommand(wiring commandWiring) *LSCommand {
	return &LSCommand{wiring: wiring}
}

func (c *LSCommand) Run(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	all := fs.Bool("all", false, "include archived sessions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, rt, err := loadRuntime(c.wiring, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessions, err := rt.cache.Sessions(context.Background())
	if err != nil {
		return err
	}
	var visible []types.Session
	for _, session := range sessions {
		if session.Archived && !*all {
			continue
		}
		visible = append(visible, session)
	}
	printSessions(c.wiring.stdout, visible)
	return nil
}
