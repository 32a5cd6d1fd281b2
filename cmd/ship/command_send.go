package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/adhyaay-karnwal/ship/internal/client"
	"github.com/adhyaay-karnwal/ship/internal/events"
	"github.com/adhyaay-karnwal/ship/internal/orchestrator"
	"github.com/adhyaay-karnwal/ship/internal/reducer"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

const defaultSendTimeout = 10 * time.Minute

type SendCommand struct {
	wiring commandWiring
}

func NewSendCommand(wiring commandWiring) *SendCommand {
	return &SendCommand{wiring: wiring}
}

func (c *SendCommand) Run(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(c.wiring.stderr)
	repo := fs.String("repo", "", "repository (owner/name) to provision a sandbox for")
	branch := fs.String("branch", "", "branch to check out (defaults to the configured branch)")
	sse := fs.Bool("sse", false, "post the prompt over HTTP and follow the event stream instead of the websocket")
	timeout := fs.Duration("timeout", defaultSendTimeout, "give up waiting for the reply after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ref, text, err := sendArgs(fs.Args(), *repo != "")
	if err != nil {
		return err
	}

	cfg, rt, err := loadRuntime(c.wiring, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var reply types.UIMessage
	if *sse {
		if ref == "" {
			return errors.New("send --sse requires a session id or link")
		}
		sessionID, ok := orchestrator.ParseSessionRef(ref)
		if !ok {
			return fmt.Errorf("send: cannot find a session id in %q", ref)
		}
		reply, err = sendOverStream(ctx, rt.client, sessionID, client.PromptRequest{Content: text, Mode: cfg.Mode()})
	} else {
		orch := rt.orchestrator(cfg)
		defer orch.Close()
		reply, err = sendOverChannel(ctx, orch, ref, *repo, *branch, text)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.wiring.stdout, strings.TrimSpace(reply.Content))
	return nil
}

// sendArgs splits the positional arguments into an optional session
// reference and the prompt text. With --repo every argument is prompt text.
func sendArgs(args []string, haveRepo bool) (string, string, error) {
	var ref string
	if !haveRepo {
		if len(args) < 1 {
			return "", "", errMissingTarget
		}
		ref, args = args[0], args[1:]
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", "", errors.New("send requires a message")
	}
	return ref, text, nil
}

// sendOverChannel submits through the orchestrator and waits until the turn
// and anything queued behind it have finished.
func sendOverChannel(ctx context.Context, orch *orchestrator.Orchestrator, ref, repo, branch, text string) (types.UIMessage, error) {
	if _, err := resolveTarget(ctx, orch, ref, repo, branch); err != nil {
		return types.UIMessage{}, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates := orch.Subscribe(subCtx)

	if err := orch.Submit(ctx, text); err != nil {
		return types.UIMessage{}, err
	}
	for {
		snap := orch.Snapshot()
		if !snap.Streaming && len(snap.Queue) == 0 {
			orch.Wait()
			return turnReply(snap.Messages)
		}
		select {
		case <-ctx.Done():
			return types.UIMessage{}, fmt.Errorf("waiting for reply: %w", ctx.Err())
		case _, ok := <-updates:
			if !ok {
				return types.UIMessage{}, errors.New("session closed before the reply finished")
			}
		}
	}
}

// sendOverStream posts the prompt and folds the event stream of the response
// until the turn ends.
func sendOverStream(ctx context.Context, cli sessionClient, sessionID string, prompt client.PromptRequest) (types.UIMessage, error) {
	frames, stop, err := cli.SendMessage(ctx, sessionID, prompt)
	if err != nil {
		return types.UIMessage{}, err
	}
	defer stop()

	state := reducer.NewState()
	for frame := range frames {
		ev, ok := events.Decode(frame)
		if !ok {
			continue
		}
		ev.ReceivedAt = time.Now()
		state = reducer.Apply(state, ev)
		if ev.Terminal() {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return types.UIMessage{}, fmt.Errorf("waiting for reply: %w", err)
	}
	return turnReply(reducer.Finalize(state).Messages)
}

// turnReply picks the reply of the last turn: its final assistant message,
// or the error that ended it.
func turnReply(messages []types.UIMessage) (types.UIMessage, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		switch {
		case msg.Type == types.MessageTypeError:
			return types.UIMessage{}, errors.New(msg.Content)
		case msg.Role == types.RoleUser:
			return types.UIMessage{}, errors.New("no reply received")
		case msg.Role == types.RoleAssistant && strings.TrimSpace(msg.Content) != "":
			return msg, nil
		}
	}
	return types.UIMessage{}, errors.New("no reply received")
}
