package main

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"text/tabwriter"
	"time"

	"github.com/adhyaay-karnwal/ship/internal/config"
	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/orchestrator"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

const version = "dev"

var errMissingTarget = errors.New("a session reference or --repo owner/name is required")

// loadRuntime reads the config and builds the collaborators. logFor picks
// where the runtime logs; nil means stderr.
func loadRuntime(w commandWiring, logFor func(config.CoreConfig) logging.Logger) (config.CoreConfig, *runtime, error) {
	cfg, err := w.loadConfig()
	if err != nil {
		return config.CoreConfig{}, nil, err
	}
	var logger logging.Logger
	if logFor != nil {
		logger = logFor(cfg)
	} else {
		logger = stderrLogger(w.stderr, cfg)
	}
	rt, err := w.newRuntime(cfg, logger)
	if err != nil {
		return config.CoreConfig{}, nil, err
	}
	return cfg, rt, nil
}

func sessionIDArg(command string, args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("%s requires a session id or link", command)
	}
	id, ok := orchestrator.ParseSessionRef(args[0])
	if !ok {
		return "", fmt.Errorf("%s: cannot find a session id in %q", command, args[0])
	}
	return id, nil
}

func printSessions(output io.Writer, sessions []types.Session) {
	writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSTATUS\tREPO\tBRANCH\tACTIVE\tTITLE")
	for _, session := range sessions {
		repo := "-"
		if session.RepoOwner != "" && session.RepoName != "" {
			repo = session.RepoOwner + "/" + session.RepoName
		}
		branch := session.Branch
		if branch == "" {
			branch = "-"
		}
		active := "-"
		if !session.LastActivity.IsZero() {
			active = session.LastActivity.Local().Format(time.DateTime)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n", session.ID, session.Status, repo, branch, active, session.Title)
	}
	_ = writer.Flush()
}

func writeJSON(out io.Writer, payload any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision string
		var modified string
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			}
		}
		if revision != "" {
			if modified == "true" {
				return revision + "-dirty"
			}
			return revision
		}
	}

	exe, err := os.Executable()
	if err == nil {
		file, err := os.Open(exe)
		if err == nil {
			defer file.Close()
			hasher := sha256.New()
			if _, err := io.Copy(hasher, file); err == nil {
				sum := hasher.Sum(nil)
				return fmt.Sprintf("bin-%x", sum[:6])
			}
		}
	}

	return version
}
