package main

import (
	"fmt"
	"os"
)

const usageText = `ship drives coding-agent sessions running in remote sandboxes.

Usage:
  ship <command> [flags]

Commands:
  watch     open the live session view
  send      send a prompt and print the reply
  stop      stop the running turn of a session
  status    show sandbox status for a session
  history   print stored messages for a session
  ls        list sessions seen by this client
  config    print configuration (effective or defaults)
  version   print the build version
  help      show help

A session can be named by id, by a dashboard link (.../session/<id>) or by a
"?session=<id>" link.

Examples:
  ship watch --repo acme/api
  ship watch https://app.example.com/session/4f9c
  ship send 4f9c "run the tests and fix what fails"
  ship send --sse 4f9c "summarize the diff"
  ship history 4f9c --limit 20
  ship config --format toml
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	case "version", "--version":
		fmt.Fprintln(wiring.stdout, wiring.version)
		return
	}

	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}
