package main

import (
	"fmt"
	"os"
	"strings"
)

// Version is set with -ldflags "-X main.Version=..."
var Version = "dev"

const pidFile = "gradeboxd.pid"

// commands maps each subcommand to its handler. Daemon commands ignore args.
var commands = map[string]func(args []string) error{
	"start":    noArgs(cmdStart),
	"stop":     noArgs(cmdStop),
	"status":   noArgs(cmdStatus),
	"logs":     noArgs(cmdLogs),
	"exercise": cmdExercise,
	"run":      cmdRun,
	"progress": cmdProgress,
	"hint":     cmdHint,
	"xp":       cmdXP,
	"mcp":      cmdMCP,
}

func noArgs(fn func() error) func([]string) error {
	return func([]string) error { return fn() }
}

func main() {
	os.Exit(dispatch(os.Args[1:]))
}

// dispatch runs one command and returns the process exit code.
func dispatch(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "-v", "--version":
		fmt.Printf("gradebox %s\n", Version)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		return 1
	}
	if err := cmd(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println(`Gradebox - Sandboxed exercise grading with XP

Usage:
  gradebox <command> [arguments]

Daemon Commands:
  start           Start the gradebox daemon
  stop            Stop the gradebox daemon
  status          Show daemon status
  logs            View daemon logs

Exercise Commands:
  exercise list   List exercise packs
  exercise info   Show exercise details

Learner Commands:
  run <id> <file>          Run and grade a file (.js or .html)
  run <id> --web <dir>     Grade index.html, style.css and script.js in dir
  progress <id>            Show saved code and progress
  hint <id> [n]            Show the nth hint
  xp                       Show XP and level

  Learner commands accept --user <id>; the default is $GRADEBOX_USER
  or your login name. Without a running daemon they run in-process.

Integration Commands:
  mcp             Start MCP server on stdio (--http <addr> for HTTP)

Other:
  help            Show this help message
  version         Show version information

Examples:
  gradebox start
  gradebox exercise list
  gradebox run js-basics/basics/hello-console hello.js
  gradebox xp`)
}

// renderProgressBar draws value (0 to 1) as a bar width cells wide.
func renderProgressBar(value float64, width int) string {
	filled := min(max(int(value*float64(width)), 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
