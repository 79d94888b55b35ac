// ABOUTME: Usage text for the masthead CLI.
// ABOUTME: Printed on -h and when flag parsing fails.
package main

import (
	"fmt"
	"io"
)

func printHelp(w io.Writer, version string) {
	fmt.Fprintf(w, `masthead %s - terminal dashboard for Windlass cascades

Usage:
  masthead [flags]           watch the backend in the interactive TUI
  masthead -tail [flags]     print the event feed as plain text
  masthead -demo [flags]     run the local demo backend

Flags:
  -config PATH    config file (default: masthead.yaml)
  -backend URL    backend base URL (overrides config)
  -port N         demo backend port (overrides config)
  -lag DURATION   demo log availability lag, e.g. 2s (overrides config)
  -version        print version and exit

Config file (masthead.yaml):
  backend_url: http://127.0.0.1:8787
  grace_period: 30s
  poll:
    list: 2s
    detail: 1.5s
    slow: 5s
  demo:
    port: 8787
    database: masthead-demo.db
    lag: 2s
`, version)
}
