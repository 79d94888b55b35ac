// ABOUTME: Plain-text tail mode: prints the event feed line by line, no TUI.
// ABOUTME: Useful for piping the feed into other tools or debugging the stream.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/windlass-sh/masthead/api"
	"github.com/windlass-sh/masthead/cascade"
	"github.com/windlass-sh/masthead/stream"
)

// runTail follows the feed and prints one line per event until interrupted.
func runTail(ctx context.Context, cfg fileConfig) int {
	client := api.NewClient(cfg.BackendURL, nil)

	sc := &stream.Client{
		URL:     client.EventsURL(),
		OnEvent: printEvent,
		OnConnectionChange: func(connected bool) {
			if connected {
				fmt.Println("# connected")
			} else {
				fmt.Println("# disconnected, retrying")
			}
		},
	}

	sc.Run(ctx)
	return 0
}

func printEvent(evt cascade.Event) {
	line := fmt.Sprintf("%s %s", time.Now().Format(time.TimeOnly), evt.Type)
	if evt.SessionID != "" {
		line += " session=" + evt.SessionID
	}
	if evt.CascadeID != "" {
		line += " cascade=" + evt.CascadeID
	}
	if len(evt.Data) > 0 {
		line += " " + string(evt.Data)
	}
	fmt.Println(line)
}
