package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charleschow/cricket-feed/internal/events"
	"github.com/charleschow/cricket-feed/internal/feed"
	"github.com/charleschow/cricket-feed/internal/telemetry"
)

func main() {
	addr := flag.String("addr", "localhost:3001", "commentary server host:port")
	match := flag.String("match", "ind-vs-sa-t20wc-final-2024", "match id to join")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	telemetry.Init(telemetry.ParseLogLevel(*level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := feed.NewClient(*addr, *match, printEvent)
	err := c.Run(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
		return
	case feed.IsClosed(err):
		telemetry.Warnf("watch: server hung up mid-session: %v", err)
	default:
		telemetry.Errorf("watch: %v", err)
	}
	os.Exit(1)
}

func printEvent(evt events.MatchEvent) {
	ts := evt.Timestamp.Local().Format("15:04:05")
	switch p := evt.Payload.(type) {
	case events.StatusPayload:
		fmt.Printf("[%s] %-8s %s\n", ts, p.Status, p.Summary)
	case events.BallPayload:
		fmt.Printf("[%s] %d.%d  %-8s %s\n", ts, p.Over, p.Ball, runsLabel(evt.Kind, p.Runs), p.Commentary)
	case events.WicketPayload:
		fmt.Printf("[%s] %d.%d  WICKET   %s %s. %s\n", ts, p.Over, p.Ball, p.PlayerOut, p.Dismissal, p.Commentary)
	default:
		fmt.Printf("[%s] %s\n", ts, evt.Kind)
	}
}

func runsLabel(kind events.Kind, runs int) string {
	switch {
	case kind == events.KindBoundary && runs == 6:
		return "SIX"
	case kind == events.KindBoundary:
		return "FOUR"
	case runs == 0:
		return "dot"
	}
	return fmt.Sprintf("%d run", runs)
}
