package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/charleschow/cricket-feed/internal/journal"
)

func main() {
	n := flag.Int("n", 10, "number of recent sessions to display")
	match := flag.String("match", "", "filter by match id")
	session := flag.String("session", "", "show every delivery of one session")
	dbPath := flag.String("db", "data/sessions.db", "path to session journal")
	flag.Parse()

	r, err := journal.OpenReader(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx := context.Background()
	if *session != "" {
		err = printDeliveries(ctx, r, *session)
	} else {
		err = printSessions(ctx, r, *match, *n)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func printSessions(ctx context.Context, r *journal.Reader, match string, n int) error {
	total, err := r.DeliveryCount(ctx)
	if err != nil {
		return err
	}
	sessions, err := r.Sessions(ctx, match, n)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("(no sessions)")
		return nil
	}

	fmt.Printf("=== Sessions ===\nDeliveries retained: %s  |  Showing last %d:\n", humanize.Comma(total), len(sessions))

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "session\tmatch\tremote\tstarted\tduration\tstate\tsent")
	fmt.Fprintln(w, strings.Repeat("----\t", 7))
	for _, s := range sessions {
		dur := "-"
		if !s.Ended.IsZero() {
			dur = s.Ended.Sub(s.Started).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			s.SessionID, s.MatchID, s.Remote, humanize.Time(s.Started), dur, s.State, s.Emitted)
	}
	return w.Flush()
}

func printDeliveries(ctx context.Context, r *journal.Reader, sessionID string) error {
	rows, err := r.Deliveries(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("(no deliveries for session %q)\n", sessionID)
		return nil
	}

	fmt.Printf("=== Session %s ===\n", sessionID)
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tsent\tgap\tkind\tid\theadline")
	fmt.Fprintln(w, strings.Repeat("----\t", 6))

	var prev time.Time
	for _, d := range rows {
		gap := "-"
		if !prev.IsZero() {
			gap = fmt.Sprintf("%dms", d.Sent.Sub(prev).Milliseconds())
		}
		prev = d.Sent

		idx := "-"
		if d.Cursor >= 0 {
			idx = fmt.Sprintf("%d", d.Cursor)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			idx, d.Sent.Local().Format("15:04:05.000"), gap, d.Kind, d.EventID, d.Headline)
	}
	return w.Flush()
}
