// Package catalog holds the scripted match narrative replayed to subscribers.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/charleschow/cricket-feed/internal/events"
)

//go:embed india_first_10_overs.yaml
var defaultCatalogData []byte

// Match is the metadata block at the top of a catalog file.
type Match struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Greeting string `yaml:"greeting"`
	IDPrefix string `yaml:"id_prefix"`
}

// Catalog is an immutable, ordered list of scripted events. The zero
// value is an empty catalog. A Catalog is safe to share across sessions:
// nothing hands out a reference to the backing slice.
type Catalog struct {
	match   Match
	entries []events.Event
}

// New builds a catalog from already-typed events. The slice is copied.
func New(match Match, entries []events.Event) *Catalog {
	cp := make([]events.Event, len(entries))
	copy(cp, entries)
	if match.IDPrefix == "" {
		match.IDPrefix = "evt"
	}
	return &Catalog{match: match, entries: cp}
}

func (c *Catalog) Match() Match { return c.match }
func (c *Catalog) Len() int     { return len(c.entries) }

// At returns entry i by value.
func (c *Catalog) At(i int) events.Event { return c.entries[i] }

// Default returns the embedded India first-10-overs catalog.
func Default() (*Catalog, error) {
	c, err := Parse(defaultCatalogData)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	return c, nil
}

// Load reads a catalog from a YAML file. An empty path selects the
// embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// entryYAML is the flat on-disk shape of one entry; which fields
// matter depends on Type.
type entryYAML struct {
	Type       string `yaml:"type"`
	Status     string `yaml:"status"`
	Summary    string `yaml:"summary"`
	Runs       int    `yaml:"runs"`
	Commentary string `yaml:"commentary"`
	Over       int    `yaml:"over"`
	Ball       int    `yaml:"ball"`
	Batsman    string `yaml:"batsman"`
	Bowler     string `yaml:"bowler"`
	PlayerOut  string `yaml:"player_out"`
	Dismissal  string `yaml:"dismissal"`
}

type fileYAML struct {
	Match  Match       `yaml:"match"`
	Events []entryYAML `yaml:"events"`
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f fileYAML
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	entries := make([]events.Event, 0, len(f.Events))
	for i, e := range f.Events {
		evt, err := e.toEvent()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, evt)
	}
	m := f.Match
	m.Title = clean(m.Title)
	m.Greeting = clean(m.Greeting)
	return New(m, entries), nil
}

func (e entryYAML) toEvent() (events.Event, error) {
	kind := events.Kind(e.Type)
	if !kind.Valid() {
		return events.Event{}, fmt.Errorf("unknown event type %q", e.Type)
	}
	switch kind {
	case events.KindMatchStatus:
		if e.Status == "" {
			return events.Event{}, fmt.Errorf("match status without status")
		}
		return events.Status(clean(e.Status), clean(e.Summary)), nil

	case events.KindBall, events.KindBoundary:
		if err := checkDelivery(e.Over, e.Ball); err != nil {
			return events.Event{}, err
		}
		if e.Runs < 0 {
			return events.Event{}, fmt.Errorf("negative runs %d", e.Runs)
		}
		if kind == events.KindBoundary && e.Runs != 4 && e.Runs != 6 {
			return events.Event{}, fmt.Errorf("boundary with %d runs", e.Runs)
		}
		return events.Event{Kind: kind, Payload: events.BallPayload{
			Runs:       e.Runs,
			Commentary: clean(e.Commentary),
			Over:       e.Over,
			Ball:       e.Ball,
			Batsman:    clean(e.Batsman),
			Bowler:     clean(e.Bowler),
		}}, nil

	default: // events.KindWicket
		if err := checkDelivery(e.Over, e.Ball); err != nil {
			return events.Event{}, err
		}
		return events.Event{Kind: kind, Payload: events.WicketPayload{
			PlayerOut:  clean(e.PlayerOut),
			Dismissal:  clean(e.Dismissal),
			Commentary: clean(e.Commentary),
			Over:       e.Over,
			Ball:       e.Ball,
			Bowler:     clean(e.Bowler),
		}}, nil
	}
}

func checkDelivery(over, ball int) error {
	if over < 1 {
		return fmt.Errorf("over %d out of range", over)
	}
	if ball < 1 || ball > 6 {
		return fmt.Errorf("ball %d out of range 1..6", ball)
	}
	return nil
}

// clean puts text into NFC and collapses runs of whitespace, so status
// names compare equal however the YAML was authored.
func clean(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
