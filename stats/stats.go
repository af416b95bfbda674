package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageMbox   Stage = "mbox"
	StageIMAP   Stage = "imap"
	StageParse  Stage = "parse"
	StageOutput Stage = "output"
)

type EventType string

const (
	EventTypeScanned   EventType = "scanned"
	EventTypeEnqueued  EventType = "enqueued"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeNoText    EventType = "no_text"
	EventTypeFiltered  EventType = "filtered"
	EventTypeParsed    EventType = "parsed"
	EventTypeWritten   EventType = "written"
	EventTypeDryRun    EventType = "dry_run"
	EventTypeError     EventType = "error"
)

// Event is emitted by pipeline stages. Fragments, Quoted and Signature are
// only set on parsed events.
type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Err       error
	Detail    string

	Fragments int
	Quoted    bool
	Signature bool
}

type Summary struct {
	Scanned       int
	Enqueued      int
	Duplicates    int
	NoText        int
	Filtered      int
	Parsed        int
	Written       int
	DryRun        int
	Errors        int
	Fragments     int
	WithQuote     int
	WithSignature int
	LastError     error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"enqueued", s.Enqueued,
		"duplicates", s.Duplicates,
		"noText", s.NoText,
		"filtered", s.Filtered,
		"parsed", s.Parsed,
		"written", s.Written,
		"dryRun", s.DryRun,
		"errors", s.Errors,
		"fragments", s.Fragments,
		"withQuote", s.WithQuote,
		"withSignature", s.WithSignature,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Apply folds a single event into the summary.
func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeEnqueued:
		c.summary.Enqueued++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeNoText:
		c.summary.NoText++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeParsed:
		c.summary.Parsed++
		c.summary.Fragments += evt.Fragments
		if evt.Quoted {
			c.summary.WithQuote++
		}
		if evt.Signature {
			c.summary.WithSignature++
		}
	case EventTypeWritten:
		c.summary.Written++
	case EventTypeDryRun:
		c.summary.DryRun++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Pair is a key with its count.
type Pair struct {
	Key   string
	Value int
}

// Top returns the limit most frequent entries of m, ties broken by key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && limit < len(pairs) {
		pairs = pairs[:limit]
	}
	return pairs
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}
