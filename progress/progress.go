package progress

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mbox-reply-parser/stats"
)

// Bar manages a progress bar for tracking message processing.
type Bar struct {
	pb          *pterm.ProgressbarPrinter
	out         io.Writer
	total       int
	alreadyDone int
	scanned     int
	mu          sync.Mutex
	enabled     bool
}

// Options controls when and where the bar is drawn.
type Options struct {
	Total       int
	AlreadyDone int
	LogLevel    string
	// Interactive is false when replies are streamed to the terminal; the
	// bar would interleave with them.
	Interactive bool
	Writer      io.Writer
}

// New creates a new progress bar. It is only drawn at log level info, with a
// known total and an interactive terminal.
func New(opts Options) *Bar {
	out := opts.Writer
	if out == nil {
		out = os.Stderr
	}

	bar := &Bar{
		out:         out,
		total:       opts.Total,
		alreadyDone: opts.AlreadyDone,
		enabled:     opts.LogLevel == "info" && opts.Total > 0 && opts.Interactive,
	}

	if bar.enabled {
		info := pterm.Info.WithWriter(out)
		info.Printf("Total messages: %d\n", opts.Total)
		info.Printf("Already extracted: %d\n", opts.AlreadyDone)
		pterm.Fprintln(out)

		pb, _ := pterm.DefaultProgressbar.
			WithTotal(opts.Total).
			WithTitle("Extracting replies").
			WithWriter(out).
			Start()
		bar.pb = pb
	}

	return bar
}

// Enabled reports whether the bar is drawn.
func (b *Bar) Enabled() bool {
	return b.enabled
}

// Scanned returns the number of scanned events seen so far.
func (b *Bar) Scanned() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanned
}

// Update advances the bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.scanned++
		if b.pb == nil {
			return
		}
		b.pb.Increment()
		if evt.MessageID != "" {
			displayID := evt.MessageID
			if len(displayID) > 40 {
				displayID = displayID[:37] + "..."
			}
			b.pb.UpdateTitle("Extracting: " + displayID)
		}
	case stats.EventTypeError:
		if b.pb != nil && evt.Err != nil {
			pterm.Error.WithWriter(b.out).Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	pterm.Success.WithWriter(b.out).Println("Extraction complete!")
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter wraps the stats collector with a progress bar and prints
// a summary table once the event stream ends.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter subscribes the bar and a summary printer to stream
// when the bar is enabled.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)
	PrintSummary(pr.bar.out, pr.collector.Snapshot(), time.Since(pr.started))
	return nil
}

// PrintSummary renders s as a pterm table.
func PrintSummary(w io.Writer, s stats.Summary, duration time.Duration) {
	pterm.Fprintln(w)
	pterm.DefaultSection.WithWriter(w).Println("Summary Statistics")

	data := pterm.TableData{
		{"Metric", "Count"},
		{"Duration", duration.Round(time.Millisecond).String()},
		{"Scanned", strconv.Itoa(s.Scanned)},
		{"Already extracted (skipped)", strconv.Itoa(s.Duplicates)},
		{"Without text body", strconv.Itoa(s.NoText)},
		{"Filtered", strconv.Itoa(s.Filtered)},
		{"Parsed", strconv.Itoa(s.Parsed)},
		{"  with quote", strconv.Itoa(s.WithQuote)},
		{"  with signature", strconv.Itoa(s.WithSignature)},
		{"Fragments", strconv.Itoa(s.Fragments)},
		{"Written", strconv.Itoa(s.Written)},
		{"Dry-run", strconv.Itoa(s.DryRun)},
		{"Errors", strconv.Itoa(s.Errors)},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()

	if s.LastError != nil {
		pterm.Error.WithWriter(w).Printf("Last error: %v\n", s.LastError)
	}
}
