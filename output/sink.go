package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dhcgn/mbox-reply-parser/runner"
	"github.com/dhcgn/mbox-reply-parser/stats"
)

type SinkOptions struct {
	Path   string
	Format string
	DryRun bool
	// Writer, when set, is used instead of opening Path.
	Writer io.Writer
}

// Sink drains the runner's replies, encodes them and records each one as
// extracted once it has been written.
type Sink struct {
	opts   SinkOptions
	runner *runner.Runner
	logger *slog.Logger
}

// NewSink registers the output stage on r.
func NewSink(opts SinkOptions, r *runner.Runner, logger *slog.Logger) (*Sink, error) {
	if _, err := NewEncoder(opts.Format, io.Discard); err != nil {
		return nil, err
	}
	s := &Sink{opts: opts, runner: r, logger: logger}
	r.AddStage("output", s.run)
	return s, nil
}

func (s *Sink) run(ctx context.Context) error {
	replies := s.runner.Replies()

	if s.opts.DryRun {
		for out := range replies {
			s.runner.EmitEvent(stats.Event{Stage: stats.StageOutput, Type: stats.EventTypeDryRun, MessageID: out.MessageID})
			if s.logger != nil {
				s.logger.Debug("dry-run reply", "messageID", out.MessageID, "visibleBytes", len(out.Visible))
			}
		}
		return ctx.Err()
	}

	w, closeFn := s.opts.Writer, func() error { return nil }
	if w == nil {
		var err error
		w, closeFn, err = Open(s.opts.Path)
		if err != nil {
			return err
		}
	}

	enc, err := NewEncoder(s.opts.Format, w)
	if err != nil {
		_ = closeFn()
		return err
	}

	tracker := s.runner.Tracker()
	for out := range replies {
		if err := enc.Encode(out); err != nil {
			err = fmt.Errorf("write reply %s: %w", out.MessageID, err)
			s.runner.EmitEvent(stats.Event{Stage: stats.StageOutput, Type: stats.EventTypeError, MessageID: out.MessageID, Err: err})
			_ = closeFn()
			return err
		}
		if err := tracker.MarkExtracted(out); err != nil {
			s.runner.EmitEvent(stats.Event{Stage: stats.StageOutput, Type: stats.EventTypeError, MessageID: out.MessageID, Err: err})
			_ = closeFn()
			return err
		}
		s.runner.EmitEvent(stats.Event{Stage: stats.StageOutput, Type: stats.EventTypeWritten, MessageID: out.MessageID})
	}

	if err := closeFn(); err != nil {
		return err
	}
	return ctx.Err()
}
