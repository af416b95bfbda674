// Package runner wires the extraction pipeline: a source stage feeds
// envelopes, the bridge drops messages already extracted, parse workers turn
// message bodies into replies and a sink stage consumes them.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/mbox-reply-parser/config"
	"github.com/dhcgn/mbox-reply-parser/filter"
	"github.com/dhcgn/mbox-reply-parser/message"
	"github.com/dhcgn/mbox-reply-parser/model"
	"github.com/dhcgn/mbox-reply-parser/patterns"
	"github.com/dhcgn/mbox-reply-parser/reply"
	"github.com/dhcgn/mbox-reply-parser/state"
	"github.com/dhcgn/mbox-reply-parser/stats"
)

var ErrMessageIDMissing = errors.New("message missing id")

type StageFunc func(context.Context) error

// Option customises a Runner.
type Option func(*Runner)

// WithTracker replaces the file tracker built from the state directory.
func WithTracker(t state.Tracker) Option {
	return func(r *Runner) { r.tracker = t }
}

// WithLibrary sets the pattern library used by the parse workers.
func WithLibrary(lib *patterns.Library) Option {
	return func(r *Runner) { r.library = lib }
}

type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope
	pending  chan model.Message
	replies  chan model.Reply

	subMu       sync.Mutex
	subscribers []chan stats.Event

	tracker state.Tracker
	library *patterns.Library
	parser  *reply.Parser
	filter  *filter.Filter

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce sync.Once
	closePendingOnce sync.Once
	closeRepliesOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
	elapsed          time.Duration
}

// New builds a runner and registers its internal stages. Source and sink
// stages are added by the caller before Start.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
		pending:  make(chan model.Message, 32),
		replies:  make(chan model.Reply, 32),
		since:    time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.library == nil {
		lib, err := LoadLibrary(cfg.PatternsFile)
		if err != nil {
			cancel()
			return nil, err
		}
		r.library = lib
	}
	r.parser = reply.NewParser(r.library)

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("filter: %w", err)
	}
	r.filter = f

	if r.tracker == nil {
		mode := state.ReadWrite
		if cfg.DryRun {
			mode = state.ReadOnly
		}
		tracker, err := state.NewFileTracker(cfg.StateDir, mode)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("state tracker: %w", err)
		}
		r.tracker = tracker
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	r.AddStage("bridge", r.bridge)
	r.AddStage("parse", func(ctx context.Context) error { return r.parse(ctx, workers) })
	return r, nil
}

// LoadLibrary returns the built-in patterns extended with those in path, if any.
func LoadLibrary(path string) (*patterns.Library, error) {
	lib := patterns.Default()
	if path == "" {
		return lib, nil
	}
	if err := patterns.LoadFile(lib, path); err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	return lib, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) Filter() *filter.Filter {
	return r.filter
}

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

// Replies is closed once every parse worker has finished.
func (r *Runner) Replies() <-chan model.Reply {
	return r.replies
}

// EmitEvent delivers evt to every stats subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subMu.Lock()
	subscribers := r.subscribers
	r.subMu.Unlock()

	for _, ch := range subscribers {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats starts fn with its own copy of the event stream. It must be
// called before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start blocks until every stage and subscriber has returned.
func (r *Runner) Start() error {
	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	if closer, ok := r.tracker.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			r.fail(err)
		}
	}

	r.errMu.Lock()
	err := r.err
	r.elapsed = time.Since(r.since)
	duration := r.elapsed
	r.errMu.Unlock()

	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

// Elapsed reports the time since New, frozen once Start returns.
func (r *Runner) Elapsed() time.Duration {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.elapsed > 0 {
		return r.elapsed
	}
	return time.Since(r.since)
}

// Stop cancels every stage.
func (r *Runner) Stop() {
	r.cancel()
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closePending()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.logger.Warn("message skipped", "err", envelope.Err)
				r.EmitEvent(stats.Event{Stage: r.sourceStage(), Type: stats.EventTypeError, Err: envelope.Err})
				continue
			}

			msg := envelope.Message
			r.EmitEvent(stats.Event{Stage: r.sourceStage(), Type: stats.EventTypeScanned, MessageID: msg.ID})

			if msg.ID == "" {
				r.EmitEvent(stats.Event{Stage: r.sourceStage(), Type: stats.EventTypeError, Err: ErrMessageIDMissing})
				continue
			}

			if r.tracker.Seen(msg.Hash) {
				r.EmitEvent(stats.Event{Stage: r.sourceStage(), Type: stats.EventTypeDuplicate, MessageID: msg.ID})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.pending <- msg:
				r.EmitEvent(stats.Event{Stage: r.sourceStage(), Type: stats.EventTypeEnqueued, MessageID: msg.ID})
			}
		}
	}
}

func (r *Runner) parse(ctx context.Context, workers int) error {
	defer r.closeReplies()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case msg, ok := <-r.pending:
					if !ok {
						return nil
					}
					out, ok := r.extract(msg)
					if !ok {
						continue
					}
					select {
					case <-ctx.Done():
						return ctx.Err()
					case r.replies <- out:
					}
				}
			}
		})
	}
	return g.Wait()
}

// extract parses one message. ok is false when the message yields no reply.
func (r *Runner) extract(msg model.Message) (out model.Reply, ok bool) {
	body, err := message.BodyText(msg.Raw)
	noText := errors.Is(err, message.ErrNoTextBody)
	switch {
	case noText:
		r.logger.Debug("message has no text body", "messageID", msg.ID)
		r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeNoText, MessageID: msg.ID})
	case err != nil:
		r.logger.Warn("read message body failed", "messageID", msg.ID, "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeError, MessageID: msg.ID, Err: err})
		return model.Reply{}, false
	}

	email := r.parser.Parse(body)

	header, _ := filter.SplitRawMessage(msg.Raw)
	if !r.filter.Allows(header, email.VisibleText()) {
		r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeFiltered, MessageID: msg.ID})
		return model.Reply{}, false
	}

	// Counted under no_text only; the empty reply is still written.
	if !noText {
		r.EmitEvent(stats.Event{
			Stage:     stats.StageParse,
			Type:      stats.EventTypeParsed,
			MessageID: msg.ID,
			Fragments: len(email.Fragments()),
			Quoted:    email.HasQuote(),
			Signature: email.HasSignature(),
		})
	}

	return BuildReply(msg, email, r.cfg.Fragments), true
}

// BuildReply converts a parsed email into its output record.
func BuildReply(msg model.Message, email *reply.Email, withFragments bool) model.Reply {
	out := model.Reply{
		MessageID: msg.ID,
		Hash:      msg.Hash,
		From:      msg.From,
		Subject:   msg.Subject,
		Date:      msg.ReceivedAt,
		Visible:   email.VisibleText(),
		Quoted:    email.QuotedText(),
	}
	if withFragments {
		for _, f := range email.Fragments() {
			out.Fragments = append(out.Fragments, model.Fragment{
				Content:   f.Content(),
				Quoted:    f.IsQuoted(),
				Signature: f.IsSignature(),
				Hidden:    f.IsHidden(),
			})
		}
	}
	return out
}

func (r *Runner) sourceStage() stats.Stage {
	if r.cfg.UseIMAP() {
		return stats.StageIMAP
	}
	return stats.StageMbox
}

func (r *Runner) closePending() {
	r.closePendingOnce.Do(func() {
		close(r.pending)
	})
}

func (r *Runner) closeReplies() {
	r.closeRepliesOnce.Do(func() {
		close(r.replies)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for _, ch := range r.subscribers {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
