// Package mbox streams messages out of an mbox archive into the pipeline.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mbox-reply-parser/message"
	"github.com/dhcgn/mbox-reply-parser/model"
	"github.com/dhcgn/mbox-reply-parser/runner"
)

type Options struct {
	Path string
	// Source, when set, is read instead of opening Path.
	Source io.Reader
}

type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" && opts.Source == nil {
		return nil, fmt.Errorf("mbox path is empty")
	}
	return &fileReader{path: path, source: opts.Source, logger: logger}, nil
}

type fileReader struct {
	path   string
	source io.Reader
	logger *slog.Logger
}

// Stream sends one envelope per message. A message that cannot be read is
// sent as an error envelope and the stream continues; a broken archive
// ends the stream with an error.
func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	reader, closeFn, err := open(f.path, f.source)
	if err != nil {
		return err
	}
	defer closeFn()

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if err := f.emitError(ctx, out, fmt.Errorf("message %d read: %w", idx, err)); err != nil {
				return err
			}
			continue
		}

		msg, err := message.Parse(raw)
		if err != nil {
			if err := f.emitError(ctx, out, fmt.Errorf("message %d parse: %w", idx, err)); err != nil {
				return err
			}
			continue
		}

		if err := f.emitEnvelope(ctx, out, model.Envelope{Message: msg}); err != nil {
			return err
		}
	}
}

func (f *fileReader) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if f.logger != nil {
		f.logger.Warn("mbox message skipped", "path", f.path, "err", err)
	}
	return f.emitEnvelope(ctx, out, model.Envelope{Err: err})
}

func (f *fileReader) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

type Producer struct {
	reader Reader
	runner *runner.Runner
}

// NewProducer registers an mbox source stage on r.
func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	reader, err := NewReader(opts, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{reader: reader, runner: r}
	r.AddStage("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	return p.reader.Stream(ctx, p.runner.MailboxWriter())
}

// Read iterates through the messages of the mbox file at path, calling
// callback for each one. Messages that fail to parse are skipped.
func Read(path string, callback func(msg model.Message) error) error {
	reader, closeFn, err := open(path, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			continue
		}

		msg, err := message.Parse(raw)
		if err != nil {
			continue
		}

		if err := callback(msg); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	reader, closeFn, err := open(path, nil)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// A message whose body cannot be read still counts.
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}

func open(path string, source io.Reader) (*mboxlib.Reader, func(), error) {
	if source != nil {
		return mboxlib.NewReader(source), func() {}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open mbox: %w", err)
	}
	return mboxlib.NewReader(file), func() { _ = file.Close() }, nil
}
