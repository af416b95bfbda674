// Package imap reads messages from an IMAP folder into the pipeline.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mbox-reply-parser/message"
	"github.com/dhcgn/mbox-reply-parser/model"
	"github.com/dhcgn/mbox-reply-parser/runner"
)

const defaultBatchSize = 50

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	// Limit keeps only the newest N messages of the folder. Zero reads all.
	Limit int
	// BatchSize is the number of messages requested per FETCH.
	BatchSize int
}

// Fetcher streams the messages of one folder. Bodies are fetched with
// BODY.PEEK so the \Seen flag is left untouched.
type Fetcher struct {
	opts   Options
	logger *slog.Logger
}

func NewFetcher(opts Options, logger *slog.Logger) (*Fetcher, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("imap limit must not be negative")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Fetcher{opts: opts, logger: logger}, nil
}

// Stream sends one envelope per fetched message.
func (f *Fetcher) Stream(ctx context.Context, out chan<- model.Envelope) error {
	client, cleanup, err := f.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	folder := f.folder()
	selected, err := client.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("select %s: %w", folder, err)
	}

	searchData, err := client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return fmt.Errorf("search %s: %w", folder, err)
	}

	uids := searchData.AllUIDs()
	if f.opts.Limit > 0 && len(uids) > f.opts.Limit {
		uids = uids[len(uids)-f.opts.Limit:]
	}

	if f.logger != nil {
		f.logger.Info("imap folder selected", "folder", folder, "messages", selected.NumMessages, "fetching", len(uids))
	}

	for start := 0; start < len(uids); start += f.opts.BatchSize {
		end := min(start+f.opts.BatchSize, len(uids))
		if err := f.fetchBatch(ctx, client, uids[start:end], out); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, client *imapclient.Client, uids []imapv2.UID, out chan<- model.Envelope) error {
	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imapv2.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		data := fetchCmd.Next()
		if data == nil {
			break
		}

		buf, err := data.Collect()
		if err != nil {
			if err := emit(ctx, out, model.Envelope{Err: fmt.Errorf("collect message %d: %w", data.SeqNum, err)}); err != nil {
				return err
			}
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			if err := emit(ctx, out, model.Envelope{Err: fmt.Errorf("uid %d: empty body", buf.UID)}); err != nil {
				return err
			}
			continue
		}

		msg, err := message.Parse(raw)
		if err != nil {
			if err := emit(ctx, out, model.Envelope{Err: fmt.Errorf("uid %d parse: %w", buf.UID, err)}); err != nil {
				return err
			}
			continue
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = buf.InternalDate
		}

		if f.logger != nil {
			f.logger.Debug("fetched message", "uid", buf.UID, "messageID", msg.ID, "size", msg.Size)
		}

		if err := emit(ctx, out, model.Envelope{Message: msg}); err != nil {
			return err
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

func (f *Fetcher) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))
	options := &imapclient.Options{}

	if f.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         f.opts.Host,
			InsecureSkipVerify: f.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if f.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(f.opts.Username, f.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if f.logger != nil {
		f.logger.Debug("imap connection established", "address", address, "user", f.opts.Username, "folder", f.folder(), "tls", f.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				if f.logger != nil {
					f.logger.Warn("imap logout failed", "err", err)
				}
			}
		}
		if err := client.Close(); err != nil && f.logger != nil {
			f.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (f *Fetcher) folder() string {
	if f.opts.Folder == "" {
		return "INBOX"
	}
	return f.opts.Folder
}

func emit(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

type Producer struct {
	fetcher *Fetcher
	runner  *runner.Runner
}

// NewProducer registers an IMAP source stage on r.
func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	fetcher, err := NewFetcher(opts, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{fetcher: fetcher, runner: r}
	r.AddStage("imap", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	return p.fetcher.Stream(ctx, p.runner.MailboxWriter())
}
