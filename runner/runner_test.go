package runner_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-reply-parser/config"
	"github.com/dhcgn/mbox-reply-parser/message"
	"github.com/dhcgn/mbox-reply-parser/model"
	"github.com/dhcgn/mbox-reply-parser/patterns"
	"github.com/dhcgn/mbox-reply-parser/runner"
	"github.com/dhcgn/mbox-reply-parser/state"
	"github.com/dhcgn/mbox-reply-parser/stats"
)

func rawMessage(id, body string) []byte {
	return []byte(fmt.Sprintf("From: jane@example.com\nSubject: Re: %s\nMessage-Id: <%s>\n\n%s", id, id, body))
}

func mustParse(t *testing.T, raw []byte) model.Message {
	t.Helper()
	msg, err := message.Parse(raw)
	require.NoError(t, err)
	return msg
}

type pipeline struct {
	runner   *runner.Runner
	reporter *stats.Reporter

	mu      sync.Mutex
	replies []model.Reply
}

func newPipeline(t *testing.T, cfg config.Config, tracker state.Tracker, envs []model.Envelope) *pipeline {
	t.Helper()

	r, err := runner.New(cfg, nil, runner.WithTracker(tracker), runner.WithLibrary(patterns.Default()))
	require.NoError(t, err)

	p := &pipeline{runner: r, reporter: stats.NewReporter(r, nil)}

	r.AddStage("source", func(ctx context.Context) error {
		defer r.CloseMailbox()
		for _, env := range envs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.MailboxWriter() <- env:
			}
		}
		return nil
	})
	r.AddStage("sink", func(ctx context.Context) error {
		for out := range r.Replies() {
			p.mu.Lock()
			p.replies = append(p.replies, out)
			p.mu.Unlock()
			if err := r.Tracker().MarkExtracted(out); err != nil {
				return err
			}
		}
		return nil
	})
	return p
}

func (p *pipeline) sorted() []model.Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]model.Reply(nil), p.replies...)
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

func TestRunner_ExtractsReplies(t *testing.T) {
	tracker := state.NewMemoryTracker()
	first := mustParse(t, rawMessage("a@example.com", "Sounds good.\n\nOn Mon, Jan 6, 2020 at 9:00 AM Bob <bob@example.com> wrote:\n> Ship it?\n"))
	second := mustParse(t, rawMessage("b@example.com", "Thanks!\n\n--\nJane\n"))

	envs := []model.Envelope{
		{Message: first},
		{Message: second},
		{Err: fmt.Errorf("broken message")},
	}

	p := newPipeline(t, config.Config{Workers: 2, Fragments: true}, tracker, envs)
	require.NoError(t, p.runner.Start())

	replies := p.sorted()
	require.Len(t, replies, 2)

	assert.Equal(t, "a@example.com", replies[0].MessageID)
	assert.Equal(t, "Sounds good.\n", replies[0].Visible)
	assert.Contains(t, replies[0].Quoted, "> Ship it?")
	assert.NotEmpty(t, replies[0].Fragments)
	assert.Equal(t, "jane@example.com", replies[0].From)

	assert.Equal(t, "b@example.com", replies[1].MessageID)
	assert.Equal(t, "Thanks!\n", replies[1].Visible)

	summary := p.reporter.Summary()
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 2, summary.Parsed)
	assert.Equal(t, 1, summary.WithQuote)
	assert.Equal(t, 1, summary.WithSignature)
	assert.Equal(t, 1, summary.Errors)
	assert.True(t, tracker.Seen(first.Hash))
	assert.True(t, tracker.Seen(second.Hash))
}

func TestRunner_SkipsAlreadyExtracted(t *testing.T) {
	tracker := state.NewMemoryTracker()
	msg := mustParse(t, rawMessage("a@example.com", "Hello\n"))
	require.NoError(t, tracker.MarkExtracted(model.Reply{Hash: msg.Hash, MessageID: msg.ID}))

	p := newPipeline(t, config.Config{Workers: 1}, tracker, []model.Envelope{{Message: msg}})
	require.NoError(t, p.runner.Start())

	assert.Empty(t, p.sorted())
	assert.Equal(t, 1, p.reporter.Summary().Duplicates)
}

func TestRunner_FilterOnVisibleText(t *testing.T) {
	keep := mustParse(t, rawMessage("keep@example.com", "Approved\n\nOn Mon, Jan 6, 2020 at 9:00 AM Bob <bob@example.com> wrote:\n> Rejected?\n"))
	drop := mustParse(t, rawMessage("drop@example.com", "Hi\n\nOn Mon, Jan 6, 2020 at 9:00 AM Bob <bob@example.com> wrote:\n> Approved?\n"))

	cfg := config.Config{Workers: 1, IncludeBody: []string{"Approved"}}
	p := newPipeline(t, cfg, state.NewMemoryTracker(), []model.Envelope{{Message: keep}, {Message: drop}})
	require.NoError(t, p.runner.Start())

	replies := p.sorted()
	require.Len(t, replies, 1)
	assert.Equal(t, "keep@example.com", replies[0].MessageID)
	assert.Equal(t, 1, p.reporter.Summary().Filtered)
}

func TestRunner_NoTextBodyYieldsEmptyReply(t *testing.T) {
	raw := []byte("From: a@example.com\nMessage-Id: <html@example.com>\nContent-Type: text/html\n\n<p>hi</p>\n")

	p := newPipeline(t, config.Config{Workers: 1}, state.NewMemoryTracker(), []model.Envelope{{Message: mustParse(t, raw)}})
	require.NoError(t, p.runner.Start())

	replies := p.sorted()
	require.Len(t, replies, 1)
	assert.Empty(t, replies[0].Visible)
	summary := p.reporter.Summary()
	assert.Equal(t, 1, summary.NoText)
	assert.Equal(t, 0, summary.Parsed)
}

func TestRunner_ElapsedCoversWorkBeforeStart(t *testing.T) {
	p := newPipeline(t, config.Config{Workers: 1}, state.NewMemoryTracker(), []model.Envelope{
		{Message: mustParse(t, rawMessage("a@example.com", "Hello\n"))},
	})
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.runner.Start())

	elapsed := p.runner.Elapsed()
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, elapsed, p.runner.Elapsed())
}

func TestRunner_StageErrorFailsRun(t *testing.T) {
	r, err := runner.New(config.Config{Workers: 1}, nil, runner.WithTracker(state.NewMemoryTracker()))
	require.NoError(t, err)

	r.AddStage("source", func(context.Context) error {
		defer r.CloseMailbox()
		return fmt.Errorf("connection refused")
	})
	r.AddStage("sink", func(ctx context.Context) error {
		for range r.Replies() {
		}
		return nil
	})

	err = r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source stage")
}

func TestRunner_InvalidFilter(t *testing.T) {
	_, err := runner.New(config.Config{IncludeBody: []string{"("}}, nil, runner.WithTracker(state.NewMemoryTracker()))
	require.Error(t, err)
}

func TestLoadLibrary_MissingFile(t *testing.T) {
	_, err := runner.LoadLibrary("does-not-exist.yaml")
	require.Error(t, err)
}
