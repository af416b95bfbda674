package output_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-reply-parser/config"
	"github.com/dhcgn/mbox-reply-parser/mbox"
	"github.com/dhcgn/mbox-reply-parser/output"
	"github.com/dhcgn/mbox-reply-parser/runner"
	"github.com/dhcgn/mbox-reply-parser/state"
	"github.com/dhcgn/mbox-reply-parser/stats"
)

const archive = `From jane@example.com Mon Jan  6 09:00:00 2020
From: Jane <jane@example.com>
Subject: Re: plan
Message-Id: <one@example.com>

Works for me.

On Sun, Jan 5, 2020 at 8:00 AM Bob <bob@example.com> wrote:
> Tuesday?

From bob@example.com Mon Jan  6 10:00:00 2020
From: Bob <bob@example.com>
Subject: Re: plan
Message-Id: <two@example.com>

Great.
`

func run(t *testing.T, tracker state.Tracker, dryRun bool) (string, stats.Summary) {
	t.Helper()

	cfg := config.Config{Workers: 2, Format: config.FormatJSONL, DryRun: dryRun}
	r, err := runner.New(cfg, nil, runner.WithTracker(tracker))
	require.NoError(t, err)
	reporter := stats.NewReporter(r, nil)

	_, err = mbox.NewProducer(mbox.Options{Source: strings.NewReader(archive)}, r, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = output.NewSink(output.SinkOptions{Format: cfg.Format, DryRun: dryRun, Writer: &buf}, r, nil)
	require.NoError(t, err)

	require.NoError(t, r.Start())
	return buf.String(), reporter.Summary()
}

func TestSink_WritesAndTracks(t *testing.T) {
	tracker := state.NewMemoryTracker()

	out, summary := run(t, tracker, false)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, out, `"message_id":"one@example.com"`)
	assert.Contains(t, out, `"visible":"Works for me.\n"`)
	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, 2, tracker.Snapshot().Extracted)

	// A second run over the same archive finds nothing new.
	out, summary = run(t, tracker, false)
	assert.Empty(t, out)
	assert.Equal(t, 2, summary.Duplicates)
	assert.Equal(t, 0, summary.Written)
}

func TestSink_DryRun(t *testing.T) {
	tracker := state.NewMemoryTracker()

	out, summary := run(t, tracker, true)

	assert.Empty(t, out)
	assert.Equal(t, 2, summary.DryRun)
	assert.Equal(t, 0, tracker.Snapshot().Extracted)
}

func TestNewSink_UnknownFormat(t *testing.T) {
	r, err := runner.New(config.Config{Workers: 1}, nil, runner.WithTracker(state.NewMemoryTracker()))
	require.NoError(t, err)

	_, err = output.NewSink(output.SinkOptions{Format: "xml"}, r, nil)
	require.Error(t, err)

	r.Stop()
	assert.NoError(t, r.Start())
}
