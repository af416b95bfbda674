package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mbox-reply-parser/filter"
	"github.com/dhcgn/mbox-reply-parser/message"
	"github.com/dhcgn/mbox-reply-parser/model"
	"github.com/dhcgn/mbox-reply-parser/patterns"
	"github.com/dhcgn/mbox-reply-parser/reply"
)

const body = "Sounds good.\n\nOn Sun, Jan 5, 2020 at 8:00 AM Bob <bob@example.com> wrote:\n> Tuesday?\n"

func execute(t *testing.T, args []string, stdin string) (string, error) {
	t.Helper()

	cmd := newParseCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCmd_VisibleFromStdin(t *testing.T) {
	out, err := execute(t, nil, body)
	require.NoError(t, err)
	assert.Equal(t, "Sounds good.\n", out)
}

func TestParseCmd_Quoted(t *testing.T) {
	out, err := execute(t, []string{"--show", "quoted", "-"}, body)
	require.NoError(t, err)
	assert.Equal(t, "On Sun, Jan 5, 2020 at 8:00 AM Bob <bob@example.com> wrote:\n> Tuesday?\n", out)
}

func TestParseCmd_Fragments(t *testing.T) {
	out, err := execute(t, []string{"--show", "fragments"}, body)
	require.NoError(t, err)
	assert.Contains(t, out, "--- fragment 1\nSounds good.\n")
	assert.Contains(t, out, "--- fragment 2 [quoted,hidden]\n")
}

func TestParseCmd_MessageFileAsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.eml")
	raw := "From: Jane <jane@example.com>\nSubject: Re: plan\nMessage-Id: <one@example.com>\n\n" + body
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	out, err := execute(t, []string{"--message", "--format", "jsonl", path}, "")
	require.NoError(t, err)

	var got model.Reply
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "one@example.com", got.MessageID)
	assert.Equal(t, "jane@example.com", got.From)
	assert.Equal(t, "Sounds good.\n", got.Visible)
	assert.Empty(t, got.Fragments)
}

func TestParseCmd_CustomPatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signatures:\n  - '^Thanks, Team$'\n"), 0o600))

	out, err := execute(t, []string{"--patterns", path}, "Done.\nThanks, Team\nMore footer\n")
	require.NoError(t, err)
	assert.Equal(t, "Done.\n", out)
}

func TestParseCmd_InvalidShow(t *testing.T) {
	_, err := execute(t, []string{"--show", "everything"}, body)
	require.Error(t, err)
}

func TestPatternsCmd(t *testing.T) {
	cmd := newPatternsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	lib := patterns.Default()
	assert.Contains(t, out.String(), "quote-header (")
	assert.Contains(t, out.String(), "signature (")
	assert.Contains(t, out.String(), lib.Expressions(patterns.Signature)[0])
}

func TestPatternsCmd_YAMLRoundTrip(t *testing.T) {
	cmd := newPatternsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--yaml"})
	require.NoError(t, cmd.Execute())

	lib := patterns.New()
	require.NoError(t, patterns.Load(lib, &out))
	def := patterns.Default()
	assert.Equal(t, def.Expressions(patterns.QuoteHeader), lib.Expressions(patterns.QuoteHeader))
	assert.Equal(t, def.Expressions(patterns.Signature), lib.Expressions(patterns.Signature))
}

func TestReplyStats_Add(t *testing.T) {
	f, err := filter.New(filter.Options{ExcludeHeader: []string{"List-Id:"}})
	require.NoError(t, err)
	parser := reply.NewParser(patterns.Default())
	s := newReplyStats()

	msgs := []string{
		"From: jane@example.com\nSubject: Re: plan\n\n" + body,
		"From: bob@example.com\nSubject: Re: plan\n\nThanks!\n\n--\nBob\n",
		"From: list@example.com\nList-Id: dev\n\nDigest\n",
		"From: html@example.com\nContent-Type: text/html\n\n<p>x</p>\n",
	}
	for _, raw := range msgs {
		msg, err := message.Parse([]byte(raw))
		require.NoError(t, err)
		_, err = s.add(msg, parser, f)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, s.Messages)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.NoText)
	assert.Equal(t, 1, s.WithQuote)
	assert.Equal(t, 1, s.WithSignature)
	assert.Equal(t, 2, s.counter[reportSubject]["Re: plan"])
	assert.Equal(t, 1, s.counter[reportSignature]["--"])
	assert.Equal(t, 1, s.counter[reportQuoteHeader]["On Sun, Jan 5, 2020 at 8:00 AM Bob <bob@example.com> wrote:"])
}

func TestSaveCSVReports(t *testing.T) {
	dir := t.TempDir()
	counter := map[string]map[string]int{
		"From":         {"a@example.com": 1, "b@example.com": 3},
		"Quote-Header": {},
	}

	require.NoError(t, saveCSVReports(counter, []string{"From", "Quote-Header"}, dir, 10))

	data, err := os.ReadFile(filepath.Join(dir, "report_from.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Value,Count\nb@example.com,3\na@example.com,1\n", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "report_quote_header.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Value,Count\n", string(data))
}

func TestMboxStatsCmd(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"mbox-stats", "../mbox/test_data/sample.mbox", "-o", dir, "-t", "3"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "Processed 4 messages")
	for _, name := range []string{"report_from.csv", "report_subject.csv", "report_signature.csv", "report_quote_header.csv", "report_summary.csv"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

func TestNormalizeHeaderName(t *testing.T) {
	assert.Equal(t, "quote_header", normalizeHeaderName("Quote-Header"))
	assert.Equal(t, "delivered_to", normalizeHeaderName("Delivered To"))
}
