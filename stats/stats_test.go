package stats

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Apply(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")

	c.Apply(Event{Type: EventTypeScanned})
	c.Apply(Event{Type: EventTypeScanned})
	c.Apply(Event{Type: EventTypeDuplicate})
	c.Apply(Event{Type: EventTypeParsed, Fragments: 3, Quoted: true, Signature: true})
	c.Apply(Event{Type: EventTypeParsed, Fragments: 1})
	c.Apply(Event{Type: EventTypeFiltered})
	c.Apply(Event{Type: EventTypeWritten})
	c.Apply(Event{Type: EventTypeError, Err: boom})

	s := c.Snapshot()
	assert.Equal(t, 2, s.Scanned)
	assert.Equal(t, 1, s.Duplicates)
	assert.Equal(t, 2, s.Parsed)
	assert.Equal(t, 4, s.Fragments)
	assert.Equal(t, 1, s.WithQuote)
	assert.Equal(t, 1, s.WithSignature)
	assert.Equal(t, 1, s.Filtered)
	assert.Equal(t, 1, s.Written)
	assert.Equal(t, 1, s.Errors)
	assert.ErrorIs(t, s.LastError, boom)
}

func TestCollector_RunStopsOnClose(t *testing.T) {
	c := NewCollector()
	events := make(chan Event, 2)
	events <- Event{Type: EventTypeScanned}
	events <- Event{Type: EventTypeWritten}
	close(events)

	c.Run(context.Background(), events)

	s := c.Snapshot()
	assert.Equal(t, 1, s.Scanned)
	assert.Equal(t, 1, s.Written)
}

type fakeStream struct {
	fn func(context.Context, <-chan Event) error
}

func (f *fakeStream) SubscribeStats(_ string, fn func(context.Context, <-chan Event) error) {
	f.fn = fn
}

func TestReporter_Summary(t *testing.T) {
	stream := &fakeStream{}
	r := NewReporter(stream, nil)
	require.NotNil(t, stream.fn)

	events := make(chan Event, 1)
	events <- Event{Type: EventTypeParsed, Fragments: 2}
	close(events)

	require.NoError(t, stream.fn(context.Background(), events))
	assert.Equal(t, 1, r.Summary().Parsed)
	assert.Equal(t, 2, r.Summary().Fragments)
}

func TestTop(t *testing.T) {
	m := map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}

	got := Top(m, 3)
	assert.Equal(t, []Pair{{"c", 5}, {"a", 2}, {"b", 2}}, got)
	assert.Len(t, Top(m, -1), 4)
}

func TestPrettyPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrintTop(&buf, map[string]int{"x@example.com": 3, "y@example.com": 1}, 1)

	assert.Equal(t, "1. x@example.com (3)\n", buf.String())
}
