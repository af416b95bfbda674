// Package output encodes extracted replies and hosts the sink stage.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/dhcgn/mbox-reply-parser/config"
	"github.com/dhcgn/mbox-reply-parser/model"
)

// Encoder writes replies one at a time.
type Encoder interface {
	Encode(r model.Reply) error
}

// NewEncoder returns the encoder for format writing to w.
func NewEncoder(format string, w io.Writer) (Encoder, error) {
	switch format {
	case config.FormatJSONL, "json":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return &jsonlEncoder{enc: enc}, nil
	case config.FormatYAML:
		return &yamlEncoder{w: w}, nil
	case config.FormatText:
		return &textEncoder{w: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

type jsonlEncoder struct {
	enc *json.Encoder
}

func (e *jsonlEncoder) Encode(r model.Reply) error {
	if err := e.enc.Encode(r); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// yamlEncoder writes a multi-document stream, one document per reply.
type yamlEncoder struct {
	w     io.Writer
	count int
}

func (e *yamlEncoder) Encode(r model.Reply) error {
	data, err := yaml.MarshalWithOptions(r, yaml.UseLiteralStyleIfMultiline(true))
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if e.count > 0 {
		if _, err := io.WriteString(e.w, "---\n"); err != nil {
			return err
		}
	}
	e.count++
	_, err = e.w.Write(data)
	return err
}

type textEncoder struct {
	w io.Writer
}

func (e *textEncoder) Encode(r model.Reply) error {
	var b strings.Builder

	fmt.Fprintf(&b, "=== %s\n", r.MessageID)
	if r.From != "" {
		fmt.Fprintf(&b, "From:    %s\n", r.From)
	}
	if r.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", r.Subject)
	}
	if !r.Date.IsZero() {
		fmt.Fprintf(&b, "Date:    %s\n", r.Date.Format("2006-01-02 15:04:05 -0700"))
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(r.Visible, "\n"))
	b.WriteString("\n")

	for i, f := range r.Fragments {
		fmt.Fprintf(&b, "--- fragment %d%s\n", i+1, fragmentFlags(f))
		b.WriteString(strings.TrimRight(f.Content, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	_, err := io.WriteString(e.w, b.String())
	return err
}

func fragmentFlags(f model.Fragment) string {
	var flags []string
	if f.Quoted {
		flags = append(flags, "quoted")
	}
	if f.Signature {
		flags = append(flags, "signature")
	}
	if f.Hidden {
		flags = append(flags, "hidden")
	}
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, ",") + "]"
}

// Open returns a buffered writer for path, or stdout when path is "-".
// The returned close function flushes and, for files, closes.
func Open(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		w := bufio.NewWriter(os.Stdout)
		return w, w.Flush, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	w := bufio.NewWriterSize(file, 64*1024)
	closeFn := func() error {
		if err := w.Flush(); err != nil {
			_ = file.Close()
			return fmt.Errorf("flush output file: %w", err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("close output file: %w", err)
		}
		return nil
	}
	return w, closeFn, nil
}
