package patterns

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// File is the on-disk form of a pattern extension file:
//
//	quote_headers:
//	  - '(?m)^(Le .+ a écrit :)$'
//	signatures:
//	  - '^Envoyé de mon .+$'
type File struct {
	QuoteHeaders []string `yaml:"quote_headers"`
	Signatures   []string `yaml:"signatures"`
}

// LoadFile reads a YAML pattern file and registers its patterns in lib.
func LoadFile(lib *Library, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pattern file: %w", err)
	}
	defer f.Close()

	if err := Load(lib, f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Load decodes a YAML pattern document from r and registers its patterns in lib.
// Registration stops at the first pattern that fails to compile.
func Load(lib *Library, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read pattern file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode pattern file: %w", err)
	}

	for _, expr := range file.QuoteHeaders {
		if err := lib.AddQuoteHeader(expr); err != nil {
			return err
		}
	}
	for _, expr := range file.Signatures {
		if err := lib.AddSignature(expr); err != nil {
			return err
		}
	}
	return nil
}
