// Package message reads the parts of an RFC 5322 message the reply parser
// needs: a few identifying headers and the text/plain body.
package message

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"

	"github.com/dhcgn/mbox-reply-parser/model"
)

// ErrNoTextBody is returned when a message has no text/plain part.
var ErrNoTextBody = errors.New("message has no text/plain body")

// Parse extracts the identifying headers of raw. A message without a
// Message-Id gets an ID derived from its content hash.
func Parse(raw []byte) (model.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return model.Message{}, fmt.Errorf("read header: %w", err)
	}
	defer mr.Close()

	sum := sha256.Sum256(raw)
	hash := base64.StdEncoding.EncodeToString(sum[:])

	header := mr.Header
	id, _ := header.MessageID()
	id = strings.Trim(strings.TrimSpace(id), "<>")
	if id == "" {
		id = "hash:" + hash[:16]
	}

	msg := model.Message{
		ID:   id,
		Hash: hash,
		Size: int64(len(raw)),
		Raw:  raw,
	}

	if date, err := header.Date(); err == nil {
		msg.ReceivedAt = date
	}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	}
	if addrs, err := header.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.From = addrs[0].Address
	} else {
		msg.From = strings.TrimSpace(header.Get("From"))
	}

	return msg, nil
}

// BodyText returns the first inline text/plain part of raw, decoded to UTF-8.
// Bodies in an unknown or undeclared 8-bit charset are read as Windows-1252.
func BodyText(raw []byte) (string, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return "", fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && (part == nil || !gomessage.IsUnknownCharset(err)) {
			return "", fmt.Errorf("read part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return "", fmt.Errorf("read text part: %w", err)
		}
		return decode(body)
	}

	return "", ErrNoTextBody
}

func decode(body []byte) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}
	text, err := charmap.Windows1252.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	return string(text), nil
}
