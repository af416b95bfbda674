package model

import "time"

// Message represents a single email message read from an mbox archive or an IMAP folder.
type Message struct {
	ID         string
	Hash       string
	From       string
	Subject    string
	ReceivedAt time.Time
	Size       int64
	Raw        []byte
}

// Envelope wraps a message alongside an optional error encountered while decoding.
type Envelope struct {
	Message Message
	Err     error
}

// Reply is the extracted reply of one message, as written by the output sink.
type Reply struct {
	MessageID string     `json:"message_id" yaml:"message_id"`
	Hash      string     `json:"hash" yaml:"hash"`
	From      string     `json:"from,omitempty" yaml:"from,omitempty"`
	Subject   string     `json:"subject,omitempty" yaml:"subject,omitempty"`
	Date      time.Time  `json:"date,omitzero" yaml:"date,omitempty"`
	Visible   string     `json:"visible" yaml:"visible"`
	Quoted    string     `json:"quoted,omitempty" yaml:"quoted,omitempty"`
	Fragments []Fragment `json:"fragments,omitempty" yaml:"fragments,omitempty"`
}

// Fragment is the serialized form of one parsed fragment.
type Fragment struct {
	Content   string `json:"content" yaml:"content"`
	Quoted    bool   `json:"quoted" yaml:"quoted"`
	Signature bool   `json:"signature" yaml:"signature"`
	Hidden    bool   `json:"hidden" yaml:"hidden"`
}
