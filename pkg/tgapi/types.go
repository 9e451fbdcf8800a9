// Package tgapi defines the narrow upstream chat-protocol interface
// consumed by the ingestion core (spec.md §6, §9): the six RPCs the
// Scanner, Sweeper, and provisioning helpers need, abstracted behind one
// interface so callers are testable with an in-memory fake.
package tgapi

import "time"

// ChatKind classifies an accessible chat (spec.md §6 listAccessibleChats).
type ChatKind string

const (
	ChatKindGroup   ChatKind = "group"
	ChatKindChannel ChatKind = "channel"
	ChatKindOther   ChatKind = "other"
)

// Chat is one entry returned by ListAccessibleChats.
type Chat struct {
	ID    int64
	Title string
	Kind  ChatKind
}

// Document carries the fields the predicate and metadata checks need
// from a message's document attachment.
type Document struct {
	FileName string
	MimeType string
	SizeMB   float64
}

// VideoAttributes carries the fields present when a message is flagged
// as video or carries a video attribute (spec.md §4.2).
type VideoAttributes struct {
	DurationSec *int
	Width       *int
	Height      *int
}

// Message is the lifted representation of one upstream message: the sum
// type spec.md §9 asks implementers to recover from string-tag
// inspection. IsVideo/Document/Video together describe the Media variant.
type Message struct {
	ChatID      int64
	MessageID   int
	Caption     string
	Date        time.Time
	TopMsgID    int // reply-to-top field; 0 means the general topic.
	HasDocument bool
	Document    *Document
	IsVideo     bool
	Video       *VideoAttributes
}
