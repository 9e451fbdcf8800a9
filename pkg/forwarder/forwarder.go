// Package forwarder implements the single Forwarder operation of
// spec.md §4.8: republish one source message into (destChat, topic),
// recording a Forward Audit Entry on success.
package forwarder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/tgvideosorter/pkg/auditlog"
	"github.com/sipeed/tgvideosorter/pkg/logger"
	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
	"github.com/sipeed/tgvideosorter/pkg/tgapi"
)

// Candidate carries the fields a successful forward records to the audit
// log (spec.md §3 Forward Audit Entry).
type Candidate struct {
	FileName       string
	NormalizedName string
	DurationSec    *int
	SizeMB         *float64
}

// Forwarder republishes source messages via a tgapi.Client, wrapped by a
// ratelimit.Driver, and appends audit entries on success.
type Forwarder struct {
	client tgapi.Client
	driver *ratelimit.Driver
	audit  *auditlog.Log
}

// New constructs a Forwarder.
func New(client tgapi.Client, driver *ratelimit.Driver, audit *auditlog.Log) *Forwarder {
	return &Forwarder{client: client, driver: driver, audit: audit}
}

// Forward republishes sourceMsgID from sourceChat into (destChat, topicMsgID)
// under topicName, returning true on success (spec.md §4.8). On Driver
// budget exhaustion it returns false; it never writes the Store itself —
// the caller pre-registers the video before calling Forward. When dryRun
// is set, the forward RPC is skipped entirely (spec.md §6: "all
// destructive RPCs ... are skipped") and no audit entry is written.
func (f *Forwarder) Forward(ctx context.Context, sourceChat int64, sourceMsgID int, destChat int64, topicMsgID int, topicName string, dryRun bool, c Candidate) bool {
	if dryRun {
		logger.InfoCF("forwarder", "dry run: skipping forward", map[string]any{
			"source_chat_id": sourceChat,
			"source_msg_id":  sourceMsgID,
			"dest_chat_id":   destChat,
			"topic_name":     topicName,
		})
		return true
	}

	nonce := uuid.NewString()

	err := f.driver.Do(ctx, sourceChat, func(ctx context.Context) error {
		return tgapi.Classify(f.client.ForwardMessages(ctx, sourceChat, []int{sourceMsgID}, destChat, topicMsgID, nonce))
	})
	if err != nil {
		logger.WarnCF("forwarder", "forward failed, budget exhausted", map[string]any{
			"source_chat_id": sourceChat,
			"source_msg_id":  sourceMsgID,
			"topic_name":     topicName,
			"error":          err.Error(),
		})
		return false
	}

	entry := auditlog.Entry{
		SourceChatID:   sourceChat,
		SourceMsgID:    sourceMsgID,
		DestChatID:     destChat,
		TopicName:      topicName,
		FileName:       c.FileName,
		NormalizedName: c.NormalizedName,
		DurationSec:    c.DurationSec,
		SizeMB:         c.SizeMB,
		Nonce:          nonce,
		ForwardedAt:    time.Now().UTC(),
	}
	if err := f.audit.Append(entry); err != nil {
		logger.WarnCF("forwarder", "failed to append audit entry", map[string]any{
			"source_chat_id": sourceChat,
			"source_msg_id":  sourceMsgID,
			"error":          err.Error(),
		})
	}

	return true
}
