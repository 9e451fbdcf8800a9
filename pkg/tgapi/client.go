package tgapi

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
)

// Client is the upstream chat-protocol surface (spec.md §6). Every call
// is expected to be wrapped by a ratelimit.Driver by its caller; Client
// implementations only need to classify errors correctly (ProtocolError /
// plain error) so the Driver can branch per spec.md §4.5.
type Client interface {
	ListAccessibleChats(ctx context.Context, max int) ([]Chat, error)
	GetHistoryPage(ctx context.Context, chatID int64, offsetID, limit int) ([]Message, error)
	GetRepliesPage(ctx context.Context, chatID int64, topicID int, offsetID, limit int) ([]Message, error)
	ForwardMessages(ctx context.Context, fromChat int64, msgIDs []int, toChat int64, topMsgID int, nonce string) error
	DeleteMessages(ctx context.Context, chatID int64, msgIDs []int) error
	ProvisionForumGroup(ctx context.Context, name string) (int64, error)
	ProvisionTopic(ctx context.Context, chatID int64, name string) (int, error)
}

// ProtocolError is the raw error shape recognized by the Driver (spec.md
// §6): "errorMessage" or numeric "code", with an optional flood-wait
// seconds hint.
type ProtocolError struct {
	ErrorMessage string
	Code         int
	Seconds      int
}

func (e *ProtocolError) Error() string {
	if e.ErrorMessage != "" {
		return fmt.Sprintf("protocol error: %s (code=%d)", e.ErrorMessage, e.Code)
	}
	return fmt.Sprintf("protocol error: code=%d", e.Code)
}

// IsFlood reports whether err is recognized as a flood-wait signal
// (spec.md §6: errorMessage == "FLOOD_WAIT" or code == 420, with a
// seconds hint).
func (e *ProtocolError) IsFlood() bool {
	return (e.ErrorMessage == "FLOOD_WAIT" || e.Code == 420) && e.Seconds > 0
}

// Classify converts a raw error from a Client implementation into the
// taxonomy the ratelimit.Driver understands (spec.md §4.5, §7).
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var perr *ProtocolError
	if errors.As(err, &perr) {
		if perr.IsFlood() {
			return &ratelimit.ErrFlood{Seconds: perr.Seconds}
		}
		if perr.Code == 420 {
			return &ratelimit.ErrTransient{Cause: err}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ratelimit.ErrTransient{Cause: err}
	}

	return err
}
