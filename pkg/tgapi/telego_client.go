package tgapi

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
)

// historyBufferCap and repliesBufferCap bound the in-memory window each
// chat/topic keeps from the update stream; once full, the oldest entry is
// dropped to make room for the newest (spec.md §6: the history/replies
// walk only needs to see what's recent enough to still be a forward
// candidate).
const (
	historyBufferCap = 5000
	repliesBufferCap = 5000
)

type repliesKey struct {
	chatID  int64
	topicID int
}

// TelegoClient implements Client against the real Telegram Bot API via
// mymmrac/telego. Session/credential bootstrap (picking the bot token,
// constructing telego.Bot) happens in cmd/sorter/main.go per spec.md §1;
// this type wraps the RPC surface.
//
// The Bot API has no arbitrary history-walk or list-all-chats RPC (those
// are MTProto/userbot capabilities); a bot only learns about a chat, and
// the messages in it, as they're pushed through GetUpdates. Listen runs
// that long poll continuously and records every observed message into
// bounded per-chat/per-topic buffers, so GetHistoryPage, GetRepliesPage,
// and ListAccessibleChats can serve real, if bot-lifetime-scoped, data
// instead of refusing outright.
type TelegoClient struct {
	bot *telego.Bot

	mu      sync.Mutex
	history map[int64][]Message
	replies map[repliesKey][]Message
	chats   map[int64]Chat

	offset int
}

// NewTelegoClient wraps an already-constructed telego.Bot. Call Listen
// before relying on GetHistoryPage, GetRepliesPage, or
// ListAccessibleChats; until the first updates arrive those calls return
// nothing, not an error.
func NewTelegoClient(bot *telego.Bot) *TelegoClient {
	return &TelegoClient{
		bot:     bot,
		history: make(map[int64][]Message),
		replies: make(map[repliesKey][]Message),
		chats:   make(map[int64]Chat),
	}
}

// Listen starts a background long poll against GetUpdates, feeding every
// observed message into the client's buffers, until ctx is cancelled.
// Only one Listen loop may run per client: GetUpdates permanently
// discards updates below the acknowledged offset on Telegram's servers,
// so two independent pollers would race and silently drop messages
// between them.
func (c *TelegoClient) Listen(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			updates, err := c.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
				Offset:  c.offset,
				Timeout: 30,
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, u := range updates {
				if u.UpdateID >= c.offset {
					c.offset = u.UpdateID + 1
				}
				c.record(u)
			}
		}
	}()
	return nil
}

func (c *TelegoClient) record(u telego.Update) {
	if u.Message == nil {
		return
	}
	m := u.Message
	lifted := liftMessage(m)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.chats[m.Chat.ID] = Chat{ID: m.Chat.ID, Title: chatTitle(m.Chat), Kind: chatKindOf(m.Chat)}
	c.history[m.Chat.ID] = appendCapped(c.history[m.Chat.ID], lifted, historyBufferCap)

	if topID := topMsgID(m); topID != 0 {
		key := repliesKey{chatID: m.Chat.ID, topicID: topID}
		c.replies[key] = appendCapped(c.replies[key], lifted, repliesBufferCap)
	}
}

func appendCapped(buf []Message, m Message, cap int) []Message {
	buf = append(buf, m)
	if len(buf) > cap {
		buf = buf[len(buf)-cap:]
	}
	return buf
}

func chatTitle(chat telego.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	return chat.Username
}

func chatKindOf(chat telego.Chat) ChatKind {
	switch chat.Type {
	case telego.ChatTypeGroup, telego.ChatTypeSupergroup:
		return ChatKindGroup
	case telego.ChatTypeChannel:
		return ChatKindChannel
	default:
		return ChatKindOther
	}
}

func (c *TelegoClient) ListAccessibleChats(ctx context.Context, max int) ([]Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Chat, 0, len(c.chats))
	for _, chat := range c.chats {
		out = append(out, chat)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

// GetHistoryPage walks the buffered history for chatID backward from
// offsetID (exclusive), newest-first within the page, mirroring
// faketgapi.Fake's semantics so tests exercised against the fake
// transfer directly to this client's real behavior.
func (c *TelegoClient) GetHistoryPage(ctx context.Context, chatID int64, offsetID, limit int) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.history[chatID]
	var eligible []Message
	for _, m := range all {
		if offsetID == 0 || m.MessageID < offsetID {
			eligible = append(eligible, m)
		}
	}

	reversed := make([]Message, len(eligible))
	for i, m := range eligible {
		reversed[len(eligible)-1-i] = m
	}
	if limit > 0 && limit < len(reversed) {
		reversed = reversed[:limit]
	}
	return reversed, nil
}

// GetRepliesPage walks the buffered topic replies forward from offsetID
// (exclusive), oldest-first, mirroring faketgapi.Fake.
func (c *TelegoClient) GetRepliesPage(ctx context.Context, chatID int64, topicID int, offsetID, limit int) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.replies[repliesKey{chatID: chatID, topicID: topicID}]
	var eligible []Message
	for _, m := range all {
		if offsetID == 0 || m.MessageID > offsetID {
			eligible = append(eligible, m)
		}
	}
	if limit > 0 && limit < len(eligible) {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (c *TelegoClient) ForwardMessages(ctx context.Context, fromChat int64, msgIDs []int, toChat int64, topMsgID int, nonce string) error {
	if nonce == "" {
		nonce = uuid.NewString()
	}
	for _, msgID := range msgIDs {
		params := &telego.ForwardMessageParams{
			ChatID:     telego.ChatID{ID: toChat},
			FromChatID: telego.ChatID{ID: fromChat},
			MessageID:  msgID,
		}
		if topMsgID != 0 {
			params.MessageThreadID = topMsgID
		}
		if _, err := c.bot.ForwardMessage(ctx, params); err != nil {
			return classifyTelegoErr(err)
		}
	}
	return nil
}

func (c *TelegoClient) DeleteMessages(ctx context.Context, chatID int64, msgIDs []int) error {
	if err := c.bot.DeleteMessages(ctx, &telego.DeleteMessagesParams{
		ChatID:     telego.ChatID{ID: chatID},
		MessageIDs: msgIDs,
	}); err != nil {
		return classifyTelegoErr(err)
	}
	return nil
}

func (c *TelegoClient) ProvisionForumGroup(ctx context.Context, name string) (int64, error) {
	// Provisioning is an out-of-scope collaborator (spec.md §1): the
	// contract is "returns the id map the core consumes". A bot account
	// cannot create a brand-new supergroup via the Bot API; operators
	// are expected to have already created the forum group and added
	// the bot as admin, so this resolves the configured destination by
	// looking up the public username "@<name>" instead of creating one.
	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telego.ChatID{Username: "@" + name}})
	if err != nil {
		return 0, classifyTelegoErr(err)
	}
	return chat.ID, nil
}

func (c *TelegoClient) ProvisionTopic(ctx context.Context, chatID int64, name string) (int, error) {
	topic, err := c.bot.CreateForumTopic(ctx, &telego.CreateForumTopicParams{
		ChatID: telego.ChatID{ID: chatID},
		Name:   name,
	})
	if err != nil {
		return 0, classifyTelegoErr(err)
	}
	return topic.MessageThreadID, nil
}

func topMsgID(m *telego.Message) int {
	if m.MessageThreadID != 0 {
		return m.MessageThreadID
	}
	return 0
}

func liftMessage(m *telego.Message) Message {
	msg := Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Caption:   m.Caption,
		TopMsgID:  topMsgID(m),
	}

	if m.Document != nil {
		msg.HasDocument = true
		msg.Document = &Document{
			FileName: m.Document.FileName,
			MimeType: m.Document.MimeType,
			SizeMB:   float64(m.Document.FileSize) / (1024 * 1024),
		}
	}

	if m.Video != nil {
		msg.IsVideo = true
		msg.HasDocument = true
		duration := m.Video.Duration
		width := m.Video.Width
		height := m.Video.Height
		msg.Video = &VideoAttributes{
			DurationSec: &duration,
			Width:       &width,
			Height:      &height,
		}
		if msg.Document == nil {
			msg.Document = &Document{
				FileName: m.Video.FileName,
				MimeType: m.Video.MimeType,
				SizeMB:   float64(m.Video.FileSize) / (1024 * 1024),
			}
		}
	}

	return msg
}

// classifyTelegoErr converts a telego API error into the ProtocolError
// shape the Driver classifies (spec.md §6).
func classifyTelegoErr(err error) error {
	var apiErr *telego.Error
	if ok := asTelegoError(err, &apiErr); ok {
		return &ProtocolError{
			ErrorMessage: apiErr.Description,
			Code:         apiErr.ErrorCode,
			Seconds:      retryAfterSeconds(apiErr),
		}
	}
	return err
}

func asTelegoError(err error, target **telego.Error) bool {
	apiErr, ok := err.(*telego.Error)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}

func retryAfterSeconds(apiErr *telego.Error) int {
	if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter != 0 {
		return apiErr.Parameters.RetryAfter
	}
	return 0
}
