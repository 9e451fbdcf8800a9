// Package faketgapi provides an in-memory tgapi.Client for exercising
// pkg/scanner and pkg/sweeper without a live bot account.
package faketgapi

import (
	"context"
	"sync"

	"github.com/sipeed/tgvideosorter/pkg/tgapi"
)

// Fake is a deterministic, in-memory tgapi.Client. Messages are seeded via
// SeedHistory/SeedReplies; forwards and deletes mutate the in-memory
// state so assertions can inspect the result afterward.
type Fake struct {
	mu sync.Mutex

	history map[int64][]tgapi.Message      // chatID -> messages, oldest first
	replies map[replyKey][]tgapi.Message   // (chatID, topicID) -> messages, oldest first
	chats   []tgapi.Chat

	Forwards []ForwardCall
	Deletes  []DeleteCall

	nextTopicID int
	nextChatID  int64

	// FailNext, if set, is returned (and cleared) by the next RPC call,
	// letting tests exercise the Driver's retry/flood-wait branches.
	FailNext error
}

type replyKey struct {
	chatID  int64
	topicID int
}

// ForwardCall records one ForwardMessages invocation.
type ForwardCall struct {
	FromChat int64
	MsgIDs   []int
	ToChat   int64
	TopMsgID int
	Nonce    string
}

// DeleteCall records one DeleteMessages invocation.
type DeleteCall struct {
	ChatID int64
	MsgIDs []int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		history:     make(map[int64][]tgapi.Message),
		replies:     make(map[replyKey][]tgapi.Message),
		nextTopicID: 1,
		nextChatID:  1000,
	}
}

// SeedHistory appends messages to a source chat's history, oldest first
// (newest last, matching how GetHistoryPage walks backward from offset 0).
func (f *Fake) SeedHistory(chatID int64, msgs ...tgapi.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[chatID] = append(f.history[chatID], msgs...)
}

// SeedReplies appends messages under a destination topic.
func (f *Fake) SeedReplies(chatID int64, topicID int, msgs ...tgapi.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := replyKey{chatID, topicID}
	f.replies[key] = append(f.replies[key], msgs...)
}

// SeedChats sets the result of ListAccessibleChats.
func (f *Fake) SeedChats(chats ...tgapi.Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chats...)
}

func (f *Fake) takeFailure() error {
	if f.FailNext == nil {
		return nil
	}
	err := f.FailNext
	f.FailNext = nil
	return err
}

func (f *Fake) ListAccessibleChats(ctx context.Context, max int) ([]tgapi.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	if max > 0 && max < len(f.chats) {
		return append([]tgapi.Chat(nil), f.chats[:max]...), nil
	}
	return append([]tgapi.Chat(nil), f.chats...), nil
}

// GetHistoryPage paginates backward from offsetID (exclusive), oldest
// messages last within the page, matching the Scanner's cursor-advance
// expectations (spec.md §4.7).
func (f *Fake) GetHistoryPage(ctx context.Context, chatID int64, offsetID, limit int) ([]tgapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	all := f.history[chatID]
	var eligible []tgapi.Message
	for _, m := range all {
		if offsetID == 0 || m.MessageID < offsetID {
			eligible = append(eligible, m)
		}
	}

	// Eligible is oldest-first; a real backward walk returns newest-first
	// within the page. Reverse then take the newest `limit`.
	reversed := make([]tgapi.Message, len(eligible))
	for i, m := range eligible {
		reversed[len(eligible)-1-i] = m
	}
	if limit > 0 && limit < len(reversed) {
		reversed = reversed[:limit]
	}
	return reversed, nil
}

func (f *Fake) GetRepliesPage(ctx context.Context, chatID int64, topicID int, offsetID, limit int) ([]tgapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	all := f.replies[replyKey{chatID, topicID}]
	var eligible []tgapi.Message
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

func (f *Fake) ForwardMessages(ctx context.Context, fromChat int64, msgIDs []int, toChat int64, topMsgID int, nonce string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}

	f.Forwards = append(f.Forwards, ForwardCall{
		FromChat: fromChat,
		MsgIDs:   append([]int(nil), msgIDs...),
		ToChat:   toChat,
		TopMsgID: topMsgID,
		Nonce:    nonce,
	})

	key := replyKey{toChat, topMsgID}
	for _, src := range msgIDs {
		var srcMsg *tgapi.Message
		for i := range f.history[fromChat] {
			if f.history[fromChat][i].MessageID == src {
				srcMsg = &f.history[fromChat][i]
				break
			}
		}
		if srcMsg == nil {
			continue
		}
		forwarded := *srcMsg
		forwarded.ChatID = toChat
		forwarded.TopMsgID = topMsgID
		forwarded.MessageID = f.allocMessageID()
		f.replies[key] = append(f.replies[key], forwarded)
	}
	return nil
}

func (f *Fake) DeleteMessages(ctx context.Context, chatID int64, msgIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}

	f.Deletes = append(f.Deletes, DeleteCall{ChatID: chatID, MsgIDs: append([]int(nil), msgIDs...)})

	toDelete := make(map[int]bool, len(msgIDs))
	for _, id := range msgIDs {
		toDelete[id] = true
	}
	if msgs, ok := f.history[chatID]; ok {
		var kept []tgapi.Message
		for _, m := range msgs {
			if !toDelete[m.MessageID] {
				kept = append(kept, m)
			}
		}
		f.history[chatID] = kept
	}
	for key, msgs := range f.replies {
		if key.chatID != chatID {
			continue
		}
		var kept []tgapi.Message
		for _, m := range msgs {
			if !toDelete[m.MessageID] {
				kept = append(kept, m)
			}
		}
		f.replies[key] = kept
	}
	return nil
}

func (f *Fake) ProvisionForumGroup(ctx context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return 0, err
	}
	for _, c := range f.chats {
		if c.Title == name {
			return c.ID, nil
		}
	}
	id := f.nextChatID
	f.nextChatID++
	f.chats = append(f.chats, tgapi.Chat{ID: id, Title: name, Kind: tgapi.ChatKindGroup})
	return id, nil
}

func (f *Fake) ProvisionTopic(ctx context.Context, chatID int64, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return 0, err
	}
	id := f.nextTopicID
	f.nextTopicID++
	return id, nil
}

func (f *Fake) allocMessageID() int {
	f.nextChatID++ // reuse the counter space; value itself is irrelevant, only uniqueness matters.
	return int(f.nextChatID)
}
