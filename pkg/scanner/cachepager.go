package scanner

import (
	"context"
	"strings"

	"github.com/sipeed/tgvideosorter/pkg/normalize"
	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
	"github.com/sipeed/tgvideosorter/pkg/tgapi"
	"github.com/sipeed/tgvideosorter/pkg/topiccache"
)

// CachePager adapts a tgapi.Client into the topiccache.RepliesPager
// interface, computing each cached message's normalized name up front so
// the cache never has to re-derive it on lookup. The underlying RPC is
// wrapped by driver like every other upstream call (spec.md §2, §4.5) —
// the Topic Cache's loader is not exempt from retry/backoff/breaker
// coverage just because it's read-only.
type CachePager struct {
	Client             tgapi.Client
	Driver             *ratelimit.Driver
	NormalizeFilenames bool
}

// NewCachePager constructs a topiccache.RepliesPager backed by client,
// routing its RPC through driver.
func NewCachePager(client tgapi.Client, driver *ratelimit.Driver, normalizeFilenames bool) *CachePager {
	return &CachePager{Client: client, Driver: driver, NormalizeFilenames: normalizeFilenames}
}

func (p *CachePager) GetRepliesPage(ctx context.Context, chatID int64, topicID int, offsetID, limit int) ([]topiccache.MessageRecord, error) {
	var msgs []tgapi.Message
	err := p.Driver.Do(ctx, chatID, func(ctx context.Context) error {
		m, err := p.Client.GetRepliesPage(ctx, chatID, topicID, offsetID, limit)
		if err != nil {
			return tgapi.Classify(err)
		}
		msgs = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]topiccache.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		if m.Document == nil {
			continue
		}
		out = append(out, topiccache.MessageRecord{
			MessageID:      m.MessageID,
			FileName:       m.Document.FileName,
			FileNameLower:  strings.ToLower(m.Document.FileName),
			NormalizedName: normalize.Normalize(m.Document.FileName, p.NormalizeFilenames),
		})
	}
	return out, nil
}
