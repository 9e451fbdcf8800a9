// Package provision implements the thin destination-provisioning
// orchestration carved out of scope by spec.md §1: it resolves (and
// caches) the forum group and per-keyword topic IDs the ingestion core
// needs, but owns no dedup or retry invariants of its own.
package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sipeed/tgvideosorter/pkg/logger"
	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
	"github.com/sipeed/tgvideosorter/pkg/tgapi"
)

// DestinationMap is the cached result of provisioning: the destination
// chat ID and the topic thread ID for every configured keyword.
type DestinationMap struct {
	ChatID   int64          `json:"chatId"`
	TopicIDs map[string]int `json:"topicIds"`
}

// ProvisionDestination resolves the forum group named groupName and one
// topic per keyword, persisting the result to cachePath so repeated runs
// skip re-provisioning already-known topics (spec.md §6 forum-group-cache.json).
func ProvisionDestination(ctx context.Context, client tgapi.Client, driver *ratelimit.Driver, groupName string, keywords []string, cachePath string) (DestinationMap, error) {
	cached, ok := loadCache(cachePath)
	if !ok {
		cached = DestinationMap{TopicIDs: make(map[string]int)}
	}
	if cached.TopicIDs == nil {
		cached.TopicIDs = make(map[string]int)
	}

	if cached.ChatID == 0 {
		var chatID int64
		err := driver.Do(ctx, 0, func(ctx context.Context) error {
			id, err := client.ProvisionForumGroup(ctx, groupName)
			if err != nil {
				return tgapi.Classify(err)
			}
			chatID = id
			return nil
		})
		if err != nil {
			return DestinationMap{}, fmt.Errorf("provision: forum group %q: %w", groupName, err)
		}
		cached.ChatID = chatID
	}

	changed := cached.ChatID != 0
	for _, k := range keywords {
		if _, ok := cached.TopicIDs[k]; ok {
			continue
		}
		var topicID int
		err := driver.Do(ctx, 0, func(ctx context.Context) error {
			id, err := client.ProvisionTopic(ctx, cached.ChatID, k)
			if err != nil {
				return tgapi.Classify(err)
			}
			topicID = id
			return nil
		})
		if err != nil {
			return DestinationMap{}, fmt.Errorf("provision: topic %q: %w", k, err)
		}
		cached.TopicIDs[k] = topicID
		changed = true
	}

	if changed {
		if err := saveCache(cachePath, cached); err != nil {
			logger.WarnCF("provision", "failed to persist forum group cache", map[string]any{
				"path":  cachePath,
				"error": err.Error(),
			})
		}
	}

	return cached, nil
}

func loadCache(path string) (DestinationMap, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DestinationMap{}, false
	}
	var m DestinationMap
	if err := json.Unmarshal(data, &m); err != nil {
		return DestinationMap{}, false
	}
	return m, true
}

func saveCache(path string, m DestinationMap) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal forum group cache: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
