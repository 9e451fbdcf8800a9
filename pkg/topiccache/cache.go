// Package topiccache implements the lazy per-topic message snapshot of
// spec.md §4.6: a process-lifetime cache of destination messages under
// one (destChatId, topicId), used to locate duplicates for deletion.
package topiccache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/sipeed/tgvideosorter/pkg/logger"
)

// pageSize and maxPages bound the initial paginated load (spec.md §4.6):
// a hard safety ceiling preventing runaway runs on pathological topics.
const (
	pageSize      = 100
	maxPages      = 50
	interPageWait = 0 // caller drives the 500ms pacing through the driver; see New's pace argument.
)

// MessageRecord is one cached destination message.
type MessageRecord struct {
	MessageID      int
	FileName       string
	FileNameLower  string
	NormalizedName string
}

// RepliesPager abstracts the upstream "get replies under this topic"
// RPC (spec.md §6 getRepliesPage) so the cache can be tested without a
// real protocol client.
type RepliesPager interface {
	GetRepliesPage(ctx context.Context, chatID int64, topicID int, offsetID, limit int) ([]MessageRecord, error)
}

// topicKey identifies one cache instance.
type topicKey struct {
	destChatID int64
	topicID    int
}

// Cache is the process-lifetime Topic Cache. A loaded topic stays cached
// until Close; cmd/sorter builds one Cache and shares it across every
// source of the run.
type Cache struct {
	pager RepliesPager
	pace  func(ctx context.Context) error

	spillThreshold int
	spillDir       string

	mu     sync.Mutex
	topics map[topicKey]*topicEntries
}

type topicEntries struct {
	loaded bool
	mem    map[int]MessageRecord
	spill  *badger.DB
}

// New constructs a Cache. pace is invoked between pagination pages to
// honor the driver-mandated 500ms pause (spec.md §4.6); spillThreshold
// is the in-memory row budget per topic before entries spill to
// spillDir (spec.md SPEC_FULL §4.6 NEW).
func New(pager RepliesPager, pace func(ctx context.Context) error, spillThreshold int, spillDir string) *Cache {
	return &Cache{
		pager:          pager,
		pace:           pace,
		spillThreshold: spillThreshold,
		spillDir:       spillDir,
		topics:         make(map[topicKey]*topicEntries),
	}
}

// Get returns the cached messages for (destChatID, topicID), loading
// them on first access via paginated pulls (spec.md §4.6).
func (c *Cache) Get(ctx context.Context, destChatID int64, topicID int) (map[int]MessageRecord, error) {
	c.mu.Lock()
	key := topicKey{destChatID, topicID}
	entries, ok := c.topics[key]
	if !ok {
		entries = &topicEntries{mem: make(map[int]MessageRecord)}
		c.topics[key] = entries
	}
	c.mu.Unlock()

	if entries.loaded {
		return c.snapshot(entries), nil
	}

	if err := c.load(ctx, destChatID, topicID, entries); err != nil {
		return nil, err
	}
	return c.snapshot(entries), nil
}

func (c *Cache) load(ctx context.Context, destChatID int64, topicID int, entries *topicEntries) error {
	offsetID := 0
	for page := 0; page < maxPages; page++ {
		msgs, err := c.pager.GetRepliesPage(ctx, destChatID, topicID, offsetID, pageSize)
		if err != nil {
			return fmt.Errorf("topiccache: load page %d: %w", page, err)
		}
		if len(msgs) == 0 {
			break
		}

		for _, m := range msgs {
			if err := c.put(destChatID, topicID, entries, m); err != nil {
				return err
			}
			if m.MessageID > offsetID {
				offsetID = m.MessageID
			}
		}

		if len(msgs) < pageSize {
			break
		}
		if c.pace != nil {
			if err := c.pace(ctx); err != nil {
				return err
			}
		}
	}

	c.mu.Lock()
	entries.loaded = true
	c.mu.Unlock()
	return nil
}

func (c *Cache) put(destChatID int64, topicID int, entries *topicEntries, m MessageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(entries.mem) < c.spillThreshold || c.spillThreshold <= 0 {
		entries.mem[m.MessageID] = m
		return nil
	}

	db, err := c.spillDBFor(destChatID, topicID, entries)
	if err != nil {
		return err
	}
	return writeSpillEntry(db, m)
}

func (c *Cache) spillDBFor(destChatID int64, topicID int, entries *topicEntries) (*badger.DB, error) {
	if entries.spill != nil {
		return entries.spill, nil
	}

	dir := filepath.Join(c.spillDir, fmt.Sprintf("%d-%d", destChatID, topicID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("topiccache: create spill dir: %w", err)
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("topiccache: open spill db: %w", err)
	}

	logger.InfoCF("topiccache", "topic exceeded in-memory budget, spilling to disk", map[string]any{
		"dest_chat_id": destChatID,
		"topic_id":     topicID,
		"dir":          dir,
	})

	entries.spill = db
	return db, nil
}

func writeSpillEntry(db *badger.DB, m MessageRecord) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("topiccache: marshal spill entry: %w", err)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(spillKey(m.MessageID), data)
	})
}

func spillKey(messageID int) []byte {
	return []byte(fmt.Sprintf("msg:%d", messageID))
}

// snapshot merges the in-memory map with any spilled entries into a
// single map for callers. Spilled topics are expected to be rare
// (pathologically large forums), so the merge cost is acceptable.
func (c *Cache) snapshot(entries *topicEntries) map[int]MessageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int]MessageRecord, len(entries.mem))
	for k, v := range entries.mem {
		out[k] = v
	}

	if entries.spill != nil {
		_ = entries.spill.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					var m MessageRecord
					if err := json.Unmarshal(val, &m); err == nil {
						out[m.MessageID] = m
					}
					return nil
				})
			}
			return nil
		})
	}
	return out
}

// Delete removes messageIDs from the cache for (destChatID, topicID)
// after a successful destination delete RPC (spec.md §3, §4.7 step 9).
func (c *Cache) Delete(destChatID int64, topicID int, messageIDs []int) {
	c.mu.Lock()
	key := topicKey{destChatID, topicID}
	entries, ok := c.topics[key]
	c.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	for _, id := range messageIDs {
		delete(entries.mem, id)
	}
	spill := entries.spill
	c.mu.Unlock()

	if spill == nil {
		return
	}
	for _, id := range messageIDs {
		_ = spill.Update(func(txn *badger.Txn) error {
			return txn.Delete(spillKey(id))
		})
	}
}

// Close releases any spill databases opened during this run and removes
// their on-disk directories, honoring the "process-lifetime only"
// contract of spec.md §3.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, entries := range c.topics {
		if entries.spill == nil {
			continue
		}
		if err := entries.spill.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.spillDir != "" {
		_ = os.RemoveAll(c.spillDir)
	}
	return firstErr
}
