// Package sweeper implements the Cleanup Sweeper of spec.md §4.9: a
// one-shot pre-run pass over the destination chat that deletes exclusion
// matches and intra-topic duplicates.
package sweeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/tgvideosorter/pkg/logger"
	"github.com/sipeed/tgvideosorter/pkg/predicate"
	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
	"github.com/sipeed/tgvideosorter/pkg/tgapi"
)

const (
	pageSize        = 100
	pageSleep       = 500 * time.Millisecond
	deleteBatchCap  = 100
	deleteBatchWait = 200 * time.Millisecond
)

// Config is the Sweeper's per-run parameterization (spec.md §6).
type Config struct {
	Exclusions []string
	DryRun     bool
}

// Sweeper reconciles a destination chat against the exclusion list and
// against intra-topic duplicates.
type Sweeper struct {
	client tgapi.Client
	driver *ratelimit.Driver
	cfg    Config
}

// New constructs a Sweeper.
func New(client tgapi.Client, driver *ratelimit.Driver, cfg Config) *Sweeper {
	return &Sweeper{client: client, driver: driver, cfg: cfg}
}

// groupKey identifies one (topic, lowercased filename) dedup bucket.
type groupKey struct {
	topicID  int
	fileName string
}

// Result summarizes one Sweep invocation.
type Result struct {
	ExclusionDeletes int
	DuplicateDeletes int
}

// Sweep paginates destChatID's history in descending order, deleting
// exclusion matches immediately and queuing intra-topic duplicates for a
// batched delete at the end (spec.md §4.9).
func (s *Sweeper) Sweep(ctx context.Context, destChatID int64) (Result, error) {
	var result Result
	groups := make(map[groupKey][]int)

	offsetID := 0
	for {
		var page []tgapi.Message
		err := s.driver.Do(ctx, destChatID, func(ctx context.Context) error {
			p, err := s.client.GetHistoryPage(ctx, destChatID, offsetID, pageSize)
			if err != nil {
				return tgapi.Classify(err)
			}
			page = p
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("sweeper: get history page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		// The page is newest-first; the next page starts below its oldest
		// message.
		lastID := 0
		for _, msg := range page {
			if lastID == 0 || msg.MessageID < lastID {
				lastID = msg.MessageID
			}
			if msg.Document == nil || msg.Document.FileName == "" {
				continue
			}

			captionLower := strings.ToLower(msg.Caption)
			fileNameLower := strings.ToLower(msg.Document.FileName)

			if predicate.ShouldExclude(captionLower, fileNameLower, s.cfg.Exclusions) {
				if s.cfg.DryRun {
					result.ExclusionDeletes++
					continue
				}
				err := s.driver.Do(ctx, destChatID, func(ctx context.Context) error {
					return tgapi.Classify(s.client.DeleteMessages(ctx, destChatID, []int{msg.MessageID}))
				})
				if err != nil {
					return result, fmt.Errorf("sweeper: delete excluded message %d: %w", msg.MessageID, err)
				}
				result.ExclusionDeletes++
				continue
			}

			key := groupKey{topicID: msg.TopMsgID, fileName: fileNameLower}
			groups[key] = append(groups[key], msg.MessageID)
		}

		offsetID = lastID
		if len(page) < pageSize {
			break
		}
		if err := s.driver.Sleep(ctx, pageSleep); err != nil {
			return result, err
		}
	}

	var toDelete []int
	for _, ids := range groups {
		if len(ids) <= 1 {
			continue
		}
		// ids[0] was encountered first in the descending walk, i.e. it
		// is the newest copy; keep it and queue the rest.
		toDelete = append(toDelete, ids[1:]...)
	}
	result.DuplicateDeletes = len(toDelete)

	if s.cfg.DryRun || len(toDelete) == 0 {
		return result, nil
	}

	for start := 0; start < len(toDelete); start += deleteBatchCap {
		end := start + deleteBatchCap
		if end > len(toDelete) {
			end = len(toDelete)
		}
		batch := toDelete[start:end]

		err := s.driver.Do(ctx, destChatID, func(ctx context.Context) error {
			return tgapi.Classify(s.client.DeleteMessages(ctx, destChatID, batch))
		})
		if err != nil {
			return result, fmt.Errorf("sweeper: delete duplicate batch: %w", err)
		}

		if end < len(toDelete) {
			if err := s.driver.Sleep(ctx, deleteBatchWait); err != nil {
				return result, err
			}
		}
	}

	logger.InfoCF("sweeper", "cleanup pass complete", map[string]any{
		"dest_chat_id":      destChatID,
		"exclusion_deletes": result.ExclusionDeletes,
		"duplicate_deletes": result.DuplicateDeletes,
	})

	return result, nil
}
