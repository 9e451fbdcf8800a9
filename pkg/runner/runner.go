// Package runner wires the ingestion core's components into one run:
// Cleanup Sweeper, then the per-source Scanner loop, sequentially (spec.md
// §5: no inter-source parallelism). It owns no invariants of its own.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/sipeed/tgvideosorter/pkg/logger"
	"github.com/sipeed/tgvideosorter/pkg/scanner"
	"github.com/sipeed/tgvideosorter/pkg/store"
	"github.com/sipeed/tgvideosorter/pkg/sweeper"
)

// Summary is the shutdown-time report assembled from one run (spec.md §7).
type Summary struct {
	MessagesSeen int
	Forwarded    int64
	TotalVideos  int64
	PerTopic     map[string]int64
	Duration     time.Duration
}

// Config parameterizes one run end to end.
type Config struct {
	SourceChatIDs []int64
	SkipCleanup   bool
}

// Run executes the Sweeper (unless skipped) followed by the per-source
// Scanner loop, and returns the assembled Summary.
func Run(ctx context.Context, cfg Config, sw *sweeper.Sweeper, destChatID int64, sc *scanner.Scanner, st *store.Store, start time.Time) (Summary, error) {
	summary := Summary{PerTopic: make(map[string]int64)}

	if !cfg.SkipCleanup {
		sweepResult, err := sw.Sweep(ctx, destChatID)
		if err != nil {
			return summary, fmt.Errorf("runner: cleanup sweep: %w", err)
		}
		logger.InfoCF("runner", "cleanup sweep complete", map[string]any{
			"exclusion_deletes": sweepResult.ExclusionDeletes,
			"duplicate_deletes": sweepResult.DuplicateDeletes,
		})
	}

	var forwarded int64
	for _, sourceChatID := range cfg.SourceChatIDs {
		result, err := sc.Scan(ctx, sourceChatID, forwarded)
		summary.MessagesSeen += result.MessagesProcessed
		forwarded = result.TotalForwardedAfter
		if err != nil {
			if ctx.Err() != nil {
				return summary, fmt.Errorf("runner: scan source %d: %w", sourceChatID, err)
			}
			logger.ErrorCF("runner", "source scan failed, continuing with next source", map[string]any{
				"source_chat_id": sourceChatID,
				"error":          err.Error(),
			})
			continue
		}

		logger.InfoCF("runner", "source scan complete", map[string]any{
			"source_chat_id":     sourceChatID,
			"messages_processed": result.MessagesProcessed,
			"total_forwarded":    result.TotalForwardedAfter,
		})
	}

	summary.Forwarded = forwarded
	summary.Duration = time.Since(start)

	if perTopic, err := st.CountVideosByTopic(ctx); err == nil {
		summary.PerTopic = perTopic
	} else {
		logger.WarnCF("runner", "failed to compute per-topic counts", map[string]any{"error": err.Error()})
	}

	if total, err := st.CountVideos(ctx); err == nil {
		summary.TotalVideos = total
	} else {
		logger.WarnCF("runner", "failed to compute total video count", map[string]any{"error": err.Error()})
	}

	logger.InfoCF("runner", "run complete", map[string]any{
		"messages_seen": summary.MessagesSeen,
		"forwarded":     summary.Forwarded,
		"duration":      summary.Duration.String(),
	})

	return summary, nil
}
