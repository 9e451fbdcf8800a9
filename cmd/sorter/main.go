// Command sorter runs one ingestion pass (or, with --schedule, a
// recurring series of passes) of the video-sorting pipeline: it sweeps
// the destination chat for exclusions/duplicates, then scans every
// configured source chat for matching videos and forwards them into
// their destination topic.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"

	"github.com/sipeed/tgvideosorter/pkg/auditlog"
	"github.com/sipeed/tgvideosorter/pkg/config"
	"github.com/sipeed/tgvideosorter/pkg/forwarder"
	"github.com/sipeed/tgvideosorter/pkg/logger"
	"github.com/sipeed/tgvideosorter/pkg/oracle"
	"github.com/sipeed/tgvideosorter/pkg/provision"
	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
	"github.com/sipeed/tgvideosorter/pkg/runner"
	"github.com/sipeed/tgvideosorter/pkg/scanner"
	"github.com/sipeed/tgvideosorter/pkg/store"
	"github.com/sipeed/tgvideosorter/pkg/sweeper"
	"github.com/sipeed/tgvideosorter/pkg/tgapi"
	"github.com/sipeed/tgvideosorter/pkg/topiccache"
)

func main() {
	var configPath string
	var jsonLogs bool
	var once bool

	root := &cobra.Command{
		Use:   "sorter",
		Short: "Sort videos from source chats into a destination forum by keyword",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, jsonLogs, once)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON log lines")
	root.Flags().BoolVar(&once, "once", false, "ignore the configured schedule and run a single pass")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.ErrorCF("main", "fatal", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, jsonLogs, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)
	logger.SetJSON(jsonLogs)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	bot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("construct bot: %w", err)
	}
	client := tgapi.NewTelegoClient(bot)
	if err := client.Listen(ctx); err != nil {
		return fmt.Errorf("start update listener: %w", err)
	}

	driver := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitBurst)

	st, err := store.Open(ctx, filepath.Join(cfg.DataDir, "processed-messages.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	oracleInstance := oracle.New(st, oracle.Policy{
		CheckDuration:              cfg.DuplicateDetection.CheckDuration,
		DurationToleranceSeconds:   cfg.DuplicateDetection.DurationToleranceSeconds,
		CheckFileSize:              cfg.DuplicateDetection.CheckFileSize,
		FileSizeTolerancePercent:   cfg.DuplicateDetection.FileSizeTolerancePercent,
		CheckResolution:            cfg.DuplicateDetection.CheckResolution,
		ResolutionTolerancePercent: cfg.DuplicateDetection.ResolutionTolerancePercent,
		CheckMimeType:              cfg.DuplicateDetection.CheckMimeType,
	})

	audit := auditlog.Open(filepath.Join(cfg.DataDir, "forwarding-log.json"))
	fwd := forwarder.New(client, driver, audit)

	dest, err := provision.ProvisionDestination(ctx, client, driver, cfg.SortedGroupName, cfg.VideoMatches, filepath.Join(cfg.DataDir, "forum-group-cache.json"))
	if err != nil {
		return fmt.Errorf("provision destination: %w", err)
	}

	pager := scanner.NewCachePager(client, driver, cfg.DuplicateDetection.NormalizeFilenames)
	pace := func(ctx context.Context) error { return driver.Sleep(ctx, 500*time.Millisecond) }
	cache := topiccache.New(pager, pace, cfg.TopicCacheSpillThreshold, filepath.Join(cfg.DataDir, "topiccache"))
	defer cache.Close()

	sc := scanner.New(client, driver, st, oracleInstance, cache, fwd, scanner.Config{
		Matches:            cfg.VideoMatches,
		Exclusions:         cfg.VideoExclusions,
		MinDurationSec:     cfg.MinVideoDurationInSeconds,
		MaxDurationSec:     cfg.MaxVideoDurationInSeconds,
		MinFileSizeMB:      cfg.MinFileSizeMB,
		MaxFileSizeMB:      cfg.MaxFileSizeMB,
		NormalizeFilenames: cfg.DuplicateDetection.NormalizeFilenames,
		MaxForwards:        cfg.MaxForwards,
		DryRun:             cfg.DryRun,
		DestChatID:         dest.ChatID,
		TopicThreadIDs:     dest.TopicIDs,
	})

	sw := sweeper.New(client, driver, sweeper.Config{
		Exclusions: cfg.VideoExclusions,
		DryRun:     cfg.DryRun,
	})

	sourceChatIDs := cfg.SourceGroups
	if len(sourceChatIDs) == 0 {
		sourceChatIDs, err = resolveAllAccessibleSources(ctx, client, driver)
		if err != nil {
			return fmt.Errorf("resolve source groups: %w", err)
		}
	}

	runnerCfg := runner.Config{
		SourceChatIDs: sourceChatIDs,
		SkipCleanup:   cfg.SkipCleanup,
	}

	if once || cfg.Schedule == "" {
		return runOnce(ctx, runnerCfg, sw, dest.ChatID, sc, st)
	}
	return runOnSchedule(ctx, cfg.Schedule, runnerCfg, sw, dest.ChatID, sc, st)
}

// resolveAllAccessibleSources implements the sourceGroups "empty = every
// accessible group/channel" fallback (spec.md §6) by listing every chat
// the bot has observed, wrapped through driver like every other upstream
// RPC (spec.md §2, §4.5).
func resolveAllAccessibleSources(ctx context.Context, client tgapi.Client, driver *ratelimit.Driver) ([]int64, error) {
	var chats []tgapi.Chat
	err := driver.Do(ctx, 0, func(ctx context.Context) error {
		c, err := client.ListAccessibleChats(ctx, 0)
		if err != nil {
			return tgapi.Classify(err)
		}
		chats = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(chats))
	for _, chat := range chats {
		if chat.Kind == tgapi.ChatKindGroup || chat.Kind == tgapi.ChatKindChannel {
			ids = append(ids, chat.ID)
		}
	}
	return ids, nil
}

func runOnce(ctx context.Context, cfg runner.Config, sw *sweeper.Sweeper, destChatID int64, sc *scanner.Scanner, st *store.Store) error {
	summary, err := runner.Run(ctx, cfg, sw, destChatID, sc, st, time.Now())
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger.InfoCF("main", "pass complete", map[string]any{
		"messages_seen": summary.MessagesSeen,
		"forwarded":     summary.Forwarded,
		"total_videos":  summary.TotalVideos,
		"duration":      summary.Duration.String(),
	})
	return nil
}

// runOnSchedule re-invokes one pass every time expr next matches,
// evaluated once per minute, until ctx is cancelled.
func runOnSchedule(ctx context.Context, expr string, cfg runner.Config, sw *sweeper.Sweeper, destChatID int64, sc *scanner.Scanner, st *store.Store) error {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return fmt.Errorf("invalid schedule expression %q", expr)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		due, err := gronx.IsDue(expr, time.Now())
		if err != nil {
			return fmt.Errorf("evaluate schedule: %w", err)
		}
		if due {
			if err := runOnce(ctx, cfg, sw, destChatID, sc, st); err != nil {
				logger.ErrorCF("main", "scheduled pass failed", map[string]any{"error": err.Error()})
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
