// Package scanner implements the Source Scanner of spec.md §4.7: it walks
// one source chat's history in descending batches, applies the Video
// Predicate, and drives the dedup-then-forward loop per candidate.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sipeed/tgvideosorter/pkg/forwarder"
	"github.com/sipeed/tgvideosorter/pkg/normalize"
	"github.com/sipeed/tgvideosorter/pkg/oracle"
	"github.com/sipeed/tgvideosorter/pkg/predicate"
	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
	"github.com/sipeed/tgvideosorter/pkg/store"
	"github.com/sipeed/tgvideosorter/pkg/tgapi"
	"github.com/sipeed/tgvideosorter/pkg/topiccache"
)

const (
	pageSize       = 100
	cursorSleep    = 500 * time.Millisecond
	deleteBatchCap = 100
)

// Config is the per-run parameterization of a Scanner (spec.md §6).
type Config struct {
	Matches            []string
	Exclusions         []string
	MinDurationSec     int
	MaxDurationSec     *int
	MinFileSizeMB      *float64
	MaxFileSizeMB      *float64
	NormalizeFilenames bool
	MaxForwards        int
	DryRun             bool

	// DestChatID is the forum-style destination chat all matched topics
	// live under. TopicThreadIDs maps each configured match keyword to
	// its provisioned destination topic thread ID (spec.md §3
	// Destination Topic Mapping).
	DestChatID     int64
	TopicThreadIDs map[string]int
}

// Scanner walks one source chat and drives the per-candidate pipeline.
type Scanner struct {
	client tgapi.Client
	driver *ratelimit.Driver
	store  *store.Store
	oracle *oracle.Oracle
	cache  *topiccache.Cache
	fwd    *forwarder.Forwarder
	cfg    Config
}

// New constructs a Scanner bound to one run's collaborators and config.
func New(client tgapi.Client, driver *ratelimit.Driver, st *store.Store, o *oracle.Oracle, cache *topiccache.Cache, fwd *forwarder.Forwarder, cfg Config) *Scanner {
	return &Scanner{client: client, driver: driver, store: st, oracle: o, cache: cache, fwd: fwd, cfg: cfg}
}

// Result is the Scanner's termination contract (spec.md §4.7).
type Result struct {
	MessagesProcessed   int
	TotalForwardedAfter int64
	HasMore             bool
}

// Scan walks sourceChatID's history starting from the newest message,
// following the offsetId backward-walk pattern, until an empty page or
// the forward cap is reached. forwardedSoFar is the run-wide forward
// count carried in from prior sources (spec.md §4.7 step 4).
func (s *Scanner) Scan(ctx context.Context, sourceChatID int64, forwardedSoFar int64) (Result, error) {
	result := Result{TotalForwardedAfter: forwardedSoFar, HasMore: true}

	offsetID := 0
	for {
		var page []tgapi.Message
		err := s.driver.Do(ctx, sourceChatID, func(ctx context.Context) error {
			p, err := s.client.GetHistoryPage(ctx, sourceChatID, offsetID, pageSize)
			if err != nil {
				return tgapi.Classify(err)
			}
			page = p
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("scanner: get history page for source %d: %w", sourceChatID, err)
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

			if !msg.HasDocument {
				continue
			}

			cappedOut, err := s.handleMessage(ctx, sourceChatID, msg, &result)
			if err != nil {
				return result, err
			}
			if cappedOut {
				result.HasMore = false
				return result, nil
			}
		}

		offsetID = lastID
		if len(page) < pageSize {
			break
		}
		if err := s.driver.Sleep(ctx, cursorSleep); err != nil {
			return result, err
		}
	}

	result.HasMore = false
	return result, nil
}

// handleMessage runs one message through steps 1-10 of spec.md §4.7. It
// returns true if the forward cap was just reached, signaling the caller
// to stop scanning entirely (not just this batch).
func (s *Scanner) handleMessage(ctx context.Context, sourceChatID int64, msg tgapi.Message, result *Result) (bool, error) {
	key := fmt.Sprintf("%d:%d", sourceChatID, msg.MessageID)

	seen, err := s.store.HasMessage(ctx, key)
	if err != nil {
		return false, fmt.Errorf("scanner: has message: %w", err)
	}
	if seen {
		return false, nil
	}

	// Pre-commit (spec.md §4.7 step 2): once we promise to consider a
	// message we never reconsider it, even if every later step fails.
	if err := s.store.PutMessage(ctx, key); err != nil {
		return false, fmt.Errorf("scanner: put message: %w", err)
	}
	result.MessagesProcessed++

	media := mediaFrom(msg)
	captionLower := strings.ToLower(msg.Caption)
	fileNameLower := ""
	if msg.Document != nil {
		fileNameLower = strings.ToLower(msg.Document.FileName)
	}

	matchedKeywords := predicate.Match(media, captionLower, fileNameLower, s.cfg.Matches, s.cfg.Exclusions, s.cfg.MinDurationSec)
	if len(matchedKeywords) == 0 {
		return false, nil
	}

	if s.cfg.MaxForwards > 0 && result.TotalForwardedAfter >= int64(s.cfg.MaxForwards) {
		return true, nil
	}

	if !withinSizeAndDurationBounds(media, s.cfg) {
		return false, nil
	}

	fileName := ""
	if msg.Document != nil {
		fileName = msg.Document.FileName
	}
	normalizedName := normalize.Normalize(fileName, s.cfg.NormalizeFilenames)

	candidate := oracle.Candidate{
		NormalizedName: normalizedName,
		DurationSec:    media.DurationSec,
		SizeMB:         floatPtr(media.SizeMB),
		Width:          media.Width,
		Height:         media.Height,
		MimeType:       media.MimeType,
	}

	existingTopics := make(map[string]*store.VideoRecord)
	var newTopics []string
	for _, k := range matchedKeywords {
		row, err := s.oracle.FindSimilar(ctx, candidate, k)
		if err != nil {
			return false, fmt.Errorf("scanner: find similar in topic %s: %w", k, err)
		}
		if row != nil {
			existingTopics[k] = row
		} else {
			newTopics = append(newTopics, k)
		}
	}

	if len(existingTopics) == len(matchedKeywords) {
		// Duplicate in every target topic: nothing to do.
		return false, nil
	}

	videoRecord := func(topic string) store.VideoRecord {
		return store.VideoRecord{
			FileName:       fileName,
			NormalizedName: normalizedName,
			TopicName:      topic,
			DurationSec:    media.DurationSec,
			SizeMB:         floatPtr(media.SizeMB),
			Width:          media.Width,
			Height:         media.Height,
			MimeType:       mimePtr(media.MimeType),
		}
	}

	// Pre-register (spec.md §4.7 step 8): before any forward RPC, so a
	// later identical candidate in this same batch is caught at step 6.
	// Video rows are written only when not dryRun (spec.md §6, §9 Open
	// Question #1); message-progress (PutMessage above) is unconditional.
	if !s.cfg.DryRun {
		for _, k := range newTopics {
			if err := s.store.PutVideo(ctx, videoRecord(k)); err != nil {
				return false, fmt.Errorf("scanner: pre-register %s/%s: %w", normalizedName, k, err)
			}
		}
	}

	for k := range existingTopics {
		if err := s.replaceDuplicates(ctx, k, candidate); err != nil {
			return false, fmt.Errorf("scanner: replace duplicates in topic %s: %w", k, err)
		}
		// The old row for this topic is gone; register the new one so
		// a subsequent candidate in this batch sees it too.
		if !s.cfg.DryRun {
			if err := s.store.PutVideo(ctx, videoRecord(k)); err != nil {
				return false, fmt.Errorf("scanner: re-register %s/%s: %w", normalizedName, k, err)
			}
		}
	}

	forwardedAny, err := s.forwardToAll(ctx, sourceChatID, msg.MessageID, matchedKeywords, forwarder.Candidate{
		FileName:       fileName,
		NormalizedName: normalizedName,
		DurationSec:    media.DurationSec,
		SizeMB:         floatPtr(media.SizeMB),
	})
	if err != nil {
		return false, err
	}
	if forwardedAny {
		result.TotalForwardedAfter++
	}

	return false, nil
}

// replaceDuplicates deletes every stored duplicate for candidate within
// topicName via the Topic Cache: database rows are matched to cached
// destination messages by exact normalized name, with enabled metadata
// checks additionally required when any are configured (spec.md §4.7
// step 9).
func (s *Scanner) replaceDuplicates(ctx context.Context, topicName string, candidate oracle.Candidate) error {
	rows, err := s.oracle.FindAllSimilar(ctx, candidate, topicName)
	if err != nil {
		return fmt.Errorf("find all similar: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	threadID := s.cfg.TopicThreadIDs[topicName]
	cached, err := s.cache.Get(ctx, s.cfg.DestChatID, threadID)
	if err != nil {
		return fmt.Errorf("load topic cache: %w", err)
	}

	byName := make(map[string][]int)
	for id, m := range cached {
		byName[m.NormalizedName] = append(byName[m.NormalizedName], id)
	}

	var toDelete []int
	var names []string
	for _, row := range rows {
		ids := byName[row.NormalizedName]
		if len(ids) == 0 {
			continue
		}
		toDelete = append(toDelete, ids...)
		names = append(names, row.NormalizedName)
	}
	if len(toDelete) == 0 {
		// The rows exist in the Store but no corresponding destination
		// message was found in the cache; nothing to delete upstream.
		return nil
	}

	if s.cfg.DryRun {
		return nil
	}

	for start := 0; start < len(toDelete); start += deleteBatchCap {
		end := start + deleteBatchCap
		if end > len(toDelete) {
			end = len(toDelete)
		}
		batch := toDelete[start:end]

		err := s.driver.Do(ctx, s.cfg.DestChatID, func(ctx context.Context) error {
			return tgapi.Classify(s.client.DeleteMessages(ctx, s.cfg.DestChatID, batch))
		})
		if err != nil {
			return fmt.Errorf("delete duplicate messages: %w", err)
		}
		s.cache.Delete(s.cfg.DestChatID, threadID, batch)
	}

	if _, err := s.store.DeleteVideos(ctx, names, topicName); err != nil {
		return fmt.Errorf("delete video rows: %w", err)
	}
	return nil
}

// forwardToAll fans out a bounded forward to every matched topic in
// parallel, joined by a barrier (spec.md §5): N = len(matchedKeywords).
// Returns true if at least one topic's forward succeeded.
func (s *Scanner) forwardToAll(ctx context.Context, sourceChatID int64, sourceMsgID int, matchedKeywords []string, c forwarder.Candidate) (bool, error) {
	results := make([]bool, len(matchedKeywords))

	g, gctx := errgroup.WithContext(ctx)
	for i, topic := range matchedKeywords {
		i, topic := i, topic
		g.Go(func() error {
			threadID := s.cfg.TopicThreadIDs[topic]
			results[i] = s.fwd.Forward(gctx, sourceChatID, sourceMsgID, s.cfg.DestChatID, threadID, topic, s.cfg.DryRun, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, fmt.Errorf("forward fan-out: %w", err)
	}

	for _, ok := range results {
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func withinSizeAndDurationBounds(media predicate.Media, cfg Config) bool {
	if cfg.MaxDurationSec != nil {
		if media.DurationSec == nil || *media.DurationSec > *cfg.MaxDurationSec {
			return false
		}
	}
	if cfg.MinFileSizeMB != nil && media.SizeMB < *cfg.MinFileSizeMB {
		return false
	}
	if cfg.MaxFileSizeMB != nil && media.SizeMB > *cfg.MaxFileSizeMB {
		return false
	}
	return true
}

func mediaFrom(msg tgapi.Message) predicate.Media {
	m := predicate.Media{
		IsVideo:     msg.IsVideo,
		HasDocument: msg.HasDocument,
	}
	if msg.Document != nil {
		m.SizeMB = msg.Document.SizeMB
		m.MimeType = msg.Document.MimeType
	}
	if msg.Video != nil {
		m.DurationSec = msg.Video.DurationSec
		m.Width = msg.Video.Width
		m.Height = msg.Video.Height
	}
	return m
}

func floatPtr(f float64) *float64 { return &f }

func mimePtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
