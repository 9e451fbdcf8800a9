package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sipeed/tgvideosorter/pkg/auditlog"
	"github.com/sipeed/tgvideosorter/pkg/forwarder"
	"github.com/sipeed/tgvideosorter/pkg/oracle"
	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
	"github.com/sipeed/tgvideosorter/pkg/scanner"
	"github.com/sipeed/tgvideosorter/pkg/store"
	"github.com/sipeed/tgvideosorter/pkg/sweeper"
	"github.com/sipeed/tgvideosorter/pkg/tgapi"
	"github.com/sipeed/tgvideosorter/pkg/tgapi/faketgapi"
	"github.com/sipeed/tgvideosorter/pkg/topiccache"
)

func TestRun_SweepsThenScansAndAssemblesSummary(t *testing.T) {
	const sourceChat = int64(1)
	const destChat = int64(2)

	fake := faketgapi.New()
	dur := 600
	fake.SeedHistory(sourceChat, tgapi.Message{
		ChatID:      sourceChat,
		MessageID:   1,
		HasDocument: true,
		IsVideo:     true,
		Document:    &tgapi.Document{FileName: "clip.keyword.mp4", SizeMB: 100},
		Video:       &tgapi.VideoAttributes{DurationSec: &dur},
	})

	driver := ratelimit.New(1000, 1000)
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "processed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	o := oracle.New(st, oracle.Policy{})
	cache := topiccache.New(scanner.NewCachePager(fake, driver, true), nil, 0, "")
	audit := auditlog.Open(filepath.Join(t.TempDir(), "forwarding-log.json"))
	fwd := forwarder.New(fake, driver, audit)

	sc := scanner.New(fake, driver, st, o, cache, fwd, scanner.Config{
		Matches:            []string{"keyword"},
		NormalizeFilenames: true,
		MinDurationSec:     300,
		DestChatID:         destChat,
		TopicThreadIDs:     map[string]int{"keyword": 7},
	})
	sw := sweeper.New(fake, driver, sweeper.Config{})

	summary, err := Run(context.Background(), Config{SourceChatIDs: []int64{sourceChat}}, sw, destChat, sc, st, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Forwarded)
	require.EqualValues(t, 1, summary.PerTopic["keyword"])
}

func TestRun_SkipCleanupOmitsSweep(t *testing.T) {
	const sourceChat = int64(1)
	const destChat = int64(2)

	fake := faketgapi.New()
	fake.SeedHistory(destChat, tgapi.Message{
		ChatID:      destChat,
		MessageID:   1,
		TopMsgID:    0,
		HasDocument: true,
		Document:    &tgapi.Document{FileName: "excluded.mp4"},
	})

	driver := ratelimit.New(1000, 1000)
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "processed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	o := oracle.New(st, oracle.Policy{})
	cache := topiccache.New(scanner.NewCachePager(fake, driver, true), nil, 0, "")
	audit := auditlog.Open(filepath.Join(t.TempDir(), "forwarding-log.json"))
	fwd := forwarder.New(fake, driver, audit)
	sc := scanner.New(fake, driver, st, o, cache, fwd, scanner.Config{Matches: []string{"keyword"}, DestChatID: destChat})
	sw := sweeper.New(fake, driver, sweeper.Config{Exclusions: []string{"excluded"}})

	_, err = Run(context.Background(), Config{SourceChatIDs: []int64{sourceChat}, SkipCleanup: true}, sw, destChat, sc, st, time.Now())
	require.NoError(t, err)
	require.Empty(t, fake.Deletes)
}
