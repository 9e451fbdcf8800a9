package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "processed-messages.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(n int) *int          { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestPutMessageIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutMessage(ctx, "chat1:100"); err != nil {
		t.Fatalf("PutMessage() error = %v", err)
	}
	if err := s.PutMessage(ctx, "chat1:100"); err != nil {
		t.Fatalf("PutMessage() second call must not fail: %v", err)
	}

	ok, err := s.HasMessage(ctx, "chat1:100")
	if err != nil {
		t.Fatalf("HasMessage() error = %v", err)
	}
	if !ok {
		t.Fatal("expected HasMessage to be true")
	}

	ok, err = s.HasMessage(ctx, "chat1:999")
	if err != nil {
		t.Fatalf("HasMessage() error = %v", err)
	}
	if ok {
		t.Fatal("expected HasMessage to be false for unseen key")
	}
}

func TestPutVideoUniquePerNormalizedNameAndTopic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := VideoRecord{
		FileName:       "Sample.Keyword.mp4",
		NormalizedName: "samplekeyword",
		TopicName:      "keyword",
		DurationSec:    intPtr(600),
		SizeMB:         floatPtr(120),
	}
	if err := s.PutVideo(ctx, rec); err != nil {
		t.Fatalf("PutVideo() error = %v", err)
	}

	// Re-insert with changed metadata must update the existing row, not
	// create a second one (spec.md testable property #2).
	rec.DurationSec = intPtr(605)
	if err := s.PutVideo(ctx, rec); err != nil {
		t.Fatalf("PutVideo() second call error = %v", err)
	}

	rows, err := s.RowsByTopic(ctx, "keyword")
	if err != nil {
		t.Fatalf("RowsByTopic() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 row, got %d", len(rows))
	}
	if *rows[0].DurationSec != 605 {
		t.Fatalf("expected updated duration 605, got %d", *rows[0].DurationSec)
	}
}

func TestDeleteVideosMatchesWildcardTopicToo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutVideo(ctx, VideoRecord{FileName: "a.mp4", NormalizedName: "a", TopicName: WildcardTopic}); err != nil {
		t.Fatalf("PutVideo() error = %v", err)
	}

	n, err := s.DeleteVideos(ctx, []string{"a"}, "keyword")
	if err != nil {
		t.Fatalf("DeleteVideos() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted (wildcard topic row), got %d", n)
	}
}

func TestRowsByNormalizedNameInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	topics := []string{"t1", "t2", "t3"}
	for _, topic := range topics {
		if err := s.PutVideo(ctx, VideoRecord{FileName: "f.mp4", NormalizedName: "f", TopicName: topic}); err != nil {
			t.Fatalf("PutVideo() error = %v", err)
		}
	}

	rows, err := s.RowsByNormalizedName(ctx, "f", "t1")
	if err != nil {
		t.Fatalf("RowsByNormalizedName() error = %v", err)
	}
	// t1 and the wildcard (none here) only; t2/t3 rows must not show up
	// when querying for t1.
	if len(rows) != 1 || rows[0].TopicName != "t1" {
		t.Fatalf("expected only t1's row, got %+v", rows)
	}
}

func TestCountVideosByTopic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutVideo(ctx, VideoRecord{FileName: "a.mp4", NormalizedName: "a", TopicName: "keyword"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutVideo(ctx, VideoRecord{FileName: "b.mp4", NormalizedName: "b", TopicName: "keyword"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutVideo(ctx, VideoRecord{FileName: "c.mp4", NormalizedName: "c", TopicName: "other"}); err != nil {
		t.Fatal(err)
	}

	counts, err := s.CountVideosByTopic(ctx)
	if err != nil {
		t.Fatalf("CountVideosByTopic() error = %v", err)
	}
	if counts["keyword"] != 2 || counts["other"] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestOpenRunsLegacyMigrationOnce(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "processed-messages.db")

	if err := os.WriteFile(filepath.Join(dir, "processed-messages.txt"), []byte("chat1:1\nchat1:2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "processed-messages-videos.txt"), []byte("legacyname\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	ok, err := s.HasMessage(ctx, "chat1:1")
	if err != nil || !ok {
		t.Fatalf("expected migrated message to be present, ok=%v err=%v", ok, err)
	}

	rows, err := s.RowsByTopic(ctx, WildcardTopic)
	if err != nil {
		t.Fatalf("RowsByTopic() error = %v", err)
	}
	if len(rows) != 1 || rows[0].NormalizedName != "legacyname" {
		t.Fatalf("expected legacy video migrated under wildcard topic, got %+v", rows)
	}

	if _, err := os.Stat(filepath.Join(dir, "processed-messages.txt.backup")); err != nil {
		t.Fatalf("expected legacy messages file to be renamed with .backup suffix: %v", err)
	}
}
