package sweeper

import (
	"context"
	"testing"

	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
	"github.com/sipeed/tgvideosorter/pkg/tgapi"
	"github.com/sipeed/tgvideosorter/pkg/tgapi/faketgapi"
)

const destChat = int64(9)

func doc(id int, topMsgID int, fileName string) tgapi.Message {
	return tgapi.Message{
		ChatID:      destChat,
		MessageID:   id,
		TopMsgID:    topMsgID,
		HasDocument: true,
		Document:    &tgapi.Document{FileName: fileName},
	}
}

func newSweeper(exclusions []string, dryRun bool) (*Sweeper, *faketgapi.Fake) {
	fake := faketgapi.New()
	driver := ratelimit.New(1000, 1000)
	return New(fake, driver, Config{Exclusions: exclusions, DryRun: dryRun}), fake
}

func TestSweep_DeletesIntraTopicDuplicatesKeepingNewest(t *testing.T) {
	s, fake := newSweeper(nil, false)
	// Inserted oldest-first; GetHistoryPage reverses to newest-first.
	fake.SeedHistory(destChat,
		doc(1, 5, "clip.mp4"),
		doc(2, 5, "clip.mp4"),
		doc(3, 5, "other.mp4"),
	)

	result, err := s.Sweep(context.Background(), destChat)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if result.DuplicateDeletes != 1 {
		t.Fatalf("expected 1 duplicate delete, got %d", result.DuplicateDeletes)
	}
	if len(fake.Deletes) != 1 {
		t.Fatalf("expected 1 delete RPC, got %d", len(fake.Deletes))
	}
	if fake.Deletes[0].MsgIDs[0] != 1 {
		t.Fatalf("expected the older message (id 1) to be deleted, deleted %v", fake.Deletes[0].MsgIDs)
	}
}

func TestSweep_ExclusionDeletedImmediately(t *testing.T) {
	s, fake := newSweeper([]string{"preview"}, false)
	msg := doc(1, 0, "preview.mp4")
	fake.SeedHistory(destChat, msg)

	result, err := s.Sweep(context.Background(), destChat)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if result.ExclusionDeletes != 1 {
		t.Fatalf("expected 1 exclusion delete, got %d", result.ExclusionDeletes)
	}
}

func TestSweep_SecondPassIsFixedPoint(t *testing.T) {
	s, fake := newSweeper(nil, false)
	fake.SeedHistory(destChat,
		doc(1, 5, "clip.mp4"),
		doc(2, 5, "clip.mp4"),
	)

	if _, err := s.Sweep(context.Background(), destChat); err != nil {
		t.Fatalf("first Sweep() error = %v", err)
	}

	result, err := s.Sweep(context.Background(), destChat)
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if result.DuplicateDeletes != 0 || result.ExclusionDeletes != 0 {
		t.Fatalf("expected second pass to delete nothing, got %+v", result)
	}
}

func TestSweep_DryRunIssuesNoDeleteRPCs(t *testing.T) {
	s, fake := newSweeper(nil, true)
	fake.SeedHistory(destChat,
		doc(1, 5, "clip.mp4"),
		doc(2, 5, "clip.mp4"),
	)

	result, err := s.Sweep(context.Background(), destChat)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if result.DuplicateDeletes != 1 {
		t.Fatalf("expected duplicate count tracked even in dry-run, got %d", result.DuplicateDeletes)
	}
	if len(fake.Deletes) != 0 {
		t.Fatalf("expected no delete RPCs in dry-run, got %d", len(fake.Deletes))
	}
}
