package oracle

import (
	"context"
	"testing"

	"github.com/sipeed/tgvideosorter/pkg/store"
)

func newTestOracle(t *testing.T, policy Policy) (*Oracle, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir()+"/processed-messages.db")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, policy), s
}

func intPtr(n int) *int          { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestFindSimilar_ExactNameNoChecksIsDuplicate(t *testing.T) {
	ctx := context.Background()
	o, s := newTestOracle(t, Policy{})

	if err := s.PutVideo(ctx, store.VideoRecord{FileName: "x", NormalizedName: "samplekeyword", TopicName: "keyword"}); err != nil {
		t.Fatal(err)
	}

	got, err := o.FindSimilar(ctx, Candidate{NormalizedName: "samplekeyword"}, "keyword")
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected a duplicate match")
	}
}

func TestFindSimilar_S5Replacement(t *testing.T) {
	ctx := context.Background()
	policy := Policy{
		CheckDuration:            true,
		DurationToleranceSeconds: 30,
		CheckFileSize:            true,
		FileSizeTolerancePercent: 5,
	}
	o, s := newTestOracle(t, policy)

	if err := s.PutVideo(ctx, store.VideoRecord{
		FileName: "oldcut.mp4", NormalizedName: "oldcut", TopicName: "k1",
		DurationSec: intPtr(600), SizeMB: floatPtr(100),
	}); err != nil {
		t.Fatal(err)
	}

	candidate := Candidate{
		NormalizedName: "oldcut",
		DurationSec:    intPtr(605),
		SizeMB:         floatPtr(102),
	}
	got, err := o.FindSimilar(ctx, candidate, "k1")
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected S5 candidate to be flagged as duplicate of oldcut")
	}

	all, err := o.FindAllSimilar(ctx, candidate, "k1")
	if err != nil {
		t.Fatalf("FindAllSimilar() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 similar row, got %d", len(all))
	}
}

func TestFindSimilar_MissingMetadataRejectsEnabledCheck(t *testing.T) {
	ctx := context.Background()
	o, s := newTestOracle(t, Policy{CheckDuration: true, DurationToleranceSeconds: 30})

	if err := s.PutVideo(ctx, store.VideoRecord{FileName: "x", NormalizedName: "name", TopicName: "k", DurationSec: nil}); err != nil {
		t.Fatal(err)
	}

	got, err := o.FindSimilar(ctx, Candidate{NormalizedName: "name", DurationSec: intPtr(600)}, "k")
	if err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if got != nil {
		t.Fatal("expected no duplicate when the enabled check has missing data on one side")
	}
}

func TestMonotonicity_EnablingCheckNeverCreatesADuplicate(t *testing.T) {
	ctx := context.Background()

	// Same normalized name, but durations differ beyond tolerance.
	setup := func(o *Oracle, s *store.Store) Candidate {
		if err := s.PutVideo(ctx, store.VideoRecord{
			FileName: "x", NormalizedName: "name", TopicName: "k", DurationSec: intPtr(100),
		}); err != nil {
			t.Fatal(err)
		}
		return Candidate{NormalizedName: "name", DurationSec: intPtr(500)}
	}

	oLoose, sLoose := newTestOracle(t, Policy{})
	cand := setup(oLoose, sLoose)
	looseResult, err := oLoose.FindSimilar(ctx, cand, "k")
	if err != nil {
		t.Fatal(err)
	}
	if looseResult == nil {
		t.Fatal("expected duplicate with no checks enabled")
	}

	oStrict, sStrict := newTestOracle(t, Policy{CheckDuration: true, DurationToleranceSeconds: 30})
	cand2 := setup(oStrict, sStrict)
	strictResult, err := oStrict.FindSimilar(ctx, cand2, "k")
	if err != nil {
		t.Fatal(err)
	}
	if strictResult != nil {
		t.Fatal("enabling duration check must not keep a too-different duration as a duplicate")
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"samplekeyword", "samplekeyword", 1.0},
		{"ab", "abcdefghij", 0.0}, // min/max = 2/10 = 0.2 < 0.7
		{"foo", "foobar", 0.0},    // min/max = 3/6 = 0.5 < 0.7, checked before containment
	}
	for _, tt := range tests {
		if got := Similarity(tt.a, tt.b); got != tt.want {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSimilarity_EmptyNeverMatches(t *testing.T) {
	if got := Similarity("", "anything"); got != 0.0 {
		t.Errorf("Similarity(\"\", ...) = %v, want 0.0", got)
	}
}
