package forwarder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sipeed/tgvideosorter/pkg/auditlog"
	"github.com/sipeed/tgvideosorter/pkg/ratelimit"
	"github.com/sipeed/tgvideosorter/pkg/tgapi/faketgapi"
)

func newTestForwarder(t *testing.T) (*Forwarder, *faketgapi.Fake, string) {
	t.Helper()
	fake := faketgapi.New()
	driver := ratelimit.New(1000, 1000)
	auditPath := filepath.Join(t.TempDir(), "forwarding-log.json")
	audit := auditlog.Open(auditPath)
	return New(fake, driver, audit), fake, auditPath
}

func TestForward_SuccessAppendsAuditEntry(t *testing.T) {
	f, fake, auditPath := newTestForwarder(t)
	dur := 120
	size := 42.0

	ok := f.Forward(context.Background(), 1, 101, 2, 5, "movies", false, Candidate{
		FileName:       "clip.mp4",
		NormalizedName: "clip",
		DurationSec:    &dur,
		SizeMB:         &size,
	})
	if !ok {
		t.Fatal("expected Forward to succeed")
	}
	if len(fake.Forwards) != 1 {
		t.Fatalf("expected 1 forward call, got %d", len(fake.Forwards))
	}
	call := fake.Forwards[0]
	if call.FromChat != 1 || call.ToChat != 2 || call.TopMsgID != 5 {
		t.Fatalf("unexpected forward call: %+v", call)
	}
	if call.Nonce == "" {
		t.Fatal("expected a non-empty dedup nonce")
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("expected audit log to be written: %v", err)
	}
	var entries []auditlog.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal audit log: %v", err)
	}
	if len(entries) != 1 || entries[0].Nonce != call.Nonce {
		t.Fatalf("expected 1 audit entry carrying the forward nonce, got %+v", entries)
	}
}

func TestForward_FailureReturnsFalseWithoutAuditEntry(t *testing.T) {
	f, fake, auditPath := newTestForwarder(t)
	fake.FailNext = &fatalErr{}

	ok := f.Forward(context.Background(), 1, 101, 2, 5, "movies", false, Candidate{FileName: "clip.mp4", NormalizedName: "clip"})
	if ok {
		t.Fatal("expected Forward to fail")
	}
	if len(fake.Forwards) != 0 {
		t.Fatalf("expected no forward calls to be recorded on failure, got %d", len(fake.Forwards))
	}
	if _, err := os.Stat(auditPath); !os.IsNotExist(err) {
		t.Fatalf("expected no audit log on failure, stat error = %v", err)
	}
}

func TestForward_DryRunSkipsRPCAndAudit(t *testing.T) {
	f, fake, auditPath := newTestForwarder(t)

	ok := f.Forward(context.Background(), 1, 101, 2, 5, "movies", true, Candidate{FileName: "clip.mp4", NormalizedName: "clip"})
	if !ok {
		t.Fatal("expected Forward to report success in dry run")
	}
	if len(fake.Forwards) != 0 {
		t.Fatalf("expected no forward RPCs in dry run, got %d", len(fake.Forwards))
	}
	if _, err := os.Stat(auditPath); !os.IsNotExist(err) {
		t.Fatalf("expected no audit log in dry run, stat error = %v", err)
	}
}

type fatalErr struct{}

func (e *fatalErr) Error() string { return "fatal upstream error" }
