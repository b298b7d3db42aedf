package audit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newtron-network/ncbulk/pkg/bulk"
	"github.com/newtron-network/ncbulk/pkg/operation"
)

func applyOp(t *testing.T) *operation.Descriptor {
	t.Helper()
	op, err := operation.NewApply([]byte("<config><a/></config>"))
	if err != nil {
		t.Fatal(err)
	}
	return op
}

func newLogger(t *testing.T, rotation RotationConfig) *FileLogger {
	t.Helper()
	l, err := NewFileLogger(filepath.Join(t.TempDir(), "audit", "audit.log"), rotation)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestEvent_New(t *testing.T) {
	e := NewEvent("batch-1", "alice", "leaf1")

	if e.BatchID != "batch-1" || e.User != "alice" || e.Device != "leaf1" {
		t.Errorf("event = %+v", e)
	}
	if len(e.ID) != 36 {
		t.Errorf("ID = %q, want a UUID", e.ID)
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if NewEvent("b", "u", "d").ID == e.ID {
		t.Error("IDs must be unique")
	}
}

func TestEvent_WithOutcome(t *testing.T) {
	e := NewEvent("b", "alice", "leaf1").
		WithOperation(applyOp(t)).
		WithOutcome(bulk.Outcome{
			Device:   "leaf1",
			Category: bulk.CategoryRejected,
			Reason:   "operation rejected: in-use",
			Duration: time.Second,
		})

	if e.Kind != operation.KindApply || e.Operation != "apply (edit-config running)" {
		t.Errorf("operation = %s / %s", e.Kind, e.Operation)
	}
	if e.Success || e.Category != bulk.CategoryRejected || e.Error != "operation rejected: in-use" {
		t.Errorf("event = %+v", e)
	}
	if e.Duration != time.Second {
		t.Errorf("Duration = %v", e.Duration)
	}
}

func TestFilter_Matches(t *testing.T) {
	now := time.Now()
	e := &Event{
		BatchID:   "b1",
		User:      "alice",
		Device:    "leaf1",
		Kind:      operation.KindRead,
		Category:  bulk.CategoryTimeout,
		Timestamp: now,
	}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"batch", Filter{BatchID: "b1"}, true},
		{"other batch", Filter{BatchID: "b2"}, false},
		{"device", Filter{Device: "leaf2"}, false},
		{"user", Filter{User: "alice"}, true},
		{"kind", Filter{Kind: operation.KindApply}, false},
		{"category", Filter{Category: bulk.CategoryTimeout}, true},
		{"start after", Filter{StartTime: now.Add(time.Minute)}, false},
		{"end before", Filter{EndTime: now.Add(-time.Minute)}, false},
		{"window", Filter{StartTime: now.Add(-time.Minute), EndTime: now.Add(time.Minute)}, true},
		{"success only", Filter{SuccessOnly: true}, false},
		{"failure only", Filter{FailureOnly: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(e); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFileLogger_LogAndQuery(t *testing.T) {
	l := newLogger(t, RotationConfig{})

	for _, dev := range []string{"r1", "r2", "r3"} {
		e := NewEvent("b1", "alice", dev)
		e.Success = dev != "r2"
		if err := l.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	all, err := l.Query(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Device != "r3" || all[2].Device != "r1" {
		t.Fatalf("Query() devices = %v, want newest first", devices(all))
	}

	failed, _ := l.Query(Filter{FailureOnly: true})
	if len(failed) != 1 || failed[0].Device != "r2" {
		t.Errorf("failures = %v", devices(failed))
	}

	page, _ := l.Query(Filter{Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].Device != "r2" {
		t.Errorf("page = %v", devices(page))
	}

	none, _ := l.Query(Filter{Offset: 10})
	if len(none) != 0 {
		t.Errorf("offset beyond end = %v", devices(none))
	}
}

func devices(events []*Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Device
	}
	return out
}

func TestFileLogger_QuerySkipsMalformedLines(t *testing.T) {
	l := newLogger(t, RotationConfig{})
	if err := l.Log(NewEvent("b", "u", "r1")); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()
	if err := l.Log(NewEvent("b", "u", "r2")); err != nil {
		t.Fatal(err)
	}

	events, err := l.Query(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestFileLogger_QueryMissingFile(t *testing.T) {
	l := newLogger(t, RotationConfig{})
	os.Remove(l.Path())

	events, err := l.Query(Filter{})
	if err != nil || len(events) != 0 {
		t.Errorf("Query() = %v, %v", events, err)
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	l := newLogger(t, RotationConfig{MaxSize: 1, MaxBackups: 2})

	for i := 0; i < 5; i++ {
		if err := l.Log(NewEvent("b", "u", "r1")); err != nil {
			t.Fatalf("Log #%d: %v", i, err)
		}
	}

	backups, _ := filepath.Glob(l.Path() + ".*")
	if len(backups) != 2 {
		t.Errorf("kept %d backups, want 2: %v", len(backups), backups)
	}
	events, _ := l.Query(Filter{})
	if len(events) != 1 {
		t.Errorf("active file holds %d events, want 1", len(events))
	}
}

func TestFileLogger_LogAfterClose(t *testing.T) {
	l := newLogger(t, RotationConfig{})
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := l.Log(NewEvent("b", "u", "r1")); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("Log after Close = %v", err)
	}
}

func TestNewFileLogger_Errors(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileLogger(filepath.Join(blocker, "sub", "audit.log"), RotationConfig{}); err == nil {
		t.Error("expected error when the directory cannot be created")
	}
	if _, err := NewFileLogger(t.TempDir(), RotationConfig{}); err == nil {
		t.Error("expected error when the path is a directory")
	}
}

func TestRecorder(t *testing.T) {
	l := newLogger(t, RotationConfig{})
	rec := &Recorder{Logger: l, BatchID: "b42", User: "alice", Op: applyOp(t)}

	var wg sync.WaitGroup
	for _, o := range []bulk.Outcome{
		{Device: "r1", Succeeded: true},
		{Device: "r2", Category: bulk.CategoryAuth, Reason: "authentication failed"},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.TaskFinished(o)
		}()
	}
	wg.Wait()

	events, err := l.Query(Filter{BatchID: "b42"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	for _, e := range events {
		if e.User != "alice" || e.Kind != operation.KindApply {
			t.Errorf("event = %+v", e)
		}
		if e.Device == "r2" && (e.Success || e.Category != bulk.CategoryAuth) {
			t.Errorf("r2 event = %+v", e)
		}
	}
}
