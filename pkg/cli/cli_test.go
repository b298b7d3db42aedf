package cli

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newtron-network/ncbulk/pkg/bulk"
	"github.com/newtron-network/ncbulk/pkg/operation"
)

func noColor(t *testing.T) {
	t.Helper()
	prev := colorEnabled
	colorEnabled = false
	t.Cleanup(func() { colorEnabled = prev })
}

func TestColors(t *testing.T) {
	prev := colorEnabled
	defer func() { colorEnabled = prev }()

	colorEnabled = true
	if got := Green("ok"); got != "\033[32mok\033[0m" {
		t.Errorf("Green() = %q", got)
	}
	if got := Status(false); got != "\033[31mFAILED\033[0m" {
		t.Errorf("Status(false) = %q", got)
	}

	colorEnabled = false
	for _, f := range []func(string) string{Green, Red, Bold, Dim} {
		if got := f("x"); got != "x" {
			t.Errorf("color with NO_COLOR = %q", got)
		}
	}
}

func TestDotPad(t *testing.T) {
	tests := []struct {
		input string
		width int
		want  string
	}{
		{"leaf1", 12, "leaf1 ......"},
		{"ok", 10, "ok " + strings.Repeat(".", 7)},
		{"abcde", 6, "abcde"},
		{"abcdefgh", 6, "abcdefgh"},
		{"x", 0, "x"},
	}
	for _, tt := range tests {
		if got := DotPad(tt.input, tt.width); got != tt.want {
			t.Errorf("DotPad(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"a much longer reason", 10, "a much ..."},
		{"abcdef", 2, "ab"},
		{"héllo wörld", 8, "héllo..."},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(1234567 * time.Nanosecond); got != "1ms" {
		t.Errorf("Duration(1.23ms) = %s", got)
	}
	if got := Duration(2340 * time.Millisecond); got != "2.3s" {
		t.Errorf("Duration(2.34s) = %s", got)
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "NAME", "VALUE").WithPrefix("  ")
	tbl.Row("port", "830")
	tbl.Row("output_dir", "out")
	tbl.Flush()

	want := "" +
		"  NAME        VALUE\n" +
		"  ----        -----\n" +
		"  port        830\n" +
		"  output_dir  out\n"
	if buf.String() != want {
		t.Errorf("table =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestTable_EmptyPrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	NewTableTo(&buf, "A", "B").Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}
}

func TestProgress(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	p := NewProgress(&buf, []string{"r1", "router-two"})

	var wg sync.WaitGroup
	for _, o := range []bulk.Outcome{
		{Device: "r1", Succeeded: true, Duration: 5 * time.Millisecond},
		{Device: "router-two", Category: bulk.CategoryTimeout, Reason: "timeout: no reply"},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.TaskFinished(o)
		}()
	}
	wg.Wait()

	out := buf.String()
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("progress output:\n%s", out)
	}
	for _, want := range []string{"[1/2]", "[2/2]", "r1 ....", "OK  (5ms)", "FAILED", "timeout: no reply"} {
		if !strings.Contains(out, want) {
			t.Errorf("progress output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	noColor(t)
	op, err := operation.NewRead(operation.FilterXPath, "/interfaces")
	if err != nil {
		t.Fatal(err)
	}
	r := bulk.Aggregate(op, []bulk.Outcome{
		{Device: "b", Category: bulk.CategoryAuth, Reason: "authentication failed"},
		{Device: "a", Succeeded: true},
	}, time.Now())
	r.ID = "1234"

	var buf bytes.Buffer
	PrintSummary(&buf, r)
	out := buf.String()

	for _, want := range []string{
		"DEVICE", "CATEGORY",
		"read (xpath filter): 2 devices, 1 succeeded, 1 failed",
		"authentication failed",
		"batch 1234",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "a ") > strings.Index(out, "b ") {
		t.Errorf("rows not in report order:\n%s", out)
	}
}
