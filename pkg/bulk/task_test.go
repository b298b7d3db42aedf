package bulk

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/ncbulk/pkg/netconf"
	"github.com/newtron-network/ncbulk/pkg/operation"
)

func mustRead(t *testing.T) *operation.Descriptor {
	t.Helper()
	op, err := operation.NewRead(operation.FilterSubtree, "<system/>")
	if err != nil {
		t.Fatal(err)
	}
	return op
}

func mustApply(t *testing.T) *operation.Descriptor {
	t.Helper()
	op, err := operation.NewApply([]byte("<config><hostname>x</hostname></config>"))
	if err != nil {
		t.Fatal(err)
	}
	return op
}

func TestRunTask_ReadSuccess(t *testing.T) {
	gw := newFakeGateway(nil)
	sink := &memSink{}

	o := RunTask(context.Background(), gw, "a.example", mustRead(t), sink)

	if !o.Succeeded || o.Reason != "" || o.Category != CategoryNone {
		t.Fatalf("outcome = %+v", o)
	}
	if !strings.Contains(string(o.Payload), "a.example") {
		t.Errorf("Payload = %s", o.Payload)
	}
	if sink.docs["a.example"] != string(o.Payload) {
		t.Errorf("sink = %v", sink.docs)
	}
	if opened, closed, _ := gw.stats(); opened != 1 || closed != 1 {
		t.Errorf("opened/closed = %d/%d, want 1/1", opened, closed)
	}
}

func TestRunTask_ApplyHasNoPayloadAndNoSinkWrite(t *testing.T) {
	sink := &memSink{}
	o := RunTask(context.Background(), newFakeGateway(nil), "a.example", mustApply(t), sink)

	if !o.Succeeded {
		t.Fatalf("outcome = %+v", o)
	}
	if o.Payload != nil {
		t.Errorf("apply payload = %s, want none", o.Payload)
	}
	if len(sink.docs) != 0 {
		t.Errorf("apply must not write per-device output: %v", sink.docs)
	}
}

func TestRunTask_Rejected(t *testing.T) {
	gw := newFakeGateway(map[string]behavior{
		"a.example": {opErr: &netconf.RPCError{Tag: "access-denied", Message: "not allowed"}},
	})
	sink := &memSink{}

	o := RunTask(context.Background(), gw, "a.example", mustRead(t), sink)

	if o.Succeeded || o.Category != CategoryRejected {
		t.Fatalf("outcome = %+v", o)
	}
	if !strings.HasPrefix(o.Reason, "operation rejected") || !strings.Contains(o.Reason, "not allowed") {
		t.Errorf("Reason = %q", o.Reason)
	}
	if len(sink.docs) != 0 {
		t.Error("a rejected read must not produce output")
	}
	if _, closed, _ := gw.stats(); closed != 1 {
		t.Errorf("session not closed after rejection")
	}
}

func TestRunTask_OpenFailure(t *testing.T) {
	gw := newFakeGateway(map[string]behavior{
		"a.example": {openErr: fmt.Errorf("%w: a.example:830: connection refused", netconf.ErrDial)},
	})

	o := RunTask(context.Background(), gw, "a.example", mustApply(t), nil)

	if o.Succeeded || o.Category != CategoryConnect || o.Reason == "" {
		t.Fatalf("outcome = %+v", o)
	}
	if opened, closed, _ := gw.stats(); opened != 0 || closed != 0 {
		t.Errorf("opened/closed = %d/%d", opened, closed)
	}
}

func TestRunTask_PanicIsContained(t *testing.T) {
	gw := newFakeGateway(map[string]behavior{
		"a.example": {panicMsg: "decoder exploded"},
	})

	o := RunTask(context.Background(), gw, "a.example", mustApply(t), nil)

	if o.Succeeded || o.Category != CategoryInternal {
		t.Fatalf("outcome = %+v", o)
	}
	if !strings.Contains(o.Reason, "decoder exploded") {
		t.Errorf("Reason = %q", o.Reason)
	}
	if _, closed, _ := gw.stats(); closed != 1 {
		t.Error("session must be released when the operation panics")
	}
}

func TestRunTask_ContextExpiryWithUnresponsiveGateway(t *testing.T) {
	gw := newFakeGateway(map[string]behavior{"a.example": {block: true}})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	o := RunTask(ctx, gw, "a.example", mustApply(t), nil)

	if time.Since(start) > 2*time.Second {
		t.Fatalf("RunTask did not return at context expiry")
	}
	if o.Succeeded || o.Category != CategoryTimeout {
		t.Fatalf("outcome = %+v", o)
	}
	if !strings.HasPrefix(o.Reason, "timeout") {
		t.Errorf("Reason = %q", o.Reason)
	}
}

func TestRunTask_SinkFailureKeepsSuccess(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	o := RunTask(context.Background(), newFakeGateway(nil), "a.example", mustRead(t), sink)
	if !o.Succeeded {
		t.Errorf("sink failure changed the outcome: %+v", o)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureCategory
	}{
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), CategoryTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, CategoryTimeout},
		{"canceled", context.Canceled, CategoryCanceled},
		{"rpc error", &netconf.RPCError{Tag: "in-use"}, CategoryRejected},
		{"rpc errors", netconf.RPCErrors{{Tag: "a"}, {Tag: "b"}}, CategoryRejected},
		{"auth", fmt.Errorf("%w: r1:830", netconf.ErrAuth), CategoryAuth},
		{"dial", fmt.Errorf("%w: r1:830", netconf.ErrDial), CategoryConnect},
		{"protocol", fmt.Errorf("%w: bad framing", netconf.ErrProtocol), CategoryProtocol},
		{"closed", netconf.ErrClosed, CategoryProtocol},
		{"unknown", errors.New("boom"), CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := classify(tt.err)
			if got != tt.want {
				t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
			if reason == "" {
				t.Error("reason must not be empty")
			}
		})
	}
}
