package bulk

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/newtron-network/ncbulk/pkg/netconf"
	"github.com/newtron-network/ncbulk/pkg/operation"
	"github.com/newtron-network/ncbulk/pkg/util"
)

var errTaskPanic = errors.New("task panicked")

// Sink receives read results as soon as each device's task completes.
// Implementations are called concurrently, once per task, keyed by device.
type Sink interface {
	WriteDevice(device string, doc []byte) error
}

type taskResult struct {
	payload []byte
	err     error
}

// RunTask executes op against one device and always returns an Outcome:
// errors and panics from the gateway are converted, never propagated. The
// session is closed on every path. When ctx expires first, RunTask returns a
// timeout outcome without waiting for the gateway to give up.
//
// On a successful read the payload is handed to sink; a sink error or panic is
// logged and does not change the outcome.
func RunTask(ctx context.Context, gw Gateway, device string, op *operation.Descriptor, sink Sink) Outcome {
	start := time.Now()
	log := util.WithDevice(device)

	done := make(chan taskResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- taskResult{err: fmt.Errorf("%w: %v", errTaskPanic, r)}
			}
		}()
		payload, err := execute(ctx, gw, device, op)
		done <- taskResult{payload: payload, err: err}
	}()

	var res taskResult
	select {
	case res = <-done:
	case <-ctx.Done():
		select {
		case res = <-done:
		default:
			res = taskResult{err: ctx.Err()}
		}
	}
	elapsed := time.Since(start)

	if res.err != nil {
		cat, reason := classify(res.err)
		log.WithField("category", cat).Errorf("unable to complete %s: %s", op.Kind, reason)
		return failed(device, cat, reason, elapsed)
	}

	if op.Kind == operation.KindRead && sink != nil {
		writeOutput(sink, device, res.payload)
	}
	log.Debugf("%s completed in %s", op.Kind, elapsed.Round(time.Millisecond))
	return succeeded(device, res.payload, elapsed)
}

// writeOutput hands a read result to sink. Errors and panics are logged only.
func writeOutput(sink Sink, device string, payload []byte) {
	log := util.WithDevice(device)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("read output writer panicked: %v", r)
		}
	}()
	if err := sink.WriteDevice(device, payload); err != nil {
		log.Errorf("writing read output: %v", err)
	}
}

func execute(ctx context.Context, gw Gateway, device string, op *operation.Descriptor) ([]byte, error) {
	sess, err := gw.Open(ctx, device)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			util.WithDevice(device).Debugf("closing session: %v", cerr)
		}
	}()

	switch op.Kind {
	case operation.KindRead:
		return sess.Get(ctx, op.Read.Filter())
	case operation.KindApply:
		return nil, sess.EditConfig(ctx, op.Apply.Target, op.Apply.Payload)
	default:
		return nil, fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
}

// classify maps a task error onto a category and a human-readable reason.
func classify(err error) (FailureCategory, string) {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return CategoryTimeout, "timeout: " + err.Error()
	case errors.Is(err, context.Canceled):
		return CategoryCanceled, "canceled: " + err.Error()
	case errors.Is(err, netconf.ErrRPC):
		return CategoryRejected, "operation rejected: " + err.Error()
	case errors.Is(err, netconf.ErrAuth):
		return CategoryAuth, err.Error()
	case errors.Is(err, netconf.ErrDial):
		return CategoryConnect, err.Error()
	case errors.Is(err, netconf.ErrProtocol), errors.Is(err, netconf.ErrClosed):
		return CategoryProtocol, err.Error()
	default:
		return CategoryInternal, err.Error()
	}
}
