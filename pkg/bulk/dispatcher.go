package bulk

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/newtron-network/ncbulk/pkg/operation"
	"github.com/newtron-network/ncbulk/pkg/util"
)

// DefaultTaskTimeout bounds one device task when Options.TaskTimeout is unset.
const DefaultTaskTimeout = 60 * time.Second

// Options tune a Dispatcher.
type Options struct {
	// MaxInFlight caps concurrent tasks. Zero or negative means one
	// worker per device. A task's slot is released when its timeout fires,
	// even if the gateway ignores the context and its session stays open,
	// so such a gateway can hold more than MaxInFlight sessions at once.
	// NetconfGateway aborts its session on context expiry.
	MaxInFlight int

	// TaskTimeout bounds each device task from slot acquisition to outcome.
	TaskTimeout time.Duration

	// OpenRate, when positive, limits session opens per second across the
	// batch, with OpenBurst opens allowed at once.
	OpenRate  float64
	OpenBurst int
}

// Observer is notified as each task finishes. Calls arrive concurrently
// from worker goroutines.
type Observer interface {
	TaskFinished(o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(o Outcome)

// TaskFinished calls f(o).
func (f ObserverFunc) TaskFinished(o Outcome) {
	f(o)
}

// Dispatcher runs one task per device on a bounded worker pool.
type Dispatcher struct {
	gateway   Gateway
	sink      Sink
	opts      Options
	limiter   *rate.Limiter
	observers []Observer
}

// NewDispatcher returns a Dispatcher that opens sessions through gw.
func NewDispatcher(gw Gateway, opts Options) *Dispatcher {
	d := &Dispatcher{gateway: gw, opts: opts}
	if opts.OpenRate > 0 {
		burst := opts.OpenBurst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.OpenRate), burst)
	}
	return d
}

// WithSink sets the destination of read results.
func (d *Dispatcher) WithSink(s Sink) *Dispatcher {
	d.sink = s
	return d
}

// Observe registers an observer.
func (d *Dispatcher) Observe(o Observer) *Dispatcher {
	d.observers = append(d.observers, o)
	return d
}

func (d *Dispatcher) taskTimeout() time.Duration {
	if d.opts.TaskTimeout <= 0 {
		return DefaultTaskTimeout
	}
	return d.opts.TaskTimeout
}

// Dispatch runs op against every entry of devices, duplicates included, and
// blocks until each has produced its outcome. Outcomes are returned in no
// particular order; one device's failure never affects another. The only
// error is an invalid op, reported before any task starts.
func (d *Dispatcher) Dispatch(ctx context.Context, devices []string, op *operation.Descriptor) ([]Outcome, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(devices))
	if len(devices) == 0 {
		return outcomes, nil
	}

	limit := d.opts.MaxInFlight
	if limit <= 0 || limit > len(devices) {
		limit = len(devices)
	}
	util.Debugf("dispatching %s to %d devices (%d in flight)", op, len(devices), limit)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, device := range devices {
		g.Go(func() error {
			outcomes[i] = d.runOne(ctx, device, op)
			d.notify(outcomes[i])
			return nil
		})
	}
	g.Wait()

	return outcomes, nil
}

func (d *Dispatcher) runOne(ctx context.Context, device string, op *operation.Descriptor) Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.taskTimeout())
	defer cancel()

	if d.limiter != nil {
		start := time.Now()
		if err := d.limiter.Wait(ctx); err != nil {
			if ctx.Err() == context.Canceled {
				return failed(device, CategoryCanceled, "canceled: "+err.Error(), time.Since(start))
			}
			return failed(device, CategoryTimeout, "timeout: waiting to open session: "+err.Error(), time.Since(start))
		}
	}
	return RunTask(ctx, d.gateway, device, op, d.sink)
}

func (d *Dispatcher) notify(o Outcome) {
	for _, obs := range d.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					util.WithDevice(o.Device).Errorf("outcome observer panicked: %v", r)
				}
			}()
			obs.TaskFinished(o)
		}()
	}
}
