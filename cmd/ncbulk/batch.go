package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/ncbulk/pkg/audit"
	"github.com/newtron-network/ncbulk/pkg/bulk"
	"github.com/newtron-network/ncbulk/pkg/cli"
	"github.com/newtron-network/ncbulk/pkg/config"
	"github.com/newtron-network/ncbulk/pkg/netconf"
	"github.com/newtron-network/ncbulk/pkg/operation"
	"github.com/newtron-network/ncbulk/pkg/output"
	"github.com/newtron-network/ncbulk/pkg/settings"
	"github.com/newtron-network/ncbulk/pkg/store"
	"github.com/newtron-network/ncbulk/pkg/util"
)

// batch runs one operation over a device list with everything around it:
// progress, audit, per-device output, the consolidated report and the
// optional Redis publication.
type batch struct {
	cfg   *config.Config
	creds netconf.Credentials
	out   io.Writer

	// jsonReport also writes config_report.json for applies.
	jsonReport bool

	// gateway defaults to NETCONF over SSH with cfg and creds.
	gateway bulk.Gateway

	// publisher defaults to the Redis store when one is configured.
	publisher reportPublisher
}

type reportPublisher interface {
	Publish(ctx context.Context, r *bulk.Report)
}

// run dispatches op and persists the results. The returned error is only
// set when the consolidated report could not be written; device failures
// are in the report.
func (b *batch) run(ctx context.Context, devices []string, op *operation.Descriptor) (*bulk.Report, error) {
	id := uuid.NewString()
	log := util.WithBatch(id, op.String())

	sink, err := output.NewDirWriter(b.cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	gw := b.gateway
	if gw == nil {
		gw = bulk.NewNetconfGateway(b.cfg.Netconf(b.creds))
	}
	d := bulk.NewDispatcher(gw, b.cfg.DispatchOptions()).Observe(cli.NewProgress(b.out, devices))
	if op.Kind == operation.KindRead {
		d.WithSink(sink)
	}

	if al := b.openAudit(); al != nil {
		defer al.Close()
		d.Observe(&audit.Recorder{Logger: al, BatchID: id, User: b.creds.Username, Op: op})
	}

	fmt.Fprintf(b.out, "%s: %s on %d devices\n", cli.Bold("ncbulk"), op, len(devices))
	log.Infof("starting batch on %d devices", len(devices))

	outcomes, err := d.Dispatch(ctx, devices, op)
	if err != nil {
		return nil, err
	}
	report := bulk.Aggregate(op, outcomes, time.Now())
	report.ID = id

	reportErr := b.writeReports(report)
	b.publish(ctx, report)

	cli.PrintSummary(b.out, report)
	if op.Kind == operation.KindRead && report.Summary.Succeeded > 0 {
		fmt.Fprintf(b.out, "Results saved in %s\n", b.cfg.OutputDir)
	}
	log.Infof("batch done: %d succeeded, %d failed", report.Summary.Succeeded, report.Summary.Failed)
	return report, reportErr
}

// writeReports writes the consolidated report of an apply. Reads produce
// per-device files only.
func (b *batch) writeReports(r *bulk.Report) error {
	if r.Operation.Kind != operation.KindApply {
		return nil
	}
	path, err := output.WriteHTMLReport(b.cfg.OutputDir, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(b.out, "Report saved to %s\n", path)

	if b.jsonReport {
		path, err := output.WriteJSONReport(b.cfg.OutputDir, r)
		if err != nil {
			return err
		}
		fmt.Fprintf(b.out, "Report saved to %s\n", path)
	}
	return nil
}

func (b *batch) openAudit() audit.Logger {
	path := b.cfg.AuditLog
	if path == "" {
		path = defaultAuditPath()
	}
	l, err := audit.NewFileLogger(path, audit.RotationConfig{
		MaxSize:    10 * 1024 * 1024, // 10MB
		MaxBackups: 10,
	})
	if err != nil {
		util.Warnf("Could not initialize audit logging: %v", err)
		return nil
	}
	return l
}

// publish stores r even when the batch was interrupted.
func (b *batch) publish(ctx context.Context, r *bulk.Report) {
	ctx = context.WithoutCancel(ctx)
	if b.publisher != nil {
		b.publisher.Publish(ctx, r)
		return
	}
	if !b.cfg.RedisEnabled() {
		return
	}
	s := store.New(b.cfg.StoreOptions())
	defer s.Close()
	(&store.Publisher{Store: s}).Publish(ctx, r)
}

func defaultAuditPath() string {
	return filepath.Join(filepath.Dir(settings.DefaultSettingsPath()), "audit.log")
}

func parseDuration(flag, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: --%s: invalid duration %q", util.ErrInvalidConfig, flag, v)
	}
	return d, nil
}
