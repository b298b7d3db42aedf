package audit

import (
	"github.com/newtron-network/ncbulk/pkg/bulk"
	"github.com/newtron-network/ncbulk/pkg/operation"
	"github.com/newtron-network/ncbulk/pkg/util"
)

// Recorder is a bulk.Observer that writes one event per finished task.
type Recorder struct {
	Logger  Logger
	BatchID string
	User    string
	Op      *operation.Descriptor
}

var _ bulk.Observer = (*Recorder)(nil)

// TaskFinished logs o. A write failure is reported on the process log only.
func (r *Recorder) TaskFinished(o bulk.Outcome) {
	e := NewEvent(r.BatchID, r.User, o.Device).WithOperation(r.Op).WithOutcome(o)
	if err := r.Logger.Log(e); err != nil {
		util.WithDevice(o.Device).Warnf("audit: %v", err)
	}
}
