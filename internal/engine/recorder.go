package engine

import (
	"github.com/vesaa/signalboost/internal/netinfo"
)

// recorders fans events out to every registered Recorder.
type recorders []Recorder

func (rs recorders) RecordSessionStart(info SessionInfo) {
	for _, r := range rs {
		r.RecordSessionStart(info)
	}
}

func (rs recorders) RecordSnapshot(sessionID string, snap netinfo.Snapshot, value float64) {
	for _, r := range rs {
		r.RecordSnapshot(sessionID, snap, value)
	}
}

func (rs recorders) RecordApply(report ApplyReport) {
	for _, r := range rs {
		r.RecordApply(report)
	}
}

func (rs recorders) RecordSessionEnd(info SessionInfo, report RestoreReport) {
	for _, r := range rs {
		r.RecordSessionEnd(info, report)
	}
}
