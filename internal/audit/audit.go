// Package audit records the per-step trail of a diagnostic run. Every event
// is written to a prefixed logger; an optional sink persists it for
// compliance review.
package audit

import "log"

// Sink persists audit events. The store implements it; a nil sink means
// log-only operation.
type Sink interface {
	RecordEvent(runID, step, action, status, detail string)
}

// Recorder implements diagnosis.Auditor. Events are formatted as
// "[run_id] step.action | status | detail" so the trail can be grepped by
// run id or step.
type Recorder struct {
	Log  *log.Logger
	Sink Sink
}

func NewRecorder(logger *log.Logger, sink Sink) *Recorder {
	return &Recorder{Log: logger, Sink: sink}
}

func (r *Recorder) Record(runID, step, action, status, detail string) {
	if r == nil {
		return
	}
	if r.Log != nil {
		if detail != "" {
			r.Log.Printf("[%s] %s.%s | %s | %s", runID, step, action, status, detail)
		} else {
			r.Log.Printf("[%s] %s.%s | %s", runID, step, action, status)
		}
	}
	if r.Sink != nil {
		r.Sink.RecordEvent(runID, step, action, status, detail)
	}
}
