package diagnosis

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Auditor receives one event per step transition, correlated by run id and
// step name. Statuses are "started", "completed" and "failed".
type Auditor interface {
	Record(runID, step, action, status, detail string)
}

// Stats receives step and run timings for in-process metrics. Implementations
// must be safe for concurrent use; evidence branches report from goroutines.
type Stats interface {
	StepObserved(step string, elapsed time.Duration, failed bool)
	RunObserved(elapsed time.Duration, fatal bool)
}

// runStep executes one pipeline step under a span, records audit events, and
// applies the failure policy: the first error of any step lands in
// rec.Error; a foundational failure additionally sets rec.FatalStep and is
// returned so the caller aborts the run, while a contained failure returns
// the zero value and a nil-or-not error the caller may ignore.
//
// The returned error is the step's own error in both cases; callers decide
// what to do with it based on the foundational flag they passed.
func runStep[T any](ctx context.Context, p *Pipeline, rec *RunRecord, step string, foundational bool, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := otel.Tracer("aura/internal/diagnosis").Start(ctx, "step."+step)
	span.SetAttributes(
		attribute.String("run.id", rec.RunID),
		attribute.Bool("step.foundational", foundational),
	)
	defer span.End()

	p.audit(rec.RunID, step, "execute", "started", "")
	start := time.Now()
	out, err := fn(ctx)
	elapsed := time.Since(start)
	if p.Stats != nil {
		p.Stats.StepObserved(step, elapsed, err != nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.audit(rec.RunID, step, "execute", "failed", err.Error())
		p.logf("run %s step %s failed after %s: %v", rec.RunID, step, elapsed.Round(time.Millisecond), err)
		rec.setError(err)
		if foundational {
			rec.FatalStep = step
		}
		var zero T
		return zero, err
	}
	p.audit(rec.RunID, step, "execute", "completed", "")
	return out, nil
}

// setError keeps only the first failure of the run. Evidence branches call
// this concurrently.
func (r *RunRecord) setError(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.Error == "" {
		r.Error = err.Error()
	}
	r.errMu.Unlock()
}
