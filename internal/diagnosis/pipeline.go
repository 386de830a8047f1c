package diagnosis

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Step names as they appear in audit events and metrics.
const (
	StepSymptomExtraction = "symptom_extraction"
	StepPatientLookup     = "patient_lookup"
	StepLiteratureSearch  = "literature_search"
	StepBroadSearch       = "broad_literature_search"
	StepCaseSearch        = "case_search"
	StepImageAnalysis     = "image_analysis"
	StepCritique          = "evidence_critique"
	StepReportSynthesis   = "report_synthesis"
	StepDrugCheck         = "drug_interaction_check"
)

// Pipeline wires the collaborators into the three-phase diagnostic run:
// a sequential Foundation phase, a parallel Evidence phase, and a
// sequential Synthesis phase. The zero value is unusable; populate every
// collaborator except Imaging (optional when runs never carry images),
// Stats and Log.
type Pipeline struct {
	Patients   PatientDirectory
	Extractor  SymptomExtractor
	Literature EvidenceSearcher
	Broad      EvidenceSearcher
	Cases      EvidenceSearcher
	Imaging    ImageAnalyzer
	Critic     Critic
	Reporter   ReportWriter
	Drugs      DrugChecker

	Matcher *Matcher
	Audit   Auditor
	Stats   Stats
	Log     *log.Logger

	// BranchTimeout bounds each Evidence branch; the run as a whole is
	// bounded by the caller's context.
	BranchTimeout time.Duration
	MaxResults    int
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Log != nil {
		p.Log.Printf(format, args...)
	}
}

func (p *Pipeline) audit(runID, step, action, status, detail string) {
	if p.Audit != nil {
		p.Audit.Record(runID, step, action, status, detail)
	}
}

func (p *Pipeline) branchTimeout() time.Duration {
	if p.BranchTimeout > 0 {
		return p.BranchTimeout
	}
	return 45 * time.Second
}

func (p *Pipeline) maxResults() int {
	if p.MaxResults > 0 {
		return p.MaxResults
	}
	return 5
}

// Run executes one diagnostic run over the record's inputs and always
// returns the same record, filled as far as the run got. It never panics
// and never returns an error value: fatal conditions are reported through
// rec.Error and rec.FatalStep, contained failures through rec.Error alone.
func (p *Pipeline) Run(ctx context.Context, rec *RunRecord) *RunRecord {
	ctx, span := otel.Tracer("aura/internal/diagnosis").Start(ctx, "diagnosis.run")
	span.SetAttributes(
		attribute.String("run.id", rec.RunID),
		attribute.Int("patient.id", rec.PatientID),
	)
	defer span.End()

	start := time.Now()
	p.audit(rec.RunID, "pipeline", "run", "started", "")
	defer func() {
		rec.FinishedAt = time.Now()
		if p.Stats != nil {
			p.Stats.RunObserved(time.Since(start), rec.FatalStep != "")
		}
		status := "completed"
		if rec.FatalStep != "" {
			status = "failed"
		}
		p.audit(rec.RunID, "pipeline", "run", status, rec.Error)
		p.logf("run %s finished in %s (fatal_step=%q error=%q)",
			rec.RunID, time.Since(start).Round(time.Millisecond), rec.FatalStep, rec.Error)
	}()

	if !p.foundation(ctx, rec) {
		return rec
	}
	p.evidence(ctx, rec)
	p.synthesis(ctx, rec)
	return rec
}

// foundation runs the two sequential foundational steps. Either failure
// aborts the run.
func (p *Pipeline) foundation(ctx context.Context, rec *RunRecord) bool {
	symptoms, err := runStep(ctx, p, rec, StepSymptomExtraction, true, func(ctx context.Context) (SymptomSet, error) {
		return p.Extractor.ExtractSymptoms(ctx, rec.SymptomText)
	})
	if err != nil {
		return false
	}
	rec.StructuredSymptoms = &symptoms

	patient, err := runStep(ctx, p, rec, StepPatientLookup, true, func(ctx context.Context) (PatientRecord, error) {
		return p.Patients.GetPatient(ctx, rec.PatientID)
	})
	if err != nil {
		return false
	}
	rec.PatientRecord = &patient
	return true
}

// evidence fans the independent evidence branches out on goroutines and
// merges results in launch order. Each branch gets its own timeout and
// writes a disjoint record field, so a failed or slow branch never disturbs
// the others.
func (p *Pipeline) evidence(ctx context.Context, rec *RunRecord) {
	ctx, span := otel.Tracer("aura/internal/diagnosis").Start(ctx, "phase.evidence")
	defer span.End()

	rec.LiteratureEvidence = []Evidence{}
	rec.BroadEvidence = []Evidence{}
	rec.CaseEvidence = []Evidence{}

	query := BuildQuery(p.Matcher, *rec.StructuredSymptoms, rec.PatientRecord.Age)
	caseQ := caseQuery(*rec.StructuredSymptoms, rec.PatientRecord.Age)
	span.SetAttributes(attribute.String("evidence.query", query))
	if query == "" {
		p.logf("run %s: no symptom terms, skipping literature searches", rec.RunID)
	}

	var wg sync.WaitGroup
	launch := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	branch := func(ctx context.Context, step string, s EvidenceSearcher, q string) []Evidence {
		ctx, cancel := context.WithTimeout(ctx, p.branchTimeout())
		defer cancel()
		out, err := runStep(ctx, p, rec, step, false, func(ctx context.Context) ([]Evidence, error) {
			return s.Search(ctx, q, p.maxResults())
		})
		if err != nil || out == nil {
			return []Evidence{}
		}
		return out
	}

	if query != "" {
		launch(func() { rec.LiteratureEvidence = branch(ctx, StepLiteratureSearch, p.Literature, query) })
		launch(func() { rec.BroadEvidence = branch(ctx, StepBroadSearch, p.Broad, query) })
	}
	if caseQ != "" {
		launch(func() { rec.CaseEvidence = branch(ctx, StepCaseSearch, p.Cases, caseQ) })
	}
	if len(rec.ImageBytes) > 0 && p.Imaging != nil {
		launch(func() {
			bctx, cancel := context.WithTimeout(ctx, p.branchTimeout())
			defer cancel()
			findings, err := runStep(bctx, p, rec, StepImageAnalysis, false, func(ctx context.Context) (string, error) {
				return p.Imaging.DescribeImage(ctx, rec.ImageBytes)
			})
			if err == nil {
				rec.ImagingFindings = findings
			}
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		rec.setError(err)
	}
}

// synthesis runs the sequential contained steps: critique, report plus
// triage, then the drug safety check.
func (p *Pipeline) synthesis(ctx context.Context, rec *RunRecord) {
	ctx, span := otel.Tracer("aura/internal/diagnosis").Start(ctx, "phase.synthesis")
	defer span.End()

	critique, err := runStep(ctx, p, rec, StepCritique, false, func(ctx context.Context) (Critique, error) {
		return p.Critic.CritiqueEvidence(ctx, rec)
	})
	if err == nil {
		rec.Critique = &critique
	}

	report, err := runStep(ctx, p, rec, StepReportSynthesis, false, func(ctx context.Context) (string, error) {
		return p.Reporter.SynthesizeReport(ctx, rec)
	})
	if err == nil && report != "" {
		rec.FinalReport = report
		rec.TriageLevel = ExtractTriage(report)
	}

	conditions := potentialConditions(rec.FinalReport)
	if len(conditions) == 0 || p.Drugs == nil {
		return
	}
	drugRep, err := runStep(ctx, p, rec, StepDrugCheck, false, func(ctx context.Context) (DrugReport, error) {
		history := ""
		if rec.PatientRecord != nil {
			history = rec.PatientRecord.MedicalHistory
		}
		return p.Drugs.CheckInteractions(ctx, conditions, history)
	})
	if err == nil && len(drugRep.Warnings) > 0 {
		rec.DrugWarnings = drugRep.Warnings
		var b strings.Builder
		b.WriteString(rec.FinalReport)
		b.WriteString("\n\n## Safety Warnings\n\n")
		for _, w := range drugRep.Warnings {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
		rec.FinalReport = strings.TrimRight(b.String(), "\n")
	}
}

// potentialConditions pulls the bulleted condition names out of the
// report's "Potential Considerations" section.
func potentialConditions(report string) []string {
	_, section, found := strings.Cut(report, "Potential Considerations")
	if !found {
		return nil
	}
	var out []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "*") || strings.HasPrefix(line, "-") {
			name := strings.TrimSpace(strings.TrimLeft(line, "*- "))
			if name != "" {
				out = append(out, name)
			}
		} else if strings.HasPrefix(line, "## ") {
			break
		}
	}
	return out
}
