package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
)

type fakeDirectory struct {
	rec    PatientRecord
	err    error
	called bool
}

func (f *fakeDirectory) GetPatient(_ context.Context, id int) (PatientRecord, error) {
	f.called = true
	if f.err != nil {
		return PatientRecord{}, f.err
	}
	rec := f.rec
	rec.ID = id
	return rec, nil
}

type fakeExtractor struct {
	set SymptomSet
	err error
}

func (f *fakeExtractor) ExtractSymptoms(context.Context, string) (SymptomSet, error) {
	return f.set, f.err
}

type fakeSearcher struct {
	out []Evidence
	err error

	mu       sync.Mutex
	gotQuery string
	called   bool
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]Evidence, error) {
	f.mu.Lock()
	f.gotQuery = query
	f.called = true
	f.mu.Unlock()
	return f.out, f.err
}

type fakeImager struct {
	findings string
	err      error
	called   bool
}

func (f *fakeImager) DescribeImage(context.Context, []byte) (string, error) {
	f.called = true
	return f.findings, f.err
}

type fakeCritic struct {
	crit Critique
	err  error
}

func (f *fakeCritic) CritiqueEvidence(context.Context, *RunRecord) (Critique, error) {
	return f.crit, f.err
}

type fakeReporter struct {
	report string
	err    error
}

func (f *fakeReporter) SynthesizeReport(context.Context, *RunRecord) (string, error) {
	return f.report, f.err
}

type fakeDrugs struct {
	rep           DrugReport
	err           error
	gotConditions []string
	gotHistory    string
}

func (f *fakeDrugs) CheckInteractions(_ context.Context, conditions []string, history string) (DrugReport, error) {
	f.gotConditions = conditions
	f.gotHistory = history
	return f.rep, f.err
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Record(runID, step, action, status, detail string) {
	a.mu.Lock()
	a.events = append(a.events, fmt.Sprintf("%s %s.%s %s", runID, step, action, status))
	a.mu.Unlock()
}

func (a *memAudit) has(substr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

const testReport = "# Diagnostic Report\n\n## Potential Considerations\n* Scarlet Fever\n* Kawasaki Disease\n\nTRIAGE_LEVEL: Priority"

func newTestPipeline() (*Pipeline, *memAudit) {
	audit := &memAudit{}
	p := &Pipeline{
		Patients:  &fakeDirectory{rec: PatientRecord{Name: "Alice", Age: 6, MedicalHistory: "asthma"}},
		Extractor: &fakeExtractor{set: SymptomSet{Symptoms: []Symptom{{Name: "fever"}, {Name: "rash", Qualifiers: []string{"sandpaper rash"}}}}},
		Literature: &fakeSearcher{out: []Evidence{
			{SourceID: "PMID:1", Snippet: "lit", Confidence: 0.8},
		}},
		Broad: &fakeSearcher{out: []Evidence{
			{SourceID: "openalex:W1", Snippet: "broad", Confidence: 0.7},
		}},
		Cases:    &fakeSearcher{out: []Evidence{{SourceID: "case:3", Snippet: "case", Confidence: 0.6}}},
		Imaging:  &fakeImager{findings: "erythematous macules"},
		Critic:   &fakeCritic{crit: Critique{Gaps: []string{"no labs"}}},
		Reporter: &fakeReporter{report: testReport},
		Drugs:    &fakeDrugs{rep: DrugReport{Risk: "LOW"}},
		Matcher:  NewMatcher(nil),
		Audit:    audit,
	}
	return p, audit
}

func TestRunHappyPath(t *testing.T) {
	p, audit := newTestPipeline()
	rec := p.Run(context.Background(), NewRunRecord("run-1", 7, "fever with sandpaper rash", nil))

	if rec.Error != "" || rec.FatalStep != "" {
		t.Fatalf("unexpected failure: error=%q fatal=%q", rec.Error, rec.FatalStep)
	}
	if rec.PatientRecord == nil || rec.PatientRecord.ID != 7 {
		t.Fatalf("patient record not populated: %+v", rec.PatientRecord)
	}
	if len(rec.LiteratureEvidence) != 1 || rec.LiteratureEvidence[0].SourceID != "PMID:1" {
		t.Fatalf("literature evidence not merged: %+v", rec.LiteratureEvidence)
	}
	if len(rec.BroadEvidence) != 1 || len(rec.CaseEvidence) != 1 {
		t.Fatalf("evidence branches not merged: broad=%d case=%d", len(rec.BroadEvidence), len(rec.CaseEvidence))
	}
	if rec.Critique == nil || len(rec.Critique.Gaps) != 1 {
		t.Fatalf("critique not recorded: %+v", rec.Critique)
	}
	if rec.TriageLevel != "Priority" {
		t.Fatalf("triage level %q", rec.TriageLevel)
	}
	if rec.FinishedAt.IsZero() {
		t.Fatalf("finished timestamp not set")
	}
	if !audit.has("pipeline.run completed") {
		t.Fatalf("missing run completion audit event: %v", audit.events)
	}
}

func TestRunUsesCuratedQueryForHighValueQualifier(t *testing.T) {
	p, _ := newTestPipeline()
	lit := p.Literature.(*fakeSearcher)
	p.Run(context.Background(), NewRunRecord("run-q", 7, "text", nil))
	if lit.gotQuery != searchPhrases["sandpaper rash"] {
		t.Fatalf("expected curated query, got %q", lit.gotQuery)
	}
}

func TestRunContainedBranchFailure(t *testing.T) {
	p, audit := newTestPipeline()
	p.Literature = &fakeSearcher{err: errors.New("pubmed down")}
	rec := p.Run(context.Background(), NewRunRecord("run-2", 7, "text", nil))

	if rec.FatalStep != "" {
		t.Fatalf("branch failure must not be fatal, got %q", rec.FatalStep)
	}
	if rec.Error != "pubmed down" {
		t.Fatalf("first failure not recorded: %q", rec.Error)
	}
	if rec.LiteratureEvidence == nil || len(rec.LiteratureEvidence) != 0 {
		t.Fatalf("failed branch must yield empty non-nil slice: %#v", rec.LiteratureEvidence)
	}
	if len(rec.BroadEvidence) != 1 {
		t.Fatalf("sibling branch disturbed: %+v", rec.BroadEvidence)
	}
	if rec.FinalReport == "" {
		t.Fatalf("synthesis should still run after a contained failure")
	}
	if !audit.has("literature_search.execute failed") {
		t.Fatalf("missing failure audit event: %v", audit.events)
	}
}

func TestRunFoundationalExtractionFailureAborts(t *testing.T) {
	p, _ := newTestPipeline()
	p.Extractor = &fakeExtractor{err: errors.New("llm unavailable")}
	dir := p.Patients.(*fakeDirectory)
	lit := p.Literature.(*fakeSearcher)

	rec := p.Run(context.Background(), NewRunRecord("run-3", 7, "text", nil))

	if rec.FatalStep != StepSymptomExtraction {
		t.Fatalf("fatal step %q", rec.FatalStep)
	}
	if rec.Error != "llm unavailable" {
		t.Fatalf("error %q", rec.Error)
	}
	if dir.called {
		t.Fatalf("patient lookup must not run after a foundational failure")
	}
	if lit.called || rec.FinalReport != "" {
		t.Fatalf("evidence and synthesis must not run after a foundational failure")
	}
}

func TestRunPatientNotFoundIsFatal(t *testing.T) {
	p, _ := newTestPipeline()
	p.Patients = &fakeDirectory{err: ErrPatientNotFound}
	rec := p.Run(context.Background(), NewRunRecord("run-4", 99, "text", nil))

	if rec.FatalStep != StepPatientLookup {
		t.Fatalf("fatal step %q", rec.FatalStep)
	}
	if rec.Error != ErrPatientNotFound.Error() {
		t.Fatalf("error %q", rec.Error)
	}
}

func TestRunImageBranchOnlyWithImage(t *testing.T) {
	p, _ := newTestPipeline()
	img := p.Imaging.(*fakeImager)
	p.Run(context.Background(), NewRunRecord("run-5", 7, "text", nil))
	if img.called {
		t.Fatalf("image branch ran without an image")
	}

	p2, _ := newTestPipeline()
	img2 := p2.Imaging.(*fakeImager)
	rec := p2.Run(context.Background(), NewRunRecord("run-6", 7, "text", []byte{0xFF, 0xD8}))
	if !img2.called {
		t.Fatalf("image branch did not run with an image")
	}
	if rec.ImagingFindings != "erythematous macules" {
		t.Fatalf("imaging findings %q", rec.ImagingFindings)
	}
}

func TestRunAppendsSafetyWarnings(t *testing.T) {
	p, _ := newTestPipeline()
	drugs := &fakeDrugs{rep: DrugReport{
		Warnings: []string{"NSAIDs may worsen asthma control"},
		Risk:     "MODERATE",
	}}
	p.Drugs = drugs
	rec := p.Run(context.Background(), NewRunRecord("run-7", 7, "text", nil))

	want := []string{"Scarlet Fever", "Kawasaki Disease"}
	if !reflect.DeepEqual(drugs.gotConditions, want) {
		t.Fatalf("conditions passed to checker: %v", drugs.gotConditions)
	}
	if drugs.gotHistory != "asthma" {
		t.Fatalf("history passed to checker: %q", drugs.gotHistory)
	}
	if !strings.Contains(rec.FinalReport, "## Safety Warnings") {
		t.Fatalf("warnings section missing:\n%s", rec.FinalReport)
	}
	if !strings.Contains(rec.FinalReport, "- NSAIDs may worsen asthma control") {
		t.Fatalf("warning bullet missing:\n%s", rec.FinalReport)
	}
	if rec.TriageLevel != "Priority" {
		t.Fatalf("triage must come from the pre-append report, got %q", rec.TriageLevel)
	}
}

func TestRunSynthesisFailureContained(t *testing.T) {
	p, _ := newTestPipeline()
	p.Reporter = &fakeReporter{err: errors.New("synthesis model overloaded")}
	rec := p.Run(context.Background(), NewRunRecord("run-8", 7, "text", nil))

	if rec.FatalStep != "" {
		t.Fatalf("synthesis failure must be contained, got fatal %q", rec.FatalStep)
	}
	if rec.FinalReport != "" || rec.TriageLevel != "" {
		t.Fatalf("report fields must stay empty: %q %q", rec.FinalReport, rec.TriageLevel)
	}
	if rec.Error != "synthesis model overloaded" {
		t.Fatalf("error %q", rec.Error)
	}
}

func TestRunSkipsSearchesWithoutSymptomNames(t *testing.T) {
	p, _ := newTestPipeline()
	p.Extractor = &fakeExtractor{set: SymptomSet{}}
	lit := p.Literature.(*fakeSearcher)
	cases := p.Cases.(*fakeSearcher)

	rec := p.Run(context.Background(), NewRunRecord("run-9", 7, "text", nil))

	if lit.called || cases.called {
		t.Fatalf("searches must be skipped with an empty query")
	}
	if rec.LiteratureEvidence == nil || rec.CaseEvidence == nil {
		t.Fatalf("evidence slices must still be non-nil")
	}
	if rec.FinalReport == "" {
		t.Fatalf("synthesis should still run")
	}
}

func TestPotentialConditions(t *testing.T) {
	got := potentialConditions(testReport)
	if !reflect.DeepEqual(got, []string{"Scarlet Fever", "Kawasaki Disease"}) {
		t.Fatalf("got %v", got)
	}
	if potentialConditions("no section") != nil {
		t.Fatalf("expected nil for report without the section")
	}
}
