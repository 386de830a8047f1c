package diagnosis

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPatientNotFound is returned by PatientDirectory implementations when no
// record exists for the requested id. The HTTP layer relies on it to
// distinguish a 404 from a generic upstream failure.
var ErrPatientNotFound = errors.New("patient not found")

// Symptom is a single extracted symptom with its free-text qualifiers
// (severity, appearance, duration and so on, in the order the extractor
// produced them).
type Symptom struct {
	Name       string   `json:"name"`
	Qualifiers []string `json:"qualifiers,omitempty"`
}

// SymptomSet is the structured output of the symptom extraction step.
type SymptomSet struct {
	Symptoms []Symptom `json:"symptoms"`
}

// Names returns the symptom names in extraction order, skipping empties.
func (s SymptomSet) Names() []string {
	var out []string
	for _, sym := range s.Symptoms {
		if sym.Name != "" {
			out = append(out, sym.Name)
		}
	}
	return out
}

// PatientRecord is the fixed-shape record returned by the patient directory.
// It is either fully populated or absent; there is no partial form.
type PatientRecord struct {
	ID              int       `json:"id"`
	Name            string    `json:"name"`
	Age             int       `json:"age"`
	Gender          string    `json:"gender"`
	MedicalHistory  string    `json:"medical_history"`
	CurrentSymptoms string    `json:"current_symptoms,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// Evidence is one ranked snippet from a search backend.
type Evidence struct {
	SourceID   string  `json:"source_id"`
	Snippet    string  `json:"snippet"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0
}

// Critique is the structured output of the evidence critique step.
type Critique struct {
	Inconsistencies []string `json:"inconsistencies"`
	Gaps            []string `json:"gaps"`
	RedFlags        []string `json:"red_flags"`
}

// DrugReport is the output of the drug interaction safety check.
type DrugReport struct {
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations,omitempty"`
	Risk            string   `json:"interaction_risk"` // LOW, MODERATE or HIGH
}

// RunRecord is the state of one diagnostic run. It is created by the
// Pipeline with the three immutable inputs, filled field by field as steps
// complete, and returned to the caller whether or not individual steps
// failed. Evidence fields are never nil after the evidence phase; they
// default to empty slices when a branch fails.
type RunRecord struct {
	RunID       string `json:"run_id"`
	PatientID   int    `json:"patient_id"`
	SymptomText string `json:"symptom_text"`
	ImageBytes  []byte `json:"-"`

	StructuredSymptoms *SymptomSet    `json:"structured_symptoms,omitempty"`
	PatientRecord      *PatientRecord `json:"patient_record,omitempty"`

	LiteratureEvidence []Evidence `json:"literature_evidence"`
	BroadEvidence      []Evidence `json:"broad_literature_evidence"`
	CaseEvidence       []Evidence `json:"case_evidence"`
	ImagingFindings    string     `json:"imaging_findings,omitempty"`

	Critique     *Critique `json:"critique,omitempty"`
	FinalReport  string    `json:"final_report,omitempty"`
	TriageLevel  string    `json:"triage_level,omitempty"`
	DrugWarnings []string  `json:"drug_warnings,omitempty"`

	// Error holds the first step failure. FatalStep names the foundational
	// step that aborted the run, when one did; contained failures leave it
	// empty.
	Error     string `json:"error,omitempty"`
	FatalStep string `json:"fatal_step,omitempty"`

	errMu sync.Mutex

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewRunRecord creates a record with only the immutable input fields set.
func NewRunRecord(runID string, patientID int, symptomText string, image []byte) *RunRecord {
	return &RunRecord{
		RunID:       runID,
		PatientID:   patientID,
		SymptomText: symptomText,
		ImageBytes:  image,
		StartedAt:   time.Now(),
	}
}

// PatientDirectory looks up the fixed-shape patient record by id.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id int) (PatientRecord, error)
}

// SymptomExtractor turns free symptom text into a structured symptom set.
type SymptomExtractor interface {
	ExtractSymptoms(ctx context.Context, text string) (SymptomSet, error)
}

// EvidenceSearcher is a keyword search backend returning ranked snippets.
// Implementations back the literature, broad-literature and case-similarity
// branches of the evidence phase.
type EvidenceSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Evidence, error)
}

// ImageAnalyzer describes a submitted medical image.
type ImageAnalyzer interface {
	DescribeImage(ctx context.Context, image []byte) (string, error)
}

// Critic reviews the accumulated evidence for inconsistencies, gaps and
// red flags before synthesis.
type Critic interface {
	CritiqueEvidence(ctx context.Context, rec *RunRecord) (Critique, error)
}

// ReportWriter synthesizes the final report from the record snapshot. By
// contract the generated text ends with a "TRIAGE_LEVEL: X" trailer line;
// the pipeline parses that trailer defensively rather than enforcing it.
type ReportWriter interface {
	SynthesizeReport(ctx context.Context, rec *RunRecord) (string, error)
}

// DrugChecker checks candidate conditions against the patient history for
// interaction warnings.
type DrugChecker interface {
	CheckInteractions(ctx context.Context, conditions []string, history string) (DrugReport, error)
}
