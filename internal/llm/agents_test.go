package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aura-dx/aura/internal/diagnosis"
)

type scriptedProvider struct {
	reply    string
	err      error
	gotModel string
	gotJSON  bool
	gotUser  string
}

func (p *scriptedProvider) Chat(_ context.Context, model string, messages []Message, jsonMode bool) (string, Usage, error) {
	p.gotModel = model
	p.gotJSON = jsonMode
	for _, m := range messages {
		if m.Role == "user" {
			p.gotUser = m.Content
		}
	}
	return p.reply, Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, p.err
}

func (p *scriptedProvider) ChatVision(_ context.Context, model, prompt string, _ []byte) (string, Usage, error) {
	p.gotModel = model
	p.gotUser = prompt
	return p.reply, Usage{}, p.err
}

type sinkSpy struct {
	model string
	total int
}

func (s *sinkSpy) AddTokens(model string, u Usage) {
	s.model = model
	s.total += u.TotalTokens
}

func TestSymptomExtractorParsesJSON(t *testing.T) {
	p := &scriptedProvider{reply: `{"symptoms":[{"name":"fever","qualifiers":["low-grade"]}]}`}
	sink := &sinkSpy{}
	e := &SymptomExtractor{Provider: p, Model: "gpt-4o-mini", Tokens: sink}

	set, err := e.ExtractSymptoms(context.Background(), "a low-grade fever")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(set.Symptoms) != 1 || set.Symptoms[0].Name != "fever" {
		t.Fatalf("unexpected set: %+v", set)
	}
	if !p.gotJSON {
		t.Fatalf("extraction must request JSON mode")
	}
	if !strings.Contains(p.gotUser, `"a low-grade fever"`) {
		t.Fatalf("input text missing from prompt")
	}
	if sink.total != 15 || sink.model != "gpt-4o-mini" {
		t.Fatalf("token sink not fed: %+v", sink)
	}
}

func TestSymptomExtractorMalformedJSON(t *testing.T) {
	p := &scriptedProvider{reply: "not json"}
	e := &SymptomExtractor{Provider: p, Model: "m"}
	if _, err := e.ExtractSymptoms(context.Background(), "text"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCriticIncludesEvidenceSources(t *testing.T) {
	p := &scriptedProvider{reply: `{"inconsistencies":[],"gaps":["few results"],"red_flags":[]}`}
	c := &Critic{Provider: p, Model: "m"}
	rec := diagnosis.NewRunRecord("r", 1, "text", nil)
	rec.PatientRecord = &diagnosis.PatientRecord{Name: "Bob", Age: 40, Gender: "male", MedicalHistory: "none"}
	rec.StructuredSymptoms = &diagnosis.SymptomSet{Symptoms: []diagnosis.Symptom{{Name: "cough"}}}
	rec.LiteratureEvidence = []diagnosis.Evidence{{SourceID: "PMID:42", Snippet: "a study", Confidence: 0.8}}

	crit, err := c.CritiqueEvidence(context.Background(), rec)
	if err != nil {
		t.Fatalf("critique: %v", err)
	}
	if len(crit.Gaps) != 1 {
		t.Fatalf("unexpected critique: %+v", crit)
	}
	if !strings.Contains(p.gotUser, "PMID:42") {
		t.Fatalf("evidence source missing from prompt:\n%s", p.gotUser)
	}
}

func TestReportWriterPromptCarriesCritiqueAndConfidence(t *testing.T) {
	p := &scriptedProvider{reply: "report\nTRIAGE_LEVEL: Routine"}
	w := &ReportWriter{Provider: p, Model: "m"}
	rec := diagnosis.NewRunRecord("r", 1, "text", nil)
	rec.PatientRecord = &diagnosis.PatientRecord{Name: "Bob", Age: 40}
	rec.StructuredSymptoms = &diagnosis.SymptomSet{Symptoms: []diagnosis.Symptom{{Name: "cough", Qualifiers: []string{"dry"}}}}
	rec.Critique = &diagnosis.Critique{RedFlags: []string{"neck stiffness with fever"}}
	rec.LiteratureEvidence = []diagnosis.Evidence{{SourceID: "PMID:42", Snippet: "a study", Confidence: 0.8}}
	rec.ImagingFindings = "notable erythema"

	out, err := w.SynthesizeReport(context.Background(), rec)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if out != "report\nTRIAGE_LEVEL: Routine" {
		t.Fatalf("unexpected report %q", out)
	}
	for _, want := range []string{"neck stiffness with fever", "(Confidence: 80%)", "[Source: PMID:42]", "notable erythema", "TRIAGE_LEVEL"} {
		if !strings.Contains(p.gotUser, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p.gotUser)
		}
	}
}

func TestAgentErrorsPropagate(t *testing.T) {
	p := &scriptedProvider{err: errors.New("overloaded")}
	w := &ReportWriter{Provider: p, Model: "m"}
	rec := diagnosis.NewRunRecord("r", 1, "text", nil)
	if _, err := w.SynthesizeReport(context.Background(), rec); err == nil {
		t.Fatalf("expected provider error")
	}
	a := &ImageAnalyzer{Provider: p, Model: "m"}
	if _, err := a.DescribeImage(context.Background(), []byte{1}); err == nil {
		t.Fatalf("expected provider error")
	}
}
