package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aura-dx/aura/internal/diagnosis"
)

// SymptomExtractor turns free symptom text into a structured symptom set
// using a JSON-mode completion.
type SymptomExtractor struct {
	Provider Provider
	Model    string
	Tokens   TokenSink
}

func (e *SymptomExtractor) ExtractSymptoms(ctx context.Context, text string) (diagnosis.SymptomSet, error) {
	out, usage, err := e.Provider.Chat(ctx, e.Model, []Message{
		{Role: "system", Content: symptomAnalyzerSystem},
		{Role: "user", Content: fmt.Sprintf(symptomAnalyzerExamples, text)},
	}, true)
	record(e.Tokens, e.Model, usage)
	if err != nil {
		return diagnosis.SymptomSet{}, err
	}
	var set diagnosis.SymptomSet
	if err := json.Unmarshal([]byte(out), &set); err != nil {
		return diagnosis.SymptomSet{}, fmt.Errorf("failed to parse symptom analysis: %w", err)
	}
	return set, nil
}

// Critic reviews the evidence bundle before synthesis.
type Critic struct {
	Provider Provider
	Model    string
	Tokens   TokenSink
}

func (c *Critic) CritiqueEvidence(ctx context.Context, rec *diagnosis.RunRecord) (diagnosis.Critique, error) {
	out, usage, err := c.Provider.Chat(ctx, c.Model, []Message{
		{Role: "system", Content: critiqueSystem},
		{Role: "user", Content: critiquePrompt(rec)},
	}, true)
	record(c.Tokens, c.Model, usage)
	if err != nil {
		return diagnosis.Critique{}, err
	}
	var crit diagnosis.Critique
	if err := json.Unmarshal([]byte(out), &crit); err != nil {
		return diagnosis.Critique{}, fmt.Errorf("failed to parse critique: %w", err)
	}
	return crit, nil
}

// ReportWriter generates the final markdown report with the triage trailer.
type ReportWriter struct {
	Provider Provider
	Model    string
	Tokens   TokenSink
}

func (w *ReportWriter) SynthesizeReport(ctx context.Context, rec *diagnosis.RunRecord) (string, error) {
	out, usage, err := w.Provider.Chat(ctx, w.Model, []Message{
		{Role: "system", Content: synthesisSystem},
		{Role: "user", Content: synthesisPrompt(rec)},
	}, false)
	record(w.Tokens, w.Model, usage)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ImageAnalyzer describes a submitted medical image with a vision model.
type ImageAnalyzer struct {
	Provider Provider
	Model    string
	Tokens   TokenSink
}

func (a *ImageAnalyzer) DescribeImage(ctx context.Context, image []byte) (string, error) {
	out, usage, err := a.Provider.ChatVision(ctx, a.Model, imagingSystem, image)
	record(a.Tokens, a.Model, usage)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func record(sink TokenSink, model string, usage Usage) {
	if sink != nil {
		sink.AddTokens(model, usage)
	}
}

// critiquePrompt formats the evidence bundle for the critic.
func critiquePrompt(rec *diagnosis.RunRecord) string {
	var b strings.Builder
	b.WriteString("Critically review the following evidence bundle.\n\n")
	b.WriteString("## Patient Information\n")
	writePatient(&b, rec)
	b.WriteString("\n## Evidence\n")
	b.WriteString("- Symptoms Reported: " + symptomNames(rec) + "\n")
	b.WriteString("- Literature Found:\n" + evidenceBundle(rec.LiteratureEvidence, "literature evidence") + "\n")
	b.WriteString("- Broad Literature Found:\n" + evidenceBundle(rec.BroadEvidence, "broad literature evidence") + "\n")
	b.WriteString("- Similar Cases Found:\n" + evidenceBundle(rec.CaseEvidence, "similar cases") + "\n")
	b.WriteString(`
## Your Task
Based ONLY on the data above, provide a critique in a valid JSON format.
Identify:
1. "inconsistencies": contradictions between the patient's history and the evidence.
2. "gaps": missing information that weakens the evidence.
3. "red_flags": high-risk factors that need to be highlighted.

Respond ONLY with a JSON object in this format:
{
  "inconsistencies": ["...", "..."],
  "gaps": ["...", "..."],
  "red_flags": ["...", "..."]
}
`)
	return b.String()
}

// synthesisPrompt formats the full record snapshot for the report writer.
func synthesisPrompt(rec *diagnosis.RunRecord) string {
	var b strings.Builder
	b.WriteString("Please synthesize a preliminary diagnostic report using ONLY the structured data and the supervisory critique below.\n\n")

	b.WriteString("## Supervisory Critique\n")
	b.WriteString(critiqueNotes(rec.Critique))

	b.WriteString("\n\n## Patient Information (EHR)\n")
	writePatient(&b, rec)

	b.WriteString("\n## Reported Symptoms\n")
	if rec.StructuredSymptoms == nil || len(rec.StructuredSymptoms.Symptoms) == 0 {
		b.WriteString("None reported.\n")
	} else {
		for _, s := range rec.StructuredSymptoms.Symptoms {
			quals := "no qualifiers"
			if len(s.Qualifiers) > 0 {
				quals = strings.Join(s.Qualifiers, ", ")
			}
			fmt.Fprintf(&b, "- %s (%s)\n", s.Name, quals)
		}
	}

	b.WriteString("\n## Literature Evidence (PubMed)\n")
	b.WriteString(evidenceWithConfidence(rec.LiteratureEvidence))
	b.WriteString("\n## Broad Literature Evidence (OpenAlex)\n")
	b.WriteString(evidenceWithConfidence(rec.BroadEvidence))
	b.WriteString("\n## Similar Case Evidence (Internal Database)\n")
	b.WriteString(evidenceWithConfidence(rec.CaseEvidence))

	if rec.ImagingFindings != "" {
		b.WriteString("\n## Imaging Analysis\n")
		b.WriteString(rec.ImagingFindings + " [Patient: Imaging Report]\n")
	}

	b.WriteString(`
## Report Instructions
1. Generate a structured report with the following sections: Summary, Key Findings, Potential Considerations, and a Disclaimer.
2. Use the Supervisory Critique to guide your summary and to highlight any identified gaps or red flags in the "Potential Considerations" section.
3. When referencing evidence, you may mention the confidence score to indicate the strength of the finding.
4. After the entire report, on a NEW and FINAL line, provide a recommended triage level based on the overall picture. The format MUST be "TRIAGE_LEVEL: [level]", where [level] is one of "Routine", "Priority", or "Urgent".
`)
	return b.String()
}

func writePatient(b *strings.Builder, rec *diagnosis.RunRecord) {
	p := rec.PatientRecord
	if p == nil {
		b.WriteString("- No patient record available.\n")
		return
	}
	fmt.Fprintf(b, "- Name: %s\n- Age: %d\n- Gender: %s\n- Medical History: %s\n", p.Name, p.Age, p.Gender, p.MedicalHistory)
}

func symptomNames(rec *diagnosis.RunRecord) string {
	if rec.StructuredSymptoms == nil {
		return "None reported."
	}
	names := rec.StructuredSymptoms.Names()
	if len(names) == 0 {
		return "None reported."
	}
	return strings.Join(names, ", ")
}

func evidenceBundle(evidence []diagnosis.Evidence, label string) string {
	if len(evidence) == 0 {
		return "No " + label + " found."
	}
	lines := make([]string, len(evidence))
	for i, e := range evidence {
		snippet := e.Snippet
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		lines[i] = fmt.Sprintf("- [%s] %s", e.SourceID, snippet)
	}
	return strings.Join(lines, "\n")
}

func evidenceWithConfidence(evidence []diagnosis.Evidence) string {
	if len(evidence) == 0 {
		return "None found.\n"
	}
	var b strings.Builder
	for _, e := range evidence {
		fmt.Fprintf(&b, "- (Confidence: %.0f%%) %s [Source: %s]\n", e.Confidence*100, e.Snippet, e.SourceID)
	}
	return b.String()
}

func critiqueNotes(c *diagnosis.Critique) string {
	if c == nil || (len(c.Inconsistencies) == 0 && len(c.Gaps) == 0 && len(c.RedFlags) == 0) {
		return "No critique notes provided."
	}
	var notes []string
	if len(c.Inconsistencies) > 0 {
		notes = append(notes, "- Inconsistencies Identified: "+strings.Join(c.Inconsistencies, " | "))
	}
	if len(c.Gaps) > 0 {
		notes = append(notes, "- Gaps Identified: "+strings.Join(c.Gaps, " | "))
	}
	if len(c.RedFlags) > 0 {
		notes = append(notes, "- Red Flags Identified: "+strings.Join(c.RedFlags, " | "))
	}
	return strings.Join(notes, "\n")
}
