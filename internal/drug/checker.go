// Package drug implements the drug interaction safety check that runs as
// the final synthesis step of a diagnostic run.
package drug

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/aura-dx/aura/internal/diagnosis"
)

// Risk levels in ascending severity.
const (
	RiskLow      = "LOW"
	RiskModerate = "MODERATE"
	RiskHigh     = "HIGH"
)

// conditionEntry is one condition in the optional JSON drug database:
// common treatments plus contraindication keyword to warning mappings.
type conditionEntry struct {
	CommonTreatments  []string          `json:"common_treatments"`
	Contraindications map[string]string `json:"contraindications"`
}

type interactionPattern struct {
	keywords []string
	warning  string
}

// interactionPatterns are the built-in medication classes checked against
// the combined condition and history text. They run whether or not an
// external database is loaded.
var interactionPatterns = []interactionPattern{
	{
		keywords: []string{"warfarin", "heparin", "aspirin", "clopidogrel", "anticoagulant"},
		warning:  "Blood thinning medications require careful monitoring when combined with other treatments.",
	},
	{
		keywords: []string{"insulin", "metformin", "diabetes", "diabetic", "blood sugar"},
		warning:  "Diabetes medications may need adjustment based on new treatments or conditions.",
	},
	{
		keywords: []string{"beta blocker", "ace inhibitor", "cardiac", "heart medication", "hypertension"},
		warning:  "Heart medications can interact with many other drugs and may affect treatment options.",
	},
	{
		keywords: []string{"antibiotic", "penicillin", "amoxicillin", "infection treatment"},
		warning:  "Antibiotics can affect the absorption and effectiveness of other medications.",
	},
}

type metabolismWarning struct {
	keywords []string
	warning  string
}

var metabolismWarnings = []metabolismWarning{
	{
		keywords: []string{"kidney disease", "renal", "dialysis"},
		warning:  "Kidney function may affect drug dosing - consider renal function tests.",
	},
	{
		keywords: []string{"liver disease", "hepatic", "cirrhosis"},
		warning:  "Liver function may affect drug metabolism - monitor liver enzymes.",
	},
	{
		keywords: []string{"heart failure", "cardiac", "arrhythmia"},
		warning:  "Heart condition may limit treatment options - cardiology consultation recommended.",
	},
}

var medTermRe = regexp.MustCompile(`\b(medication|medicine|drug|pill|tablet|capsule|prescription|dose|dosage|mg|ml|treatment|therapy|taking|prescribed)\b`)

// polypharmacyThreshold is the medication-mention count at which the
// polypharmacy warning fires.
const polypharmacyThreshold = 3

// Checker combines an optional JSON drug database with the built-in
// pattern tables.
type Checker struct {
	database map[string]conditionEntry
}

// NewChecker builds a checker without an external database.
func NewChecker() *Checker {
	return &Checker{database: map[string]conditionEntry{}}
}

// LoadChecker reads the optional JSON drug database. A missing file is not
// an error; the checker then runs on built-in patterns alone.
func LoadChecker(path string, logger *log.Logger) (*Checker, error) {
	c := NewChecker()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if logger != nil {
			logger.Printf("drug database %s not found, using built-in patterns only", path)
		}
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &c.database); err != nil {
		return nil, fmt.Errorf("failed to parse drug database %s: %w", path, err)
	}
	if logger != nil {
		logger.Printf("loaded drug database with %d entries", len(c.database))
	}
	return c, nil
}

// CheckInteractions implements diagnosis.DrugChecker. Conditions come from
// the report's "Potential Considerations" section; history is the patient's
// medical history text.
func (c *Checker) CheckInteractions(_ context.Context, conditions []string, history string) (diagnosis.DrugReport, error) {
	var warnings, suggestions []string
	historyLower := strings.ToLower(history)
	allText := strings.ToLower(strings.Join(conditions, " ") + " " + history)

	for _, condition := range conditions {
		entry, ok := c.database[condition]
		if !ok {
			continue
		}
		suggestions = append(suggestions, entry.CommonTreatments...)
		keys := make([]string, 0, len(entry.Contraindications))
		for k := range entry.Contraindications {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, keyword := range keys {
			if strings.Contains(historyLower, strings.ToLower(keyword)) {
				warnings = append(warnings, condition+": "+entry.Contraindications[keyword])
			}
		}
	}

	for _, p := range interactionPatterns {
		for _, keyword := range p.keywords {
			if strings.Contains(allText, keyword) {
				warnings = append(warnings, p.warning)
				break
			}
		}
	}

	for _, m := range metabolismWarnings {
		for _, keyword := range m.keywords {
			if strings.Contains(allText, keyword) {
				warnings = append(warnings, m.warning)
				break
			}
		}
	}

	if n := len(medTermRe.FindAllString(allText, -1)); n >= polypharmacyThreshold {
		warnings = append(warnings, fmt.Sprintf("Patient appears to be on multiple medications (%d detected) - increased risk of drug interactions.", n))
	}

	var recommendations []string
	if len(warnings) > 0 || len(suggestions) > 0 {
		recommendations = []string{
			"Review complete medication list with patient",
			"Consider pharmacist consultation for drug interaction screening",
			"Monitor for signs of adverse drug reactions",
		}
	}

	risk := RiskLow
	switch {
	case len(warnings) >= 2:
		risk = RiskHigh
	case len(warnings) == 1:
		risk = RiskModerate
	}

	return diagnosis.DrugReport{
		Warnings:        warnings,
		Recommendations: recommendations,
		Risk:            risk,
	}, nil
}
