package diagnosis

import (
	"fmt"
	"strings"
)

// searchPhrases maps a matched reference phrase to a hand-curated,
// high-precision literature search string.
var searchPhrases = map[string]string{
	"slapped cheek":     "erythema infectiosum fifth disease parvovirus B19",
	"target lesion":     "erythema migrans Lyme disease differential",
	"bullseye rash":     "erythema migrans Lyme disease differential",
	"sandpaper rash":    "scarlet fever group A streptococcus exanthem",
	"strawberry tongue": "Kawasaki disease scarlet fever differential",
	"petechiae":         "petechial rash fever meningococcemia differential",
	"vesicular rash":    "vesicular exanthem varicella hand foot and mouth",
	"nuchal rigidity":   "meningitis nuchal rigidity differential diagnosis",
	"photophobia":       "photophobia headache meningitis differential",
	"focal weakness":    "focal neurological deficit differential diagnosis",
	"barking cough":     "croup laryngotracheobronchitis management",
	"stridor":           "pediatric stridor airway obstruction differential",
	"whooping cough":    "pertussis Bordetella pertussis diagnosis",
}

// BuildQuery turns the extracted symptom set into a literature search query.
//
// Tier 1 scans symptoms in order, each symptom's qualifiers in order, and
// returns the curated phrase for the first matcher hit. First match wins;
// no attempt is made to pick the most salient qualifier.
// Tier 2 composes "{pediatric|adult} differential diagnosis {names}" from
// up to two symptom names, with pediatric meaning age under 18.
// Tier 3 returns "" when there are no symptom names at all; callers must
// treat the empty string as "skip this search".
func BuildQuery(m *Matcher, symptoms SymptomSet, patientAge int) string {
	if m != nil {
		for _, sym := range symptoms.Symptoms {
			for _, q := range sym.Qualifiers {
				term, ok := m.Match(q)
				if !ok {
					continue
				}
				if phrase, ok := searchPhrases[term]; ok {
					return phrase
				}
			}
		}
	}

	names := symptoms.Names()
	if len(names) == 0 {
		return ""
	}
	if len(names) > 2 {
		names = names[:2]
	}
	bucket := "adult"
	if patientAge < 18 {
		bucket = "pediatric"
	}
	return fmt.Sprintf("%s differential diagnosis %s", bucket, strings.Join(names, " and "))
}

// caseQuery builds the free-text query used against the case-similarity
// index.
func caseQuery(symptoms SymptomSet, patientAge int) string {
	names := symptoms.Names()
	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf("a case involving a %d year old with %s", patientAge, strings.Join(names, " and "))
}
