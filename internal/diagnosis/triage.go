package diagnosis

import "strings"

// Triage levels the report writer is prompted to emit. Anything else in the
// trailer is passed through verbatim; a missing or malformed trailer becomes
// TriageUndetermined.
const (
	TriageRoutine      = "Routine"
	TriagePriority     = "Priority"
	TriageUrgent       = "Urgent"
	TriageUndetermined = "Undetermined"
)

const triageMarker = "TRIAGE_LEVEL:"

// ExtractTriage parses the triage trailer from a generated report. It takes
// the last non-blank line and splits on the literal marker; a report without
// a well-formed trailer degrades to TriageUndetermined rather than failing.
func ExtractTriage(report string) string {
	lines := strings.Split(report, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		idx := strings.Index(line, triageMarker)
		if idx < 0 {
			return TriageUndetermined
		}
		level := strings.TrimSpace(line[idx+len(triageMarker):])
		level = strings.Trim(level, "[]*_ ")
		if level == "" {
			return TriageUndetermined
		}
		return level
	}
	return TriageUndetermined
}
