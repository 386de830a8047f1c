package diagnosis

import "testing"

func TestExtractTriage(t *testing.T) {
	cases := []struct {
		name   string
		report string
		want   string
	}{
		{"well formed", "# Report\n\nbody\n\nTRIAGE_LEVEL: Urgent", "Urgent"},
		{"trailing whitespace", "body\nTRIAGE_LEVEL: Priority\n\n  \n", "Priority"},
		{"bracketed level", "body\nTRIAGE_LEVEL: [Routine]", "Routine"},
		{"no trailer", "no trailer here", TriageUndetermined},
		{"marker not on last line", "TRIAGE_LEVEL: Urgent\nfollowup paragraph", TriageUndetermined},
		{"empty level", "body\nTRIAGE_LEVEL:", TriageUndetermined},
		{"empty report", "", TriageUndetermined},
	}
	for _, tc := range cases {
		if got := ExtractTriage(tc.report); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}
