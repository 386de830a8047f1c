package diagnosis

import "testing"

func TestMatcherHitsReferencePhraseInsideLongerText(t *testing.T) {
	m := NewMatcher(nil)
	term, ok := m.Match("slapped cheek appearance")
	if !ok {
		t.Fatalf("expected a match for 'slapped cheek appearance'")
	}
	if term != "slapped cheek" {
		t.Fatalf("expected 'slapped cheek', got %q", term)
	}
}

func TestMatcherToleratesMisspelling(t *testing.T) {
	m := NewMatcher(nil)
	term, ok := m.Match("slaped cheek")
	if !ok || term != "slapped cheek" {
		t.Fatalf("expected fuzzy match to 'slapped cheek', got %q ok=%v", term, ok)
	}
}

func TestMatcherRejectsUnrelatedText(t *testing.T) {
	m := NewMatcher(nil)
	if term, ok := m.Match("unrelated term xyz"); ok {
		t.Fatalf("expected no match, got %q", term)
	}
}

func TestMatcherEmptyInput(t *testing.T) {
	m := NewMatcher(nil)
	if _, ok := m.Match("   "); ok {
		t.Fatalf("expected no match for blank input")
	}
}

func TestMatcherFirstAboveThresholdWinsOverHigherScore(t *testing.T) {
	// "slaped cheek" in the earlier category scores ~0.92 against the
	// input; "slapped cheek" in the later category scores 1.0. The earlier
	// phrase already clears the threshold, so it must win.
	table := map[string][]string{
		"a_cat": {"slaped cheek"},
		"b_cat": {"slapped cheek"},
	}
	m := NewMatcher(table)
	term, ok := m.Match("slapped cheek")
	if !ok {
		t.Fatalf("expected a match")
	}
	if term != "slaped cheek" {
		t.Fatalf("expected first above-threshold phrase 'slaped cheek', got %q", term)
	}
}

func TestMatcherDeterministicAcrossCategories(t *testing.T) {
	table := map[string][]string{
		"b_cat": {"shared phrase"},
		"a_cat": {"shared phrase"},
	}
	m := NewMatcher(table)
	for i := 0; i < 10; i++ {
		term, ok := m.Match("shared phrase")
		if !ok || term != "shared phrase" {
			t.Fatalf("iteration %d: got %q ok=%v", i, term, ok)
		}
	}
}
