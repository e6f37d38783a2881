// SPDX-License-Identifier: Apache-2.0

package classify

import "testing"

func TestTaxonomyCoverage(t *testing.T) {
	if len(Categories) != 22 {
		t.Errorf("categories: got %d, want 22", len(Categories))
	}

	seen := make(map[Category]bool, len(Categories))
	for _, cat := range Categories {
		if seen[cat] {
			t.Errorf("duplicate category %s", cat)
		}
		seen[cat] = true

		subs, ok := Subcategories[cat]
		if !ok {
			t.Errorf("category %s has no subcategory table", cat)
			continue
		}
		if len(subs) == 0 {
			t.Errorf("category %s has an empty subcategory table", cat)
		}
	}

	for cat := range Subcategories {
		if !seen[cat] {
			t.Errorf("subcategory table references unknown category %s", cat)
		}
	}
}

func TestKnownCategory(t *testing.T) {
	if !KnownCategory(CategoryWorkflow) {
		t.Error("workflow should be known")
	}
	if KnownCategory(Category("invented")) {
		t.Error("invented category should be unknown")
	}
}

func TestSeverityOrderingAndNames(t *testing.T) {
	order := []Severity{
		SeverityTrace, SeverityDebug, SeverityInfo, SeverityWarning,
		SeverityError, SeverityCritical, SeverityFatal,
	}
	names := []string{"trace", "debug", "info", "warning", "error", "critical", "fatal"}

	for i, s := range order {
		if i > 0 && s <= order[i-1] {
			t.Errorf("severity %s should rank above %s", s, order[i-1])
		}
		if s.String() != names[i] {
			t.Errorf("severity name: got %s, want %s", s.String(), names[i])
		}
	}
	if Severity(99).String() != "unknown" {
		t.Errorf("out-of-range severity name: got %s", Severity(99).String())
	}
}
