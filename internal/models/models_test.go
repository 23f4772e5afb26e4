package models

import "testing"

func TestParseVariants(t *testing.T) {
	cases := []struct {
		name string
		want Variant
	}{
		{"gemini-2.5-flash", Variant{Base: "gemini-2.5-flash"}},
		{"gemini-2.5-pro-maxthinking", Variant{Base: "gemini-2.5-pro", Thinking: ThinkingMax}},
		{"gemini-2.5-pro-nothinking", Variant{Base: "gemini-2.5-pro", Thinking: ThinkingNone}},
		{"gemini-2.5-flash-search", Variant{Base: "gemini-2.5-flash", Search: true}},
		{"gemini-3-pro-preview-maxthinking-search", Variant{Base: "gemini-3-pro-preview", Thinking: ThinkingMax, Search: true}},
		{"gemini-2.5-pro-nothinking-search", Variant{Base: "gemini-2.5-pro", Thinking: ThinkingNone, Search: true}},
		{"假流式/gemini-2.5-pro-maxthinking-search", Variant{Base: "gemini-2.5-pro", Mode: StreamFake, Thinking: ThinkingMax, Search: true}},
		{"假流式/gemini-2.5-flash", Variant{Base: "gemini-2.5-flash", Mode: StreamFake}},
		{"流式抗截断/gemini-2.5-pro-nothinking", Variant{Base: "gemini-2.5-pro", Mode: StreamAntiTrunc, Thinking: ThinkingNone}},
	}
	for _, tc := range cases {
		if got := Parse(tc.name); got != tc.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, name := range Catalog() {
		if got := Parse(name).String(); got != name {
			t.Errorf("Parse(%q).String() = %q", name, got)
		}
	}
}

func TestRequiredTier(t *testing.T) {
	if got := Parse("gemini-3-pro-preview").RequiredTier(); got != "3" {
		t.Errorf("tier = %q, want 3", got)
	}
	if got := Parse("假流式/gemini-3-pro-preview-search").RequiredTier(); got != "3" {
		t.Errorf("prefixed tier = %q, want 3", got)
	}
	if got := Parse("gemini-2.5-pro").RequiredTier(); got != "2.5" {
		t.Errorf("tier = %q, want 2.5", got)
	}
}

func TestGroupClassification(t *testing.T) {
	cases := []struct {
		name string
		want Group
	}{
		{"gemini-3-pro-preview", Group30},
		{"gemini-2.5-pro", GroupPro},
		{"gemini-2.5-flash", GroupFlash},
		{"gemini-2.5-flash-image", GroupFlash},
		{"流式抗截断/gemini-2.5-pro-maxthinking", GroupPro},
	}
	for _, tc := range cases {
		if got := Parse(tc.name).Group(); got != tc.want {
			t.Errorf("Group(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestGroupColumns(t *testing.T) {
	if GroupFlash.Column() != "last_used_flash" ||
		GroupPro.Column() != "last_used_pro" ||
		Group30.Column() != "last_used_30" {
		t.Error("group column mapping is wrong")
	}
}

func TestCatalogContainsAllCombos(t *testing.T) {
	want := len(BaseModels()) * 3 * 6
	got := Catalog()
	if len(got) != want {
		t.Fatalf("catalog size = %d, want %d", len(got), want)
	}
	seen := map[string]bool{}
	for _, m := range got {
		if seen[m] {
			t.Errorf("duplicate catalog entry %q", m)
		}
		seen[m] = true
		if !IsKnown(m) {
			t.Errorf("catalog entry %q not recognized by IsKnown", m)
		}
	}
}
