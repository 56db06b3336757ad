package catalog

import (
	"strings"
	"testing"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	raw := []byte(`{
		"config": {"default_negative_prompt": "blurry, low quality"},
		"adapters": [
			{"id": "realism", "keywords": [], "role": "general", "rank": 1, "permanent": true,
			 "append_prompt": "photorealistic", "source_ref": "https://example.com/realism.safetensors"},
			{"id": "nimya", "keywords": ["nimya"], "role": "character", "rank": 2,
			 "prepend_prompt": "nimya, young woman", "negative_prompt": "extra fingers",
			 "source_ref": "https://example.com/nimya.safetensors"},
			{"id": "lip_biting", "keywords": ["lip biting", "biting her lip"], "role": "expression", "rank": 5,
			 "append_prompt": "biting her lip", "source_ref": "https://example.com/lip.safetensors"},
			{"id": "kira", "keywords": ["kira"], "role": "character", "rank": 3,
			 "source_ref": "civitai:12345@1"},
			{"id": "oil_paint", "keywords": ["oil painting"], "role": "misc", "rank": 9,
			 "source_ref": "https://example.com/oil.safetensors"}
		]
	}`)
	cat, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return cat
}

func defaultQuotas() map[Role]int {
	return map[Role]int{
		RoleCharacter:  6,
		RoleNSFW:       4,
		RoleExpression: 2,
		RoleGeneral:    2,
		RoleMisc:       1,
	}
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	raw := []byte(`{"adapters": [{"id": "dup"}, {"id": "dup"}]}`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestParseDefaultsRoleAndWeight(t *testing.T) {
	cat, err := Parse([]byte(`{"adapters": [{"id": "bare"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a := cat.adapters[0]
	if a.Role != RoleMisc {
		t.Fatalf("expected misc role default, got %q", a.Role)
	}
	if a.Weight != 1.0 {
		t.Fatalf("expected weight 1.0 default, got %v", a.Weight)
	}
}

func TestParseDefaultsMissingRankToLastPlace(t *testing.T) {
	raw := []byte(`{"adapters": [
		{"id": "unranked", "keywords": ["x"], "role": "character"},
		{"id": "ranked", "keywords": ["x"], "role": "character", "rank": 5},
		{"id": "zero", "keywords": ["x"], "role": "character", "rank": 0}
	]}`)
	cat, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cat.adapters[0].Rank; got != 999 {
		t.Fatalf("missing rank should default to 999, got %d", got)
	}
	if got := cat.adapters[2].Rank; got != 0 {
		t.Fatalf("explicit rank 0 must survive, got %d", got)
	}

	// An unranked adapter loses the quota trim to any ranked one.
	selected := cat.Select("x", "", map[Role]int{RoleCharacter: 2})
	got := IDs(selected)
	want := []string{"zero", "ranked"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSelectMatchesKeywordsAndPermanents(t *testing.T) {
	cat := testCatalog(t)

	selected := cat.Select("nimya lip biting in the rain", "", defaultQuotas())
	got := IDs(selected)
	want := []string{"realism", "nimya", "lip_biting"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSelectIsCaseInsensitive(t *testing.T) {
	cat := testCatalog(t)
	selected := cat.Select("NIMYA stares", "", defaultQuotas())
	found := false
	for _, a := range selected {
		if a.ID == "nimya" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected nimya match on uppercase text, got %v", IDs(selected))
	}
}

func TestSelectMatchesNegativePromptKeywords(t *testing.T) {
	cat := testCatalog(t)

	selected := cat.Select("a quiet landscape", "nimya must not appear", defaultQuotas())
	found := false
	for _, a := range selected {
		if a.ID == "nimya" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected keyword in negative prompt to match, got %v", IDs(selected))
	}
}

func TestSelectNoMatchesStillIncludesPermanents(t *testing.T) {
	cat := testCatalog(t)
	selected := cat.Select("a quiet landscape", "", defaultQuotas())
	if len(selected) != 1 || selected[0].ID != "realism" {
		t.Fatalf("expected only permanent adapter, got %v", IDs(selected))
	}
}

func TestSelectRoleQuotaTruncatesLowestRankFirst(t *testing.T) {
	raw := []byte(`{"adapters": [
		{"id": "a", "keywords": ["x"], "role": "character", "rank": 3},
		{"id": "b", "keywords": ["x"], "role": "character", "rank": 1},
		{"id": "c", "keywords": ["x"], "role": "character", "rank": 2}
	]}`)
	cat, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	selected := cat.Select("x", "", map[Role]int{RoleCharacter: 2})
	got := IDs(selected)
	want := []string{"b", "c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSelectDeterministicOnRankTies(t *testing.T) {
	raw := []byte(`{"adapters": [
		{"id": "first", "keywords": ["x"], "role": "misc", "rank": 1},
		{"id": "second", "keywords": ["x"], "role": "misc", "rank": 1}
	]}`)
	cat, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for i := 0; i < 10; i++ {
		selected := cat.Select("x", "", map[Role]int{RoleMisc: 1})
		if len(selected) != 1 || selected[0].ID != "first" {
			t.Fatalf("expected file order to break rank tie, got %v", IDs(selected))
		}
	}
}

func TestPruneToLimitKeepsLowestRanks(t *testing.T) {
	cat := testCatalog(t)
	selected := cat.Select("nimya lip biting", "", defaultQuotas())

	pruned := PruneToLimit(selected, 2)
	got := IDs(pruned)
	want := []string{"realism", "nimya"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPruneToLimitIdempotent(t *testing.T) {
	cat := testCatalog(t)
	selected := cat.Select("nimya lip biting", "", defaultQuotas())

	once := PruneToLimit(selected, 2)
	twice := PruneToLimit(once, 2)
	if strings.Join(IDs(once), ",") != strings.Join(IDs(twice), ",") {
		t.Fatalf("pruning is not idempotent: %v then %v", IDs(once), IDs(twice))
	}
}

func TestPruneToLimitZeroMeansUnlimited(t *testing.T) {
	cat := testCatalog(t)
	selected := cat.Select("nimya lip biting", "", defaultQuotas())
	if got := PruneToLimit(selected, 0); len(got) != len(selected) {
		t.Fatalf("max 0 should keep everything, got %d of %d", len(got), len(selected))
	}
}

func TestFilterInlineSpecs(t *testing.T) {
	cat := testCatalog(t)
	selected := cat.Select("nimya kira", "", defaultQuotas())

	filtered := FilterInlineSpecs(selected)
	for _, a := range filtered {
		if a.ID == "kira" {
			t.Fatalf("inline spec adapter should have been filtered: %v", IDs(filtered))
		}
	}
	if len(filtered) != len(selected)-1 {
		t.Fatalf("expected exactly one adapter filtered, got %v from %v", IDs(filtered), IDs(selected))
	}
}

func TestInlineSpecDetection(t *testing.T) {
	cases := []struct {
		ref    string
		inline bool
	}{
		{"civitai:12345@1", true},
		{"runware:101@1", true},
		{"https://example.com/a.safetensors", false},
		{"http://host/x:y@z", false},
		{"plain-name", false},
	}
	for _, tc := range cases {
		a := StyleAdapter{SourceRef: tc.ref}
		if a.InlineSpec() != tc.inline {
			t.Fatalf("InlineSpec(%q) = %v, want %v", tc.ref, a.InlineSpec(), tc.inline)
		}
	}
}

func TestSplicePromptOrdersAndDeduplicates(t *testing.T) {
	cat := testCatalog(t)
	selected := cat.Select("nimya lip biting", "", defaultQuotas())

	prompt, negative := cat.SplicePrompt("nimya lip biting at dusk", "watermark", selected)

	if !strings.HasPrefix(prompt, "nimya, young woman") {
		t.Fatalf("expected prepend fragment first, got %q", prompt)
	}
	if !strings.Contains(prompt, "photorealistic") || !strings.Contains(prompt, "biting her lip") {
		t.Fatalf("expected append fragments present, got %q", prompt)
	}
	if !strings.HasPrefix(negative, "blurry") {
		t.Fatalf("expected default negative first, got %q", negative)
	}
	for _, want := range []string{"watermark", "extra fingers"} {
		if !strings.Contains(negative, want) {
			t.Fatalf("expected %q in negative, got %q", want, negative)
		}
	}
}

func TestSplicePromptDeduplicatesPhrases(t *testing.T) {
	cat, err := Parse([]byte(`{
		"config": {"default_negative_prompt": "blurry"},
		"adapters": [
			{"id": "a", "keywords": ["x"], "append_prompt": "detailed, sharp focus."},
			{"id": "b", "keywords": ["x"], "append_prompt": "Sharp Focus, vivid"}
		]
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	selected := cat.Select("x", "", map[Role]int{RoleMisc: 5})
	prompt, negative := cat.SplicePrompt("x", "blurry", selected)

	if strings.Count(strings.ToLower(prompt), "sharp focus") != 1 {
		t.Fatalf("expected one sharp focus phrase, got %q", prompt)
	}
	if strings.Count(strings.ToLower(negative), "blurry") != 1 {
		t.Fatalf("expected deduplicated negative, got %q", negative)
	}
}
