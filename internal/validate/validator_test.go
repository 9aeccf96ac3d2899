package validate

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"quorum/internal/unit"
)

func testUnit() *unit.Context {
	return &unit.Context{
		ID:        "decode_frame@0x401000",
		AllowList: []string{"iVar1", "uVar2", "param_1"},
	}
}

func TestCheck_AcceptsValidRenameMap(t *testing.T) {
	v := New(4000)

	cand, rej := v.Check(`{"iVar1": "frame_index", "param_1": "buffer"}`, testUnit())
	if rej != nil {
		t.Fatalf("Check() rejected: %v", rej)
	}
	want := map[string]string{"iVar1": "frame_index", "param_1": "buffer"}
	if diff := cmp.Diff(want, cand.Payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if cand.Key == "" {
		t.Error("candidate key is empty")
	}
}

func TestCheck_RejectsOversizedOutput(t *testing.T) {
	v := New(100)

	raw := `{"iVar1": "` + strings.Repeat("x", 200) + `"}`
	_, rej := v.Check(raw, testUnit())
	if rej == nil || rej.Reason != ReasonTooLong {
		t.Fatalf("Check() rejection = %v, want %s", rej, ReasonTooLong)
	}
}

func TestCheck_RejectsMalformedJSON(t *testing.T) {
	v := New(4000)

	for _, raw := range []string{
		"Here is the rename map: {\"iVar1\": \"count\"}", // commentary around JSON
		`["iVar1", "count"]`,                             // wrong shape
		`not json at all`,
		`{"iVar1": 42}`, // non-string value
	} {
		_, rej := v.Check(raw, testUnit())
		if rej == nil || rej.Reason != ReasonInvalidFormat {
			t.Errorf("Check(%q) rejection = %v, want %s", raw, rej, ReasonInvalidFormat)
		}
	}
}

func TestCheck_RejectsEmptyPayload(t *testing.T) {
	v := New(4000)

	_, rej := v.Check(`{}`, testUnit())
	if rej == nil || rej.Reason != ReasonEmpty {
		t.Fatalf("Check({}) rejection = %v, want %s", rej, ReasonEmpty)
	}
}

func TestCheck_RejectsHallucinatedReference(t *testing.T) {
	v := New(4000)

	_, rej := v.Check(`{"invented_var": "count"}`, testUnit())
	if rej == nil || rej.Reason != ReasonHallucinated {
		t.Fatalf("Check() rejection = %v, want %s", rej, ReasonHallucinated)
	}
	if rej.Detail != "invented_var" {
		t.Errorf("rejection detail = %q, want offending identifier", rej.Detail)
	}
}

func TestCheck_EnforcesRequiredKeys(t *testing.T) {
	v := New(4000)
	u := testUnit()
	u.RequiredKeys = []string{"iVar1"}

	_, rej := v.Check(`{"uVar2": "length"}`, u)
	if rej == nil || rej.Reason != ReasonInvalidFormat {
		t.Fatalf("Check() rejection = %v, want %s", rej, ReasonInvalidFormat)
	}
}

func TestCheck_RunsUnitPredicatesLast(t *testing.T) {
	v := New(4000)
	u := testUnit()
	called := false
	u.Predicates = []unit.Predicate{
		func(payload map[string]string) string {
			called = true
			if _, ok := payload["iVar1"]; ok {
				return "renames_locked_variable"
			}
			return ""
		},
	}

	_, rej := v.Check(`{"iVar1": "count"}`, u)
	if !called {
		t.Fatal("unit predicate was not invoked")
	}
	if rej == nil || rej.Reason != "renames_locked_variable" {
		t.Fatalf("Check() rejection = %v, want predicate reason", rej)
	}

	// Predicates must not run when a built-in check already failed.
	called = false
	_, _ = v.Check(`{"invented": "x"}`, u)
	if called {
		t.Error("unit predicate ran despite earlier rejection")
	}
}

func TestCanonicalize_StripsIdentityPairs(t *testing.T) {
	a := Canonicalize(map[string]string{"iVar1": "count", "uVar2": "uVar2"})
	b := Canonicalize(map[string]string{"iVar1": "count"})
	if a.Key != b.Key {
		t.Errorf("identity pair changed canonical key: %q vs %q", a.Key, b.Key)
	}
}

func TestCanonicalize_IsOrderIndependent(t *testing.T) {
	// Go maps have no order, but make the intent explicit: the key depends
	// only on the pair set.
	a := Canonicalize(map[string]string{"x": "1", "y": "2", "z": "3"})
	b := Canonicalize(map[string]string{"z": "3", "x": "1", "y": "2"})
	if a.Key != b.Key {
		t.Errorf("canonical keys differ: %q vs %q", a.Key, b.Key)
	}
}
