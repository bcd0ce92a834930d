package workspace

import "testing"

func TestCloneAndSub(t *testing.T) {
	subs := BuildSubstitutions(map[string]any{
		"page":  "test",
		"count": float64(3),
		"flags": map[string]any{"on": true},
	})

	if got := CloneAndSub("/api/{{page}}", subs); got != "/api/test" {
		t.Errorf("string substitution failed: %q", got)
	}
	if got := CloneAndSub("n={{count}}", subs); got != "n=3" {
		t.Errorf("non-string values should stringify as JSON: %q", got)
	}
	if got := CloneAndSub(`{{flags}}`, subs); got != `{"on":true}` {
		t.Errorf("object values should stringify as JSON: %q", got)
	}
	if got := CloneAndSub("/api/{{unknown}}", subs); got != "/api/{{unknown}}" {
		t.Errorf("unknown placeholders must be left intact: %q", got)
	}

	// Idempotence over values without placeholders
	plain := "/api/items?x=1"
	if got := CloneAndSub(CloneAndSub(plain, subs), subs); got != plain {
		t.Errorf("substitution should be idempotent over plain text: %q", got)
	}
}

func TestRequestDefaults(t *testing.T) {
	request := &Request{ID: "R1", Name: "Plain", URL: "http://localhost"}
	if request.MultiRunPolicy() != Sequential {
		t.Error("multi-run policy should default to sequential")
	}

	group := &RequestGroup{ID: "G1", Name: "Suite"}
	if group.ChildExecution() != Sequential {
		t.Error("child execution should default to sequential")
	}
}
