package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apicize/apicize-go/pkg/apicize"
)

func writeDataFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestScenarioValuesTextAndJSON(t *testing.T) {
	cache := NewVariableCache("")
	scenario := &Scenario{
		ID:   "S1",
		Name: "Mixed",
		Variables: []Variable{
			{Name: "plain", Type: SourceText, Value: "hello"},
			{Name: "count", Type: SourceJSON, Value: "42"},
			{Name: "obj", Type: SourceJSON, Value: `{"a":1}`},
			{Name: "bad", Type: SourceJSON, Value: "{oops"},
			{Name: "off", Type: SourceText, Value: "skipped", Disabled: true},
		},
	}

	values := cache.ScenarioValues(scenario)

	if values["plain"].Value != "hello" {
		t.Errorf("text value wrong: %v", values["plain"])
	}
	if values["count"].Value != float64(42) {
		t.Errorf("json number wrong: %v", values["count"])
	}
	if obj, ok := values["obj"].Value.(map[string]any); !ok || obj["a"] != float64(1) {
		t.Errorf("json object wrong: %v", values["obj"])
	}
	if values["bad"].Err == nil {
		t.Error("expected parse failure for bad JSON")
	} else if apicize.KindOf(values["bad"].Err) != apicize.KindSerialization {
		t.Errorf("expected Serialization kind, got %v", apicize.KindOf(values["bad"].Err))
	}
	if _, present := values["off"]; present {
		t.Error("disabled variable should be skipped")
	}

	// Second access returns the memoized map
	again := cache.ScenarioValues(scenario)
	if again["plain"].Value != "hello" {
		t.Error("memoized values differ")
	}
}

func TestExternalDataCSV(t *testing.T) {
	dir := t.TempDir()
	writeDataFile(t, dir, "rows.csv", "name,qty\nwidget,3\ngadget,5\n")

	cache := NewVariableCache(dir)
	rows, err := cache.ExternalData(&ExternalData{ID: "D1", Name: "rows", Type: DataFileCSV, Source: "rows.csv"})
	if err != nil {
		t.Fatalf("csv load failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["name"] != "widget" || rows[0]["qty"] != "3" {
		t.Errorf("first row wrong: %v", rows[0])
	}
	if rows[1]["name"] != "gadget" {
		t.Errorf("second row wrong: %v", rows[1])
	}
}

func TestExternalDataNormalization(t *testing.T) {
	cache := NewVariableCache("")

	rows, err := cache.ExternalData(&ExternalData{ID: "D1", Name: "object", Type: DataJSON, Source: `{"a":1}`})
	if err != nil || len(rows) != 1 || rows[0]["a"] != float64(1) {
		t.Errorf("single object should wrap as one row: %v %v", rows, err)
	}

	rows, err = cache.ExternalData(&ExternalData{ID: "D2", Name: "scalar", Type: DataJSON, Source: `7`})
	if err != nil || len(rows) != 1 || rows[0]["data"] != float64(7) {
		t.Errorf(`scalar should wrap as {"data": value}: %v %v`, rows, err)
	}

	rows, err = cache.ExternalData(&ExternalData{ID: "D3", Name: "mixed", Type: DataJSON, Source: `[{"a":1}, 2]`})
	if err != nil || len(rows) != 2 || rows[1]["data"] != float64(2) {
		t.Errorf("array elements should normalize individually: %v %v", rows, err)
	}
}

func TestExternalDataFileJSON(t *testing.T) {
	dir := t.TempDir()
	writeDataFile(t, dir, "data.json", `[{"id": 1}, {"id": 2}]`)

	cache := NewVariableCache(dir)
	rows, err := cache.ExternalData(&ExternalData{ID: "D1", Name: "file", Type: DataFileJSON, Source: "data.json"})
	if err != nil {
		t.Fatalf("json load failed: %v", err)
	}
	if len(rows) != 2 || rows[1]["id"] != float64(2) {
		t.Errorf("rows wrong: %v", rows)
	}
}

func TestFileAccessOutsideAllowedPath(t *testing.T) {
	dir := t.TempDir()
	cache := NewVariableCache(dir)

	_, err := cache.ExternalData(&ExternalData{ID: "D1", Name: "escape", Type: DataFileJSON, Source: "../escape.json"})
	if err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	if apicize.KindOf(err) != apicize.KindFileAccess {
		t.Errorf("expected FileAccess kind, got %v", apicize.KindOf(err))
	}
}

func TestFileAccessWithoutAllowedPath(t *testing.T) {
	cache := NewVariableCache("")
	_, err := cache.ExternalData(&ExternalData{ID: "D1", Name: "nofiles", Type: DataFileCSV, Source: "rows.csv"})
	if err == nil {
		t.Fatal("expected error when no allowed path is configured")
	}
}
