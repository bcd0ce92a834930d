package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apicize/apicize-go/pkg/workspace"
)

const sampleWorkbookYAML = `
version: 1.0
requests:
  - id: G1
    name: CRUD
    children:
      - id: R1
        name: Create
        url: http://localhost/items
        method: POST
        body:
          type: JSON
          data: '{"name": "{{name}}"}'
      - id: R2
        name: Read
        url: http://localhost/items/1
  - id: R3
    name: Health
    url: http://localhost/health
    runs: 3
    multiRunExecution: CONCURRENT
scenarios:
  - id: S1
    name: Dev
    variables:
      - name: name
        type: TEXT
        value: widget
authorizations:
  - id: A1
    name: Service
    type: ApiKey
    header: x-api-key
    value: secret
defaults:
  selectedScenario:
    id: S1
    name: Dev
`

func writeWorkbook(t *testing.T, content, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write workbook: %v", err)
	}
	return path
}

func TestOpenWorkbookYAML(t *testing.T) {
	workbook, err := OpenWorkbook(writeWorkbook(t, sampleWorkbookYAML, "sample.apicize.yaml"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if len(workbook.Requests) != 2 {
		t.Fatalf("expected 2 top level entries, got %d", len(workbook.Requests))
	}

	group, ok := workbook.Requests[0].RequestEntry.(*workspace.RequestGroup)
	if !ok {
		t.Fatal("first entry should decode as a group")
	}
	if len(group.Children) != 2 {
		t.Fatalf("group should hold 2 children, got %d", len(group.Children))
	}
	create, ok := group.Children[0].(*workspace.Request)
	if !ok || create.Method != "POST" {
		t.Errorf("child request wrong: %+v", group.Children[0])
	}
	if create.Body == nil || create.Body.Type != workspace.BodyJSON {
		t.Errorf("body wrong: %+v", create.Body)
	}
	// Absent runs normalizes to the single-run default
	if create.Runs != 1 {
		t.Errorf("runs should default to 1, got %d", create.Runs)
	}

	health, ok := workbook.Requests[1].RequestEntry.(*workspace.Request)
	if !ok || health.Runs != 3 || health.MultiRunExecution != workspace.Concurrent {
		t.Errorf("health request wrong: %+v", health)
	}
}

func TestWorkbookToWorkspace(t *testing.T) {
	workbook, err := OpenWorkbook(writeWorkbook(t, sampleWorkbookYAML, "sample.apicize.yaml"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ws := workbook.ToWorkspace()

	if got := ws.Requests.ChildIDs["G1"]; len(got) != 2 || got[0] != "R1" {
		t.Errorf("children not indexed: %v", got)
	}
	if parent, _ := ws.Requests.ParentID("R2"); parent != "G1" {
		t.Errorf("parent index wrong: %q", parent)
	}
	if _, ok := ws.Scenarios.Get("S1"); !ok {
		t.Error("scenario not indexed")
	}
	if ws.Defaults == nil || ws.Defaults.SelectedScenario.ID != "S1" {
		t.Error("defaults not carried")
	}

	entry, _ := ws.Requests.Get("R1")
	params, err := ws.RetrieveRequestParameters(entry, workspace.NewVariableCache(""))
	if err != nil {
		t.Fatalf("resolution failed: %v", err)
	}
	if params.Variables["name"] != "widget" {
		t.Errorf("default scenario should apply: %v", params.Variables)
	}
}

func TestSaveWorkbookRoundTrip(t *testing.T) {
	workbook, err := OpenWorkbook(writeWorkbook(t, sampleWorkbookYAML, "sample.apicize.yaml"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "saved.apicize.yaml")
	if err := SaveWorkbook(workbook, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reopened, err := OpenWorkbook(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if len(reopened.Requests) != len(workbook.Requests) {
		t.Errorf("round trip lost entries: %d != %d", len(reopened.Requests), len(workbook.Requests))
	}
	group, ok := reopened.Requests[0].RequestEntry.(*workspace.RequestGroup)
	if !ok || len(group.Children) != 2 {
		t.Errorf("round trip lost group shape: %+v", reopened.Requests[0].RequestEntry)
	}
}

func TestOpenWorkbookRejectsInvalid(t *testing.T) {
	invalid := `
version: 1.0
requests:
  - url: http://localhost
`
	_, err := OpenWorkbook(writeWorkbook(t, invalid, "invalid.apicize.yaml"))
	if err == nil {
		t.Fatal("expected validation failure for entry without a name")
	}
	if !strings.Contains(err.Error(), "validation") {
		t.Errorf("unexpected error: %v", err)
	}
}

const samplePostmanCollection = `{
  "info": {
    "name": "Sample",
    "schema": "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"
  },
  "item": [
    {
      "name": "Items",
      "item": [
        {
          "name": "List items",
          "request": {
            "method": "GET",
            "url": { "raw": "http://localhost/items" },
            "header": [
              { "key": "accept", "value": "application/json" }
            ]
          }
        }
      ]
    },
    {
      "name": "Create item",
      "request": {
        "method": "POST",
        "url": { "raw": "http://localhost/items" },
        "body": { "mode": "raw", "raw": "{\"name\": \"{{name}}\"}" }
      }
    }
  ]
}`

func TestImportPostman(t *testing.T) {
	workbook, err := ImportPostman(strings.NewReader(samplePostmanCollection))
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(workbook.Requests) != 2 {
		t.Fatalf("expected 2 top level entries, got %d", len(workbook.Requests))
	}

	group, ok := workbook.Requests[0].RequestEntry.(*workspace.RequestGroup)
	if !ok || group.Name != "Items" {
		t.Fatalf("folder should import as group: %+v", workbook.Requests[0].RequestEntry)
	}
	if len(group.Children) != 1 {
		t.Fatalf("group should hold the folder's request")
	}
	list := group.Children[0].(*workspace.Request)
	if list.Method != "GET" || list.URL != "http://localhost/items" {
		t.Errorf("request fields wrong: %+v", list)
	}
	if len(list.Headers) != 1 || list.Headers[0].Name != "accept" {
		t.Errorf("headers wrong: %v", list.Headers)
	}

	create := workbook.Requests[1].RequestEntry.(*workspace.Request)
	if create.Body == nil || create.Body.Type != workspace.BodyJSON {
		t.Errorf("raw JSON body should import as JSON: %+v", create.Body)
	}
	if create.ID == "" {
		t.Error("imported entries should receive ids")
	}
}
