// Package storage opens and saves workbook files and converts them into the
// indexed workspace the execution engine consumes. Workbooks are YAML or
// JSON; stored entries keep their nested shape and are validated against an
// embedded schema before indexing.
package storage

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/apicize/apicize-go/pkg/workspace"
)

//go:embed workbook.schema.json
var workbookSchema string

// Workbook is the stored form of a workspace: nested request entries plus
// the parameter collections and defaults.
type Workbook struct {
	Version        float64                    `json:"version"`
	Requests       []Entry                    `json:"requests,omitempty"`
	Scenarios      []*workspace.Scenario      `json:"scenarios,omitempty"`
	Authorizations []*workspace.Authorization `json:"authorizations,omitempty"`
	Certificates   []*workspace.Certificate   `json:"certificates,omitempty"`
	Proxies        []*workspace.Proxy         `json:"proxies,omitempty"`
	Data           []*workspace.ExternalData  `json:"data,omitempty"`
	Defaults       *workspace.Defaults        `json:"defaults,omitempty"`
}

// Entry wraps the request/group union for (un)marshaling: an object with a
// children list is a group, anything else is a request.
type Entry struct {
	workspace.RequestEntry
}

type storedGroup struct {
	ID                string                         `json:"id"`
	Name              string                         `json:"name"`
	Key               string                         `json:"key,omitempty"`
	Children          []Entry                        `json:"children"`
	Execution         workspace.ExecutionConcurrency `json:"execution,omitempty"`
	Runs              int                            `json:"runs,omitempty"`
	MultiRunExecution workspace.ExecutionConcurrency `json:"multiRunExecution,omitempty"`

	SelectedScenario      *workspace.Selection `json:"selectedScenario,omitempty"`
	SelectedAuthorization *workspace.Selection `json:"selectedAuthorization,omitempty"`
	SelectedCertificate   *workspace.Selection `json:"selectedCertificate,omitempty"`
	SelectedProxy         *workspace.Selection `json:"selectedProxy,omitempty"`
	SelectedData          *workspace.Selection `json:"selectedData,omitempty"`
}

// UnmarshalJSON decodes either branch of the request/group union.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var probe struct {
		Children json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	if probe.Children != nil {
		var stored storedGroup
		if err := json.Unmarshal(data, &stored); err != nil {
			return err
		}
		group := &workspace.RequestGroup{
			ID:                    stored.ID,
			Name:                  stored.Name,
			Key:                   stored.Key,
			Execution:             stored.Execution,
			Runs:                  stored.Runs,
			MultiRunExecution:     stored.MultiRunExecution,
			SelectedScenario:      stored.SelectedScenario,
			SelectedAuthorization: stored.SelectedAuthorization,
			SelectedCertificate:   stored.SelectedCertificate,
			SelectedProxy:         stored.SelectedProxy,
			SelectedData:          stored.SelectedData,
		}
		for _, child := range stored.Children {
			group.Children = append(group.Children, child.RequestEntry)
		}
		e.RequestEntry = group
		return nil
	}

	var request workspace.Request
	if err := json.Unmarshal(data, &request); err != nil {
		return err
	}
	e.RequestEntry = &request
	return nil
}

// MarshalJSON emits the wrapped entry; group children nest recursively.
func (e Entry) MarshalJSON() ([]byte, error) {
	if group, ok := e.RequestEntry.(*workspace.RequestGroup); ok {
		stored := storedGroup{
			ID:                    group.ID,
			Name:                  group.Name,
			Key:                   group.Key,
			Execution:             group.Execution,
			Runs:                  group.Runs,
			MultiRunExecution:     group.MultiRunExecution,
			SelectedScenario:      group.SelectedScenario,
			SelectedAuthorization: group.SelectedAuthorization,
			SelectedCertificate:   group.SelectedCertificate,
			SelectedProxy:         group.SelectedProxy,
			SelectedData:          group.SelectedData,
		}
		if stored.Children == nil {
			stored.Children = []Entry{}
		}
		for _, child := range group.Children {
			stored.Children = append(stored.Children, Entry{child})
		}
		return json.Marshal(stored)
	}
	return json.Marshal(e.RequestEntry)
}

// OpenWorkbook reads a workbook from disk. Files ending in .json parse
// directly; everything else parses as YAML. The document is schema-checked
// before decoding.
func OpenWorkbook(path string) (*Workbook, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}

	jsonContent := content
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		var doc any
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse workbook YAML: %w", err)
		}
		jsonContent, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert workbook to JSON: %w", err)
		}
	}

	if err := validateWorkbook(jsonContent); err != nil {
		return nil, err
	}

	var workbook Workbook
	if err := json.Unmarshal(jsonContent, &workbook); err != nil {
		return nil, fmt.Errorf("failed to decode workbook: %w", err)
	}
	workbook.normalize()
	return &workbook, nil
}

func validateWorkbook(jsonContent []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(workbookSchema),
		gojsonschema.NewBytesLoader(jsonContent),
	)
	if err != nil {
		return fmt.Errorf("failed to validate workbook: %w", err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, schemaError := range result.Errors() {
			messages = append(messages, schemaError.String())
		}
		return fmt.Errorf("workbook failed validation: %s", strings.Join(messages, "; "))
	}
	return nil
}

// SaveWorkbook writes the workbook; .json paths get JSON, everything else
// YAML.
func SaveWorkbook(workbook *Workbook, path string) error {
	if workbook.Version == 0 {
		workbook.Version = 1.0
	}

	jsonContent, err := json.MarshalIndent(workbook, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workbook: %w", err)
	}

	content := jsonContent
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		var doc any
		if err := json.Unmarshal(jsonContent, &doc); err != nil {
			return fmt.Errorf("failed to stage workbook for YAML: %w", err)
		}
		content, err = yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode workbook YAML: %w", err)
		}
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// normalize fills generated ids and the implicit single-run default so the
// engine sees fully specified entries.
func (w *Workbook) normalize() {
	var walk func(entries []Entry)
	walk = func(entries []Entry) {
		for _, entry := range entries {
			switch e := entry.RequestEntry.(type) {
			case *workspace.Request:
				if e.ID == "" {
					e.ID = uuid.NewString()
				}
				if e.Runs == 0 {
					e.Runs = 1
				}
			case *workspace.RequestGroup:
				if e.ID == "" {
					e.ID = uuid.NewString()
				}
				if e.Runs == 0 {
					e.Runs = 1
				}
				wrapped := make([]Entry, 0, len(e.Children))
				for _, child := range e.Children {
					wrapped = append(wrapped, Entry{child})
				}
				walk(wrapped)
			}
		}
	}
	walk(w.Requests)

	for _, scenario := range w.Scenarios {
		if scenario.ID == "" {
			scenario.ID = uuid.NewString()
		}
	}
	for _, auth := range w.Authorizations {
		if auth.ID == "" {
			auth.ID = uuid.NewString()
		}
	}
	for _, certificate := range w.Certificates {
		if certificate.ID == "" {
			certificate.ID = uuid.NewString()
		}
	}
	for _, proxy := range w.Proxies {
		if proxy.ID == "" {
			proxy.ID = uuid.NewString()
		}
	}
	for _, data := range w.Data {
		if data.ID == "" {
			data.ID = uuid.NewString()
		}
	}
}

// ToWorkspace indexes the stored workbook into the read-only workspace the
// engine runs against.
func (w *Workbook) ToWorkspace() *workspace.Workspace {
	entries := make([]workspace.RequestEntry, 0, len(w.Requests))
	for _, entry := range w.Requests {
		entries = append(entries, entry.RequestEntry)
	}
	return workspace.New(
		entries,
		w.Scenarios,
		w.Authorizations,
		w.Certificates,
		w.Proxies,
		w.Data,
		w.Defaults,
	)
}
