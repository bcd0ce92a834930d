package results

import "github.com/apicize/apicize-go/pkg/engine"

// Success is the tri-valued outcome derived from tallies at every level.
type Success string

const (
	// StatusSuccess means every dispatch and every test succeeded.
	StatusSuccess Success = "SUCCESS"
	// StatusFailure means transport succeeded but at least one test failed.
	StatusFailure Success = "FAILURE"
	// StatusError means at least one dispatch or script raised an error.
	StatusError Success = "ERROR"
)

func successFromTallies(tallies engine.Tallies) Success {
	switch {
	case tallies.RequestErrorCount > 0:
		return StatusError
	case tallies.TestFailCount > 0 || tallies.RequestFailureCount > 0:
		return StatusFailure
	default:
		return StatusSuccess
	}
}

// Summary is the list-view projection of one flattened result node. It
// elides variables and bodies; response metadata is lifted so a list can
// render without loading details.
type Summary struct {
	ExecCtr          int    `json:"execCtr"`
	RequestOrGroupID string `json:"requestOrGroupId"`
	ParentExecCtr    int    `json:"parentExecCtr,omitempty"`
	ChildExecCtrs    []int  `json:"childExecCtrs,omitempty"`
	Level            int    `json:"level"`

	Name string `json:"name"`
	Tag  string `json:"tag,omitempty"`

	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`

	ExecutedAt int64 `json:"executedAt"`
	Duration   int64 `json:"duration"`

	Status             int    `json:"status,omitempty"`
	StatusText         string `json:"statusText,omitempty"`
	HasResponseHeaders bool   `json:"hasResponseHeaders,omitempty"`
	ResponseBodyLength int    `json:"responseBodyLength,omitempty"`

	Success Success `json:"success"`
	Error   string  `json:"error,omitempty"`

	TestResults []engine.TestBehavior `json:"testResults,omitempty"`

	RunNumber int `json:"runNumber,omitempty"`
	RunCount  int `json:"runCount,omitempty"`
	RowNumber int `json:"rowNumber,omitempty"`
	RowCount  int `json:"rowCount,omitempty"`

	engine.Tallies
}

// Detail is the full projection of one flattened result node: data
// contexts, variables, tests and errors.
type Detail struct {
	ExecCtr          int    `json:"execCtr"`
	RequestOrGroupID string `json:"requestOrGroupId"`
	Name             string `json:"name"`
	Tag              string `json:"tag,omitempty"`

	// Grouped details aggregate children (groups, rows, runs); request
	// details carry a single execution.
	Grouped bool `json:"grouped"`

	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`

	RowNumber int `json:"rowNumber,omitempty"`
	RunNumber int `json:"runNumber,omitempty"`

	ExecutedAt int64 `json:"executedAt"`
	Duration   int64 `json:"duration"`

	DataContext     engine.DataContext    `json:"dataContext"`
	Execution       *engine.Execution     `json:"execution,omitempty"`
	OutputVariables map[string]any        `json:"outputVariables,omitempty"`
	Tests           []engine.TestBehavior `json:"tests,omitempty"`
	Error           string                `json:"error,omitempty"`

	Success Success `json:"success"`

	engine.Tallies
}
