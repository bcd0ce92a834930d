// Package engine executes request trees: it resolves parameters, dispatches
// HTTP, runs test scripts in an embedded JavaScript sandbox and aggregates
// the outcomes into a hierarchical result tree.
package engine

import (
	"github.com/apicize/apicize-go/pkg/apicize"
)

// Tallies are the success counters rolled up at every level of the result
// tree. A parent's tallies are the sum of its children's, with success being
// the conjunction.
type Tallies struct {
	Success             bool `json:"success"`
	RequestSuccessCount int  `json:"requestSuccessCount"`
	RequestFailureCount int  `json:"requestFailureCount"`
	RequestErrorCount   int  `json:"requestErrorCount"`
	TestPassCount       int  `json:"testPassCount"`
	TestFailCount       int  `json:"testFailCount"`
}

// Add folds another tally into this one.
func (t *Tallies) Add(other Tallies) {
	t.Success = t.Success && other.Success
	t.RequestSuccessCount += other.RequestSuccessCount
	t.RequestFailureCount += other.RequestFailureCount
	t.RequestErrorCount += other.RequestErrorCount
	t.TestPassCount += other.TestPassCount
	t.TestFailCount += other.TestFailCount
}

func sumTallies(items []Tallies) Tallies {
	total := Tallies{Success: true}
	for _, item := range items {
		total.Add(item)
	}
	return total
}

// DataContext captures the variables in play around a result: what was seen
// on entry, the data row in effect, and what the last execution produced for
// the next sibling.
type DataContext struct {
	Variables    map[string]any `json:"variables,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	OutputResult map[string]any `json:"outputResult,omitempty"`
}

// BodyCapture is a request or response body kept both as raw bytes and, when
// it decodes cleanly, as text.
type BodyCapture struct {
	Data []byte `json:"data,omitempty"`
	Text string `json:"text,omitempty"`
}

// Length returns the captured byte length.
func (b *BodyCapture) Length() int {
	if b == nil {
		return 0
	}
	if len(b.Data) > 0 {
		return len(b.Data)
	}
	return len(b.Text)
}

// DispatchRequest is the request as it actually went on the wire, after
// substitution and authorization.
type DispatchRequest struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      *BodyCapture      `json:"body,omitempty"`
	Variables map[string]any    `json:"variables,omitempty"`
}

// DispatchResponse is the captured HTTP response, including the OAuth2 token
// result when a client credentials authorization was applied.
type DispatchResponse struct {
	Status      int               `json:"status"`
	StatusText  string            `json:"statusText"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        *BodyCapture      `json:"body,omitempty"`
	OAuth2Token *TokenResult      `json:"oauth2Token,omitempty"`
}

// TestBehavior is one describe/it outcome reported by the sandbox.
type TestBehavior struct {
	Name    []string `json:"testName"`
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Logs    []string `json:"logs,omitempty"`
}

// Execution records a single dispatch plus its test outcomes.
type Execution struct {
	ExecutedAt int64 `json:"executedAt"`
	Duration   int64 `json:"duration"`
	RowNumber  int   `json:"rowNumber,omitempty"`

	Method   string            `json:"method,omitempty"`
	URL      string            `json:"url,omitempty"`
	Request  *DispatchRequest  `json:"request,omitempty"`
	Response *DispatchResponse `json:"response,omitempty"`
	Tests    []TestBehavior    `json:"tests,omitempty"`

	InputVariables  map[string]any `json:"inputVariables,omitempty"`
	DataRow         map[string]any `json:"dataRow,omitempty"`
	OutputVariables map[string]any `json:"outputVariables,omitempty"`

	Error *apicize.Error `json:"error,omitempty"`
	Logs  []string       `json:"logs,omitempty"`

	Tallies
}

// Result is one node of the execution result tree: either a request result
// or a group result.
type Result interface {
	ResultID() string
	ResultName() string
	ResultTallies() Tallies
	ResultDataContext() *DataContext
	// OutputVariables are what the node hands to its next sequential
	// sibling.
	OutputVariables() map[string]any
}

// RequestResult is the outcome of one request entry: exactly one of
// Execution, Rows or Runs is populated (none for a zero-run request).
type RequestResult struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Tag        string `json:"tag,omitempty"`
	ExecutedAt int64  `json:"executedAt"`
	Duration   int64  `json:"duration"`

	DataContext DataContext `json:"dataContext"`

	Execution *Execution   `json:"execution,omitempty"`
	Rows      []*ResultRow `json:"rows,omitempty"`
	Runs      []*ResultRun `json:"runs,omitempty"`

	Logs []string `json:"logs,omitempty"`

	Tallies
}

// GroupResult is the outcome of one group entry: exactly one of Children,
// Rows or Runs is populated (all may be empty for a zero-run group).
type GroupResult struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Tag        string `json:"tag,omitempty"`
	ExecutedAt int64  `json:"executedAt"`
	Duration   int64  `json:"duration"`

	DataContext DataContext `json:"dataContext"`

	Children []Result     `json:"children,omitempty"`
	Rows     []*ResultRow `json:"rows,omitempty"`
	Runs     []*ResultRun `json:"runs,omitempty"`

	Tallies
}

// ResultRow is one data-row-bound slice of a result: a single execution, a
// set of runs, or (for groups) the children executed against that row.
type ResultRow struct {
	RowNumber  int   `json:"rowNumber"`
	ExecutedAt int64 `json:"executedAt"`
	Duration   int64 `json:"duration"`

	DataContext DataContext `json:"dataContext"`

	Execution *Execution   `json:"execution,omitempty"`
	Runs      []*ResultRun `json:"runs,omitempty"`
	Children  []Result     `json:"children,omitempty"`

	Tallies
}

// ResultRun is one run within a multi-run result: an execution for requests,
// children for groups.
type ResultRun struct {
	RunNumber  int   `json:"runNumber"`
	ExecutedAt int64 `json:"executedAt"`
	Duration   int64 `json:"duration"`

	DataContext DataContext `json:"dataContext"`

	Execution *Execution `json:"execution,omitempty"`
	Children  []Result   `json:"children,omitempty"`

	Tallies
}

func (r *RequestResult) ResultID() string               { return r.ID }
func (r *RequestResult) ResultName() string             { return r.Name }
func (r *RequestResult) ResultTallies() Tallies         { return r.Tallies }
func (r *RequestResult) ResultDataContext() *DataContext { return &r.DataContext }
func (r *RequestResult) OutputVariables() map[string]any {
	return r.DataContext.OutputResult
}

func (g *GroupResult) ResultID() string               { return g.ID }
func (g *GroupResult) ResultName() string             { return g.Name }
func (g *GroupResult) ResultTallies() Tallies         { return g.Tallies }
func (g *GroupResult) ResultDataContext() *DataContext { return &g.DataContext }
func (g *GroupResult) OutputVariables() map[string]any {
	return g.DataContext.OutputResult
}

// executionTallies derives the per-execution tally: exactly one of the
// request counters is set, errors taking precedence over test failures.
func executionTallies(execution *Execution) Tallies {
	t := Tallies{}
	for _, test := range execution.Tests {
		if test.Success {
			t.TestPassCount++
		} else {
			t.TestFailCount++
		}
	}
	switch {
	case execution.Error != nil:
		t.RequestErrorCount = 1
	case t.TestFailCount > 0:
		t.RequestFailureCount = 1
	default:
		t.RequestSuccessCount = 1
	}
	t.Success = execution.Error == nil && t.TestFailCount == 0
	return t
}
