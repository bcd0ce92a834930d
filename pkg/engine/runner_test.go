package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apicize/apicize-go/pkg/apicize"
	"github.com/apicize/apicize-go/pkg/workspace"
)

func okStub(t *testing.T) *httptest.Server {
	t.Helper()
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(stub.Close)
	return stub
}

// S1: simple GET with a passing test.
func TestRunSimpleRequest(t *testing.T) {
	stub := okStub(t)
	request := &workspace.Request{
		ID: "R1", Name: "Simple", URL: stub.URL, Runs: 1,
		Test: `describe('status', function () { it('is 200', function () { expect(response.status).to.equal(200); }); });`,
	}
	rc := NewRunnerContext(singleRequestWorkspace(request))

	results, err := rc.Run(context.Background(), []string{"R1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	result := results[0].(*RequestResult)
	if result.Execution == nil {
		t.Fatal("single run should produce a bare execution")
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result.Tallies)
	}
	if result.TestPassCount != 1 || result.TestFailCount != 0 {
		t.Errorf("tally wrong: %+v", result.Tallies)
	}
	if result.Execution.Response.Status != 200 {
		t.Errorf("status wrong: %d", result.Execution.Response.Status)
	}
}

func TestRunUnknownID(t *testing.T) {
	rc := NewRunnerContext(singleRequestWorkspace(&workspace.Request{ID: "R1", Name: "X", URL: "http://localhost", Runs: 1}))
	_, err := rc.Run(context.Background(), []string{"missing"})
	if err == nil {
		t.Fatal("expected invalid id error")
	}
	if apicize.KindOf(err) != apicize.KindInvalidID {
		t.Errorf("expected InvalidId, got %v", apicize.KindOf(err))
	}
}

// Boundary: runs = 0 emits an empty, unsuccessful shorthand.
func TestRunZeroRuns(t *testing.T) {
	request := &workspace.Request{ID: "R1", Name: "Never", URL: "http://localhost", Runs: 0}
	rc := NewRunnerContext(singleRequestWorkspace(request))

	results, err := rc.Run(context.Background(), []string{"R1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	result := results[0].(*RequestResult)
	if result.Execution != nil || result.Runs != nil || result.Rows != nil {
		t.Error("zero runs should dispatch nothing")
	}
	if result.Success {
		t.Error("zero runs should be unsuccessful")
	}
}

// S3: the override expands a single-run request into four sequential runs.
func TestRunOverrideRuns(t *testing.T) {
	var calls int32
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer stub.Close()

	request := &workspace.Request{ID: "R1", Name: "Repeated", URL: stub.URL, Runs: 1}
	rc := NewRunnerContext(singleRequestWorkspace(request), WithOverrideRuns(4))

	results, err := rc.Run(context.Background(), []string{"R1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	result := results[0].(*RequestResult)
	if len(result.Runs) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(result.Runs))
	}
	for i, run := range result.Runs {
		if run.RunNumber != i+1 {
			t.Errorf("run %d has number %d", i, run.RunNumber)
		}
	}
	if atomic.LoadInt32(&calls) != 4 {
		t.Errorf("expected 4 dispatches, got %d", calls)
	}
}

func TestRunConcurrentRunsSortedByRunNumber(t *testing.T) {
	stub := okStub(t)
	request := &workspace.Request{
		ID: "R1", Name: "Fanout", URL: stub.URL, Runs: 5,
		MultiRunExecution: workspace.Concurrent,
	}
	rc := NewRunnerContext(singleRequestWorkspace(request))

	results, err := rc.Run(context.Background(), []string{"R1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	result := results[0].(*RequestResult)
	if len(result.Runs) != 5 {
		t.Fatalf("expected 5 runs, got %d", len(result.Runs))
	}
	for i, run := range result.Runs {
		if run.RunNumber != i+1 {
			t.Errorf("concurrent runs must sort ascending: index %d run %d", i, run.RunNumber)
		}
	}
}

// Parent tallies equal the sum of child tallies at every level.
func TestRunTallyRollup(t *testing.T) {
	stub := okStub(t)
	failing := `describe('x', function () { it('fails', function () { expect(response.status).to.equal(500); }); });`
	passing := `describe('x', function () { it('passes', function () { expect(response.status).to.equal(200); }); });`

	entries := []workspace.RequestEntry{
		&workspace.RequestGroup{
			ID: "G1", Name: "Mixed", Runs: 1,
			Children: []workspace.RequestEntry{
				&workspace.Request{ID: "R1", Name: "Pass", URL: stub.URL, Runs: 1, Test: passing},
				&workspace.Request{ID: "R2", Name: "Fail", URL: stub.URL, Runs: 1, Test: failing},
			},
		},
	}
	ws := workspace.New(entries, nil, nil, nil, nil, nil, nil)
	rc := NewRunnerContext(ws)

	results, err := rc.Run(context.Background(), []string{"G1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	group := results[0].(*GroupResult)
	if len(group.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(group.Children))
	}

	var sum Tallies
	sum.Success = true
	for _, child := range group.Children {
		sum.Add(child.ResultTallies())
	}
	if group.Tallies != sum {
		t.Errorf("group tallies %+v != sum of children %+v", group.Tallies, sum)
	}
	if group.Success {
		t.Error("a failing child must fail the group")
	}
	if group.TestPassCount != 1 || group.TestFailCount != 1 {
		t.Errorf("test counts wrong: %+v", group.Tallies)
	}
	if group.RequestSuccessCount != 1 || group.RequestFailureCount != 1 {
		t.Errorf("request counts wrong: %+v", group.Tallies)
	}
}

// S4: cancellation before the root completes surfaces as Err(Cancelled).
func TestRunCancellation(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer stub.Close()

	request := &workspace.Request{ID: "R1", Name: "Sleepy", URL: stub.URL, Runs: 1}
	rc := NewRunnerContext(singleRequestWorkspace(request))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	_, err := rc.Run(ctx, []string{"R1"})
	if err == nil {
		t.Fatal("expected cancellation")
	}
	if !apicize.IsCancelled(err) {
		t.Errorf("expected Cancelled, got %v", err)
	}
	if time.Since(started) > 2*time.Second {
		t.Error("cancellation should short-circuit the dispatch")
	}
}

// S6: sequential siblings thread output variables forward.
func TestRunGroupVariableThreading(t *testing.T) {
	stub := okStub(t)
	writer := `output.next = 7;
describe('writer', function () { it('runs', function () { expect(response.status).to.equal(200); }); });`
	reader := `describe('reader', function () { it('sees prior output', function () { expect(variables.next).to.equal(7); }); });`

	entries := []workspace.RequestEntry{
		&workspace.RequestGroup{
			ID: "G1", Name: "Chained", Runs: 1,
			Children: []workspace.RequestEntry{
				&workspace.Request{ID: "R1", Name: "Writer", URL: stub.URL, Runs: 1, Test: writer},
				&workspace.Request{ID: "R2", Name: "Reader", URL: stub.URL, Runs: 1, Test: reader},
			},
		},
	}
	ws := workspace.New(entries, nil, nil, nil, nil, nil, nil)
	rc := NewRunnerContext(ws)

	results, err := rc.Run(context.Background(), []string{"G1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	group := results[0].(*GroupResult)
	if !group.Success {
		t.Errorf("both children should pass: %+v", group.Tallies)
	}
	if group.TestPassCount != 2 {
		t.Errorf("expected 2 passing tests, got %d", group.TestPassCount)
	}

	// Scenario keys never drop between siblings: the reader's input
	// includes everything the writer put out
	reader2 := group.Children[1].(*RequestResult)
	if reader2.Execution.InputVariables["next"] != float64(7) {
		t.Errorf("threaded input wrong: %v", reader2.Execution.InputVariables)
	}
}

func TestRunConcurrentChildrenDeclaredOrder(t *testing.T) {
	stub := okStub(t)
	entries := []workspace.RequestEntry{
		&workspace.RequestGroup{
			ID: "G1", Name: "Parallel", Runs: 1,
			Execution: workspace.Concurrent,
			Children: []workspace.RequestEntry{
				&workspace.Request{ID: "R1", Name: "First", URL: stub.URL, Runs: 1},
				&workspace.Request{ID: "R2", Name: "Second", URL: stub.URL, Runs: 1},
				&workspace.Request{ID: "R3", Name: "Third", URL: stub.URL, Runs: 1},
			},
		},
	}
	ws := workspace.New(entries, nil, nil, nil, nil, nil, nil)
	rc := NewRunnerContext(ws)

	results, err := rc.Run(context.Background(), []string{"G1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	group := results[0].(*GroupResult)
	want := []string{"R1", "R2", "R3"}
	for i, child := range group.Children {
		if child.ResultID() != want[i] {
			t.Errorf("children must keep declared order: index %d is %s", i, child.ResultID())
		}
	}
}

// Data rows expand a request into per-row executions; scenario variables
// overlay row fields inside the sandbox.
func TestRunDataRows(t *testing.T) {
	stub := okStub(t)
	script := `describe('row', function () { it('has an id', function () { expect(variables.id).to.exist(); }); });`
	request := &workspace.Request{
		ID: "R1", Name: "PerRow", URL: stub.URL, Runs: 1,
		SelectedData: &workspace.Selection{ID: "D1"},
		Test:         script,
	}
	ws := singleRequestWorkspace(request, withData(&workspace.ExternalData{
		ID: "D1", Name: "ids", Type: workspace.DataJSON, Source: `[{"id":"a"},{"id":"b"},{"id":"c"}]`,
	}))
	rc := NewRunnerContext(ws)

	results, err := rc.Run(context.Background(), []string{"R1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	result := results[0].(*RequestResult)
	if len(result.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(result.Rows))
	}
	for i, row := range result.Rows {
		if row.RowNumber != i+1 {
			t.Errorf("row %d numbered %d", i, row.RowNumber)
		}
		if row.Execution == nil {
			t.Fatalf("single-run row should hold one execution")
		}
	}
	if result.TestPassCount != 3 {
		t.Errorf("each row should run the test once: %+v", result.Tallies)
	}
	if result.Rows[1].Execution.DataRow["id"] != "b" {
		t.Errorf("row data wrong: %v", result.Rows[1].Execution.DataRow)
	}
}

// Boundary: one run with one data row keeps the single execution shape but
// records row number 1.
func TestRunSingleRowShorthand(t *testing.T) {
	stub := okStub(t)
	request := &workspace.Request{
		ID: "R1", Name: "OneRow", URL: stub.URL, Runs: 1,
		SelectedData: &workspace.Selection{ID: "D1"},
	}
	ws := singleRequestWorkspace(request, withData(&workspace.ExternalData{
		ID: "D1", Name: "one", Type: workspace.DataJSON, Source: `[{"id":"only"}]`,
	}))
	rc := NewRunnerContext(ws)

	results, err := rc.Run(context.Background(), []string{"R1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	result := results[0].(*RequestResult)
	if result.Execution == nil || result.Rows != nil {
		t.Fatal("one row and one run should collapse to a single execution")
	}
	if result.Execution.RowNumber != 1 {
		t.Errorf("shorthand should record row number 1, got %d", result.Execution.RowNumber)
	}
	if result.Execution.DataRow["id"] != "only" {
		t.Errorf("row data missing: %v", result.Execution.DataRow)
	}
}

func TestRunRowsWithMultipleRuns(t *testing.T) {
	stub := okStub(t)
	request := &workspace.Request{
		ID: "R1", Name: "Matrix", URL: stub.URL, Runs: 2,
		SelectedData: &workspace.Selection{ID: "D1"},
	}
	ws := singleRequestWorkspace(request, withData(&workspace.ExternalData{
		ID: "D1", Name: "two", Type: workspace.DataJSON, Source: `[{"id":"a"},{"id":"b"}]`,
	}))
	rc := NewRunnerContext(ws)

	results, err := rc.Run(context.Background(), []string{"R1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	result := results[0].(*RequestResult)
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	for _, row := range result.Rows {
		if len(row.Runs) != 2 {
			t.Errorf("row %d should hold 2 runs, got %d", row.RowNumber, len(row.Runs))
		}
	}
}

// A transport error skips the sandbox and rolls up as a request error.
func TestRunTransportErrorSkipsTests(t *testing.T) {
	request := &workspace.Request{
		ID: "R1", Name: "Dead", URL: "http://127.0.0.1:1", Runs: 1,
		Test: `describe('x', function () { it('never runs', function () { expect(true).to.be.ok(); }); });`,
	}
	rc := NewRunnerContext(singleRequestWorkspace(request))

	results, err := rc.Run(context.Background(), []string{"R1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	result := results[0].(*RequestResult)
	if result.Execution.Error == nil {
		t.Fatal("expected transport error on the execution")
	}
	if result.Execution.Tests != nil {
		t.Error("tests must not run after a transport error")
	}
	if result.RequestErrorCount != 1 {
		t.Errorf("transport errors count as request errors: %+v", result.Tallies)
	}
	if result.Success {
		t.Error("errored execution cannot be successful")
	}
}

// A variable materialization failure records at the execution level without
// dispatching.
func TestRunResolutionErrorRecordsExecution(t *testing.T) {
	request := &workspace.Request{
		ID: "R1", Name: "BadVars", URL: "http://localhost", Runs: 1,
		SelectedScenario: &workspace.Selection{ID: "S1"},
	}
	ws := singleRequestWorkspace(request, withScenario(&workspace.Scenario{
		ID: "S1", Name: "Broken",
		Variables: []workspace.Variable{{Name: "bad", Type: workspace.SourceJSON, Value: "{"}},
	}))
	rc := NewRunnerContext(ws)

	results, err := rc.Run(context.Background(), []string{"R1"})
	if err != nil {
		t.Fatalf("resolution failures stay in the tree: %v", err)
	}
	result := results[0].(*RequestResult)
	if result.Execution == nil || result.Execution.Error == nil {
		t.Fatal("expected an execution-level error")
	}
	if result.Execution.Response != nil {
		t.Error("nothing should be dispatched")
	}
	if result.RequestErrorCount != 1 {
		t.Errorf("resolution failure counts as request error: %+v", result.Tallies)
	}
}

func TestRunGroupMultiRun(t *testing.T) {
	stub := okStub(t)
	entries := []workspace.RequestEntry{
		&workspace.RequestGroup{
			ID: "G1", Name: "Twice", Runs: 2,
			Children: []workspace.RequestEntry{
				&workspace.Request{ID: "R1", Name: "Child", URL: stub.URL, Runs: 1},
			},
		},
	}
	ws := workspace.New(entries, nil, nil, nil, nil, nil, nil)
	rc := NewRunnerContext(ws)

	results, err := rc.Run(context.Background(), []string{"G1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	group := results[0].(*GroupResult)
	if len(group.Runs) != 2 {
		t.Fatalf("expected 2 group runs, got %d", len(group.Runs))
	}
	for i, run := range group.Runs {
		if run.RunNumber != i+1 {
			t.Errorf("group run %d numbered %d", i, run.RunNumber)
		}
		if len(run.Children) != 1 {
			t.Errorf("each group run should hold the children, got %d", len(run.Children))
		}
	}
}

func TestRunMultipleRootsInParallel(t *testing.T) {
	stub := okStub(t)
	entries := []workspace.RequestEntry{
		&workspace.Request{ID: "R1", Name: "A", URL: stub.URL, Runs: 1},
		&workspace.Request{ID: "R2", Name: "B", URL: stub.URL, Runs: 1},
	}
	ws := workspace.New(entries, nil, nil, nil, nil, nil, nil)
	rc := NewRunnerContext(ws)

	results, err := rc.Run(context.Background(), []string{"R1", "R2"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ResultID() != "R1" || results[1].ResultID() != "R2" {
		t.Error("results must keep the requested order")
	}
}
