package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/apicize/apicize-go/pkg/apicize"
	"github.com/apicize/apicize-go/pkg/workspace"
)

// runState is the runtime context threaded down the walk: variables handed
// over by a prior sequential sibling, and the data row pinned by an
// enclosing row expansion.
type runState struct {
	variables map[string]any
	row       map[string]any
	rowNumber int
}

// inputVariables picks the effective variables for an entry: a sibling's
// threaded output when present, otherwise the entry's resolved scenario
// variables.
func (st runState) inputVariables(params *workspace.RequestParameters) map[string]any {
	if st.variables != nil {
		return st.variables
	}
	return params.Variables
}

// Run executes the given root request/group ids, one parallel task per root,
// and returns one result tree per id in the same order. Cancellation that
// fires before a root's tree is complete surfaces as a Cancelled error;
// cancellations observed deeper in the walk are recorded on the affected
// executions instead.
func (rc *RunnerContext) Run(ctx context.Context, ids []string) ([]Result, error) {
	results := make([]Result, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()

			type outcome struct {
				result Result
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := rc.runEntry(ctx, id, runState{})
				done <- outcome{result, err}
			}()

			select {
			case <-ctx.Done():
				errs[i] = apicize.CancelledError()
			case finished := <-done:
				if finished.err == nil && ctx.Err() != nil {
					// The tree only finished because cancellation cut it
					// short; the root still reports cancelled.
					errs[i] = apicize.CancelledError()
					return
				}
				results[i], errs[i] = finished.result, finished.err
			}
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (rc *RunnerContext) runEntry(ctx context.Context, id string, st runState) (Result, error) {
	entry, ok := rc.workspace.Requests.Get(id)
	if !ok {
		return nil, apicize.InvalidIDError(id)
	}

	params, err := rc.workspace.RetrieveRequestParameters(entry, rc.valueCache)
	if err != nil {
		// A request whose parameters cannot materialize still yields a
		// result; the failure is recorded at the execution level.
		if request, isRequest := entry.(*workspace.Request); isRequest {
			return rc.failedResolution(request, err), nil
		}
		return nil, err
	}

	switch e := entry.(type) {
	case *workspace.Request:
		return rc.runRequest(ctx, e, params, st), nil
	case *workspace.RequestGroup:
		return rc.runGroup(ctx, e, params, st)
	default:
		return nil, apicize.InvalidIDError(id)
	}
}

// failedResolution produces a request result whose single execution records
// the variable/data materialization error: nothing was dispatched, no tests
// ran, and the request counts as errored.
func (rc *RunnerContext) failedResolution(request *workspace.Request, err error) *RequestResult {
	execution := &Execution{
		ExecutedAt: rc.elapsedMillis(),
		Error:      asEngineError(err),
	}
	execution.Tallies = executionTallies(execution)
	return &RequestResult{
		ID:         request.ID,
		Name:       request.Name,
		ExecutedAt: execution.ExecutedAt,
		Execution:  execution,
		Tallies:    execution.Tallies,
	}
}

func asEngineError(err error) *apicize.Error {
	if engineErr, ok := err.(*apicize.Error); ok {
		return engineErr
	}
	return apicize.NewError("%s", err.Error())
}

func (rc *RunnerContext) runRequest(
	ctx context.Context,
	request *workspace.Request,
	params *workspace.RequestParameters,
	st runState,
) *RequestResult {
	numberOfRuns := rc.runsFor(request)
	startedAt := time.Now()
	executedAt := rc.elapsedMillis()

	variables := st.inputVariables(params)

	rows := params.Data
	if st.row != nil {
		// An enclosing group already pinned a data row; do not expand again.
		rows = nil
	}
	numberOfRows := len(rows)

	result := &RequestResult{
		ID:         request.ID,
		Name:       request.Name,
		Tag:        request.Key,
		ExecutedAt: executedAt,
		DataContext: DataContext{
			Variables: variables,
			Data:      st.row,
		},
	}

	if numberOfRuns < 1 {
		result.Tallies = Tallies{Success: false}
		return result
	}

	if numberOfRuns == 1 && numberOfRows <= 1 {
		row, rowNumber := st.row, st.rowNumber
		if numberOfRows == 1 {
			row, rowNumber = rows[0], 1
		}
		execution := rc.dispatchAndTest(ctx, request, params, variables, rowNumber, row)
		result.Execution = execution
		result.Duration = time.Since(startedAt).Milliseconds()
		result.Tallies = execution.Tallies
		result.DataContext.OutputResult = execution.OutputVariables
		return result
	}

	if numberOfRows == 0 {
		runs := rc.requestRuns(ctx, request, params, variables, numberOfRuns, st.rowNumber, st.row)
		result.Runs = runs
		result.Duration = time.Since(startedAt).Milliseconds()
		result.Tallies = sumRunTallies(runs)
		result.DataContext.OutputResult = lastRunOutput(runs)
		return result
	}

	resultRows := make([]*ResultRow, 0, numberOfRows)
	for rowNumber := 1; rowNumber <= numberOfRows; rowNumber++ {
		row := rows[rowNumber-1]
		rowStartedAt := time.Now()
		resultRow := &ResultRow{
			RowNumber:  rowNumber,
			ExecutedAt: rc.elapsedMillis(),
			DataContext: DataContext{
				Variables: variables,
				Data:      row,
			},
		}
		if numberOfRuns == 1 {
			execution := rc.dispatchAndTest(ctx, request, params, variables, rowNumber, row)
			resultRow.Execution = execution
			resultRow.Tallies = execution.Tallies
			resultRow.DataContext.OutputResult = execution.OutputVariables
		} else {
			runs := rc.requestRuns(ctx, request, params, variables, numberOfRuns, rowNumber, row)
			resultRow.Runs = runs
			resultRow.Tallies = sumRunTallies(runs)
			resultRow.DataContext.OutputResult = lastRunOutput(runs)
		}
		resultRow.Duration = time.Since(rowStartedAt).Milliseconds()
		resultRows = append(resultRows, resultRow)
	}

	result.Rows = resultRows
	result.Duration = time.Since(startedAt).Milliseconds()
	result.Tallies = sumRowTallies(resultRows)
	if len(resultRows) > 0 {
		result.DataContext.OutputResult = resultRows[len(resultRows)-1].DataContext.OutputResult
	}
	return result
}

// requestRuns executes numberOfRuns dispatches of one request, sequentially
// or fanned out per the request's multi-run policy. Concurrent runs are
// sorted back into run order; runs skipped by cancellation are omitted.
func (rc *RunnerContext) requestRuns(
	ctx context.Context,
	request *workspace.Request,
	params *workspace.RequestParameters,
	variables map[string]any,
	numberOfRuns int,
	rowNumber int,
	row map[string]any,
) []*ResultRun {
	runs := make([]*ResultRun, 0, numberOfRuns)

	if request.MultiRunPolicy() == workspace.Concurrent && numberOfRuns > 1 {
		pending := make([]*ResultRun, numberOfRuns)
		var wg sync.WaitGroup
		for runNumber := 1; runNumber <= numberOfRuns; runNumber++ {
			wg.Add(1)
			go func(runNumber int) {
				defer wg.Done()
				if ctx.Err() != nil {
					return
				}
				pending[runNumber-1] = rc.singleRun(ctx, request, params, variables, runNumber, rowNumber, row)
			}(runNumber)
		}
		wg.Wait()
		for _, run := range pending {
			if run != nil {
				runs = append(runs, run)
			}
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].RunNumber < runs[j].RunNumber })
		return runs
	}

	for runNumber := 1; runNumber <= numberOfRuns; runNumber++ {
		if ctx.Err() != nil {
			break
		}
		runs = append(runs, rc.singleRun(ctx, request, params, variables, runNumber, rowNumber, row))
	}
	return runs
}

func (rc *RunnerContext) singleRun(
	ctx context.Context,
	request *workspace.Request,
	params *workspace.RequestParameters,
	variables map[string]any,
	runNumber, rowNumber int,
	row map[string]any,
) *ResultRun {
	startedAt := time.Now()
	run := &ResultRun{
		RunNumber:  runNumber,
		ExecutedAt: rc.elapsedMillis(),
	}
	execution := rc.dispatchAndTest(ctx, request, params, variables, rowNumber, row)
	run.Execution = execution
	run.Duration = time.Since(startedAt).Milliseconds()
	run.Tallies = execution.Tallies
	run.DataContext = DataContext{
		Variables:    variables,
		Data:         row,
		OutputResult: execution.OutputVariables,
	}
	return run
}

// dispatchAndTest performs one complete request execution: dispatch the
// HTTP exchange, then run the test script against the captured response.
// Transport errors skip the sandbox; sandbox errors leave tests unset.
func (rc *RunnerContext) dispatchAndTest(
	ctx context.Context,
	request *workspace.Request,
	params *workspace.RequestParameters,
	variables map[string]any,
	rowNumber int,
	row map[string]any,
) *Execution {
	startedAt := time.Now()
	execution := &Execution{
		ExecutedAt: rc.elapsedMillis(),
		RowNumber:  rowNumber,
		DataRow:    row,
	}
	if len(variables) > 0 {
		execution.InputVariables = variables
	}

	if ctx.Err() != nil {
		execution.Error = apicize.CancelledError()
		execution.Tallies = executionTallies(execution)
		return execution
	}

	dispatchRequest, dispatchResponse, err := rc.dispatch(ctx, request, params, variables)
	if dispatchRequest != nil {
		execution.Method = dispatchRequest.Method
		execution.URL = dispatchRequest.URL
		execution.Request = dispatchRequest
	}
	if err != nil {
		execution.Error = asEngineError(err)
		execution.Duration = time.Since(startedAt).Milliseconds()
		execution.Tallies = executionTallies(execution)
		return execution
	}
	execution.Response = dispatchResponse

	if request.Test != "" {
		merged := mergeVariables(row, variables)
		testResponse, err := RunTest(ctx, dispatchRequest, dispatchResponse, merged, rc.virtualNowMillis(), request.Test)
		if err != nil {
			execution.Error = asEngineError(err)
		} else {
			execution.Tests = testResponse.Results
			execution.OutputVariables = testResponse.Variables
		}
	}

	execution.Duration = time.Since(startedAt).Milliseconds()
	execution.Tallies = executionTallies(execution)
	return execution
}

// mergeVariables overlays scenario variables onto the data row; scenario
// values win on conflicts.
func mergeVariables(row, variables map[string]any) map[string]any {
	if len(row) == 0 {
		return variables
	}
	merged := make(map[string]any, len(row)+len(variables))
	for name, value := range row {
		merged[name] = value
	}
	for name, value := range variables {
		merged[name] = value
	}
	return merged
}

func (rc *RunnerContext) runGroup(
	ctx context.Context,
	group *workspace.RequestGroup,
	params *workspace.RequestParameters,
	st runState,
) (*GroupResult, error) {
	numberOfRuns := rc.runsFor(group)
	startedAt := time.Now()
	executedAt := rc.elapsedMillis()

	variables := st.inputVariables(params)

	result := &GroupResult{
		ID:         group.ID,
		Name:       group.Name,
		Tag:        group.Key,
		ExecutedAt: executedAt,
		DataContext: DataContext{
			Variables: variables,
			Data:      st.row,
		},
	}

	if numberOfRuns < 1 {
		result.Tallies = Tallies{Success: false}
		return result, nil
	}

	childIDs := rc.workspace.Requests.ChildIDs[group.ID]

	rows := params.Data
	if st.row != nil {
		rows = nil
	}

	if len(rows) > 0 {
		resultRows := make([]*ResultRow, 0, len(rows))
		for rowNumber := 1; rowNumber <= len(rows); rowNumber++ {
			row := rows[rowNumber-1]
			rowState := runState{variables: variables, row: row, rowNumber: rowNumber}
			rowStartedAt := time.Now()
			resultRow := &ResultRow{
				RowNumber:  rowNumber,
				ExecutedAt: rc.elapsedMillis(),
				DataContext: DataContext{
					Variables: variables,
					Data:      row,
				},
			}
			if numberOfRuns == 1 {
				children, output, err := rc.groupChildren(ctx, group, childIDs, rowState)
				if err != nil {
					return nil, err
				}
				resultRow.Children = children
				resultRow.Tallies = sumChildTallies(children)
				resultRow.DataContext.OutputResult = output
			} else {
				runs, err := rc.groupRuns(ctx, group, childIDs, rowState, numberOfRuns)
				if err != nil {
					return nil, err
				}
				resultRow.Runs = runs
				resultRow.Tallies = sumRunTallies(runs)
				resultRow.DataContext.OutputResult = lastRunOutput(runs)
			}
			resultRow.Duration = time.Since(rowStartedAt).Milliseconds()
			resultRows = append(resultRows, resultRow)
		}
		result.Rows = resultRows
		result.Duration = time.Since(startedAt).Milliseconds()
		result.Tallies = sumRowTallies(resultRows)
		if len(resultRows) > 0 {
			result.DataContext.OutputResult = resultRows[len(resultRows)-1].DataContext.OutputResult
		}
		return result, nil
	}

	childState := runState{variables: variables, row: st.row, rowNumber: st.rowNumber}

	if numberOfRuns == 1 {
		children, output, err := rc.groupChildren(ctx, group, childIDs, childState)
		if err != nil {
			return nil, err
		}
		result.Children = children
		result.Duration = time.Since(startedAt).Milliseconds()
		result.Tallies = sumChildTallies(children)
		result.DataContext.OutputResult = output
		return result, nil
	}

	runs, err := rc.groupRuns(ctx, group, childIDs, childState, numberOfRuns)
	if err != nil {
		return nil, err
	}
	result.Runs = runs
	result.Duration = time.Since(startedAt).Milliseconds()
	result.Tallies = sumRunTallies(runs)
	result.DataContext.OutputResult = lastRunOutput(runs)
	return result, nil
}

// groupRuns executes the group's children numberOfRuns times, sequentially
// or concurrently per the group's multi-run policy.
func (rc *RunnerContext) groupRuns(
	ctx context.Context,
	group *workspace.RequestGroup,
	childIDs []string,
	st runState,
	numberOfRuns int,
) ([]*ResultRun, error) {
	if group.MultiRunPolicy() == workspace.Concurrent && numberOfRuns > 1 {
		pending := make([]*ResultRun, numberOfRuns)
		pendingErrs := make([]error, numberOfRuns)
		var wg sync.WaitGroup
		for runNumber := 1; runNumber <= numberOfRuns; runNumber++ {
			wg.Add(1)
			go func(runNumber int) {
				defer wg.Done()
				if ctx.Err() != nil {
					return
				}
				pending[runNumber-1], pendingErrs[runNumber-1] = rc.singleGroupRun(ctx, group, childIDs, st, runNumber)
			}(runNumber)
		}
		wg.Wait()
		runs := make([]*ResultRun, 0, numberOfRuns)
		for i, run := range pending {
			if pendingErrs[i] != nil {
				return nil, pendingErrs[i]
			}
			if run != nil {
				runs = append(runs, run)
			}
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].RunNumber < runs[j].RunNumber })
		return runs, nil
	}

	runs := make([]*ResultRun, 0, numberOfRuns)
	for runNumber := 1; runNumber <= numberOfRuns; runNumber++ {
		if ctx.Err() != nil {
			break
		}
		run, err := rc.singleGroupRun(ctx, group, childIDs, st, runNumber)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (rc *RunnerContext) singleGroupRun(
	ctx context.Context,
	group *workspace.RequestGroup,
	childIDs []string,
	st runState,
	runNumber int,
) (*ResultRun, error) {
	startedAt := time.Now()
	run := &ResultRun{
		RunNumber:  runNumber,
		ExecutedAt: rc.elapsedMillis(),
	}
	children, output, err := rc.groupChildren(ctx, group, childIDs, st)
	if err != nil {
		return nil, err
	}
	run.Children = children
	run.Duration = time.Since(startedAt).Milliseconds()
	run.Tallies = sumChildTallies(children)
	run.DataContext = DataContext{
		Variables:    st.variables,
		Data:         st.row,
		OutputResult: output,
	}
	return run, nil
}

// groupChildren walks the group's children once. Sequential scheduling
// threads each child's output variables into the next; concurrent children
// all see the entry variables and are reassembled in declared order.
func (rc *RunnerContext) groupChildren(
	ctx context.Context,
	group *workspace.RequestGroup,
	childIDs []string,
	st runState,
) ([]Result, map[string]any, error) {
	if len(childIDs) == 0 {
		return nil, st.variables, nil
	}

	if group.ChildExecution() == workspace.Concurrent {
		pending := make([]Result, len(childIDs))
		pendingErrs := make([]error, len(childIDs))
		var wg sync.WaitGroup
		for i, childID := range childIDs {
			wg.Add(1)
			go func(i int, childID string) {
				defer wg.Done()
				if ctx.Err() != nil {
					return
				}
				pending[i], pendingErrs[i] = rc.runEntry(ctx, childID, st)
			}(i, childID)
		}
		wg.Wait()

		children := make([]Result, 0, len(childIDs))
		for i := range pending {
			if pendingErrs[i] != nil {
				return nil, nil, pendingErrs[i]
			}
			if pending[i] != nil {
				children = append(children, pending[i])
			}
		}
		var output map[string]any
		if len(children) > 0 {
			output = children[len(children)-1].OutputVariables()
		}
		return children, output, nil
	}

	children := make([]Result, 0, len(childIDs))
	childState := st
	for _, childID := range childIDs {
		if ctx.Err() != nil {
			break
		}
		child, err := rc.runEntry(ctx, childID, childState)
		if err != nil {
			return nil, nil, err
		}
		children = append(children, child)
		if output := child.OutputVariables(); output != nil {
			childState.variables = output
		}
	}
	var output map[string]any
	if len(children) > 0 {
		output = children[len(children)-1].OutputVariables()
	}
	return children, output, nil
}

func sumRunTallies(runs []*ResultRun) Tallies {
	tallies := make([]Tallies, len(runs))
	for i, run := range runs {
		tallies[i] = run.Tallies
	}
	return sumTallies(tallies)
}

func sumRowTallies(rows []*ResultRow) Tallies {
	tallies := make([]Tallies, len(rows))
	for i, row := range rows {
		tallies[i] = row.Tallies
	}
	return sumTallies(tallies)
}

func sumChildTallies(children []Result) Tallies {
	tallies := make([]Tallies, len(children))
	for i, child := range children {
		tallies[i] = child.ResultTallies()
	}
	return sumTallies(tallies)
}

func lastRunOutput(runs []*ResultRun) map[string]any {
	if len(runs) == 0 {
		return nil
	}
	return runs[len(runs)-1].DataContext.OutputResult
}
