// Package results flattens execution result trees into parallel summary and
// detail lists keyed by a monotonically assigned execution counter, indexed
// so callers can find every execution a given request produced under a
// given root.
package results

import (
	"fmt"

	"github.com/apicize/apicize-go/pkg/apicize"
	"github.com/apicize/apicize-go/pkg/engine"
)

// Builder assigns execution counters and maintains the cross-run indexes.
// Reprocessing a result for the same executing root replaces that root's
// prior entries instead of duplicating them.
type Builder struct {
	execCtr int
	results map[int]*ExecutionResult

	// Executions indexed first by the request they are for, then by the
	// root request/group whose run produced them.
	executingRequestIndex map[string]*orderedIndex
}

// ExecutionResult pairs the summary and detail stored for one counter.
type ExecutionResult struct {
	Summary *Summary
	Detail  *Detail
}

// orderedIndex is an insertion-ordered map of executing root id to the
// counters produced under it.
type orderedIndex struct {
	keys    []string
	entries map[string][]int
}

func newOrderedIndex() *orderedIndex {
	return &orderedIndex{entries: make(map[string][]int)}
}

func (ix *orderedIndex) append(executingID string, execCtr int) {
	if _, ok := ix.entries[executingID]; !ok {
		ix.keys = append(ix.keys, executingID)
	}
	ix.entries[executingID] = append(ix.entries[executingID], execCtr)
}

func (ix *orderedIndex) remove(executingID string) {
	if _, ok := ix.entries[executingID]; !ok {
		return
	}
	delete(ix.entries, executingID)
	for i, key := range ix.keys {
		if key == executingID {
			ix.keys = append(ix.keys[:i], ix.keys[i+1:]...)
			break
		}
	}
}

// NewBuilder creates an empty result index builder.
func NewBuilder() *Builder {
	return &Builder{
		results:               make(map[int]*ExecutionResult),
		executingRequestIndex: make(map[string]*orderedIndex),
	}
}

// IndexedResults is the flattened view of one processed root: a pre-order
// summary list and a parallel detail list sharing counters.
type IndexedResults struct {
	Summaries []*Summary
	Details   []*Detail
}

// BuildResultIndex flattens result trees produced by one run of the
// executing root into summary and detail lists.
func BuildResultIndex(results []engine.Result, executingID string) *IndexedResults {
	return NewBuilder().ProcessResult(results, executingID)
}

// ProcessResult ingests the result trees produced by running executingID.
// Prior entries recorded for that root are evicted first so re-runs
// replace, not duplicate.
func (b *Builder) ProcessResult(results []engine.Result, executingID string) *IndexedResults {
	b.evict(executingID)

	indexed := &IndexedResults{}
	walk := &walker{builder: b, executingID: executingID, indexed: indexed}
	for _, result := range results {
		walk.appendResult(result, 0, 0, nil)
	}
	return indexed
}

func (b *Builder) evict(executingID string) {
	for _, requestIndex := range b.executingRequestIndex {
		requestIndex.remove(executingID)
	}
}

// GetSummaries returns, for the given request or group id, the summaries of
// every execution recorded for it, grouped by the executing root. When
// includeAll is false only executions where the request was itself the root
// are returned.
func (b *Builder) GetSummaries(requestOrGroupID string, includeAll bool) map[string][]*Summary {
	requestIndex, ok := b.executingRequestIndex[requestOrGroupID]
	if !ok {
		return nil
	}
	grouped := make(map[string][]*Summary)
	for _, executingID := range requestIndex.keys {
		if !includeAll && executingID != requestOrGroupID {
			continue
		}
		for _, execCtr := range requestIndex.entries[executingID] {
			if result, ok := b.results[execCtr]; ok {
				grouped[executingID] = append(grouped[executingID], result.Summary)
			}
		}
	}
	return grouped
}

// GetDetail returns the detail stored for a counter.
func (b *Builder) GetDetail(execCtr int) (*Detail, error) {
	result, ok := b.results[execCtr]
	if !ok {
		return nil, apicize.NewError("invalid execution result counter %d", execCtr)
	}
	return result.Detail, nil
}

// GetResult returns the summary/detail pair stored for a counter.
func (b *Builder) GetResult(execCtr int) (*ExecutionResult, error) {
	result, ok := b.results[execCtr]
	if !ok {
		return nil, apicize.NewError("invalid execution result counter %d", execCtr)
	}
	return result, nil
}

func (b *Builder) nextCounter() int {
	b.execCtr++
	return b.execCtr
}

// walker carries the per-ProcessResult state down the tree.
type walker struct {
	builder     *Builder
	executingID string
	indexed     *IndexedResults
}

func (w *walker) store(summary *Summary, detail *Detail, activeRequestIDs []string) {
	w.builder.results[summary.ExecCtr] = &ExecutionResult{Summary: summary, Detail: detail}
	w.indexed.Summaries = append(w.indexed.Summaries, summary)
	w.indexed.Details = append(w.indexed.Details, detail)
	for _, requestID := range activeRequestIDs {
		requestIndex, ok := w.builder.executingRequestIndex[requestID]
		if !ok {
			requestIndex = newOrderedIndex()
			w.builder.executingRequestIndex[requestID] = requestIndex
		}
		requestIndex.append(w.executingID, summary.ExecCtr)
	}
}

func (w *walker) appendResult(result engine.Result, level, parentExecCtr int, activeRequestIDs []string) int {
	switch r := result.(type) {
	case *engine.RequestResult:
		return w.appendRequestResult(r, level, parentExecCtr, activeRequestIDs)
	case *engine.GroupResult:
		return w.appendGroupResult(r, level, parentExecCtr, activeRequestIDs)
	default:
		return 0
	}
}

func (w *walker) appendRequestResult(result *engine.RequestResult, level, parentExecCtr int, activeRequestIDs []string) int {
	execCtr := w.builder.nextCounter()
	active := append(append([]string{}, activeRequestIDs...), result.ID)

	summary := &Summary{
		ExecCtr:          execCtr,
		RequestOrGroupID: result.ID,
		ParentExecCtr:    parentExecCtr,
		Level:            level,
		Name:             result.Name,
		Tag:              result.Tag,
		ExecutedAt:       result.ExecutedAt,
		Duration:         result.Duration,
		Success:          successFromTallies(result.Tallies),
		Tallies:          result.Tallies,
	}
	detail := &Detail{
		ExecCtr:          execCtr,
		RequestOrGroupID: result.ID,
		Name:             result.Name,
		Tag:              result.Tag,
		ExecutedAt:       result.ExecutedAt,
		Duration:         result.Duration,
		DataContext:      result.DataContext,
		Success:          summary.Success,
		Tallies:          result.Tallies,
	}

	// Reserve this node's slot ahead of its children so the stored order
	// stays pre-order.
	w.store(summary, detail, active)

	switch {
	case result.Execution != nil:
		liftExecution(summary, detail, result.Execution)
	case result.Rows != nil:
		detail.Grouped = true
		summary.RowCount = len(result.Rows)
		for _, row := range result.Rows {
			childCtr := w.appendRow(result.ID, result.Name, row, len(result.Rows), level+1, execCtr, active)
			summary.ChildExecCtrs = append(summary.ChildExecCtrs, childCtr)
		}
	case result.Runs != nil:
		detail.Grouped = true
		summary.RunCount = len(result.Runs)
		for _, run := range result.Runs {
			childCtr := w.appendRun(result.ID, result.Name, run, len(result.Runs), level+1, execCtr, active)
			summary.ChildExecCtrs = append(summary.ChildExecCtrs, childCtr)
		}
	}
	return execCtr
}

func (w *walker) appendGroupResult(result *engine.GroupResult, level, parentExecCtr int, activeRequestIDs []string) int {
	execCtr := w.builder.nextCounter()
	active := append(append([]string{}, activeRequestIDs...), result.ID)

	summary := &Summary{
		ExecCtr:          execCtr,
		RequestOrGroupID: result.ID,
		ParentExecCtr:    parentExecCtr,
		Level:            level,
		Name:             result.Name,
		Tag:              result.Tag,
		ExecutedAt:       result.ExecutedAt,
		Duration:         result.Duration,
		Success:          successFromTallies(result.Tallies),
		Tallies:          result.Tallies,
	}
	detail := &Detail{
		ExecCtr:          execCtr,
		RequestOrGroupID: result.ID,
		Name:             result.Name,
		Tag:              result.Tag,
		Grouped:          true,
		ExecutedAt:       result.ExecutedAt,
		Duration:         result.Duration,
		DataContext:      result.DataContext,
		Success:          summary.Success,
		Tallies:          result.Tallies,
	}
	w.store(summary, detail, active)

	switch {
	case result.Children != nil:
		for _, child := range result.Children {
			childCtr := w.appendResult(child, level+1, execCtr, active)
			summary.ChildExecCtrs = append(summary.ChildExecCtrs, childCtr)
		}
	case result.Rows != nil:
		summary.RowCount = len(result.Rows)
		for _, row := range result.Rows {
			childCtr := w.appendRow(result.ID, result.Name, row, len(result.Rows), level+1, execCtr, active)
			summary.ChildExecCtrs = append(summary.ChildExecCtrs, childCtr)
		}
	case result.Runs != nil:
		summary.RunCount = len(result.Runs)
		for _, run := range result.Runs {
			childCtr := w.appendRun(result.ID, result.Name, run, len(result.Runs), level+1, execCtr, active)
			summary.ChildExecCtrs = append(summary.ChildExecCtrs, childCtr)
		}
	}
	return execCtr
}

func (w *walker) appendRow(id, title string, row *engine.ResultRow, rowCount, level, parentExecCtr int, activeRequestIDs []string) int {
	execCtr := w.builder.nextCounter()
	name := fmt.Sprintf("%s (Row %d of %d)", title, row.RowNumber, rowCount)

	summary := &Summary{
		ExecCtr:          execCtr,
		RequestOrGroupID: id,
		ParentExecCtr:    parentExecCtr,
		Level:            level,
		Name:             name,
		RowNumber:        row.RowNumber,
		RowCount:         rowCount,
		ExecutedAt:       row.ExecutedAt,
		Duration:         row.Duration,
		Success:          successFromTallies(row.Tallies),
		Tallies:          row.Tallies,
	}
	detail := &Detail{
		ExecCtr:          execCtr,
		RequestOrGroupID: id,
		Name:             name,
		Grouped:          true,
		RowNumber:        row.RowNumber,
		ExecutedAt:       row.ExecutedAt,
		Duration:         row.Duration,
		DataContext:      row.DataContext,
		Success:          summary.Success,
		Tallies:          row.Tallies,
	}
	w.store(summary, detail, activeRequestIDs)

	switch {
	case row.Execution != nil:
		detail.Grouped = false
		liftExecution(summary, detail, row.Execution)
	case row.Runs != nil:
		summary.RunCount = len(row.Runs)
		for _, run := range row.Runs {
			childCtr := w.appendRun(id, name, run, len(row.Runs), level+1, execCtr, activeRequestIDs)
			summary.ChildExecCtrs = append(summary.ChildExecCtrs, childCtr)
		}
	case row.Children != nil:
		for _, child := range row.Children {
			childCtr := w.appendResult(child, level+1, execCtr, activeRequestIDs)
			summary.ChildExecCtrs = append(summary.ChildExecCtrs, childCtr)
		}
	}
	return execCtr
}

func (w *walker) appendRun(id, title string, run *engine.ResultRun, runCount, level, parentExecCtr int, activeRequestIDs []string) int {
	execCtr := w.builder.nextCounter()
	name := fmt.Sprintf("%s (Run %d of %d)", title, run.RunNumber, runCount)

	summary := &Summary{
		ExecCtr:          execCtr,
		RequestOrGroupID: id,
		ParentExecCtr:    parentExecCtr,
		Level:            level,
		Name:             name,
		RunNumber:        run.RunNumber,
		RunCount:         runCount,
		ExecutedAt:       run.ExecutedAt,
		Duration:         run.Duration,
		Success:          successFromTallies(run.Tallies),
		Tallies:          run.Tallies,
	}
	detail := &Detail{
		ExecCtr:          execCtr,
		RequestOrGroupID: id,
		Name:             name,
		Grouped:          true,
		RunNumber:        run.RunNumber,
		ExecutedAt:       run.ExecutedAt,
		Duration:         run.Duration,
		DataContext:      run.DataContext,
		Success:          summary.Success,
		Tallies:          run.Tallies,
	}
	w.store(summary, detail, activeRequestIDs)

	switch {
	case run.Execution != nil:
		detail.Grouped = false
		liftExecution(summary, detail, run.Execution)
	case run.Children != nil:
		for _, child := range run.Children {
			childCtr := w.appendResult(child, level+1, execCtr, activeRequestIDs)
			summary.ChildExecCtrs = append(summary.ChildExecCtrs, childCtr)
		}
	}
	return execCtr
}

// liftExecution copies the response metadata a list view needs onto the
// summary, and the full execution onto the detail.
func liftExecution(summary *Summary, detail *Detail, execution *engine.Execution) {
	summary.Method = execution.Method
	summary.URL = execution.URL
	if execution.Response != nil {
		summary.Status = execution.Response.Status
		summary.StatusText = execution.Response.StatusText
		summary.HasResponseHeaders = len(execution.Response.Headers) > 0
		summary.ResponseBodyLength = execution.Response.Body.Length()
	}
	if execution.Error != nil {
		summary.Error = execution.Error.Error()
		detail.Error = execution.Error.Error()
	}
	summary.TestResults = execution.Tests

	detail.Method = execution.Method
	detail.URL = execution.URL
	detail.Execution = execution
	detail.OutputVariables = execution.OutputVariables
	detail.Tests = execution.Tests
	if detail.DataContext.Variables == nil {
		detail.DataContext.Variables = execution.InputVariables
	}
	if detail.DataContext.Data == nil {
		detail.DataContext.Data = execution.DataRow
	}
	detail.DataContext.OutputResult = execution.OutputVariables
}
