package engine

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"github.com/apicize/apicize-go/pkg/apicize"
)

// The test framework source is compiled into the binary and loaded into
// every isolate before the user's script.
//
//go:embed framework.js
var frameworkSource string

// TestResponse is what the sandbox hands back: the describe/it outcomes and
// the merged variable map (input variables overlaid with script output).
type TestResponse struct {
	Results   []TestBehavior `json:"results"`
	Variables map[string]any `json:"variables"`
}

// RunTest evaluates the test script against the request, response and merged
// variables in a fresh JavaScript isolate. The script has no host access
// beyond the provided bindings. A compile or runtime failure surfaces as a
// FailedTest error; assertion failures are ordinary results.
func RunTest(
	ctx context.Context,
	request *DispatchRequest,
	response *DispatchResponse,
	variables map[string]any,
	virtualNowMillis int64,
	script string,
) (*TestResponse, error) {
	runtime := goja.New()

	// Abort the evaluation as soon as cancellation fires; goja only notices
	// interrupts while executing, so the watcher is harmless when the
	// script finishes first.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			runtime.Interrupt(context.Canceled)
		case <-watchDone:
		}
	}()

	if _, err := runtime.RunString(frameworkSource); err != nil {
		return nil, apicize.FailedTestError(fmt.Sprintf("failed to load test framework: %v", err))
	}

	requestJSON, err := json.Marshal(request)
	if err != nil {
		return nil, apicize.FailedTestError(fmt.Sprintf("failed to encode request: %v", err))
	}
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return nil, apicize.FailedTestError(fmt.Sprintf("failed to encode response: %v", err))
	}
	if variables == nil {
		variables = map[string]any{}
	}
	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, apicize.FailedTestError(fmt.Sprintf("failed to encode variables: %v", err))
	}

	invocation := fmt.Sprintf(
		"JSON.stringify(runTestSuite(%s, %s, %s, %d, function () {\n%s\n}))",
		requestJSON, responseJSON, variablesJSON, virtualNowMillis, script,
	)

	value, err := runtime.RunString(invocation)
	if err != nil {
		if _, interrupted := err.(*goja.InterruptedError); interrupted || ctx.Err() != nil {
			return nil, apicize.CancelledError()
		}
		if exception, ok := err.(*goja.Exception); ok {
			return nil, apicize.FailedTestError(exception.String())
		}
		return nil, apicize.FailedTestError(err.Error())
	}

	var testResponse TestResponse
	if err := json.Unmarshal([]byte(value.String()), &testResponse); err != nil {
		return nil, apicize.FailedTestError(fmt.Sprintf("unexpected test framework response: %v", err))
	}
	return &testResponse, nil
}
