package workspace

import (
	"encoding/json"
	"strings"
)

// ExecutionConcurrency selects how multiple runs, or a group's children,
// are scheduled.
type ExecutionConcurrency string

const (
	// Sequential executes one at a time. A group's sequential children thread
	// output variables forward; repeated runs all start from the same input
	// variables.
	Sequential ExecutionConcurrency = "SEQUENTIAL"
	// Concurrent fans out in parallel; no variable threading between peers.
	Concurrent ExecutionConcurrency = "CONCURRENT"
)

// Request methods accepted by the dispatcher.
const (
	MethodGet     = "GET"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodDelete  = "DELETE"
	MethodPatch   = "PATCH"
	MethodHead    = "HEAD"
	MethodOptions = "OPTIONS"
)

// NameValuePair is a header or query string entry. Disabled rows are kept in
// the workbook but skipped at dispatch.
type NameValuePair struct {
	Name     string `json:"name" yaml:"name"`
	Value    string `json:"value" yaml:"value"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// BodyType discriminates the request body payload.
type BodyType string

const (
	BodyText BodyType = "Text"
	BodyJSON BodyType = "JSON"
	BodyXML  BodyType = "XML"
	BodyForm BodyType = "Form"
	BodyRaw  BodyType = "Raw"
)

// RequestBody is the request payload. Data holds textual bodies, Form holds
// form fields, and Raw holds binary content.
type RequestBody struct {
	Type BodyType        `json:"type" yaml:"type"`
	Data string          `json:"data,omitempty" yaml:"data,omitempty"`
	Form []NameValuePair `json:"form,omitempty" yaml:"form,omitempty"`
	Raw  []byte          `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Substituted reports whether placeholder substitution applies to this body
// type. Form and Raw bodies are sent verbatim.
func (b *RequestBody) Substituted() bool {
	switch b.Type {
	case BodyText, BodyJSON, BodyXML:
		return true
	default:
		return false
	}
}

// Request is a single dispatchable HTTP request with its test script and
// parameter selections.
type Request struct {
	ID                string               `json:"id" yaml:"id"`
	Name              string               `json:"name" yaml:"name"`
	Key               string               `json:"key,omitempty" yaml:"key,omitempty"`
	Test              string               `json:"test,omitempty" yaml:"test,omitempty"`
	URL               string               `json:"url" yaml:"url"`
	Method            string               `json:"method,omitempty" yaml:"method,omitempty"`
	Timeout           int                  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Headers           []NameValuePair      `json:"headers,omitempty" yaml:"headers,omitempty"`
	QueryStringParams []NameValuePair      `json:"queryStringParams,omitempty" yaml:"queryStringParams,omitempty"`
	Body              *RequestBody         `json:"body,omitempty" yaml:"body,omitempty"`
	Runs              int                  `json:"runs" yaml:"runs"`
	MultiRunExecution ExecutionConcurrency `json:"multiRunExecution,omitempty" yaml:"multiRunExecution,omitempty"`

	SelectedScenario      *Selection `json:"selectedScenario,omitempty" yaml:"selectedScenario,omitempty"`
	SelectedAuthorization *Selection `json:"selectedAuthorization,omitempty" yaml:"selectedAuthorization,omitempty"`
	SelectedCertificate   *Selection `json:"selectedCertificate,omitempty" yaml:"selectedCertificate,omitempty"`
	SelectedProxy         *Selection `json:"selectedProxy,omitempty" yaml:"selectedProxy,omitempty"`
	SelectedData          *Selection `json:"selectedData,omitempty" yaml:"selectedData,omitempty"`
}

// RequestGroup is an ordered collection of requests and nested groups.
// Children live here only until the group is indexed; afterwards the request
// index owns the parent/child relationships.
type RequestGroup struct {
	ID                string               `json:"id" yaml:"id"`
	Name              string               `json:"name" yaml:"name"`
	Key               string               `json:"key,omitempty" yaml:"key,omitempty"`
	Children          []RequestEntry       `json:"children,omitempty" yaml:"children,omitempty"`
	Execution         ExecutionConcurrency `json:"execution,omitempty" yaml:"execution,omitempty"`
	Runs              int                  `json:"runs" yaml:"runs"`
	MultiRunExecution ExecutionConcurrency `json:"multiRunExecution,omitempty" yaml:"multiRunExecution,omitempty"`

	SelectedScenario      *Selection `json:"selectedScenario,omitempty" yaml:"selectedScenario,omitempty"`
	SelectedAuthorization *Selection `json:"selectedAuthorization,omitempty" yaml:"selectedAuthorization,omitempty"`
	SelectedCertificate   *Selection `json:"selectedCertificate,omitempty" yaml:"selectedCertificate,omitempty"`
	SelectedProxy         *Selection `json:"selectedProxy,omitempty" yaml:"selectedProxy,omitempty"`
	SelectedData          *Selection `json:"selectedData,omitempty" yaml:"selectedData,omitempty"`
}

// RequestEntry is either a Request or a RequestGroup. Parameter selections
// and run policies are common to both so the resolver and orchestrator can
// treat entries uniformly.
type RequestEntry interface {
	Identifiable
	Selection(kind SelectionKind) *Selection
	RunCount() int
	MultiRunPolicy() ExecutionConcurrency
}

// SelectionKind identifies one of the five parameter selections an entry
// can carry.
type SelectionKind int

const (
	KindScenario SelectionKind = iota
	KindAuthorization
	KindCertificate
	KindProxy
	KindData
)

func (r *Request) GetID() string    { return r.ID }
func (r *Request) GetName() string  { return r.Name }
func (r *Request) GetTitle() string { return titleOf(r.ID, r.Name) }

func (r *Request) Selection(kind SelectionKind) *Selection {
	switch kind {
	case KindScenario:
		return r.SelectedScenario
	case KindAuthorization:
		return r.SelectedAuthorization
	case KindCertificate:
		return r.SelectedCertificate
	case KindProxy:
		return r.SelectedProxy
	default:
		return r.SelectedData
	}
}

// RunCount returns the configured number of runs. Zero is meaningful: the
// orchestrator emits an empty, unsuccessful result without dispatching.
func (r *Request) RunCount() int {
	return r.Runs
}

func (r *Request) MultiRunPolicy() ExecutionConcurrency {
	if r.MultiRunExecution == "" {
		return Sequential
	}
	return r.MultiRunExecution
}

func (g *RequestGroup) GetID() string    { return g.ID }
func (g *RequestGroup) GetName() string  { return g.Name }
func (g *RequestGroup) GetTitle() string { return titleOf(g.ID, g.Name) }

func (g *RequestGroup) Selection(kind SelectionKind) *Selection {
	switch kind {
	case KindScenario:
		return g.SelectedScenario
	case KindAuthorization:
		return g.SelectedAuthorization
	case KindCertificate:
		return g.SelectedCertificate
	case KindProxy:
		return g.SelectedProxy
	default:
		return g.SelectedData
	}
}

// RunCount returns the configured number of runs; zero yields an empty,
// unsuccessful result.
func (g *RequestGroup) RunCount() int {
	return g.Runs
}

func (g *RequestGroup) MultiRunPolicy() ExecutionConcurrency {
	if g.MultiRunExecution == "" {
		return Sequential
	}
	return g.MultiRunExecution
}

// ChildExecution returns the group's child scheduling policy, defaulting to
// sequential so that variable threading is well defined.
func (g *RequestGroup) ChildExecution() ExecutionConcurrency {
	if g.Execution == "" {
		return Sequential
	}
	return g.Execution
}

// CloneAndSub returns text with every "{{name}}" placeholder replaced from
// subs. Unknown placeholders are left intact; substitution over text without
// placeholders is the identity.
func CloneAndSub(text string, subs map[string]string) string {
	if len(subs) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	result := text
	for placeholder, value := range subs {
		result = strings.ReplaceAll(result, placeholder, value)
	}
	return result
}

// BuildSubstitutions converts resolved variables into a placeholder map.
// String values substitute as-is; anything else is rendered as JSON.
func BuildSubstitutions(variables map[string]any) map[string]string {
	if len(variables) == 0 {
		return nil
	}
	subs := make(map[string]string, len(variables))
	for name, value := range variables {
		var text string
		if s, ok := value.(string); ok {
			text = s
		} else {
			rendered, err := json.Marshal(value)
			if err != nil {
				continue
			}
			text = string(rendered)
		}
		subs["{{"+name+"}}"] = text
	}
	return subs
}
