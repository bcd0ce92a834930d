package workspace

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apicize/apicize-go/pkg/apicize"
)

// ScenarioValue is one materialized scenario variable: either a JSON value
// or the error produced while resolving it.
type ScenarioValue struct {
	Value any
	Err   error
}

// VariableCache memoizes scenario variable values and external data rows.
// File-backed sources resolve only within the allowed base path. The cache
// is safe for concurrent use by the orchestrator's tasks.
type VariableCache struct {
	mu          sync.Mutex
	allowedPath string

	scenarios map[string]map[string]ScenarioValue
	data      map[string]dataEntry
}

type dataEntry struct {
	rows []map[string]any
	err  error
}

// NewVariableCache creates a cache. An empty allowedPath disables
// file-backed sources entirely.
func NewVariableCache(allowedPath string) *VariableCache {
	return &VariableCache{
		allowedPath: allowedPath,
		scenarios:   make(map[string]map[string]ScenarioValue),
		data:        make(map[string]dataEntry),
	}
}

// ScenarioValues resolves each enabled variable of the scenario, memoizing
// by scenario id. Individual variable failures are captured per name so one
// bad variable does not poison its siblings.
func (c *VariableCache) ScenarioValues(scenario *Scenario) map[string]ScenarioValue {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.scenarios[scenario.ID]; ok {
		return cached
	}

	values := make(map[string]ScenarioValue, len(scenario.Variables))
	for _, variable := range scenario.Variables {
		if variable.Disabled {
			continue
		}
		value, err := c.resolveVariable(&variable)
		values[variable.Name] = ScenarioValue{Value: value, Err: err}
	}
	c.scenarios[scenario.ID] = values
	return values
}

func (c *VariableCache) resolveVariable(variable *Variable) (any, error) {
	switch variable.Type {
	case SourceText, "":
		return variable.Value, nil
	case SourceJSON:
		return convertJSON(variable.Name, variable.Value)
	case SourceFileJSON:
		return c.extractJSON(variable.Name, variable.Value)
	case SourceFileCSV:
		return c.extractCSV(variable.Name, variable.Value)
	default:
		return nil, apicize.NewError("unknown variable source type %q", variable.Type)
	}
}

// ExternalData resolves the data set to an ordered list of row objects,
// memoizing by name. A JSON array maps element-wise, a single object wraps
// into a one-element list, and a scalar wraps as {"data": value}.
func (c *VariableCache) ExternalData(data *ExternalData) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.data[data.Name]; ok {
		return cached.rows, cached.err
	}

	var value any
	var err error
	switch data.Type {
	case DataJSON:
		value, err = convertJSON(data.Name, data.Source)
	case DataFileJSON:
		value, err = c.extractJSON(data.Name, data.Source)
	case DataFileCSV:
		value, err = c.extractCSV(data.Name, data.Source)
	default:
		err = apicize.NewError("unknown data source type %q", data.Type)
	}

	var rows []map[string]any
	if err == nil {
		rows = normalizeRows(value)
	}
	c.data[data.Name] = dataEntry{rows: rows, err: err}
	return rows, err
}

func normalizeRows(value any) []map[string]any {
	switch v := value.(type) {
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				rows = append(rows, obj)
			} else {
				rows = append(rows, map[string]any{"data": item})
			}
		}
		return rows
	case map[string]any:
		return []map[string]any{v}
	default:
		return []map[string]any{{"data": value}}
	}
}

func convertJSON(name, text string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, apicize.SerializationError(name, err)
	}
	return value, nil
}

func (c *VariableCache) extractJSON(name, fileName string) (any, error) {
	path, err := c.resolveDataFile(fileName)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apicize.FileAccessError(fileName, err)
	}
	var value any
	if err := json.Unmarshal(content, &value); err != nil {
		return nil, apicize.SerializationError(name, err)
	}
	return value, nil
}

func (c *VariableCache) extractCSV(name, fileName string) (any, error) {
	path, err := c.resolveDataFile(fileName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, apicize.FileAccessError(fileName, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	headers, err := reader.Read()
	if err == io.EOF {
		return []any{}, nil
	}
	if err != nil {
		return nil, apicize.SerializationError(name, err)
	}

	rows := make([]any, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apicize.SerializationError(name, err)
		}
		row := make(map[string]any, len(headers))
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// resolveDataFile constrains fileName to the allowed base path, rejecting
// traversal outside it.
func (c *VariableCache) resolveDataFile(fileName string) (string, error) {
	if c.allowedPath == "" {
		return "", apicize.NewError("external variable files are unavailable in an unsaved workbook")
	}

	target := fileName
	if !filepath.IsAbs(target) {
		target = filepath.Join(c.allowedPath, target)
	}
	absPath, err := filepath.Abs(target)
	if err != nil {
		return "", apicize.FileAccessError(fileName, err)
	}
	absBase, err := filepath.Abs(c.allowedPath)
	if err != nil {
		return "", apicize.FileAccessError(fileName, err)
	}
	prefix := absBase
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if absPath != absBase && !strings.HasPrefix(absPath, prefix) {
		return "", apicize.FileAccessError(fileName,
			fmt.Errorf("access denied: path outside allowed data directory"))
	}
	return absPath, nil
}
