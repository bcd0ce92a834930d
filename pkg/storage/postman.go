package storage

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	postman "github.com/rbretecher/go-postman-collection"

	"github.com/apicize/apicize-go/pkg/workspace"
)

// ImportPostman converts a Postman v2.1 collection into a workbook.
// Folders become groups and requests carry over method, URL, headers and
// raw bodies; Postman's {{var}} placeholders already match the engine's
// substitution syntax.
func ImportPostman(reader io.Reader) (*Workbook, error) {
	collection, err := postman.ParseCollection(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postman collection: %w", err)
	}

	workbook := &Workbook{Version: 1.0}
	for _, item := range collection.Items {
		if entry := convertPostmanItem(item); entry != nil {
			workbook.Requests = append(workbook.Requests, Entry{entry})
		}
	}
	return workbook, nil
}

func convertPostmanItem(item *postman.Items) workspace.RequestEntry {
	if item.IsGroup() {
		group := &workspace.RequestGroup{
			ID:   uuid.NewString(),
			Name: item.Name,
			Runs: 1,
		}
		for _, child := range item.Items {
			if entry := convertPostmanItem(child); entry != nil {
				group.Children = append(group.Children, entry)
			}
		}
		return group
	}

	if item.Request == nil {
		return nil
	}

	request := &workspace.Request{
		ID:     uuid.NewString(),
		Name:   item.Name,
		Method: strings.ToUpper(string(item.Request.Method)),
		Runs:   1,
	}
	if item.Request.URL != nil {
		request.URL = item.Request.URL.Raw
	}
	for _, header := range item.Request.Header {
		request.Headers = append(request.Headers, workspace.NameValuePair{
			Name:  header.Key,
			Value: header.Value,
		})
	}
	if item.Request.Body != nil && item.Request.Body.Raw != "" {
		bodyType := workspace.BodyText
		trimmed := strings.TrimSpace(item.Request.Body.Raw)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			bodyType = workspace.BodyJSON
		}
		request.Body = &workspace.RequestBody{
			Type: bodyType,
			Data: item.Request.Body.Raw,
		}
	}
	return request
}
