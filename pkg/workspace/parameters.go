package workspace

// RequestParameters is the effective parameter set for one request or group:
// materialized scenario variables, data rows, and the ids of the resolved
// authorization, certificate and proxy.
type RequestParameters struct {
	Variables map[string]any
	Data      []map[string]any

	AuthorizationID string
	CertificateID   string
	ProxyID         string

	// The OAuth2 client credential flow may carry its own certificate and
	// proxy; these come from the authorization itself, never from the
	// request chain.
	AuthCertificateID string
	AuthProxyID       string
}

// seeking tracks which selection kinds are still unresolved during the
// ancestry walk.
type seeking struct {
	scenario      *Scenario
	authorization *Authorization
	certificate   *Certificate
	proxy         *Proxy
	data          *ExternalData

	allowScenario      bool
	allowAuthorization bool
	allowCertificate   bool
	allowProxy         bool
	allowData          bool
}

func (s *seeking) done() bool {
	return (s.scenario != nil || !s.allowScenario) &&
		(s.authorization != nil || !s.allowAuthorization) &&
		(s.certificate != nil || !s.allowCertificate) &&
		(s.proxy != nil || !s.allowProxy) &&
		(s.data != nil || !s.allowData)
}

// consult applies one entry's (or the defaults') tri-valued selections to
// whatever kinds are still seeking.
func (s *seeking) consult(ws *Workspace, selectionOf func(SelectionKind) *Selection) {
	if s.allowScenario && s.scenario == nil {
		switch found, state := ws.Scenarios.Find(selectionOf(KindScenario)); state {
		case SelectionOff:
			s.allowScenario = false
		case Selected:
			s.scenario = found
		}
	}
	if s.allowAuthorization && s.authorization == nil {
		switch found, state := ws.Authorizations.Find(selectionOf(KindAuthorization)); state {
		case SelectionOff:
			s.allowAuthorization = false
		case Selected:
			s.authorization = found
		}
	}
	if s.allowCertificate && s.certificate == nil {
		switch found, state := ws.Certificates.Find(selectionOf(KindCertificate)); state {
		case SelectionOff:
			s.allowCertificate = false
		case Selected:
			s.certificate = found
		}
	}
	if s.allowProxy && s.proxy == nil {
		switch found, state := ws.Proxies.Find(selectionOf(KindProxy)); state {
		case SelectionOff:
			s.allowProxy = false
		case Selected:
			s.proxy = found
		}
	}
	if s.allowData && s.data == nil {
		switch found, state := ws.Data.Find(selectionOf(KindData)); state {
		case SelectionOff:
			s.allowData = false
		case Selected:
			s.data = found
		}
	}
}

// RetrieveRequestParameters computes the effective parameters for an entry
// by walking its ancestry: an explicit selection stops the search for that
// kind, an explicit "off" records none, and anything unresolved after the
// chain falls back to the workspace defaults. A visited set guards against
// cycles in the parent index. Scenario and data values materialize through
// the variable cache; the first materialization error fails the resolution.
func (ws *Workspace) RetrieveRequestParameters(entry RequestEntry, cache *VariableCache) (*RequestParameters, error) {
	state := seeking{
		allowScenario:      true,
		allowAuthorization: true,
		allowCertificate:   true,
		allowProxy:         true,
		allowData:          true,
	}

	visited := make(map[string]bool)
	current := entry
	for {
		state.consult(ws, current.Selection)
		if state.done() {
			break
		}

		visited[current.GetID()] = true
		parentID, ok := ws.Requests.ParentID(current.GetID())
		if !ok {
			break
		}
		if visited[parentID] {
			// Recursive parent chain; abandon the walk
			break
		}
		parent, ok := ws.Requests.Get(parentID)
		if !ok {
			break
		}
		current = parent
	}

	if !state.done() {
		state.consult(ws, ws.Defaults.selection)
	}

	params := &RequestParameters{}
	if state.authorization != nil {
		params.AuthorizationID = state.authorization.ID
		if state.authorization.Type == AuthOAuth2Client {
			if cert, s := ws.Certificates.Find(state.authorization.SelectedCertificate); s == Selected {
				params.AuthCertificateID = cert.ID
			}
			if proxy, s := ws.Proxies.Find(state.authorization.SelectedProxy); s == Selected {
				params.AuthProxyID = proxy.ID
			}
		}
	}
	if state.certificate != nil {
		params.CertificateID = state.certificate.ID
	}
	if state.proxy != nil {
		params.ProxyID = state.proxy.ID
	}

	if state.scenario != nil {
		values := cache.ScenarioValues(state.scenario)
		variables := make(map[string]any, len(values))
		for name, value := range values {
			if value.Err != nil {
				return nil, value.Err
			}
			variables[name] = value.Value
		}
		if len(variables) > 0 {
			params.Variables = variables
		}
	}

	if state.data != nil {
		rows, err := cache.ExternalData(state.data)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			params.Data = rows
		}
	}

	return params, nil
}
