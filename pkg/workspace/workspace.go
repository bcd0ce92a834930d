package workspace

// Defaults are the workspace-level fallback selections consulted when a
// request chain resolves no explicit selection of a kind.
type Defaults struct {
	SelectedScenario      *Selection `json:"selectedScenario,omitempty" yaml:"selectedScenario,omitempty"`
	SelectedAuthorization *Selection `json:"selectedAuthorization,omitempty" yaml:"selectedAuthorization,omitempty"`
	SelectedCertificate   *Selection `json:"selectedCertificate,omitempty" yaml:"selectedCertificate,omitempty"`
	SelectedProxy         *Selection `json:"selectedProxy,omitempty" yaml:"selectedProxy,omitempty"`
	SelectedData          *Selection `json:"selectedData,omitempty" yaml:"selectedData,omitempty"`
}

func (d *Defaults) selection(kind SelectionKind) *Selection {
	if d == nil {
		return nil
	}
	switch kind {
	case KindScenario:
		return d.SelectedScenario
	case KindAuthorization:
		return d.SelectedAuthorization
	case KindCertificate:
		return d.SelectedCertificate
	case KindProxy:
		return d.SelectedProxy
	default:
		return d.SelectedData
	}
}

// Workspace is the read-only view the execution engine consumes: five
// indexed parameter collections plus the request index. It must not be
// mutated while a run is in progress.
type Workspace struct {
	Requests       *IndexedRequests
	Scenarios      *IndexedEntities[*Scenario]
	Authorizations *IndexedEntities[*Authorization]
	Certificates   *IndexedEntities[*Certificate]
	Proxies        *IndexedEntities[*Proxy]
	Data           *IndexedEntities[*ExternalData]
	Defaults       *Defaults
}

// New assembles a workspace from its collections, indexing everything by id.
func New(
	requests []RequestEntry,
	scenarios []*Scenario,
	authorizations []*Authorization,
	certificates []*Certificate,
	proxies []*Proxy,
	data []*ExternalData,
	defaults *Defaults,
) *Workspace {
	return &Workspace{
		Requests:       NewIndexedRequests(requests),
		Scenarios:      NewIndexedEntities(scenarios),
		Authorizations: NewIndexedEntities(authorizations),
		Certificates:   NewIndexedEntities(certificates),
		Proxies:        NewIndexedEntities(proxies),
		Data:           NewIndexedEntities(data),
		Defaults:       defaults,
	}
}
