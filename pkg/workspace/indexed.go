package workspace

import (
	"strings"

	"github.com/apicize/apicize-go/pkg/apicize"
)

// IndexedEntities is an id-keyed, ordered collection of workspace entities.
type IndexedEntities[T Identifiable] struct {
	TopLevelIDs []string
	Entities    map[string]T
}

// NewIndexedEntities indexes entities, preserving declared order.
func NewIndexedEntities[T Identifiable](entities []T) *IndexedEntities[T] {
	ix := &IndexedEntities[T]{
		TopLevelIDs: make([]string, 0, len(entities)),
		Entities:    make(map[string]T, len(entities)),
	}
	for _, entity := range entities {
		ix.TopLevelIDs = append(ix.TopLevelIDs, entity.GetID())
		ix.Entities[entity.GetID()] = entity
	}
	return ix
}

// Get returns the entity with the given id. The no-selection sentinel never
// matches.
func (ix *IndexedEntities[T]) Get(id string) (T, bool) {
	var zero T
	if id == "" || id == NoSelectionID {
		return zero, false
	}
	entity, ok := ix.Entities[id]
	if !ok {
		return zero, false
	}
	return entity, true
}

// Find resolves a selection against the collection: a nil selection defers
// to the default, the sentinel id turns the kind off, and anything else
// matches by id first, then case-insensitively by name.
func (ix *IndexedEntities[T]) Find(selection *Selection) (T, SelectionState) {
	var zero T
	if selection == nil {
		return zero, UseDefault
	}
	if selection.ID == NoSelectionID {
		return zero, SelectionOff
	}
	if found, ok := ix.Entities[selection.ID]; ok {
		return found, Selected
	}
	for _, id := range ix.TopLevelIDs {
		entity := ix.Entities[id]
		if strings.EqualFold(entity.GetName(), selection.Name) {
			return entity, Selected
		}
	}
	return zero, UseDefault
}

// FindByIDOrName resolves a caller-supplied identifier to an entity id,
// matching by id first and exact name second.
func (ix *IndexedEntities[T]) FindByIDOrName(idOrName string) (string, error) {
	if idOrName == "" || idOrName == NoSelectionID {
		return "", nil
	}
	if _, ok := ix.Entities[idOrName]; ok {
		return idOrName, nil
	}
	for _, id := range ix.TopLevelIDs {
		if ix.Entities[id].GetName() == idOrName {
			return id, nil
		}
	}
	return "", apicize.InvalidIDError(idOrName)
}

// IndexedRequests holds the request tree flattened into an id-keyed index.
// The index owns the parent/child relationships: every id appears either in
// TopLevelIDs or as the child of exactly one parent, and the reverse parent
// map stays consistent with the child lists.
type IndexedRequests struct {
	TopLevelIDs []string
	ChildIDs    map[string][]string
	Entities    map[string]RequestEntry

	parentIDs map[string]string
}

// NewIndexedRequests builds the index from a nested entry list. Group
// children are moved into the index; groups retain no child slices of their
// own afterwards.
func NewIndexedRequests(entries []RequestEntry) *IndexedRequests {
	ix := &IndexedRequests{
		ChildIDs:  make(map[string][]string),
		Entities:  make(map[string]RequestEntry),
		parentIDs: make(map[string]string),
	}
	for _, entry := range entries {
		ix.TopLevelIDs = append(ix.TopLevelIDs, entry.GetID())
		ix.add(entry, "")
	}
	return ix
}

func (ix *IndexedRequests) add(entry RequestEntry, parentID string) {
	id := entry.GetID()
	ix.Entities[id] = entry
	if parentID != "" {
		ix.ChildIDs[parentID] = append(ix.ChildIDs[parentID], id)
		ix.parentIDs[id] = parentID
	}
	if group, ok := entry.(*RequestGroup); ok {
		children := group.Children
		group.Children = nil
		for _, child := range children {
			ix.add(child, id)
		}
	}
}

// Get returns the request or group with the given id.
func (ix *IndexedRequests) Get(id string) (RequestEntry, bool) {
	entry, ok := ix.Entities[id]
	return entry, ok
}

// ParentID returns the parent of id, if any. Parameter resolution walks
// upward through this reverse map rather than scanning child lists.
func (ix *IndexedRequests) ParentID(id string) (string, bool) {
	parent, ok := ix.parentIDs[id]
	return parent, ok
}

// FindByIDOrName resolves an id or exact name to a request entry id.
func (ix *IndexedRequests) FindByIDOrName(idOrName string) (string, error) {
	if _, ok := ix.Entities[idOrName]; ok {
		return idOrName, nil
	}
	var match string
	for id, entry := range ix.Entities {
		if entry.GetName() == idOrName {
			if match != "" {
				return "", apicize.NewError("name %q is ambiguous", idOrName)
			}
			match = id
		}
	}
	if match == "" {
		return "", apicize.InvalidIDError(idOrName)
	}
	return match, nil
}
