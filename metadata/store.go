// Package metadata implements the in-memory metadata store keyed by vector
// id, with a roaring-bitmap inverted index for field=value lookups.
package metadata

import (
	"iter"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Document is the metadata attached to one vector.
type Document map[string]string

type fieldValue struct {
	field string
	value string
}

// Store maps vector ids to documents. Node indexes (the graph's stable
// uint32 ids) feed the inverted index so matching sets come back as cheap
// bitmaps.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]Document
	nodeByID map[string]uint32
	inverted map[fieldValue]*roaring.Bitmap
}

// NewStore creates an empty metadata store.
func NewStore() *Store {
	return &Store{
		docs:     make(map[string]Document),
		nodeByID: make(map[string]uint32),
		inverted: make(map[fieldValue]*roaring.Bitmap),
	}
}

// Set stores the document for id, indexing every field=value pair under the
// given node index. A nil or empty document is stored as an absence.
func (s *Store) Set(id string, node uint32, doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.docs[id]; ok {
		s.removeFromIndexLocked(old, s.nodeByID[id])
	}

	if len(doc) == 0 {
		delete(s.docs, id)
		delete(s.nodeByID, id)
		return
	}

	owned := make(Document, len(doc))
	for k, v := range doc {
		owned[k] = v
	}
	s.docs[id] = owned
	s.nodeByID[id] = node

	for k, v := range owned {
		fv := fieldValue{field: k, value: v}
		bm, ok := s.inverted[fv]
		if !ok {
			bm = roaring.New()
			s.inverted[fv] = bm
		}
		bm.Add(node)
	}
}

// Get returns the document for id.
func (s *Store) Get(id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, true
}

// Delete removes the document for id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return
	}
	s.removeFromIndexLocked(doc, s.nodeByID[id])
	delete(s.docs, id)
	delete(s.nodeByID, id)
}

func (s *Store) removeFromIndexLocked(doc Document, node uint32) {
	for k, v := range doc {
		fv := fieldValue{field: k, value: v}
		if bm, ok := s.inverted[fv]; ok {
			bm.Remove(node)
			if bm.IsEmpty() {
				delete(s.inverted, fv)
			}
		}
	}
}

// NodesWhere returns the node indexes whose documents carry field=value.
// The returned bitmap is a copy and safe to mutate.
func (s *Store) NodesWhere(field, value string) *roaring.Bitmap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bm, ok := s.inverted[fieldValue{field: field, value: value}]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// MatchesAll intersects the node sets for every field=value pair in filter;
// an empty filter matches nothing.
func (s *Store) MatchesAll(filter Document) *roaring.Bitmap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var acc *roaring.Bitmap
	for k, v := range filter {
		bm, ok := s.inverted[fieldValue{field: k, value: v}]
		if !ok {
			return roaring.New()
		}
		if acc == nil {
			acc = bm.Clone()
			continue
		}
		acc.And(bm)
	}
	if acc == nil {
		return roaring.New()
	}
	return acc
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// All iterates over (id, document) pairs in unspecified order.
func (s *Store) All() iter.Seq2[string, Document] {
	return func(yield func(string, Document) bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for id, doc := range s.docs {
			if !yield(id, doc) {
				return
			}
		}
	}
}

// Clear drops all documents and indexes.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]Document)
	s.nodeByID = make(map[string]uint32)
	s.inverted = make(map[fieldValue]*roaring.Bitmap)
}
