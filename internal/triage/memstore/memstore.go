// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/linnemanlabs/sift/internal/triage"
)

// DefaultCapacity bounds the number of records kept when none is given.
const DefaultCapacity = 10000

// Store holds triage records in memory, dropping the least recently used
// once capacity is reached. Suitable for dev/testing and single-replica
// deployments.
type Store struct {
	records *lru.Cache[string, triage.Record]
}

// New initializes a new in-memory Store holding up to capacity records.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	records, err := lru.New[string, triage.Record](capacity)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return &Store{records: records}
}

// Get retrieves a triage record by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Record, bool, error) {
	r, ok := s.records.Get(id)
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

// Put stores a copy of the triage record.
func (s *Store) Put(_ context.Context, r *triage.Record) error {
	s.records.Add(r.ID, *r)
	return nil
}

// Len reports the number of stored records.
func (s *Store) Len() int { return s.records.Len() }
