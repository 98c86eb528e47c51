package gem

import (
	"context"
	"maps"
)

// =====================================
// In-Memory Data Source
// =====================================

// MemorySource keeps records in process memory and counts fetches per id.
// It backs tests and demos.
type MemorySource struct {
	records map[int64]Record
	seq     int64
	fetches map[int64]int
	err     error
}

// NewMemorySource creates a source preloaded with records; each must carry an id
func NewMemorySource(records ...Record) *MemorySource {
	s := &MemorySource{
		records: make(map[int64]Record),
		fetches: make(map[int64]int),
	}
	for _, rec := range records {
		if id := IDFromRecord(rec); id > 0 {
			s.Put(id, rec)
		}
	}
	return s
}

// Put stores rec under id, replacing any existing record
func (s *MemorySource) Put(id int64, rec Record) {
	stored := maps.Clone(rec)
	if stored == nil {
		stored = Record{}
	}
	stored[idKey] = id
	s.records[id] = stored
	if id > s.seq {
		s.seq = id
	}
}

// FailWith makes every following call return err; nil restores normal operation
func (s *MemorySource) FailWith(err error) {
	s.err = err
}

// Fetch implements DataSource
func (s *MemorySource) Fetch(ctx context.Context, id int64) (Record, bool, error) {
	s.fetches[id]++
	if s.err != nil {
		return nil, false, s.err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(rec), true, nil
}

// Insert implements Writer
func (s *MemorySource) Insert(ctx context.Context, rec Record) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	id := IDFromRecord(rec)
	if id == 0 {
		id = s.seq + 1
	}
	if _, exists := s.records[id]; exists {
		return 0, errorf(ErrorTypeDuplicate, "record %d already exists", id)
	}
	s.Put(id, rec)
	return id, nil
}

// Update implements Writer
func (s *MemorySource) Update(ctx context.Context, id int64, rec Record) error {
	if s.err != nil {
		return s.err
	}
	if _, exists := s.records[id]; !exists {
		return errorf(ErrorTypeNotFound, "record %d not found", id)
	}
	s.Put(id, rec)
	return nil
}

// Delete implements Writer
func (s *MemorySource) Delete(ctx context.Context, id int64) error {
	if s.err != nil {
		return s.err
	}
	if _, exists := s.records[id]; !exists {
		return errorf(ErrorTypeNotFound, "record %d not found", id)
	}
	delete(s.records, id)
	return nil
}

// Record returns a copy of the stored record for id
func (s *MemorySource) Record(id int64) (Record, bool) {
	rec, ok := s.records[id]
	return maps.Clone(rec), ok
}

// Len returns the number of stored records
func (s *MemorySource) Len() int { return len(s.records) }

// FetchCount returns how often id has been fetched
func (s *MemorySource) FetchCount(id int64) int { return s.fetches[id] }

// TotalFetches returns the number of fetches across all ids
func (s *MemorySource) TotalFetches() int {
	total := 0
	for _, n := range s.fetches {
		total += n
	}
	return total
}

// Health always succeeds
func (s *MemorySource) Health() error { return nil }

// Close is a no-op
func (s *MemorySource) Close() error { return nil }

// ProviderInfo describes the in-memory source
func (s *MemorySource) ProviderInfo() ProviderInfo {
	return ProviderInfo{
		Name:         "Memory",
		Version:      "1.0.0",
		DatabaseType: DatabaseTypeMemory,
		Features:     []Feature{FeatureWrite, FeatureSequence},
	}
}

var _ Provider = (*MemorySource)(nil)
