package gem

import "context"

// =====================================
// Data Source Interfaces
// =====================================

// Record is the raw field mapping of one stored record
type Record map[string]interface{}

// DataSource is the synchronous key to record lookup a Mapper loads from.
type DataSource interface {
	// Fetch returns the record stored under id.
	// found is false, with a nil error, when no such record exists.
	// Any other failure is returned as err and is never retried by the mapper.
	Fetch(ctx context.Context, id int64) (rec Record, found bool, err error)
}

// Writer is implemented by data sources that can persist entities.
// Mapper.Save and Mapper.Flush require it.
type Writer interface {
	// Insert stores a new record and returns its id.
	// A positive "id" in rec is honored; otherwise the source assigns one.
	Insert(ctx context.Context, rec Record) (int64, error)

	// Update replaces the stored fields of id.
	// Returns ErrorTypeNotFound if no record exists for id.
	Update(ctx context.Context, id int64, rec Record) error

	// Delete removes the record stored under id.
	// Returns ErrorTypeNotFound if no record exists for id.
	Delete(ctx context.Context, id int64) error
}

// Provider is implemented by the adapter packages: a data source bound to a live
// backend connection.
type Provider interface {
	DataSource
	Writer

	// Health checks that the backend is reachable.
	Health() error

	// Close releases the backend connection.
	Close() error

	// ProviderInfo describes the adapter.
	ProviderInfo() ProviderInfo
}

// IDFromRecord extracts a positive id from a raw record, or 0
func IDFromRecord(rec Record) int64 {
	raw, ok := rec[idKey]
	if !ok {
		return 0
	}
	v, err := ValueOf(raw)
	if err != nil {
		return 0
	}
	if id := v.AsInt(); id > 0 {
		return id
	}
	return 0
}
