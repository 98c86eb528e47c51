package gem

// =====================================
// Core Types and Constants
// =====================================

// Status is the lifecycle state of an Entity
type Status int

const (
	// StatusVirgin entities carry neither an id nor data
	StatusVirgin Status = iota
	// StatusGhost entities carry only an id; data arrives on first access
	StatusGhost
	// StatusLoading is held while a load hook fills the entity
	StatusLoading
	// StatusLoaded entities carry data
	StatusLoaded
	// StatusDead entities are known to be absent from the backing store. Terminal.
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusVirgin:
		return "virgin"
	case StatusGhost:
		return "ghost"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ProviderInfo contains information about a data source adapter
type ProviderInfo struct {
	Name         string
	Version      string
	DatabaseType DatabaseType
	Features     []Feature
}

// DatabaseType represents the type of database behind a data source
type DatabaseType string

const (
	DatabaseTypeSQL      DatabaseType = "sql"
	DatabaseTypeDocument DatabaseType = "document"
	DatabaseTypeKV       DatabaseType = "key-value"
	DatabaseTypeObject   DatabaseType = "object"
	DatabaseTypeMemory   DatabaseType = "memory"
)

// Feature represents a data source capability
type Feature string

const (
	FeatureWrite    Feature = "write"
	FeatureSequence Feature = "sequence"
	FeatureTTL      Feature = "ttl"
	FeatureIndexing Feature = "indexing"
	FeatureRawSQL   Feature = "raw_sql"
)

// RelationKind tells a mapper how to materialize a related field
type RelationKind string

const (
	// RelationOne stores a single related id and materializes an *Entity
	RelationOne RelationKind = "one"
	// RelationMany stores a list of related ids and materializes an owned *Collection
	RelationMany RelationKind = "many"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	ErrorTypePrecondition    ErrorType = "precondition"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeTypeMismatch    ErrorType = "type_mismatch"
	ErrorTypeDuplicate       ErrorType = "duplicate"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeConnection      ErrorType = "connection"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeUnsupported     ErrorType = "unsupported"
	ErrorTypeSerialization   ErrorType = "serialization"
	ErrorTypeDatabase        ErrorType = "database"
	ErrorTypeInternal        ErrorType = "internal"
)
