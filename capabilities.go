package gem

// Orderable is implemented by members that expose a numeric sort position.
// Collection.SortByOrderField relies on it.
type Orderable interface {
	Order() (int64, error)
	SetOrder(order int64) error
}

// ConfigurationCheckable is implemented by values that can validate externally
// supplied configuration before use
type ConfigurationCheckable interface {
	CheckConfiguration() error
}

var (
	_ Orderable              = (*Entity)(nil)
	_ ConfigurationCheckable = Config{}
	_ ConfigurationCheckable = Schema{}
)
