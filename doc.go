// Package gem is an entity mapper: it hands out one in-memory Entity per stored
// record and id, loads records lazily, and tracks which entities need saving.
//
// An Entity moves through the states virgin (no id, no data), ghost (id only),
// loading, loaded and dead (the record is absent). A Mapper serves one entity
// type: Find returns the cached instance or registers a ghost whose first field
// access fetches the record from the mapper's DataSource. A Session groups the
// mappers of a unit of work so relation fields resolve to entities of other
// types.
//
//	session := gem.NewSession()
//	users := gem.NewMapper(gem.Schema{Name: "user"}, source)
//	_ = session.Register(users)
//
//	u, _ := users.Find(42)         // ghost, nothing fetched yet
//	name, err := u.GetString("name") // fetched here, once
//
// Adapter packages gemgorm, gembun, gemmongo, gemredis and gems3 provide
// DataSource implementations for real backends. None of the types in this
// package are safe for concurrent use; scope a Session to one goroutine and
// Purge it between units of work.
package gem
