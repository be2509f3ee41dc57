// Package repo provides a typed data access layer over partitioned DynamoDB
// tables, with cache-aside read acceleration and change-event emission.
//
// Stratum is designed for services that persist many record families sharing
// one envelope (id, computed partition key, type tag, audit fields) and need
// consistent CRUD, paginated querying, and event propagation semantics across
// all of them.
//
// # Key Features
//
//   - Typed CRUD over a generic record envelope
//   - Drain-mode and cursor-bounded single-page querying with cost accounting
//   - Mandatory namespace scoping on every engine-composed query
//   - Optional cache-aside reads with invalidate-on-write
//   - Change-event emission per completed mutation
//   - Process-wide client handle and provisioning registry
//
// # Record Types
//
// All record types embed [Meta] and implement [Model]:
//
//	type Course struct {
//	    repo.Meta
//	    Tenant string `json:"tenant" dynamodbav:"tenant"`
//	    Title  string `json:"title" dynamodbav:"title"`
//	}
//
//	func (c *Course) TypeTag() string   { return "Course" }
//	func (c *Course) Namespace() string { return ".Course." }
//
// Types with partition-contributing fields also implement [PartitionFielder]:
//
//	func (c *Course) PartitionFields() map[string]string {
//	    return map[string]string{"tenant": c.Tenant}
//	}
//
// # Construction
//
// Repositories are built per record family:
//
//	r, err := repo.New[Course](ctx, repo.Config{
//	    Database:            "campus",
//	    Endpoint:            endpoint,
//	    PartitionProperties: "tenant",
//	}, repo.WithRegistry(registry), repo.WithCache(cache), repo.WithPublisher(bus))
//
// # Errors
//
// Absent records read as (nil, nil), never as errors. The package defines:
//
//   - [ErrNotFound] - update target does not exist
//   - [ConfigError] - invalid construction-time configuration
//   - [MissingParameterError] - partition lookup omits a scheme field
//   - [ItemError] - per-record failure collected by best-effort bulk operations
package repo
