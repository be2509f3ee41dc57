package repo

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
)

// DefaultActiveFlag is stamped on newly created records unless overridden.
const DefaultActiveFlag = "Y"

// Model is the base interface for all storable record types.
type Model interface {
	// DocumentMeta returns the record's common envelope for audit and
	// partition stamping.
	DocumentMeta() *Meta

	// TypeTag returns the record family's collection tag (e.g., "Course").
	TypeTag() string

	// Namespace returns the dot-joined ancestry path with a leading dot
	// (e.g., ".Course.OnlineCourse.").
	Namespace() string
}

// Doc constrains a repository's record type to a pointer implementing Model,
// so the repository can allocate and unmarshal records itself.
type Doc[T any] interface {
	*T
	Model
}

// PartitionFielder is implemented by record types whose partition key is
// composed from declared fields in addition to the type tag.
type PartitionFielder interface {
	// PartitionFields returns field name to current value mappings for
	// every partition-contributing field.
	PartitionFields() map[string]string
}

// Meta is the common envelope shared by every record. Concrete record types
// embed it and implement TypeTag and Namespace themselves.
type Meta struct {
	// ID is the record identifier, assigned on create when absent.
	ID string `json:"id" dynamodbav:"id"`

	// DocumentType is the record family's collection tag, stamped on write.
	DocumentType string `json:"documentType" dynamodbav:"documentType"`

	// DocumentNamespace is the dot-joined ancestry path, stamped on write.
	DocumentNamespace string `json:"documentNamespace" dynamodbav:"documentNamespace"`

	// PartitionKey is the composed store routing key. Never set by callers.
	PartitionKey string `json:"partitionKey" dynamodbav:"pk"`

	// CreatedDate is the creation timestamp (UTC).
	CreatedDate time.Time `json:"createdDate" dynamodbav:"createdDate"`

	// CreatedBy is the creating actor.
	CreatedBy string `json:"createdBy" dynamodbav:"createdBy"`

	// LastUpdatedDate is the last mutation timestamp (UTC).
	LastUpdatedDate time.Time `json:"lastUpdatedDate" dynamodbav:"lastUpdatedDate"`

	// LastUpdatedBy is the last mutating actor.
	LastUpdatedBy string `json:"lastUpdatedBy" dynamodbav:"lastUpdatedBy"`

	// ActiveFlag is a caller convention for soft deletion, "Y" by default.
	ActiveFlag string `json:"activeFlag" dynamodbav:"activeFlag"`
}

// DocumentMeta implements Model for embedding types.
func (m *Meta) DocumentMeta() *Meta { return m }

// Query describes an engine-composed query shape. The repository's namespace
// filter is always merged in; a cursor is only valid against the exact shape
// (filter, order, page size) that produced it.
type Query struct {
	// Filter is an optional caller condition, ANDed with the namespace filter.
	Filter *expression.ConditionBuilder

	// Projection limits the returned attributes (empty = full records).
	Projection []string

	// Descending reverses the id sort order for partition-scoped queries.
	// Unscoped scans return store order.
	Descending bool

	// PartitionParams scopes the query to a single partition composed from
	// the declared scheme fields. Nil queries across all partitions.
	PartitionParams map[string]string
}

// Page is one unit of query results.
type Page[P any] struct {
	// Items are the records of this page (all records in drain mode).
	Items []P

	// ContinuationToken resumes the stream; empty means drained/terminal.
	ContinuationToken string

	// RequestCharge is the consumed capacity for this page, or the summed
	// capacity of every page in drain mode.
	RequestCharge float64
}
