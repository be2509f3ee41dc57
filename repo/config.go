package repo

import (
	"strings"
	"time"
)

// Config holds construction-time settings for a Repository.
type Config struct {
	// Database is the logical database name. The physical table name is
	// Database + "." + the record type's tag. Required.
	Database string

	// Endpoint is the store endpoint. Required unless a client is injected
	// with WithClient.
	Endpoint string

	// Region is the store region. Empty falls back to the SDK's default
	// resolution chain.
	Region string

	// AccessKey and SecretKey are static credentials for the store. Both or
	// neither must be set; empty falls back to the SDK's default chain.
	AccessKey string
	SecretKey string

	// PartitionProperties declares the partition scheme as a comma-separated
	// list of field names. Empty degenerates to "partition key equals type tag".
	PartitionProperties string

	// CreateIfNotExists provisions the table on first construction per
	// endpoint+table (idempotent per process via the Registry).
	CreateIfNotExists bool

	// ReadCapacity and WriteCapacity are the provisioned throughput used when
	// creating the table. Default: 5 each.
	ReadCapacity  int64
	WriteCapacity int64

	// CacheKeyPrefix namespaces cache keys. When a cache is injected without
	// a prefix, it defaults to "[TypeTag]:".
	CacheKeyPrefix string

	// CacheTTL bounds cached-read staleness. Default: 24h.
	CacheTTL time.Duration

	// EventSource is the bus source attached to published envelopes.
	// Default: "stratum".
	EventSource string

	// PageSize is the default page size for single-page queries when the
	// caller passes 0. Default: 10.
	PageSize int

	// MaxRetryAttempts bounds the client's retry-with-backoff on throttling.
	// Configured once here; the engine never retries on its own. Default: 10.
	MaxRetryAttempts int
}

// validate applies defaults and rejects unusable values.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return &ConfigError{Field: "Database", Reason: "must not be empty"}
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return &ConfigError{Field: "AccessKey/SecretKey", Reason: "must be set together"}
	}
	if c.ReadCapacity <= 0 {
		c.ReadCapacity = 5
	}
	if c.WriteCapacity <= 0 {
		c.WriteCapacity = 5
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.EventSource == "" {
		c.EventSource = "stratum"
	}
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = 10
	}
	return nil
}

// partitionScheme parses PartitionProperties into an ordered field list.
func (c *Config) partitionScheme() []string {
	if strings.TrimSpace(c.PartitionProperties) == "" {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(c.PartitionProperties, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
