package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/stratum/cache"
	"github.com/jacentio/stratum/event"
)

// EventOptions controls event emission around a mutation.
type EventOptions struct {
	// SkipPublish suppresses the mutation's event. The zero value publishes.
	SkipPublish bool

	// Subject overrides the per-operation default ("Create/", "Update/",
	// "Upsert/", "Delete/").
	Subject string
}

// CreateOptions configures Create behavior.
type CreateOptions struct {
	Event EventOptions

	// ActiveFlag overrides the default "Y" stamped on creation.
	ActiveFlag string
}

// UpdateOptions configures Update behavior.
type UpdateOptions struct {
	Event EventOptions
}

// UpsertOptions configures Upsert behavior.
type UpsertOptions struct {
	Event EventOptions

	// ManualAudit leaves creation audit fields as supplied by the caller and
	// stamps only the update fields. When false (default), any existing
	// record's creation fields are carried forward, else initialized fresh.
	ManualAudit bool

	// CreatedBy is the creating actor used when no prior record exists.
	CreatedBy string

	// ActiveFlag overrides the default "Y" when no prior record exists.
	ActiveFlag string
}

// DeleteOptions configures Delete behavior.
type DeleteOptions struct {
	Event EventOptions

	// SkipDetailFetch deletes without reading the record first. The emitted
	// event then carries only the id, and deleting an absent record is no
	// longer detected as a no-op.
	SkipDetailFetch bool
}

// Repository provides typed CRUD, paginated querying, cache-aside reads, and
// change-event emission for one record family over a partitioned table.
type Repository[T any, P Doc[T]] struct {
	client    DynamoAPI
	cfg       Config
	cache     cache.Store
	publisher event.Publisher
	logger    *zap.Logger

	table       string
	typeTag     string
	namespace   string
	scheme      []string
	cachePrefix string
}

type options struct {
	client    DynamoAPI
	registry  *Registry
	cache     cache.Store
	publisher event.Publisher
	logger    *zap.Logger
}

// Option customizes repository construction.
type Option func(*options)

// WithClient injects a pre-built store client, bypassing the Registry.
func WithClient(client DynamoAPI) Option {
	return func(o *options) { o.client = client }
}

// WithRegistry shares client handles and provisioning markers across
// repositories built against the same endpoint.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithCache enables cache-aside reads through the given cache.
func WithCache(c cache.Store) Option {
	return func(o *options) { o.cache = c }
}

// WithPublisher enables change-event emission through the given publisher.
func WithPublisher(p event.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithLogger sets the logger for best-effort bulk failure reporting.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New constructs a Repository for the record type T. The store client is
// built eagerly; construction fails on configuration errors.
func New[T any, P Doc[T]](ctx context.Context, cfg Config, opts ...Option) (*Repository[T, P], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	probe := P(new(T))
	typeTag := probe.TypeTag()
	namespace := probe.Namespace()
	if typeTag == "" {
		return nil, &ConfigError{Field: "TypeTag", Reason: "record type returns an empty tag"}
	}
	if namespace == "" {
		return nil, &ConfigError{Field: "Namespace", Reason: "record type returns an empty namespace"}
	}

	scheme := cfg.partitionScheme()
	if err := validateScheme[T, P](scheme); err != nil {
		return nil, err
	}

	r := &Repository[T, P]{
		cfg:       cfg,
		cache:     o.cache,
		publisher: o.publisher,
		logger:    o.logger,
		table:     cfg.Database + "." + typeTag,
		typeTag:   typeTag,
		namespace: namespace,
		scheme:    scheme,
	}

	if o.cache != nil {
		r.cachePrefix = cfg.CacheKeyPrefix
		if r.cachePrefix == "" {
			r.cachePrefix = "[" + typeTag + "]:"
		}
	}

	switch {
	case o.client != nil:
		r.client = o.client
	case cfg.Endpoint == "":
		return nil, &ConfigError{Field: "Endpoint", Reason: "required when no client is injected"}
	default:
		registry := o.registry
		if registry == nil {
			registry = NewRegistry()
		}
		client, err := registry.Client(cfg.Endpoint, func() (DynamoAPI, error) {
			return newClient(ctx, cfg)
		})
		if err != nil {
			return nil, err
		}
		r.client = client
	}

	if cfg.CreateIfNotExists {
		first := true
		if o.registry != nil {
			first = o.registry.MarkProvisioned(cfg.Endpoint, r.table)
		}
		if first {
			if err := r.ensureTable(ctx); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

// Database returns the configured logical database name.
func (r *Repository[T, P]) Database() string { return r.cfg.Database }

// Table returns the physical table name for this record family.
func (r *Repository[T, P]) Table() string { return r.table }

// ExtractPartitionKey returns the partition key Create/Upsert would stamp on
// item.
func (r *Repository[T, P]) ExtractPartitionKey(item P) string {
	return r.partitionKeyFor(item)
}

// ensureTable creates the table if it does not exist and waits for it to
// become active.
func (r *Repository[T, P]) ensureTable(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.table),
	})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("stratum: describe table %s: %w", r.table, err)
	}

	_, err = r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(r.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeRange},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(r.cfg.ReadCapacity),
			WriteCapacityUnits: aws.Int64(r.cfg.WriteCapacity),
		},
	})
	if err != nil {
		// Lost a provisioning race; the table is being created elsewhere.
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("stratum: create table %s: %w", r.table, err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(r.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.table),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("stratum: wait for table %s: %w", r.table, err)
	}
	return nil
}

// Create writes a new record unconditionally, stamping audit fields, the
// partition key, and the type envelope, then emits a "Create/" event.
// An absent id is assigned.
func (r *Repository[T, P]) Create(ctx context.Context, item P, createdBy string, opts *CreateOptions) (P, error) {
	if opts == nil {
		opts = &CreateOptions{}
	}

	now := time.Now().UTC()
	meta := item.DocumentMeta()
	meta.CreatedBy = createdBy
	meta.LastUpdatedBy = createdBy
	meta.CreatedDate = now
	meta.LastUpdatedDate = now
	meta.ActiveFlag = opts.ActiveFlag
	if meta.ActiveFlag == "" {
		meta.ActiveFlag = DefaultActiveFlag
	}
	meta.DocumentType = r.typeTag
	meta.DocumentNamespace = r.namespace
	meta.PartitionKey = r.partitionKeyFor(item)
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}

	if err := r.putItem(ctx, item); err != nil {
		return nil, fmt.Errorf("stratum: create %s %q: %w", r.typeTag, meta.ID, err)
	}

	if err := r.publish(ctx, event.SubjectCreate, item, opts.Event); err != nil {
		return item, err
	}
	return item, nil
}

// Get reads a single record by id and partition parameters. Absent records
// (including namespace mismatches) return (nil, nil). The cache, when
// enabled, is consulted first and refreshed on a store hit.
func (r *Repository[T, P]) Get(ctx context.Context, id string, params map[string]string) (P, error) {
	pk, err := r.partitionKeyFromParams(params)
	if err != nil {
		return nil, err
	}
	return r.getByKey(ctx, id, pk)
}

func (r *Repository[T, P]) getByKey(ctx context.Context, id, pk string) (P, error) {
	if r.cachePrefix != "" {
		if item, ok := r.cacheGet(ctx, id); ok {
			return item, nil
		}
	}

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       r.key(id, pk),
	})
	if err != nil {
		return nil, fmt.Errorf("stratum: get %s %q (pk %q): %w", r.typeTag, id, pk, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	item := P(new(T))
	if err := attributevalue.UnmarshalMap(out.Item, item); err != nil {
		return nil, fmt.Errorf("stratum: unmarshal %s %q: %w", r.typeTag, id, err)
	}
	// Cross-type id collisions read as absent rather than leaking records
	// from a sibling namespace.
	if !strings.HasPrefix(item.DocumentMeta().DocumentNamespace, r.namespace) {
		return nil, nil
	}

	if r.cachePrefix != "" {
		r.cacheSet(ctx, id, item)
	}
	return item, nil
}

// Update replaces an existing record by id. The prior record's partition key
// and creation audit fields are carried forward; callers cannot overwrite
// provenance. Fails with ErrNotFound when no prior record exists.
//
// The namespace is not re-validated against the prior record before the
// replace, so a record of a sibling type sharing the id can be overwritten.
// Open risk carried from the original design.
func (r *Repository[T, P]) Update(ctx context.Context, id string, item P, updatedBy string, opts *UpdateOptions) (P, error) {
	if opts == nil {
		opts = &UpdateOptions{}
	}

	pk := r.partitionKeyFor(item)
	old, err := r.getByKey(ctx, id, pk)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, fmt.Errorf("stratum: update %s %q: %w", r.typeTag, id, ErrNotFound)
	}

	oldMeta := old.DocumentMeta()
	meta := item.DocumentMeta()
	meta.ID = id
	meta.PartitionKey = oldMeta.PartitionKey
	meta.CreatedBy = oldMeta.CreatedBy
	meta.CreatedDate = oldMeta.CreatedDate
	meta.DocumentType = r.typeTag
	meta.DocumentNamespace = r.namespace
	if updatedBy != "" {
		meta.LastUpdatedBy = updatedBy
	}
	meta.LastUpdatedDate = time.Now().UTC()

	if err := r.putItem(ctx, item); err != nil {
		return nil, fmt.Errorf("stratum: update %s %q (pk %q): %w", r.typeTag, id, pk, err)
	}
	r.cacheInvalidate(ctx, id)

	if err := r.publish(ctx, event.SubjectUpdate, item, opts.Event); err != nil {
		return item, err
	}
	return item, nil
}

// Upsert creates or replaces a record by id. With ManualAudit unset, an
// existing record's creation audit fields are carried forward (found via a
// cross-partition id lookup); otherwise creation fields are initialized
// fresh. With ManualAudit set, only update-audit fields are stamped.
func (r *Repository[T, P]) Upsert(ctx context.Context, id string, item P, updatedBy string, opts *UpsertOptions) (P, error) {
	if opts == nil {
		opts = &UpsertOptions{}
	}

	now := time.Now().UTC()
	meta := item.DocumentMeta()

	if opts.ManualAudit {
		if updatedBy != "" {
			meta.LastUpdatedBy = updatedBy
		}
		meta.LastUpdatedDate = now
	} else {
		prev, err := r.findByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			prevMeta := prev.DocumentMeta()
			meta.CreatedBy = prevMeta.CreatedBy
			meta.CreatedDate = prevMeta.CreatedDate
			if updatedBy != "" {
				meta.LastUpdatedBy = updatedBy
			}
			meta.LastUpdatedDate = now
		} else {
			if opts.CreatedBy != "" {
				meta.CreatedBy = opts.CreatedBy
				meta.LastUpdatedBy = opts.CreatedBy
			}
			meta.CreatedDate = now
			meta.LastUpdatedDate = now
			meta.ActiveFlag = opts.ActiveFlag
			if meta.ActiveFlag == "" {
				meta.ActiveFlag = DefaultActiveFlag
			}
		}
	}

	meta.DocumentType = r.typeTag
	meta.DocumentNamespace = r.namespace
	meta.PartitionKey = r.partitionKeyFor(item)
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}

	if err := r.putItem(ctx, item); err != nil {
		return nil, fmt.Errorf("stratum: upsert %s %q: %w", r.typeTag, id, err)
	}
	r.cacheInvalidate(ctx, id)

	if err := r.publish(ctx, event.SubjectUpsert, item, opts.Event); err != nil {
		return item, err
	}
	return item, nil
}

// Delete removes a record by id and partition parameters, invalidates the
// cache entry, and emits a "Delete/" event carrying the full prior record, or
// just the id when SkipDetailFetch is set. Deleting an absent record is a
// silent no-op (no event) unless SkipDetailFetch skips the existence read.
func (r *Repository[T, P]) Delete(ctx context.Context, id string, params map[string]string, opts *DeleteOptions) error {
	pk, err := r.partitionKeyFromParams(params)
	if err != nil {
		return err
	}
	return r.deleteByKey(ctx, id, pk, opts)
}

func (r *Repository[T, P]) deleteByKey(ctx context.Context, id, pk string, opts *DeleteOptions) error {
	if opts == nil {
		opts = &DeleteOptions{}
	}

	var removed P
	if !opts.SkipDetailFetch {
		var err error
		removed, err = r.getByKey(ctx, id, pk)
		if err != nil {
			return err
		}
		if removed == nil {
			return nil
		}
	}

	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       r.key(id, pk),
	})
	if err != nil {
		return fmt.Errorf("stratum: delete %s %q (pk %q): %w", r.typeTag, id, pk, err)
	}
	r.cacheInvalidate(ctx, id)

	if opts.SkipDetailFetch {
		return r.publish(ctx, event.SubjectDelete, id, opts.Event)
	}
	return r.publish(ctx, event.SubjectDelete, removed, opts.Event)
}

// DeleteAll deletes every record, optionally scoped to one partition, via the
// single-item delete path. Per-item failures are collected and logged; the
// batch continues past them. The returned error reports only a failure to
// enumerate the records.
func (r *Repository[T, P]) DeleteAll(ctx context.Context, params map[string]string) ([]ItemError, error) {
	page, err := r.Find(ctx, Query{
		Projection:      []string{"id", "pk"},
		PartitionParams: params,
	})
	if err != nil {
		return nil, err
	}

	var failures []ItemError
	for _, item := range page.Items {
		meta := item.DocumentMeta()
		if err := r.deleteByKey(ctx, meta.ID, meta.PartitionKey, nil); err != nil {
			r.logger.Warn("delete failed, continuing batch",
				zap.String("type", r.typeTag),
				zap.String("id", meta.ID),
				zap.Error(err),
			)
			failures = append(failures, ItemError{ID: meta.ID, Err: err})
		}
	}
	return failures, nil
}

// ChangeThroughput replaces the table's provisioned read/write capacity.
func (r *Repository[T, P]) ChangeThroughput(ctx context.Context, read, write int64) error {
	_, err := r.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String(r.table),
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(read),
			WriteCapacityUnits: aws.Int64(write),
		},
	})
	if err != nil {
		return fmt.Errorf("stratum: change throughput for %s: %w", r.table, err)
	}
	return nil
}

func (r *Repository[T, P]) key(id, pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func (r *Repository[T, P]) putItem(ctx context.Context, item P) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	return err
}

// publish emits the mutation's envelope unless suppressed. The store-side
// write has already committed by the time this runs; a publish failure is
// surfaced as the operation's error and is never retried here.
func (r *Repository[T, P]) publish(ctx context.Context, subject string, payload any, opts EventOptions) error {
	if r.publisher == nil || opts.SkipPublish {
		return nil
	}
	if opts.Subject != "" {
		subject = opts.Subject
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stratum: marshal %s event: %w", subject, err)
	}
	e := event.New(subject, r.typeTag, data)
	if err := r.publisher.Publish(ctx, e); err != nil {
		return fmt.Errorf("stratum: publish %s event: %w", subject, err)
	}
	return nil
}

// cacheGet returns the cached record for id, if any. Cache failures degrade
// to a store read.
func (r *Repository[T, P]) cacheGet(ctx context.Context, id string) (P, bool) {
	raw, ok, err := r.cache.Get(ctx, r.cachePrefix+id)
	if err != nil {
		r.logger.Debug("cache get failed", zap.String("id", id), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	item := P(new(T))
	if err := json.Unmarshal([]byte(raw), item); err != nil {
		r.logger.Debug("cache entry unreadable", zap.String("id", id), zap.Error(err))
		return nil, false
	}
	return item, true
}

func (r *Repository[T, P]) cacheSet(ctx context.Context, id string, item P) {
	raw, err := json.Marshal(item)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, r.cachePrefix+id, string(raw), r.cfg.CacheTTL); err != nil {
		r.logger.Debug("cache set failed", zap.String("id", id), zap.Error(err))
	}
}

// cacheInvalidate drops the cached entry before the mutation's event is
// emitted. Reads racing the mutation may still observe the old value for at
// most the TTL window.
func (r *Repository[T, P]) cacheInvalidate(ctx context.Context, id string) {
	if r.cachePrefix == "" {
		return
	}
	if err := r.cache.Invalidate(ctx, r.cachePrefix+id); err != nil {
		r.logger.Warn("cache invalidate failed", zap.String("id", id), zap.Error(err))
	}
}
