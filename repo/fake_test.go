package repo_test

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/stratum/event"
	"github.com/jacentio/stratum/repo"
)

// Course is the primary test record: a two-field partition scheme on top of
// the common envelope.
type Course struct {
	repo.Meta
	Title  string `json:"title" dynamodbav:"title"`
	Tenant string `json:"tenant" dynamodbav:"tenant"`
	Region string `json:"region" dynamodbav:"region"`
}

func (c *Course) TypeTag() string   { return "Course" }
func (c *Course) Namespace() string { return ".Course." }

func (c *Course) PartitionFields() map[string]string {
	return map[string]string{"tenant": c.Tenant, "region": c.Region}
}

// Note has no partition fields; its partition key is the bare type tag.
type Note struct {
	repo.Meta
	Body string `json:"body" dynamodbav:"body"`
}

func (n *Note) TypeTag() string   { return "Note" }
func (n *Note) Namespace() string { return ".Note." }

// fakeDynamo is an in-memory DynamoAPI with DynamoDB-like paging: a page is
// up to Limit evaluated items in key order, the filter applies after
// evaluation, and LastEvaluatedKey marks the last evaluated item when more
// remain. Every page costs one capacity unit.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue

	// pageSize caps evaluated items per page when the request has no Limit,
	// standing in for DynamoDB's 1 MB page boundary. 0 means unbounded.
	pageSize int

	failDeletes map[string]error

	tables            map[string]bool
	queries           []*dynamodb.QueryInput
	scans             []*dynamodb.ScanInput
	statements        []*dynamodb.ExecuteStatementInput
	updateTableInputs []*dynamodb.UpdateTableInput
	createTableInputs []*dynamodb.CreateTableInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		items:       make(map[string]map[string]types.AttributeValue),
		failDeletes: make(map[string]error),
		tables:      make(map[string]bool),
	}
}

func itemKey(pk, id string) string { return pk + "\x00" + id }

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// seed stores a raw item directly, bypassing the repository write path.
func (f *fakeDynamo) seed(item map[string]types.AttributeValue) {
	f.items[itemKey(stringAttr(item, "pk"), stringAttr(item, "id"))] = copyItem(item)
}

func (f *fakeDynamo) sortedKeys() []string {
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// resolve maps an expression token (#n or a literal name) to the attribute name.
func resolve(token string, names map[string]string) string {
	if name, ok := names[token]; ok {
		return name
	}
	return token
}

func valueString(token string, values map[string]types.AttributeValue) string {
	if s, ok := values[token].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// matches evaluates an AND-only condition of equality and contains clauses,
// the two shapes the repository composes.
func matches(item map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) bool {
	if expr == nil || *expr == "" {
		return true
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		if strings.Contains(clause, "contains") {
			inner := clause[strings.Index(clause, "contains")+len("contains"):]
			parts := strings.SplitN(strings.Trim(inner, " ()"), ",", 2)
			if len(parts) != 2 {
				return false
			}
			attr := stringAttr(item, resolve(strings.TrimSpace(parts[0]), names))
			if !strings.Contains(attr, valueString(strings.TrimSpace(parts[1]), values)) {
				return false
			}
			continue
		}
		parts := strings.SplitN(clause, " = ", 2)
		if len(parts) != 2 {
			return false
		}
		attr := stringAttr(item, resolve(strings.Trim(parts[0], " ()"), names))
		if attr != valueString(strings.Trim(parts[1], " ()"), values) {
			return false
		}
	}
	return true
}

func project(item map[string]types.AttributeValue, expr *string, names map[string]string) map[string]types.AttributeValue {
	if expr == nil || *expr == "" {
		return copyItem(item)
	}
	out := make(map[string]types.AttributeValue)
	for _, token := range strings.Split(*expr, ",") {
		name := resolve(strings.TrimSpace(token), names)
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}

// page evaluates up to limit items from ordered, starting after startKey, and
// returns the evaluated slice plus the LastEvaluatedKey when items remain.
func (f *fakeDynamo) page(ordered []map[string]types.AttributeValue, startKey map[string]types.AttributeValue, limit *int32) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	start := 0
	if startKey != nil {
		afterPK, afterID := stringAttr(startKey, "pk"), stringAttr(startKey, "id")
		for i, item := range ordered {
			if stringAttr(item, "pk") == afterPK && stringAttr(item, "id") == afterID {
				start = i + 1
				break
			}
		}
	}

	max := len(ordered) - start
	if limit != nil && int(*limit) < max {
		max = int(*limit)
	}
	if limit == nil && f.pageSize > 0 && f.pageSize < max {
		max = f.pageSize
	}

	evaluated := ordered[start : start+max]
	if start+max < len(ordered) && len(evaluated) > 0 {
		last := evaluated[len(evaluated)-1]
		return evaluated, map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: stringAttr(last, "pk")},
			"id": &types.AttributeValueMemberS{Value: stringAttr(last, "id")},
		}
	}
	return evaluated, nil
}

func onePage() *types.ConsumedCapacity {
	return &types.ConsumedCapacity{CapacityUnits: aws.Float64(1)}
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item, ok := f.items[itemKey(stringAttr(params.Key, "pk"), stringAttr(params.Key, "id"))]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.seed(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	id := stringAttr(params.Key, "id")
	if err, ok := f.failDeletes[id]; ok {
		return nil, err
	}
	delete(f.items, itemKey(stringAttr(params.Key, "pk"), id))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, params)

	var ordered []map[string]types.AttributeValue
	for _, k := range f.sortedKeys() {
		item := f.items[k]
		if matches(item, params.KeyConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			ordered = append(ordered, item)
		}
	}
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	evaluated, lastKey := f.page(ordered, params.ExclusiveStartKey, params.Limit)
	out := &dynamodb.QueryOutput{LastEvaluatedKey: lastKey, ConsumedCapacity: onePage()}
	for _, item := range evaluated {
		if matches(item, params.FilterExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			out.Items = append(out.Items, project(item, params.ProjectionExpression, params.ExpressionAttributeNames))
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans = append(f.scans, params)

	var ordered []map[string]types.AttributeValue
	for _, k := range f.sortedKeys() {
		ordered = append(ordered, f.items[k])
	}

	evaluated, lastKey := f.page(ordered, params.ExclusiveStartKey, params.Limit)
	out := &dynamodb.ScanOutput{LastEvaluatedKey: lastKey, ConsumedCapacity: onePage()}
	count := int32(0)
	for _, item := range evaluated {
		if matches(item, params.FilterExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			count++
			if params.Select != types.SelectCount {
				out.Items = append(out.Items, project(item, params.ProjectionExpression, params.ExpressionAttributeNames))
			}
		}
	}
	out.Count = count
	return out, nil
}

// ExecuteStatement ignores the statement body and returns every item in key
// order, paging with an integer-offset NextToken.
func (f *fakeDynamo) ExecuteStatement(ctx context.Context, params *dynamodb.ExecuteStatementInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ExecuteStatementOutput, error) {
	f.statements = append(f.statements, params)

	var ordered []map[string]types.AttributeValue
	for _, k := range f.sortedKeys() {
		ordered = append(ordered, f.items[k])
	}

	start := 0
	if params.NextToken != nil {
		start, _ = strconv.Atoi(*params.NextToken)
	}
	end := len(ordered)
	if params.Limit != nil && start+int(*params.Limit) < end {
		end = start + int(*params.Limit)
	}

	out := &dynamodb.ExecuteStatementOutput{ConsumedCapacity: onePage()}
	for _, item := range ordered[start:end] {
		out.Items = append(out.Items, copyItem(item))
	}
	if end < len(ordered) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeDynamo) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if !f.tables[*params.TableName] {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   params.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

func (f *fakeDynamo) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.createTableInputs = append(f.createTableInputs, params)
	f.tables[*params.TableName] = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.updateTableInputs = append(f.updateTableInputs, params)
	return &dynamodb.UpdateTableOutput{}, nil
}

// fakeCache is an in-memory cache.Store recording TTLs.
type fakeCache struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, key string) error {
	delete(c.data, key)
	delete(c.ttls, key)
	return nil
}

// fakePublisher records envelopes; err fails every publish.
type fakePublisher struct {
	events []event.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, e event.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func courseConfig() repo.Config {
	return repo.Config{
		Database:            "campus",
		PartitionProperties: "tenant,region",
	}
}

func newCourseRepo(t *testing.T, fake *fakeDynamo, opts ...repo.Option) *repo.Repository[Course, *Course] {
	t.Helper()
	r, err := repo.New[Course](context.Background(), courseConfig(), append([]repo.Option{repo.WithClient(fake)}, opts...)...)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return r
}

func newNoteRepo(t *testing.T, fake *fakeDynamo, opts ...repo.Option) *repo.Repository[Note, *Note] {
	t.Helper()
	r, err := repo.New[Note](context.Background(), repo.Config{Database: "campus"}, append([]repo.Option{repo.WithClient(fake)}, opts...)...)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return r
}

// seedCourses creates n courses "id-01".."id-NN" in one tenant partition.
func seedCourses(t *testing.T, r *repo.Repository[Course, *Course], n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		course := &Course{
			Title:  fmt.Sprintf("Course %d", i),
			Tenant: "acme",
			Region: "us",
		}
		course.ID = fmt.Sprintf("id-%02d", i)
		if _, err := r.Create(context.Background(), course, "seeder", nil); err != nil {
			t.Fatalf("seed course %d: %v", i, err)
		}
	}
}

func courseParams() map[string]string {
	return map[string]string{"tenant": "acme", "region": "us"}
}
