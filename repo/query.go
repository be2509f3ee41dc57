package repo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Find drains every page matching q, summing each page's cost into one total.
// The returned continuation token is always empty.
func (r *Repository[T, P]) Find(ctx context.Context, q Query) (*Page[P], error) {
	result := &Page[P]{}
	token := ""
	for {
		page, err := r.fetchPage(ctx, q, token, 0)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, page.Items...)
		result.RequestCharge += page.RequestCharge
		if page.ContinuationToken == "" {
			return result, nil
		}
		token = page.ContinuationToken
	}
}

// FindPage fetches exactly one page of up to pageSize records, resuming from
// token ("" means start of stream), and returns the store-issued next token.
// A token is only valid against the query shape that produced it; mixing
// shapes is the caller's responsibility.
func (r *Repository[T, P]) FindPage(ctx context.Context, q Query, token string, pageSize int) (*Page[P], error) {
	if pageSize <= 0 {
		pageSize = r.cfg.PageSize
	}
	return r.fetchPage(ctx, q, token, pageSize)
}

// GetPage returns page pageNumber (1-based) by chaining single-page fetches.
// When the cursor stream is exhausted before the requested page, the result
// is empty rather than an error: page N does not exist.
func (r *Repository[T, P]) GetPage(ctx context.Context, pageNumber int, q Query, pageSize int) ([]P, error) {
	page := &Page[P]{}
	for i := 0; i < pageNumber; i++ {
		var err error
		page, err = r.FindPage(ctx, q, page.ContinuationToken, pageSize)
		if err != nil {
			return nil, err
		}
		if page.ContinuationToken == "" && i != pageNumber-1 {
			return nil, nil
		}
	}
	return page.Items, nil
}

// Count returns the number of records matching the optional filter, always
// scoped to the repository's namespace. No paging; pages are counted
// internally.
func (r *Repository[T, P]) Count(ctx context.Context, filter *expression.ConditionBuilder) (int, error) {
	expr, err := r.buildExpression(Query{Filter: filter})
	if err != nil {
		return 0, err
	}

	total := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.table),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			Select:                    types.SelectCount,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("stratum: count %s: %w", r.typeTag, err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// RawFind drains a raw PartiQL statement. Unlike the engine-composed form, no
// namespace scoping is injected; callers must filter the type family
// themselves.
func (r *Repository[T, P]) RawFind(ctx context.Context, statement string, params []any) (*Page[P], error) {
	result := &Page[P]{}
	token := ""
	for {
		page, err := r.executeStatement(ctx, statement, params, token, 0)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, page.Items...)
		result.RequestCharge += page.RequestCharge
		if page.ContinuationToken == "" {
			return result, nil
		}
		token = page.ContinuationToken
	}
}

// RawFindPage fetches one page of a raw PartiQL statement. No namespace
// scoping is injected.
func (r *Repository[T, P]) RawFindPage(ctx context.Context, statement string, params []any, token string, pageSize int) (*Page[P], error) {
	if pageSize <= 0 {
		pageSize = r.cfg.PageSize
	}
	return r.executeStatement(ctx, statement, params, token, pageSize)
}

// findByID locates a record by id across all partitions, used by the upsert
// audit-carry path where the partition key of the prior record is unknown.
func (r *Repository[T, P]) findByID(ctx context.Context, id string) (P, error) {
	filter := expression.Name("id").Equal(expression.Value(id))
	page, err := r.Find(ctx, Query{Filter: &filter})
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	return page.Items[0], nil
}

// buildExpression assembles the filter, projection, and (for partition-scoped
// queries) key condition for q. The namespace filter is always merged in and
// cannot be overridden by the caller's filter.
func (r *Repository[T, P]) buildExpression(q Query) (expression.Expression, error) {
	cond := expression.Contains(expression.Name("documentNamespace"), r.namespace)
	if q.Filter != nil {
		cond = q.Filter.And(cond)
	}
	builder := expression.NewBuilder().WithFilter(cond)

	if len(q.Projection) > 0 {
		names := make([]expression.NameBuilder, len(q.Projection))
		for i, p := range q.Projection {
			names[i] = expression.Name(p)
		}
		builder = builder.WithProjection(expression.NamesList(names[0], names[1:]...))
	}

	if q.PartitionParams != nil {
		pk, err := r.partitionKeyFromParams(q.PartitionParams)
		if err != nil {
			return expression.Expression{}, err
		}
		builder = builder.WithKeyCondition(expression.Key("pk").Equal(expression.Value(pk)))
	}

	expr, err := builder.Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("stratum: build query expression: %w", err)
	}
	return expr, nil
}

// fetchPage issues one store page fetch: a Query within a partition scope,
// a Scan across all partitions otherwise. pageSize 0 means the store's
// natural page size (drain mode).
func (r *Repository[T, P]) fetchPage(ctx context.Context, q Query, token string, pageSize int) (*Page[P], error) {
	expr, err := r.buildExpression(q)
	if err != nil {
		return nil, err
	}
	startKey, err := decodeStartKey(token)
	if err != nil {
		return nil, err
	}

	var limit *int32
	if pageSize > 0 {
		limit = aws.Int32(int32(pageSize))
	}

	var (
		items    []map[string]types.AttributeValue
		lastKey  map[string]types.AttributeValue
		capacity *types.ConsumedCapacity
	)
	if q.PartitionParams != nil {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.table),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ProjectionExpression:      expr.Projection(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			Limit:                     limit,
			ExclusiveStartKey:         startKey,
			ScanIndexForward:          aws.Bool(!q.Descending),
			ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
		})
		if err != nil {
			return nil, fmt.Errorf("stratum: query %s: %w", r.typeTag, err)
		}
		items, lastKey, capacity = out.Items, out.LastEvaluatedKey, out.ConsumedCapacity
	} else {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.table),
			FilterExpression:          expr.Filter(),
			ProjectionExpression:      expr.Projection(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			Limit:                     limit,
			ExclusiveStartKey:         startKey,
			ReturnConsumedCapacity:    types.ReturnConsumedCapacityTotal,
		})
		if err != nil {
			return nil, fmt.Errorf("stratum: scan %s: %w", r.typeTag, err)
		}
		items, lastKey, capacity = out.Items, out.LastEvaluatedKey, out.ConsumedCapacity
	}

	return r.assemblePage(items, lastKey, capacity)
}

func (r *Repository[T, P]) executeStatement(ctx context.Context, statement string, params []any, token string, pageSize int) (*Page[P], error) {
	var values []types.AttributeValue
	if len(params) > 0 {
		var err error
		values, err = attributevalue.MarshalList(params)
		if err != nil {
			return nil, fmt.Errorf("stratum: marshal statement parameters: %w", err)
		}
	}

	input := &dynamodb.ExecuteStatementInput{
		Statement:              aws.String(statement),
		Parameters:             values,
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}
	if token != "" {
		input.NextToken = aws.String(token)
	}
	if pageSize > 0 {
		input.Limit = aws.Int32(int32(pageSize))
	}

	out, err := r.client.ExecuteStatement(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("stratum: execute statement: %w", err)
	}

	page := &Page[P]{}
	for _, raw := range out.Items {
		item := P(new(T))
		if err := attributevalue.UnmarshalMap(raw, item); err != nil {
			return nil, fmt.Errorf("stratum: unmarshal %s: %w", r.typeTag, err)
		}
		page.Items = append(page.Items, item)
	}
	if out.NextToken != nil {
		page.ContinuationToken = *out.NextToken
	}
	if out.ConsumedCapacity != nil && out.ConsumedCapacity.CapacityUnits != nil {
		page.RequestCharge = *out.ConsumedCapacity.CapacityUnits
	}
	return page, nil
}

func (r *Repository[T, P]) assemblePage(items []map[string]types.AttributeValue, lastKey map[string]types.AttributeValue, capacity *types.ConsumedCapacity) (*Page[P], error) {
	page := &Page[P]{}
	for _, raw := range items {
		item := P(new(T))
		if err := attributevalue.UnmarshalMap(raw, item); err != nil {
			return nil, fmt.Errorf("stratum: unmarshal %s: %w", r.typeTag, err)
		}
		page.Items = append(page.Items, item)
	}

	token, err := encodeStartKey(lastKey)
	if err != nil {
		return nil, err
	}
	page.ContinuationToken = token

	if capacity != nil && capacity.CapacityUnits != nil {
		page.RequestCharge = *capacity.CapacityUnits
	}
	return page, nil
}
