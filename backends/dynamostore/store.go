// Package dynamostore keeps entities as items of a DynamoDB table whose
// partition key is the entity identifier. Predicates are evaluated on scanned
// items.
package dynamostore

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/goliatone/go-repository-pipeline/backends"
	"github.com/goliatone/go-repository-pipeline/entity"
	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

var _ store.Repository[struct{ ID string }] = (*Store[struct{ ID string }])(nil)

// Client is the part of *dynamodb.Client the store uses.
type Client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// ClientConfig locates the DynamoDB endpoint.
type ClientConfig struct {
	Region string `yaml:"region"`
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string `yaml:"endpoint"`
}

// NewClient builds a client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg ClientConfig) (*dynamodb.Client, error) {
	if cfg.Region == "" {
		return nil, &store.ConfigError{Field: "dynamodb.region", Message: "region is required"}
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, store.External(err, "load aws config")
	}
	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return dynamodb.NewFromConfig(awsCfg, opts...), nil
}

// Option customizes a Store.
type Option func(*settings)

type settings struct {
	next backends.Sequence
}

// WithSequence supplies identifiers for kinds the store cannot generate, such
// as integers.
func WithSequence(next backends.Sequence) Option {
	return func(s *settings) { s.next = next }
}

// Store implements store.Repository over one DynamoDB table.
type Store[T any] struct {
	store.LoggerSlot

	client  Client
	table   string
	desc    *entity.Descriptor[T]
	keyAttr string
	next    backends.Sequence
}

// New returns a store for T over table.
func New[T any](client Client, table string, opts ...Option) (*Store[T], error) {
	if client == nil {
		return nil, &store.ConfigError{Field: "client", Message: "dynamodb client is required"}
	}
	if table == "" {
		return nil, &store.ConfigError{Field: "table", Message: "table name is required"}
	}
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return &Store[T]{
		client:  client,
		table:   table,
		desc:    desc,
		keyAttr: keyAttribute(desc),
		next:    s.next,
	}, nil
}

// KeyAttribute returns the partition key attribute name.
func (s *Store[T]) KeyAttribute() string { return s.keyAttr }

// keyAttribute is the identifier field name unless a dynamodbav tag renames it.
func keyAttribute[T any](desc *entity.Descriptor[T]) string {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if f, ok := t.FieldByName(desc.IDField()); ok {
		if name, _, _ := strings.Cut(f.Tag.Get("dynamodbav"), ","); name != "" && name != "-" {
			return name
		}
	}
	return desc.IDField()
}

func (s *Store[T]) blank() T {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(T)
	}
	return zero
}

func (s *Store[T]) key(id string) (map[string]types.AttributeValue, error) {
	rec := s.blank()
	if err := s.desc.SetID(&rec, id); err != nil {
		return nil, err
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, store.BadInput("ENCODE_FAILED", err.Error())
	}
	av, ok := item[s.keyAttr]
	if !ok {
		return nil, &store.ConfigError{Type: s.desc.TypeName(), Field: s.keyAttr, Message: "identifier is not marshaled as an attribute"}
	}
	return map[string]types.AttributeValue{s.keyAttr: av}, nil
}

func (s *Store[T]) names() map[string]string {
	return map[string]string{"#pk": s.keyAttr}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *Store[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	if id == "" {
		return zero, false, nil
	}
	key, err := s.key(id)
	if err != nil {
		return zero, false, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return zero, false, store.External(err, "dynamodb get "+id)
	}
	if len(out.Item) == 0 {
		return zero, false, nil
	}
	var record T
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return zero, false, store.External(err, "dynamodb decode "+id)
	}
	return record, true, nil
}

func (s *Store[T]) GetAll(ctx context.Context) ([]T, error) {
	return s.scan(ctx, query.All())
}

func (s *Store[T]) Query(ctx context.Context, predicate query.Predicate) ([]T, error) {
	if err := store.CheckPredicate(predicate); err != nil {
		return nil, err
	}
	return s.scan(ctx, predicate)
}

func (s *Store[T]) FirstOrDefault(ctx context.Context, predicate query.Predicate) (T, bool, error) {
	var zero T
	matches, err := s.Query(ctx, predicate)
	if err != nil || len(matches) == 0 {
		return zero, false, err
	}
	return matches[0], true, nil
}

func (s *Store[T]) scan(ctx context.Context, predicate query.Predicate) ([]T, error) {
	var (
		out   []T
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, store.External(err, "dynamodb scan "+s.table)
		}
		var records []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &records); err != nil {
			return nil, store.External(err, "dynamodb decode page")
		}
		for _, r := range records {
			ok, err := s.desc.Matches(predicate, r)
			if err != nil {
				return nil, store.BadInput("INVALID_PREDICATE", err.Error())
			}
			if ok {
				out = append(out, r)
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}

func (s *Store[T]) put(ctx context.Context, record T, condition string) (bool, error) {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return false, store.BadInput("ENCODE_FAILED", err.Error())
	}
	in := &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: item}
	if condition != "" {
		in.ConditionExpression = aws.String(condition)
		in.ExpressionAttributeNames = s.names()
	}
	_, err = s.client.PutItem(ctx, in)
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, store.External(err, "dynamodb put")
	}
	return true, nil
}

func (s *Store[T]) Save(ctx context.Context, record T, mode store.WriteMode) (store.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return store.OperationResult{}, err
	}
	id := s.desc.GetID(record)

	switch mode {
	case store.Insert, store.Upsert:
		if id == "" {
			id, err := backends.InsertFresh(s.desc, record, s.next, func(_ string, r T) (bool, error) {
				return s.put(ctx, r, "attribute_not_exists(#pk)")
			})
			if errors.Is(err, entity.ErrIDNotGenerated) {
				return store.OperationResult{}, store.BadInput("ID_REQUIRED", "identifier kind needs a sequence")
			}
			if err != nil {
				return store.OperationResult{}, err
			}
			return store.Succeeded(id), nil
		}
		condition := ""
		if mode == store.Insert {
			condition = "attribute_not_exists(#pk)"
		}
		ok, err := s.put(ctx, record, condition)
		if err != nil {
			return store.OperationResult{}, err
		}
		if !ok {
			return store.DuplicateID(id), nil
		}
		return store.Succeeded(id), nil

	case store.Update:
		if id == "" {
			return store.MissingID(), nil
		}
		ok, err := s.put(ctx, record, "attribute_exists(#pk)")
		if err != nil {
			return store.OperationResult{}, err
		}
		if !ok {
			return store.NotFound(id), nil
		}
		return store.Succeeded(id), nil
	}
	return store.InvalidMode(id, mode), nil
}

func (s *Store[T]) SaveMany(ctx context.Context, records []T, mode store.WriteMode) ([]store.OperationResult, error) {
	results := make([]store.OperationResult, 0, len(records))
	for _, r := range records {
		res, err := s.Save(ctx, r, mode)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Store[T]) Delete(ctx context.Context, id string) (store.OperationResult, error) {
	if id == "" {
		return store.MissingID(), nil
	}
	ok, err := s.delete(ctx, id, "attribute_exists(#pk)")
	if err != nil {
		return store.OperationResult{}, err
	}
	if !ok {
		return store.NotFound(id), nil
	}
	return store.Succeeded(id), nil
}

func (s *Store[T]) delete(ctx context.Context, id, condition string) (bool, error) {
	key, err := s.key(id)
	if err != nil {
		return false, err
	}
	in := &dynamodb.DeleteItemInput{TableName: aws.String(s.table), Key: key}
	if condition != "" {
		in.ConditionExpression = aws.String(condition)
		in.ExpressionAttributeNames = s.names()
	}
	_, err = s.client.DeleteItem(ctx, in)
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, store.External(err, "dynamodb delete "+id)
	}
	return true, nil
}

func (s *Store[T]) DeleteWhere(ctx context.Context, predicate query.Predicate) (store.OperationResult, error) {
	matches, err := s.Query(ctx, predicate)
	if err != nil {
		return store.OperationResult{}, err
	}
	removed := 0
	for _, m := range matches {
		ok, err := s.delete(ctx, s.desc.GetID(m), "attribute_exists(#pk)")
		if err != nil {
			return store.OperationResult{}, err
		}
		if ok {
			removed++
		}
	}
	if removed == 0 {
		return store.NothingDeleted(), nil
	}
	s.Logger().Debug("dynamodb store deleted by predicate", "entity", s.desc.TypeName(), "table", s.table, "count", removed)
	return store.Succeeded(""), nil
}
