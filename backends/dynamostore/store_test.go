package dynamostore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

type Session struct {
	Token  string `repo:"id" dynamodbav:"pk"`
	UserID string `dynamodbav:"user_id"`
	Hits   int    `dynamodbav:"hits"`
}

type Ticket struct {
	Number int64 `repo:"id"`
	Title  string
}

// fakeTable evaluates the two condition expressions the store issues and pages
// scans two items at a time.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	scans int
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]types.AttributeValue{}}
}

func keyString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	}
	return "?"
}

func (f *fakeTable) check(key string, condition *string, names map[string]string) error {
	if condition == nil {
		return nil
	}
	_, exists := f.items[key]
	if names["#pk"] == "" {
		return errors.New("missing #pk name")
	}
	switch {
	case strings.HasPrefix(*condition, "attribute_not_exists") && exists,
		strings.HasPrefix(*condition, "attribute_exists") && !exists:
		return &types.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}
	}
	return nil
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, av := range in.Key {
		return &dynamodb.GetItemOutput{Item: f.items[keyString(av)]}, nil
	}
	return nil, errors.New("empty key")
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attr := "pk"
	if _, ok := in.Item[attr]; !ok {
		attr = "Number"
	}
	key := keyString(in.Item[attr])
	if err := f.check(key, in.ConditionExpression, in.ExpressionAttributeNames); err != nil {
		return nil, err
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, av := range in.Key {
		key := keyString(av)
		if err := f.check(key, in.ConditionExpression, in.ExpressionAttributeNames); err != nil {
			return nil, err
		}
		delete(f.items, key)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeTable) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	startAt := 0
	if len(in.ExclusiveStartKey) > 0 {
		last := in.ExclusiveStartKey["cursor"].(*types.AttributeValueMemberS).Value
		startAt = sort.SearchStrings(keys, last) + 1
	}
	out := &dynamodb.ScanOutput{}
	for i := startAt; i < len(keys) && len(out.Items) < 2; i++ {
		out.Items = append(out.Items, f.items[keys[i]])
		if len(out.Items) == 2 && i+1 < len(keys) {
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				"cursor": &types.AttributeValueMemberS{Value: keys[i]},
			}
		}
	}
	return out, nil
}

func newSessions(t *testing.T) (*Store[Session], *fakeTable) {
	t.Helper()
	table := newFakeTable()
	s, err := New[Session](table, "sessions")
	require.NoError(t, err)
	return s, table
}

func TestStore_KeyAttributeFollowsTag(t *testing.T) {
	s, _ := newSessions(t)
	assert.Equal(t, "pk", s.KeyAttribute())
}

func TestStore_WriteModes(t *testing.T) {
	ctx := context.Background()
	s, table := newSessions(t)

	res, err := s.Save(ctx, Session{Token: "t-1", UserID: "u-1"}, store.Insert)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = s.Save(ctx, Session{Token: "t-1"}, store.Insert)
	require.NoError(t, err)
	assert.True(t, res.HasCode(store.CodeDuplicateID))

	res, err = s.Save(ctx, Session{Token: "t-2"}, store.Update)
	require.NoError(t, err)
	assert.True(t, res.HasCode(store.CodeNotFound))

	res, err = s.Save(ctx, Session{}, store.Update)
	require.NoError(t, err)
	assert.True(t, res.HasCode(store.CodeMissingID))

	res, err = s.Save(ctx, Session{Token: "t-1", UserID: "u-1", Hits: 3}, store.Update)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = s.Save(ctx, Session{Token: "t-2", UserID: "u-2"}, store.Upsert)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = s.Save(ctx, Session{UserID: "u-3"}, store.Insert)
	require.NoError(t, err)
	assert.Len(t, res.ID, 36)

	got, found, err := s.GetByID(ctx, "t-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, got.Hits)
	assert.Len(t, table.items, 3)

	_, found, err = s.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_ScanPagesAndFilters(t *testing.T) {
	ctx := context.Background()
	s, table := newSessions(t)
	for i := 1; i <= 5; i++ {
		user := "u-odd"
		if i%2 == 0 {
			user = "u-even"
		}
		_, err := s.Save(ctx, Session{Token: "t-" + strconv.Itoa(i), UserID: user, Hits: i}, store.Insert)
		require.NoError(t, err)
	}

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, 3, table.scans, "five items in pages of two")

	odd, err := s.Query(ctx, query.And(query.Eq("UserID", "u-odd"), query.Gt("Hits", 1)))
	require.NoError(t, err)
	assert.Len(t, odd, 2)

	first, found, err := s.FirstOrDefault(ctx, query.Eq("UserID", "u-even"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "t-2", first.Token)

	_, err = s.Query(ctx, query.Eq("Missing", 1))
	assert.Error(t, err)
}

func TestStore_Deletes(t *testing.T) {
	ctx := context.Background()
	s, table := newSessions(t)
	_, err := s.SaveMany(ctx, []Session{
		{Token: "t-1", UserID: "u-1"},
		{Token: "t-2", UserID: "u-1"},
		{Token: "t-3", UserID: "u-2"},
	}, store.Insert)
	require.NoError(t, err)

	res, err := s.Delete(ctx, "t-3")
	require.NoError(t, err)
	assert.True(t, res.Success)
	res, err = s.Delete(ctx, "t-3")
	require.NoError(t, err)
	assert.True(t, res.HasCode(store.CodeNotFound))

	res, err = s.DeleteWhere(ctx, query.Eq("UserID", "u-1"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, table.items)

	res, err = s.DeleteWhere(ctx, query.Eq("UserID", "u-1"))
	require.NoError(t, err)
	assert.True(t, res.HasCode(store.CodeNothingDeleted))
}

func TestStore_IntegerIdentifiers(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()

	plain, err := New[Ticket](table, "tickets")
	require.NoError(t, err)
	_, err = plain.Save(ctx, Ticket{Title: "no sequence"}, store.Insert)
	assert.Error(t, err)

	var n atomic.Int64
	seq, err := New[Ticket](table, "tickets", WithSequence(func() (string, error) {
		return strconv.FormatInt(n.Add(1), 10), nil
	}))
	require.NoError(t, err)
	res, err := seq.Save(ctx, Ticket{Title: "first"}, store.Insert)
	require.NoError(t, err)
	assert.Equal(t, "1", res.ID)

	got, found, err := seq.GetByID(ctx, "1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", got.Title)

	_, _, err = seq.GetByID(ctx, "not-a-number")
	assert.Error(t, err)
}

func TestNew_ConfigErrors(t *testing.T) {
	_, err := New[Session](nil, "sessions")
	assert.True(t, store.IsConfigError(err))
	_, err = New[Session](newFakeTable(), "")
	assert.True(t, store.IsConfigError(err))
	_, err = NewClient(context.Background(), ClientConfig{})
	assert.True(t, store.IsConfigError(err))
}
