package entity

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-pipeline/store"
)

type account struct {
	ID     uuid.UUID `repo:"id"`
	Tenant string    `repo:"index"`
	Email  string    `repo:"index,index:by_email"`
	Age    int
	secret string
}

type plainUser struct {
	ID   string
	Name string
}

type numbered struct {
	Seq  int64 `repo:"id"`
	Code string
}

type audit struct {
	CreatedBy string
}

type document struct {
	audit
	Key   string `repo:"id"`
	Title string `repo:"index"`
}

type noID struct {
	Name string
}

type twoIDs struct {
	A string `repo:"id"`
	B string `repo:"id"`
}

type badIDType struct {
	ID float64
}

type hiddenIndex struct {
	ID    string
	level int `repo:"index"`
}

type registered struct {
	Key  string
	Slug string
	Kind string
}

func forget[T any]() {
	if t, err := structType(reflect.TypeFor[T]()); err == nil {
		registry.Delete(t)
	}
}

func TestDescribe_Tags(t *testing.T) {
	d, err := Describe[account]()
	require.NoError(t, err)

	assert.Equal(t, "account", d.TypeName())
	assert.Equal(t, "ID", d.IDField())
	assert.True(t, d.HasSecondaryIndex())
	assert.Equal(t, []string{"Email", "Tenant"}, d.IndexedFieldNames(), "index fields are sorted")
	assert.Equal(t, []IndexSpec{
		{Name: "by_email", Fields: []string{"Email"}},
		{Name: DefaultIndex, Fields: []string{"Email", "Tenant"}},
	}, d.Indexes())
	assert.Equal(t, []string{"ID", "Tenant", "Email", "Age"}, d.FieldNames())
	assert.False(t, d.HasField("secret"))
}

func TestDescribe_IsMemoized(t *testing.T) {
	a, err := Describe[account]()
	require.NoError(t, err)
	b, err := Describe[*account]()
	require.NoError(t, err)
	assert.Same(t, a.info, b.info, "value and pointer forms share one descriptor")
}

func TestDescribe_FallbackIDField(t *testing.T) {
	d, err := Describe[plainUser]()
	require.NoError(t, err)
	assert.Equal(t, "ID", d.IDField())
	assert.False(t, d.HasSecondaryIndex())
	assert.Empty(t, d.IndexedFieldNames())
}

func TestDescribe_PromotedFields(t *testing.T) {
	d, err := Describe[document]()
	require.NoError(t, err)
	assert.True(t, d.HasField("CreatedBy"))

	v, ok := d.Field(document{audit: audit{CreatedBy: "ops"}}, "CreatedBy")
	require.True(t, ok)
	assert.Equal(t, "ops", v)
}

func TestDescribe_ConfigErrors(t *testing.T) {
	_, err := Describe[noID]()
	assert.True(t, store.IsConfigError(err))
	assert.Contains(t, err.Error(), "no identifier field")

	_, err = Describe[twoIDs]()
	assert.True(t, store.IsConfigError(err))

	_, err = Describe[badIDType]()
	assert.True(t, store.IsConfigError(err))

	_, err = Describe[hiddenIndex]()
	assert.True(t, store.IsConfigError(err))

	_, err = Describe[int]()
	assert.True(t, store.IsConfigError(err))
}

func TestDescriptor_UUIDIdentifier(t *testing.T) {
	d := MustDescribe[account]()

	var a account
	assert.Equal(t, "", d.GetID(a), "zero uuid reads as empty")

	id, err := d.NewID()
	require.NoError(t, err)
	require.NoError(t, d.SetID(&a, id))
	assert.Equal(t, id, d.GetID(a))

	assert.Error(t, d.SetID(&a, "not-a-uuid"))
	assert.Error(t, d.ValidateID("not-a-uuid"))
	assert.NoError(t, d.ValidateID(id))

	assert.Error(t, d.SetID(nil, id))
}

func TestDescriptor_PointerEntity(t *testing.T) {
	d := MustDescribe[*plainUser]()

	u := &plainUser{ID: "u-1"}
	assert.Equal(t, "u-1", d.GetID(u))
	assert.Equal(t, "", d.GetID(nil))

	require.NoError(t, d.SetID(&u, "u-2"))
	assert.Equal(t, "u-2", u.ID)

	var nilUser *plainUser
	assert.Error(t, d.SetID(&nilUser, "u-3"))
}

func TestDescriptor_IntegerIdentifier(t *testing.T) {
	d := MustDescribe[numbered]()

	n := numbered{}
	assert.Equal(t, "", d.GetID(n))

	_, err := d.NewID()
	assert.ErrorIs(t, err, ErrIDNotGenerated)

	n, err = d.WithID(n, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n.Seq)
	assert.Equal(t, "42", d.GetID(n))

	_, err = d.WithID(n, "forty-two")
	assert.Error(t, err)
}

func TestDescriptor_Coerce(t *testing.T) {
	d := MustDescribe[account]()

	v, ok := d.Coerce("Age", int64(3))
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = d.Coerce("Age", 3.0)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = d.Coerce("Age", 3.5)
	assert.False(t, ok, "lossy conversions are refused")

	_, ok = d.Coerce("Age", "3")
	assert.False(t, ok)

	_, ok = d.Coerce("Missing", 1)
	assert.False(t, ok)

	email := "a@b.c"
	v, ok = d.Coerce("Email", &email)
	require.True(t, ok)
	assert.Equal(t, email, v)
}

func TestDescriptor_FieldType(t *testing.T) {
	d := MustDescribe[account]()

	typ, ok := d.FieldType("Age")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[int](), typ)

	typ, ok = d.FieldType("ID")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[uuid.UUID](), typ)

	_, ok = d.FieldType("secret")
	assert.False(t, ok, "unexported fields are not described")
}

func TestDescriptor_Getter(t *testing.T) {
	d := MustDescribe[account]()
	a := account{Tenant: "acme", Age: 30}

	get := d.Getter(a)
	v, ok := get("Tenant")
	require.True(t, ok)
	assert.Equal(t, "acme", v)

	_, ok = get("secret")
	assert.False(t, ok)
}

func TestRegister(t *testing.T) {
	t.Cleanup(forget[registered])

	err := Register[registered](Registration{
		IDField: "Key",
		Indexes: map[string][]string{DefaultIndex: {"Slug", "Kind"}},
	})
	require.NoError(t, err)

	d, err := Describe[registered]()
	require.NoError(t, err)
	assert.Equal(t, "Key", d.IDField())
	assert.Equal(t, []string{"Kind", "Slug"}, d.IndexedFieldNames())

	err = Register[registered](Registration{IDField: "Missing"})
	assert.True(t, store.IsConfigError(err))

	err = Register[registered](Registration{
		IDField: "Key",
		Indexes: map[string][]string{DefaultIndex: {"Nope"}},
	})
	assert.True(t, store.IsConfigError(err))
}
