package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-pipeline/backends/memory"
	"github.com/goliatone/go-repository-pipeline/cache"
	"github.com/goliatone/go-repository-pipeline/mapping"
	"github.com/goliatone/go-repository-pipeline/notify"
	"github.com/goliatone/go-repository-pipeline/pkg/testsupport"
	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/repositorycache"
	"github.com/goliatone/go-repository-pipeline/store"
)

type Member struct {
	ID    string
	Org   string `repo:"index"`
	Email string `repo:"index"`
	Name  string
}

type Note struct {
	ID   string
	Body string
}

type MemberView struct {
	ID       string
	Org      string
	Email    string
	FullName string
}

func newSvc(t *testing.T) cache.CacheService {
	t.Helper()
	svc, err := cache.NewCacheService(cache.Config{
		Capacity:             1000,
		NumShards:            4,
		TTL:                  time.Minute,
		EvictionPercentage:   10,
		MissingRecordStorage: true,
	})
	require.NoError(t, err)
	return svc
}

func byOrgEmail(org, email string) query.Predicate {
	return query.And(query.Eq("Org", org), query.Eq("Email", email))
}

func TestBuilder_FullStack(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.New[Member]()
	require.NoError(t, err)
	spy := testsupport.NewSpy[Member](mem)
	events := notify.NewChannel[Member](8)
	svc := newSvc(t)

	repo, err := New[Member](spy).
		WithIdentityCache(svc).
		WithIndexCache(svc).
		WithNotification(events).
		Build()
	require.NoError(t, err)

	layers := Layers(repo)
	require.Len(t, layers, 4)
	assert.IsType(t, &notify.Notifier[Member]{}, layers[0])
	assert.IsType(t, &repositorycache.Indexed[Member]{}, layers[1])
	assert.IsType(t, &repositorycache.IdentityCache[Member]{}, layers[2])
	assert.Same(t, spy, layers[3])

	res, err := repo.Save(ctx, Member{ID: "m-1", Org: "acme", Email: "ada@acme.io", Name: "Ada"}, store.Insert)
	require.NoError(t, err)
	require.True(t, res.Success)
	ev := <-events.C()
	assert.Equal(t, notify.Created, ev.Kind)

	spy.Reset()
	got, found, err := repo.FirstOrDefault(ctx, byOrgEmail("acme", "ada@acme.io"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ada", got.Name)
	assert.Empty(t, spy.Calls(), "index and identity caches answer without the store")
}

func TestBuilder_Rules(t *testing.T) {
	mem, err := memory.New[Member]()
	require.NoError(t, err)
	svc := newSvc(t)
	pub := notify.NewChannel[Member](1)

	_, err = New[Member](mem).WithNotification(pub).WithIdentityCache(svc).Build()
	assert.True(t, store.IsConfigError(err), "notification must be outermost")

	_, err = New[Member](mem).WithIdentityCache(svc).WithIdentityCache(svc).Build()
	assert.True(t, store.IsConfigError(err), "duplicate kind")

	_, err = New[Member](nil).Build()
	assert.True(t, store.IsConfigError(err))

	_, err = New[Member](mem).With(Stage[Member]{Kind: KindCustom, Name: "broken"}).Build()
	assert.True(t, store.IsConfigError(err))

	notes, err := memory.New[Note]()
	require.NoError(t, err)
	_, err = New[Note](notes).WithIndexCache(svc).Build()
	assert.True(t, store.IsConfigError(err), "index stage needs a declared index")

	_, err = New[Member](mem).WithIdentityCache(nil).Build()
	assert.True(t, store.IsConfigError(err), "stage errors surface from Build")
}

func TestBuilder_CustomStagesMayRepeat(t *testing.T) {
	mem, err := memory.New[Member]()
	require.NoError(t, err)
	var spies []*testsupport.Spy[Member]
	spyStage := Stage[Member]{
		Kind: KindCustom,
		Name: "spy",
		Factory: func(inner store.Repository[Member]) (store.Repository[Member], error) {
			s := testsupport.NewSpy[Member](inner)
			spies = append(spies, s)
			return s, nil
		},
	}

	b := New[Member](mem).With(spyStage).With(spyStage)
	assert.Len(t, b.Stages(), 2)
	repo, err := b.Build()
	require.NoError(t, err)

	_, _, err = repo.GetByID(context.Background(), "m-1")
	require.NoError(t, err)
	require.Len(t, spies, 2)
	assert.Equal(t, 1, spies[0].Count("GetByID"))
	assert.Equal(t, 1, spies[1].Count("GetByID"))
}

func TestBuilder_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mem, err := memory.New[Member]()
	require.NoError(t, err)

	repo, err := New[Member](mem).
		WithIdentityCache(newSvc(t)).
		WithLogger(logger).
		Build()
	require.NoError(t, err)

	assert.Same(t, logger, mem.Logger())
	assert.NotSame(t, slog.Default(), repo.Logger())
	repo.Logger().Info("probe")
	assert.Contains(t, buf.String(), "stage=identity-cache")
}

func TestMapped(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.New[Member]()
	require.NoError(t, err)

	views, err := Mapped[MemberView](
		New[Member](mem).WithIdentityCache(newSvc(t)),
		mapping.WithFieldRename("FullName", "Name"),
	)
	require.NoError(t, err)

	_, err = views.Save(ctx, MemberView{ID: "m-1", Org: "acme", FullName: "Ada"}, store.Insert)
	require.NoError(t, err)

	stored, found, err := mem.GetByID(ctx, "m-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ada", stored.Name)

	got, found, err := views.FirstOrDefault(ctx, query.Eq("FullName", "Ada"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "acme", got.Org)

	_, err = Mapped[MemberView](New[Member](nil))
	assert.True(t, store.IsConfigError(err))
}
