package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/itsneelabh/agentrelay/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "registry.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func names(refs []*core.AgentRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Name)
	}
	return out
}

func TestSQLiteStore_RegisterAndDiscover(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	calc, err := store.Register(ctx, &core.AgentInfo{Name: "calc", Capabilities: []string{"math"}})
	require.NoError(t, err)
	_, err = store.Register(ctx, &core.AgentInfo{Name: "errors", Capabilities: []string{"mathematics_errors"}})
	require.NoError(t, err)
	_, err = store.Register(ctx, &core.AgentInfo{Name: "greeter", Capabilities: []string{"greeting", "small_talk"}})
	require.NoError(t, err)

	tests := []struct {
		query string
		want  []string
	}{
		{"math", []string{"calc", "errors"}},
		{"MATH", []string{"calc", "errors"}},
		{"small", []string{"greeter"}},
		{"weather", []string{}},
		{"", []string{"calc", "errors", "greeter"}},
		{"%", []string{}},
		{"a_h", []string{}},
		{"l_t", []string{"greeter"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			refs, err := store.Discover(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(refs), "registration order is kept")
		})
	}

	refs, err := store.Discover(ctx, "math")
	require.NoError(t, err)
	assert.Equal(t, calc, refs[0].UUID)
	assert.Equal(t, []string{"math"}, refs[0].Capabilities)
}

func TestSQLiteStore_Withdraw(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Register(ctx, &core.AgentInfo{Name: "a", Capabilities: []string{"x"}})
	require.NoError(t, err)

	require.NoError(t, store.Withdraw(ctx, id))
	err = store.Withdraw(ctx, id)
	assert.True(t, errors.Is(err, core.ErrAgentNotFound))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_LookupKeepsSchema(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	schema := map[string]interface{}{"title": "greeter", "required": []interface{}{"name"}}
	id, err := store.Register(ctx, &core.AgentInfo{Name: "greeter", Description: "says hello", RequestSchema: schema})
	require.NoError(t, err)

	info, err := store.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "says hello", info.Description)
	assert.Equal(t, schema, info.RequestSchema)

	_, err = store.Lookup(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrAgentNotFound))
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.db")
	ctx := context.Background()

	store, err := OpenSQLiteStore(path, nil)
	require.NoError(t, err)
	id, err := store.Register(ctx, &core.AgentInfo{Name: "durable"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenSQLiteStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	refs, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, id, refs[0].UUID)
	assert.Equal(t, []string{}, refs[0].Capabilities)

	require.NoError(t, store.Reset(ctx))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := OpenSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Register(context.Background(), &core.AgentInfo{Name: "a"})
	require.NoError(t, err)
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_Closed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.Register(context.Background(), &core.AgentInfo{Name: "a"})
	require.Error(t, err)
	var fe *core.FrameworkError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, core.KindRegistration, fe.Kind)
}
