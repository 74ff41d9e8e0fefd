package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStore_SetGetOverwrite(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "k", []byte(`{"a":1}`)))
			require.NoError(t, s.Set(ctx, "k", []byte(`{"a":2}`)))
			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":2}`, string(got))
		})
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "k", []byte(`1`)))
			require.NoError(t, s.Delete(ctx, "k"))
			_, err := s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, s.Delete(ctx, "never-set"))
		})
	}
}

func TestStore_SubscribeNotifies(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var keys []string
			unsubscribe := s.Subscribe(func(key string) { keys = append(keys, key) })

			require.NoError(t, s.Set(ctx, "savedFilterSets", []byte(`{}`)))
			require.NoError(t, s.Delete(ctx, "savedFilterSets"))
			unsubscribe()
			unsubscribe()
			require.NoError(t, s.Set(ctx, "automationRules", []byte(`[]`)))

			assert.Equal(t, []string{"savedFilterSets", "savedFilterSets"}, keys)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type settings struct {
		AutoLoad bool `json:"autoLoad"`
	}
	require.NoError(t, SetJSON(ctx, s, "userSettings", settings{AutoLoad: true}))

	var got settings
	require.NoError(t, GetJSON(ctx, s, "userSettings", &got))
	assert.True(t, got.AutoLoad)

	err := GetJSON(ctx, s, "nope", &got)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "broken", []byte(`{`)))
	err = GetJSON(ctx, s, "broken", &got)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	buf := []byte(`"abc"`)
	require.NoError(t, s.Set(ctx, "k", buf))
	buf[1] = 'z'
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(got))
}
