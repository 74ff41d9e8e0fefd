package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	value []byte
	err   error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.value
	return nil
}

type fakeConn struct {
	rows map[string][]byte
}

func (f *fakeConn) QueryRow(_ context.Context, _ string, args ...interface{}) pgx.Row {
	v, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{value: v}
}

func (f *fakeConn) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	key := args[0].(string)
	if len(args) == 2 {
		f.rows[key] = args[1].([]byte)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	if _, ok := f.rows[key]; !ok {
		return pgconn.NewCommandTag("DELETE 0"), nil
	}
	delete(f.rows, key)
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func TestPostgres_RoundTrip(t *testing.T) {
	ctx := context.Background()
	closed := false
	p := NewPostgres(&fakeConn{rows: map[string][]byte{}}, func() { closed = true })

	var notified []string
	p.Subscribe(func(key string) { notified = append(notified, key) })

	_, err := p.Get(ctx, "savedFilterSets")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.Set(ctx, "savedFilterSets", []byte(`{"exams":[]}`)))
	got, err := p.Get(ctx, "savedFilterSets")
	require.NoError(t, err)
	assert.JSONEq(t, `{"exams":[]}`, string(got))

	require.NoError(t, p.Delete(ctx, "savedFilterSets"))
	require.NoError(t, p.Delete(ctx, "savedFilterSets"))
	assert.Equal(t, []string{"savedFilterSets", "savedFilterSets"}, notified)

	require.NoError(t, p.Close())
	assert.True(t, closed)
}
