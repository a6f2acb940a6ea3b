package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/evoluhq/evolu-go/internal/clock"
	"github.com/evoluhq/evolu-go/internal/schema"
	"github.com/stretchr/testify/require"
)

func TestSerializeIsStableForEquivalentQueries(t *testing.T) {
	a := Query{SQL: "select 1", Params: []schema.Value{schema.Text("x")}, Options: map[string]string{"b": "2", "a": "1"}}
	b := Query{SQL: "select 1", Params: []schema.Value{schema.Text("x")}, Options: map[string]string{"a": "1", "b": "2"}}
	require.Equal(t, Serialize(a), Serialize(b))
}

func TestSerializeDiffersOnBlobVsTextCollision(t *testing.T) {
	withBlob := Query{SQL: "select 1", Params: []schema.Value{schema.Blob([]byte("ab"))}}
	withText := Query{SQL: "select 1", Params: []schema.Value{schema.Text(`{"blob":"6162"}`)}}
	require.NotEqual(t, Serialize(withBlob), Serialize(withText))
}

func TestSerializeDiffersOnDifferentSQL(t *testing.T) {
	a := Query{SQL: "select 1"}
	b := Query{SQL: "select 2"}
	require.NotEqual(t, Serialize(a), Serialize(b))
}

func TestDecodeRowPassesThroughUnmarkedColumns(t *testing.T) {
	nonce := []byte("0123456789012345678901")
	row := schema.Row{"title": schema.Text("hello"), "count": schema.Integer(3)}
	out, err := DecodeRow(nonce, row)
	require.NoError(t, err)
	require.Equal(t, "hello", out["title"])
	require.Equal(t, int64(3), out["count"])
}

func TestDecodeRowParsesMarkedJsonArray(t *testing.T) {
	rng := clock.NewDeterministicRand(7)
	nonce, err := NewNonce(rng)
	require.NoError(t, err)

	marked := nonceString(nonce) + `["a","b",3]`
	row := schema.Row{"tags": schema.Text(marked)}

	out, err := DecodeRow(nonce, row)
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a", "b", float64(3)}, out["tags"])
}

func TestDecodeRowRecursesIntoNestedMarkedStrings(t *testing.T) {
	rng := clock.NewDeterministicRand(9)
	nonce, err := NewNonce(rng)
	require.NoError(t, err)
	prefix := nonceString(nonce)

	inner := prefix + `[1,2]`
	outerJSON := `["` + inner + `"]`
	row := schema.Row{"nested": schema.Text(prefix + outerJSON)}

	out, err := DecodeRow(nonce, row)
	require.NoError(t, err)
	list, ok := out["nested"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	require.Equal(t, []interface{}{float64(1), float64(2)}, list[0])
}

func TestCacheReplaceEmitsReplaceAllOnFirstInsert(t *testing.T) {
	c := NewCache()
	rows := []schema.Row{{"title": schema.Text("a")}}
	patches := c.Replace(Serial("q1"), rows)
	require.Len(t, patches, 1)
}

func TestCacheEvictUnsubscribedDropsOnlyUnreferenced(t *testing.T) {
	c := NewCache()
	reg := NewRegistry()
	c.Replace(Serial("kept"), []schema.Row{{"a": schema.Integer(1)}})
	c.Replace(Serial("dropped"), []schema.Row{{"a": schema.Integer(2)}})
	reg.Subscribe(Serial("kept"))

	c.EvictUnsubscribed(reg)

	_, keptOk := c.Get(Serial("kept"))
	_, droppedOk := c.Get(Serial("dropped"))
	require.True(t, keptOk)
	require.False(t, droppedOk)
}

func TestRegistryRefCounting(t *testing.T) {
	reg := NewRegistry()
	s := Serial("q")
	require.False(t, reg.IsSubscribed(s))
	reg.Subscribe(s)
	reg.Subscribe(s)
	require.True(t, reg.IsSubscribed(s))
	reg.Unsubscribe(s)
	require.True(t, reg.IsSubscribed(s))
	reg.Unsubscribe(s)
	require.False(t, reg.IsSubscribed(s))
}

func TestLoaderCoalescesConcurrentLoads(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	l := NewLoader(func(ctx context.Context, q Query) ([]schema.Row, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []schema.Row{{"a": schema.Integer(1)}}, nil
	})

	q := Query{SQL: "select 1"}
	f1 := l.Load(context.Background(), q)
	f2 := l.Load(context.Background(), q)
	require.Same(t, f1, f2)

	close(release)
	res, err := f1.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusResolved, res.Status)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestLoaderReturnsResolvedFutureAfterCompletion(t *testing.T) {
	l := NewLoader(func(ctx context.Context, q Query) ([]schema.Row, error) {
		return []schema.Row{{"a": schema.Integer(1)}}, nil
	})
	q := Query{SQL: "select 1"}

	f1 := l.Load(context.Background(), q)
	_, err := f1.Wait(context.Background())
	require.NoError(t, err)

	f2 := l.Load(context.Background(), q)
	res, ok := f2.Peek()
	require.True(t, ok)
	require.Equal(t, StatusResolved, res.Status)
}

func TestLoaderSurfacesExecError(t *testing.T) {
	l := NewLoader(func(ctx context.Context, q Query) ([]schema.Row, error) {
		return nil, errors.New("boom")
	})
	f := l.Load(context.Background(), Query{SQL: "select 1"})
	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusRejected, res.Status)
	require.Error(t, res.Err)
}

func TestLoaderGCDropsUnsubscribedResolvedEntries(t *testing.T) {
	l := NewLoader(func(ctx context.Context, q Query) ([]schema.Row, error) {
		return nil, nil
	})
	reg := NewRegistry()
	q := Query{SQL: "select 1"}
	s := Serialize(q)

	f := l.Load(context.Background(), q)
	_, _ = f.Wait(context.Background())

	l.GC(reg)
	f2 := l.Load(context.Background(), q)
	require.NotSame(t, f, f2)
	_ = s
}
