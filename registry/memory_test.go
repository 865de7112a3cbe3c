package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryServiceResolvesByArityAndType(t *testing.T) {
	svc := NewMemoryService("calc")
	svc.RegisterFunc("Add", func(ctx context.Context, a, b int64) (interface{}, error) {
		return a + b, nil
	})
	svc.RegisterFunc("Add", func(ctx context.Context, a, b, c int64) (interface{}, error) {
		return a + b + c, nil
	})

	h, err := svc.Resolve("Add", []interface{}{int64(1), int64(2)})
	require.NoError(t, err)
	result, err := h(context.Background(), []interface{}{int64(1), int64(2)})
	require.NoError(t, err)
	require.Equal(t, int64(3), result)

	h, err = svc.Resolve("Add", []interface{}{int64(1), int64(2), int64(3)})
	require.NoError(t, err)
	result, err = h(context.Background(), []interface{}{int64(1), int64(2), int64(3)})
	require.NoError(t, err)
	require.Equal(t, int64(6), result)
}

func TestMemoryServiceResolveNotFound(t *testing.T) {
	svc := NewMemoryService("calc")
	svc.RegisterFunc("Add", func(ctx context.Context, a, b int64) (interface{}, error) {
		return a + b, nil
	})

	_, err := svc.Resolve("Add", []interface{}{"not", "numbers", "here"})
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestMemoryServiceAmbiguousOverloads(t *testing.T) {
	svc := NewMemoryService("sink")

	type Reader interface{ Read() string }
	type Writer interface{ Write() string }

	svc.RegisterFunc("Accept", func(ctx context.Context, r Reader) (interface{}, error) {
		return "reader", nil
	})
	svc.RegisterFunc("Accept", func(ctx context.Context, w Writer) (interface{}, error) {
		return "writer", nil
	})

	both := bothReaderWriter{}
	_, err := svc.Resolve("Accept", []interface{}{both})
	require.Error(t, err)
	var amb *AmbiguousError
	require.ErrorAs(t, err, &amb)
	require.Contains(t, err.Error(), "Ambiguous")
	require.Len(t, amb.Candidates, 2)
}

type bothReaderWriter struct{}

func (bothReaderWriter) Read() string  { return "r" }
func (bothReaderWriter) Write() string { return "w" }

func TestMemoryServiceNumericWireConversion(t *testing.T) {
	svc := NewMemoryService("calc")
	svc.RegisterFunc("Double", func(ctx context.Context, n int64) (interface{}, error) {
		return n * 2, nil
	})

	// A CBOR decoder with default options yields uint64 for
	// non-negative integers; the resolver must still match an int64
	// parameter.
	h, err := svc.Resolve("Double", []interface{}{uint64(21)})
	require.NoError(t, err)
	result, err := h(context.Background(), []interface{}{uint64(21)})
	require.NoError(t, err)
	require.Equal(t, int64(42), result)
}

func TestMemoryRegistryAddRemove(t *testing.T) {
	reg := NewMemoryRegistry()
	svc := NewMemoryService("greeter")
	reg.Add(svc)

	found, ok := reg.Resolve("greeter")
	require.True(t, ok)
	require.Equal(t, svc, found)

	reg.Remove("greeter")
	_, ok = reg.Resolve("greeter")
	require.False(t, ok)
}
