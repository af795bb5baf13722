package refnum_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ian-magat0512/ubind-sub022/core/refnum"
	"github.com/ian-magat0512/ubind-sub022/ports/kv"
)

func TestAllocator_Formats(t *testing.T) {
	store := kv.NewMemStore()

	t.Run("policy numbers are prefixed and padded", func(t *testing.T) {
		alloc, err := refnum.New(refnum.PolicyNumberConfig(), refnum.NewKVSequence(store))
		require.NoError(t, err)

		n, err := alloc.ConsumeForProduct(t.Context(), "t1", "home", "production")
		require.NoError(t, err)
		require.Equal(t, "POL-000001", n)

		n, err = alloc.ConsumeForProduct(t.Context(), "t1", "home", "production")
		require.NoError(t, err)
		require.Equal(t, "POL-000002", n)
	})

	t.Run("claim numbers", func(t *testing.T) {
		alloc, err := refnum.New(refnum.ClaimNumberConfig(), refnum.NewKVSequence(store))
		require.NoError(t, err)

		n, err := alloc.ConsumeForProduct(t.Context(), "t1", "home", "production")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(n, "CLM-"), n)
	})

	t.Run("crns are digits only", func(t *testing.T) {
		alloc, err := refnum.New(refnum.CRNConfig(), refnum.NewKVSequence(store))
		require.NoError(t, err)

		n, err := alloc.ConsumeForProduct(t.Context(), "t1", "home", "production")
		require.NoError(t, err)
		require.Len(t, n, 9)
		for _, r := range n {
			require.True(t, r >= '0' && r <= '9', n)
		}
	})
}

func TestAllocator_ScopesAreIndependent(t *testing.T) {
	store := kv.NewMemStore()
	alloc, err := refnum.New(refnum.PolicyNumberConfig(), refnum.NewKVSequence(store))
	require.NoError(t, err)

	a, err := alloc.ConsumeForProduct(t.Context(), "t1", "home", "production")
	require.NoError(t, err)
	b, err := alloc.ConsumeForProduct(t.Context(), "t2", "home", "production")
	require.NoError(t, err)
	c, err := alloc.ConsumeForProduct(t.Context(), "t1", "home", "staging")
	require.NoError(t, err)

	// each tenant+product+environment starts its own sequence
	require.Equal(t, "POL-000001", a)
	require.Equal(t, "POL-000001", b)
	require.Equal(t, "POL-000001", c)
}

func TestAllocator_ValidatesInput(t *testing.T) {
	alloc, err := refnum.New(refnum.CRNConfig(), refnum.NewKVSequence(kv.NewMemStore()))
	require.NoError(t, err)

	_, err = alloc.ConsumeForProduct(t.Context(), "", "home", "production")
	require.Error(t, err)

	_, err = refnum.New(refnum.Config{Method: refnum.MethodPrefixed}, refnum.NewKVSequence(kv.NewMemStore()))
	require.Error(t, err)
}

func TestAllocator_ConcurrentAllocationsAreDistinct(t *testing.T) {
	const n = 50

	store := kv.NewMemStore()
	alloc, err := refnum.New(refnum.CRNConfig(), refnum.NewKVSequence(store))
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
	)

	g, ctx := errgroup.WithContext(t.Context())
	for range n {
		g.Go(func() error {
			crn, err := alloc.ConsumeForProduct(ctx, "t1", "home", "production")
			if err != nil {
				return err
			}
			mu.Lock()
			seen[crn] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, seen, n)
}
