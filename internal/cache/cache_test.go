package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handprint/pkg/contract"
)

func TestDoMemoizesSuccess(t *testing.T) {
	s := New()
	n := 0
	fn := func(context.Context) (contract.Result, error) {
		n++
		return contract.Result{"k": "v"}, nil
	}
	for i := 0; i < 3; i++ {
		res, err := s.Do(context.Background(), "img/a.jpg", fn)
		require.NoError(t, err)
		assert.Equal(t, "v", res["k"])
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Calls())
	assert.Equal(t, 1, s.Len())
}

func TestDoMemoizesFailure(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	n := 0
	fn := func(context.Context) (contract.Result, error) { n++; return nil, boom }
	_, err := s.Do(context.Background(), "a.jpg", fn)
	assert.ErrorIs(t, err, boom)
	_, err = s.Do(context.Background(), "a.jpg", fn)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestDoSkipsCancellation(t *testing.T) {
	s := New()
	n := 0
	fn := func(context.Context) (contract.Result, error) {
		n++
		if n == 1 {
			return nil, context.Canceled
		}
		return contract.Result{}, nil
	}
	_, err := s.Do(context.Background(), "a.jpg", fn)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Do(context.Background(), "a.jpg", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDoCanceledContextNoCall(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Do(ctx, "a.jpg", func(context.Context) (contract.Result, error) {
		t.Fatal("fn must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Calls())
}

func TestKeyEquivalentPaths(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, Key("a.jpg"), Key(filepath.Join(wd, "x", "..", "a.jpg")))
	assert.Equal(t, Key("./a.jpg"), Key("a.jpg"))
}

func TestDoConcurrentSingleCall(t *testing.T) {
	s := New()
	var mu sync.Mutex
	n := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Do(context.Background(), "same.jpg", func(context.Context) (contract.Result, error) {
				mu.Lock()
				n++
				mu.Unlock()
				return contract.Result{}, nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, n)
}
