package loam_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamdb/loam"
)

func TestMemoryCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("GetSet", func(t *testing.T) {
		c := loam.NewMemoryCache()
		v, err := c.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, v)

		require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
		v, err = c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
	})

	t.Run("Expiry", func(t *testing.T) {
		c := loam.NewMemoryCache()
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
		time.Sleep(5 * time.Millisecond)
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("Delete", func(t *testing.T) {
		c := loam.NewMemoryCache()
		require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
		require.NoError(t, c.Delete(ctx, "k"))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("DeletePrefix", func(t *testing.T) {
		c := loam.NewMemoryCache()
		require.NoError(t, c.Set(ctx, "users:a", []byte("1"), 0))
		require.NoError(t, c.Set(ctx, "users:b", []byte("2"), 0))
		require.NoError(t, c.Set(ctx, "posts:a", []byte("3"), 0))
		require.NoError(t, c.DeletePrefix(ctx, "users:"))

		v, err := c.Get(ctx, "users:a")
		require.NoError(t, err)
		assert.Nil(t, v)
		v, err = c.Get(ctx, "posts:a")
		require.NoError(t, err)
		assert.Equal(t, []byte("3"), v)
	})

	t.Run("Clear", func(t *testing.T) {
		c := loam.NewMemoryCache()
		require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
		require.NoError(t, c.Clear(ctx))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}

func TestCachedReads(t *testing.T) {
	ctx := context.Background()

	t.Run("ServesRepeatedReads", func(t *testing.T) {
		client, drv := newTestEnv(t, loam.WithCache(loam.NewMemoryCache(), time.Minute))
		users := model(t, client, "User")
		seedUsers(t, users)

		first, err := users.FindAll(ctx, nil)
		require.NoError(t, err)
		require.Len(t, first, 4)

		// A write that bypasses the mapping layer is invisible to the
		// cached read.
		err = drv.Exec(ctx, "INSERT INTO users (email) VALUES (?)", []any{"ghost@example.com"}, nil)
		require.NoError(t, err)

		second, err := users.FindAll(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, second, 4)
	})

	t.Run("MutationsInvalidate", func(t *testing.T) {
		client := newTestClient(t, loam.WithCache(loam.NewMemoryCache(), time.Minute))
		users := model(t, client, "User")
		seedUsers(t, users)

		first, err := users.FindAll(ctx, nil)
		require.NoError(t, err)
		require.Len(t, first, 4)

		_, err = users.Create(ctx, loam.Record{"email": "fresh@example.com"})
		require.NoError(t, err)

		second, err := users.FindAll(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, second, 5)
	})

	t.Run("TransactionsBypassCache", func(t *testing.T) {
		client := newTestClient(t, loam.WithCache(loam.NewMemoryCache(), time.Minute))
		users := model(t, client, "User")
		seedUsers(t, users)

		// Warm the cache.
		_, err := users.FindAll(ctx, nil)
		require.NoError(t, err)

		err = client.WithTx(ctx, func(ctx context.Context) error {
			if _, err := users.Create(ctx, loam.Record{"email": "tx@example.com"}); err != nil {
				return err
			}
			// The read inside the transaction observes its own write.
			rows, err := users.FindAll(ctx, nil)
			if err != nil {
				return err
			}
			assert.Len(t, rows, 5)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("CachedValuesSurviveEncoding", func(t *testing.T) {
		client := newTestClient(t, loam.WithCache(loam.NewMemoryCache(), time.Minute))
		users := model(t, client, "User")
		seedUsers(t, users)

		first, err := users.FindAll(ctx, &loam.Query{Where: loam.EQ("email", "ada@example.com")})
		require.NoError(t, err)
		second, err := users.FindAll(ctx, &loam.Query{Where: loam.EQ("email", "ada@example.com")})
		require.NoError(t, err)

		require.Len(t, first, 1)
		require.Len(t, second, 1)
		assert.Equal(t, first[0]["email"], second[0]["email"])
		assert.EqualValues(t, first[0]["age"], second[0]["age"])
		assert.EqualValues(t, first[0]["score"], second[0]["score"])
	})
}
