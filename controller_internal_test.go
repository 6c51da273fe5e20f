package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestController_CommitRequiresVerifiableState(t *testing.T) {
	ctx := context.Background()
	user := &User{ID: uuid.New(), Email: "late@example.com"}

	t.Run("plain store", func(t *testing.T) {
		store := &plainStore{values: map[string]any{}}
		c := NewController(InitialProps{Store: store}, nil, WithLogger(NewZapLogger(nil)))
		c.generation = 1

		state := c.commit(ctx, 1, StateVerifying, user, nil, 0)

		assert.Equal(t, StateAnonymous, state)
		assert.Nil(t, c.User())
		assert.Nil(t, store.Get(UserKey), "a refused commit never writes the store")
	})

	t.Run("versioned store", func(t *testing.T) {
		store := NewMemoryStore(nil)
		c := NewController(InitialProps{Store: store}, nil, WithLogger(NewZapLogger(nil)))
		c.generation = 1

		state := c.commit(ctx, 1, StateVerifying, user, store, 0)

		assert.Equal(t, StateAnonymous, state)
		assert.Nil(t, store.Get(UserKey))
		assert.Zero(t, store.Version(UserKey))
	})
}

type plainStore struct {
	values map[string]any
}

func (s *plainStore) Get(key string) any { return s.values[key] }

func (s *plainStore) Set(key string, value any) { s.values[key] = value }
