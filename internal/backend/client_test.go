package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identitysync/internal/session"
	"identitysync/internal/users"
)

func TestCurrentUserSendsFreshTokenPerRequest(t *testing.T) {
	id := uuid.New()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/me", r.URL.Path)
		seen = append(seen, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(users.User{ID: id, SubjectID: "u1", Email: "a@b.com"})
	}))
	defer srv.Close()

	var n atomic.Int32
	c := New(srv.URL)
	c.SetAuth(func(ctx context.Context) (string, error) {
		if n.Add(1) == 1 {
			return "first", nil
		}
		return "second", nil
	})
	assert.True(t, c.Authenticated())

	for i := 0; i < 2; i++ {
		user, err := c.CurrentUser(context.Background())
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "u1", user.SubjectID)
	}
	assert.Equal(t, []string{"Bearer first", "Bearer second"}, seen)
}

func TestClearAuthMakesRequestsAnonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetAuth(func(ctx context.Context) (string, error) { return "tok", nil })

	_, err := c.CurrentUser(context.Background())
	require.ErrorIs(t, err, ErrNotSynced)

	c.ClearAuth()
	assert.False(t, c.Authenticated())
	_, err = c.CurrentUser(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestProviderFailureFailsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetAuth(func(ctx context.Context) (string, error) { return "", errors.New("expired session") })

	_, err := c.CurrentUser(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired session")
	assert.Zero(t, hits.Load())
}

func TestClientSatisfiesSessionPort(t *testing.T) {
	var _ session.AuthClient = New("http://localhost")
}
