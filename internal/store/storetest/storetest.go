// Package storetest opens migrated in-memory stores for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"licensehub/internal/models"
	"licensehub/internal/store"
)

// DSN is a private in-memory sqlite database with foreign keys enforced.
const DSN = "file::memory:?_pragma=foreign_keys(1)&_time_format=sqlite"

// New returns a migrated store that is closed when t finishes.
func New(t testing.TB) *store.Store {
	t.Helper()
	db, err := store.Open("sqlite", DSN, zap.NewNop().Sugar())
	require.NoError(t, err)
	st := store.New(db)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// SeedUser creates a confirmed user with a password+refresh_token client.
func SeedUser(t testing.TB, st *store.Store, email, pw string) (*models.User, *models.Client) {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Email: email, UserName: email, Password: pw, EmailConfirmed: true}
	require.NoError(t, st.CreateUser(ctx, u))
	c := &models.Client{
		UserID:        u.ID,
		OAuthClientID: uuid.NewString(),
		ClientSecret:  uuid.NewString(),
		Grants:        models.StringList{models.GrantPassword, models.GrantRefreshToken},
	}
	require.NoError(t, st.CreateClient(ctx, c))
	return u, c
}
