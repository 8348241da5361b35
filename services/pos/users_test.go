package pos

import (
	"context"
	"errors"
	"testing"
	"time"
	"wisppos-backend/lib/kvstore"
	"wisppos-backend/services/wisphub"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	users := NewUserStore(store)

	_, err := users.Get(ctx, "cajero")
	require.ErrorIs(t, err, ErrUserNotFound)

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", hash)

	err = users.Put(ctx, User{Username: " Cajero ", PasswordHash: hash})
	require.NoError(t, err)

	user, err := users.Get(ctx, "CAJERO")
	require.NoError(t, err)
	require.Equal(t, "cajero", user.Username)
	require.True(t, user.CheckPassword("hunter2"))
	require.False(t, user.CheckPassword("hunter3"))

	// writes evict the cached copy
	user.PointOfSaleFriendlyName = "Centro"
	err = users.Put(ctx, user)
	require.NoError(t, err)
	user, err = users.Get(ctx, "cajero")
	require.NoError(t, err)
	require.Equal(t, "Centro", user.PointOfSaleFriendlyName)

	err = users.Put(ctx, User{Username: "Abarrotes", PasswordHash: hash})
	require.NoError(t, err)
	err = store.Write(ctx, "cajero-access-code", []HistoryEntry{})
	require.NoError(t, err)

	list, err := users.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "abarrotes", list[0].Username)
	require.Equal(t, "cajero", list[1].Username)
}

type readOnlyStore struct {
	kvstore.Store
}

func TestUserStoreListNeedsLister(t *testing.T) {
	users := NewUserStore(readOnlyStore{kvstore.NewMemoryStore()})
	_, err := users.List(context.Background())
	require.Error(t, err)
}

func TestUserJsonLayout(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	err := store.Write(ctx, "tienda-user", map[string]any{
		"password":                "$2a$10$invalid",
		"pointOfSaleFriendlyName": "Tienda",
		"wispHub": map[string]any{
			"username":        "tienda@company",
			"password":        "portal",
			"pointOfSaleName": "Outlet-7",
		},
	})
	require.NoError(t, err)

	user, err := NewUserStore(store).Get(ctx, "tienda")
	require.NoError(t, err)
	require.Equal(t, User{
		Username:                "tienda",
		PasswordHash:            "$2a$10$invalid",
		PointOfSaleFriendlyName: "Tienda",
		WispHub: WispHubAccount{
			Username:        "tienda@company",
			Password:        "portal",
			PointOfSaleName: "Outlet-7",
		},
	}, user)
}

func TestTokenIssuer(t *testing.T) {
	now := time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer("secret", time.Hour)
	issuer.now = func() time.Time { return now }

	token, err := issuer.Issue(Claims{
		Username:        "cajero",
		PointOfSaleName: "Outlet-7",
		AvailablePlans:  []wisphub.Plan{{Id: "101", Name: "Plan A"}},
	})
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "cajero", claims.Username)
	require.Equal(t, "cajero", claims.Subject)
	require.Equal(t, "Outlet-7", claims.PointOfSaleName)
	require.Len(t, claims.AvailablePlans, 1)
	require.Equal(t, now.Add(time.Hour), claims.ExpiresAt.Time.UTC())

	testCases := []struct {
		name  string
		token func() string
		now   time.Time
	}{
		{
			name:  "expired",
			token: func() string { return token },
			now:   now.Add(2 * time.Hour),
		},
		{
			name: "other secret",
			token: func() string {
				other := NewTokenIssuer("other", time.Hour)
				other.now = func() time.Time { return now }
				raw, err := other.Issue(Claims{Username: "cajero"})
				require.NoError(t, err)
				return raw
			},
			now: now,
		},
		{
			name: "unsigned",
			token: func() string {
				raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "cajero"}).
					SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return raw
			},
			now: now,
		},
		{
			name: "no username",
			token: func() string {
				raw, err := issuer.Issue(Claims{})
				require.NoError(t, err)
				return raw
			},
			now: now,
		},
		{
			name:  "garbage",
			token: func() string { return "not.a.token" },
			now:   now,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			raw := test.token()
			parser := issuer
			parser.now = func() time.Time { return test.now }
			_, err := parser.Parse(raw)
			require.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	history := NewHistory(kvstore.NewMemoryStore())
	base := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

	for i, code := range []string{"A", "B", "C", "D"} {
		entry, err := history.Append(ctx, "Cajero", HistoryEntry{
			Code:    code,
			AddedOn: base.Add(time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
		require.NotEmpty(t, entry.Id)
	}
	entry, err := history.Append(ctx, "cajero", HistoryEntry{Id: "fixed", Code: "E", AddedOn: base.AddDate(0, 1, 0)})
	require.NoError(t, err)
	require.Equal(t, "fixed", entry.Id)

	entries, err := history.Between(ctx, "cajero", base.Add(24*time.Hour), base.Add(72*time.Hour))
	require.NoError(t, err)
	var codes []string
	for _, e := range entries {
		codes = append(codes, e.Code)
	}
	require.Equal(t, []string{"B", "C", "D"}, codes)
	require.NotEqual(t, entries[0].Id, entries[1].Id)

	count, err := history.Count(ctx, "CAJERO", base, base.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.Equal(t, 5, count)

	entries, err = history.Between(ctx, "nadie", base, base.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.NotNil(t, entries)
	require.Empty(t, entries)
}
