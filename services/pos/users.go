package pos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"wisppos-backend/lib/kvstore"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"
)

// WispHubAccount is the portal account a point of sale sells through.
type WispHubAccount struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	PointOfSaleName string `json:"pointOfSaleName"`
}

// User is a point of sale operator. the json layout is the one the data
// store has always used.
type User struct {
	Username                string         `json:"username"`
	PasswordHash            string         `json:"password"`
	PointOfSaleFriendlyName string         `json:"pointOfSaleFriendlyName"`
	WispHub                 WispHubAccount `json:"wispHub"`
}

var ErrUserNotFound = errors.New("user not found")

const userKeySuffix = "-user"

func userKey(username string) string {
	return normalizeUsername(username) + userKeySuffix
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (u User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// UserStore reads users from the key/value store through a short lived
// cache, every authenticated request needs its user.
type UserStore struct {
	store kvstore.Store
	cache *expirable.LRU[string, User]
}

func NewUserStore(store kvstore.Store) UserStore {
	return UserStore{
		store: store,
		cache: expirable.NewLRU[string, User](512, nil, time.Minute*5),
	}
}

func (s UserStore) Get(ctx context.Context, username string) (User, error) {
	key := userKey(username)
	cached, hit := s.cache.Get(key)
	if hit {
		return cached, nil
	}

	var user User
	found, err := s.store.Read(ctx, key, &user)
	if err != nil {
		return User{}, err
	}
	if !found {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, username)
	}
	if user.Username == "" {
		user.Username = normalizeUsername(username)
	}

	s.cache.Add(key, user)
	return user, nil
}

func (s UserStore) Put(ctx context.Context, user User) error {
	user.Username = normalizeUsername(user.Username)
	key := userKey(user.Username)
	err := s.store.Write(ctx, key, user)
	if err != nil {
		return err
	}
	s.cache.Remove(key)
	return nil
}

// List returns every registered user sorted by username, the store must be
// able to enumerate its keys.
func (s UserStore) List(ctx context.Context) ([]User, error) {
	lister, ok := s.store.(kvstore.Lister)
	if !ok {
		return nil, fmt.Errorf("store %T cannot list its keys", s.store)
	}
	keys, err := lister.Keys(ctx, "", userKeySuffix)
	if err != nil {
		return nil, err
	}

	users := make([]User, 0, len(keys))
	for _, key := range keys {
		user, err := s.Get(ctx, strings.TrimSuffix(key, userKeySuffix))
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}
