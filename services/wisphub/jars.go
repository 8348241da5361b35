package wisphub

import (
	"context"
	"fmt"
	"sync"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/kvstore"

	"go.opentelemetry.io/otel/codes"
)

// jarStore persists one cookie jar per account. every merge is a read,
// merge, write cycle under a lock so that concurrent requests for the same
// account never drop each other's cookies.
type jarStore struct {
	store kvstore.Store
	lock  sync.Mutex
}

func (s *jarStore) load(ctx context.Context, account string) (cookies.Jar, bool, error) {
	var jar cookies.Jar
	found, err := s.store.Read(ctx, jarKey(account), &jar)
	if err != nil {
		return nil, false, fmt.Errorf("read cookie jar of %q: %w", account, err)
	}
	return jar, found, nil
}

// merge layers the persisted jar over base and the received cookies over
// both, persists the result and returns it.
func (s *jarStore) merge(ctx context.Context, account string, base, received cookies.Jar) (cookies.Jar, error) {
	ctx, span := tracer.Start(ctx, "jars:merge")
	defer span.End()

	s.lock.Lock()
	defer s.lock.Unlock()

	persisted, _, err := s.load(ctx, account)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load jar")
		return nil, err
	}
	jar := cookies.Merge(cookies.Merge(base, persisted), received)

	err = s.store.Write(ctx, jarKey(account), jar)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist jar")
		return nil, fmt.Errorf("write cookie jar of %q: %w", account, err)
	}
	return jar, nil
}
