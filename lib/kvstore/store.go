package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"wisppos-backend/lib/telemetry"
)

var tracer = telemetry.Tracer("wisppos.lib.kvstore")

// Store is the persistence boundary used by the portal client and the point
// of sale layer. values are opaque json documents.
type Store interface {
	// Read decodes the value under key into out. found is false (and out is
	// left untouched) when nothing has been written under key.
	Read(ctx context.Context, key string, out any) (found bool, err error)
	// Write replaces the value under key with value.
	Write(ctx context.Context, key string, value any) error
}

// Lister is implemented by stores that can enumerate their keys, the monthly
// cut uses it to find every registered point of sale.
type Lister interface {
	Keys(ctx context.Context, prefix, suffix string) ([]string, error)
}

var ErrUnknownDriver = errors.New("unknown store driver")

func encode(key string, value any) ([]byte, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", key, err)
	}
	return serialized, nil
}

func decode(key string, serialized []byte, out any) error {
	err := json.Unmarshal(serialized, out)
	if err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}
