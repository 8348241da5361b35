package pos

import (
	"context"
	"fmt"
	"sync"
	"time"
	"wisppos-backend/lib/kvstore"

	"github.com/google/uuid"
)

// HistoryEntry is a voucher created through a point of sale.
type HistoryEntry struct {
	Id      string    `json:"id"`
	Code    string    `json:"code"`
	TaskId  string    `json:"task_id,omitempty"`
	PlanId  string    `json:"plan_id,omitempty"`
	AddedOn time.Time `json:"added_on"`
}

func historyKey(username string) string {
	return fmt.Sprintf("%s-access-code", normalizeUsername(username))
}

// History is the per user log of created vouchers.
type History struct {
	store kvstore.Store
	lock  *sync.Mutex
}

func NewHistory(store kvstore.Store) History {
	return History{store: store, lock: &sync.Mutex{}}
}

func (h History) read(ctx context.Context, username string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	_, err := h.store.Read(ctx, historyKey(username), &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (h History) Append(ctx context.Context, username string, entry HistoryEntry) (HistoryEntry, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if entry.Id == "" {
		entry.Id = uuid.NewString()
	}
	entries, err := h.read(ctx, username)
	if err != nil {
		return HistoryEntry{}, err
	}
	entries = append(entries, entry)
	err = h.store.Write(ctx, historyKey(username), entries)
	if err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}

// Between returns the entries added within [start, end], both inclusive.
func (h History) Between(ctx context.Context, username string, start, end time.Time) ([]HistoryEntry, error) {
	entries, err := h.read(ctx, username)
	if err != nil {
		return nil, err
	}
	out := []HistoryEntry{}
	for _, e := range entries {
		if e.AddedOn.Before(start) || e.AddedOn.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (h History) Count(ctx context.Context, username string, start, end time.Time) (int, error) {
	entries, err := h.Between(ctx, username, start, end)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
