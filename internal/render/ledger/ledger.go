// Package ledger tracks tabs the service has opened and not yet seen closed,
// so tabs abandoned by a failed close can be reclaimed later.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Entry is one open tab.
type Entry struct {
	TabID     string    `json:"-"`
	RequestID string    `json:"request_id"`
	OpenedAt  time.Time `json:"opened_at"`
}

// Ledger records open tabs. Implementations must be safe for concurrent use.
type Ledger interface {
	Record(ctx context.Context, e Entry) error
	Forget(ctx context.Context, tabID string) error
	// Stale returns entries opened more than olderThan ago, oldest first.
	Stale(ctx context.Context, olderThan time.Duration) ([]Entry, error)
}

// NopLedger is used when tab tracking is disabled.
type NopLedger struct{}

func (NopLedger) Record(context.Context, Entry) error {
	return nil
}

func (NopLedger) Forget(context.Context, string) error {
	return nil
}

func (NopLedger) Stale(context.Context, time.Duration) ([]Entry, error) {
	return nil, nil
}

// HashStore is the subset of the Redis client the ledger uses.
type HashStore interface {
	HSet(ctx context.Context, key string, values ...interface{}) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// RedisLedger keeps entries in the hash "tabs:{service_id}", one field per tab.
type RedisLedger struct {
	store   HashStore
	tabsKey string
	logger  *zap.Logger
	now     func() time.Time
}

func NewRedisLedger(store HashStore, serviceID string, logger *zap.Logger) *RedisLedger {
	return &RedisLedger{
		store:   store,
		tabsKey: TabsKey(serviceID),
		logger:  logger,
		now:     time.Now,
	}
}

// TabsKey returns the hash key for a service's open tabs.
func TabsKey(serviceID string) string {
	return fmt.Sprintf("tabs:%s", serviceID)
}

func (l *RedisLedger) Record(ctx context.Context, e Entry) error {
	if e.OpenedAt.IsZero() {
		e.OpenedAt = l.now()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	if err := l.store.HSet(ctx, l.tabsKey, e.TabID, string(value)); err != nil {
		return fmt.Errorf("failed to record tab %s: %w", e.TabID, err)
	}
	return nil
}

func (l *RedisLedger) Forget(ctx context.Context, tabID string) error {
	if err := l.store.HDel(ctx, l.tabsKey, tabID); err != nil {
		return fmt.Errorf("failed to forget tab %s: %w", tabID, err)
	}
	return nil
}

func (l *RedisLedger) Stale(ctx context.Context, olderThan time.Duration) ([]Entry, error) {
	fields, err := l.store.HGetAll(ctx, l.tabsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}

	cutoff := l.now().Add(-olderThan)
	stale := make([]Entry, 0, len(fields))
	for tabID, raw := range fields {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// Unreadable entries are treated as stale so they get reclaimed.
			l.logger.Warn("Invalid ledger entry",
				zap.String("tab_id", tabID),
				zap.Error(err))
			stale = append(stale, Entry{TabID: tabID})
			continue
		}
		e.TabID = tabID
		if e.OpenedAt.Before(cutoff) {
			stale = append(stale, e)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].OpenedAt.Before(stale[j].OpenedAt)
	})
	return stale, nil
}
