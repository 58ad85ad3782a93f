// Package counts keeps per-column entity counts of every board in Redis.
// They back badges outside the board and are refreshed from the record
// store after each successful commit.
package counts

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

const (
	fieldUnknown     = "_unknown"
	fieldTotal       = "_total"
	fieldRefreshedAt = "_refreshedAt"
)

// Summary is the aggregate view of one board.
type Summary struct {
	Kind        domain.Kind           `json:"kind"`
	Scope       string                `json:"scope"`
	Columns     map[domain.Status]int `json:"columns"`
	Unknown     int                   `json:"unknown,omitempty"`
	Total       int                   `json:"total"`
	RefreshedAt int64                 `json:"refreshedAt"`
}

// Querier is the read side of the record store.
type Querier interface {
	Query(ctx context.Context, filter domain.Filter) ([]domain.Entity, error)
}

type Refresher struct {
	store Querier
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

func NewRefresher(store Querier, client *redis.Client, ttl time.Duration) *Refresher {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Refresher{store: store, redis: client, ttl: ttl, now: time.Now}
}

// Refresh recounts filter from the store and replaces the cached hash.
func (r *Refresher) Refresh(ctx context.Context, filter domain.Filter) (Summary, error) {
	layout, err := domain.LayoutFor(filter.Kind)
	if err != nil {
		return Summary{}, err
	}
	items, err := r.store.Query(ctx, filter)
	if err != nil {
		return Summary{}, fmt.Errorf("count %s: %w", filter, err)
	}
	view := domain.Project(layout, items)
	s := Summary{
		Kind:        filter.Kind,
		Scope:       filter.Scope,
		Columns:     make(map[domain.Status]int, len(view.Columns)),
		Unknown:     len(view.Unknown),
		Total:       len(items),
		RefreshedAt: r.now().UnixMilli(),
	}
	fields := make(map[string]any, len(view.Columns)+3)
	for _, c := range view.Columns {
		s.Columns[c.Status] = len(c.Items)
		fields[string(c.Status)] = len(c.Items)
	}
	fields[fieldUnknown] = s.Unknown
	fields[fieldTotal] = s.Total
	fields[fieldRefreshedAt] = s.RefreshedAt

	key := countsKey(filter)
	_, err = r.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fields)
		p.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("store counts %s: %w", filter, err)
	}
	return s, nil
}

// Load returns the cached summary of filter, refreshing it when missing.
func (r *Refresher) Load(ctx context.Context, filter domain.Filter) (Summary, error) {
	layout, err := domain.LayoutFor(filter.Kind)
	if err != nil {
		return Summary{}, err
	}
	raw, err := r.redis.HGetAll(ctx, countsKey(filter)).Result()
	if err != nil || len(raw) == 0 {
		return r.Refresh(ctx, filter)
	}
	s := Summary{Kind: filter.Kind, Scope: filter.Scope, Columns: make(map[domain.Status]int, len(raw))}
	for _, col := range layout.Columns() {
		n, err := strconv.Atoi(raw[string(col)])
		if err != nil {
			return r.Refresh(ctx, filter)
		}
		s.Columns[col] = n
	}
	s.Unknown, _ = strconv.Atoi(raw[fieldUnknown])
	s.Total, _ = strconv.Atoi(raw[fieldTotal])
	s.RefreshedAt, _ = strconv.ParseInt(raw[fieldRefreshedAt], 10, 64)
	return s, nil
}

func countsKey(filter domain.Filter) string {
	return "counts:" + filter.String()
}
