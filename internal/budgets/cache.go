package budgets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

const summaryKeyPrefix = "quotes:summary:"

// SummaryCache keeps the last persisted summary of each budget in Redis.
// Without a client every call goes straight to the loader.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewSummaryCache instantiates the cache helper.
func NewSummaryCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SummaryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryCache{client: client, ttl: ttl, logger: logger}
}

func summaryKey(budgetID int64) string {
	return summaryKeyPrefix + strconv.FormatInt(budgetID, 10)
}

// Fetch returns the cached summary or loads and stores it. Concurrent misses
// for the same budget share a single load. Redis failures fall back to the
// loader.
func (c *SummaryCache) Fetch(ctx context.Context, budgetID int64, loader func(context.Context) (*pricing.BudgetSummary, error)) (*pricing.BudgetSummary, error) {
	if loader == nil {
		return nil, errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}

	key := summaryKey(budgetID)
	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var s pricing.BudgetSummary
		if err := json.Unmarshal(payload, &s); err == nil {
			return &s, nil
		}
		c.logger.Warn("discard undecodable cached summary", slog.Int64("budget_id", budgetID))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("summary cache read failed", slog.Int64("budget_id", budgetID), slog.Any("error", err))
		return loader(ctx)
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		s, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Store(ctx, budgetID, *s); err != nil {
			c.logger.Warn("summary cache write failed", slog.Int64("budget_id", budgetID), slog.Any("error", err))
		}
		return s, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*pricing.BudgetSummary), nil
	}
}

// Store writes the summary through to Redis.
func (c *SummaryCache) Store(ctx context.Context, budgetID int64, s pricing.BudgetSummary) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("cache: encode summary: %w", err)
	}
	return c.client.Set(ctx, summaryKey(budgetID), raw, c.ttl).Err()
}

// Invalidate drops the cached summary.
func (c *SummaryCache) Invalidate(ctx context.Context, budgetID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, summaryKey(budgetID)).Err()
}
