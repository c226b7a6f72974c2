package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-quotes/internal/jobs"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

const (
	defaultWarmupWindow = 72 * time.Hour
	defaultWarmupLimit  = 200
)

// SummarySource lists recently edited budgets and loads their summaries
// through the cache.
type SummarySource interface {
	RecentIDs(ctx context.Context, since time.Time, limit int) ([]int64, error)
	Summary(ctx context.Context, id int64) (*pricing.BudgetSummary, error)
}

// SummaryWarmupJob pre-populates the summary cache for recently edited
// budgets so list and dashboard reads after a deploy or cache flush hit Redis.
type SummaryWarmupJob struct {
	Budgets SummarySource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSummaryWarmupJob wires dependencies for the warmup handler.
func NewSummaryWarmupJob(budgets SummarySource, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryWarmupJob {
	return &SummaryWarmupJob{
		Budgets: budgets,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes summary warmup tasks.
func (j *SummaryWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Budgets == nil {
		return errors.New("summary warmup: handler not configured")
	}
	var payload SummaryWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Window <= 0 {
		payload.Window = defaultWarmupWindow
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultWarmupLimit
	}

	tracker := j.metrics().Track(TaskSummaryWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Duration("window", payload.Window))
	now := j.now()

	ids, err := j.Budgets.RecentIDs(ctx, now.Add(-payload.Window), payload.Limit)
	if err != nil {
		resultErr = err
		logger.Error("list recent budgets", slog.Any("error", err))
		return resultErr
	}
	if len(ids) == 0 {
		logger.Info("no budgets to warm")
		return resultErr
	}

	warmed := 0
	for _, id := range ids {
		// A slow budget must not stall the whole batch.
		budgetCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := j.Budgets.Summary(budgetCtx, id)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				resultErr = ctx.Err()
				return resultErr
			}
			logger.Warn("warm summary", slog.Int64("budget_id", id), slog.Any("error", err))
			continue
		}
		warmed++
	}
	j.metrics().AddWarmed(warmed)

	logger.Info("completed summary warmup", slog.Int("budgets", warmed), slog.Duration("duration", time.Since(now)))
	return resultErr
}

func (j *SummaryWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSummaryWarmup))
	}
	return slog.Default().With(slog.String("job", TaskSummaryWarmup))
}

func (j *SummaryWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SummaryWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
