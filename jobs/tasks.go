package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBudgetEmail composes a budget PDF and emails it to a recipient.
	TaskBudgetEmail = "budget:email"
	// TaskSummaryWarmup loads the summaries of recently edited budgets into
	// the cache.
	TaskSummaryWarmup = "budget:summary_warmup"
)

// BudgetEmailPayload describes one budget email.
type BudgetEmailPayload struct {
	BudgetID   int64                        `json:"budget_id"`
	To         string                       `json:"to"`
	Visibility map[pricing.SectionKind]bool `json:"visibility,omitempty"`
}

// NewBudgetEmailTask constructs an Asynq task.
func NewBudgetEmailTask(payload BudgetEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBudgetEmail, data, asynq.MaxRetry(5), asynq.Timeout(2*time.Minute)), nil
}

// SummaryWarmupPayload selects the budgets to warm.
type SummaryWarmupPayload struct {
	Window time.Duration `json:"window"`
	Limit  int           `json:"limit"`
}

// NewSummaryWarmupTask constructs the warmup task.
func NewSummaryWarmupTask(window time.Duration, limit int) (*asynq.Task, error) {
	data, err := json.Marshal(SummaryWarmupPayload{Window: window, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSummaryWarmup, data), nil
}
