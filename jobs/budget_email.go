package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-quotes/internal/export"
	jobmetrics "github.com/odyssey-erp/odyssey-quotes/internal/jobs"
	"github.com/odyssey-erp/odyssey-quotes/internal/mail"
	"github.com/odyssey-erp/odyssey-quotes/internal/platform/httpx"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BudgetComposer builds the printable document of a budget.
type BudgetComposer interface {
	Compose(ctx context.Context, id int64, opts export.PrintOptions) (export.Document, error)
}

// BudgetEmailJob renders a budget as PDF and mails it.
type BudgetEmailJob struct {
	Budgets  BudgetComposer
	Exporter *export.Exporter
	Mailer   mail.Sender
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewBudgetEmailJob wires dependencies for the email handler.
func NewBudgetEmailJob(budgets BudgetComposer, exporter *export.Exporter, mailer mail.Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *BudgetEmailJob {
	return &BudgetEmailJob{
		Budgets:  budgets,
		Exporter: exporter,
		Mailer:   mailer,
		Logger:   logger,
		Metrics:  metrics,
	}
}

// Handle processes budget email tasks. Payloads that can never succeed are
// not retried.
func (j *BudgetEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Budgets == nil || j.Exporter == nil || j.Mailer == nil {
		return errors.New("budget email: handler not configured")
	}
	var payload BudgetEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	payload.To = strings.TrimSpace(payload.To)
	if payload.BudgetID <= 0 || payload.To == "" {
		j.metrics().AddEmail("dropped")
		return fmt.Errorf("budget email: invalid payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskBudgetEmail)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("budget_id", payload.BudgetID))

	doc, err := j.Budgets.Compose(ctx, payload.BudgetID, export.PrintOptions{Visibility: payload.Visibility})
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			logger.Warn("budget vanished before email", slog.Any("error", err))
			j.metrics().AddEmail("dropped")
			resultErr = fmt.Errorf("budget email: %v: %w", err, asynq.SkipRetry)
			return resultErr
		}
		resultErr = fmt.Errorf("budget email: compose: %w", err)
		return resultErr
	}

	file, err := j.Exporter.Render(ctx, doc, export.FormatPDF)
	if err != nil {
		resultErr = fmt.Errorf("budget email: render pdf: %w", err)
		return resultErr
	}
	body, err := export.RenderEmail(doc)
	if err != nil {
		resultErr = fmt.Errorf("budget email: render body: %w", err)
		return resultErr
	}

	msg := mail.Message{
		To:      payload.To,
		Subject: body.Subject,
		Text:    body.Text,
		HTML:    body.HTML,
		Attachments: []mail.Attachment{{
			Filename:    file.Name,
			ContentType: file.ContentType,
			Data:        file.Data,
		}},
	}
	if strings.EqualFold(payload.To, doc.Snapshot.CustomerEmail) {
		msg.ToName = doc.Snapshot.CustomerName
	}
	if err := j.Mailer.Send(ctx, msg); err != nil {
		j.metrics().AddEmail("failed")
		logger.Error("send budget email", slog.Any("error", err))
		resultErr = fmt.Errorf("budget email: send: %w", err)
		return resultErr
	}

	j.metrics().AddEmail("sent")
	logger.Info("budget email sent", slog.String("attachment", file.Name), slog.Int("bytes", len(file.Data)))
	return resultErr
}

func (j *BudgetEmailJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBudgetEmail))
	}
	return slog.Default().With(slog.String("job", TaskBudgetEmail))
}

func (j *BudgetEmailJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
