package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-quotes/internal/export"
	jobmetrics "github.com/odyssey-erp/odyssey-quotes/internal/jobs"
	"github.com/odyssey-erp/odyssey-quotes/internal/mail"
	"github.com/odyssey-erp/odyssey-quotes/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
	_ "github.com/odyssey-erp/odyssey-quotes/testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeComposer struct {
	err  error
	opts export.PrintOptions
}

func (f *fakeComposer) Compose(_ context.Context, id int64, opts export.PrintOptions) (export.Document, error) {
	if f.err != nil {
		return export.Document{}, f.err
	}
	f.opts = opts
	snap := export.Snapshot{
		BudgetID:      id,
		Number:        "P-2026-001",
		CustomerName:  "Ada Byron",
		CustomerEmail: "ada@example.com",
		Currency:      "EUR",
		IssuedAt:      time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Sections: []export.Section{
			{Kind: pricing.SectionBlocks, RawTotal: 100, Visible: true},
			{Kind: pricing.SectionSimpleBlock, RawTotal: 50, Visible: false},
		},
		VATPercentage: 21,
	}
	return export.NewComposer("Odyssey Works", discardLogger(), nil).Compose(snap, opts), nil
}

type failingSender struct{}

func (failingSender) Send(context.Context, mail.Message) error {
	return errors.New("smtp unavailable")
}

func newEmailJob(composer BudgetComposer, sender mail.Sender) *BudgetEmailJob {
	return NewBudgetEmailJob(
		composer,
		export.NewExporter(nil, nil, discardLogger()),
		sender,
		discardLogger(),
		jobmetrics.NewMetrics(prometheus.NewRegistry()),
	)
}

func emailTask(t *testing.T, payload BudgetEmailPayload) *asynq.Task {
	t.Helper()
	task, err := NewBudgetEmailTask(payload)
	require.NoError(t, err)
	return task
}

func TestBudgetEmailJobSendsPDF(t *testing.T) {
	composer := &fakeComposer{}
	outbox := &mail.InMemory{}
	job := newEmailJob(composer, outbox)

	task := emailTask(t, BudgetEmailPayload{
		BudgetID:   1,
		To:         " ada@example.com ",
		Visibility: map[pricing.SectionKind]bool{pricing.SectionSimpleBlock: true},
	})
	require.NoError(t, job.Handle(context.Background(), task))

	assert.True(t, composer.opts.Visibility[pricing.SectionSimpleBlock], "print overrides reach the composer")

	sent := outbox.Outbox()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Ada Byron", msg.ToName)
	assert.Equal(t, "Quote P-2026-001 from Odyssey Works", msg.Subject)
	assert.Contains(t, msg.HTML, "P-2026-001")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "P-2026-001.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.True(t, bytes.HasPrefix(msg.Attachments[0].Data, []byte("%PDF-")))
}

func TestBudgetEmailJobOtherRecipientHasNoName(t *testing.T) {
	outbox := &mail.InMemory{}
	job := newEmailJob(&fakeComposer{}, outbox)

	require.NoError(t, job.Handle(context.Background(), emailTask(t, BudgetEmailPayload{BudgetID: 1, To: "ops@example.com"})))
	sent := outbox.Outbox()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].ToName)
}

func TestBudgetEmailJobSkipsRetryForBadInput(t *testing.T) {
	job := newEmailJob(&fakeComposer{}, &mail.InMemory{})

	err := job.Handle(context.Background(), asynq.NewTask(TaskBudgetEmail, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), emailTask(t, BudgetEmailPayload{BudgetID: 1}))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), emailTask(t, BudgetEmailPayload{To: "ada@example.com"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	missing := newEmailJob(&fakeComposer{err: fmt.Errorf("budget %w", httpx.ErrNotFound)}, &mail.InMemory{})
	err = missing.Handle(context.Background(), emailTask(t, BudgetEmailPayload{BudgetID: 9, To: "ada@example.com"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestBudgetEmailJobRetriesTransientErrors(t *testing.T) {
	job := newEmailJob(&fakeComposer{err: errors.New("db timeout")}, &mail.InMemory{})
	err := job.Handle(context.Background(), emailTask(t, BudgetEmailPayload{BudgetID: 1, To: "ada@example.com"}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	job = newEmailJob(&fakeComposer{}, failingSender{})
	err = job.Handle(context.Background(), emailTask(t, BudgetEmailPayload{BudgetID: 1, To: "ada@example.com"}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), "smtp unavailable")

	var unset *BudgetEmailJob
	assert.Error(t, unset.Handle(context.Background(), emailTask(t, BudgetEmailPayload{BudgetID: 1, To: "x@example.com"})))
}

type fakeEnqueuer struct {
	task *asynq.Task
	err  error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.task = task
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientEnqueueBudgetEmail(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)

	id, err := client.EnqueueBudgetEmail(context.Background(), 4, "ada@example.com", map[pricing.SectionKind]bool{pricing.SectionItems: false})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	require.NotNil(t, enq.task)
	assert.Equal(t, TaskBudgetEmail, enq.task.Type())

	var payload BudgetEmailPayload
	require.NoError(t, json.Unmarshal(enq.task.Payload(), &payload))
	assert.Equal(t, int64(4), payload.BudgetID)
	assert.Equal(t, "ada@example.com", payload.To)
	v, ok := payload.Visibility[pricing.SectionItems]
	assert.True(t, ok)
	assert.False(t, v)

	enq.err = errors.New("redis down")
	_, err = client.EnqueueBudgetEmail(context.Background(), 4, "ada@example.com", nil)
	assert.ErrorIs(t, err, httpx.ErrUnavailable)
	assert.NoError(t, client.Close())
}

type fakeSummarySource struct {
	ids     []int64
	since   time.Time
	limit   int
	failing map[int64]bool
	loaded  []int64
}

func (f *fakeSummarySource) RecentIDs(_ context.Context, since time.Time, limit int) ([]int64, error) {
	f.since, f.limit = since, limit
	return f.ids, nil
}

func (f *fakeSummarySource) Summary(_ context.Context, id int64) (*pricing.BudgetSummary, error) {
	if f.failing[id] {
		return nil, errors.New("boom")
	}
	f.loaded = append(f.loaded, id)
	return &pricing.BudgetSummary{}, nil
}

func TestSummaryWarmupJob(t *testing.T) {
	now := time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)
	src := &fakeSummarySource{ids: []int64{3, 2, 1}, failing: map[int64]bool{2: true}}
	job := NewSummaryWarmupJob(src, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return now }

	task, err := NewSummaryWarmupTask(24*time.Hour, 50)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, now.Add(-24*time.Hour), src.since)
	assert.Equal(t, 50, src.limit)
	assert.Equal(t, []int64{3, 1}, src.loaded, "one failing budget does not stop the batch")

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskSummaryWarmup, nil)))
	assert.Equal(t, defaultWarmupLimit, src.limit)
	assert.Equal(t, now.Add(-defaultWarmupWindow), src.since)

	assert.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskSummaryWarmup, []byte("nope"))), asynq.SkipRetry)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestHandlerHealth(t *testing.T) {
	tests := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{name: "no inspector", status: http.StatusOK},
		{name: "queue info", inspector: fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, status: http.StatusOK, pending: 3},
		{name: "redis down", inspector: fakeInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, discardLogger()).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, QueueDefault, body.Queue)
			assert.Equal(t, tc.pending, body.Pending)
		})
	}
}
