package budgets

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-quotes/internal/observability"
)

// WriteFunc performs one persisted write. It receives a context that is not
// tied to any request.
type WriteFunc func(ctx context.Context) error

// Autosaver debounces writes per document. Each document has a single slot
// holding the latest pending write; scheduling a new write replaces it and
// restarts the delay. At most one write per document runs at a time, and a
// write that becomes due while another is running starts when that one ends.
//
// All slot state is owned by one goroutine and changed only through messages,
// so no locks are involved.
type Autosaver struct {
	delay   time.Duration
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	cmds    chan func(*autosaveLoop)
	stopped chan struct{}
}

type autosaveSlot struct {
	gen      uint64
	write    WriteFunc
	timer    *time.Timer
	inflight bool
	waiters  []chan struct{}
}

type autosaveLoop struct {
	a            *Autosaver
	seq          uint64
	slots        map[int64]*autosaveSlot
	closing      bool
	closeWaiters []chan struct{}
	done         bool
}

// NewAutosaver starts the debounce loop. A delay of zero or less writes
// immediately on every Schedule.
func NewAutosaver(delay, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Autosaver {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &Autosaver{
		delay:   delay,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		cmds:    make(chan func(*autosaveLoop)),
		stopped: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Autosaver) loop() {
	l := &autosaveLoop{a: a, slots: make(map[int64]*autosaveSlot)}
	for !l.done {
		cmd := <-a.cmds
		cmd(l)
	}
	close(a.stopped)
}

// do hands cmd to the loop. It reports false once the loop has stopped.
func (a *Autosaver) do(cmd func(*autosaveLoop)) bool {
	select {
	case a.cmds <- cmd:
		return true
	case <-a.stopped:
		return false
	}
}

// Schedule replaces the pending write of doc and restarts its delay.
func (a *Autosaver) Schedule(doc int64, w WriteFunc) {
	if !a.do(func(l *autosaveLoop) { l.schedule(doc, w) }) {
		a.logger.Warn("autosave dropped after shutdown", slog.Int64("budget_id", doc))
	}
}

// Cancel drops the pending write of doc. A write already running completes.
func (a *Autosaver) Cancel(doc int64) {
	a.do(func(l *autosaveLoop) { l.cancel(doc) })
}

// Flush starts the pending write of doc now. The returned channel is closed
// once doc has no pending or running write; callers that do not care about
// completion may ignore it.
func (a *Autosaver) Flush(doc int64) <-chan struct{} {
	reply := make(chan struct{})
	if !a.do(func(l *autosaveLoop) { l.flush(doc, reply) }) {
		close(reply)
	}
	return reply
}

// Pending reports whether doc has a write waiting or running.
func (a *Autosaver) Pending(doc int64) bool {
	reply := make(chan bool, 1)
	if !a.do(func(l *autosaveLoop) { _, ok := l.slots[doc]; reply <- ok }) {
		return false
	}
	return <-reply
}

// Close flushes every pending write, waits for them and stops the loop.
func (a *Autosaver) Close(ctx context.Context) error {
	reply := make(chan struct{})
	if !a.do(func(l *autosaveLoop) { l.closeAll(reply) }) {
		return nil
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Autosaver) run(doc int64, w WriteFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	err := w(ctx)
	cancel()

	a.metrics.ObserveAutosave(err)
	if err != nil {
		a.logger.Warn("autosave failed", slog.Int64("budget_id", doc), slog.Any("error", err))
	}
	a.do(func(l *autosaveLoop) { l.written(doc) })
}

func (l *autosaveLoop) slot(doc int64) *autosaveSlot {
	s, ok := l.slots[doc]
	if !ok {
		s = &autosaveSlot{}
		l.slots[doc] = s
	}
	return s
}

func (l *autosaveLoop) schedule(doc int64, w WriteFunc) {
	s := l.slot(doc)
	if s.write != nil {
		l.a.metrics.ObserveSuperseded()
		l.a.logger.Debug("autosave superseded", slog.Int64("budget_id", doc), slog.Uint64("generation", s.gen))
	}
	l.seq++
	s.gen = l.seq
	s.write = w
	stopTimer(s)

	if l.a.delay <= 0 || l.closing {
		l.dispatch(doc, s)
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(l.a.delay, func() {
		l.a.do(func(l *autosaveLoop) { l.fire(doc, gen) })
	})
}

func (l *autosaveLoop) fire(doc int64, gen uint64) {
	s, ok := l.slots[doc]
	if !ok || s.gen != gen || s.write == nil {
		return
	}
	s.timer = nil
	l.dispatch(doc, s)
}

func (l *autosaveLoop) dispatch(doc int64, s *autosaveSlot) {
	if s.inflight || s.write == nil {
		return
	}
	w := s.write
	s.write = nil
	s.inflight = true
	go l.a.run(doc, w)
}

func (l *autosaveLoop) written(doc int64) {
	s, ok := l.slots[doc]
	if !ok {
		return
	}
	s.inflight = false
	if s.write != nil && s.timer == nil {
		l.dispatch(doc, s)
		return
	}
	l.settle(doc, s)
}

func (l *autosaveLoop) flush(doc int64, reply chan struct{}) {
	s, ok := l.slots[doc]
	if !ok {
		close(reply)
		return
	}
	stopTimer(s)
	s.waiters = append(s.waiters, reply)
	l.dispatch(doc, s)
	l.settle(doc, s)
}

func (l *autosaveLoop) cancel(doc int64) {
	s, ok := l.slots[doc]
	if !ok {
		return
	}
	stopTimer(s)
	s.write = nil
	l.settle(doc, s)
}

func (l *autosaveLoop) closeAll(reply chan struct{}) {
	l.closing = true
	l.closeWaiters = append(l.closeWaiters, reply)
	for doc, s := range l.slots {
		stopTimer(s)
		l.dispatch(doc, s)
	}
	for doc, s := range l.slots {
		l.settle(doc, s)
	}
	l.checkClosed()
}

// settle releases flush waiters and forgets the slot once doc is idle.
func (l *autosaveLoop) settle(doc int64, s *autosaveSlot) {
	if s.inflight || s.write != nil || s.timer != nil {
		return
	}
	for _, w := range s.waiters {
		close(w)
	}
	delete(l.slots, doc)
	l.checkClosed()
}

func (l *autosaveLoop) checkClosed() {
	if !l.closing || len(l.slots) > 0 || l.done {
		return
	}
	for _, w := range l.closeWaiters {
		close(w)
	}
	l.done = true
}

func stopTimer(s *autosaveSlot) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
