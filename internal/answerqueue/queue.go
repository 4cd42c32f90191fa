// Package answerqueue is a client-resident buffering layer in front of the
// answer ledger. It decouples interactive answer selection from network
// latency and failure: the latest choice is always visible immediately, writes
// are debounced and coalesced per question, and failures retry with bounded
// backoff before surfacing a sticky error state. It holds no server
// authority — every write is idempotent per question on the server side.
package answerqueue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Submitter is the server-side write the queue buffers; satisfied by the
// answer service or any transport client in front of it.
type Submitter interface {
	SaveAnswer(ctx context.Context, sessionID, questionID, optionID string) error
}

const (
	defaultDebounce   = 400 * time.Millisecond
	defaultMaxRetries = 3
	retryBase         = time.Second
	retryCap          = 10 * time.Second
	flushTimeout      = 15 * time.Second
)

type pendingAnswer struct {
	optionID string
	// seq distinguishes an entry re-written while a flush of the same
	// question is in flight; only unchanged entries are cleared on success.
	seq uint64
}

// Queue buffers answer writes for one session.
type Queue struct {
	sessionID string
	submitter Submitter
	debounce  time.Duration
	retries   int

	mu          sync.Mutex
	optimistic  map[string]string
	pending     map[string]pendingAnswer
	seq         uint64
	timer       *time.Timer
	retryTimer  *time.Timer
	retryCount  int
	syncing     bool
	lastSavedAt time.Time
	lastErr     error
	closed      bool
}

// Option tweaks queue behavior.
type Option func(*Queue)

// WithDebounce overrides the coalescing delay.
func WithDebounce(d time.Duration) Option {
	return func(q *Queue) { q.debounce = d }
}

// WithMaxRetries overrides the bounded retry count.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.retries = n }
}

func New(sessionID string, submitter Submitter, opts ...Option) *Queue {
	q := &Queue{
		sessionID:  sessionID,
		submitter:  submitter,
		debounce:   defaultDebounce,
		retries:    defaultMaxRetries,
		optimistic: make(map[string]string),
		pending:    make(map[string]pendingAnswer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetAnswer records the user's choice synchronously and schedules a debounced
// flush. Rapid changes to the same question coalesce into one write.
func (q *Queue) SetAnswer(questionID, optionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.seq++
	q.optimistic[questionID] = optionID
	q.pending[questionID] = pendingAnswer{optionID: optionID, seq: q.seq}
	q.lastErr = nil
	q.retryCount = 0

	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(q.debounce, func() {
		q.flush(context.Background())
	})
}

// GetAnswer prefers the optimistic value over the last known server value, so
// the caller never regresses to a stale answer while a write is in flight.
func (q *Queue) GetAnswer(questionID, serverValue string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if v, ok := q.optimistic[questionID]; ok {
		return v
	}
	return serverValue
}

// IsPending reports whether the question has an unconfirmed write.
func (q *Queue) IsPending(questionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[questionID]
	return ok
}

// State is a snapshot of the queue's sync status for status indicators.
type State struct {
	Syncing      bool
	PendingCount int
	LastSavedAt  time.Time
	Err          error
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return State{
		Syncing:      q.syncing,
		PendingCount: len(q.pending),
		LastSavedAt:  q.lastSavedAt,
		Err:          q.lastErr,
	}
}

// FlushNow bypasses the debounce timer. Callers invoke it before navigation,
// before submit, and on page-hide signals to minimize unsynced loss.
func (q *Queue) FlushNow(ctx context.Context) error {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()
	return q.flush(ctx)
}

// flush sends all currently queued entries as concurrent writes. Only entries
// that were in flight are cleared on success; answers set after the snapshot
// stay queued. On failure a retry is scheduled with exponential backoff until
// the bounded count is exhausted, after which the error stays visible in
// State until the next SetAnswer.
func (q *Queue) flush(ctx context.Context) error {
	q.mu.Lock()
	if q.closed || len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	inFlight := make(map[string]pendingAnswer, len(q.pending))
	for k, v := range q.pending {
		inFlight[k] = v
	}
	q.syncing = true
	q.lastErr = nil
	q.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(flushCtx)
	for questionID, entry := range inFlight {
		questionID, entry := questionID, entry
		g.Go(func() error {
			return q.submitter.SaveAnswer(gctx, q.sessionID, questionID, entry.optionID)
		})
	}
	err := g.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.syncing = false

	if err != nil {
		q.lastErr = err
		if q.retryCount < q.retries {
			delay := retryBase << q.retryCount
			if delay > retryCap {
				delay = retryCap
			}
			q.retryCount++
			if q.retryTimer != nil {
				q.retryTimer.Stop()
			}
			q.retryTimer = time.AfterFunc(delay, func() {
				q.flush(context.Background())
			})
		}
		return err
	}

	for questionID, entry := range inFlight {
		if current, ok := q.pending[questionID]; ok && current.seq == entry.seq {
			delete(q.pending, questionID)
		}
	}
	q.lastSavedAt = time.Now()
	q.retryCount = 0
	return nil
}

// Close stops timers and drops anything still queued. Call FlushNow first if
// the remaining entries matter.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
	}
	if q.retryTimer != nil {
		q.retryTimer.Stop()
	}
}
