// Package scheduler drives the feed ingestion loop: fetch the activity
// feed on an interval, insert unseen entries through the write
// coordinator, and notify for each newly committed record.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"activityd/pkg/fetch"
	"activityd/pkg/ingest"
	"activityd/pkg/logger"
	"activityd/pkg/metrics"
	"activityd/pkg/models"
	"activityd/pkg/notify"
	"activityd/pkg/store"
	"activityd/pkg/utils"
)

// Options configures the poll loop.
type Options struct {
	FeedURL      string
	User         string
	Limit        int
	PollInterval time.Duration
	Timeout      time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// Scheduler owns the poll loop goroutine.
type Scheduler struct {
	opts     Options
	client   *fetch.Client
	coord    *ingest.Coordinator
	notifier *notify.Notifier

	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// New builds a scheduler. notifier may be nil (notifications disabled).
func New(opts Options, coord *ingest.Coordinator, notifier *notify.Notifier) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 100 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	return &Scheduler{
		opts:     opts,
		client:   fetch.NewClient(opts.Timeout),
		coord:    coord,
		notifier: notifier,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start launches the poll loop. No-op when FeedURL is unset.
func (s *Scheduler) Start(ctx context.Context) {
	if s.opts.FeedURL == "" {
		logger.Info("feed_polling_disabled")
		return
	}
	s.wg.Add(1)
	go s.loop(ctx)
	logger.Info("feed_polling_started", "url", s.opts.FeedURL, "interval", s.opts.PollInterval.String())
}

// Trigger requests an immediate cycle without waiting for the next
// tick. Coalesces when a trigger is already pending.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop halts the loop and waits for an in-progress cycle to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.PollInterval)
	defer t.Stop()

	// first cycle right away so a fresh process catches up immediately
	s.cycle(ctx)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			s.cycle(ctx)
		case <-s.trigger:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	if err := s.RunCycle(ctx); err != nil {
		logger.Warn("feed_cycle_failed", "err", err)
	}
}

// feedTarget renders the polling URL. The feed is asked for the newest
// entries explicitly; relying on the server's default sort would make
// the polled window unpredictable.
func (s *Scheduler) feedTarget() string {
	u, err := url.Parse(s.opts.FeedURL)
	if err != nil {
		return s.opts.FeedURL
	}
	q := u.Query()
	if s.opts.User != "" {
		q.Set("user", s.opts.User)
	}
	q.Set("limit", strconv.Itoa(s.opts.Limit))
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "DESC")
	u.RawQuery = q.Encode()
	return u.String()
}

// RunCycle performs one full fetch-and-ingest pass. The fetch task
// record persists every state transition so attempts stay observable
// through the API even after a crash.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	target := s.feedTarget()
	task := models.NewFetchTask(utils.GenID("task"), target, s.opts.MaxAttempts)
	if err := store.SaveTask(task); err != nil {
		return err
	}

	body, err := s.runTask(ctx, task)
	if err != nil {
		return err
	}
	return s.ingestFeed(ctx, body)
}

// runTask drives the task state machine: pending, in_flight, then
// succeeded, or pending again after a retryable failure with backoff,
// or failed once attempts are exhausted or the error is permanent.
func (s *Scheduler) runTask(ctx context.Context, task *models.FetchTask) ([]byte, error) {
	for {
		task.Attempt++
		task.Status = models.TaskInFlight
		task.NextEligible = 0
		if err := store.SaveTask(task); err != nil {
			return nil, err
		}

		body, err := s.client.Fetch(ctx, task)
		if err == nil {
			task.Status = models.TaskSucceeded
			task.LastError = ""
			if serr := store.SaveTask(task); serr != nil {
				return nil, serr
			}
			return body, nil
		}

		task.LastError = err.Error()
		if !fetch.IsRetryable(err) || task.Attempt >= task.MaxAttempts {
			task.Status = models.TaskFailed
			if serr := store.SaveTask(task); serr != nil {
				return nil, serr
			}
			logger.Warn("fetch_task_failed", "task", task.ID, "attempts", task.Attempt, "err", err)
			return nil, err
		}

		delay := fetch.Backoff(task.Attempt-1, s.opts.BackoffBase, s.opts.BackoffMax)
		task.Status = models.TaskPending
		task.NextEligible = time.Now().UTC().Add(delay).UnixNano()
		if serr := store.SaveTask(task); serr != nil {
			return nil, serr
		}
		logger.Debug("fetch_retry_scheduled", "task", task.ID, "attempt", task.Attempt, "delay", delay.String())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			task.Status = models.TaskFailed
			task.LastError = ctx.Err().Error()
			_ = store.SaveTask(task)
			return nil, ctx.Err()
		case <-s.stop:
			return nil, errors.New("scheduler stopped")
		}
	}
}

type feedEntry struct {
	raw  json.RawMessage
	hash string
	ts   int64
}

// ingestFeed decodes the feed page and inserts unseen entries, oldest
// first, so notification order follows event order. Entries already in
// the store are skipped silently.
func (s *Scheduler) ingestFeed(ctx context.Context, body []byte) error {
	var page []json.RawMessage
	if err := json.Unmarshal(body, &page); err != nil {
		return fmt.Errorf("feed decode: %w", err)
	}

	entries := make([]feedEntry, 0, len(page))
	for _, raw := range page {
		var key struct {
			TransactionHash string `json:"transactionHash"`
			Timestamp       int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(raw, &key); err != nil || key.TransactionHash == "" {
			logger.Debug("feed_entry_skipped", "reason", "no transaction hash")
			continue
		}
		entries = append(entries, feedEntry{raw: raw, hash: key.TransactionHash, ts: key.Timestamp})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })

	var inserted int
	for _, e := range entries {
		rec, err := s.coord.Submit(ctx, &models.PendingOperation{
			Kind:     models.OpInsert,
			RecordID: e.hash,
			Payload:  e.raw,
		})
		switch {
		case err == nil:
			inserted++
			metrics.RecordsIngested.Inc()
			if s.notifier.Enabled() {
				_ = s.notifier.Notify(ctx, rec)
			}
		case errors.Is(err, store.ErrAlreadyExists):
			// seen on a previous cycle
		case errors.Is(err, ingest.ErrQueueFull):
			logger.Warn("feed_ingest_backpressure", "record", e.hash)
			return err
		default:
			return err
		}
	}
	if inserted > 0 {
		logger.Info("feed_cycle_done", "entries", len(entries), "new", inserted)
	}
	return nil
}
