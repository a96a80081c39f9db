package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConcurrent = 4
	DefaultHistoryLimit  = 50

	notifyErrorLimit = 500
)

var errShuttingDown = errors.New("scheduler shutting down")

// Catalog abstracts the durable task and history storage used by the scheduler.
// Implementations must be safe for concurrent use.
type Catalog interface {
	CreateTask(ctx context.Context, task *Task) error
	// GetTask returns an error matching ErrNotFound when the task does not exist.
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, status *TaskStatus) ([]*Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (bool, error)
	DeleteTask(ctx context.Context, id string) (bool, error)
	// AppendExecution returns an error matching ErrNotFound when the task is gone.
	AppendExecution(ctx context.Context, exec *Execution) error
	History(ctx context.Context, taskID string, limit int) ([]*Execution, error)
}

// Notifier is told about failed executions.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// OverlapPolicy decides what happens when a task fires while a previous
// execution of the same task has not finished.
type OverlapPolicy string

const (
	// OverlapSkip drops the new firing and waits for the next occurrence.
	OverlapSkip OverlapPolicy = "skip"
	// OverlapAllow starts another instance alongside the running one.
	OverlapAllow OverlapPolicy = "allow"
)

// ParseOverlapPolicy converts a configuration value into an OverlapPolicy.
func ParseOverlapPolicy(v string) (OverlapPolicy, error) {
	switch p := OverlapPolicy(strings.ToLower(strings.TrimSpace(v))); p {
	case "", OverlapSkip:
		return OverlapSkip, nil
	case OverlapAllow:
		return OverlapAllow, nil
	default:
		return "", newError(KindInvalidInput, "unknown overlap policy %q (want skip or allow)", v)
	}
}

// Options tunes a Scheduler. Zero values select the defaults.
type Options struct {
	Timeout       time.Duration
	MaxConcurrent int
	Overlap       OverlapPolicy
	Notifier      Notifier
}

type firing struct {
	taskID      string
	name        string
	command     string
	scheduledAt time.Time
	manual      bool
}

// Scheduler owns the timer registry and dispatches due tasks to the Runner.
//
// A single mutex serializes the registry, the dispatch queue and every
// mutation of task definitions. Commands never run while it is held.
type Scheduler struct {
	catalog Catalog
	runner  Runner
	logger  *slog.Logger
	opts    Options
	sem     *semaphore.Weighted
	now     func() time.Time

	mu       sync.Mutex
	timers   *timerRegistry
	queue    []firing
	inflight map[string]int
	running  bool
	stopping bool

	wake chan struct{}
	kick chan struct{}

	bgCtx      context.Context
	loopCancel context.CancelFunc
	execCtx    context.Context
	execCancel context.CancelCauseFunc

	loopWG sync.WaitGroup
	execWG sync.WaitGroup
	bgWG   sync.WaitGroup
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(catalog Catalog, runner Runner, logger *slog.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Overlap == "" {
		opts.Overlap = OverlapSkip
	}
	return &Scheduler{
		catalog:  catalog,
		runner:   runner,
		logger:   logger,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		now:      time.Now,
		timers:   newTimerRegistry(),
		inflight: make(map[string]int),
		wake:     make(chan struct{}, 1),
		kick:     make(chan struct{}, 1),
		bgCtx:    context.Background(),
	}
}

// Start loads every active task from the catalog, arms its timer and starts
// the firing loop. Tasks whose stored expression no longer parses are logged
// and skipped. ctx only bounds the initial load; the loop runs until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return newError(KindConflict, "scheduler already started")
	}

	active := TaskStatusActive
	tasks, err := s.catalog.ListTasks(ctx, &active)
	if err != nil {
		return fmt.Errorf("load active tasks: %w", err)
	}

	s.timers.clear()
	now := s.now()
	loaded := 0
	for _, task := range tasks {
		sched, err := ParseCron(task.Schedule)
		if err != nil {
			s.logger.Warn("skipping task with invalid schedule", "task_id", task.ID, "schedule", task.Schedule, "err", err)
			continue
		}
		next, err := sched.Next(now)
		if err != nil {
			s.logger.Warn("skipping task that never fires", "task_id", task.ID, "schedule", task.Schedule, "err", err)
			continue
		}
		if _, err := s.catalog.UpdateTask(ctx, task.ID, TaskPatch{NextRunAt: &next}); err != nil {
			s.logger.Warn("persist next_run_at failed", "task_id", task.ID, "err", err)
		}
		s.timers.upsert(task.ID, next, timerSnapshot{Name: task.Name, Command: task.Command, Schedule: sched})
		loaded++
	}

	s.bgCtx = context.WithoutCancel(ctx)
	loopCtx, loopCancel := context.WithCancel(s.bgCtx)
	s.loopCancel = loopCancel
	s.execCtx, s.execCancel = context.WithCancelCause(s.bgCtx)
	s.running = true
	s.stopping = false

	s.loopWG.Add(2)
	go s.loop(loopCtx)
	go s.dispatch(loopCtx)

	s.logger.Info("scheduler started", "tasks", loaded, "skipped", len(tasks)-loaded,
		"max_concurrent", s.opts.MaxConcurrent, "overlap", s.opts.Overlap, "timeout", s.opts.Timeout)
	return nil
}

// Stop stops firing new executions, drops firings still waiting for a
// concurrency slot and waits for in-flight executions. When ctx expires first,
// the remaining executions are killed and recorded as aborted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopping = true
	dropped := len(s.queue)
	for _, f := range s.queue {
		s.releaseInflight(f.taskID)
	}
	s.queue = nil
	s.mu.Unlock()

	s.loopCancel()
	s.loopWG.Wait()
	if dropped > 0 {
		s.logger.Warn("dropped queued firings on shutdown", "count", dropped)
	}

	done := make(chan struct{})
	go func() {
		s.execWG.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown grace expired, aborting running commands")
		s.execCancel(errShuttingDown)
		<-done
		err = ctx.Err()
	}
	s.execCancel(errShuttingDown)
	s.bgWG.Wait()

	s.mu.Lock()
	s.timers.clear()
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
	return err
}

// AddTask validates and persists a new active task and arms its timer.
// Nothing is persisted when the schedule is invalid or never fires.
func (s *Scheduler) AddTask(ctx context.Context, in NewTask) (*Task, error) {
	name := strings.TrimSpace(in.Name)
	command := strings.TrimSpace(in.Command)
	if name == "" {
		return nil, newError(KindInvalidInput, "name is required")
	}
	if command == "" {
		return nil, newError(KindInvalidInput, "command is required")
	}
	sched, err := ParseCron(in.Schedule)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	next, err := sched.Next(now)
	if err != nil {
		return nil, err
	}
	task := &Task{
		ID:        NewID(),
		Name:      name,
		Command:   command,
		Schedule:  sched.String(),
		Status:    TaskStatusActive,
		NextRunAt: &next,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		task.Description = &d
	}
	if err := s.catalog.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.timers.upsert(task.ID, next, timerSnapshot{Name: task.Name, Command: task.Command, Schedule: sched})
	s.signal()
	s.logger.Info("task added", "task_id", task.ID, "name", task.Name, "schedule", task.Schedule, "next_run_at", next)
	return task, nil
}

// GetTask returns a task by ID.
func (s *Scheduler) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.catalog.GetTask(ctx, id)
}

// ListTasks returns every task, optionally filtered by status.
func (s *Scheduler) ListTasks(ctx context.Context, status *TaskStatus) ([]*Task, error) {
	if status != nil && !status.Valid() {
		return nil, newError(KindInvalidInput, "unknown status %q", *status)
	}
	return s.catalog.ListTasks(ctx, status)
}

// UpdateTask applies the recognised fields of upd. When the schedule, command
// or status changes the pending timer is dropped and, for an active task,
// re-armed from the new definition so the very next firing uses it.
func (s *Scheduler) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.catalog.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	var patch TaskPatch
	merged := *current
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, newError(KindInvalidInput, "name must not be empty")
		}
		patch.Name = &name
		merged.Name = name
	}
	if upd.Command != nil {
		command := strings.TrimSpace(*upd.Command)
		if command == "" {
			return nil, newError(KindInvalidInput, "command must not be empty")
		}
		patch.Command = &command
		merged.Command = command
	}
	var sched *Schedule
	if upd.Schedule != nil {
		if sched, err = ParseCron(*upd.Schedule); err != nil {
			return nil, err
		}
		patch.Schedule = ptrString(sched.String())
		merged.Schedule = sched.String()
	}
	if upd.Description != nil {
		patch.Description = ptrString(strings.TrimSpace(*upd.Description))
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, newError(KindInvalidInput, "unknown status %q", *upd.Status)
		}
		st := *upd.Status
		patch.Status = &st
		merged.Status = st
	}
	if patch.IsEmpty() {
		return current, nil
	}

	reschedule := merged.Schedule != current.Schedule ||
		merged.Command != current.Command ||
		merged.Status != current.Status
	var next time.Time
	if reschedule {
		if merged.Status == TaskStatusActive {
			if sched == nil {
				if sched, err = ParseCron(merged.Schedule); err != nil {
					return nil, err
				}
			}
			if next, err = sched.Next(s.now()); err != nil {
				return nil, err
			}
			patch.NextRunAt = &next
		} else {
			patch.ClearNextRun = true
		}
	}

	ok, err := s.catalog.UpdateTask(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if !ok {
		return nil, newError(KindNotFound, "task %s not found", id)
	}

	if reschedule {
		s.timers.remove(id)
		s.dropQueued(id)
		if merged.Status == TaskStatusActive {
			s.timers.upsert(id, next, timerSnapshot{Name: merged.Name, Command: merged.Command, Schedule: sched})
			s.logger.Info("task rescheduled", "task_id", id, "next_run_at", next)
		} else {
			s.logger.Info("task unscheduled", "task_id", id, "status", merged.Status)
		}
		s.signal()
	} else if e, ok := s.timers.get(id); ok && patch.Name != nil {
		// Renaming keeps the fire instant and seq, so a next_run_at write
		// already in flight for this entry still lands.
		e.snap.Name = merged.Name
	}

	return s.catalog.GetTask(ctx, id)
}

// PauseTask sets the task inactive and cancels its pending timer.
func (s *Scheduler) PauseTask(ctx context.Context, id string) (*Task, error) {
	st := TaskStatusInactive
	return s.UpdateTask(ctx, id, TaskUpdate{Status: &st})
}

// ResumeTask sets the task active and arms a fresh timer.
func (s *Scheduler) ResumeTask(ctx context.Context, id string) (*Task, error) {
	st := TaskStatusActive
	return s.UpdateTask(ctx, id, TaskUpdate{Status: &st})
}

// RemoveTask cancels the pending timer and deletes the task together with its
// history. It reports whether the task existed. A running execution is not
// interrupted.
func (s *Scheduler) RemoveTask(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers.remove(id)
	s.dropQueued(id)
	s.signal()

	existed, err := s.catalog.DeleteTask(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	if existed {
		s.logger.Info("task removed", "task_id", id)
	}
	return existed, nil
}

// History returns the most recent executions of a task, newest first.
func (s *Scheduler) History(ctx context.Context, id string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if _, err := s.catalog.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.catalog.History(ctx, id, limit)
}

// RunNow dispatches an immediate execution of the task outside its cron
// cadence. The pending timer is left alone.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return newError(KindConflict, "scheduler is not running")
	}
	task, err := s.catalog.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if s.opts.Overlap == OverlapSkip && s.inflight[id] > 0 {
		return newError(KindConflict, "task %s is already running", id)
	}
	s.enqueue(firing{
		taskID:      task.ID,
		name:        task.Name,
		command:     task.Command,
		scheduledAt: s.now().UTC(),
		manual:      true,
	})
	return nil
}

// Pending lists the armed timers in fire order.
func (s *Scheduler) Pending() []PendingTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.timers.entries()
	out := make([]PendingTimer, 0, len(entries))
	for _, e := range entries {
		out = append(out, PendingTimer{
			TaskID:   e.taskID,
			Name:     e.snap.Name,
			Schedule: e.snap.Schedule.String(),
			NextFire: e.nextFire,
		})
	}
	return out
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()
	for {
		s.mu.Lock()
		next, ok := s.timers.earliest()
		s.mu.Unlock()

		var fire <-chan time.Time
		var timer *time.Timer
		if ok {
			timer = time.NewTimer(max(next.Sub(s.now()), 0))
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
		s.fireDue(s.now())
	}
}

// fireDue advances every due timer to its next occurrence and queues the
// firing. The next occurrence is computed strictly after now, so a backlog
// never produces catch-up firings.
func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	for _, id := range s.timers.peekDue(now) {
		e, ok := s.timers.get(id)
		if !ok {
			continue
		}
		scheduledAt := e.nextFire
		snap := e.snap

		next, err := snap.Schedule.Next(now)
		if err != nil {
			s.timers.remove(id)
			s.persistNextRun(id, nil, 0)
			s.logger.Warn("task has no further occurrences", "task_id", id, "err", err)
		} else {
			seq := s.timers.upsert(id, next, snap)
			s.persistNextRun(id, &next, seq)
		}

		if s.opts.Overlap == OverlapSkip && s.inflight[id] > 0 {
			s.logger.Info("skipping firing, previous execution still running",
				"task_id", id, "scheduled_at", scheduledAt)
			continue
		}
		s.enqueue(firing{
			taskID:      id,
			name:        snap.Name,
			command:     snap.Command,
			scheduledAt: scheduledAt,
		})
	}
}

// persistNextRun writes the new next_run_at in the background. The write is
// discarded when the timer was re-armed or removed in the meantime. Callers
// hold s.mu.
func (s *Scheduler) persistNextRun(id string, next *time.Time, seq uint64) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.mu.Lock()
		defer s.mu.Unlock()

		patch := TaskPatch{NextRunAt: next, ClearNextRun: next == nil}
		if next != nil {
			e, ok := s.timers.get(id)
			if !ok || e.seq != seq {
				return
			}
		} else if _, ok := s.timers.get(id); ok {
			return
		}
		if _, err := s.catalog.UpdateTask(s.bgCtx, id, patch); err != nil {
			s.logger.Warn("persist next_run_at failed", "task_id", id, "err", err)
		}
	}()
}

// enqueue appends a firing to the dispatch queue. Callers hold s.mu.
func (s *Scheduler) enqueue(f firing) {
	s.inflight[f.taskID]++
	s.queue = append(s.queue, f)
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// dropQueued discards firings of id that have not started yet. Callers hold s.mu.
func (s *Scheduler) dropQueued(id string) {
	kept := s.queue[:0]
	for _, f := range s.queue {
		if f.taskID == id {
			s.releaseInflight(id)
			continue
		}
		kept = append(kept, f)
	}
	clear(s.queue[len(kept):])
	s.queue = kept
}

func (s *Scheduler) releaseInflight(id string) {
	if s.inflight[id] <= 1 {
		delete(s.inflight, id)
		return
	}
	s.inflight[id]--
}

// dispatch starts queued firings in order as concurrency slots free up.
func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.loopWG.Done()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-s.kick:
				continue
			}
		}
		s.mu.Unlock()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}

		s.mu.Lock()
		if len(s.queue) == 0 || s.stopping {
			s.mu.Unlock()
			s.sem.Release(1)
			continue
		}
		f := s.queue[0]
		s.queue[0] = firing{}
		s.queue = s.queue[1:]
		s.execWG.Add(1)
		s.mu.Unlock()

		go s.execute(f)
	}
}

func (s *Scheduler) execute(f firing) {
	defer s.execWG.Done()
	defer s.sem.Release(1)

	s.logger.Info("task firing", "task_id", f.taskID, "name", f.name,
		"scheduled_at", f.scheduledAt, "manual", f.manual)
	out := s.runner.Run(s.execCtx, f.command, s.opts.Timeout)
	s.complete(f, out)
}

// complete records the outcome of one execution. It never re-arms a timer;
// that happened when the task fired.
func (s *Scheduler) complete(f firing, out Outcome) {
	defer func() {
		s.mu.Lock()
		s.releaseInflight(f.taskID)
		s.mu.Unlock()
	}()

	startedAt := out.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now().UTC()
	}
	finishedAt := out.FinishedAt
	if finishedAt.Before(startedAt) {
		finishedAt = startedAt
	}
	rec := &Execution{
		ID:         NewID(),
		TaskID:     f.taskID,
		ExecutedAt: startedAt,
		FinishedAt: finishedAt,
		Status:     out.Status,
		ExitCode:   out.ExitCode,
		DurationMS: finishedAt.Sub(startedAt).Milliseconds(),
	}
	if out.Stdout != "" {
		rec.Output = ptrString(out.Stdout)
	}
	if out.Error != "" {
		rec.Error = ptrString(out.Error)
	}

	logger := s.logger.With("task_id", f.taskID, "execution_id", rec.ID)
	if err := s.catalog.AppendExecution(s.bgCtx, rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Info("task removed while running, execution not recorded", "status", rec.Status)
		} else {
			logger.Error("append execution failed", "err", err)
		}
		return
	}
	if _, err := s.catalog.UpdateTask(s.bgCtx, f.taskID, TaskPatch{LastRunAt: ptrTime(startedAt)}); err != nil {
		logger.Warn("update last_run_at failed", "err", err)
	}

	if err := out.Err(); err != nil {
		logger.Warn("task execution failed", "kind", KindOf(err), "duration", out.Duration(), "err", err)
		s.notifyFailure(f, rec)
		return
	}
	logger.Info("task execution finished", "status", rec.Status, "duration", out.Duration())
}

func (s *Scheduler) notifyFailure(f firing, rec *Execution) {
	if s.opts.Notifier == nil {
		return
	}
	reason := ""
	if rec.Error != nil {
		reason = *rec.Error
	}
	if len(reason) > notifyErrorLimit {
		reason = truncateUTF8(reason, notifyErrorLimit) + "..."
	}
	title := fmt.Sprintf("Task failed: %s", f.name)
	body := fmt.Sprintf("Task %s (%s) failed at %s.\n%s",
		f.name, f.taskID, rec.ExecutedAt.Format(time.RFC3339), reason)
	if err := s.opts.Notifier.Send(s.bgCtx, title, body); err != nil {
		s.logger.Warn("send failure notification", "task_id", f.taskID, "err", err)
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a multi-byte rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
