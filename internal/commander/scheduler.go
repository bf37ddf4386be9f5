package commander

import (
	"cmp"
	"container/heap"
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/metorial/agentsched/internal/models"
	"github.com/metorial/agentsched/internal/schedule"
)

// DefaultUpcomingLimit is the number of entries in the next-due ranking
// when no limit is given.
const DefaultUpcomingLimit = 5

type dueEntry struct {
	taskID string
	expr   string
	due    time.Time
}

type dueQueue []dueEntry

func (q dueQueue) Len() int { return len(q) }
func (q dueQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].taskID < q[j].taskID
	}
	return q[i].due.Before(q[j].due)
}
func (q dueQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *dueQueue) Push(x any)   { *q = append(*q, x.(dueEntry)) }
func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// Scheduler fires active scheduled tasks when their cron expression comes
// due. Its queue is rebuilt from the store on start and on Reload, so
// firings missed while the controller was down are not replayed.
type Scheduler struct {
	db         *DB
	dispatcher *Dispatcher
	loc        *time.Location
	now        func() time.Time

	reload chan struct{}

	mu    sync.Mutex
	queue dueQueue
	wg    sync.WaitGroup
}

func NewScheduler(db *DB, dispatcher *Dispatcher, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		db:         db,
		dispatcher: dispatcher,
		loc:        loc,
		now:        time.Now,
		reload:     make(chan struct{}, 1),
	}
}

// Reload asks a running scheduler to rebuild its queue from the store.
func (s *Scheduler) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Run drives the queue until ctx is cancelled, then waits for in-flight
// dispatches to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()

	if err := s.rebuild(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.reload:
			if err := s.rebuild(ctx); err != nil {
				log.Printf("Error reloading schedule: %v", err)
			}
		case <-timer.C:
			s.fireDue(ctx, s.now())
		}
		timer.Reset(s.untilNext())
	}
}

func (s *Scheduler) rebuild(ctx context.Context) error {
	tasks, err := s.db.ListScheduledTasks(ctx)
	if err != nil {
		return err
	}

	now := s.now().In(s.loc)
	queue := make(dueQueue, 0, len(tasks))
	for _, t := range tasks {
		next, err := schedule.Next(t.Schedule, now)
		if err != nil {
			log.Printf("Skipping task %s (%s): %v", t.Name, t.ID, err)
			continue
		}
		queue = append(queue, dueEntry{taskID: t.ID, expr: t.Schedule, due: next})
	}
	heap.Init(&queue)

	s.mu.Lock()
	s.queue = queue
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Hour
	}
	d := s.queue[0].due.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// fireDue dispatches every entry due at or before now, each in its own
// goroutine, and re-queues it at its next firing after max(due, now).
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []dueEntry
	for len(s.queue) > 0 && !s.queue[0].due.After(now) {
		due = append(due, heap.Pop(&s.queue).(dueEntry))
	}
	for _, e := range due {
		from := e.due
		if now.After(from) {
			from = now
		}
		next, err := schedule.Next(e.expr, from.In(s.loc))
		if err != nil {
			log.Printf("Dropping task %s from schedule: %v", e.taskID, err)
			continue
		}
		heap.Push(&s.queue, dueEntry{taskID: e.taskID, expr: e.expr, due: next})
	}
	s.mu.Unlock()

	for _, e := range due {
		s.wg.Add(1)
		go func(entry dueEntry) {
			defer s.wg.Done()
			s.dispatch(ctx, entry)
		}(e)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, e dueEntry) {
	exec, err := s.dispatcher.Execute(ctx, e.taskID)
	switch {
	case err == nil:
		log.Printf("Scheduled run of task %s: %s", e.taskID, exec.Status)
	case errors.Is(err, ErrTaskBusy):
		log.Printf("Skipping scheduled run of task %s: previous run still in flight", e.taskID)
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrAgentNotFound):
		log.Printf("Dropping task %s from schedule: %v", e.taskID, err)
		s.drop(e.taskID)
	default:
		log.Printf("Error running scheduled task %s: %v", e.taskID, err)
	}
}

func (s *Scheduler) drop(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.queue {
		if e.taskID == taskID {
			heap.Remove(&s.queue, i)
			return
		}
	}
}

// Upcoming ranks active scheduled tasks by their next firing after now,
// earliest first, ties broken by task id. Tasks whose schedule is empty,
// invalid or never matches are left out.
func (s *Scheduler) Upcoming(ctx context.Context, now time.Time, limit int) ([]models.UpcomingTask, error) {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}

	tasks, err := s.db.ListScheduledTasks(ctx)
	if err != nil {
		return nil, err
	}

	local := now.In(s.loc)
	ranked := make([]models.UpcomingTask, 0, len(tasks))
	for _, t := range tasks {
		if !t.Scheduled() {
			continue
		}
		next, err := schedule.Next(t.Schedule, local)
		if err != nil {
			continue
		}
		ranked = append(ranked, models.UpcomingTask{
			TaskID:    t.ID,
			Name:      t.Name,
			Agent:     t.AgentHostname,
			Schedule:  t.Schedule,
			NextRun:   next,
			TimeUntil: schedule.Humanize(next, now),
		})
	}

	slices.SortStableFunc(ranked, func(a, b models.UpcomingTask) int {
		if c := a.NextRun.Compare(b.NextRun); c != 0 {
			return c
		}
		return cmp.Compare(a.TaskID, b.TaskID)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
