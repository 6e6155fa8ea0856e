// Package scheduler is a time-ordered job queue with cancellable handles.
package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Handle identifies a scheduled job. Handles are never reused.
type Handle uint64

type item[T any] struct {
	job   T
	due   time.Time
	seq   uint64
	index int
}

// queue is a min-heap of handles ordered by (due, seq). Items live in the arena.
type queue[T any] struct {
	handles []Handle
	arena   map[Handle]item[T]
}

func (q *queue[T]) Len() int { return len(q.handles) }

func (q *queue[T]) Less(i, j int) bool {
	a, b := q.arena[q.handles[i]], q.arena[q.handles[j]]
	if !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	return a.seq < b.seq
}

func (q *queue[T]) Swap(i, j int) {
	q.handles[i], q.handles[j] = q.handles[j], q.handles[i]
	q.setIndex(q.handles[i], i)
	q.setIndex(q.handles[j], j)
}

func (q *queue[T]) Push(x any) {
	h := x.(Handle)
	q.setIndex(h, len(q.handles))
	q.handles = append(q.handles, h)
}

func (q *queue[T]) Pop() any {
	n := len(q.handles)
	h := q.handles[n-1]
	q.handles = q.handles[:n-1]
	return h
}

func (q *queue[T]) setIndex(h Handle, i int) {
	it := q.arena[h]
	it.index = i
	q.arena[h] = it
}

// Scheduler orders jobs by due time; jobs due at the same instant come out in
// insertion order. It never repeats a job: callers reschedule explicitly.
// Safe for concurrent use.
type Scheduler[T any] struct {
	mu     sync.Mutex
	q      queue[T]
	next   Handle
	seq    uint64
	wakeup chan struct{}
}

// New creates an empty scheduler.
func New[T any]() *Scheduler[T] {
	return &Scheduler[T]{
		q:      queue[T]{arena: make(map[Handle]item[T])},
		wakeup: make(chan struct{}, 1),
	}
}

// Schedule queues job to become due at at.
func (s *Scheduler[T]) Schedule(job T, at time.Time) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.seq++
	h := s.next
	s.q.arena[h] = item[T]{job: job, due: at, seq: s.seq}
	heap.Push(&s.q, h)

	if s.q.handles[0] == h {
		s.notify()
	}
	return h
}

// Cancel removes the job. Reports false when it already ran or was cancelled.
func (s *Scheduler[T]) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.q.arena[h]
	if !ok {
		return false
	}
	heap.Remove(&s.q, it.index)
	delete(s.q.arena, h)
	s.notify()
	return true
}

// Reschedule moves a pending job to a new due time.
func (s *Scheduler[T]) Reschedule(h Handle, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.q.arena[h]
	if !ok {
		return false
	}
	s.seq++
	it.due = at
	it.seq = s.seq
	s.q.arena[h] = it
	heap.Fix(&s.q, it.index)
	s.notify()
	return true
}

// PopDue removes and returns every job due at or before now, in order.
func (s *Scheduler[T]) PopDue(now time.Time) []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []T
	for s.q.Len() > 0 {
		h := s.q.handles[0]
		it := s.q.arena[h]
		if it.due.After(now) {
			break
		}
		heap.Pop(&s.q)
		delete(s.q.arena, h)
		due = append(due, it.job)
	}
	return due
}

// NextDue returns the due time of the earliest job.
func (s *Scheduler[T]) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.q.Len() == 0 {
		return time.Time{}, false
	}
	return s.q.arena[s.q.handles[0]].due, true
}

// Pending reports whether h is still queued.
func (s *Scheduler[T]) Pending(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.q.arena[h]
	return ok
}

// Len returns the number of queued jobs.
func (s *Scheduler[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Len()
}

// Wakeup signals whenever the earliest due time may have changed, so a
// sleeping loop can re-arm its timer.
func (s *Scheduler[T]) Wakeup() <-chan struct{} {
	return s.wakeup
}

func (s *Scheduler[T]) notify() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}
