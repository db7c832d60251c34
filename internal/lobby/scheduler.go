package lobby

import (
	"context"
	"time"
)

// Task is a delayed call owned by a lobby. Its body runs on the lobby loop.
type Task struct {
	s      *Scheduler
	fn     func()
	cancel context.CancelFunc
	done   chan struct{}
	dead   bool
}

// Cancel stops the task and waits for its timer goroutine to exit. Once
// Cancel returns the body will never run, even if the timer already fired
// and its message is still queued. Must be called from the lobby loop.
func (t *Task) Cancel() {
	if t == nil || t.dead {
		return
	}
	t.dead = true
	delete(t.s.tasks, t)
	t.cancel()
	<-t.done
}

// Pending reports whether the task has neither run nor been cancelled.
func (t *Task) Pending() bool { return t != nil && !t.dead }

type taskMsg struct{ task *Task }

func (taskMsg) isLobbyMsg() {}

// Scheduler tracks every outstanding timer of one lobby so none of them
// can outlive a reset or the lobby itself.
type Scheduler struct {
	ctx   context.Context
	inbox chan<- Msg
	tasks map[*Task]struct{}
}

func newScheduler(ctx context.Context, inbox chan<- Msg) *Scheduler {
	return &Scheduler{ctx: ctx, inbox: inbox, tasks: make(map[*Task]struct{})}
}

// After runs fn on the lobby loop once d has elapsed.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{s: s, fn: fn, cancel: cancel, done: make(chan struct{})}
	s.tasks[t] = struct{}{}

	go func() {
		defer close(t.done)
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		select {
		case s.inbox <- taskMsg{task: t}:
		case <-ctx.Done():
		}
	}()
	return t
}

// CancelAll cancels every pending task.
func (s *Scheduler) CancelAll() {
	for t := range s.tasks {
		t.Cancel()
	}
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int { return len(s.tasks) }

func (s *Scheduler) fire(t *Task) {
	if t.dead {
		return
	}
	t.dead = true
	delete(s.tasks, t)
	t.cancel()
	t.fn()
}
