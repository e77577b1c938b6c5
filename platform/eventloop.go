package platform

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Loop is a single event loop: one goroutine running scheduled tasks in
// FIFO order. Every caller-visible callback runs on a Loop, so callbacks for
// a handle pinned to one loop never run concurrently with each other.
type Loop struct {
	id     int
	logger zerolog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool

	done chan struct{}
}

func newLoop(id, queueHint int, logger zerolog.Logger) *Loop {
	l := &Loop{
		id:     id,
		logger: logger.With().Int("loop", id).Logger(),
		tasks:  make([]func(), 0, queueHint),
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)

	go l.run()

	return l
}

// ID returns the loop index within its group.
func (l *Loop) ID() int { return l.id }

// Schedule queues task to run on the loop. It never blocks the caller. It
// reports false and drops the task when the loop has shut down.
func (l *Loop) Schedule(task func()) bool {
	if task == nil {
		return false
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	l.cond.Signal()

	return true
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.tasks) == 0 && !l.closed {
			l.cond.Wait()
		}

		if len(l.tasks) == 0 && l.closed {
			l.mu.Unlock()
			return
		}

		batch := l.tasks
		l.tasks = make([]func(), 0, cap(batch))
		l.mu.Unlock()

		for i, task := range batch {
			batch[i] = nil
			l.invoke(task)
		}
	}
}

func (l *Loop) invoke(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("event loop task panicked")
		}
	}()

	task()
}

// stop refuses new tasks, lets queued ones finish and waits for the loop
// goroutine to exit.
func (l *Loop) stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()

	<-l.done
}

// EventLoopGroup is a fixed set of loops handed out round-robin.
type EventLoopGroup struct {
	loops  []*Loop
	next   atomic.Uint64
	closed atomic.Bool
}

// NewEventLoopGroup starts n loops. n <= 0 starts one per CPU.
func NewEventLoopGroup(n, queueHint int, logger zerolog.Logger) *EventLoopGroup {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	g := &EventLoopGroup{loops: make([]*Loop, n)}
	for i := range g.loops {
		g.loops[i] = newLoop(i, queueHint, logger)
	}

	return g
}

// Len returns the number of loops.
func (g *EventLoopGroup) Len() int { return len(g.loops) }

// Next returns the next loop in round-robin order.
func (g *EventLoopGroup) Next() *Loop {
	i := g.next.Add(1) - 1
	return g.loops[i%uint64(len(g.loops))]
}

// Close stops every loop after draining queued tasks. It must not be called
// from a loop goroutine. Safe to call more than once.
func (g *EventLoopGroup) Close() {
	if g.closed.Swap(true) {
		return
	}

	for _, l := range g.loops {
		l.stop()
	}
}
