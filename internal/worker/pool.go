// Package worker runs best-effort background operations off the request path.
//
// Remote persistence is submitted here so a slow or failing durable store never
// delays the caller. Each submission returns a Task the caller may observe or
// simply drop; outcomes are always logged by the pool itself.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/antoniostano/recall/internal/logging"
)

var (
	defaultNumWorkers uint = 1
	defaultQueueSize  uint = 256
)

var (
	// ErrQueueFull is reported by a Task that was dropped because the queue was saturated.
	ErrQueueFull = errors.New("worker queue full")
	// ErrClosed is reported by a Task submitted after Close.
	ErrClosed = errors.New("worker pool closed")
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Config is the configuration for a Pool.
type Config struct {
	// NumWorkers is the number of goroutines draining the queue. With a single
	// worker jobs run strictly in submission order.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel.
	QueueSize uint

	// Logger receives job outcomes.
	Logger *zap.Logger

	// OnDone, when set, is called after every job with its name and result.
	OnDone func(name string, err error)
}

type job struct {
	name string
	fn   Func
	task *Task
}

// Pool executes submitted jobs on a fixed set of goroutines.
type Pool struct {
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewPool creates a pool and starts its workers.
func NewPool(c Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		logger: logging.OrNop(c.Logger),
		queue:  make(chan job, c.QueueSize),
	}

	p.wg.Add(int(c.NumWorkers))
	for i := uint(0); i < c.NumWorkers; i++ {
		go p.worker(i)
	}
	return p, nil
}

// Submit queues fn for background execution. It never blocks: when the queue is
// full or the pool is closed the returned Task is already complete with
// ErrQueueFull or ErrClosed.
func (p *Pool) Submit(name string, fn Func) *Task {
	t := newTask()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("job rejected, pool closed", zap.String("job", name))
		p.finish(name, t, ErrClosed)
		return t
	}

	select {
	case p.queue <- job{name: name, fn: fn, task: t}:
		p.logger.Debug("job queued", zap.String("job", name))
	default:
		p.logger.Error("job not queued, queue full, job dropped", zap.String("job", name))
		p.finish(name, t, ErrQueueFull)
	}
	return t
}

// Pending reports the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Close stops accepting jobs and waits for queued work to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for j := range p.queue {
		p.run(j)
	}

	p.logger.Debug("worker stopped", zap.Uint("worker_id", id))
}

func (p *Pool) run(j job) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v", j.name, r)
			}
		}()
		err = j.fn(context.Background())
	}()

	if err != nil {
		p.logger.Warn("background job failed", zap.String("job", j.name), zap.Error(err))
	} else {
		p.logger.Debug("background job done", zap.String("job", j.name))
	}
	p.finish(j.name, j.task, err)
}

func (p *Pool) finish(name string, t *Task, err error) {
	t.complete(err)
	if p.config.OnDone != nil {
		p.config.OnDone(name, err)
	}
}
