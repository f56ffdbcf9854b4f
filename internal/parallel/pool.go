// Package parallel runs rasterization jobs on a fixed set of goroutines.
package parallel

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/recera/lcars/internal/logging"
)

// Pool is a work-stealing goroutine pool. Each worker owns a queue and
// takes from its peers when its own queue is empty. Safe for concurrent use.
type Pool struct {
	queues  []chan func()
	next    atomic.Uint32
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.RWMutex // held for reading while submitting, for writing by Close
}

// NewPool starts a pool with the given number of workers. Zero or a
// negative count uses GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	size := workers * 4
	if size < 8 {
		size = 8
	}
	p := &Pool{
		queues: make([]chan func(), workers),
		done:   make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), size)
	}
	p.running.Store(true)
	p.wg.Add(workers)
	for i := range p.queues {
		go p.worker(i)
	}
	return p
}

// Workers returns the number of worker goroutines
func (p *Pool) Workers() int {
	return len(p.queues)
}

// Submit queues fn on the next worker in round-robin order. It reports
// false if the pool is closed. Submit blocks while that worker's queue is full.
func (p *Pool) Submit(fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running.Load() {
		return false
	}
	i := int(p.next.Add(1)-1) % len(p.queues)
	p.queues[i] <- fn
	return true
}

// ExecuteAll runs every job and waits for all of them
func (p *Pool) ExecuteAll(jobs []func()) {
	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		wg.Add(1)
		if !p.Submit(func() {
			defer wg.Done()
			job()
		}) {
			wg.Done()
		}
	}
	wg.Wait()
}

// Close stops accepting jobs, runs what is already queued and waits for
// the workers to exit
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.running.Swap(false) {
		p.mu.Unlock()
		return
	}
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case job := <-own:
			run(job)
			continue
		default:
		}
		if job := p.steal(id); job != nil {
			run(job)
			continue
		}
		select {
		case job := <-own:
			run(job)
		case <-p.done:
			for {
				select {
				case job := <-own:
					run(job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := range p.queues {
		if i == id {
			continue
		}
		select {
		case job := <-p.queues[i]:
			return job
		default:
		}
	}
	return nil
}

func run(job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.For("parallel").Error("job panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job()
}
