package monitor

import "sync"

// WorkerPool runs submitted probe tasks on a fixed set of goroutines.
type WorkerPool struct {
	mu       sync.RWMutex
	closed   bool
	tasks    chan func()
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorkerPool starts workers goroutines with a queue of queueSize pending tasks.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}
	pool := &WorkerPool{tasks: make(chan func(), queueSize)}
	pool.startWorkers(workers)
	return pool
}

func (p *WorkerPool) startWorkers(count int) {
	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
}

// Submit queues a task without blocking. It reports false when the queue is
// full or the pool has been stopped.
func (p *WorkerPool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Stop refuses new tasks and waits for queued and running ones to finish.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
