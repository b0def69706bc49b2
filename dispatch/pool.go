package dispatch

import (
	"context"
	"sync"
)

// workerPool is a fixed-size goroutine pool with a bounded queue.
// Submit never blocks; a full queue is the caller's signal to drop.
type workerPool struct {
	queue chan work
	wg    sync.WaitGroup
}

func newWorkerPool(ctx context.Context, workers, depth int, fn func(context.Context, work)) *workerPool {
	p := &workerPool{queue: make(chan work, depth)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case w, ok := <-p.queue:
					if !ok {
						return
					}
					fn(ctx, w)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return p
}

func (p *workerPool) Submit(w work) bool {
	select {
	case p.queue <- w:
		return true
	default:
		return false
	}
}

// Drain closes the queue and waits for in-flight work to finish.
func (p *workerPool) Drain() {
	close(p.queue)
	p.wg.Wait()
}
