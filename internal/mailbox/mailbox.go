// Package mailbox runs jobs one at a time, in the order they were posted, on a
// goroutine of its own. Posting never blocks, so it is safe under a caller's lock.
package mailbox

import "sync"

// Mailbox is an unbounded ordered job queue with a single consumer.
type Mailbox struct {
	mu     sync.Mutex
	jobs   []func()
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// New starts the consumer goroutine. Call Close to stop it.
func New() *Mailbox {
	b := &Mailbox{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go b.run()
	return b
}

// Post queues job. It reports false once the mailbox is closed.
func (b *Mailbox) Post(job func()) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.jobs = append(b.jobs, job)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Close drops queued jobs and waits for a running one to return.
// It must not be called from inside a job.
func (b *Mailbox) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.jobs = nil
		b.mu.Unlock()
		close(b.quit)
	})
	<-b.done
}

func (b *Mailbox) run() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			return
		case <-b.wake:
		}

		for {
			b.mu.Lock()
			if b.closed || len(b.jobs) == 0 {
				b.mu.Unlock()
				break
			}
			job := b.jobs[0]
			b.jobs[0] = nil
			b.jobs = b.jobs[1:]
			b.mu.Unlock()

			job()
		}
	}
}
