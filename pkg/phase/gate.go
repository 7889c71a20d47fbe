// Package phase sequences the controller's boot phases. A handler that
// starts asynchronous work takes a Ticket from the phase's Gate; the phase
// completes once every ticket is released.
package phase

import "sync"

// Ticket holds a phase open until released. Release is idempotent.
type Ticket interface {
	Release()
}

// Gate hands out tickets for the phase in progress.
type Gate interface {
	Wait() Ticket
}

// Queue is a counting barrier over tickets.
type Queue struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func NewQueue() *Queue {
	d := make(chan struct{})
	close(d)
	return &Queue{done: d}
}

// Wait takes a ticket.
func (q *Queue) Wait() Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		q.done = make(chan struct{})
	}
	q.count++
	return &ticket{q: q}
}

// Pending returns the number of unreleased tickets.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Done is closed while no tickets are outstanding. Taking a ticket after
// reading Done does not reopen the returned channel.
func (q *Queue) Done() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.count--
	if q.count == 0 {
		close(q.done)
	}
}

type ticket struct {
	q    *Queue
	once sync.Once
}

func (t *ticket) Release() { t.once.Do(t.q.release) }
