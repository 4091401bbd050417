package runner

import (
	"context"
	"sync"
	"time"

	"github.com/hugolhafner/extoffset/kafka"
)

// Queue hands records from a consume loop to its worker. The processing queue
// is bounded; records that cannot be offered in time spill into an unbounded
// overflow queue that is drained back in arrival order. Only the loop
// goroutine enqueues and drains, the worker only takes.
type Queue struct {
	processing   chan kafka.ConsumerRecord
	offerTimeout time.Duration

	mu       sync.Mutex
	overflow []kafka.ConsumerRecord
}

func NewQueue(capacity int, offerTimeout time.Duration) *Queue {
	return &Queue{
		processing:   make(chan kafka.ConsumerRecord, capacity),
		offerTimeout: offerTimeout,
	}
}

// Enqueue offers records to the processing queue in order. Once one record
// spills, it and every record after it go to overflow so a later record never
// overtakes an earlier one. It returns the number of spilled records.
func (q *Queue) Enqueue(ctx context.Context, records []kafka.ConsumerRecord) int {
	for i, rec := range records {
		if q.OverflowLen() > 0 || !q.offer(ctx, rec) {
			q.spill(records[i:])
			return len(records) - i
		}
	}
	return 0
}

func (q *Queue) offer(ctx context.Context, rec kafka.ConsumerRecord) bool {
	select {
	case q.processing <- rec:
		return true
	default:
	}

	timer := time.NewTimer(q.offerTimeout)
	defer timer.Stop()

	select {
	case q.processing <- rec:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (q *Queue) spill(records []kafka.ConsumerRecord) {
	q.mu.Lock()
	q.overflow = append(q.overflow, records...)
	q.mu.Unlock()
}

// Drain moves records from the head of overflow into the processing queue.
// A non-final drain stops at the first record that does not fit; a final drain
// blocks until overflow is empty or ctx is done. It returns the number moved.
func (q *Queue) Drain(ctx context.Context, final bool) int {
	moved := 0
	for {
		q.mu.Lock()
		if len(q.overflow) == 0 {
			q.mu.Unlock()
			return moved
		}
		head := q.overflow[0]
		q.mu.Unlock()

		if final {
			select {
			case q.processing <- head:
			case <-ctx.Done():
				return moved
			}
		} else {
			select {
			case q.processing <- head:
			default:
				return moved
			}
		}

		// the head is popped only after it is in the processing queue, so
		// overflow never looks empty while a record is between the two
		q.mu.Lock()
		q.overflow[0] = kafka.ConsumerRecord{}
		q.overflow = q.overflow[1:]
		if len(q.overflow) == 0 {
			q.overflow = nil
		}
		q.mu.Unlock()
		moved++
	}
}

// Take waits up to wait for the next record of the processing queue. It gives up
// early when ctx is done or wake fires.
func (q *Queue) Take(ctx context.Context, wait time.Duration, wake <-chan struct{}) (kafka.ConsumerRecord, bool) {
	select {
	case rec := <-q.processing:
		return rec, true
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case rec := <-q.processing:
		return rec, true
	case <-timer.C:
	case <-ctx.Done():
	case <-wake:
	}
	return kafka.ConsumerRecord{}, false
}

func (q *Queue) ProcessingLen() int {
	return len(q.processing)
}

func (q *Queue) OverflowLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.overflow)
}

// Empty reports whether both queues are empty.
func (q *Queue) Empty() bool {
	// overflow first: a drained record reaches processing before it leaves overflow
	return q.OverflowLen() == 0 && q.ProcessingLen() == 0
}
