package dlq

import (
	"sync"
	"sync/atomic"

	"github.com/xraph/sdlq"
)

// sequence is the in-memory index entry of one sequence. mu serialises
// every mutation and evaluation of the sequence, including store I/O.
type sequence struct {
	id string

	mu        sync.Mutex
	nextIndex uint64 // guarded by mu
	retired   bool   // guarded by mu; set when removed from the registry
	pending   bool   // guarded by Queue.mu; registered but nothing stored yet

	// Written under mu, read lock-free.
	count atomic.Int64
	front atomic.Int64 // front letter EnqueuedAt, unix nanos
}

// lockSequence returns the locked entry for id. With create, a missing
// entry is registered first, subject to the sequence bound. Without
// create, a missing entry yields nil.
func (q *Queue) lockSequence(id string, create bool) (*sequence, error) {
	for {
		q.mu.Lock()
		s, err := q.lookup(id, create)
		q.mu.Unlock()
		if s == nil || err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.retired {
			// Lost a race with the last eviction; look it up again.
			s.mu.Unlock()
			continue
		}
		return s, nil
	}
}

// lookup finds or registers id. A new entry is pending until its first
// letter is stored. Pending entries do not count against maxSequences, but
// a new sequence that only fits if some of them fail waits for them to
// settle. Caller holds q.mu.
func (q *Queue) lookup(id string, create bool) (*sequence, error) {
	for {
		if s, ok := q.seqs[id]; ok {
			return s, nil
		}
		if !create {
			return nil, nil
		}
		if q.maxSequences > 0 {
			live := len(q.seqs) - q.pending
			if live >= q.maxSequences {
				return nil, &sdlq.CapacityError{
					Reason:     sdlq.ReasonMaxSequences,
					SequenceID: id,
					Limit:      q.maxSequences,
				}
			}
			if live+q.pending >= q.maxSequences {
				q.settled.Wait()
				continue
			}
		}
		s := &sequence{id: id, pending: true}
		q.seqs[id] = s
		q.pending++
		return s, nil
	}
}

// stored marks s live once a letter of it has been written. Caller holds s.mu.
func (q *Queue) stored(s *sequence) {
	q.mu.Lock()
	if s.pending {
		s.pending = false
		q.pending--
		q.settled.Broadcast()
	}
	q.mu.Unlock()
}

// unlockSequence releases s, retiring it from the registry when empty.
func (q *Queue) unlockSequence(s *sequence) {
	if s.count.Load() == 0 {
		q.mu.Lock()
		if q.seqs[s.id] == s {
			delete(q.seqs, s.id)
		}
		if s.pending {
			s.pending = false
			q.pending--
		}
		q.settled.Broadcast()
		q.mu.Unlock()
		s.retired = true
	}
	s.mu.Unlock()
}

// evicted records the removal of n letters from s. Caller holds s.mu.
func (q *Queue) evicted(s *sequence, n int64) int64 {
	left := s.count.Add(-n)
	q.total.Add(-n)
	return left
}
