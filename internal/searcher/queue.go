// Package searcher implements the bounded candidate queue used by every
// graph traversal.
package searcher

// Candidate is an entry in the candidate queue. It lives only for the
// duration of one traversal.
type Candidate struct {
	Node     uint32
	Distance float32
	Visited  bool
}

// CandidateQueue is a fixed-capacity min-heap over (node, distance) pairs.
//
// It is a priority queue for traversal order, NOT a bounded top-K retention
// structure: Pop always returns the minimum-distance entry so the beam can
// greedily expand the closest frontier node, and once the queue is at
// capacity an incoming candidate replaces the current *minimum* when it is
// strictly closer. A top-K retainer would evict the maximum instead; the two
// are not interchangeable and callers must not use this type to collect
// final results.
//
// Value-based storage, no allocation after construction. It does NOT
// implement container/heap to avoid interface overhead.
type CandidateQueue struct {
	items     []Candidate
	capacity  int
	unvisited int
}

// NewCandidateQueue creates a queue holding at most capacity candidates.
func NewCandidateQueue(capacity int) *CandidateQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &CandidateQueue{
		items:    make([]Candidate, 0, capacity),
		capacity: capacity,
	}
}

// Size returns the number of queued candidates.
func (q *CandidateQueue) Size() int { return len(q.items) }

// IsEmpty reports whether the queue holds no candidates.
func (q *CandidateQueue) IsEmpty() bool { return len(q.items) == 0 }

// Capacity returns the fixed capacity.
func (q *CandidateQueue) Capacity() int { return q.capacity }

// Push inserts a candidate. When at capacity, the incoming candidate
// replaces the current minimum only if it is strictly closer; otherwise it
// is dropped. Returns true if the candidate was admitted.
func (q *CandidateQueue) Push(node uint32, dist float32) bool {
	if len(q.items) < q.capacity {
		q.items = append(q.items, Candidate{Node: node, Distance: dist})
		q.unvisited++
		q.up(len(q.items) - 1)
		return true
	}

	if dist >= q.items[0].Distance {
		return false
	}

	// The root is the minimum; a strictly smaller value can take its place
	// without violating heap order.
	if q.items[0].Visited {
		q.unvisited++
	}
	q.items[0] = Candidate{Node: node, Distance: dist}
	return true
}

// PopMin removes and returns the minimum-distance candidate.
// Returns false if the queue is empty.
func (q *CandidateQueue) PopMin() (Candidate, bool) {
	if len(q.items) == 0 {
		return Candidate{}, false
	}

	top := q.items[0]
	n := len(q.items) - 1
	q.items[0] = q.items[n]
	q.items = q.items[:n]
	if n > 0 {
		q.down(0)
	}
	if !top.Visited {
		q.unvisited--
	}
	return top, true
}

// PeekMin returns the minimum-distance candidate without removing it.
func (q *CandidateQueue) PeekMin() (Candidate, bool) {
	if len(q.items) == 0 {
		return Candidate{}, false
	}
	return q.items[0], true
}

// MarkVisited flags the queued candidate for node, if present.
func (q *CandidateQueue) MarkVisited(node uint32) {
	for i := range q.items {
		if q.items[i].Node == node && !q.items[i].Visited {
			q.items[i].Visited = true
			q.unvisited--
			return
		}
	}
}

// HasUnvisited reports whether any queued candidate is still unvisited.
func (q *CandidateQueue) HasUnvisited() bool { return q.unvisited > 0 }

// Clear empties the queue, keeping the backing array.
func (q *CandidateQueue) Clear() {
	q.items = q.items[:0]
	q.unvisited = 0
}

// Items returns the underlying slice in heap order.
// The slice is invalidated by the next mutation.
func (q *CandidateQueue) Items() []Candidate { return q.items }

func (q *CandidateQueue) up(j int) {
	item := q.items[j]
	for j > 0 {
		i := (j - 1) / 2
		if item.Distance >= q.items[i].Distance {
			break
		}
		q.items[j] = q.items[i]
		j = i
	}
	q.items[j] = item
}

func (q *CandidateQueue) down(i0 int) {
	n := len(q.items)
	i := i0
	item := q.items[i]
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		best := left
		if right := left + 1; right < n && q.items[right].Distance < q.items[left].Distance {
			best = right
		}
		if q.items[best].Distance >= item.Distance {
			break
		}
		q.items[i] = q.items[best]
		i = best
	}
	q.items[i] = item
}
