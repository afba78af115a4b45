package threads

import "container/heap"

// highestIndex returns the index of the highest-priority thread in list,
// preferring the earliest entry on ties, or -1 if list is empty.
func highestIndex(list []*Thread) int {
	best := -1
	for i, t := range list {
		if best < 0 || t.priority > list[best].priority {
			best = i
		}
	}
	return best
}

func removeAt(list []*Thread, i int) []*Thread {
	copy(list[i:], list[i+1:])
	list[len(list)-1] = nil
	return list[:len(list)-1]
}

// pushReadyLocked appends t to the ready queue behind every thread already there.
func (s *Scheduler) pushReadyLocked(t *Thread) {
	t.transition(StatusReady, queueReady)
	s.seq++
	t.seq = s.seq
	t.readySince = s.ticks
	s.ready = append(s.ready, t)
}

// popReadyLocked removes the next thread to run: highest priority first,
// longest waiting among equals. The idle thread is returned when nothing is ready.
func (s *Scheduler) popReadyLocked() *Thread {
	i := highestIndex(s.ready)
	if i < 0 {
		return s.idle
	}
	t := s.ready[i]
	s.ready = removeAt(s.ready, i)
	return t
}

func (s *Scheduler) maxReadyPriorityLocked() int {
	if i := highestIndex(s.ready); i >= 0 {
		return s.ready[i].priority
	}
	return PriMin - 1
}

// sleepQueue is a min-heap of sleeping threads keyed by wake-up tick.
type sleepQueue []*Thread

func (q sleepQueue) Len() int { return len(q) }

func (q sleepQueue) Less(i, j int) bool {
	if q[i].wakeAt != q[j].wakeAt {
		return q[i].wakeAt < q[j].wakeAt
	}
	return q[i].seq < q[j].seq
}

func (q sleepQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *sleepQueue) Push(x interface{}) { *q = append(*q, x.(*Thread)) }

func (q *sleepQueue) Pop() interface{} {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return t
}

// wakeSleepersLocked unblocks every sleeper whose deadline has passed.
func (s *Scheduler) wakeSleepersLocked() {
	for s.sleepers.Len() > 0 && s.sleepers[0].wakeAt <= s.ticks {
		t := heap.Pop(&s.sleepers).(*Thread)
		s.unblockLocked(t)
	}
}
