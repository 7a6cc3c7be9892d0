package walker

import (
	"sync"

	"github.com/gluk-w/filessh/internal/remotefs"
)

// workItem is one entry waiting to be visited and, if it is a directory,
// expanded.
type workItem struct {
	entry remotefs.Entry
	// cwd is the directory the entry was listed in. For the root item it
	// is the root path itself.
	cwd   string
	depth int
	root  bool
}

func (w *workItem) path() string {
	if w.root {
		return w.cwd
	}
	return remotefs.Join(w.cwd, w.entry.Name)
}

// message is either a unit of work or, when work is nil, the quit signal.
type message struct {
	work *workItem
}

var quitMessage = message{}

func (m message) isQuit() bool { return m.work == nil }

// deque is a mutex-protected LIFO. The owner pushes and pops at the newest
// end; thieves take batches from the oldest end.
type deque struct {
	mu    sync.Mutex
	items []message
}

func (d *deque) push(m message) {
	d.mu.Lock()
	d.items = append(d.items, m)
	d.mu.Unlock()
}

func (d *deque) pop() (message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	if n == 0 {
		return message{}, false
	}
	m := d.items[n-1]
	d.items[n-1] = message{}
	d.items = d.items[:n-1]
	return m, true
}

// stealHalf removes and returns the older half of the queue, rounded up.
func (d *deque) stealHalf() []message {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	if n == 0 {
		return nil
	}
	k := (n + 1) / 2
	batch := make([]message, k)
	copy(batch, d.items[:k])
	rest := copy(d.items, d.items[k:])
	for i := rest; i < n; i++ {
		d.items[i] = message{}
	}
	d.items = d.items[:rest]
	return batch
}

func (d *deque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// stack is one worker's view of the shared scheduler: its own deque plus
// every peer's deque to steal from.
type stack struct {
	index int
	local *deque
	all   []*deque
}

// newStacks creates one stack per worker and distributes the initial
// messages round-robin, in reverse so the first message ends up on top of
// the first worker's deque.
func newStacks(workers int, init []message) []*stack {
	deques := make([]*deque, workers)
	for i := range deques {
		deques[i] = &deque{}
	}
	for i := len(init) - 1; i >= 0; i-- {
		deques[i%workers].push(init[i])
	}
	stacks := make([]*stack, workers)
	for i := range stacks {
		stacks[i] = &stack{index: i, local: deques[i], all: deques}
	}
	return stacks
}

func (s *stack) push(m message) {
	s.local.push(m)
}

// pop returns the newest local message, or steals from peers when the local
// deque is empty.
func (s *stack) pop() (message, bool) {
	if m, ok := s.local.pop(); ok {
		return m, true
	}
	return s.steal()
}

// steal visits peers in the order index+1 .. n-1, 0 .. index-1. The first
// non-empty batch is moved to the local deque and its newest message is
// returned.
func (s *stack) steal() (message, bool) {
	n := len(s.all)
	for i := 1; i < n; i++ {
		victim := s.all[(s.index+i)%n]
		batch := victim.stealHalf()
		if len(batch) == 0 {
			continue
		}
		last := batch[len(batch)-1]
		for _, m := range batch[:len(batch)-1] {
			s.local.push(m)
		}
		return last, true
	}
	return message{}, false
}
